package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/EternisAI/cookie-jar/internal/api/http/dto"
	"github.com/gin-gonic/gin"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	store Pinger
}

func NewHealthHandler(store Pinger) *HealthHandler {
	return &HealthHandler{store: store}
}

func (h *HealthHandler) Check(ctx *gin.Context) {
	if h.store != nil {
		pingCtx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.store.Ping(pingCtx); err != nil {
			ctx.JSON(http.StatusServiceUnavailable, dto.HealthResponse{Status: "degraded", Error: err.Error()})
			return
		}
	}
	ctx.JSON(http.StatusOK, dto.HealthResponse{Status: "ok"})
}
