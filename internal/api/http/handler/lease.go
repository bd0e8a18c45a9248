package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/EternisAI/cookie-jar/internal/api/http/dto"
	"github.com/EternisAI/cookie-jar/internal/api/http/middleware"
	"github.com/EternisAI/cookie-jar/internal/pool"
	"github.com/EternisAI/cookie-jar/internal/sessions"
	"github.com/gin-gonic/gin"
)

type LeaseHandler struct {
	pool *pool.Pool
}

func NewLeaseHandler(p *pool.Pool) *LeaseHandler {
	return &LeaseHandler{pool: p}
}

func (h *LeaseHandler) Acquire(ctx *gin.Context) {
	var req dto.AcquireLeaseRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}

	lease, err := h.pool.Acquire(ctx.Request.Context(), req.Site)
	if err != nil {
		writePoolError(ctx, "acquire", err)
		return
	}

	slog.Debug("Lease granted", "site", lease.Site, "session_id", lease.ID, "worker_id", ctx.GetString(middleware.WorkerIDKey))
	ctx.JSON(http.StatusOK, dto.NewLeaseResponse(lease))
}

// Release ends a lease. The outcome query parameter defaults to success;
// "valid=false" is accepted for older workers.
func (h *LeaseHandler) Release(ctx *gin.Context) {
	id := ctx.Param("id")

	raw := ctx.Query("outcome")
	if raw == "" {
		switch ctx.Query("valid") {
		case "false", "0":
			raw = "failure"
		default:
			raw = "success"
		}
	}
	outcome, err := sessions.ParseOutcome(raw)
	if err != nil {
		badRequest(ctx, err)
		return
	}

	if err := h.pool.Release(ctx.Request.Context(), id, outcome); err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			slog.Info("Released session no longer exists", "session_id", id)
		}
		writePoolError(ctx, "release", err)
		return
	}

	ctx.JSON(http.StatusOK, dto.ReleaseLeaseResponse{ID: id, Outcome: outcome.String()})
}
