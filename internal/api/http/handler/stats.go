package handler

import (
	"net/http"

	"github.com/EternisAI/cookie-jar/internal/api/http/dto"
	"github.com/EternisAI/cookie-jar/internal/pool"
	"github.com/gin-gonic/gin"
)

type StatsHandler struct {
	pool *pool.Pool
}

func NewStatsHandler(p *pool.Pool) *StatsHandler {
	return &StatsHandler{pool: p}
}

func (h *StatsHandler) All(ctx *gin.Context) {
	all, err := h.pool.StatsAll(ctx.Request.Context())
	if err != nil {
		writePoolError(ctx, "stats", err)
		return
	}

	sites := make([]dto.SiteStatsResponse, len(all))
	for i, st := range all {
		sites[i] = dto.NewSiteStatsResponse(st)
	}
	ctx.JSON(http.StatusOK, dto.AllStatsResponse{Sites: sites, Count: len(sites)})
}

func (h *StatsHandler) Site(ctx *gin.Context) {
	st, err := h.pool.Stats(ctx.Request.Context(), ctx.Param("site"))
	if err != nil {
		writePoolError(ctx, "stats", err)
		return
	}
	ctx.JSON(http.StatusOK, dto.NewSiteStatsResponse(st))
}
