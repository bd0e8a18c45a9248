package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/EternisAI/cookie-jar/internal/api/http/dto"
	"github.com/EternisAI/cookie-jar/internal/auth"
	"github.com/EternisAI/cookie-jar/internal/pool"
	"github.com/gin-gonic/gin"
)

type AdminHandler struct {
	pool   *pool.Pool
	tokens *auth.Service
}

func NewAdminHandler(p *pool.Pool, tokens *auth.Service) *AdminHandler {
	return &AdminHandler{
		pool:   p,
		tokens: tokens,
	}
}

func (h *AdminHandler) Sweep(ctx *gin.Context) {
	site := ctx.Query("site")

	replaced, err := h.pool.Sweep(ctx.Request.Context(), site)
	if err != nil {
		writePoolError(ctx, "sweep", err)
		return
	}

	slog.Info("Manual sweep finished", "site", site, "replaced", replaced)
	ctx.JSON(http.StatusOK, dto.SweepResponse{Site: site, Replaced: replaced})
}

func (h *AdminHandler) Purge(ctx *gin.Context) {
	removed, err := h.pool.Purge(ctx.Request.Context())
	if err != nil {
		writePoolError(ctx, "purge", err)
		return
	}
	ctx.JSON(http.StatusOK, dto.PurgeResponse{Removed: removed})
}

func (h *AdminHandler) Warm(ctx *gin.Context) {
	var req dto.WarmRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}

	site := ctx.Param("site")
	inserted, err := h.pool.Warm(ctx.Request.Context(), site, req.Count)
	if err != nil {
		writePoolError(ctx, "warm", err)
		return
	}

	ctx.JSON(http.StatusCreated, dto.WarmResponse{Site: site, Requested: req.Count, Inserted: inserted})
}

func (h *AdminHandler) CreateToken(ctx *gin.Context) {
	if h.tokens == nil {
		ctx.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "token issuing is not configured"})
		return
	}

	var req dto.CreateTokenRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}

	issued, err := h.tokens.Issue(req.Worker, req.Role)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidWorker) || errors.Is(err, auth.ErrInvalidRole) {
			badRequest(ctx, err)
			return
		}
		slog.Error("Failed to issue token", "worker_id", req.Worker, "error", err)
		ctx.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to issue token"})
		return
	}

	ctx.JSON(http.StatusCreated, dto.CreateTokenResponse{
		Token:     issued.Token,
		WorkerID:  issued.WorkerID,
		Role:      issued.Role,
		ExpiresAt: issued.ExpiresAt,
	})
}
