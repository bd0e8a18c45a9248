package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/EternisAI/cookie-jar/internal/api/http/dto"
	"github.com/EternisAI/cookie-jar/internal/pool"
	"github.com/EternisAI/cookie-jar/internal/sessions"
	"github.com/gin-gonic/gin"
)

const (
	CodeNotAvailable     = "not_available"
	CodeNotFound         = "not_found"
	CodeStoreUnavailable = "store_unavailable"
	CodeInvalidRequest   = "invalid_request"
	CodeInternal         = "internal"
)

func badRequest(ctx *gin.Context, err error) {
	ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error(), Code: CodeInvalidRequest})
}

// writePoolError maps pool and store errors onto HTTP statuses so callers
// can tell "no credentials" apart from "infrastructure down".
func writePoolError(ctx *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, sessions.ErrInvalidSite):
		badRequest(ctx, err)
	case errors.Is(err, pool.ErrNotAvailable):
		slog.Warn("No session available", "op", op, "error", err)
		ctx.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "no session available", Code: CodeNotAvailable})
	case errors.Is(err, sessions.ErrNotFound):
		ctx.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "session not found", Code: CodeNotFound})
	case errors.Is(err, sessions.ErrStoreUnavailable):
		slog.Error("Session store unavailable", "op", op, "error", err)
		ctx.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "session store unavailable", Code: CodeStoreUnavailable})
	default:
		slog.Error("Request failed", "op", op, "error", err)
		ctx.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal error", Code: CodeInternal})
	}
}
