package pool

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

type SweepMode string

const (
	SweepReplace SweepMode = "replace"
	SweepPurge   SweepMode = "purge"
)

func ParseSweepMode(s string) (SweepMode, error) {
	switch SweepMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", SweepReplace:
		return SweepReplace, nil
	case SweepPurge:
		return SweepPurge, nil
	}
	return "", fmt.Errorf("invalid sweep mode %q", s)
}

// StartSweeper runs maintenance every interval until ctx is done. Errors are
// logged and the loop keeps going.
func (p *Pool) StartSweeper(ctx context.Context, interval time.Duration, mode SweepMode) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.maintain(ctx, mode)
		}
	}
}

func (p *Pool) maintain(ctx context.Context, mode SweepMode) {
	switch mode {
	case SweepPurge:
		removed, err := p.Purge(ctx)
		if err != nil {
			slog.Error("Scheduled purge failed", "error", err)
			return
		}
		slog.Debug("Scheduled purge done", "removed", removed)
	default:
		replaced, err := p.Sweep(ctx, "")
		if err != nil {
			slog.Error("Scheduled sweep failed", "error", err)
			return
		}
		slog.Debug("Scheduled sweep done", "replaced", replaced)
	}
}
