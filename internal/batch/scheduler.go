package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"enrollsync/internal/logger"
)

type Cutter interface {
	Cut(ctx context.Context) (int, error)
}

// CutScheduler runs a cut on every tick of a cron expression.
type CutScheduler struct {
	cutter Cutter
	expr   string
	logger logger.Logger
	now    func() time.Time
	wait   func(ctx context.Context, d time.Duration) error
}

func NewCutScheduler(cutter Cutter, expr string, log logger.Logger) (*CutScheduler, error) {
	if !gronx.IsValid(expr) {
		return nil, fmt.Errorf("invalid cut cron expression: %q", expr)
	}
	return &CutScheduler{
		cutter: cutter,
		expr:   expr,
		logger: log,
		now:    time.Now,
		wait:   waitFor,
	}, nil
}

// Run blocks until ctx is canceled.
func (s *CutScheduler) Run(ctx context.Context) error {
	s.logger.Infow("Cut scheduler started", "cron", s.expr)
	for {
		next, err := gronx.NextTickAfter(s.expr, s.now().UTC(), false)
		if err != nil {
			return fmt.Errorf("next cut tick: %w", err)
		}
		if err := s.wait(ctx, time.Until(next)); err != nil {
			s.logger.Infow("Cut scheduler stopped")
			return nil
		}

		if _, err := s.cutter.Cut(ctx); err != nil {
			s.logger.ErrorwCtx(ctx, "Scheduled cut failed", "error", err)
		}
	}
}

func waitFor(ctx context.Context, d time.Duration) error {
	if d < 0 {
		d = 0
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
