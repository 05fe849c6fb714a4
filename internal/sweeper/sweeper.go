package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/Monthlyaway/short-rules/internal/audit"
	"github.com/Monthlyaway/short-rules/internal/service"
	"go.uber.org/zap"
)

const processName = "clean_rules"

// Sweeper periodically deletes rules whose expire date has passed.
// It runs for the lifetime of its context; a failed sweep is audited
// and retried on the next tick, never fatal to the serving process.
type Sweeper struct {
	service  *service.RuleService
	audit    *audit.Recorder
	logger   *zap.Logger
	interval time.Duration
	now      func() time.Time
}

// New creates a sweeper with the given sweep interval
func New(svc *service.RuleService, recorder *audit.Recorder, logger *zap.Logger, interval time.Duration) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		service:  svc,
		audit:    recorder,
		logger:   logger,
		interval: interval,
		now:      time.Now,
	}
}

// Run sweeps once immediately, then once per interval until the
// context is cancelled. Meant to be started in its own goroutine.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("expiration sweeper started", zap.Duration("interval", s.interval))
	for {
		s.Sweep(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info("expiration sweeper stopped")
			return
		case <-time.After(s.interval):
		}
	}
}

// Sweep performs a single pass: delete every rule expired as of today
// and append one audit entry summarizing the result
func (s *Sweeper) Sweep(ctx context.Context) {
	ids, err := s.service.DeleteExpired(ctx, s.now())
	if err != nil {
		s.logger.Error("sweep failed", zap.Error(err))
		s.audit.Record(ctx, nil, processName, fmt.Sprintf("failed to clean expired rules: %v", err))
		return
	}

	msg := "nothing to delete"
	if len(ids) > 0 {
		msg = fmt.Sprintf("deleted %d expired rules with ids: %v", len(ids), ids)
	}
	s.audit.Record(ctx, nil, processName, msg)
}
