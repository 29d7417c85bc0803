package service

import (
	"context"
	"time"

	"github.com/medflow/medflow-slotting/pkg/actor"
	"github.com/medflow/medflow-slotting/pkg/database"
	"github.com/medflow/medflow-slotting/pkg/logger"
	"github.com/medflow/medflow-slotting/pkg/tenant"
)

// ReplanScheduler re-plans every active tenant on a fixed interval so expiry
// urgency follows the calendar even when no inventory event arrives.
type ReplanScheduler struct {
	slotting *SlottingService
	db       *database.DB
	interval time.Duration
	logger   *logger.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewReplanScheduler creates a new re-plan scheduler
func NewReplanScheduler(slotting *SlottingService, db *database.DB, interval time.Duration, log *logger.Logger) *ReplanScheduler {
	return &ReplanScheduler{
		slotting: slotting,
		db:       db,
		interval: interval,
		logger:   log.WithComponent("replan-scheduler"),
	}
}

// Start runs one cycle immediately and then one per interval.
// A zero interval leaves the scheduler disabled.
func (s *ReplanScheduler) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info().Msg("replan scheduler disabled")
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.logger.Info().Dur("interval", s.interval).Msg("replan scheduler started")

		s.RunCycle(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("replan scheduler stopped")
				return
			case <-ticker.C:
				s.RunCycle(ctx)
			}
		}
	}()
}

// Stop stops the scheduler goroutine and waits for the current cycle
func (s *ReplanScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

// RunCycle re-plans all active tenants. A failing tenant does not stop the cycle.
func (s *ReplanScheduler) RunCycle(ctx context.Context) {
	start := time.Now()

	tenantIDs, err := s.activeTenantIDs(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to query active tenants")
		return
	}

	ctx = actor.WithActor(ctx, actor.SystemActor())
	changed := 0
	for _, tenantID := range tenantIDs {
		if ctx.Err() != nil {
			return
		}
		tenantCtx := tenant.WithTenantID(ctx, tenantID)

		res, err := s.slotting.Replan(tenantCtx, ReplanRequest{Trigger: TriggerSchedule})
		if err != nil {
			s.logger.Error().Err(err).Str("tenant_id", tenantID).Msg("scheduled replan failed for tenant")
			continue
		}
		if res.Changed {
			changed++
		}
	}

	s.logger.Info().
		Dur("duration", time.Since(start)).
		Int("tenant_count", len(tenantIDs)).
		Int("changed", changed).
		Msg("replan cycle completed")
}

// activeTenantIDs reads public.tenants, which has no RLS policy.
func (s *ReplanScheduler) activeTenantIDs(ctx context.Context) ([]string, error) {
	var tenantIDs []string
	query := `SELECT id FROM public.tenants WHERE is_active = TRUE ORDER BY id`
	if err := s.db.DB.SelectContext(ctx, &tenantIDs, query); err != nil {
		return nil, err
	}
	return tenantIDs, nil
}
