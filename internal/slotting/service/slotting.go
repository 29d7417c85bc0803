package service

import (
	"context"
	"sync"
	"time"

	"github.com/medflow/medflow-slotting/internal/slotting/engine"
	"github.com/medflow/medflow-slotting/internal/slotting/repository"
	"github.com/medflow/medflow-slotting/pkg/actor"
	"github.com/medflow/medflow-slotting/pkg/config"
	"github.com/medflow/medflow-slotting/pkg/errors"
	"github.com/medflow/medflow-slotting/pkg/logger"
	"github.com/medflow/medflow-slotting/pkg/tenant"
)

// Trigger records what started a planning run.
type Trigger string

const (
	TriggerManual         Trigger = "manual"
	TriggerSchedule       Trigger = "schedule"
	TriggerInventoryEvent Trigger = "inventory_event"
)

// SnapshotStore reads the planning input of the tenant in ctx.
type SnapshotStore interface {
	Load(ctx context.Context) (*repository.Snapshot, error)
	GetMedication(ctx context.Context, id string) (*engine.RawMedication, error)
	LoadShelves(ctx context.Context) ([]engine.Shelf, error)
}

// PlacementStore persists and reads plans of the tenant in ctx.
type PlacementStore interface {
	ReplacePlan(ctx context.Context, run *repository.PlanRun, positions []engine.Position, plan *engine.Plan) error
	SyncPositions(ctx context.Context, positions []engine.Position) error
	LatestRun(ctx context.Context) (*repository.PlanRun, error)
	ListActive(ctx context.Context, shelfID string) ([]*repository.PlacementRecord, error)
	ListUnplaceable(ctx context.Context) ([]*repository.UnplaceableRecord, error)
	ShelfPositions(ctx context.Context, shelfID string) ([]*repository.PositionState, error)
}

// PlanEventPublisher announces persisted runs.
type PlanEventPublisher interface {
	PublishPlanCompleted(ctx context.Context, run *repository.PlanRun, unplaceableBatches int)
	PublishBatchUnplaceable(ctx context.Context, run *repository.PlanRun, u engine.Unplaceable)
}

// ReplanRequest parameterizes one planning run.
type ReplanRequest struct {
	Trigger Trigger
	// AsOf defaults to today (UTC).
	AsOf time.Time
	// DryRun computes the plan without persisting or publishing it.
	DryRun bool
}

// ReplanResult is the outcome of a planning run.
type ReplanResult struct {
	Run     *repository.PlanRun `json:"run"`
	Plan    *engine.Plan        `json:"plan,omitempty"`
	Changed bool                `json:"changed"`
	DryRun  bool                `json:"dry_run"`
}

// CandidatesResult ranks the free positions for one medication.
type CandidatesResult struct {
	MedicationID string                  `json:"medication_id"`
	Urgency      engine.Urgency          `json:"urgency"`
	Movement     engine.MovementCategory `json:"movement_category"`
	Candidates   []engine.Candidate      `json:"candidates"`
}

// SlottingService runs the planner against tenant data and keeps the
// stored layout in sync with it.
type SlottingService struct {
	snapshots  SnapshotStore
	placements PlacementStore
	publisher  PlanEventPublisher
	planner    *engine.Planner
	cfg        config.SlottingConfig
	logger     *logger.Logger

	// one planning run at a time per tenant within this process
	locks sync.Map
	now   func() time.Time
}

// NewSlottingService creates a new slotting service
func NewSlottingService(
	snapshots SnapshotStore,
	placements PlacementStore,
	publisher PlanEventPublisher,
	cfg config.SlottingConfig,
	log *logger.Logger,
) *SlottingService {
	return &SlottingService{
		snapshots:  snapshots,
		placements: placements,
		publisher:  publisher,
		planner:    engine.NewPlanner(engine.NewScorer(WeightsFromConfig(cfg.Weights))),
		cfg:        cfg,
		logger:     log.WithComponent("slotting"),
		now:        time.Now,
	}
}

// WeightsFromConfig converts the configured point values into scorer weights.
func WeightsFromConfig(w config.WeightsConfig) engine.Weights {
	return engine.Weights{
		FastFront:          w.FastFront,
		GoldenZoneBonus:    w.GoldenZoneBonus,
		MediumMiddle:       w.MediumMiddle,
		SlowBack:           w.SlowBack,
		WeightLight:        w.WeightLight,
		WeightMedium:       w.WeightMedium,
		WeightHeavy:        w.WeightHeavy,
		OverweightPenalty:  w.OverweightPenalty,
		ExpiryCritical:     w.ExpiryCritical,
		ExpirySoon:         w.ExpirySoon,
		ExpiryDefault:      w.ExpiryDefault,
		ClassA:             w.ClassA,
		ClassB:             w.ClassB,
		ClassC:             w.ClassC,
		ControlledSecurity: w.ControlledSecurity,
		FragileNoStacking:  w.FragileNoStacking,
	}
}

func (s *SlottingService) tenantLock(tenantID string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(tenantID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (s *SlottingService) today() time.Time {
	y, m, d := s.now().UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Replan builds a fresh plan from the tenant's current medications and
// shelves. A plan whose layout matches the latest stored run is not written
// again.
func (s *SlottingService) Replan(ctx context.Context, req ReplanRequest) (*ReplanResult, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}
	if req.Trigger == "" {
		req.Trigger = TriggerManual
	}
	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = s.today()
	}

	log := s.logger.WithTenantID(tenantID)

	mu := s.tenantLock(tenantID)
	mu.Lock()
	defer mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
	defer cancel()

	start := s.now()
	snap, err := s.snapshots.Load(ctx)
	if err != nil {
		return nil, deadlineError(err)
	}

	meds, err := engine.NormalizeCatalog(snap.Medications)
	if err != nil {
		return nil, validationError(err)
	}
	positions, err := engine.BuildCatalog(snap.Shelves)
	if err != nil {
		return nil, validationError(err)
	}

	plan, err := s.plan(ctx, meds, positions, asOf)
	if err != nil {
		return nil, err
	}

	run := repository.NewPlanRun(plan, string(req.Trigger), actor.TriggeredBy(ctx), s.now().Sub(start))
	run.TenantID = tenantID

	latest, err := s.placements.LatestRun(ctx)
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		return nil, deadlineError(err)
	}
	changed := latest == nil || latest.Fingerprint != run.Fingerprint

	if req.DryRun {
		return &ReplanResult{Run: run, Plan: plan, Changed: changed, DryRun: true}, nil
	}
	if !changed {
		if err := s.placements.SyncPositions(ctx, positions); err != nil {
			return nil, deadlineError(err)
		}
		log.Debug().Str("fingerprint", run.Fingerprint).Msg("layout unchanged, run not persisted")
		return &ReplanResult{Run: latest, Changed: false}, nil
	}

	err = s.placements.ReplacePlan(ctx, run, positions, plan)
	if errors.Is(err, repository.ErrPlanUnchanged) {
		// another instance stored the same layout first
		if err := s.placements.SyncPositions(ctx, positions); err != nil {
			return nil, deadlineError(err)
		}
		latest, err := s.placements.LatestRun(ctx)
		if err != nil {
			return nil, deadlineError(err)
		}
		return &ReplanResult{Run: latest, Changed: false}, nil
	}
	if err != nil {
		return nil, deadlineError(err)
	}

	log = log.WithRunID(run.ID)
	for _, u := range plan.Unplaceable {
		log.Warn().
			Str("medication_id", u.MedicationID).
			Str("batch_id", u.BatchID).
			Int("quantity", u.Quantity).
			Str("reason", string(u.Reason)).
			Msg("batch could not be placed")
	}
	if s.publisher != nil {
		for _, u := range plan.Unplaceable {
			s.publisher.PublishBatchUnplaceable(ctx, run, u)
		}
		s.publisher.PublishPlanCompleted(ctx, run, len(plan.Unplaceable))
	}

	log.Info().
		Str("trigger", run.Trigger).
		Int("medications", run.Medications).
		Int("positions_used", run.PositionsUsed).
		Int("placed_quantity", run.PlacedQuantity).
		Int("unplaceable_quantity", run.UnplaceableQuantity).
		Int64("duration_ms", run.DurationMs).
		Msg("slotting plan stored")

	return &ReplanResult{Run: run, Plan: plan, Changed: true}, nil
}

// plan runs the planner and gives up when ctx expires first.
func (s *SlottingService) plan(ctx context.Context, meds []engine.Medication, positions []engine.Position, asOf time.Time) (*engine.Plan, error) {
	type result struct {
		plan *engine.Plan
		err  error
	}
	done := make(chan result, 1)
	go func() {
		p, err := s.planner.Plan(meds, positions, engine.PlanOptions{AsOf: asOf})
		done <- result{p, err}
	}()

	select {
	case <-ctx.Done():
		return nil, deadlineError(ctx.Err())
	case r := <-done:
		if r.err != nil {
			return nil, validationError(r.err)
		}
		return r.plan, nil
	}
}

// Candidates ranks the positions that are free in the active layout for the
// most urgent batch of a medication. Positions held by the medication itself
// count as free.
func (s *SlottingService) Candidates(ctx context.Context, medicationID string, limit int) (*CandidatesResult, error) {
	if limit == 0 {
		limit = s.cfg.CandidateLimit
	}
	if limit < 1 || limit > config.MaxCandidateLimit {
		return nil, errors.BadRequest("limit must be between 1 and 50")
	}

	raw, err := s.snapshots.GetMedication(ctx, medicationID)
	if err != nil {
		return nil, err
	}
	med, err := engine.NormalizeMedication(*raw)
	if err != nil {
		return nil, validationError(err)
	}

	shelves, err := s.snapshots.LoadShelves(ctx)
	if err != nil {
		return nil, err
	}
	positions, err := engine.BuildCatalog(shelves)
	if err != nil {
		return nil, validationError(err)
	}

	active, err := s.placements.ListActive(ctx, "")
	if err != nil {
		return nil, err
	}
	occupied := make(map[string]bool, len(active))
	for _, p := range active {
		if p.MedicationID != med.ID {
			occupied[p.PositionID] = true
		}
	}

	urgency := med.MostUrgent(s.today())
	return &CandidatesResult{
		MedicationID: med.ID,
		Urgency:      urgency,
		Movement:     med.Movement,
		Candidates:   s.planner.Candidates(&med, urgency, positions, occupied, limit),
	}, nil
}

// LatestRun returns the most recent stored run
func (s *SlottingService) LatestRun(ctx context.Context) (*repository.PlanRun, error) {
	return s.placements.LatestRun(ctx)
}

// CurrentLayout returns the active placements, optionally for one shelf
func (s *SlottingService) CurrentLayout(ctx context.Context, shelfID string) ([]*repository.PlacementRecord, error) {
	return s.placements.ListActive(ctx, shelfID)
}

// Unplaceable returns the batches the latest run left without a position
func (s *SlottingService) Unplaceable(ctx context.Context) ([]*repository.UnplaceableRecord, error) {
	return s.placements.ListUnplaceable(ctx)
}

// ShelfPositions returns the position grid of a shelf with occupants
func (s *SlottingService) ShelfPositions(ctx context.Context, shelfID string) ([]*repository.PositionState, error) {
	return s.placements.ShelfPositions(ctx, shelfID)
}

// validationError turns engine input errors into a 400 with the offending record.
func validationError(err error) error {
	var attrErr *engine.InvalidAttributeError
	if errors.As(err, &attrErr) {
		details := map[string]string{
			"field":         attrErr.Field,
			"medication_id": attrErr.MedicationID,
			"reason":        attrErr.Reason,
		}
		if attrErr.BatchID != "" {
			details["batch_id"] = attrErr.BatchID
		}
		return errors.Validation(details)
	}

	var shelfErr *engine.InvalidShelfError
	if errors.As(err, &shelfErr) {
		details := map[string]string{
			"field":    shelfErr.Field,
			"shelf_id": shelfErr.ShelfID,
			"reason":   shelfErr.Reason,
		}
		if shelfErr.PositionID != "" {
			details["position_id"] = shelfErr.PositionID
		}
		return errors.Validation(details)
	}
	return err
}

func deadlineError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Unavailable("slotting run exceeded its deadline")
	}
	return err
}
