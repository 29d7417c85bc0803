package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/medflow/medflow-slotting/internal/slotting/engine"
	"github.com/medflow/medflow-slotting/internal/slotting/events"
	"github.com/medflow/medflow-slotting/internal/slotting/repository"
	"github.com/medflow/medflow-slotting/pkg/config"
	"github.com/medflow/medflow-slotting/pkg/errors"
	"github.com/medflow/medflow-slotting/pkg/logger"
	"github.com/medflow/medflow-slotting/pkg/tenant"
	"github.com/medflow/medflow-slotting/pkg/testutil"
)

type fakeSnapshots struct {
	snap *repository.Snapshot
	err  error
	// block makes Load wait for ctx to expire
	block bool
}

func (f *fakeSnapshots) Load(ctx context.Context) (*repository.Snapshot, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.snap, nil
}

func (f *fakeSnapshots) GetMedication(_ context.Context, id string) (*engine.RawMedication, error) {
	for i := range f.snap.Medications {
		if f.snap.Medications[i].ID == id {
			m := f.snap.Medications[i]
			return &m, nil
		}
	}
	return nil, errors.NotFound("medication")
}

func (f *fakeSnapshots) LoadShelves(context.Context) ([]engine.Shelf, error) {
	return f.snap.Shelves, nil
}

type storedPlan struct {
	run  *repository.PlanRun
	plan *engine.Plan
}

type fakePlacements struct {
	mu        sync.Mutex
	byTenant  map[string][]storedPlan
	positions map[string]map[string]engine.Position
	replaces  int
	syncs     int
	replaceFn func(run *repository.PlanRun) error
}

func newFakePlacements() *fakePlacements {
	return &fakePlacements{
		byTenant:  map[string][]storedPlan{},
		positions: map[string]map[string]engine.Position{},
	}
}

// upsert mirrors the repository's ON CONFLICT update of slot_positions.
func (f *fakePlacements) upsert(tenantID string, positions []engine.Position) {
	stored := f.positions[tenantID]
	if stored == nil {
		stored = map[string]engine.Position{}
		f.positions[tenantID] = stored
	}
	for _, p := range positions {
		stored[p.ID] = p
	}
}

func (f *fakePlacements) SyncPositions(ctx context.Context, positions []engine.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs++
	f.upsert(tenantOf(ctx), positions)
	return nil
}

func (f *fakePlacements) ReplacePlan(ctx context.Context, run *repository.PlanRun, positions []engine.Position, plan *engine.Plan) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaces++
	if f.replaceFn != nil {
		if err := f.replaceFn(run); err != nil {
			return err
		}
	}
	tenantID := tenantOf(ctx)
	f.upsert(tenantID, positions)
	run.CreatedAt = time.Now()
	f.byTenant[tenantID] = append(f.byTenant[tenantID], storedPlan{run: run, plan: plan})
	return nil
}

func (f *fakePlacements) latest(ctx context.Context) (storedPlan, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	runs := f.byTenant[tenantOf(ctx)]
	if len(runs) == 0 {
		return storedPlan{}, false
	}
	return runs[len(runs)-1], true
}

func (f *fakePlacements) LatestRun(ctx context.Context) (*repository.PlanRun, error) {
	sp, ok := f.latest(ctx)
	if !ok {
		return nil, errors.NotFound("plan run")
	}
	return sp.run, nil
}

func (f *fakePlacements) ListActive(ctx context.Context, shelfID string) ([]*repository.PlacementRecord, error) {
	sp, ok := f.latest(ctx)
	if !ok {
		return []*repository.PlacementRecord{}, nil
	}
	out := []*repository.PlacementRecord{}
	for _, p := range sp.plan.Placements {
		if shelfID != "" && p.ShelfID != shelfID {
			continue
		}
		out = append(out, &repository.PlacementRecord{
			RunID:        sp.run.ID,
			MedicationID: p.MedicationID,
			BatchID:      p.BatchID,
			PositionID:   p.PositionID,
			ShelfID:      p.ShelfID,
			Quantity:     p.Quantity,
		})
	}
	return out, nil
}

func (f *fakePlacements) ListUnplaceable(ctx context.Context) ([]*repository.UnplaceableRecord, error) {
	sp, ok := f.latest(ctx)
	if !ok {
		return []*repository.UnplaceableRecord{}, nil
	}
	out := []*repository.UnplaceableRecord{}
	for _, u := range sp.plan.Unplaceable {
		out = append(out, &repository.UnplaceableRecord{
			RunID:        sp.run.ID,
			MedicationID: u.MedicationID,
			BatchID:      u.BatchID,
			Quantity:     u.Quantity,
			Reason:       string(u.Reason),
		})
	}
	return out, nil
}

func (f *fakePlacements) ShelfPositions(ctx context.Context, shelfID string) ([]*repository.PositionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*repository.PositionState{}
	for _, p := range f.positions[tenantOf(ctx)] {
		if p.ShelfID != shelfID {
			continue
		}
		out = append(out, &repository.PositionState{
			ID:             p.ID,
			ShelfID:        p.ShelfID,
			AisleID:        p.AisleID,
			Level:          p.Level,
			GridX:          p.GridX,
			GridY:          int(p.GridY),
			IsGoldenZone:   p.IsGoldenZone,
			Accessibility:  p.Accessibility,
			MaxWeightKg:    p.MaxWeightKg,
			AllowsStacking: p.AllowsStacking,
			Blocked:        p.Blocked,
		})
	}
	if len(out) == 0 {
		return nil, errors.NotFound("shelf")
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GridY != out[j].GridY {
			return out[i].GridY < out[j].GridY
		}
		return out[i].GridX < out[j].GridX
	})
	return out, nil
}

func testSlottingConfig() config.SlottingConfig {
	return config.SlottingConfig{
		CandidateLimit: 5,
		RunTimeout:     5 * time.Second,
		Weights: config.WeightsConfig{
			FastFront:          40,
			GoldenZoneBonus:    20,
			MediumMiddle:       30,
			SlowBack:           30,
			WeightLight:        20,
			WeightMedium:       15,
			WeightHeavy:        10,
			OverweightPenalty:  -50,
			ExpiryCritical:     20,
			ExpirySoon:         15,
			ExpiryDefault:      10,
			ClassA:             10,
			ClassB:             8,
			ClassC:             5,
			ControlledSecurity: 10,
			FragileNoStacking:  5,
		},
	}
}

type serviceFixture struct {
	svc        *SlottingService
	snapshots  *fakeSnapshots
	placements *fakePlacements
	events     *testutil.MockPublisher
	factory    *testutil.FixtureFactory
}

func newServiceFixture(snap *repository.Snapshot, f *testutil.FixtureFactory) *serviceFixture {
	snapshots := &fakeSnapshots{snap: snap}
	placements := newFakePlacements()
	mock := testutil.NewMockPublisher()
	svc := NewSlottingService(snapshots, placements,
		events.NewSlottingEventPublisherWith(mock, logger.Nop()),
		testSlottingConfig(), logger.Nop())
	svc.now = func() time.Time { return f.AsOf.Add(9 * time.Hour) }

	return &serviceFixture{
		svc:        svc,
		snapshots:  snapshots,
		placements: placements,
		events:     mock,
		factory:    f,
	}
}

func tenantOf(ctx context.Context) string {
	id, _ := tenant.TenantID(ctx)
	return id
}
