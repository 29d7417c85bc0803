package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/medflow/medflow-slotting/internal/slotting/repository"
	"github.com/medflow/medflow-slotting/internal/slotting/service"
	"github.com/medflow/medflow-slotting/pkg/errors"
	"github.com/medflow/medflow-slotting/pkg/httputil"
	"github.com/medflow/medflow-slotting/pkg/logger"
	"github.com/medflow/medflow-slotting/pkg/permissions"
)

// Service is the slotting behavior the HTTP layer exposes.
type Service interface {
	Replan(ctx context.Context, req service.ReplanRequest) (*service.ReplanResult, error)
	Candidates(ctx context.Context, medicationID string, limit int) (*service.CandidatesResult, error)
	LatestRun(ctx context.Context) (*repository.PlanRun, error)
	CurrentLayout(ctx context.Context, shelfID string) ([]*repository.PlacementRecord, error)
	Unplaceable(ctx context.Context) ([]*repository.UnplaceableRecord, error)
	ShelfPositions(ctx context.Context, shelfID string) ([]*repository.PositionState, error)
}

// SlottingHandler handles slotting endpoints
type SlottingHandler struct {
	service Service
	logger  *logger.Logger
}

// NewSlottingHandler creates a new slotting handler
func NewSlottingHandler(svc Service, log *logger.Logger) *SlottingHandler {
	return &SlottingHandler{
		service: svc,
		logger:  log,
	}
}

// RegisterRoutes mounts the slotting API on r
func (h *SlottingHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/slotting", func(r chi.Router) {
		r.With(httputil.RequirePermission(permissions.SlottingWrite)).Post("/plans", h.Replan)

		r.Group(func(r chi.Router) {
			r.Use(httputil.RequirePermission(permissions.SlottingRead))
			r.Get("/plans/latest", h.LatestRun)
			r.Get("/placements", h.ListPlacements)
			r.Get("/unplaceable", h.ListUnplaceable)
			r.Get("/medications/{id}/candidates", h.Candidates)
			r.Get("/shelves/{id}/positions", h.ShelfPositions)
		})
	})
}

// ReplanRequest is the optional body of POST /plans
type ReplanRequest struct {
	AsOf   string `json:"as_of" validate:"omitempty,datetime=2006-01-02"`
	DryRun bool   `json:"dry_run"`
}

type idParam struct {
	ID string `json:"id" validate:"required,uuid"`
}

type placementsQuery struct {
	ShelfID string `json:"shelf_id" validate:"omitempty,uuid"`
}

type candidatesQuery struct {
	ID    string `json:"id" validate:"required,uuid"`
	Limit int    `json:"limit" validate:"omitempty,min=1,max=50"`
}

// Replan runs the planner for the caller's tenant
func (h *SlottingHandler) Replan(w http.ResponseWriter, r *http.Request) {
	var req ReplanRequest
	if r.ContentLength != 0 {
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	var asOf time.Time
	if req.AsOf != "" {
		// format already checked by the validator
		asOf, _ = time.Parse(time.DateOnly, req.AsOf)
	}

	res, err := h.service.Replan(r.Context(), service.ReplanRequest{
		Trigger: service.TriggerManual,
		AsOf:    asOf,
		DryRun:  req.DryRun,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	if res.Changed && !res.DryRun {
		httputil.Created(w, res)
		return
	}
	httputil.JSON(w, http.StatusOK, res)
}

// LatestRun returns the most recent stored run
func (h *SlottingHandler) LatestRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.service.LatestRun(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, run)
}

// ListPlacements lists the active layout, optionally for one shelf
func (h *SlottingHandler) ListPlacements(w http.ResponseWriter, r *http.Request) {
	q := placementsQuery{ShelfID: r.URL.Query().Get("shelf_id")}
	if err := httputil.Validate(&q); err != nil {
		httputil.Error(w, err)
		return
	}

	placements, err := h.service.CurrentLayout(r.Context(), q.ShelfID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, placements, &httputil.Meta{Total: int64(len(placements))})
}

// ListUnplaceable lists batches the latest run could not place
func (h *SlottingHandler) ListUnplaceable(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.Unplaceable(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, records, &httputil.Meta{Total: int64(len(records))})
}

// Candidates ranks free positions for a medication
func (h *SlottingHandler) Candidates(w http.ResponseWriter, r *http.Request) {
	q := candidatesQuery{ID: chi.URLParam(r, "id")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			httputil.Error(w, errors.Validation(map[string]string{"limit": "must be an integer"}))
			return
		}
		if limit == 0 {
			httputil.Error(w, errors.Validation(map[string]string{"limit": "must be at least 1"}))
			return
		}
		q.Limit = limit
	}
	if err := httputil.Validate(&q); err != nil {
		httputil.Error(w, err)
		return
	}

	res, err := h.service.Candidates(r.Context(), q.ID, q.Limit)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, res)
}

// ShelfPositions returns the position grid of a shelf
func (h *SlottingHandler) ShelfPositions(w http.ResponseWriter, r *http.Request) {
	p := idParam{ID: chi.URLParam(r, "id")}
	if err := httputil.Validate(&p); err != nil {
		httputil.Error(w, err)
		return
	}

	positions, err := h.service.ShelfPositions(r.Context(), p.ID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, positions)
}
