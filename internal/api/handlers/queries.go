// Package handlers contains the operator HTTP handlers. Each handler
// declares the narrow store interface it needs so tests can substitute an
// in-memory fake.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"queryguard/internal/api"
	"queryguard/internal/db"
	"queryguard/internal/types"
)

// QueryStore is the subset of db.Store the query handler uses.
type QueryStore interface {
	Create(ctx context.Context, q *types.Query) error
	GetByID(ctx context.Context, id string) (*types.Query, error)
	List(ctx context.Context, params db.ListQueriesParams) ([]*types.Query, types.PageInfo, error)
	MarkResponded(ctx context.Context, id string, tier types.Tier, at time.Time) (*types.Query, error)
	Resolve(ctx context.Context, id string, at time.Time) (*types.Query, error)
	SetNotes(ctx context.Context, id string, notes string, at time.Time) (*types.Query, error)
}

// CreateQueryRequest is the body for POST /v1/queries.
type CreateQueryRequest struct {
	Name    string  `json:"name" validate:"required,max=200"`
	Email   string  `json:"email" validate:"required,email,max=320"`
	Phone   *string `json:"phone,omitempty" validate:"omitempty,max=32"`
	Subject *string `json:"subject,omitempty" validate:"omitempty,max=300"`
	Message string  `json:"message" validate:"required,max=10000"`
}

// RespondRequest is the body for POST /v1/queries/{id}/responses.
type RespondRequest struct {
	Tier types.Tier `json:"tier" validate:"required,tier"`
}

// NotesRequest is the body for PUT /v1/queries/{id}/notes.
type NotesRequest struct {
	Notes string `json:"notes" validate:"max=10000"`
}

// QueryHandler serves the operator endpoints for customer queries.
type QueryHandler struct {
	store     QueryStore
	validator *api.Validator
	logger    *slog.Logger
	clock     types.Clock
	newID     func() string
}

// NewQueryHandler creates a QueryHandler. A nil logger uses slog.Default
// and a nil clock uses the wall clock.
func NewQueryHandler(store QueryStore, v *api.Validator, l *slog.Logger, clock types.Clock) *QueryHandler {
	if l == nil {
		l = slog.Default()
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &QueryHandler{
		store:     store,
		validator: v,
		logger:    l,
		clock:     clock,
		newID:     uuid.NewString,
	}
}

// RegisterRoutes mounts the query routes on r.
func (h *QueryHandler) RegisterRoutes(r chi.Router) {
	r.Route("/queries", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Post("/responses", h.Respond)
			r.Post("/resolve", h.Resolve)
			r.Put("/notes", h.SetNotes)
		})
	})
}

// Create handles POST /v1/queries. New queries start PENDING at
// CUSTOMER_SUPPORT with every responded flag false.
func (h *QueryHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateQueryRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.Error(w, r, err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if err := h.validator.ValidateStruct(req); err != nil {
		api.Error(w, r, err)
		return
	}

	now := h.clock.Now()
	q := &types.Query{
		ID:              h.newID(),
		Name:            req.Name,
		Email:           req.Email,
		Phone:           req.Phone,
		Subject:         req.Subject,
		Message:         req.Message,
		Status:          types.StatusPending,
		EscalationLevel: types.TierCustomerSupport,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := h.store.Create(r.Context(), q); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to create query", "error", err)
		api.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "query submitted", "query_id", q.ID)
	w.Header().Set("Location", "/v1/queries/"+q.ID)
	api.JSON(w, r, http.StatusCreated, api.APIResponse{Data: q})
}

// Get handles GET /v1/queries/{id}.
func (h *QueryHandler) Get(w http.ResponseWriter, r *http.Request) {
	q, err := h.store.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		api.Error(w, r, err)
		return
	}
	api.JSON(w, r, http.StatusOK, api.APIResponse{Data: q})
}

// List handles GET /v1/queries?status=PENDING&status=...&level=MANAGER&limit=20&cursor=...
func (h *QueryHandler) List(w http.ResponseWriter, r *http.Request) {
	params, err := parseListParams(r)
	if err != nil {
		api.Error(w, r, err)
		return
	}

	items, info, err := h.store.List(r.Context(), params)
	if err != nil {
		api.Error(w, r, err)
		return
	}
	if items == nil {
		items = []*types.Query{}
	}
	api.JSON(w, r, http.StatusOK, api.APIResponse{Data: items, PageInfo: &info})
}

func parseListParams(r *http.Request) (db.ListQueriesParams, error) {
	q := r.URL.Query()
	var p db.ListQueriesParams

	for _, raw := range q["status"] {
		for _, s := range strings.Split(raw, ",") {
			st := types.QueryStatus(strings.ToUpper(strings.TrimSpace(s)))
			if !st.Valid() {
				return p, types.NewAppError(types.ErrCodeValidationInvalidQuery, "unknown status "+strconv.Quote(s), nil)
			}
			p.Status = append(p.Status, st)
		}
	}
	if lv := q.Get("level"); lv != "" {
		tier, err := types.ParseTier(lv)
		if err != nil {
			return p, types.NewAppError(types.ErrCodeValidationInvalidTier, err.Error(), err)
		}
		p.Level = tier
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			return p, types.NewAppError(types.ErrCodeValidationInvalidQuery, "limit must be a non-negative integer", err)
		}
		p.Limit = n
	}
	p.Cursor = q.Get("cursor")
	return p, nil
}

// Respond handles POST /v1/queries/{id}/responses. The tier's responded
// flag is set; it never reverts. Responding to a resolved query is a
// conflict.
func (h *QueryHandler) Respond(w http.ResponseWriter, r *http.Request) {
	var req RespondRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.Error(w, r, err)
		return
	}
	if tier, err := types.ParseTier(string(req.Tier)); err == nil {
		req.Tier = tier
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		api.Error(w, r, err)
		return
	}

	id := chi.URLParam(r, "id")
	q, err := h.store.MarkResponded(r.Context(), id, req.Tier, h.clock.Now())
	if err != nil {
		api.Error(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "query responded", "query_id", id, "tier", req.Tier, "status", q.Status)
	api.JSON(w, r, http.StatusOK, api.APIResponse{Data: q})
}

// Resolve handles POST /v1/queries/{id}/resolve. Resolving twice is not an
// error.
func (h *QueryHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q, err := h.store.Resolve(r.Context(), id, h.clock.Now())
	if err != nil {
		api.Error(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "query resolved", "query_id", id)
	api.JSON(w, r, http.StatusOK, api.APIResponse{Data: q})
}

// SetNotes handles PUT /v1/queries/{id}/notes.
func (h *QueryHandler) SetNotes(w http.ResponseWriter, r *http.Request) {
	var req NotesRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		api.Error(w, r, err)
		return
	}

	q, err := h.store.SetNotes(r.Context(), chi.URLParam(r, "id"), req.Notes, h.clock.Now())
	if err != nil {
		api.Error(w, r, err)
		return
	}
	api.JSON(w, r, http.StatusOK, api.APIResponse{Data: q})
}
