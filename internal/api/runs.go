package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/EmilLidir/spinbot-discord/internal/domain"
	"github.com/EmilLidir/spinbot-discord/internal/identity"
	"github.com/EmilLidir/spinbot-discord/internal/reward"
	"github.com/EmilLidir/spinbot-discord/internal/spin"
	"github.com/go-chi/chi/v5"
)

const maxRequestBody = 4 << 10

// Runs is what the run endpoints need from the spin service.
type Runs interface {
	Start(ctx context.Context, requester string, req spin.Request) (*domain.Run, error)
	Cancel(id string) error
	Get(ctx context.Context, id string) (*domain.Run, error)
	List(ctx context.Context, limit int) ([]*domain.Run, error)
}

// RunHandler handles run endpoints.
type RunHandler struct {
	runs Runs
}

// NewRunHandler creates a new run handler.
func NewRunHandler(runs Runs) *RunHandler {
	return &RunHandler{runs: runs}
}

// RegisterRoutes registers run routes.
func (h *RunHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", h.Create)
			r.Get("/", h.List)
			r.Get("/{id}", h.Get)
			r.Delete("/{id}", h.Cancel)
		})
		r.Get("/rewards/preview", h.Preview)
	})
}

// runView is the JSON shape of a run: the record plus ordered reward lines.
type runView struct {
	*domain.Run
	Rewards    []reward.Line `json:"rewards"`
	Summary    string        `json:"summary"`
	DurationMS int64         `json:"duration_ms"`
}

func viewOf(run *domain.Run) runView {
	snap := reward.Snapshot(run.Rewards)
	return runView{
		Run:        run,
		Rewards:    snap.Lines(),
		Summary:    snap.Format(),
		DurationMS: run.Duration().Milliseconds(),
	}
}

// Create starts a run in the background and answers 202 with its record.
func (h *RunHandler) Create(w http.ResponseWriter, r *http.Request) {
	requester := identity.RequesterFromContext(r.Context())

	var req spin.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	run, err := h.runs.Start(r.Context(), requester, req)
	if err != nil {
		h.fail(w, err, requester)
		return
	}

	slog.Info("Run accepted", "run_id", run.ID, "requester", requester, "ip", identity.IPFromRequest(r))
	w.Header().Set("Location", "/api/runs/"+run.ID)
	JSON(w, http.StatusAccepted, viewOf(run))
}

// List returns recent runs. The limit query parameter defaults to 20.
func (h *RunHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 200 {
			Error(w, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		limit = n
	}

	runs, err := h.runs.List(r.Context(), limit)
	if err != nil {
		slog.Error("Failed to list runs", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		views = append(views, viewOf(run))
	}
	JSON(w, http.StatusOK, map[string]any{"runs": views})
}

// Get returns one run.
func (h *RunHandler) Get(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err, identity.RequesterFromContext(r.Context()))
		return
	}
	JSON(w, http.StatusOK, viewOf(run))
}

// Cancel asks a running run to stop after the current action.
func (h *RunHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.runs.Cancel(id); err != nil {
		h.fail(w, err, identity.RequesterFromContext(r.Context()))
		return
	}
	JSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "canceling"})
}

// Preview renders the sample ledger through the same formatter runs use.
func (h *RunHandler) Preview(w http.ResponseWriter, _ *http.Request) {
	snap := reward.Preview()
	JSON(w, http.StatusOK, map[string]any{
		"rewards": snap.Lines(),
		"summary": snap.Format(),
	})
}

func (h *RunHandler) fail(w http.ResponseWriter, err error, requester string) {
	var cooldown *spin.CooldownError
	switch {
	case errors.Is(err, spin.ErrInvalidRequest):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &cooldown):
		secs := int(math.Ceil(cooldown.Remaining.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		Error(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, spin.ErrBusy), errors.Is(err, spin.ErrNotRunning):
		Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, spin.ErrNotFound):
		Error(w, http.StatusNotFound, err.Error())
	default:
		slog.Error("Run request failed", "error", err, "requester", requester)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}

var _ Runs = (*spin.Service)(nil)
