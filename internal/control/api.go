package control

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/coruna-salud/gemelo/internal/coordinator"
	"github.com/coruna-salud/gemelo/internal/history"
	"github.com/coruna-salud/gemelo/internal/scenario"
	apperrors "github.com/coruna-salud/gemelo/internal/shared/errors"
	"github.com/coruna-salud/gemelo/internal/shared/types"
	"github.com/coruna-salud/gemelo/internal/sim"
)

// Handler provides the operator HTTP API over the running twin
type Handler struct {
	engine    *sim.Engine
	projector *scenario.Projector
	history   *history.Repository
}

// NewHandler creates the control handler. history may be nil when no
// archive database is configured.
func NewHandler(engine *sim.Engine, projector *scenario.Projector, hist *history.Repository) *Handler {
	return &Handler{engine: engine, projector: projector, history: hist}
}

// Routes registers the read-only routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/clock", h.GetClock)
	r.Get("/snapshots", h.ListSnapshots)
	r.Get("/snapshots/{hospital}", h.GetSnapshot)
	r.Get("/alerts", h.ListAlerts)
	r.Get("/emergencies", h.ListEmergencies)
	r.Get("/derivations", h.ListDerivations)

	return r
}

// ControlRoutes registers the mutating routes; mount behind auth
func (h *Handler) ControlRoutes() chi.Router {
	r := chi.NewRouter()

	r.Post("/pause", h.Pause)
	r.Post("/resume", h.Resume)
	r.Post("/speed", h.SetSpeed)
	r.Post("/skip", h.Skip)
	r.Post("/reset", h.Reset)
	r.Post("/context", h.SetContext)
	r.Post("/emergencies", h.TriggerEmergency)
	r.Post("/scenarios", h.RunScenario)

	return r
}

// GetClock reports the simulated clock state
func (h *Handler) GetClock(w http.ResponseWriter, r *http.Request) {
	clock := h.engine.Clock()
	writeJSON(w, http.StatusOK, map[string]any{
		"sim_time": clock.Now().UTC(),
		"speed":    clock.Speed(),
		"paused":   clock.Paused(),
	})
}

// ListSnapshots returns the latest state of every hospital
func (h *Handler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Snapshots())
}

// GetSnapshot returns the latest state of one hospital
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseHospitalID(chi.URLParam(r, "hospital"))
	if err != nil {
		writeAppError(w, apperrors.NotFound("hospital", chi.URLParam(r, "hospital")))
		return
	}
	snaps := h.engine.Snapshots()
	snap, ok := snaps[id]
	if !ok {
		writeAppError(w, apperrors.NotFound("hospital", id.String()))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ListAlerts returns the currently active saturation alerts
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": h.engine.Coordinator().Alerts(),
	})
}

// ListEmergencies returns all emergencies of the current run
func (h *Handler) ListEmergencies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"emergencies": h.engine.Coordinator().Emergencies(),
	})
}

// ListDerivations returns recent derivation decisions. With ?archived=true
// it reads the Postgres archive instead of the in-memory run history.
func (h *Handler) ListDerivations(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("archived") == "true" {
		if h.history == nil {
			writeError(w, http.StatusServiceUnavailable, "archive database not configured")
			return
		}
		decisions, err := h.history.RecentDerivations(r.Context(), 100)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to read derivation archive")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"derivations": decisions})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"derivations": h.engine.Coordinator().RecentDecisions(100),
	})
}

// Pause freezes the simulation clock
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	h.engine.Pause()
	writeJSON(w, http.StatusOK, map[string]any{"paused": true})
}

// Resume unfreezes the simulation clock
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	h.engine.Resume()
	writeJSON(w, http.StatusOK, map[string]any{"paused": false})
}

// SetSpeed changes the real-time multiplier
func (h *Handler) SetSpeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Speed float64 `json:"speed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.engine.SetSpeed(req.Speed); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"speed": req.Speed})
}

// Skip advances simulated time by a duration without waiting
func (h *Handler) Skip(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Duration string `json:"duration"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	d, err := time.ParseDuration(req.Duration)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid duration, use Go syntax like 6h or 90m")
		return
	}
	if err := h.engine.Skip(r.Context(), d); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"skipped":  d.String(),
		"sim_time": h.engine.Clock().Now().UTC(),
	})
}

// Reset rebuilds the simulation to its initial state under the same seed
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Reset(); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reset":    true,
		"sim_time": h.engine.Clock().Now().UTC(),
	})
}

// SetContext updates the demand context multipliers
func (h *Handler) SetContext(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Weather float64 `json:"weather_factor"`
		Holiday float64 `json:"holiday_factor"`
		Event   float64 `json:"event_factor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.engine.Demand().SetContext(req.Weather, req.Holiday, req.Event); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"weather_factor": req.Weather,
		"holiday_factor": req.Holiday,
		"event_factor":   req.Event,
	})
}

// TriggerEmergency injects an emergency into the running twin
func (h *Handler) TriggerEmergency(w http.ResponseWriter, r *http.Request) {
	var spec coordinator.EmergencySpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	e, err := h.engine.Coordinator().TriggerEmergency(spec)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

// RunScenario runs an offline what-if projection and returns its outcome.
// The projection never mutates the live twin.
func (h *Handler) RunScenario(w http.ResponseWriter, r *http.Request) {
	var spec scenario.Spec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := h.projector.Run(r.Context(), spec)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeAppError(w http.ResponseWriter, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		appErr = apperrors.Internal(err)
	}
	writeError(w, appErr.HTTPStatus, appErr.Message)
}
