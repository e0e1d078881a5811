package adminapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fleetmind/acpd/internal/acpserver"
	"github.com/fleetmind/acpd/internal/model"
	"github.com/fleetmind/acpd/internal/orchestrator"
	"github.com/fleetmind/acpd/internal/rl"
	"github.com/fleetmind/acpd/internal/store"
)

// connectionsHandler lists every connected agent (role, auth state,
// connect time), backing the ops console's fleet view.
type connectionsHandler struct {
	server *acpserver.Server
}

func (h *connectionsHandler) List(w http.ResponseWriter, r *http.Request) {
	Ok(w, h.server.ConnectedAgents())
}

func (h *connectionsHandler) Backpressure(w http.ResponseWriter, r *http.Request) {
	Ok(w, h.server.BackpressureSnapshots())
}

// rlHandler exposes the active RL policy's params and learning-progress
// stats (§4.7's get_params/stats, surfaced read-only here — the admin API
// has no route that changes them).
type rlHandler struct {
	engine *rl.Engine
}

func (h *rlHandler) Stats(w http.ResponseWriter, r *http.Request) {
	Ok(w, h.engine.Stats())
}

func (h *rlHandler) Params(w http.ResponseWriter, r *http.Request) {
	raw, err := h.engine.GetParams()
	if err != nil {
		ErrInternal(w)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

// tasksHandler exposes orchestrator task status by ID.
type tasksHandler struct {
	orch *orchestrator.Orchestrator
}

func (h *tasksHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, err := model.ParseTaskID(chi.URLParam(r, "id"))
	if err != nil {
		ErrBadRequest(w, err.Error())
		return
	}
	task, ok := h.orch.TaskByID(id)
	if !ok {
		ErrNotFound(w)
		return
	}
	Ok(w, task)
}

// patternsHandler exposes the cached interaction patterns an
// Action.UsePattern can reference, read-only.
type patternsHandler struct {
	patterns store.PatternStore
}

func (h *patternsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := 50, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}

	patterns, total, err := h.patterns.List(r.Context(), r.URL.Query().Get("type"), store.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		ErrInternal(w)
		return
	}
	Ok(w, envelope{"patterns": patterns, "total": total})
}

// healthHandler answers the unauthenticated /healthz bypass path.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, envelope{"status": "ok"})
}
