package transport

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/floe/internal/flow"
	"github.com/pitabwire/floe/model"
)

// decodeInput reads an optional JSON body of the form {"input": {...}}.
// An empty body is treated as no input.
func decodeInput(r *http.Request) (map[string]any, error) {
	var body struct {
		Input map[string]any `json:"input"`
	}
	err := json.NewDecoder(r.Body).Decode(&body)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, model.NewBadRequestError("invalid JSON body")
	}
	return body.Input, nil
}

func tenantFrom(r *http.Request) (model.TenantContext, bool) {
	return model.TenantContextFrom(r.Context())
}

func handleFlowInitialize(ctrl *flow.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, ok := tenantFrom(r)
		if !ok {
			WriteError(r.Context(), w, model.NewUnauthorizedError("missing tenant scope"))
			return
		}
		flowType := chi.URLParam(r, "flowType")

		input, err := decodeInput(r)
		if err != nil {
			WriteError(r.Context(), w, err)
			return
		}

		inst, err := ctrl.Initialize(r.Context(), tenant, flowType, input)
		if err != nil {
			WriteError(r.Context(), w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, inst)
	}
}

func handleFlowExecutePhase(ctrl *flow.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, ok := tenantFrom(r)
		if !ok {
			WriteError(r.Context(), w, model.NewUnauthorizedError("missing tenant scope"))
			return
		}
		flowID := chi.URLParam(r, "flowID")
		phaseName := chi.URLParam(r, "phaseName")

		input, err := decodeInput(r)
		if err != nil {
			WriteError(r.Context(), w, err)
			return
		}

		inst, err := ctrl.ExecutePhase(r.Context(), tenant, flowID, phaseName, input)
		if err != nil {
			WriteError(r.Context(), w, err)
			return
		}
		WriteJSON(w, http.StatusOK, inst)
	}
}

func handleFlowResume(ctrl *flow.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, ok := tenantFrom(r)
		if !ok {
			WriteError(r.Context(), w, model.NewUnauthorizedError("missing tenant scope"))
			return
		}
		flowID := chi.URLParam(r, "flowID")

		input, err := decodeInput(r)
		if err != nil {
			WriteError(r.Context(), w, err)
			return
		}

		inst, err := ctrl.Resume(r.Context(), tenant, flowID, input)
		if err != nil {
			WriteError(r.Context(), w, err)
			return
		}
		WriteJSON(w, http.StatusOK, inst)
	}
}

func handleFlowPause(ctrl *flow.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, ok := tenantFrom(r)
		if !ok {
			WriteError(r.Context(), w, model.NewUnauthorizedError("missing tenant scope"))
			return
		}
		flowID := chi.URLParam(r, "flowID")

		inst, err := ctrl.Pause(r.Context(), tenant, flowID)
		if err != nil {
			WriteError(r.Context(), w, err)
			return
		}
		WriteJSON(w, http.StatusOK, inst)
	}
}

func handleFlowDelete(ctrl *flow.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, ok := tenantFrom(r)
		if !ok {
			WriteError(r.Context(), w, model.NewUnauthorizedError("missing tenant scope"))
			return
		}
		flowID := chi.URLParam(r, "flowID")

		if err := ctrl.Delete(r.Context(), tenant, flowID); err != nil {
			WriteError(r.Context(), w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": model.FlowStatusDeleted})
	}
}

func handleFlowStatus(ctrl *flow.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, ok := tenantFrom(r)
		if !ok {
			WriteError(r.Context(), w, model.NewUnauthorizedError("missing tenant scope"))
			return
		}
		flowID := chi.URLParam(r, "flowID")

		view, err := ctrl.Status(r.Context(), tenant, flowID)
		if err != nil {
			WriteError(r.Context(), w, err)
			return
		}
		WriteJSON(w, http.StatusOK, view)
	}
}

func handleFlowList(ctrl *flow.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, ok := tenantFrom(r)
		if !ok {
			WriteError(r.Context(), w, model.NewUnauthorizedError("missing tenant scope"))
			return
		}

		filters := model.FlowFilters{
			FlowType: r.URL.Query().Get("flow_type"),
			Status:   r.URL.Query().Get("status"),
			Limit:    queryInt(r, "limit", 20),
			Offset:   queryInt(r, "offset", 0),
		}

		summaries, totalCount, err := ctrl.List(r.Context(), tenant, filters)
		if err != nil {
			WriteError(r.Context(), w, err)
			return
		}

		WriteJSON(w, http.StatusOK, map[string]any{
			"data":        summaries,
			"total_count": totalCount,
			"limit":       filters.Limit,
			"offset":      filters.Offset,
		})
	}
}

func handleFlowAudit(ctrl *flow.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, ok := tenantFrom(r)
		if !ok {
			WriteError(r.Context(), w, model.NewUnauthorizedError("missing tenant scope"))
			return
		}
		flowID := chi.URLParam(r, "flowID")

		entries, err := ctrl.Audit(r.Context(), tenant, flowID)
		if err != nil {
			WriteError(r.Context(), w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"data": entries})
	}
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
