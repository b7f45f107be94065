package server

import (
	"net/http"

	"github.com/loomworks/loom/internal/model"
	"github.com/loomworks/loom/internal/pathutil"
	"github.com/loomworks/loom/internal/run"
)

// runManagerFor resolves the template and opens its run manager.
func (h *handlers) runManagerFor(templateID string) (*run.Manager, error) {
	tpl, err := h.repo.Get(templateID)
	if err != nil {
		return nil, err
	}
	return h.runs(tpl)
}

// handleListRuns handles GET /api/v1/runs/{template_id}.
func (h *handlers) handleListRuns(w http.ResponseWriter, r *http.Request) {
	mgr, err := h.runManagerFor(r.PathValue("template_id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	runs, err := mgr.All()
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	active, err := mgr.Active()
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.RunListResponse{Runs: runs, Active: active})
}

// handleCreateRun handles PUT /api/v1/runs/{template_id}/{run_id}.
func (h *handlers) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	if err := pathutil.ValidateName(runID); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	mgr, err := h.runManagerFor(r.PathValue("template_id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	id, err := mgr.Create(runID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, id)
}

// handleGetRun handles GET /api/v1/runs/{template_id}/{run_id}?mode=status.
// The only retrieval mode is "status", which responds with the run
// state as a plain string. The state reflects a liveness check, not
// just the stored value.
func (h *handlers) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	if err := pathutil.ValidateName(runID); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if mode := r.URL.Query().Get("mode"); mode != model.RunRetrievalStatus {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
			"mode must be status")
		return
	}

	mgr, err := h.runManagerFor(r.PathValue("template_id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if !mgr.Has(runID) {
		h.writeDomainError(w, r, run.ErrRunNotFound)
		return
	}

	writeJSON(w, r, http.StatusOK, mgr.Status(runID).State)
}

// handleRunAction handles
// PATCH /api/v1/runs/{template_id}/{run_id}?action=activate|execute|clear.
func (h *handlers) handleRunAction(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	if err := pathutil.ValidateName(runID); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	tpl, err := h.repo.Get(r.PathValue("template_id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	mgr, err := h.runs(tpl)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if !mgr.Has(runID) {
		h.writeDomainError(w, r, run.ErrRunNotFound)
		return
	}

	action := r.URL.Query().Get("action")
	switch action {
	case model.RunActionActivate:
		err = mgr.SetActive(runID)
	case model.RunActionExecute:
		err = mgr.Execute(runID)
	case model.RunActionClear:
		err = mgr.Clear(runID)
	default:
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
			"action must be one of activate, execute, clear")
		return
	}
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.logger.Info("run action applied",
		"template", tpl.ID(), "run", runID, "action", action)
	w.WriteHeader(http.StatusNoContent)
}
