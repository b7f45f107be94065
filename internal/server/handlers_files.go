package server

import (
	"fmt"
	"net/http"
	"path"

	"github.com/loomworks/loom/internal/model"
)

// handleFileTree handles GET /api/v1/fs/{template_id}/tree?path=<rel>.
func (h *handlers) handleFileTree(w http.ResponseWriter, r *http.Request) {
	tpl, err := h.repo.Get(r.PathValue("template_id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	tree, err := tpl.Tree(r.URL.Query().Get("path"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, tree)
}

// handleDownloadFile handles GET /api/v1/fs/{template_id}/file?path=<rel>.
func (h *handlers) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	tpl, err := h.repo.Get(r.PathValue("template_id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	rel := r.URL.Query().Get("path")
	if rel == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "path query parameter is required")
		return
	}

	data, err := tpl.ReadFile(rel)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(rel)))
	_, _ = w.Write(data)
}

// handleUploadFile handles PUT /api/v1/fs/{template_id}/file?path=<rel>.
// The request body is the raw file content.
func (h *handlers) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	tpl, err := h.repo.Get(r.PathValue("template_id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	rel := r.URL.Query().Get("path")
	if rel == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "path query parameter is required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := tpl.WriteFile(rel, r.Body); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, model.Result{
		Template: tpl.ID(),
		Path:     rel,
		Message:  fmt.Sprintf("file %s is stored", rel),
	})
}

// handleRenamePath handles PATCH /api/v1/fs/{template_id}/rename?path=<rel>.
func (h *handlers) handleRenamePath(w http.ResponseWriter, r *http.Request) {
	tpl, err := h.repo.Get(r.PathValue("template_id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	rel := r.URL.Query().Get("path")
	if rel == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "path query parameter is required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxRequestBodyBytes)
	var req model.RenameRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}

	if err := tpl.RenamePath(rel, req.NewName); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.Result{
		Template: tpl.ID(),
		Path:     path.Join(path.Dir(rel), req.NewName),
		Message:  fmt.Sprintf("%s is renamed to %s", rel, req.NewName),
	})
}

// handleDeletePath handles DELETE /api/v1/fs/{template_id}?path=<rel>.
func (h *handlers) handleDeletePath(w http.ResponseWriter, r *http.Request) {
	tpl, err := h.repo.Get(r.PathValue("template_id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	rel := r.URL.Query().Get("path")
	if rel == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "path query parameter is required")
		return
	}

	if err := tpl.RemovePath(rel); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.Result{
		Template: tpl.ID(),
		Path:     rel,
		Message:  fmt.Sprintf("%s is deleted", rel),
	})
}
