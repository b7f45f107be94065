package server

import (
	"fmt"
	"io"
	"net/http"

	"github.com/loomworks/loom/internal/model"
)

// handleListTemplates handles GET /api/v1/templates.
func (h *handlers) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.repo.List()
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	catalog := make([]model.TemplateManifest, 0, len(templates))
	for _, t := range templates {
		info, err := t.Info()
		if err != nil {
			// A template that passed validation but fails to parse is
			// skipped, not fatal for the whole catalog.
			h.logger.Warn("skipping unreadable template", "template", t.ID(), "error", err)
			continue
		}
		catalog = append(catalog, model.TemplateManifest{ID: t.ID(), Info: info})
	}
	writeJSON(w, r, http.StatusOK, catalog)
}

// handleUploadTemplate handles POST /api/v1/templates. The body is a
// multipart form with the archive in the "file" field.
func (h *handlers) handleUploadTemplate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	tpl, err := h.repo.Create(header.Filename, data)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, model.Result{
		Template: tpl.ID(),
		Message:  fmt.Sprintf("file %s is uploaded as template %s", header.Filename, tpl.ID()),
	})
}

// handleGetTemplate handles GET /api/v1/templates/{template_id}.
func (h *handlers) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := h.repo.Get(r.PathValue("template_id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	info, err := tpl.Info()
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.TemplateManifest{ID: tpl.ID(), Info: info})
}

// handleDeleteTemplate handles DELETE /api/v1/templates/{template_id}.
func (h *handlers) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("template_id")
	if err := h.repo.Delete(id); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.Result{
		Template: id,
		Message:  fmt.Sprintf("template %s is deleted", id),
	})
}

// handleRenameTemplate handles PATCH /api/v1/templates/{template_id}/rename.
func (h *handlers) handleRenameTemplate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("template_id")

	r.Body = http.MaxBytesReader(w, r.Body, h.maxRequestBodyBytes)
	var req model.RenameRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}

	tpl, err := h.repo.Rename(id, req.NewName)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.Result{
		Template: tpl.ID(),
		Message:  fmt.Sprintf("template %s is renamed to %s", id, tpl.ID()),
	})
}

// handleDuplicateTemplate handles POST /api/v1/templates/{template_id}/duplicate.
func (h *handlers) handleDuplicateTemplate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("template_id")

	dup, err := h.repo.Duplicate(id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, model.Result{
		Template: dup.ID(),
		Message:  fmt.Sprintf("template %s is duplicated to %s", id, dup.ID()),
	})
}

// handleDownloadTemplate handles GET /api/v1/templates/{template_id}/download.
func (h *handlers) handleDownloadTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := h.repo.Get(r.PathValue("template_id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", tpl.ID()+".zip"))
	if err := tpl.Zip(w); err != nil {
		// Headers are already sent; log and drop the connection.
		h.logger.Error("template download failed", "template", tpl.ID(), "error", err)
	}
}

// handleGetVariables handles GET /api/v1/templates/{template_id}/variables.
func (h *handlers) handleGetVariables(w http.ResponseWriter, r *http.Request) {
	tpl, err := h.repo.Get(r.PathValue("template_id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	vars, err := tpl.Variables()
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, vars)
}

// handleUpdateVariables handles PATCH /api/v1/templates/{template_id}/variables.
// The body is a map of variable name to new value.
func (h *handlers) handleUpdateVariables(w http.ResponseWriter, r *http.Request) {
	tpl, err := h.repo.Get(r.PathValue("template_id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxRequestBodyBytes)
	var values map[string]any
	if err := decodeJSON(r, &values); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}

	vars, err := tpl.UpdateVariables(values)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, vars)
}
