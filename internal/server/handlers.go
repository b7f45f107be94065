package server

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/loomworks/loom/internal/gitrepo"
	"github.com/loomworks/loom/internal/model"
	"github.com/loomworks/loom/internal/run"
	"github.com/loomworks/loom/internal/template"
)

// handlers holds HTTP handler dependencies.
type handlers struct {
	repo                *template.Repository
	logger              *slog.Logger
	version             string
	maxUploadBytes      int64
	maxRequestBodyBytes int64
	gitAuthorName       string
	gitAuthorEmail      string
	runOptions          []run.Option
	startedAt           time.Time
}

func newHandlers(cfg ServerConfig) *handlers {
	return &handlers{
		repo:                cfg.Repo,
		logger:              cfg.Logger,
		version:             cfg.Version,
		maxUploadBytes:      cfg.MaxUploadBytes,
		maxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		gitAuthorName:       cfg.GitAuthorName,
		gitAuthorEmail:      cfg.GitAuthorEmail,
		runOptions:          cfg.RunOptions,
		startedAt:           time.Now(),
	}
}

// runs opens the run manager for a template with the configured
// options applied.
func (h *handlers) runs(t *template.Template) (*run.Manager, error) {
	return t.Runs(h.runOptions...)
}

// writeDomainError maps domain sentinel errors onto the API error
// taxonomy. Unrecognized errors become opaque 500s; the detail goes to
// the log, not the client.
func (h *handlers) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, template.ErrTemplateNotFound),
		errors.Is(err, run.ErrRunNotFound),
		errors.Is(err, os.ErrNotExist):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, err.Error())
	case errors.Is(err, template.ErrTemplateExists),
		errors.Is(err, run.ErrRunExists),
		errors.Is(err, os.ErrExist):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, err.Error())
	case errors.Is(err, run.ErrInvalidState):
		writeError(w, r, http.StatusConflict, model.ErrCodeInvalidState, err.Error())
	case errors.Is(err, template.ErrInvalidName):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
	case errors.Is(err, gitrepo.ErrNoChanges):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "nothing to commit")
	default:
		h.logger.Error("request failed",
			"error", err,
			"path", r.URL.Path,
			"request_id", RequestIDFromContext(r.Context()),
		)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
	}
}

// handleHealth handles GET /health.
func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	templates, err := h.repo.List()
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.HealthResponse{
		Status:    "ok",
		Version:   h.version,
		Templates: len(templates),
		Uptime:    int64(time.Since(h.startedAt).Seconds()),
	})
}
