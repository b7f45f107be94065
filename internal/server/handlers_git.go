package server

import (
	"net/http"
	"strings"

	"github.com/loomworks/loom/internal/model"
)

// handleGitCommit handles POST /api/v1/git/commit. Stages every change
// in the template library and commits with the supplied message.
func (h *handlers) handleGitCommit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxRequestBodyBytes)
	var req model.CommitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "commit message is required")
		return
	}

	repo, err := h.repo.Git()
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	hash, err := repo.CommitAll(req.Message, h.gitAuthorName, h.gitAuthorEmail)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.logger.Info("library committed", "hash", hash)
	writeJSON(w, r, http.StatusOK, model.CommitResponse{Hash: hash})
}

// handleGitPush handles POST /api/v1/git/push.
func (h *handlers) handleGitPush(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxRequestBodyBytes)
	var req model.PushRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.Remote == "" {
		req.Remote = "origin"
	}
	if req.Branch == "" {
		req.Branch = "main"
	}

	repo, err := h.repo.Git()
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	if err := repo.Push(r.Context(), req.Remote, req.Branch); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.logger.Info("library pushed", "remote", req.Remote, "branch", req.Branch)
	w.WriteHeader(http.StatusNoContent)
}

// handleGitRemotes handles GET /api/v1/git/remotes.
func (h *handlers) handleGitRemotes(w http.ResponseWriter, r *http.Request) {
	repo, err := h.repo.Git()
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	remotes, err := repo.Remotes()
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, remotes)
}
