package model

import "time"

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInvalidState  = "INVALID_STATE"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// Result reports the outcome of a template or filesystem mutation.
type Result struct {
	Template string `json:"template"`
	Path     string `json:"path,omitempty"`
	Message  string `json:"message"`
}

// RenameRequest is the request body for rename endpoints.
type RenameRequest struct {
	NewName string `json:"new_name"`
}

// TemplateManifest pairs a template ID with its parsed metadata.
type TemplateManifest struct {
	ID   string   `json:"id"`
	Info Metadata `json:"info"`
}

// RunListResponse lists a template's run slots and which one is active.
type RunListResponse struct {
	Runs   []string `json:"runs"`
	Active string   `json:"active"`
}

// Run action names accepted by the run endpoint's ?action= parameter.
const (
	RunActionActivate = "activate"
	RunActionExecute  = "execute"
	RunActionClear    = "clear"
)

// RunRetrievalStatus is the only value accepted by the run endpoint's
// ?mode= parameter.
const RunRetrievalStatus = "status"

// CommitRequest is the request body for POST .../git/commit.
type CommitRequest struct {
	Message string `json:"message"`
}

// CommitResponse is the response for POST .../git/commit.
type CommitResponse struct {
	Hash string `json:"hash"`
}

// PushRequest is the request body for POST .../git/push. Remote defaults
// to "origin" and branch to "main".
type PushRequest struct {
	Remote string `json:"remote,omitempty"`
	Branch string `json:"branch,omitempty"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Templates int    `json:"templates"`
	Uptime    int64  `json:"uptime_seconds"`
}
