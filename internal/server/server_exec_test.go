//go:build unix

package server_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/model"
	"github.com/loomworks/loom/internal/run"
)

func TestRunActionExecuteLifecycle(t *testing.T) {
	cmd := func(string) ([]string, error) {
		return []string{"/bin/sh", "-c", "touch diagnostics/execution.ok"}, nil
	}
	env := newTestEnv(t, run.WithCommand(cmd))
	env.seed(t, "beam", "Beam")

	rec := env.do(t, http.MethodPut, "/api/v1/runs/beam/r1", nil, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPatch, "/api/v1/runs/beam/r1?action=execute", nil, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// The run settles to COMPLETED once the marker is written.
	var state run.State
	require.Eventually(t, func() bool {
		rec := env.do(t, http.MethodGet, "/api/v1/runs/beam/r1?mode=status", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		decodeData(t, rec, &state)
		return state != run.StateRunning
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, run.StateCompleted, state)

	// Re-executing a completed run is an invalid state transition.
	rec = env.do(t, http.MethodPatch, "/api/v1/runs/beam/r1?action=execute", nil, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, model.ErrCodeInvalidState, decodeError(t, rec).Error.Code)

	// Clearing makes the slot reusable.
	rec = env.do(t, http.MethodPatch, "/api/v1/runs/beam/r1?action=clear", nil, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodPatch, "/api/v1/runs/beam/r1?action=execute", nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
