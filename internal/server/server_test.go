package server_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/model"
	"github.com/loomworks/loom/internal/pathutil"
	"github.com/loomworks/loom/internal/run"
	"github.com/loomworks/loom/internal/server"
	"github.com/loomworks/loom/internal/template"
)

// deadProber reports every PID as dead so persisted RUNNING states
// reconcile deterministically in tests.
type deadProber struct{}

func (deadProber) Alive(int) bool { return false }

type testEnv struct {
	srv  *server.Server
	repo *template.Repository
	dir  string
}

func newTestEnv(t *testing.T, runOpts ...run.Option) *testEnv {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "library")
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	repo, err := template.NewRepository(context.Background(), dir, "", logger)
	require.NoError(t, err)

	if len(runOpts) == 0 {
		runOpts = []run.Option{run.WithProber(deadProber{})}
	}
	srv := server.New(server.ServerConfig{
		Repo:                repo,
		Logger:              logger,
		Port:                0,
		ReadTimeout:         5 * time.Second,
		WriteTimeout:        5 * time.Second,
		Version:             "test",
		MaxUploadBytes:      10 << 20,
		MaxRequestBodyBytes: 1 << 20,
		GitAuthorName:       "Tester",
		GitAuthorEmail:      "tester@example.com",
		RunOptions:          runOpts,
	})
	return &testEnv{srv: srv, repo: repo, dir: dir}
}

func (e *testEnv) do(t *testing.T, method, target string, body io.Reader, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) doJSON(t *testing.T, method, target string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	return e.do(t, method, target, bytes.NewReader(data), h)
}

// seed creates a valid template directly on disk.
func (e *testEnv) seed(t *testing.T, id, title string) {
	t.Helper()
	srcDir := filepath.Join(e.dir, id, "source")
	require.NoError(t, os.MkdirAll(srcDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "meta.yaml"),
		[]byte("title: "+title+"\n"), 0o644))
}

// decodeData unmarshals the data portion of the response envelope.
func decodeData(t *testing.T, rec *httptest.ResponseRecorder, target any) model.ResponseMeta {
	t.Helper()
	var env struct {
		Data json.RawMessage    `json:"data"`
		Meta model.ResponseMeta `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	if target != nil {
		require.NoError(t, json.Unmarshal(env.Data, target))
	}
	return env.Meta
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) model.APIError {
	t.Helper()
	var apiErr model.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	return apiErr
}

func zipUploadBody(t *testing.T, fieldFile string, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var zipBuf bytes.Buffer
	zw := zip.NewWriter(&zipBuf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", fieldFile)
	require.NoError(t, err)
	_, err = fw.Write(zipBuf.Bytes())
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "a", "A")

	rec := env.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var health model.HealthResponse
	meta := decodeData(t, rec, &health)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "test", health.Version)
	assert.Equal(t, 1, health.Templates)
	assert.NotEmpty(t, meta.RequestID)
	assert.Equal(t, meta.RequestID, rec.Header().Get("X-Request-ID"))
}

func TestListTemplates(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "beam", "Beam Analysis")
	env.seed(t, "modal", "Modal Analysis")
	// Invalid directory is excluded.
	require.NoError(t, os.MkdirAll(filepath.Join(env.dir, "scratch"), 0o755))

	rec := env.do(t, http.MethodGet, "/api/v1/templates", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var catalog []model.TemplateManifest
	decodeData(t, rec, &catalog)
	require.Len(t, catalog, 2)
	ids := []string{catalog[0].ID, catalog[1].ID}
	assert.ElementsMatch(t, []string{"beam", "modal"}, ids)
}

func TestGetTemplate(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "beam", "Beam Analysis")

	rec := env.do(t, http.MethodGet, "/api/v1/templates/beam", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var manifest model.TemplateManifest
	decodeData(t, rec, &manifest)
	assert.Equal(t, "beam", manifest.ID)
	assert.Equal(t, "Beam Analysis", manifest.Info.Title)
}

func TestGetTemplateNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/templates/ghost", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, model.ErrCodeNotFound, decodeError(t, rec).Error.Code)
}

func TestUploadTemplate(t *testing.T) {
	env := newTestEnv(t)

	body, contentType := zipUploadBody(t, "modal_analysis.zip", map[string]string{
		"source/meta.yaml": "title: Modal\n",
	})
	h := http.Header{}
	h.Set("Content-Type", contentType)

	rec := env.do(t, http.MethodPost, "/api/v1/templates", body, h)
	require.Equal(t, http.StatusCreated, rec.Code)

	var result model.Result
	decodeData(t, rec, &result)
	assert.True(t, strings.HasPrefix(result.Template, "modal_analysis_"))

	// The new template is immediately listed.
	rec = env.do(t, http.MethodGet, "/api/v1/templates/"+result.Template, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUploadTemplateMissingFile(t *testing.T) {
	env := newTestEnv(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("other", "x"))
	require.NoError(t, mw.Close())
	h := http.Header{}
	h.Set("Content-Type", mw.FormDataContentType())

	rec := env.do(t, http.MethodPost, "/api/v1/templates", &body, h)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, model.ErrCodeInvalidInput, decodeError(t, rec).Error.Code)
}

func TestRenameTemplate(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "old", "Old")

	rec := env.doJSON(t, http.MethodPatch, "/api/v1/templates/old/rename",
		model.RenameRequest{NewName: "new"})
	require.Equal(t, http.StatusOK, rec.Code)

	var result model.Result
	decodeData(t, rec, &result)
	assert.Equal(t, "new", result.Template)

	rec = env.do(t, http.MethodGet, "/api/v1/templates/old", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRenameTemplateConflict(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "a", "A")
	env.seed(t, "b", "B")

	rec := env.doJSON(t, http.MethodPatch, "/api/v1/templates/a/rename",
		model.RenameRequest{NewName: "b"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, model.ErrCodeConflict, decodeError(t, rec).Error.Code)
}

func TestRenameTemplateInvalidName(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "a", "A")

	rec := env.doJSON(t, http.MethodPatch, "/api/v1/templates/a/rename",
		model.RenameRequest{NewName: "bad/name"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, model.ErrCodeInvalidInput, decodeError(t, rec).Error.Code)
}

func TestDuplicateTemplate(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "orig", "Original")

	rec := env.do(t, http.MethodPost, "/api/v1/templates/orig/duplicate", nil, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var result model.Result
	decodeData(t, rec, &result)
	assert.True(t, strings.HasPrefix(result.Template, "orig_copy_"))
}

func TestDeleteTemplate(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "doomed", "Doomed")

	rec := env.do(t, http.MethodDelete, "/api/v1/templates/doomed", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/v1/templates/doomed", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownloadTemplate(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "beam", "Beam")

	rec := env.do(t, http.MethodGet, "/api/v1/templates/beam/download", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))

	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "source/meta.yaml")
}

func TestVariablesRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "beam", "Beam")
	require.NoError(t, os.WriteFile(
		filepath.Join(env.dir, "beam", "source", "variables.yaml"),
		[]byte("- name: mesh_size\n  type: float\n  default: 0.5\n"), 0o644))

	rec := env.do(t, http.MethodGet, "/api/v1/templates/beam/variables", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var vars model.Variables
	decodeData(t, rec, &vars)
	require.Len(t, vars, 1)
	assert.Equal(t, "mesh_size", vars[0].Name)

	rec = env.doJSON(t, http.MethodPatch, "/api/v1/templates/beam/variables",
		map[string]any{"mesh_size": 0.25})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, rec, &vars)
	assert.Equal(t, 0.25, vars[0].EffectiveValue())
}

func TestFileTreeAndOperations(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "beam", "Beam")

	// Upload a file.
	rec := env.do(t, http.MethodPut, "/api/v1/fs/beam/file?path=source/main.py",
		strings.NewReader("print('hi')\n"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Tree shows it.
	rec = env.do(t, http.MethodGet, "/api/v1/fs/beam/tree", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tree []pathutil.Entry
	decodeData(t, rec, &tree)
	require.Len(t, tree, 1)
	assert.Equal(t, "source", tree[0].Name)
	require.Len(t, tree[0].Children, 2)

	// Download it back.
	rec = env.do(t, http.MethodGet, "/api/v1/fs/beam/file?path=source/main.py", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "print('hi')\n", rec.Body.String())

	// Rename it.
	rec = env.doJSON(t, http.MethodPatch, "/api/v1/fs/beam/rename?path=source/main.py",
		model.RenameRequest{NewName: "entry.py"})
	require.Equal(t, http.StatusOK, rec.Code)

	// Delete it.
	rec = env.do(t, http.MethodDelete, "/api/v1/fs/beam?path=source/entry.py", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/fs/beam/file?path=source/entry.py", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFileOperationsRejectTraversal(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "beam", "Beam")

	rec := env.do(t, http.MethodPut, "/api/v1/fs/beam/file?path=../../evil",
		strings.NewReader("x"), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, model.ErrCodeInvalidInput, decodeError(t, rec).Error.Code)

	rec = env.do(t, http.MethodDelete, "/api/v1/fs/beam?path=../beam", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFileOperationsRequirePath(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "beam", "Beam")

	for _, tc := range []struct{ method, target string }{
		{http.MethodGet, "/api/v1/fs/beam/file"},
		{http.MethodPut, "/api/v1/fs/beam/file"},
		{http.MethodDelete, "/api/v1/fs/beam"},
	} {
		rec := env.do(t, tc.method, tc.target, strings.NewReader("x"), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "%s %s", tc.method, tc.target)
	}
}

func TestListRuns(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "beam", "Beam")

	rec := env.do(t, http.MethodGet, "/api/v1/runs/beam", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var list model.RunListResponse
	decodeData(t, rec, &list)
	assert.Equal(t, []string{"default"}, list.Runs)
	assert.Equal(t, "default", list.Active)
}

func TestCreateRun(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "beam", "Beam")

	rec := env.do(t, http.MethodPut, "/api/v1/runs/beam/r1", nil, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var id string
	decodeData(t, rec, &id)
	assert.Equal(t, "r1", id)

	// Creating the same run again conflicts.
	rec = env.do(t, http.MethodPut, "/api/v1/runs/beam/r1", nil, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, model.ErrCodeConflict, decodeError(t, rec).Error.Code)
}

func TestGetRunStatus(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "beam", "Beam")

	rec := env.do(t, http.MethodGet, "/api/v1/runs/beam/default?mode=status", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// The payload is the state as a plain string, not a status object.
	var state run.State
	decodeData(t, rec, &state)
	assert.Equal(t, run.StateNotStarted, state)

	rec = env.do(t, http.MethodGet, "/api/v1/runs/beam/ghost?mode=status", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetRunRequiresStatusMode(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "beam", "Beam")

	rec := env.do(t, http.MethodGet, "/api/v1/runs/beam/default", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, model.ErrCodeInvalidInput, decodeError(t, rec).Error.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/runs/beam/default?mode=logs", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRunStatusReconciles(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "beam", "Beam")

	// Persist a RUNNING status with a dead PID behind the API's back.
	rec := env.do(t, http.MethodPut, "/api/v1/runs/beam/r1", nil, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	store := run.NewStatusStore(filepath.Join(env.dir, "beam", "runs", "r1"))
	pid := 99999
	require.NoError(t, store.Save(run.Status{State: run.StateRunning, PID: &pid}))

	rec = env.do(t, http.MethodGet, "/api/v1/runs/beam/r1?mode=status", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var state run.State
	decodeData(t, rec, &state)
	assert.Equal(t, run.StateFailed, state)
}

func TestRunActionActivate(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "beam", "Beam")

	rec := env.do(t, http.MethodPut, "/api/v1/runs/beam/r1", nil, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPatch, "/api/v1/runs/beam/r1?action=activate", nil, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	var list model.RunListResponse
	rec = env.do(t, http.MethodGet, "/api/v1/runs/beam", nil, nil)
	decodeData(t, rec, &list)
	assert.Equal(t, "r1", list.Active)
}

func TestRunActionClear(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "beam", "Beam")

	store := run.NewStatusStore(filepath.Join(env.dir, "beam", "runs", "default"))
	// The default run directory exists after the first runs call.
	rec := env.do(t, http.MethodGet, "/api/v1/runs/beam", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, store.Save(run.Status{State: run.StateFailed}))

	rec = env.do(t, http.MethodPatch, "/api/v1/runs/beam/default?action=clear", nil, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	var state run.State
	rec = env.do(t, http.MethodGet, "/api/v1/runs/beam/default?mode=status", nil, nil)
	decodeData(t, rec, &state)
	assert.Equal(t, run.StateNotStarted, state)
}

func TestRunActionInvalid(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "beam", "Beam")
	// Materialize the default run.
	env.do(t, http.MethodGet, "/api/v1/runs/beam", nil, nil)

	rec := env.do(t, http.MethodPatch, "/api/v1/runs/beam/default?action=explode", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPatch, "/api/v1/runs/beam/ghost?action=activate", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunIDValidation(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "beam", "Beam")

	rec := env.do(t, http.MethodPut, "/api/v1/runs/beam/bad%2Fname", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGitCommitAndRemotes(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "beam", "Beam")

	rec := env.doJSON(t, http.MethodPost, "/api/v1/git/commit",
		model.CommitRequest{Message: "add beam template"})
	require.Equal(t, http.StatusOK, rec.Code)

	var commit model.CommitResponse
	decodeData(t, rec, &commit)
	assert.NotEmpty(t, commit.Hash)

	// Nothing new to commit.
	rec = env.doJSON(t, http.MethodPost, "/api/v1/git/commit",
		model.CommitRequest{Message: "empty"})
	require.Equal(t, http.StatusConflict, rec.Code)

	// Blank message is rejected before touching git.
	rec = env.doJSON(t, http.MethodPost, "/api/v1/git/commit",
		model.CommitRequest{Message: "   "})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Fresh library has no remotes.
	rec = env.do(t, http.MethodGet, "/api/v1/git/remotes", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var remotes map[string]string
	decodeData(t, rec, &remotes)
	assert.Empty(t, remotes)
}

func TestGitPushWithoutRemote(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodPost, "/api/v1/git/push", model.PushRequest{})
	// No origin remote configured: surfaced as a server-side failure.
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
