package run

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/loomworks/loom/internal/pathutil"
)

// CommandFunc produces the argument vector used to execute a run,
// given the absolute path of the run directory. The first element is
// the executable. Injected at construction so callers decide what a
// run actually executes.
type CommandFunc func(runDir string) ([]string, error)

// DefaultCommand is a placeholder used when no CommandFunc is
// supplied.
func DefaultCommand(runDir string) ([]string, error) {
	return []string{"echo", "hello", "world"}, nil
}

// Manager owns one template's runs directory and implements the run
// lifecycle state machine.
//
// The manager is synchronous: each call performs blocking filesystem
// I/O, and Execute performs one blocking spawn. Status read-modify-
// write is not protected by any cross-process lock; two concurrent
// writers on the same run directory race and the last writer wins.
// The manager assumes it is the only mutator of its tree.
type Manager struct {
	runsDir string
	prober  Prober
	command CommandFunc
	logger  *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithProber overrides the process liveness prober.
func WithProber(p Prober) Option {
	return func(m *Manager) { m.prober = p }
}

// WithCommand sets the command builder used by Execute.
func WithCommand(fn CommandFunc) Option {
	return func(m *Manager) { m.command = fn }
}

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates the manager for one template directory. It
// ensures the runs directory, the default run, and a valid active-run
// pointer exist: a missing or dangling pointer is repaired to the
// default run.
func NewManager(templatePath string, opts ...Option) (*Manager, error) {
	m := &Manager{
		runsDir: filepath.Join(templatePath, RunsDirName),
		prober:  OSProber{},
		command: DefaultCommand,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := os.MkdirAll(m.runsDir, 0o755); err != nil {
		return nil, fmt.Errorf("run: create runs directory: %w", err)
	}

	if !m.Has(DefaultRunID) {
		if _, err := m.Create(DefaultRunID); err != nil {
			return nil, fmt.Errorf("run: initialize default run: %w", err)
		}
	}

	active, err := os.ReadFile(m.activePath())
	if err != nil || !m.Has(strings.TrimSpace(string(active))) {
		if err := os.WriteFile(m.activePath(), []byte(DefaultRunID), 0o644); err != nil {
			return nil, fmt.Errorf("run: initialize active run pointer: %w", err)
		}
	}

	return m, nil
}

func (m *Manager) runPath(id string) string {
	return filepath.Join(m.runsDir, id)
}

func (m *Manager) activePath() string {
	return filepath.Join(m.runsDir, ActiveFileName)
}

func (m *Manager) store(id string) StatusStore {
	return NewStatusStore(m.runPath(id))
}

// Create creates a new run directory and persists a NOT_STARTED
// status. When id is empty a short unique identifier is generated.
// Returns the created run ID.
func (m *Manager) Create(id string) (string, error) {
	if id == "" {
		id = pathutil.ShortID()
	}

	path := m.runPath(id)
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("run %q: %w", id, ErrRunExists)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("run: create run %q: %w", id, err)
	}
	if err := m.store(id).Save(DefaultStatus()); err != nil {
		return "", err
	}
	return id, nil
}

// All lists the IDs of all existing runs in unspecified order.
func (m *Manager) All() ([]string, error) {
	entries, err := os.ReadDir(m.runsDir)
	if err != nil {
		return nil, fmt.Errorf("run: list runs: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}

// Has reports whether a run with the given ID exists.
func (m *Manager) Has(id string) bool {
	if id == "" {
		return false
	}
	info, err := os.Stat(m.runPath(id))
	return err == nil && info.IsDir()
}

// Active returns the currently active run ID.
func (m *Manager) Active() (string, error) {
	data, err := os.ReadFile(m.activePath())
	if err != nil {
		return "", fmt.Errorf("run: read active run pointer: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// SetActive points the active-run marker at the given run. Unknown
// run IDs are rejected with ErrRunNotFound and leave the existing
// pointer untouched.
func (m *Manager) SetActive(id string) error {
	if !m.Has(id) {
		return fmt.Errorf("run %q: %w", id, ErrRunNotFound)
	}
	if err := os.WriteFile(m.activePath(), []byte(id), 0o644); err != nil {
		return fmt.Errorf("run: write active run pointer: %w", err)
	}
	return nil
}

// Status returns the current status of the run, reconciling RUNNING
// records against actual process liveness: when the recorded PID is
// dead or absent, the run resolves to COMPLETED if the success marker
// exists under diagnostics, FAILED otherwise.
//
// The reconciled terminal state is persisted back to the status file,
// guarded by a re-load: the record is only rewritten if it is still
// RUNNING with the same PID, so a concurrent Clear is never clobbered.
// Runs that were never created report the NOT_STARTED default.
func (m *Manager) Status(id string) Status {
	store := m.store(id)
	status := store.Load()
	if status.State != StateRunning {
		return status
	}

	if status.PID != nil && m.prober.Alive(*status.PID) {
		return status
	}

	resolved := status
	if m.markerExists(id) {
		resolved.State = StateCompleted
	} else {
		resolved.State = StateFailed
	}

	current := store.Load()
	if current.State == StateRunning && samePID(current.PID, status.PID) {
		if err := store.Save(resolved); err != nil {
			m.logger.Warn("run status reconciliation not persisted",
				"run_id", id, "state", resolved.State, "error", err)
		}
	}
	return resolved
}

func samePID(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (m *Manager) markerExists(id string) bool {
	_, err := os.Stat(filepath.Join(m.runPath(id), diagDirName, markerFileName))
	return err == nil
}

// Execute launches the run's subprocess. The run must exist and its
// reconciled state must be NOT_STARTED. Standard output and error are
// captured to diagnostics/execution.log, the working directory is the
// run directory, and key/value pairs from config/.env override the
// inherited environment. The launch is fire-and-forget: Execute
// returns as soon as the process has started.
//
// When id is empty the active run is executed. A failed launch leaves
// the run in FAILED with the error recorded, and returns an error
// wrapping ErrSpawn.
func (m *Manager) Execute(id string) error {
	id, err := m.resolveRunID(id)
	if err != nil {
		return err
	}

	status := m.Status(id)
	if status.State != StateNotStarted {
		return fmt.Errorf("run %q: state is %s, expected %s: %w",
			id, status.State, StateNotStarted, ErrInvalidState)
	}

	runDir := m.runPath(id)
	diagDir := filepath.Join(runDir, diagDirName)
	if err := os.MkdirAll(diagDir, 0o755); err != nil {
		return fmt.Errorf("run: create diagnostics directory: %w", err)
	}

	argv, err := m.command(runDir)
	if err != nil {
		return fmt.Errorf("run %q: build command: %w", id, err)
	}
	if len(argv) == 0 {
		return fmt.Errorf("run %q: build command: empty argument vector", id)
	}

	env, err := m.processEnv(runDir)
	if err != nil {
		return err
	}

	logFile, err := os.OpenFile(filepath.Join(diagDir, logFileName),
		os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("run: open execution log: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = runDir
	cmd.Env = env
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = detachedProcAttr()

	if err := cmd.Start(); err != nil {
		msg := err.Error()
		if saveErr := m.store(id).Save(Status{State: StateFailed, Message: &msg}); saveErr != nil {
			m.logger.Error("failed to record launch failure", "run_id", id, "error", saveErr)
		}
		return fmt.Errorf("run %q: %w: %s", id, ErrSpawn, msg)
	}

	pid := cmd.Process.Pid

	// Reap the child in the background so a finished process doesn't
	// linger as a zombie and defeat the liveness probe. The manager
	// never blocks on, or inspects, the exit status; completion is
	// inferred from liveness plus the success marker.
	go func() { _ = cmd.Wait() }()

	if err := m.store(id).Save(Status{State: StateRunning, PID: &pid}); err != nil {
		return err
	}

	m.logger.Info("run started", "run_id", id, "pid", pid)
	return nil
}

// processEnv merges the inherited environment with the run's optional
// config/.env file. File values win for keys present in both; all
// other inherited variables pass through unchanged.
func (m *Manager) processEnv(runDir string) ([]string, error) {
	envPath := filepath.Join(runDir, configDirName, envFileName)
	if _, err := os.Stat(envPath); err != nil {
		return os.Environ(), nil
	}

	overrides, err := godotenv.Read(envPath)
	if err != nil {
		return nil, fmt.Errorf("run: read %s: %w", envPath, err)
	}

	merged := make(map[string]string)
	for _, kv := range os.Environ() {
		if key, value, ok := strings.Cut(kv, "="); ok {
			merged[key] = value
		}
	}
	for key, value := range overrides {
		merged[key] = value
	}

	env := make([]string, 0, len(merged))
	for key, value := range merged {
		env = append(env, key+"="+value)
	}
	return env, nil
}

// Clear wipes the run directory back to a pristine NOT_STARTED state,
// removing everything except the status record itself. A run whose
// reconciled state is RUNNING cannot be cleared; the process must be
// terminated externally first.
//
// When id is empty the active run is cleared.
func (m *Manager) Clear(id string) error {
	id, err := m.resolveRunID(id)
	if err != nil {
		return err
	}

	status := m.Status(id)
	if status.State == StateRunning {
		return fmt.Errorf("run %q: cannot clear while running: %w", id, ErrInvalidState)
	}

	runDir := m.runPath(id)
	entries, err := os.ReadDir(runDir)
	if err != nil {
		return fmt.Errorf("run: read run directory: %w", err)
	}
	for _, entry := range entries {
		if entry.Name() == statusFileName {
			continue
		}
		if err := os.RemoveAll(filepath.Join(runDir, entry.Name())); err != nil {
			return fmt.Errorf("run: clear %s: %w", entry.Name(), err)
		}
	}

	return m.store(id).Save(DefaultStatus())
}

// resolveRunID substitutes the active run for an empty ID and checks
// existence.
func (m *Manager) resolveRunID(id string) (string, error) {
	if id == "" {
		active, err := m.Active()
		if err != nil {
			return "", err
		}
		id = active
	}
	if !m.Has(id) {
		return "", fmt.Errorf("run %q: %w", id, ErrRunNotFound)
	}
	return id, nil
}
