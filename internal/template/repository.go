package template

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/loomworks/loom/internal/archive"
	"github.com/loomworks/loom/internal/gitrepo"
	"github.com/loomworks/loom/internal/pathutil"
)

// Repository manages the local template library, a git working tree
// whose top-level directories are templates.
type Repository struct {
	root   string
	logger *slog.Logger
}

// NewRepository opens the template library at localPath. When the path
// does not exist it is cloned from remoteURL, or initialized as an
// empty git repository when no remote is configured.
func NewRepository(ctx context.Context, localPath, remoteURL string, logger *slog.Logger) (*Repository, error) {
	if localPath == "" {
		return nil, fmt.Errorf("template: repository path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	root, err := filepath.Abs(localPath)
	if err != nil {
		return nil, fmt.Errorf("template: resolve repository path: %w", err)
	}

	if _, err := os.Stat(root); os.IsNotExist(err) {
		if remoteURL != "" {
			logger.Info("cloning template repository", "remote", remoteURL, "path", root)
			if _, err := gitrepo.Clone(ctx, remoteURL, root); err != nil {
				return nil, fmt.Errorf("template: clone repository: %w", err)
			}
		} else {
			logger.Info("initializing empty template repository", "path", root)
			if _, err := gitrepo.Init(root); err != nil {
				return nil, fmt.Errorf("template: init repository: %w", err)
			}
		}
	} else if err != nil {
		return nil, fmt.Errorf("template: stat repository path: %w", err)
	}

	return &Repository{root: root, logger: logger}, nil
}

// Root returns the absolute path of the template library.
func (r *Repository) Root() string { return r.root }

// Git opens the library's git repository.
func (r *Repository) Git() (*gitrepo.Repo, error) {
	repo, err := gitrepo.Open(r.root)
	if err != nil {
		return nil, fmt.Errorf("template: open git repository: %w", err)
	}
	return repo, nil
}

// List returns all valid templates, in directory order. Directories
// without a manifest are skipped.
func (r *Repository) List() ([]*Template, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return nil, fmt.Errorf("template: read repository: %w", err)
	}

	var templates []*Template
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		t := &Template{path: filepath.Join(r.root, entry.Name())}
		if t.valid() {
			templates = append(templates, t)
		}
	}
	return templates, nil
}

// Get returns the template with the given ID.
func (r *Repository) Get(id string) (*Template, error) {
	if !pathutil.ValidName(id) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidName, id)
	}
	path := filepath.Join(r.root, id)
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}
	return &Template{path: path}, nil
}

// Create builds a new template from an uploaded zip archive. The new
// ID is derived from the archive file name plus a short unique suffix.
func (r *Repository) Create(filename string, data []byte) (*Template, error) {
	stem := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	if !pathutil.ValidName(stem) {
		stem = "template"
	}
	id := fmt.Sprintf("%s_%s", stem, pathutil.ShortID())

	path := filepath.Join(r.root, id)
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrTemplateExists, id)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("template: create %s: %w", id, err)
	}
	if err := archive.ExtractZip(data, path); err != nil {
		_ = os.RemoveAll(path)
		return nil, fmt.Errorf("template: extract %s: %w", id, err)
	}

	r.logger.Info("template created", "template", id, "source", filename)
	return &Template{path: path}, nil
}

// Rename moves a template to a new ID and returns the renamed
// template.
func (r *Repository) Rename(id, newID string) (*Template, error) {
	if !pathutil.ValidName(newID) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidName, newID)
	}
	t, err := r.Get(id)
	if err != nil {
		return nil, err
	}

	dest := filepath.Join(r.root, newID)
	if _, err := os.Stat(dest); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrTemplateExists, newID)
	}
	if err := os.Rename(t.path, dest); err != nil {
		return nil, fmt.Errorf("template: rename %s: %w", id, err)
	}

	r.logger.Info("template renamed", "template", id, "new_id", newID)
	return &Template{path: dest}, nil
}

// Duplicate copies a template under a derived ID of the form
// <id>_copy_<shortid>.
func (r *Repository) Duplicate(id string) (*Template, error) {
	t, err := r.Get(id)
	if err != nil {
		return nil, err
	}

	newID := fmt.Sprintf("%s_copy_%s", id, pathutil.ShortID())
	dest := filepath.Join(r.root, newID)
	if _, err := os.Stat(dest); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrTemplateExists, newID)
	}
	if err := copyDir(t.path, dest); err != nil {
		_ = os.RemoveAll(dest)
		return nil, fmt.Errorf("template: duplicate %s: %w", id, err)
	}

	r.logger.Info("template duplicated", "template", id, "new_id", newID)
	return &Template{path: dest}, nil
}

// Delete removes a template directory entirely.
func (r *Repository) Delete(id string) error {
	t, err := r.Get(id)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(t.path); err != nil {
		return fmt.Errorf("template: delete %s: %w", id, err)
	}
	r.logger.Info("template deleted", "template", id)
	return nil
}

func copyDir(src, dest string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
}
