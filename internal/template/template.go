// Package template manages a git-backed library of runnable template
// bundles.
//
// Each template is a directory at the repository root:
//
//	<id>/
//	  source/           the template payload
//	    meta.yaml       manifest (title, description, tags)
//	    variables.yaml  user-settable parameters, optional
//	  runs/             run slots, managed by the run package
//
// A directory without source/meta.yaml is not a template and is ignored
// by listings.
package template

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/loomworks/loom/internal/archive"
	"github.com/loomworks/loom/internal/model"
	"github.com/loomworks/loom/internal/pathutil"
	"github.com/loomworks/loom/internal/run"
)

const (
	sourceDirName     = "source"
	metaFileName      = "meta.yaml"
	variablesFileName = "variables.yaml"
)

// Template is a single template directory. The zero value is not
// usable; obtain instances from a Repository.
type Template struct {
	path string
}

// ID returns the template identifier, which is its directory name.
func (t *Template) ID() string { return filepath.Base(t.path) }

// Path returns the absolute template directory.
func (t *Template) Path() string { return t.path }

func (t *Template) metaPath() string {
	return filepath.Join(t.path, sourceDirName, metaFileName)
}

func (t *Template) variablesPath() string {
	return filepath.Join(t.path, sourceDirName, variablesFileName)
}

// valid reports whether the directory carries a manifest.
func (t *Template) valid() bool {
	info, err := os.Stat(t.metaPath())
	return err == nil && info.Mode().IsRegular()
}

// Info parses and returns the template manifest.
func (t *Template) Info() (model.Metadata, error) {
	data, err := os.ReadFile(t.metaPath())
	if err != nil {
		return model.Metadata{}, fmt.Errorf("template %q: read manifest: %w", t.ID(), err)
	}
	var meta model.Metadata
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return model.Metadata{}, fmt.Errorf("template %q: parse manifest: %w", t.ID(), err)
	}
	return meta, nil
}

// Variables parses source/variables.yaml. A missing file yields an
// empty list; a malformed one is an error.
func (t *Template) Variables() (model.Variables, error) {
	data, err := os.ReadFile(t.variablesPath())
	if err != nil {
		if os.IsNotExist(err) {
			return model.Variables{}, nil
		}
		return nil, fmt.Errorf("template %q: read variables: %w", t.ID(), err)
	}
	var vars model.Variables
	if err := yaml.Unmarshal(data, &vars); err != nil {
		return nil, fmt.Errorf("template %q: parse variables: %w", t.ID(), err)
	}
	vars.Normalize()
	return vars, nil
}

// UpdateVariables sets the current values of the named variables and
// persists variables.yaml. Names with no declared variable are ignored.
func (t *Template) UpdateVariables(values map[string]any) (model.Variables, error) {
	vars, err := t.Variables()
	if err != nil {
		return nil, err
	}
	vars.Update(values)

	data, err := yaml.Marshal(vars)
	if err != nil {
		return nil, fmt.Errorf("template %q: encode variables: %w", t.ID(), err)
	}
	if err := os.WriteFile(t.variablesPath(), data, 0o644); err != nil {
		return nil, fmt.Errorf("template %q: write variables: %w", t.ID(), err)
	}
	return vars, nil
}

// Tree returns the template's file tree rooted at rel ("" for the
// whole template).
func (t *Template) Tree(rel string) ([]pathutil.Entry, error) {
	target, err := pathutil.SafeJoin(t.path, rel)
	if err != nil {
		return nil, fmt.Errorf("template %q: %w: %s", t.ID(), ErrInvalidName, rel)
	}
	entries, err := pathutil.Tree(target, t.path, rel == "")
	if err != nil {
		return nil, fmt.Errorf("template %q: tree: %w", t.ID(), err)
	}
	return entries, nil
}

// WriteFile stores content at the repository-relative path rel,
// creating parent directories as needed.
func (t *Template) WriteFile(rel string, content io.Reader) error {
	target, err := pathutil.SafeJoin(t.path, rel)
	if err != nil {
		return fmt.Errorf("template %q: %w: %s", t.ID(), ErrInvalidName, rel)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("template %q: write %s: %w", t.ID(), rel, err)
	}
	f, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("template %q: write %s: %w", t.ID(), rel, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, content); err != nil {
		return fmt.Errorf("template %q: write %s: %w", t.ID(), rel, err)
	}
	return f.Close()
}

// ReadFile returns the content of the file at rel.
func (t *Template) ReadFile(rel string) ([]byte, error) {
	target, err := pathutil.SafeJoin(t.path, rel)
	if err != nil {
		return nil, fmt.Errorf("template %q: %w: %s", t.ID(), ErrInvalidName, rel)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return nil, fmt.Errorf("template %q: read %s: %w", t.ID(), rel, err)
	}
	return data, nil
}

// RemovePath deletes the file or directory at rel.
func (t *Template) RemovePath(rel string) error {
	if rel == "" {
		return fmt.Errorf("template %q: %w: empty path", t.ID(), ErrInvalidName)
	}
	target, err := pathutil.SafeJoin(t.path, rel)
	if err != nil {
		return fmt.Errorf("template %q: %w: %s", t.ID(), ErrInvalidName, rel)
	}
	if _, err := os.Stat(target); err != nil {
		return fmt.Errorf("template %q: remove %s: %w", t.ID(), rel, err)
	}
	return os.RemoveAll(target)
}

// RenamePath renames the entry at rel to newName within the same
// directory.
func (t *Template) RenamePath(rel, newName string) error {
	if err := pathutil.ValidateName(newName); err != nil {
		return fmt.Errorf("template %q: %w: %s", t.ID(), ErrInvalidName, newName)
	}
	target, err := pathutil.SafeJoin(t.path, rel)
	if err != nil {
		return fmt.Errorf("template %q: %w: %s", t.ID(), ErrInvalidName, rel)
	}
	dest := filepath.Join(filepath.Dir(target), newName)
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("template %q: rename %s: %w", t.ID(), rel, os.ErrExist)
	}
	return os.Rename(target, dest)
}

// Zip writes the whole template directory as a zip archive to w.
func (t *Template) Zip(w io.Writer) error {
	if err := archive.ZipDirectory(w, t.path); err != nil {
		return fmt.Errorf("template %q: zip: %w", t.ID(), err)
	}
	return nil
}

// Runs returns the run manager for this template, initializing the
// runs directory if needed.
func (t *Template) Runs(opts ...run.Option) (*run.Manager, error) {
	return run.NewManager(t.path, opts...)
}
