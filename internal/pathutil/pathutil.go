// Package pathutil provides filesystem-name validation, short unique
// identifiers, and recursive directory-tree listings shared by the
// template and run layers.
package pathutil

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// invalidNameChars are the characters rejected in user-supplied file or
// directory names. Matches the common cross-platform restriction set.
const invalidNameChars = `<>:"/\|?*`

// ValidName reports whether name is acceptable as a single file or
// directory name: non-empty, not "." or "..", no path separators or
// other illegal characters.
func ValidName(name string) bool {
	if strings.TrimSpace(name) == "" {
		return false
	}
	if name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, invalidNameChars)
}

// ValidateName returns an error when name is not a valid file or
// directory name.
func ValidateName(name string) error {
	if !ValidName(name) {
		return fmt.Errorf("pathutil: invalid file or directory name: %q", name)
	}
	return nil
}

// ShortIDLength is the number of characters in a generated short ID.
const ShortIDLength = 8

// ShortID generates a short, filesystem-safe, reasonably unique
// identifier for use in file and directory names.
func ShortID() string {
	buf := make([]byte, 9)
	_, _ = rand.Read(buf)
	encoded := base64.RawURLEncoding.EncodeToString(buf)
	return encoded[:ShortIDLength]
}

// EntryType distinguishes files from directories in a tree listing.
type EntryType string

const (
	EntryFile      EntryType = "file"
	EntryDirectory EntryType = "directory"
)

// Entry is one node of a directory tree listing. Directory entries
// carry their children recursively; file entries carry their size.
type Entry struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Type     EntryType `json:"type"`
	Size     int64     `json:"size,omitempty"`
	Children []Entry   `json:"children,omitempty"`
}

// Tree returns the directory structure rooted at path. Paths in the
// result are relative to base and use forward slashes. When skipRoot is
// true only the children of path are returned (empty for a file).
func Tree(path, base string, skipRoot bool) ([]Entry, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("pathutil: stat %s: %w", path, err)
	}

	if !info.IsDir() {
		if skipRoot {
			return []Entry{}, nil
		}
		e, err := fileEntry(path, base, info)
		if err != nil {
			return nil, err
		}
		return []Entry{e}, nil
	}

	dir, err := dirEntry(path, base)
	if err != nil {
		return nil, err
	}
	if skipRoot {
		return dir.Children, nil
	}
	return []Entry{dir}, nil
}

func relPath(path, base string) (string, error) {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return "", fmt.Errorf("pathutil: relativize %s: %w", path, err)
	}
	return filepath.ToSlash(rel), nil
}

func fileEntry(path, base string, info os.FileInfo) (Entry, error) {
	rel, err := relPath(path, base)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		Name: info.Name(),
		Path: rel,
		Type: EntryFile,
		Size: info.Size(),
	}, nil
}

func dirEntry(path, base string) (Entry, error) {
	rel, err := relPath(path, base)
	if err != nil {
		return Entry{}, err
	}
	entry := Entry{
		Name:     filepath.Base(path),
		Path:     rel,
		Type:     EntryDirectory,
		Children: []Entry{},
	}

	items, err := os.ReadDir(path)
	if err != nil {
		return Entry{}, fmt.Errorf("pathutil: read dir %s: %w", path, err)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name() < items[j].Name() })

	for _, item := range items {
		childPath := filepath.Join(path, item.Name())
		if item.IsDir() {
			child, err := dirEntry(childPath, base)
			if err != nil {
				return Entry{}, err
			}
			entry.Children = append(entry.Children, child)
			continue
		}
		info, err := item.Info()
		if err != nil {
			return Entry{}, fmt.Errorf("pathutil: stat %s: %w", childPath, err)
		}
		child, err := fileEntry(childPath, base, info)
		if err != nil {
			return Entry{}, err
		}
		entry.Children = append(entry.Children, child)
	}
	return entry, nil
}

// SafeJoin joins rel onto root and verifies the result stays inside
// root, guarding against path traversal in user-supplied paths.
func SafeJoin(root, rel string) (string, error) {
	cleaned := filepath.Clean(filepath.Join(root, filepath.FromSlash(rel)))
	if cleaned != root && !strings.HasPrefix(cleaned, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("pathutil: path escapes root: %q", rel)
	}
	return cleaned, nil
}
