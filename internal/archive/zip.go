// Package archive implements ZIP packaging of template directories and
// extraction of uploaded template archives.
package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/loomworks/loom/internal/pathutil"
)

// MaxExtractBytes caps the total decompressed size of an uploaded
// archive. Protects against zip bombs.
const MaxExtractBytes = 512 << 20 // 512 MB

// ZipDirectory writes the contents of dir to w as a ZIP archive.
// Entry names are relative to dir and use forward slashes. Empty
// directories are preserved as directory entries.
func ZipDirectory(w io.Writer, dir string) error {
	zw := zip.NewWriter(w)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)

		if info.IsDir() {
			if _, err := zw.Create(name + "/"); err != nil {
				return fmt.Errorf("archive: create dir entry %s: %w", name, err)
			}
			return nil
		}

		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return fmt.Errorf("archive: header for %s: %w", name, err)
		}
		hdr.Name = name
		hdr.Method = zip.Deflate

		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("archive: create entry %s: %w", name, err)
		}
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("archive: open %s: %w", path, err)
		}
		defer f.Close()
		if _, err := io.Copy(fw, f); err != nil {
			return fmt.Errorf("archive: write entry %s: %w", name, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return zw.Close()
}

// ExtractZip unpacks the ZIP archive in data into dest. Entries that
// would escape dest are rejected. The cumulative size is capped at
// MaxExtractBytes, counted from the bytes actually written; the
// declared sizes in entry headers are never trusted.
func ExtractZip(data []byte, dest string) error {
	return extractZip(data, dest, MaxExtractBytes)
}

func extractZip(data []byte, dest string, maxBytes int64) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("archive: open zip: %w", err)
	}

	remaining := maxBytes
	for _, f := range zr.File {
		target, err := pathutil.SafeJoin(dest, f.Name)
		if err != nil {
			return fmt.Errorf("archive: unsafe entry %q: %w", f.Name, err)
		}

		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("archive: mkdir %s: %w", target, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("archive: mkdir %s: %w", filepath.Dir(target), err)
		}
		n, err := extractFile(f, target, remaining)
		if err != nil {
			return err
		}
		remaining -= n
		if remaining < 0 {
			return fmt.Errorf("archive: extracted size exceeds %d bytes", maxBytes)
		}
	}
	return nil
}

// extractFile writes at most limit+1 bytes and reports the count; the
// caller detects the over-budget case from the extra byte.
func extractFile(f *zip.File, target string, limit int64) (int64, error) {
	rc, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("archive: open entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("archive: create %s: %w", target, err)
	}
	defer out.Close()

	n, err := io.Copy(out, io.LimitReader(rc, limit+1))
	if err != nil {
		return n, fmt.Errorf("archive: extract %s: %w", f.Name, err)
	}
	return n, nil
}
