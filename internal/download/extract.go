package download

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/tphakala/nutrigraph/internal/errors"
)

// Extract unpacks the zip at archive into dir and returns the number of
// files written. Entries are staged in a sibling directory that replaces
// dir only once every entry is written, so an interrupted extraction never
// leaves a half-filled dir behind.
func Extract(archive, dir string) (int, error) {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return 0, extractError(err, archive)
	}
	defer r.Close()

	staging := dir + ".extracting"
	if err := os.RemoveAll(staging); err != nil {
		return 0, extractError(err, staging)
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return 0, extractError(err, staging)
	}

	files := 0
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		target, err := entryPath(staging, f.Name)
		if err != nil {
			_ = os.RemoveAll(staging)
			return 0, extractError(err, archive)
		}
		if err := writeEntry(f, target); err != nil {
			_ = os.RemoveAll(staging)
			return 0, extractError(err, target)
		}
		files++
	}

	if err := os.RemoveAll(dir); err != nil {
		return 0, extractError(err, dir)
	}
	if err := os.Rename(staging, dir); err != nil {
		return 0, extractError(err, dir)
	}
	return files, nil
}

// entryPath resolves an archive entry under root, rejecting names that
// would escape it
func entryPath(root, name string) (string, error) {
	target := filepath.Join(root, filepath.FromSlash(name))
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("archive entry %q escapes the extraction directory", name)
	}
	return target, nil
}

func writeEntry(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func extractError(err error, path string) error {
	return errors.New(err).
		Component("download").
		Category(errors.CategoryFileIO).
		Context("operation", "extract").
		FileContext(path).
		Build()
}
