// Package storage keeps uploaded property media on the local disk under the media root.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var ErrOutsideRoot = errors.New("path escapes media root")

type Local struct {
	Root string
}

func NewLocal(root string) *Local {
	return &Local{Root: root}
}

// Save writes r to dir/<uuid><ext> and returns the path relative to Root.
// ext is taken from the original filename so stored names never collide.
func (l *Local) Save(dir, filename string, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	rel := filepath.ToSlash(filepath.Join(dir, uuid.NewString()+ext))

	full, err := l.Path(rel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("could not create media dir: %w", err)
	}

	f, err := os.Create(full)
	if err != nil {
		return "", fmt.Errorf("could not create media file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		_ = os.Remove(full)
		return "", fmt.Errorf("could not write media file: %w", err)
	}
	return rel, nil
}

// Path resolves rel under Root.
func (l *Local) Path(rel string) (string, error) {
	full := filepath.Join(l.Root, filepath.FromSlash(rel))
	root, err := filepath.Abs(l.Root)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(full)
	if err != nil {
		return "", err
	}
	if abs != root && !strings.HasPrefix(abs, root+string(os.PathSeparator)) {
		return "", ErrOutsideRoot
	}
	return full, nil
}

// Delete removes rel; a missing file is not an error.
func (l *Local) Delete(rel string) error {
	full, err := l.Path(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("could not delete media file: %w", err)
	}
	return nil
}

// Exists reports whether rel is present on disk.
func (l *Local) Exists(rel string) bool {
	full, err := l.Path(rel)
	if err != nil {
		return false
	}
	_, err = os.Stat(full)
	return err == nil
}
