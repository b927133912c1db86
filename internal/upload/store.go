// Package upload writes probe images to scratch storage.
package upload

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Probe describes a stored probe image.
type Probe struct {
	Key          string
	Path         string
	OriginalName string
	ReceivedAt   time.Time
	Size         int64
}

// Store writes uploads into a single scratch directory.
type Store struct {
	dir string
	now func() time.Time
}

// NewStore resolves dir to an absolute path; the directory itself is
// created lazily on the first Save.
func NewStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("upload directory required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve upload directory: %w", err)
	}
	return &Store{dir: abs, now: time.Now}, nil
}

// Dir returns the absolute scratch directory.
func (s *Store) Dir() string { return s.dir }

// Save writes r under "{unixMillis}_{name}". Nothing about the content is
// validated.
func (s *Store) Save(originalName string, r io.Reader) (Probe, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return Probe{}, fmt.Errorf("create upload directory: %w", err)
	}

	received := s.now()
	name := sanitizeName(originalName)
	stamp := strconv.FormatInt(received.UnixMilli(), 10)

	key := stamp + "_" + name
	f, err := os.OpenFile(filepath.Join(s.dir, key), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, os.ErrExist) {
		key = stamp + "_" + uuid.NewString()[:8] + "_" + name
		f, err = os.OpenFile(filepath.Join(s.dir, key), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	}
	if err != nil {
		return Probe{}, fmt.Errorf("create probe file: %w", err)
	}

	path := f.Name()
	written, err := io.Copy(f, r)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return Probe{}, fmt.Errorf("write probe file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return Probe{}, fmt.Errorf("close probe file: %w", err)
	}

	return Probe{
		Key:          key,
		Path:         path,
		OriginalName: originalName,
		ReceivedAt:   received,
		Size:         written,
	}, nil
}

func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == "/" || name == "" {
		return "probe"
	}
	return name
}
