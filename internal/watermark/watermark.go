// Package watermark persists the last fully processed revision of a log.
//
// The watermark lives inside the log's own working copy as a single-line
// file so that it is committed and shared together with the work it
// describes.
package watermark

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultFile is the watermark file name at the root of each log.
const DefaultFile = "last_processed_commit.sha"

// Store loads and saves watermarks. Implementations must make Save atomic:
// a concurrent reader sees either the old or the new revision, never a
// partial write.
type Store interface {
	// Load returns the stored revision and whether one exists.
	Load(ctx context.Context) (rev string, ok bool, err error)

	// Save replaces the stored revision.
	Save(ctx context.Context, rev string) error

	// Clear removes the stored revision.
	Clear(ctx context.Context) error

	// Path is the working-copy relative path of the watermark file, for
	// staging.
	Path() string
}

// FileStore keeps the watermark in a file at the root of a working copy.
type FileStore struct {
	dir  string
	name string
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a store for dir/name. An empty name uses DefaultFile.
func NewFileStore(dir, name string) *FileStore {
	if name == "" {
		name = DefaultFile
	}
	return &FileStore{dir: dir, name: name}
}

func (s *FileStore) Path() string { return s.name }

func (s *FileStore) full() string { return filepath.Join(s.dir, s.name) }

// Load reads the first line of the watermark file. A missing or blank file
// reports ok=false.
func (s *FileStore) Load(ctx context.Context) (string, bool, error) {
	data, err := os.ReadFile(s.full())
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load watermark %s: %w", s.full(), err)
	}
	line, _, _ := strings.Cut(string(data), "\n")
	line = strings.TrimSpace(line)
	if line == "" {
		return "", false, nil
	}
	return line, true, nil
}

// Save writes rev through a temporary file and renames it into place.
func (s *FileStore) Save(ctx context.Context, rev string) error {
	if strings.ContainsAny(rev, "\r\n") || strings.TrimSpace(rev) == "" {
		return fmt.Errorf("save watermark: invalid revision %q", rev)
	}
	tmp, err := os.CreateTemp(s.dir, "."+s.name+".*")
	if err != nil {
		return fmt.Errorf("save watermark: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.WriteString(rev + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("save watermark: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("save watermark: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save watermark: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.full()); err != nil {
		return fmt.Errorf("save watermark: %w", err)
	}
	return nil
}

// Restore puts a previously loaded state back: rev when ok, otherwise the
// file is removed.
func Restore(ctx context.Context, s Store, rev string, ok bool) error {
	if ok {
		return s.Save(ctx, rev)
	}
	return s.Clear(ctx)
}

func (s *FileStore) Clear(ctx context.Context) error {
	if err := os.Remove(s.full()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear watermark: %w", err)
	}
	return nil
}
