package storage

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Store is a sandboxed view of a directory tree. Every operation resolves
// its relative path first and rejects anything that would land outside the
// base root; the check is lexical and happens before any I/O.
//
// A Store obtained via Scoped keeps the original base root, so a scoped
// view can never widen its own boundary.
type Store struct {
	root string // directory this view reads and writes under
	base string // original sandbox root the containment check runs against
}

// New creates a sandbox rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving sandbox root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating sandbox root: %w", err)
	}
	return &Store{root: abs, base: abs}, nil
}

// Root returns the absolute directory this view operates under.
func (s *Store) Root() string { return s.root }

// Resolve maps rel onto an absolute path under the view's directory and
// verifies the result stays inside the original base root. Absolute inputs
// and traversal sequences that break out are rejected with ErrPathEscape.
func (s *Store) Resolve(rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, rel)
	}
	abs := filepath.Join(s.root, filepath.Clean(rel))
	if abs != s.base && !strings.HasPrefix(abs, s.base+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, rel)
	}
	return abs, nil
}

// Scoped returns a view rooted at a contained subdirectory. The returned
// Store still validates against the original base root.
func (s *Store) Scoped(subdir string) (*Store, error) {
	abs, err := s.Resolve(subdir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating scoped dir: %w", err)
	}
	return &Store{root: abs, base: s.base}, nil
}

// AllocateUniqueName generates a random file name (128 bits of entropy as
// hex) not present under the view at call time. Callers racing on creation
// are settled by CreateExclusive.
func (s *Store) AllocateUniqueName(ext string) (string, error) {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	for {
		buf := make([]byte, 16)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generating file name: %w", err)
		}
		name := hex.EncodeToString(buf) + ext
		ok, err := s.Exists(name)
		if err != nil {
			return "", err
		}
		if !ok {
			return name, nil
		}
	}
}

// Save writes the reader's content to rel, creating parent directories as
// needed, and returns the absolute path written.
func (s *Store) Save(rel string, r io.Reader) (string, error) {
	abs, err := s.Resolve(rel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("creating parent dir: %w", err)
	}
	f, err := os.Create(abs)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", rel, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return "", fmt.Errorf("writing %s: %w", rel, err)
	}
	return abs, nil
}

// CreateExclusive opens rel for writing, failing with ErrAlreadyExists if
// the file is already present. Used by stages whose outputs must refuse a
// second run rather than silently overwrite.
func (s *Store) CreateExclusive(rel string) (*os.File, error) {
	abs, err := s.Resolve(rel)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("creating parent dir: %w", err)
	}
	f, err := os.OpenFile(abs, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, rel)
		}
		return nil, fmt.Errorf("creating %s: %w", rel, err)
	}
	return f, nil
}

// Open returns a reader over rel.
func (s *Store) Open(rel string) (io.ReadCloser, error) {
	abs, err := s.Resolve(rel)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, rel)
		}
		return nil, fmt.Errorf("opening %s: %w", rel, err)
	}
	return f, nil
}

// ReadFile returns rel's content in one call.
func (s *Store) ReadFile(rel string) ([]byte, error) {
	r, err := s.Open(rel)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Delete removes rel.
func (s *Store) Delete(rel string) error {
	abs, err := s.Resolve(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, rel)
		}
		return fmt.Errorf("deleting %s: %w", rel, err)
	}
	return nil
}

// Exists reports whether rel is present.
func (s *Store) Exists(rel string) (bool, error) {
	abs, err := s.Resolve(rel)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(abs); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", rel, err)
	}
	return true, nil
}

// ListDir returns the entries directly under rel ("." for the view root).
func (s *Store) ListDir(rel string) ([]fs.DirEntry, error) {
	abs, err := s.Resolve(rel)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, rel)
		}
		return nil, fmt.Errorf("listing %s: %w", rel, err)
	}
	return entries, nil
}
