// Package artifact lists and safely resolves generated client bundle files
// inside a single root directory.
package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// DefaultExtension is the suffix of OpenVPN client bundles.
const DefaultExtension = ".ovpn"

var (
	// ErrInvalidReference is returned when a file name cannot denote a
	// bundle inside the root: wrong extension, separators, traversal.
	ErrInvalidReference = errors.New("invalid artifact reference")
	// ErrNotFound is returned when a valid reference names no file.
	ErrNotFound = errors.New("artifact not found")
)

// Store enumerates bundle files in Root. It holds no mutable state; every
// call reads the directory again.
type Store struct {
	root       string
	ext        string
	maxEntries int
}

// Option configures a Store.
type Option func(*Store)

// WithExtension overrides the bundle extension (matched case-insensitively).
func WithExtension(ext string) Option {
	return func(s *Store) {
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		s.ext = strings.ToLower(ext)
	}
}

// WithMaxEntries caps how many bundles List returns. The cap applies after
// sorting, so the newest bundles are the ones kept. Zero means no cap.
func WithMaxEntries(n int) Option {
	return func(s *Store) {
		s.maxEntries = n
	}
}

// New returns a Store rooted at root. The root is made absolute and cleaned
// once here so that Resolve compares against a stable prefix.
func New(root string, opts ...Option) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("artifact root must not be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving artifact root: %w", err)
	}
	s := &Store{root: abs, ext: DefaultExtension}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the absolute root directory.
func (s *Store) Root() string {
	return s.root
}

// Extension returns the lower-case bundle extension.
func (s *Store) Extension() string {
	return s.ext
}

// List returns bundle file names in descending case-insensitive order, so
// time-prefixed or numbered names surface newest first whatever their
// casing. Names that differ only in case fall back to byte order. Symlinks
// are not bundles. A missing or unreadable root yields an empty slice.
func (s *Store) List() []string {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return []string{}
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if !s.hasExtension(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	slices.SortFunc(names, func(a, b string) int {
		if c := strings.Compare(strings.ToLower(b), strings.ToLower(a)); c != 0 {
			return c
		}
		return strings.Compare(b, a)
	})
	if s.maxEntries > 0 && len(names) > s.maxEntries {
		names = names[:s.maxEntries]
	}
	return names
}

// ListForOwner returns the bundles whose lower-case name starts with the
// lower-case identifier, in List order.
func (s *Store) ListForOwner(identifier string) []string {
	prefix := strings.ToLower(identifier)
	out := []string{}
	for _, name := range s.List() {
		if strings.HasPrefix(strings.ToLower(name), prefix) {
			out = append(out, name)
		}
	}
	return out
}

// Newest returns the first bundle of ListForOwner.
func (s *Store) Newest(identifier string) (string, bool) {
	names := s.ListForOwner(identifier)
	if len(names) == 0 {
		return "", false
	}
	return names[0], true
}

// Resolve maps an untrusted file name to an absolute path strictly inside
// the root. Any violation returns ErrInvalidReference; callers must not try
// to reinterpret the name.
func (s *Store) Resolve(name string) (string, error) {
	if name == "" || !s.hasExtension(name) {
		return "", ErrInvalidReference
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return "", ErrInvalidReference
	}

	var full string
	if filepath.IsAbs(name) {
		full = filepath.Clean(name)
	} else {
		full = filepath.Join(s.root, name)
	}
	if !within(s.root, full) || filepath.Dir(full) != s.root {
		return "", ErrInvalidReference
	}
	return full, nil
}

// Open resolves name and opens the file for reading. Like List, it only
// serves regular files: a symlink in the root is reported as not found.
func (s *Store) Open(name string) (*os.File, fs.FileInfo, error) {
	full, err := s.Resolve(name)
	if err != nil {
		return nil, nil, err
	}
	link, err := os.Lstat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return nil, nil, fmt.Errorf("stat artifact: %w", err)
	}
	if !link.Mode().IsRegular() {
		return nil, nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return nil, nil, fmt.Errorf("opening artifact: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("stat artifact: %w", err)
	}
	// The name may have been swapped for a link since Lstat.
	if !info.Mode().IsRegular() || !os.SameFile(link, info) {
		f.Close()
		return nil, nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return f, info, nil
}

// within reports whether path lies strictly below root. The separator
// boundary matters: "/data/out-evil/x" is not inside "/data/out".
func within(root, path string) bool {
	return strings.HasPrefix(path, root+string(filepath.Separator))
}

func (s *Store) hasExtension(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), s.ext)
}
