package util

import (
	"regexp"
	"slices"
	"strings"
)

// MaskedPath replaces filesystem paths in text shown to API callers.
const MaskedPath = "[hidden]"

// pathEnd is the set of characters that end a path in diagnostic text.
const pathEnd = `\s'":,;()`

var (
	homePath = regexp.MustCompile(`/home/[^` + pathEnd + `]*`)
	// Any other absolute path, when it starts a word.
	absPath = regexp.MustCompile(`(^|[\s'"=:,;(\[])/[^` + pathEnd + `]+`)
)

// PathMasker hides filesystem locations in command diagnostics.
type PathMasker struct {
	patterns []*regexp.Regexp
}

// NewPathMasker masks the given roots, every path under /home and any other
// absolute path. Empty and relative roots are ignored.
func NewPathMasker(roots ...string) *PathMasker {
	roots = slices.Clone(roots)
	// Longer roots first so nested directories are masked as a whole.
	slices.SortFunc(roots, func(a, b string) int { return len(b) - len(a) })

	m := &PathMasker{}
	for _, r := range roots {
		r = strings.TrimRight(r, "/")
		if r == "" || !strings.HasPrefix(r, "/") {
			continue
		}
		// The root must end at a separator or the end of the path, so
		// /srv/out does not swallow the front of /srv/outer.
		m.patterns = append(m.patterns,
			regexp.MustCompile(regexp.QuoteMeta(r)+`(?:/[^`+pathEnd+`]*)?([`+pathEnd+`]|$)`))
	}
	return m
}

// Mask returns s with every matching path replaced by MaskedPath.
func (m *PathMasker) Mask(s string) string {
	for _, p := range m.patterns {
		s = p.ReplaceAllString(s, MaskedPath+"${1}")
	}
	s = homePath.ReplaceAllString(s, MaskedPath)
	return absPath.ReplaceAllString(s, "${1}"+MaskedPath)
}
