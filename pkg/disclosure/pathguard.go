package disclosure

import (
	"path/filepath"
	"strings"
)

// EscapesLexically reports whether requested, joined onto dir, points
// outside dir. requested is always treated as relative to dir, so a leading
// separator does not make it absolute. It performs no I/O, so it cannot see
// symlinks.
func EscapesLexically(dir, requested string) bool {
	dir = filepath.Clean(dir)
	return outside(dir, filepath.Join(dir, requested))
}

// EscapesResolved resolves symlinks in both dir and candidate and reports
// whether the real candidate lies outside the real dir. It catches resources
// that are symlinks to files elsewhere. Resolution failures (for example a
// missing file) are returned as errors.
func EscapesResolved(dir, candidate string) (bool, error) {
	realDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return true, err
	}
	realCandidate, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		return true, err
	}
	return outside(realDir, realCandidate), nil
}

func outside(base, target string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return true
	}
	return rel == ".." ||
		strings.HasPrefix(rel, ".."+string(filepath.Separator)) ||
		filepath.IsAbs(rel)
}
