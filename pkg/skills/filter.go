package skills

import (
	"github.com/gobwas/glob"
	"github.com/pkg/errors"
)

// FilterByAllowlist keeps the packages whose name matches at least one of the
// glob patterns (for example "pdf-*"). If the allowlist is empty, all
// packages are returned.
func FilterByAllowlist(packages []*DiscoveredPackage, allowed []string) ([]*DiscoveredPackage, error) {
	if len(allowed) == 0 {
		return packages, nil
	}

	globs := make([]glob.Glob, 0, len(allowed))
	for _, pattern := range allowed {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid skill pattern %q", pattern)
		}
		globs = append(globs, g)
	}

	var filtered []*DiscoveredPackage
	for _, p := range packages {
		for _, g := range globs {
			if g.Match(p.Manifest.Name) {
				filtered = append(filtered, p)
				break
			}
		}
	}
	return filtered, nil
}

// Enabled returns the packages that are neither disabled nor unavailable.
func Enabled(packages []*DiscoveredPackage) []*DiscoveredPackage {
	var out []*DiscoveredPackage
	for _, p := range packages {
		if !p.Disabled && !p.Unavailable {
			out = append(out, p)
		}
	}
	return out
}
