package disclosure

import (
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Conventional resource categories inside a package directory.
const (
	CategoryScripts    = "scripts"
	CategoryReferences = "references"
	CategoryAssets     = "assets"
)

// Categories lists the conventional resource categories in display order.
var Categories = []string{CategoryScripts, CategoryReferences, CategoryAssets}

// Tier3ResourceList lists the files under category in the named package,
// recursively. Paths are slash-separated and relative to the package
// directory (for example "scripts/run.sh"), so they can be passed to
// Tier3Resource unchanged. The result is never nil; it is empty when the
// package is unknown or the category directory is missing, is not a
// directory, or resolves outside the package.
func (p *Provider) Tier3ResourceList(name, category string) []string {
	files := []string{}

	pkg, found := p.lookup(name)
	if !found {
		p.debug("skill not found", map[string]any{"skill": name})
		return files
	}

	if category == "" || category == "." || strings.ContainsAny(category, `/\`) ||
		EscapesLexically(pkg.Directory, category) {
		p.debug("rejected resource category", map[string]any{"skill": name, "category": category})
		return files
	}

	categoryDir := filepath.Join(pkg.Directory, category)
	info, err := os.Stat(categoryDir)
	if err != nil || !info.IsDir() {
		return files
	}
	if escapes, err := EscapesResolved(pkg.Directory, categoryDir); err != nil || escapes {
		p.debug("rejected resource category", map[string]any{"skill": name, "category": category, "check": "resolved"})
		return files
	}

	matches, err := doublestar.Glob(os.DirFS(categoryDir), "**", doublestar.WithFilesOnly())
	if err != nil {
		p.debug("failed to list resources", map[string]any{"skill": name, "category": category, "error": err.Error()})
		return files
	}

	for _, match := range matches {
		files = append(files, path.Join(category, match))
	}
	sort.Strings(files)
	return files
}

// ResourceCounts returns the number of files in each conventional category
// of the named package. Categories with no files are omitted.
func (p *Provider) ResourceCounts(name string) map[string]int {
	counts := make(map[string]int)
	for _, category := range Categories {
		if n := len(p.Tier3ResourceList(name, category)); n > 0 {
			counts[category] = n
		}
	}
	return counts
}
