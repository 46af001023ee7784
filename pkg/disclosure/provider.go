// Package disclosure serves skill content to an agent in three tiers:
// a token-budgeted digest of names and descriptions (tier 1), the full
// SKILL.md of one package (tier 2), and individual resource files from the
// package directory (tier 3). Tier 2 and 3 never fail loudly: a missing
// package, a missing file and a path that escapes the package directory all
// look the same to the caller.
package disclosure

import (
	"os"
	"path/filepath"

	"github.com/jingkaihe/skillkit/pkg/skills"
)

// DiagnosticFunc receives diagnostic messages with structured data.
type DiagnosticFunc func(msg string, data map[string]any)

// Provider serves a fixed snapshot of discovered packages.
type Provider struct {
	packages []*skills.DiscoveredPackage
	budget   int
	diag     DiagnosticFunc
}

// Option configures a Provider.
type Option func(*Provider)

// WithTokenBudget caps the tier 1 digest. Zero or less selects the default.
func WithTokenBudget(tokens int) Option {
	return func(p *Provider) {
		p.budget = tokens
	}
}

// WithDiagnostics installs a diagnostic callback.
func WithDiagnostics(fn DiagnosticFunc) Option {
	return func(p *Provider) {
		p.diag = fn
	}
}

// NewProvider creates a provider over packages. The slice is used as given;
// callers decide whether disabled or unavailable packages belong in it.
func NewProvider(packages []*skills.DiscoveredPackage, opts ...Option) *Provider {
	p := &Provider{
		packages: packages,
		budget:   skills.DefaultTokenBudget,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) debug(msg string, data map[string]any) {
	if p.diag != nil {
		p.diag(msg, data)
	}
}

func (p *Provider) lookup(name string) (*skills.DiscoveredPackage, bool) {
	for _, pkg := range p.packages {
		if pkg.Manifest.Name == name {
			return pkg, true
		}
	}
	return nil, false
}

// Packages returns the snapshot served by the provider.
func (p *Provider) Packages() []*skills.DiscoveredPackage {
	return p.packages
}

// Tier1 renders the digest of every package within the token budget.
func (p *Provider) Tier1() skills.Digest {
	digest := skills.BuildDigest(p.packages, p.budget)
	if digest.Truncated {
		p.debug("skill digest truncated to fit token budget", map[string]any{
			"budget":   p.budget,
			"included": digest.Included,
			"total":    digest.Total,
		})
	}
	return digest
}

// Tier2 returns the full SKILL.md text of the named package, read fresh from
// disk. ok is false if the package is unknown or cannot be read.
func (p *Provider) Tier2(name string) (string, bool) {
	pkg, found := p.lookup(name)
	if !found {
		p.debug("skill not found", map[string]any{"skill": name})
		return "", false
	}
	content, err := os.ReadFile(pkg.Path)
	if err != nil {
		p.debug("failed to read skill instructions", map[string]any{"skill": name, "path": pkg.Path, "error": err.Error()})
		return "", false
	}
	return string(content), true
}

// Tier3Resource reads one resource by path relative to the package
// directory. ok is false when the package is unknown, the path escapes the
// package directory (lexically or through symlinks), or the read fails.
func (p *Provider) Tier3Resource(name, relPath string) ([]byte, bool) {
	pkg, found := p.lookup(name)
	if !found {
		p.debug("skill not found", map[string]any{"skill": name})
		return nil, false
	}

	if relPath == "" || EscapesLexically(pkg.Directory, relPath) {
		p.debug("rejected resource path", map[string]any{"skill": name, "path": relPath, "check": "lexical"})
		return nil, false
	}

	candidate := filepath.Join(pkg.Directory, relPath)

	escapes, err := EscapesResolved(pkg.Directory, candidate)
	if err != nil {
		p.debug("failed to resolve resource path", map[string]any{"skill": name, "path": relPath, "error": err.Error()})
		return nil, false
	}
	if escapes {
		p.debug("rejected resource path", map[string]any{"skill": name, "path": relPath, "check": "resolved"})
		return nil, false
	}

	info, err := os.Stat(candidate)
	if err != nil || !info.Mode().IsRegular() {
		p.debug("resource is not a regular file", map[string]any{"skill": name, "path": relPath})
		return nil, false
	}

	data, err := os.ReadFile(candidate)
	if err != nil {
		p.debug("failed to read resource", map[string]any{"skill": name, "path": relPath, "error": err.Error()})
		return nil, false
	}
	return data, true
}
