// Package skills implements the skill package format: validation of the
// SKILL.md manifest header, parsing of a package into manifest and body, and
// discovery of packages across the bundled, user, compat, project and plugin
// source roots.
//
// A skill package is a directory containing a SKILL.md file that starts with
// a YAML header delimited by "---" lines, followed by free-form instructions:
//
//	---
//	name: pdf-tools
//	description: Extract text and tables from PDF files.
//	allowed-tools: Bash Read
//	---
//
//	# PDF tools
//	...
//
// Optional resource files live under scripts/, references/ and assets/ next
// to SKILL.md and are served on demand by the disclosure package.
package skills

// FileName is the package definition file expected in every skill directory.
const FileName = "SKILL.md"

// Source identifies where a discovered package came from.
type Source string

// Sources in fixed discovery order.
const (
	SourceBundled Source = "bundled"
	SourceUser    Source = "user"
	SourceCompat  Source = "compat"
	SourceProject Source = "project"
	SourcePlugin  Source = "plugin"
)

// SourceOrder is the order in which source roots are scanned and presented.
var SourceOrder = []Source{SourceBundled, SourceUser, SourceCompat, SourceProject, SourcePlugin}

// Package is a parsed skill: its validated manifest and the instruction body.
type Package struct {
	Manifest *Manifest
	Body     string
}

// DiscoveredPackage is a Package plus its filesystem provenance and the
// state resolved from configuration and environment checks.
type DiscoveredPackage struct {
	Package

	Path              string // absolute path to SKILL.md
	Directory         string // package root used for resource resolution
	Source            Source
	Disabled          bool
	Unavailable       bool
	UnavailableReason string
}

// Name returns the manifest name.
func (p *DiscoveredPackage) Name() string { return p.Manifest.Name }

// Description returns the manifest description.
func (p *DiscoveredPackage) Description() string { return p.Manifest.Description }

// DiscoveryResult is the output of a discovery pass. A bad package never
// fails the pass; it is reported in Errors instead.
type DiscoveryResult struct {
	Packages []*DiscoveredPackage
	Errors   []PackageError
}

// BySource groups packages by source, keeping the discovery order inside each
// group. Sources without packages are omitted.
func (r *DiscoveryResult) BySource() map[Source][]*DiscoveredPackage {
	grouped := make(map[Source][]*DiscoveredPackage)
	for _, p := range r.Packages {
		grouped[p.Source] = append(grouped[p.Source], p)
	}
	return grouped
}

// Find returns the first package with the given name in discovery order.
func (r *DiscoveryResult) Find(name string) (*DiscoveredPackage, bool) {
	for _, p := range r.Packages {
		if p.Manifest.Name == name {
			return p, true
		}
	}
	return nil, false
}
