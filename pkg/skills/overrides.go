package skills

import "time"

// InstallRecord is the configuration-side record of an installed plugin.
// The installer owns the directory tree; these records only carry the
// operator's intent (most importantly the enabled flag).
type InstallRecord struct {
	URL         string    `json:"url" db:"url"`
	Ref         string    `json:"ref,omitempty" db:"ref"`
	Name        string    `json:"name" db:"name"`
	Enabled     bool      `json:"enabled" db:"enabled"`
	InstalledAt time.Time `json:"installedAt" db:"installed_at"`
}

// Overrides is the configuration input to enable/disable resolution.
type Overrides struct {
	DisabledBundled []string
	EnabledBundled  []string
	Plugins         []InstallRecord
}

// IsDisabled resolves the effective disabled state of a package. It touches
// no filesystem state.
//
//	source   | rule
//	---------+--------------------------------------------------------------
//	bundled  | disabled iff name in DisabledBundled and not in EnabledBundled
//	plugin   | disabled iff an install record for name has Enabled == false
//	others   | never disabled
func IsDisabled(source Source, name string, o Overrides) bool {
	switch source {
	case SourceBundled:
		return contains(o.DisabledBundled, name) && !contains(o.EnabledBundled, name)
	case SourcePlugin:
		for _, rec := range o.Plugins {
			if rec.Name == name {
				return !rec.Enabled
			}
		}
		return false
	default:
		return false
	}
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
