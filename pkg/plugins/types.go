// Package plugins manages skill packages installed from remote git
// repositories. A plugin is a clone under the plugins root whose directory
// name matches the name declared in its SKILL.md. The installer is the only
// writer of those directories: it clones, renames, pulls and deletes them,
// and rolls back any install that fails part way.
package plugins

import (
	"fmt"
	"time"
)

const gitDir = ".git"

// InstallResult reports the outcome of an install. Failures are described
// by Error, a message meant for the operator.
type InstallResult struct {
	Success   bool   `json:"success"`
	SkillName string `json:"skill_name,omitempty"`
	Path      string `json:"path,omitempty"`
	Error     string `json:"error,omitempty"`
}

// UpdateResult reports the outcome of an update. Updated is true only when
// the checked out revision changed. ManifestDiff holds a unified diff of
// SKILL.md when the update changed it.
type UpdateResult struct {
	Success      bool   `json:"success"`
	Updated      bool   `json:"updated"`
	Message      string `json:"message,omitempty"`
	ManifestDiff string `json:"manifest_diff,omitempty"`
	Error        string `json:"error,omitempty"`
}

// InstalledPlugin describes the git state of an installed plugin.
type InstalledPlugin struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Revision string    `json:"revision,omitempty"`
	Branch   string    `json:"branch,omitempty"`
	Detached bool      `json:"detached"`
	Modified time.Time `json:"modified"`
}

func installFailure(format string, args ...any) *InstallResult {
	return &InstallResult{Error: fmt.Sprintf(format, args...)}
}

func updateFailure(format string, args ...any) *UpdateResult {
	return &UpdateResult{Error: fmt.Sprintf(format, args...)}
}
