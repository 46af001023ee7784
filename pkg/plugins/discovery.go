package plugins

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"

	"github.com/jingkaihe/skillkit/pkg/skills"
)

// isInstalled reports whether dir holds both git metadata and a SKILL.md.
func isInstalled(dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, gitDir)); err != nil {
		return false
	}
	info, err := os.Stat(filepath.Join(dir, skills.FileName))
	return err == nil && info.Mode().IsRegular()
}

// ListInstalled returns the names of installed plugins in ascending order.
// Only directories that contain both git metadata and a SKILL.md count;
// anything else under the plugins root is ignored.
func (i *Installer) ListInstalled(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(i.pluginsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, errors.Wrapf(err, "failed to read plugins directory %s", i.pluginsDir)
	}

	names := []string{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if isInstalled(filepath.Join(i.pluginsDir, entry.Name())) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Inspect returns the git state of an installed plugin.
func (i *Installer) Inspect(ctx context.Context, name string) (*InstalledPlugin, error) {
	if err := skills.ValidateName(name); err != nil {
		return nil, errors.Wrap(err, "invalid plugin name")
	}
	dir := filepath.Join(i.pluginsDir, name)
	if !isInstalled(dir) {
		return nil, errors.Errorf("plugin %q is not installed", name)
	}

	plugin := &InstalledPlugin{Name: name, Path: dir}
	if info, err := os.Stat(filepath.Join(dir, skills.FileName)); err == nil {
		plugin.Modified = info.ModTime()
	}

	revision, err := i.runGit(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read revision of %q", name)
	}
	plugin.Revision = revision

	detached, err := i.isDetached(ctx, dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to inspect %q", name)
	}
	plugin.Detached = detached
	if !detached {
		branch, err := i.runGit(ctx, dir, "symbolic-ref", "--short", "-q", "HEAD")
		if err == nil {
			plugin.Branch = branch
		}
	}
	return plugin, nil
}
