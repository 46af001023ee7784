package skills

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jingkaihe/skillkit/pkg/logger"
	"github.com/jingkaihe/skillkit/pkg/telemetry"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

const (
	appDir        = ".skillkit"
	compatAppDir  = ".claude"
	skillsSubdir  = "skills"
	pluginsSubdir = "plugins"
	envBundledDir = "SKILLKIT_BUNDLED_DIR"
)

// Roots lists the directory scanned for each source. An empty root is skipped.
type Roots struct {
	Bundled string
	User    string
	Compat  string
	Project string
	Plugins string
}

func (r Roots) forSource(s Source) string {
	switch s {
	case SourceBundled:
		return r.Bundled
	case SourceUser:
		return r.User
	case SourceCompat:
		return r.Compat
	case SourceProject:
		return r.Project
	case SourcePlugin:
		return r.Plugins
	}
	return ""
}

// All returns the non-empty roots in source order.
func (r Roots) All() []string {
	var dirs []string
	for _, s := range SourceOrder {
		if dir := r.forSource(s); dir != "" {
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

// DefaultPluginsDir returns ~/.skillkit/plugins.
func DefaultPluginsDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to get user home directory")
	}
	return filepath.Join(homeDir, appDir, pluginsSubdir), nil
}

// DefaultRoots returns the conventional roots relative to the user's home
// directory and the given project directory. The bundled root comes from
// SKILLKIT_BUNDLED_DIR and is empty when unset.
func DefaultRoots(projectDir string) (Roots, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return Roots{}, errors.Wrap(err, "failed to get user home directory")
	}
	return Roots{
		Bundled: os.Getenv(envBundledDir),
		User:    filepath.Join(homeDir, appDir, skillsSubdir),
		Compat:  filepath.Join(homeDir, compatAppDir, skillsSubdir),
		Project: filepath.Join(projectDir, appDir, skillsSubdir),
		Plugins: filepath.Join(homeDir, appDir, pluginsSubdir),
	}, nil
}

// Discovery scans the configured roots for skill packages.
type Discovery struct {
	roots              Roots
	overrides          Overrides
	includeDisabled    bool
	includeUnavailable bool
	checker            AvailabilityChecker
}

// Option is a function that configures a Discovery
type Option func(*Discovery) error

// WithRoots sets the source roots explicitly.
func WithRoots(roots Roots) Option {
	return func(d *Discovery) error {
		d.roots = roots
		return nil
	}
}

// WithDefaultDirs uses DefaultRoots for the current working directory.
func WithDefaultDirs() Option {
	return func(d *Discovery) error {
		wd, err := os.Getwd()
		if err != nil {
			return errors.Wrap(err, "failed to get working directory")
		}
		roots, err := DefaultRoots(wd)
		if err != nil {
			return err
		}
		d.roots = roots
		return nil
	}
}

// WithPlugins supplies the install records used to resolve plugin state.
func WithPlugins(records []InstallRecord) Option {
	return func(d *Discovery) error {
		d.overrides.Plugins = records
		return nil
	}
}

// WithBundledOverrides sets the disable and enable lists for bundled skills.
// An explicit enable wins over a disable.
func WithBundledOverrides(disabled, enabled []string) Option {
	return func(d *Discovery) error {
		d.overrides.DisabledBundled = disabled
		d.overrides.EnabledBundled = enabled
		return nil
	}
}

// WithIncludeDisabled keeps disabled packages in the result, flagged.
func WithIncludeDisabled(include bool) Option {
	return func(d *Discovery) error {
		d.includeDisabled = include
		return nil
	}
}

// WithIncludeUnavailable keeps unavailable packages in the result, flagged.
func WithIncludeUnavailable(include bool) Option {
	return func(d *Discovery) error {
		d.includeUnavailable = include
		return nil
	}
}

// WithAvailabilityChecker replaces the default CommandChecker.
func WithAvailabilityChecker(c AvailabilityChecker) Option {
	return func(d *Discovery) error {
		if c == nil {
			return errors.New("availability checker cannot be nil")
		}
		d.checker = c
		return nil
	}
}

// NewDiscovery creates a new skill discovery instance. With no options the
// default roots are used.
func NewDiscovery(opts ...Option) (*Discovery, error) {
	d := &Discovery{checker: CommandChecker{}}

	if len(opts) == 0 {
		opts = []Option{WithDefaultDirs()}
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}

	return d, nil
}

// Roots returns the configured roots.
func (d *Discovery) Roots() Roots {
	return d.roots
}

type scanResult struct {
	packages []*DiscoveredPackage
	errors   []PackageError
}

// Discover scans every root and returns accepted packages plus per-path
// errors. Roots are scanned concurrently; the result is ordered as if they
// were scanned sequentially in SourceOrder. Packages sharing a name across
// sources are all returned: precedence is left to the caller.
func (d *Discovery) Discover(ctx context.Context) *DiscoveryResult {
	result := &DiscoveryResult{}

	_ = telemetry.WithSpan(ctx, "skills.discover", func(ctx context.Context) error {
		scans := make([]scanResult, len(SourceOrder))
		var wg sync.WaitGroup
		for i, source := range SourceOrder {
			root := d.roots.forSource(source)
			if root == "" {
				continue
			}
			wg.Add(1)
			go func(i int, source Source, root string) {
				defer wg.Done()
				scans[i] = d.scanRoot(ctx, source, root)
			}(i, source, root)
		}
		wg.Wait()

		for _, scan := range scans {
			result.Packages = append(result.Packages, scan.packages...)
			result.Errors = append(result.Errors, scan.errors...)
		}

		telemetry.SetAttributes(ctx,
			attribute.Int("skills.packages", len(result.Packages)),
			attribute.Int("skills.errors", len(result.Errors)),
		)
		return nil
	})

	return result
}

func (d *Discovery) scanRoot(ctx context.Context, source Source, root string) scanResult {
	var res scanResult
	log := logger.G(ctx).WithField("source", source).WithField("root", root)

	absRoot, err := filepath.Abs(root)
	if err != nil {
		res.errors = append(res.errors, PackageError{Path: root, Message: err.Error(), Type: ErrIO})
		return res
	}

	entries, err := os.ReadDir(absRoot)
	if err != nil {
		if !os.IsNotExist(err) {
			res.errors = append(res.errors, PackageError{
				Path:    absRoot,
				Message: errors.Wrap(err, "failed to read skills directory").Error(),
				Type:    ErrIO,
			})
		}
		return res
	}

	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		entryPath := filepath.Join(absRoot, entry.Name())

		info, err := os.Stat(entryPath)
		if err != nil || !info.IsDir() {
			continue
		}

		skillPath := filepath.Join(entryPath, FileName)
		content, err := os.ReadFile(skillPath)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			res.errors = append(res.errors, PackageError{
				Path:    skillPath,
				Message: errors.Wrap(err, "failed to read skill file").Error(),
				Type:    ErrIO,
			})
			continue
		}

		pkg, err := Parse(string(content), entry.Name(), ParseOptions{})
		if err != nil {
			perr := PackageError{Path: skillPath, Message: err.Error(), Type: ErrorTypeOf(err)}
			log.WithField("path", skillPath).WithField("type", perr.Type).WithError(err).Debug("rejected skill package")
			res.errors = append(res.errors, perr)
			continue
		}

		dp := &DiscoveredPackage{
			Package:   *pkg,
			Path:      skillPath,
			Directory: entryPath,
			Source:    source,
		}

		if IsDisabled(source, pkg.Manifest.Name, d.overrides) {
			if !d.includeDisabled {
				log.WithField("skill", pkg.Manifest.Name).Debug("skipping disabled skill")
				continue
			}
			dp.Disabled = true
		}

		if ok, reason := d.checker.Check(dp); !ok {
			if !d.includeUnavailable {
				log.WithField("skill", pkg.Manifest.Name).WithField("reason", reason).Debug("skipping unavailable skill")
				continue
			}
			dp.Unavailable = true
			dp.UnavailableReason = reason
		}

		res.packages = append(res.packages, dp)
	}

	return res
}
