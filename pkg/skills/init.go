package skills

import (
	"context"
)

// Config is the skills section of the configuration file. Empty directories
// are filled in by ApplyDefaults.
type Config struct {
	BundledDir      string          `mapstructure:"bundled_dir"`
	UserDir         string          `mapstructure:"user_dir"`
	CompatDir       string          `mapstructure:"compat_dir"`
	ProjectDir      string          `mapstructure:"project_dir"`
	PluginsDir      string          `mapstructure:"plugins_dir"`
	DisabledBundled []string        `mapstructure:"disabled_bundled"`
	EnabledBundled  []string        `mapstructure:"enabled_bundled"`
	Allowed         []string        `mapstructure:"allowed"`
	TokenBudget     int             `mapstructure:"token_budget"`
	Plugins         []InstallRecord `mapstructure:"-"`
}

// ApplyDefaults fills empty root directories from DefaultRoots for
// projectDir and sets the default token budget.
func (c *Config) ApplyDefaults(projectDir string) error {
	defaults, err := DefaultRoots(projectDir)
	if err != nil {
		return err
	}
	setDefault(&c.BundledDir, defaults.Bundled)
	setDefault(&c.UserDir, defaults.User)
	setDefault(&c.CompatDir, defaults.Compat)
	setDefault(&c.ProjectDir, defaults.Project)
	setDefault(&c.PluginsDir, defaults.Plugins)
	if c.TokenBudget <= 0 {
		c.TokenBudget = DefaultTokenBudget
	}
	return nil
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

// Roots returns the configured source roots.
func (c Config) Roots() Roots {
	return Roots{
		Bundled: c.BundledDir,
		User:    c.UserDir,
		Compat:  c.CompatDir,
		Project: c.ProjectDir,
		Plugins: c.PluginsDir,
	}
}

// Options converts the configuration into discovery options.
func (c Config) Options() []Option {
	return []Option{
		WithRoots(c.Roots()),
		WithBundledOverrides(c.DisabledBundled, c.EnabledBundled),
		WithPlugins(c.Plugins),
	}
}

// Initialize discovers packages for cfg and narrows the result to the
// configured allowlist. Extra options are applied after the configuration,
// so callers can request disabled or unavailable packages for display.
func Initialize(ctx context.Context, cfg Config, opts ...Option) (*DiscoveryResult, error) {
	discovery, err := NewDiscovery(append(cfg.Options(), opts...)...)
	if err != nil {
		return nil, err
	}

	result := discovery.Discover(ctx)
	filtered, err := FilterByAllowlist(result.Packages, cfg.Allowed)
	if err != nil {
		return nil, err
	}
	result.Packages = filtered
	return result, nil
}
