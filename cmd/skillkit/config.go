package main

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/jingkaihe/skillkit/pkg/db"
	"github.com/jingkaihe/skillkit/pkg/plugins"
	"github.com/jingkaihe/skillkit/pkg/skills"
)

// envKeyReplacer maps nested keys to environment names, so
// skills.token_budget is read from SKILLKIT_SKILLS_TOKEN_BUDGET.
var envKeyReplacer = strings.NewReplacer(".", "_")

func setConfigDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("db_path", "")
	v.SetDefault("quiet", false)

	v.SetDefault("skills.token_budget", skills.DefaultTokenBudget)
	v.SetDefault("skills.allowed", []string{})
	v.SetDefault("skills.disabled_bundled", []string{})
	v.SetDefault("skills.enabled_bundled", []string{})

	v.SetDefault("plugins.git.timeout", plugins.DefaultGitTimeout)
	v.SetDefault("plugins.git.retry_attempts", plugins.DefaultRetryAttempts)
	v.SetDefault("plugins.git.retry_delay", time.Second)

	v.SetDefault("serve.host", "localhost")
	v.SetDefault("serve.port", 8080)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.sampler", "ratio")
	v.SetDefault("tracing.ratio", 1.0)
}

// projectDir returns the --project-dir value, or the working directory.
func projectDir(v *viper.Viper) (string, error) {
	if dir := v.GetString("project_dir"); dir != "" {
		return dir, nil
	}
	dir, err := os.Getwd()
	if err != nil {
		return "", errors.Wrap(err, "failed to get working directory")
	}
	return dir, nil
}

// skillsConfigFrom decodes the skills section and fills defaults. The
// bundled root is only set when skills.bundled_dir or SKILLKIT_BUNDLED_DIR
// names one.
func skillsConfigFrom(v *viper.Viper) (skills.Config, error) {
	var cfg skills.Config

	section := map[string]any{}
	for _, key := range []string{
		"bundled_dir", "user_dir", "compat_dir", "project_dir", "plugins_dir",
		"disabled_bundled", "enabled_bundled", "allowed", "token_budget",
	} {
		if v.IsSet("skills." + key) {
			section[key] = v.Get("skills." + key)
		}
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToSliceHookFunc(","),
	})
	if err != nil {
		return cfg, errors.Wrap(err, "failed to create config decoder")
	}
	if err := decoder.Decode(section); err != nil {
		return cfg, errors.Wrap(err, "invalid skills configuration")
	}

	dir, err := projectDir(v)
	if err != nil {
		return cfg, err
	}
	if err := cfg.ApplyDefaults(dir); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// dbPath returns db_path, or the default database location when unset.
func dbPath(v *viper.Viper) (string, error) {
	if path := v.GetString("db_path"); path != "" {
		return path, nil
	}
	return db.DefaultDBPath()
}

func openRecordStore(ctx context.Context, v *viper.Viper) (*plugins.RecordStore, error) {
	path, err := dbPath(v)
	if err != nil {
		return nil, err
	}
	return plugins.OpenRecordStore(ctx, path)
}

func newInstaller(v *viper.Viper, cfg skills.Config) (*plugins.Installer, error) {
	return plugins.NewInstaller(
		plugins.WithPluginsDir(cfg.PluginsDir),
		plugins.WithGitTimeout(v.GetDuration("plugins.git.timeout")),
		plugins.WithRetry(v.GetUint("plugins.git.retry_attempts"), v.GetDuration("plugins.git.retry_delay")),
	)
}

// loadSkillsConfig reads the skills configuration and the install records
// that decide which plugins are enabled.
func loadSkillsConfig(ctx context.Context, v *viper.Viper) (skills.Config, error) {
	cfg, err := skillsConfigFrom(v)
	if err != nil {
		return cfg, err
	}

	store, err := openRecordStore(ctx, v)
	if err != nil {
		return cfg, err
	}
	defer store.Close()

	records, err := store.List(ctx)
	if err != nil {
		return cfg, err
	}
	cfg.Plugins = records
	return cfg, nil
}

// newCache builds a discovery cache for cfg. Extra options are appended to
// the configured ones.
func newCache(cfg skills.Config, opts ...skills.Option) (*allowlistSource, error) {
	discovery, err := skills.NewDiscovery(append(cfg.Options(), opts...)...)
	if err != nil {
		return nil, err
	}
	if _, err := skills.FilterByAllowlist(nil, cfg.Allowed); err != nil {
		return nil, err
	}
	return &allowlistSource{Cache: skills.NewCache(discovery), patterns: cfg.Allowed}, nil
}

// allowlistSource narrows every snapshot of the cache to the configured
// allowlist.
type allowlistSource struct {
	*skills.Cache
	patterns []string
}

func (s *allowlistSource) Get(ctx context.Context) *skills.DiscoveryResult {
	result := s.Cache.Get(ctx)
	if len(s.patterns) == 0 {
		return result
	}
	// Patterns were checked in newCache.
	filtered, _ := skills.FilterByAllowlist(result.Packages, s.patterns)
	return &skills.DiscoveryResult{Packages: filtered, Errors: result.Errors}
}
