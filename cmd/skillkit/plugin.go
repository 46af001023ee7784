package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jingkaihe/skillkit/pkg/logger"
	"github.com/jingkaihe/skillkit/pkg/plugins"
	"github.com/jingkaihe/skillkit/pkg/presenter"
	"github.com/jingkaihe/skillkit/pkg/skills"
)

var pluginCmd = &cobra.Command{
	Use:   "plugin",
	Short: "Manage skill packages installed from git repositories",
	Long:  `Install, update, list, enable, disable and remove skill plugins cloned from git repositories.`,
	Run: func(cmd *cobra.Command, _ []string) {
		_ = cmd.Help()
	},
}

var pluginAddCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Install a skill package from a git repository",
	Long: `Install a skill package from an https git repository. The repository root
must hold a SKILL.md; the plugin directory is named after the name it
declares.

Examples:
  skillkit plugin add https://github.com/acme/pdf-tools
  skillkit plugin add https://github.com/acme/pdf-tools --ref v1.2.0
  skillkit plugin add https://github.com/acme/pdf-tools --ref 3f2a9c1`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		ref, _ := cmd.Flags().GetString("ref")
		name, _ := cmd.Flags().GetString("name")

		env, err := newPluginEnv(ctx)
		if err != nil {
			return err
		}
		defer env.close()

		presenter.Info(fmt.Sprintf("Installing skill from %s...", args[0]))
		result := env.installer.Install(ctx, args[0], ref, name)
		if !result.Success {
			return errors.New(result.Error)
		}

		err = env.store.Upsert(ctx, skills.InstallRecord{
			Name:    result.SkillName,
			URL:     args[0],
			Ref:     ref,
			Enabled: true,
		})
		if err != nil {
			return err
		}
		presenter.Success(fmt.Sprintf("Installed skill %q to %s", result.SkillName, result.Path))
		return nil
	},
}

var pluginUpdateCmd = &cobra.Command{
	Use:   "update <name>...",
	Short: "Fast-forward installed plugins",
	Long: `Pull the latest commits of installed plugins. Plugins pinned to a tag or a
commit are left as they are. When SKILL.md changes, the diff is printed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := newPluginEnv(ctx)
		if err != nil {
			return err
		}
		defer env.close()

		failed := 0
		for _, name := range args {
			result := env.installer.Update(ctx, name)
			if !result.Success {
				failed++
				presenter.Error(errors.New(result.Error), fmt.Sprintf("failed to update %s", name))
				continue
			}
			if !result.Updated {
				presenter.Info(fmt.Sprintf("%s: %s", name, result.Message))
				continue
			}
			presenter.Success(fmt.Sprintf("%s: %s", name, result.Message))
			if result.ManifestDiff != "" {
				fmt.Fprint(cmd.OutOrStdout(), result.ManifestDiff)
			}
		}
		if failed > 0 {
			return errors.Errorf("%d of %d plugin(s) failed to update", failed, len(args))
		}
		return nil
	},
}

var pluginRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove an installed plugin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		name := args[0]
		yes, _ := cmd.Flags().GetBool("yes")

		proceed, err := confirmRemoval(name, yes)
		if err != nil {
			return err
		}
		if !proceed {
			presenter.Info("Aborted")
			return nil
		}

		env, err := newPluginEnv(ctx)
		if err != nil {
			return err
		}
		defer env.close()

		removed, err := env.installer.Remove(ctx, name)
		if err != nil {
			return err
		}
		hadRecord, err := env.store.Delete(ctx, name)
		if err != nil {
			return err
		}
		if !removed && !hadRecord {
			return errors.Errorf("plugin %q is not installed", name)
		}
		presenter.Success(fmt.Sprintf("Removed plugin %q", name))
		return nil
	},
}

var pluginListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed plugins",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		asJSON, _ := cmd.Flags().GetBool("json")

		env, err := newPluginEnv(ctx)
		if err != nil {
			return err
		}
		defer env.close()

		rows, err := env.list(ctx)
		if err != nil {
			return err
		}
		if asJSON {
			return writeJSON(cmd.OutOrStdout(), rows)
		}
		if len(rows) == 0 {
			presenter.Info("No plugins installed")
			return nil
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tENABLED\tREVISION\tREF\tURL")
		for _, row := range rows {
			ref := row.Branch
			if row.Detached {
				ref = row.Ref
				if ref == "" {
					ref = "(detached)"
				}
			}
			fmt.Fprintf(tw, "%s\t%t\t%s\t%s\t%s\n", row.Name, row.Enabled, row.Revision, ref, row.URL)
		}
		return tw.Flush()
	},
}

var pluginEnableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Enable an installed plugin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setPluginEnabled(cmd.Context(), args[0], true)
	},
}

var pluginDisableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Disable an installed plugin without removing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setPluginEnabled(cmd.Context(), args[0], false)
	},
}

func init() {
	pluginAddCmd.Flags().String("ref", "", "Branch, tag or commit to check out")
	pluginAddCmd.Flags().String("name", "", "Directory name used while cloning (defaults to the repository name)")
	pluginRemoveCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	pluginListCmd.Flags().Bool("json", false, "Print the result as JSON")

	pluginCmd.AddCommand(pluginAddCmd)
	pluginCmd.AddCommand(pluginUpdateCmd)
	pluginCmd.AddCommand(pluginRemoveCmd)
	pluginCmd.AddCommand(pluginListCmd)
	pluginCmd.AddCommand(pluginEnableCmd)
	pluginCmd.AddCommand(pluginDisableCmd)
	withTracing(pluginCmd)
}

// pluginEnv bundles the installer with the record store kept in step with it.
type pluginEnv struct {
	installer *plugins.Installer
	store     *plugins.RecordStore
}

func newPluginEnv(ctx context.Context) (*pluginEnv, error) {
	cfg, err := skillsConfigFrom(viper.GetViper())
	if err != nil {
		return nil, err
	}
	installer, err := newInstaller(viper.GetViper(), cfg)
	if err != nil {
		return nil, err
	}
	store, err := openRecordStore(ctx, viper.GetViper())
	if err != nil {
		return nil, err
	}
	return &pluginEnv{installer: installer, store: store}, nil
}

func (e *pluginEnv) close() {
	if err := e.store.Close(); err != nil {
		logger.L.WithError(err).Warn("failed to close install record store")
	}
}

type pluginRow struct {
	plugins.InstalledPlugin
	URL     string `json:"url,omitempty"`
	Ref     string `json:"ref,omitempty"`
	Enabled bool   `json:"enabled"`
}

// list joins the plugin directories with their records. A directory without
// a record counts as enabled.
func (e *pluginEnv) list(ctx context.Context) ([]pluginRow, error) {
	names, err := e.installer.ListInstalled(ctx)
	if err != nil {
		return nil, err
	}
	records, err := e.store.List(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]skills.InstallRecord, len(records))
	for _, rec := range records {
		byName[rec.Name] = rec
	}

	rows := make([]pluginRow, 0, len(names))
	for _, name := range names {
		plugin, err := e.installer.Inspect(ctx, name)
		if err != nil {
			return nil, err
		}
		row := pluginRow{InstalledPlugin: *plugin, Enabled: true}
		if rec, ok := byName[name]; ok {
			row.URL = rec.URL
			row.Ref = rec.Ref
			row.Enabled = rec.Enabled
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// confirmRemoval asks before a plugin is removed. Quiet mode never prompts,
// so it requires --yes.
func confirmRemoval(name string, yes bool) (bool, error) {
	if yes {
		return true, nil
	}
	if presenter.IsQuiet() {
		return false, errors.Errorf("refusing to remove plugin %q in quiet mode without --yes", name)
	}
	return presenter.Confirm(fmt.Sprintf("Remove plugin %q?", name)), nil
}

func setPluginEnabled(ctx context.Context, name string, enabled bool) error {
	env, err := newPluginEnv(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	err = env.store.SetEnabled(ctx, name, enabled)
	if errors.Is(err, plugins.ErrRecordNotFound) {
		// Installed by hand: start tracking it.
		if _, ierr := env.installer.Inspect(ctx, name); ierr != nil {
			return ierr
		}
		err = env.store.Upsert(ctx, skills.InstallRecord{Name: name, Enabled: enabled})
	}
	if err != nil {
		return err
	}

	state := "Disabled"
	if enabled {
		state = "Enabled"
	}
	presenter.Success(fmt.Sprintf("%s plugin %q", state, name))
	return nil
}
