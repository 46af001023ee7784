package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jingkaihe/skillkit/pkg/disclosure"
	"github.com/jingkaihe/skillkit/pkg/logger"
	"github.com/jingkaihe/skillkit/pkg/presenter"
	"github.com/jingkaihe/skillkit/pkg/skills"
)

var skillCmd = &cobra.Command{
	Use:   "skill",
	Short: "Inspect discovered skill packages",
	Long:  `List, show, validate and read skill packages from every configured source root.`,
	Run: func(cmd *cobra.Command, _ []string) {
		_ = cmd.Help()
	},
}

var skillListCmd = &cobra.Command{
	Use:   "list",
	Short: "List discovered skills",
	Long: `List discovered skills grouped by source, in discovery order.

Disabled and unavailable packages are hidden unless --all is given. Packages
that failed to parse are reported as warnings.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		all, _ := cmd.Flags().GetBool("all")
		asJSON, _ := cmd.Flags().GetBool("json")

		var opts []skills.Option
		if all {
			opts = append(opts, skills.WithIncludeDisabled(true), skills.WithIncludeUnavailable(true))
		}
		result, _, err := discover(cmd.Context(), opts...)
		if err != nil {
			return err
		}

		if asJSON {
			return writeJSON(cmd.OutOrStdout(), listView(result))
		}

		for _, perr := range result.Errors {
			presenter.Warning(perr.Error())
		}
		if len(result.Packages) == 0 {
			presenter.Info("No skills found")
			return nil
		}

		grouped := result.BySource()
		printed := 0
		for _, source := range skills.SourceOrder {
			packages := grouped[source]
			if len(packages) == 0 {
				continue
			}
			if printed > 0 {
				presenter.Separator()
			}
			printed++
			presenter.Section(fmt.Sprintf("%s (%d)", source, len(packages)))
			for _, p := range packages {
				presenter.Skill(p)
			}
		}
		return nil
	},
}

var skillShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Print the full SKILL.md of a skill",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, err := newProvider(cmd.Context())
		if err != nil {
			return err
		}
		content, ok := provider.Tier2(args[0])
		if !ok {
			return errors.Errorf("skill %q not found", args[0])
		}
		_, err = io.WriteString(cmd.OutOrStdout(), content)
		return err
	},
}

var skillValidateCmd = &cobra.Command{
	Use:   "validate <path>...",
	Short: "Validate skill packages",
	Long: `Validate one or more skill packages. Each path may point at a package
directory or directly at its SKILL.md. The declared name must match the
directory name.

Examples:
  skillkit skill validate ./skills/pdf-tools
  skillkit skill validate ./skills/*/SKILL.md`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		failed := 0
		for _, path := range args {
			name, err := validatePackage(path)
			if err != nil {
				failed++
				presenter.Error(err, fmt.Sprintf("%s [%s]", path, skills.ErrorTypeOf(err)))
				continue
			}
			presenter.Success(fmt.Sprintf("%s: %s is valid", path, name))
		}
		if failed > 0 {
			return errors.Errorf("%d of %d package(s) failed validation", failed, len(args))
		}
		return nil
	},
}

var skillDigestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Print the skill digest presented to agents",
	Long: `Print the token-budgeted XML digest of the enabled skills, followed by
statistics on stderr. --budget overrides skills.token_budget.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		result, cfg, err := discover(ctx)
		if err != nil {
			return err
		}

		budget := cfg.TokenBudget
		if cmd.Flags().Changed("budget") {
			budget, _ = cmd.Flags().GetInt("budget")
		}

		digest := disclosure.NewProvider(
			skills.Enabled(result.Packages),
			disclosure.WithTokenBudget(budget),
			disclosure.WithDiagnostics(logger.Diagnostics(ctx)),
		).Tier1()

		if digest.Content != "" {
			fmt.Fprintln(cmd.OutOrStdout(), digest.Content)
		}
		presenter.DigestStats(digest, budget)
		return nil
	},
}

var skillResourcesCmd = &cobra.Command{
	Use:   "resources <name> [category]",
	Short: "List the resource files of a skill",
	Long: `List the resource files of a skill. Without a category, scripts,
references and assets are listed in turn.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, err := newProvider(cmd.Context())
		if err != nil {
			return err
		}
		if _, ok := provider.Tier2(args[0]); !ok {
			return errors.Errorf("skill %q not found", args[0])
		}

		categories := disclosure.Categories
		if len(args) == 2 {
			categories = []string{args[1]}
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "CATEGORY\tPATH")
		for _, category := range categories {
			for _, file := range provider.Tier3ResourceList(args[0], category) {
				fmt.Fprintf(tw, "%s\t%s\n", category, file)
			}
		}
		return tw.Flush()
	},
}

var skillReadCmd = &cobra.Command{
	Use:   "read <name> <path>",
	Short: "Print one resource file of a skill",
	Long: `Print one resource file of a skill. The path is relative to the skill
directory, for example scripts/extract.sh. Paths leaving the skill
directory are refused.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, err := newProvider(cmd.Context())
		if err != nil {
			return err
		}
		content, ok := provider.Tier3Resource(args[0], args[1])
		if !ok {
			return errors.Errorf("resource %q not found in skill %q", args[1], args[0])
		}
		_, err = cmd.OutOrStdout().Write(content)
		return err
	},
}

var skillSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON schema of the SKILL.md header",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		schema, err := skills.ManifestSchemaJSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(schema))
		return nil
	},
}

func init() {
	skillListCmd.Flags().Bool("all", false, "Include disabled and unavailable skills")
	skillListCmd.Flags().Bool("json", false, "Print the result as JSON")
	skillDigestCmd.Flags().Int("budget", skills.DefaultTokenBudget, "Token budget for the digest")

	skillCmd.AddCommand(skillListCmd)
	skillCmd.AddCommand(skillShowCmd)
	skillCmd.AddCommand(skillValidateCmd)
	skillCmd.AddCommand(skillDigestCmd)
	skillCmd.AddCommand(skillResourcesCmd)
	skillCmd.AddCommand(skillReadCmd)
	skillCmd.AddCommand(skillSchemaCmd)
	withTracing(skillCmd)
}

// discover runs one discovery pass with the configured roots and allowlist.
func discover(ctx context.Context, opts ...skills.Option) (*skills.DiscoveryResult, skills.Config, error) {
	cfg, err := loadSkillsConfig(ctx, viper.GetViper())
	if err != nil {
		return nil, cfg, err
	}
	result, err := skills.Initialize(ctx, cfg, opts...)
	if err != nil {
		return nil, cfg, err
	}
	return result, cfg, nil
}

func newProvider(ctx context.Context) (*disclosure.Provider, error) {
	result, cfg, err := discover(ctx)
	if err != nil {
		return nil, err
	}
	return disclosure.NewProvider(
		skills.Enabled(result.Packages),
		disclosure.WithTokenBudget(cfg.TokenBudget),
		disclosure.WithDiagnostics(logger.Diagnostics(ctx)),
	), nil
}

// validatePackage parses the package at path and returns its name.
func validatePackage(path string) (string, error) {
	dir := path
	if filepath.Base(path) == skills.FileName {
		dir = filepath.Dir(path)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", errors.Wrapf(err, "failed to resolve %s", dir)
	}

	raw, err := os.ReadFile(filepath.Join(abs, skills.FileName))
	if err != nil {
		return "", errors.Wrapf(err, "failed to read %s", skills.FileName)
	}
	pkg, err := skills.Parse(string(raw), filepath.Base(abs), skills.ParseOptions{})
	if err != nil {
		return "", err
	}
	return pkg.Manifest.Name, nil
}

type skillView struct {
	Name              string            `json:"name"`
	Description       string            `json:"description"`
	Source            skills.Source     `json:"source"`
	Path              string            `json:"path"`
	AllowedTools      []string          `json:"allowed_tools,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	Disabled          bool              `json:"disabled"`
	Unavailable       bool              `json:"unavailable"`
	UnavailableReason string            `json:"unavailable_reason,omitempty"`
}

type listOutput struct {
	Skills []skillView           `json:"skills"`
	Errors []skills.PackageError `json:"errors"`
}

func listView(result *skills.DiscoveryResult) listOutput {
	out := listOutput{
		Skills: make([]skillView, 0, len(result.Packages)),
		Errors: result.Errors,
	}
	if out.Errors == nil {
		out.Errors = []skills.PackageError{}
	}
	for _, p := range result.Packages {
		out.Skills = append(out.Skills, skillView{
			Name:              p.Manifest.Name,
			Description:       p.Manifest.Description,
			Source:            p.Source,
			Path:              p.Path,
			AllowedTools:      p.Manifest.AllowedTools.Tools(),
			Metadata:          p.Manifest.Metadata,
			Disabled:          p.Disabled,
			Unavailable:       p.Unavailable,
			UnavailableReason: p.UnavailableReason,
		})
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
