package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jingkaihe/skillkit/pkg/logger"
	"github.com/jingkaihe/skillkit/pkg/mcpserver"
	"github.com/jingkaihe/skillkit/pkg/presenter"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Expose skills to MCP clients",
	Run: func(cmd *cobra.Command, _ []string) {
		_ = cmd.Help()
	},
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve skills as MCP tools over stdio",
	Long: `Serve the enabled skills over the Model Context Protocol on stdin and
stdout. Four tools are exposed: skills_digest, skill_instructions,
skill_resources and skill_resource. The skill roots are watched and changes
are picked up without a restart.

Logs go to stderr so they never mix with protocol messages.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		logger.SetLogOutput(os.Stderr)
		// stdout carries protocol messages only.
		presenter.SetQuiet(true)

		cfg, err := loadSkillsConfig(ctx, viper.GetViper())
		if err != nil {
			return err
		}
		source, err := newCache(cfg)
		if err != nil {
			return err
		}
		if err := source.Watch(ctx); err != nil {
			logger.G(ctx).WithError(err).Warn("skill roots are not watched, restart to pick up changes")
		}
		defer source.Close()

		logger.G(ctx).WithField("roots", cfg.Roots().All()).Info("serving skills over MCP stdio")
		return mcpserver.New(source, mcpserver.WithTokenBudget(cfg.TokenBudget)).Serve(ctx, os.Stdin, os.Stdout)
	},
}

func init() {
	mcpCmd.AddCommand(mcpServeCmd)
	withTracing(mcpCmd)
}
