package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jingkaihe/skillkit/pkg/logger"
	"github.com/jingkaihe/skillkit/pkg/presenter"
)

func init() {
	viper.SetEnvPrefix("SKILLKIT")
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME/.skillkit")
	viper.AddConfigPath(".")

	setConfigDefaults(viper.GetViper())

	// A missing config file is fine; a broken one is reported when a command runs.
	configErr = viper.ReadInConfig()
}

var (
	configErr       error
	shutdownTracing = func(context.Context) error { return nil }
)

var rootCmd = &cobra.Command{
	Use:   "skillkit",
	Short: "Discover, inspect, serve and install agent skill packages",
	Long: `skillkit manages skill packages: directories holding a SKILL.md file with a
YAML header and free-form instructions, plus optional scripts, references and
assets.

Packages are discovered from the bundled, user, compat, project and plugin
roots, served to agents through a token-budgeted digest, full instructions and
individual resource files, and installed from git repositories as plugins.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := logger.SetLogLevel(viper.GetString("log_level")); err != nil {
			return err
		}
		logger.SetLogFormat(viper.GetString("log_format"))
		presenter.SetQuiet(viper.GetBool("quiet"))
		if _, notFound := configErr.(viper.ConfigFileNotFoundError); configErr != nil && !notFound {
			logger.G(cmd.Context()).WithError(configErr).Warn("failed to read config file")
		}

		shutdown, err := initTracing(cmd.Context())
		if err != nil {
			return err
		}
		shutdownTracing = shutdown
		return nil
	},
	Run: func(cmd *cobra.Command, _ []string) {
		_ = cmd.Help()
	},
}

func main() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (panic, fatal, error, warn, info, debug, trace)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json)")
	rootCmd.PersistentFlags().String("project-dir", "", "Project directory used for the project skills root (defaults to the working directory)")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "Only print errors and command output")
	viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("project_dir", rootCmd.PersistentFlags().Lookup("project-dir"))

	rootCmd.AddCommand(skillCmd)
	rootCmd.AddCommand(pluginCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if serr := shutdownTracing(context.Background()); serr != nil {
		logger.G(ctx).WithError(serr).Warn("failed to flush traces")
	}
	if err != nil {
		presenter.Error(err, "")
		os.Exit(1)
	}
}
