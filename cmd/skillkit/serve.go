package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jingkaihe/skillkit/pkg/logger"
	"github.com/jingkaihe/skillkit/pkg/webui"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API over skills and plugins",
	Long: `Start a local HTTP server exposing the discovered skills, their digest,
instructions and resources, and the installed plugins as JSON.

The server is available at http://localhost:8080 by default.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		v := viper.GetViper()

		cfg, err := loadSkillsConfig(ctx, v)
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

		installer, err := newInstaller(v, cfg)
		if err != nil {
			return err
		}
		store, err := openRecordStore(ctx, v)
		if err != nil {
			return err
		}
		defer store.Close()

		server, err := webui.NewServer(
			&webui.ServerConfig{Host: v.GetString("serve.host"), Port: v.GetInt("serve.port")},
			source,
			webui.WithPlugins(installer, store),
			webui.WithTokenBudget(cfg.TokenBudget),
		)
		if err != nil {
			return err
		}
		return server.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().String("host", "localhost", "Host to bind the web server to")
	serveCmd.Flags().Int("port", 8080, "Port to bind the web server to")
	viper.BindPFlag("serve.host", serveCmd.Flags().Lookup("host"))
	viper.BindPFlag("serve.port", serveCmd.Flags().Lookup("port"))
	withTracing(serveCmd)
}
