package main

import (
	"time"

	"github.com/Protocol-Lattice/go-vision/internal/config"
	"github.com/Protocol-Lattice/go-vision/pkg/models"
	"github.com/Protocol-Lattice/go-vision/pkg/server"
	"github.com/spf13/cobra"
)

func (a *app) serveCmd() *cobra.Command {
	var (
		listen  string
		grace   time.Duration
		maxBody int64
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the analyze API over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("listen") {
				a.settings.Listen = listen
			}
			an, err := a.analyzer(cmd.Context())
			if err != nil {
				return err
			}
			opts := server.Options{
				Analyzer: an,
				Logger:   a.logger,
				MaxBody:  maxBody,
			}
			if a.settings.Provider == "bedrock" {
				opts.CheckModel = config.CheckModel
				opts.Models = models.BedrockModels
				opts.Regions = models.BedrockRegions
			}
			srv, err := server.New(opts)
			if err != nil {
				return err
			}
			return server.ListenAndServe(cmd.Context(), a.settings.Listen, srv.Routes(), grace, a.logger)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", config.DefaultListen, "listen address (default $VISION_LISTEN)")
	cmd.Flags().DurationVar(&grace, "grace", 15*time.Second, "shutdown grace period")
	cmd.Flags().Int64Var(&maxBody, "max-body", server.DefaultMaxBody, "largest accepted request body in bytes")
	return cmd
}
