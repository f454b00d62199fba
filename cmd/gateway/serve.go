package main

import (
	"github.com/spf13/cobra"

	"github.com/FreePeak/golang-mcp-gateway/internal/config"
	"github.com/FreePeak/golang-mcp-gateway/internal/infrastructure/logging"
)

type serveOptions struct {
	addr     string
	basePath string
	stdio    bool
}

func newServeCommand(configPath *string, version string) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		Long: `Run the gateway over HTTP until interrupted. With --stdio a single session
is served over standard input and output instead, and logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			gw, err := buildGateway(ctx, *configPath, version, func(cfg *config.Config) {
				if cmd.Flags().Changed("addr") {
					cfg.Addr = opts.addr
				}
				if cmd.Flags().Changed("base-path") {
					cfg.BasePath = opts.basePath
				}
			})
			if err != nil {
				return err
			}
			defer gw.Close()

			if opts.stdio {
				return gw.ServeStdio(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
			}
			gw.Logger.Info("gateway ready", logging.Fields{"addr": gw.Config.Addr, "tools": gw.Catalog.Len()})
			return gw.Serve(ctx)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", "", "listen address, overrides the config file")
	cmd.Flags().StringVar(&opts.basePath, "base-path", "", "prefix for every HTTP route")
	cmd.Flags().BoolVar(&opts.stdio, "stdio", false, "serve one session over stdin/stdout")
	return cmd
}
