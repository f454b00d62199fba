package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/FreePeak/golang-mcp-gateway/internal/builder"
	"github.com/FreePeak/golang-mcp-gateway/internal/config"
	"github.com/FreePeak/golang-mcp-gateway/internal/usecases/mailbox"
)

// NewRootCommand builds the gateway command tree
func NewRootCommand(version, commit, date string) *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "gateway",
		Short: "MCP tool gateway",
		Long: `gateway exposes a tool backend to MCP clients. Clients connect over the
legacy event stream (GET /sse + POST /message), a streamable HTTP connection
(POST /mcp) or standard input/output.

Settings come from an optional YAML or JSON file and MCPGW_* environment
variables, for example MCPGW_ADDR=:9090.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a .yaml or .json config file")

	rootCmd.AddCommand(
		newServeCommand(&configPath, version),
		newToolsCommand(&configPath, version),
	)
	return rootCmd
}

// buildGateway loads configuration and wires the demo mailbox backend.
func buildGateway(ctx context.Context, configPath, version string, mutate func(*config.Config)) (*builder.Gateway, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.ServerVersion == "dev" && version != "" {
		cfg.ServerVersion = version
	}
	if mutate != nil {
		mutate(cfg)
	}

	return builder.NewServerBuilder(*cfg).
		WithExecutor(mailbox.New(mailbox.Sample())).
		Build(ctx)
}
