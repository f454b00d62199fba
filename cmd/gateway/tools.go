package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func newToolsCommand(configPath *string, version string) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Print the tool catalog as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			gw, err := buildGateway(cmd.Context(), *configPath, version, nil)
			if err != nil {
				return err
			}
			defer gw.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(gw.Catalog.Tools())
		},
	}
}
