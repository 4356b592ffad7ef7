package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/zjrosen/protoreg/internal/catalog"
	"github.com/zjrosen/protoreg/internal/log"
	"github.com/zjrosen/protoreg/internal/mcptools"
)

func newMCPCmd(app *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve resolver tools over MCP (stdio)",
		Long: `Run a Model Context Protocol server on stdin/stdout exposing the tools
resolve_urn, diff_manifests and validate_catalog.

Register it with an MCP client as:
  {"command": "protoreg", "args": ["mcp", "-d", "/path/to/manifests"]}`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := app.resolver(cmd.Context())
			if err != nil {
				return err
			}

			s := mcptools.NewServer(mcptools.Config{
				Version:  version,
				Resolver: r,
				Catalog: func(ctx context.Context, patterns []string) (*catalog.Catalog, error) {
					res, err := app.catalog(ctx, patterns)
					if err != nil {
						return nil, err
					}
					return res.Catalog, nil
				},
				ValidateOptions: app.cfg.Catalog.ValidateOptions(),
			})

			log.Info(log.CatMCP, "MCP server starting on stdio", "source", r.Source().Name())
			return mcptools.ServeStdio(s)
		},
	}
}
