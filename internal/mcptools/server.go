package mcptools

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/zjrosen/protoreg/internal/catalog"
	"github.com/zjrosen/protoreg/internal/store"
)

// Config holds the dependencies of the tool server.
type Config struct {
	Version         string
	Resolver        *store.Resolver
	Catalog         CatalogLoader
	ValidateOptions catalog.ValidateOptions
}

// NewServer creates an MCP server with every protoreg tool registered. The
// catalog tool is omitted when cfg.Catalog is nil.
func NewServer(cfg Config) *server.MCPServer {
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s := server.NewMCPServer(
		"protoreg",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	resolveTool := NewResolveTool(cfg.Resolver)
	s.AddTool(resolveTool.Definition(), resolveTool.Handle)

	diffTool := NewDiffTool(cfg.Resolver)
	s.AddTool(diffTool.Definition(), diffTool.Handle)

	if cfg.Catalog != nil {
		validateTool := NewValidateCatalogTool(cfg.Catalog, cfg.ValidateOptions)
		s.AddTool(validateTool.Definition(), validateTool.Handle)
	}

	return s
}

// ServeStdio serves s over stdin/stdout until the client disconnects.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

const instructions = `protoreg resolves and analyses protocol manifests (data, api, event, agent, semantic).

- resolve_urn: fetch a manifest or a fragment by URN.
- diff_manifests: compare two manifests and get breaking changes plus a migration plan.
- validate_catalog: validate every manifest in the catalog, including relationship cycles.`
