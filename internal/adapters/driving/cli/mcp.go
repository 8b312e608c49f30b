package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/policyqa/internal/adapters/driving/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "MCP server commands",
	Long:  `Commands for the Model Context Protocol (MCP) server integration.`,
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	Long: `Start the Model Context Protocol server so AI assistants can ask
questions about your policies.

By default, the server communicates over stdio using JSON-RPC. Use --port
to serve streamable HTTP instead, for example with MCP Inspector.

Tools:
  ask               answer a question, optionally scoped to a policy
  cache_stats       cache hit rate and LLM cost so far
  invalidate_cache  drop cached answers for a policy, or all of them
  reindex           re-read the documents directory (needs --docs)

Examples:
  policyqa --docs ./policies mcp serve
  policyqa --docs ./policies mcp serve --port 8080

Claude Desktop configuration (claude_desktop_config.json):
  {
    "mcpServers": {
      "policyqa": {
        "command": "/path/to/policyqa",
        "args": ["--docs", "/path/to/policies", "mcp", "serve"]
      }
    }
  }`,
	Args: cobra.NoArgs,
	RunE: runMCPServe,
}

func init() {
	mcpServeCmd.Flags().IntP("port", "p", 0, "HTTP port (0 = use stdio)")
	mcpCmd.AddCommand(mcpServeCmd)
	rootCmd.AddCommand(mcpCmd)
}

func runMCPServe(cmd *cobra.Command, _ []string) error {
	port, err := cmd.Flags().GetInt("port")
	if err != nil {
		return fmt.Errorf("getting port flag: %w", err)
	}

	ctx := cmd.Context()
	app, err := openApp(ctx, nil)
	if err != nil {
		return err
	}
	defer app.Close()

	if app.Sync != nil {
		if _, err := app.Sync.EnsureIndexed(ctx); err != nil {
			return fmt.Errorf("initial indexing failed: %w", err)
		}
	}

	ports := &mcp.Ports{
		Query:   app.Query,
		Cache:   app.Cache,
		Catalog: app.Catalog,
		Sync:    app.Sync,
	}

	server, err := mcp.NewServer(ports)
	if err != nil {
		return err
	}

	if port > 0 {
		addr := fmt.Sprintf(":%d", port)
		fmt.Fprintf(cmd.ErrOrStderr(), "MCP server listening on http://localhost%s\n", addr)
		return server.RunHTTP(ctx, addr)
	}

	return server.Run(ctx)
}
