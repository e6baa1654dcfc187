// Command mcp exposes escrow support operations as MCP tools over stdio.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/wiredan/wiredan/internal/mcpserver"
)

// Version is set by ldflags.
var Version = "dev"

func main() {
	cfg := mcpserver.Config{
		APIURL: envOrDefault("WIREDAN_API_URL", "http://localhost:8080"),
		Token:  os.Getenv("WIREDAN_API_TOKEN"),
	}

	if cfg.Token == "" {
		fmt.Fprintln(os.Stderr, "WIREDAN_API_TOKEN is required (issue one with POST /v1/admin/tokens)")
		os.Exit(1)
	}

	s := mcpserver.NewMCPServer(cfg, Version)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
