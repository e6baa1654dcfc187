package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates an MCP server with the support tools registered.
func NewMCPServer(cfg Config, version string) *server.MCPServer {
	s := server.NewMCPServer("wiredan-escrow", version)
	h := NewHandlers(NewClient(cfg))

	s.AddTool(ToolGetOrder, h.HandleGetOrder)
	s.AddTool(ToolVerifyPayment, h.HandleVerifyPayment)
	s.AddTool(ToolListDisputes, h.HandleListDisputes)
	s.AddTool(ToolResolveDispute, h.HandleResolveDispute)
	s.AddTool(ToolRefundEscrow, h.HandleRefundEscrow)
	s.AddTool(ToolListDeliveries, h.HandleListDeliveries)
	s.AddTool(ToolReconcilePending, h.HandleReconcilePending)

	return s
}
