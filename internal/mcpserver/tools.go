package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the escrow support MCP server. Descriptions are what
// the model reads to pick a tool.

var ToolGetOrder = mcp.NewTool("get_order",
	mcp.WithDescription(
		"Look up a marketplace order: its status, amount, escrow state and the full "+
			"status timeline. Use this first when a buyer or seller asks about an order."),
	mcp.WithString("order_id",
		mcp.Required(),
		mcp.Description("Order id, e.g. 'ord_3f2a...'")),
)

var ToolVerifyPayment = mcp.NewTool("verify_payment",
	mcp.WithDescription(
		"Ask the payment provider for the authoritative status of a checkout reference "+
			"and apply it. Use when a buyer says they paid but the order is still pending."),
	mcp.WithString("reference",
		mcp.Required(),
		mcp.Description("Provider transaction reference from the checkout")),
)

var ToolListDisputes = mcp.NewTool("list_disputes",
	mcp.WithDescription("Show every dispute opened on an order with its reason and resolution."),
	mcp.WithString("order_id",
		mcp.Required(),
		mcp.Description("Order id")),
)

var ToolResolveDispute = mcp.NewTool("resolve_dispute",
	mcp.WithDescription(
		"Settle a disputed order. 'release' pays the seller the order total minus the "+
			"seller fee; 'refund' credits the buyer the order total. This moves money and "+
			"cannot be undone."),
	mcp.WithString("order_id",
		mcp.Required(),
		mcp.Description("Order id of a disputed order")),
	mcp.WithString("action",
		mcp.Required(),
		mcp.Description("Resolution to apply"),
		mcp.Enum("release", "refund")),
)

var ToolRefundEscrow = mcp.NewTool("refund_escrow",
	mcp.WithDescription(
		"Refund a paid order to the buyer without a dispute, e.g. when the seller cancels. "+
			"Only orders whose payment is held in escrow can be refunded."),
	mcp.WithString("order_id",
		mcp.Required(),
		mcp.Description("Order id")),
)

var ToolListDeliveries = mcp.NewTool("list_webhook_deliveries",
	mcp.WithDescription(
		"Show provider webhook deliveries with their signature check and outcome "+
			"(applied, ignored, rejected, error). Use to diagnose a payment that never settled."),
	mcp.WithString("reference",
		mcp.Description("Only deliveries for this transaction reference")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum deliveries to return (default 20)")),
)

var ToolReconcilePending = mcp.NewTool("reconcile_pending",
	mcp.WithDescription(
		"Re-check every payment that has been pending longer than the configured window "+
			"with the provider and report how many were settled, failed or still pending."),
)
