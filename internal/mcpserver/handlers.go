package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/shopspring/decimal"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *Client) *Handlers {
	return &Handlers{client: client}
}

func required(req mcp.CallToolRequest, name string) (string, *mcp.CallToolResult) {
	v := strings.TrimSpace(req.GetString(name, ""))
	if v == "" {
		return "", mcp.NewToolResultError(name + " is required")
	}
	return v, nil
}

// HandleGetOrder shows an order, its escrow and its timeline.
func (h *Handlers) HandleGetOrder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	orderID, bad := required(req, "order_id")
	if bad != nil {
		return bad, nil
	}
	raw, err := h.client.GetOrder(ctx, orderID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get order: %v", err)), nil
	}
	text, err := formatOrder(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse order: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleVerifyPayment re-checks a reference with the provider.
func (h *Handlers) HandleVerifyPayment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, bad := required(req, "reference")
	if bad != nil {
		return bad, nil
	}
	raw, err := h.client.VerifyPayment(ctx, ref)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Verification failed: %v", err)), nil
	}

	var res struct {
		Outcome        string          `json:"outcome"`
		Applied        bool            `json:"applied"`
		ProviderStatus string          `json:"providerStatus"`
		Escrow         json.RawMessage `json:"escrow"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse result: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Reference: %s\n", ref)
	switch res.Outcome {
	case "held":
		if res.Applied {
			sb.WriteString("Payment confirmed. Funds are now held in escrow.\n")
		} else {
			sb.WriteString("Payment was already confirmed earlier. Nothing changed.\n")
		}
	case "failed":
		sb.WriteString("Payment failed at the provider. The order is back to created and the buyer can retry checkout.\n")
	case "pending":
		sb.WriteString("The provider still reports this payment as in progress.\n")
	case "unchanged":
		sb.WriteString("This escrow is no longer pending. Nothing to verify.\n")
	default:
		fmt.Fprintf(&sb, "Outcome: %s\n", res.Outcome)
	}
	if res.ProviderStatus != "" {
		fmt.Fprintf(&sb, "Provider status: %s\n", res.ProviderStatus)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleListDisputes shows an order's disputes.
func (h *Handlers) HandleListDisputes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	orderID, bad := required(req, "order_id")
	if bad != nil {
		return bad, nil
	}
	raw, err := h.client.ListDisputes(ctx, orderID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list disputes: %v", err)), nil
	}

	var resp struct {
		Disputes []map[string]any `json:"disputes"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse disputes: %v", err)), nil
	}
	if len(resp.Disputes) == 0 {
		return mcp.NewToolResultText("No disputes on this order."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d dispute(s):\n\n", len(resp.Disputes))
	for i, d := range resp.Disputes {
		fmt.Fprintf(&sb, "%d. Opened by %s at %s\n", i+1, getString(d, "openedBy"), getString(d, "openedAt"))
		fmt.Fprintf(&sb, "   Reason: %s\n", getString(d, "reason"))
		if res := getString(d, "resolution"); res != "" {
			fmt.Fprintf(&sb, "   Resolved: %s by %s\n", res, getString(d, "resolvedBy"))
		} else {
			sb.WriteString("   Open\n")
		}
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleResolveDispute settles a disputed order.
func (h *Handlers) HandleResolveDispute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	orderID, bad := required(req, "order_id")
	if bad != nil {
		return bad, nil
	}
	action := req.GetString("action", "")
	if action != "release" && action != "refund" {
		return mcp.NewToolResultError("action must be 'release' or 'refund'"), nil
	}

	raw, err := h.client.ResolveDispute(ctx, orderID, action)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to resolve dispute: %v", err)), nil
	}
	return mcp.NewToolResultText("Dispute resolved.\n\n" + formatEscrowResult(raw)), nil
}

// HandleRefundEscrow refunds a held escrow.
func (h *Handlers) HandleRefundEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	orderID, bad := required(req, "order_id")
	if bad != nil {
		return bad, nil
	}
	raw, err := h.client.RefundEscrow(ctx, orderID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Refund failed: %v", err)), nil
	}
	return mcp.NewToolResultText("Refund applied.\n\n" + formatEscrowResult(raw)), nil
}

// HandleListDeliveries shows webhook deliveries.
func (h *Handlers) HandleListDeliveries(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 20)
	raw, err := h.client.ListDeliveries(ctx, req.GetString("reference", ""), limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list deliveries: %v", err)), nil
	}

	var resp struct {
		Deliveries []map[string]any `json:"deliveries"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse deliveries: %v", err)), nil
	}
	if len(resp.Deliveries) == 0 {
		return mcp.NewToolResultText("No webhook deliveries found."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d deliver(ies), newest first:\n\n", len(resp.Deliveries))
	for _, d := range resp.Deliveries {
		sig := "bad signature"
		if v, ok := d["signatureOk"].(bool); ok && v {
			sig = "signed"
		}
		fmt.Fprintf(&sb, "- %s %s [%s, %s]", getString(d, "receivedAt"), getString(d, "event"), getString(d, "outcome"), sig)
		if ref := getString(d, "reference"); ref != "" {
			fmt.Fprintf(&sb, " ref=%s", ref)
		}
		if detail := getString(d, "detail"); detail != "" {
			fmt.Fprintf(&sb, ": %s", detail)
		}
		sb.WriteString("\n")
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleReconcilePending runs a reconciliation pass.
func (h *Handlers) HandleReconcilePending(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ReconcilePending(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Reconciliation failed: %v", err)), nil
	}

	var r struct {
		Checked      int `json:"checked"`
		Held         int `json:"held"`
		Failed       int `json:"failed"`
		StillPending int `json:"stillPending"`
		Errors       []struct {
			OrderID string `json:"orderId"`
			Error   string `json:"error"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse report: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Checked %d pending payment(s):\n", r.Checked)
	fmt.Fprintf(&sb, "  Confirmed: %d\n", r.Held)
	fmt.Fprintf(&sb, "  Failed:    %d\n", r.Failed)
	fmt.Fprintf(&sb, "  Pending:   %d\n", r.StillPending)
	for _, e := range r.Errors {
		fmt.Fprintf(&sb, "  Error on %s: %s\n", e.OrderID, e.Error)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// --- formatting ---

// formatMinor renders minor units as a two-decimal amount.
func formatMinor(v float64, currency string) string {
	amt := decimal.NewFromInt(int64(v)).Shift(-2).StringFixed(2)
	if currency == "" {
		return amt
	}
	return currency + " " + amt
}

func formatOrder(raw json.RawMessage) (string, error) {
	var resp struct {
		Order    map[string]any   `json:"order"`
		Escrow   map[string]any   `json:"escrow"`
		Timeline []map[string]any `json:"timeline"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if resp.Order == nil {
		return "", fmt.Errorf("unexpected order response format")
	}

	o := resp.Order
	currency := getString(o, "currency")
	var sb strings.Builder
	fmt.Fprintf(&sb, "Order %s\n", getString(o, "id"))
	fmt.Fprintf(&sb, "  Status:   %s\n", getString(o, "status"))
	fmt.Fprintf(&sb, "  Buyer:    %s\n", getString(o, "buyerId"))
	fmt.Fprintf(&sb, "  Seller:   %s\n", getString(o, "sellerId"))
	if total, ok := getFloat(o, "totalMinor"); ok {
		fmt.Fprintf(&sb, "  Total:    %s\n", formatMinor(total, currency))
	}

	if e := resp.Escrow; e != nil {
		sb.WriteString("\nEscrow:\n")
		fmt.Fprintf(&sb, "  Status:    %s\n", getString(e, "status"))
		fmt.Fprintf(&sb, "  Reference: %s\n", getString(e, "providerReference"))
		if fee, ok := getFloat(e, "buyerFeeMinor"); ok {
			fmt.Fprintf(&sb, "  Buyer fee: %s\n", formatMinor(fee, currency))
		}
	}

	if len(resp.Timeline) > 0 {
		sb.WriteString("\nTimeline:\n")
		for _, ev := range resp.Timeline {
			from, to := getString(ev, "from"), getString(ev, "to")
			line := from + " -> " + to
			if from == to {
				line = "note"
			}
			fmt.Fprintf(&sb, "  %s  %s by %s", getString(ev, "createdAt"), line, getString(ev, "actor"))
			if note := getString(ev, "note"); note != "" {
				fmt.Fprintf(&sb, " (%s)", note)
			}
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}

func formatEscrowResult(raw json.RawMessage) string {
	var resp struct {
		Escrow map[string]any `json:"escrow"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Escrow == nil {
		return formatJSON(raw)
	}
	e := resp.Escrow
	currency := getString(e, "currency")
	var sb strings.Builder
	fmt.Fprintf(&sb, "Order:  %s\n", getString(e, "orderId"))
	fmt.Fprintf(&sb, "Status: %s\n", getString(e, "status"))
	if amt, ok := getFloat(e, "amountMinor"); ok {
		fmt.Fprintf(&sb, "Amount: %s\n", formatMinor(amt, currency))
	}
	if fee, ok := getFloat(e, "sellerFeeMinor"); ok && fee > 0 {
		fmt.Fprintf(&sb, "Seller fee: %s\n", formatMinor(fee, currency))
	}
	return sb.String()
}

func formatJSON(raw json.RawMessage) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return string(raw)
	}
	return pretty.String()
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%g", f)
			}
		}
	}
	return ""
}

// getFloat extracts a float64 value from a map, trying multiple key names.
func getFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f, ok := v.(float64); ok {
				return f, true
			}
		}
	}
	return 0, false
}
