package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/m4xw311/mailtriage/config"
	"github.com/m4xw311/mailtriage/metrics"
	"github.com/m4xw311/mailtriage/store"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newRegistry(t *testing.T) (*ToolRegistry, *metrics.Recorder) {
	t.Helper()
	st, err := store.Load("../store/testdata", zaptest.NewLogger(t))
	require.NoError(t, err)
	rec := metrics.New()
	r, err := NewToolRegistry(st, rec, zaptest.NewLogger(t))
	require.NoError(t, err)
	return r, rec
}

func call(t *testing.T, r *ToolRegistry, name string, args map[string]interface{}) Result {
	t.Helper()
	tool, ok := r.GetTool(name)
	require.True(t, ok, name)
	out, err := tool.Execute(context.Background(), args)
	require.NoError(t, err)
	res, ok := ParseResult(out)
	require.True(t, ok, out)
	return res
}

func TestRegistryHasBusinessTools(t *testing.T) {
	r, _ := newRegistry(t)
	want := []string{
		"intercept_order_shipping",
		"query_batch_code",
		"query_customer_by_email",
		"query_document_templates",
		"query_general_inquiry",
		"query_inventory_status",
		"query_logistics_status",
		"query_order_by_id",
		"query_orders_by_customer",
		"query_product_by_id",
		"query_shipped_invoice",
	}
	var got []string
	for _, tool := range r.Tools() {
		got = append(got, tool.Name())
		assert.Equal(t, "object", tool.InputSchema()["type"], tool.Name())
		assert.NotEmpty(t, tool.Description(), tool.Name())
	}
	assert.Equal(t, want, got)
}

func TestGetActiveTools(t *testing.T) {
	r, _ := newRegistry(t)

	tests := []struct {
		name    string
		tools   []string
		want    int
		wantErr bool
	}{
		{"wildcard", []string{"*"}, 11, false},
		{"prefix", []string{"query_order*"}, 2, false},
		{"explicit and overlapping", []string{"query_order_by_id", "query_order*"}, 2, false},
		{"unknown", []string{"delete_everything"}, 0, true},
		{"mcp server without connection", []string{"crm.*"}, 0, true},
		{"bad pattern", []string{"query_["}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.GetActiveTools(&config.Toolset{Name: "test", Tools: tt.tools})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestQueryOrder(t *testing.T) {
	r, _ := newRegistry(t)

	res := call(t, r, "query_order_by_id", map[string]interface{}{"order_id": "lc123456"})
	assert.True(t, res.Success)
	assert.Equal(t, "Successfully retrieved order LC123456", res.Message)

	res = call(t, r, "query_order_by_id", map[string]interface{}{"order_id": "LC000000"})
	assert.False(t, res.Success)
	assert.Equal(t, "Order LC000000 does not exist", res.Message)
}

func TestSchemaViolationIsAStructuredResult(t *testing.T) {
	r, rec := newRegistry(t)

	res := call(t, r, "query_order_by_id", map[string]interface{}{})
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "order_id")

	res = call(t, r, "query_order_by_id", map[string]interface{}{"order_id": 42})
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "order_id")

	res = call(t, r, "query_customer_by_email", nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "email")

	assert.Equal(t, 2.0, testutil.ToFloat64(rec.ToolCalls.WithLabelValues("query_order_by_id", "false")))
}

func TestOrdersByCustomer(t *testing.T) {
	r, _ := newRegistry(t)

	res := call(t, r, "query_orders_by_customer", map[string]interface{}{"customer_email": "alice@example.com"})
	require.True(t, res.Success)
	assert.Equal(t, "Customer alice@example.com has 2 orders", res.Message)

	res = call(t, r, "query_orders_by_customer", map[string]interface{}{"customer_email": "ghost@example.com"})
	assert.False(t, res.Success)
	assert.Equal(t, []interface{}{}, res.Data)
}

func TestInterceptTool(t *testing.T) {
	r, rec := newRegistry(t)

	res := call(t, r, "intercept_order_shipping", map[string]interface{}{
		"order_id": "LC789012", "reason": "address_change", "new_address": "x",
	})
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "already been shipped")
	assert.Equal(t, "already shipped", res.Data.(map[string]interface{})["reason"])

	res = call(t, r, "intercept_order_shipping", map[string]interface{}{
		"order_id": "LC123456", "reason": "Change delivery address", "new_address": "200 Oak Ave",
	})
	require.True(t, res.Success, res.Message)
	data := res.Data.(map[string]interface{})
	assert.Equal(t, "Intercepted", data["status"])
	assert.Equal(t, "200 Oak Ave", data["shipping_address"])

	res = call(t, r, "intercept_order_shipping", map[string]interface{}{"order_id": "LC123456", "reason": "delay"})
	assert.True(t, res.Success)
	assert.Equal(t, "Order LC123456 is already intercepted", res.Message)

	res = call(t, r, "intercept_order_shipping", map[string]interface{}{"order_id": "LC123456", "reason": "vibes"})
	assert.False(t, res.Success)

	res = call(t, r, "intercept_order_shipping", map[string]interface{}{"order_id": "LC000000", "reason": "delay"})
	assert.False(t, res.Success)
	assert.Equal(t, "Order LC000000 does not exist", res.Message)

	assert.Equal(t, 1.0, testutil.ToFloat64(rec.Interceptions.WithLabelValues("intercepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.Interceptions.WithLabelValues("already_shipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.Interceptions.WithLabelValues("already_intercepted")))

	logistics := call(t, r, "query_logistics_status", map[string]interface{}{"order_id": "LC123456"})
	require.True(t, logistics.Success)
	assert.Equal(t, "Order LC123456 logistics status: Intercepted", logistics.Message)
}

func TestCatalogTools(t *testing.T) {
	r, _ := newRegistry(t)

	res := call(t, r, "query_product_by_id", map[string]interface{}{"product_id": "LM358DR"})
	assert.True(t, res.Success)

	res = call(t, r, "query_inventory_status", map[string]interface{}{"product_id": "LM358DR"})
	assert.True(t, res.Success)
	assert.Equal(t, "Product LM358DR stock status: Low Stock", res.Message)

	res = call(t, r, "query_batch_code", map[string]interface{}{})
	assert.False(t, res.Success)
	assert.Equal(t, "Provide at least one of product_id, order_id or batch_code", res.Message)

	res = call(t, r, "query_batch_code", map[string]interface{}{"order_id": "LC123456"})
	assert.True(t, res.Success)

	res = call(t, r, "query_document_templates", map[string]interface{}{})
	assert.True(t, res.Success)
	assert.Equal(t, "Found 2 document templates", res.Message)

	res = call(t, r, "query_shipped_invoice", map[string]interface{}{"order_id": "LC123456"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "Preparing")

	res = call(t, r, "query_shipped_invoice", map[string]interface{}{"order_id": "LC789012"})
	assert.True(t, res.Success)

	res = call(t, r, "query_general_inquiry", map[string]interface{}{"topic": "do you ship internationally"})
	require.True(t, res.Success)
	first := res.Data.([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "Shipping", first["category"])
}

func TestExecuteHonoursCancelledContext(t *testing.T) {
	r, _ := newRegistry(t)
	tool, _ := r.GetTool("query_order_by_id")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tool.Execute(ctx, map[string]interface{}{"order_id": "LC123456"})
	assert.Error(t, err)
}

func TestParseResult(t *testing.T) {
	_, ok := ParseResult("plain text")
	assert.False(t, ok)
	_, ok = ParseResult(`{"other":1}`)
	assert.False(t, ok)

	b, _ := json.Marshal(Result{Success: true, Message: "m"})
	res, ok := ParseResult(string(b))
	assert.True(t, ok)
	assert.Equal(t, "m", res.Message)
}
