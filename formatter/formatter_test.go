package formatter

import (
	"strings"
	"testing"
	"time"

	"github.com/m4xw311/mailtriage/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wellFormed = `## Intent Classification
Primary Intent: Logistics Status Inquiry
Secondary Intent: None
Confidence: High
Reasoning: The customer asks where order LC789012 is.

## Logistics/Order Status
Order ID: LC789012
Status: In Transit, DHL tracking number DHL99887766

## Professional Email Reply
Dear Alice,

Your order LC789012 is in transit with DHL (tracking number DHL99887766).

Best regards,
Customer Service`

func TestParseWellFormed(t *testing.T) {
	r := Parse(wellFormed)
	assert.True(t, r.OK(), r.Violations)
	assert.False(t, r.Fallback)
	require.True(t, r.Intent.Present)
	require.True(t, r.Status.Present)
	require.True(t, r.Reply.Present)
	assert.True(t, strings.HasPrefix(r.Intent.Text, "Primary Intent: Logistics Status Inquiry"))
	assert.Equal(t, "Order ID: LC789012\nStatus: In Transit, DHL tracking number DHL99887766", r.Status.Text)
	assert.True(t, strings.HasPrefix(r.Reply.Text, "Dear Alice,"))
	assert.True(t, strings.HasSuffix(r.Reply.Text, "Customer Service"))
}

func TestParseToleratesHeadingVariants(t *testing.T) {
	variants := []string{
		"# INTENT CLASSIFICATION\nA\n### logistics / order status\nB\n#### professional email reply\nC",
		"**Intent Classification**\nA\n**Logistics/Order Status:**\nB\n**Professional Email Reply:**\nC",
		"  ##   Intent   Classification  \nA\n\n\n## 2. Logistics/Order Status\nB\n## 3) Professional Email Reply\n\n  C  \n",
		"Intent Classification\nA\nLogistics/Order Status\nB\nProfessional Email Reply\nC",
	}
	for _, v := range variants {
		r := Parse(v)
		assert.Equal(t, "A", r.Intent.Text, v)
		assert.Equal(t, "B", r.Status.Text, v)
		assert.Equal(t, "C", r.Reply.Text, v)
		assert.True(t, r.OK(), v)
	}
}

func TestParseReplyOnly(t *testing.T) {
	r := Parse("Some preamble\n## Professional Email Reply\nHello there")
	assert.False(t, r.Intent.Present)
	assert.False(t, r.Status.Present)
	assert.Equal(t, "Hello there", r.Reply.Text)
	assert.False(t, r.Fallback)
}

func TestParseFallback(t *testing.T) {
	raw := "Dear customer, your order has shipped."
	r := Parse(raw)
	assert.True(t, r.Fallback)
	assert.False(t, r.OK())
	assert.False(t, r.Intent.Present)
	assert.False(t, r.Status.Present)
	assert.Equal(t, raw, r.Reply.Text)

	// Sections without a reply still fall back to the whole text.
	raw = "## Intent Classification\nPrimary Intent: Others Inquiry\n## Logistics/Order Status\nN/A"
	r = Parse(raw)
	assert.True(t, r.Fallback)
	assert.False(t, r.Intent.Present)
	assert.Equal(t, raw, r.Reply.Text)
}

func TestParseEmpty(t *testing.T) {
	r := Parse("  \n\t")
	assert.False(t, r.Reply.Present)
	assert.Equal(t, []string{"empty response"}, r.Violations)
}

func TestParseEmptyReplyIsViolation(t *testing.T) {
	r := Parse("## Intent Classification\nX\n## Professional Email Reply\n")
	assert.True(t, r.Reply.Present)
	assert.Empty(t, r.Reply.Text)
	assert.False(t, r.OK())
}

func TestParseOutOfOrder(t *testing.T) {
	r := Parse("## Logistics/Order Status\nB\n## Intent Classification\nA\n## Professional Email Reply\nC")
	assert.Equal(t, "A", r.Intent.Text)
	assert.Equal(t, "B", r.Status.Text)
	assert.Contains(t, r.Violations, "sections out of order")
}

func TestHeadingsInsideReplyStayInReply(t *testing.T) {
	r := Parse("## Professional Email Reply\nHi\n## Intent Classification\nquoted")
	assert.False(t, r.Intent.Present)
	assert.Equal(t, "Hi\n## Intent Classification\nquoted", r.Reply.Text)
}

func TestRenderIsIdempotent(t *testing.T) {
	inputs := []string{
		wellFormed,
		"Dear customer, plain text only.",
		"## Professional Email Reply\nHi\n## Intent Classification\nquoted",
		"## Intent Classification\nA\n## Intent Classification\nduplicate\n## Professional Email Reply\nC",
		AppendInternalNotes(wellFormed, Notes{ToolsUsed: []string{"query_logistics_status"}, Duration: time.Second}),
	}
	for _, in := range inputs {
		first := Parse(in)
		second := Parse(first.Render())
		assert.Equal(t, first.Intent, second.Intent, in)
		assert.Equal(t, first.Status, second.Status, in)
		assert.Equal(t, first.Reply, second.Reply, in)
		assert.Equal(t, first.Render(), second.Render(), in)
	}
}

func TestParseCRLF(t *testing.T) {
	raw := "Dear customer,\r\nyour order shipped.\r\nRegards"
	first := Parse(raw)
	assert.True(t, first.Fallback)
	assert.Equal(t, "Dear customer,\nyour order shipped.\nRegards", first.Reply.Text)
	assert.Equal(t, first.Reply, Parse(first.Render()).Reply)

	headed := Parse(strings.ReplaceAll(wellFormed, "\n", "\r\n"))
	assert.True(t, headed.OK(), headed.Violations)
	assert.Equal(t, Parse(wellFormed).Reply, headed.Reply)
	assert.Equal(t, headed.Reply, Parse(headed.Render()).Reply)
}

func TestParseLongLine(t *testing.T) {
	long := strings.Repeat("x", 2*1024*1024)
	r := Parse("## Professional Email Reply\n" + long)
	assert.Equal(t, long, r.Reply.Text)
}

func TestInternalNotesAreIgnored(t *testing.T) {
	generated := time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)
	text := AppendInternalNotes(wellFormed, Notes{
		ToolsUsed: []string{"query_logistics_status", "query_order_by_id"},
		Duration:  2500 * time.Millisecond,
		Generated: generated,
	})
	assert.Contains(t, text, "## Internal Notes\n- Tools Used: query_logistics_status, query_order_by_id\n- Processing Time: 2.50 seconds\n- Generated: 2025-03-05 10:00:00")

	r := Parse(text)
	assert.Equal(t, Parse(wellFormed).Reply, r.Reply)

	assert.Equal(t, "x", AppendInternalNotes("x", Notes{}))
}

func TestValidate(t *testing.T) {
	got := Validate(wellFormed)
	assert.Equal(t, map[string]bool{
		protocol.HeadingIntent: true,
		protocol.HeadingStatus: true,
		protocol.HeadingReply:  true,
	}, got)

	got = Validate("## Professional Email Reply\nHi")
	assert.False(t, got[protocol.HeadingIntent])
	assert.True(t, got[protocol.HeadingReply])
}

func TestExtractIntents(t *testing.T) {
	text := `- **Primary Intent:** Pre-shipment Order Interception
- Secondary Intent: Logistics Status Inquiry
- Confidence: Medium
- Sub-category: <only for Others Inquiry>`
	intents := ExtractIntents(text)
	require.Len(t, intents, 2)
	assert.Equal(t, protocol.PreShipmentInterception, intents[0].Category)
	assert.Equal(t, protocol.LogisticsStatus, intents[1].Category)
	assert.Equal(t, protocol.Medium, intents[1].Confidence)
	assert.Empty(t, intents[1].SubCategory)
}

func TestResponseClassification(t *testing.T) {
	cl, ok := Parse(wellFormed).Classification()
	require.True(t, ok)
	assert.Equal(t, protocol.LogisticsStatus, cl.Primary)
	assert.Equal(t, protocol.High, cl.Confidence)
	assert.Nil(t, cl.Secondary)

	others := "## Intent Classification\nPrimary Intent: Others Inquiry\nSecondary Intent: None\nSub-category: price\nConfidence: Low\n## Professional Email Reply\nHi"
	cl, ok = Parse(others).Classification()
	require.True(t, ok)
	assert.Equal(t, protocol.OthersInquiry, cl.Primary)
	assert.Equal(t, "price", cl.SubCategory)
	assert.Equal(t, protocol.Low, cl.Confidence)

	_, ok = Parse("just text").Classification()
	assert.False(t, ok)
}

func TestOrderIDs(t *testing.T) {
	assert.Equal(t, []string{"LC789012"}, OrderIDs(wellFormed))
	assert.Equal(t, []string{"LC123456", "LC789012"}, OrderIDs("Order ID: lc123456\nalso LC789012 and LC123456"))
	assert.Empty(t, OrderIDs("Order ID: N/A"))
}
