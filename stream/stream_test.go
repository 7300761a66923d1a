package stream

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvents() []Event {
	return []Event{
		ReasoningEvent("Customer asks about LC789012."),
		ToolCallEvent("t1", "query_logistics_status", map[string]interface{}{"order_id": "LC789012"}),
		ToolResultEvent("t1", "query_logistics_status", `{"success":true}`, true),
		ToolCallEvent("t2", "query_order_by_id", map[string]interface{}{"order_id": "LC789012"}),
		ToolResultEvent("t2", "query_order_by_id", `{"success":true}`, true),
		FragmentEvent("## Professional "),
		FragmentEvent("Email Reply\nHi"),
		DoneEvent(""),
	}
}

func TestFormat(t *testing.T) {
	at := time.Date(2025, 3, 5, 9, 8, 7, 0, time.UTC)

	e := ToolCallEvent("t1", "intercept_order_shipping", map[string]interface{}{"order_id": "LC1", "reason": "delay", "n": 2})
	e.Time = at
	assert.Equal(t, "[09:08:07] TOOL CALL: intercept_order_shipping n=2, order_id='LC1', reason='delay'\n", Format(e))

	e = ReasoningEvent("hmm")
	e.Time = at
	assert.Equal(t, "[09:08:07] THINKING: hmm\n", Format(e))

	assert.Equal(t, "raw", Format(FragmentEvent("raw")))

	e = ErrorEvent(ErrTimeout, fmt.Errorf("deadline"))
	e.Time = at
	assert.Equal(t, "[09:08:07] ERROR: agent timed out\n", Format(e))

	e = ToolResultEvent("t1", "query_order_by_id", "line1\nline2", false)
	e.Time = at
	assert.Equal(t, "[09:08:07] TOOL RESULT: query_order_by_id (failed) line1 line2\n", Format(e))
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "agent unavailable: no credentials", ErrorEvent(ErrUnavailable, fmt.Errorf("no credentials")).ErrorMessage())
	assert.Equal(t, "request canceled", ErrorEvent(ErrCanceled, nil).ErrorMessage())
	assert.Equal(t, "boom", ErrorEvent(ErrInternal, fmt.Errorf("boom")).ErrorMessage())
	assert.Empty(t, DoneEvent("x").ErrorMessage())
}

func TestCollector(t *testing.T) {
	c := NewCollector()
	for _, e := range sampleEvents() {
		assert.False(t, c.Completed())
		c.Add(e)
	}
	assert.True(t, c.Completed())
	assert.Equal(t, "## Professional Email Reply\nHi", c.FinalText())
	assert.Equal(t, []string{"query_logistics_status", "query_order_by_id"}, c.ToolsUsed())
	_, failed := c.Err()
	assert.False(t, failed)

	tp := c.ThinkingProcess()
	assert.Contains(t, tp, "THINKING: Customer asks about LC789012.")
	assert.Contains(t, tp, "TOOL CALL: query_logistics_status order_id='LC789012'")
	assert.NotContains(t, tp, "Professional")

	s := c.Summary()
	assert.Contains(t, s, "Total events: 8\n")
	assert.Contains(t, s, "Tool calls: 2\n")
	assert.Contains(t, s, "Text chunks: 2\n")

	c.Reset()
	assert.Empty(t, c.Events())
	assert.False(t, c.Completed())
	assert.Equal(t, "No events to summarize.", c.Summary())
}

func TestCollectorPrefersDoneText(t *testing.T) {
	c := NewCollector()
	c.Add(FragmentEvent("partial"))
	c.Add(DoneEvent("  complete answer \n"))
	assert.Equal(t, "complete answer", c.FinalText())
}

func TestCollectorError(t *testing.T) {
	c := NewCollector()
	c.Add(ReasoningEvent("x"))
	c.Add(ErrorEvent(ErrTimeout, nil))
	require.True(t, c.Completed())
	e, failed := c.Err()
	require.True(t, failed)
	assert.Equal(t, ErrTimeout, e.ErrKind)
	assert.Contains(t, c.Summary(), "Error 1: agent timed out")
}

func TestCategorize(t *testing.T) {
	events := append(sampleEvents(), ErrorEvent(ErrInternal, fmt.Errorf("x")))
	c := Categorize(events)
	assert.Len(t, c.Reasoning, 1)
	assert.Len(t, c.ToolUsage, 4)
	assert.Len(t, c.TextGeneration, 2)
	assert.Len(t, c.Lifecycle, 1)
	assert.Len(t, c.Errors, 1)
}
