package agent

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/m4xw311/mailtriage/config"
	"github.com/m4xw311/mailtriage/errors"
	"github.com/m4xw311/mailtriage/llm"
	"github.com/m4xw311/mailtriage/metrics"
	"github.com/m4xw311/mailtriage/protocol"
	"github.com/m4xw311/mailtriage/session"
	"github.com/m4xw311/mailtriage/store"
	"github.com/m4xw311/mailtriage/stream"
	"github.com/m4xw311/mailtriage/tools"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const wellFormed = `## Intent Classification
Primary Intent: Logistics Status Inquiry
Secondary Intent: None
Confidence: High
Reasoning: The customer asks where the order is.

## Logistics/Order Status
Order ID: LC789012
Status: In Transit with DHL

## Professional Email Reply
Dear Alice,

Your order LC789012 is on its way.

Best regards,
Customer Service Team`

func newTestAgent(t *testing.T, client llm.LLMClient, opts ...Option) *Agent {
	t.Helper()
	st, err := store.Load("../store/testdata", zaptest.NewLogger(t))
	require.NoError(t, err)
	reg, err := tools.NewToolRegistry(st, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	sess, err := session.New("agent-test")
	require.NoError(t, err)

	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	a, err := New(config.Default(), reg, sess, "default", ModeAuto, client, opts...)
	require.NoError(t, err)
	return a
}

func drain(t *testing.T, events <-chan stream.Event) []stream.Event {
	t.Helper()
	var out []stream.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, e)
		case <-timeout:
			t.Fatal("event stream was not closed")
			return out
		}
	}
}

func kinds(events []stream.Event) []stream.Kind {
	out := make([]stream.Kind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}

func TestSettings(t *testing.T) {
	s := SettingsFromConfig(config.Default())
	assert.Equal(t, int64(3072), s.MaxOutputTokens())
	assert.NoError(t, s.Validate())

	s.ThinkingBudget = 512
	assert.ErrorIs(t, s.Validate(), errors.ErrInvalid)

	s.Thinking = false
	assert.NoError(t, s.Validate(), "a small budget is fine without thinking")

	s.Timeout = 0
	assert.ErrorIs(t, s.Validate(), errors.ErrInvalid)
}

func TestConfigure(t *testing.T) {
	a := newTestAgent(t, llm.NewScriptedLLMClient())

	s, err := a.Configure(func(s *Settings) { s.ThinkingBudget = 4096 })
	require.NoError(t, err)
	assert.Equal(t, int64(4096), s.ThinkingBudget)
	assert.Equal(t, int64(6144), a.Settings().MaxOutputTokens())

	_, err = a.Configure(func(s *Settings) { s.ThinkingBudget = 100 })
	assert.ErrorIs(t, err, errors.ErrInvalid)
	assert.Equal(t, int64(4096), a.Settings().ThinkingBudget, "rejected settings must not apply")

	_, err = a.Configure(func(s *Settings) { s.Model = "claude-3-5-sonnet" })
	assert.Error(t, err, "switching models needs a client factory")
}

func TestConfigureSwitchesClient(t *testing.T) {
	next := llm.NewScriptedLLMClient(llm.ScriptedReply{Text: wellFormed})
	var built string
	factory := func(_ context.Context, model string) (llm.LLMClient, error) {
		built = model
		return next, nil
	}
	a := newTestAgent(t, llm.NewScriptedLLMClient(), WithClientFactory(factory))

	_, err := a.Configure(func(s *Settings) { s.Model = "claude-3-5-sonnet" })
	require.NoError(t, err)
	assert.Equal(t, "claude-3-5-sonnet", built)

	_, err = a.Triage(context.Background(), protocol.Inquiry{Body: "hello"})
	require.NoError(t, err)
	assert.Equal(t, 1, next.Calls())
}

func TestInvokeStreamsTheToolLoop(t *testing.T) {
	client := llm.NewScriptedLLMClient(
		llm.ScriptedReply{
			Thinking: "look up the order",
			ToolCalls: []session.ToolCall{{
				ToolCallID: "tu_1",
				Name:       "query_order_by_id",
				Args:       map[string]interface{}{"order_id": "LC789012"},
			}},
		},
		llm.ScriptedReply{Text: wellFormed},
	)
	a := newTestAgent(t, client)

	events, err := a.Invoke(context.Background(), Request{Prompt: "Where is LC789012?"})
	require.NoError(t, err)
	got := drain(t, events)

	require.GreaterOrEqual(t, len(got), 5)
	assert.Equal(t, []stream.Kind{stream.Reasoning, stream.ToolCall, stream.ToolResult}, kinds(got[:3]))
	for _, e := range got[3 : len(got)-1] {
		assert.Equal(t, stream.OutputFragment, e.Kind)
	}
	last := got[len(got)-1]
	assert.Equal(t, stream.Done, last.Kind)
	assert.Equal(t, wellFormed, last.Text)

	result := got[2].ToolResult
	require.NotNil(t, result)
	assert.True(t, result.Success)
	assert.Equal(t, "tu_1", result.ID)

	require.Equal(t, 2, client.Calls())
	second := client.Requests[1]
	assert.Equal(t, "system", second[0].Role)
	assert.Equal(t, "tool", second[len(second)-1].Role)
	assert.Contains(t, second[len(second)-1].Content, `"success":true`)
	assert.Equal(t, int64(3072), client.Options[0].MaxTokens)
	assert.True(t, client.Options[0].Thinking)
	assert.False(t, a.Busy())
}

func TestInvokeIsSingleFlight(t *testing.T) {
	client := llm.NewScriptedLLMClient(
		llm.ScriptedReply{Text: wellFormed, Delay: 100 * time.Millisecond},
		llm.ScriptedReply{Text: wellFormed},
	)
	a := newTestAgent(t, client)

	first, err := a.Invoke(context.Background(), Request{Prompt: "one"})
	require.NoError(t, err)

	_, err = a.Invoke(context.Background(), Request{Prompt: "two"})
	assert.ErrorIs(t, err, errors.ErrBusy)
	assert.ErrorIs(t, a.ProcessUserInput(context.Background(), "three", ProcessCallbacks{}), errors.ErrBusy)

	drain(t, first)
	again, err := a.Invoke(context.Background(), Request{Prompt: "four"})
	require.NoError(t, err, "the agent is free once the stream is closed")
	drain(t, again)
}

func TestInvokeIsFreeAtTheTerminalEvent(t *testing.T) {
	client := llm.NewScriptedLLMClient(llm.ScriptedReply{Text: "one"}, llm.ScriptedReply{Text: "two"})
	a := newTestAgent(t, client)

	first, err := a.Invoke(context.Background(), Request{Prompt: "one"})
	require.NoError(t, err)
	for e := range first {
		if e.Terminal() {
			break
		}
	}
	again, err := a.Invoke(context.Background(), Request{Prompt: "two"})
	require.NoError(t, err, "a consumer that stops at the terminal event may invoke again")
	drain(t, again)
	drain(t, first)
}

func TestInvokeTimeout(t *testing.T) {
	rec := metrics.New()
	client := llm.NewScriptedLLMClient(llm.ScriptedReply{Text: "late", Delay: time.Hour})
	settings := SettingsFromConfig(config.Default())
	settings.Timeout = 20 * time.Millisecond
	a := newTestAgent(t, client, WithSettings(settings), WithMetrics(rec))

	events, err := a.Invoke(context.Background(), Request{Prompt: "slow"})
	require.NoError(t, err)
	got := drain(t, events)

	require.Len(t, got, 1)
	assert.Equal(t, stream.Error, got[0].Kind)
	assert.Equal(t, stream.ErrTimeout, got[0].ErrKind)
	assert.Equal(t, "agent timed out", got[0].ErrorMessage())
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.Invocations.WithLabelValues("timeout")))
}

func TestInvokeCanceled(t *testing.T) {
	client := llm.NewScriptedLLMClient(llm.ScriptedReply{Text: "late", Delay: time.Hour})
	a := newTestAgent(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := a.Invoke(ctx, Request{Prompt: "slow"})
	require.NoError(t, err)
	time.AfterFunc(10*time.Millisecond, cancel)
	got := drain(t, events)

	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, stream.ErrCanceled, last.ErrKind)
	assert.Equal(t, "request canceled", last.ErrorMessage())
}

func TestInvokeUnavailable(t *testing.T) {
	client := llm.NewScriptedLLMClient(llm.ScriptedReply{Err: fmt.Errorf("%w: connection refused", errors.ErrAgentUnavailable)})
	a := newTestAgent(t, client)

	events, err := a.Invoke(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)
	got := drain(t, events)

	require.Len(t, got, 1)
	assert.Equal(t, stream.ErrUnavailable, got[0].ErrKind)
	assert.Contains(t, got[0].ErrorMessage(), "agent unavailable")
	assert.Equal(t, 1, client.Calls(), "availability errors are not retried")
}

func TestInvokeStopsAfterMaxIterations(t *testing.T) {
	loop := llm.ScriptedReply{ToolCalls: []session.ToolCall{{ToolCallID: "x", Name: "query_document_templates", Args: map[string]interface{}{}}}}
	settings := SettingsFromConfig(config.Default())
	settings.MaxIterations = 2
	a := newTestAgent(t, llm.NewScriptedLLMClient(loop, loop, loop), WithSettings(settings))

	events, err := a.Invoke(context.Background(), Request{Prompt: "loop"})
	require.NoError(t, err)
	got := drain(t, events)

	last := got[len(got)-1]
	assert.Equal(t, stream.ErrInternal, last.ErrKind)
	assert.Contains(t, last.ErrorMessage(), "no final answer")
}

func TestDeclinedAndUnknownTools(t *testing.T) {
	client := llm.NewScriptedLLMClient(
		llm.ScriptedReply{ToolCalls: []session.ToolCall{
			{ToolCallID: "a", Name: "intercept_order_shipping", Args: map[string]interface{}{"order_id": "LC123456", "reason": "cancellation"}},
			{ToolCallID: "b", Name: "delete_everything"},
		}},
		llm.ScriptedReply{Text: wellFormed},
	)
	a := newTestAgent(t, client)

	var warnings []string
	var results []string
	err := a.ProcessUserInput(context.Background(), "Cancel LC123456", ProcessCallbacks{
		ShouldExecuteTool: func(tc session.ToolCall) bool { return tc.Name != "intercept_order_shipping" },
		OnToolResult:      func(_ session.ToolCall, r string) { results = append(results, r) },
		OnWarning:         func(w string) { warnings = append(warnings, w) },
	})
	require.NoError(t, err)

	require.Len(t, results, 2)
	r, ok := tools.ParseResult(results[0])
	require.True(t, ok)
	assert.False(t, r.Success)
	assert.Contains(t, r.Message, "declined")
	r, ok = tools.ParseResult(results[1])
	require.True(t, ok)
	assert.False(t, r.Success)
	assert.Contains(t, r.Message, "not available")
	assert.Len(t, warnings, 1)
	assert.Equal(t, wellFormed, a.Session.LastAssistantText())
}

func TestTriageWithOfflineClient(t *testing.T) {
	a := newTestAgent(t, &llm.MockLLMClient{})

	var seen int
	out, err := a.TriageStream(context.Background(), protocol.Inquiry{
		ConversationID: "T100",
		CustomerEmail:  "alice@example.com",
		Body:           "Where is my order LC789012? Please send the tracking number.",
	}, func(stream.Event) { seen++ })
	require.NoError(t, err)

	assert.True(t, out.Response.OK(), out.Response.Violations)
	cl, ok := out.Response.Classification()
	require.True(t, ok)
	assert.Equal(t, protocol.LogisticsStatus, cl.Primary)
	assert.Equal(t, []string{"query_logistics_status"}, out.ToolsUsed)
	assert.Contains(t, out.Response.Status.Text, "In Transit")
	assert.Contains(t, out.Response.Status.Text, "DHL99887766")
	assert.Contains(t, out.Response.Reply.Text, "DHL99887766")
	assert.Equal(t, len(out.Events), seen)
	assert.Equal(t, "T100", out.Transcript.ConversationID)
	assert.True(t, strings.HasPrefix(out.Transcript.Name, "triage-T100-"))
	assert.Contains(t, out.Annotated(), "## Internal Notes")
}

func TestTriageReportsUnavailable(t *testing.T) {
	client := llm.NewScriptedLLMClient(llm.ScriptedReply{Err: fmt.Errorf("%w: no route", errors.ErrAgentUnavailable)})
	a := newTestAgent(t, client)

	out, err := a.Triage(context.Background(), protocol.Inquiry{Body: "hi"})
	assert.ErrorIs(t, err, errors.ErrAgentUnavailable)
	require.NotNil(t, out)
	assert.Empty(t, out.Text)
}

func TestTriageKeepsMalformedReply(t *testing.T) {
	a := newTestAgent(t, llm.NewScriptedLLMClient(llm.ScriptedReply{Text: "Thanks, we will check."}))

	out, err := a.Triage(context.Background(), protocol.Inquiry{Body: "hi"})
	require.NoError(t, err)
	assert.True(t, out.Response.Fallback)
	assert.Equal(t, "Thanks, we will check.", out.Response.Reply.Text)
}

func TestClassifier(t *testing.T) {
	a := newTestAgent(t, llm.NewScriptedLLMClient(
		llm.ScriptedReply{Text: wellFormed},
		llm.ScriptedReply{Text: "no headings here"},
		llm.ScriptedReply{Text: "no headings here"},
	))
	c := Classifier{Agent: a}

	cl, err := c.Classify(context.Background(), "Where is my parcel?")
	require.NoError(t, err)
	assert.Equal(t, protocol.LogisticsStatus, cl.Primary)
	assert.Equal(t, protocol.High, cl.Confidence)

	_, err = c.Classify(context.Background(), "Where is my parcel?")
	assert.ErrorIs(t, err, errors.ErrInvalid)

	c.Fallback = protocol.NewKeywordClassifier()
	cl, err = c.Classify(context.Background(), "Please send the COC certificate.")
	require.NoError(t, err)
	assert.Equal(t, protocol.DocumentProcessing, cl.Primary)
}
