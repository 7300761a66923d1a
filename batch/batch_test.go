package batch

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/m4xw311/mailtriage/agent"
	"github.com/m4xw311/mailtriage/config"
	"github.com/m4xw311/mailtriage/errors"
	"github.com/m4xw311/mailtriage/llm"
	"github.com/m4xw311/mailtriage/mailbox"
	"github.com/m4xw311/mailtriage/protocol"
	"github.com/m4xw311/mailtriage/session"
	"github.com/m4xw311/mailtriage/store"
	"github.com/m4xw311/mailtriage/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const logisticsReply = `## Intent Classification
Primary Intent: Logistics Status Inquiry
Confidence: High

## Logistics/Order Status
Order ID: LC789012
Status: In Transit with DHL

## Professional Email Reply
Dear Alice,

Your order is on its way.

Best regards,
Customer Service Team`

func csvMailbox(t *testing.T) (*mailbox.Mailbox, string) {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("..", "mailbox", "testdata", "emails.csv"))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "emails.csv")
	require.NoError(t, os.WriteFile(path, b, 0o644))
	mb, err := mailbox.Open(context.Background(), &mailbox.SpreadsheetSource{Path: path}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return mb, path
}

func newAgent(t *testing.T, client llm.LLMClient) *agent.Agent {
	t.Helper()
	st, err := store.Load("../store/testdata", zaptest.NewLogger(t))
	require.NoError(t, err)
	reg, err := tools.NewToolRegistry(st, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	sess, err := session.New("batch-test")
	require.NoError(t, err)
	a, err := agent.New(config.Default(), reg, sess, "default", agent.ModeAuto, client, agent.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	return a
}

func byID(results []Result) map[string]Result {
	out := map[string]Result{}
	for _, r := range results {
		out[r.ConversationID] = r
	}
	return out
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeAgent, m)
	m, err = ParseMode("Keyword")
	require.NoError(t, err)
	assert.Equal(t, ModeKeyword, m)
	_, err = ParseMode("llm")
	assert.ErrorIs(t, err, errors.ErrInvalid)
}

func TestNewAnalyzerRequiresAgent(t *testing.T) {
	mb, _ := csvMailbox(t)
	_, err := NewAnalyzer(mb, nil, ModeAgent)
	assert.ErrorIs(t, err, errors.ErrInvalid)
	_, err = NewAnalyzer(nil, nil, ModeKeyword)
	assert.ErrorIs(t, err, errors.ErrInvalid)
}

func TestKeywordRun(t *testing.T) {
	mb, _ := csvMailbox(t)
	var calls int
	an, err := NewAnalyzer(mb, nil, ModeKeyword,
		WithLogger(zaptest.NewLogger(t)),
		WithProgress(func(done, total int, r Result) {
			calls++
			assert.Equal(t, 2, total)
			assert.Equal(t, calls, done)
		}))
	require.NoError(t, err)

	results, err := an.Run(context.Background(), mb.Conversations())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 2, calls)

	got := byID(results)
	assert.Equal(t, protocol.LogisticsStatus, got["T100"].Primary)
	assert.Contains(t, got["T100"].OrderIDs, "LC789012")
	assert.Equal(t, protocol.DocumentProcessing, got["T200"].Primary)
	assert.Zero(t, got["T200"].ResponseLength)

	for _, id := range []string{"T100", "T200"} {
		sum, err := mb.Summary(id)
		require.NoError(t, err)
		assert.Equal(t, mailbox.Processed, sum.Status, id)
	}
}

func TestKeywordRunUnknownConversation(t *testing.T) {
	mb, _ := csvMailbox(t)
	an, err := NewAnalyzer(mb, nil, ModeKeyword, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	results, err := an.Run(context.Background(), []mailbox.Conversation{{ID: "T999"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].OK())
	assert.ErrorIs(t, results[0].Err, errors.ErrNotFound)
	assert.Empty(t, results[0].Primary)
}

func TestAgentRun(t *testing.T) {
	mb, _ := csvMailbox(t)
	client := llm.NewScriptedLLMClient(
		llm.ScriptedReply{Err: fmt.Errorf("%w: throttled", errors.ErrAgentUnavailable)},
		llm.ScriptedReply{Text: logisticsReply},
	)
	an, err := NewAnalyzer(mb, newAgent(t, client), ModeAgent, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	convs := mb.Conversations()
	results, err := an.Run(context.Background(), convs)
	require.NoError(t, err)
	require.Len(t, results, 2)

	failed, done := results[0], results[1]
	assert.ErrorIs(t, failed.Err, errors.ErrAgentUnavailable)
	require.NoError(t, done.Err)
	assert.Equal(t, protocol.LogisticsStatus, done.Primary)
	assert.Equal(t, protocol.High, done.Confidence)
	assert.Equal(t, []string{"LC789012"}, done.OrderIDs)
	assert.Positive(t, done.ResponseLength)

	sum, err := mb.Summary(failed.ConversationID)
	require.NoError(t, err)
	assert.NotEqual(t, mailbox.Processed, sum.Status)
	sum, err = mb.Summary(done.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, mailbox.Processed, sum.Status)
}

func TestAgentRunMalformedReply(t *testing.T) {
	mb, _ := csvMailbox(t)
	client := llm.NewScriptedLLMClient(llm.ScriptedReply{Text: "We will check."})
	an, err := NewAnalyzer(mb, newAgent(t, client), ModeAgent, WithLimit(1))
	require.NoError(t, err)

	results, err := an.Run(context.Background(), mb.Conversations())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
}

func TestRunStopsOnCancel(t *testing.T) {
	mb, _ := csvMailbox(t)
	an, err := NewAnalyzer(mb, nil, ModeKeyword)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := an.Run(ctx, mb.Conversations())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
}

func TestSummarize(t *testing.T) {
	results := []Result{
		{ConversationID: "a", Primary: protocol.LogisticsStatus, Confidence: protocol.High, OrderIDs: []string{"LC1"}, ResponseLength: 300, Duration: 2 * time.Second},
		{ConversationID: "b", Primary: protocol.LogisticsStatus, Confidence: protocol.Medium, ResponseLength: 100, Duration: 2 * time.Second},
		{ConversationID: "c", Primary: protocol.DocumentProcessing, Confidence: protocol.High, ResponseLength: 200, Duration: 2 * time.Second},
		{ConversationID: "d", Err: errors.ErrTimeout, Duration: 6 * time.Second},
	}
	st := Summarize(results)
	assert.Equal(t, 4, st.Total)
	assert.Equal(t, 3, st.Completed)
	assert.Equal(t, 1, st.Failed)
	assert.InDelta(t, 75.0, st.SuccessRate, 0.001)
	assert.Equal(t, 12*time.Second, st.TotalTime)
	assert.Equal(t, 4*time.Second, st.AverageTime)
	assert.Equal(t, map[protocol.Category]int{protocol.LogisticsStatus: 2, protocol.DocumentProcessing: 1}, st.Intents)
	assert.Equal(t, map[protocol.Confidence]int{protocol.High: 2, protocol.Medium: 1}, st.Confidence)
	assert.Equal(t, 1, st.OrdersFound)
	assert.Equal(t, 200, st.AverageResponseLength)

	var buf bytes.Buffer
	st.Report(&buf)
	assert.Contains(t, buf.String(), "Success rate: 75.0%")
	assert.Contains(t, buf.String(), "Logistics Status Inquiry")
	assert.Contains(t, buf.String(), "Average response length: 200 characters")
}

func TestSummarizeEmpty(t *testing.T) {
	st := Summarize(nil)
	assert.Zero(t, st.Total)
	assert.Zero(t, st.SuccessRate)
	assert.Zero(t, st.AverageTime)
}

func TestWriteCategories(t *testing.T) {
	mb, path := csvMailbox(t)
	original, err := os.ReadFile(path)
	require.NoError(t, err)

	n, err := WriteCategories(path, "", []Result{
		{ConversationID: "T100", Primary: protocol.LogisticsStatus},
		{ConversationID: "T200", Err: errors.ErrTimeout},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	backup := filepath.Join(filepath.Dir(path), "emails.bak.csv")
	assert.Equal(t, backup, BackupPath(path))
	saved, err := os.ReadFile(backup)
	require.NoError(t, err)
	assert.Equal(t, original, saved)

	require.NoError(t, mb.Refresh(context.Background()))
	msgs, err := mb.Conversation("T100")
	require.NoError(t, err)
	for _, e := range msgs {
		assert.Equal(t, string(protocol.LogisticsStatus), e.AICategory)
	}
	msgs, err = mb.Conversation("T200")
	require.NoError(t, err)
	assert.Empty(t, msgs[0].AICategory)
}

func TestWriteCategoriesNothingToWrite(t *testing.T) {
	_, path := csvMailbox(t)
	n, err := WriteCategories(path, "", []Result{{ConversationID: "T100", Err: errors.ErrTimeout}})
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = os.Stat(BackupPath(path))
	assert.True(t, os.IsNotExist(err))
}
