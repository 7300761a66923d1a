package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/m4xw311/mailtriage/errors"
	"github.com/m4xw311/mailtriage/formatter"
	"github.com/m4xw311/mailtriage/protocol"
	"github.com/m4xw311/mailtriage/session"
	"github.com/m4xw311/mailtriage/stream"
	"go.uber.org/zap"
)

// Outcome is the result of triaging one email.
type Outcome struct {
	Inquiry    protocol.Inquiry
	Text       string
	Response   formatter.Response
	Events     []stream.Event
	ToolsUsed  []string
	// Thinking is the reasoning and tool side channel rendered as text.
	Thinking   string
	Duration   time.Duration
	Transcript *session.Session
}

// Annotated is the reply text with the Internal Notes trailer.
func (o *Outcome) Annotated() string {
	return formatter.AppendInternalNotes(o.Text, formatter.Notes{
		ToolsUsed: o.ToolsUsed,
		Duration:  o.Duration,
		Generated: time.Now(),
	})
}

// Triage runs one inquiry on a fresh transcript and parses the reply.
func (a *Agent) Triage(ctx context.Context, inq protocol.Inquiry) (*Outcome, error) {
	return a.TriageStream(ctx, inq, nil)
}

// TriageStream is Triage with every event also handed to onEvent as it
// arrives. On failure the partial outcome is returned with the error.
func (a *Agent) TriageStream(ctx context.Context, inq protocol.Inquiry, onEvent func(stream.Event)) (*Outcome, error) {
	name := "triage-" + time.Now().Format("20060102-150405.000")
	if inq.ConversationID != "" {
		name = fmt.Sprintf("triage-%s-%d", sanitize(inq.ConversationID), time.Now().UnixMilli())
	}
	sess, err := session.New(name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create transcript")
	}
	sess.ConversationID = inq.ConversationID

	events, err := a.Invoke(ctx, Request{Prompt: inq.Prompt(), Session: sess})
	if err != nil {
		return nil, err
	}

	c := stream.NewCollector()
	for e := range events {
		c.Add(e)
		if onEvent != nil {
			onEvent(e)
		}
	}
	c.Complete()

	out := &Outcome{
		Inquiry:    inq,
		Events:     c.Events(),
		ToolsUsed:  c.ToolsUsed(),
		Thinking:   c.ThinkingProcess(),
		Duration:   c.Elapsed(),
		Transcript: sess,
	}
	if e, failed := c.Err(); failed {
		return out, eventError(e)
	}
	if !hasTerminal(out.Events) {
		return out, errors.Wrapf(errors.ErrTimeout, "stream ended without a final event")
	}
	out.Text = c.FinalText()
	out.Response = formatter.Parse(out.Text)
	if !out.Response.OK() {
		a.log.Warn("reply breaks the response contract",
			zap.String("conversation_id", inq.ConversationID),
			zap.Strings("violations", out.Response.Violations))
	}
	return out, nil
}

func hasTerminal(events []stream.Event) bool {
	return len(events) > 0 && events[len(events)-1].Terminal()
}

// eventError turns a terminal error event back into an error callers can
// test with errors.Is.
func eventError(e stream.Event) error {
	switch e.ErrKind {
	case stream.ErrTimeout:
		return errors.ErrTimeout
	case stream.ErrCanceled:
		if e.Err != nil {
			return e.Err
		}
		return context.Canceled
	case stream.ErrUnavailable:
		if e.Err != nil && errors.Is(e.Err, errors.ErrAgentUnavailable) {
			return e.Err
		}
		return errors.Wrapf(errors.ErrAgentUnavailable, "%s", e.ErrorMessage())
	}
	if e.Err != nil {
		return e.Err
	}
	return errors.New("%s", e.ErrorMessage())
}

func sanitize(id string) string {
	b := []byte(id)
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			b[i] = '_'
		}
	}
	return string(b)
}

// Classifier adapts the agent to protocol.Classifier: the model triages the
// text and the intent section of its reply is the classification. Fallback,
// when set, classifies replies that carry no recognisable intent.
type Classifier struct {
	Agent    *Agent
	Fallback protocol.Classifier
}

func (c Classifier) Classify(ctx context.Context, text string) (protocol.Classification, error) {
	out, err := c.Agent.Triage(ctx, protocol.Inquiry{Body: text})
	if err != nil {
		return protocol.Classification{}, err
	}
	if cl, ok := out.Response.Classification(); ok {
		return cl, nil
	}
	if c.Fallback != nil {
		return c.Fallback.Classify(ctx, text)
	}
	return protocol.Classification{}, errors.Wrapf(errors.ErrInvalid, "reply carries no intent classification")
}
