// Package batch triages every conversation of a mailbox in one pass and
// summarises the outcome.
package batch

import (
	"context"
	"strings"
	"time"

	"github.com/m4xw311/mailtriage/agent"
	"github.com/m4xw311/mailtriage/errors"
	"github.com/m4xw311/mailtriage/formatter"
	"github.com/m4xw311/mailtriage/logging"
	"github.com/m4xw311/mailtriage/mailbox"
	"github.com/m4xw311/mailtriage/protocol"
	"go.uber.org/zap"
)

// Mode selects who classifies the conversations.
type Mode string

const (
	// ModeAgent runs the full triage agent on each conversation.
	ModeAgent Mode = "agent"
	// ModeKeyword classifies locally with the keyword rules; no model calls.
	ModeKeyword Mode = "keyword"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeAgent, "":
		return ModeAgent, nil
	case ModeKeyword:
		return ModeKeyword, nil
	}
	return "", errors.Wrapf(errors.ErrInvalid, "unknown classifier %q (want agent or keyword)", s)
}

// Result is the outcome for one conversation.
type Result struct {
	ConversationID string              `json:"conversation_id"`
	Primary        protocol.Category   `json:"primary,omitempty"`
	Confidence     protocol.Confidence `json:"confidence,omitempty"`
	OrderIDs       []string            `json:"order_ids,omitempty"`
	ResponseLength int                 `json:"response_length"`
	Duration       time.Duration       `json:"duration"`
	Err            error               `json:"-"`
}

func (r Result) OK() bool { return r.Err == nil }

// Analyzer runs conversations one after another. The agent takes a single
// invocation at a time, so there is no parallelism to gain.
type Analyzer struct {
	mailbox  *mailbox.Mailbox
	agent    *agent.Agent
	keywords *protocol.KeywordClassifier
	mode     Mode
	limit    int
	progress func(done, total int, r Result)
	log      *zap.Logger
}

type Option func(*Analyzer)

// WithLimit stops after n conversations; 0 means all.
func WithLimit(n int) Option { return func(a *Analyzer) { a.limit = n } }

func WithLogger(l *zap.Logger) Option { return func(a *Analyzer) { a.log = logging.OrNop(l) } }

// WithProgress is called after each conversation.
func WithProgress(fn func(done, total int, r Result)) Option {
	return func(a *Analyzer) { a.progress = fn }
}

// NewAnalyzer returns an analyzer over mb. The agent is required in
// ModeAgent and ignored in ModeKeyword.
func NewAnalyzer(mb *mailbox.Mailbox, a *agent.Agent, mode Mode, opts ...Option) (*Analyzer, error) {
	if mb == nil {
		return nil, errors.Wrapf(errors.ErrInvalid, "batch analysis needs an email source")
	}
	if mode == ModeAgent && a == nil {
		return nil, errors.Wrapf(errors.ErrInvalid, "agent classifier needs an agent")
	}
	an := &Analyzer{
		mailbox:  mb,
		agent:    a,
		keywords: protocol.NewKeywordClassifier(),
		mode:     mode,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(an)
	}
	return an, nil
}

// Run processes the conversations in order and marks each successful one
// processed. A failed conversation is recorded and the run moves on; only
// cancellation of ctx stops it early, returning the results so far.
func (an *Analyzer) Run(ctx context.Context, conversations []mailbox.Conversation) ([]Result, error) {
	total := len(conversations)
	if an.limit > 0 && an.limit < total {
		total = an.limit
	}
	an.log.Info("batch started", zap.String("classifier", string(an.mode)), zap.Int("conversations", total))

	results := make([]Result, 0, total)
	for _, conv := range conversations[:total] {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		r := an.one(ctx, conv.ID)
		if r.OK() {
			if err := an.mailbox.MarkProcessed(conv.ID); err != nil {
				an.log.Warn("failed to mark conversation processed", zap.String("conversation_id", conv.ID), zap.Error(err))
			}
		} else {
			an.log.Warn("conversation failed", zap.String("conversation_id", conv.ID), zap.Error(r.Err))
		}
		results = append(results, r)
		if an.progress != nil {
			an.progress(len(results), total, r)
		}
		if errors.Is(r.Err, context.Canceled) && ctx.Err() != nil {
			return results, ctx.Err()
		}
	}
	an.log.Info("batch finished", zap.Int("conversations", len(results)))
	return results, nil
}

func (an *Analyzer) one(ctx context.Context, id string) Result {
	start := time.Now()
	r := Result{ConversationID: id}
	inq, err := an.mailbox.Inquiry(id)
	if err != nil {
		r.Err = err
		return r
	}

	if an.mode == ModeKeyword {
		sum, err := an.mailbox.Summary(id)
		if err != nil {
			r.Err = err
			return r
		}
		text := conversationText(sum.Subject, inq)
		cl := an.keywords.ClassifyText(text)
		r.Primary, r.Confidence = cl.Primary, cl.Confidence
		r.OrderIDs = formatter.OrderIDs(text)
		r.Duration = time.Since(start)
		return r
	}

	out, err := an.agent.Triage(ctx, inq)
	r.Duration = time.Since(start)
	if err != nil {
		r.Err = err
		return r
	}
	r.ResponseLength = len(out.Text)
	r.OrderIDs = formatter.OrderIDs(out.Response.Render())
	cl, ok := out.Response.Classification()
	if !ok {
		r.Err = errors.New("reply has no intent classification")
		return r
	}
	r.Primary, r.Confidence = cl.Primary, cl.Confidence
	return r
}

// conversationText is the thread subject, latest message and earlier turns.
func conversationText(subject string, inq protocol.Inquiry) string {
	parts := []string{subject, inq.Text()}
	for _, t := range inq.History {
		parts = append(parts, t.Text)
	}
	return strings.Join(parts, "\n")
}
