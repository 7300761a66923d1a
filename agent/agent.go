package agent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/m4xw311/mailtriage/config"
	"github.com/m4xw311/mailtriage/errors"
	"github.com/m4xw311/mailtriage/logging"
	"github.com/m4xw311/mailtriage/llm"
	"github.com/m4xw311/mailtriage/metrics"
	"github.com/m4xw311/mailtriage/protocol"
	"github.com/m4xw311/mailtriage/session"
	"github.com/m4xw311/mailtriage/stream"
	"github.com/m4xw311/mailtriage/tools"
	"go.uber.org/zap"
)

type Mode string

const (
	ModeAuto   Mode = "auto"
	ModePrompt Mode = "prompt"
)

const (
	// MinThinkingBudget is the smallest reasoning budget providers accept.
	MinThinkingBudget = 1024
	DefaultTimeout    = 120 * time.Second
	DefaultIterations = 10

	eventBuffer = 64
	// terminalGrace bounds how long a finished invocation waits for a
	// consumer to take its last event.
	terminalGrace = 5 * time.Second
)

// Settings are the agent knobs an operator can change while running.
type Settings struct {
	Model          string        `json:"model"`
	Thinking       bool          `json:"thinking"`
	ThinkingBudget int64         `json:"thinkingBudget"`
	Timeout        time.Duration `json:"timeout"`
	MaxIterations  int           `json:"maxIterations"`
}

// SettingsFromConfig takes the agent settings out of the loaded configuration.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Model:          cfg.Model,
		Thinking:       cfg.Thinking.Enabled,
		ThinkingBudget: cfg.Thinking.BudgetTokens,
		Timeout:        cfg.Timeout,
		MaxIterations:  cfg.MaxIterations,
	}
}

// MaxOutputTokens is the response cap sent to the provider: one and a half
// times the thinking budget, so reasoning always leaves room for the reply.
func (s Settings) MaxOutputTokens() int64 {
	return s.ThinkingBudget * 3 / 2
}

func (s Settings) Validate() error {
	if s.Thinking && s.ThinkingBudget < MinThinkingBudget {
		return errors.Wrapf(errors.ErrInvalid, "thinking budget must be at least %d tokens, got %d", MinThinkingBudget, s.ThinkingBudget)
	}
	if s.ThinkingBudget < 0 {
		return errors.Wrapf(errors.ErrInvalid, "thinking budget must not be negative")
	}
	if s.Timeout <= 0 {
		return errors.Wrapf(errors.ErrInvalid, "timeout must be positive, got %s", s.Timeout)
	}
	if s.MaxIterations <= 0 {
		return errors.Wrapf(errors.ErrInvalid, "max iterations must be positive, got %d", s.MaxIterations)
	}
	return nil
}

func (s Settings) chatOptions(onDelta func(llm.Delta)) llm.ChatOptions {
	return llm.ChatOptions{
		MaxTokens:      s.MaxOutputTokens(),
		Thinking:       s.Thinking,
		ThinkingBudget: s.ThinkingBudget,
		OnDelta:        onDelta,
	}
}

// ClientFactory builds a model client for a model name. Configure uses it
// when the model changes.
type ClientFactory func(ctx context.Context, model string) (llm.LLMClient, error)

type Agent struct {
	Session        *session.Session
	AvailableTools []tools.Tool
	Mode           Mode
	// SaveSessions writes the transcript to disk after every turn.
	SaveSessions bool
	// ConfirmTool gates tool calls in ModePrompt when a request sets no gate
	// of its own.
	ConfirmTool func(session.ToolCall) bool

	mu        sync.RWMutex
	client    llm.LLMClient
	settings  Settings
	newClient ClientFactory

	busy         atomic.Bool
	systemPrompt string
	log          *zap.Logger
	metrics      *metrics.Recorder
}

type Option func(*Agent)

func WithLogger(l *zap.Logger) Option { return func(a *Agent) { a.log = logging.OrNop(l) } }

func WithMetrics(r *metrics.Recorder) Option { return func(a *Agent) { a.metrics = r } }

// WithSettings replaces the settings taken from the configuration.
func WithSettings(s Settings) Option { return func(a *Agent) { a.settings = s } }

// WithClientFactory lets Configure switch models at runtime.
func WithClientFactory(f ClientFactory) Option { return func(a *Agent) { a.newClient = f } }

func New(cfg *config.Config, registry *tools.ToolRegistry, sess *session.Session, toolset string, mode Mode, client llm.LLMClient, opts ...Option) (*Agent, error) {
	ts, err := cfg.GetToolset(toolset)
	if err != nil {
		return nil, err
	}
	activeTools, err := registry.GetActiveTools(ts)
	if err != nil {
		return nil, err
	}
	if sess != nil && sess.Toolset == "" {
		sess.Toolset = ts.Name
	}

	a := &Agent{
		Session:        sess,
		AvailableTools: activeTools,
		Mode:           mode,
		SaveSessions:   cfg.SaveSessions,
		client:         client,
		settings:       SettingsFromConfig(cfg),
		log:            zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if err := a.settings.Validate(); err != nil {
		return nil, err
	}

	infos := make([]protocol.ToolInfo, len(activeTools))
	for i, t := range activeTools {
		infos[i] = protocol.ToolInfo{Name: t.Name(), Description: t.Description()}
	}
	a.systemPrompt = protocol.SystemPrompt(infos)
	return a, nil
}

// Settings returns a copy of the current settings.
func (a *Agent) Settings() Settings {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.settings
}

// Configure applies fn to a copy of the settings and keeps the result only if
// it validates. A model change rebuilds the client; the next invocation uses it.
func (a *Agent) Configure(fn func(*Settings)) (Settings, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	next := a.settings
	fn(&next)
	if err := next.Validate(); err != nil {
		return a.settings, err
	}
	if next.Model != a.settings.Model {
		if a.newClient == nil {
			return a.settings, errors.Wrapf(errors.ErrInvalid, "this agent cannot switch models")
		}
		c, err := a.newClient(context.Background(), next.Model)
		if err != nil {
			return a.settings, err
		}
		a.client = c
	}
	a.log.Info("agent settings changed",
		zap.String("model", next.Model),
		zap.Bool("thinking", next.Thinking),
		zap.Int64("thinking_budget", next.ThinkingBudget))
	a.settings = next
	return next, nil
}

func (a *Agent) llmClient() llm.LLMClient {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.client
}

// Busy reports whether an invocation is in flight.
func (a *Agent) Busy() bool { return a.busy.Load() }

// SystemPrompt is the instruction text sent at the start of every transcript.
func (a *Agent) SystemPrompt() string { return a.systemPrompt }

func (a *Agent) findTool(name string) (tools.Tool, bool) {
	for _, t := range a.AvailableTools {
		if t.Name() == name {
			return t, true
		}
	}
	return nil, false
}

// Request is one invocation: a user turn and the transcript it extends.
type Request struct {
	Prompt string
	// Session is extended in place; nil starts a fresh transcript.
	Session *session.Session
	// ShouldExecuteTool gates each tool call; nil runs them all.
	ShouldExecuteTool func(session.ToolCall) bool
}

// Invoke starts one invocation and streams its events. Only one invocation
// may be in flight; a second call returns errors.ErrBusy. The stream ends
// with exactly one done or error event and the channel is then closed.
// The invocation is bounded by Settings.Timeout, and cancelling ctx ends it
// with a "canceled" error event.
func (a *Agent) Invoke(ctx context.Context, req Request) (<-chan stream.Event, error) {
	if !a.busy.CompareAndSwap(false, true) {
		return nil, errors.ErrBusy
	}

	sess := req.Session
	if sess == nil {
		var err error
		sess, err = session.New("triage-" + uuid.NewString())
		if err != nil {
			a.busy.Store(false)
			return nil, errors.Wrapf(err, "failed to create transcript")
		}
	}
	settings := a.Settings()
	shouldExecute := req.ShouldExecuteTool
	if shouldExecute == nil && a.Mode == ModePrompt {
		shouldExecute = a.ConfirmTool
	}
	events := make(chan stream.Event, eventBuffer)

	go func() {
		defer close(events)

		ictx, cancel := context.WithTimeout(ctx, settings.Timeout)
		defer cancel()

		start := time.Now()
		a.metrics.InvocationStarted()
		log := a.log.With(zap.String("session", sess.Name))
		log.Debug("invocation started")

		send := func(e stream.Event) {
			select {
			case events <- e:
			case <-ictx.Done():
			}
		}

		var final string
		callbacks := ProcessCallbacks{
			OnDelta: func(d llm.Delta) {
				if d.Kind == llm.ThinkingDelta {
					send(stream.ReasoningEvent(d.Text))
				} else {
					send(stream.FragmentEvent(d.Text))
				}
			},
			OnAssistantMessage: func(text string) { final = text },
			OnToolCall: func(tc session.ToolCall) {
				final = ""
				send(stream.ToolCallEvent(tc.ToolCallID, tc.Name, tc.Args))
			},
			OnToolResult: func(tc session.ToolCall, output string) {
				r, ok := tools.ParseResult(output)
				send(stream.ToolResultEvent(tc.ToolCallID, tc.Name, output, !ok || r.Success))
			},
			ShouldExecuteTool: shouldExecute,
			OnWarning: func(w string) {
				log.Warn(w)
			},
		}

		err := a.processUserInput(ictx, sess, settings, req.Prompt, callbacks)

		var last stream.Event
		outcome := "done"
		switch {
		case err == nil:
			last = stream.DoneEvent(final)
		case ctx.Err() != nil:
			outcome = "canceled"
			last = stream.ErrorEvent(stream.ErrCanceled, ctx.Err())
		case errors.Is(ictx.Err(), context.DeadlineExceeded):
			outcome = "timeout"
			last = stream.ErrorEvent(stream.ErrTimeout, errors.ErrTimeout)
		case errors.Is(err, errors.ErrAgentUnavailable):
			outcome = "unavailable"
			last = stream.ErrorEvent(stream.ErrUnavailable, err)
		default:
			outcome = "error"
			last = stream.ErrorEvent(stream.ErrInternal, err)
		}
		elapsed := time.Since(start)
		a.metrics.InvocationFinished(outcome, elapsed)
		if err != nil {
			log.Warn("invocation failed", zap.String("outcome", outcome), zap.Duration("duration", elapsed), zap.Error(err))
		} else {
			log.Info("invocation finished", zap.Duration("duration", elapsed))
		}

		// A consumer that stops at the terminal event may invoke again at once.
		a.busy.Store(false)
		select {
		case events <- last:
		case <-time.After(terminalGrace):
			log.Warn("no consumer for the final event", zap.String("outcome", outcome))
		}
	}()
	return events, nil
}

// ProcessUserInput runs one turn on the agent's own session, bypassing the
// event stream. The in-flight guard still applies.
func (a *Agent) ProcessUserInput(ctx context.Context, userInput string, callbacks ProcessCallbacks) error {
	if !a.busy.CompareAndSwap(false, true) {
		return errors.ErrBusy
	}
	defer a.busy.Store(false)
	if a.Session == nil {
		return errors.Wrapf(errors.ErrInvalid, "agent has no session")
	}
	settings := a.Settings()
	ctx, cancel := context.WithTimeout(ctx, settings.Timeout)
	defer cancel()
	return a.processUserInput(ctx, a.Session, settings, userInput, callbacks)
}

func (a *Agent) processUserInput(ctx context.Context, sess *session.Session, settings Settings, userInput string, cb ProcessCallbacks) error {
	if !sess.HasSystemPrompt() {
		sess.Messages = append([]session.Message{{Role: "system", Content: a.systemPrompt}}, sess.Messages...)
	}
	sess.AddMessage(session.Message{Role: "user", Content: userInput})

	client := a.llmClient()
	if client == nil {
		return errors.Wrapf(errors.ErrAgentUnavailable, "no model client configured")
	}
	opts := settings.chatOptions(cb.OnDelta)

	// Main loop: LLM -> Tool -> LLM ...
	for i := 0; i < settings.MaxIterations; i++ {
		reply, err := client.Chat(ctx, sess.Messages, a.AvailableTools, opts)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrapf(err, "LLM chat failed")
		}
		sess.AddMessage(*reply)
		if reply.Content != "" {
			cb.assistantMessage(reply.Content)
		}

		if len(reply.ToolCalls) == 0 {
			a.save(sess, cb)
			return nil
		}

		for _, tc := range reply.ToolCalls {
			cb.toolCall(tc)
			output, err := a.executeToolCall(ctx, tc, cb)
			if err != nil {
				return err
			}
			sess.AddMessage(session.Message{
				Role:      "tool",
				Content:   output,
				ToolCalls: []session.ToolCall{tc},
			})
			cb.toolResult(tc, output)
		}
		a.save(sess, cb)
	}
	return errors.New("no final answer after %d model calls", settings.MaxIterations)
}

// executeToolCall runs one tool. Declined calls, unknown tools and tool
// faults become failed results the model can read; only a finished context
// stops the turn.
func (a *Agent) executeToolCall(ctx context.Context, tc session.ToolCall, cb ProcessCallbacks) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !cb.shouldExecute(tc) {
		return failure(fmt.Sprintf("The operator declined the call to %s.", tc.Name)), nil
	}
	tool, ok := a.findTool(tc.Name)
	if !ok {
		cb.warn(fmt.Sprintf("model requested unknown tool %q", tc.Name))
		return failure(fmt.Sprintf("Tool %s is not available.", tc.Name)), nil
	}
	output, err := tool.Execute(ctx, tc.Args)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		cb.warn(fmt.Sprintf("tool %s failed: %v", tc.Name, err))
		return failure(fmt.Sprintf("Tool %s failed: %v", tc.Name, err)), nil
	}
	return output, nil
}

func failure(message string) string {
	out, err := tools.Result{Success: false, Message: message}.JSON()
	if err != nil {
		return message
	}
	return out
}

func (a *Agent) save(sess *session.Session, cb ProcessCallbacks) {
	if !a.SaveSessions {
		return
	}
	if err := sess.Save(); err != nil {
		cb.warn(fmt.Sprintf("failed to save session: %v", err))
	}
}
