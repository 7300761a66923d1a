package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/m4xw311/mailtriage/agent"
	"github.com/m4xw311/mailtriage/errors"
	"github.com/m4xw311/mailtriage/formatter"
	"github.com/m4xw311/mailtriage/mailbox"
	"github.com/m4xw311/mailtriage/protocol"
	"github.com/m4xw311/mailtriage/session"
	"github.com/m4xw311/mailtriage/stream"
	"go.uber.org/zap"
)

const DefaultPageSize = 10

// Terminal handles the terminal/CLI interaction mode for the agent
type Terminal struct {
	agent    *agent.Agent
	mailbox  *mailbox.Mailbox
	in       *bufio.Scanner
	out      io.Writer
	page     int
	pageSize int
	// ShowThinking prints reasoning events as they stream.
	ShowThinking bool
	log          *zap.Logger
	outMu        sync.Mutex
	// trace holds the events of the last triage for /trace.
	trace *stream.Collector
}

type Option func(*Terminal)

// WithIO replaces stdin and stdout.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(t *Terminal) {
		t.in = bufio.NewScanner(in)
		t.out = out
	}
}

func WithPageSize(n int) Option {
	return func(t *Terminal) {
		if n > 0 {
			t.pageSize = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(t *Terminal) {
		if l != nil {
			t.log = l
		}
	}
}

// New creates a new Terminal instance. mb may be nil, in which case only
// ad-hoc emails typed at the prompt can be triaged.
func New(a *agent.Agent, mb *mailbox.Mailbox, opts ...Option) *Terminal {
	t := &Terminal{
		agent:        a,
		mailbox:      mb,
		in:           bufio.NewScanner(os.Stdin),
		out:          os.Stdout,
		page:         1,
		pageSize:     DefaultPageSize,
		ShowThinking: true,
		log:          zap.NewNop(),
		trace:        stream.NewCollector(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.in.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	if a.Mode == agent.ModePrompt {
		a.ConfirmTool = t.confirm
	}
	return t
}

// Run starts the interactive console. It returns when input ends or on /quit.
func (t *Terminal) Run(ctx context.Context, initialPrompt string) error {
	t.printf("mailtriage console. Type /help for commands.\n")
	if t.mailbox != nil {
		t.printf("%d conversations loaded from %s\n", len(t.mailbox.Conversations()), t.mailbox.Source().Name())
	}

	// If there's an initial prompt from the command line, use it first
	if initialPrompt != "" {
		if _, err := t.handle(ctx, initialPrompt); err != nil {
			t.printf("Error: %v\n", err)
		}
	}

	for {
		t.printf("> ")
		if !t.in.Scan() {
			// EOF or read error ends the session
			break
		}
		line := strings.TrimSpace(t.in.Text())
		if line == "" {
			continue
		}
		quit, err := t.handle(ctx, line)
		if err != nil {
			t.printf("Error: %v\n", err)
		}
		if quit {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return t.in.Err()
}

// handle runs one command line.
func (t *Terminal) handle(ctx context.Context, line string) (quit bool, err error) {
	if !strings.HasPrefix(line, "/") {
		return false, t.triage(ctx, protocol.Inquiry{Body: line})
	}
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		t.help()
	case "/list":
		return false, t.list()
	case "/page":
		n, err := strconv.Atoi(arg)
		if err != nil {
			return false, errors.Wrapf(errors.ErrInvalid, "usage: /page N")
		}
		prev := t.page
		t.page = n
		if err := t.list(); err != nil {
			t.page = prev
			return false, err
		}
	case "/search":
		return false, t.search(arg)
	case "/open":
		return false, t.open(arg)
	case "/triage":
		return false, t.triageConversation(ctx, arg)
	case "/config":
		return false, t.config(arg)
	case "/stats":
		return false, t.stats()
	case "/trace":
		t.showTrace()
	case "/refresh":
		if err := t.needMailbox(); err != nil {
			return false, err
		}
		if err := t.mailbox.Refresh(ctx); err != nil {
			return false, err
		}
		t.page = 1
		t.printf("%d conversations loaded\n", len(t.mailbox.Conversations()))
	default:
		return false, errors.Wrapf(errors.ErrInvalid, "unknown command %s, type /help", cmd)
	}
	return false, nil
}

func (t *Terminal) help() {
	t.printf(`Commands:
  /list                  list conversations on the current page
  /page N                show page N
  /search TEXT           find messages containing TEXT
  /open ID               show a conversation
  /triage ID             classify a conversation and draft a reply
  /config [key=value]..  show or change model, thinking (on|off), budget, timeout
  /stats                 mailbox statistics
  /trace                 events of the last triage
  /refresh               reload emails from the source
  /quit                  leave
Any other text is triaged as an email.
`)
}

func (t *Terminal) needMailbox() error {
	if t.mailbox == nil {
		return errors.Wrapf(errors.ErrInvalid, "no email source is loaded")
	}
	return nil
}

func (t *Terminal) list() error {
	if err := t.needMailbox(); err != nil {
		return err
	}
	convs, info, err := t.mailbox.Page(t.page, t.pageSize)
	if err != nil {
		return err
	}
	if info.Total == 0 {
		t.printf("No emails.\n")
		return nil
	}
	for _, c := range convs {
		t.printf("%-10s %-9s %s  %-32s %s (%d)\n",
			c.ID, c.Status, c.LastAt.Format("2006-01-02 15:04"), clip(c.Sender, 32), clip(c.Subject, 50), c.Count)
	}
	t.printf("Page %d/%d, %d conversations\n", info.Page, info.TotalPages, info.Total)
	return nil
}

func (t *Terminal) search(q string) error {
	if err := t.needMailbox(); err != nil {
		return err
	}
	found, err := t.mailbox.Search(q)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		t.printf("No messages match %q\n", q)
		return nil
	}
	for _, e := range found {
		t.printf("%-10s %-14s %s  %s\n", e.ConversationID, e.ID, clip(e.Sender, 32), clip(e.Subject, 50))
	}
	t.printf("%d messages\n", len(found))
	return nil
}

func (t *Terminal) open(id string) error {
	if err := t.needMailbox(); err != nil {
		return err
	}
	msgs, err := t.mailbox.Conversation(id)
	if err != nil {
		return err
	}
	for _, e := range msgs {
		t.printf("--- %s | %s -> %s | %s\n", e.ID, e.Sender, e.Recipient, e.Timestamp.Format("2006-01-02 15:04"))
		if e.Subject != "" {
			t.printf("Subject: %s\n", e.Subject)
		}
		t.printf("%s\n\n", strings.TrimSpace(e.Content))
	}
	return nil
}

func (t *Terminal) stats() error {
	if err := t.needMailbox(); err != nil {
		return err
	}
	s := t.mailbox.Stats()
	t.printf("Emails: %d in %d conversations (%.1f per conversation, max %d, min %d)\n",
		s.TotalEmails, s.Conversations, s.AvgPerConversation, s.MaxPerConversation, s.MinPerConversation)
	t.printf("Senders: %d, recipients: %d\n", s.UniqueSenders, s.UniqueRecipients)
	t.printf("Pending: %d, processed: %d\n", s.Pending, s.Processed)
	return nil
}

func (t *Terminal) triageConversation(ctx context.Context, id string) error {
	if err := t.needMailbox(); err != nil {
		return err
	}
	if id == "" {
		return errors.Wrapf(errors.ErrInvalid, "usage: /triage ID")
	}
	inq, err := t.mailbox.Inquiry(id)
	if err != nil {
		return err
	}
	if err := t.triage(ctx, inq); err != nil {
		return err
	}
	return t.mailbox.MarkProcessed(id)
}

// triage streams one invocation to the console and prints the sections.
// It returns only after the stream has ended, so a second invocation can
// never start from here while one is running.
func (t *Terminal) triage(ctx context.Context, inq protocol.Inquiry) error {
	t.printf("Triaging...\n")
	t.trace.Reset()
	out, err := t.agent.TriageStream(ctx, inq, func(e stream.Event) {
		t.trace.Add(e)
		t.render(e)
	})
	if err != nil {
		return err
	}
	t.trace.Complete()
	t.printResponse(out.Response)
	t.printf("\n(%s, tools: %s)\n", out.Duration.Round(10*time.Millisecond), strings.Join(orNone(out.ToolsUsed), ", "))
	t.log.Debug("triage finished", zap.String("conversation_id", inq.ConversationID), zap.Duration("duration", out.Duration))
	return nil
}

// render prints the side channel. Output fragments are skipped; the parsed
// sections are printed once the stream ends.
func (t *Terminal) render(e stream.Event) {
	switch e.Kind {
	case stream.OutputFragment, stream.Done:
		return
	case stream.Reasoning:
		if !t.ShowThinking {
			return
		}
	}
	t.printf("%s", stream.Format(e))
}

func (t *Terminal) showTrace() {
	if !t.trace.Completed() && len(t.trace.Events()) > 0 {
		t.printf("(the last triage did not finish)\n")
	}
	t.printf("%s\n%s", t.trace.Summary(), t.trace.ThinkingProcess())
}

func (t *Terminal) printResponse(r formatter.Response) {
	if r.Fallback {
		t.printf("\n(the reply did not follow the expected layout)\n")
	}
	for _, s := range []struct {
		heading string
		sec     formatter.Section
	}{
		{protocol.HeadingIntent, r.Intent},
		{protocol.HeadingStatus, r.Status},
		{protocol.HeadingReply, r.Reply},
	} {
		t.printf("\n== %s ==\n", s.heading)
		if s.sec.Present {
			t.printf("%s\n", s.sec.Text)
		} else {
			t.printf("(absent)\n")
		}
	}
}

// config shows the settings or applies key=value pairs.
func (t *Terminal) config(arg string) error {
	if arg != "" {
		changes := strings.Fields(arg)
		for _, c := range changes {
			if err := checkSetting(c); err != nil {
				return err
			}
		}
		_, err := t.agent.Configure(func(s *agent.Settings) {
			for _, c := range changes {
				applySetting(s, c)
			}
		})
		if err != nil {
			return err
		}
	}
	s := t.agent.Settings()
	thinking := "off"
	if s.Thinking {
		thinking = "on"
	}
	t.printf("model=%s thinking=%s budget=%d max_tokens=%d timeout=%s\n",
		s.Model, thinking, s.ThinkingBudget, s.MaxOutputTokens(), s.Timeout)
	return nil
}

func applySetting(s *agent.Settings, kv string) {
	k, v, _ := strings.Cut(kv, "=")
	switch strings.ToLower(k) {
	case "model":
		s.Model = v
	case "thinking":
		s.Thinking = v == "on" || v == "true"
	case "budget":
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			s.ThinkingBudget = n
		}
	case "timeout":
		if d, err := time.ParseDuration(v); err == nil {
			s.Timeout = d
		}
	}
}

// checkSetting reports pairs applySetting could not use.
func checkSetting(kv string) error {
	k, v, ok := strings.Cut(kv, "=")
	if !ok {
		return errors.Wrapf(errors.ErrInvalid, "expected key=value, got %q", kv)
	}
	switch strings.ToLower(k) {
	case "model":
	case "thinking":
		if v != "on" && v != "off" && v != "true" && v != "false" {
			return errors.Wrapf(errors.ErrInvalid, "thinking must be on or off")
		}
	case "budget":
		if _, err := strconv.ParseInt(v, 10, 64); err != nil {
			return errors.Wrapf(errors.ErrInvalid, "budget must be a number")
		}
	case "timeout":
		if _, err := time.ParseDuration(v); err != nil {
			return errors.Wrapf(errors.ErrInvalid, "timeout must be a duration such as 90s")
		}
	default:
		return errors.Wrapf(errors.ErrInvalid, "unknown setting %q", k)
	}
	return nil
}

// confirm asks the operator before a tool runs in prompt mode.
func (t *Terminal) confirm(tc session.ToolCall) bool {
	t.printf("Run tool `%s` with %v? (y/n): ", tc.Name, tc.Args)
	if !t.in.Scan() {
		return false
	}
	return strings.TrimSpace(strings.ToLower(t.in.Text())) == "y"
}

func (t *Terminal) printf(format string, a ...interface{}) {
	t.outMu.Lock()
	defer t.outMu.Unlock()
	fmt.Fprintf(t.out, format, a...)
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func orNone(xs []string) []string {
	if len(xs) == 0 {
		return []string{"none"}
	}
	return xs
}
