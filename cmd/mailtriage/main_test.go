package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/m4xw311/mailtriage/agent"
	"github.com/m4xw311/mailtriage/batch"
	"github.com/m4xw311/mailtriage/config"
	"github.com/m4xw311/mailtriage/errors"
	"github.com/m4xw311/mailtriage/llm"
	"github.com/m4xw311/mailtriage/metrics"
	"github.com/m4xw311/mailtriage/protocol"
	"github.com/m4xw311/mailtriage/session"
	"github.com/m4xw311/mailtriage/store"
	"github.com/m4xw311/mailtriage/tools"
	"go.uber.org/zap/zaptest"
)

// copyDir copies the regular files of src into a fresh temp dir.
func copyDir(t *testing.T, src string) string {
	t.Helper()
	dst := t.TempDir()
	entries, err := os.ReadDir(src)
	if err != nil {
		t.Fatalf("Failed to read %s: %v", src, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		b, err := os.ReadFile(filepath.Join(src, e.Name()))
		if err != nil {
			t.Fatalf("Failed to read %s: %v", e.Name(), err)
		}
		if err := os.WriteFile(filepath.Join(dst, e.Name()), b, 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", e.Name(), err)
		}
	}
	return dst
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    agent.Mode
		wantErr bool
	}{
		{"auto", agent.ModeAuto, false},
		{"prompt", agent.ModePrompt, false},
		{"yolo", agent.ModeAuto, true},
	}
	for _, tt := range tests {
		got, err := parseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("parseMode(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestOpenSession(t *testing.T) {
	old := session.Dir
	session.Dir = t.TempDir()
	defer func() { session.Dir = old }()

	sess, err := openSession("", "", "default")
	if err != nil {
		t.Fatalf("openSession failed: %v", err)
	}
	if !strings.HasPrefix(sess.Name, "console_") || sess.Toolset != "default" {
		t.Errorf("unexpected session %q toolset %q", sess.Name, sess.Toolset)
	}
	if err := sess.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	resumed, err := openSession("", sess.Name, "other")
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if resumed.Toolset != "default" {
		t.Errorf("resumed session should keep its toolset, got %q", resumed.Toolset)
	}
	if _, err := openSession("", "missing", ""); err == nil {
		t.Error("expected an error resuming a missing session")
	}
}

func TestOpenMailbox(t *testing.T) {
	cfg := config.Default()
	cfg.EmailSource = config.EmailSource{Path: "../../mailbox/testdata/emails"}
	mb, err := openMailbox(context.Background(), cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("openMailbox failed: %v", err)
	}
	if n := len(mb.Conversations()); n != 3 {
		t.Errorf("expected 3 conversations, got %d", n)
	}

	cfg.EmailSource = config.EmailSource{Path: "../../mailbox/testdata/emails.csv"}
	mb, err = openMailbox(context.Background(), cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("openMailbox failed for csv: %v", err)
	}
	if n := len(mb.Conversations()); n != 2 {
		t.Errorf("expected 2 conversations, got %d", n)
	}

	cfg.EmailSource = config.EmailSource{Type: "imap", Path: "x"}
	if _, err := openMailbox(context.Background(), cfg, zaptest.NewLogger(t)); !errors.Is(err, errors.ErrInvalid) {
		t.Errorf("expected ErrInvalid for an unknown source type, got %v", err)
	}
}

func TestBuildAgentSwitchesModel(t *testing.T) {
	st, err := store.Load("../../store/testdata", nil)
	if err != nil {
		t.Fatalf("Failed to load store: %v", err)
	}
	reg, err := tools.NewToolRegistry(st, nil, nil)
	if err != nil {
		t.Fatalf("Failed to create registry: %v", err)
	}
	cfg := config.Default()
	a, err := buildAgent(context.Background(), cfg, reg, metrics.New(), nil, "default", agent.ModeAuto, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("buildAgent failed: %v", err)
	}
	// The mock provider has no alias table, so any model name is accepted.
	if _, err := a.Configure(func(s *agent.Settings) { s.Model = "offline-2" }); err != nil {
		t.Errorf("model switch failed: %v", err)
	}
	if got := a.Settings().Model; got != "offline-2" {
		t.Errorf("expected model offline-2, got %q", got)
	}

	if _, known := llm.ResolveModel(llm.ProviderAnthropic, "no-such-model"); known {
		t.Fatal("expected an unknown anthropic model")
	}
}

func TestBuildAgentWithoutCredentials(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	st, err := store.Load("../../store/testdata", nil)
	if err != nil {
		t.Fatalf("Failed to load store: %v", err)
	}
	reg, err := tools.NewToolRegistry(st, nil, nil)
	if err != nil {
		t.Fatalf("Failed to create registry: %v", err)
	}
	cfg := config.Default()
	cfg.LLMClient = llm.ProviderAnthropic
	a, err := buildAgent(context.Background(), cfg, reg, metrics.New(), nil, "default", agent.ModeAuto, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("missing credentials must not stop startup: %v", err)
	}
	_, err = a.Triage(context.Background(), protocol.Inquiry{Body: "Where is my order LC789012?"})
	if !errors.Is(err, errors.ErrAgentUnavailable) {
		t.Errorf("expected ErrAgentUnavailable per invocation, got %v", err)
	}
}

func TestRunBatchKeyword(t *testing.T) {
	dir := t.TempDir()
	b, err := os.ReadFile("../../mailbox/testdata/emails.csv")
	if err != nil {
		t.Fatalf("Failed to read fixture: %v", err)
	}
	path := filepath.Join(dir, "emails.csv")
	if err := os.WriteFile(path, b, 0644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}

	cfg := config.Default()
	cfg.EmailSource = config.EmailSource{Path: path}
	logger := zaptest.NewLogger(t)
	mb, err := openMailbox(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("openMailbox failed: %v", err)
	}

	var out bytes.Buffer
	if err := runBatch(context.Background(), cfg, mb, nil, batch.ModeKeyword, 0, true, &out, logger); err != nil {
		t.Fatalf("runBatch failed: %v", err)
	}
	got := out.String()
	for _, want := range []string{"[1/2]", "[2/2]", "Success rate: 100.0%", "Wrote 4 categories"} {
		if !strings.Contains(got, want) {
			t.Errorf("output lacks %q:\n%s", want, got)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "emails.bak.csv")); err != nil {
		t.Errorf("backup not written: %v", err)
	}

	cfg.EmailSource = config.EmailSource{Path: "../../mailbox/testdata/emails"}
	if err := runBatch(context.Background(), cfg, mb, nil, batch.ModeKeyword, 0, true, &out, logger); !errors.Is(err, errors.ErrInvalid) {
		t.Errorf("write-back to a text directory must fail, got %v", err)
	}
}

func TestRunData(t *testing.T) {
	dir := copyDir(t, "../../store/testdata")

	var out bytes.Buffer
	if err := runData([]string{"list", "customers"}, dir, &out); err != nil {
		t.Fatalf("list customers failed: %v", err)
	}
	if !strings.Contains(out.String(), "alice@example.com") {
		t.Errorf("customer list lacks alice:\n%s", out.String())
	}

	out.Reset()
	if err := runData([]string{"list", "orders"}, dir, &out); err != nil {
		t.Fatalf("list orders failed: %v", err)
	}
	if !strings.Contains(out.String(), "LC789012") {
		t.Errorf("order list lacks LC789012:\n%s", out.String())
	}

	out.Reset()
	err := runData([]string{"add-customer", "-id", "C900", "-email", "zoe@example.org", "-name", "Zoe"}, dir, &out)
	if err != nil {
		t.Fatalf("add-customer failed: %v", err)
	}
	err = runData([]string{"add-product", "-id", "NE555P", "-name", "NE555 Timer", "-price", "0.35", "-quantity", "200"}, dir, &out)
	if err != nil {
		t.Fatalf("add-product failed: %v", err)
	}

	st, err := store.Load(dir, nil)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if c, err := st.Customer("zoe@example.org"); err != nil || c.VIPLevel != "Bronze" {
		t.Errorf("customer not persisted: %+v %v", c, err)
	}
	if p, err := st.Product("NE555P"); err != nil || p.StockStatus != "In Stock" {
		t.Errorf("product not persisted: %+v %v", p, err)
	}

	if err := runData([]string{"add-customer", "-id", "C901", "-email", "zoe@example.org"}, dir, &out); !errors.Is(err, errors.ErrInvalid) {
		t.Errorf("duplicate customer must fail with ErrInvalid, got %v", err)
	}
	for _, args := range [][]string{nil, {"list"}, {"list", "invoices"}, {"drop"}} {
		if err := runData(args, dir, &out); !errors.Is(err, errors.ErrInvalid) {
			t.Errorf("runData(%v) = %v, want ErrInvalid", args, err)
		}
	}
}
