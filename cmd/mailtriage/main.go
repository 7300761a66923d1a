package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/m4xw311/mailtriage/agent"
	"github.com/m4xw311/mailtriage/agent/acp"
	"github.com/m4xw311/mailtriage/agent/terminal"
	"github.com/m4xw311/mailtriage/batch"
	"github.com/m4xw311/mailtriage/config"
	"github.com/m4xw311/mailtriage/errors"
	"github.com/m4xw311/mailtriage/llm"
	"github.com/m4xw311/mailtriage/logging"
	"github.com/m4xw311/mailtriage/mailbox"
	"github.com/m4xw311/mailtriage/metrics"
	"github.com/m4xw311/mailtriage/session"
	"github.com/m4xw311/mailtriage/store"
	"github.com/m4xw311/mailtriage/tools"
	"github.com/m4xw311/mailtriage/tools/mcp"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "data" {
		cfg, err := config.LoadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading configuration: %+v\n", err)
			os.Exit(1)
		}
		if err := runData(os.Args[2:], cfg.DataDir, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Define flags
	modeFlag := flag.String("m", "auto", "Execution mode: 'auto' or 'prompt' (confirm every tool call)")
	sessionFlag := flag.String("s", "", "Session name for the console transcript")
	resumeFlag := flag.String("r", "", "Resume a saved session by name")
	toolsetFlag := flag.String("t", "default", "Toolset to use")
	acpFlag := flag.Bool("acp", false, "Serve the Agent Client Protocol on stdio")
	mcpFlag := flag.Bool("mcp", false, "Serve the business tools over MCP on stdio")
	batchFlag := flag.Bool("batch", false, "Triage every conversation of the email source and print a summary")
	classifierFlag := flag.String("classifier", "agent", "Batch classifier: 'agent' or 'keyword'")
	writeBackFlag := flag.Bool("write-back", false, "Write batch categories back to the spreadsheet source")
	limitFlag := flag.Int("limit", 0, "Batch: stop after this many conversations (0 = all)")
	thinkingFlag := flag.Bool("show-thinking", true, "Console: print the model's reasoning as it streams")
	traceFlag := flag.Bool("trace", false, "Write a debug trace of the ACP session to acp.trace")
	metricsAddrFlag := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %+v\n", err)
		os.Exit(1)
	}
	if *metricsAddrFlag != "" {
		cfg.MetricsAddr = *metricsAddrFlag
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %+v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rec := metrics.New()
	if cfg.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.MetricsAddr, rec, logger)
	}

	st, err := store.Load(cfg.DataDir, logger)
	if err != nil {
		logger.Fatal("failed to load business data", zap.String("dir", cfg.DataDir), zap.Error(err))
	}
	registry, err := tools.NewToolRegistry(st, rec, logger)
	if err != nil {
		logger.Fatal("failed to build tool registry", zap.Error(err))
	}
	registry.ConnectMCPServers(ctx, cfg.AdditionalMCPServers)
	defer registry.Close()

	if *mcpFlag {
		ts, err := cfg.GetToolset(*toolsetFlag)
		if err != nil {
			logger.Fatal("unknown toolset", zap.String("toolset", *toolsetFlag), zap.Error(err))
		}
		active, err := registry.GetActiveTools(ts)
		if err != nil {
			logger.Fatal("failed to resolve toolset", zap.Error(err))
		}
		logger.Info("serving tools over MCP", zap.Int("tools", len(active)))
		if err := mcp.Serve(ctx, version, tools.Handlers(active)); err != nil && ctx.Err() == nil {
			logger.Fatal("MCP server failed", zap.Error(err))
		}
		return
	}

	mb, err := openMailbox(ctx, cfg, logger)
	if err != nil {
		if *batchFlag {
			logger.Fatal("failed to load email source", zap.String("path", cfg.EmailSource.Path), zap.Error(err))
		}
		logger.Warn("email source not loaded; mail commands are disabled", zap.String("path", cfg.EmailSource.Path), zap.Error(err))
	}

	if *batchFlag {
		mode, err := batch.ParseMode(*classifierFlag)
		if err != nil {
			logger.Fatal("invalid classifier", zap.Error(err))
		}
		var a *agent.Agent
		if mode == batch.ModeAgent {
			a, err = buildAgent(ctx, cfg, registry, rec, nil, *toolsetFlag, agent.ModeAuto, logger)
			if err != nil {
				logger.Fatal("failed to initialize agent", zap.Error(err))
			}
		}
		if err := runBatch(ctx, cfg, mb, a, mode, *limitFlag, *writeBackFlag, os.Stdout, logger); err != nil {
			logger.Fatal("batch failed", zap.Error(err))
		}
		return
	}

	opMode, err := parseMode(*modeFlag)
	if err != nil {
		logger.Fatal("invalid mode", zap.Error(err))
	}
	sess, err := openSession(*sessionFlag, *resumeFlag, *toolsetFlag)
	if err != nil {
		logger.Fatal("failed to open session", zap.Error(err))
	}
	toolset := *toolsetFlag
	if sess.Toolset != "" {
		toolset = sess.Toolset
	}
	a, err := buildAgent(ctx, cfg, registry, rec, sess, toolset, opMode, logger)
	if err != nil {
		logger.Fatal("failed to initialize agent", zap.Error(err))
	}

	// Check if ACP mode is enabled
	if *acpFlag {
		acpLogger := logger
		if *traceFlag {
			if acpLogger, err = logging.NewFile("acp.trace"); err != nil {
				logger.Fatal("failed to open trace", zap.Error(err))
			}
			defer acpLogger.Sync()
		}
		acp.Version = version
		// Nothing but protocol messages may go to stdout.
		fmt.Fprintln(os.Stderr, "Starting mailtriage in ACP mode...")
		in := bufio.NewReader(os.Stdin)
		out := bufio.NewWriter(os.Stdout)
		if err := acp.Run(ctx, a, mb, in, out, acpLogger); err != nil {
			logger.Fatal("ACP mode failed", zap.Error(err))
		}
		return
	}

	// Get initial prompt from remaining arguments
	initialPrompt := strings.Join(flag.Args(), " ")
	term := terminal.New(a, mb, terminal.WithLogger(logger))
	term.ShowThinking = *thinkingFlag
	if err := term.Run(ctx, initialPrompt); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "Agent stopped with an error: %+v\n", err)
		os.Exit(1)
	}
}

func parseMode(s string) (agent.Mode, error) {
	switch s {
	case "auto":
		return agent.ModeAuto, nil
	case "prompt":
		return agent.ModePrompt, nil
	}
	return agent.ModeAuto, errors.Wrapf(errors.ErrInvalid, "invalid mode '%s', must be 'auto' or 'prompt'", s)
}

// openSession resumes the named session or starts a new one.
func openSession(name, resume, toolset string) (*session.Session, error) {
	if resume != "" {
		sess, err := session.Load(resume)
		if err != nil {
			return nil, errors.Wrapf(err, "error resuming session '%s'", resume)
		}
		return sess, nil
	}
	if name == "" {
		name = "console_" + time.Now().Format("2006-01-02_15-04-05")
	}
	sess, err := session.New(name)
	if err != nil {
		return nil, err
	}
	sess.Toolset = toolset
	return sess, nil
}

// openMailbox loads the configured email source.
func openMailbox(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*mailbox.Mailbox, error) {
	var src mailbox.Source
	switch cfg.EmailSourceType() {
	case "spreadsheet":
		src = &mailbox.SpreadsheetSource{Path: cfg.EmailSource.Path, Sheet: cfg.EmailSource.Sheet}
	case "dir":
		src = &mailbox.TextDirSource{Dir: cfg.EmailSource.Path}
	default:
		return nil, errors.Wrapf(errors.ErrInvalid, "unknown email source type %q", cfg.EmailSource.Type)
	}
	return mailbox.Open(ctx, src, logger)
}

// newClient resolves model for the configured provider and creates the client.
func newClient(ctx context.Context, cfg *config.Config, model string, logger *zap.Logger) (llm.LLMClient, error) {
	id, known := llm.ResolveModel(cfg.LLMClient, model)
	if !known {
		logger.Warn("unknown model, using the default", zap.String("model", model), zap.String("resolved", id))
	}
	return llm.New(ctx, cfg.LLMClient, id, cfg.Region)
}

func buildAgent(ctx context.Context, cfg *config.Config, registry *tools.ToolRegistry, rec *metrics.Recorder, sess *session.Session, toolset string, mode agent.Mode, logger *zap.Logger) (*agent.Agent, error) {
	client, err := newClient(ctx, cfg, cfg.Model, logger)
	if errors.Is(err, errors.ErrAgentUnavailable) {
		// Mail commands keep working; each invocation reports the agent as unavailable.
		logger.Warn("agent unavailable", zap.String("llm", cfg.LLMClient), zap.Error(err))
		client = nil
	} else if err != nil {
		return nil, err
	}
	// Later model switches must name a model the provider knows.
	factory := func(ctx context.Context, model string) (llm.LLMClient, error) {
		if _, known := llm.ResolveModel(cfg.LLMClient, model); !known {
			return nil, errors.Wrapf(errors.ErrInvalid, "unknown model %q for %s", model, cfg.LLMClient)
		}
		return newClient(ctx, cfg, model, logger)
	}
	a, err := agent.New(cfg, registry, sess, toolset, mode, client,
		agent.WithLogger(logger),
		agent.WithMetrics(rec),
		agent.WithClientFactory(factory),
	)
	if err != nil {
		return nil, err
	}
	a.SaveSessions = cfg.SaveSessions
	return a, nil
}

func runBatch(ctx context.Context, cfg *config.Config, mb *mailbox.Mailbox, a *agent.Agent, mode batch.Mode, limit int, writeBack bool, out io.Writer, logger *zap.Logger) error {
	if writeBack && cfg.EmailSourceType() != "spreadsheet" {
		return errors.Wrapf(errors.ErrInvalid, "-write-back needs a spreadsheet email source")
	}
	an, err := batch.NewAnalyzer(mb, a, mode,
		batch.WithLimit(limit),
		batch.WithLogger(logger),
		batch.WithProgress(func(done, total int, r batch.Result) {
			if r.OK() {
				fmt.Fprintf(out, "[%d/%d] %s: %s (%s, %.1fs)\n", done, total, r.ConversationID, r.Primary, r.Confidence, r.Duration.Seconds())
			} else {
				fmt.Fprintf(out, "[%d/%d] %s: failed: %v\n", done, total, r.ConversationID, r.Err)
			}
		}),
	)
	if err != nil {
		return err
	}
	results, runErr := an.Run(ctx, mb.Conversations())
	fmt.Fprintln(out)
	batch.Summarize(results).Report(out)
	if runErr != nil {
		return runErr
	}
	if writeBack {
		n, err := batch.WriteCategories(cfg.EmailSource.Path, cfg.EmailSource.Sheet, results)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Wrote %d categories to %s (backup %s)\n", n, cfg.EmailSource.Path, batch.BackupPath(cfg.EmailSource.Path))
	}
	return nil
}

// serveMetrics exposes the recorder until ctx is done.
func serveMetrics(ctx context.Context, addr string, rec *metrics.Recorder, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", rec.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info("serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server failed", zap.Error(err))
	}
}
