package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/m4xw311/mailtriage/agent"
	"github.com/m4xw311/mailtriage/errors"
	"github.com/m4xw311/mailtriage/formatter"
	"github.com/m4xw311/mailtriage/logging"
	"github.com/m4xw311/mailtriage/mailbox"
	"github.com/m4xw311/mailtriage/protocol"
	"github.com/m4xw311/mailtriage/session"
	"github.com/m4xw311/mailtriage/stream"
	"go.uber.org/zap"
)

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603
	codeBusy           = -32000
	codeUnavailable    = -32001
)

// Version is reported in the initialize response.
var Version = "dev"

// Run starts the Agent Client Protocol server over stdio using JSON-RPC.
// It implements:
//   - initialize, session/new, session/load
//   - session/prompt (streams session/update notifications with
//     agent_thought_chunk, agent_message_chunk, tool_call and tool_result)
//   - session/cancel
//   - mail/list, mail/get, mail/refresh, mail/triage
//   - agent/getConfig, agent/setConfig
//
// Nothing but JSON-RPC messages is written to out; logs go to logger.
// Messages are newline-delimited JSON objects rather than using Content-Length framing.
// Prompts run in the background so that session/cancel can reach them; a
// prompt that arrives while another is running gets error -32000.
func Run(ctx context.Context, a *agent.Agent, mb *mailbox.Mailbox, in *bufio.Reader, out *bufio.Writer, logger *zap.Logger) error {
	server := &acpServer{
		ctx:          ctx,
		agent:        a,
		mailbox:      mb,
		sessions:     make(map[string]*session.Session),
		inflight:     make(map[string]context.CancelFunc),
		StdinReader:  in,
		StdoutWriter: out,
		log:          logging.OrNop(logger).Named("acp"),
	}
	defer server.wg.Wait()

	server.log.Debug("starting ACP server")
	// Main read loop
	for {
		payload, err := server.readFramedMessage()
		if err != nil {
			if err == io.EOF {
				server.log.Debug("EOF received, exiting")
				return nil
			}
			// If framing is broken, there isn't a safe way to continue.
			return errors.Wrapf(err, "ACP: read error")
		}
		if len(strings.TrimSpace(string(payload))) == 0 {
			continue
		}

		var req jsonrpcRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			server.log.Debug("JSON parse error", zap.Error(err))
			_ = server.writeResponseError(nil, codeParseError, "Parse error", nil)
			continue
		}
		server.log.Debug("dispatching", zap.String("method", req.Method), zap.Any("id", req.ID))
		server.dispatch(&req)
	}
}

func (s *acpServer) dispatch(req *jsonrpcRequest) {
	switch req.Method {
	case "initialize":
		s.handleInitialize(req)
	case "session/new":
		s.handleSessionNew(req)
	case "session/load":
		s.handleSessionLoad(req)
	case "session/prompt":
		s.handleSessionPrompt(req)
	case "session/cancel":
		s.handleSessionCancel(req)
	case "mail/list":
		s.handleMailList(req)
	case "mail/get":
		s.handleMailGet(req)
	case "mail/refresh":
		s.handleMailRefresh(req)
	case "mail/triage":
		s.handleMailTriage(req)
	case "agent/getConfig":
		s.handleGetConfig(req)
	case "agent/setConfig":
		s.handleSetConfig(req)
	default:
		if req.ID != nil {
			_ = s.writeResponseError(req.ID, codeMethodNotFound, "Method not found", req.Method)
		}
	}
}

// ---- JSON-RPC types ----

// jsonrpcRequest represents a JSON-RPC 2.0 request message
type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// jsonrpcResponse represents a JSON-RPC 2.0 response message
type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

// jsonrpcError represents a JSON-RPC 2.0 error object
type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ---- acpServer ----

// acpServer holds the state of one ACP connection.
type acpServer struct {
	ctx          context.Context
	agent        *agent.Agent
	mailbox      *mailbox.Mailbox
	sessions     map[string]*session.Session
	inflight     map[string]context.CancelFunc
	sessionsLock sync.Mutex
	sessionIDSeq int64
	wg           sync.WaitGroup

	StdinReader  *bufio.Reader
	StdoutWriter *bufio.Writer
	writeLock    sync.Mutex
	log          *zap.Logger
}

// readFramedMessage reads a single JSON-RPC payload
func (s *acpServer) readFramedMessage() ([]byte, error) {
	// JSON-RPC requests and responses are newline-delimited JSONs.
	line, err := s.StdinReader.ReadBytes('\n')
	if err == io.EOF && len(line) > 0 {
		return line, nil
	}
	if err != nil {
		return nil, err
	}
	return line, nil
}

// writeFramedJSON serializes and writes one newline-terminated JSON-RPC message.
func (s *acpServer) writeFramedJSON(obj any) error {
	data, err := json.Marshal(obj)
	if err != nil {
		s.log.Error("failed to serialize JSON-RPC message", zap.Error(err))
		return errors.Wrapf(err, "failed to serialize JSON-RPC message")
	}
	s.log.Debug("send", zap.ByteString("message", data))

	s.writeLock.Lock()
	defer s.writeLock.Unlock()
	if _, err := s.StdoutWriter.Write(data); err != nil {
		return err
	}
	// Write newline to stdout to inform client that message is complete
	if err := s.StdoutWriter.WriteByte('\n'); err != nil {
		return err
	}
	return s.StdoutWriter.Flush()
}

// writeResponseOK sends a successful JSON-RPC response with the given result
func (s *acpServer) writeResponseOK(id any, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return s.writeResponseError(id, codeInternal, "Internal error", err.Error())
	}
	return s.writeFramedJSON(jsonrpcResponse{JSONRPC: "2.0", ID: id, Result: raw})
}

// writeResponseError sends a JSON-RPC error response with the specified error code and message
func (s *acpServer) writeResponseError(id any, code int, msg string, data any) error {
	s.log.Debug("error response", zap.Int("code", code), zap.String("message", msg), zap.Any("data", data))
	return s.writeFramedJSON(jsonrpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &jsonrpcError{Code: code, Message: msg, Data: data},
	})
}

// writeNotification sends a JSON-RPC notification (request without an ID)
func (s *acpServer) writeNotification(method string, params any) error {
	return s.writeFramedJSON(map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
	})
}

// decodeParams unmarshals the request params into p, answering with
// "Invalid params" on failure.
func (s *acpServer) decodeParams(req *jsonrpcRequest, p any) bool {
	if len(req.Params) == 0 {
		return true
	}
	if err := json.Unmarshal(req.Params, p); err != nil {
		_ = s.writeResponseError(req.ID, codeInvalidParams, "Invalid params", err.Error())
		return false
	}
	return true
}

// ---- Handlers ----

// handleInitialize returns the protocol version and the agent capabilities.
func (s *acpServer) handleInitialize(req *jsonrpcRequest) {
	// initParams represents the parameters for the initialize request
	type initParams struct {
		ProtocolVersion int             `json:"protocolVersion"`
		ClientCaps      json.RawMessage `json:"clientCapabilities,omitempty"`
	}
	var p initParams
	if !s.decodeParams(req, &p) {
		return
	}

	// Minimal: we support v1
	_ = s.writeResponseOK(req.ID, map[string]any{
		"protocolVersion": 1,
		"agentCapabilities": map[string]any{
			"loadSession": true,
			"promptCapabilities": map[string]bool{
				"audio":           false,
				"embeddedContext": false,
				"image":           false,
			},
		},
		"agentInfo": map[string]any{
			"name":    "mailtriage",
			"version": Version,
		},
		"authMethods": []any{},
	})
}

// handleSessionNew creates a new session and returns its ID.
func (s *acpServer) handleSessionNew(req *jsonrpcRequest) {
	// sessionNewParams represents the parameters for creating a new session
	type sessionNewParams struct {
		Cwd        string          `json:"cwd"`
		McpServers json.RawMessage `json:"mcpServers"`
	}
	var p sessionNewParams
	if !s.decodeParams(req, &p) {
		return
	}

	sid := s.nextSessionID()
	sess, err := session.New(sid)
	if err != nil {
		_ = s.writeResponseError(req.ID, codeInternal, "Internal error", fmt.Sprintf("failed to create session: %v", err))
		return
	}
	if s.agent.Session != nil {
		sess.Toolset = s.agent.Session.Toolset
	}

	s.sessionsLock.Lock()
	s.sessions[sid] = sess
	s.sessionsLock.Unlock()
	s.log.Debug("session created", zap.String("session", sid))

	_ = s.writeResponseOK(req.ID, map[string]any{"sessionId": sid})
}

// handleSessionLoad loads a saved session and replays its history as
// session/update notifications before answering null.
func (s *acpServer) handleSessionLoad(req *jsonrpcRequest) {
	// sessionLoadParams represents the parameters for loading an existing session
	type sessionLoadParams struct {
		SessionID  string          `json:"sessionId"`
		Cwd        string          `json:"cwd"`
		McpServers json.RawMessage `json:"mcpServers"`
	}
	var p sessionLoadParams
	if !s.decodeParams(req, &p) {
		return
	}

	sess, err := session.Load(p.SessionID)
	if err != nil {
		_ = s.writeResponseError(req.ID, codeInvalidParams, "Invalid params", fmt.Sprintf("session not found: %v", err))
		return
	}

	s.sessionsLock.Lock()
	s.sessions[p.SessionID] = sess
	s.sessionsLock.Unlock()

	s.log.Debug("replaying session", zap.String("session", p.SessionID), zap.Int("messages", len(sess.Messages)))
	for _, msg := range sess.Messages {
		switch msg.Role {
		case "user":
			_ = s.sendUpdate(p.SessionID, textUpdate("user_message_chunk", msg.Content))
		case "assistant":
			for _, th := range msg.Thinking {
				if th.Text != "" {
					_ = s.sendUpdate(p.SessionID, textUpdate("agent_thought_chunk", th.Text))
				}
			}
			if msg.Content != "" {
				_ = s.sendUpdate(p.SessionID, textUpdate("agent_message_chunk", msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				_ = s.sendToolCallNotification(p.SessionID, tc.ToolCallID, tc.Name, tc.Args)
			}
		case "tool":
			if len(msg.ToolCalls) > 0 {
				_ = s.sendToolResultNotification(p.SessionID, msg.ToolCalls[0].ToolCallID, msg.Content)
			}
		}
	}

	_ = s.writeResponseOK(req.ID, nil)
}

// contentBlock represents a content block in ACP prompt requests.
// Text and resource_link blocks are understood.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	// ResourceLink fields
	URI         string `json:"uri,omitempty"`
	Name        string `json:"name,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Size        *int64 `json:"size,omitempty"`
}

// handleSessionPrompt triages the prompt text as an email. The first prompt
// of a session is wrapped as an inquiry; later prompts are follow-up
// instructions on the same transcript. Events stream as session/update
// notifications and the response carries the stop reason.
func (s *acpServer) handleSessionPrompt(req *jsonrpcRequest) {
	// promptParams represents the parameters for processing a prompt
	type promptParams struct {
		SessionID string         `json:"sessionId"`
		Prompt    []contentBlock `json:"prompt"`
	}
	var p promptParams
	if !s.decodeParams(req, &p) {
		return
	}

	s.sessionsLock.Lock()
	sess, ok := s.sessions[p.SessionID]
	s.sessionsLock.Unlock()
	if !ok {
		_ = s.writeResponseError(req.ID, codeInvalidParams, "Invalid params", "unknown sessionId")
		return
	}

	userText := extractUserText(p.Prompt)
	if strings.TrimSpace(userText) == "" {
		_ = s.writeResponseError(req.ID, codeInvalidParams, "Invalid params", "prompt has no text")
		return
	}
	prompt := userText
	if !hasUserTurn(sess) {
		prompt = protocol.Inquiry{Body: userText}.Prompt()
	}

	ctx, cancel := context.WithCancel(s.ctx)
	events, err := s.agent.Invoke(ctx, agent.Request{Prompt: prompt, Session: sess})
	if err != nil {
		cancel()
		s.respondInvokeError(req.ID, err)
		return
	}
	s.track(p.SessionID, cancel)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.untrack(p.SessionID)
		defer cancel()

		last := s.forward(p.SessionID, events)
		switch {
		case last.Kind == stream.Done:
			_ = s.writeResponseOK(req.ID, map[string]any{"stopReason": "end_turn"})
		case last.ErrKind == stream.ErrCanceled:
			_ = s.writeResponseOK(req.ID, map[string]any{"stopReason": "cancelled"})
		default:
			s.respondEventError(req.ID, last)
		}
	}()
}

// handleSessionCancel stops the running prompt of a session. It is a
// notification and gets no response.
func (s *acpServer) handleSessionCancel(req *jsonrpcRequest) {
	var p struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil {
		s.log.Debug("bad session/cancel params", zap.Error(err))
		return
	}
	s.sessionsLock.Lock()
	cancel, ok := s.inflight[p.SessionID]
	s.sessionsLock.Unlock()
	if ok {
		s.log.Debug("cancelling prompt", zap.String("session", p.SessionID))
		cancel()
	}
	if req.ID != nil {
		_ = s.writeResponseOK(req.ID, nil)
	}
}

func (s *acpServer) needMailbox(id any) bool {
	if s.mailbox == nil {
		_ = s.writeResponseError(id, codeInternal, "Internal error", "no email source is loaded")
		return false
	}
	return true
}

// handleMailList returns one page of conversations.
func (s *acpServer) handleMailList(req *jsonrpcRequest) {
	p := struct {
		Page     int `json:"page"`
		PageSize int `json:"pageSize"`
	}{Page: 1, PageSize: 20}
	if !s.decodeParams(req, &p) || !s.needMailbox(req.ID) {
		return
	}
	convs, info, err := s.mailbox.Page(p.Page, p.PageSize)
	if err != nil {
		_ = s.writeResponseError(req.ID, codeInvalidParams, "Invalid params", err.Error())
		return
	}
	if convs == nil {
		convs = []mailbox.Conversation{}
	}
	_ = s.writeResponseOK(req.ID, map[string]any{
		"conversations": convs,
		"pageInfo":      info,
		"stats":         s.mailbox.Stats(),
	})
}

// handleMailGet returns a conversation summary and its messages, oldest first.
func (s *acpServer) handleMailGet(req *jsonrpcRequest) {
	var p struct {
		ConversationID string `json:"conversationId"`
	}
	if !s.decodeParams(req, &p) || !s.needMailbox(req.ID) {
		return
	}
	sum, err := s.mailbox.Summary(p.ConversationID)
	if err != nil {
		_ = s.writeResponseError(req.ID, codeInvalidParams, "Invalid params", err.Error())
		return
	}
	msgs, _ := s.mailbox.Conversation(p.ConversationID)
	_ = s.writeResponseOK(req.ID, map[string]any{
		"conversation": sum,
		"messages":     msgs,
	})
}

func (s *acpServer) handleMailRefresh(req *jsonrpcRequest) {
	if !s.needMailbox(req.ID) {
		return
	}
	if err := s.mailbox.Refresh(s.ctx); err != nil {
		_ = s.writeResponseError(req.ID, codeInternal, "Internal error", err.Error())
		return
	}
	_ = s.writeResponseOK(req.ID, map[string]any{"conversations": len(s.mailbox.Conversations())})
}

// handleMailTriage triages a stored conversation. When sessionId is given,
// events stream as session/update notifications for that ID and
// session/cancel with it stops the run.
func (s *acpServer) handleMailTriage(req *jsonrpcRequest) {
	var p struct {
		ConversationID string `json:"conversationId"`
		SessionID      string `json:"sessionId"`
	}
	if !s.decodeParams(req, &p) || !s.needMailbox(req.ID) {
		return
	}
	inq, err := s.mailbox.Inquiry(p.ConversationID)
	if err != nil {
		_ = s.writeResponseError(req.ID, codeInvalidParams, "Invalid params", err.Error())
		return
	}
	if s.agent.Busy() {
		s.respondInvokeError(req.ID, errors.ErrBusy)
		return
	}

	key := p.SessionID
	if key == "" {
		key = "mail:" + p.ConversationID
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.track(key, cancel)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.untrack(key)
		defer cancel()

		var onEvent func(stream.Event)
		if p.SessionID != "" {
			onEvent = func(e stream.Event) { s.notifyEvent(p.SessionID, e) }
		}
		out, err := s.agent.TriageStream(ctx, inq, onEvent)
		if err != nil {
			if errors.Is(err, errors.ErrBusy) {
				s.respondInvokeError(req.ID, err)
				return
			}
			if out != nil && len(out.Events) > 0 {
				s.respondEventError(req.ID, out.Events[len(out.Events)-1])
				return
			}
			_ = s.writeResponseError(req.ID, codeInternal, "Internal error", err.Error())
			return
		}
		if err := s.mailbox.MarkProcessed(p.ConversationID); err != nil {
			s.log.Warn("failed to mark conversation processed", zap.String("conversation_id", p.ConversationID), zap.Error(err))
		}
		result := map[string]any{
			"conversationId": p.ConversationID,
			"text":           out.Annotated(),
			"response":       out.Response,
			"toolsUsed":      out.ToolsUsed,
			"thinking":       out.Thinking,
			"sections":       formatter.Validate(out.Text),
			"durationMs":     out.Duration.Milliseconds(),
		}
		if cl, ok := out.Response.Classification(); ok {
			result["classification"] = cl
		}
		_ = s.writeResponseOK(req.ID, result)
	}()
}

// configView is the wire form of agent.Settings.
type configView struct {
	Model           string `json:"model"`
	Thinking        bool   `json:"thinking"`
	ThinkingBudget  int64  `json:"thinkingBudget"`
	MaxOutputTokens int64  `json:"maxOutputTokens"`
	TimeoutSeconds  int64  `json:"timeoutSeconds"`
	MaxIterations   int    `json:"maxIterations"`
}

func viewOf(st agent.Settings) configView {
	return configView{
		Model:           st.Model,
		Thinking:        st.Thinking,
		ThinkingBudget:  st.ThinkingBudget,
		MaxOutputTokens: st.MaxOutputTokens(),
		TimeoutSeconds:  int64(st.Timeout / time.Second),
		MaxIterations:   st.MaxIterations,
	}
}

func (s *acpServer) handleGetConfig(req *jsonrpcRequest) {
	_ = s.writeResponseOK(req.ID, viewOf(s.agent.Settings()))
}

// handleSetConfig changes the fields present in params and returns the
// resulting settings. Invalid values leave the settings untouched.
func (s *acpServer) handleSetConfig(req *jsonrpcRequest) {
	var p struct {
		Model          *string `json:"model"`
		Thinking       *bool   `json:"thinking"`
		ThinkingBudget *int64  `json:"thinkingBudget"`
		TimeoutSeconds *int64  `json:"timeoutSeconds"`
		MaxIterations  *int    `json:"maxIterations"`
	}
	if !s.decodeParams(req, &p) {
		return
	}
	st, err := s.agent.Configure(func(st *agent.Settings) {
		if p.Model != nil {
			st.Model = *p.Model
		}
		if p.Thinking != nil {
			st.Thinking = *p.Thinking
		}
		if p.ThinkingBudget != nil {
			st.ThinkingBudget = *p.ThinkingBudget
		}
		if p.TimeoutSeconds != nil {
			st.Timeout = time.Duration(*p.TimeoutSeconds) * time.Second
		}
		if p.MaxIterations != nil {
			st.MaxIterations = *p.MaxIterations
		}
	})
	if err != nil {
		if errors.Is(err, errors.ErrInvalid) {
			_ = s.writeResponseError(req.ID, codeInvalidParams, "Invalid params", err.Error())
		} else {
			_ = s.writeResponseError(req.ID, codeUnavailable, "agent unavailable", err.Error())
		}
		return
	}
	_ = s.writeResponseOK(req.ID, viewOf(st))
}

// ---- streaming ----

// forward turns invocation events into notifications and returns the
// terminal event.
func (s *acpServer) forward(sessionID string, events <-chan stream.Event) stream.Event {
	var last stream.Event
	for e := range events {
		s.notifyEvent(sessionID, e)
		last = e
	}
	if !last.Terminal() {
		last = stream.ErrorEvent(stream.ErrInternal, errors.New("event stream ended early"))
	}
	return last
}

func (s *acpServer) notifyEvent(sessionID string, e stream.Event) {
	switch e.Kind {
	case stream.Reasoning:
		_ = s.sendUpdate(sessionID, textUpdate("agent_thought_chunk", e.Text))
	case stream.OutputFragment:
		_ = s.sendUpdate(sessionID, textUpdate("agent_message_chunk", e.Text))
	case stream.ToolCall:
		_ = s.sendToolCallNotification(sessionID, e.ToolCall.ID, e.ToolCall.Name, e.ToolCall.Args)
	case stream.ToolResult:
		_ = s.sendToolResultNotification(sessionID, e.ToolResult.ID, e.ToolResult.Output)
	}
}

func (s *acpServer) respondInvokeError(id any, err error) {
	if errors.Is(err, errors.ErrBusy) {
		_ = s.writeResponseError(id, codeBusy, "agent busy", nil)
		return
	}
	_ = s.writeResponseError(id, codeInternal, "Internal error", err.Error())
}

func (s *acpServer) respondEventError(id any, e stream.Event) {
	switch e.ErrKind {
	case stream.ErrUnavailable:
		_ = s.writeResponseError(id, codeUnavailable, "agent unavailable", e.ErrorMessage())
	case stream.ErrCanceled:
		_ = s.writeResponseOK(id, map[string]any{"stopReason": "cancelled"})
	default:
		_ = s.writeResponseError(id, codeInternal, e.ErrorMessage(), string(e.ErrKind))
	}
}

func textUpdate(kind, text string) map[string]any {
	return map[string]any{
		"sessionUpdate": kind,
		"content": map[string]any{
			"type": "text",
			"text": text,
		},
	}
}

func (s *acpServer) sendUpdate(sessionID string, update map[string]any) error {
	return s.writeNotification("session/update", map[string]any{
		"sessionId": sessionID,
		"update":    update,
	})
}

// sendToolCallNotification tells the client the agent is calling a tool.
func (s *acpServer) sendToolCallNotification(sessionID, id, name string, args map[string]interface{}) error {
	return s.sendUpdate(sessionID, map[string]any{
		"sessionUpdate": "tool_call",
		"toolCall": map[string]any{
			"id":   id,
			"name": name,
			"args": args,
		},
	})
}

// sendToolResultNotification reports the output of a tool call.
func (s *acpServer) sendToolResultNotification(sessionID, toolCallID, result string) error {
	return s.sendUpdate(sessionID, map[string]any{
		"sessionUpdate": "tool_result",
		"toolResult": map[string]any{
			"toolCallId": toolCallID,
			"result":     result,
		},
	})
}

func (s *acpServer) track(key string, cancel context.CancelFunc) {
	s.sessionsLock.Lock()
	s.inflight[key] = cancel
	s.sessionsLock.Unlock()
}

func (s *acpServer) untrack(key string) {
	s.sessionsLock.Lock()
	delete(s.inflight, key)
	s.sessionsLock.Unlock()
}

// nextSessionID generates a unique session ID using a timestamp and sequence number
func (s *acpServer) nextSessionID() string {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()
	s.sessionIDSeq++
	return fmt.Sprintf("sess_%d_%d", time.Now().UnixNano(), s.sessionIDSeq)
}

func hasUserTurn(sess *session.Session) bool {
	for _, m := range sess.Messages {
		if m.Role == "user" {
			return true
		}
	}
	return false
}

// readFileFromURI attempts to read file contents from a file:// URI
func readFileFromURI(uri string) (string, error) {
	parsedURL, err := url.Parse(uri)
	if err != nil {
		return "", errors.Wrapf(err, "invalid URI")
	}
	if parsedURL.Scheme != "file" {
		return "", errors.New("unsupported URI scheme: %s", parsedURL.Scheme)
	}
	content, err := os.ReadFile(parsedURL.Path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read file")
	}
	return string(content), nil
}

// extractUserText joins the text blocks of a prompt. A resource link to a
// local file (an email saved as .txt, for example) is inlined.
func extractUserText(blocks []contentBlock) string {
	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if strings.TrimSpace(b.Text) != "" {
				parts = append(parts, b.Text)
			}
		case "resource_link":
			resourceInfo := fmt.Sprintf("=== Resource: %s ===\n", b.Name)
			if b.Title != "" {
				resourceInfo += fmt.Sprintf("Title: %s\n", b.Title)
			}
			if b.Description != "" {
				resourceInfo += fmt.Sprintf("Description: %s\n", b.Description)
			}
			resourceInfo += fmt.Sprintf("URI: %s\n", b.URI)
			if b.MimeType != "" {
				resourceInfo += fmt.Sprintf("Type: %s\n", b.MimeType)
			}
			if b.Size != nil {
				resourceInfo += fmt.Sprintf("Size: %d bytes\n", *b.Size)
			}

			if strings.HasPrefix(b.URI, "file://") {
				content, err := readFileFromURI(b.URI)
				if err != nil {
					resourceInfo += fmt.Sprintf("\n[Error reading file: %v]\n", err)
				} else {
					// Limit content size for very large files
					const maxContentSize = 50000
					if len(content) > maxContentSize {
						content = content[:maxContentSize] + "\n\n[... truncated to 50KB ...]"
					}
					resourceInfo += fmt.Sprintf("\n--- File Contents ---\n%s\n--- End of File ---\n", content)
				}
			} else {
				resourceInfo += "\n[External resource - content not available]\n"
			}

			resourceInfo += "=== End Resource ===\n"
			parts = append(parts, resourceInfo)
		}
	}
	return strings.Join(parts, "\n")
}
