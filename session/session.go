package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Dir is where transcripts are written by Save.
var Dir = filepath.Join(".mailtriage", "sessions")

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ToolCallID string                 `json:"tool_call_id"`
	Name       string                 `json:"name"`
	Args       map[string]interface{} `json:"args,omitempty"`
}

// ThinkingBlock is a piece of extended reasoning returned by the model. The
// signature (or the redacted payload) must be sent back unchanged on the next
// turn when tools are in use.
type ThinkingBlock struct {
	Text      string `json:"text,omitempty"`
	Signature string `json:"signature,omitempty"`
	Redacted  string `json:"redacted,omitempty"`
}

type Message struct {
	Role      string          `json:"role"` // "system", "user", "assistant", "tool"
	Content   string          `json:"content"`
	ToolCalls []ToolCall      `json:"tool_calls,omitempty"`
	Thinking  []ThinkingBlock `json:"thinking,omitempty"`
}

type Session struct {
	Name           string    `json:"name"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Toolset        string    `json:"toolset,omitempty"`
	Messages       []Message `json:"messages"`
	path           string
}

// New creates a new in-memory session. Nothing touches the disk until Save.
func New(name string) (*Session, error) {
	if name == "" {
		return nil, fmt.Errorf("session name must not be empty")
	}
	return &Session{
		Name:     name,
		Messages: []Message{},
		path:     sessionPath(name),
	}, nil
}

// Load loads an existing session from disk.
func Load(name string) (*Session, error) {
	path := sessionPath(name)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read session file %s: %w", path, err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("could not parse session file %s: %w", path, err)
	}
	s.path = path
	return &s, nil
}

// Save writes the current session state to disk.
func (s *Session) Save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("could not create session directory: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}
	return os.WriteFile(s.path, data, 0644)
}

// AddMessage appends a message to the session history.
func (s *Session) AddMessage(msg Message) {
	s.Messages = append(s.Messages, msg)
}

// HasSystemPrompt reports whether the transcript already starts with a system message.
func (s *Session) HasSystemPrompt() bool {
	return len(s.Messages) > 0 && s.Messages[0].Role == "system"
}

// LastAssistantText returns the content of the most recent assistant message.
func (s *Session) LastAssistantText() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == "assistant" && s.Messages[i].Content != "" {
			return s.Messages[i].Content
		}
	}
	return ""
}

func sessionPath(name string) string {
	return filepath.Join(Dir, fmt.Sprintf("%s.json", name))
}
