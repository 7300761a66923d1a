// Package stream defines the events an agent invocation emits and the helpers
// that turn them into operator-facing text.
package stream

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

type Kind string

const (
	Reasoning      Kind = "reasoning"
	ToolCall       Kind = "tool-call"
	ToolResult     Kind = "tool-result"
	OutputFragment Kind = "output-fragment"
	Done           Kind = "done"
	Error          Kind = "error"
)

// ErrKind classifies terminal errors.
type ErrKind string

const (
	ErrTimeout     ErrKind = "timeout"
	ErrCanceled    ErrKind = "canceled"
	ErrUnavailable ErrKind = "unavailable"
	ErrInternal    ErrKind = "internal"
)

type ToolCallInfo struct {
	ID   string                 `json:"id"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`
}

type ToolResultInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Output  string `json:"output"`
	Success bool   `json:"success"`
}

// Event is one step of an invocation. Text carries the fragment for
// reasoning and output events and the complete answer for Done.
type Event struct {
	Kind       Kind            `json:"kind"`
	Time       time.Time       `json:"time"`
	Text       string          `json:"text,omitempty"`
	ToolCall   *ToolCallInfo   `json:"tool_call,omitempty"`
	ToolResult *ToolResultInfo `json:"tool_result,omitempty"`
	ErrKind    ErrKind         `json:"err_kind,omitempty"`
	Err        error           `json:"-"`
}

// Terminal reports whether e ends the stream.
func (e Event) Terminal() bool { return e.Kind == Done || e.Kind == Error }

// ErrorMessage is the operator-facing text of an error event.
func (e Event) ErrorMessage() string {
	if e.Kind != Error {
		return ""
	}
	switch e.ErrKind {
	case ErrTimeout:
		return "agent timed out"
	case ErrCanceled:
		return "request canceled"
	case ErrUnavailable:
		if e.Err != nil {
			return "agent unavailable: " + e.Err.Error()
		}
		return "agent unavailable"
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "unknown error"
}

func ReasoningEvent(text string) Event {
	return Event{Kind: Reasoning, Time: time.Now(), Text: text}
}

func FragmentEvent(text string) Event {
	return Event{Kind: OutputFragment, Time: time.Now(), Text: text}
}

func ToolCallEvent(id, name string, args map[string]interface{}) Event {
	return Event{Kind: ToolCall, Time: time.Now(), ToolCall: &ToolCallInfo{ID: id, Name: name, Args: args}}
}

func ToolResultEvent(id, name, output string, success bool) Event {
	return Event{Kind: ToolResult, Time: time.Now(), ToolResult: &ToolResultInfo{ID: id, Name: name, Output: output, Success: success}}
}

func DoneEvent(text string) Event {
	return Event{Kind: Done, Time: time.Now(), Text: text}
}

func ErrorEvent(kind ErrKind, err error) Event {
	return Event{Kind: Error, Time: time.Now(), ErrKind: kind, Err: err}
}

// Format renders an event for a console or log view. Output fragments are
// returned verbatim so that consecutive fragments concatenate.
func Format(e Event) string {
	ts := e.Time.Format("15:04:05")
	switch e.Kind {
	case OutputFragment:
		return e.Text
	case Reasoning:
		return fmt.Sprintf("[%s] THINKING: %s\n", ts, e.Text)
	case ToolCall:
		if e.ToolCall == nil {
			return ""
		}
		return fmt.Sprintf("[%s] TOOL CALL: %s%s\n", ts, e.ToolCall.Name, formatArgs(e.ToolCall.Args))
	case ToolResult:
		if e.ToolResult == nil {
			return ""
		}
		status := "ok"
		if !e.ToolResult.Success {
			status = "failed"
		}
		return fmt.Sprintf("[%s] TOOL RESULT: %s (%s) %s\n", ts, e.ToolResult.Name, status, truncate(e.ToolResult.Output, 200))
	case Done:
		return fmt.Sprintf("[%s] DONE\n", ts)
	case Error:
		return fmt.Sprintf("[%s] ERROR: %s\n", ts, e.ErrorMessage())
	}
	return ""
}

func formatArgs(args map[string]interface{}) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		v := args[k]
		if s, ok := v.(string); ok {
			parts[i] = fmt.Sprintf("%s='%s'", k, s)
			continue
		}
		b, _ := json.Marshal(v)
		parts[i] = fmt.Sprintf("%s=%s", k, b)
	}
	return " " + strings.Join(parts, ", ")
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
