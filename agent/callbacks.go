package agent

import (
	"github.com/m4xw311/mailtriage/llm"
	"github.com/m4xw311/mailtriage/session"
)

// ProcessCallbacks let each operator surface observe a turn. Every field is
// optional.
type ProcessCallbacks struct {
	// OnDelta receives reasoning and reply text while the model produces it.
	OnDelta            func(llm.Delta)
	OnAssistantMessage func(message string)
	OnToolCall         func(toolCall session.ToolCall)
	OnToolResult       func(toolCall session.ToolCall, result string)
	// ShouldExecuteTool returning false turns the call into a declined result.
	ShouldExecuteTool func(toolCall session.ToolCall) bool
	OnWarning         func(warning string)
}

func (c ProcessCallbacks) assistantMessage(m string) {
	if c.OnAssistantMessage != nil {
		c.OnAssistantMessage(m)
	}
}

func (c ProcessCallbacks) toolCall(tc session.ToolCall) {
	if c.OnToolCall != nil {
		c.OnToolCall(tc)
	}
}

func (c ProcessCallbacks) toolResult(tc session.ToolCall, result string) {
	if c.OnToolResult != nil {
		c.OnToolResult(tc, result)
	}
}

func (c ProcessCallbacks) shouldExecute(tc session.ToolCall) bool {
	return c.ShouldExecuteTool == nil || c.ShouldExecuteTool(tc)
}

func (c ProcessCallbacks) warn(w string) {
	if c.OnWarning != nil {
		c.OnWarning(w)
	}
}
