// Package agent runs the model on customer emails for the mailtriage system.
//
// This package contains the code shared by the operator surfaces (the terminal
// console and the ACP server). It owns the LLM -> tool -> LLM loop, the
// runtime settings and the single in-flight invocation.
//
// # Architecture
//
//   - Core agent (this package): the Agent type, its settings and the triage flow
//   - Terminal subpackage (agent/terminal): the interactive operator console
//   - ACP subpackage (agent/acp): the Agent Client Protocol server for editor and browser UIs
//
// # Invocations
//
// Invoke starts one invocation and returns a bounded channel of stream events:
// reasoning, tool calls, tool results and output fragments, then exactly one
// done or error event, after which the channel is closed. Only one invocation
// may run at a time; a second Invoke returns errors.ErrBusy. Each invocation
// is bounded by Settings.Timeout and ends with a "timeout" error event when it
// runs out. Cancelling the caller's context ends it with a "canceled" event.
//
// Triage wraps Invoke for a single email: it builds the prompt from a
// protocol.Inquiry, drains the stream into a stream.Collector and parses the
// final text with the formatter.
//
//	out, err := a.Triage(ctx, protocol.Inquiry{CustomerEmail: "alice@example.com", Body: body})
//	if err != nil {
//	    // errors.ErrAgentUnavailable, errors.ErrTimeout, context.Canceled ...
//	}
//	fmt.Println(out.Response.Reply.Text)
//
// # Callbacks
//
// ProcessUserInput runs the same loop synchronously on the agent's session and
// reports progress through ProcessCallbacks. ShouldExecuteTool lets a surface
// in ModePrompt ask the operator before a tool runs; a declined call is handed
// back to the model as a failed result.
//
// # Settings
//
// Settings hold the model, the thinking switch and budget, the timeout and the
// iteration cap. Configure changes them at runtime; a thinking budget below
// MinThinkingBudget is rejected while thinking is on. The response cap sent to
// the provider is always one and a half times the thinking budget.
package agent
