// Package terminal implements the interactive operator console for mailtriage.
//
// The console lists the conversations of the loaded mailbox, shows and
// searches them, and triages one on request: reasoning and tool calls are
// printed as they stream, then the three sections of the drafted answer.
// Any line that is not a command is triaged as an ad-hoc email.
//
// # Usage
//
//	term := terminal.New(a, mb)
//	err := term.Run(ctx, initialPrompt)
//
// # Commands
//
//   - /list, /page N: browse conversations, oldest first
//   - /search TEXT: find messages by sender, recipient, subject or content
//   - /open ID: print every message of a conversation
//   - /triage ID: triage the conversation and mark it processed
//   - /config [model=..] [thinking=on|off] [budget=N] [timeout=D]: show or change agent settings
//   - /trace: event summary and side channel of the last triage
//   - /stats, /refresh, /quit
//
// # Modes
//
// In agent.ModePrompt the operator confirms every tool call before it runs.
// The console waits for each invocation to finish before reading the next
// line, so it never starts a second one while the first is running.
package terminal
