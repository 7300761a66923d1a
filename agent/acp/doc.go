// Package acp implements Agent Client Protocol (ACP) support for mailtriage.
// This allows an editor or any ACP client to drive the triage agent by
// communicating using newline-delimited JSON-RPC over stdio.
//
// The implementation supports the following ACP methods:
// - initialize: Initializes the agent and returns capabilities
// - session/new, session/load: Create a session or replay a saved one
// - session/prompt: Triages the prompt text as a customer email
// - session/cancel: Stops the running prompt of a session
//
// Mailbox and settings methods:
// - mail/list, mail/get, mail/refresh: Browse the loaded email source
// - mail/triage: Triages a stored conversation and marks it processed
// - agent/getConfig, agent/setConfig: Read or change model, thinking and timeout
//
// The implementation sends the following notifications:
// - session/update: agent_thought_chunk, agent_message_chunk, tool_call and tool_result
//
// Only one prompt runs at a time; another one gets error -32000 "agent busy".
package acp
