package tools

import (
	"encoding/json"

	"github.com/m4xw311/mailtriage/errors"
)

// Result is the JSON envelope every business tool returns to the model.
// Lookup misses and bad arguments are reported here with Success=false rather
// than as Go errors, so the model can read the message and react.
type Result struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Message string      `json:"message"`
}

func ok(data interface{}, message string) Result {
	return Result{Success: true, Data: data, Message: message}
}

func fail(data interface{}, message string) Result {
	return Result{Success: false, Data: data, Message: message}
}

// JSON encodes the result the way it is handed to the model.
func (r Result) JSON() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", errors.Wrapf(err, "failed to encode tool result")
	}
	return string(b), nil
}

// ParseResult decodes a tool output produced by JSON. Outputs that are not a
// result envelope (e.g. plain text from an MCP server) report ok=false.
func ParseResult(s string) (r Result, ok bool) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &probe); err != nil {
		return Result{}, false
	}
	if _, has := probe["success"]; !has {
		return Result{}, false
	}
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return Result{}, false
	}
	return r, true
}
