package llm

import (
	"context"
	"fmt"

	"github.com/m4xw311/mailtriage/errors"
	"github.com/m4xw311/mailtriage/session"
	"github.com/m4xw311/mailtriage/tools"
)

// DefaultMaxTokens is used when ChatOptions.MaxTokens is zero.
const DefaultMaxTokens = 4096

type DeltaKind int

const (
	TextDelta DeltaKind = iota
	ThinkingDelta
)

// Delta is an incremental piece of a response, delivered while the model is
// still generating.
type Delta struct {
	Kind DeltaKind
	Text string
}

// ChatOptions tune one model request.
type ChatOptions struct {
	MaxTokens      int64
	Thinking       bool
	ThinkingBudget int64
	// OnDelta, when set, receives text and reasoning as it is produced.
	// Providers without streaming deliver the whole response as one delta.
	OnDelta func(Delta)
}

func (o ChatOptions) maxTokens() int64 {
	if o.MaxTokens > 0 {
		return o.MaxTokens
	}
	return DefaultMaxTokens
}

func (o ChatOptions) emit(kind DeltaKind, text string) {
	if o.OnDelta != nil && text != "" {
		o.OnDelta(Delta{Kind: kind, Text: text})
	}
}

// emitMessage reports a complete response through OnDelta.
func (o ChatOptions) emitMessage(msg *session.Message) {
	for _, t := range msg.Thinking {
		o.emit(ThinkingDelta, t.Text)
	}
	o.emit(TextDelta, msg.Content)
}

// LLMClient is the interface for interacting with a Large Language Model.
type LLMClient interface {
	Chat(ctx context.Context, messages []session.Message, availableTools []tools.Tool, opts ChatOptions) (*session.Message, error)
}

// Providers accepted by New.
const (
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderMock      = "mock"
)

var modelAliases = map[string]map[string]string{
	ProviderBedrock: {
		"claude-3-5-sonnet": "us.anthropic.claude-3-5-sonnet-20240620-v1:0",
		"claude-3-7-sonnet": "us.anthropic.claude-3-7-sonnet-20250219-v1:0",
	},
	ProviderAnthropic: {
		"claude-3-5-sonnet": "claude-3-5-sonnet-20240620",
		"claude-3-7-sonnet": "claude-3-7-sonnet-20250219",
	},
}

// DefaultModel is the alias used when none, or an unknown one, is configured.
const DefaultModel = "claude-3-7-sonnet"

// ResolveModel maps a model alias to the provider's model ID. Providers
// without an alias table pass the name through. For the others, a full model
// ID is accepted as is and an unknown name resolves to DefaultModel with
// known set to false.
func ResolveModel(provider, name string) (id string, known bool) {
	aliases, ok := modelAliases[provider]
	if !ok {
		return name, true
	}
	if name == "" {
		return aliases[DefaultModel], true
	}
	if id, ok := aliases[name]; ok {
		return id, true
	}
	for _, id := range aliases {
		if id == name {
			return id, true
		}
	}
	return aliases[DefaultModel], false
}

// New creates the client for provider. model is resolved with ResolveModel
// by the caller.
func New(ctx context.Context, provider, model, region string) (LLMClient, error) {
	var (
		client LLMClient
		err    error
	)
	switch provider {
	case ProviderAnthropic:
		client, err = asClient(NewAnthropicLLMClient(ctx, model))
	case ProviderBedrock:
		client, err = asClient(NewBedrockLLMClient(ctx, model, region))
	case ProviderOpenAI:
		client, err = asClient(NewOpenAILLMClient(ctx, model))
	case ProviderGemini:
		client, err = asClient(NewGeminiLLMClient(ctx, model))
	case ProviderMock, "":
		client = &MockLLMClient{}
	default:
		err = errors.New("unknown llm client %q", provider)
	}
	return client, err
}

// asClient keeps a failed constructor from yielding a typed nil interface.
func asClient[C LLMClient](c C, err error) (LLMClient, error) {
	if err != nil {
		return nil, err
	}
	return c, nil
}

// unavailable marks a provider failure. A failure caused by the caller's
// context is returned as the context error so it can be told apart from an
// outage.
func unavailable(ctx context.Context, err error, what string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Wrapf(ctxErr, "%s", what)
	}
	return errors.Wrapf(fmt.Errorf("%w: %w", errors.ErrAgentUnavailable, err), "%s", what)
}

// missingCredentials reports a client that cannot be built.
func missingCredentials(variable string) error {
	return errors.Wrapf(errors.ErrAgentUnavailable, "%s environment variable not set", variable)
}

// schemaParts splits a tool input schema into its properties and required list.
func schemaParts(schema map[string]interface{}) (map[string]interface{}, []string) {
	props, _ := schema["properties"].(map[string]interface{})
	if props == nil {
		props = map[string]interface{}{}
	}
	var required []string
	switch r := schema["required"].(type) {
	case []string:
		required = r
	case []interface{}:
		for _, v := range r {
			if s, ok := v.(string); ok {
				required = append(required, s)
			}
		}
	}
	return props, required
}

// objectSchema returns the tool schema with the "object" type filled in.
func objectSchema(t tools.Tool) map[string]interface{} {
	props, required := schemaParts(t.InputSchema())
	s := map[string]interface{}{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}
