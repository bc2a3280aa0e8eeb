package provider

import (
	"context"
	"fmt"

	"github.com/uniassist/gateway/pkg/contracts"
)

// BuiltinChatID is the provider id reserved for the in-process fallback
// provider dispatched when no candidate clears the routing threshold.
const BuiltinChatID = "builtin_chat"

// BuiltinChatManifest is served at
// /.well-known/uniassist/manifest.json (spec §6) describing the one
// provider that never leaves the process.
var BuiltinChatManifest = map[string]interface{}{
	"providerId":  BuiltinChatID,
	"displayName": "Built-in Assistant",
	"version":     "1",
	"capabilities": []string{"invoke", "interact"},
}

// builtinChat is the Transport implementation backing BuiltinChatID: no
// network hop, just an echo-style assistant message acknowledging the
// user's text. It is always available and never scores above zero as a
// routing candidate (pkg/session's DefaultProviderRules never lists it).
type builtinChat struct{}

// NewBuiltinChatTransport returns the in-process fallback provider
// transport.
func NewBuiltinChatTransport() Transport {
	return builtinChat{}
}

func (builtinChat) Invoke(_ context.Context, _ string, input contracts.UnifiedUserInput, _ map[string]interface{}, _ RunContext) (*InvokeResult, error) {
	text := input.Text
	if text == "" {
		text = "Hi, how can I help?"
	}
	return &InvokeResult{
		Ack: contracts.InteractionEvent{Type: contracts.InteractionAck},
		ImmediateEvents: []contracts.InteractionEvent{
			{Type: contracts.InteractionAssistantMessage, Text: fmt.Sprintf("Got it: %s", text)},
		},
	}, nil
}

func (builtinChat) Interact(_ context.Context, _ string, interaction contracts.UserInteraction, _ map[string]interface{}, _ RunContext) (*InteractResult, error) {
	return &InteractResult{
		Events: []contracts.InteractionEvent{
			{Type: contracts.InteractionAssistantMessage, Text: fmt.Sprintf("Handled %s.", interaction.ActionID)},
		},
	}, nil
}
