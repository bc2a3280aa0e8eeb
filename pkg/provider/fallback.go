package provider

import "github.com/uniassist/gateway/pkg/contracts"

// fallbackApology is returned as if it came from the failing provider when
// every retry is exhausted, per spec §4.4: "emit a locally-generated
// fallback interaction (apologetic assistant_message plus a locally
// generated structured request if applicable) as if it came from the
// provider".
func fallbackApology() contracts.InteractionEvent {
	return contracts.InteractionEvent{
		Type: contracts.InteractionAssistantMessage,
		Text: "Sorry, I couldn't reach that right now. Please try again in a moment.",
	}
}

// fallbackInvokeResult synthesises the InvokeResult a failing provider
// would have returned: an ack plus the apology as its one immediate event.
func fallbackInvokeResult() *InvokeResult {
	return &InvokeResult{
		Ack:             contracts.InteractionEvent{Type: contracts.InteractionAck},
		ImmediateEvents: []contracts.InteractionEvent{fallbackApology()},
	}
}

// fallbackInteractResult synthesises the InteractResult a failing
// provider would have returned.
func fallbackInteractResult() *InteractResult {
	return &InteractResult{Events: []contracts.InteractionEvent{fallbackApology()}}
}
