// Package contracts holds the wire types shared across the HTTP surface,
// the session/routing engine, and the provider invoker: everything that
// crosses a process boundary as JSON.
package contracts

// SchemaVersion is the only wire schema version the gateway currently
// accepts.
const SchemaVersion = "v0"

// Source identifies where an ingest request originated. Anything other
// than SourceApp is treated as external and must carry a signed envelope.
type Source string

const (
	SourceApp Source = "app"
	SourceAPI Source = "api"
)

// UnifiedUserInput is the body of POST /v0/ingest.
type UnifiedUserInput struct {
	SchemaVersion string `json:"schemaVersion"`
	TraceID       string `json:"traceId"`
	UserID        string `json:"userId"`
	SessionID     string `json:"sessionId"`
	Source        Source `json:"source"`
	TimestampMs   int64  `json:"timestampMs"`
	Text          string `json:"text,omitempty"`
	Locale        string `json:"locale,omitempty"`
	Timezone      string `json:"timezone,omitempty"`
}

// EventKind enumerates the TimelineEvent.Kind discriminator from spec §3.
type EventKind string

const (
	KindInbound          EventKind = "inbound"
	KindRoutingDecision  EventKind = "routing_decision"
	KindProviderRun      EventKind = "provider_run"
	KindInteraction      EventKind = "interaction"
	KindUserInteraction  EventKind = "user_interaction"
	KindDomainEvent      EventKind = "domain_event"
)

// InteractionType enumerates the InteractionEvent variants from spec §6.
type InteractionType string

const (
	InteractionAck                   InteractionType = "ack"
	InteractionAssistantMessage      InteractionType = "assistant_message"
	InteractionCard                  InteractionType = "card"
	InteractionRequestClarification  InteractionType = "request_clarification"
	InteractionError                 InteractionType = "error"
	InteractionProviderExtension     InteractionType = "provider_extension"
	InteractionNav                   InteractionType = "nav"
	InteractionForm                  InteractionType = "form"
)

// CardAction is a single actionable button on a card interaction, e.g.
// {actionId: "switch_provider:work"}.
type CardAction struct {
	ActionID string `json:"actionId"`
	Label    string `json:"label,omitempty"`
}

// InteractionEvent is the payload carried by a TimelineEvent of kind
// "interaction" or "user_interaction".
type InteractionEvent struct {
	Type            InteractionType        `json:"type"`
	Text            string                 `json:"text,omitempty"`
	Actions         []CardAction           `json:"actions,omitempty"`
	ExtensionKind   string                 `json:"extensionKind,omitempty"`
	RenderSchemaRef string                 `json:"renderSchemaRef,omitempty"`
	DataSchema      map[string]interface{} `json:"dataSchema,omitempty"`
	UISchema        map[string]interface{} `json:"uiSchema,omitempty"`
	Values          map[string]interface{} `json:"values,omitempty"`
	Error           string                 `json:"error,omitempty"`
}

// RoutingCandidate is one scored provider in a RoutingDecision.
type RoutingCandidate struct {
	ProviderID            string  `json:"providerId"`
	Score                 float64 `json:"score"`
	Reason                string  `json:"reason"`
	RequiresClarification bool    `json:"requiresClarification"`
	SuggestedMode         string  `json:"suggestedMode,omitempty"`
}

// RoutingDecision is computed at ingest time and embedded as a
// TimelineEvent payload; it is never stored as its own entity.
type RoutingDecision struct {
	Candidates               []RoutingCandidate `json:"candidates"`
	RequiresUserConfirmation bool                `json:"requiresUserConfirmation"`
	Fallback                 string              `json:"fallback"`
}

// FallbackNone marks a RoutingDecision with no fallback dispatch.
const FallbackNone = "none"

// TimelineEvent is the wire representation of a persisted event (mirrors
// ent/schema/timelineevent.go field-for-field).
type TimelineEvent struct {
	EventID         string                 `json:"eventId"`
	TraceID         string                 `json:"traceId"`
	SessionID       string                 `json:"sessionId"`
	UserID          string                 `json:"userId"`
	ProviderID      string                 `json:"providerId,omitempty"`
	RunID           string                 `json:"runId,omitempty"`
	Seq             int                    `json:"seq"`
	TimestampMs     int64                  `json:"timestampMs"`
	Kind            EventKind              `json:"kind"`
	ExtensionKind   string                 `json:"extensionKind,omitempty"`
	RenderSchemaRef string                 `json:"renderSchemaRef,omitempty"`
	Payload         map[string]interface{} `json:"payload"`
}

// ProviderRunMode enumerates ProviderRun.Mode.
type ProviderRunMode string

const (
	ModeSync  ProviderRunMode = "sync"
	ModeAsync ProviderRunMode = "async"
)

// RoutingMode enumerates ProviderRun.RoutingMode.
type RoutingMode string

const (
	RoutingNormal   RoutingMode = "normal"
	RoutingFallback RoutingMode = "fallback"
)

// UserInteraction is the body of POST /v0/interact.
type UserInteraction struct {
	SessionID  string                 `json:"sessionId"`
	ActionID   string                 `json:"actionId"`
	RunID      string                 `json:"runId,omitempty"`
	ProviderID string                 `json:"providerId,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// AckResponse is returned by /v0/ingest and /v0/interact.
type AckResponse struct {
	SessionID        string              `json:"sessionId"`
	Rotated          bool                `json:"rotated"`
	Routing          *RoutingDecision    `json:"routing,omitempty"`
	Runs             []ProviderRunRef    `json:"runs"`
	Events           []TimelineEvent     `json:"events"`
	SubscriptionHint SubscriptionHint    `json:"subscriptionHint"`
}

// ProviderRunRef is the subset of ProviderRun surfaced in an ack.
type ProviderRunRef struct {
	RunID       string      `json:"runId"`
	ProviderID  string      `json:"providerId"`
	Mode        ProviderRunMode `json:"mode"`
	RoutingMode RoutingMode `json:"routingMode"`
}

// SubscriptionHint tells the caller where to resume streaming from.
type SubscriptionHint struct {
	SessionID string `json:"sessionId"`
	Cursor    int    `json:"cursor"`
}

// TimelinePage is returned by GET /v0/timeline.
type TimelinePage struct {
	Events     []TimelineEvent `json:"events"`
	NextCursor int             `json:"nextCursor"`
}

// BulkEventItem is one entry of the POST /v0/events bulk body.
type BulkEventItem struct {
	SessionID     string                 `json:"sessionId"`
	ProviderID    string                 `json:"providerId,omitempty"`
	RunID         string                 `json:"runId,omitempty"`
	Kind          EventKind              `json:"kind"`
	ExtensionKind string                 `json:"extensionKind,omitempty"`
	Payload       map[string]interface{} `json:"payload"`
}

// BulkEventResult reports the per-item outcome of POST /v0/events.
type BulkEventResult struct {
	Index   int    `json:"index"`
	Ok      bool   `json:"ok"`
	EventID string `json:"eventId,omitempty"`
	Error   string `json:"error,omitempty"`
}

// UserContextSnapshot is returned by GET /v0/context/users/:profileRef.
type UserContextSnapshot struct {
	ProfileRef   string                 `json:"profileRef"`
	UserID       string                 `json:"userId"`
	Snapshot     map[string]interface{} `json:"snapshot"`
	TTLExpiresAt int64                  `json:"ttlExpiresAt"`
}
