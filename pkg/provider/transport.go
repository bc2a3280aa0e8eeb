package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/uniassist/gateway/pkg/contracts"
)

// defaultTimeout bounds every provider HTTP call per spec §5.
const defaultTimeout = 5 * time.Second

// InvokeResult is the decoded response of a provider's invoke endpoint.
type InvokeResult struct {
	Ack             contracts.InteractionEvent   `json:"ack"`
	ImmediateEvents []contracts.InteractionEvent `json:"immediateEvents"`
}

// InteractResult is the decoded response of a provider's interact endpoint.
type InteractResult struct {
	Events []contracts.InteractionEvent `json:"events"`
}

// invokeRequest is the envelope posted to a provider's /invoke endpoint.
type invokeRequest struct {
	IdempotencyKey string                 `json:"idempotencyKey"`
	Input          contracts.UnifiedUserInput `json:"input"`
	Context        map[string]interface{} `json:"contextPackage"`
	Run            RunContext                 `json:"run"`
}

// interactRequest is the envelope posted to a provider's /interact endpoint.
type interactRequest struct {
	IdempotencyKey string                  `json:"idempotencyKey"`
	Interaction    contracts.UserInteraction `json:"userInteraction"`
	Context        map[string]interface{}  `json:"contextPackage"`
	Run            RunContext                  `json:"run"`
}

// RunContext is the ProviderRun identity a provider needs to correlate its
// response with the run the gateway created for it.
type RunContext struct {
	RunID          string `json:"runId"`
	TraceID        string `json:"traceId"`
	SessionID      string `json:"sessionId"`
	UserID         string `json:"userId"`
	ProviderID     string `json:"providerId"`
	Mode           string `json:"mode"`
	RoutingMode    string `json:"routingMode"`
	IdempotencyKey string `json:"-"`
}

// Transport reaches one provider's invoke/interact endpoints. The
// builtin_chat fallback provider implements this in-process; every other
// provider goes over HTTP via httpTransport.
type Transport interface {
	Invoke(ctx context.Context, idempotencyKey string, input contracts.UnifiedUserInput, contextPackage map[string]interface{}, run RunContext) (*InvokeResult, error)
	Interact(ctx context.Context, idempotencyKey string, interaction contracts.UserInteraction, contextPackage map[string]interface{}, run RunContext) (*InteractResult, error)
}

// httpTransport reaches an external provider's manifest-declared base URL
// over HTTP with a bounded timeout, grounded on the teacher's mcp transport
// client construction (pkg/mcp/transport.go's buildHTTPClient).
type httpTransport struct {
	baseURL string
	client  *http.Client
}

// NewHTTPTransport builds a Transport that posts to baseURL + "/invoke"
// and baseURL + "/interact" with the default per-call timeout.
func NewHTTPTransport(baseURL string) Transport {
	return &httpTransport{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

func (t *httpTransport) Invoke(ctx context.Context, idempotencyKey string, input contracts.UnifiedUserInput, contextPackage map[string]interface{}, run RunContext) (*InvokeResult, error) {
	body := invokeRequest{IdempotencyKey: idempotencyKey, Input: input, Context: contextPackage, Run: run}
	var result InvokeResult
	if err := t.post(ctx, "/invoke", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (t *httpTransport) Interact(ctx context.Context, idempotencyKey string, interaction contracts.UserInteraction, contextPackage map[string]interface{}, run RunContext) (*InteractResult, error) {
	body := interactRequest{IdempotencyKey: idempotencyKey, Interaction: interaction, Context: contextPackage, Run: run}
	var result InteractResult
	if err := t.post(ctx, "/interact", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (t *httpTransport) post(ctx context.Context, path string, body, out interface{}) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("provider returned %d: %s", resp.StatusCode, string(data))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode provider response: %w", err)
	}
	return nil
}
