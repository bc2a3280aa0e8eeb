package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uniassist/gateway/pkg/contracts"
)

func TestPipeline_Events_AcceptsInteractionAndDomainEventItems(t *testing.T) {
	pipeline, _, _ := newTestPipeline()
	ctx := context.Background()

	_, err := pipeline.Ingest(ctx, newInput("session-20", "hello there"), nil, Headers{})
	require.NoError(t, err)

	results := pipeline.Events(ctx, []contracts.BulkEventItem{
		{
			SessionID:  "session-20",
			ProviderID: "plan",
			RunID:      "run-1",
			Kind:       contracts.KindInteraction,
			Payload:    map[string]interface{}{"type": "assistant_message", "text": "done"},
		},
		{
			SessionID:     "session-20",
			ProviderID:    "plan",
			Kind:          contracts.KindDomainEvent,
			ExtensionKind: "reminder_created",
			Payload:       map[string]interface{}{"reminderId": "r1"},
		},
	})

	require.Len(t, results, 2)
	assert.True(t, results[0].Ok)
	assert.NotEmpty(t, results[0].EventID)
	assert.True(t, results[1].Ok)
	assert.NotEmpty(t, results[1].EventID)
	assert.NotEqual(t, results[0].EventID, results[1].EventID)
}

func TestPipeline_Events_RejectsUnknownSessionWithoutAbortingBatch(t *testing.T) {
	pipeline, _, _ := newTestPipeline()
	ctx := context.Background()

	_, err := pipeline.Ingest(ctx, newInput("session-21", "hello there"), nil, Headers{})
	require.NoError(t, err)

	results := pipeline.Events(ctx, []contracts.BulkEventItem{
		{SessionID: "does-not-exist", Kind: contracts.KindDomainEvent, Payload: map[string]interface{}{}},
		{SessionID: "session-21", Kind: contracts.KindInteraction, Payload: map[string]interface{}{"type": "ack"}},
	})

	require.Len(t, results, 2)
	assert.False(t, results[0].Ok)
	assert.NotEmpty(t, results[0].Error)
	assert.True(t, results[1].Ok)
}

func TestPipeline_Events_RejectsInvalidKind(t *testing.T) {
	pipeline, _, _ := newTestPipeline()
	ctx := context.Background()

	_, err := pipeline.Ingest(ctx, newInput("session-22", "hello there"), nil, Headers{})
	require.NoError(t, err)

	results := pipeline.Events(ctx, []contracts.BulkEventItem{
		{SessionID: "session-22", Kind: contracts.KindInbound, Payload: map[string]interface{}{}},
	})

	require.Len(t, results, 1)
	assert.False(t, results[0].Ok)
}
