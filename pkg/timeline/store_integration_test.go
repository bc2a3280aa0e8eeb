package timeline_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uniassist/gateway/pkg/contracts"
	"github.com/uniassist/gateway/pkg/timeline"
	testdb "github.com/uniassist/gateway/test/database"
)

// These tests exercise pkg/timeline.Store against a real PostgreSQL
// instance (testcontainers locally, CI_DATABASE_URL in CI), since the
// durable/hot-buffer merge in List is the one piece of this package that
// an in-memory fake can't meaningfully stand in for.
func TestStore_List_MergesDurableRowsWithHotBuffer(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	_, err := client.Session.Create().
		SetID("session-int-1").
		SetUserID("user-1").
		SetLastActivityAt(now).
		SetCreatedAt(now).
		SetUpdatedAt(now).
		Save(ctx)
	require.NoError(t, err)

	_, err = client.TimelineEvent.Create().
		SetID("session-int-1:1").
		SetTraceID("trace-1").
		SetSessionID("session-int-1").
		SetUserID("user-1").
		SetSeq(1).
		SetTimestampMs(now.UnixMilli()).
		SetKind("inbound").
		SetPayload(map[string]interface{}{"text": "hello"}).
		Save(ctx)
	require.NoError(t, err)

	buffer := timeline.NewBuffer()
	store := timeline.NewStore(client, buffer)

	// seq 2 only exists in the hot buffer, simulating a just-appended event
	// the Writer has published but that hasn't necessarily been read back
	// from Postgres yet.
	buffer.Append(contracts.TimelineEvent{
		EventID:     "session-int-1:2",
		SessionID:   "session-int-1",
		UserID:      "user-1",
		Seq:         2,
		TimestampMs: now.Add(time.Millisecond).UnixMilli(),
		Kind:        contracts.KindRoutingDecision,
		Payload:     map[string]interface{}{},
	})

	page, err := store.List(ctx, "session-int-1", 0)
	require.NoError(t, err)

	require.Len(t, page.Events, 2)
	assert.Equal(t, "session-int-1:1", page.Events[0].EventID)
	assert.Equal(t, "session-int-1:2", page.Events[1].EventID)
	assert.Equal(t, 2, page.NextCursor)
}

func TestStore_List_CursorExcludesAlreadySeenEvents(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	_, err := client.Session.Create().
		SetID("session-int-2").
		SetUserID("user-1").
		SetLastActivityAt(now).
		SetCreatedAt(now).
		SetUpdatedAt(now).
		Save(ctx)
	require.NoError(t, err)

	for seq := 1; seq <= 3; seq++ {
		_, err := client.TimelineEvent.Create().
			SetID(fmt.Sprintf("session-int-2:%d", seq)).
			SetTraceID("trace-1").
			SetSessionID("session-int-2").
			SetUserID("user-1").
			SetSeq(seq).
			SetTimestampMs(now.UnixMilli()).
			SetKind("inbound").
			SetPayload(map[string]interface{}{}).
			Save(ctx)
		require.NoError(t, err)
	}

	store := timeline.NewStore(client, timeline.NewBuffer())

	page, err := store.List(ctx, "session-int-2", 2)
	require.NoError(t, err)

	require.Len(t, page.Events, 1)
	assert.Equal(t, 3, page.Events[0].Seq)
	assert.Equal(t, 3, page.NextCursor)
}

func TestStore_CreateAndLoadSession_RoundTrips(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()

	store := timeline.NewStore(client, timeline.NewBuffer())
	now := time.Now().UTC().Truncate(time.Millisecond)

	created, err := store.CreateSession(ctx, "session-int-3", "user-7", now)
	require.NoError(t, err)
	assert.Equal(t, "user-7", created.UserID)

	loaded, err := store.LoadSession(ctx, "session-int-3")
	require.NoError(t, err)
	assert.Equal(t, "session-int-3", loaded.ID)
	assert.Equal(t, "user-7", loaded.UserID)
}
