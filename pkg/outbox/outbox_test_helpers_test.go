package outbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/sql"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uniassist/gateway/ent"
)

func newTestEntClient(t *testing.T) *ent.Client {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	drv, err := sql.Open(dialect.Postgres, connStr)
	require.NoError(t, err)

	client := ent.NewClient(ent.Driver(drv))
	require.NoError(t, client.Schema.Create(ctx))
	t.Cleanup(func() { client.Close() })

	return client
}

// fakeBroker records published envelopes and can be configured to fail.
type fakeBroker struct {
	mu        sync.Mutex
	published []publishedEnvelope
	failN     int // number of initial Publish calls to fail
}

type publishedEnvelope struct {
	sessionID string
	envelope  map[string]interface{}
}

func (b *fakeBroker) Publish(ctx context.Context, sessionID string, envelope map[string]interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failN > 0 {
		b.failN--
		return errTransientPublish
	}
	b.published = append(b.published, publishedEnvelope{sessionID: sessionID, envelope: envelope})
	return nil
}

func (b *fakeBroker) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

var errTransientPublish = &transientPublishError{}

type transientPublishError struct{}

func (e *transientPublishError) Error() string { return "transient publish failure" }
