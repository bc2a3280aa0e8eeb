package provider

import (
	"context"
	"fmt"

	"github.com/uniassist/gateway/ent"
	"github.com/uniassist/gateway/ent/providerrun"
)

// RunStore persists ProviderRun rows over ent, grounded on the same
// repository-over-ent shape as pkg/timeline.Store.
type RunStore struct {
	client *ent.Client
}

// NewRunStore builds a RunStore over client.
func NewRunStore(client *ent.Client) *RunStore {
	return &RunStore{client: client}
}

// GetOrCreate implements spec §3's "(idempotencyKey) collisions MUST be
// treated as the same run" invariant: if a row with run.IdempotencyKey
// already exists, its runId is returned (which may differ from
// run.RunID, e.g. a retried ingest request that regenerated a new runId
// client-side); otherwise a new row is inserted and run.RunID stands.
func (s *RunStore) GetOrCreate(ctx context.Context, run RunContext) (runID string, created bool, err error) {
	existing, err := s.client.ProviderRun.Query().
		Where(providerrun.IdempotencyKeyEQ(run.IdempotencyKey)).
		Only(ctx)
	switch {
	case err == nil:
		return existing.ID, false, nil
	case !ent.IsNotFound(err):
		return "", false, fmt.Errorf("query provider run: %w", err)
	}

	row, err := s.client.ProviderRun.Create().
		SetID(run.RunID).
		SetTraceID(run.TraceID).
		SetSessionID(run.SessionID).
		SetUserID(run.UserID).
		SetProviderID(run.ProviderID).
		SetMode(providerrun.Mode(run.Mode)).
		SetRoutingMode(providerrun.RoutingMode(run.RoutingMode)).
		SetIdempotencyKey(run.IdempotencyKey).
		Save(ctx)
	if err != nil {
		// A concurrent ingest may have won the unique-constraint race on
		// idempotency_key between the query above and this insert; fall
		// back to the now-existing row rather than surfacing the error.
		if existing, reErr := s.client.ProviderRun.Query().
			Where(providerrun.IdempotencyKeyEQ(run.IdempotencyKey)).
			Only(ctx); reErr == nil {
			return existing.ID, false, nil
		}
		return "", false, fmt.Errorf("create provider run: %w", err)
	}
	return row.ID, true, nil
}

// UpdateStatus sets the terminal status on a ProviderRun row after
// invoke/interact completes.
func (s *RunStore) UpdateStatus(ctx context.Context, runID, status string) error {
	return s.client.ProviderRun.UpdateOneID(runID).SetStatus(status).Exec(ctx)
}
