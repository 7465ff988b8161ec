package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/db"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/models"
)

// TestPGStoreAgainstPostgres runs against a scratch database; it drops and
// recreates the schema.
func TestPGStoreAgainstPostgres(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	conn, err := db.Open(ctx, os.Getenv("TEST_DATABASE_DRIVER"), url, 2)
	require.NoError(t, err)
	defer conn.Close()

	schema, err := os.ReadFile("../../sql/migrations/001_init.sql")
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, `DROP TABLE IF EXISTS promotable_entities, promotion_transitions, remote_locks, pending_operations, versioned_configs`)
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, string(schema))
	require.NoError(t, err)

	s := NewPGStore(conn)
	key := models.Key{Store: "us", Code: "annual"}
	created, err := s.CreateEntity(ctx, models.Entity{
		Key:       key,
		Kind:      models.KindPlan,
		Status:    models.StatusDraft,
		Payload:   models.PlanPayload{Name: "Annual", PriceCents: 9999, Currency: "USD", BillingCycleMonths: 12},
		CreatedBy: "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Version)

	_, err = s.CreateEntity(ctx, created)
	assert.ErrorIs(t, err, ErrExists)

	next := created
	next.Status = models.StatusStgValidating
	next.BuildKey = "OFF-STG-1"
	updated, err := s.UpdateEntity(ctx, next)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	_, err = s.UpdateEntity(ctx, next)
	assert.ErrorIs(t, err, ErrConflict)

	found, err := s.FindEntityByBuildKey(ctx, "OFF-STG-1")
	require.NoError(t, err)
	assert.Equal(t, key, found.Key)
	assert.Equal(t, models.StatusStgValidating, found.Status)

	require.NoError(t, s.RecordTransition(ctx, models.Transition{Key: key, From: models.StatusDraft, To: models.StatusStgValidating, Actor: "alice"}))
	history, err := s.ListTransitions(ctx, key)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.StatusStgValidating, history[0].To)

	_, err = s.InsertLock(ctx, "billing", models.EnvStaging, "replica-a", "tok-a")
	require.NoError(t, err)
	held, err := s.GetLock(ctx, "billing", models.EnvStaging)
	require.NoError(t, err)
	assert.Equal(t, "tok-a", held.Token)
	_, err = s.InsertLock(ctx, "billing", models.EnvStaging, "replica-b", "tok-b")
	assert.ErrorIs(t, err, ErrExists)
	removed, err := s.DeleteStaleLock(ctx, "billing", models.EnvStaging, time.Hour)
	require.NoError(t, err)
	assert.False(t, removed)
	require.NoError(t, s.DeleteLock(ctx, "billing", models.EnvStaging))

	_, err = s.InsertPending(ctx, models.PendingOperation{Key: "export:us", Action: "export", Token: "tok-e"})
	require.NoError(t, err)
	require.NoError(t, s.TouchPending(ctx, "export:us", "exports/us/a.csv"))
	op, err := s.GetPending(ctx, "export:us")
	require.NoError(t, err)
	assert.Equal(t, "exports/us/a.csv", op.Artifact)
	assert.Equal(t, "tok-e", op.Token)
	require.NoError(t, s.DeletePending(ctx, "export:us"))

	v := int64(4)
	_, err = s.SaveVersionedConfig(ctx, models.VersionedConfig{Name: "eligibility", Status: models.ConfigStg, StgRollbackVersion: &v, CreatedBy: "alice"})
	require.NoError(t, err)
	cfg, err := s.GetVersionedConfig(ctx, "eligibility")
	require.NoError(t, err)
	require.NotNil(t, cfg.StgRollbackVersion)
	assert.Equal(t, int64(4), *cfg.StgRollbackVersion)
	assert.Nil(t, cfg.ProdRollbackVersion)
	require.NoError(t, s.DeleteVersionedConfig(ctx, "eligibility"))
}
