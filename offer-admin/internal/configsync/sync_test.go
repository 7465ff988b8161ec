package configsync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/apperr"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/clients"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/clients/configsvc"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/models"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/store"
)

type rollbackCall struct {
	env     models.Env
	version int64
}

// fakeRemote keeps one current version per environment.
type fakeRemote struct {
	mu           sync.Mutex
	current      map[models.Env]int64
	validated    int
	rollbacks    []rollbackCall
	failRollback map[models.Env]error
	commitErr    error
	pruned       map[models.Env]int64
	fetched      []rollbackCall
}

func newFakeRemote(stg, prod int64) *fakeRemote {
	return &fakeRemote{
		current:      map[models.Env]int64{models.EnvStaging: stg, models.EnvProduction: prod},
		failRollback: map[models.Env]error{},
		pruned:       map[models.Env]int64{},
	}
}

func (f *fakeRemote) Current(ctx context.Context, env models.Env, name string) (configsvc.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return configsvc.Document{Version: f.current[env], Payload: json.RawMessage(`{}`)}, nil
}

// Version serves every version from 1 to the current one except a pruned one.
func (f *fakeRemote) Version(ctx context.Context, env models.Env, name string, version int64) (configsvc.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, rollbackCall{env: env, version: version})
	if version < 1 || version > f.current[env] || f.pruned[env] == version {
		return configsvc.Document{}, &clients.RemoteError{System: system, Op: "fetch", Status: http.StatusNotFound}
	}
	return configsvc.Document{Version: version, Payload: json.RawMessage(`{}`)}, nil
}

func (f *fakeRemote) Validate(ctx context.Context, env models.Env, name string, base int64, payload json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validated++
	return nil
}

func (f *fakeRemote) Commit(ctx context.Context, env models.Env, name string, base int64, payload json.RawMessage) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return 0, f.commitErr
	}
	if base != f.current[env] {
		return 0, &clients.RemoteError{System: system, Op: "commit", Status: http.StatusConflict}
	}
	f.current[env]++
	return f.current[env], nil
}

func (f *fakeRemote) Rollback(ctx context.Context, env models.Env, name string, version int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failRollback[env]; err != nil {
		return err
	}
	f.rollbacks = append(f.rollbacks, rollbackCall{env: env, version: version})
	f.current[env] = version
	return nil
}

func newService(remote Remote) (*Service, *store.MemoryStore) {
	st := store.NewMemoryStore()
	return New(st, remote, log.New(io.Discard, "", 0)), st
}

func ptr(v int64) *int64 { return &v }

var payload = json.RawMessage(`{"flags":{"newCheckout":true}}`)

func TestPushRecordsNewVersion(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(3, 9)
	svc, _ := newService(remote)

	rec, err := svc.Push(ctx, "eligibility", models.EnvStaging, payload, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.ConfigStg, rec.Status)
	require.NotNil(t, rec.StgRollbackVersion)
	assert.Equal(t, int64(4), *rec.StgRollbackVersion)
	assert.Nil(t, rec.ProdRollbackVersion)
	assert.Equal(t, "alice", rec.CreatedBy)
	assert.Equal(t, 1, remote.validated)

	rec, err = svc.Push(ctx, "eligibility", models.EnvProduction, payload, "bob")
	require.NoError(t, err)
	assert.Equal(t, models.ConfigProd, rec.Status)
	assert.Equal(t, int64(10), *rec.ProdRollbackVersion)
	assert.Equal(t, int64(4), *rec.StgRollbackVersion)
	assert.Equal(t, "alice", rec.CreatedBy)
	assert.Equal(t, "bob", rec.UpdatedBy)
}

func TestPushProductionRequiresStaging(t *testing.T) {
	remote := newFakeRemote(3, 9)
	svc, _ := newService(remote)

	_, err := svc.Push(context.Background(), "eligibility", models.EnvProduction, payload, "alice")
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusNotAcceptable, appErr.HTTPStatus())
	assert.Equal(t, int64(9), remote.current[models.EnvProduction])
}

func TestPushRejectsBadInput(t *testing.T) {
	svc, _ := newService(newFakeRemote(1, 1))

	_, err := svc.Push(context.Background(), "eligibility", models.EnvDB, payload, "alice")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = svc.Push(context.Background(), "eligibility", models.EnvStaging, json.RawMessage(`{"broken"`), "alice")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestPushConflictIsStale(t *testing.T) {
	remote := newFakeRemote(3, 9)
	remote.commitErr = &clients.RemoteError{System: system, Op: "commit", Status: http.StatusConflict}
	svc, st := newService(remote)

	_, err := svc.Push(context.Background(), "eligibility", models.EnvStaging, payload, "alice")
	assert.True(t, apperr.Is(err, apperr.KindStale))
	_, err = st.GetVersionedConfig(context.Background(), "eligibility")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPushRemoteFailureNamesSystem(t *testing.T) {
	remote := newFakeRemote(3, 9)
	remote.commitErr = &clients.RemoteError{System: system, Op: "commit", Status: http.StatusInternalServerError}
	svc, _ := newService(remote)

	_, err := svc.Push(context.Background(), "eligibility", models.EnvStaging, payload, "alice")
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindRemote, appErr.Kind)
	assert.Equal(t, "config-service", appErr.System)
}

func TestReadDiscardsStaleRecord(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(7, 2)
	svc, st := newService(remote)
	_, err := st.SaveVersionedConfig(ctx, models.VersionedConfig{Name: "eligibility", Status: models.ConfigStg, StgRollbackVersion: ptr(5), CreatedBy: "alice"})
	require.NoError(t, err)

	view, err := svc.Read(ctx, "eligibility")
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindStale, appErr.Kind)
	assert.Equal(t, http.StatusConflict, appErr.HTTPStatus())
	assert.Nil(t, view.Cache)
	assert.Equal(t, int64(7), view.Live[models.EnvStaging].Version)

	_, err = st.GetVersionedConfig(ctx, "eligibility")
	assert.ErrorIs(t, err, store.ErrNotFound)

	rec, err := svc.Push(ctx, "eligibility", models.EnvStaging, payload, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(8), *rec.StgRollbackVersion)
	assert.Equal(t, "bob", rec.CreatedBy)
}

func TestReadFreshRecord(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(newFakeRemote(3, 9))
	_, err := svc.Push(ctx, "eligibility", models.EnvStaging, payload, "alice")
	require.NoError(t, err)

	view, err := svc.Read(ctx, "eligibility")
	require.NoError(t, err)
	require.NotNil(t, view.Cache)
	assert.Equal(t, int64(4), *view.Cache.StgRollbackVersion)
	assert.Equal(t, int64(9), view.Live[models.EnvProduction].Version)
}

func TestPushAfterOutsideChangeStartsFreshCycle(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(3, 9)
	svc, _ := newService(remote)
	_, err := svc.Push(ctx, "eligibility", models.EnvStaging, payload, "alice")
	require.NoError(t, err)

	remote.current[models.EnvStaging] = 12

	rec, err := svc.Push(ctx, "eligibility", models.EnvStaging, payload, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(13), *rec.StgRollbackVersion)
	assert.Equal(t, "bob", rec.CreatedBy)
}

func TestRollbackIsIdempotent(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(3, 9)
	svc, st := newService(remote)
	_, err := svc.Push(ctx, "eligibility", models.EnvStaging, payload, "alice")
	require.NoError(t, err)
	_, err = svc.Push(ctx, "eligibility", models.EnvProduction, payload, "alice")
	require.NoError(t, err)

	require.NoError(t, svc.Rollback(ctx, "eligibility", "alice"))
	assert.Equal(t, []rollbackCall{
		{env: models.EnvProduction, version: 9},
		{env: models.EnvStaging, version: 3},
	}, remote.rollbacks)
	_, err = st.GetVersionedConfig(ctx, "eligibility")
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = svc.Rollback(ctx, "eligibility", "alice")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	assert.Len(t, remote.rollbacks, 2)
	assert.Equal(t, int64(3), remote.current[models.EnvStaging])
}

func TestRollbackRefusedWhenStale(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(3, 9)
	svc, st := newService(remote)
	_, err := svc.Push(ctx, "eligibility", models.EnvStaging, payload, "alice")
	require.NoError(t, err)
	remote.current[models.EnvStaging] = 6

	err = svc.Rollback(ctx, "eligibility", "alice")
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindStale, appErr.Kind)
	assert.Equal(t, http.StatusBadRequest, appErr.HTTPStatus())
	assert.Empty(t, remote.rollbacks)
	_, err = st.GetVersionedConfig(ctx, "eligibility")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRollbackFailureResumes(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(3, 9)
	svc, st := newService(remote)
	_, err := svc.Push(ctx, "eligibility", models.EnvStaging, payload, "alice")
	require.NoError(t, err)
	_, err = svc.Push(ctx, "eligibility", models.EnvProduction, payload, "alice")
	require.NoError(t, err)
	remote.failRollback[models.EnvStaging] = errors.New("connection reset")

	err = svc.Rollback(ctx, "eligibility", "alice")
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindRollbackFailed, appErr.Kind)
	assert.Equal(t, "config-service", appErr.System)
	assert.True(t, appErr.RequiresOperator())

	rec, err := st.GetVersionedConfig(ctx, "eligibility")
	require.NoError(t, err)
	assert.Nil(t, rec.ProdRollbackVersion)
	assert.Equal(t, int64(4), *rec.StgRollbackVersion)

	delete(remote.failRollback, models.EnvStaging)
	require.NoError(t, svc.Rollback(ctx, "eligibility", "alice"))
	assert.Equal(t, []rollbackCall{
		{env: models.EnvProduction, version: 9},
		{env: models.EnvStaging, version: 3},
	}, remote.rollbacks)
}

func TestRollbackRefusedWhenTargetMissing(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(3, 9)
	svc, st := newService(remote)
	_, err := svc.Push(ctx, "eligibility", models.EnvStaging, payload, "alice")
	require.NoError(t, err)
	_, err = svc.Push(ctx, "eligibility", models.EnvProduction, payload, "alice")
	require.NoError(t, err)
	remote.pruned[models.EnvStaging] = 3

	err = svc.Rollback(ctx, "eligibility", "alice")
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindNotFound, appErr.Kind)
	assert.Equal(t, string(models.EnvStaging), appErr.Env)
	assert.Empty(t, remote.rollbacks)
	assert.Equal(t, []rollbackCall{
		{env: models.EnvProduction, version: 9},
		{env: models.EnvStaging, version: 3},
	}, remote.fetched)

	rec, err := st.GetVersionedConfig(ctx, "eligibility")
	require.NoError(t, err)
	assert.Equal(t, int64(10), *rec.ProdRollbackVersion)
	assert.Equal(t, int64(4), *rec.StgRollbackVersion)
}
