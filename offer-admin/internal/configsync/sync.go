// Package configsync keeps a local rollback record for configuration
// documents versioned by the remote config service. The record holds the
// last version this system wrote per environment; a live version that no
// longer matches it means someone else changed the document and the record
// is discarded.
package configsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/apperr"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/clients"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/clients/configsvc"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/models"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/store"
)

const system = configsvc.System

// Remote is the subset of the config service client the sync needs.
type Remote interface {
	Current(ctx context.Context, env models.Env, name string) (configsvc.Document, error)
	Version(ctx context.Context, env models.Env, name string, version int64) (configsvc.Document, error)
	Validate(ctx context.Context, env models.Env, name string, baseVersion int64, payload json.RawMessage) error
	Commit(ctx context.Context, env models.Env, name string, baseVersion int64, payload json.RawMessage) (int64, error)
	Rollback(ctx context.Context, env models.Env, name string, version int64) error
}

type Service struct {
	store  store.ConfigStore
	remote Remote
	logger *log.Logger
}

func New(st store.ConfigStore, remote Remote, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{store: st, remote: remote, logger: logger}
}

// View combines the local rollback record with the live documents.
type View struct {
	Name  string                            `json:"name"`
	Cache *models.VersionedConfig           `json:"cache,omitempty"`
	Live  map[models.Env]configsvc.Document `json:"live"`
}

// envs are checked in this order; production is rolled back first.
var envs = []models.Env{models.EnvProduction, models.EnvStaging}

// Read returns the rollback record and the live staging and production
// documents. A record that no longer matches the live versions is deleted
// and reported as stale together with the live view.
func (s *Service) Read(ctx context.Context, name string) (View, error) {
	const op = "config read"
	view := View{Name: name, Live: map[models.Env]configsvc.Document{}}
	for _, env := range envs {
		doc, err := s.remote.Current(ctx, env, name)
		if err != nil {
			return View{}, remoteErr(op, env, err)
		}
		view.Live[env] = doc
	}

	cache, err := s.loadCache(ctx, op, name)
	if err != nil || cache == nil {
		return view, err
	}
	if env, ok := mismatch(*cache, view.Live); ok {
		if err := s.discard(ctx, op, *cache, env, view.Live[env].Version); err != nil {
			return view, err
		}
		return view, staleErr(op, name, env, http.StatusConflict)
	}
	view.Cache = cache
	return view, nil
}

// Push validates payload against the live document of env, commits it and
// records the new version as env's rollback version. Production pushes
// require the document to have been staged by this system first.
func (s *Service) Push(ctx context.Context, name string, env models.Env, payload json.RawMessage, actor string) (models.VersionedConfig, error) {
	const op = "config push"
	if !env.Remote() {
		return models.VersionedConfig{}, apperr.Validation(op, fmt.Sprintf("cannot push to %q", env))
	}
	if len(payload) == 0 || !json.Valid(payload) {
		return models.VersionedConfig{}, apperr.Validation(op, "payload must be valid JSON")
	}

	cache, err := s.loadCache(ctx, op, name)
	if err != nil {
		return models.VersionedConfig{}, err
	}
	if cache != nil {
		live, err := s.liveFor(ctx, op, name, *cache)
		if err != nil {
			return models.VersionedConfig{}, err
		}
		if staleEnv, ok := mismatch(*cache, live); ok {
			if err := s.discard(ctx, op, *cache, staleEnv, live[staleEnv].Version); err != nil {
				return models.VersionedConfig{}, err
			}
			cache = nil
		}
	}
	if env == models.EnvProduction && (cache == nil || cache.Status < models.ConfigStg) {
		return models.VersionedConfig{}, apperr.InvalidStatus(op, name, "configuration must be pushed to STG before PROD")
	}

	cur, err := s.remote.Current(ctx, env, name)
	if err != nil {
		return models.VersionedConfig{}, remoteErr(op, env, err)
	}
	if err := s.remote.Validate(ctx, env, name, cur.Version, payload); err != nil {
		return models.VersionedConfig{}, remoteErr(op, env, err)
	}
	version, err := s.remote.Commit(ctx, env, name, cur.Version, payload)
	if err != nil {
		return models.VersionedConfig{}, remoteErr(op, env, err)
	}
	s.logger.Printf("[configsync] pushed name=%s env=%s version=%d->%d actor=%s", name, env, cur.Version, version, actor)

	next := models.VersionedConfig{Name: name, Status: models.ConfigNew, CreatedBy: actor}
	if cache != nil {
		next = *cache
	}
	next.SetRollbackVersion(env, &version)
	if env == models.EnvProduction {
		next.Status = models.ConfigProd
	} else if next.Status < models.ConfigStg {
		next.Status = models.ConfigStg
	}
	next.UpdatedBy = actor
	saved, err := s.store.SaveVersionedConfig(ctx, next)
	if err != nil {
		s.logger.Printf("[configsync] remote committed but record not saved name=%s env=%s version=%d err=%v", name, env, version, err)
		return models.VersionedConfig{}, apperr.Internal(op, err)
	}
	return saved, nil
}

// Rollback activates version N-1 in every environment whose rollback
// version N is recorded, then deletes the record. Each environment's version
// is cleared as soon as its rollback succeeds so a retry never steps back
// twice. A record that no longer matches the live versions is discarded and
// the rollback refused. Every target version is fetched before the first
// rollback; a missing one refuses the rollback with nothing changed.
func (s *Service) Rollback(ctx context.Context, name, actor string) error {
	const op = "config rollback"
	cache, err := s.loadCache(ctx, op, name)
	if err != nil {
		return err
	}
	if cache == nil {
		return apperr.NotFound(op, fmt.Sprintf("no changes to %s recorded by this system", name))
	}
	live, err := s.liveFor(ctx, op, name, *cache)
	if err != nil {
		return err
	}
	if env, ok := mismatch(*cache, live); ok {
		if err := s.discard(ctx, op, *cache, env, live[env].Version); err != nil {
			return err
		}
		return staleErr(op, name, env, http.StatusBadRequest)
	}

	if err := s.checkTargets(ctx, op, *cache); err != nil {
		return err
	}

	rec := *cache
	for _, env := range envs {
		v := rec.RollbackVersion(env)
		if v == nil {
			continue
		}
		target := *v - 1
		if err := s.remote.Rollback(ctx, env, name, target); err != nil {
			s.logger.Printf("[configsync] ROLLBACK FAILED name=%s env=%s target=%d err=%v", name, env, target, err)
			if isConflict(err) {
				return staleErr(op, name, env, http.StatusBadRequest)
			}
			rf := apperr.RollbackFailed(op, system, nil, err)
			rf.Entity = name
			rf.Env = string(env)
			return rf
		}
		s.logger.Printf("[configsync] rolled back name=%s env=%s version=%d->%d actor=%s", name, env, *v, target, actor)
		rec.SetRollbackVersion(env, nil)
		rec.UpdatedBy = actor
		if rec, err = s.store.SaveVersionedConfig(ctx, rec); err != nil {
			return apperr.Internal(op, fmt.Errorf("record rollback of %s in %s: %w", name, env, err))
		}
	}

	if err := s.store.DeleteVersionedConfig(ctx, name); err != nil && !errors.Is(err, store.ErrNotFound) {
		return apperr.Internal(op, err)
	}
	return nil
}

func (s *Service) checkTargets(ctx context.Context, op string, c models.VersionedConfig) error {
	for _, env := range envs {
		v := c.RollbackVersion(env)
		if v == nil {
			continue
		}
		target := *v - 1
		if _, err := s.remote.Version(ctx, env, c.Name, target); err != nil {
			if isStatus(err, http.StatusNotFound) {
				e := apperr.NotFound(op, fmt.Sprintf("version %d of %s does not exist in %s", target, c.Name, env))
				e.System = system
				e.Entity = c.Name
				e.Env = string(env)
				return e
			}
			return remoteErr(op, env, err)
		}
	}
	return nil
}

func (s *Service) loadCache(ctx context.Context, op, name string) (*models.VersionedConfig, error) {
	c, err := s.store.GetVersionedConfig(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	return &c, nil
}

// liveFor fetches the live document of every environment c has a rollback
// version for.
func (s *Service) liveFor(ctx context.Context, op, name string, c models.VersionedConfig) (map[models.Env]configsvc.Document, error) {
	live := map[models.Env]configsvc.Document{}
	for _, env := range envs {
		if c.RollbackVersion(env) == nil {
			continue
		}
		doc, err := s.remote.Current(ctx, env, name)
		if err != nil {
			return nil, remoteErr(op, env, err)
		}
		live[env] = doc
	}
	return live, nil
}

func (s *Service) discard(ctx context.Context, op string, c models.VersionedConfig, env models.Env, liveVersion int64) error {
	s.logger.Printf("[configsync] stale record discarded name=%s env=%s recorded=%d live=%d", c.Name, env, *c.RollbackVersion(env), liveVersion)
	if err := s.store.DeleteVersionedConfig(ctx, c.Name); err != nil && !errors.Is(err, store.ErrNotFound) {
		return apperr.Internal(op, err)
	}
	return nil
}

// mismatch returns the first environment whose recorded rollback version
// differs from the live version.
func mismatch(c models.VersionedConfig, live map[models.Env]configsvc.Document) (models.Env, bool) {
	for _, env := range envs {
		v := c.RollbackVersion(env)
		if v == nil {
			continue
		}
		doc, ok := live[env]
		if !ok || doc.Version != *v {
			return env, true
		}
	}
	return "", false
}

func staleErr(op, name string, env models.Env, status int) error {
	e := apperr.Stale(op, "configuration was modified outside this system")
	e.System = system
	e.Entity = name
	e.Env = string(env)
	e.Status = status
	return e
}

func isConflict(err error) bool {
	return isStatus(err, http.StatusConflict)
}

func isStatus(err error, status int) bool {
	var re *clients.RemoteError
	return errors.As(err, &re) && re.Status == status
}

func remoteErr(op string, env models.Env, err error) error {
	if isConflict(err) {
		e := apperr.Stale(op, "configuration was modified outside this system")
		e.System = system
		e.Env = string(env)
		e.Err = err
		return e
	}
	e := apperr.Remote(op, system, err)
	e.Env = string(env)
	return e
}
