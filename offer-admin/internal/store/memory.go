package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/models"
)

type lockKey struct {
	system string
	env    models.Env
}

// MemoryStore provides an in-memory implementation useful for tests.
// Lock and pending ages come from the injected clock.
type MemoryStore struct {
	mu          sync.RWMutex
	now         func() time.Time
	entities    map[models.Key]models.Entity
	transitions []models.Transition
	locks       map[lockKey]models.RemoteLock
	pending     map[string]models.PendingOperation
	configs     map[string]models.VersionedConfig
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:      time.Now,
		entities: map[models.Key]models.Entity{},
		locks:    map[lockKey]models.RemoteLock{},
		pending:  map[string]models.PendingOperation{},
		configs:  map[string]models.VersionedConfig{},
	}
}

// WithClock sets the time source used for timestamps and ages.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	return m
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func copyEntity(e models.Entity) models.Entity {
	if e.DraftData != nil {
		e.DraftData = append(json.RawMessage(nil), e.DraftData...)
	}
	if e.DeletedAt != nil {
		t := *e.DeletedAt
		e.DeletedAt = &t
	}
	return e
}

func (m *MemoryStore) CreateEntity(ctx context.Context, e models.Entity) (models.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entities[e.Key]; ok {
		return models.Entity{}, ErrExists
	}
	now := m.now().UTC()
	e.Version = 1
	e.CreatedAt = now
	e.UpdatedAt = now
	e.LastModifiedBy = e.CreatedBy
	m.entities[e.Key] = copyEntity(e)
	return copyEntity(e), nil
}

func (m *MemoryStore) GetEntity(ctx context.Context, key models.Key) (models.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[key]
	if !ok || e.DeletedAt != nil {
		return models.Entity{}, ErrNotFound
	}
	return copyEntity(e), nil
}

func (m *MemoryStore) FindEntityByBuildKey(ctx context.Context, buildKey string) (models.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entities {
		if buildKey != "" && e.BuildKey == buildKey && e.DeletedAt == nil {
			return copyEntity(e), nil
		}
	}
	return models.Entity{}, ErrNotFound
}

func (m *MemoryStore) UpdateEntity(ctx context.Context, e models.Entity) (models.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.entities[e.Key]
	if !ok || cur.Version != e.Version {
		return models.Entity{}, ErrConflict
	}
	if e.BuildKey != "" {
		for k, other := range m.entities {
			if k != e.Key && other.BuildKey == e.BuildKey {
				return models.Entity{}, ErrExists
			}
		}
	}
	e.Version++
	e.CreatedAt = cur.CreatedAt
	e.CreatedBy = cur.CreatedBy
	e.UpdatedAt = m.now().UTC()
	m.entities[e.Key] = copyEntity(e)
	return copyEntity(e), nil
}

func (m *MemoryStore) DeleteEntity(ctx context.Context, key models.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entities[key]; !ok {
		return ErrNotFound
	}
	delete(m.entities, key)
	return nil
}

func (m *MemoryStore) CountDependents(ctx context.Context, plan models.Key) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for k, e := range m.entities {
		if k.Store != plan.Store || k.Code == plan.Code || e.DeletedAt != nil {
			continue
		}
		if ref, ok := models.PlanRef(e.Payload); ok && ref == plan.Code {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ListEntities(ctx context.Context, storeCode string) ([]models.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Entity
	for k, e := range m.entities {
		if k.Store == storeCode && e.DeletedAt == nil {
			out = append(out, copyEntity(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *MemoryStore) RecordTransition(ctx context.Context, t models.Transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = m.now().UTC()
	}
	m.transitions = append(m.transitions, t)
	return nil
}

func (m *MemoryStore) ListTransitions(ctx context.Context, key models.Key) ([]models.Transition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Transition
	for _, t := range m.transitions {
		if t.Key == key {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetLock(ctx context.Context, system string, env models.Env) (models.RemoteLock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.locks[lockKey{system, env}]
	if !ok {
		return models.RemoteLock{}, ErrNotFound
	}
	l.Age = m.now().Sub(l.UpdatedAt)
	return l, nil
}

func (m *MemoryStore) InsertLock(ctx context.Context, system string, env models.Env, owner, token string) (models.RemoteLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := lockKey{system, env}
	if _, ok := m.locks[k]; ok {
		return models.RemoteLock{}, ErrExists
	}
	l := models.RemoteLock{System: system, Env: env, Owner: owner, Token: token, UpdatedAt: m.now()}
	m.locks[k] = l
	return l, nil
}

func (m *MemoryStore) DeleteLock(ctx context.Context, system string, env models.Env) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, lockKey{system, env})
	return nil
}

func (m *MemoryStore) DeleteStaleLock(ctx context.Context, system string, env models.Env, staleAfter time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := lockKey{system, env}
	l, ok := m.locks[k]
	if !ok || m.now().Sub(l.UpdatedAt) <= staleAfter {
		return false, nil
	}
	delete(m.locks, k)
	return true, nil
}

func (m *MemoryStore) GetPending(ctx context.Context, key string) (models.PendingOperation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	op, ok := m.pending[key]
	if !ok {
		return models.PendingOperation{}, ErrNotFound
	}
	op.Age = m.now().Sub(op.UpdatedAt)
	return op, nil
}

func (m *MemoryStore) InsertPending(ctx context.Context, op models.PendingOperation) (models.PendingOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[op.Key]; ok {
		return models.PendingOperation{}, ErrExists
	}
	op.UpdatedAt = m.now()
	op.Age = 0
	m.pending[op.Key] = op
	return op, nil
}

func (m *MemoryStore) TouchPending(ctx context.Context, key, artifact string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.pending[key]
	if !ok {
		return ErrNotFound
	}
	op.UpdatedAt = m.now()
	if artifact != "" {
		op.Artifact = artifact
	}
	m.pending[key] = op
	return nil
}

func (m *MemoryStore) DeletePending(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, key)
	return nil
}

func (m *MemoryStore) DeleteExpiredPending(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.pending[key]
	if !ok || m.now().Sub(op.UpdatedAt) <= ttl {
		return false, nil
	}
	delete(m.pending, key)
	return true, nil
}

func (m *MemoryStore) GetVersionedConfig(ctx context.Context, name string) (models.VersionedConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.configs[name]
	if !ok {
		return models.VersionedConfig{}, ErrNotFound
	}
	return c, nil
}

func (m *MemoryStore) SaveVersionedConfig(ctx context.Context, c models.VersionedConfig) (models.VersionedConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	if prev, ok := m.configs[c.Name]; ok {
		c.CreatedAt = prev.CreatedAt
		c.CreatedBy = prev.CreatedBy
	} else {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	m.configs[c.Name] = c
	return c, nil
}

func (m *MemoryStore) DeleteVersionedConfig(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.configs[name]; !ok {
		return ErrNotFound
	}
	delete(m.configs, name)
	return nil
}
