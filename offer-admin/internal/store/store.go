package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means the row changed since it was read.
	ErrConflict = errors.New("version conflict")
	ErrExists   = errors.New("already exists")
)

type EntityStore interface {
	CreateEntity(ctx context.Context, e models.Entity) (models.Entity, error)
	GetEntity(ctx context.Context, key models.Key) (models.Entity, error)
	FindEntityByBuildKey(ctx context.Context, buildKey string) (models.Entity, error)
	// UpdateEntity saves e if the stored version still equals e.Version and
	// returns the row with its new version.
	UpdateEntity(ctx context.Context, e models.Entity) (models.Entity, error)
	DeleteEntity(ctx context.Context, key models.Key) error
	CountDependents(ctx context.Context, plan models.Key) (int, error)
	ListEntities(ctx context.Context, storeCode string) ([]models.Entity, error)
	RecordTransition(ctx context.Context, t models.Transition) error
	ListTransitions(ctx context.Context, key models.Key) ([]models.Transition, error)
}

type LockStore interface {
	GetLock(ctx context.Context, system string, env models.Env) (models.RemoteLock, error)
	// InsertLock returns ErrExists when a row for (system, env) is present.
	InsertLock(ctx context.Context, system string, env models.Env, owner, token string) (models.RemoteLock, error)
	DeleteLock(ctx context.Context, system string, env models.Env) error
	// DeleteStaleLock removes the row only if it is older than staleAfter.
	DeleteStaleLock(ctx context.Context, system string, env models.Env, staleAfter time.Duration) (bool, error)
}

type PendingStore interface {
	GetPending(ctx context.Context, key string) (models.PendingOperation, error)
	InsertPending(ctx context.Context, op models.PendingOperation) (models.PendingOperation, error)
	TouchPending(ctx context.Context, key, artifact string) error
	DeletePending(ctx context.Context, key string) error
	DeleteExpiredPending(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type ConfigStore interface {
	GetVersionedConfig(ctx context.Context, name string) (models.VersionedConfig, error)
	SaveVersionedConfig(ctx context.Context, c models.VersionedConfig) (models.VersionedConfig, error)
	DeleteVersionedConfig(ctx context.Context, name string) error
}

// Store is the full persistence context handed to the services.
type Store interface {
	EntityStore
	LockStore
	PendingStore
	ConfigStore
	Ping(ctx context.Context) error
}

type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const (
	sqlStateUniqueViolation     = "23505"
	sqlStateForeignKeyViolation = "23503"
)

// sqlState extracts the SQLSTATE from either driver's error type.
func sqlState(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func IsUniqueViolation(err error) bool {
	return sqlState(err) == sqlStateUniqueViolation
}

func IsForeignKeyViolation(err error) bool {
	return sqlState(err) == sqlStateForeignKeyViolation
}

func ensureJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return raw
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return []byte(raw)
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
