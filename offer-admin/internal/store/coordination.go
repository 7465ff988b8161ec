package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/models"
)

// Lock and pending rows are aged with the database clock so every replica
// compares against the same time source.

func secondsToDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}

func (s *PGStore) GetLock(ctx context.Context, system string, env models.Env) (models.RemoteLock, error) {
	query := `
		SELECT owner, token, updated_at, EXTRACT(EPOCH FROM (now() - updated_at))::float8
		FROM remote_locks
		WHERE system=$1 AND env=$2
	`
	l := models.RemoteLock{System: system, Env: env}
	var (
		owner sql.NullString
		token sql.NullString
		age   float64
	)
	if err := s.db.QueryRowContext(ctx, query, system, string(env)).Scan(&owner, &token, &l.UpdatedAt, &age); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.RemoteLock{}, ErrNotFound
		}
		return models.RemoteLock{}, fmt.Errorf("get remote lock: %w", err)
	}
	l.Owner = owner.String
	l.Token = token.String
	l.Age = secondsToDuration(age)
	return l, nil
}

func (s *PGStore) InsertLock(ctx context.Context, system string, env models.Env, owner, token string) (models.RemoteLock, error) {
	query := `
		INSERT INTO remote_locks (system, env, owner, token, updated_at)
		VALUES ($1,$2,$3,$4,now())
		ON CONFLICT (system, env) DO NOTHING
		RETURNING updated_at
	`
	l := models.RemoteLock{System: system, Env: env, Owner: owner, Token: token}
	if err := s.db.QueryRowContext(ctx, query, system, string(env), nullString(owner), nullString(token)).Scan(&l.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.RemoteLock{}, ErrExists
		}
		return models.RemoteLock{}, fmt.Errorf("insert remote lock: %w", err)
	}
	return l, nil
}

func (s *PGStore) DeleteLock(ctx context.Context, system string, env models.Env) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM remote_locks WHERE system=$1 AND env=$2`, system, string(env)); err != nil {
		return fmt.Errorf("delete remote lock: %w", err)
	}
	return nil
}

func (s *PGStore) DeleteStaleLock(ctx context.Context, system string, env models.Env, staleAfter time.Duration) (bool, error) {
	query := `
		DELETE FROM remote_locks
		WHERE system=$1 AND env=$2 AND updated_at < now() - ($3 * interval '1 millisecond')
	`
	res, err := s.db.ExecContext(ctx, query, system, string(env), staleAfter.Milliseconds())
	if err != nil {
		return false, fmt.Errorf("delete stale remote lock: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func (s *PGStore) GetPending(ctx context.Context, key string) (models.PendingOperation, error) {
	query := `
		SELECT action, artifact, token, updated_at, EXTRACT(EPOCH FROM (now() - updated_at))::float8
		FROM pending_operations
		WHERE key=$1
	`
	op := models.PendingOperation{Key: key}
	var (
		artifact sql.NullString
		token    sql.NullString
		age      float64
	)
	if err := s.db.QueryRowContext(ctx, query, key).Scan(&op.Action, &artifact, &token, &op.UpdatedAt, &age); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.PendingOperation{}, ErrNotFound
		}
		return models.PendingOperation{}, fmt.Errorf("get pending operation: %w", err)
	}
	op.Artifact = artifact.String
	op.Token = token.String
	op.Age = secondsToDuration(age)
	return op, nil
}

func (s *PGStore) InsertPending(ctx context.Context, op models.PendingOperation) (models.PendingOperation, error) {
	query := `
		INSERT INTO pending_operations (key, action, artifact, token, updated_at)
		VALUES ($1,$2,$3,$4,now())
		ON CONFLICT (key) DO NOTHING
		RETURNING updated_at
	`
	if err := s.db.QueryRowContext(ctx, query, op.Key, op.Action, nullString(op.Artifact), nullString(op.Token)).Scan(&op.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.PendingOperation{}, ErrExists
		}
		return models.PendingOperation{}, fmt.Errorf("insert pending operation: %w", err)
	}
	op.Age = 0
	return op, nil
}

func (s *PGStore) TouchPending(ctx context.Context, key, artifact string) error {
	query := `
		UPDATE pending_operations
		SET updated_at=now(), artifact=COALESCE($2, artifact)
		WHERE key=$1
	`
	res, err := s.db.ExecContext(ctx, query, key, nullString(artifact))
	if err != nil {
		return fmt.Errorf("touch pending operation: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) DeletePending(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_operations WHERE key=$1`, key); err != nil {
		return fmt.Errorf("delete pending operation: %w", err)
	}
	return nil
}

func (s *PGStore) DeleteExpiredPending(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	query := `
		DELETE FROM pending_operations
		WHERE key=$1 AND updated_at < now() - ($2 * interval '1 millisecond')
	`
	res, err := s.db.ExecContext(ctx, query, key, ttl.Milliseconds())
	if err != nil {
		return false, fmt.Errorf("delete expired pending operation: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}
