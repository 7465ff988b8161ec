package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/models"
)

const entityColumns = `store_code, code, kind, status_id, payload, draft_data, build_key, version,
		created_by, last_modified_by, created_at, updated_at, deleted_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntity(row rowScanner) (models.Entity, error) {
	var (
		e         models.Entity
		kind      string
		status    int
		payload   []byte
		draft     []byte
		buildKey  sql.NullString
		deletedAt sql.NullTime
	)
	if err := row.Scan(&e.Store, &e.Code, &kind, &status, &payload, &draft, &buildKey, &e.Version,
		&e.CreatedBy, &e.LastModifiedBy, &e.CreatedAt, &e.UpdatedAt, &deletedAt); err != nil {
		return models.Entity{}, err
	}
	e.Kind = models.Kind(kind)
	e.Status = models.Status(status)
	p, err := models.DecodePayload(e.Kind, payload)
	if err != nil {
		return models.Entity{}, err
	}
	e.Payload = p
	if len(draft) > 0 {
		e.DraftData = append(json.RawMessage(nil), draft...)
	}
	e.BuildKey = buildKey.String
	if deletedAt.Valid {
		t := deletedAt.Time
		e.DeletedAt = &t
	}
	return e, nil
}

func (s *PGStore) CreateEntity(ctx context.Context, e models.Entity) (models.Entity, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return models.Entity{}, fmt.Errorf("encode payload: %w", err)
	}
	query := `
		INSERT INTO promotable_entities (store_code, code, kind, status_id, payload, draft_data, created_by, last_modified_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
		RETURNING version, created_at, updated_at
	`
	err = s.db.QueryRowContext(ctx, query, e.Store, e.Code, string(e.Kind), int(e.Status), ensureJSON(payload), nullJSON(e.DraftData), e.CreatedBy).
		Scan(&e.Version, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return models.Entity{}, ErrExists
		}
		return models.Entity{}, fmt.Errorf("insert entity: %w", err)
	}
	e.LastModifiedBy = e.CreatedBy
	return e, nil
}

func (s *PGStore) GetEntity(ctx context.Context, key models.Key) (models.Entity, error) {
	query := `SELECT ` + entityColumns + `
		FROM promotable_entities
		WHERE store_code=$1 AND code=$2 AND deleted_at IS NULL`
	e, err := scanEntity(s.db.QueryRowContext(ctx, query, key.Store, key.Code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Entity{}, ErrNotFound
		}
		return models.Entity{}, fmt.Errorf("get entity: %w", err)
	}
	return e, nil
}

func (s *PGStore) FindEntityByBuildKey(ctx context.Context, buildKey string) (models.Entity, error) {
	query := `SELECT ` + entityColumns + `
		FROM promotable_entities
		WHERE build_key=$1 AND deleted_at IS NULL`
	e, err := scanEntity(s.db.QueryRowContext(ctx, query, buildKey))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Entity{}, ErrNotFound
		}
		return models.Entity{}, fmt.Errorf("find entity by build key: %w", err)
	}
	return e, nil
}

func (s *PGStore) UpdateEntity(ctx context.Context, e models.Entity) (models.Entity, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return models.Entity{}, fmt.Errorf("encode payload: %w", err)
	}
	var deletedAt sql.NullTime
	if e.DeletedAt != nil {
		deletedAt = sql.NullTime{Time: *e.DeletedAt, Valid: true}
	}
	query := `
		UPDATE promotable_entities
		SET status_id=$3, payload=$4, draft_data=$5, build_key=$6, last_modified_by=$7,
			deleted_at=$8, version=version+1, updated_at=now()
		WHERE store_code=$1 AND code=$2 AND version=$9
		RETURNING version, updated_at
	`
	err = s.db.QueryRowContext(ctx, query, e.Store, e.Code, int(e.Status), ensureJSON(payload), nullJSON(e.DraftData),
		nullString(e.BuildKey), e.LastModifiedBy, deletedAt, e.Version).Scan(&e.Version, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Entity{}, ErrConflict
		}
		if IsUniqueViolation(err) {
			return models.Entity{}, ErrExists
		}
		return models.Entity{}, fmt.Errorf("update entity: %w", err)
	}
	return e, nil
}

func (s *PGStore) DeleteEntity(ctx context.Context, key models.Key) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM promotable_entities WHERE store_code=$1 AND code=$2`, key.Store, key.Code)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return fmt.Errorf("delete entity %s: %w", key, ErrConflict)
		}
		return fmt.Errorf("delete entity: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) CountDependents(ctx context.Context, plan models.Key) (int, error) {
	query := `
		SELECT COUNT(*) FROM promotable_entities
		WHERE store_code=$1 AND payload->>'planCode'=$2 AND code<>$2 AND deleted_at IS NULL
	`
	var n int
	if err := s.db.QueryRowContext(ctx, query, plan.Store, plan.Code).Scan(&n); err != nil {
		return 0, fmt.Errorf("count dependents: %w", err)
	}
	return n, nil
}

func (s *PGStore) ListEntities(ctx context.Context, storeCode string) ([]models.Entity, error) {
	query := `SELECT ` + entityColumns + `
		FROM promotable_entities
		WHERE store_code=$1 AND deleted_at IS NULL
		ORDER BY code`
	rows, err := s.db.QueryContext(ctx, query, storeCode)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()
	var out []models.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PGStore) RecordTransition(ctx context.Context, t models.Transition) error {
	id, err := uuid.Parse(t.ID)
	if err != nil {
		id = uuid.New()
	}
	query := `
		INSERT INTO promotion_transitions (id, store_code, code, from_status, to_status, actor, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if _, err := s.db.ExecContext(ctx, query, id, t.Key.Store, t.Key.Code, int(t.From), int(t.To), t.Actor, t.Reason, createdAt); err != nil {
		return fmt.Errorf("record transition: %w", err)
	}
	return nil
}

func (s *PGStore) ListTransitions(ctx context.Context, key models.Key) ([]models.Transition, error) {
	query := `
		SELECT id, from_status, to_status, actor, reason, created_at
		FROM promotion_transitions
		WHERE store_code=$1 AND code=$2
		ORDER BY created_at
	`
	rows, err := s.db.QueryContext(ctx, query, key.Store, key.Code)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()
	var out []models.Transition
	for rows.Next() {
		var (
			t        models.Transition
			id       uuid.UUID
			from, to int
			reason   sql.NullString
		)
		if err := rows.Scan(&id, &from, &to, &t.Actor, &reason, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		t.ID = id.String()
		t.Key = key
		t.From = models.Status(from)
		t.To = models.Status(to)
		t.Reason = reason.String
		out = append(out, t)
	}
	return out, rows.Err()
}
