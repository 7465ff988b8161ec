package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/models"
)

func (s *PGStore) GetVersionedConfig(ctx context.Context, name string) (models.VersionedConfig, error) {
	query := `
		SELECT name, status_id, stg_rollback_version, prod_rollback_version, created_by, updated_by, created_at, updated_at
		FROM versioned_configs
		WHERE name=$1
	`
	var (
		c         models.VersionedConfig
		status    int
		stg, prod sql.NullInt64
		updatedBy sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, name).Scan(&c.Name, &status, &stg, &prod, &c.CreatedBy, &updatedBy, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.VersionedConfig{}, ErrNotFound
		}
		return models.VersionedConfig{}, fmt.Errorf("get versioned config: %w", err)
	}
	c.Status = models.ConfigStatus(status)
	c.StgRollbackVersion = int64Ptr(stg)
	c.ProdRollbackVersion = int64Ptr(prod)
	c.UpdatedBy = updatedBy.String
	return c, nil
}

func (s *PGStore) SaveVersionedConfig(ctx context.Context, c models.VersionedConfig) (models.VersionedConfig, error) {
	query := `
		INSERT INTO versioned_configs (name, status_id, stg_rollback_version, prod_rollback_version, created_by, updated_by)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (name)
		DO UPDATE SET status_id = EXCLUDED.status_id,
			stg_rollback_version = EXCLUDED.stg_rollback_version,
			prod_rollback_version = EXCLUDED.prod_rollback_version,
			updated_by = EXCLUDED.updated_by,
			updated_at = now()
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query, c.Name, int(c.Status), nullInt64(c.StgRollbackVersion), nullInt64(c.ProdRollbackVersion),
		c.CreatedBy, nullString(c.UpdatedBy)).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return models.VersionedConfig{}, fmt.Errorf("save versioned config: %w", err)
	}
	return c, nil
}

func (s *PGStore) DeleteVersionedConfig(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM versioned_configs WHERE name=$1`, name)
	if err != nil {
		return fmt.Errorf("delete versioned config: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
