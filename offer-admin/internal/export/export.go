// Package export writes a store's entities to CSV and parks the file in
// object storage until the operator collects it. The in-flight export is a
// pending operation; an abandoned one has its object removed on expiry.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/apperr"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/models"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/pending"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/store"
)

const (
	action      = "export"
	objectStore = "object-store"
)

// ArtifactStore holds export files.
type ArtifactStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
}

type Exporter struct {
	entities  store.EntityStore
	tracker   *pending.Tracker
	artifacts ArtifactStore
	logger    *log.Logger
	now       func() time.Time
}

// New returns an Exporter and registers its expiry cleanup with tracker.
func New(entities store.EntityStore, tracker *pending.Tracker, artifacts ArtifactStore, logger *log.Logger) *Exporter {
	if logger == nil {
		logger = log.Default()
	}
	e := &Exporter{entities: entities, tracker: tracker, artifacts: artifacts, logger: logger, now: time.Now}
	tracker.OnExpire(action, e.cleanup)
	return e
}

// PendingKey is the pending-operation key of a store's export.
func PendingKey(storeCode string) string { return "export:" + storeCode }

type Result struct {
	Store     string    `json:"store"`
	Object    string    `json:"object"`
	Rows      int       `json:"rows"`
	StartedAt time.Time `json:"startedAt"`
}

// Start exports every live entity of storeCode. Only one export per store
// can be outstanding.
func (e *Exporter) Start(ctx context.Context, storeCode, actor string) (Result, error) {
	const op = "export"
	if storeCode == "" {
		return Result{}, apperr.Validation(op, "store required")
	}
	key := PendingKey(storeCode)
	if _, err := e.tracker.Start(ctx, key, action); err != nil {
		if errors.Is(err, pending.ErrInProgress) {
			return Result{}, apperr.InProgress(op, storeCode, "export already in progress")
		}
		return Result{}, apperr.Internal(op, err)
	}

	res, err := e.run(ctx, storeCode)
	if err != nil {
		if stopErr := e.tracker.Stop(ctx, key); stopErr != nil {
			e.logger.Printf("[export] stop pending failed store=%s err=%v", storeCode, stopErr)
		}
		return Result{}, err
	}
	if err := e.tracker.Touch(ctx, key, res.Object); err != nil {
		e.logger.Printf("[export] record artifact failed store=%s object=%s err=%v", storeCode, res.Object, err)
	}
	e.logger.Printf("[export] ready store=%s object=%s rows=%d actor=%s", storeCode, res.Object, res.Rows, actor)
	return res, nil
}

func (e *Exporter) run(ctx context.Context, storeCode string) (Result, error) {
	const op = "export"
	list, err := e.entities.ListEntities(ctx, storeCode)
	if err != nil {
		return Result{}, apperr.Internal(op, err)
	}
	var buf bytes.Buffer
	if err := WriteCSV(&buf, list); err != nil {
		return Result{}, apperr.Internal(op, err)
	}
	started := e.now().UTC()
	object := fmt.Sprintf("exports/%s/%s-%s.csv", storeCode, started.Format("20060102T150405Z"), uuid.NewString())
	if err := e.artifacts.Put(ctx, object, bytes.NewReader(buf.Bytes()), int64(buf.Len()), "text/csv"); err != nil {
		return Result{}, apperr.Remote(op, objectStore, err)
	}
	return Result{Store: storeCode, Object: object, Rows: len(list), StartedAt: started}, nil
}

// Status returns the outstanding export of storeCode.
func (e *Exporter) Status(ctx context.Context, storeCode string) (models.PendingOperation, error) {
	p, err := e.tracker.Get(ctx, PendingKey(storeCode))
	if err != nil {
		return models.PendingOperation{}, err
	}
	if p == nil {
		return models.PendingOperation{}, apperr.NotFound("export status", "no export in progress for "+storeCode)
	}
	return *p, nil
}

// Complete removes the export file and clears the pending operation.
func (e *Exporter) Complete(ctx context.Context, storeCode string) error {
	const op = "export complete"
	p, err := e.Status(ctx, storeCode)
	if err != nil {
		return err
	}
	if err := e.cleanup(ctx, p); err != nil {
		return apperr.Remote(op, objectStore, err)
	}
	if err := e.tracker.Stop(ctx, p.Key); err != nil {
		return apperr.Internal(op, err)
	}
	return nil
}

func (e *Exporter) cleanup(ctx context.Context, p models.PendingOperation) error {
	if p.Artifact == "" {
		return nil
	}
	if err := e.artifacts.Delete(ctx, p.Artifact); err != nil {
		return fmt.Errorf("delete %s: %w", p.Artifact, err)
	}
	e.logger.Printf("[export] removed object=%s", p.Artifact)
	return nil
}

var header = []string{"store", "code", "kind", "status", "version", "created_by", "last_modified_by", "updated_at", "payload"}

// WriteCSV writes one row per entity.
func WriteCSV(w io.Writer, list []models.Entity) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, ent := range list {
		payload, err := json.Marshal(ent.Payload)
		if err != nil {
			return fmt.Errorf("encode payload of %s: %w", ent.Key, err)
		}
		row := []string{
			ent.Store,
			ent.Code,
			string(ent.Kind),
			ent.Status.String(),
			strconv.FormatInt(ent.Version, 10),
			ent.CreatedBy,
			ent.LastModifiedBy,
			ent.UpdatedAt.UTC().Format(time.RFC3339),
			string(payload),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
