package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/go-sod/posture/internal/database"
	"github.com/go-sod/posture/internal/sample"
)

const exportPrefix = "export:"

// ExportRecord is an archived export document.
type ExportRecord struct {
	ID        uuid.UUID `json:"id"`
	SessionID string    `json:"sessionId"`
	Name      string    `json:"name"`
	Samples   int       `json:"samples"`
	Body      []byte    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

func NewExportArchive(db *database.DB) *ExportArchive {
	return &ExportArchive{sDB: db}
}

type ExportArchive struct {
	sDB *database.DB
}

func (a *ExportArchive) Store(_ context.Context, sessionID string, doc *sample.Document, createdAt time.Time) (ExportRecord, error) {
	rec := ExportRecord{
		ID:        uuid.New(),
		SessionID: sessionID,
		Name:      doc.Name,
		Samples:   doc.Samples,
		Body:      doc.Body,
		CreatedAt: createdAt,
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return ExportRecord{}, fmt.Errorf("marshal export record: %w", err)
	}
	if err := a.sDB.DB.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(exportPrefix + sessionID))
		if err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), value)
	}); err != nil {
		return ExportRecord{}, fmt.Errorf("update transaction error: %w", err)
	}
	return rec, nil
}

// FindBySession lists archived exports oldest first.
func (a *ExportArchive) FindBySession(sessionID string) ([]ExportRecord, error) {
	var list []ExportRecord
	if err := a.sDB.DB.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(exportPrefix + sessionID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var rec ExportRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal export record: %w", err)
			}
			list = append(list, rec)
			return nil
		})
	}); err != nil {
		return nil, fmt.Errorf("view transaction error: %w", err)
	}
	return list, nil
}
