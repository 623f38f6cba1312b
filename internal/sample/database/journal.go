// Package database persists session samples and export documents in bbolt.
//
// Samples are stored per session in a bucket named "sample:<session>", keyed
// by a big-endian sequence number so cursor order equals insertion order.
// Values are XDR encoded.
package database

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	xdr "github.com/davecgh/go-xdr/xdr2"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/go-sod/posture/internal/byteutil"
	"github.com/go-sod/posture/internal/database"
	"github.com/go-sod/posture/internal/sample"
)

const (
	sessionKeys  = "session:keys:"
	samplePrefix = "sample:"
)

// Entry ties a sample to the session that captured it.
type Entry struct {
	SessionID string
	Sample    sample.Sample
}

type FilterFn func(s sample.Sample) bool

type record struct {
	ID        string
	Label     string
	Vector    []float64
	Timestamp int64
}

func New(db *database.DB) *Journal {
	return &Journal{sDB: db}
}

type Journal struct {
	sDB *database.DB
}

func encode(s sample.Sample) ([]byte, error) {
	buf := byteutil.GetBytesBuf()
	defer byteutil.PutBytesBuf(buf)
	r := record{
		ID:        s.ID.String(),
		Label:     s.Label,
		Vector:    s.Vector,
		Timestamp: s.Timestamp.UnixNano(),
	}
	if _, err := xdr.Marshal(buf, &r); err != nil {
		return nil, fmt.Errorf("xdr marshal sample %s: %w", s.ID, err)
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func decode(b []byte) (sample.Sample, error) {
	var r record
	if _, err := xdr.Unmarshal(bytes.NewReader(b), &r); err != nil {
		return sample.Sample{}, fmt.Errorf("xdr unmarshal sample: %w", err)
	}
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return sample.Sample{}, fmt.Errorf("sample id %q: %w", r.ID, err)
	}
	return sample.Sample{
		ID:        id,
		Label:     r.Label,
		Vector:    r.Vector,
		Timestamp: time.Unix(0, r.Timestamp).UTC(),
	}, nil
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

// Keys returns the IDs of all sessions that have journaled samples.
func (j *Journal) Keys() ([]string, error) {
	var keys []string
	err := j.sDB.DB.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(sessionKeys))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			keys = append(keys, strings.TrimPrefix(string(k), samplePrefix))
		}
		return nil
	})
	return keys, err
}

// AppendMany writes entries in slice order.
func (j *Journal) AppendMany(_ context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := j.sDB.DB.Batch(func(tx *bolt.Tx) error {
		keys, err := tx.CreateBucketIfNotExists([]byte(sessionKeys))
		if err != nil {
			return fmt.Errorf("create session keys bucket: %w", err)
		}
		for _, e := range entries {
			name := []byte(samplePrefix + e.SessionID)
			b, err := tx.CreateBucketIfNotExists(name)
			if err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
			seq, err := b.NextSequence()
			if err != nil {
				return fmt.Errorf("next sequence %s: %w", name, err)
			}
			value, err := encode(e.Sample)
			if err != nil {
				return err
			}
			if err := b.Put(seqKey(seq), value); err != nil {
				return fmt.Errorf("put to bucket %s: %w", name, err)
			}
			if err := keys.Put(name, []byte{0x0}); err != nil {
				return fmt.Errorf("put session key: %w", err)
			}
		}
		return nil
	}); err != nil {
		return fmt.Errorf("append transaction error: %w", err)
	}
	return nil
}

// FindBySession returns the session's samples in insertion order.
func (j *Journal) FindBySession(sessionID string, filter FilterFn) ([]sample.Sample, error) {
	var list []sample.Sample
	if err := j.sDB.DB.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(samplePrefix + sessionID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			s, err := decode(v)
			if err != nil {
				return err
			}
			if filter == nil || filter(s) {
				list = append(list, s)
			}
			return nil
		})
	}); err != nil {
		return nil, fmt.Errorf("view transaction error: %w", err)
	}
	return list, nil
}

func (j *Journal) CountBySession(sessionID string) (int, error) {
	var n int
	if err := j.sDB.DB.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(samplePrefix + sessionID))
		if b == nil {
			return nil
		}
		n = b.Stats().KeyN
		return nil
	}); err != nil {
		return 0, fmt.Errorf("view transaction error: %w", err)
	}
	return n, nil
}

// DeleteOldest removes the first n samples of the session.
func (j *Journal) DeleteOldest(_ context.Context, sessionID string, n int) error {
	if n <= 0 {
		return nil
	}
	return j.deleteWhere(sessionID, func(idx int, _ sample.Sample) bool { return idx < n })
}

// DeleteBefore removes samples captured before t.
func (j *Journal) DeleteBefore(_ context.Context, sessionID string, t time.Time) error {
	return j.deleteWhere(sessionID, func(_ int, s sample.Sample) bool { return s.Timestamp.Before(t) })
}

func (j *Journal) deleteWhere(sessionID string, match func(int, sample.Sample) bool) error {
	if err := j.sDB.DB.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(samplePrefix + sessionID))
		if b == nil {
			return nil
		}
		var keys [][]byte
		idx := 0
		if err := b.ForEach(func(k, v []byte) error {
			s, err := decode(v)
			if err != nil {
				return err
			}
			if match(idx, s) {
				keys = append(keys, append([]byte(nil), k...))
			}
			idx++
			return nil
		}); err != nil {
			return err
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return fmt.Errorf("unable delete: %w", err)
			}
		}
		return nil
	}); err != nil {
		return fmt.Errorf("update transaction error: %w", err)
	}
	return nil
}
