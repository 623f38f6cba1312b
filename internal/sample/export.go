package sample

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-sod/posture/internal/byteutil"
	"github.com/go-sod/posture/internal/geom"
)

const (
	ExportPrefix      = "posture_data"
	ExportExtension   = "json"
	ExportContentType = "application/json"
)

var ErrEmptyDocument = errors.New("no samples to export")

// Record is the exported form of a sample.
type Record struct {
	Label     string       `json:"label"`
	Pose      [][3]float64 `json:"pose"`
	Timestamp string       `json:"timestamp"`
}

// Document is a rendered export ready to be offered as a download.
type Document struct {
	Name        string
	ContentType string
	Samples     int
	Body        []byte
}

// FileName returns <prefix>_<YYYY-MM-DD>.<ext> for the UTC date of t.
func FileName(t time.Time) string {
	return fmt.Sprintf("%s_%s.%s", ExportPrefix, t.UTC().Format("2006-01-02"), ExportExtension)
}

// Encode renders samples as an indented JSON array in the given order.
func Encode(samples []Sample, now time.Time) (*Document, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyDocument
	}
	records := make([]Record, len(samples))
	for i := range samples {
		records[i] = Record{
			Label:     samples[i].Label,
			Pose:      samples[i].Vector.Triples(),
			Timestamp: samples[i].Timestamp.UTC().Format(time.RFC3339Nano),
		}
	}

	buf := byteutil.GetBytesBuf()
	defer byteutil.PutBytesBuf(buf)
	enc := json.NewEncoder(buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return nil, fmt.Errorf("encode export document: %w", err)
	}
	body := make([]byte, buf.Len())
	copy(body, buf.Bytes())

	return &Document{
		Name:        FileName(now),
		ContentType: ExportContentType,
		Samples:     len(records),
		Body:        body,
	}, nil
}

// Decode parses an export document back into records.
func Decode(body []byte) ([]Record, error) {
	var records []Record
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("decode export document: %w", err)
	}
	return records, nil
}

// Sample converts a record back into a sample without an ID.
func (r Record) Sample() (Sample, error) {
	ts, err := time.Parse(time.RFC3339Nano, r.Timestamp)
	if err != nil {
		return Sample{}, fmt.Errorf("record timestamp %q: %w", r.Timestamp, err)
	}
	return Sample{Label: r.Label, Vector: geom.FromTriples(r.Pose), Timestamp: ts}, nil
}
