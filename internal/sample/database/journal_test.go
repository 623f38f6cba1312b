package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	bolt "go.etcd.io/bbolt"

	"github.com/go-sod/posture/internal/database"
	"github.com/go-sod/posture/internal/geom"
	"github.com/go-sod/posture/internal/sample"
)

func openDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "test.db"), 0600, nil)
	if err != nil {
		t.Fatalf("open bolt: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &database.DB{DB: db}
}

func entries(sessionID string, base time.Time, labels ...string) []Entry {
	out := make([]Entry, len(labels))
	for i, l := range labels {
		out[i] = Entry{
			SessionID: sessionID,
			Sample:    sample.New(l, geom.Point{float64(i), 0.25, -1}, base.Add(time.Duration(i)*time.Minute)),
		}
	}
	return out
}

func TestJournal_AppendFind(t *testing.T) {
	j := New(openDB(t))
	base := time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC)
	in := append(entries("s1", base, "a", "b", "c"), entries("s2", base, "x")...)
	if err := j.AppendMany(context.Background(), in[:2]); err != nil {
		t.Fatalf("AppendMany: %v", err)
	}
	if err := j.AppendMany(context.Background(), in[2:]); err != nil {
		t.Fatalf("AppendMany: %v", err)
	}

	got, err := j.FindBySession("s1", nil)
	if err != nil {
		t.Fatalf("FindBySession: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("FindBySession length, got: %d, expected: 3", len(got))
	}
	for i := range got {
		want := in[i].Sample
		if got[i].ID != want.ID || got[i].Label != want.Label ||
			!got[i].Vector.Equal(want.Vector) || !got[i].Timestamp.Equal(want.Timestamp) {
			t.Errorf("sample %d\n got: %s\n expected: %s", i, spew.Sdump(got[i]), spew.Sdump(want))
		}
	}

	keys, err := j.Keys()
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 2 || keys[0] != "s1" || keys[1] != "s2" {
		t.Errorf("Keys, got: %v", keys)
	}
	if n, _ := j.CountBySession("s1"); n != 3 {
		t.Errorf("CountBySession, got: %d, expected: 3", n)
	}
	if n, _ := j.CountBySession("missing"); n != 0 {
		t.Errorf("CountBySession of unknown session, got: %d", n)
	}
}

func TestJournal_Delete(t *testing.T) {
	base := time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		del      func(j *Journal) error
		expected []string
	}{
		{
			name:     "oldest",
			del:      func(j *Journal) error { return j.DeleteOldest(context.Background(), "s1", 2) },
			expected: []string{"c", "d"},
		},
		{
			name:     "before",
			del:      func(j *Journal) error { return j.DeleteBefore(context.Background(), "s1", base.Add(90*time.Second)) },
			expected: []string{"c", "d"},
		},
		{
			name:     "none",
			del:      func(j *Journal) error { return j.DeleteOldest(context.Background(), "s1", 0) },
			expected: []string{"a", "b", "c", "d"},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			j := New(openDB(t))
			if err := j.AppendMany(context.Background(), entries("s1", base, "a", "b", "c", "d")); err != nil {
				t.Fatal(err)
			}
			if err := test.del(j); err != nil {
				t.Fatalf("delete: %v", err)
			}
			got, err := j.FindBySession("s1", nil)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(test.expected) {
				t.Fatalf("remaining, got: %d, expected: %d", len(got), len(test.expected))
			}
			for i := range got {
				if got[i].Label != test.expected[i] {
					t.Errorf("remaining %d, got: %s, expected: %s", i, got[i].Label, test.expected[i])
				}
			}
		})
	}
}

func TestExportArchive(t *testing.T) {
	a := NewExportArchive(openDB(t))
	now := time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC)
	doc, err := sample.Encode([]sample.Sample{sample.New("good_posture", geom.Point{1, 2, 3}, now)}, now)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Store(context.Background(), "s1", doc, now); err != nil {
		t.Fatalf("Store: %v", err)
	}
	list, err := a.FindBySession("s1")
	if err != nil {
		t.Fatalf("FindBySession: %v", err)
	}
	if len(list) != 1 || list[0].Name != doc.Name || string(list[0].Body) != string(doc.Body) {
		t.Errorf("archived export, got: %s", spew.Sdump(list))
	}
}
