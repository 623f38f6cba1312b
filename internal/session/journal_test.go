package session

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-sod/posture/internal/geom"
	"github.com/go-sod/posture/internal/sample"
	sampleDb "github.com/go-sod/posture/internal/sample/database"
)

func testSample(label string) sample.Sample {
	return sample.New(label, geom.Point{1, 1, 1}, time.Now())
}

func TestJournalWriter_Record(t *testing.T) {
	tests := []struct {
		name        string
		flushSize   int
		items       int
		expectedBuf int
		expectedLen int
	}{
		{name: "below_flush_size", flushSize: 5, items: 3, expectedBuf: 3, expectedLen: 0},
		{name: "reaches_flush_size", flushSize: 3, items: 3, expectedBuf: 0, expectedLen: 3},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var mtx sync.Mutex
			written := 0
			w := newJournalWriter(journalWriterOptions{
				flushSize: test.flushSize,
				appendFn: func(_ context.Context, entries []sampleDb.Entry) error {
					mtx.Lock()
					written += len(entries)
					mtx.Unlock()
					return nil
				},
			})
			for i := 0; i < test.items; i++ {
				w.record(context.Background(), "s1", testSample("good"))
			}
			w.wg.Wait()

			if len(w.buf) != test.expectedBuf {
				t.Errorf("buffer length, got: %d, expected: %d", len(w.buf), test.expectedBuf)
			}
			if written != test.expectedLen {
				t.Errorf("written entries, got: %d, expected: %d", written, test.expectedLen)
			}
		})
	}
}

func TestJournalWriter_Shutdown(t *testing.T) {
	tests := []struct {
		name        string
		items       int
		appendErr   error
		expectedLen int
	}{
		{name: "positive_shutdown", items: 4, expectedLen: 4},
		{name: "empty_buffer", items: 0, expectedLen: 0},
		{name: "negative_shutdown", items: 2, appendErr: errors.New("disk full"), expectedLen: 2},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			length := 0
			w := newJournalWriter(journalWriterOptions{
				appendFn: func(_ context.Context, entries []sampleDb.Entry) error {
					length = len(entries)
					return test.appendErr
				},
			})
			for i := 0; i < test.items; i++ {
				w.record(context.Background(), "s1", testSample("good"))
			}

			err := w.shutdown()
			if !errors.Is(err, test.appendErr) {
				t.Errorf("shutdown, err got: %v, expected: %v", err, test.appendErr)
			}
			if length != test.expectedLen {
				t.Errorf("shutdown, written got: %d, expected: %d", length, test.expectedLen)
			}
			if len(w.buf) != 0 {
				t.Errorf("shutdown, buffer got: %d, expected: 0", len(w.buf))
			}
		})
	}
}

func TestJournalWriter_Flusher(t *testing.T) {
	written := make(chan int, 10)
	w := newJournalWriter(journalWriterOptions{
		flushTime: 20 * time.Millisecond,
		appendFn: func(_ context.Context, entries []sampleDb.Entry) error {
			written <- len(entries)
			return nil
		},
	})
	for i := 0; i < 5; i++ {
		w.record(context.Background(), "s1", testSample("good"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	shutdownCh := make(chan error, 1)
	go w.flusher(ctx, shutdownCh)

	select {
	case n := <-written:
		if n != 5 {
			t.Errorf("flushed entries, got: %d, expected: 5", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("flusher did not write the buffer")
	}

	w.record(context.Background(), "s1", testSample("bad"))
	cancel()
	if err := <-shutdownCh; err != nil {
		t.Fatalf("flusher shutdown: %v", err)
	}

	total := 0
	for {
		select {
		case n := <-written:
			total += n
			continue
		default:
		}
		break
	}
	if total != 1 {
		t.Errorf("entries written after the first flush, got: %d, expected: 1", total)
	}
}

func TestJournalWriter_KeepsOrder(t *testing.T) {
	var (
		mtx     sync.Mutex
		written []string
		calls   int
	)
	w := newJournalWriter(journalWriterOptions{
		flushSize: 2,
		appendFn: func(_ context.Context, entries []sampleDb.Entry) error {
			mtx.Lock()
			calls++
			first := calls == 1
			mtx.Unlock()
			if first {
				// a slow first batch lets later batches catch up
				time.Sleep(50 * time.Millisecond)
			}
			mtx.Lock()
			defer mtx.Unlock()
			for _, e := range entries {
				written = append(written, e.Sample.Label)
			}
			return nil
		},
	})
	expected := make([]string, 30)
	for i := range expected {
		expected[i] = strconv.Itoa(i)
		w.record(context.Background(), "s1", testSample(expected[i]))
	}
	if err := w.shutdown(); err != nil {
		t.Fatal(err)
	}

	if len(written) != len(expected) {
		t.Fatalf("written entries, got: %d, expected: %d", len(written), len(expected))
	}
	for i := range expected {
		if written[i] != expected[i] {
			t.Fatalf("entry %d, got: %s, expected: %s, order: %v", i, written[i], expected[i], written)
		}
	}
}

func TestJournalWriter_FlushWaitsForInflight(t *testing.T) {
	release := make(chan struct{})
	var (
		mtx     sync.Mutex
		written int
	)
	w := newJournalWriter(journalWriterOptions{
		flushSize: 3,
		appendFn: func(_ context.Context, entries []sampleDb.Entry) error {
			<-release
			mtx.Lock()
			written += len(entries)
			mtx.Unlock()
			return nil
		},
	})
	for i := 0; i < 4; i++ {
		w.record(context.Background(), "s1", testSample("good"))
	}

	done := make(chan error, 1)
	go func() { done <- w.flush() }()
	close(release)
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("flush did not return")
	}
	mtx.Lock()
	got := written
	mtx.Unlock()
	if got != 4 {
		t.Errorf("written entries after flush, got: %d, expected: 4", got)
	}
	w.wg.Wait()
}
