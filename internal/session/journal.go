package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-sod/posture/internal/logging"
	"github.com/go-sod/posture/internal/sample"
	sampleDb "github.com/go-sod/posture/internal/sample/database"
)

// function to persist a batch of captured samples
type appendEntriesFn func(context.Context, []sampleDb.Entry) error

type journalWriterOptions struct {
	flushSize int
	flushTime time.Duration
	appendFn  appendEntriesFn
}

func newJournalWriter(opts journalWriterOptions) *journalWriter {
	return &journalWriter{opts: opts}
}

// journalWriter buffers captured samples and writes them to the journal in
// batches, when the buffer fills up or on every tick. Batches are written one
// at a time in the order they were taken, so journal order equals capture order.
type journalWriter struct {
	mtx  sync.Mutex
	opts journalWriterOptions
	buf  []sampleDb.Entry
	wg   sync.WaitGroup
	// held from take until the batch is written
	writeMtx sync.Mutex
}

// record is the session recorder hook.
func (w *journalWriter) record(ctx context.Context, sessionID string, s sample.Sample) {
	w.mtx.Lock()
	w.buf = append(w.buf, sampleDb.Entry{SessionID: sessionID, Sample: s})
	bufLen := len(w.buf)
	w.mtx.Unlock()

	if w.opts.flushSize > 0 && bufLen >= w.opts.flushSize {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.bulkAppend(ctx)
		}()
	}
}

func (w *journalWriter) take() []sampleDb.Entry {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	if len(w.buf) == 0 {
		return nil
	}
	tmp := make([]sampleDb.Entry, len(w.buf))
	copy(tmp, w.buf)
	w.buf = w.buf[:0]
	return tmp
}

// flush writes everything recorded before the call. When it returns, no
// earlier batch is still in flight.
func (w *journalWriter) flush() error {
	w.writeMtx.Lock()
	defer w.writeMtx.Unlock()
	entries := w.take()
	if len(entries) == 0 {
		return nil
	}
	if err := w.opts.appendFn(context.Background(), entries); err != nil {
		return fmt.Errorf("journal: append many operation failed: %w", err)
	}
	return nil
}

func (w *journalWriter) bulkAppend(ctx context.Context) {
	if err := w.flush(); err != nil {
		logging.FromContext(ctx).Errorf("%v", err)
	}
}

// shutdown writes whatever is still buffered.
func (w *journalWriter) shutdown() error {
	w.wg.Wait()
	return w.flush()
}

func (w *journalWriter) flusher(ctx context.Context, shutdownCh chan<- error) {
	defer func() {
		shutdownCh <- w.shutdown()
	}()
	ticker := time.NewTicker(w.opts.flushTime)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.bulkAppend(ctx)
		case <-ctx.Done():
			return
		}
	}
}
