package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/go-sod/posture/internal/classifier"
	"github.com/go-sod/posture/internal/database"
	"github.com/go-sod/posture/internal/logging"
	"github.com/go-sod/posture/internal/metrics"
	"github.com/go-sod/posture/internal/sample"
	sampleDb "github.com/go-sod/posture/internal/sample/database"
)

// Contract for returning the Manager instance. feedback receives every
// analyzed frame, it may be nil.
type ProvideFn func(feedback func(context.Context, Feedback), shutdownCh chan<- error) (Manager, error)

// Manager is the registry of open sessions.
type Manager interface {
	// Open returns the session with the given id, creating it when needed.
	// An empty id creates a session with a fresh id. Samples journaled under
	// the id are restored into a newly created session.
	Open(ctx context.Context, id string) (*Session, error)
	Get(id string) (*Session, error)
	Close(ctx context.Context, id string) error
	Len() int
	// Starts the journal flusher, retention and idle eviction
	Run(ctx context.Context) error
	// Closes every session, flushes the journal and reports on shutdownCh
	Stop()
}

// function for restoring the samples of a session
type fetchSamplesFn func(string, sampleDb.FilterFn) ([]sample.Sample, error)

type managerDeps struct {
	fetchSamples fetchSamplesFn
	archive      archiveFn
	feedback     feedbackFn
}

type ManagerOption func(*manager)

// WithDB enables the journal and the export archive when the config asks for them.
func WithDB(db *database.DB) ManagerOption {
	return func(m *manager) {
		m.db = db
	}
}

func WithFeedbackFn(fn func(context.Context, Feedback)) ManagerOption {
	return func(m *manager) {
		m.deps.feedback = fn
	}
}

func WithManagerClock(fn func() time.Time) ManagerOption {
	return func(m *manager) {
		m.clock = fn
	}
}

func NewManager(cfg *Config, provide classifier.ProvideFn, shutdownCh chan<- error, opts ...ManagerOption) (*manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("session config is not provided")
	}
	m := &manager{
		cfg:        *cfg,
		provide:    provide,
		shutdownCh: shutdownCh,
		sessions:   map[string]*Session{},
		clock:      time.Now,
	}
	for _, f := range opts {
		f(m)
	}

	if (cfg.JournalEnabled || cfg.ArchiveExports) && m.db == nil {
		return nil, fmt.Errorf("journal and export archive need a database")
	}

	if cfg.JournalEnabled {
		journal := sampleDb.New(m.db)
		m.deps.fetchSamples = journal.FindBySession
		m.writer = newJournalWriter(journalWriterOptions{
			flushSize: cfg.JournalFlushSize,
			flushTime: cfg.JournalFlushTime,
			appendFn:  journal.AppendMany,
		})
		if cfg.JournalMaxItems > 0 || cfg.JournalMaxAge > 0 {
			m.retention = newRetention(
				retentionOptions{
					maxItems: cfg.JournalMaxItems,
					maxAge:   cfg.JournalMaxAge,
					interval: cfg.JournalRetentionInterval,
					clock:    m.clock,
				},
				retentionDeps{
					keys:         journal.Keys,
					count:        journal.CountBySession,
					deleteOldest: journal.DeleteOldest,
					deleteBefore: journal.DeleteBefore,
				},
			)
		}
	}

	if cfg.ArchiveExports {
		archive := sampleDb.NewExportArchive(m.db)
		m.deps.archive = func(ctx context.Context, sessionID string, doc *sample.Document, createdAt time.Time) error {
			_, err := archive.Store(ctx, sessionID, doc, createdAt)
			return err
		}
	}

	return m, nil
}

type manager struct {
	mtx sync.RWMutex

	cfg     Config
	db      *database.DB
	deps    managerDeps
	clock   func() time.Time
	provide classifier.ProvideFn

	writer    *journalWriter
	retention *retention

	sessions   map[string]*Session
	closed     bool
	shutdownCh chan<- error
	cancel     func()
}

func (m *manager) sessionOptions() []Option {
	opts := []Option{
		WithMinSamples(m.cfg.MinSamples),
		WithAutoCapture(m.cfg.AutoCapture),
		WithSensitivity(m.cfg.Sensitivity),
		WithClock(m.clock),
	}
	if m.writer != nil {
		opts = append(opts, WithRecorder(m.writer.record))
	}
	if m.deps.archive != nil {
		opts = append(opts, WithArchiver(m.deps.archive))
	}
	if m.deps.feedback != nil {
		opts = append(opts, WithFeedback(m.deps.feedback))
	}
	return opts
}

func (m *manager) Open(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		id = uuid.New().String()
	} else if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidID, err)
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		return nil, ErrTooManySessions
	}

	opts := m.sessionOptions()
	if m.deps.fetchSamples != nil {
		// Samples of a recently closed session may still be buffered.
		if err := m.flushJournal(); err != nil {
			return nil, fmt.Errorf("unable restore session %s: %w", id, err)
		}
		restored, err := m.deps.fetchSamples(id, nil)
		if err != nil {
			return nil, fmt.Errorf("unable restore session %s: %w", id, err)
		}
		if len(restored) > 0 {
			logging.FromContext(ctx).Infof("restored %d samples of session %s", len(restored), id)
			opts = append(opts, WithSamples(restored...))
		}
	}

	s, err := New(ctx, id, m.provide, opts...)
	if err != nil {
		return nil, fmt.Errorf("can not create session: %w", err)
	}
	m.sessions[id] = s
	metrics.RecordSessions(ctx, len(m.sessions))
	return s, nil
}

func (m *manager) Get(id string) (*Session, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

func (m *manager) Close(ctx context.Context, id string) error {
	m.mtx.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mtx.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mtx.Unlock()

	s.Close()
	if err := m.flushJournal(); err != nil {
		logging.FromContext(ctx).Errorf("session %s closed with unsaved samples: %v", id, err)
	}
	metrics.RecordSessions(ctx, n)
	return nil
}

// flushJournal writes the buffered samples of every session.
func (m *manager) flushJournal() error {
	if m.writer == nil {
		return nil
	}
	return m.writer.flush()
}

func (m *manager) Len() int {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return len(m.sessions)
}

func (m *manager) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	// The flusher outlives the sessions so their last samples are written.
	flushCtx, stopFlush := context.WithCancel(logging.WithLogger(context.Background(), logging.FromContext(ctx)))
	flushErr := make(chan error, 1)
	if m.writer != nil {
		go m.writer.flusher(flushCtx, flushErr)
	} else {
		flushErr <- nil
	}
	if m.retention != nil {
		go m.retention.schedule(ctx)
	}

	go func() {
		m.evictor(ctx)
		m.closeAll(ctx)
		stopFlush()
		err := <-flushErr
		if m.shutdownCh != nil {
			m.shutdownCh <- err
		}
	}()
	return nil
}

func (m *manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

const minEvictInterval = time.Second

func (m *manager) evictor(ctx context.Context) {
	if m.cfg.IdleTimeout <= 0 {
		<-ctx.Done()
		return
	}
	interval := m.cfg.IdleTimeout / 2
	if interval < minEvictInterval {
		interval = minEvictInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.evictIdle(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *manager) evictIdle(ctx context.Context) {
	now := m.clock()
	var idle []*Session
	m.mtx.Lock()
	for id, s := range m.sessions {
		if now.Sub(s.LastActive()) > m.cfg.IdleTimeout {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	n := len(m.sessions)
	m.mtx.Unlock()

	for _, s := range idle {
		s.Close()
		logging.FromContext(ctx).Infof("session %s closed after idle timeout", s.ID())
	}
	if len(idle) > 0 {
		if err := m.flushJournal(); err != nil {
			logging.FromContext(ctx).Errorf("journal flush after eviction: %v", err)
		}
		metrics.RecordSessions(ctx, n)
	}
}

func (m *manager) closeAll(ctx context.Context) {
	m.mtx.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = map[string]*Session{}
	m.mtx.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	metrics.RecordSessions(ctx, 0)
}
