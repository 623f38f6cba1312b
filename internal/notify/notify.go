// Package notify forwards frame feedback to the presentation layer: every
// message is published on redis right away, and batches are posted to
// webhook targets on an interval.
package notify

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/go-sod/posture/internal/httputil"
	"github.com/go-sod/posture/internal/logging"
	"github.com/go-sod/posture/internal/session"
	"github.com/go-sod/posture/pkg/iqueue"
	"github.com/go-sod/posture/pkg/rworker"
)

type ProvideFn = func(chan<- error) (Manager, error)

const UserAgent = "posture/0.1"

type Notifier interface {
	Notify(ctx context.Context, fb session.Feedback)
}

type Manager interface {
	Notifier
	Run(context.Context) error
	Stop()
}

// function publishing one message on a pub/sub channel
type publishFn func(ctx context.Context, channel string, message []byte) error

type Options struct {
	maxConcurrentRequest int
	requestTimeout       time.Duration
	interval             time.Duration
	onlyBad              bool
	maxPending           int
	channel              string
	targets              Targets
	publish              publishFn
}

type Option func(*manager)

func WithMaxConcurrentRequest(n int) Option {
	return func(m *manager) {
		m.opts.maxConcurrentRequest = n
	}
}

func WithRequestTimeout(t time.Duration) Option {
	return func(m *manager) {
		m.opts.requestTimeout = t
	}
}

func WithInterval(t time.Duration) Option {
	return func(m *manager) {
		m.opts.interval = t
	}
}

func WithOnlyBad(b bool) Option {
	return func(m *manager) {
		m.opts.onlyBad = b
	}
}

func WithMaxPending(n int) Option {
	return func(m *manager) {
		m.opts.maxPending = n
	}
}

func WithTargets(ts Targets) Option {
	return func(m *manager) {
		m.opts.targets = ts
	}
}

// WithRedis publishes every feedback on channel:<session> through client.
func WithRedis(client *redis.Client, channel string) Option {
	return func(m *manager) {
		m.redis = client
		m.opts.channel = channel
		m.opts.publish = func(ctx context.Context, ch string, message []byte) error {
			return client.Publish(ctx, ch, message).Err()
		}
	}
}

func withPublishFn(channel string, fn publishFn) Option {
	return func(m *manager) {
		m.opts.channel = channel
		m.opts.publish = fn
	}
}

var defaultOptions = Options{
	maxConcurrentRequest: 16,
	requestTimeout:       10 * time.Second,
	interval:             5 * time.Second,
	maxPending:           10000,
}

func New(shutdownCh chan<- error, opts ...Option) (*manager, error) {
	m := &manager{
		opts:       defaultOptions,
		shutdownCh: shutdownCh,
		queue:      iqueue.New(),
		pending:    map[string][]session.Feedback{},
	}
	for _, f := range opts {
		f(m)
	}
	if m.opts.maxConcurrentRequest < 1 {
		return nil, fmt.Errorf("max concurrent request must be positive, got %d", m.opts.maxConcurrentRequest)
	}
	for _, target := range m.opts.targets {
		if _, err := url.Parse(target.URL); err != nil {
			return nil, fmt.Errorf("invalid target url %q: %w", target.URL, err)
		}
		client, err := httputil.NewClientFromConfig(target.HTTPConfig, true, m.opts.requestTimeout)
		if err != nil {
			return nil, fmt.Errorf("unable create client for target %s: %w", target.URL, err)
		}
		m.clients = append(m.clients, client)
	}
	return m, nil
}

type manager struct {
	mtx        sync.Mutex
	opts       Options
	redis      *redis.Client
	clients    []*http.Client
	shutdownCh chan<- error

	queue   *iqueue.Queue
	closed  bool
	started bool
	// webhook batches per session, touched by the run goroutine only
	pending  map[string][]session.Feedback
	nPending int
	cancel   func()
}

func (m *manager) Run(ctx context.Context) error {
	logger := logging.FromContext(ctx)
	if m.redis != nil {
		if err := m.redis.Ping(ctx).Err(); err != nil {
			logger.Warnf("redis is not reachable, feedback publishing will retry per message: %v", err)
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mtx.Lock()
	m.started = true
	m.mtx.Unlock()
	go m.queue.Loop()
	go m.run(ctx)
	return nil
}

func (m *manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

// Notify queues fb without blocking on the sinks. Feedback arriving after
// Stop is dropped.
func (m *manager) Notify(_ context.Context, fb session.Feedback) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if m.closed || !m.started {
		return
	}
	m.queue.Send(fb)
}

func (m *manager) closeQueue() {
	m.mtx.Lock()
	if !m.closed {
		m.closed = true
		m.queue.Close()
	}
	m.mtx.Unlock()
}

func (m *manager) run(ctx context.Context) {
	logger := logging.FromContext(ctx)
	interval := m.opts.interval
	if interval <= 0 {
		interval = defaultOptions.interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	done := ctx.Done()
	// Sinks are reached with a context that survives shutdown so queued
	// feedback is still delivered.
	sinkCtx := logging.WithLogger(context.Background(), logger)
	for {
		select {
		case v, ok := <-m.queue.Receive():
			if !ok {
				err := m.flush(sinkCtx)
				if m.redis != nil {
					if cerr := m.redis.Close(); cerr != nil && err == nil {
						err = fmt.Errorf("close redis client: %w", cerr)
					}
				}
				if m.shutdownCh != nil {
					m.shutdownCh <- err
				}
				return
			}
			m.handle(sinkCtx, v.(session.Feedback))
		case <-ticker.C:
			if err := m.flush(sinkCtx); err != nil {
				logger.Errorf("notify error: %v", err)
			}
		case <-done:
			done = nil
			m.closeQueue()
		}
	}
}

func (m *manager) handle(ctx context.Context, fb session.Feedback) {
	if m.opts.publish != nil {
		if err := m.publish(ctx, fb); err != nil {
			logging.FromContext(ctx).Errorf("unable publish feedback of session %s: %v", fb.SessionID, err)
		}
	}
	if len(m.clients) == 0 || (m.opts.onlyBad && fb.Good) {
		return
	}
	if m.opts.maxPending > 0 && m.nPending >= m.opts.maxPending {
		logging.FromContext(ctx).Warnf("webhook backlog full, dropping feedback of session %s", fb.SessionID)
		return
	}
	m.pending[fb.SessionID] = append(m.pending[fb.SessionID], fb)
	m.nPending++
}

func (m *manager) publish(ctx context.Context, fb session.Feedback) error {
	ctx, cancel := context.WithTimeout(ctx, m.opts.requestTimeout)
	defer cancel()
	b, err := json.Marshal(fb)
	if err != nil {
		return fmt.Errorf("unable encode feedback: %w", err)
	}
	return m.opts.publish(ctx, m.opts.channel+":"+fb.SessionID, b)
}

type request struct {
	SessionID string             `json:"session"`
	Data      []session.Feedback `json:"data"`
}

// flush posts every pending batch to every target and clears the backlog.
// Failed deliveries are reported and not retried.
func (m *manager) flush(ctx context.Context) error {
	if len(m.pending) == 0 {
		return nil
	}
	batches := m.pending
	m.pending = map[string][]session.Feedback{}
	m.nPending = 0

	wg := sync.WaitGroup{}
	rateCh := make(chan struct{}, m.opts.maxConcurrentRequest)
	errCh := make(chan error, len(batches)*len(m.clients))
	for id, data := range batches {
		req := request{SessionID: id, Data: data}
		for i := range m.clients {
			target, client := m.opts.targets[i], m.clients[i]
			rworker.Job(ctx, &wg, func() error {
				if err := m.do(ctx, client, target, req); err != nil {
					return fmt.Errorf("webhook %s, session %s: %w", target.URL, req.SessionID, err)
				}
				return nil
			}, rateCh, errCh)
		}
	}
	wg.Wait()
	close(errCh)

	var first error
	failed := 0
	for err := range errCh {
		if first == nil {
			first = err
		}
		failed++
	}
	if first != nil {
		return fmt.Errorf("%d webhook deliveries failed, first: %w", failed, first)
	}
	return nil
}

func (m *manager) do(ctx context.Context, client *http.Client, target Target, r request) error {
	ctx, cancel := context.WithTimeout(ctx, m.opts.requestTimeout)
	defer cancel()
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("unable encode json data: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request error: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request error: %w", err)
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return fmt.Errorf("unable create gzip.NewReader: %w", err)
		}
		defer gz.Close()
		reader = gz
	}
	respBody, err := ioutil.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("response was not 2xx: %s: %s", resp.Status, respBody)
	}
	return nil
}
