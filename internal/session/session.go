// Package session runs the per-user posture monitoring loop: frames and user
// actions of one session are applied one at a time by a single goroutine.
package session

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/davecgh/go-spew/spew"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/go-sod/posture/internal/classifier"
	"github.com/go-sod/posture/internal/classifier/heuristic"
	"github.com/go-sod/posture/internal/landmark"
	"github.com/go-sod/posture/internal/logging"
	"github.com/go-sod/posture/internal/metrics"
	"github.com/go-sod/posture/internal/posture"
	"github.com/go-sod/posture/internal/sample"
	"github.com/go-sod/posture/pkg/iqueue"
)

// Share of the store, taken from its end, used as the accuracy test set.
const testFraction = 0.2

const maxLabelLen = 64

type Source string

const (
	SourceClassifier Source = "classifier"
	SourceHeuristic  Source = "heuristic"
)

// Feedback is the answer to one analyzed frame.
type Feedback struct {
	SessionID  string    `json:"session"`
	Angle      float64   `json:"angle"`
	Threshold  float64   `json:"threshold"`
	Good       bool      `json:"good"`
	Label      string    `json:"label"`
	Source     Source    `json:"source"`
	Confidence float64   `json:"confidence,omitempty"`
	Captured   bool      `json:"captured"`
	Samples    int       `json:"samples"`
	CreatedAt  time.Time `json:"createdAt"`
}

type TrainResult struct {
	Examples int `json:"examples"`
	Labels   int `json:"labels"`
}

type AccuracyResult struct {
	Accuracy float64 `json:"accuracy"`
	Correct  int     `json:"correct"`
	Total    int     `json:"total"`
}

type Stats struct {
	SessionID       string         `json:"session"`
	Samples         int            `json:"samples"`
	Labels          map[string]int `json:"labels"`
	Sensitivity     float64        `json:"sensitivity"`
	ClassifierReady bool           `json:"classifierReady"`
	Trained         bool           `json:"trained"`
	Examples        int            `json:"examples"`
	ClassifierError string         `json:"classifierError,omitempty"`
}

// Dependencies reached by a session.
type (
	// receives every captured sample, e.g. the journal
	recordFn func(ctx context.Context, sessionID string, s sample.Sample)
	// keeps a copy of an export document
	archiveFn func(ctx context.Context, sessionID string, doc *sample.Document, createdAt time.Time) error
	// publishes frame feedback to the presentation layer
	feedbackFn func(ctx context.Context, fb Feedback)
)

type Options struct {
	minSamples  int
	autoCapture bool
	sensitivity float64
	clock       func() time.Time
	record      recordFn
	archive     archiveFn
	feedback    feedbackFn
	restore     []sample.Sample
}

type Option func(*Session)

func WithMinSamples(n int) Option {
	return func(s *Session) {
		s.opts.minSamples = n
	}
}

func WithAutoCapture(b bool) Option {
	return func(s *Session) {
		s.opts.autoCapture = b
	}
}

func WithSensitivity(degrees float64) Option {
	return func(s *Session) {
		s.opts.sensitivity = degrees
	}
}

func WithClock(fn func() time.Time) Option {
	return func(s *Session) {
		s.opts.clock = fn
	}
}

func WithRecorder(fn recordFn) Option {
	return func(s *Session) {
		s.opts.record = fn
	}
}

func WithArchiver(fn archiveFn) Option {
	return func(s *Session) {
		s.opts.archive = fn
	}
}

func WithFeedback(fn feedbackFn) Option {
	return func(s *Session) {
		s.opts.feedback = fn
	}
}

// WithSamples preloads the store, e.g. from the journal.
func WithSamples(samples ...sample.Sample) Option {
	return func(s *Session) {
		s.opts.restore = append(s.opts.restore, samples...)
	}
}

var defaultOptions = Options{
	minSamples:  20,
	autoCapture: true,
	sensitivity: posture.DefaultSensitivity,
	clock:       time.Now,
}

// Session owns the state of one monitoring session. Every exported method
// is executed by the session goroutine in arrival order.
type Session struct {
	id     string
	opts   Options
	logger *zap.SugaredLogger

	// Touched only by the session goroutine
	store       *sample.Store
	sensitivity float64
	provide     classifier.ProvideFn
	initErr     error
	fallback    classifier.Classifier

	holder *classifier.Holder

	mtx        sync.RWMutex
	closed     bool
	mailbox    *iqueue.Queue
	done       chan struct{}
	lastActive int64
}

// New creates a session and starts its goroutine. A nil provider or a failing
// one leaves the session running on the threshold rule only.
func New(ctx context.Context, id string, provide classifier.ProvideFn, opts ...Option) (*Session, error) {
	s := &Session{
		id:      id,
		opts:    defaultOptions,
		logger:  logging.FromContext(ctx).With("session", id),
		store:   sample.NewStore(),
		provide: provide,
		holder:  classifier.NewHolder(nil),
		mailbox: iqueue.New(),
		done:    make(chan struct{}),
	}
	for _, f := range opts {
		f(s)
	}
	if s.opts.minSamples < 1 {
		return nil, fmt.Errorf("minimum samples must be positive, got %d", s.opts.minSamples)
	}
	if err := posture.ValidateSensitivity(s.opts.sensitivity); err != nil {
		return nil, fmt.Errorf("initial sensitivity: %w", err)
	}
	if s.opts.clock == nil {
		s.opts.clock = time.Now
	}
	s.sensitivity = s.opts.sensitivity
	s.fallback = heuristic.New(func() float64 { return s.sensitivity })
	s.store.Append(s.opts.restore...)
	s.opts.restore = nil

	if provide == nil {
		s.initErr = ErrClassifierUnavailable
	} else if c, err := provide(); err != nil {
		s.initErr = fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
	} else {
		s.holder.Replace(c)
	}
	if s.initErr != nil {
		s.logger.Errorf("classifier initialization failed, using threshold rule only: %v", s.initErr)
	}

	s.touch()
	go s.mailbox.Loop()
	go s.loop()
	return s, nil
}

func (s *Session) ID() string {
	return s.id
}

// LastActive is the time of the last call into the session.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, atomic.LoadInt64(&s.lastActive))
}

func (s *Session) touch() {
	atomic.StoreInt64(&s.lastActive, s.opts.clock().UnixNano())
}

type result struct {
	value interface{}
	err   error
}

type command struct {
	ctx   context.Context
	fn    func(context.Context) (interface{}, error)
	reply chan result
}

func (s *Session) loop() {
	defer close(s.done)
	for v := range s.mailbox.Receive() {
		cmd := v.(command)
		if err := cmd.ctx.Err(); err != nil {
			cmd.reply <- result{err: err}
			continue
		}
		value, err := cmd.fn(cmd.ctx)
		cmd.reply <- result{value: value, err: err}
	}
}

func (s *Session) do(ctx context.Context, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	s.mtx.RLock()
	if s.closed {
		s.mtx.RUnlock()
		return nil, ErrClosed
	}
	cmd := command{ctx: ctx, fn: fn, reply: make(chan result, 1)}
	s.mailbox.Send(cmd)
	s.mtx.RUnlock()
	s.touch()

	select {
	case r := <-cmd.reply:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the session after the queued commands are applied.
func (s *Session) Close() {
	s.mtx.Lock()
	if s.closed {
		s.mtx.Unlock()
		<-s.done
		return
	}
	s.closed = true
	s.mailbox.Close()
	s.mtx.Unlock()
	<-s.done
}

// AnalyzeFrame produces feedback for one frame. The trained classifier is
// used when it holds labels; otherwise, or when it fails, the threshold rule
// decides and, with auto capture on, the frame is stored under the rule's
// label. Errors are returned only for invalid input or a closed session.
func (s *Session) AnalyzeFrame(ctx context.Context, set landmark.Set) (*Feedback, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}
	v, err := s.do(ctx, func(ctx context.Context) (interface{}, error) {
		return s.analyze(ctx, set), nil
	})
	if err != nil {
		return nil, err
	}
	fb := v.(*Feedback)
	if s.opts.feedback != nil {
		s.opts.feedback(ctx, *fb)
	}
	return fb, nil
}

func (s *Session) analyze(ctx context.Context, set landmark.Set) *Feedback {
	vec := set.Flatten()
	verdict := posture.Evaluate(set, s.sensitivity)
	fb := &Feedback{
		SessionID: s.id,
		Angle:     verdict.Angle,
		Threshold: verdict.Threshold,
		CreatedAt: s.opts.clock(),
	}

	if c := s.holder.Current(); c != nil && c.NumLabels() > 0 {
		p, err := c.Classify(ctx, vec)
		if err == nil {
			fb.Source = SourceClassifier
			fb.Label = p.Label
			fb.Confidence = p.Confidence
			fb.Good = p.Label == posture.LabelGood
			fb.Samples = s.store.Len()
			metrics.RecordFrame(ctx, string(fb.Source))
			return fb
		}
		s.logger.Warnf("classification failed, falling back to threshold rule: %v", err)
		s.logger.Debugf("frame landmarks: %s", spew.Sdump(set))
		metrics.RecordFallback(ctx, "error")
	} else if s.initErr != nil {
		metrics.RecordFallback(ctx, "unavailable")
	} else {
		metrics.RecordFallback(ctx, "untrained")
	}

	fb.Source = SourceHeuristic
	fb.Label = verdict.Label()
	if p, err := s.fallback.Classify(ctx, vec); err == nil {
		fb.Label = p.Label
	}
	fb.Good = fb.Label == posture.LabelGood
	if s.opts.autoCapture {
		s.capture(ctx, fb.Label, set)
		fb.Captured = true
	}
	fb.Samples = s.store.Len()
	metrics.RecordFrame(ctx, string(fb.Source))
	return fb
}

func (s *Session) capture(ctx context.Context, label string, set landmark.Set) sample.Sample {
	smp := sample.New(label, set.Flatten(), s.opts.clock())
	s.store.Append(smp)
	if s.opts.record != nil {
		s.opts.record(ctx, s.id, smp)
	}
	metrics.RecordCapture(ctx, label)
	return smp
}

// SaveSample stores the frame under an explicit, possibly user-defined, label.
func (s *Session) SaveSample(ctx context.Context, label string, set landmark.Set) (*sample.Sample, error) {
	label = strings.TrimSpace(label)
	if label == "" || len(label) > maxLabelLen {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	v, err := s.do(ctx, func(ctx context.Context) (interface{}, error) {
		smp := s.capture(ctx, label, set)
		return &smp, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*sample.Sample), nil
}

// Train rebuilds the classifier from every stored sample in store order and
// installs it only when all examples were added.
func (s *Session) Train(ctx context.Context) (*TrainResult, error) {
	v, err := s.do(ctx, func(ctx context.Context) (interface{}, error) {
		return s.train(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*TrainResult), nil
}

func (s *Session) train(ctx context.Context) (res *TrainResult, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordTrain(ctx, float64(time.Since(start))/float64(time.Millisecond), err)
	}()

	if s.initErr != nil {
		return nil, s.initErr
	}
	samples := s.store.All()
	if len(samples) < s.opts.minSamples {
		return nil, fmt.Errorf("%w: have %d samples, need %d", ErrNotEnoughData, len(samples), s.opts.minSamples)
	}

	fresh, err := s.provide()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
	}
	for i := range samples {
		if err := fresh.AddExample(ctx, samples[i].Vector, samples[i].Label); err != nil {
			return nil, fmt.Errorf("add example %d: %w", i, err)
		}
	}
	s.holder.Replace(fresh)

	s.logger.Infof("classifier trained on %d samples, %d labels", fresh.NumExamples(), fresh.NumLabels())
	return &TrainResult{Examples: fresh.NumExamples(), Labels: fresh.NumLabels()}, nil
}

// EvaluateAccuracy classifies the newest floor(n*0.2) samples with the current
// classifier and reports the share whose prediction matches their label.
// The test samples may have been part of the training set.
func (s *Session) EvaluateAccuracy(ctx context.Context) (*AccuracyResult, error) {
	v, err := s.do(ctx, func(ctx context.Context) (interface{}, error) {
		return s.accuracy(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*AccuracyResult), nil
}

func (s *Session) accuracy(ctx context.Context) (*AccuracyResult, error) {
	n := s.store.Len()
	if n < s.opts.minSamples {
		return nil, fmt.Errorf("%w: have %d samples, need %d", ErrNotEnoughData, n, s.opts.minSamples)
	}
	total := int(math.Floor(float64(n) * testFraction))
	if total == 0 {
		return nil, fmt.Errorf("%w: test set is empty", ErrNotEnoughData)
	}
	if s.initErr != nil {
		return nil, s.initErr
	}
	c := s.holder.Current()
	if c == nil || c.NumLabels() == 0 {
		return nil, ErrNotTrained
	}

	test := s.store.Tail(total)
	matches := make([]bool, len(test))
	g, gctx := errgroup.WithContext(ctx)
	for i := range test {
		i := i
		g.Go(func() error {
			p, err := c.Classify(gctx, test[i].Vector)
			if err != nil {
				return fmt.Errorf("classify sample %s: %w", test[i].ID, err)
			}
			matches[i] = p.Label == test[i].Label
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	correct := 0
	for _, ok := range matches {
		if ok {
			correct++
		}
	}
	res := &AccuracyResult{
		Accuracy: float64(correct) / float64(total) * 100,
		Correct:  correct,
		Total:    total,
	}
	metrics.RecordAccuracy(ctx, res.Accuracy)
	return res, nil
}

// Export renders every stored sample in insertion order.
func (s *Session) Export(ctx context.Context) (*sample.Document, error) {
	v, err := s.do(ctx, func(ctx context.Context) (interface{}, error) {
		if s.store.Len() == 0 {
			return nil, ErrNoData
		}
		now := s.opts.clock()
		doc, err := sample.Encode(s.store.All(), now)
		if err != nil {
			return nil, err
		}
		if s.opts.archive != nil {
			if err := s.opts.archive(ctx, s.id, doc, now); err != nil {
				s.logger.Errorf("unable archive export %s: %v", doc.Name, err)
			}
		}
		metrics.RecordExport(ctx)
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*sample.Document), nil
}

func (s *Session) SetSensitivity(ctx context.Context, degrees float64) (float64, error) {
	if err := posture.ValidateSensitivity(degrees); err != nil {
		return 0, err
	}
	v, err := s.do(ctx, func(context.Context) (interface{}, error) {
		s.sensitivity = degrees
		return s.sensitivity, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

func (s *Session) Stats(ctx context.Context) (*Stats, error) {
	v, err := s.do(ctx, func(context.Context) (interface{}, error) {
		st := &Stats{
			SessionID:       s.id,
			Samples:         s.store.Len(),
			Labels:          s.store.LabelCounts(),
			Sensitivity:     s.sensitivity,
			ClassifierReady: s.initErr == nil,
			Trained:         s.holder.Ready(),
		}
		if c := s.holder.Current(); c != nil {
			st.Examples = c.NumExamples()
		}
		if s.initErr != nil {
			st.ClassifierError = s.initErr.Error()
		}
		return st, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Stats), nil
}

func (s *Session) Sensitivity(ctx context.Context) (float64, error) {
	v, err := s.do(ctx, func(context.Context) (interface{}, error) {
		return s.sensitivity, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}
