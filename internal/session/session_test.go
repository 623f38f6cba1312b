package session

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-sod/posture/internal/classifier"
	"github.com/go-sod/posture/internal/geom"
	"github.com/go-sod/posture/internal/landmark"
	"github.com/go-sod/posture/internal/posture"
	"github.com/go-sod/posture/internal/sample"
)

type fakeClassifier struct {
	mtx      sync.Mutex
	label    string
	err      error
	addErrAt int
	labels   map[string]int
	added    int
	calls    *int64
}

func (f *fakeClassifier) AddExample(_ context.Context, _ geom.Point, label string) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.added++
	if f.addErrAt > 0 && f.added == f.addErrAt {
		return errors.New("add failed")
	}
	if f.labels == nil {
		f.labels = map[string]int{}
	}
	f.labels[label]++
	return nil
}

func (f *fakeClassifier) Classify(context.Context, geom.Point) (*classifier.Prediction, error) {
	atomic.AddInt64(f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	return &classifier.Prediction{Label: f.label, Confidence: 1}, nil
}

func (f *fakeClassifier) NumLabels() int {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return len(f.labels)
}

func (f *fakeClassifier) NumExamples() int {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	n := 0
	for _, c := range f.labels {
		n += c
	}
	return n
}

// fakeProvider hands out fresh fake classifiers built from its settings.
type fakeProvider struct {
	label    string
	err      error
	addErrAt int
	initErr  error
	calls    int64
}

func (p *fakeProvider) provide() (classifier.Classifier, error) {
	if p.initErr != nil {
		return nil, p.initErr
	}
	return &fakeClassifier{label: p.label, err: p.err, addErrAt: p.addErrAt, calls: &p.calls}, nil
}

// frame builds a set whose shoulder to hip offset produces the given angle.
func frame(t *testing.T, angle float64) landmark.Set {
	t.Helper()
	triples := make([][3]float64, landmark.Count)
	for i := range triples {
		triples[i] = [3]float64{0.5, 0.5, 0}
	}
	dy := math.Tan(angle * math.Pi / 180)
	triples[landmark.LeftShoulder][1] = 0.2
	triples[landmark.RightShoulder][1] = 0.2
	triples[landmark.LeftHip][1] = 0.2 + dy
	triples[landmark.RightHip][1] = 0.2 + dy
	set, err := landmark.NewSet(triples)
	if err != nil {
		t.Fatal(err)
	}
	return set
}

func newSession(t *testing.T, provide classifier.ProvideFn, opts ...Option) *Session {
	t.Helper()
	s, err := New(context.Background(), "test-session", provide, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func saveN(t *testing.T, s *Session, label string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := s.SaveSample(context.Background(), label, frame(t, 10)); err != nil {
			t.Fatalf("SaveSample: %v", err)
		}
	}
}

func TestNew_Options(t *testing.T) {
	tests := []struct {
		name    string
		opts    []Option
		wantErr bool
		err     error
	}{
		{name: "defaults"},
		{name: "sensitivity_low", opts: []Option{WithSensitivity(10)}, wantErr: true, err: posture.ErrSensitivityRange},
		{name: "sensitivity_high", opts: []Option{WithSensitivity(51)}, wantErr: true, err: posture.ErrSensitivityRange},
		{name: "min_samples_zero", opts: []Option{WithMinSamples(0)}, wantErr: true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s, err := New(context.Background(), "id", nil, test.opts...)
			if s != nil {
				defer s.Close()
			}
			if (err != nil) != test.wantErr {
				t.Fatalf("New, err got: %v, expected error: %v", err, test.wantErr)
			}
			if test.err != nil && !errors.Is(err, test.err) {
				t.Errorf("New, err got: %v, expected: %v", err, test.err)
			}
		})
	}
}

func TestSession_AnalyzeFrame(t *testing.T) {
	tests := []struct {
		name        string
		provider    *fakeProvider
		train       bool
		autoCapture bool
		angle       float64
		source      Source
		label       string
		good        bool
		captured    bool
	}{
		{
			name:        "heuristic_good_captured",
			provider:    &fakeProvider{label: posture.LabelBad},
			autoCapture: true,
			angle:       15,
			source:      SourceHeuristic,
			label:       posture.LabelGood,
			good:        true,
			captured:    true,
		},
		{
			name:        "heuristic_bad_captured",
			provider:    &fakeProvider{label: posture.LabelGood},
			autoCapture: true,
			angle:       30,
			source:      SourceHeuristic,
			label:       posture.LabelBad,
			captured:    true,
		},
		{
			name:     "heuristic_without_capture",
			provider: &fakeProvider{},
			angle:    15,
			source:   SourceHeuristic,
			label:    posture.LabelGood,
			good:     true,
		},
		{
			name:        "classifier_unavailable",
			provider:    &fakeProvider{initErr: errors.New("no backend")},
			autoCapture: true,
			angle:       30,
			source:      SourceHeuristic,
			label:       posture.LabelBad,
			captured:    true,
		},
		{
			name:        "classifier_trained",
			provider:    &fakeProvider{label: posture.LabelBad},
			train:       true,
			autoCapture: true,
			angle:       5,
			source:      SourceClassifier,
			label:       posture.LabelBad,
		},
		{
			name:        "classifier_error_falls_back",
			provider:    &fakeProvider{label: posture.LabelBad, err: errors.New("backend down")},
			train:       true,
			autoCapture: true,
			angle:       5,
			source:      SourceHeuristic,
			label:       posture.LabelGood,
			good:        true,
			captured:    true,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s := newSession(t, test.provider.provide, WithAutoCapture(test.autoCapture), WithMinSamples(2))
			ctx := context.Background()
			if test.train {
				saveN(t, s, posture.LabelGood, 2)
				if _, err := s.Train(ctx); err != nil {
					t.Fatalf("Train: %v", err)
				}
			}
			before, err := s.Stats(ctx)
			if err != nil {
				t.Fatal(err)
			}

			fb, err := s.AnalyzeFrame(ctx, frame(t, test.angle))
			if err != nil {
				t.Fatalf("AnalyzeFrame: %v", err)
			}
			if fb.Source != test.source || fb.Label != test.label || fb.Good != test.good || fb.Captured != test.captured {
				t.Errorf("AnalyzeFrame, got: %+v, expected source %s label %s good %v captured %v",
					fb, test.source, test.label, test.good, test.captured)
			}
			if math.Abs(fb.Angle-test.angle) > 1e-6 {
				t.Errorf("AnalyzeFrame angle, got: %v, expected: %v", fb.Angle, test.angle)
			}

			after, err := s.Stats(ctx)
			if err != nil {
				t.Fatal(err)
			}
			grown := after.Samples - before.Samples
			if (grown == 1) != test.captured {
				t.Errorf("store grew by %d, captured %v", grown, test.captured)
			}
			if test.captured && after.Labels[test.label] != before.Labels[test.label]+1 {
				t.Errorf("captured label count, got: %v", after.Labels)
			}
		})
	}
}

func TestSession_AnalyzeFrame_InvalidSet(t *testing.T) {
	s := newSession(t, nil)
	_, err := s.AnalyzeFrame(context.Background(), landmark.Set{{X: 1}})
	if !errors.Is(err, landmark.ErrLandmarkCount) {
		t.Errorf("AnalyzeFrame, err got: %v, expected: %v", err, landmark.ErrLandmarkCount)
	}
}

func TestSession_Feedback(t *testing.T) {
	var got []Feedback
	var mtx sync.Mutex
	s := newSession(t, nil, WithFeedback(func(_ context.Context, fb Feedback) {
		mtx.Lock()
		got = append(got, fb)
		mtx.Unlock()
	}))
	if _, err := s.AnalyzeFrame(context.Background(), frame(t, 40)); err != nil {
		t.Fatal(err)
	}
	mtx.Lock()
	defer mtx.Unlock()
	if len(got) != 1 || got[0].SessionID != "test-session" || got[0].Good {
		t.Errorf("published feedback, got: %+v", got)
	}
}

func TestSession_Train(t *testing.T) {
	tests := []struct {
		name     string
		provider classifier.ProvideFn
		samples  int
		examples int
		err      error
	}{
		{name: "enough_samples", provider: (&fakeProvider{}).provide, samples: 25, examples: 25},
		{name: "exact_minimum", provider: (&fakeProvider{}).provide, samples: 20, examples: 20},
		{name: "not_enough_samples", provider: (&fakeProvider{}).provide, samples: 10, err: ErrNotEnoughData},
		{name: "no_provider", provider: nil, samples: 25, err: ErrClassifierUnavailable},
		{
			name:     "provider_failure",
			provider: (&fakeProvider{initErr: errors.New("load failed")}).provide,
			samples:  25,
			err:      ErrClassifierUnavailable,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s := newSession(t, test.provider, WithAutoCapture(false))
			saveN(t, s, posture.LabelGood, test.samples/2)
			saveN(t, s, posture.LabelBad, test.samples-test.samples/2)

			res, err := s.Train(context.Background())
			if !errors.Is(err, test.err) {
				t.Fatalf("Train, err got: %v, expected: %v", err, test.err)
			}
			if err != nil {
				return
			}
			if res.Examples != test.examples || res.Labels != 2 {
				t.Errorf("Train, got: %+v, expected %d examples 2 labels", res, test.examples)
			}
		})
	}
}

func TestSession_Train_FailureKeepsPrevious(t *testing.T) {
	provider := &fakeProvider{label: posture.LabelGood}
	s := newSession(t, provider.provide, WithAutoCapture(false))
	ctx := context.Background()
	saveN(t, s, posture.LabelGood, 20)
	if _, err := s.Train(ctx); err != nil {
		t.Fatal(err)
	}

	provider.addErrAt = 3
	saveN(t, s, posture.LabelBad, 5)
	if _, err := s.Train(ctx); err == nil {
		t.Fatal("expected Train to fail")
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Examples != 20 || !st.Trained {
		t.Errorf("previous classifier replaced, stats: %+v", st)
	}
}

func TestSession_EvaluateAccuracy(t *testing.T) {
	tests := []struct {
		name     string
		good     int
		bad      int
		train    bool
		accuracy float64
		total    int
		err      error
	}{
		{name: "not_enough_data", good: 10, err: ErrNotEnoughData},
		{name: "not_trained", good: 25, err: ErrNotTrained},
		{name: "all_correct", good: 25, train: true, accuracy: 100, total: 5},
		{name: "partial", good: 22, bad: 3, train: true, accuracy: 40, total: 5},
		{name: "floor_test_size", good: 29, train: true, accuracy: 100, total: 5},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			provider := &fakeProvider{label: posture.LabelGood}
			s := newSession(t, provider.provide, WithAutoCapture(false))
			ctx := context.Background()
			saveN(t, s, posture.LabelGood, test.good)
			saveN(t, s, posture.LabelBad, test.bad)
			if test.train {
				if _, err := s.Train(ctx); err != nil {
					t.Fatal(err)
				}
			}

			res, err := s.EvaluateAccuracy(ctx)
			if !errors.Is(err, test.err) {
				t.Fatalf("EvaluateAccuracy, err got: %v, expected: %v", err, test.err)
			}
			if err != nil {
				if n := atomic.LoadInt64(&provider.calls); n != 0 {
					t.Errorf("classify called %d times on failure", n)
				}
				return
			}
			if math.Abs(res.Accuracy-test.accuracy) > 1e-9 || res.Total != test.total {
				t.Errorf("EvaluateAccuracy, got: %+v, expected %.1f%% of %d", res, test.accuracy, test.total)
			}
			if n := atomic.LoadInt64(&provider.calls); int(n) != test.total {
				t.Errorf("classify calls, got: %d, expected: %d", n, test.total)
			}
		})
	}
}

func TestSession_Export(t *testing.T) {
	now := time.Date(2024, 3, 9, 23, 30, 0, 0, time.UTC)
	var archived []string
	s := newSession(t, nil,
		WithAutoCapture(false),
		WithClock(func() time.Time { return now }),
		WithArchiver(func(_ context.Context, id string, doc *sample.Document, _ time.Time) error {
			archived = append(archived, id+"/"+doc.Name)
			return errors.New("archive failure is only logged")
		}),
	)
	ctx := context.Background()

	if _, err := s.Export(ctx); !errors.Is(err, ErrNoData) {
		t.Fatalf("Export on empty store, err got: %v, expected: %v", err, ErrNoData)
	}

	saveN(t, s, posture.LabelGood, 2)
	saveN(t, s, "leaning_left", 1)
	doc, err := s.Export(ctx)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if doc.Name != "posture_data_2024-03-09.json" {
		t.Errorf("Export name, got: %s", doc.Name)
	}
	records, err := sample.Decode(doc.Body)
	if err != nil {
		t.Fatal(err)
	}
	labels := []string{posture.LabelGood, posture.LabelGood, "leaning_left"}
	if len(records) != len(labels) {
		t.Fatalf("exported records, got: %d, expected: %d", len(records), len(labels))
	}
	for i := range labels {
		if records[i].Label != labels[i] || len(records[i].Pose) != landmark.Count {
			t.Errorf("record %d, got: %s with %d points", i, records[i].Label, len(records[i].Pose))
		}
	}
	if len(archived) != 1 || archived[0] != "test-session/posture_data_2024-03-09.json" {
		t.Errorf("archived, got: %v", archived)
	}
}

func TestSession_SaveSample_Label(t *testing.T) {
	tests := []struct {
		name  string
		label string
		err   error
	}{
		{name: "builtin", label: posture.LabelBad},
		{name: "custom", label: "  slouching  "},
		{name: "empty", label: "   ", err: ErrInvalidLabel},
		{name: "too_long", label: string(make([]byte, maxLabelLen+1)), err: ErrInvalidLabel},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s := newSession(t, nil)
			smp, err := s.SaveSample(context.Background(), test.label, frame(t, 10))
			if !errors.Is(err, test.err) {
				t.Fatalf("SaveSample, err got: %v, expected: %v", err, test.err)
			}
			if err == nil && (smp.Label == "" || smp.Vector.Dimensions() != landmark.Count*3) {
				t.Errorf("SaveSample, got: %+v", smp)
			}
		})
	}
}

func TestSession_SetSensitivity(t *testing.T) {
	s := newSession(t, nil, WithAutoCapture(false))
	ctx := context.Background()

	if _, err := s.SetSensitivity(ctx, 10); !errors.Is(err, posture.ErrSensitivityRange) {
		t.Fatalf("SetSensitivity, err got: %v, expected: %v", err, posture.ErrSensitivityRange)
	}
	if got, _ := s.Sensitivity(ctx); got != posture.DefaultSensitivity {
		t.Errorf("Sensitivity after rejected update, got: %v", got)
	}

	fb, err := s.AnalyzeFrame(ctx, frame(t, 30))
	if err != nil || fb.Good {
		t.Fatalf("30 degrees at default sensitivity, got: %+v %v", fb, err)
	}
	if _, err := s.SetSensitivity(ctx, 35); err != nil {
		t.Fatal(err)
	}
	fb, err = s.AnalyzeFrame(ctx, frame(t, 30))
	if err != nil || !fb.Good || fb.Threshold != 35 {
		t.Errorf("30 degrees at sensitivity 35, got: %+v %v", fb, err)
	}
}

func TestSession_Close(t *testing.T) {
	s, err := New(context.Background(), "closing", nil)
	if err != nil {
		t.Fatal(err)
	}
	s.Close()
	s.Close()
	if _, err := s.AnalyzeFrame(context.Background(), frame(t, 10)); !errors.Is(err, ErrClosed) {
		t.Errorf("AnalyzeFrame after Close, err got: %v, expected: %v", err, ErrClosed)
	}
}

func TestSession_SingleWriter(t *testing.T) {
	s := newSession(t, nil, WithAutoCapture(true))
	ctx := context.Background()
	set := frame(t, 10)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := s.AnalyzeFrame(ctx, set); err != nil {
				t.Error(err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := s.SaveSample(ctx, "manual", set); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Samples != 100 || st.Labels["manual"] != 50 || st.Labels[posture.LabelGood] != 50 {
		t.Errorf("concurrent frames and labels, stats: %+v", st)
	}
}
