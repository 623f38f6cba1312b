// Package classifier defines the capability set the session uses to label
// landmark vectors, and a holder that swaps trained instances atomically.
package classifier

import (
	"context"
	"errors"
	"sync"

	"github.com/go-sod/posture/internal/geom"
)

var ErrNoExamples = errors.New("classifier has no examples")

// ProvideFn returns a fresh, empty classifier.
type ProvideFn func() (Classifier, error)

// Classifier accumulates labeled examples and predicts the label of new vectors.
type Classifier interface {
	AddExample(ctx context.Context, vec geom.Point, label string) error
	Classify(ctx context.Context, vec geom.Point) (*Prediction, error)
	NumLabels() int
	NumExamples() int
}

// Prediction is the result of a classification.
type Prediction struct {
	Label       string             `json:"label"`
	Confidence  float64            `json:"confidence"`
	Confidences map[string]float64 `json:"confidences,omitempty"`
}

// Holder owns the classifier currently serving a session. Replace swaps in a
// fully built instance, so readers never observe a partially trained one.
type Holder struct {
	mtx     sync.RWMutex
	current Classifier
}

func NewHolder(c Classifier) *Holder {
	return &Holder{current: c}
}

// Current returns the serving classifier or nil when none is installed.
func (h *Holder) Current() Classifier {
	h.mtx.RLock()
	defer h.mtx.RUnlock()
	return h.current
}

// Replace installs c and returns the previous instance.
func (h *Holder) Replace(c Classifier) Classifier {
	h.mtx.Lock()
	prev := h.current
	h.current = c
	h.mtx.Unlock()
	return prev
}

// Ready reports whether a classifier is installed and holds at least one label.
func (h *Holder) Ready() bool {
	c := h.Current()
	return c != nil && c.NumLabels() > 0
}
