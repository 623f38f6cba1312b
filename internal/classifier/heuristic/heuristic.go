// Package heuristic exposes the posture threshold rule through the
// classifier capability set, so it can stand in wherever a trained
// classifier is expected.
package heuristic

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/go-sod/posture/internal/classifier"
	"github.com/go-sod/posture/internal/geom"
	"github.com/go-sod/posture/internal/landmark"
	"github.com/go-sod/posture/internal/posture"
)

var _ classifier.Classifier = (*Heuristic)(nil)

// ThresholdFn reports the sensitivity in degrees at call time.
type ThresholdFn func() float64

type Heuristic struct {
	threshold ThresholdFn
	examples  int64
}

func New(threshold ThresholdFn) *Heuristic {
	if threshold == nil {
		threshold = func() float64 { return posture.DefaultSensitivity }
	}
	return &Heuristic{threshold: threshold}
}

// AddExample only counts examples; the rule does not learn.
func (h *Heuristic) AddExample(ctx context.Context, _ geom.Point, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	atomic.AddInt64(&h.examples, 1)
	return nil
}

func (h *Heuristic) Classify(ctx context.Context, vec geom.Point) (*classifier.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if vec.Dimensions() != landmark.Count*3 {
		return nil, fmt.Errorf("heuristic classify: %d values: %w", vec.Dimensions(), landmark.ErrLandmarkCount)
	}
	set, err := landmark.NewSet(vec.Triples())
	if err != nil {
		return nil, fmt.Errorf("heuristic classify: %w", err)
	}
	v := posture.Evaluate(set, h.threshold())
	label := v.Label()
	other := posture.LabelBad
	if label == posture.LabelBad {
		other = posture.LabelGood
	}
	return &classifier.Prediction{
		Label:       label,
		Confidence:  1,
		Confidences: map[string]float64{label: 1, other: 0},
	}, nil
}

func (h *Heuristic) NumLabels() int {
	return 2
}

func (h *Heuristic) NumExamples() int {
	return int(atomic.LoadInt64(&h.examples))
}
