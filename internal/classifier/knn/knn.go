// Package knn classifies landmark vectors by majority vote of the k nearest
// stored examples.
package knn

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-sod/posture/internal/classifier"
	"github.com/go-sod/posture/internal/geom"
	"github.com/go-sod/posture/pkg/pqueue"
)

var _ classifier.Classifier = (*knn)(nil)

const MinKNum = 1

type Option func(*knn)

func WithKNum(k int) Option {
	return func(c *knn) {
		c.kNum = k
	}
}

func WithDistance(fn geom.DistanceFn) Option {
	return func(c *knn) {
		c.distFunc = fn
	}
}

type example struct {
	vec   geom.Point
	label string
}

type knn struct {
	mtx      sync.RWMutex
	kNum     int
	distFunc geom.DistanceFn
	examples []example
	labels   map[string]int
}

func New(opts ...Option) (*knn, error) {
	c := &knn{
		kNum:     3,
		distFunc: geom.EuclideanDistance,
		labels:   map[string]int{},
	}
	for _, f := range opts {
		f(c)
	}
	if c.kNum < MinKNum {
		return nil, fmt.Errorf("the k selected in the config is too small: %d", c.kNum)
	}
	if c.distFunc == nil {
		return nil, fmt.Errorf("distance function is not defined")
	}
	return c, nil
}

func (c *knn) AddExample(ctx context.Context, vec geom.Point, label string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if label == "" {
		return fmt.Errorf("example label is empty")
	}
	if vec.Dimensions() == 0 {
		return fmt.Errorf("example vector is empty")
	}
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if len(c.examples) > 0 && !c.examples[0].vec.SizeEqual(vec) {
		return fmt.Errorf("example has %d dimensions, expected %d: %w",
			vec.Dimensions(), c.examples[0].vec.Dimensions(), geom.ErrDimNotEqual)
	}
	c.examples = append(c.examples, example{vec: vec.Copy(), label: label})
	c.labels[label]++
	return nil
}

func (c *knn) NumLabels() int {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return len(c.labels)
}

func (c *knn) NumExamples() int {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return len(c.examples)
}

// Classify votes among the k nearest examples. Ties between labels go to the
// label of the nearest neighbour among them.
func (c *knn) Classify(ctx context.Context, vec geom.Point) (*classifier.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	if len(c.examples) == 0 {
		return nil, classifier.ErrNoExamples
	}

	pq := pqueue.New(pqueue.WithCap(uint(c.kNum)))
	for i := range c.examples {
		d, err := c.distFunc(vec, c.examples[i].vec)
		if err != nil {
			return nil, fmt.Errorf("unable to compute distance to example %d: %w", i, err)
		}
		pq.Push(c.examples[i].label, d)
	}

	neighbours := pq.PopAll()
	votes := map[string]int{}
	rank := map[string]int{}
	for i, n := range neighbours {
		label := n.(string)
		if _, ok := rank[label]; !ok {
			rank[label] = i
		}
		votes[label]++
	}

	var best string
	for label, v := range votes {
		if best == "" || v > votes[best] || (v == votes[best] && rank[label] < rank[best]) {
			best = label
		}
	}

	confidences := make(map[string]float64, len(c.labels))
	for label := range c.labels {
		confidences[label] = float64(votes[label]) / float64(len(neighbours))
	}

	return &classifier.Prediction{
		Label:       best,
		Confidence:  confidences[best],
		Confidences: confidences,
	}, nil
}

// ProvideFor returns a provider building empty classifiers from cfg.
func ProvideFor(cfg *classifier.Config) (classifier.ProvideFn, error) {
	distFunc, err := geom.DistanceFuncFor(cfg.DistanceFunc)
	if err != nil {
		return nil, fmt.Errorf("unable provide distance function: %w", err)
	}
	if cfg.KNum < MinKNum {
		return nil, fmt.Errorf("the k selected in the config is too small: %d", cfg.KNum)
	}
	return func() (classifier.Classifier, error) {
		c, err := New(WithKNum(cfg.KNum), WithDistance(distFunc))
		if err != nil {
			return nil, fmt.Errorf("unable create knn instance: %w", err)
		}
		return c, nil
	}, nil
}
