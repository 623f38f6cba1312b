// Package landmark describes the body keypoints produced by the pose source.
package landmark

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-sod/posture/internal/geom"
)

// Count is the number of keypoints in the body model.
const Count = 33

// Fixed indices of the 33-point body model.
const (
	Nose          = 0
	LeftShoulder  = 11
	RightShoulder = 12
	LeftHip       = 23
	RightHip      = 24
)

var (
	ErrLandmarkCount = fmt.Errorf("landmark set must contain exactly %d points", Count)
	ErrNonFinite     = errors.New("landmark coordinate is not finite")
	ErrPointSize     = errors.New("landmark point must have exactly 3 coordinates")
)

// Landmark is one detected keypoint in normalized coordinates.
type Landmark struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Set holds the landmarks of one frame ordered by body model index.
type Set []Landmark

// NewSet builds a set from [x,y,z] triples and validates it.
func NewSet(triples [][3]float64) (Set, error) {
	s := make(Set, len(triples))
	for i, t := range triples {
		s[i] = Landmark{X: t[0], Y: t[1], Z: t[2]}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// ParsePoints builds a set from decoded [x,y,z] arrays as clients send them.
func ParsePoints(points [][]float64) (Set, error) {
	triples := make([][3]float64, len(points))
	for i, p := range points {
		if len(p) != 3 {
			return nil, fmt.Errorf("point %d has %d values: %w", i, len(p), ErrPointSize)
		}
		triples[i] = [3]float64{p[0], p[1], p[2]}
	}
	return NewSet(triples)
}

// Validate checks the indexing contract the evaluator relies on.
func (s Set) Validate() error {
	if len(s) != Count {
		return fmt.Errorf("got %d points: %w", len(s), ErrLandmarkCount)
	}
	for i, l := range s {
		if !finite(l.X) || !finite(l.Y) || !finite(l.Z) {
			return fmt.Errorf("point %d: %w", i, ErrNonFinite)
		}
	}
	return nil
}

// Flatten lays the set out as x0,y0,z0,x1,y1,z1,...
func (s Set) Flatten() geom.Point {
	v := make(geom.Point, 0, len(s)*3)
	for _, l := range s {
		v = append(v, l.X, l.Y, l.Z)
	}
	return v
}

// Triples is the inverse of NewSet.
func (s Set) Triples() [][3]float64 {
	out := make([][3]float64, len(s))
	for i, l := range s {
		out[i] = [3]float64{l.X, l.Y, l.Z}
	}
	return out
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
