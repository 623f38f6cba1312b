package geom

import (
	"errors"
	"fmt"
	"math"
)

var ErrDimNotEqual = errors.New("vectors dimension is not equal")

// DistanceFn measures the distance between two points of equal dimension.
type DistanceFn func(p, p1 Point) (float64, error)

type DistanceFuncType string

const (
	DistanceFuncTypeEuclidean DistanceFuncType = "EUCLIDEAN"
	DistanceFuncTypeChebyshev DistanceFuncType = "CHEBYSHEV"
	DistanceFuncTypeManhattan DistanceFuncType = "MANHATTAN"
)

// DistanceFuncFor returns the distance function registered under d.
func DistanceFuncFor(d DistanceFuncType) (DistanceFn, error) {
	switch d {
	case DistanceFuncTypeEuclidean:
		return EuclideanDistance, nil
	case DistanceFuncTypeChebyshev:
		return ChebyshevDistance, nil
	case DistanceFuncTypeManhattan:
		return ManhattanDistance, nil
	default:
		return nil, fmt.Errorf("unknown distance function: %s", d)
	}
}

func EuclideanDistance(p, p1 Point) (float64, error) {
	if !p.SizeEqual(p1) {
		return 0, ErrDimNotEqual
	}
	var sum float64
	for i := range p {
		d := p[i] - p1[i]
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

func ChebyshevDistance(p, p1 Point) (float64, error) {
	if !p.SizeEqual(p1) {
		return 0, ErrDimNotEqual
	}
	var max float64
	for i := range p {
		if d := math.Abs(p[i] - p1[i]); d > max {
			max = d
		}
	}
	return max, nil
}

func ManhattanDistance(p, p1 Point) (float64, error) {
	if !p.SizeEqual(p1) {
		return 0, ErrDimNotEqual
	}
	var sum float64
	for i := range p {
		sum += math.Abs(p[i] - p1[i])
	}
	return sum, nil
}
