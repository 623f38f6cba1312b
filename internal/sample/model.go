package sample

import (
	"time"

	"github.com/google/uuid"

	"github.com/go-sod/posture/internal/geom"
)

// Sample is one labeled, flattened landmark vector.
type Sample struct {
	ID        uuid.UUID  `json:"id"`
	Label     string     `json:"label"`
	Vector    geom.Point `json:"vector"`
	Timestamp time.Time  `json:"timestamp"`
}

// New copies vec so later changes by the caller do not reach the sample.
func New(label string, vec geom.Point, ts time.Time) Sample {
	return Sample{
		ID:        uuid.New(),
		Label:     label,
		Vector:    vec.Copy(),
		Timestamp: ts,
	}
}

func (s Sample) clone() Sample {
	s.Vector = s.Vector.Copy()
	return s
}
