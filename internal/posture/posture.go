// Package posture turns a landmark set into a slouch angle and a verdict.
package posture

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-sod/posture/internal/landmark"
)

const (
	LabelGood = "good_posture"
	LabelBad  = "bad_posture"
)

// Sensitivity bounds in degrees.
const (
	MinSensitivity     = 20.0
	MaxSensitivity     = 50.0
	DefaultSensitivity = 20.0
)

var ErrSensitivityRange = errors.New("sensitivity out of range")

// Verdict is the threshold decision for one frame.
type Verdict struct {
	Angle     float64 `json:"angle"`
	Threshold float64 `json:"threshold"`
	Good      bool    `json:"good"`
}

func (v Verdict) Label() string {
	if v.Good {
		return LabelGood
	}
	return LabelBad
}

// EvaluateAngle measures the vertical offset between the shoulder and hip
// midpoints as an angle against a unit horizontal step. The result lies in
// [0, 90). The set must satisfy landmark.Set.Validate.
func EvaluateAngle(s landmark.Set) float64 {
	shoulderY := (s[landmark.LeftShoulder].Y + s[landmark.RightShoulder].Y) / 2
	hipY := (s[landmark.LeftHip].Y + s[landmark.RightHip].Y) / 2
	return math.Abs(math.Atan2(hipY-shoulderY, 1)) * 180 / math.Pi
}

// Judge compares angle with threshold. Equal values are not good posture.
func Judge(angle, threshold float64) Verdict {
	return Verdict{Angle: angle, Threshold: threshold, Good: angle < threshold}
}

// Evaluate runs EvaluateAngle and Judge.
func Evaluate(s landmark.Set, threshold float64) Verdict {
	return Judge(EvaluateAngle(s), threshold)
}

// ValidateSensitivity checks degrees against the adjustable range.
func ValidateSensitivity(degrees float64) error {
	if math.IsNaN(degrees) || degrees < MinSensitivity || degrees > MaxSensitivity {
		return fmt.Errorf("%v not in [%v, %v]: %w", degrees, MinSensitivity, MaxSensitivity, ErrSensitivityRange)
	}
	return nil
}
