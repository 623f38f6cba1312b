package landmark

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Profile describes the pose source the service expects: its body model and
// the fixed knobs the capture side is configured with.
type Profile struct {
	Model  ModelProfile  `toml:"model" json:"model"`
	Source SourceProfile `toml:"source" json:"source"`
}

type ModelProfile struct {
	Name          string `toml:"name" json:"name"`
	Points        int    `toml:"points" json:"points"`
	LeftShoulder  int    `toml:"left_shoulder" json:"leftShoulder"`
	RightShoulder int    `toml:"right_shoulder" json:"rightShoulder"`
	LeftHip       int    `toml:"left_hip" json:"leftHip"`
	RightHip      int    `toml:"right_hip" json:"rightHip"`
}

type SourceProfile struct {
	ModelComplexity        int     `toml:"model_complexity" json:"modelComplexity"`
	SmoothLandmarks        bool    `toml:"smooth_landmarks" json:"smoothLandmarks"`
	MinDetectionConfidence float64 `toml:"min_detection_confidence" json:"minDetectionConfidence"`
	MinTrackingConfidence  float64 `toml:"min_tracking_confidence" json:"minTrackingConfidence"`
}

// DefaultProfile is the 33-point BlazePose model with the capture settings
// used by the browser client.
func DefaultProfile() Profile {
	return Profile{
		Model: ModelProfile{
			Name:          "blazepose",
			Points:        Count,
			LeftShoulder:  LeftShoulder,
			RightShoulder: RightShoulder,
			LeftHip:       LeftHip,
			RightHip:      RightHip,
		},
		Source: SourceProfile{
			ModelComplexity:        1,
			SmoothLandmarks:        true,
			MinDetectionConfidence: 0.5,
			MinTrackingConfidence:  0.5,
		},
	}
}

// LoadProfile reads a TOML profile. Keys missing from the file keep their
// default values. The body model must match the fixed indices of this
// package; only the source settings are free to change.
func LoadProfile(path string) (Profile, error) {
	p := DefaultProfile()
	if path == "" {
		return p, nil
	}
	if _, err := toml.DecodeFile(path, &p); err != nil {
		return Profile{}, fmt.Errorf("decode profile %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return Profile{}, fmt.Errorf("profile %s: %w", path, err)
	}
	return p, nil
}

func (p Profile) Validate() error {
	d := DefaultProfile().Model
	m := p.Model
	if m.Points != d.Points || m.LeftShoulder != d.LeftShoulder || m.RightShoulder != d.RightShoulder ||
		m.LeftHip != d.LeftHip || m.RightHip != d.RightHip {
		return fmt.Errorf("body model %q does not match the %d-point index layout", m.Name, Count)
	}
	if c := p.Source.MinDetectionConfidence; c < 0 || c > 1 {
		return fmt.Errorf("min_detection_confidence %v out of [0,1]", c)
	}
	if c := p.Source.MinTrackingConfidence; c < 0 || c > 1 {
		return fmt.Errorf("min_tracking_confidence %v out of [0,1]", c)
	}
	if p.Source.ModelComplexity < 0 || p.Source.ModelComplexity > 2 {
		return fmt.Errorf("model_complexity %d out of [0,2]", p.Source.ModelComplexity)
	}
	return nil
}
