package main

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"math"

	"github.com/valyala/fastrand"

	"github.com/go-sod/posture/internal/landmark"
)

// syntheticFrame builds a 33-point pose whose shoulder to hip line makes
// angle degrees, with every coordinate shifted by up to jitter.
func syntheticFrame(angle, jitter float64) [][]float64 {
	out := make([][]float64, landmark.Count)
	for i := range out {
		out[i] = []float64{0.5 + noise(jitter), 0.5 + noise(jitter), noise(jitter)}
	}
	dy := math.Tan(angle * math.Pi / 180)
	for _, idx := range []int{landmark.LeftShoulder, landmark.RightShoulder} {
		out[idx][1] = 0.3 + noise(jitter)
	}
	for _, idx := range []int{landmark.LeftHip, landmark.RightHip} {
		out[idx][1] = 0.3 + dy + noise(jitter)
	}
	return out
}

// noise is uniform in [-max, max].
func noise(max float64) float64 {
	if max <= 0 {
		return 0
	}
	return (float64(fastrand.Uint32n(2001))/1000 - 1) * max
}

// readFrame loads a JSON array of [x, y, z] points.
func readFrame(path string) ([][]float64, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read frame %s: %w", path, err)
	}
	var points [][]float64
	if err := json.Unmarshal(b, &points); err != nil {
		return nil, fmt.Errorf("decode frame %s: %w", path, err)
	}
	return points, nil
}
