package integration

import (
	"fmt"
	"time"
)

type SessionRequest struct {
	SessionID string `json:"session"`
}

type Session struct {
	SessionID   string  `json:"session"`
	Sensitivity float64 `json:"sensitivity"`
	Samples     int     `json:"samples"`
	Ready       bool    `json:"ready"`
	Trained     bool    `json:"trained"`
}

type Stats struct {
	SessionID       string         `json:"session"`
	Samples         int            `json:"samples"`
	Labels          map[string]int `json:"labels"`
	Sensitivity     float64        `json:"sensitivity"`
	ClassifierReady bool           `json:"classifierReady"`
	Trained         bool           `json:"trained"`
	Examples        int            `json:"examples"`
	ClassifierError string         `json:"classifierError,omitempty"`
}

type FrameRequest struct {
	SessionID string      `json:"session,omitempty"`
	Landmarks [][]float64 `json:"landmarks"`
}

type Feedback struct {
	Detected   bool      `json:"detected"`
	Error      string    `json:"error,omitempty"`
	SessionID  string    `json:"session"`
	Angle      float64   `json:"angle"`
	Threshold  float64   `json:"threshold"`
	Good       bool      `json:"good"`
	Label      string    `json:"label"`
	Source     string    `json:"source"`
	Confidence float64   `json:"confidence,omitempty"`
	Captured   bool      `json:"captured"`
	Samples    int       `json:"samples"`
	CreatedAt  time.Time `json:"createdAt"`
}

type LabelRequest struct {
	SessionID string      `json:"session"`
	Label     string      `json:"label"`
	Landmarks [][]float64 `json:"landmarks"`
}

type LabeledSample struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Timestamp string `json:"timestamp"`
}

type TrainResult struct {
	Examples int `json:"examples"`
	Labels   int `json:"labels"`
}

type AccuracyResult struct {
	Accuracy float64 `json:"accuracy"`
	Correct  int     `json:"correct"`
	Total    int     `json:"total"`
}

type SensitivityRequest struct {
	SessionID string  `json:"session"`
	Degrees   float64 `json:"degrees"`
}

type Export struct {
	Name string
	Body []byte
}

type Health struct {
	Status  string `json:"status"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

// APIError is a non-2xx answer of the service.
type APIError struct {
	Status  int
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Status, e.Message)
}
