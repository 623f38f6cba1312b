// Package analyze accepts landmark frames from the pose source and answers
// each one with posture feedback.
package analyze

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-sod/posture/internal/httputil"
	"github.com/go-sod/posture/internal/landmark"
	"github.com/go-sod/posture/internal/session"
)

// Sessions resolves the session a frame belongs to.
type Sessions interface {
	Get(id string) (*session.Session, error)
}

type request struct {
	SessionID string      `json:"session"`
	Landmarks [][]float64 `json:"landmarks"`
}

type response struct {
	Detected bool `json:"detected"`
	*session.Feedback
}

func NewHandler(cfg *Config, sessions Sessions) (http.Handler, error) {
	return &handler{
		cfg:      cfg,
		sessions: sessions,
	}, nil
}

type handler struct {
	sessions Sessions
	cfg      *Config
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req request
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.RequestTimeout)
	defer cancel()

	if !httputil.AllowMethod(ctx, w, r, http.MethodPost) {
		return
	}
	if !httputil.DecodeJSON(ctx, w, r, h.cfg.MaxBodyBytes, &req) {
		return
	}

	s, err := h.sessions.Get(req.SessionID)
	if err != nil {
		httputil.RespError(ctx, w, statusFor(err), err)
		return
	}
	resp, err := analyzeFrame(ctx, s, req.Landmarks)
	if err != nil {
		httputil.RespError(ctx, w, statusFor(err), err)
		return
	}
	httputil.RespJSON(ctx, w, http.StatusOK, resp)
}

// analyzeFrame treats an empty landmark list as a frame where no body was
// detected: the session is left untouched.
func analyzeFrame(ctx context.Context, s *session.Session, points [][]float64) (*response, error) {
	if len(points) == 0 {
		return &response{Detected: false}, nil
	}
	set, err := landmark.ParsePoints(points)
	if err != nil {
		return nil, err
	}
	fb, err := s.AnalyzeFrame(ctx, set)
	if err != nil {
		return nil, err
	}
	return &response{Detected: true, Feedback: fb}, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrClosed):
		return http.StatusGone
	case errors.Is(err, landmark.ErrLandmarkCount),
		errors.Is(err, landmark.ErrNonFinite),
		errors.Is(err, landmark.ErrPointSize):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
