// Package action serves the user actions of a monitoring session: opening
// it, labeling frames, training, measuring accuracy, exporting samples and
// changing the sensitivity.
package action

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-sod/posture/internal/httputil"
	"github.com/go-sod/posture/internal/landmark"
	"github.com/go-sod/posture/internal/logging"
	"github.com/go-sod/posture/internal/posture"
	"github.com/go-sod/posture/internal/session"
)

// Sessions is the part of the session registry the actions need.
type Sessions interface {
	Open(ctx context.Context, id string) (*session.Session, error)
	Get(id string) (*session.Session, error)
	Close(ctx context.Context, id string) error
}

type sessionRequest struct {
	SessionID string `json:"session"`
}

type labelRequest struct {
	SessionID string      `json:"session"`
	Label     string      `json:"label"`
	Landmarks [][]float64 `json:"landmarks"`
}

type sensitivityRequest struct {
	SessionID string   `json:"session"`
	Degrees   *float64 `json:"degrees"`
}

type sessionResponse struct {
	SessionID   string  `json:"session"`
	Sensitivity float64 `json:"sensitivity"`
	Samples     int     `json:"samples"`
	Ready       bool    `json:"ready"`
	Trained     bool    `json:"trained"`
}

type labelResponse struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Timestamp string `json:"timestamp"`
}

type sensitivityResponse struct {
	Sensitivity float64 `json:"sensitivity"`
}

// NewHandler routes the action endpoints. profile is served on /source-config.
func NewHandler(cfg *Config, sessions Sessions, profile landmark.Profile) (http.Handler, error) {
	if sessions == nil {
		return nil, fmt.Errorf("session registry is not provided")
	}
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("source profile: %w", err)
	}
	h := &handler{cfg: cfg, sessions: sessions, profile: profile}
	mux := http.NewServeMux()
	mux.HandleFunc("/session", h.handleSession)
	mux.HandleFunc("/label", h.handleLabel)
	mux.HandleFunc("/train", h.handleTrain)
	mux.HandleFunc("/accuracy", h.handleAccuracy)
	mux.HandleFunc("/export", h.handleExport)
	mux.HandleFunc("/sensitivity", h.handleSensitivity)
	mux.HandleFunc("/source-config", h.handleSourceConfig)
	h.mux = mux
	return h, nil
}

type handler struct {
	cfg      *Config
	sessions Sessions
	profile  landmark.Profile
	mux      *http.ServeMux
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.RequestTimeout)
	defer cancel()
	h.mux.ServeHTTP(w, r.WithContext(ctx))
}

// lookup decodes a {"session": ...} body and resolves the session.
func (h *handler) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	ctx := r.Context()
	var req sessionRequest
	if !httputil.DecodeJSON(ctx, w, r, h.cfg.MaxBodyBytes, &req) {
		return nil, false
	}
	s, err := h.sessions.Get(req.SessionID)
	if err != nil {
		httputil.RespError(ctx, w, statusFor(err), err)
		return nil, false
	}
	return s, true
}

// handleSession opens (POST), inspects (GET) or closes (DELETE) a session.
func (h *handler) handleSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !httputil.AllowMethod(ctx, w, r, http.MethodPost, http.MethodGet, http.MethodDelete) {
		return
	}

	switch r.Method {
	case http.MethodGet:
		s, err := h.sessions.Get(r.URL.Query().Get("session"))
		if err != nil {
			httputil.RespError(ctx, w, statusFor(err), err)
			return
		}
		st, err := s.Stats(ctx)
		if err != nil {
			httputil.RespError(ctx, w, statusFor(err), err)
			return
		}
		httputil.RespJSON(ctx, w, http.StatusOK, st)
	case http.MethodDelete:
		if err := h.sessions.Close(ctx, r.URL.Query().Get("session")); err != nil {
			httputil.RespError(ctx, w, statusFor(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		var req sessionRequest
		if r.ContentLength != 0 && !httputil.DecodeJSON(ctx, w, r, h.cfg.MaxBodyBytes, &req) {
			return
		}
		s, err := h.sessions.Open(ctx, req.SessionID)
		if err != nil {
			httputil.RespError(ctx, w, statusFor(err), err)
			return
		}
		st, err := s.Stats(ctx)
		if err != nil {
			httputil.RespError(ctx, w, statusFor(err), err)
			return
		}
		logging.FromContext(ctx).Infof("session %s opened with %d samples", st.SessionID, st.Samples)
		httputil.RespJSON(ctx, w, http.StatusOK, sessionResponse{
			SessionID:   st.SessionID,
			Sensitivity: st.Sensitivity,
			Samples:     st.Samples,
			Ready:       st.ClassifierReady,
			Trained:     st.Trained,
		})
	}
}

func (h *handler) handleLabel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !httputil.AllowMethod(ctx, w, r, http.MethodPost) {
		return
	}
	var req labelRequest
	if !httputil.DecodeJSON(ctx, w, r, h.cfg.MaxBodyBytes, &req) {
		return
	}
	s, err := h.sessions.Get(req.SessionID)
	if err != nil {
		httputil.RespError(ctx, w, statusFor(err), err)
		return
	}
	set, err := landmark.ParsePoints(req.Landmarks)
	if err != nil {
		httputil.RespError(ctx, w, statusFor(err), err)
		return
	}
	smp, err := s.SaveSample(ctx, req.Label, set)
	if err != nil {
		httputil.RespError(ctx, w, statusFor(err), err)
		return
	}
	httputil.RespJSON(ctx, w, http.StatusCreated, labelResponse{
		ID:        smp.ID.String(),
		Label:     smp.Label,
		Timestamp: smp.Timestamp.UTC().Format(time.RFC3339Nano),
	})
}

func (h *handler) handleTrain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !httputil.AllowMethod(ctx, w, r, http.MethodPost) {
		return
	}
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	res, err := s.Train(ctx)
	if err != nil {
		httputil.RespError(ctx, w, statusFor(err), err)
		return
	}
	httputil.RespJSON(ctx, w, http.StatusOK, res)
}

func (h *handler) handleAccuracy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !httputil.AllowMethod(ctx, w, r, http.MethodPost) {
		return
	}
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	res, err := s.EvaluateAccuracy(ctx)
	if err != nil {
		httputil.RespError(ctx, w, statusFor(err), err)
		return
	}
	httputil.RespJSON(ctx, w, http.StatusOK, res)
}

func (h *handler) handleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !httputil.AllowMethod(ctx, w, r, http.MethodPost) {
		return
	}
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	doc, err := s.Export(ctx)
	if err != nil {
		httputil.RespError(ctx, w, statusFor(err), err)
		return
	}
	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, doc.Name))
	w.Header().Set("Content-Length", strconv.Itoa(len(doc.Body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc.Body)
}

func (h *handler) handleSensitivity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !httputil.AllowMethod(ctx, w, r, http.MethodPost) {
		return
	}
	var req sensitivityRequest
	if !httputil.DecodeJSON(ctx, w, r, h.cfg.MaxBodyBytes, &req) {
		return
	}
	if req.Degrees == nil {
		httputil.RespBadRequest(ctx, w, `{"error": "degrees is required"}`)
		return
	}
	s, err := h.sessions.Get(req.SessionID)
	if err != nil {
		httputil.RespError(ctx, w, statusFor(err), err)
		return
	}
	deg, err := s.SetSensitivity(ctx, *req.Degrees)
	if err != nil {
		httputil.RespError(ctx, w, statusFor(err), err)
		return
	}
	httputil.RespJSON(ctx, w, http.StatusOK, sensitivityResponse{Sensitivity: deg})
}

func (h *handler) handleSourceConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !httputil.AllowMethod(ctx, w, r, http.MethodGet) {
		return
	}
	httputil.RespJSON(ctx, w, http.StatusOK, h.profile)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrClosed):
		return http.StatusGone
	case errors.Is(err, session.ErrInvalidID),
		errors.Is(err, session.ErrInvalidLabel),
		errors.Is(err, posture.ErrSensitivityRange),
		errors.Is(err, landmark.ErrLandmarkCount),
		errors.Is(err, landmark.ErrNonFinite),
		errors.Is(err, landmark.ErrPointSize):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotEnoughData),
		errors.Is(err, session.ErrNoData),
		errors.Is(err, session.ErrNotTrained),
		errors.Is(err, session.ErrClassifierUnavailable):
		return http.StatusConflict
	case errors.Is(err, session.ErrTooManySessions):
		return http.StatusTooManyRequests
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
