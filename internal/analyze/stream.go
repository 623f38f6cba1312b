package analyze

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/websocket"

	"github.com/go-sod/posture/internal/logging"
	"github.com/go-sod/posture/internal/session"
)

type streamRequest struct {
	Landmarks [][]float64 `json:"landmarks"`
}

type streamError struct {
	Error string `json:"error"`
}

// NewStreamHandler serves /stream?session=<id>. Every text message carries
// one frame and is answered with one feedback message, in order.
func NewStreamHandler(cfg *Config, sessions Sessions) (http.Handler, error) {
	h := &streamHandler{
		cfg:      cfg,
		sessions: sessions,
		origins:  map[string]struct{}{},
	}
	for _, o := range cfg.AllowedOrigins {
		h.origins[o] = struct{}{}
	}
	return websocket.Server{Handshake: h.handshake, Handler: h.serve}, nil
}

type streamHandler struct {
	cfg      *Config
	sessions Sessions
	origins  map[string]struct{}
}

func (h *streamHandler) handshake(_ *websocket.Config, r *http.Request) error {
	if len(h.origins) == 0 {
		return nil
	}
	origin := r.Header.Get("Origin")
	if _, ok := h.origins[origin]; !ok {
		return fmt.Errorf("origin %q is not allowed", origin)
	}
	return nil
}

func (h *streamHandler) serve(ws *websocket.Conn) {
	defer ws.Close()
	ctx := ws.Request().Context()
	logger := logging.FromContext(ctx)

	id := ws.Request().URL.Query().Get("session")
	s, err := h.sessions.Get(id)
	if err != nil {
		_ = websocket.JSON.Send(ws, streamError{Error: err.Error()})
		return
	}
	logger.Debugf("stream opened for session %s", id)
	defer logger.Debugf("stream closed for session %s", id)

	for {
		if h.cfg.StreamIdleTimeout > 0 {
			_ = ws.SetReadDeadline(time.Now().Add(h.cfg.StreamIdleTimeout))
		}
		var msg streamRequest
		if err := websocket.JSON.Receive(ws, &msg); err != nil {
			var (
				syntaxErr *json.SyntaxError
				typeErr   *json.UnmarshalTypeError
				netErr    net.Error
			)
			switch {
			case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
				if err := websocket.JSON.Send(ws, streamError{Error: "malformed frame: " + err.Error()}); err != nil {
					return
				}
				continue
			case errors.Is(err, io.EOF):
			case errors.As(err, &netErr) && netErr.Timeout():
				logger.Debugf("stream of session %s idle, closing", id)
			default:
				logger.Warnf("stream of session %s: %v", id, err)
			}
			return
		}

		fctx, cancel := context.WithTimeout(ctx, h.cfg.RequestTimeout)
		resp, err := analyzeFrame(fctx, s, msg.Landmarks)
		cancel()
		if err != nil {
			if sendErr := websocket.JSON.Send(ws, streamError{Error: err.Error()}); sendErr != nil {
				return
			}
			if errors.Is(err, session.ErrClosed) {
				return
			}
			continue
		}
		if err := websocket.JSON.Send(ws, resp); err != nil {
			logger.Debugf("stream of session %s: send: %v", id, err)
			return
		}
	}
}
