// Package integration is a typed client of the posture service HTTP and
// websocket API.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/websocket"
)

type prefixRoundTripper struct {
	addr string
	rt   http.RoundTripper
}

func (p *prefixRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	u := r.URL
	if u.Scheme == "" {
		u.Scheme = "http"
	}
	if u.Host == "" {
		u.Host = p.addr
	}

	return p.rt.RoundTrip(r)
}

// NewClient talks to the service listening on addr (host:port).
func NewClient(addr string) *Client {
	return &Client{
		addr:   addr,
		client: &http.Client{Transport: &prefixRoundTripper{addr: addr, rt: http.DefaultTransport}},
	}
}

type Client struct {
	addr   string
	client *http.Client
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) (*http.Response, []byte, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, nil, fmt.Errorf("unable marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, path, body)
	if err != nil {
		return nil, nil, fmt.Errorf("create new request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("error with sending request: %w", err)
	}
	defer resp.Body.Close()

	b, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(b, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(b))
		}
		return resp, b, apiErr
	}
	if out != nil {
		if err := json.Unmarshal(b, out); err != nil {
			return resp, b, fmt.Errorf("unable unmarshal response: %w", err)
		}
	}
	return resp, b, nil
}

// OpenSession opens the session with the given id, or a new one when id is empty.
func (c *Client) OpenSession(ctx context.Context, id string) (*Session, error) {
	var s Session
	if _, _, err := c.do(ctx, http.MethodPost, "/session", SessionRequest{SessionID: id}, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) Stats(ctx context.Context, id string) (*Stats, error) {
	var st Stats
	if _, _, err := c.do(ctx, http.MethodGet, "/session?"+url.Values{"session": {id}}.Encode(), nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) CloseSession(ctx context.Context, id string) error {
	_, _, err := c.do(ctx, http.MethodDelete, "/session?"+url.Values{"session": {id}}.Encode(), nil, nil)
	return err
}

func (c *Client) Analyze(ctx context.Context, r FrameRequest) (*Feedback, error) {
	var fb Feedback
	if _, _, err := c.do(ctx, http.MethodPost, "/analyze", r, &fb); err != nil {
		return nil, err
	}
	return &fb, nil
}

func (c *Client) Label(ctx context.Context, r LabelRequest) (*LabeledSample, error) {
	var s LabeledSample
	if _, _, err := c.do(ctx, http.MethodPost, "/label", r, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) Train(ctx context.Context, id string) (*TrainResult, error) {
	var res TrainResult
	if _, _, err := c.do(ctx, http.MethodPost, "/train", SessionRequest{SessionID: id}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Accuracy(ctx context.Context, id string) (*AccuracyResult, error) {
	var res AccuracyResult
	if _, _, err := c.do(ctx, http.MethodPost, "/accuracy", SessionRequest{SessionID: id}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Export downloads the sample document. Name is taken from Content-Disposition.
func (c *Client) Export(ctx context.Context, id string) (*Export, error) {
	resp, body, err := c.do(ctx, http.MethodPost, "/export", SessionRequest{SessionID: id}, nil)
	if err != nil {
		return nil, err
	}
	exp := &Export{Body: body}
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		exp.Name = params["filename"]
	}
	return exp, nil
}

func (c *Client) SetSensitivity(ctx context.Context, id string, degrees float64) (float64, error) {
	var resp struct {
		Sensitivity float64 `json:"sensitivity"`
	}
	if _, _, err := c.do(ctx, http.MethodPost, "/sensitivity", SensitivityRequest{SessionID: id, Degrees: degrees}, &resp); err != nil {
		return 0, err
	}
	return resp.Sensitivity, nil
}

func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if _, _, err := c.do(ctx, http.MethodGet, "/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Stream is a websocket connection to /stream bound to one session.
type Stream struct {
	ws *websocket.Conn
}

// Stream dials /stream for session id. origin is sent in the handshake.
func (c *Client) Stream(ctx context.Context, id, origin string) (*Stream, error) {
	u := url.URL{Scheme: "ws", Host: c.addr, Path: "/stream", RawQuery: url.Values{"session": {id}}.Encode()}
	cfg, err := websocket.NewConfig(u.String(), origin)
	if err != nil {
		return nil, fmt.Errorf("websocket config: %w", err)
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.addr, err)
	}
	ws, err := websocket.NewClient(cfg, conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("websocket handshake: %w", err)
	}
	return &Stream{ws: ws}, nil
}

// Send writes one frame and waits for its feedback.
func (s *Stream) Send(landmarks [][]float64) (*Feedback, error) {
	if err := websocket.JSON.Send(s.ws, FrameRequest{Landmarks: landmarks}); err != nil {
		return nil, fmt.Errorf("send frame: %w", err)
	}
	var fb Feedback
	if err := websocket.JSON.Receive(s.ws, &fb); err != nil {
		return nil, fmt.Errorf("receive feedback: %w", err)
	}
	return &fb, nil
}

func (s *Stream) Close() error {
	return s.ws.Close()
}
