package httputil

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-sod/posture/internal/buildinfo"
)

// Transport limits for posture webhooks. A client serves one target and
// posts small JSON batches, so few idle connections are kept and slow
// receivers are cut off early.
const (
	webhookDialTimeout     = 5 * time.Second
	webhookTLSTimeout      = 5 * time.Second
	webhookResponseTimeout = 10 * time.Second
	webhookIdleConns       = 2
	webhookIdleTimeout     = 90 * time.Second
)

// NewClientFromConfig returns a client for a single webhook target. A zero
// timeout leaves requests bounded by their context only.
func NewClientFromConfig(cfg HTTPClientConfig, disableKeepAlives bool, timeout time.Duration) (*http.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid webhook client config: %w", err)
	}
	return &http.Client{
		Transport: webhookTransport(cfg, disableKeepAlives),
		Timeout:   timeout,
	}, nil
}

func webhookTransport(cfg HTTPClientConfig, disableKeepAlives bool) http.RoundTripper {
	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: webhookDialTimeout}).DialContext,
		MaxIdleConns:          webhookIdleConns,
		MaxIdleConnsPerHost:   webhookIdleConns,
		IdleConnTimeout:       webhookIdleTimeout,
		DisableKeepAlives:     disableKeepAlives,
		TLSHandshakeTimeout:   webhookTLSTimeout,
		ResponseHeaderTimeout: webhookResponseTimeout,
	}

	t := &headerTransport{
		userAgent: "posture-notifier/" + buildinfo.Info.Tag(),
		next:      base,
	}
	switch {
	case cfg.BearerToken != "":
		t.authorize = func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+cfg.BearerToken)
		}
	case cfg.BasicAuth != nil:
		user, pass := cfg.BasicAuth.Username, strings.TrimSpace(cfg.BasicAuth.Password)
		t.authorize = func(req *http.Request) {
			req.SetBasicAuth(user, pass)
		}
	}
	return t
}

// headerTransport stamps the notifier identity and the target credentials
// on every delivery. Headers set by the caller win.
type headerTransport struct {
	userAgent string
	authorize func(*http.Request)
	next      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	if t.authorize != nil && req.Header.Get("Authorization") == "" {
		t.authorize(req)
	}
	return t.next.RoundTrip(req)
}
