package httputil

import "errors"

// HTTPClientConfig describes how outgoing requests authenticate.
type HTTPClientConfig struct {
	BasicAuth   *BasicAuth `json:"basicAuth,omitempty"`
	BearerToken string     `json:"bearerToken,omitempty"`
}

func (c *HTTPClientConfig) Validate() error {
	if c.BasicAuth != nil && len(c.BearerToken) > 0 {
		return errors.New("at most one of basicAuth and bearerToken must be configured")
	}
	if c.BasicAuth != nil && c.BasicAuth.Username == "" {
		return errors.New("basicAuth requires a username")
	}
	return nil
}

type BasicAuth struct {
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
}
