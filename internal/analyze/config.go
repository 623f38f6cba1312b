package analyze

import "time"

type Config struct {
	RequestTimeout time.Duration `envconfig:"POSTURE_ANALYZE_REQUEST_TIMEOUT" default:"10s"`
	MaxBodyBytes   int64         `envconfig:"POSTURE_ANALYZE_MAX_BODY_BYTES" default:"65536"`
	// A stream is closed when no frame arrives for this long
	StreamIdleTimeout time.Duration `envconfig:"POSTURE_STREAM_IDLE_TIMEOUT" default:"60s"`
	// Origins allowed to open /stream, empty allows any
	AllowedOrigins []string `envconfig:"POSTURE_STREAM_ALLOWED_ORIGINS"`
}
