package action

import "time"

type Config struct {
	// Training and accuracy run inside the request
	RequestTimeout time.Duration `envconfig:"POSTURE_ACTION_REQUEST_TIMEOUT" default:"60s"`
	MaxBodyBytes   int64         `envconfig:"POSTURE_ACTION_MAX_BODY_BYTES" default:"65536"`
}
