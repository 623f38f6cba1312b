package notify

import (
	"encoding/json"
	"time"

	"github.com/go-sod/posture/internal/httputil"
)

type Config struct {
	AllowNotify bool `envconfig:"POSTURE_NOTIFY_ENABLED" default:"false"`
	// Redis pub/sub sink, disabled when the address is empty
	RedisAddr     string `envconfig:"POSTURE_NOTIFY_REDIS_ADDR"`
	RedisPassword string `envconfig:"POSTURE_NOTIFY_REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"POSTURE_NOTIFY_REDIS_DB" default:"0"`
	// Feedback of session <id> goes to <channel>:<id>
	RedisChannel string `envconfig:"POSTURE_NOTIFY_REDIS_CHANNEL" default:"posture:feedback"`
	// Webhook sink
	Targets              Targets       `envconfig:"POSTURE_NOTIFY_TARGETS"`
	Interval             time.Duration `envconfig:"POSTURE_NOTIFY_INTERVAL" default:"5s"`
	MaxConcurrentRequest int           `envconfig:"POSTURE_NOTIFY_MAX_CONCURRENT_REQUEST" default:"16"`
	RequestTimeout       time.Duration `envconfig:"POSTURE_NOTIFY_REQUEST_TIMEOUT" default:"10s"`
	// Webhooks receive bad posture feedback only
	OnlyBad bool `envconfig:"POSTURE_NOTIFY_ONLY_BAD" default:"true"`
	// Upper bound of feedback waiting for the next webhook round
	MaxPending int `envconfig:"POSTURE_NOTIFY_MAX_PENDING" default:"10000"`
}

// Targets is decoded from a JSON array, e.g.
// [{"url":"https://hooks.local/posture","httpConfig":{"bearerToken":"..."}}]
type Targets []Target

func (ts *Targets) Decode(value string) error {
	targets := []Target{}
	if err := json.Unmarshal([]byte(value), &targets); err != nil {
		return err
	}
	*ts = targets
	return nil
}

type Target struct {
	URL        string                    `json:"url"`
	HTTPConfig httputil.HTTPClientConfig `json:"httpConfig"`
}
