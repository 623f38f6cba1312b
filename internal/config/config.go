package config

import (
	"github.com/go-sod/posture/internal/action"
	"github.com/go-sod/posture/internal/analyze"
	"github.com/go-sod/posture/internal/classifier"
	"github.com/go-sod/posture/internal/database"
	"github.com/go-sod/posture/internal/notify"
	"github.com/go-sod/posture/internal/session"
	"github.com/go-sod/posture/internal/setup"
)

var (
	_ setup.DatabaseConfigProvider   = (*Config)(nil)
	_ setup.ClassifierConfigProvider = (*Config)(nil)
	_ setup.SessionConfigProvider    = (*Config)(nil)
	_ setup.NotifierConfigProvider   = (*Config)(nil)
	_ setup.ProfileConfigProvider    = (*Config)(nil)
)

type Config struct {
	SrvAddr string `envconfig:"POSTURE_ADDR" default:":8787"`
	// gRPC health endpoint, disabled when empty
	GRPCAddr string `envconfig:"POSTURE_GRPC_ADDR" default:":8788"`
	// Serve opencensus measures on /metrics
	MetricsEnabled bool `envconfig:"POSTURE_METRICS_ENABLED" default:"true"`
	// TOML file overriding the pose source settings served on /source-config
	ProfilePath string `envconfig:"POSTURE_SOURCE_PROFILE"`
	// Persist captured samples and exports in the bolt file
	DatabaseEnabled bool `envconfig:"POSTURE_DB_ENABLED" default:"false"`

	Database   database.Config
	Classifier classifier.Config
	Session    session.Config
	Notify     notify.Config
	Analyze    analyze.Config
	Action     action.Config
}

func (c *Config) DatabaseConfig() *database.Config {
	if !c.DatabaseEnabled {
		return nil
	}
	return &c.Database
}

func (c *Config) ClassifierConfig() *classifier.Config {
	return &c.Classifier
}

func (c *Config) SessionConfig() *session.Config {
	return &c.Session
}

func (c *Config) NotifyConfig() *notify.Config {
	return &c.Notify
}

func (c *Config) ProfileFile() string {
	return c.ProfilePath
}
