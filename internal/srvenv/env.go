package srvenv

import (
	"context"

	"github.com/go-sod/posture/internal/classifier"
	"github.com/go-sod/posture/internal/database"
	"github.com/go-sod/posture/internal/landmark"
	"github.com/go-sod/posture/internal/notify"
	"github.com/go-sod/posture/internal/session"
)

type Option func(*SrvEnv) *SrvEnv

func New(opts ...Option) *SrvEnv {
	env := &SrvEnv{profile: landmark.DefaultProfile()}
	for _, f := range opts {
		env = f(env)
	}

	return env
}

type SrvEnv struct {
	database   *database.DB
	classifier classifier.ProvideFn
	sessions   session.ProvideFn
	notifier   notify.ProvideFn
	profile    landmark.Profile
}

func (s *SrvEnv) ProvideNotifier() notify.ProvideFn {
	return s.notifier
}

func (s *SrvEnv) ProvideSessions() session.ProvideFn {
	return s.sessions
}

// ProvideClassifier is nil when sessions run on the threshold rule only.
func (s *SrvEnv) ProvideClassifier() classifier.ProvideFn {
	return s.classifier
}

func (s *SrvEnv) Profile() landmark.Profile {
	return s.profile
}

func (s *SrvEnv) Database() *database.DB {
	return s.database
}

func WithNotifier(fn notify.ProvideFn) Option {
	return func(s *SrvEnv) *SrvEnv {
		s.notifier = fn
		return s
	}
}

func WithSessions(fn session.ProvideFn) Option {
	return func(s *SrvEnv) *SrvEnv {
		s.sessions = fn
		return s
	}
}

func WithClassifier(fn classifier.ProvideFn) Option {
	return func(s *SrvEnv) *SrvEnv {
		s.classifier = fn
		return s
	}
}

func WithProfile(p landmark.Profile) Option {
	return func(s *SrvEnv) *SrvEnv {
		s.profile = p
		return s
	}
}

func WithDatabase(db *database.DB) Option {
	return func(s *SrvEnv) *SrvEnv {
		s.database = db
		return s
	}
}

func (s *SrvEnv) Close(ctx context.Context) error {
	if s == nil {
		return nil
	}

	if s.database != nil {
		return s.database.Close(ctx)
	}
	return nil
}
