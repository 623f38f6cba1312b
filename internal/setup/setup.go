package setup

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/kelseyhightower/envconfig"

	"github.com/go-sod/posture/internal/classifier"
	"github.com/go-sod/posture/internal/classifier/knn"
	"github.com/go-sod/posture/internal/database"
	"github.com/go-sod/posture/internal/landmark"
	"github.com/go-sod/posture/internal/logging"
	"github.com/go-sod/posture/internal/notify"
	"github.com/go-sod/posture/internal/session"
	"github.com/go-sod/posture/internal/srvenv"
)

type DatabaseConfigProvider interface {
	// nil disables the database
	DatabaseConfig() *database.Config
}

type ClassifierConfigProvider interface {
	ClassifierConfig() *classifier.Config
}

type SessionConfigProvider interface {
	SessionConfig() *session.Config
}

type NotifierConfigProvider interface {
	NotifyConfig() *notify.Config
}

type ProfileConfigProvider interface {
	ProfileFile() string
}

func Setup(ctx context.Context, config interface{}) (*srvenv.SrvEnv, error) {
	logger := logging.FromContext(ctx)
	var serverEnvOpts []srvenv.Option
	if err := envconfig.Process("", config); err != nil {
		return nil, fmt.Errorf("error loading environment variables: %w", err)
	}

	var (
		db                *database.DB
		classifierProvide classifier.ProvideFn
	)
	if dbConfigProvider, ok := config.(DatabaseConfigProvider); ok {
		if cfg := dbConfigProvider.DatabaseConfig(); cfg != nil {
			logger.Info("Configuring db")
			dbFromEnv, err := database.NewFromEnv(ctx, cfg)
			if err != nil {
				return nil, fmt.Errorf("unable to connect to database: %w", err)
			}
			db = dbFromEnv
			serverEnvOpts = append(serverEnvOpts, srvenv.WithDatabase(db))
		}
	}

	if classifierConfigProvider, ok := config.(ClassifierConfigProvider); ok {
		logger.Info("Configuring classifier")
		provideFn, err := ProvideClassifierFor(classifierConfigProvider.ClassifierConfig())
		if err != nil {
			return nil, fmt.Errorf("unable create classifier provide function: %w", err)
		}
		classifierProvide = provideFn
		serverEnvOpts = append(serverEnvOpts, srvenv.WithClassifier(classifierProvide))
	}

	if sessionConfigProvider, ok := config.(SessionConfigProvider); ok {
		logger.Info("Configuring sessions")
		provideFn, err := ProvideSessionsFor(sessionConfigProvider, classifierProvide, db)
		if err != nil {
			return nil, fmt.Errorf("unable create session provide function: %w", err)
		}
		serverEnvOpts = append(serverEnvOpts, srvenv.WithSessions(provideFn))
	}

	if notifyConfigProvider, ok := config.(NotifierConfigProvider); ok {
		logger.Info("Configuring notifier")
		provideFn, err := ProvideNotifierFor(notifyConfigProvider)
		if err != nil {
			return nil, fmt.Errorf("unable create notifier provide function: %w", err)
		}
		serverEnvOpts = append(serverEnvOpts, srvenv.WithNotifier(provideFn))
	}

	if profileConfigProvider, ok := config.(ProfileConfigProvider); ok {
		profile, err := landmark.LoadProfile(profileConfigProvider.ProfileFile())
		if err != nil {
			return nil, fmt.Errorf("unable load source profile: %w", err)
		}
		serverEnvOpts = append(serverEnvOpts, srvenv.WithProfile(profile))
	}

	return srvenv.New(serverEnvOpts...), nil
}

// ProvideClassifierFor returns nil for the HEURISTIC and NONE types: sessions
// then judge every frame with the threshold rule and cannot be trained.
func ProvideClassifierFor(cfg *classifier.Config) (classifier.ProvideFn, error) {
	switch cfg.ClassifierType() {
	case classifier.AlgTypeKNN:
		return knn.ProvideFor(cfg)
	case classifier.AlgTypeHeuristic, classifier.AlgTypeNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown classifier type: %s", cfg.ClassifierType())
	}
}

func ProvideSessionsFor(provider SessionConfigProvider, provideClassifier classifier.ProvideFn, db *database.DB) (session.ProvideFn, error) {
	cfg := provider.SessionConfig()
	if (cfg.JournalEnabled || cfg.ArchiveExports) && db == nil {
		return nil, fmt.Errorf("session journal and export archive need POSTURE_DB_ENABLED")
	}
	return func(feedback func(context.Context, session.Feedback), shutdownCh chan<- error) (session.Manager, error) {
		opts := []session.ManagerOption{session.WithFeedbackFn(feedback)}
		if db != nil {
			opts = append(opts, session.WithDB(db))
		}
		return session.NewManager(cfg, provideClassifier, shutdownCh, opts...)
	}, nil
}

func ProvideNotifierFor(provider NotifierConfigProvider) (notify.ProvideFn, error) {
	cfg := provider.NotifyConfig()
	return func(shutdownCh chan<- error) (notify.Manager, error) {
		opts := []notify.Option{
			notify.WithMaxConcurrentRequest(cfg.MaxConcurrentRequest),
			notify.WithRequestTimeout(cfg.RequestTimeout),
			notify.WithInterval(cfg.Interval),
			notify.WithOnlyBad(cfg.OnlyBad),
			notify.WithMaxPending(cfg.MaxPending),
		}
		if cfg.AllowNotify {
			opts = append(opts, notify.WithTargets(cfg.Targets))
			if cfg.RedisAddr != "" {
				client := redis.NewClient(&redis.Options{
					Addr:     cfg.RedisAddr,
					Password: cfg.RedisPassword,
					DB:       cfg.RedisDB,
				})
				opts = append(opts, notify.WithRedis(client, cfg.RedisChannel))
			}
		}
		return notify.New(shutdownCh, opts...)
	}, nil
}
