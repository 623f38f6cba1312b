package session

import "time"

type Config struct {
	// Minimum number of samples before training or accuracy evaluation
	MinSamples int `envconfig:"POSTURE_MIN_SAMPLES" default:"20"`
	// Append a heuristic-labeled sample for every frame judged by the threshold rule
	AutoCapture bool `envconfig:"POSTURE_AUTO_CAPTURE" default:"true"`
	// Initial sensitivity in degrees
	Sensitivity float64 `envconfig:"POSTURE_SENSITIVITY" default:"20"`
	// Sessions without activity for this long are closed
	IdleTimeout time.Duration `envconfig:"POSTURE_SESSION_IDLE_TIMEOUT" default:"30m"`
	// Maximum number of concurrently open sessions, 0 means unlimited
	MaxSessions int `envconfig:"POSTURE_MAX_SESSIONS" default:"1024"`
	// Persist captured samples so a reopened session gets them back
	JournalEnabled bool `envconfig:"POSTURE_JOURNAL_ENABLED" default:"false"`
	// Buffer size that triggers a journal flush
	JournalFlushSize int `envconfig:"POSTURE_JOURNAL_FLUSH_SIZE" default:"50"`
	// Maximum time a captured sample waits in the buffer
	JournalFlushTime time.Duration `envconfig:"POSTURE_JOURNAL_FLUSH_TIME" default:"5s"`
	// Maximum journaled samples per session, 0 disables trimming
	JournalMaxItems int `envconfig:"POSTURE_JOURNAL_MAX_ITEMS" default:"100000"`
	// Journaled samples older than this are dropped, 0 disables expiry
	JournalMaxAge time.Duration `envconfig:"POSTURE_JOURNAL_MAX_AGE" default:"0s"`
	// Interval of the journal retention pass
	JournalRetentionInterval time.Duration `envconfig:"POSTURE_JOURNAL_RETENTION_INTERVAL" default:"1m"`
	// Keep a copy of every export in the database
	ArchiveExports bool `envconfig:"POSTURE_ARCHIVE_EXPORTS" default:"false"`
}
