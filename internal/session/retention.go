package session

import (
	"context"
	"fmt"
	"time"

	"github.com/go-sod/posture/internal/logging"
)

type retentionOptions struct {
	maxItems int
	maxAge   time.Duration
	interval time.Duration
	clock    func() time.Time
}

// Journal access used by the retention pass
type (
	fetchKeysFn      func() ([]string, error)
	countBySessionFn func(string) (int, error)
	deleteOldestFn   func(context.Context, string, int) error
	deleteBeforeFn   func(context.Context, string, time.Time) error
)

type retentionDeps struct {
	keys         fetchKeysFn
	count        countBySessionFn
	deleteOldest deleteOldestFn
	deleteBefore deleteBeforeFn
}

func newRetention(opts retentionOptions, deps retentionDeps) *retention {
	if opts.clock == nil {
		opts.clock = time.Now
	}
	return &retention{opts: opts, deps: deps}
}

// retention keeps every session journal below maxItems samples and drops
// samples older than maxAge. Zero disables either rule.
type retention struct {
	opts retentionOptions
	deps retentionDeps
}

// trimSize deletes the oldest samples of sessions holding more than maxItems.
func (r *retention) trimSize(ctx context.Context) error {
	keys, err := r.deps.keys()
	if err != nil {
		return fmt.Errorf("unable fetch keys: %w", err)
	}
	for i := range keys {
		n, err := r.deps.count(keys[i])
		if err != nil {
			return fmt.Errorf("unable count by session %s: %w", keys[i], err)
		}
		if n <= r.opts.maxItems {
			continue
		}
		if err := r.deps.deleteOldest(ctx, keys[i], n-r.opts.maxItems); err != nil {
			return fmt.Errorf("unable trim session %s: %w", keys[i], err)
		}
	}
	return nil
}

func (r *retention) expire(ctx context.Context) error {
	keys, err := r.deps.keys()
	if err != nil {
		return fmt.Errorf("unable fetch keys: %w", err)
	}
	before := r.opts.clock().Add(-r.opts.maxAge)
	for i := range keys {
		if err := r.deps.deleteBefore(ctx, keys[i], before); err != nil {
			return fmt.Errorf("unable expire session %s: %w", keys[i], err)
		}
	}
	return nil
}

func (r *retention) pass(ctx context.Context) {
	logger := logging.FromContext(ctx)
	if r.opts.maxItems > 0 {
		if err := r.trimSize(ctx); err != nil {
			logger.Errorf("unable journal trim size: %v", err)
		}
	}
	if r.opts.maxAge > 0 {
		if err := r.expire(ctx); err != nil {
			logger.Errorf("unable journal expire: %v", err)
		}
	}
}

func (r *retention) schedule(ctx context.Context) {
	ticker := time.NewTicker(r.opts.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.pass(ctx)
		case <-ctx.Done():
			return
		}
	}
}
