// Package monitor runs the change reconciliation loop: a supervisory process
// that compares the durable version file against the in-memory cache, pulls
// remote-origin changes in, and announces datasets that actually moved to the
// connected clients.
package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/dataset"
	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/versionstore"
)

const (
	// defaultInterval is the liveness floor: the loop re-checks at least
	// this often even without a wake signal.
	defaultInterval = 10 * time.Second

	// defaultBackoff is the pause after a failed tick.
	defaultBackoff = 5 * time.Second

	// syncEpsilon pads the persisted-vs-cached comparison so float jitter
	// does not flap a refresh.
	syncEpsilon = 0.1

	// emitEpsilon suppresses duplicate broadcasts for version deltas below
	// measurement noise.
	emitEpsilon = 0.001
)

// Cache is the slice of the dataset cache the loop needs.
type Cache interface {
	RefreshFromRemote(ctx context.Context, id dataset.ID) ([]dataset.Row, error)
	Snapshot(ctx context.Context, id dataset.ID, forceRefresh bool) ([]dataset.Row, string, error)
	Version(id dataset.ID) float64
	InEditGrace(id dataset.ID) bool
}

// VersionReader reads the durable version file.
type VersionReader interface {
	Load() versionstore.Versions
}

// Broadcaster fans an event out to all connected clients. Implemented by
// *presence.Hub.
type Broadcaster interface {
	Broadcast(event string, payload any)
}

// ChangeEvent is the payload of a "server_update" broadcast.
type ChangeEvent struct {
	Source      string  `json:"source"`
	Version     float64 `json:"version"`
	LastUpdated string  `json:"last_updated"`
}

// Loop is the reconciliation loop. Create with New, start with Run, nudge
// with Wake.
type Loop struct {
	cache    Cache
	versions VersionReader
	bc       Broadcaster
	logger   *slog.Logger
	interval time.Duration
	backoff  time.Duration

	// wake is a single-slot notify channel: an edit requests an early
	// re-check, repeated signals coalesce.
	wake chan struct{}

	lastEmitted map[dataset.ID]float64
}

// Option configures a Loop.
type Option func(*Loop)

// WithInterval overrides the maximum wait between ticks.
func WithInterval(d time.Duration) Option {
	return func(l *Loop) { l.interval = d }
}

// WithBackoff overrides the pause after a failed tick.
func WithBackoff(d time.Duration) Option {
	return func(l *Loop) { l.backoff = d }
}

// New creates a Loop.
func New(c Cache, versions VersionReader, bc Broadcaster, logger *slog.Logger, opts ...Option) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loop{
		cache:       c,
		versions:    versions,
		bc:          bc,
		logger:      logger,
		interval:    defaultInterval,
		backoff:     defaultBackoff,
		wake:        make(chan struct{}, 1),
		lastEmitted: make(map[dataset.ID]float64),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Wake requests an out-of-band tick. Never blocks; signals sent while a wake
// is already pending coalesce into one.
func (l *Loop) Wake() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is cancelled. Each iteration waits for a wake signal
// or the interval, whichever comes first, then runs one tick. A tick error is
// logged and followed by a backoff pause; the loop itself never terminates
// on error.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("monitor: started", "interval", l.interval)

	timer := time.NewTimer(l.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("monitor: stopped")
			return
		case <-l.wake:
		case <-timer.C:
		}

		if err := l.Tick(ctx); err != nil {
			l.logger.Error("monitor: tick failed", "error", err)
			select {
			case <-ctx.Done():
				l.logger.Info("monitor: stopped")
				return
			case <-time.After(l.backoff):
			}
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(l.interval)
	}
}

// Tick runs one reconciliation pass: pull remote-origin changes into the
// cache, then broadcast every dataset whose version moved since the last
// announcement. Exported so the edit path's wake and tests exercise the same
// code as the timer.
func (l *Loop) Tick(ctx context.Context) error {
	persisted := l.versions.Load()

	var firstErr error
	for _, id := range dataset.All() {
		// A fresh local edit wins over remote state for the guard window;
		// re-checking now would only fetch data the cache must discard.
		if l.cache.InEditGrace(id) {
			continue
		}

		if persisted[id] > l.cache.Version(id)+syncEpsilon {
			l.logger.Info("monitor: remote change detected",
				"dataset", id, "persisted", persisted[id], "cached", l.cache.Version(id))
			if _, err := l.cache.RefreshFromRemote(ctx, id); err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
		}
	}

	for _, id := range dataset.All() {
		v := l.cache.Version(id)
		if v <= l.lastEmitted[id]+emitEpsilon {
			continue
		}

		_, display, err := l.cache.Snapshot(ctx, id, false)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		l.bc.Broadcast("server_update", ChangeEvent{
			Source:      string(id),
			Version:     v,
			LastUpdated: display,
		})
		l.lastEmitted[id] = v
		l.logger.Debug("monitor: change broadcast", "dataset", id, "version", v)
	}

	return firstErr
}
