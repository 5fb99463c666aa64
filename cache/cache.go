// Package cache holds the authoritative in-memory snapshot of each mirrored
// dataset and reconciles local review edits against remote refreshes. It is
// the single source of truth served to the HTTP layer; SharePoint is only
// eventually consistent with it.
package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/dataset"
	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/versionstore"
)

// localEditGuard is the window during which a finishing remote refresh is
// discarded after a user edit. A refetch that started before the edit would
// otherwise overwrite it with stale remote data. This is a heuristic, not a
// linearizability guarantee: a refresh delayed past the window may still win,
// at which point remote truth is assumed to reflect a genuinely later change.
const localEditGuard = 5 * time.Second

// Source fetches the full remote content of one dataset.
type Source interface {
	FetchRows(ctx context.Context, id dataset.ID) ([]dataset.Row, error)
}

// EditRecorder receives every applied local edit. Implemented by audit.Log;
// recording is best-effort and must never block or fail the edit path.
type EditRecorder interface {
	RecordEdit(ctx context.Context, id dataset.ID, rowIDs []string, status, editor string)
}

// Service is the dataset cache. One entry per dataset, each with its own
// lock: concurrent reads are cheap, writes to different datasets never
// contend with each other.
type Service struct {
	source   Source
	store    *versionstore.Store
	logger   *slog.Logger
	now      func() time.Time
	guard    time.Duration
	wake     func()
	recorder EditRecorder

	entries map[dataset.ID]*entry
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithGuard overrides the local-edit guard window, for tests.
func WithGuard(d time.Duration) Option {
	return func(s *Service) { s.guard = d }
}

// WithWake sets the hook invoked after every applied local edit so the
// reconciliation loop re-checks promptly instead of waiting out its timer.
func WithWake(fn func()) Option {
	return func(s *Service) { s.wake = fn }
}

// WithRecorder attaches an edit audit recorder.
func WithRecorder(r EditRecorder) Option {
	return func(s *Service) { s.recorder = r }
}

// New creates the cache with one empty entry per dataset and seeds the
// last-change bookkeeping from the durable version store, so a restart does
// not re-announce datasets that have not moved.
func New(source Source, store *versionstore.Store, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		source:  source,
		store:   store,
		logger:  logger,
		now:     time.Now,
		guard:   localEditGuard,
		entries: make(map[dataset.ID]*entry),
	}
	persisted := store.Load()
	for _, id := range dataset.All() {
		s.entries[id] = &entry{lastChange: persisted[id]}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns a copy of the dataset's current table plus the display
// timestamp. With forceRefresh (or an empty cache) it refreshes from remote
// first; refresh failures are logged and the prior content is served.
func (s *Service) Snapshot(ctx context.Context, id dataset.ID, forceRefresh bool) ([]dataset.Row, string, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, "", err
	}

	if forceRefresh || e.empty() {
		if _, err := s.RefreshFromRemote(ctx, id); err != nil {
			s.logger.Error("cache: refresh failed, serving cached content", "dataset", id, "error", err)
		}
	}

	rows := e.snapshot()
	return rows, dataset.DisplayTimestamp(rows), nil
}

// ApplyEdit sets the review status on every row whose id matches one of the
// given ids (string comparison, so numeric JSON ids match string row ids),
// stamps modification time and attribution, and persists the new version.
// Returns the number of rows changed. Zero matches is a warning, not an
// error: the cache and its timestamps stay untouched.
func (s *Service) ApplyEdit(ctx context.Context, id dataset.ID, rowIDs []string, status, editor string) (int, error) {
	e, err := s.entry(id)
	if err != nil {
		return 0, err
	}

	now := s.now().UTC()
	nowSec := unixSeconds(now)

	n := e.applyEdit(rowIDs, status, editor, now, nowSec)
	if n == 0 {
		s.logger.Warn("cache: edit matched no rows", "dataset", id, "ids", rowIDs)
		return 0, nil
	}

	if err := s.store.Set(id, nowSec); err != nil {
		s.logger.Error("cache: persist version failed", "dataset", id, "error", err)
	}
	if s.recorder != nil {
		s.recorder.RecordEdit(ctx, id, rowIDs, status, editor)
	}
	if s.wake != nil {
		s.wake()
	}

	s.logger.Info("cache: local edit applied", "dataset", id, "rows", n, "status", status, "editor", editor)
	return n, nil
}

// RefreshFromRemote fetches the dataset's full remote content and, unless a
// local edit happened within the guard window, installs it as the new table.
// When the guard trips the fetch result is deliberately discarded and the
// existing table is returned unchanged; when the fetch fails the existing
// table is returned with the error.
func (s *Service) RefreshFromRemote(ctx context.Context, id dataset.ID) ([]dataset.Row, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}

	rows, err := s.source.FetchRows(ctx, id)
	if err != nil {
		return e.snapshot(), err
	}

	for i := range rows {
		rows[i].Index = i + 1
	}

	nowSec := unixSeconds(s.now())
	installed := e.install(rows, nowSec, s.guard)
	if !installed {
		s.logger.Warn("cache: discarding fetch, local edit is more recent", "dataset", id)
		return e.snapshot(), nil
	}

	if err := s.store.Set(id, nowSec); err != nil {
		s.logger.Error("cache: persist version failed", "dataset", id, "error", err)
	}

	s.logger.Info("cache: refreshed from remote", "dataset", id, "rows", len(rows))
	return e.snapshot(), nil
}

// Version returns the dataset's last-change timestamp in fractional seconds.
func (s *Service) Version(id dataset.ID) float64 {
	if e, err := s.entry(id); err == nil {
		return e.version()
	}
	return 0
}

// CurrentVersion returns the last-change timestamp of every dataset.
func (s *Service) CurrentVersion() map[dataset.ID]float64 {
	out := make(map[dataset.ID]float64, len(s.entries))
	for id, e := range s.entries {
		out[id] = e.version()
	}
	return out
}

// LocalEditAge returns the time elapsed since the dataset's most recent local
// edit. Used only for race suppression, never for display.
func (s *Service) LocalEditAge(id dataset.ID) time.Duration {
	e, err := s.entry(id)
	if err != nil {
		return time.Duration(1<<63 - 1)
	}
	last := e.localEdit()
	if last == 0 {
		return time.Duration(1<<63 - 1)
	}
	return time.Duration((unixSeconds(s.now()) - last) * float64(time.Second))
}

// InEditGrace reports whether the dataset saw a local edit within the guard
// window. The reconciliation loop skips remote comparison for such datasets
// so a just-made edit is not immediately challenged by a stale remote fetch.
func (s *Service) InEditGrace(id dataset.ID) bool {
	return s.LocalEditAge(id) < s.guard
}

func (s *Service) entry(id dataset.ID) (*entry, error) {
	e, ok := s.entries[id]
	if !ok {
		return nil, &UnknownDatasetError{ID: id}
	}
	return e, nil
}

// UnknownDatasetError reports an operation against a dataset the cache was
// not constructed with.
type UnknownDatasetError struct {
	ID dataset.ID
}

func (e *UnknownDatasetError) Error() string {
	return "cache: unknown dataset " + string(e.ID)
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
