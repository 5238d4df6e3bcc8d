package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/posvault/internal/config"
	"github.com/roach88/posvault/internal/snapshot"
	"github.com/roach88/posvault/internal/store"
)

// LastBackupSetting is the settings key holding the last successful backup
// time.
const LastBackupSetting = "last_backup"

// SinkFactory builds the sinks for a backup configuration.
type SinkFactory func(ctx context.Context, cfg config.Backup) ([]Sink, error)

// Result summarizes one backup cycle.
type Result struct {
	Timestamp time.Time
	FileName  string
	Size      int
	Delivered []string
	Failed    map[string]error
}

// Scheduler runs backup cycles on a timer and on demand.
//
// Concurrent cycles are coalesced: a "backup now" that arrives while a
// timer cycle is running shares that cycle's result.
type Scheduler struct {
	store    *store.Store
	factory  SinkFactory
	tenantID string
	appName  string
	now      func() time.Time
	logger   *slog.Logger

	flight singleflight.Group

	mu      sync.Mutex
	cfg     config.Backup
	sinks   []Sink
	cancel  context.CancelFunc
	stopped chan struct{}

	lastStamp time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithAppName sets the application name used in backup file names.
func WithAppName(name string) Option {
	return func(s *Scheduler) { s.appName = name }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// NewScheduler creates a scheduler for the tenant's store. It does not start
// the timer; call Enable, or Update with auto backup enabled.
func NewScheduler(ctx context.Context, st *store.Store, tenantID string, cfg config.Backup, factory SinkFactory, opts ...Option) (*Scheduler, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("backup scheduler: %w: tenant id is required", config.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Scheduler{
		store:    st,
		factory:  factory,
		tenantID: tenantID,
		appName:  "posvault",
		now:      func() time.Time { return time.Now().UTC() },
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	sinks, err := factory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("backup scheduler: %w", err)
	}
	s.cfg = cfg
	s.sinks = sinks
	return s, nil
}

// Config returns the active configuration.
func (s *Scheduler) Config() config.Backup {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Enabled reports whether the timer is running.
func (s *Scheduler) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Enable starts the timer. The first cycle runs immediately, then one every
// interval. Enabling a running scheduler does nothing.
func (s *Scheduler) Enable(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked(ctx)
}

// Disable stops future cycles. A cycle already running completes and
// records its timestamp before Disable returns.
func (s *Scheduler) Disable() {
	s.mu.Lock()
	cancel, stopped := s.cancel, s.stopped
	s.cancel, s.stopped = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-stopped
	s.logger.Info("automatic backup disabled")
}

// Update applies a new configuration: sinks are rebuilt, and the timer is
// started, stopped or restarted to match AutoBackupEnabled and the interval.
func (s *Scheduler) Update(ctx context.Context, cfg config.Backup) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	sinks, err := s.factory(ctx, cfg)
	if err != nil {
		return fmt.Errorf("update backup config: %w", err)
	}

	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	s.sinks = sinks
	running := s.cancel != nil
	s.mu.Unlock()

	switch {
	case !cfg.AutoBackupEnabled && running:
		s.Disable()
	case cfg.AutoBackupEnabled && !running:
		s.Enable(ctx)
	case cfg.AutoBackupEnabled && running && prev.IntervalMinutes != cfg.IntervalMinutes:
		s.Disable()
		s.Enable(ctx)
	}
	return nil
}

// startLocked launches the timer loop. Callers hold s.mu.
func (s *Scheduler) startLocked(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	s.cancel, s.stopped = cancel, stopped

	interval := s.cfg.Interval()
	s.logger.Info("automatic backup enabled", "interval", interval.String())
	go s.loop(loopCtx, interval, stopped)
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, stopped chan struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		// Cancellation stops the loop but not a cycle already under way.
		if _, err := s.RunCycle(context.WithoutCancel(ctx)); err != nil {
			s.logger.Error("scheduled backup failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunCycle takes one backup now. Concurrent calls share a single cycle.
//
// The cycle fails without touching the last backup timestamp if the store
// cannot be read or if every sink fails.
func (s *Scheduler) RunCycle(ctx context.Context) (*Result, error) {
	v, err, _ := s.flight.Do("cycle", func() (any, error) {
		return s.runCycle(ctx)
	})
	res, _ := v.(*Result)
	return res, err
}

// stamp returns the cycle timestamp at millisecond precision. Stamps are
// strictly increasing so two cycles never share a file name.
func (s *Scheduler) stamp() time.Time {
	ts := s.now().Truncate(time.Millisecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !ts.After(s.lastStamp) {
		ts = s.lastStamp.Add(time.Millisecond)
	}
	s.lastStamp = ts
	return ts
}

func (s *Scheduler) runCycle(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	sinks := s.sinks
	s.mu.Unlock()

	if len(sinks) == 0 {
		return nil, ErrNoSinks
	}

	all, err := s.store.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("backup: read store: %w", err)
	}

	ts := s.stamp()
	doc := snapshot.FromRecords(all, s.tenantID, ts)
	data, err := snapshot.Encode(doc)
	if err != nil {
		return nil, fmt.Errorf("backup: %w", err)
	}
	name := snapshot.FileName(s.appName, s.tenantID, ts)

	errs := make([]error, len(sinks))
	var g errgroup.Group
	for i, sink := range sinks {
		i, sink := i, sink
		g.Go(func() error {
			errs[i] = sink.Deliver(ctx, name, data)
			return nil
		})
	}
	_ = g.Wait()

	res := &Result{
		Timestamp: ts,
		FileName:  name,
		Size:      len(data),
		Delivered: []string{},
		Failed:    map[string]error{},
	}
	for i, sink := range sinks {
		if errs[i] != nil {
			res.Failed[sink.Name()] = errs[i]
			s.logger.Warn("backup delivery failed", "sink", sink.Name(), "file", name, "error", errs[i])
			continue
		}
		res.Delivered = append(res.Delivered, sink.Name())
	}

	if len(res.Delivered) == 0 {
		return res, fmt.Errorf("%w: %w", ErrAllSinksFailed, errors.Join(errs...))
	}

	if err := s.store.SetSetting(ctx, LastBackupSetting, snapshot.FormatTimestamp(ts)); err != nil {
		return res, fmt.Errorf("backup delivered but timestamp not recorded: %w", err)
	}

	s.logger.Info("backup completed",
		"file", name,
		"bytes", len(data),
		"records", doc.Count(),
		"delivered", res.Delivered,
		"failed", len(res.Failed))
	return res, nil
}

// LastBackup returns the time of the last successful backup. ok is false if
// none has been recorded.
func (s *Scheduler) LastBackup(ctx context.Context) (time.Time, bool, error) {
	return ReadLastBackup(ctx, s.store)
}

// ReadLastBackup reads the last successful backup time from a store.
func ReadLastBackup(ctx context.Context, st *store.Store) (time.Time, bool, error) {
	v, err := st.Setting(ctx, LastBackupSetting)
	if errors.Is(err, store.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := time.Parse(snapshot.TimestampLayout, v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse %s: %w", LastBackupSetting, err)
	}
	return t, true, nil
}
