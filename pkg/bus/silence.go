package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hiveforge-labs/hiveforge/pkg/akashic"
	"github.com/hiveforge-labs/hiveforge/pkg/event"
)

const silenceActor = "silence_detector"

// SilenceCallback is invoked when a run goes quiet.
type SilenceCallback func(runID string, silentFor time.Duration)

// SilenceDetector watches one run for stalled activity. Activity resets
// the clock; a wake finding more than twice the interval of silence
// appends system.silence_detected to the run stream and notifies the
// callback. The detector resets itself before invoking the callback, so
// a silence that develops during a slow callback is still caught on a
// later wake.
type SilenceDetector struct {
	runID    string
	interval time.Duration
	store    *akashic.Store
	callback SilenceCallback
	logger   *slog.Logger
	clock    func() time.Time

	mu           sync.Mutex
	lastActivity time.Time
	fired        int
	cancel       context.CancelFunc
}

// DetectorOption customizes a detector.
type DetectorOption func(*SilenceDetector)

// WithDetectorClock injects a clock for tests.
func WithDetectorClock(clock func() time.Time) DetectorOption {
	return func(d *SilenceDetector) { d.clock = clock }
}

// WithDetectorLogger sets the structured logger.
func WithDetectorLogger(l *slog.Logger) DetectorOption {
	return func(d *SilenceDetector) { d.logger = l }
}

// NewSilenceDetector creates a detector for one run. The callback may
// be nil.
func NewSilenceDetector(store *akashic.Store, runID string, interval time.Duration, callback SilenceCallback, opts ...DetectorOption) *SilenceDetector {
	d := &SilenceDetector{
		runID:    runID,
		interval: interval,
		store:    store,
		callback: callback,
		logger:   slog.Default().With("component", "silence", "run_id", runID),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.lastActivity = d.clock()
	return d
}

// RecordActivity resets the silence clock.
func (d *SilenceDetector) RecordActivity(ts time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ts.After(d.lastActivity) {
		d.lastActivity = ts
	}
}

// Fired returns how many silences this detector has reported.
func (d *SilenceDetector) Fired() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fired
}

// Check performs one wake at the given instant. It returns true when a
// silence was detected and reported.
func (d *SilenceDetector) Check(ctx context.Context, now time.Time) bool {
	d.mu.Lock()
	silentFor := now.Sub(d.lastActivity)
	if silentFor <= 2*d.interval {
		d.mu.Unlock()
		return false
	}
	// Reset before reporting so the next silence window starts now.
	d.lastActivity = now
	d.fired++
	d.mu.Unlock()

	e, err := event.New(event.TypeSystemSilenceDetected, silenceActor, map[string]any{
		"silent_seconds":   silentFor.Seconds(),
		"interval_seconds": d.interval.Seconds(),
	}, event.WithRunID(d.runID))
	if err == nil {
		err = d.store.Append(ctx, e)
	}
	if err != nil {
		d.logger.Error("silence event append failed", "error", err)
	}

	if d.callback != nil {
		d.callback(d.runID, silentFor)
	}
	d.logger.Warn("silence detected", "silent_for", silentFor)
	return true
}

// Start launches the background wake loop. Stop or context cancellation
// ends it.
func (d *SilenceDetector) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	go func() {
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				d.Check(ctx, now)
			}
		}
	}()
}

// Stop ends the background loop if one is running.
func (d *SilenceDetector) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// HeartbeatManager multiplexes silence detectors across runs.
type HeartbeatManager struct {
	store    *akashic.Store
	interval time.Duration
	callback SilenceCallback
	opts     []DetectorOption

	mu        sync.Mutex
	detectors map[string]*SilenceDetector
}

// NewHeartbeatManager creates a manager; new detectors inherit the
// interval, callback, and options.
func NewHeartbeatManager(store *akashic.Store, interval time.Duration, callback SilenceCallback, opts ...DetectorOption) *HeartbeatManager {
	return &HeartbeatManager{
		store:     store,
		interval:  interval,
		callback:  callback,
		opts:      opts,
		detectors: make(map[string]*SilenceDetector),
	}
}

// Track starts watching a run. Tracking an already-tracked run returns
// the existing detector.
func (m *HeartbeatManager) Track(ctx context.Context, runID string) *SilenceDetector {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.detectors[runID]; ok {
		return d
	}
	d := NewSilenceDetector(m.store, runID, m.interval, m.callback, m.opts...)
	m.detectors[runID] = d
	d.Start(ctx)
	return d
}

// RecordActivity forwards a heartbeat to the run's detector, if any.
func (m *HeartbeatManager) RecordActivity(runID string, ts time.Time) {
	m.mu.Lock()
	d := m.detectors[runID]
	m.mu.Unlock()
	if d != nil {
		d.RecordActivity(ts)
	}
}

// Untrack stops and removes a run's detector.
func (m *HeartbeatManager) Untrack(runID string) {
	m.mu.Lock()
	d := m.detectors[runID]
	delete(m.detectors, runID)
	m.mu.Unlock()
	if d != nil {
		d.Stop()
	}
}

// StopAll stops every detector.
func (m *HeartbeatManager) StopAll() {
	m.mu.Lock()
	detectors := make([]*SilenceDetector, 0, len(m.detectors))
	for _, d := range m.detectors {
		detectors = append(detectors, d)
	}
	m.detectors = make(map[string]*SilenceDetector)
	m.mu.Unlock()
	for _, d := range detectors {
		d.Stop()
	}
}

// Tracked returns how many runs are being watched.
func (m *HeartbeatManager) Tracked() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.detectors)
}
