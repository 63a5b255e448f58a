// Package monitor drives detect, classify and sync cycles from sampled frames.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"parking-occupancy-service/internal/capture"
	"parking-occupancy-service/internal/classifier"
	"parking-occupancy-service/internal/detector"
	"parking-occupancy-service/internal/domain/occupancy"
	"parking-occupancy-service/internal/lock"
	"parking-occupancy-service/internal/metrics"
	"parking-occupancy-service/internal/registry"
)

var ErrLeaseHeld = errors.New("sync lease held by another process")

const captureRetryDelay = time.Second

type LayoutProvider interface {
	Current() (registry.Layout, bool)
}

type Syncer interface {
	Sync(ctx context.Context, verdicts []occupancy.Verdict, mapping occupancy.SpotMapping) (occupancy.SyncReport, error)
}

type Lease interface {
	TryLock(ctx context.Context, key string) (string, bool, error)
	Extend(ctx context.Context, key, token string) (bool, error)
	Release(ctx context.Context, key, token string) error
}

type Notifier interface {
	PublishTransitions(transitions []occupancy.TransitionEvent, snapshotURL string) error
}

type SnapshotStore interface {
	UploadSnapshot(ctx context.Context, cameraID string, frame capture.Frame) (string, error)
}

// Deps are the collaborators of a Monitor. Lease, Notifier, Snapshots and
// Metrics are optional.
type Deps struct {
	Frames    capture.FrameSource
	Detector  detector.Detector
	Layouts   LayoutProvider
	Engine    Syncer
	Lease     Lease
	Notifier  Notifier
	Snapshots SnapshotStore
	Metrics   *metrics.Metrics
}

type Options struct {
	CameraID              string
	FrameSkip             int
	DetectorMinConfidence float64
	Classifier            classifier.Options
	// LeaseTTL is extended every third of itself while a cycle holds the lease.
	// Zero disables renewal.
	LeaseTTL time.Duration
}

type CycleResult struct {
	Detections  int                  `json:"detections"`
	Verdicts    []occupancy.Verdict  `json:"verdicts"`
	Report      occupancy.SyncReport `json:"report"`
	SnapshotURL string               `json:"snapshot_url,omitempty"`
	Source      string               `json:"layout_source"`
}

type Monitor struct {
	deps     Deps
	opts     Options
	log      zerolog.Logger
	inflight sync.Mutex
	frames   uint64
}

func New(deps Deps, opts Options, log zerolog.Logger) *Monitor {
	if opts.FrameSkip < 1 {
		opts.FrameSkip = 1
	}
	return &Monitor{
		deps: deps,
		opts: opts,
		log:  log.With().Str("camera_id", opts.CameraID).Logger(),
	}
}

// Run consumes frames until ctx is cancelled, running a cycle on every
// FrameSkip-th frame. Cycles never overlap.
func (m *Monitor) Run(ctx context.Context) error {
	m.log.Info().
		Int("frame_skip", m.opts.FrameSkip).
		Msg("occupancy monitor started")

	for {
		frame, err := m.deps.Frames.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				m.log.Info().Msg("occupancy monitor stopped")
				return nil
			}
			m.log.Warn().Err(err).Msg("failed to capture frame")
			if !sleep(ctx, captureRetryDelay) {
				m.log.Info().Msg("occupancy monitor stopped")
				return nil
			}
			continue
		}

		m.frames++
		if m.frames%uint64(m.opts.FrameSkip) != 0 {
			continue
		}

		if _, err := m.ProcessFrame(ctx, frame); err != nil {
			m.logCycleError(err)
		}
	}
}

// ProcessFrame runs one cycle on a captured frame.
func (m *Monitor) ProcessFrame(ctx context.Context, frame capture.Frame) (*CycleResult, error) {
	if !m.inflight.TryLock() {
		m.deps.Metrics.CycleRejected(metrics.CycleResultBusy)
		return nil, occupancy.ErrCycleInFlight
	}
	defer m.inflight.Unlock()

	detections, err := m.deps.Detector.Detect(ctx, frame, m.opts.DetectorMinConfidence)
	if err != nil {
		m.deps.Metrics.DetectorFailed()
		m.log.Warn().
			Err(err).
			Uint64("frame_seq", frame.Seq).
			Msg("detector failed, continuing with no detections")
		detections = nil
	}
	return m.cycle(ctx, detections, &frame)
}

// ProcessDetections runs one cycle on detections supplied by an external
// detector. It shares the in-flight guard with the capture loop.
func (m *Monitor) ProcessDetections(ctx context.Context, detections []occupancy.Detection) (*CycleResult, error) {
	if !m.inflight.TryLock() {
		m.deps.Metrics.CycleRejected(metrics.CycleResultBusy)
		return nil, occupancy.ErrCycleInFlight
	}
	defer m.inflight.Unlock()

	return m.cycle(ctx, detections, nil)
}

func (m *Monitor) cycle(ctx context.Context, detections []occupancy.Detection, frame *capture.Frame) (*CycleResult, error) {
	layout, ok := m.deps.Layouts.Current()
	if !ok {
		m.deps.Metrics.CycleRejected(metrics.CycleResultSkipped)
		return nil, occupancy.ErrNoSpotsAvailable
	}

	if m.deps.Lease != nil {
		key := lock.Key(m.opts.CameraID)
		token, acquired, err := m.deps.Lease.TryLock(ctx, key)
		if err != nil {
			m.deps.Metrics.CycleRejected(metrics.CycleResultSkipped)
			return nil, fmt.Errorf("%w: %v", ErrLeaseHeld, err)
		}
		if !acquired {
			m.deps.Metrics.CycleRejected(metrics.CycleResultSkipped)
			return nil, ErrLeaseHeld
		}
		defer func() {
			if err := m.deps.Lease.Release(context.WithoutCancel(ctx), key, token); err != nil {
				m.log.Warn().Err(err).Msg("failed to release sync lease")
			}
		}()
		stopRenewal := m.renewLease(ctx, key, token)
		defer stopRenewal()
	}

	start := time.Now()
	m.deps.Metrics.ObserveDetections(len(detections))
	verdicts := classifier.Classify(layout.Spots, detections, m.opts.Classifier)

	report, err := m.deps.Engine.Sync(ctx, verdicts, layout.Mapping)
	result := &CycleResult{
		Detections: len(detections),
		Verdicts:   verdicts,
		Report:     report,
		Source:     layout.Source,
	}
	if err != nil {
		m.deps.Metrics.ObserveCycle(report, metrics.CycleResultUnreachable, time.Since(start))
		return result, err
	}
	m.deps.Metrics.ObserveCycle(report, metrics.CycleResultOK, time.Since(start))

	m.log.Debug().
		Int("detections", len(detections)).
		Int("updated", report.Updated).
		Int("unchanged", report.Unchanged).
		Int("skipped", len(report.Skipped)).
		Int("inconsistencies", len(report.Inconsistencies)).
		Dur("elapsed", time.Since(start)).
		Msg("sync cycle completed")

	if len(report.Transitions) > 0 {
		m.afterTransitions(ctx, result, frame)
	}
	return result, nil
}

// renewLease extends the lease in the background so a cycle slower than the
// TTL keeps single-writer protection. The returned func stops renewal and
// waits for it to finish.
func (m *Monitor) renewLease(ctx context.Context, key, token string) func() {
	if m.opts.LeaseTTL <= 0 {
		return func() {}
	}
	interval := m.opts.LeaseTTL / 3
	if interval <= 0 {
		interval = m.opts.LeaseTTL
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := m.deps.Lease.Extend(ctx, key, token)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					m.log.Warn().Err(err).Msg("failed to extend sync lease")
					continue
				}
				if !ok {
					m.log.Error().Msg("sync lease lost during cycle")
					return
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// afterTransitions uploads the frame and publishes transitions. Failures are
// logged only; the store is already up to date.
func (m *Monitor) afterTransitions(ctx context.Context, result *CycleResult, frame *capture.Frame) {
	if frame != nil && m.deps.Snapshots != nil {
		url, err := m.deps.Snapshots.UploadSnapshot(ctx, m.opts.CameraID, *frame)
		if err != nil {
			m.log.Warn().Err(err).Uint64("frame_seq", frame.Seq).Msg("failed to upload snapshot")
		} else {
			result.SnapshotURL = url
		}
	}

	if m.deps.Notifier != nil {
		if err := m.deps.Notifier.PublishTransitions(result.Report.Transitions, result.SnapshotURL); err != nil {
			m.log.Warn().
				Err(err).
				Int("transitions", len(result.Report.Transitions)).
				Msg("failed to publish transitions")
		}
	}
}

func (m *Monitor) logCycleError(err error) {
	switch {
	case errors.Is(err, occupancy.ErrCycleInFlight), errors.Is(err, ErrLeaseHeld):
		m.log.Warn().Err(err).Msg("sync cycle skipped")
	case errors.Is(err, occupancy.ErrNoSpotsAvailable):
		m.log.Error().Err(err).Msg("no spot layout loaded, cycle skipped")
	default:
		m.log.Error().Err(err).Msg("sync cycle failed")
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
