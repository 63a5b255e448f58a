package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parking-occupancy-service/internal/capture"
	"parking-occupancy-service/internal/classifier"
	"parking-occupancy-service/internal/domain/occupancy"
	"parking-occupancy-service/internal/registry"
)

type sliceFrames struct {
	frames []capture.Frame
	cancel context.CancelFunc
	next   int
}

func (s *sliceFrames) Next(ctx context.Context) (capture.Frame, error) {
	if s.next >= len(s.frames) {
		s.cancel()
		return capture.Frame{}, ctx.Err()
	}
	f := s.frames[s.next]
	s.next++
	return f, nil
}

type cannedDetector struct {
	mu         sync.Mutex
	detections []occupancy.Detection
	err        error
	seqs       []uint64
	floors     []float64
}

func (d *cannedDetector) Detect(_ context.Context, frame capture.Frame, minConfidence float64) ([]occupancy.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seqs = append(d.seqs, frame.Seq)
	d.floors = append(d.floors, minConfidence)
	return d.detections, d.err
}

type staticLayouts struct {
	layout registry.Layout
	ok     bool
}

func (s staticLayouts) Current() (registry.Layout, bool) { return s.layout, s.ok }

type recordingSyncer struct {
	mu      sync.Mutex
	calls   [][]occupancy.Verdict
	report  occupancy.SyncReport
	err     error
	entered chan struct{}
	release chan struct{}
}

func (s *recordingSyncer) Sync(_ context.Context, verdicts []occupancy.Verdict, _ occupancy.SpotMapping) (occupancy.SyncReport, error) {
	s.mu.Lock()
	s.calls = append(s.calls, verdicts)
	s.mu.Unlock()
	if s.entered != nil {
		s.entered <- struct{}{}
		<-s.release
	}
	return s.report, s.err
}

type fakeLease struct {
	mu       sync.Mutex
	held     bool
	err      error
	lost     bool
	extended int
	released []string
}

func (l *fakeLease) Extend(context.Context, string, string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.extended++
	return !l.lost, nil
}

func (l *fakeLease) extendCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.extended
}

func (l *fakeLease) TryLock(context.Context, string) (string, bool, error) {
	if l.err != nil {
		return "", false, l.err
	}
	if l.held {
		return "", false, nil
	}
	return "token-1", true, nil
}

func (l *fakeLease) Release(_ context.Context, _ string, token string) error {
	l.released = append(l.released, token)
	return nil
}

type recordingNotifier struct {
	transitions []occupancy.TransitionEvent
	snapshotURL string
	calls       int
}

func (n *recordingNotifier) PublishTransitions(transitions []occupancy.TransitionEvent, snapshotURL string) error {
	n.calls++
	n.transitions = transitions
	n.snapshotURL = snapshotURL
	return nil
}

type recordingSnapshots struct {
	seqs []uint64
}

func (s *recordingSnapshots) UploadSnapshot(_ context.Context, _ string, frame capture.Frame) (string, error) {
	s.seqs = append(s.seqs, frame.Seq)
	return "https://cdn.example.com/snap.jpg", nil
}

func testLayout() registry.Layout {
	return registry.Layout{
		Spots: []occupancy.Spot{
			{ID: 1, Code: "A-01", Rect: occupancy.Rect{X1: 0, Y1: 0, X2: 100, Y2: 100}},
			{ID: 2, Code: "A-02", Rect: occupancy.Rect{X1: 200, Y1: 0, X2: 300, Y2: 100}},
		},
		Mapping: occupancy.SpotMapping{1: "A-01", 2: "A-02"},
		Source:  "store",
	}
}

func testOptions(frameSkip int) Options {
	return Options{
		CameraID:              "camera-001",
		FrameSkip:             frameSkip,
		DetectorMinConfidence: 0.25,
		Classifier:            classifier.DefaultOptions(),
	}
}

func carOverSpotOne() []occupancy.Detection {
	return []occupancy.Detection{{Label: "car", Confidence: 0.9, Rect: occupancy.Rect{X1: 10, Y1: 10, X2: 90, Y2: 90}}}
}

func TestRunSamplesEveryNthFrame(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frames := &sliceFrames{cancel: cancel}
	for i := 1; i <= 5; i++ {
		frames.frames = append(frames.frames, capture.Frame{Seq: uint64(i), Data: []byte{1}})
	}
	det := &cannedDetector{detections: carOverSpotOne()}
	syncer := &recordingSyncer{}

	m := New(Deps{
		Frames:   frames,
		Detector: det,
		Layouts:  staticLayouts{layout: testLayout(), ok: true},
		Engine:   syncer,
	}, testOptions(2), zerolog.Nop())

	require.NoError(t, m.Run(ctx))
	assert.Equal(t, []uint64{2, 4}, det.seqs)
	assert.Equal(t, []float64{0.25, 0.25}, det.floors)
	require.Len(t, syncer.calls, 2)
	assert.True(t, syncer.calls[0][0].Occupied)
	assert.Equal(t, "car", syncer.calls[0][0].MatchedClass)
	assert.False(t, syncer.calls[0][1].Occupied)
}

func TestProcessFrameDetectorFailureYieldsEmptyDetections(t *testing.T) {
	det := &cannedDetector{detections: carOverSpotOne(), err: errors.New("model crashed")}
	syncer := &recordingSyncer{}
	m := New(Deps{
		Detector: det,
		Layouts:  staticLayouts{layout: testLayout(), ok: true},
		Engine:   syncer,
	}, testOptions(1), zerolog.Nop())

	result, err := m.ProcessFrame(context.Background(), capture.Frame{Seq: 1, Data: []byte{1}})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Detections)
	require.Len(t, syncer.calls, 1)
	for _, v := range syncer.calls[0] {
		assert.False(t, v.Occupied)
	}
}

func TestProcessDetectionsRejectsOverlappingCycle(t *testing.T) {
	syncer := &recordingSyncer{entered: make(chan struct{}), release: make(chan struct{})}
	m := New(Deps{
		Layouts: staticLayouts{layout: testLayout(), ok: true},
		Engine:  syncer,
	}, testOptions(1), zerolog.Nop())

	done := make(chan error, 1)
	go func() {
		_, err := m.ProcessDetections(context.Background(), carOverSpotOne())
		done <- err
	}()

	select {
	case <-syncer.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first cycle never reached sync")
	}

	_, err := m.ProcessDetections(context.Background(), nil)
	assert.ErrorIs(t, err, occupancy.ErrCycleInFlight)

	close(syncer.release)
	require.NoError(t, <-done)
}

func TestCycleLease(t *testing.T) {
	t.Run("held elsewhere", func(t *testing.T) {
		syncer := &recordingSyncer{}
		m := New(Deps{
			Layouts: staticLayouts{layout: testLayout(), ok: true},
			Engine:  syncer,
			Lease:   &fakeLease{held: true},
		}, testOptions(1), zerolog.Nop())

		_, err := m.ProcessDetections(context.Background(), carOverSpotOne())
		assert.ErrorIs(t, err, ErrLeaseHeld)
		assert.Empty(t, syncer.calls)
	})

	t.Run("redis error skips cycle", func(t *testing.T) {
		syncer := &recordingSyncer{}
		m := New(Deps{
			Layouts: staticLayouts{layout: testLayout(), ok: true},
			Engine:  syncer,
			Lease:   &fakeLease{err: errors.New("connection refused")},
		}, testOptions(1), zerolog.Nop())

		_, err := m.ProcessDetections(context.Background(), carOverSpotOne())
		assert.ErrorIs(t, err, ErrLeaseHeld)
		assert.Empty(t, syncer.calls)
	})

	t.Run("released after cycle", func(t *testing.T) {
		lease := &fakeLease{}
		m := New(Deps{
			Layouts: staticLayouts{layout: testLayout(), ok: true},
			Engine:  &recordingSyncer{},
			Lease:   lease,
		}, testOptions(1), zerolog.Nop())

		_, err := m.ProcessDetections(context.Background(), carOverSpotOne())
		require.NoError(t, err)
		assert.Equal(t, []string{"token-1"}, lease.released)
	})
}

func TestTransitionsAreUploadedAndPublished(t *testing.T) {
	transitions := []occupancy.TransitionEvent{{SpotCode: "A-01", NewStatus: occupancy.StatusOccupied}}
	syncer := &recordingSyncer{report: occupancy.SyncReport{Updated: 1, Transitions: transitions}}
	notifier := &recordingNotifier{}
	snapshots := &recordingSnapshots{}
	m := New(Deps{
		Detector:  &cannedDetector{detections: carOverSpotOne()},
		Layouts:   staticLayouts{layout: testLayout(), ok: true},
		Engine:    syncer,
		Notifier:  notifier,
		Snapshots: snapshots,
	}, testOptions(1), zerolog.Nop())

	result, err := m.ProcessFrame(context.Background(), capture.Frame{Seq: 9, Data: []byte{1}})
	require.NoError(t, err)
	assert.Equal(t, []uint64{9}, snapshots.seqs)
	assert.Equal(t, "https://cdn.example.com/snap.jpg", result.SnapshotURL)
	assert.Equal(t, 1, notifier.calls)
	assert.Equal(t, "https://cdn.example.com/snap.jpg", notifier.snapshotURL)
	assert.Equal(t, transitions, notifier.transitions)

	_, err = m.ProcessDetections(context.Background(), carOverSpotOne())
	require.NoError(t, err)
	assert.Len(t, snapshots.seqs, 1)
	assert.Equal(t, 2, notifier.calls)
	assert.Empty(t, notifier.snapshotURL)
}

func TestNoNotificationWithoutTransitions(t *testing.T) {
	notifier := &recordingNotifier{}
	m := New(Deps{
		Layouts:  staticLayouts{layout: testLayout(), ok: true},
		Engine:   &recordingSyncer{report: occupancy.SyncReport{Unchanged: 2}},
		Notifier: notifier,
	}, testOptions(1), zerolog.Nop())

	_, err := m.ProcessDetections(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, notifier.calls)
}

func TestCycleErrors(t *testing.T) {
	m := New(Deps{
		Layouts: staticLayouts{},
		Engine:  &recordingSyncer{},
	}, testOptions(1), zerolog.Nop())
	_, err := m.ProcessDetections(context.Background(), nil)
	assert.ErrorIs(t, err, occupancy.ErrNoSpotsAvailable)

	unreachable := &recordingSyncer{err: occupancy.ErrStoreUnreachable}
	notifier := &recordingNotifier{}
	m = New(Deps{
		Layouts:  staticLayouts{layout: testLayout(), ok: true},
		Engine:   unreachable,
		Notifier: notifier,
	}, testOptions(1), zerolog.Nop())
	result, err := m.ProcessDetections(context.Background(), nil)
	assert.ErrorIs(t, err, occupancy.ErrStoreUnreachable)
	require.NotNil(t, result)
	assert.Equal(t, 0, notifier.calls)
}

func TestLeaseIsExtendedDuringSlowCycle(t *testing.T) {
	syncer := &recordingSyncer{entered: make(chan struct{}), release: make(chan struct{})}
	lease := &fakeLease{}
	opts := testOptions(1)
	opts.LeaseTTL = 30 * time.Millisecond
	m := New(Deps{
		Layouts: staticLayouts{layout: testLayout(), ok: true},
		Engine:  syncer,
		Lease:   lease,
	}, opts, zerolog.Nop())

	done := make(chan error, 1)
	go func() {
		_, err := m.ProcessDetections(context.Background(), carOverSpotOne())
		done <- err
	}()
	<-syncer.entered

	require.Eventually(t, func() bool { return lease.extendCount() >= 2 }, time.Second, 5*time.Millisecond)
	close(syncer.release)
	require.NoError(t, <-done)

	after := lease.extendCount()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, after, lease.extendCount())
	assert.Equal(t, []string{"token-1"}, lease.released)
}

func TestLeaseRenewalStopsWhenLost(t *testing.T) {
	syncer := &recordingSyncer{entered: make(chan struct{}), release: make(chan struct{})}
	lease := &fakeLease{lost: true}
	opts := testOptions(1)
	opts.LeaseTTL = 15 * time.Millisecond
	m := New(Deps{
		Layouts: staticLayouts{layout: testLayout(), ok: true},
		Engine:  syncer,
		Lease:   lease,
	}, opts, zerolog.Nop())

	done := make(chan error, 1)
	go func() {
		_, err := m.ProcessDetections(context.Background(), carOverSpotOne())
		done <- err
	}()
	<-syncer.entered

	require.Eventually(t, func() bool { return lease.extendCount() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, lease.extendCount())

	close(syncer.release)
	require.NoError(t, <-done)
}
