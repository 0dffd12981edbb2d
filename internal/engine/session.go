package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/holoplane/artrack/internal/config"
	"github.com/holoplane/artrack/internal/source"
)

// Phase is the session lifecycle state.
type Phase int32

const (
	// PhaseUninitialized is the state before Init: no template buffers
	// exist and no trackable operations are accepted.
	PhaseUninitialized Phase = iota
	// PhaseInitialized means buffers are allocated and trackables can be
	// registered, but no source is running.
	PhaseInitialized
	// PhaseRunning means a source is capturing frames.
	PhaseRunning
	// PhaseStopped means the source has been stopped; the session can be
	// restarted with Start.
	PhaseStopped
	// PhaseShutdown is terminal.
	PhaseShutdown
)

// String returns the phase name used in logs and stats.
func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseInitialized:
		return "initialized"
	case PhaseRunning:
		return "running"
	case PhaseStopped:
		return "stopped"
	case PhaseShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("Phase(%d)", int32(p))
	}
}

// Stats is a point-in-time view of a session for monitoring and recording.
type Stats struct {
	SessionID     string
	Phase         Phase
	Trackables    int
	PatternsInUse int
	Pipeline      PipelineStats
	LastRunError  string // last fatal source error, empty if none
}

// runState holds the resources of one Start..Stop span.
type runState struct {
	src    source.Source
	cancel context.CancelFunc
	done   chan struct{} // closed after workers exit and the source is closed
}

// Session is the top-level engine object: a trackable registry, a frame
// pipeline and the lifecycle state machine tying them to a frame source.
// Lifecycle methods (Init, Start, Stop, Shutdown) serialise on the session
// mutex; frame methods (CaptureFrame, ResolveAll, Query) are safe to call
// from a dedicated consumer goroutine while the lifecycle is driven
// elsewhere.
type Session struct {
	id       string
	tuning   *config.Tuning
	registry *Registry
	pipeline *pipeline

	phase atomic.Int32

	mu        sync.Mutex // guards lifecycle transitions and run/current
	run       *runState
	current   *snapshot
	templates [][]byte

	runErr atomic.Value // string
}

// NewSession creates a session in the uninitialized phase. Trackable assets
// resolve through loader; a nil tuning uses defaults for everything.
func NewSession(tuning *config.Tuning, loader AssetLoader) (*Session, error) {
	if tuning == nil {
		tuning = config.Empty()
	}
	if err := tuning.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	registry := NewRegistry(loader, tuning)
	pl, err := newPipeline(registry, tuning)
	if err != nil {
		return nil, err
	}
	s := &Session{
		id:       uuid.New().String(),
		tuning:   tuning,
		registry: registry,
		pipeline: pl,
	}
	s.runErr.Store("")
	return s, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Phase returns the current lifecycle phase.
func (s *Session) Phase() Phase { return Phase(s.phase.Load()) }

// Init allocates the template buffers and moves the session to the
// initialized phase. Calling Init twice is an error.
func (s *Session) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p := s.Phase(); p != PhaseUninitialized {
		return fmt.Errorf("%w: init in phase %s", ErrInitFailed, p)
	}

	size := s.tuning.GetPatternSize()
	count := s.tuning.GetPatternCountMax()
	if size <= 0 || count <= 0 {
		return fmt.Errorf("%w: pattern size %d, count %d", ErrInitFailed, size, count)
	}
	s.templates = make([][]byte, count)
	for i := range s.templates {
		s.templates[i] = make([]byte, size*size)
	}

	s.phase.Store(int32(PhaseInitialized))
	Opsf("session %s initialized (%d template slots of %dx%d)", s.id, count, size, size)
	return nil
}

// Register registers a trackable configuration string and returns its
// handle. Requires an initialized session.
func (s *Session) Register(configStr string) (Handle, error) {
	if err := s.requireInitialized(); err != nil {
		return NoID, err
	}
	h, err := s.registry.Register(configStr)
	if err != nil {
		return NoID, err
	}
	if s.registry.PatternsInUse() > s.tuning.GetPatternCountMax() {
		// Undo: the new trackable overflows the template budget.
		_ = s.registry.Unregister(h)
		return NoID, fmt.Errorf("%w: template buffer full (%d slots)", ErrEngineLoadFailed, s.tuning.GetPatternCountMax())
	}
	return h, nil
}

// Unregister removes a trackable. Its options are retained for a future
// re-registration of the same configuration.
func (s *Session) Unregister(h Handle) error {
	if err := s.requireInitialized(); err != nil {
		return err
	}
	return s.registry.Unregister(h)
}

// SetOptions replaces a trackable's runtime options.
func (s *Session) SetOptions(h Handle, opts Options) error {
	if err := s.requireInitialized(); err != nil {
		return err
	}
	return s.registry.SetOptions(h, opts)
}

// Trackable returns the trackable registered under h.
func (s *Session) Trackable(h Handle) (*Trackable, bool) {
	return s.registry.Get(h)
}

// Handles returns all live trackable handles in ascending order.
func (s *Session) Handles() []Handle { return s.registry.Handles() }

// Start opens the configured frame source and begins capturing. Valid from
// the initialized and stopped phases; starting a running session is an
// error. Source configuration failures map onto the engine error taxonomy:
// a malformed string is ErrConfigInvalid, an unopenable device is
// ErrDeviceUnavailable.
func (s *Session) Start(sourceConfig string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch p := s.Phase(); p {
	case PhaseInitialized, PhaseStopped:
	case PhaseUninitialized:
		return fmt.Errorf("%w: start before init", ErrNotReady)
	default:
		return fmt.Errorf("start in phase %s", p)
	}
	// Reap a run that stopped implicitly (source exit) without a Stop call.
	s.stopRunLocked()

	src, err := source.Open(sourceConfig)
	if err != nil {
		switch {
		case errors.Is(err, source.ErrInvalidConfig):
			return fmt.Errorf("%w: %v", ErrConfigInvalid, err)
		case errors.Is(err, source.ErrUnavailable):
			return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		default:
			return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	rs := &runState{src: src, cancel: cancel, done: make(chan struct{})}
	s.run = rs
	s.runErr.Store("")
	s.phase.Store(int32(PhaseRunning))

	var wg sync.WaitGroup
	wg.Add(2)

	// Capture worker: latest-wins publication into the pipeline.
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-src.Frames():
				if !ok {
					return
				}
				s.pipeline.publish(frame)
			}
		}
	}()

	// Monitor worker: drives the device. A fatal device error stops the
	// session implicitly; restarting with Start is allowed afterwards.
	go func() {
		defer wg.Done()
		if err := src.Monitor(ctx); err != nil {
			s.runErr.Store(err.Error())
			Opsf("session %s: source failed: %v", s.id, err)
			cancel()
		}
	}()

	go func() {
		wg.Wait()
		if err := src.Close(); err != nil {
			Diagf("session %s: source close: %v", s.id, err)
		}
		if s.phase.CompareAndSwap(int32(PhaseRunning), int32(PhaseStopped)) {
			Opsf("session %s stopped (source exit)", s.id)
		}
		close(rs.done)
	}()

	Opsf("session %s started on %q", s.id, sourceConfig)
	return nil
}

// Stop halts capture and waits for the workers to exit. Stopping a session
// that is not running is an error.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.phase.CompareAndSwap(int32(PhaseRunning), int32(PhaseStopped)) {
		return fmt.Errorf("stop in phase %s", s.Phase())
	}
	s.stopRunLocked()
	Opsf("session %s stopped", s.id)
	return nil
}

// Shutdown stops capture if running and moves the session to its terminal
// phase. Further lifecycle and trackable calls fail. Idempotent.
func (s *Session) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Phase() == PhaseShutdown {
		return
	}
	s.phase.Store(int32(PhaseShutdown))
	s.stopRunLocked()
	s.templates = nil
	s.current = nil
	Opsf("session %s shut down", s.id)
}

// stopRunLocked cancels the active run, waits for its workers, and forgets
// it. Caller holds s.mu.
func (s *Session) stopRunLocked() {
	if s.run == nil {
		return
	}
	s.run.cancel()
	<-s.run.done
	s.run = nil
}

// CaptureFrame latches the newest published frame for resolution and
// reports whether a new frame was consumed: once a frame has been captured,
// further calls return false until the capture worker publishes another.
// Requires a running session.
func (s *Session) CaptureFrame() (bool, error) {
	if s.Phase() != PhaseRunning {
		return false, fmt.Errorf("%w: capture in phase %s", ErrNotReady, s.Phase())
	}
	snap, fresh := s.pipeline.capture()

	s.mu.Lock()
	s.current = snap
	s.mu.Unlock()
	return fresh, nil
}

// ResolveAll resolves every live trackable against the last captured frame
// and returns one result per handle, ordered by handle. It never fails:
// with no frame captured yet, every trackable resolves not-visible.
func (s *Session) ResolveAll() []Result {
	s.mu.Lock()
	snap := s.current
	s.mu.Unlock()
	return s.pipeline.resolve(snap)
}

// Query returns the last resolved visibility and consumer-space pose of one
// trackable.
func (s *Session) Query(h Handle) (visible bool, pose Matrix, err error) {
	t, ok := s.registry.Get(h)
	if !ok {
		return false, Matrix{}, fmt.Errorf("unknown trackable handle %d", h)
	}
	visible, pose = t.State()
	return visible, pose, nil
}

// Stats returns a point-in-time view of the session.
func (s *Session) Stats() Stats {
	return Stats{
		SessionID:     s.id,
		Phase:         s.Phase(),
		Trackables:    s.registry.Count(),
		PatternsInUse: s.registry.PatternsInUse(),
		Pipeline:      s.pipeline.statsSnapshot(),
		LastRunError:  s.runErr.Load().(string),
	}
}

// requireInitialized gates trackable operations on the lifecycle: they are
// legal from init until shutdown.
func (s *Session) requireInitialized() error {
	switch p := s.Phase(); p {
	case PhaseInitialized, PhaseRunning, PhaseStopped:
		return nil
	default:
		return fmt.Errorf("%w: phase %s", ErrNotReady, p)
	}
}
