package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/holoplane/artrack/internal/config"
	"github.com/holoplane/artrack/internal/source"
	"github.com/holoplane/artrack/internal/testutil"
)

// writeScript writes a synthetic source script of looping frames, each
// carrying a single barcode-3 observation, and returns the source config
// string for it.
func writeScript(t *testing.T) string {
	t.Helper()
	f := frame(obs(source.KindBarcode, "3", 0.9, 100, -250, 1500))
	path := filepath.Join(t.TempDir(), "script.txt")
	if err := os.WriteFile(path, []byte(source.FormatFrame(f)), 0o644); err != nil {
		t.Fatal(err)
	}
	return fmt.Sprintf("synthetic:file=%s,interval=1ms,loop=true", path)
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s, err := NewSession(config.Empty(), MapLoader{})
	testutil.AssertNoError(t, err)
	t.Cleanup(s.Shutdown)
	return s
}

// waitForFrame polls CaptureFrame until a new frame is consumed.
func waitForFrame(t *testing.T, s *Session) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		ok, err := s.CaptureFrame()
		testutil.AssertNoError(t, err)
		if ok {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("no frame arrived within the deadline")
}

func TestSessionOperationsBeforeInit(t *testing.T) {
	s := newTestSession(t)

	if s.Phase() != PhaseUninitialized {
		t.Fatalf("new session phase = %v", s.Phase())
	}
	_, err := s.Register("single_barcode;3;40")
	testutil.AssertErrorIs(t, err, ErrNotReady)

	testutil.AssertErrorIs(t, s.Start("synthetic:"), ErrNotReady)

	_, err = s.CaptureFrame()
	testutil.AssertErrorIs(t, err, ErrNotReady)
}

func TestSessionInitOnce(t *testing.T) {
	s := newTestSession(t)
	testutil.AssertNoError(t, s.Init())
	if s.Phase() != PhaseInitialized {
		t.Fatalf("phase after init = %v", s.Phase())
	}
	testutil.AssertErrorIs(t, s.Init(), ErrInitFailed)
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestSession(t)
	testutil.AssertNoError(t, s.Init())

	h, err := s.Register("single_barcode;3;40")
	testutil.AssertNoError(t, err)

	testutil.AssertNoError(t, s.Start(writeScript(t)))
	if s.Phase() != PhaseRunning {
		t.Fatalf("phase after start = %v", s.Phase())
	}

	waitForFrame(t, s)
	results := s.ResolveAll()
	if len(results) != 1 || !results[0].Visible {
		t.Fatalf("results = %+v, want barcode visible", results)
	}
	want := TranslationMatrix(0.1, -0.25, -1.5)
	testutil.DiffMatrices(t, [16]float64(results[0].Pose), [16]float64(want), 1e-12)

	visible, pose, err := s.Query(h)
	testutil.AssertNoError(t, err)
	if !visible {
		t.Fatal("Query should report the resolved state")
	}
	testutil.DiffMatrices(t, [16]float64(pose), [16]float64(want), 1e-12)

	testutil.AssertNoError(t, s.Stop())
	if s.Phase() != PhaseStopped {
		t.Fatalf("phase after stop = %v", s.Phase())
	}
}

func TestSessionCaptureFrameFreshness(t *testing.T) {
	s := newTestSession(t)
	testutil.AssertNoError(t, s.Init())
	_, err := s.Register("single_barcode;3;40")
	testutil.AssertNoError(t, err)

	// Single-frame script, no looping: once the frame has been captured the
	// source publishes nothing further.
	f := frame(obs(source.KindBarcode, "3", 0.9, 100, -250, 1500))
	path := filepath.Join(t.TempDir(), "script.txt")
	if err := os.WriteFile(path, []byte(source.FormatFrame(f)), 0o644); err != nil {
		t.Fatal(err)
	}
	testutil.AssertNoError(t, s.Start("synthetic:file="+path+",interval=1ms"))

	waitForFrame(t, s)
	fresh, err := s.CaptureFrame()
	testutil.AssertNoError(t, err)
	if fresh {
		t.Fatal("CaptureFrame must report false until a new frame is published")
	}

	// The frame stays latched: resolution still works against it.
	if results := s.ResolveAll(); len(results) != 1 || !results[0].Visible {
		t.Fatalf("results = %+v, want barcode visible", results)
	}
	testutil.AssertNoError(t, s.Stop())
}

func TestSessionDoubleStartRejected(t *testing.T) {
	s := newTestSession(t)
	testutil.AssertNoError(t, s.Init())
	testutil.AssertNoError(t, s.Start(writeScript(t)))
	testutil.AssertError(t, s.Start(writeScript(t)))
	testutil.AssertNoError(t, s.Stop())
}

func TestSessionStopWhenNotRunning(t *testing.T) {
	s := newTestSession(t)
	testutil.AssertNoError(t, s.Init())
	testutil.AssertError(t, s.Stop())

	testutil.AssertNoError(t, s.Start(writeScript(t)))
	testutil.AssertNoError(t, s.Stop())
	testutil.AssertError(t, s.Stop())
}

func TestSessionRestart(t *testing.T) {
	s := newTestSession(t)
	testutil.AssertNoError(t, s.Init())
	_, err := s.Register("single_barcode;3;40")
	testutil.AssertNoError(t, err)

	cfg := writeScript(t)
	testutil.AssertNoError(t, s.Start(cfg))
	waitForFrame(t, s)
	testutil.AssertNoError(t, s.Stop())

	// Registered trackables survive a stop/start cycle.
	testutil.AssertNoError(t, s.Start(cfg))
	waitForFrame(t, s)
	if results := s.ResolveAll(); len(results) != 1 || !results[0].Visible {
		t.Fatalf("results after restart = %+v", results)
	}
	testutil.AssertNoError(t, s.Stop())
}

func TestSessionStartErrorMapping(t *testing.T) {
	s := newTestSession(t)
	testutil.AssertNoError(t, s.Init())

	// Malformed source string: configuration error, session stays usable.
	testutil.AssertErrorIs(t, s.Start("holodeck:"), ErrConfigInvalid)
	if s.Phase() != PhaseInitialized {
		t.Fatalf("phase after config error = %v", s.Phase())
	}

	// Well-formed string for a device that cannot be opened.
	missing := filepath.Join(t.TempDir(), "absent.txt")
	err := s.Start("synthetic:file=" + missing)
	testutil.AssertErrorIs(t, err, ErrDeviceUnavailable)
	if s.Phase() != PhaseInitialized {
		t.Fatalf("phase after device error = %v", s.Phase())
	}
}

func TestSessionResolveAllWithoutFrame(t *testing.T) {
	s := newTestSession(t)
	testutil.AssertNoError(t, s.Init())
	_, err := s.Register("single_barcode;3;40")
	testutil.AssertNoError(t, err)

	// Never errors: with no frame captured, everything is not-visible.
	results := s.ResolveAll()
	if len(results) != 1 || results[0].Visible {
		t.Fatalf("results = %+v, want single not-visible", results)
	}
}

func TestSessionTemplateBudget(t *testing.T) {
	one := 1
	tuning := &config.Tuning{PatternCountMax: &one}
	s, err := NewSession(tuning, MapLoader{})
	testutil.AssertNoError(t, err)
	t.Cleanup(s.Shutdown)
	testutil.AssertNoError(t, s.Init())

	_, err = s.Register("single_buffer;80;buffer=AA")
	testutil.AssertNoError(t, err)

	h, err := s.Register("single_buffer;80;buffer=BB")
	testutil.AssertErrorIs(t, err, ErrEngineLoadFailed)
	if h != NoID {
		t.Fatalf("overflow registration returned handle %d", h)
	}
	if s.Stats().Trackables != 1 {
		t.Fatalf("Trackables = %d, want 1", s.Stats().Trackables)
	}
}

func TestSessionShutdownIsTerminal(t *testing.T) {
	s := newTestSession(t)
	testutil.AssertNoError(t, s.Init())
	testutil.AssertNoError(t, s.Start(writeScript(t)))

	s.Shutdown()
	if s.Phase() != PhaseShutdown {
		t.Fatalf("phase = %v", s.Phase())
	}
	s.Shutdown() // idempotent

	_, err := s.Register("single_barcode;3;40")
	testutil.AssertErrorIs(t, err, ErrNotReady)
	testutil.AssertError(t, s.Start(writeScript(t)))
	testutil.AssertError(t, s.Stop())
}

func TestSessionStats(t *testing.T) {
	s := newTestSession(t)
	testutil.AssertNoError(t, s.Init())
	_, err := s.Register("single_barcode;3;40")
	testutil.AssertNoError(t, err)

	testutil.AssertNoError(t, s.Start(writeScript(t)))
	waitForFrame(t, s)
	testutil.AssertNoError(t, s.Stop())

	stats := s.Stats()
	if stats.SessionID != s.ID() || stats.SessionID == "" {
		t.Fatalf("stats session ID = %q", stats.SessionID)
	}
	if stats.Phase != PhaseStopped || stats.Trackables != 1 || stats.PatternsInUse != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.Pipeline.Published == 0 || stats.Pipeline.Captured == 0 {
		t.Fatalf("pipeline counters not advancing: %+v", stats.Pipeline)
	}
}
