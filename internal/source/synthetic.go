package source

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/holoplane/artrack/internal/monitoring"
	"github.com/holoplane/artrack/internal/timeutil"
)

// Synthetic replays a fixed list of frames, optionally paced by an
// interval. It backs the "synthetic:" device selector and is the main
// source used by tests and dev mode.
type Synthetic struct {
	frames   []Frame
	interval time.Duration
	loop     bool
	clock    timeutil.Clock
	out      chan Frame
}

// NewSynthetic creates a Synthetic source that emits the given frames in
// order. With interval zero frames are emitted back to back; with loop set
// the script restarts after the last frame.
func NewSynthetic(frames []Frame, interval time.Duration, loop bool) *Synthetic {
	return &Synthetic{
		frames:   frames,
		interval: interval,
		loop:     loop,
		clock:    timeutil.RealClock{},
		out:      make(chan Frame),
	}
}

// SetClock replaces the pacing clock. Tests use a timeutil.FakeClock so
// paced scripts run without real sleeps. Must be called before Monitor.
func (s *Synthetic) SetClock(clock timeutil.Clock) {
	s.clock = clock
}

// openSynthetic builds a Synthetic from configuration options:
// file=<script path> (optional), interval=<duration>, loop=<bool-ish>.
func openSynthetic(opts map[string]string) (*Synthetic, error) {
	interval, err := optDuration(opts, "interval", 33*time.Millisecond)
	if err != nil {
		return nil, err
	}

	var frames []Frame
	if path, ok := opts["file"]; ok {
		frames, err = LoadScript(path)
		if err != nil {
			return nil, err
		}
	}

	loop := opts["loop"] == "true" || opts["loop"] == "1"
	return NewSynthetic(frames, interval, loop), nil
}

// LoadScript parses a wire-format script file into frames.
func LoadScript(path string) ([]Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: script %q: %v", ErrUnavailable, path, err)
	}
	defer f.Close()

	var frames []Frame
	parser := &recordParser{}
	scan := bufio.NewScanner(f)
	for scan.Scan() {
		frame, err := parser.feed(scan.Text())
		if err != nil {
			return nil, fmt.Errorf("%w: script %q: %v", ErrInvalidConfig, path, err)
		}
		if frame != nil {
			frames = append(frames, *frame)
		}
	}
	if err := scan.Err(); err != nil {
		return nil, fmt.Errorf("%w: script %q: %v", ErrUnavailable, path, err)
	}
	return frames, nil
}

// Frames returns the frame delivery channel.
func (s *Synthetic) Frames() <-chan Frame {
	return s.out
}

// Monitor emits the scripted frames. Sends block until the consumer is
// ready so no scripted frame is silently lost; cancellation is honoured
// between sends.
func (s *Synthetic) Monitor(ctx context.Context) error {
	for {
		for _, frame := range s.frames {
			if s.interval > 0 {
				select {
				case <-s.clock.After(s.interval):
				case <-ctx.Done():
					return nil
				}
			}
			frame.Timestamp = s.clock.Now()
			select {
			case s.out <- frame:
			case <-ctx.Done():
				return nil
			}
		}
		if !s.loop {
			break
		}
	}

	monitoring.Logf("synthetic source exhausted after %d frames", len(s.frames))
	<-ctx.Done()
	return nil
}

// Close is a no-op for the synthetic source.
func (s *Synthetic) Close() error {
	return nil
}
