package source

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.bug.st/serial"

	"github.com/holoplane/artrack/internal/monitoring"
)

// PortOptions describes the serial connection parameters used when opening
// a serial-attached tracking camera. The zero value selects sane defaults.
type PortOptions struct {
	BaudRate int
	DataBits int
	StopBits int
	Parity   string
}

// Normalize validates the options and applies defaults for any unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	parity := strings.TrimSpace(strings.ToUpper(opts.Parity))
	if parity == "" {
		parity = "N"
	}
	switch parity {
	case "N", "NONE":
		parity = "N"
	case "E", "EVEN":
		parity = "E"
	case "O", "ODD":
		parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}
	opts.Parity = parity

	return opts, nil
}

// SerialMode converts the port options into the serial.Mode structure
// required by go.bug.st/serial when opening a port.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.StopBits(opts.StopBits),
	}
	switch opts.Parity {
	case "N":
		mode.Parity = serial.NoParity
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	return mode, nil
}

// Serial reads wire-format frame blocks from a serial-attached tracking
// camera that performs detection on-device and streams results as text.
type Serial struct {
	port serial.Port
	out  chan Frame
}

// openSerial builds a Serial source from configuration options:
// port=<path> (required), baud=<int>, databits=<int>, stopbits=<int>,
// parity=<N|E|O>.
func openSerial(opts map[string]string) (*Serial, error) {
	path, ok := opts["port"]
	if !ok || path == "" {
		return nil, fmt.Errorf("%w: serial device requires port=", ErrInvalidConfig)
	}

	portOpts := PortOptions{Parity: opts["parity"]}
	var err error
	if portOpts.BaudRate, err = optInt(opts, "baud"); err != nil {
		return nil, err
	}
	if portOpts.DataBits, err = optInt(opts, "databits"); err != nil {
		return nil, err
	}
	if portOpts.StopBits, err = optInt(opts, "stopbits"); err != nil {
		return nil, err
	}

	mode, err := portOpts.SerialMode()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: open %q: %v", ErrUnavailable, path, err)
	}

	return NewSerial(port), nil
}

// NewSerial wraps an already-open serial port.
func NewSerial(port serial.Port) *Serial {
	return &Serial{port: port, out: make(chan Frame)}
}

// optInt parses an integer option, returning zero (meaning "use default")
// when absent.
func optInt(opts map[string]string, key string) (int, error) {
	raw, ok := opts[key]
	if !ok {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: option %s=%q: %v", ErrInvalidConfig, key, raw, err)
	}
	return v, nil
}

// Frames returns the frame delivery channel.
func (s *Serial) Frames() <-chan Frame {
	return s.out
}

// Monitor reads lines from the serial port and assembles them into frames.
// The blocking scanner runs on its own goroutine so the outer loop can
// honour context cancellation.
func (s *Serial) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(s.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	parser := &recordParser{}
	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-scanErrChan:
			return err

		case line, ok := <-lineChan:
			if !ok {
				return scan.Err()
			}
			frame, err := parser.feed(line)
			if err != nil {
				// Corrupted line: log and resynchronise at the next FRAME.
				monitoring.Logf("serial source: dropping line: %v", err)
				continue
			}
			if frame == nil {
				continue
			}
			select {
			case s.out <- *frame:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// Close closes the serial port.
func (s *Serial) Close() error {
	return s.port.Close()
}
