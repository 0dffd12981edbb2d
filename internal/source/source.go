// Package source provides video/detection frame providers behind a single
// interface. A source produces complete frames on a channel from a Monitor
// goroutine; consumers read at their own cadence and must tolerate both
// missing frames and bursts.
//
// Sources are selected with an opaque configuration string of the form
//
//	<device>:<key>=<value>,<key>=<value>,...
//
// for example "serial:port=/dev/ttyUSB0,baud=115200" or
// "replay:file=walkthrough.pcap,port=4545". The recognised devices are
// "synthetic", "serial" and "replay".
package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors reported by source construction. Callers distinguish a
// malformed configuration string from a device that exists but cannot be
// opened.
var (
	ErrInvalidConfig = errors.New("source: invalid configuration string")
	ErrUnavailable   = errors.New("source: device unavailable")
)

// ObservationKind identifies which detector produced an observation.
type ObservationKind string

const (
	KindSquare  ObservationKind = "square"  // template pattern marker
	KindBarcode ObservationKind = "barcode" // matrix/ID-coded marker
	KindNFT     ObservationKind = "nft"     // natural-feature dataset match
	KindTwoD    ObservationKind = "2d"      // planar textured image
)

// Observation is one detector sighting within a frame: what was seen, how
// confidently, and its raw pose in engine-native units (right-handed,
// millimetres, row-major).
type Observation struct {
	Kind       ObservationKind
	Key        string // pattern text, barcode ID, dataset path or image path
	Confidence float64
	Pose       [16]float64

	// Luma samples used for binarization gating of the square family.
	BorderLuma     uint8
	BackgroundLuma uint8
}

// Frame is one complete capture from a source: dimensions, a luminance
// histogram for per-frame threshold computation, and the detector
// observations made against it.
type Frame struct {
	Seq           uint64 // assigned by the consumer pipeline, not the source
	Timestamp     time.Time
	Width, Height int
	LumaHistogram [256]int
	Observations  []Observation
}

// Source is a frame provider. Monitor produces frames onto the channel
// returned by Frames until the context is cancelled or the underlying
// device fails; Close releases the device.
type Source interface {
	// Frames returns the channel on which complete frames are delivered.
	Frames() <-chan Frame

	// Monitor reads from the underlying device and sends frames to the
	// Frames channel. It returns nil on context cancellation.
	Monitor(ctx context.Context) error

	// Close releases the underlying device.
	Close() error
}

// Open constructs a Source from an opaque configuration string.
func Open(config string) (Source, error) {
	device, opts, err := parseDeviceConfig(config)
	if err != nil {
		return nil, err
	}

	switch device {
	case "synthetic":
		return openSynthetic(opts)
	case "serial":
		return openSerial(opts)
	case "replay":
		return openReplay(opts)
	default:
		return nil, fmt.Errorf("%w: unknown device %q", ErrInvalidConfig, device)
	}
}

// parseDeviceConfig splits "<device>:<k>=<v>,..." into the device selector
// and its options. The option list may be empty ("synthetic:").
func parseDeviceConfig(config string) (string, map[string]string, error) {
	config = strings.TrimSpace(config)
	if config == "" {
		return "", nil, fmt.Errorf("%w: empty string", ErrInvalidConfig)
	}

	device, rest, found := strings.Cut(config, ":")
	if !found {
		device, rest = config, ""
	}
	device = strings.TrimSpace(device)
	if device == "" {
		return "", nil, fmt.Errorf("%w: missing device selector", ErrInvalidConfig)
	}

	opts := make(map[string]string)
	if strings.TrimSpace(rest) == "" {
		return device, opts, nil
	}
	for _, pair := range strings.Split(rest, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, found := strings.Cut(pair, "=")
		if !found || strings.TrimSpace(key) == "" {
			return "", nil, fmt.Errorf("%w: malformed option %q", ErrInvalidConfig, pair)
		}
		opts[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return device, opts, nil
}

// optDuration parses a duration option, returning fallback when absent.
func optDuration(opts map[string]string, key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := opts[key]
	if !ok {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: option %s=%q: %v", ErrInvalidConfig, key, raw, err)
	}
	return d, nil
}
