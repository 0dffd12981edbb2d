package engine

import (
	"bufio"
	"bytes"
	"fmt"
	"image"
	"strconv"
	"strings"
	"sync"

	// Image formats accepted for planar target registration.
	_ "image/jpeg"
	_ "image/png"

	"github.com/holoplane/artrack/internal/config"
)

// Handle is the stable identifier of a registered trackable. Handles are
// assigned monotonically within a session and never reused, so a stale
// handle can never alias a newer trackable.
type Handle int32

// NoID is the sentinel handle of an unregistered trackable.
const NoID Handle = -1

// Options are the per-trackable runtime options. They are configuration,
// not runtime state: the registry retains them across unload/reload and
// re-applies them immediately after a reload.
type Options struct {
	// Filtered enables temporal pose smoothing.
	Filtered bool

	// FilterSampleRate and FilterCutoffFreq parametrise the low-pass
	// filter (Hz). Zero values fall back to the session tuning defaults.
	FilterSampleRate float64
	FilterCutoffFreq float64

	// ContinuousPoseEstimation relaxes the confidence gate for square and
	// barcode markers that were visible on the previous frame, trading
	// occasional false positives for fewer single-frame dropouts.
	ContinuousPoseEstimation bool

	// NFTScale scales a natural-feature dataset's physical extents and
	// resolved translation. Zero means 1.0.
	NFTScale float64
}

// withDefaults fills zero-valued rate fields from the session tuning.
func (o Options) withDefaults(tuning *config.Tuning) Options {
	if o.FilterSampleRate == 0 {
		o.FilterSampleRate = tuning.GetFilterSampleRate()
	}
	if o.FilterCutoffFreq == 0 {
		o.FilterCutoffFreq = tuning.GetFilterCutoffFreq()
	}
	if o.NFTScale == 0 {
		o.NFTScale = 1.0
	}
	return o
}

// SubMarker is one member of a multimarker rigid body: a barcode marker at
// a fixed offset (millimetres) from the body origin.
type SubMarker struct {
	BarcodeID int
	Offset    Matrix
}

// Trackable is one registered detection target together with its derived
// static properties and per-frame runtime state. Runtime state is guarded
// by the trackable's own mutex so frame resolution on a worker thread
// cannot race a registration call on the control thread.
type Trackable struct {
	mu sync.Mutex

	handle Handle
	cfg    Config
	opts   Options

	// Derived at load time. NFT extents keep the unscaled dataset values
	// so a later scale change can re-derive widthMM/heightMM.
	widthMM      float64
	heightMM     float64
	baseWidthMM  float64
	baseHeightMM float64
	patternCount int
	subMarkers   []SubMarker

	// Runtime state
	visible bool
	pose    Matrix // consumer space, last resolved
	filter  poseFilter
}

// Handle returns the trackable's identifier, or NoID after unregistration.
func (t *Trackable) Handle() Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handle
}

// Config returns the trackable's configuration.
func (t *Trackable) Config() Config { return t.cfg }

// Options returns the trackable's current runtime options.
func (t *Trackable) Options() Options {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opts
}

// Size returns the derived physical extents in millimetres. Height is zero
// for variants without a derived height.
func (t *Trackable) Size() (widthMM, heightMM float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.widthMM, t.heightMM
}

// PatternCount returns the number of template patterns owned by the
// trackable (one for square/barcode, the sub-marker count for multimarker,
// zero for NFT and planar targets).
func (t *Trackable) PatternCount() int { return t.patternCount }

// State returns the last resolved visibility and consumer-space pose.
func (t *Trackable) State() (visible bool, pose Matrix) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.visible, t.pose
}

// load resolves variant-specific derived data. Asset failures are
// reported as ErrEngineLoadFailed; the caller records them as sticky.
func (t *Trackable) load(loader AssetLoader) error {
	switch cfg := t.cfg.(type) {
	case SquareConfig:
		t.widthMM = cfg.WidthMM
		t.heightMM = cfg.WidthMM
		t.patternCount = 1
		return nil

	case BarcodeConfig:
		t.widthMM = cfg.WidthMM
		t.heightMM = cfg.WidthMM
		t.patternCount = 1
		return nil

	case MultiConfig:
		data, err := loader.Load(cfg.Path)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrEngineLoadFailed, err)
		}
		subs, err := parseMultiConfig(data)
		if err != nil {
			return fmt.Errorf("%w: config %q: %v", ErrEngineLoadFailed, cfg.Path, err)
		}
		t.subMarkers = subs
		t.patternCount = len(subs)
		t.widthMM, t.heightMM = multiExtent(subs)
		return nil

	case NFTConfig:
		data, err := loader.Load(cfg.Path)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrEngineLoadFailed, err)
		}
		width, height, err := parseNFTDataset(data)
		if err != nil {
			return fmt.Errorf("%w: dataset %q: %v", ErrEngineLoadFailed, cfg.Path, err)
		}
		t.baseWidthMM = width
		t.baseHeightMM = height
		t.widthMM = width * t.opts.NFTScale
		t.heightMM = height * t.opts.NFTScale
		return nil

	case TwoDConfig:
		data, err := loader.Load(cfg.Path)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrEngineLoadFailed, err)
		}
		imgCfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("%w: image %q: %v", ErrEngineLoadFailed, cfg.Path, err)
		}
		if imgCfg.Width <= 0 || imgCfg.Height <= 0 {
			return fmt.Errorf("%w: image %q has no pixels", ErrEngineLoadFailed, cfg.Path)
		}
		t.widthMM = cfg.WidthMM
		t.heightMM = cfg.WidthMM * float64(imgCfg.Height) / float64(imgCfg.Width)
		return nil

	default:
		return fmt.Errorf("%w: unhandled variant %v", ErrConfigInvalid, t.cfg.Kind())
	}
}

// parseMultiConfig parses a multimarker layout file: one sub-marker per
// line as "<barcodeID> <dx_mm> <dy_mm> <dz_mm>", with '#' comments.
func parseMultiConfig(data []byte) ([]SubMarker, error) {
	var subs []SubMarker

	scan := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scan.Scan() {
		lineNo++
		line := strings.TrimSpace(scan.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 4 {
			return nil, fmt.Errorf("line %d: want 4 fields, got %d", lineNo, len(fields))
		}
		id, err := strconv.Atoi(fields[0])
		if err != nil || id < 0 {
			return nil, fmt.Errorf("line %d: bad barcode ID %q", lineNo, fields[0])
		}
		var offset [3]float64
		for i := 0; i < 3; i++ {
			offset[i], err = strconv.ParseFloat(fields[i+1], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad offset %q", lineNo, fields[i+1])
			}
		}
		subs = append(subs, SubMarker{
			BarcodeID: id,
			Offset:    TranslationMatrix(offset[0], offset[1], offset[2]),
		})
	}
	if err := scan.Err(); err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, fmt.Errorf("no sub-markers defined")
	}
	return subs, nil
}

// multiExtent derives the rigid body's bounding extents from sub-marker
// offsets.
func multiExtent(subs []SubMarker) (widthMM, heightMM float64) {
	var minX, maxX, minY, maxY float64
	for i, sub := range subs {
		x, y, _ := sub.Offset.Translation()
		if i == 0 || x < minX {
			minX = x
		}
		if i == 0 || x > maxX {
			maxX = x
		}
		if i == 0 || y < minY {
			minY = y
		}
		if i == 0 || y > maxY {
			maxY = y
		}
	}
	return maxX - minX, maxY - minY
}

// parseNFTDataset reads the physical extents from a dataset header: the
// first non-comment line is "<width_mm> <height_mm>".
func parseNFTDataset(data []byte) (widthMM, heightMM float64, err error) {
	scan := bufio.NewScanner(bytes.NewReader(data))
	for scan.Scan() {
		line := strings.TrimSpace(scan.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return 0, 0, fmt.Errorf("header wants 2 fields, got %d", len(fields))
		}
		widthMM, err = strconv.ParseFloat(fields[0], 64)
		if err != nil || widthMM <= 0 {
			return 0, 0, fmt.Errorf("bad dataset width %q", fields[0])
		}
		heightMM, err = strconv.ParseFloat(fields[1], 64)
		if err != nil || heightMM <= 0 {
			return 0, 0, fmt.Errorf("bad dataset height %q", fields[1])
		}
		return widthMM, heightMM, nil
	}
	if err := scan.Err(); err != nil {
		return 0, 0, err
	}
	return 0, 0, fmt.Errorf("empty dataset")
}
