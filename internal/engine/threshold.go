package engine

import (
	"fmt"

	"github.com/holoplane/artrack/internal/config"
)

// ThresholdMode selects how the binarization threshold for square-family
// detection is chosen each frame.
type ThresholdMode int

const (
	// ThresholdManual uses a fixed caller-supplied value.
	ThresholdManual ThresholdMode = iota
	// ThresholdMedian picks the median luma of the frame.
	ThresholdMedian
	// ThresholdOtsu maximises between-class variance over the histogram.
	ThresholdOtsu
	// ThresholdAdaptive tracks the per-frame median with an exponential
	// moving average so single noisy frames cannot jerk the threshold.
	ThresholdAdaptive
	// ThresholdBracketing sweeps candidate thresholds around the current
	// value and keeps whichever admits the most observations.
	ThresholdBracketing
)

// String returns the mode name used in tuning files.
func (m ThresholdMode) String() string {
	switch m {
	case ThresholdManual:
		return "manual"
	case ThresholdMedian:
		return "median"
	case ThresholdOtsu:
		return "otsu"
	case ThresholdAdaptive:
		return "adaptive"
	case ThresholdBracketing:
		return "bracketing"
	default:
		return fmt.Sprintf("ThresholdMode(%d)", int(m))
	}
}

// parseThresholdMode maps a tuning-file mode name to its enum value.
func parseThresholdMode(s string) (ThresholdMode, error) {
	switch s {
	case "manual":
		return ThresholdManual, nil
	case "median":
		return ThresholdMedian, nil
	case "otsu":
		return ThresholdOtsu, nil
	case "adaptive":
		return ThresholdAdaptive, nil
	case "bracketing":
		return ThresholdBracketing, nil
	default:
		return 0, fmt.Errorf("%w: unknown threshold mode %q", ErrConfigInvalid, s)
	}
}

// adaptiveSmoothing is the EMA weight given to each new frame's median in
// adaptive mode. Small enough to ride out flicker, large enough to follow a
// real lighting change within a second of frames.
const adaptiveSmoothing = 0.15

// thresholder computes the per-frame binarization threshold. It carries
// state only for the adaptive and bracketing modes; manual, median and otsu
// are pure functions of the current histogram. Not safe for concurrent use;
// the resolve path owns it.
type thresholder struct {
	mode   ThresholdMode
	value  int // manual value; also the adaptive/bracketing current value
	step   int // bracketing candidate spacing
	primed bool

	// lastSeq keys state advancement to the frame: re-resolving the same
	// captured frame must not step the adaptive EMA or bracketing sweep
	// again.
	lastSeq uint64
	seen    bool
}

func newThresholder(tuning *config.Tuning) (*thresholder, error) {
	mode, err := parseThresholdMode(tuning.GetThresholdMode())
	if err != nil {
		return nil, err
	}
	return &thresholder{
		mode:  mode,
		value: tuning.GetThresholdValue(),
		step:  tuning.GetBracketingStep(),
	}, nil
}

// current returns the threshold last chosen, without observing a new frame.
func (t *thresholder) current() int { return t.value }

// observe updates the threshold from the frame's luma histogram and returns
// the value to gate this frame with. admitted reports how many observations
// a candidate threshold admits; only bracketing mode uses it. Observing a
// sequence number already seen returns the current value unchanged.
func (t *thresholder) observe(seq uint64, hist *[256]int, admitted func(threshold int) int) int {
	if t.seen && seq == t.lastSeq {
		return t.value
	}
	t.seen = true
	t.lastSeq = seq

	switch t.mode {
	case ThresholdManual:
		// Fixed; nothing to observe.

	case ThresholdMedian:
		t.value = histogramMedian(hist)

	case ThresholdOtsu:
		t.value = otsuThreshold(hist)

	case ThresholdAdaptive:
		med := histogramMedian(hist)
		if !t.primed {
			t.value = med
			t.primed = true
			break
		}
		t.value = clampLuma(int(float64(t.value) + adaptiveSmoothing*float64(med-t.value) + 0.5))

	case ThresholdBracketing:
		best, bestCount := t.value, admitted(t.value)
		for _, cand := range []int{t.value - t.step, t.value + t.step} {
			cand = clampLuma(cand)
			if n := admitted(cand); n > bestCount {
				best, bestCount = cand, n
			}
		}
		t.value = best
	}
	return t.value
}

// histogramMedian returns the luma bin at which the cumulative count first
// reaches half the total. An empty histogram yields 127.
func histogramMedian(hist *[256]int) int {
	total := 0
	for _, n := range hist {
		total += n
	}
	if total == 0 {
		return 127
	}
	half := (total + 1) / 2
	cum := 0
	for bin, n := range hist {
		cum += n
		if cum >= half {
			return bin
		}
	}
	return 255
}

// otsuThreshold maximises between-class variance over the histogram. Ties
// resolve to the lowest qualifying bin.
func otsuThreshold(hist *[256]int) int {
	total := 0
	sum := 0.0
	for bin, n := range hist {
		total += n
		sum += float64(bin) * float64(n)
	}
	if total == 0 {
		return 127
	}

	var (
		sumB, wB  float64
		best      float64
		threshold int
	)
	for bin, n := range hist {
		wB += float64(n)
		if wB == 0 {
			continue
		}
		wF := float64(total) - wB
		if wF == 0 {
			break
		}
		sumB += float64(bin) * float64(n)
		mB := sumB / wB
		mF := (sum - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			threshold = bin
		}
	}
	return threshold
}

func clampLuma(v int) int {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}
