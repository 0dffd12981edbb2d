package engine

import (
	"math"
	"time"

	"gonum.org/v1/gonum/num/quat"
)

// filterResetGap is the visibility gap after which a filter discards its
// history instead of blending toward a stale pose.
const filterResetGap = 500 * time.Millisecond

// poseFilter is a first-order low-pass over a rigid pose: translation is
// smoothed per-axis, rotation by normalized quaternion interpolation with
// hemisphere correction. The smoothing factor follows the one-euro family:
// alpha = dt / (dt + 1/(2*pi*cutoff)), so slower sampling trusts new
// measurements more. Not safe for concurrent use; the owning trackable's
// mutex guards it.
type poseFilter struct {
	sampleRate float64 // Hz, used when a sample carries no usable timestamp
	cutoffFreq float64 // Hz

	primed   bool
	lastTime time.Time
	lastQ    quat.Number
	lastT    [3]float64
}

func newPoseFilter(sampleRate, cutoffFreq float64) poseFilter {
	return poseFilter{sampleRate: sampleRate, cutoffFreq: cutoffFreq}
}

// reset discards history; the next sample passes through unfiltered.
func (f *poseFilter) reset() {
	f.primed = false
}

// apply folds a new raw pose into the filter and returns the smoothed pose.
// The first sample after a reset (or a visibility gap longer than
// filterResetGap) passes through unchanged.
func (f *poseFilter) apply(raw Matrix, at time.Time) Matrix {
	q := quatNormalize(quatFromMatrix(raw))
	tx, ty, tz := raw.Translation()

	if f.primed && !at.IsZero() && at.Sub(f.lastTime) > filterResetGap {
		f.primed = false
	}

	if !f.primed {
		f.primed = true
		f.lastTime = at
		f.lastQ = q
		f.lastT = [3]float64{tx, ty, tz}
		return raw
	}

	dt := 1.0 / f.sampleRate
	if !at.IsZero() && !f.lastTime.IsZero() {
		if measured := at.Sub(f.lastTime).Seconds(); measured > 0 {
			dt = measured
		}
	}
	alpha := dt / (dt + 1.0/(2.0*math.Pi*f.cutoffFreq))

	// Hemisphere correction: q and -q are the same rotation, blend toward
	// the representative nearest the history.
	if quatDot(f.lastQ, q) < 0 {
		q = quat.Scale(-1, q)
	}

	blended := quat.Add(quat.Scale(1-alpha, f.lastQ), quat.Scale(alpha, q))
	f.lastQ = quatNormalize(blended)
	f.lastT[0] += alpha * (tx - f.lastT[0])
	f.lastT[1] += alpha * (ty - f.lastT[1])
	f.lastT[2] += alpha * (tz - f.lastT[2])
	f.lastTime = at

	return matrixFromQuat(f.lastQ, f.lastT)
}
