package engine

import (
	"math"
	"testing"
	"time"

	"github.com/holoplane/artrack/internal/testutil"
)

func TestFilterFirstSamplePassesThrough(t *testing.T) {
	f := newPoseFilter(30, 15)
	raw := rotZ(0.5, 10, 20, 30)
	got := f.apply(raw, time.Now())
	testutil.DiffMatrices(t, [16]float64(got), [16]float64(raw), 0)
}

func TestFilterConvergesToSteadyTarget(t *testing.T) {
	f := newPoseFilter(30, 15)
	start := rotZ(0, 0, 0, 0)
	target := rotZ(0.8, 100, -50, 200)

	now := time.Now()
	f.apply(start, now)

	var got Matrix
	for i := 1; i <= 60; i++ {
		now = now.Add(33 * time.Millisecond)
		got = f.apply(target, now)
	}
	testutil.DiffMatrices(t, [16]float64(got), [16]float64(target), 1e-6)
}

func TestFilterSmoothsStepInput(t *testing.T) {
	f := newPoseFilter(30, 15)
	now := time.Now()
	f.apply(TranslationMatrix(0, 0, 0), now)

	now = now.Add(33 * time.Millisecond)
	got := f.apply(TranslationMatrix(100, 0, 0), now)

	x, _, _ := got.Translation()
	if x <= 0 || x >= 100 {
		t.Fatalf("filtered step should land strictly between old and new, got x=%v", x)
	}
}

func TestFilterResetsAfterVisibilityGap(t *testing.T) {
	f := newPoseFilter(30, 15)
	now := time.Now()
	f.apply(TranslationMatrix(0, 0, 0), now)

	// Longer than filterResetGap: history is stale, pass through.
	now = now.Add(2 * time.Second)
	raw := TranslationMatrix(500, 0, 0)
	got := f.apply(raw, now)
	testutil.DiffMatrices(t, [16]float64(got), [16]float64(raw), 0)
}

func TestFilterExplicitReset(t *testing.T) {
	f := newPoseFilter(30, 15)
	now := time.Now()
	f.apply(TranslationMatrix(0, 0, 0), now)
	f.reset()

	raw := TranslationMatrix(42, 0, 0)
	got := f.apply(raw, now.Add(33*time.Millisecond))
	testutil.DiffMatrices(t, [16]float64(got), [16]float64(raw), 0)
}

func TestFilterHemisphereCorrection(t *testing.T) {
	// Rotations of +3.0 and -3.0 rad about Z are 0.28 rad apart through pi
	// but nearly 6 rad apart through zero. The blend must take the short
	// arc: the result's angle magnitude stays above 3.0 instead of
	// collapsing toward identity.
	f := newPoseFilter(30, 15)
	now := time.Now()
	f.apply(rotZ(3.0, 0, 0, 0), now)

	got := f.apply(rotZ(-3.0, 0, 0, 0), now.Add(33*time.Millisecond))
	if !IsValidTransform(got) {
		t.Fatalf("blend left the rotation group: %v", got)
	}
	angle := math.Atan2(got[4], got[0])
	if math.Abs(angle) <= 3.0 {
		t.Fatalf("blend took the long arc through zero: angle=%v", angle)
	}
}

func TestFilterAlphaFollowsMeasuredInterval(t *testing.T) {
	// A slower frame interval must weight the new sample more heavily.
	fast := newPoseFilter(30, 15)
	slow := newPoseFilter(30, 15)
	now := time.Now()
	fast.apply(TranslationMatrix(0, 0, 0), now)
	slow.apply(TranslationMatrix(0, 0, 0), now)

	target := TranslationMatrix(100, 0, 0)
	fastOut := fast.apply(target, now.Add(10*time.Millisecond))
	slowOut := slow.apply(target, now.Add(200*time.Millisecond))

	fx, _, _ := fastOut.Translation()
	sx, _, _ := slowOut.Translation()
	if !(sx > fx) {
		t.Fatalf("slow interval should track harder: fast=%v slow=%v", fx, sx)
	}
	if math.IsNaN(fx) || math.IsNaN(sx) {
		t.Fatal("filter produced NaN")
	}
}
