package engine

import (
	"strconv"
	"sync"

	"github.com/holoplane/artrack/internal/config"
	"github.com/holoplane/artrack/internal/source"
)

// Confidence gates for admitting an observation. Continuous pose estimation
// relaxes the gate for square-family trackables that were visible on the
// previous frame.
const (
	confidenceGate           = 0.5
	confidenceGateContinuous = 0.3
)

// snapshot is one captured frame plus anything precomputed off the resolve
// path. The pipeline keeps only the latest snapshot: producers never block
// and consumers never see a frame older than the last one published.
type snapshot struct {
	frame source.Frame

	// twoDByKey indexes planar observations by target key when background
	// detection is enabled, so ResolveAll skips the scan.
	twoDByKey map[string]*source.Observation
}

// Result is the resolved state of one trackable for one frame.
type Result struct {
	Handle  Handle
	Visible bool
	// Pose is the consumer-space pose; meaningful only when Visible.
	Pose Matrix
}

// PipelineStats counts snapshot traffic since the pipeline was created.
type PipelineStats struct {
	Published uint64 // frames published by the capture worker
	Dropped   uint64 // frames overwritten before any consumer captured them
	Captured  uint64 // frames handed to a consumer
	Resolved  uint64 // resolve passes completed
	LastSeq   uint64 // sequence number of the newest published frame
}

// pipeline connects the capture worker to the resolve path with
// latest-snapshot semantics and runs per-frame pose resolution against the
// registry.
type pipeline struct {
	registry *Registry
	tuning   *config.Tuning
	thresh   *thresholder

	mu       sync.Mutex
	latest   *snapshot
	captured bool // latest has been handed out already
	stats    PipelineStats
}

func newPipeline(registry *Registry, tuning *config.Tuning) (*pipeline, error) {
	thresh, err := newThresholder(tuning)
	if err != nil {
		return nil, err
	}
	return &pipeline{
		registry: registry,
		tuning:   tuning,
		thresh:   thresh,
	}, nil
}

// publish assigns the frame its sequence number and installs it as the
// latest snapshot, overwriting any frame the consumer has not captured yet.
// Called from the capture worker only.
func (p *pipeline) publish(frame source.Frame) {
	snap := &snapshot{frame: frame}
	if p.tuning.GetTwoDBackgroundDetection() {
		snap.twoDByKey = indexTwoD(snap.frame.Observations)
	}

	p.mu.Lock()
	if p.latest != nil && !p.captured {
		p.stats.Dropped++
		Tracef("dropped frame %d (unconsumed)", p.latest.frame.Seq)
	}
	p.stats.Published++
	snap.frame.Seq = p.stats.Published
	p.latest = snap
	p.captured = false
	p.stats.LastSeq = snap.frame.Seq
	p.mu.Unlock()
}

// capture returns the latest snapshot and whether it is new, i.e. published
// since the previous capture. Capturing the same frame twice is allowed but
// reports fresh=false and counts only once against the drop accounting.
func (p *pipeline) capture() (*snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.latest == nil {
		return nil, false
	}
	fresh := !p.captured
	if fresh {
		p.captured = true
		p.stats.Captured++
	}
	return p.latest, fresh
}

// statsSnapshot returns a copy of the counters.
func (p *pipeline) statsSnapshot() PipelineStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// resolve runs one pose-resolution pass over snap for every live trackable
// and returns one Result per handle, ordered by handle. It never fails: a
// trackable with no admissible observation simply resolves not-visible.
func (p *pipeline) resolve(snap *snapshot) []Result {
	handles := p.registry.Handles()
	results := make([]Result, 0, len(handles))
	if snap == nil {
		for _, h := range handles {
			results = append(results, p.resolveMiss(h))
		}
		return results
	}

	threshold := p.thresh.observe(snap.frame.Seq, &snap.frame.LumaHistogram, func(cand int) int {
		return countAdmitted(snap.frame.Observations, cand)
	})

	// Planar targets share a fixed tracking budget. Targets visible on the
	// previous frame keep their slots first; new detections claim only what
	// remains, so a newcomer never evicts an in-progress track.
	twoDBudget := p.tuning.GetTwoDMaxTracked()
	byHandle := make(map[Handle]Result, len(handles))
	var detect []Handle

	for _, h := range handles {
		t, ok := p.registry.Get(h)
		if !ok {
			byHandle[h] = Result{Handle: h, Visible: false}
			continue
		}
		if t.cfg.Kind() == KindTwoD {
			if wasVisible, _ := t.State(); !wasVisible {
				detect = append(detect, h)
				continue
			}
			if twoDBudget <= 0 {
				byHandle[h] = p.resolveMiss(h)
				continue
			}
			res := p.resolveOne(t, snap, threshold)
			if res.Visible {
				twoDBudget--
			}
			byHandle[h] = res
			continue
		}
		byHandle[h] = p.resolveOne(t, snap, threshold)
	}

	for _, h := range detect {
		t, ok := p.registry.Get(h)
		if !ok || twoDBudget <= 0 {
			byHandle[h] = p.resolveMiss(h)
			continue
		}
		res := p.resolveOne(t, snap, threshold)
		if res.Visible {
			twoDBudget--
		}
		byHandle[h] = res
	}

	for _, h := range handles {
		results = append(results, byHandle[h])
	}

	p.mu.Lock()
	p.stats.Resolved++
	p.mu.Unlock()
	return results
}

// resolveOne matches snap's observations against one trackable and updates
// its runtime state.
func (p *pipeline) resolveOne(t *Trackable, snap *snapshot, threshold int) Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	rawPose, found := matchTrackable(t, snap, threshold)
	if !found {
		t.visible = false
		t.filter.reset()
		return Result{Handle: t.handle, Visible: false}
	}

	if t.opts.Filtered {
		rawPose = t.filter.apply(rawPose, snap.frame.Timestamp)
	}
	if t.cfg.Kind() == KindNFT && t.opts.NFTScale != 1.0 {
		x, y, z := rawPose.Translation()
		s := t.opts.NFTScale
		rawPose = rawPose.WithTranslation(x*s, y*s, z*s)
	}

	t.visible = true
	t.pose = ToConsumerSpace(rawPose)
	return Result{Handle: t.handle, Visible: true, Pose: t.pose}
}

// resolveMiss marks a trackable not-visible without inspecting the frame.
func (p *pipeline) resolveMiss(h Handle) Result {
	if t, ok := p.registry.Get(h); ok {
		t.mu.Lock()
		t.visible = false
		t.filter.reset()
		t.mu.Unlock()
	}
	return Result{Handle: h, Visible: false}
}

// matchTrackable finds the raw engine-space pose of t in snap, if any.
// Caller holds t.mu.
func matchTrackable(t *Trackable, snap *snapshot, threshold int) (Matrix, bool) {
	gate := confidenceGate
	if t.opts.ContinuousPoseEstimation && t.visible {
		gate = confidenceGateContinuous
	}

	switch cfg := t.cfg.(type) {
	case SquareConfig:
		obs := bestMatch(snap.frame.Observations, source.KindSquare, cfg.Pattern, gate, threshold)
		if obs == nil {
			return Matrix{}, false
		}
		return Matrix(obs.Pose), true

	case BarcodeConfig:
		obs := bestMatch(snap.frame.Observations, source.KindBarcode, strconv.Itoa(cfg.BarcodeID), gate, threshold)
		if obs == nil {
			return Matrix{}, false
		}
		return Matrix(obs.Pose), true

	case MultiConfig:
		return matchMulti(t.subMarkers, snap.frame.Observations, gate, threshold)

	case NFTConfig:
		obs := bestMatch(snap.frame.Observations, source.KindNFT, cfg.Path, gate, -1)
		if obs == nil {
			return Matrix{}, false
		}
		return Matrix(obs.Pose), true

	case TwoDConfig:
		var obs *source.Observation
		if snap.twoDByKey != nil {
			if cand, ok := snap.twoDByKey[cfg.Path]; ok && cand.Confidence >= gate {
				obs = cand
			}
		} else {
			obs = bestMatch(snap.frame.Observations, source.KindTwoD, cfg.Path, gate, -1)
		}
		if obs == nil {
			return Matrix{}, false
		}
		return Matrix(obs.Pose), true
	}
	return Matrix{}, false
}

// matchMulti fuses the rigid body pose from its best-confidence visible
// sub-marker: the body pose is the sub-marker's pose composed with the
// inverse of its fixed offset.
func matchMulti(subs []SubMarker, observations []source.Observation, gate float64, threshold int) (Matrix, bool) {
	var (
		best    *source.Observation
		bestSub SubMarker
	)
	for _, sub := range subs {
		obs := bestMatch(observations, source.KindBarcode, strconv.Itoa(sub.BarcodeID), gate, threshold)
		if obs == nil {
			continue
		}
		if best == nil || obs.Confidence > best.Confidence {
			best, bestSub = obs, sub
		}
	}
	if best == nil {
		return Matrix{}, false
	}
	return Mul(Matrix(best.Pose), RigidInverse(bestSub.Offset)), true
}

// bestMatch returns the highest-confidence observation of the given kind
// and key that passes the confidence gate and, when threshold >= 0, the
// square-family binarization gate: marker border darker than the threshold,
// surrounding background at least as bright.
func bestMatch(observations []source.Observation, kind source.ObservationKind, key string, gate float64, threshold int) *source.Observation {
	var best *source.Observation
	for i := range observations {
		obs := &observations[i]
		if obs.Kind != kind || obs.Key != key || obs.Confidence < gate {
			continue
		}
		if threshold >= 0 && !passesThreshold(obs, threshold) {
			continue
		}
		if best == nil || obs.Confidence > best.Confidence {
			best = obs
		}
	}
	return best
}

func passesThreshold(obs *source.Observation, threshold int) bool {
	return int(obs.BorderLuma) < threshold && int(obs.BackgroundLuma) >= threshold
}

// countAdmitted counts square-family observations the threshold would
// admit, used by the bracketing sweep to score candidates.
func countAdmitted(observations []source.Observation, threshold int) int {
	n := 0
	for i := range observations {
		obs := &observations[i]
		if obs.Kind != source.KindSquare && obs.Kind != source.KindBarcode {
			continue
		}
		if passesThreshold(obs, threshold) {
			n++
		}
	}
	return n
}

func indexTwoD(observations []source.Observation) map[string]*source.Observation {
	idx := make(map[string]*source.Observation)
	for i := range observations {
		obs := &observations[i]
		if obs.Kind != source.KindTwoD {
			continue
		}
		if prev, ok := idx[obs.Key]; !ok || obs.Confidence > prev.Confidence {
			idx[obs.Key] = obs
		}
	}
	return idx
}
