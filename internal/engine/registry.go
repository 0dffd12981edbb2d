package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/holoplane/artrack/internal/config"
)

// Registry owns the set of registered trackables. Handles are allocated
// monotonically and never reused; re-registering a configuration that is
// already live returns the existing handle unchanged. A configuration whose
// asset load failed stays failed (same error on every retry) until it is
// explicitly cleared, so a bad dataset cannot flap between states.
type Registry struct {
	mu sync.RWMutex

	loader AssetLoader
	tuning *config.Tuning

	nextHandle Handle
	entries    map[Handle]*Trackable
	live       map[string]Handle // canonical config string -> live handle
	failed     map[string]error  // canonical config string -> sticky load error
	retained   map[string]Options
}

// NewRegistry creates an empty registry. Assets referenced by multimarker,
// NFT and planar configurations resolve through loader.
func NewRegistry(loader AssetLoader, tuning *config.Tuning) *Registry {
	return &Registry{
		loader:   loader,
		tuning:   tuning,
		entries:  make(map[Handle]*Trackable),
		live:     make(map[string]Handle),
		failed:   make(map[string]error),
		retained: make(map[string]Options),
	}
}

// Register parses, validates and loads a trackable configuration string and
// returns its handle. The same configuration registered twice yields the
// same handle. Options retained from a previous registration of the same
// configuration are re-applied automatically.
func (r *Registry) Register(configStr string) (Handle, error) {
	cfg, err := Parse(configStr)
	if err != nil {
		return NoID, err
	}
	return r.register(cfg)
}

// RegisterConfig registers an already-constructed configuration.
func (r *Registry) RegisterConfig(cfg Config) (Handle, error) {
	if err := cfg.validate(); err != nil {
		return NoID, err
	}
	return r.register(cfg)
}

func (r *Registry) register(cfg Config) (Handle, error) {
	key := cfg.String()

	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.live[key]; ok {
		Tracef("register %q: already live as handle %d", key, h)
		return h, nil
	}
	if err := r.failed[key]; err != nil {
		Tracef("register %q: sticky failure", key)
		return NoID, err
	}

	t := &Trackable{
		handle: r.nextHandle,
		cfg:    cfg,
		opts:   r.retained[key].withDefaults(r.tuning),
	}
	if err := t.load(r.loader); err != nil {
		r.failed[key] = err
		Diagf("register %q failed: %v", key, err)
		return NoID, err
	}
	t.filter = newPoseFilter(t.opts.FilterSampleRate, t.opts.FilterCutoffFreq)

	r.nextHandle++
	r.entries[t.handle] = t
	r.live[key] = t.handle
	Opsf("registered %s trackable %d (%.1fx%.1f mm)", cfg.Kind(), t.handle, t.widthMM, t.heightMM)
	return t.handle, nil
}

// Unregister removes a trackable. Its options are retained and re-applied
// if the same configuration registers again; the handle is never reused.
func (r *Registry) Unregister(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.entries[h]
	if !ok {
		return fmt.Errorf("unknown trackable handle %d", h)
	}
	key := t.cfg.String()
	r.retained[key] = t.Options()
	delete(r.entries, h)
	delete(r.live, key)

	t.mu.Lock()
	t.handle = NoID
	t.visible = false
	t.mu.Unlock()

	Opsf("unregistered trackable %d (%q)", h, key)
	return nil
}

// ClearFailure forgets a sticky load failure so the configuration can be
// retried, typically after the underlying asset has been fixed.
func (r *Registry) ClearFailure(configStr string) {
	cfg, err := Parse(configStr)
	if err != nil {
		return
	}
	r.mu.Lock()
	delete(r.failed, cfg.String())
	r.mu.Unlock()
}

// SetOptions replaces a trackable's runtime options. Rate changes rebuild
// the pose filter from scratch; an NFT scale change re-derives the physical
// extents from the unscaled dataset values.
func (r *Registry) SetOptions(h Handle, opts Options) error {
	r.mu.RLock()
	t, ok := r.entries[h]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown trackable handle %d", h)
	}

	opts = opts.withDefaults(r.tuning)

	t.mu.Lock()
	rateChanged := opts.FilterSampleRate != t.opts.FilterSampleRate ||
		opts.FilterCutoffFreq != t.opts.FilterCutoffFreq
	if t.cfg.Kind() == KindNFT && opts.NFTScale != t.opts.NFTScale {
		t.widthMM = t.baseWidthMM * opts.NFTScale
		t.heightMM = t.baseHeightMM * opts.NFTScale
	}
	t.opts = opts
	if rateChanged {
		t.filter = newPoseFilter(opts.FilterSampleRate, opts.FilterCutoffFreq)
	}
	t.mu.Unlock()
	return nil
}

// Get returns the trackable registered under h.
func (r *Registry) Get(h Handle) (*Trackable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.entries[h]
	return t, ok
}

// Handles returns all live handles in ascending order.
func (r *Registry) Handles() []Handle {
	r.mu.RLock()
	handles := make([]Handle, 0, len(r.entries))
	for h := range r.entries {
		handles = append(handles, h)
	}
	r.mu.RUnlock()

	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	return handles
}

// Count returns the number of live trackables.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// PatternsInUse sums the template pattern slots consumed by live
// trackables, checked against the session's allocated budget.
func (r *Registry) PatternsInUse() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, t := range r.entries {
		total += t.patternCount
	}
	return total
}
