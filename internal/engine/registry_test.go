package engine

import (
	"testing"

	"github.com/holoplane/artrack/internal/config"
	"github.com/holoplane/artrack/internal/testutil"
)

func newTestRegistry(assets MapLoader) *Registry {
	return NewRegistry(assets, config.Empty())
}

func TestRegistryHandlesAreMonotonic(t *testing.T) {
	r := newTestRegistry(nil)

	h1, err := r.Register("single_barcode;1;40")
	testutil.AssertNoError(t, err)
	h2, err := r.Register("single_barcode;2;40")
	testutil.AssertNoError(t, err)
	if h1 != 0 || h2 != 1 {
		t.Fatalf("handles = %d, %d; want 0, 1", h1, h2)
	}

	testutil.AssertNoError(t, r.Unregister(h1))

	// A fresh registration never reuses a retired handle.
	h3, err := r.Register("single_barcode;3;40")
	testutil.AssertNoError(t, err)
	if h3 != 2 {
		t.Fatalf("handle after unregister = %d, want 2", h3)
	}
}

func TestRegistryRegisterIsIdempotent(t *testing.T) {
	r := newTestRegistry(nil)

	h1, err := r.Register("single_barcode;7;60")
	testutil.AssertNoError(t, err)
	h2, err := r.Register("single_barcode;7;60")
	testutil.AssertNoError(t, err)
	if h1 != h2 {
		t.Fatalf("same config got two handles: %d and %d", h1, h2)
	}
	if r.Count() != 1 {
		t.Fatalf("Count = %d, want 1", r.Count())
	}
}

func TestRegistryUnregisterInvalidatesHandle(t *testing.T) {
	r := newTestRegistry(nil)

	h, err := r.Register("single_buffer;80;buffer=AB")
	testutil.AssertNoError(t, err)
	tr, ok := r.Get(h)
	if !ok {
		t.Fatal("trackable not found")
	}
	testutil.AssertNoError(t, r.Unregister(h))

	if tr.Handle() != NoID {
		t.Fatalf("unregistered trackable handle = %d, want NoID", tr.Handle())
	}
	if _, ok := r.Get(h); ok {
		t.Fatal("handle still resolvable after unregister")
	}
	testutil.AssertError(t, r.Unregister(h))
}

func TestRegistryLoadFailureIsSticky(t *testing.T) {
	r := newTestRegistry(MapLoader{}) // no assets at all

	h, err := r.Register("nft;datasets/missing")
	testutil.AssertErrorIs(t, err, ErrEngineLoadFailed)
	if h != NoID {
		t.Fatalf("failed registration returned handle %d, want NoID", h)
	}

	// Same configuration, same answer, even if the loader would now work.
	h, err = r.Register("nft;datasets/missing")
	testutil.AssertErrorIs(t, err, ErrEngineLoadFailed)
	if h != NoID {
		t.Fatalf("retry returned handle %d, want NoID", h)
	}
}

func TestRegistryClearFailureAllowsRetry(t *testing.T) {
	assets := MapLoader{}
	r := newTestRegistry(assets)

	_, err := r.Register("nft;datasets/pinball")
	testutil.AssertErrorIs(t, err, ErrEngineLoadFailed)

	assets["datasets/pinball"] = []byte("150 100\n")
	r.ClearFailure("nft;datasets/pinball")

	h, err := r.Register("nft;datasets/pinball")
	testutil.AssertNoError(t, err)
	tr, _ := r.Get(h)
	w, ht := tr.Size()
	if w != 150 || ht != 100 {
		t.Fatalf("dataset extents = %vx%v, want 150x100", w, ht)
	}
}

func TestRegistryRetainsOptionsAcrossReload(t *testing.T) {
	r := newTestRegistry(nil)

	h, err := r.Register("single_barcode;5;50")
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, r.SetOptions(h, Options{Filtered: true, ContinuousPoseEstimation: true}))
	testutil.AssertNoError(t, r.Unregister(h))

	h2, err := r.Register("single_barcode;5;50")
	testutil.AssertNoError(t, err)
	tr, _ := r.Get(h2)
	opts := tr.Options()
	if !opts.Filtered || !opts.ContinuousPoseEstimation {
		t.Fatalf("options not retained across reload: %+v", opts)
	}
}

func TestRegistryOptionsDefaultFromTuning(t *testing.T) {
	rate, cutoff := 60.0, 5.0
	tuning := &config.Tuning{FilterSampleRate: &rate, FilterCutoffFreq: &cutoff}
	r := NewRegistry(nil, tuning)

	h, err := r.Register("single_barcode;9;30")
	testutil.AssertNoError(t, err)
	tr, _ := r.Get(h)
	opts := tr.Options()
	if opts.FilterSampleRate != 60 || opts.FilterCutoffFreq != 5 {
		t.Fatalf("tuning defaults not applied: %+v", opts)
	}
	if opts.NFTScale != 1.0 {
		t.Fatalf("NFTScale default = %v, want 1.0", opts.NFTScale)
	}
}

func TestRegistryMultimarkerLoad(t *testing.T) {
	assets := MapLoader{
		"layouts/cube.dat": []byte(`# two faces of a cube
3 0 0 0
4 100 0 0
`),
	}
	r := newTestRegistry(assets)

	h, err := r.Register("multi;layouts/cube.dat")
	testutil.AssertNoError(t, err)
	tr, _ := r.Get(h)
	if tr.PatternCount() != 2 {
		t.Fatalf("PatternCount = %d, want 2", tr.PatternCount())
	}
	w, _ := tr.Size()
	if w != 100 {
		t.Fatalf("body width = %v, want 100", w)
	}
}

func TestRegistryMultimarkerRejectsMalformedLayout(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", "\n# nothing\n"},
		{"short line", "3 0 0\n"},
		{"bad id", "x 0 0 0\n"},
		{"bad offset", "3 0 zero 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry(MapLoader{"layout.dat": []byte(tt.data)})
			_, err := r.Register("multi;layout.dat")
			testutil.AssertErrorIs(t, err, ErrEngineLoadFailed)
		})
	}
}

func TestRegistryNFTRejectsMalformedDataset(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"one field", "150\n"},
		{"negative", "150 -3\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry(MapLoader{"ds": []byte(tt.data)})
			_, err := r.Register("nft;ds")
			testutil.AssertErrorIs(t, err, ErrEngineLoadFailed)
		})
	}
}

func TestRegistryNFTScaleAppliesToExtents(t *testing.T) {
	r := NewRegistry(MapLoader{"ds": []byte("100 80\n")}, config.Empty())

	// Changing the scale re-derives the extents from the dataset values
	// without a reload.
	h, err := r.Register("nft;ds")
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, r.SetOptions(h, Options{NFTScale: 2.0}))
	tr, _ := r.Get(h)
	w, ht := tr.Size()
	if w != 200 || ht != 160 {
		t.Fatalf("scaled extents = %vx%v, want 200x160", w, ht)
	}
	testutil.AssertNoError(t, r.SetOptions(h, Options{NFTScale: 0.5}))
	if w, ht = tr.Size(); w != 50 || ht != 40 {
		t.Fatalf("rescaled extents = %vx%v, want 50x40", w, ht)
	}

	// The scale is retained like any other option and survives a reload.
	testutil.AssertNoError(t, r.SetOptions(h, Options{NFTScale: 2.0}))
	testutil.AssertNoError(t, r.Unregister(h))
	h, err = r.Register("nft;ds")
	testutil.AssertNoError(t, err)
	tr, _ = r.Get(h)
	if w, ht = tr.Size(); w != 200 || ht != 160 {
		t.Fatalf("extents after reload = %vx%v, want 200x160", w, ht)
	}
}

func TestRegistryPatternsInUse(t *testing.T) {
	assets := MapLoader{"layout.dat": []byte("1 0 0 0\n2 50 0 0\n3 0 50 0\n")}
	r := newTestRegistry(assets)

	_, err := r.Register("single_buffer;80;buffer=AA")
	testutil.AssertNoError(t, err)
	_, err = r.Register("multi;layout.dat")
	testutil.AssertNoError(t, err)

	if got := r.PatternsInUse(); got != 4 {
		t.Fatalf("PatternsInUse = %d, want 4", got)
	}
}

func TestTwoDLoadDerivesAspect(t *testing.T) {
	r := newTestRegistry(MapLoader{"poster.png": pngFixture(t, 200, 100)})

	h, err := r.Register("2d;poster.png;180")
	testutil.AssertNoError(t, err)
	tr, _ := r.Get(h)
	w, ht := tr.Size()
	if w != 180 || ht != 90 {
		t.Fatalf("planar extents = %vx%v, want 180x90", w, ht)
	}
}

func TestTwoDLoadRejectsBadImage(t *testing.T) {
	r := newTestRegistry(MapLoader{"poster.png": []byte("not an image")})
	_, err := r.Register("2d;poster.png;180")
	testutil.AssertErrorIs(t, err, ErrEngineLoadFailed)
}
