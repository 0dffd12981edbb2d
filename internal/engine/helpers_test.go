package engine

import (
	"bytes"
	"image"
	"image/png"
	"testing"
	"time"

	"github.com/holoplane/artrack/internal/source"
)

// pngFixture encodes a blank grayscale PNG of the given dimensions.
func pngFixture(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, width, height))); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

// obs builds an observation with an identity rotation and the given
// translation, passing the default manual threshold (border 30 < 100,
// background 220 >= 100).
func obs(kind source.ObservationKind, key string, confidence, x, y, z float64) source.Observation {
	return source.Observation{
		Kind:           kind,
		Key:            key,
		Confidence:     confidence,
		Pose:           [16]float64(TranslationMatrix(x, y, z)),
		BorderLuma:     30,
		BackgroundLuma: 220,
	}
}

// frame builds a test frame around the given observations with a flat
// histogram.
func frame(observations ...source.Observation) source.Frame {
	f := source.Frame{
		Timestamp:    time.Now(),
		Width:        640,
		Height:       480,
		Observations: observations,
	}
	f.LumaHistogram[128] = 640 * 480
	return f
}
