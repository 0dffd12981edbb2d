package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	defer SetLogger(nil)

	var captured string
	SetLogger(func(format string, v ...interface{}) {
		captured = fmt.Sprintf(format, v...)
	})

	Logf("resolved %d trackables", 3)
	if captured != "resolved 3 trackables" {
		t.Errorf("captured %q", captured)
	}
}

func TestSetLoggerNil(t *testing.T) {
	SetLogger(nil)
	// Must not panic.
	Logf("dropped frame %d", 42)
	SetLogger(nil)
}
