package engine

import "errors"

// Error taxonomy for all engine operations. Callers branch with errors.Is;
// wrapped messages carry the operation-specific detail.
var (
	// ErrNotReady indicates the operation requires a later lifecycle phase.
	ErrNotReady = errors.New("engine: not ready")

	// ErrConfigInvalid indicates a malformed configuration string or a
	// missing required field. The operation had no effect.
	ErrConfigInvalid = errors.New("engine: invalid configuration")

	// ErrEngineLoadFailed indicates a valid-looking trackable configuration
	// could not be resolved (missing asset, malformed dataset). The failure
	// is recorded so later attempts with the same configuration are skipped.
	ErrEngineLoadFailed = errors.New("engine: trackable load failed")

	// ErrDeviceUnavailable indicates the capture source is busy or absent.
	// The session remains Initialized and start may be retried.
	ErrDeviceUnavailable = errors.New("engine: capture device unavailable")

	// ErrInitFailed indicates engine resources could not be allocated.
	ErrInitFailed = errors.New("engine: initialization failed")
)
