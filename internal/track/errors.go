package track

import "errors"

// Import-time errors. All are surfaced to the user and non-fatal: a failed
// import leaves the engine in its pre-import state.
var (
	ErrUnsupportedFormat      = errors.New("unsupported audio format")
	ErrReadFailed             = errors.New("failed to read audio file")
	ErrFormatConversionFailed = errors.New("failed to convert audio format")
)
