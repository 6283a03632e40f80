package broker

import "errors"

// Sentinel errors returned by connector adapters; the execution engine
// switches on these to decide between REJECTED and a retryable
// "broker unavailable" soft-rejection.
var (
	ErrNotConnected       = errors.New("broker: not connected")
	ErrAlreadyConnected   = errors.New("broker: already connected")
	ErrSymbolNotFound     = errors.New("broker: symbol not found")
	ErrSymbolDisabled     = errors.New("broker: symbol trading disabled")
	ErrSymbolCloseOnly    = errors.New("broker: symbol is close-only")
	ErrVolumeOutOfRange   = errors.New("broker: volume out of range")
	ErrVolumeStepMismatch = errors.New("broker: volume is not a multiple of volume step")
	ErrPriceMisaligned    = errors.New("broker: price not aligned to tick size")
	ErrStopsTooClose      = errors.New("broker: stop/limit distance below stops level")
	ErrSymbolNotSelected  = errors.New("broker: symbol not selected for market data")
	ErrInsufficientMargin = errors.New("broker: insufficient margin")
	ErrUnavailable        = errors.New("broker: unavailable")
	ErrOrderNotFound      = errors.New("broker: order not found")
)
