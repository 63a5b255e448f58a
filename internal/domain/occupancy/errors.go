package occupancy

import "errors"

var (
	ErrConfig           = errors.New("invalid spot configuration")
	ErrNoSpotsAvailable = errors.New("no spots available")
	ErrDetector         = errors.New("detector failure")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrNotFound         = errors.New("not found")
	ErrPartialWrite     = errors.New("status written but transition event missing")
	ErrStoreUnreachable = errors.New("store unreachable for every spot")
	ErrCycleInFlight    = errors.New("sync cycle already in flight")
)
