package mempool

import "errors"

var (
	// ErrOutOfResource indicates the backend could not satisfy an allocation,
	// even after the pool freed all cached blocks and invoked the release hook.
	ErrOutOfResource = errors.New("backend is out of resource")

	// ErrDoubleRelease indicates an allocation handle was released more than once.
	ErrDoubleRelease = errors.New("allocation already released")

	// ErrInvalidHandle indicates a handle not issued (or no longer tracked) by
	// the pool reached one of its free paths.
	ErrInvalidHandle = errors.New("handle not issued by this pool")

	// ErrUnrecognizedConfig indicates an unsupported configuration key or value.
	ErrUnrecognizedConfig = errors.New("unrecognized pool configuration")
)
