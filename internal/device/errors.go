package device

import "github.com/pkg/errors"

// Error kinds surfaced by devices and the allocation cache. All of them are
// terminal for the call that triggered them; nothing in this runtime retries.
var (
	// ErrAllocation reports that the backend refused an allocation.
	ErrAllocation = errors.New("device: allocation failed")
	// ErrInvalidLength reports a zero-length buffer request, which is a
	// caller bug.
	ErrInvalidLength = errors.New("device: invalid buffer len: 0")
	// ErrDeviceInit reports that no device was found at the requested index
	// or that driver initialization failed.
	ErrDeviceInit = errors.New("device: initialization failed")
	// ErrConstruct reports an attempt to convert a buffer that is not owned
	// by the allocation cache into a device-unified buffer.
	ErrConstruct = errors.New("device: only cache-owned buffers can be made unified")
)
