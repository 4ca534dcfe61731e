package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrInvalidDevice is returned when register or update input fails validation.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidType is returned when a device type is missing or not recognised.
	ErrInvalidType = errors.New("device: invalid type")

	// ErrTypeChanged is returned when a re-registration tries to change a device's type.
	ErrTypeChanged = errors.New("device: type is immutable")

	// ErrInvalidStatus is returned when a status value is not recognised.
	ErrInvalidStatus = errors.New("device: invalid status")

	// ErrInvalidID is returned when a caller-supplied ID is malformed.
	ErrInvalidID = errors.New("device: invalid id")

	// ErrInvalidName is returned when a device name is too long.
	ErrInvalidName = errors.New("device: invalid name")

	// ErrPersistence is returned alongside a successful in-memory mutation
	// when the registry could not be flushed to durable storage. The
	// mutation is not rolled back.
	ErrPersistence = errors.New("device: persistence failed")
)

// IsValidationError reports whether err is caller-actionable input failure.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidDevice) ||
		errors.Is(err, ErrInvalidType) ||
		errors.Is(err, ErrTypeChanged) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidName)
}
