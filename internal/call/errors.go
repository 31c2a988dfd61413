package call

import (
	"errors"
	"io/fs"
	"syscall"
)

// Media acquisition failure reasons
var (
	ErrPermissionDenied = errors.New("media permission denied")
	ErrDeviceNotFound   = errors.New("media device not found")
	ErrDeviceBusy       = errors.New("media device busy")
	ErrMediaUnavailable = errors.New("media unavailable")
)

// MediaError is a user-facing media acquisition failure. errors.Is matches
// its Reason; errors.Unwrap returns the underlying device error.
type MediaError struct {
	Reason  error
	Message string
	Err     error
}

func (e *MediaError) Error() string {
	return e.Message
}

func (e *MediaError) Unwrap() error {
	return e.Err
}

func (e *MediaError) Is(target error) bool {
	return target == e.Reason
}

// classifyMediaError maps a device error to a MediaError. accepting selects
// the wording used when answering an incoming call.
func classifyMediaError(err error, accepting bool) *MediaError {
	var me *MediaError
	if errors.As(err, &me) {
		return me
	}

	switch {
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, fs.ErrPermission):
		msg := "Camera/Microphone access denied. Please allow permissions and try again."
		if accepting {
			msg = "Camera/Microphone access denied. Please allow permissions."
		}
		return &MediaError{Reason: ErrPermissionDenied, Message: msg, Err: err}

	case errors.Is(err, ErrDeviceNotFound), errors.Is(err, fs.ErrNotExist):
		return &MediaError{Reason: ErrDeviceNotFound, Message: "No camera or microphone found on your device.", Err: err}

	case errors.Is(err, ErrDeviceBusy), errors.Is(err, syscall.EBUSY):
		return &MediaError{Reason: ErrDeviceBusy, Message: "Camera/Microphone is already in use by another application.", Err: err}

	default:
		msg := "Failed to access camera/microphone. Please check your device settings."
		if accepting {
			msg = "Failed to accept call. Please check your device settings."
		}
		return &MediaError{Reason: ErrMediaUnavailable, Message: msg, Err: err}
	}
}
