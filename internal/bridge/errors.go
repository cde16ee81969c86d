package bridge

import "errors"

var (
	ErrBusy          = errors.New("bridge: another request is in progress")
	ErrTimeout       = errors.New("bridge: no response from host in time")
	ErrChannelClosed = errors.New("bridge: host channel closed")
	ErrNotRequest    = errors.New("bridge: not a front-end request action")
	// ErrDisplay means the host answered but the identity surface failed.
	ErrDisplay       = errors.New("bridge: identity display failed")
)

// HostError is the failure reported by the host through an "error" response.
type HostError struct {
	Message string
}

func (e *HostError) Error() string {
	return e.Message
}
