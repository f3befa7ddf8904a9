package dxocam

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by any operation issued while the device's
// transport is not open and claimed.
var ErrNotConnected = errors.New("dxocam: not connected")

// ErrProtocolViolation indicates the camera sent bytes that do not fit the
// wire protocol defined in spec: a declared RPC length that would
// overrun the reassembly buffer, or an unexpected signature mid-stream
// where a stricter implementation might choose to raise instead of
// silently resyncing. Nothing in this package returns it: both of those
// cases are reported as a (nil, nil) response.
var ErrProtocolViolation = errors.New("dxocam: protocol violation")

// TransportError wraps a failure from the underlying USB bulk transfer.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("dxocam: transport %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// InitError wraps any failure encountered during device bring-up
// (initialize) with the device's display context, per spec error policy:
// InitFailure wraps NotConnected/TransportFailure/ProtocolViolation/
// ParseFailure observed while bringing the device up.
type InitError struct {
	Device string
	Err    error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("dxocam: failed to initialize %s: %v", e.Device, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

func wrapTransport(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Op: op, Err: err}
}

func wrapInit(device string, err error) error {
	if err == nil {
		return nil
	}
	return &InitError{Device: device, Err: err}
}
