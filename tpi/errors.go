package tpi

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout indicates that no valid response arrived within the retry budget.
	ErrTimeout = errors.New("response timeout")

	// ErrSequenceExhausted indicates that no free sequence number could be found
	// after repeated scans of the full 0-255 space. It matches ErrTimeout with
	// errors.Is, since callers treat both as a timeout-class failure.
	ErrSequenceExhausted = fmt.Errorf("%w: sequence number space exhausted", ErrTimeout)

	// ErrMalformedResponse indicates that an inbound response frame failed
	// checksum, length, or response-code validation.
	ErrMalformedResponse = errors.New("malformed response frame")

	// ErrUnexpectedResponse indicates that a valid response did not match the
	// shape the caller requested, e.g. an ANSWER payload that is not exactly one
	// byte when a numeric decode was requested.
	ErrUnexpectedResponse = errors.New("unexpected response shape")

	// ErrMalformedEvent indicates that an inbound event frame failed magic,
	// length, or checksum validation.
	ErrMalformedEvent = errors.New("malformed event frame")

	// ErrEventLengthMismatch indicates that an event frame's declared payload
	// length does not match the actual payload. The frame is still usable; the
	// listener logs a warning and proceeds.
	ErrEventLengthMismatch = errors.New("event payload length mismatch")

	// ErrClientClosed indicates that the client was closed while a request was
	// in flight or being issued.
	ErrClientClosed = errors.New("client closed")
)

// Controller error codes carried in the first data byte of an ERROR response.
var (
	// ErrBusChecksum indicates a checksum fault on the DALI bus itself.
	ErrBusChecksum = errors.New("checksum fault on DALI bus")

	// ErrUnknownCommand indicates the controller does not implement the command code.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrInvalidArguments indicates the command arguments were rejected.
	ErrInvalidArguments = errors.New("invalid arguments")

	// ErrCommandRefused indicates the controller refused to execute the command.
	ErrCommandRefused = errors.New("command refused")

	// ErrQueueFailure indicates the controller could not queue or buffer the command.
	ErrQueueFailure = errors.New("command queue failure")

	// ErrResourceLimit indicates a controller resource limit was reached.
	ErrResourceLimit = errors.New("resource limit reached")

	// ErrUnknownTarget indicates the addressed target does not exist on the bus.
	ErrUnknownTarget = errors.New("unknown target")

	// ErrFeatureNotLicensed indicates the command requires a feature that is not
	// licensed on the controller.
	ErrFeatureNotLicensed = errors.New("feature not licensed")
)

// controllerErrs maps the protocol's fixed error-code table to named errors.
var controllerErrs = map[byte]error{
	0x01: ErrBusChecksum,
	0x02: ErrUnknownCommand,
	0x03: ErrInvalidArguments,
	0x04: ErrCommandRefused,
	0x05: ErrQueueFailure,
	0x06: ErrResourceLimit,
	0x07: ErrUnknownTarget,
	0x08: ErrFeatureNotLicensed,
}

// ControllerError is a controller-reported failure: the error code byte from an
// ERROR response mapped through the protocol's error-code table.
type ControllerError struct {
	// Code is the raw error code byte as received.
	Code byte
	err  error
}

// NewControllerError maps code through the protocol error-code table.
// Unknown codes produce an error that still carries the raw byte.
func NewControllerError(code byte) *ControllerError {
	err, ok := controllerErrs[code]
	if !ok {
		err = errors.New("unknown error code")
	}

	return &ControllerError{Code: code, err: err}
}

func (e *ControllerError) Error() string {
	return fmt.Sprintf("controller error 0x%02X: %s", e.Code, e.err.Error())
}

// Unwrap exposes the named error so callers can match with errors.Is.
func (e *ControllerError) Unwrap() error {
	return e.err
}
