package domain

import (
	"errors"
	"fmt"
)

// Error kinds surfaced to the requesting participant.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotFound       = errors.New("not found")
	ErrEngineFailure  = errors.New("engine failure")
	ErrConflict       = errors.New("conflict")
)

var (
	ErrRoomNotFound      = fmt.Errorf("%w: room", ErrNotFound)
	ErrTransportNotFound = fmt.Errorf("%w: transport", ErrNotFound)
	ErrProducerNotFound  = fmt.Errorf("%w: producer", ErrNotFound)
	ErrConsumerNotFound  = fmt.Errorf("%w: consumer", ErrNotFound)

	ErrAlreadyJoined      = fmt.Errorf("%w: already joined", ErrConflict)
	ErrTransportExists    = fmt.Errorf("%w: transport already exists", ErrConflict)
	ErrAlreadyConnected   = fmt.Errorf("%w: transport already connected", ErrConflict)
	ErrAlreadyProducing   = fmt.Errorf("%w: kind already produced", ErrConflict)
	ErrAlreadyConsuming   = fmt.Errorf("%w: producer already consumed", ErrConflict)
	ErrNotJoined          = fmt.Errorf("%w: not joined", ErrInvalidRequest)
	ErrTransportNotReady  = fmt.Errorf("%w: transport not connected", ErrInvalidRequest)
	ErrConsumeOwnProducer = fmt.Errorf("%w: cannot consume own producer", ErrInvalidRequest)
	ErrIncompatibleCodecs = fmt.Errorf("%w: rtpCapabilities cannot receive producer codec", ErrInvalidRequest)
	ErrParticipantLeft    = fmt.Errorf("%w: participant left", ErrConflict)
	ErrRoomClosed         = fmt.Errorf("%w: room closed", ErrNotFound)
)

type ErrorCode string

const (
	CodeInvalidRequest ErrorCode = "invalid_request"
	CodeNotFound       ErrorCode = "not_found"
	CodeEngineFailure  ErrorCode = "engine_failure"
	CodeConflict       ErrorCode = "conflict"
	CodeInternal       ErrorCode = "internal"
)

// SignalError ties a failure to the signaling operation that produced it.
type SignalError struct {
	Op          string
	Err         error
	TransportID TransportID
}

func (e *SignalError) Error() string {
	if e.TransportID != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.TransportID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SignalError) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *SignalError {
	return &SignalError{Op: op, Err: err}
}

func NewTransportError(op string, id TransportID, err error) *SignalError {
	return &SignalError{Op: op, TransportID: id, Err: err}
}

// EngineError marks err as a media engine rejection.
func EngineError(err error) error {
	if err == nil || errors.Is(err, ErrEngineFailure) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrEngineFailure, err)
}

func CodeOf(err error) ErrorCode {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return CodeInvalidRequest
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrEngineFailure):
		return CodeEngineFailure
	}
	return CodeInternal
}
