package channel

import "errors"

// Platform failures classified by the adapters. Core code matches these with errors.Is
// instead of inspecting library error types.
var (
	ErrForbidden     = errors.New("platform refused: forbidden")
	ErrNotFound      = errors.New("platform refused: not found")
	ErrRateLimited   = errors.New("platform refused: rate limited")
	ErrMessageTooOld = errors.New("platform refused: message too old to edit")
	ErrNotModified   = errors.New("platform refused: message not modified")
	ErrNotConnected  = errors.New("platform session not connected")
	ErrInvalidTarget = errors.New("invalid delivery target")
)

// ErrStopNotSupported is returned when a connection does not support graceful shutdown.
var ErrStopNotSupported = errors.New("channel connection stop not supported")
