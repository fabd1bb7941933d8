package bridge

import "errors"

var (
	// ErrThreadCreationFailed is returned when the topics chat refuses to create a topic.
	ErrThreadCreationFailed = errors.New("thread creation failed")
	// ErrAdapterSendFailed is returned when the destination platform rejects a send.
	ErrAdapterSendFailed = errors.New("adapter send failed")
	// ErrUndeliverable is returned when an event has no destination.
	ErrUndeliverable = errors.New("event undeliverable")
	// ErrEventPanicked is returned when handling an event panicked.
	ErrEventPanicked = errors.New("event handler panicked")
)
