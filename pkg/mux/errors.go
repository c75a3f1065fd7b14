package mux

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownChannel indicates the channel name is not recognized.
	ErrUnknownChannel = errors.New("unknown channel")
	// ErrClosed indicates the multiplexer has been closed.
	ErrClosed = errors.New("multiplexer closed")
	// ErrChannelDisabled indicates a write was discarded because the
	// channel is closed or disabled.
	ErrChannelDisabled = errors.New("channel disabled")
	// ErrChatTimeout indicates no final result was received for a command.
	ErrChatTimeout = errors.New("chat timeout")
	// ErrChannelBusy indicates the channel is claimed by another owner.
	ErrChannelBusy = errors.New("channel busy")
	// ErrAlreadyRunning indicates Run was called twice.
	ErrAlreadyRunning = errors.New("already running")
)

// ChatError is a final result other than OK.
type ChatError struct {
	Command string
	Result  string
}

// Error implements error.
func (e *ChatError) Error() string {
	return fmt.Sprintf("%s: %s", e.Command, e.Result)
}

func isChatError(err error) bool {
	var chatErr *ChatError
	return errors.As(err, &chatErr) || errors.Is(err, ErrChatTimeout)
}
