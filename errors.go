package mrtftp

import (
	"errors"
	"fmt"
)

var (
	// ErrNotLoggedIn is returned when a command needs a session and none is
	// established.
	ErrNotLoggedIn = errors.New("mrtftp: not logged in")

	// ErrClosed is returned by operations on a closed Client.
	ErrClosed = errors.New("mrtftp: client closed")

	// ErrNoSpecialChannel is returned by SendSpecialCommand before the
	// special channel is connected.
	ErrNoSpecialChannel = errors.New("mrtftp: special channel not connected")

	// ErrNotSupported is returned when the server does not implement a
	// command (reply 502).
	ErrNotSupported = errors.New("mrtftp: command not supported by server")

	// ErrMalformedPASV is returned when a passive address tuple cannot be
	// decoded.
	ErrMalformedPASV = errors.New("mrtftp: malformed passive address")

	// ErrMalformedEntry is returned when a listing line cannot be parsed.
	ErrMalformedEntry = errors.New("mrtftp: malformed listing entry")

	// ErrMalformedReply is returned when a reply text does not have the
	// expected shape.
	ErrMalformedReply = errors.New("mrtftp: malformed reply")
)

// ProtocolError represents an FTP protocol error with full context of the
// command/response conversation. This provides detailed debugging information
// beyond simple error messages.
type ProtocolError struct {
	// Command is the command that was sent (e.g., "STOR")
	Command string

	// Response is the reply text received from the server
	Response string

	// Code is the numeric reply code (e.g., 550)
	Code int
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("mrtftp: %s failed: %s (code %d)", e.Command, e.Response, e.Code)
}

// Is2xx returns true if the error code is in the 2xx range (success).
func (e *ProtocolError) Is2xx() bool {
	return e.Code >= 200 && e.Code < 300
}

// Is3xx returns true if the error code is in the 3xx range (intermediate).
func (e *ProtocolError) Is3xx() bool {
	return e.Code >= 300 && e.Code < 400
}

// Is4xx returns true if the error code is in the 4xx range (temporary failure).
func (e *ProtocolError) Is4xx() bool {
	return e.Code >= 400 && e.Code < 500
}

// Is5xx returns true if the error code is in the 5xx range (permanent failure).
func (e *ProtocolError) Is5xx() bool {
	return e.Code >= 500 && e.Code < 600
}

// IsTemporary returns true if the error is a temporary failure (4xx).
func (e *ProtocolError) IsTemporary() bool {
	return e.Is4xx()
}

// IsPermanent returns true if the error is a permanent failure (5xx).
func (e *ProtocolError) IsPermanent() bool {
	return e.Is5xx()
}

func protocolError(command string, resp *Response) *ProtocolError {
	return &ProtocolError{
		Command:  command,
		Response: resp.Message,
		Code:     resp.Code,
	}
}
