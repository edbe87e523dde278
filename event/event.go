// Package event defines the typed session events raised by the client and
// the server, and an ordered delivery queue for them.
package event

import (
	"fmt"
	"time"
)

// Kind identifies the type of an event.
type Kind int

const (
	// Connected is raised when a session is established and logged in.
	Connected Kind = iota + 1

	// Disconnected is raised once when a session ends, either on a 221
	// reply or on a fatal transport error.
	Disconnected

	// Error is raised for recoverable failures. The session stays usable.
	Error

	// SpecialCommand carries one line received on the special channel.
	SpecialCommand

	// TransferStarted is raised when a file transfer begins.
	TransferStarted

	// TransferFinished is raised when a file transfer completes.
	TransferFinished

	// AppAction is raised for application lifecycle requests
	// (panel/launcher restart, stop and start). Message holds the verb.
	AppAction
)

var kindNames = map[Kind]string{
	Connected:        "connected",
	Disconnected:     "disconnected",
	Error:            "error",
	SpecialCommand:   "special_command",
	TransferStarted:  "transfer_started",
	TransferFinished: "transfer_finished",
	AppAction:        "app_action",
}

// String returns the snake_case name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Event is a single notification about a session.
type Event struct {
	Kind Kind

	// SessionID identifies the server session. Empty on the client.
	SessionID string

	// Message is the event payload: a reply text, a special-channel line,
	// a file name or an application verb, depending on Kind.
	Message string

	// Err is set for Error and for Disconnected events caused by a failure.
	Err error

	// Time is when the event was published.
	Time time.Time
}

// Handler receives events. Handlers run on the queue's consumer goroutine
// and must not block for long.
type Handler func(Event)
