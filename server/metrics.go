package server

import "time"

// MetricsCollector receives server measurements. internal/metrics provides
// a Prometheus implementation.
//
// Methods are called inline from session goroutines and must not block.
// A nil collector is never called.
type MetricsCollector interface {
	// RecordCommand is called after every dispatched verb. ok is true when
	// the last reply code was below 400.
	RecordCommand(verb string, ok bool, elapsed time.Duration)

	// RecordTransfer is called after a completed "RETR" or "STOR".
	RecordTransfer(verb string, bytes int64, elapsed time.Duration)

	// RecordConnection is called for every accepted socket; reason is
	// "accepted" or "global_limit_reached".
	RecordConnection(accepted bool, reason string)

	// RecordAuthentication is called for every PASS.
	RecordAuthentication(ok bool, user string)

	// RecordHeartbeat is called with each measured heartbeat round trip.
	RecordHeartbeat(latency time.Duration)

	// RecordAppAction is called for RSTP, RSPL, STP, STPL and STTP.
	RecordAppAction(verb string)
}
