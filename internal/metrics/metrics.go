// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Recorder captures metric events for the application.
type Recorder interface {
	// Reconciliation metrics
	IncReconcileOutcome(outcome string) // outcome: "ok", "ambiguous", "none"
	AddAssignmentsCreated(n int)
	ObserveMatchDuration(duration time.Duration)

	// Import metrics
	AddTransfersImported(n int)

	// Private API authentication
	IncAuthResult(result string) // result: "ok", "malformed", "denied", "error"

	// Member list page cache
	IncMemberListCacheHit()
	IncMemberListCacheMiss()

	// Arrears notifications
	IncNotification(status string) // status: "sent", "failed"
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
