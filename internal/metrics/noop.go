package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

func (n *NoopRecorder) IncReconcileOutcome(outcome string)          {}
func (n *NoopRecorder) AddAssignmentsCreated(count int)             {}
func (n *NoopRecorder) ObserveMatchDuration(duration time.Duration) {}
func (n *NoopRecorder) AddTransfersImported(count int)              {}
func (n *NoopRecorder) IncAuthResult(result string)                 {}
func (n *NoopRecorder) IncMemberListCacheHit()                      {}
func (n *NoopRecorder) IncMemberListCacheMiss()                     {}
func (n *NoopRecorder) IncNotification(status string)               {}
