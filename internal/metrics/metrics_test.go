package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestInMemoryRecorder(t *testing.T) {
	m := NewInMemory()

	m.IncReconcileOutcome("ok")
	m.IncReconcileOutcome("ok")
	m.IncReconcileOutcome("ambiguous")
	m.AddAssignmentsCreated(3)
	m.ObserveMatchDuration(2 * time.Millisecond)
	m.AddTransfersImported(5)
	m.IncAuthResult("denied")
	m.IncMemberListCacheHit()
	m.IncMemberListCacheMiss()
	m.IncMemberListCacheMiss()
	m.IncNotification("sent")

	snap := m.Snapshot()
	if snap.ReconcileOutcomes["ok"] != 2 || snap.ReconcileOutcomes["ambiguous"] != 1 {
		t.Errorf("unexpected outcomes: %v", snap.ReconcileOutcomes)
	}
	if snap.AssignmentsCreated != 3 {
		t.Errorf("AssignmentsCreated = %d, want 3", snap.AssignmentsCreated)
	}
	if snap.MatchDurationCount != 1 || snap.MatchDurationTotalNs != int64(2*time.Millisecond) {
		t.Errorf("unexpected match duration: %d/%d", snap.MatchDurationCount, snap.MatchDurationTotalNs)
	}
	if snap.TransfersImported != 5 {
		t.Errorf("TransfersImported = %d, want 5", snap.TransfersImported)
	}
	if snap.AuthResults["denied"] != 1 {
		t.Errorf("unexpected auth results: %v", snap.AuthResults)
	}
	if snap.MemberListCacheHits != 1 || snap.MemberListCacheMisses != 2 {
		t.Errorf("unexpected cache counters: %d/%d", snap.MemberListCacheHits, snap.MemberListCacheMisses)
	}
	if snap.Notifications["sent"] != 1 {
		t.Errorf("unexpected notifications: %v", snap.Notifications)
	}

	// Snapshot maps are copies.
	snap.AuthResults["denied"] = 100
	if m.Snapshot().AuthResults["denied"] != 1 {
		t.Error("snapshot should not alias recorder state")
	}
}

func TestPrometheusRecorder_Handler(t *testing.T) {
	p := NewPrometheus()
	p.IncReconcileOutcome("ok")
	p.AddAssignmentsCreated(2)
	p.IncAuthResult("denied")
	p.IncMemberListCacheHit()

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		`duesledger_reconcile_transfers_total{outcome="ok"} 1`,
		`duesledger_assignments_created_total 2`,
		`duesledger_private_api_auth_total{result="denied"} 1`,
		`duesledger_member_list_cache_total{result="hit"} 1`,
		`go_goroutines`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestNoopRecorder(t *testing.T) {
	r := NewNoop()
	r.IncReconcileOutcome("ok")
	r.AddAssignmentsCreated(1)
	r.ObserveMatchDuration(time.Second)
	r.AddTransfersImported(1)
	r.IncAuthResult("ok")
	r.IncMemberListCacheHit()
	r.IncMemberListCacheMiss()
	r.IncNotification("failed")
}
