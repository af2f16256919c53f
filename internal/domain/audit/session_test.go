package audit

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		name string
		from SessionStatus
		to   SessionStatus
		want bool
	}{
		{"pending_to_running", StatusPending, StatusRunning, true},
		{"paused_to_running", StatusPaused, StatusRunning, true},
		{"running_to_paused", StatusRunning, StatusPaused, true},
		{"running_to_completed", StatusRunning, StatusCompleted, true},
		{"running_to_failed", StatusRunning, StatusFailed, true},
		{"running_to_stopped", StatusRunning, StatusStopped, true},
		{"paused_to_stopped", StatusPaused, StatusStopped, true},
		{"pending_to_stopped", StatusPending, StatusStopped, true},
		{"agents_active_to_paused", StatusAgentsActive, StatusPaused, true},
		{"running_to_agents_active", StatusRunning, StatusAgentsActive, true},

		{"same_status", StatusRunning, StatusRunning, false},
		{"pending_to_paused", StatusPending, StatusPaused, false},
		{"pending_to_completed", StatusPending, StatusCompleted, false},
		{"completed_is_terminal", StatusCompleted, StatusRunning, false},
		{"stopped_is_terminal", StatusStopped, StatusRunning, false},
		{"failed_is_terminal", StatusFailed, StatusRunning, false},
		{"paused_to_completed", StatusPaused, StatusCompleted, false},
		{"unknown_target", StatusRunning, SessionStatus("bogus"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanTransition(tc.from, tc.to); got != tc.want {
				t.Fatalf("CanTransition(%s, %s)=%v, want %v", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestStatusPredicates(t *testing.T) {
	for _, s := range ActiveStatuses {
		if !s.Active() {
			t.Fatalf("%s not Active", s)
		}
		if s.Terminal() {
			t.Fatalf("%s both active and terminal", s)
		}
	}
	for _, s := range []SessionStatus{StatusCompleted, StatusCompletedMaxIterations, StatusStopped, StatusFailed} {
		if !s.Terminal() {
			t.Fatalf("%s not Terminal", s)
		}
		if s.Active() {
			t.Fatalf("%s both terminal and active", s)
		}
	}
	if StatusPending.Active() || StatusPending.Terminal() {
		t.Fatalf("pending must be neither active nor terminal")
	}
	if StatusPaused.Active() || StatusPaused.Terminal() {
		t.Fatalf("paused must be neither active nor terminal")
	}
}
