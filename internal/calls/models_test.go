package calls

import "testing"

func TestTransitionTable(t *testing.T) {
	all := []CallStatus{StatusInitiated, StatusRinging, StatusAnswered, StatusCompleted, StatusBusy, StatusNoAnswer, StatusFailed}
	allowed := map[[2]CallStatus]bool{
		{StatusInitiated, StatusRinging}:  true,
		{StatusInitiated, StatusFailed}:   true,
		{StatusInitiated, StatusBusy}:     true,
		{StatusRinging, StatusAnswered}:   true,
		{StatusRinging, StatusNoAnswer}:   true,
		{StatusRinging, StatusBusy}:       true,
		{StatusRinging, StatusFailed}:     true,
		{StatusAnswered, StatusCompleted}: true,
		{StatusAnswered, StatusFailed}:    true,
	}
	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]CallStatus{from, to}]
			if got := from.CanTransitionTo(to); got != want {
				t.Fatalf("%s -> %s: expected %v, got %v", from, to, want, got)
			}
		}
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []CallStatus{StatusCompleted, StatusBusy, StatusNoAnswer, StatusFailed} {
		if !s.IsTerminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []CallStatus{StatusInitiated, StatusRinging, StatusAnswered} {
		if s.IsTerminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
	if CallStatus("queued").Valid() {
		t.Fatalf("unknown status should not be valid")
	}
}
