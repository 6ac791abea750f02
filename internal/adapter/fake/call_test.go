package fake

import (
	"slices"
	"testing"
)

func TestCallRecorder_Record(t *testing.T) {
	var r CallRecorder

	r.record("Stop", "ecommerce-app")
	r.record("Remove", "ecommerce-app")
	r.record("Stop", "other")

	all := r.Calls("")
	if len(all) != 3 {
		t.Fatalf("expected 3 calls, got %d", len(all))
	}

	stops := r.Calls("Stop")
	if len(stops) != 2 {
		t.Fatalf("expected 2 Stop calls, got %d", len(stops))
	}
	if stops[0].Args[0] != "ecommerce-app" {
		t.Errorf("expected first Stop arg 'ecommerce-app', got %v", stops[0].Args[0])
	}
	if got := r.Count("Remove"); got != 1 {
		t.Errorf("expected 1 Remove call, got %d", got)
	}
	if got := r.Count("Run"); got != 0 {
		t.Errorf("expected 0 Run calls, got %d", got)
	}

	want := []string{"Stop", "Remove", "Stop"}
	if got := r.Methods(); !slices.Equal(got, want) {
		t.Errorf("Methods() = %v, want %v", got, want)
	}
}

func TestCallRecorder_Reset(t *testing.T) {
	var r CallRecorder

	r.record("Ping")
	r.record("Inspect")
	r.Reset()

	if len(r.Calls("")) != 0 {
		t.Errorf("expected 0 calls after reset, got %d", len(r.Calls("")))
	}
}
