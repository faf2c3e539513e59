package resize

import (
	"testing"

	"github.com/simplyblock-io/vela-controlplane/internal/apierrors"
)

func TestComputeCPUCoresFloorAndCeil(t *testing.T) {
	cores := ComputeCPUCores(4500)
	if cores.Request != 4 {
		t.Errorf("Request = %d, want 4", cores.Request)
	}
	if cores.Limit != 5 {
		t.Errorf("Limit = %d, want 5", cores.Limit)
	}
}

func TestComputeCPUCoresExact(t *testing.T) {
	cores := ComputeCPUCores(4000)
	if cores.Request != 4 || cores.Limit != 4 {
		t.Errorf("exact milli-vcpu should floor/ceil to the same value, got %+v", cores)
	}
}

func TestComputeMemorySlotsRoundsUp(t *testing.T) {
	slots, err := ComputeMemorySlots(9*1<<30, 4*1<<30, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if slots.Slots != 3 {
		t.Errorf("Slots = %d, want 3", slots.Slots)
	}
}

func TestComputeMemorySlotsRejectsAboveMaxSlots(t *testing.T) {
	_, err := ComputeMemorySlots(100*1<<30, 4*1<<30, 10, 0)
	if err == nil {
		t.Fatal("expected error exceeding max slots")
	}
	if !apierrors.IsValidation(err) {
		t.Errorf("expected KindValidation, got %v", err)
	}
}

func TestComputeMemorySlotsRejectsBelowCurrentUsage(t *testing.T) {
	_, err := ComputeMemorySlots(1<<30, 4*1<<30, 10, 8*1<<30)
	if err == nil {
		t.Fatal("expected error for below-current-usage request")
	}
	if !apierrors.IsValidation(err) {
		t.Errorf("expected KindValidation, got %v", err)
	}
}
