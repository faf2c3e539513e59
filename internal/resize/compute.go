package resize

import (
	"fmt"

	"github.com/simplyblock-io/vela-controlplane/internal/apierrors"
)

// CPUCores is the guest CPU request/limit pair derived from a
// milli-vcpu amount (§4.3 "recompute guest cpu").
type CPUCores struct {
	Request int64 // floor(milli/1000) cores
	Limit   int64 // ceil(milli/1000) cores
}

// ComputeCPUCores converts a milli-vcpu amount into whole-core
// request/limit values for the VM CPU block patch.
func ComputeCPUCores(milliVCPU int64) CPUCores {
	return CPUCores{
		Request: milliVCPU / 1000,
		Limit:   (milliVCPU + 999) / 1000,
	}
}

// MemorySlots is the guest memory slot layout derived from a requested
// byte count (§4.3 "patch VM guest memory slots so slots x slotSize >=
// memory_bytes").
type MemorySlots struct {
	Slots    int64
	SlotSize int64
}

// ComputeMemorySlots picks the smallest slot count such that
// slots*slotSize >= memoryBytes, rejecting the request if it would
// exceed maxSlots or fall below currentUsageBytes.
func ComputeMemorySlots(memoryBytes, slotSize, maxSlots, currentUsageBytes int64) (MemorySlots, error) {
	if memoryBytes < currentUsageBytes {
		return MemorySlots{}, apierrors.Validation("resize.ComputeMemorySlots",
			fmt.Sprintf("requested memory %d below current usage %d", memoryBytes, currentUsageBytes))
	}

	slots := (memoryBytes + slotSize - 1) / slotSize
	if slots < 1 {
		slots = 1
	}
	if slots > maxSlots {
		return MemorySlots{}, apierrors.Validation("resize.ComputeMemorySlots",
			fmt.Sprintf("requested memory %d needs %d slots, exceeds configured maximum %d", memoryBytes, slots, maxSlots))
	}

	return MemorySlots{Slots: slots, SlotSize: slotSize}, nil
}
