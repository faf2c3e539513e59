// Package resize implements C3: admitting resize requests, tracking
// per-service progress through the monotonic priority lattice, driving
// PVC/VM patches, and enforcing request timeouts (§4.3).
package resize

import (
	"time"

	"github.com/simplyblock-io/vela-controlplane/internal/store"
)

// Request is the resize delta a caller submits for a branch. Every
// field is optional; only present, changed fields are admitted and
// tracked (§4.3 "Request shape").
type Request struct {
	DatabaseSize *int64
	StorageSize  *int64
	MilliVCPU    *int64
	MemoryBytes  *int64
	IOPS         *int64
}

// fieldToService maps a changed request field to the per-service
// tracking key it drives (§4.3 "Per-service tracking").
var fieldToService = map[store.Resource]store.ServiceName{
	store.ResourceDatabaseSize: store.ServiceDatabaseDiskResize,
	store.ResourceStorageSize:  store.ServiceStorageAPIDiskResize,
	store.ResourceMilliVCPU:    store.ServiceDatabaseCPUResize,
	store.ResourceRAM:          store.ServiceDatabaseMemoryResize,
	store.ResourceIOPS:         store.ServiceDatabaseIOPSResize,
}

// Deltas extracts the resource→requested-amount map for fields present
// in r, for admission against C5.
func (r Request) Deltas() map[store.Resource]int64 {
	out := map[store.Resource]int64{}
	if r.DatabaseSize != nil {
		out[store.ResourceDatabaseSize] = *r.DatabaseSize
	}
	if r.StorageSize != nil {
		out[store.ResourceStorageSize] = *r.StorageSize
	}
	if r.MilliVCPU != nil {
		out[store.ResourceMilliVCPU] = *r.MilliVCPU
	}
	if r.MemoryBytes != nil {
		out[store.ResourceRAM] = *r.MemoryBytes
	}
	if r.IOPS != nil {
		out[store.ResourceIOPS] = *r.IOPS
	}
	return out
}

// Changed reports which resources in r differ from current, rejecting
// any attempted contraction of the two size fields (§4.3 "Storage
// contraction is rejected (strict ≥)"). CPU, memory and IOPS may
// decrease.
func Changed(current map[store.Resource]int64, requested map[store.Resource]int64) (changed map[store.Resource]int64, contractions []store.Resource) {
	changed = map[store.Resource]int64{}
	for resource, newAmount := range requested {
		old, ok := current[resource]
		if ok && newAmount == old {
			continue
		}
		if (resource == store.ResourceDatabaseSize || resource == store.ResourceStorageSize) && ok && newAmount < old {
			contractions = append(contractions, resource)
			continue
		}
		changed[resource] = newAmount
	}
	return changed, contractions
}

// BuildServiceUpdates produces the resize_statuses mutation for a set
// of changed resources: each maps to its service with a fresh PENDING
// row; any existing PENDING row for a resource no longer present in
// changed is cleared (§4.3 "Unchanged fields with a PENDING row are
// cleared.").
func BuildServiceUpdates(existing map[string]store.ServiceResizeState, changed map[store.Resource]int64, now time.Time) map[string]store.ServiceResizeState {
	next := make(map[string]store.ServiceResizeState, len(existing))
	for k, v := range existing {
		next[k] = v
	}

	touched := map[store.ServiceName]bool{}
	for resource, amount := range changed {
		service, ok := fieldToService[resource]
		if !ok {
			continue
		}
		touched[service] = true
		next[string(service)] = store.ServiceResizeState{
			Status:      store.ResizePending,
			Timestamp:   now,
			RequestedAt: &now,
			TargetValue: amount,
		}
	}

	for key, state := range next {
		if state.Status == store.ResizePending && !touched[store.ServiceName(key)] {
			delete(next, key)
		}
	}

	return next
}
