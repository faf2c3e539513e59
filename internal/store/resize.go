package store

import "time"

// ResizeStatus is one entry in the monotonic priority lattice governing
// per-service and aggregate resize progress (§4.3, §8 invariant 2):
// NONE < PENDING < RESIZING < FILESYSTEM_RESIZE_PENDING < COMPLETED < FAILED.
type ResizeStatus string

const (
	ResizeNone                     ResizeStatus = "NONE"
	ResizePending                  ResizeStatus = "PENDING"
	ResizeResizing                 ResizeStatus = "RESIZING"
	ResizeFilesystemResizePending  ResizeStatus = "FILESYSTEM_RESIZE_PENDING"
	ResizeCompleted                ResizeStatus = "COMPLETED"
	ResizeFailed                   ResizeStatus = "FAILED"
)

var resizePriority = map[ResizeStatus]int{
	ResizeNone:                    0,
	ResizePending:                 1,
	ResizeResizing:                2,
	ResizeFilesystemResizePending: 3,
	ResizeCompleted:               4,
	ResizeFailed:                  5,
}

// Priority returns s's rank in the lattice. Unknown values rank below
// NONE so malformed JSON-column data never blocks progress.
func (s ResizeStatus) Priority() int {
	if p, ok := resizePriority[s]; ok {
		return p
	}
	return -1
}

// Advances reports whether transitioning from s to next is a legal
// monotonic step: next must outrank s, except FAILED, which is always
// accepted regardless of current rank (§8 invariant 2).
func (s ResizeStatus) Advances(next ResizeStatus) bool {
	if next == ResizeFailed {
		return true
	}
	return next.Priority() > s.Priority()
}

// ServiceName is one of the five resize target services keyed by
// resize request field (§4.3).
type ServiceName string

const (
	ServiceDatabaseDiskResize  ServiceName = "database_disk_resize"
	ServiceStorageAPIDiskResize ServiceName = "storage_api_disk_resize"
	ServiceDatabaseCPUResize   ServiceName = "database_cpu_resize"
	ServiceDatabaseMemoryResize ServiceName = "database_memory_resize"
	ServiceDatabaseIOPSResize  ServiceName = "database_iops_resize"
)

// ServiceResizeState is one entry of Branch.ResizeStatuses.
type ServiceResizeState struct {
	Status    ResizeStatus `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
	RequestedAt *time.Time `json:"requested_at,omitempty"`
	// TargetValue is the requested new amount for the resource this
	// service tracks, carried from admission through to completion so
	// that a COMPLETED transition knows what to commit to the branch's
	// allocated-resource fields and its BranchProvisioning row (§4.3
	// "Completion effects").
	TargetValue int64 `json:"target_value,omitempty"`
}

// Aggregate computes the resize aggregate status from a branch's
// per-service map: the max by priority then timestamp (GLOSSARY,
// "Resize aggregate status"). Returns ResizeNone for an empty map.
func Aggregate(statuses map[string]ServiceResizeState) ResizeStatus {
	best := ResizeNone
	var bestTS time.Time
	for _, st := range statuses {
		switch {
		case st.Status.Priority() > best.Priority():
			best = st.Status
			bestTS = st.Timestamp
		case st.Status.Priority() == best.Priority() && st.Timestamp.After(bestTS):
			best = st.Status
			bestTS = st.Timestamp
		}
	}
	return best
}
