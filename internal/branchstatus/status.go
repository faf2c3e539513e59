// Package branchstatus implements C2: deriving the canonical branch
// lifecycle status from VM phase and service probes, and the guarded
// transition applied before persisting it (§4.2).
package branchstatus

import (
	"time"

	"github.com/simplyblock-io/vela-controlplane/internal/store"
)

// ProbeResult is one health signal feeding the derivation function —
// either a per-service TCP reachability probe or the VM phase mapped
// through MapVMPhase.
type ProbeResult string

const (
	ProbeHealthy ProbeResult = "HEALTHY"
	ProbeStopped ProbeResult = "STOPPED"
	ProbeError   ProbeResult = "ERROR"
	ProbeUnknown ProbeResult = "UNKNOWN"
)

// Derive is the pure function from §4.2: given the full set of probe
// results for a branch, determine the branch's current observed status.
//
//	all healthy        → ACTIVE_HEALTHY
//	any ERROR          → ERROR
//	all STOPPED        → STOPPED
//	any UNKNOWN (else) → UNKNOWN
//	else               → ACTIVE_UNHEALTHY
func Derive(probes []ProbeResult) store.BranchStatus {
	allHealthy, allStopped := true, true
	anyError, anyUnknown := false, false

	for _, p := range probes {
		switch p {
		case ProbeHealthy:
			allStopped = false
		case ProbeStopped:
			allHealthy = false
		case ProbeError:
			allHealthy, allStopped = false, false
			anyError = true
		case ProbeUnknown:
			allHealthy, allStopped = false, false
			anyUnknown = true
		default:
			allHealthy, allStopped = false, false
			anyUnknown = true
		}
	}

	switch {
	case allHealthy:
		return store.StatusActiveHealthy
	case anyError:
		return store.StatusError
	case allStopped:
		return store.StatusStopped
	case anyUnknown:
		return store.StatusUnknown
	default:
		return store.StatusActiveUnhealthy
	}
}

// transitionalStoppedGrace is the grace window after which a branch
// stuck in CREATING or STARTING while probes read STOPPED is promoted
// to ERROR instead of waiting forever (§4.2 rule 6).
const transitionalStoppedGrace = 5 * time.Minute

// activeResizeStatuses are the per-service states that keep an
// in-progress RESIZING status sticky (§4.2 rule 2).
var activeResizeStatuses = map[store.ResizeStatus]bool{
	store.ResizePending:                 true,
	store.ResizeResizing:                true,
	store.ResizeFilesystemResizePending: true,
}

func anyResizeActive(statuses map[string]store.ServiceResizeState) bool {
	for _, s := range statuses {
		if activeResizeStatuses[s.Status] {
			return true
		}
	}
	return false
}

// Guard applies the §4.2 transition rules before a newly derived status
// is written over current. transitioningSince is the time current was
// entered (used only to evaluate rule 6's grace window); callers pass
// the zero time if unknown, which disables the promote-to-ERROR case.
func Guard(
	current, derived store.BranchStatus,
	resizeStatuses map[string]store.ServiceResizeState,
	transitioningSince time.Time,
	now time.Time,
) store.BranchStatus {
	// Rule 1.
	if current == derived {
		return current
	}

	// Rule 2: RESIZING stays sticky while a resize row is still active,
	// unless the derived status is ERROR.
	if current == store.StatusResizing {
		if anyResizeActive(resizeStatuses) && derived != store.StatusError {
			return store.StatusResizing
		}
	}

	// Rule 4: PAUSED is sticky except to ACTIVE_HEALTHY or ERROR.
	if current == store.StatusPaused {
		if derived == store.StatusActiveHealthy || derived == store.StatusError {
			return derived
		}
		return store.StatusPaused
	}

	// Rules 3 & 5: transitional states absorb a spurious STOPPED
	// derivation unless we are explicitly STOPPING.
	if current.IsTransitional() && derived == store.StatusStopped && current != store.StatusStopping {
		// Rule 6: CREATING/STARTING escalate to ERROR past the grace
		// window instead of absorbing indefinitely.
		if (current == store.StatusCreating || current == store.StatusStarting) &&
			!transitioningSince.IsZero() && now.Sub(transitioningSince) > transitionalStoppedGrace {
			return store.StatusError
		}
		return current
	}

	// Rule 7: terminal sinks always accept the derived status — this
	// also covers every remaining transitional-state case not absorbed
	// above (e.g. STARTING → ACTIVE_HEALTHY).
	return derived
}
