package branchstatus

// vmPhaseToProbe mirrors _VM_STATUS_TO_BRANCH_STATUS from the original
// src/check_branch_status.py, recast as a probe signal that is combined
// with per-service TCP probes in Derive rather than mapped to a branch
// status directly.
var vmPhaseToProbe = map[string]ProbeResult{
	"Running":       ProbeHealthy,
	"Pending":       ProbeUnknown,
	"Scheduling":    ProbeUnknown,
	"Scheduled":     ProbeUnknown,
	"Provisioning":  ProbeUnknown,
	"PreMigrating":  ProbeHealthy,
	"Migrating":     ProbeHealthy,
	"Scaling":       ProbeHealthy,
	"Stopped":       ProbeStopped,
	"Succeeded":     ProbeStopped,
	"Failed":        ProbeError,
	"CrashLoopBackOff": ProbeError,
	"Unknown":       ProbeUnknown,
	"":              ProbeUnknown,
}

// MapVMPhase converts a KubeVirt/Neon VirtualMachine printableStatus (or
// condition-derived fallback) into a ProbeResult for Derive.
func MapVMPhase(phase string) ProbeResult {
	if p, ok := vmPhaseToProbe[phase]; ok {
		return p
	}
	return ProbeUnknown
}

// watchedPhases are the VM phases that spawn a per-branch monitor task
// on ADDED/MODIFIED watch events (§4.2 "Reconciliation trigger").
var watchedPhases = map[string]bool{
	"Running":      true,
	"PreMigrating": true,
	"Migrating":    true,
	"Scaling":      true,
}

// ShouldMonitor reports whether phase should have an active per-branch
// probe monitor running.
func ShouldMonitor(phase string) bool {
	return watchedPhases[phase]
}
