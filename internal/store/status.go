package store

import (
	"github.com/blang/semver"
	"github.com/thoas/go-funk"
)

// BranchStatus is the canonical, finite branch lifecycle status set
// (§4.2).
type BranchStatus string

const (
	StatusActiveHealthy   BranchStatus = "ACTIVE_HEALTHY"
	StatusActiveUnhealthy BranchStatus = "ACTIVE_UNHEALTHY"
	StatusStopped         BranchStatus = "STOPPED"
	StatusStarting        BranchStatus = "STARTING"
	StatusStopping        BranchStatus = "STOPPING"
	StatusPausing         BranchStatus = "PAUSING"
	StatusPaused          BranchStatus = "PAUSED"
	StatusResuming        BranchStatus = "RESUMING"
	StatusRestarting      BranchStatus = "RESTARTING"
	StatusCreating        BranchStatus = "CREATING"
	StatusUpdating        BranchStatus = "UPDATING"
	StatusDeleting        BranchStatus = "DELETING"
	StatusResizing        BranchStatus = "RESIZING"
	StatusUnknown         BranchStatus = "UNKNOWN"
	StatusError           BranchStatus = "ERROR"
)

// terminalStatuses always accept a derived transition (§4.2 rule 7).
var terminalStatuses = map[BranchStatus]bool{
	StatusActiveHealthy:   true,
	StatusActiveUnhealthy: true,
	StatusStopped:         true,
	StatusError:           true,
}

// IsTerminal reports whether s is one of the terminal sink statuses.
func (s BranchStatus) IsTerminal() bool {
	return terminalStatuses[s]
}

// transitionalStatuses absorb a spurious STOPPED derivation unless the
// current status is explicitly STOPPING (§4.2 rule 5).
var transitionalStatuses = map[BranchStatus]bool{
	StatusCreating:   true,
	StatusStarting:   true,
	StatusStopping:   true,
	StatusPausing:    true,
	StatusResuming:   true,
	StatusUpdating:   true,
	StatusDeleting:   true,
	StatusResizing:   true,
	StatusRestarting: true,
}

// IsTransitional reports whether s is one of the transient statuses
// that absorb a spurious STOPPED derivation.
func (s BranchStatus) IsTransitional() bool {
	return transitionalStatuses[s]
}

// Resource is a finite enum of quota/provisioning resource kinds.
type Resource string

const (
	ResourceMilliVCPU    Resource = "milli_vcpu"
	ResourceRAM          Resource = "ram"
	ResourceIOPS         Resource = "iops"
	ResourceStorageSize  Resource = "storage_size"
	ResourceDatabaseSize Resource = "database_size"
)

// AllResources enumerates every quota-tracked resource, in the order
// the system seeds defaults (§4.5).
var AllResources = []Resource{
	ResourceMilliVCPU,
	ResourceRAM,
	ResourceIOPS,
	ResourceStorageSize,
	ResourceDatabaseSize,
}

// EntityType is the quota tier a ResourceLimit row applies to.
type EntityType string

const (
	EntityTypeSystem  EntityType = "system"
	EntityTypeOrg     EntityType = "org"
	EntityTypeProject EntityType = "project"
)

// ResourceLimit is one quota row for a given tier/resource/scope.
type ResourceLimit struct {
	EntityType EntityType
	OrgID      *string
	ProjectID  *string
	EnvType    *EnvType
	Resource   Resource
	MaxTotal     *int64
	MaxPerBranch *int64
}

// BranchProvisioning is the current allocation of one resource to one
// branch.
type BranchProvisioning struct {
	BranchID  string
	Resource  Resource
	Amount    int64
	UpdatedAt int64 // unix seconds, kept as int64 to match JSON column usage
}

// ResourceUsageMinute is a per-minute usage sample, retaining origin
// IDs after parent deletion (§3 invariant 2).
type ResourceUsageMinute struct {
	TSMinute          int64
	OrgID             *string
	ProjectID         *string
	OriginalProjectID string
	BranchID          *string
	OriginalBranchID  string
	Resource          Resource
	Amount            int64
}

// KnownImageTags is the finite enum of supported database image tags.
// New tags are added here as the Postgres image matrix grows.
var KnownImageTags = []DatabaseImageTag{
	"15.1.0.117",
	"15.1.0.147",
	"15.1.0.150",
	"16.0.0.1",
}

// IsKnownImageTag reports whether tag is a member of KnownImageTags.
func IsKnownImageTag(tag DatabaseImageTag) bool {
	return funk.Contains(KnownImageTags, tag)
}

// ValidateImageTagFormat parses tag as a dotted version (the image tags
// in KnownImageTags are four-component, which semver.Parse accepts once
// the leading three components are separated from the build component).
func ValidateImageTagFormat(tag DatabaseImageTag) (semver.Version, error) {
	return semver.Make(normalizeToSemver(string(tag)))
}

// normalizeToSemver rewrites a four-component "A.B.C.D" tag into the
// semver-compatible "A.B.C+D" build-metadata form.
func normalizeToSemver(tag string) string {
	lastDot := -1
	dots := 0
	for i, r := range tag {
		if r == '.' {
			dots++
			if dots == 3 {
				lastDot = i
				break
			}
		}
	}
	if lastDot == -1 {
		return tag
	}
	return tag[:lastDot] + "+" + tag[lastDot+1:]
}
