package store

import (
	"context"
	"time"

	"github.com/simplyblock-io/vela-controlplane/internal/entityid"
)

// BranchRepository is the persistence surface the reconciliation
// components need for branches. NotFound is surfaced as
// apierrors.KindNotFound, not a sentinel error value (§9, "Exceptions
// for control flow").
type BranchRepository interface {
	GetBranch(ctx context.Context, id entityid.ID) (*Branch, error)
	ListBranchesByStatus(ctx context.Context, status BranchStatus) ([]*Branch, error)
	UpdateBranchStatus(ctx context.Context, id entityid.ID, status BranchStatus, at time.Time) error
	UpdateBranchResizeStatuses(ctx context.Context, id entityid.ID, statuses map[string]ServiceResizeState, aggregate ResizeStatus) error
	UpdateBranchAllocatedStorage(ctx context.Context, id entityid.ID, databaseSize, storageSize *int64) error
	UpdateBranchAllocatedCompute(ctx context.Context, id entityid.ID, milliVCPU, memoryBytes, iops *int64) error
}

// ProjectRepository resolves a project and its parent organization.
type ProjectRepository interface {
	GetProject(ctx context.Context, id entityid.ID) (*Project, error)
	GetOrganization(ctx context.Context, id entityid.ID) (*Organization, error)
}

// QuotaRepository serves the aggregation queries C5 needs.
type QuotaRepository interface {
	GetResourceLimit(ctx context.Context, entity EntityType, orgID, projectID *entityid.ID, envType *EnvType, resource Resource) (*ResourceLimit, error)
	SumOrgProvisioning(ctx context.Context, orgID entityid.ID, resource Resource) (int64, error)
	SumProjectProvisioning(ctx context.Context, projectID entityid.ID, resource Resource) (int64, error)
	GetBranchProvisioning(ctx context.Context, branchID entityid.ID) (map[Resource]int64, error)
	UpsertBranchProvisioning(ctx context.Context, branchID entityid.ID, resource Resource, amount int64, reason string) error
}

// BackupRepository serves the schedule resolution and tick bookkeeping
// C4 needs.
type BackupRepository interface {
	ResolveSchedule(ctx context.Context, branch *Branch) (*BackupSchedule, ScopeKind, error)
	GetNextBackup(ctx context.Context, branchID entityid.ID, rowIndex int) (*NextBackup, error)
	UpsertNextBackup(ctx context.Context, nb *NextBackup) error
	DueNextBackups(ctx context.Context, before time.Time) ([]*NextBackup, error)
	InsertBackupEntry(ctx context.Context, entry *BackupEntry) error
	AppendBackupLog(ctx context.Context, logEntry *BackupLog) error
	ListBackupEntries(ctx context.Context, branchID entityid.ID, rowIndex int) ([]*BackupEntry, error)
	ListAllBackupEntries(ctx context.Context, branchID entityid.ID) ([]*BackupEntry, error)
	DeleteBackupEntry(ctx context.Context, id entityid.ID) error
}
