package store

import (
	"time"

	"github.com/simplyblock-io/vela-controlplane/internal/entityid"
)

// ScheduleUnit is the finite interval-unit enum for a BackupScheduleRow.
type ScheduleUnit string

const (
	UnitMinute ScheduleUnit = "min"
	UnitHour   ScheduleUnit = "h"
	UnitDay    ScheduleUnit = "d"
	UnitWeek   ScheduleUnit = "w"
)

// unitSeconds is the unit → seconds map from §4.4.
var unitSeconds = map[ScheduleUnit]int64{
	UnitMinute: 60,
	UnitHour:   3600,
	UnitDay:    86400,
	UnitWeek:   604800,
}

// unitMaxInterval bounds a schedule row's Interval per unit (§4.4).
var unitMaxInterval = map[ScheduleUnit]int{
	UnitMinute: 59,
	UnitHour:   23,
	UnitDay:    6,
	UnitWeek:   12,
}

// BackupScheduleRow is one (interval, unit, retention) entry; a
// schedule holds up to 10, unique on (interval, unit) within it.
type BackupScheduleRow struct {
	RowIndex  int
	Interval  int
	Unit      ScheduleUnit
	Retention int
}

// IntervalSeconds returns the row's interval expressed in seconds
// (interval_seconds(r) in §4.4).
func (r BackupScheduleRow) IntervalSeconds() int64 {
	return int64(r.Interval) * unitSeconds[r.Unit]
}

// MaxIntervalForUnit returns the largest legal Interval for unit.
func MaxIntervalForUnit(unit ScheduleUnit) int {
	return unitMaxInterval[unit]
}

// BackupSchedule scopes a set of BackupScheduleRow to a branch, an
// (org, env_type) pair, or an org alone — composite-unique across those
// three columns (§3).
type BackupSchedule struct {
	ID        entityid.ID
	OrgID     *entityid.ID
	BranchID  *entityid.ID
	EnvType   *EnvType
	Rows      []BackupScheduleRow
}

// ScopeKind classifies a resolved schedule's scope for logging and for
// §9 ambiguity (c) pruning-scope decisions.
type ScopeKind string

const (
	ScopeBranch   ScopeKind = "branch"
	ScopeOrgEnv   ScopeKind = "org_env"
	ScopeOrg      ScopeKind = "org"
)

// NextBackup is the persisted next-fire timestamp for one
// (branch, schedule row) pair.
type NextBackup struct {
	BranchID   entityid.ID
	ScheduleID entityid.ID
	RowIndex   int
	NextAt     time.Time
}

// ManualRowIndex marks a BackupEntry created outside the schedule tick
// (row_index = -1, §3).
const ManualRowIndex = -1

// SnapshotRef names a captured VolumeSnapshot (C1 output, §4.1).
type SnapshotRef struct {
	Name        string
	Namespace   string
	ContentName string
}

// BackupEntry is one captured snapshot recorded against a branch.
type BackupEntry struct {
	ID           entityid.ID
	BranchID     entityid.ID
	RowIndex     int
	CreatedAt    time.Time
	SizeBytes    int64
	SnapshotUUID string
	Snapshot     SnapshotRef
}

// BackupLogAction is the finite enum of BackupLog actions (§3).
type BackupLogAction string

const (
	BackupActionTaken        BackupLogAction = "taken"
	BackupActionManualCreate BackupLogAction = "manual-create"
	BackupActionManualDelete BackupLogAction = "manual-delete"
	BackupActionDelete       BackupLogAction = "delete"
)

// BackupLog is an audit trail entry for a BackupEntry's lifecycle.
type BackupLog struct {
	ID         entityid.ID
	BranchID   entityid.ID
	BackupUUID entityid.ID
	Action     BackupLogAction
	Timestamp  time.Time
}

// ProvisioningLogAction is the finite enum of BranchProvisioning
// mutation reasons (§4.5 "Mutation").
type ProvisioningLogAction string

const (
	ProvisioningActionCreate ProvisioningLogAction = "create"
	ProvisioningActionUpdate ProvisioningLogAction = "update"
)

// ProvisioningLog records one createOrUpdateBranchProvisioning call.
type ProvisioningLog struct {
	ID        entityid.ID
	BranchID  entityid.ID
	Resource  Resource
	Amount    int64
	Action    ProvisioningLogAction
	Reason    string
	Timestamp time.Time
}
