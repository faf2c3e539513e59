// Package backup implements C4: resolving branch backup schedules,
// firing due snapshots on a fixed tick, enforcing per-row retention and
// the per-branch global cap, and handling manual backups (§4.4).
package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/simplyblock-io/vela-controlplane/internal/entityid"
	"github.com/simplyblock-io/vela-controlplane/internal/metrics"
	"github.com/simplyblock-io/vela-controlplane/internal/snapshot"
	"github.com/simplyblock-io/vela-controlplane/internal/store"
	"github.com/simplyblock-io/vela-controlplane/internal/vlog"
)

// SnapshotCapturer is the C1 surface the scheduler drives; satisfied by
// *snapshot.Engine.
type SnapshotCapturer interface {
	CaptureSnapshot(ctx context.Context, branchID, namespace, pvcName, label string) (*snapshot.CaptureResult, error)
	DeleteSnapshot(ctx context.Context, namespace, name, contentName string) error
}

// BranchLock serializes per-branch tick work, non-blocking: TryLock
// reports false immediately on contention instead of waiting (§4.4
// step 4 "acquire a per-branch async lock (non-blocking; skip on
// contention)").
type BranchLock interface {
	TryLock(branchID entityid.ID) (unlock func(), ok bool)
}

// Scheduler runs the backup tick (§4.4).
type Scheduler struct {
	Branches  store.BranchRepository
	Projects  store.ProjectRepository
	Backups   store.BackupRepository
	Snapshots SnapshotCapturer
	Locks     BranchLock
	Now       func() time.Time
}

// NewScheduler builds a Scheduler using time.Now as its clock.
func NewScheduler(branches store.BranchRepository, projects store.ProjectRepository, backups store.BackupRepository, snapshots SnapshotCapturer, locks BranchLock) *Scheduler {
	return &Scheduler{
		Branches:  branches,
		Projects:  projects,
		Backups:   backups,
		Snapshots: snapshots,
		Locks:     locks,
		Now:       time.Now,
	}
}

// Tick runs one invocation of the run-once backup tick (§4.4 steps
// 1-6): enumerate ACTIVE_HEALTHY branches, resolve schedules, fire due
// backups, prune per-row, enforce the global cap.
func (s *Scheduler) Tick(ctx context.Context, pvcNameForBranch func(*store.Branch) (namespace, pvcName string)) error {
	log := vlog.FromContext(ctx).WithName("backup-scheduler")
	now := s.Now()
	timer := prometheus.NewTimer(metrics.TickDuration.WithLabelValues("backup_tick"))
	defer timer.ObserveDuration()

	branches, err := s.Branches.ListBranchesByStatus(ctx, store.StatusActiveHealthy)
	if err != nil {
		return err
	}

	for _, branch := range branches {
		schedule, scope, err := s.Backups.ResolveSchedule(ctx, branch)
		if err != nil {
			log.Error(err, "resolve schedule failed", "branch", branch.ID)
			continue
		}
		if schedule == nil {
			continue
		}

		if err := s.ensureNextBackups(ctx, branch, schedule, now); err != nil {
			log.Error(err, "ensure next backups failed", "branch", branch.ID)
			continue
		}

		if err := s.fireDue(ctx, branch, schedule, now, pvcNameForBranch); err != nil {
			log.Error(err, "fire due backups failed", "branch", branch.ID)
		}

		for _, row := range schedule.Rows {
			if err := s.pruneRow(ctx, branch.ID, row); err != nil {
				log.Error(err, "prune row failed", "branch", branch.ID, "row", row.RowIndex)
			}
		}

		if err := s.enforceGlobalCap(ctx, branch); err != nil {
			log.Error(err, "enforce global cap failed", "branch", branch.ID, "scope", scope)
		}
	}

	return nil
}

// ensureNextBackups implements §4.4 step 3: insert a NextBackup row for
// every schedule row missing one.
func (s *Scheduler) ensureNextBackups(ctx context.Context, branch *store.Branch, schedule *store.BackupSchedule, now time.Time) error {
	for _, row := range schedule.Rows {
		existing, err := s.Backups.GetNextBackup(ctx, branch.ID, row.RowIndex)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		if err := s.Backups.UpsertNextBackup(ctx, &store.NextBackup{
			BranchID:   branch.ID,
			ScheduleID: schedule.ID,
			RowIndex:   row.RowIndex,
			NextAt:     now.Add(time.Duration(row.IntervalSeconds()) * time.Second),
		}); err != nil {
			return err
		}
	}
	return nil
}

// fireDue implements §4.4 step 4.
func (s *Scheduler) fireDue(ctx context.Context, branch *store.Branch, schedule *store.BackupSchedule, now time.Time, pvcNameForBranch func(*store.Branch) (string, string)) error {
	log := vlog.FromContext(ctx).WithName("backup-scheduler")
	rowByIndex := map[int]store.BackupScheduleRow{}
	for _, row := range schedule.Rows {
		rowByIndex[row.RowIndex] = row
	}

	due, err := s.Backups.DueNextBackups(ctx, now)
	if err != nil {
		return err
	}

	for _, nb := range due {
		if nb.BranchID != branch.ID {
			continue
		}
		row, ok := rowByIndex[nb.RowIndex]
		if !ok {
			continue
		}

		unlock, ok := s.Locks.TryLock(branch.ID)
		if !ok {
			log.Info("skipping tick on branch lock contention", "branch", branch.ID)
			continue
		}

		err := s.captureAndRecord(ctx, branch, nb.RowIndex, now, pvcNameForBranch)
		unlock()
		if err != nil {
			log.Error(err, "scheduled backup capture failed", "branch", branch.ID, "row", nb.RowIndex)
			continue
		}

		nb.NextAt = nb.NextAt.Add(time.Duration(row.IntervalSeconds()) * time.Second)
		if err := s.Backups.UpsertNextBackup(ctx, nb); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) captureAndRecord(ctx context.Context, branch *store.Branch, rowIndex int, now time.Time, pvcNameForBranch func(*store.Branch) (string, string)) error {
	namespace, pvcName := pvcNameForBranch(branch)
	label := fmt.Sprintf("scheduled-%d", rowIndex)

	result, err := s.Snapshots.CaptureSnapshot(ctx, branch.ID.String(), namespace, pvcName, label)
	if err != nil {
		return err
	}

	entry := &store.BackupEntry{
		ID:           entityid.New(),
		BranchID:     branch.ID,
		RowIndex:     rowIndex,
		CreatedAt:    now,
		SizeBytes:    result.SizeBytes,
		SnapshotUUID: entityid.New().String(),
		Snapshot: store.SnapshotRef{
			Name:        result.Name,
			Namespace:   result.Namespace,
			ContentName: result.ContentName,
		},
	}
	if err := s.Backups.InsertBackupEntry(ctx, entry); err != nil {
		return err
	}
	metrics.BackupsTaken.WithLabelValues("scheduled").Inc()

	return s.Backups.AppendBackupLog(ctx, &store.BackupLog{
		ID:         entityid.New(),
		BranchID:   branch.ID,
		BackupUUID: entry.ID,
		Action:     store.BackupActionTaken,
		Timestamp:  now,
	})
}

// pruneRow implements §4.4 step 5: delete oldest overflow entries past
// r.Retention, logging and attempting best-effort snapshot deletion for
// each.
func (s *Scheduler) pruneRow(ctx context.Context, branchID entityid.ID, row store.BackupScheduleRow) error {
	entries, err := s.Backups.ListBackupEntries(ctx, branchID, row.RowIndex)
	if err != nil {
		return err
	}
	if len(entries) <= row.Retention {
		return nil
	}

	overflow := entries[:len(entries)-row.Retention]
	for _, e := range overflow {
		if err := s.deleteEntry(ctx, branchID, e, "retention"); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) deleteEntry(ctx context.Context, branchID entityid.ID, e *store.BackupEntry, reason string) error {
	log := vlog.FromContext(ctx).WithName("backup-scheduler")

	if err := s.Backups.DeleteBackupEntry(ctx, e.ID); err != nil {
		return err
	}
	if err := s.Backups.AppendBackupLog(ctx, &store.BackupLog{
		ID:         entityid.New(),
		BranchID:   branchID,
		BackupUUID: e.ID,
		Action:     store.BackupActionDelete,
		Timestamp:  s.Now(),
	}); err != nil {
		return err
	}
	metrics.BackupsPruned.WithLabelValues(reason).Inc()

	if err := s.Snapshots.DeleteSnapshot(ctx, e.Snapshot.Namespace, e.Snapshot.Name, e.Snapshot.ContentName); err != nil {
		log.Info("best-effort snapshot deletion failed", "backup", e.ID, "error", err)
	}
	return nil
}

// enforceGlobalCap implements §4.4 step 6: total entries for the branch
// must not exceed min(project.max_backups, organization.max_backups).
func (s *Scheduler) enforceGlobalCap(ctx context.Context, branch *store.Branch) error {
	project, err := s.Projects.GetProject(ctx, branch.ProjectID)
	if err != nil {
		return err
	}
	org, err := s.Projects.GetOrganization(ctx, project.OrgID)
	if err != nil {
		return err
	}

	globalCap := project.MaxBackups
	if org.MaxBackups < globalCap {
		globalCap = org.MaxBackups
	}
	if globalCap <= 0 {
		return nil
	}

	all, err := s.Backups.ListAllBackupEntries(ctx, branch.ID)
	if err != nil {
		return err
	}
	if len(all) <= globalCap {
		return nil
	}

	overflow := all[:len(all)-globalCap]
	for _, e := range overflow {
		if err := s.deleteEntry(ctx, branch.ID, e, "global_cap"); err != nil {
			return err
		}
	}
	return nil
}
