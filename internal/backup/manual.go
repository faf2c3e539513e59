package backup

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/simplyblock-io/vela-controlplane/internal/entityid"
	"github.com/simplyblock-io/vela-controlplane/internal/metrics"
	"github.com/simplyblock-io/vela-controlplane/internal/store"
	"github.com/simplyblock-io/vela-controlplane/internal/vlog"
)

// DefaultTickSchedule matches §4.4 "Tick ... invoked on a fixed
// cadence, default 60 s".
const DefaultTickSchedule = "@every 60s"

// CreateManual takes an on-demand snapshot outside the schedule tick
// (§4.4 "Manual backups"): row_index=-1, bypasses retention caps for
// creation, but still counts toward the per-branch global cap.
func (s *Scheduler) CreateManual(ctx context.Context, branch *store.Branch, namespace, pvcName, label string) (*store.BackupEntry, error) {
	now := s.Now()

	result, err := s.Snapshots.CaptureSnapshot(ctx, branch.ID.String(), namespace, pvcName, label)
	if err != nil {
		return nil, err
	}

	entry := &store.BackupEntry{
		ID:           entityid.New(),
		BranchID:     branch.ID,
		RowIndex:     store.ManualRowIndex,
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
		return nil, err
	}
	metrics.BackupsTaken.WithLabelValues("manual").Inc()

	if err := s.Backups.AppendBackupLog(ctx, &store.BackupLog{
		ID:         entityid.New(),
		BranchID:   branch.ID,
		BackupUUID: entry.ID,
		Action:     store.BackupActionManualCreate,
		Timestamp:  now,
	}); err != nil {
		return nil, err
	}

	if err := s.enforceGlobalCap(ctx, branch); err != nil {
		return nil, err
	}

	return entry, nil
}

// DeleteManual removes a BackupEntry created via CreateManual (or any
// entry), logging a manual-delete BackupLog entry and best-effort
// deleting the underlying snapshot.
func (s *Scheduler) DeleteManual(ctx context.Context, branchID entityid.ID, entry *store.BackupEntry) error {
	if err := s.Backups.DeleteBackupEntry(ctx, entry.ID); err != nil {
		return err
	}
	if err := s.Backups.AppendBackupLog(ctx, &store.BackupLog{
		ID:         entityid.New(),
		BranchID:   branchID,
		BackupUUID: entry.ID,
		Action:     store.BackupActionManualDelete,
		Timestamp:  s.Now(),
	}); err != nil {
		return err
	}
	metrics.BackupsPruned.WithLabelValues("manual").Inc()
	if err := s.Snapshots.DeleteSnapshot(ctx, entry.Snapshot.Namespace, entry.Snapshot.Name, entry.Snapshot.ContentName); err != nil {
		vlog.FromContext(ctx).WithName("backup-scheduler").
			Info("best-effort snapshot deletion failed", "backup", entry.ID, "error", err)
	}
	return nil
}

// Run blocks, invoking Tick on cronSpec's cadence until ctx is
// cancelled, the same cron.Schedule.Next-driven wake loop the resize
// sweeper uses (§4.4 "Tick (run-once, invoked on a fixed cadence,
// default 60 s)"). Pass DefaultTickSchedule for the spec default.
func (s *Scheduler) Run(ctx context.Context, cronSpec string, pvcNameForBranch func(*store.Branch) (namespace, pvcName string)) error {
	schedule, err := cron.ParseStandard(cronSpec)
	if err != nil {
		return err
	}
	log := vlog.FromContext(ctx).WithName("backup-scheduler")

	next := schedule.Next(s.Now())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Until(next)):
			if err := s.Tick(ctx, pvcNameForBranch); err != nil {
				log.Error(err, "backup tick failed")
			}
			next = schedule.Next(s.Now())
		}
	}
}
