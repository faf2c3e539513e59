package backup

import (
	"context"
	"testing"
	"time"

	"github.com/simplyblock-io/vela-controlplane/internal/entityid"
	"github.com/simplyblock-io/vela-controlplane/internal/store"
)

// TestManualBackupDeleteSeedScenario implements the literal
// ManualBackupDelete seed scenario: a manual backup creation followed by
// its deletion produces BackupLog rows manual-create then manual-delete,
// in order, and removes the BackupEntry.
func TestManualBackupDeleteSeedScenario(t *testing.T) {
	branch := testBranch()
	project := &store.Project{ID: branch.ProjectID, OrgID: entityid.New(), MaxBackups: 0}
	org := &store.Organization{ID: project.OrgID, MaxBackups: 0}

	backups := newFakeBackupRepo(nil, store.ScopeBranch)
	projects := &fakeProjectRepo{
		projects: map[entityid.ID]*store.Project{project.ID: project},
		orgs:     map[entityid.ID]*store.Organization{org.ID: org},
	}
	capturer := &fakeSnapshotCapturer{}

	now := time.Unix(0, 0).UTC()
	sched := NewScheduler(nil, projects, backups, capturer, alwaysUnlock{})
	sched.Now = func() time.Time { return now }

	entry, err := sched.CreateManual(context.Background(), branch, "ns", "pvc", "manual-1")
	if err != nil {
		t.Fatalf("CreateManual: %v", err)
	}
	if entry.RowIndex != store.ManualRowIndex {
		t.Fatalf("expected RowIndex=%d, got %d", store.ManualRowIndex, entry.RowIndex)
	}

	if err := sched.DeleteManual(context.Background(), branch.ID, entry); err != nil {
		t.Fatalf("DeleteManual: %v", err)
	}

	if _, stillExists := backups.entries[entry.ID]; stillExists {
		t.Fatalf("expected BackupEntry to be removed after DeleteManual")
	}
	if capturer.deletes != 1 {
		t.Fatalf("expected snapshot deletion to be invoked once, got %d", capturer.deletes)
	}

	if len(backups.logs) != 2 {
		t.Fatalf("expected exactly 2 BackupLog rows, got %d", len(backups.logs))
	}
	if backups.logs[0].Action != store.BackupActionManualCreate {
		t.Fatalf("expected first log action manual-create, got %s", backups.logs[0].Action)
	}
	if backups.logs[1].Action != store.BackupActionManualDelete {
		t.Fatalf("expected second log action manual-delete, got %s", backups.logs[1].Action)
	}
}

// TestManualBackupCountsTowardGlobalCap asserts manual backups bypass
// per-row retention on creation but still trigger the global cap prune.
func TestManualBackupCountsTowardGlobalCap(t *testing.T) {
	branch := testBranch()
	project := &store.Project{ID: branch.ProjectID, OrgID: entityid.New(), MaxBackups: 1}
	org := &store.Organization{ID: project.OrgID, MaxBackups: 1}

	backups := newFakeBackupRepo(nil, store.ScopeBranch)
	projects := &fakeProjectRepo{
		projects: map[entityid.ID]*store.Project{project.ID: project},
		orgs:     map[entityid.ID]*store.Organization{org.ID: org},
	}
	capturer := &fakeSnapshotCapturer{}

	now := time.Unix(0, 0).UTC()
	sched := NewScheduler(nil, projects, backups, capturer, alwaysUnlock{})
	sched.Now = func() time.Time { return now }

	first, err := sched.CreateManual(context.Background(), branch, "ns", "pvc", "manual-1")
	if err != nil {
		t.Fatalf("CreateManual first: %v", err)
	}

	now = now.Add(time.Minute)
	if _, err := sched.CreateManual(context.Background(), branch, "ns", "pvc", "manual-2"); err != nil {
		t.Fatalf("CreateManual second: %v", err)
	}

	all, _ := backups.ListAllBackupEntries(context.Background(), branch.ID)
	if len(all) != 1 {
		t.Fatalf("expected global cap of 1 to prune down to 1 entry, got %d", len(all))
	}
	if _, stillExists := backups.entries[first.ID]; stillExists {
		t.Fatalf("expected the older manual entry to be pruned by the global cap")
	}
}
