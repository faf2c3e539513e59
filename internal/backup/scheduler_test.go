package backup

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/simplyblock-io/vela-controlplane/internal/entityid"
	"github.com/simplyblock-io/vela-controlplane/internal/snapshot"
	"github.com/simplyblock-io/vela-controlplane/internal/store"
)

type fakeProjectRepo struct {
	projects map[entityid.ID]*store.Project
	orgs     map[entityid.ID]*store.Organization
}

func (f *fakeProjectRepo) GetProject(_ context.Context, id entityid.ID) (*store.Project, error) {
	return f.projects[id], nil
}

func (f *fakeProjectRepo) GetOrganization(_ context.Context, id entityid.ID) (*store.Organization, error) {
	return f.orgs[id], nil
}

type fakeBackupRepo struct {
	schedule    *store.BackupSchedule
	scope       store.ScopeKind
	nextBackups map[string]*store.NextBackup
	entries     map[entityid.ID]*store.BackupEntry
	logs        []*store.BackupLog
}

func newFakeBackupRepo(schedule *store.BackupSchedule, scope store.ScopeKind) *fakeBackupRepo {
	return &fakeBackupRepo{
		schedule:    schedule,
		scope:       scope,
		nextBackups: map[string]*store.NextBackup{},
		entries:     map[entityid.ID]*store.BackupEntry{},
	}
}

func nbKey(branchID entityid.ID, rowIndex int) string {
	return fmt.Sprintf("%s/%d", branchID.String(), rowIndex)
}

func (f *fakeBackupRepo) ResolveSchedule(_ context.Context, branch *store.Branch) (*store.BackupSchedule, store.ScopeKind, error) {
	return f.schedule, f.scope, nil
}

func (f *fakeBackupRepo) GetNextBackup(_ context.Context, branchID entityid.ID, rowIndex int) (*store.NextBackup, error) {
	return f.nextBackups[nbKey(branchID, rowIndex)], nil
}

func (f *fakeBackupRepo) UpsertNextBackup(_ context.Context, nb *store.NextBackup) error {
	f.nextBackups[nbKey(nb.BranchID, nb.RowIndex)] = nb
	return nil
}

func (f *fakeBackupRepo) DueNextBackups(_ context.Context, before time.Time) ([]*store.NextBackup, error) {
	var due []*store.NextBackup
	for _, nb := range f.nextBackups {
		if !nb.NextAt.After(before) {
			due = append(due, nb)
		}
	}
	return due, nil
}

func (f *fakeBackupRepo) InsertBackupEntry(_ context.Context, entry *store.BackupEntry) error {
	f.entries[entry.ID] = entry
	return nil
}

func (f *fakeBackupRepo) AppendBackupLog(_ context.Context, logEntry *store.BackupLog) error {
	f.logs = append(f.logs, logEntry)
	return nil
}

func (f *fakeBackupRepo) ListBackupEntries(_ context.Context, branchID entityid.ID, rowIndex int) ([]*store.BackupEntry, error) {
	var out []*store.BackupEntry
	for _, e := range f.entries {
		if e.BranchID == branchID && e.RowIndex == rowIndex {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeBackupRepo) ListAllBackupEntries(_ context.Context, branchID entityid.ID) ([]*store.BackupEntry, error) {
	var out []*store.BackupEntry
	for _, e := range f.entries {
		if e.BranchID == branchID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeBackupRepo) DeleteBackupEntry(_ context.Context, id entityid.ID) error {
	delete(f.entries, id)
	return nil
}

type fakeSnapshotCapturer struct {
	captures int
	deletes  int
	sizeSeq  int64
}

func (f *fakeSnapshotCapturer) CaptureSnapshot(_ context.Context, branchID, namespace, pvcName, label string) (*snapshot.CaptureResult, error) {
	f.captures++
	f.sizeSeq++
	return &snapshot.CaptureResult{
		Name:        "snap-" + label,
		Namespace:   namespace,
		ContentName: "content-" + label,
		SizeBytes:   f.sizeSeq,
	}, nil
}

func (f *fakeSnapshotCapturer) DeleteSnapshot(_ context.Context, namespace, name, contentName string) error {
	f.deletes++
	return nil
}

type alwaysUnlock struct{}

func (alwaysUnlock) TryLock(entityid.ID) (func(), bool) { return func() {}, true }

func testBranch() *store.Branch {
	return &store.Branch{ID: entityid.New(), ProjectID: entityid.New()}
}

// TestBackupPruningSeedScenario implements the literal BackupPruning seed
// scenario: schedule row_index=0, interval=1h, retention=3; run 5 ticks.
// Expected: at most 3 BackupEntries survive for row 0, oldest deleted with
// a "delete" BackupLog each, and the corresponding snapshots are deleted.
func TestBackupPruningSeedScenario(t *testing.T) {
	branch := testBranch()
	project := &store.Project{ID: branch.ProjectID, OrgID: entityid.New(), MaxBackups: 0}
	org := &store.Organization{ID: project.OrgID, MaxBackups: 0}

	schedule := &store.BackupSchedule{
		ID:       entityid.New(),
		BranchID: &branch.ID,
		Rows:     []store.BackupScheduleRow{{RowIndex: 0, Interval: 1, Unit: store.UnitHour, Retention: 3}},
	}

	backups := newFakeBackupRepo(schedule, store.ScopeBranch)
	projects := &fakeProjectRepo{
		projects: map[entityid.ID]*store.Project{project.ID: project},
		orgs:     map[entityid.ID]*store.Organization{org.ID: org},
	}
	capturer := &fakeSnapshotCapturer{}

	now := time.Unix(0, 0).UTC()
	sched := NewScheduler(nil, projects, backups, capturer, alwaysUnlock{})
	sched.Now = func() time.Time { return now }

	branches := []*store.Branch{branch}
	pvcFor := func(*store.Branch) (string, string) { return "ns", "pvc" }

	for i := 0; i < 5; i++ {
		now = now.Add(time.Hour)
		for _, b := range branches {
			if err := sched.ensureNextBackups(context.Background(), b, schedule, now.Add(-time.Hour)); err != nil {
				t.Fatalf("ensureNextBackups: %v", err)
			}
			if err := sched.fireDue(context.Background(), b, schedule, now, pvcFor); err != nil {
				t.Fatalf("fireDue: %v", err)
			}
			for _, row := range schedule.Rows {
				if err := sched.pruneRow(context.Background(), b.ID, row); err != nil {
					t.Fatalf("pruneRow: %v", err)
				}
			}
		}
	}

	remaining, err := backups.ListBackupEntries(context.Background(), branch.ID, 0)
	if err != nil {
		t.Fatalf("ListBackupEntries: %v", err)
	}
	if len(remaining) != 3 {
		t.Fatalf("expected 3 surviving entries, got %d", len(remaining))
	}
	if capturer.captures != 5 {
		t.Fatalf("expected 5 captures, got %d", capturer.captures)
	}
	if capturer.deletes != 2 {
		t.Fatalf("expected 2 snapshot deletes (5 fired - 3 retained), got %d", capturer.deletes)
	}

	deleteLogs := 0
	for _, l := range backups.logs {
		if l.Action == store.BackupActionDelete {
			deleteLogs++
		}
	}
	if deleteLogs != 2 {
		t.Fatalf("expected 2 delete BackupLog entries, got %d", deleteLogs)
	}
}

func TestEnforceGlobalCapDeletesOldestAcrossRows(t *testing.T) {
	branch := testBranch()
	project := &store.Project{ID: branch.ProjectID, OrgID: entityid.New(), MaxBackups: 2}
	org := &store.Organization{ID: project.OrgID, MaxBackups: 5}

	backups := newFakeBackupRepo(nil, store.ScopeBranch)
	projects := &fakeProjectRepo{
		projects: map[entityid.ID]*store.Project{project.ID: project},
		orgs:     map[entityid.ID]*store.Organization{org.ID: org},
	}
	capturer := &fakeSnapshotCapturer{}
	sched := NewScheduler(nil, projects, backups, capturer, alwaysUnlock{})
	now := time.Unix(0, 0).UTC()
	sched.Now = func() time.Time { return now }

	for i := 0; i < 4; i++ {
		id := entityid.New()
		backups.entries[id] = &store.BackupEntry{
			ID:        id,
			BranchID:  branch.ID,
			RowIndex:  0,
			CreatedAt: now.Add(time.Duration(i) * time.Minute),
		}
	}

	if err := sched.enforceGlobalCap(context.Background(), branch); err != nil {
		t.Fatalf("enforceGlobalCap: %v", err)
	}

	all, _ := backups.ListAllBackupEntries(context.Background(), branch.ID)
	if len(all) != 2 {
		t.Fatalf("expected project.MaxBackups=2 to win over org.MaxBackups=5, got %d entries", len(all))
	}
}

func TestFireDueSkipsOnLockContention(t *testing.T) {
	branch := testBranch()
	schedule := &store.BackupSchedule{
		ID:       entityid.New(),
		BranchID: &branch.ID,
		Rows:     []store.BackupScheduleRow{{RowIndex: 0, Interval: 1, Unit: store.UnitHour, Retention: 3}},
	}
	backups := newFakeBackupRepo(schedule, store.ScopeBranch)
	capturer := &fakeSnapshotCapturer{}

	now := time.Unix(0, 0).UTC()
	backups.nextBackups[nbKey(branch.ID, 0)] = &store.NextBackup{BranchID: branch.ID, ScheduleID: schedule.ID, RowIndex: 0, NextAt: now}

	locks := NewKeyedLock()
	unlock, ok := locks.TryLock(branch.ID)
	if !ok {
		t.Fatalf("expected initial lock acquisition to succeed")
	}
	defer unlock()

	sched := NewScheduler(nil, nil, backups, capturer, locks)
	sched.Now = func() time.Time { return now }

	if err := sched.fireDue(context.Background(), branch, schedule, now, func(*store.Branch) (string, string) { return "ns", "pvc" }); err != nil {
		t.Fatalf("fireDue: %v", err)
	}
	if capturer.captures != 0 {
		t.Fatalf("expected no capture while branch lock is held, got %d", capturer.captures)
	}
}
