package resize

import (
	"context"
	"testing"
	"time"

	"github.com/simplyblock-io/vela-controlplane/internal/entityid"
	"github.com/simplyblock-io/vela-controlplane/internal/store"
)

type allocatedStorageCall struct {
	id                        entityid.ID
	databaseSize, storageSize *int64
}

type allocatedComputeCall struct {
	id                                   entityid.ID
	milliVCPU, memoryBytes, iops *int64
}

type fakeBranchRepo struct {
	branches map[entityid.ID]*store.Branch
	updates  []map[string]store.ServiceResizeState

	storageCalls []allocatedStorageCall
	computeCalls []allocatedComputeCall
}

func (f *fakeBranchRepo) GetBranch(ctx context.Context, id entityid.ID) (*store.Branch, error) {
	return f.branches[id], nil
}

func (f *fakeBranchRepo) ListBranchesByStatus(ctx context.Context, status store.BranchStatus) ([]*store.Branch, error) {
	var out []*store.Branch
	for _, b := range f.branches {
		if b.Status == status {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeBranchRepo) UpdateBranchStatus(ctx context.Context, id entityid.ID, status store.BranchStatus, at time.Time) error {
	f.branches[id].Status = status
	return nil
}

func (f *fakeBranchRepo) UpdateBranchResizeStatuses(ctx context.Context, id entityid.ID, statuses map[string]store.ServiceResizeState, aggregate store.ResizeStatus) error {
	f.branches[id].ResizeStatuses = statuses
	f.branches[id].ResizeStatus = aggregate
	f.updates = append(f.updates, statuses)
	return nil
}

func (f *fakeBranchRepo) UpdateBranchAllocatedStorage(ctx context.Context, id entityid.ID, databaseSize, storageSize *int64) error {
	f.storageCalls = append(f.storageCalls, allocatedStorageCall{id: id, databaseSize: databaseSize, storageSize: storageSize})
	if b, ok := f.branches[id]; ok {
		if databaseSize != nil {
			b.DatabaseSizeBytes = *databaseSize
		}
		if storageSize != nil {
			b.StorageSizeBytes = storageSize
		}
	}
	return nil
}

func (f *fakeBranchRepo) UpdateBranchAllocatedCompute(ctx context.Context, id entityid.ID, milliVCPU, memoryBytes, iops *int64) error {
	f.computeCalls = append(f.computeCalls, allocatedComputeCall{id: id, milliVCPU: milliVCPU, memoryBytes: memoryBytes, iops: iops})
	if b, ok := f.branches[id]; ok {
		if milliVCPU != nil {
			b.MilliVCPU = *milliVCPU
		}
		if memoryBytes != nil {
			b.MemoryBytes = *memoryBytes
		}
		if iops != nil {
			b.IOPS = *iops
		}
	}
	return nil
}

func TestSweeperFailsExpiredEntries(t *testing.T) {
	id := entityid.New()
	requestedAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := requestedAt.Add(181 * time.Second)

	repo := &fakeBranchRepo{branches: map[entityid.ID]*store.Branch{
		id: {
			ID:     id,
			Status: store.StatusResizing,
			ResizeStatuses: map[string]store.ServiceResizeState{
				string(store.ServiceDatabaseDiskResize): {Status: store.ResizeResizing, Timestamp: requestedAt, RequestedAt: &requestedAt},
			},
		},
	}}

	sweeper := &Sweeper{Branches: repo, Now: func() time.Time { return now }}
	if err := sweeper.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	got := repo.branches[id].ResizeStatuses[string(store.ServiceDatabaseDiskResize)]
	if got.Status != store.ResizeFailed {
		t.Errorf("expected FAILED after timeout, got %s", got.Status)
	}
	if repo.branches[id].ResizeStatus != store.ResizeFailed {
		t.Errorf("expected aggregate FAILED, got %s", repo.branches[id].ResizeStatus)
	}
}

func TestSweeperLeavesFreshEntriesUntouched(t *testing.T) {
	id := entityid.New()
	requestedAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := requestedAt.Add(10 * time.Second)

	repo := &fakeBranchRepo{branches: map[entityid.ID]*store.Branch{
		id: {
			ID:     id,
			Status: store.StatusResizing,
			ResizeStatuses: map[string]store.ServiceResizeState{
				string(store.ServiceDatabaseDiskResize): {Status: store.ResizePending, Timestamp: requestedAt, RequestedAt: &requestedAt},
			},
		},
	}}

	sweeper := &Sweeper{Branches: repo, Now: func() time.Time { return now }}
	if err := sweeper.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if len(repo.updates) != 0 {
		t.Errorf("expected no update for fresh entry, got %d updates", len(repo.updates))
	}
}

func TestSweeperIgnoresTerminalStatuses(t *testing.T) {
	id := entityid.New()
	requestedAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := requestedAt.Add(time.Hour)

	repo := &fakeBranchRepo{branches: map[entityid.ID]*store.Branch{
		id: {
			ID:     id,
			Status: store.StatusResizing,
			ResizeStatuses: map[string]store.ServiceResizeState{
				string(store.ServiceDatabaseDiskResize): {Status: store.ResizeCompleted, Timestamp: requestedAt, RequestedAt: &requestedAt},
			},
		},
	}}

	sweeper := &Sweeper{Branches: repo, Now: func() time.Time { return now }}
	if err := sweeper.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(repo.updates) != 0 {
		t.Errorf("expected COMPLETED entries never swept, got %d updates", len(repo.updates))
	}
}
