package resize

import (
	"context"
	"time"

	"github.com/simplyblock-io/vela-controlplane/internal/entityid"
	"github.com/simplyblock-io/vela-controlplane/internal/metrics"
	"github.com/simplyblock-io/vela-controlplane/internal/quota"
	"github.com/simplyblock-io/vela-controlplane/internal/store"
)

// Target names the Kubernetes/storage objects one branch's Coordinator
// calls patch: the primary database PVC, the storage-API PVC, the
// VirtualMachine, and the storage backend's volume handle (§4.3
// "Execution").
type Target struct {
	Namespace      string
	PVCName        string
	StoragePVCName string
	VMName         string
	VolumeHandle   string
	MemorySlotSize int64
	MemoryMaxSlots int64
}

// Coordinator is the synchronous admit -> execute -> persist path a
// caller drives for one resize request (§4.3): it is the missing link
// between Admit/BuildServiceUpdates (which only compute values) and
// Executor (which only patches Kubernetes) that every other piece of
// this package assumed existed.
type Coordinator struct {
	Branches     store.BranchRepository
	Provisioning store.QuotaRepository
	Quota        *quota.Engine
	Executor     *Executor
	Now          func() time.Time
}

// NewCoordinator builds a Coordinator using time.Now as its clock.
func NewCoordinator(branches store.BranchRepository, provisioning store.QuotaRepository, quotaEngine *quota.Engine, executor *Executor) *Coordinator {
	return &Coordinator{
		Branches:     branches,
		Provisioning: provisioning,
		Quota:        quotaEngine,
		Executor:     executor,
		Now:          time.Now,
	}
}

// Submit admits req against quota, persists a PENDING per-service row
// carrying each changed resource's target value, and patches the
// Kubernetes/storage objects named by target. CPU, memory and IOPS
// changes commit immediately on successful patch — both the branch's
// allocated-resource fields and its BranchProvisioning row are updated
// and the service is marked COMPLETED within this call, since nothing
// downstream observes a separate completion event for them. Disk
// resizes (database size, storage size) stay PENDING: their completion
// effects run later, in ApplyEvent, once the PVC's resize-finished
// event arrives (§4.3 "COMPLETED CPU/IOPS immediately commit new
// allocation within the synchronous handler").
func (c *Coordinator) Submit(ctx context.Context, branch *store.Branch, orgID, projectID entityid.ID, target Target, req Request) (map[store.Resource]int64, error) {
	requested, err := Admit(ctx, c.Quota, branch, orgID, projectID, req)
	if err != nil {
		return nil, err
	}
	if len(requested) == 0 {
		return requested, nil
	}

	now := c.Now()
	next := BuildServiceUpdates(branch.ResizeStatuses, requested, now)

	if amount, ok := requested[store.ResourceDatabaseSize]; ok {
		if err := c.Executor.PatchDiskSize(ctx, target.Namespace, target.PVCName, amount); err != nil {
			return nil, err
		}
	}
	if amount, ok := requested[store.ResourceStorageSize]; ok {
		if err := c.Executor.PatchDiskSize(ctx, target.Namespace, target.StoragePVCName, amount); err != nil {
			return nil, err
		}
	}
	if amount, ok := requested[store.ResourceMilliVCPU]; ok {
		if err := c.Executor.PatchCPU(ctx, target.Namespace, target.VMName, amount); err != nil {
			return nil, err
		}
		if err := c.commitCompute(ctx, branch.ID, store.ServiceDatabaseCPUResize, store.ResourceMilliVCPU, &amount, nil, nil, next, now); err != nil {
			return nil, err
		}
	}
	if amount, ok := requested[store.ResourceRAM]; ok {
		if err := c.Executor.PatchMemory(ctx, target.Namespace, target.VMName, amount, target.MemorySlotSize, target.MemoryMaxSlots, branch.MemoryBytes); err != nil {
			return nil, err
		}
		if err := c.commitCompute(ctx, branch.ID, store.ServiceDatabaseMemoryResize, store.ResourceRAM, nil, &amount, nil, next, now); err != nil {
			return nil, err
		}
	}
	if amount, ok := requested[store.ResourceIOPS]; ok {
		if err := c.Executor.PropagateIOPS(ctx, target.VolumeHandle, amount); err != nil {
			return nil, err
		}
		if err := c.commitCompute(ctx, branch.ID, store.ServiceDatabaseIOPSResize, store.ResourceIOPS, nil, nil, &amount, next, now); err != nil {
			return nil, err
		}
	}

	aggregate := store.Aggregate(next)
	if err := c.Branches.UpdateBranchResizeStatuses(ctx, branch.ID, next, aggregate); err != nil {
		return nil, err
	}
	return requested, nil
}

// commitCompute persists the synchronous completion effect for a
// CPU/memory/IOPS change: the branch's allocated-resource column, its
// BranchProvisioning ledger row, and the in-memory per-service state
// (marked COMPLETED) that Submit writes back once every changed
// resource has been handled.
func (c *Coordinator) commitCompute(
	ctx context.Context,
	branchID entityid.ID,
	service store.ServiceName,
	resource store.Resource,
	milliVCPU, memoryBytes, iops *int64,
	next map[string]store.ServiceResizeState,
	now time.Time,
) error {
	if err := c.Branches.UpdateBranchAllocatedCompute(ctx, branchID, milliVCPU, memoryBytes, iops); err != nil {
		return err
	}
	amount := next[string(service)].TargetValue
	if c.Provisioning != nil {
		if err := c.Provisioning.UpsertBranchProvisioning(ctx, branchID, resource, amount, "resize_completed"); err != nil {
			return err
		}
	}
	state := next[string(service)]
	state.Status = store.ResizeCompleted
	state.Timestamp = now
	next[string(service)] = state
	metrics.ResizeTransitions.WithLabelValues(string(service), string(store.ResizeCompleted)).Inc()
	return nil
}
