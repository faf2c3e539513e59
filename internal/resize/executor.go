package resize

import (
	"context"
	"encoding/json"
	"time"

	apierrs "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"

	"github.com/simplyblock-io/vela-controlplane/internal/apierrors"
	"github.com/simplyblock-io/vela-controlplane/internal/vlog"
)

// virtualMachineGVR addresses the vm.neon.tech/v1 VirtualMachine
// resource for CPU/memory block patches, mirroring the GVK the branch
// reconciler watches (internal/branchstatus/watcher.go).
var virtualMachineGVR = schema.GroupVersionResource{
	Group:    "vm.neon.tech",
	Version:  "v1",
	Resource: "virtualmachines",
}

// cpuPatchAttempts and cpuPatchDelay implement §4.3 "patch VM CPU block
// with retry while the pod restarts (≤10 attempts, 2 s delay)".
const (
	cpuPatchAttempts = 10
	cpuPatchDelay    = 2 * time.Second
)

// StorageBackend propagates IOPS changes to the external storage
// control surface (§4.3 "propagate to the storage backend (external
// interface)"); internal/simplyblock.Client implements it.
type StorageBackend interface {
	SetIOPS(ctx context.Context, volumeHandle string, iops int64) error
}

// Executor drives the Kubernetes-facing side of a resize: PVC storage
// patches and VM CPU/memory block patches (§4.3 "Execution").
type Executor struct {
	Core    kubernetes.Interface
	Dynamic dynamic.Interface
	Storage StorageBackend
}

// NewExecutor builds an Executor.
func NewExecutor(core kubernetes.Interface, dyn dynamic.Interface, storage StorageBackend) *Executor {
	return &Executor{Core: core, Dynamic: dyn, Storage: storage}
}

// PatchDiskSize patches a PVC's spec.resources.requests.storage to
// newBytes. The caller is responsible for rejecting contractions before
// calling this (§4.3 "Never decrease.").
func (e *Executor) PatchDiskSize(ctx context.Context, namespace, pvcName string, newBytes int64) error {
	patch := []byte(`{"spec":{"resources":{"requests":{"storage":"` + resource.NewQuantity(newBytes, resource.BinarySI).String() + `"}}}}`)
	_, err := e.Core.CoreV1().PersistentVolumeClaims(namespace).Patch(ctx, pvcName, types.MergePatchType, patch, metav1.PatchOptions{})
	if err != nil {
		return apierrors.Deployment("PatchDiskSize", err)
	}
	return nil
}

// PatchCPU recomputes guest CPU request/limit from milliVCPU and
// applies the VM CPU block patch, retrying while the pod restarts
// (§4.3).
func (e *Executor) PatchCPU(ctx context.Context, namespace, vmName string, milliVCPU int64) error {
	log := vlog.FromContext(ctx).WithName("resize").WithValues("vm", vmName)
	cores := ComputeCPUCores(milliVCPU)

	patch, err := json.Marshal(map[string]any{
		"spec": map[string]any{
			"cpu": map[string]any{
				"request": cores.Request,
				"limit":   cores.Limit,
			},
		},
	})
	if err != nil {
		return apierrors.Validation("PatchCPU", err.Error())
	}

	var lastErr error
	for attempt := 1; attempt <= cpuPatchAttempts; attempt++ {
		_, err := e.Dynamic.Resource(virtualMachineGVR).Namespace(namespace).Patch(
			ctx, vmName, types.MergePatchType, patch, metav1.PatchOptions{})
		if err == nil {
			return nil
		}
		lastErr = err
		log.Info("VM CPU patch attempt failed, retrying", "attempt", attempt, "error", err)

		if apierrs.IsNotFound(err) {
			break
		}
		select {
		case <-ctx.Done():
			return apierrors.New(apierrors.KindTimeout, "PatchCPU", "context cancelled during retry", ctx.Err())
		case <-time.After(cpuPatchDelay):
		}
	}

	return apierrors.Deployment("PatchCPU", lastErr)
}

// PatchMemory computes the guest memory slot layout and applies the VM
// memory block patch (§4.3).
func (e *Executor) PatchMemory(ctx context.Context, namespace, vmName string, memoryBytes, slotSize, maxSlots, currentUsageBytes int64) error {
	slots, err := ComputeMemorySlots(memoryBytes, slotSize, maxSlots, currentUsageBytes)
	if err != nil {
		return err
	}

	patch, err := json.Marshal(map[string]any{
		"spec": map[string]any{
			"memory": map[string]any{
				"slots":    slots.Slots,
				"slotSize": slots.SlotSize,
			},
		},
	})
	if err != nil {
		return apierrors.Validation("PatchMemory", err.Error())
	}

	_, err = e.Dynamic.Resource(virtualMachineGVR).Namespace(namespace).Patch(
		ctx, vmName, types.MergePatchType, patch, metav1.PatchOptions{})
	if err != nil {
		return apierrors.Deployment("PatchMemory", err)
	}
	return nil
}

// PropagateIOPS forwards an IOPS change to the storage backend.
func (e *Executor) PropagateIOPS(ctx context.Context, volumeHandle string, iops int64) error {
	if err := e.Storage.SetIOPS(ctx, volumeHandle, iops); err != nil {
		return apierrors.Deployment("PropagateIOPS", err)
	}
	return nil
}
