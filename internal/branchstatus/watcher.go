package branchstatus

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/simplyblock-io/vela-controlplane/internal/entityid"
	"github.com/simplyblock-io/vela-controlplane/internal/store"
	"github.com/simplyblock-io/vela-controlplane/internal/vlog"
)

// virtualMachineGVK is the Neon/KubeVirt-style VM custom resource this
// reconciler watches (§4.2 "Reconciliation trigger").
var virtualMachineGVK = schema.GroupVersionKind{
	Group:   "vm.neon.tech",
	Version: "v1",
	Kind:    "VirtualMachine",
}

// namespacePattern matches the "<prefix>-<ULID>" branch namespace
// convention the watch filters on (§4.2).
var namespacePattern = regexp.MustCompile(`^[a-z0-9-]+-[0-9A-Z]{26}$`)

// Reconciler watches VirtualMachine objects and starts/stops per-branch
// monitor goroutines in response, mirroring the teacher's
// controller-runtime reconciler shape (internal/controller/*.go) but
// driving a probe loop instead of a Postgres instance state machine.
type Reconciler struct {
	client.Client
	Branches    store.BranchRepository
	Dialer      Dialer
	GraceWindow time.Duration

	mu       sync.Mutex
	monitors map[entityid.ID]context.CancelFunc
}

// NewReconciler builds a Reconciler; Dialer may be nil to use the
// default net.Dialer.
func NewReconciler(c client.Client, branches store.BranchRepository) *Reconciler {
	return &Reconciler{
		Client:      c,
		Branches:    branches,
		GraceWindow: transitionalStoppedGrace,
		monitors:    map[entityid.ID]context.CancelFunc{},
	}
}

// Reconcile implements the controller-runtime Reconciler interface for
// VirtualMachine objects.
func (r *Reconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	log := vlog.FromContext(ctx).WithName("branchstatus").WithValues("namespace", req.Namespace, "name", req.Name)

	if !namespacePattern.MatchString(req.Namespace) {
		return ctrl.Result{}, nil
	}

	branchID, err := entityid.Parse(branchIDFromNamespace(req.Namespace))
	if err != nil {
		log.V(1).Info("namespace does not encode a branch id, ignoring", "error", err.Error())
		return ctrl.Result{}, nil
	}

	var vm unstructured.Unstructured
	vm.SetGroupVersionKind(virtualMachineGVK)
	err = r.Get(ctx, req.NamespacedName, &vm)
	if err != nil {
		// DELETED: cancel any running monitor (§4.2).
		r.stopMonitor(branchID)
		return ctrl.Result{}, client.IgnoreNotFound(err)
	}

	phase, _, _ := unstructured.NestedString(vm.Object, "status", "printableStatus")
	if ShouldMonitor(phase) {
		r.startMonitor(ctx, branchID, vm.DeepCopy())
	} else {
		r.stopMonitor(branchID)
	}

	return ctrl.Result{}, nil
}

func branchIDFromNamespace(ns string) string {
	idx := len(ns) - 26
	if idx < 0 {
		return ""
	}
	return ns[idx:]
}

func (r *Reconciler) startMonitor(parent context.Context, branchID entityid.ID, vm *unstructured.Unstructured) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, running := r.monitors[branchID]; running {
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	r.monitors[branchID] = cancel
	go r.runMonitor(ctx, branchID, vm)
}

func (r *Reconciler) stopMonitor(branchID entityid.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cancel, ok := r.monitors[branchID]; ok {
		cancel()
		delete(r.monitors, branchID)
	}
}

// runMonitor probes a branch's services every 5s and persists the
// derived, guarded status (§4.2 "periodically (5 s) probes the VM pod
// IP's TCP ports").
func (r *Reconciler) runMonitor(ctx context.Context, branchID entityid.ID, vm *unstructured.Unstructured) {
	log := vlog.FromContext(ctx).WithName("branch-monitor").WithValues("branchID", branchID.String())
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			branch, err := r.Branches.GetBranch(ctx, branchID)
			if err != nil {
				log.Error(err, "failed to load branch for status reconciliation")
				continue
			}

			podIP, _, _ := unstructured.NestedString(vm.Object, "status", "interfaces", "0", "ipAddress")
			phase, _, _ := unstructured.NestedString(vm.Object, "status", "printableStatus")

			probes := []ProbeResult{MapVMPhase(phase)}
			for _, svc := range RequiredProbes(branch.EnableFileStorage) {
				if podIP == "" {
					probes = append(probes, ProbeUnknown)
					continue
				}
				probes = append(probes, TCPProbe(ctx, r.Dialer, fmt.Sprintf("%s:%d", podIP, svc.Port)))
			}

			derived := Derive(probes)
			next := Guard(branch.Status, derived, branch.ResizeStatuses, branch.StatusUpdatedAt, time.Now())
			if next == branch.Status {
				continue
			}

			if err := r.Branches.UpdateBranchStatus(ctx, branchID, next, time.Now()); err != nil {
				log.Error(err, "failed to persist reconciled branch status")
			}
		}
	}
}

// SetupWithManager registers the reconciler against VirtualMachine
// objects, mirroring the teacher's SetupWithManager convention
// (scheduledbackup_controller.go).
func (r *Reconciler) SetupWithManager(mgr ctrl.Manager) error {
	vm := &unstructured.Unstructured{}
	vm.SetGroupVersionKind(virtualMachineGVK)

	return ctrl.NewControllerManagedBy(mgr).
		For(vm).
		Complete(r)
}
