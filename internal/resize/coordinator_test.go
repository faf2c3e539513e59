package resize

import (
	"context"
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	k8sfake "k8s.io/client-go/kubernetes/fake"

	"github.com/simplyblock-io/vela-controlplane/internal/entityid"
	"github.com/simplyblock-io/vela-controlplane/internal/quota"
	"github.com/simplyblock-io/vela-controlplane/internal/store"
)

func TestCoordinatorSubmitPatchesDiskAndLeavesPending(t *testing.T) {
	id := entityid.New()
	orgID := entityid.New()
	projectID := entityid.New()

	core := k8sfake.NewSimpleClientset(&corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{Name: id.String() + "-pvc", Namespace: "ns1"},
		Spec: corev1.PersistentVolumeClaimSpec{
			Resources: corev1.ResourceRequirements{
				Requests: corev1.ResourceList{corev1.ResourceStorage: resource.MustParse("10Gi")},
			},
		},
	})

	branch := &store.Branch{ID: id, ProjectID: projectID, DatabaseSizeBytes: 10_000_000_000}
	branches := &fakeBranchRepo{branches: map[entityid.ID]*store.Branch{id: branch}}
	// Without a per-branch limit row the engine falls back to a 32000
	// ceiling, which no byte-sized disk request fits under.
	quotaRepo := &fakeQuotaRepo{limits: map[store.Resource]*store.ResourceLimit{
		store.ResourceDatabaseSize: {MaxPerBranch: int64p(100_000_000_000_000)},
	}}
	engine := quota.NewEngine(quotaRepo)
	executor := NewExecutor(core, nil, nil)

	coordinator := NewCoordinator(branches, quotaRepo, engine, executor)
	coordinator.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

	requested, err := coordinator.Submit(context.Background(), branch, orgID, projectID,
		Target{Namespace: "ns1", PVCName: id.String() + "-pvc"},
		Request{DatabaseSize: i64(20_000_000_000)})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if requested[store.ResourceDatabaseSize] != 20_000_000_000 {
		t.Errorf("expected admitted growth, got %v", requested)
	}

	state := branches.branches[id].ResizeStatuses[string(store.ServiceDatabaseDiskResize)]
	if state.Status != store.ResizePending {
		t.Errorf("expected disk resize left PENDING until event completion, got %s", state.Status)
	}
	if state.TargetValue != 20_000_000_000 {
		t.Errorf("expected target value carried onto PENDING row, got %d", state.TargetValue)
	}

	got, err := core.CoreV1().PersistentVolumeClaims("ns1").Get(context.Background(), id.String()+"-pvc", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("Get PVC: %v", err)
	}
	if got.Spec.Resources.Requests.Storage().Value() != 20_000_000_000 {
		t.Errorf("expected PVC patched to 20e9 bytes, got %v", got.Spec.Resources.Requests.Storage())
	}
}

func newDynamicFakeWithVMCoordinator(namespace, name string) *dynamicfake.FakeDynamicClient {
	scheme := runtime.NewScheme()
	gvrToKind := map[schema.GroupVersionResource]string{virtualMachineGVR: "VirtualMachineList"}
	vm := &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": "vm.neon.tech/v1",
		"kind":       "VirtualMachine",
		"metadata":   map[string]any{"name": name, "namespace": namespace},
		"spec":       map[string]any{},
	}}
	return dynamicfake.NewSimpleDynamicClientWithCustomListKinds(scheme, gvrToKind, vm)
}

func TestCoordinatorSubmitCommitsCPUImmediately(t *testing.T) {
	id := entityid.New()
	orgID := entityid.New()
	projectID := entityid.New()

	dyn := newDynamicFakeWithVMCoordinator("ns1", "branch-vm")
	branch := &store.Branch{ID: id, ProjectID: projectID, MilliVCPU: 2000}
	branches := &fakeBranchRepo{branches: map[entityid.ID]*store.Branch{id: branch}}
	quotaRepo := &fakeQuotaRepo{limits: map[store.Resource]*store.ResourceLimit{}}
	engine := quota.NewEngine(quotaRepo)
	executor := NewExecutor(nil, dyn, nil)

	coordinator := NewCoordinator(branches, quotaRepo, engine, executor)
	coordinator.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

	_, err := coordinator.Submit(context.Background(), branch, orgID, projectID,
		Target{Namespace: "ns1", VMName: "branch-vm"},
		Request{MilliVCPU: i64(4000)})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	state := branches.branches[id].ResizeStatuses[string(store.ServiceDatabaseCPUResize)]
	if state.Status != store.ResizeCompleted {
		t.Errorf("expected CPU resize COMPLETED synchronously, got %s", state.Status)
	}
	if branches.branches[id].MilliVCPU != 4000 {
		t.Errorf("expected allocated compute committed, got %d", branches.branches[id].MilliVCPU)
	}
	if len(quotaRepo.provisioningCalls) != 1 || quotaRepo.provisioningCalls[0].resource != store.ResourceMilliVCPU {
		t.Errorf("expected BranchProvisioning committed for milli_vcpu, got %v", quotaRepo.provisioningCalls)
	}
}

func TestCoordinatorSubmitRejectsContractionWithoutPatching(t *testing.T) {
	id := entityid.New()
	orgID := entityid.New()
	projectID := entityid.New()

	branch := &store.Branch{ID: id, ProjectID: projectID, DatabaseSizeBytes: 20_000_000_000}
	branches := &fakeBranchRepo{branches: map[entityid.ID]*store.Branch{id: branch}}
	quotaRepo := &fakeQuotaRepo{limits: map[store.Resource]*store.ResourceLimit{}}
	engine := quota.NewEngine(quotaRepo)
	executor := NewExecutor(k8sfake.NewSimpleClientset(), nil, nil)

	coordinator := NewCoordinator(branches, quotaRepo, engine, executor)

	_, err := coordinator.Submit(context.Background(), branch, orgID, projectID,
		Target{Namespace: "ns1", PVCName: id.String() + "-pvc"},
		Request{DatabaseSize: i64(10_000_000_000)})
	if err == nil {
		t.Fatal("expected contraction to be rejected")
	}
	if len(branches.updates) != 0 {
		t.Errorf("expected no persisted update for a rejected request, got %d", len(branches.updates))
	}
}
