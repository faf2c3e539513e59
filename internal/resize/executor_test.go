package resize

import (
	"context"
	"testing"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	k8sfake "k8s.io/client-go/kubernetes/fake"
)

type fakeStorageBackend struct {
	lastVolumeHandle string
	lastIOPS         int64
}

func (f *fakeStorageBackend) SetIOPS(ctx context.Context, volumeHandle string, iops int64) error {
	f.lastVolumeHandle = volumeHandle
	f.lastIOPS = iops
	return nil
}

func TestPatchDiskSizeGrowsRequest(t *testing.T) {
	ctx := context.Background()
	core := k8sfake.NewSimpleClientset(&corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{Name: "db-pvc", Namespace: "ns1"},
		Spec: corev1.PersistentVolumeClaimSpec{
			Resources: corev1.ResourceRequirements{
				Requests: corev1.ResourceList{corev1.ResourceStorage: resource.MustParse("10Gi")},
			},
		},
	})

	e := NewExecutor(core, nil, nil)
	if err := e.PatchDiskSize(ctx, "ns1", "db-pvc", 20*(1<<30)); err != nil {
		t.Fatalf("PatchDiskSize: %v", err)
	}

	got, err := core.CoreV1().PersistentVolumeClaims("ns1").Get(ctx, "db-pvc", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Spec.Resources.Requests.Storage().Value() != 20*(1<<30) {
		t.Errorf("storage request = %v, want 20Gi", got.Spec.Resources.Requests.Storage())
	}
}

func newDynamicFakeWithVM(namespace, name string) *dynamicfake.FakeDynamicClient {
	scheme := runtime.NewScheme()
	gvrToKind := map[schema.GroupVersionResource]string{
		virtualMachineGVR: "VirtualMachineList",
	}
	vm := &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": "vm.neon.tech/v1",
		"kind":       "VirtualMachine",
		"metadata": map[string]any{
			"name":      name,
			"namespace": namespace,
		},
		"spec": map[string]any{},
	}}
	return dynamicfake.NewSimpleDynamicClientWithCustomListKinds(scheme, gvrToKind, vm)
}

func TestPatchCPUAppliesRequestLimit(t *testing.T) {
	ctx := context.Background()
	dyn := newDynamicFakeWithVM("ns1", "branch-vm")
	e := NewExecutor(nil, dyn, nil)

	if err := e.PatchCPU(ctx, "ns1", "branch-vm", 4500); err != nil {
		t.Fatalf("PatchCPU: %v", err)
	}

	got, err := dyn.Resource(virtualMachineGVR).Namespace("ns1").Get(ctx, "branch-vm", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	cpu, found, err := unstructured.NestedMap(got.Object, "spec", "cpu")
	if err != nil || !found {
		t.Fatalf("expected spec.cpu set, found=%v err=%v", found, err)
	}
	if cpu["request"] != int64(4) && cpu["request"] != float64(4) {
		t.Errorf("cpu.request = %v, want 4", cpu["request"])
	}
}

func TestPatchMemoryRejectsExceedingMaxSlots(t *testing.T) {
	ctx := context.Background()
	dyn := newDynamicFakeWithVM("ns1", "branch-vm")
	e := NewExecutor(nil, dyn, nil)

	err := e.PatchMemory(ctx, "ns1", "branch-vm", 100*(1<<30), 4*(1<<30), 10, 0)
	if err == nil {
		t.Fatal("expected error for memory request exceeding max slots")
	}
}

func TestPropagateIOPSCallsBackend(t *testing.T) {
	backend := &fakeStorageBackend{}
	e := NewExecutor(nil, nil, backend)

	if err := e.PropagateIOPS(context.Background(), "handle-123", 1500); err != nil {
		t.Fatalf("PropagateIOPS: %v", err)
	}
	if backend.lastVolumeHandle != "handle-123" || backend.lastIOPS != 1500 {
		t.Errorf("backend not called with expected args: %+v", backend)
	}
}
