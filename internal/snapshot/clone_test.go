package snapshot

import (
	"context"
	"fmt"
	"testing"
	"time"

	snapshotv1 "github.com/kubernetes-csi/external-snapshotter/client/v6/apis/volumesnapshot/v1"
	snapshotfake "github.com/kubernetes-csi/external-snapshotter/client/v6/clientset/versioned/fake"
	corev1 "k8s.io/api/core/v1"
	apiresource "k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8sfake "k8s.io/client-go/kubernetes/fake"

	"github.com/simplyblock-io/vela-controlplane/internal/apierrors"
)

// simulateCSIDriver runs in the background during clone/restore tests,
// standing in for a real CSI driver and kubelet: it watches for any
// VolumeSnapshot not yet ReadyToUse and binds it to a fabricated
// VolumeSnapshotContent carrying a driver and snapshot handle, and for
// any PersistentVolumeClaim not yet Bound and flips its phase. The fake
// clientsets used by these tests never run real controllers, so nothing
// else will ever make these transitions happen.
func simulateCSIDriver(ctx context.Context, core *k8sfake.Clientset, snaps *snapshotfake.Clientset, done <-chan struct{}) {
	size := apiresource.MustParse("10Gi")
	counter := 0
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-done:
			return
		case <-tick.C:
		}

		if list, err := snaps.SnapshotV1().VolumeSnapshots(metav1.NamespaceAll).List(ctx, metav1.ListOptions{}); err == nil {
			for i := range list.Items {
				vs := list.Items[i]
				if vs.Status != nil && vs.Status.ReadyToUse != nil && *vs.Status.ReadyToUse {
					continue
				}
				counter++
				contentName := fmt.Sprintf("sim-content-%d", counter)
				handle := fmt.Sprintf("sim-handle-%d", counter)
				content, err := snaps.SnapshotV1().VolumeSnapshotContents().Create(ctx, &snapshotv1.VolumeSnapshotContent{
					ObjectMeta: metav1.ObjectMeta{Name: contentName},
					Spec:       snapshotv1.VolumeSnapshotContentSpec{Driver: "csi.example.com"},
				}, metav1.CreateOptions{})
				if err != nil {
					continue
				}
				content.Status = &snapshotv1.VolumeSnapshotContentStatus{SnapshotHandle: &handle}
				if _, err := snaps.SnapshotV1().VolumeSnapshotContents().UpdateStatus(ctx, content, metav1.UpdateOptions{}); err != nil {
					continue
				}
				vs.Status = &snapshotv1.VolumeSnapshotStatus{
					ReadyToUse:                     boolPtr(true),
					RestoreSize:                    &size,
					BoundVolumeSnapshotContentName: &contentName,
				}
				_, _ = snaps.SnapshotV1().VolumeSnapshots(vs.Namespace).UpdateStatus(ctx, &vs, metav1.UpdateOptions{})
			}
		}

		if list, err := core.CoreV1().PersistentVolumeClaims(metav1.NamespaceAll).List(ctx, metav1.ListOptions{}); err == nil {
			for i := range list.Items {
				pvc := list.Items[i]
				if pvc.Status.Phase == corev1.ClaimBound {
					continue
				}
				pvc.Status.Phase = corev1.ClaimBound
				_, _ = core.CoreV1().PersistentVolumeClaims(pvc.Namespace).UpdateStatus(ctx, &pvc, metav1.UpdateOptions{})
			}
		}
	}
}

func TestCloneVolumeCreatesBoundTargetPVC(t *testing.T) {
	ctx := context.Background()
	core := k8sfake.NewSimpleClientset(&corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{Name: "source-pvc", Namespace: "source-ns"},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			Resources: corev1.ResourceRequirements{
				Requests: corev1.ResourceList{corev1.ResourceStorage: apiresource.MustParse("10Gi")},
			},
		},
	})
	snaps := snapshotfake.NewSimpleClientset()
	e := NewEngine(core, snaps, fastDeadlines())

	done := make(chan struct{})
	defer close(done)
	go simulateCSIDriver(ctx, core, snaps, done)

	err := e.CloneVolume(ctx, CloneParams{
		SourceBranchID:  "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		SourceNamespace: "source-ns",
		SourcePVCName:   "source-pvc",
		TargetBranchID:  "01BXYZ00000000000000000000",
		TargetNamespace: "target-ns",
		TargetPVCName:   "target-pvc",
		SnapshotClass:   "vela-csi-snapclass",
		StorageClass:    "vela-csi",
	})
	if err != nil {
		t.Fatalf("CloneVolume: %v", err)
	}

	target, err := core.CoreV1().PersistentVolumeClaims("target-ns").Get(ctx, "target-pvc", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("expected target PVC to exist: %v", err)
	}
	if target.Status.Phase != corev1.ClaimBound {
		t.Errorf("expected target PVC bound, got %s", target.Status.Phase)
	}
	if target.Spec.DataSourceRef == nil || target.Spec.DataSourceRef.Kind != "VolumeSnapshot" {
		t.Errorf("expected target PVC to reference a VolumeSnapshot data source, got %+v", target.Spec.DataSourceRef)
	}
	if got := target.Spec.Resources.Requests.Storage().Value(); got != apiresource.MustParse("10Gi").Value() {
		t.Errorf("expected target PVC to inherit source capacity, got %d", got)
	}

	if _, err := core.CoreV1().Namespaces().Get(ctx, "target-ns", metav1.GetOptions{}); err != nil {
		t.Errorf("expected target namespace created: %v", err)
	}
}

func TestCloneVolumeFailsWhenSourcePVCMissing(t *testing.T) {
	ctx := context.Background()
	core := k8sfake.NewSimpleClientset()
	snaps := snapshotfake.NewSimpleClientset()
	e := NewEngine(core, snaps, fastDeadlines())

	done := make(chan struct{})
	defer close(done)
	go simulateCSIDriver(ctx, core, snaps, done)

	err := e.CloneVolume(ctx, CloneParams{
		SourceBranchID:  "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		SourceNamespace: "source-ns",
		SourcePVCName:   "missing-pvc",
		TargetBranchID:  "01BXYZ00000000000000000000",
		TargetNamespace: "target-ns",
		TargetPVCName:   "target-pvc",
		SnapshotClass:   "vela-csi-snapclass",
		StorageClass:    "vela-csi",
	})
	if err == nil {
		t.Fatal("expected error when source PVC does not exist")
	}

	if list, listErr := snaps.SnapshotV1().VolumeSnapshots("target-ns").List(ctx, metav1.ListOptions{}); listErr != nil || len(list.Items) != 0 {
		t.Error("did not expect a target VolumeSnapshot to survive rollback")
	}
}

func TestRestoreVolumeCreatesBoundTargetPVC(t *testing.T) {
	ctx := context.Background()
	size := apiresource.MustParse("20Gi")
	handle := "preexisting-handle"
	sourceContent := "preexisting-content"

	snaps := snapshotfake.NewSimpleClientset(
		&snapshotv1.VolumeSnapshot{
			ObjectMeta: metav1.ObjectMeta{Name: "nightly-snap", Namespace: "backups-ns"},
			Status: &snapshotv1.VolumeSnapshotStatus{
				ReadyToUse:                     boolPtr(true),
				RestoreSize:                    &size,
				BoundVolumeSnapshotContentName: &sourceContent,
			},
		},
		&snapshotv1.VolumeSnapshotContent{
			ObjectMeta: metav1.ObjectMeta{Name: sourceContent},
			Spec:       snapshotv1.VolumeSnapshotContentSpec{Driver: "csi.example.com"},
			Status:     &snapshotv1.VolumeSnapshotContentStatus{SnapshotHandle: &handle},
		},
	)
	core := k8sfake.NewSimpleClientset()
	e := NewEngine(core, snaps, fastDeadlines())

	done := make(chan struct{})
	defer close(done)
	go simulateCSIDriver(ctx, core, snaps, done)

	err := e.RestoreVolume(ctx, RestoreParams{
		SourceSnapshot:  SnapshotRefInput{Name: "nightly-snap", Namespace: "backups-ns"},
		TargetBranchID:  "01CXYZ00000000000000000000",
		TargetNamespace: "target-ns",
		TargetPVCName:   "target-pvc",
		SnapshotClass:   "vela-csi-snapclass",
		StorageClass:    "vela-csi",
	})
	if err != nil {
		t.Fatalf("RestoreVolume: %v", err)
	}

	target, err := core.CoreV1().PersistentVolumeClaims("target-ns").Get(ctx, "target-pvc", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("expected target PVC to exist: %v", err)
	}
	if target.Status.Phase != corev1.ClaimBound {
		t.Errorf("expected target PVC bound, got %s", target.Status.Phase)
	}
	if target.Spec.DataSource == nil || target.Spec.DataSource.Kind != "VolumeSnapshot" {
		t.Errorf("expected target PVC to reference a VolumeSnapshot data source, got %+v", target.Spec.DataSource)
	}
}

func TestRestoreVolumeFailsWhenSourceSnapshotMissing(t *testing.T) {
	ctx := context.Background()
	core := k8sfake.NewSimpleClientset()
	snaps := snapshotfake.NewSimpleClientset()
	e := NewEngine(core, snaps, fastDeadlines())

	err := e.RestoreVolume(ctx, RestoreParams{
		SourceSnapshot:  SnapshotRefInput{Name: "does-not-exist", Namespace: "backups-ns"},
		TargetBranchID:  "01CXYZ00000000000000000000",
		TargetNamespace: "target-ns",
		TargetPVCName:   "target-pvc",
		SnapshotClass:   "vela-csi-snapclass",
		StorageClass:    "vela-csi",
	})
	if err == nil {
		t.Fatal("expected error when source snapshot does not exist")
	}
	if !apierrors.IsDeployment(err) {
		t.Errorf("expected a deployment-kind error, got %v", err)
	}
}
