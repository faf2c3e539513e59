package snapshot

import (
	"context"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrs "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	snapshotv1 "github.com/kubernetes-csi/external-snapshotter/client/v6/apis/volumesnapshot/v1"
	snapshotclientset "github.com/kubernetes-csi/external-snapshotter/client/v6/clientset/versioned"

	"github.com/simplyblock-io/vela-controlplane/internal/apierrors"
	"github.com/simplyblock-io/vela-controlplane/internal/metrics"
	"github.com/simplyblock-io/vela-controlplane/internal/vlog"
)

// controllerManagedAnnotations are stripped from a source PVC manifest
// before it is reused as the template for a clone target (§4.1 step 7).
var controllerManagedAnnotations = []string{
	"pv.kubernetes.io/bind-completed",
	"pv.kubernetes.io/bound-by-controller",
	"volume.beta.kubernetes.io/storage-provisioner",
	"volume.kubernetes.io/storage-provisioner",
	"volume.kubernetes.io/selected-node",
}

// Engine implements C1: capturing CSI VolumeSnapshots and driving the
// cross-namespace clone/restore state machine (§4.1).
type Engine struct {
	Core      kubernetes.Interface
	Snapshots snapshotclientset.Interface
	Deadlines Deadlines
}

// NewEngine builds a snapshot Engine. Deadlines defaults to
// DefaultDeadlines if the zero value is passed.
func NewEngine(core kubernetes.Interface, snapshots snapshotclientset.Interface, deadlines Deadlines) *Engine {
	if deadlines == (Deadlines{}) {
		deadlines = DefaultDeadlines
	}
	return &Engine{Core: core, Snapshots: snapshots, Deadlines: deadlines}
}

// CaptureResult is the return value of CaptureSnapshot (§4.1 contract).
type CaptureResult struct {
	Name        string
	Namespace   string
	ContentName string
	SizeBytes   int64
}

// CaptureSnapshot creates a VolumeSnapshot named per SnapshotName
// referencing pvcName in namespace, waits for readiness, and returns
// its metadata including the restoreSize.
func (e *Engine) CaptureSnapshot(ctx context.Context, branchID, namespace, pvcName, label string) (*CaptureResult, error) {
	log := vlog.FromContext(ctx).WithName("snapshot").WithValues("branchID", branchID, "namespace", namespace)
	name := SnapshotName(branchID, label, time.Now())

	snapshotClass := ""
	vs := &snapshotv1.VolumeSnapshot{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
		Spec: snapshotv1.VolumeSnapshotSpec{
			Source: snapshotv1.VolumeSnapshotSource{PersistentVolumeClaimName: &pvcName},
		},
	}
	if snapshotClass != "" {
		vs.Spec.VolumeSnapshotClassName = &snapshotClass
	}

	if _, err := e.Snapshots.SnapshotV1().VolumeSnapshots(namespace).Create(ctx, vs, metav1.CreateOptions{}); err != nil &&
		!apierrs.IsAlreadyExists(err) {
		return nil, apierrors.Deployment("CaptureSnapshot", err)
	}

	ready, err := e.waitSnapshotReady(ctx, namespace, name)
	if err != nil {
		outcome := "error"
		if apierrors.IsTimeout(err) {
			outcome = "timeout"
		}
		metrics.SnapshotsCaptured.WithLabelValues(outcome).Inc()
		return nil, err
	}

	var sizeBytes int64
	if ready.Status != nil && ready.Status.RestoreSize != nil {
		sizeBytes = ready.Status.RestoreSize.Value()
	}
	contentName := ""
	if ready.Status != nil && ready.Status.BoundVolumeSnapshotContentName != nil {
		contentName = *ready.Status.BoundVolumeSnapshotContentName
	}

	metrics.SnapshotsCaptured.WithLabelValues("ready").Inc()
	log.Info("snapshot ready", "name", name, "contentName", contentName, "sizeBytes", sizeBytes)
	return &CaptureResult{Name: name, Namespace: namespace, ContentName: contentName, SizeBytes: sizeBytes}, nil
}

// DeleteSnapshot best-effort deletes a VolumeSnapshot and its content,
// used by the backup scheduler's retention pruning (§4.4 step 5:
// "invoke C1 snapshot deletion on each (best-effort; failure is logged
// not fatal)"). Errors are returned so the caller can choose how to
// log them rather than being swallowed here.
func (e *Engine) DeleteSnapshot(ctx context.Context, namespace, name, contentName string) error {
	if err := e.Snapshots.SnapshotV1().VolumeSnapshots(namespace).Delete(ctx, name, metav1.DeleteOptions{}); err != nil && !apierrs.IsNotFound(err) {
		return apierrors.Deployment("DeleteSnapshot", err)
	}
	if contentName != "" {
		if err := e.Snapshots.SnapshotV1().VolumeSnapshotContents().Delete(ctx, contentName, metav1.DeleteOptions{}); err != nil && !apierrs.IsNotFound(err) {
			return apierrors.Deployment("DeleteSnapshot", err)
		}
	}
	return nil
}

func (e *Engine) waitSnapshotReady(ctx context.Context, namespace, name string) (*snapshotv1.VolumeSnapshot, error) {
	var latest *snapshotv1.VolumeSnapshot
	err := Poll(ctx, "CaptureSnapshot", e.Deadlines, func(ctx context.Context) (bool, error) {
		got, err := e.Snapshots.SnapshotV1().VolumeSnapshots(namespace).Get(ctx, name, metav1.GetOptions{})
		if apierrs.IsNotFound(err) {
			return false, NotFound(err)
		}
		if err != nil {
			return false, err
		}
		latest = got
		return got.Status != nil && got.Status.ReadyToUse != nil && *got.Status.ReadyToUse, nil
	})
	if err != nil {
		return nil, err
	}
	return latest, nil
}

func (e *Engine) ensureNamespace(ctx context.Context, namespace string) error {
	_, err := e.Core.CoreV1().Namespaces().Create(ctx, &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{Name: namespace},
	}, metav1.CreateOptions{})
	if err != nil && !apierrs.IsAlreadyExists(err) {
		return apierrors.Deployment("ensureNamespace", err)
	}
	return nil
}

func (e *Engine) bestEffortDeleteSnapshot(ctx context.Context, namespace, name string) {
	if name == "" {
		return
	}
	_ = e.Snapshots.SnapshotV1().VolumeSnapshots(namespace).Delete(ctx, name, metav1.DeleteOptions{})
}

func (e *Engine) bestEffortDeleteContent(ctx context.Context, name string) {
	if name == "" {
		return
	}
	_ = e.Snapshots.SnapshotV1().VolumeSnapshotContents().Delete(ctx, name, metav1.DeleteOptions{})
}

func (e *Engine) bestEffortDeletePVC(ctx context.Context, namespace, name string) {
	if name == "" {
		return
	}
	_ = e.Core.CoreV1().PersistentVolumeClaims(namespace).Delete(ctx, name, metav1.DeleteOptions{})
}

func stripAnnotations(meta metav1.ObjectMeta) metav1.ObjectMeta {
	out := *meta.DeepCopy()
	out.ResourceVersion = ""
	out.UID = ""
	out.CreationTimestamp = metav1.Time{}
	out.OwnerReferences = nil
	out.ManagedFields = nil
	for _, key := range controllerManagedAnnotations {
		delete(out.Annotations, key)
	}
	return out
}
