package snapshot

import (
	"context"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrs "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	snapshotv1 "github.com/kubernetes-csi/external-snapshotter/client/v6/apis/volumesnapshot/v1"

	"github.com/simplyblock-io/vela-controlplane/internal/apierrors"
	"github.com/simplyblock-io/vela-controlplane/internal/metrics"
	"github.com/simplyblock-io/vela-controlplane/internal/vlog"
)

// CloneParams parametrizes CloneVolume (§4.1 contract).
type CloneParams struct {
	SourceBranchID   string
	SourceNamespace  string
	SourcePVCName    string
	TargetBranchID   string
	TargetNamespace  string
	TargetPVCName    string
	SnapshotClass    string
	StorageClass     string
}

// RestoreParams parametrizes RestoreVolume: identical to CloneParams
// except the source snapshot already exists (§4.1 contract).
type RestoreParams struct {
	SourceSnapshot  SnapshotRefInput
	TargetBranchID  string
	TargetNamespace string
	TargetPVCName   string
	SnapshotClass   string
	StorageClass    string
}

// SnapshotRefInput identifies a pre-existing VolumeSnapshot driving a
// restore.
type SnapshotRefInput struct {
	Name      string
	Namespace string
}

type createdArtifacts struct {
	targetSnapshotName string
	targetContentName  string
	sourceSnapshotName string
}

func (e *Engine) rollback(ctx context.Context, targetNamespace, sourceNamespace string, a createdArtifacts) {
	log := vlog.FromContext(ctx).WithName("snapshot").WithName("rollback")
	log.Info("rolling back partially created clone artifacts", "artifacts", a)
	metrics.CloneOperations.WithLabelValues("rollback", "error").Inc()
	e.bestEffortDeleteSnapshot(ctx, targetNamespace, a.targetSnapshotName)
	e.bestEffortDeleteContent(ctx, a.targetContentName)
	e.bestEffortDeleteSnapshot(ctx, sourceNamespace, a.sourceSnapshotName)
}

// CloneVolume runs the cross-namespace clone algorithm (§4.1 "Clone
// algorithm"), idempotent under crash-resume via the pre-delete sweep
// in step 2.
func (e *Engine) CloneVolume(ctx context.Context, p CloneParams) error {
	log := vlog.FromContext(ctx).WithName("snapshot").WithName("clone").
		WithValues("source", p.SourceBranchID, "target", p.TargetBranchID)

	// Step 1: ensure target namespace exists.
	if err := e.ensureNamespace(ctx, p.TargetNamespace); err != nil {
		metrics.CloneOperations.WithLabelValues("clone", "error").Inc()
		return err
	}

	sourceSnapName := SnapshotName(p.SourceBranchID, "clone", time.Now())
	targetContentName := CrossNamespaceContentName(p.TargetBranchID, time.Now())
	targetSnapName := SnapshotName(p.TargetBranchID, "clone", time.Now())

	// Step 2: best-effort delete of prior artifacts from previous
	// failed runs.
	e.bestEffortDeleteSnapshot(ctx, p.SourceNamespace, sourceSnapName)
	e.bestEffortDeleteSnapshot(ctx, p.TargetNamespace, targetSnapName)
	e.bestEffortDeleteContent(ctx, targetContentName)

	artifacts := createdArtifacts{}

	// Step 3: snapshot the source PVC; wait ready.
	capture, err := e.CaptureSnapshot(ctx, p.SourceBranchID, p.SourceNamespace, p.SourcePVCName, "clone")
	if err != nil {
		metrics.CloneOperations.WithLabelValues("clone", "error").Inc()
		return err
	}
	artifacts.sourceSnapshotName = capture.Name

	fail := func(err error) error {
		e.rollback(ctx, p.TargetNamespace, p.SourceNamespace, artifacts)
		return err
	}

	// Step 4: read bound VolumeSnapshotContent; extract driver,
	// snapshotHandle, snapshotClassName.
	sourceContent, err := e.Snapshots.SnapshotV1().VolumeSnapshotContents().Get(ctx, capture.ContentName, metav1.GetOptions{})
	if err != nil {
		return fail(apierrors.Deployment("CloneVolume", err))
	}
	if sourceContent.Spec.Driver == "" || sourceContent.Status == nil || sourceContent.Status.SnapshotHandle == nil {
		return fail(apierrors.New(apierrors.KindDeployment, "CloneVolume",
			"source VolumeSnapshotContent missing driver or snapshotHandle", nil))
	}
	handle := *sourceContent.Status.SnapshotHandle

	// Step 5: create target VolumeSnapshotContent referencing the
	// source's snapshotHandle, pointing at the forthcoming target
	// VolumeSnapshot.
	deletionPolicy := snapshotv1.VolumeSnapshotContentDelete
	targetContent := &snapshotv1.VolumeSnapshotContent{
		ObjectMeta: metav1.ObjectMeta{Name: targetContentName},
		Spec: snapshotv1.VolumeSnapshotContentSpec{
			DeletionPolicy:          deletionPolicy,
			Driver:                  sourceContent.Spec.Driver,
			VolumeSnapshotClassName: &p.SnapshotClass,
			Source: snapshotv1.VolumeSnapshotContentSource{
				SnapshotHandle: &handle,
			},
			VolumeSnapshotRef: corev1.ObjectReference{
				Name:      targetSnapName,
				Namespace: p.TargetNamespace,
			},
		},
	}
	if _, err := e.Snapshots.SnapshotV1().VolumeSnapshotContents().Create(ctx, targetContent, metav1.CreateOptions{}); err != nil &&
		!apierrs.IsAlreadyExists(err) {
		return fail(apierrors.Deployment("CloneVolume", err))
	}
	artifacts.targetContentName = targetContentName

	// Step 6: create the target VolumeSnapshot bound to that content;
	// wait ready.
	targetVS := &snapshotv1.VolumeSnapshot{
		ObjectMeta: metav1.ObjectMeta{Name: targetSnapName, Namespace: p.TargetNamespace},
		Spec: snapshotv1.VolumeSnapshotSpec{
			Source:                  snapshotv1.VolumeSnapshotSource{VolumeSnapshotContentName: &targetContentName},
			VolumeSnapshotClassName: &p.SnapshotClass,
		},
	}
	if _, err := e.Snapshots.SnapshotV1().VolumeSnapshots(p.TargetNamespace).Create(ctx, targetVS, metav1.CreateOptions{}); err != nil &&
		!apierrs.IsAlreadyExists(err) {
		return fail(apierrors.Deployment("CloneVolume", err))
	}
	artifacts.targetSnapshotName = targetSnapName

	if _, err := e.waitSnapshotReady(ctx, p.TargetNamespace, targetSnapName); err != nil {
		return fail(err)
	}

	// Step 7: read source PVC manifest, rewrite for the target.
	sourcePVC, err := e.Core.CoreV1().PersistentVolumeClaims(p.SourceNamespace).Get(ctx, p.SourcePVCName, metav1.GetOptions{})
	if err != nil {
		return fail(apierrors.Deployment("CloneVolume", err))
	}

	apiGroup := "snapshot.storage.k8s.io"
	targetPVC := &corev1.PersistentVolumeClaim{
		ObjectMeta: stripAnnotations(sourcePVC.ObjectMeta),
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes:      sourcePVC.Spec.AccessModes,
			StorageClassName: &p.StorageClass,
			Resources:        sourcePVC.Spec.Resources,
			DataSource: &corev1.TypedLocalObjectReference{
				APIGroup: &apiGroup,
				Kind:     "VolumeSnapshot",
				Name:     targetSnapName,
			},
			DataSourceRef: &corev1.TypedObjectReference{
				APIGroup: &apiGroup,
				Kind:     "VolumeSnapshot",
				Name:     targetSnapName,
			},
		},
	}
	targetPVC.Name = p.TargetPVCName
	targetPVC.Namespace = p.TargetNamespace

	// Step 8: delete any existing target PVC, wait absent, create new.
	if err := e.replacePVC(ctx, p.TargetNamespace, targetPVC); err != nil {
		return fail(err)
	}

	metrics.CloneOperations.WithLabelValues("clone", "success").Inc()
	log.Info("clone volume complete", "targetPVC", p.TargetPVCName)
	return nil
}

// RestoreVolume runs the same flow as CloneVolume, driven by a
// pre-existing snapshot instead of taking a fresh one (§4.1).
func (e *Engine) RestoreVolume(ctx context.Context, p RestoreParams) error {
	if err := e.ensureNamespace(ctx, p.TargetNamespace); err != nil {
		metrics.CloneOperations.WithLabelValues("restore", "error").Inc()
		return err
	}

	sourceContentName := ""
	sourceVS, err := e.Snapshots.SnapshotV1().VolumeSnapshots(p.SourceSnapshot.Namespace).Get(ctx, p.SourceSnapshot.Name, metav1.GetOptions{})
	if err != nil {
		metrics.CloneOperations.WithLabelValues("restore", "error").Inc()
		return apierrors.Deployment("RestoreVolume", err)
	}
	if sourceVS.Status != nil && sourceVS.Status.BoundVolumeSnapshotContentName != nil {
		sourceContentName = *sourceVS.Status.BoundVolumeSnapshotContentName
	}

	sourceContent, err := e.Snapshots.SnapshotV1().VolumeSnapshotContents().Get(ctx, sourceContentName, metav1.GetOptions{})
	if err != nil {
		metrics.CloneOperations.WithLabelValues("restore", "error").Inc()
		return apierrors.Deployment("RestoreVolume", err)
	}
	if sourceContent.Spec.Driver == "" || sourceContent.Status == nil || sourceContent.Status.SnapshotHandle == nil {
		metrics.CloneOperations.WithLabelValues("restore", "error").Inc()
		return apierrors.New(apierrors.KindDeployment, "RestoreVolume",
			"source VolumeSnapshotContent missing driver or snapshotHandle", nil)
	}
	handle := *sourceContent.Status.SnapshotHandle

	targetContentName := RestoreContentName(p.TargetBranchID, time.Now())
	targetSnapName := SnapshotName(p.TargetBranchID, "restore", time.Now())

	e.bestEffortDeleteSnapshot(ctx, p.TargetNamespace, targetSnapName)
	e.bestEffortDeleteContent(ctx, targetContentName)

	artifacts := createdArtifacts{}
	fail := func(err error) error {
		e.rollback(ctx, p.TargetNamespace, "", artifacts)
		return err
	}

	deletionPolicy := snapshotv1.VolumeSnapshotContentDelete
	targetContent := &snapshotv1.VolumeSnapshotContent{
		ObjectMeta: metav1.ObjectMeta{Name: targetContentName},
		Spec: snapshotv1.VolumeSnapshotContentSpec{
			DeletionPolicy:          deletionPolicy,
			Driver:                  sourceContent.Spec.Driver,
			VolumeSnapshotClassName: &p.SnapshotClass,
			Source:                  snapshotv1.VolumeSnapshotContentSource{SnapshotHandle: &handle},
			VolumeSnapshotRef: corev1.ObjectReference{
				Name:      targetSnapName,
				Namespace: p.TargetNamespace,
			},
		},
	}
	if _, err := e.Snapshots.SnapshotV1().VolumeSnapshotContents().Create(ctx, targetContent, metav1.CreateOptions{}); err != nil &&
		!apierrs.IsAlreadyExists(err) {
		return fail(apierrors.Deployment("RestoreVolume", err))
	}
	artifacts.targetContentName = targetContentName

	targetVS := &snapshotv1.VolumeSnapshot{
		ObjectMeta: metav1.ObjectMeta{Name: targetSnapName, Namespace: p.TargetNamespace},
		Spec: snapshotv1.VolumeSnapshotSpec{
			Source:                  snapshotv1.VolumeSnapshotSource{VolumeSnapshotContentName: &targetContentName},
			VolumeSnapshotClassName: &p.SnapshotClass,
		},
	}
	if _, err := e.Snapshots.SnapshotV1().VolumeSnapshots(p.TargetNamespace).Create(ctx, targetVS, metav1.CreateOptions{}); err != nil &&
		!apierrs.IsAlreadyExists(err) {
		return fail(apierrors.Deployment("RestoreVolume", err))
	}
	artifacts.targetSnapshotName = targetSnapName

	if _, err := e.waitSnapshotReady(ctx, p.TargetNamespace, targetSnapName); err != nil {
		return fail(err)
	}

	apiGroup := "snapshot.storage.k8s.io"
	targetPVC := &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{Name: p.TargetPVCName, Namespace: p.TargetNamespace},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes:      []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			StorageClassName: &p.StorageClass,
			DataSource: &corev1.TypedLocalObjectReference{
				APIGroup: &apiGroup, Kind: "VolumeSnapshot", Name: targetSnapName,
			},
			DataSourceRef: &corev1.TypedObjectReference{
				APIGroup: &apiGroup, Kind: "VolumeSnapshot", Name: targetSnapName,
			},
		},
	}

	if err := e.replacePVC(ctx, p.TargetNamespace, targetPVC); err != nil {
		return fail(err)
	}

	metrics.CloneOperations.WithLabelValues("restore", "success").Inc()
	return nil
}

// replacePVC implements §4.1 step 8: delete any existing target PVC
// with the same name, wait absent, create the new PVC, wait Bound.
func (e *Engine) replacePVC(ctx context.Context, namespace string, pvc *corev1.PersistentVolumeClaim) error {
	e.bestEffortDeletePVC(ctx, namespace, pvc.Name)

	if err := Poll(ctx, "replacePVC:wait-absent", e.Deadlines, func(ctx context.Context) (bool, error) {
		_, err := e.Core.CoreV1().PersistentVolumeClaims(namespace).Get(ctx, pvc.Name, metav1.GetOptions{})
		if apierrs.IsNotFound(err) {
			return true, nil
		}
		return false, err
	}); err != nil {
		return err
	}

	if _, err := e.Core.CoreV1().PersistentVolumeClaims(namespace).Create(ctx, pvc, metav1.CreateOptions{}); err != nil {
		return apierrors.Deployment("replacePVC", err)
	}

	return Poll(ctx, "replacePVC:wait-bound", e.Deadlines, func(ctx context.Context) (bool, error) {
		got, err := e.Core.CoreV1().PersistentVolumeClaims(namespace).Get(ctx, pvc.Name, metav1.GetOptions{})
		if apierrs.IsNotFound(err) {
			return false, NotFound(err)
		}
		if err != nil {
			return false, err
		}
		return got.Status.Phase == corev1.ClaimBound, nil
	})
}
