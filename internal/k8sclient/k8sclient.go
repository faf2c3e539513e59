// Package k8sclient builds the typed and dynamic Kubernetes clients every
// component constructor needs and preflight-checks that the CSI snapshot
// CRDs this module depends on are installed, mirroring the teacher's
// utils.HaveVolumeSnapshot() gate in scheduledbackup_controller.go.
package k8sclient

import (
	"context"
	"fmt"

	apierrs "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	apiextensionsclientset "k8s.io/apiextensions-apiserver/pkg/client/clientset/clientset"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	snapshotclientset "github.com/kubernetes-csi/external-snapshotter/client/v6/clientset/versioned"

	"github.com/simplyblock-io/vela-controlplane/internal/apierrors"
)

// volumeSnapshotCRDNames are the CRDs C1/C4 require to be installed
// before any snapshot operation is attempted.
var volumeSnapshotCRDNames = []string{
	"volumesnapshots.snapshot.storage.k8s.io",
	"volumesnapshotcontents.snapshot.storage.k8s.io",
	"volumesnapshotclasses.snapshot.storage.k8s.io",
}

// Clients bundles the Kubernetes client handles every component needs.
// It is built once at process startup and threaded through constructors
// (§9 "Global mutable state").
type Clients struct {
	Core         kubernetes.Interface
	Dynamic      dynamic.Interface
	Snapshot     snapshotclientset.Interface
	apiextension apiextensionsclientset.Interface
}

// NewClients builds a Clients bundle from a rest.Config, the same
// in-cluster-or-kubeconfig config the teacher's RunController obtains via
// ctrl.GetConfigOrDie().
func NewClients(cfg *rest.Config) (*Clients, error) {
	core, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, apierrors.Deployment("NewClients", err)
	}
	dyn, err := dynamic.NewForConfig(cfg)
	if err != nil {
		return nil, apierrors.Deployment("NewClients", err)
	}
	snap, err := snapshotclientset.NewForConfig(cfg)
	if err != nil {
		return nil, apierrors.Deployment("NewClients", err)
	}
	apiext, err := apiextensionsclientset.NewForConfig(cfg)
	if err != nil {
		return nil, apierrors.Deployment("NewClients", err)
	}
	return &Clients{Core: core, Dynamic: dyn, Snapshot: snap, apiextension: apiext}, nil
}

// HaveVolumeSnapshotCRDs reports whether the CSI external-snapshotter
// CRDs are installed in the cluster, gating C1/C4 startup exactly like
// the teacher gates VolumeSnapshot-method backups on utils.HaveVolumeSnapshot().
func (c *Clients) HaveVolumeSnapshotCRDs(ctx context.Context) (bool, error) {
	for _, name := range volumeSnapshotCRDNames {
		_, err := c.apiextension.ApiextensionsV1().CustomResourceDefinitions().Get(ctx, name, metav1.GetOptions{})
		if apierrs.IsNotFound(err) {
			return false, nil
		}
		if err != nil {
			return false, apierrors.Deployment("HaveVolumeSnapshotCRDs", err)
		}
	}
	return true, nil
}

// RequireVolumeSnapshotCRDs is HaveVolumeSnapshotCRDs turned into an error,
// for callers that treat a missing CRD as fatal startup configuration.
func (c *Clients) RequireVolumeSnapshotCRDs(ctx context.Context) error {
	ok, err := c.HaveVolumeSnapshotCRDs(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return apierrors.Deployment("RequireVolumeSnapshotCRDs",
			fmt.Errorf("one or more of %v is not installed in this cluster", volumeSnapshotCRDNames))
	}
	return nil
}
