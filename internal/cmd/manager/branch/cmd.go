// Package branch implements the operator CLI that drives C1's
// cross-namespace clone/restore flows for branch creation: the surface
// through which snapshot.Engine.CloneVolume and RestoreVolume are
// actually invoked outside their own tests (§4.1, §8 "CreateBranchFromScratch"/"CloneBranch").
package branch

import (
	"fmt"

	"github.com/spf13/cobra"
	"k8s.io/cli-runtime/pkg/genericclioptions"
	"k8s.io/client-go/kubernetes"

	snapshotclientset "github.com/kubernetes-csi/external-snapshotter/client/v6/clientset/versioned"

	"github.com/simplyblock-io/vela-controlplane/internal/configuration"
	"github.com/simplyblock-io/vela-controlplane/internal/snapshot"
)

// NewCmd creates the "branch" cobra command and its "clone"/"restore"
// subcommands.
func NewCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:   "branch",
		Short: "Materializes a branch's volume from a snapshot source",
	}
	cmd.AddCommand(newCloneCmd())
	cmd.AddCommand(newRestoreCmd())
	return &cmd
}

func buildEngine(configFlags *genericclioptions.ConfigFlags) (*snapshot.Engine, error) {
	restConfig, err := configFlags.ToRESTConfig()
	if err != nil {
		return nil, fmt.Errorf("resolving kubeconfig: %w", err)
	}
	core, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("building kubernetes client: %w", err)
	}
	snaps, err := snapshotclientset.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("building snapshot client: %w", err)
	}
	deadlines := snapshot.Deadlines{
		PollInterval: configuration.Current.SnapshotPollInterval(),
		Deadline:     configuration.Current.SnapshotReadyTimeout(),
	}
	return snapshot.NewEngine(core, snaps, deadlines), nil
}

func newCloneCmd() *cobra.Command {
	configFlags := genericclioptions.NewConfigFlags(true)
	var p snapshot.CloneParams

	cmd := cobra.Command{
		Use:           "clone --source-branch ID --target-branch ID [flags]",
		Short:         "Clones a branch's volume into a new namespace from a fresh snapshot (CloneBranch)",
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			fillCloneDefaults(&p)
			engine, err := buildEngine(configFlags)
			if err != nil {
				return err
			}
			if err := engine.CloneVolume(cmd.Context(), p); err != nil {
				return fmt.Errorf("clone failed: %w", err)
			}
			fmt.Printf("cloned %s into %s/%s\n", p.SourceBranchID, p.TargetNamespace, p.TargetPVCName)
			return nil
		},
	}

	cmd.Flags().StringVar(&p.SourceBranchID, "source-branch", "", "source branch ID (required)")
	cmd.Flags().StringVar(&p.SourceNamespace, "source-namespace", "", "source branch namespace (defaults from --source-branch)")
	cmd.Flags().StringVar(&p.SourcePVCName, "source-pvc", "", "source PVC name (defaults to <source-branch>-pvc)")
	cmd.Flags().StringVar(&p.TargetBranchID, "target-branch", "", "target branch ID (required)")
	cmd.Flags().StringVar(&p.TargetNamespace, "target-namespace", "", "target branch namespace (defaults from --target-branch)")
	cmd.Flags().StringVar(&p.TargetPVCName, "target-pvc", "", "target PVC name (defaults to <target-branch>-pvc)")
	cmd.Flags().StringVar(&p.SnapshotClass, "snapshot-class", configuration.Current.VolumeSnapshotClassName, "VolumeSnapshotClass for the intermediate snapshot")
	cmd.Flags().StringVar(&p.StorageClass, "storage-class", configuration.Current.StorageClassName, "StorageClass for the target PVC")
	_ = cmd.MarkFlagRequired("source-branch")
	_ = cmd.MarkFlagRequired("target-branch")
	configFlags.AddFlags(cmd.Flags())

	return &cmd
}

func fillCloneDefaults(p *snapshot.CloneParams) {
	if p.SourceNamespace == "" {
		p.SourceNamespace = configuration.Current.NamespaceForBranch(p.SourceBranchID)
	}
	if p.SourcePVCName == "" {
		p.SourcePVCName = p.SourceBranchID + "-pvc"
	}
	if p.TargetNamespace == "" {
		p.TargetNamespace = configuration.Current.NamespaceForBranch(p.TargetBranchID)
	}
	if p.TargetPVCName == "" {
		p.TargetPVCName = p.TargetBranchID + "-pvc"
	}
}

func newRestoreCmd() *cobra.Command {
	configFlags := genericclioptions.NewConfigFlags(true)
	var p snapshot.RestoreParams

	cmd := cobra.Command{
		Use:           "restore --snapshot-name NAME --snapshot-namespace NS --target-branch ID [flags]",
		Short:         "Materializes a new branch's volume from a pre-existing snapshot (CreateBranchFromScratch)",
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			fillRestoreDefaults(&p)
			engine, err := buildEngine(configFlags)
			if err != nil {
				return err
			}
			if err := engine.RestoreVolume(cmd.Context(), p); err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}
			fmt.Printf("restored %s into %s/%s\n", p.SourceSnapshot.Name, p.TargetNamespace, p.TargetPVCName)
			return nil
		},
	}

	cmd.Flags().StringVar(&p.SourceSnapshot.Name, "snapshot-name", "", "pre-existing VolumeSnapshot name (required)")
	cmd.Flags().StringVar(&p.SourceSnapshot.Namespace, "snapshot-namespace", "", "pre-existing VolumeSnapshot namespace (required)")
	cmd.Flags().StringVar(&p.TargetBranchID, "target-branch", "", "target branch ID (required)")
	cmd.Flags().StringVar(&p.TargetNamespace, "target-namespace", "", "target branch namespace (defaults from --target-branch)")
	cmd.Flags().StringVar(&p.TargetPVCName, "target-pvc", "", "target PVC name (defaults to <target-branch>-pvc)")
	cmd.Flags().StringVar(&p.SnapshotClass, "snapshot-class", configuration.Current.VolumeSnapshotClassName, "VolumeSnapshotClass for the target snapshot")
	cmd.Flags().StringVar(&p.StorageClass, "storage-class", configuration.Current.StorageClassName, "StorageClass for the target PVC")
	_ = cmd.MarkFlagRequired("snapshot-name")
	_ = cmd.MarkFlagRequired("snapshot-namespace")
	_ = cmd.MarkFlagRequired("target-branch")
	configFlags.AddFlags(cmd.Flags())

	return &cmd
}

func fillRestoreDefaults(p *snapshot.RestoreParams) {
	if p.TargetNamespace == "" {
		p.TargetNamespace = configuration.Current.NamespaceForBranch(p.TargetBranchID)
	}
	if p.TargetPVCName == "" {
		p.TargetPVCName = p.TargetBranchID + "-pvc"
	}
}
