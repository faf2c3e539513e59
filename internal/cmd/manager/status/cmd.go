// Package status implements the read-only operator CLI that renders
// branch state from the metadata database, optionally
// cross-referencing the live VirtualMachine phase in Kubernetes.
package status

import (
	"context"
	"fmt"
	"time"

	"github.com/cheynewallace/tabby"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/logrusorgru/aurora/v3"
	"github.com/spf13/cobra"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/cli-runtime/pkg/genericclioptions"
	"k8s.io/client-go/dynamic"

	"github.com/simplyblock-io/vela-controlplane/internal/configuration"
	"github.com/simplyblock-io/vela-controlplane/internal/store"
)

// NewCmd creates the "status" cobra command.
func NewCmd() *cobra.Command {
	configFlags := genericclioptions.NewConfigFlags(true)
	var databaseDSN string
	var showAll bool

	cmd := cobra.Command{
		Use:           "status [flags]",
		Short:         "Prints branch state tracked by the control plane",
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if databaseDSN == "" {
				databaseDSN = configuration.Current.DatabaseDSN
			}
			return run(cmd.Context(), databaseDSN, configFlags, showAll)
		},
	}

	cmd.Flags().StringVar(&databaseDSN, "database-dsn", "", "overrides the DATABASE_DSN configuration value")
	cmd.Flags().BoolVar(&showAll, "all", false, "include branches in STOPPED/PAUSED/ERROR/UNKNOWN status")
	configFlags.AddFlags(cmd.Flags())

	return &cmd
}

var interestingStatuses = []store.BranchStatus{
	store.StatusActiveHealthy,
	store.StatusActiveUnhealthy,
	store.StatusCreating,
	store.StatusStarting,
	store.StatusStopping,
	store.StatusPausing,
	store.StatusResuming,
	store.StatusRestarting,
	store.StatusUpdating,
	store.StatusResizing,
	store.StatusDeleting,
}

var terminalStatusesToShowWithAll = []store.BranchStatus{
	store.StatusStopped,
	store.StatusPaused,
	store.StatusError,
	store.StatusUnknown,
}

func run(ctx context.Context, databaseDSN string, configFlags *genericclioptions.ConfigFlags, showAll bool) error {
	if databaseDSN == "" {
		return fmt.Errorf("no database DSN configured: pass --database-dsn or set DATABASE_DSN")
	}

	pool, err := pgxpool.New(ctx, databaseDSN)
	if err != nil {
		return fmt.Errorf("connecting to metadata database: %w", err)
	}
	defer pool.Close()
	pgStore := store.NewPgStore(pool)

	dyn := dialDynamicClient(configFlags)

	statuses := interestingStatuses
	if showAll {
		statuses = append(append([]store.BranchStatus{}, interestingStatuses...), terminalStatusesToShowWithAll...)
	}

	t := tabby.New()
	t.AddHeader("BRANCH", "PROJECT", "STATUS", "RESIZE", "STORAGE", "IOPS", "VM PHASE", "UPDATED")
	for _, status := range statuses {
		branches, err := pgStore.ListBranchesByStatus(ctx, status)
		if err != nil {
			return fmt.Errorf("listing branches in status %s: %w", status, err)
		}
		for _, b := range branches {
			t.AddLine(
				b.Name,
				b.ProjectID.String(),
				colorizeStatus(b.Status),
				string(b.ResizeStatus),
				formatBytes(b.StorageSizeBytes),
				b.IOPS,
				vmPhaseFor(ctx, dyn, b.ID.String()),
				b.StatusUpdatedAt.Format(time.RFC3339),
			)
		}
	}

	fmt.Println(aurora.Green("Branch Status"))
	t.Print()
	return nil
}

func colorizeStatus(status store.BranchStatus) string {
	switch {
	case status == store.StatusActiveHealthy:
		return fmt.Sprintf("%v", aurora.Green(status))
	case status == store.StatusError || status == store.StatusActiveUnhealthy:
		return fmt.Sprintf("%v", aurora.Red(status))
	case status.IsTransitional():
		return fmt.Sprintf("%v", aurora.Yellow(status))
	default:
		return string(status)
	}
}

func formatBytes(bytes *int64) string {
	if bytes == nil {
		return "-"
	}
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch v := *bytes; {
	case v >= gb:
		return fmt.Sprintf("%.1fGi", float64(v)/gb)
	case v >= mb:
		return fmt.Sprintf("%.1fMi", float64(v)/mb)
	case v >= kb:
		return fmt.Sprintf("%.1fKi", float64(v)/kb)
	default:
		return fmt.Sprintf("%dB", v)
	}
}

// dialDynamicClient builds a dynamic client from the kubeconfig resolved
// by configFlags, the same resolution chain the teacher's kubectl-cnp
// plugin commands use. A nil return means the cluster is unreachable and
// VM phase enrichment is skipped rather than failing the whole command.
func dialDynamicClient(configFlags *genericclioptions.ConfigFlags) dynamic.Interface {
	restConfig, err := configFlags.ToRESTConfig()
	if err != nil {
		return nil
	}
	dyn, err := dynamic.NewForConfig(restConfig)
	if err != nil {
		return nil
	}
	return dyn
}

func virtualMachineGVR() schema.GroupVersionResource {
	return schema.GroupVersionResource{
		Group:    configuration.Current.VirtualMachineGroup,
		Version:  configuration.Current.VirtualMachineVersion,
		Resource: configuration.Current.VirtualMachineResource,
	}
}

// vmPhaseFor best-effort fetches the live VirtualMachine's printableStatus
// for branchID's namespace, matching the field internal/branchstatus
// reads off the same object during reconciliation.
func vmPhaseFor(ctx context.Context, dyn dynamic.Interface, branchID string) string {
	if dyn == nil {
		return "-"
	}
	namespace := configuration.Current.NamespaceForBranch(branchID)
	vm, err := dyn.Resource(virtualMachineGVR()).Namespace(namespace).Get(ctx, branchID, metav1.GetOptions{})
	if err != nil {
		return "-"
	}
	phase, _, _ := unstructured.NestedString(vm.Object, "status", "printableStatus")
	if phase == "" {
		return "-"
	}
	return phase
}
