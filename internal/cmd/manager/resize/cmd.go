// Package resize implements the operator CLI that drives one branch
// through C3's synchronous admit-patch-persist path: the surface
// through which resize.Admit and resize.Executor are actually invoked
// outside their own tests (§4.3).
package resize

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"k8s.io/cli-runtime/pkg/genericclioptions"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"

	"github.com/simplyblock-io/vela-controlplane/internal/configuration"
	"github.com/simplyblock-io/vela-controlplane/internal/entityid"
	"github.com/simplyblock-io/vela-controlplane/internal/quota"
	"github.com/simplyblock-io/vela-controlplane/internal/resize"
	"github.com/simplyblock-io/vela-controlplane/internal/simplyblock"
	"github.com/simplyblock-io/vela-controlplane/internal/store"
)

type flags struct {
	branchID     string
	databaseDSN  string
	volumeHandle string

	databaseSize int64
	storageSize  int64
	milliVCPU    int64
	memoryBytes  int64
	iops         int64
}

// NewCmd creates the "resize" cobra command.
func NewCmd() *cobra.Command {
	configFlags := genericclioptions.NewConfigFlags(true)
	f := &flags{}

	cmd := cobra.Command{
		Use:           "resize --branch ID [flags]",
		Short:         "Admits and executes a resize request for one branch",
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.databaseDSN == "" {
				f.databaseDSN = configuration.Current.DatabaseDSN
			}
			return run(cmd, configFlags, f)
		},
	}

	cmd.Flags().StringVar(&f.branchID, "branch", "", "ID of the branch to resize (required)")
	cmd.Flags().StringVar(&f.databaseDSN, "database-dsn", "", "overrides the DATABASE_DSN configuration value")
	cmd.Flags().StringVar(&f.volumeHandle, "volume-handle", "", "storage backend volume handle, required when --iops is set")
	cmd.Flags().Int64Var(&f.databaseSize, "database-size", 0, "new database size in bytes")
	cmd.Flags().Int64Var(&f.storageSize, "storage-size", 0, "new storage-API volume size in bytes")
	cmd.Flags().Int64Var(&f.milliVCPU, "milli-vcpu", 0, "new CPU allocation in milli-vCPUs")
	cmd.Flags().Int64Var(&f.memoryBytes, "memory-bytes", 0, "new memory allocation in bytes")
	cmd.Flags().Int64Var(&f.iops, "iops", 0, "new IOPS allocation")
	_ = cmd.MarkFlagRequired("branch")
	configFlags.AddFlags(cmd.Flags())

	return &cmd
}

func run(cmd *cobra.Command, configFlags *genericclioptions.ConfigFlags, f *flags) error {
	ctx := cmd.Context()
	if f.databaseDSN == "" {
		return fmt.Errorf("no database DSN configured: pass --database-dsn or set DATABASE_DSN")
	}

	pool, err := pgxpool.New(ctx, f.databaseDSN)
	if err != nil {
		return fmt.Errorf("connecting to metadata database: %w", err)
	}
	defer pool.Close()
	pgStore := store.NewPgStore(pool)

	restConfig, err := configFlags.ToRESTConfig()
	if err != nil {
		return fmt.Errorf("resolving kubeconfig: %w", err)
	}
	core, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return fmt.Errorf("building kubernetes client: %w", err)
	}
	dyn, err := dynamic.NewForConfig(restConfig)
	if err != nil {
		return fmt.Errorf("building dynamic client: %w", err)
	}

	branchID, err := entityid.Parse(f.branchID)
	if err != nil {
		return fmt.Errorf("invalid --branch: %w", err)
	}
	branch, err := pgStore.GetBranch(ctx, branchID)
	if err != nil {
		return fmt.Errorf("looking up branch %s: %w", branchID, err)
	}
	project, err := pgStore.GetProject(ctx, branch.ProjectID)
	if err != nil {
		return fmt.Errorf("looking up project %s: %w", branch.ProjectID, err)
	}

	backend := simplyblock.NewClient(configuration.Current.StorageBackendURL, configuration.Current.StorageBackendAPIKey)
	executor := resize.NewExecutor(core, dyn, backend)
	engine := quota.NewEngine(pgStore)
	coordinator := resize.NewCoordinator(pgStore, pgStore, engine, executor)

	target := resize.Target{
		Namespace:      configuration.Current.NamespaceForBranch(branch.ID.String()),
		PVCName:        fmt.Sprintf("%s-pvc", branch.ID.String()),
		StoragePVCName: fmt.Sprintf("%s-storage-pvc", branch.ID.String()),
		VMName:         branch.ID.String(),
		VolumeHandle:   f.volumeHandle,
		MemorySlotSize: configuration.Current.MemorySlotSizeBytes,
		MemoryMaxSlots: configuration.Current.MemoryMaxSlots,
	}

	req := resize.Request{}
	if f.databaseSize > 0 {
		req.DatabaseSize = &f.databaseSize
	}
	if f.storageSize > 0 {
		req.StorageSize = &f.storageSize
	}
	if f.milliVCPU > 0 {
		req.MilliVCPU = &f.milliVCPU
	}
	if f.memoryBytes > 0 {
		req.MemoryBytes = &f.memoryBytes
	}
	if f.iops > 0 {
		req.IOPS = &f.iops
	}

	admitted, err := coordinator.Submit(ctx, branch, project.OrgID, project.ID, target, req)
	if err != nil {
		return fmt.Errorf("resize rejected: %w", err)
	}
	if len(admitted) == 0 {
		fmt.Println("no changed fields in request, nothing to do")
		return nil
	}
	fmt.Printf("admitted resize for branch %s: %v\n", branch.ID, admitted)
	return nil
}
