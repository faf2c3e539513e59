// Package controller implements the command used to start the operator.
package controller

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	corev1 "k8s.io/api/core/v1"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/manager"

	"github.com/simplyblock-io/vela-controlplane/internal/backup"
	"github.com/simplyblock-io/vela-controlplane/internal/branchstatus"
	"github.com/simplyblock-io/vela-controlplane/internal/configuration"
	"github.com/simplyblock-io/vela-controlplane/internal/entityid"
	"github.com/simplyblock-io/vela-controlplane/internal/k8sclient"
	"github.com/simplyblock-io/vela-controlplane/internal/metrics"
	"github.com/simplyblock-io/vela-controlplane/internal/resize"
	"github.com/simplyblock-io/vela-controlplane/internal/snapshot"
	"github.com/simplyblock-io/vela-controlplane/internal/store"
	"github.com/simplyblock-io/vela-controlplane/internal/vlog"
)

// LeaderElectionID identifies this operator's leader election lock,
// scoped to the domain the way the teacher scopes its own
// (db9c8771.cnpg.io-style) ID to its project.
const LeaderElectionID = "vela-controlplane.simplyblock.io"

// leaderElectionConfiguration contains the leader parameters passed to
// controllerruntime.Options.
type leaderElectionConfiguration struct {
	enable        bool
	leaseDuration time.Duration
	renewDeadline time.Duration
}

// RunController is the main procedure of the control plane: it builds the
// Postgres metadata store and Kubernetes clients, wires C1-C5, and starts
// the controller-runtime manager.
func RunController(leaderConfig leaderElectionConfiguration) error {
	ctx := ctrl.SetupSignalHandler()
	log := vlog.FromContext(ctx).WithName("setup")

	log.Info("starting control plane", "config", configuration.Current)

	restConfig := ctrl.GetConfigOrDie()

	managerOptions := ctrl.Options{
		MetricsBindAddress:     "0", // served separately against our own registry, see runMetricsServer
		HealthProbeBindAddress: configuration.Current.HealthProbeBindAddress,
		LeaderElection:         leaderConfig.enable,
		LeaseDuration:          &leaderConfig.leaseDuration,
		RenewDeadline:          &leaderConfig.renewDeadline,
		LeaderElectionID:       LeaderElectionID,
	}
	if ns := configuration.Current.WatchedNamespaces(); len(ns) > 0 {
		log.Info("listening for changes", "watchNamespaces", ns)
	} else {
		log.Info("listening for changes on all namespaces")
	}

	mgr, err := ctrl.NewManager(restConfig, managerOptions)
	if err != nil {
		log.Error(err, "unable to start manager")
		return err
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		log.Error(err, "unable to set up health check")
		return err
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		log.Error(err, "unable to set up readiness check")
		return err
	}

	pool, err := pgxpool.New(ctx, configuration.Current.DatabaseDSN)
	if err != nil {
		log.Error(err, "unable to connect to the metadata database")
		return err
	}
	pgStore := store.NewPgStore(pool)

	clients, err := k8sclient.NewClients(restConfig)
	if err != nil {
		log.Error(err, "unable to build kubernetes clients")
		return err
	}
	if err := clients.RequireVolumeSnapshotCRDs(ctx); err != nil {
		log.Error(err, "volume snapshot CRDs not installed")
		return err
	}

	deadlines := snapshot.Deadlines{
		PollInterval: configuration.Current.SnapshotPollInterval(),
		Deadline:     configuration.Current.SnapshotReadyTimeout(),
	}
	snapshotEngine := snapshot.NewEngine(clients.Core, clients.Snapshot, deadlines)

	resizeSweeper := resize.NewSweeper(pgStore)
	resizeSweeper.Schedule = configuration.Current.ResizeSweepSchedule
	resizeWatcher := resize.NewWatcher(clients.Core, pgStore)

	backupLocks := backup.NewKeyedLock()
	backupScheduler := backup.NewScheduler(pgStore, pgStore, pgStore, snapshotEngine, backupLocks)

	branchReconciler := branchstatus.NewReconciler(mgr.GetClient(), pgStore)
	if err := branchReconciler.SetupWithManager(mgr); err != nil {
		log.Error(err, "unable to create controller", "controller", "VirtualMachine")
		return err
	}

	if err := mgr.Add(manager.RunnableFunc(func(ctx context.Context) error {
		return resizeSweeper.Run(ctx)
	})); err != nil {
		log.Error(err, "unable to register resize sweeper")
		return err
	}

	if err := mgr.Add(manager.RunnableFunc(func(ctx context.Context) error {
		resizeWatcher.Run(ctx)
		return nil
	})); err != nil {
		log.Error(err, "unable to register resize watcher")
		return err
	}
	if err := mgr.Add(manager.RunnableFunc(func(ctx context.Context) error {
		resizeWatcher.RunWorkers(ctx, func(ctx context.Context, ev *corev1.Event) error {
			return resize.ApplyEvent(ctx, pgStore, pgStore, branchIDFromNamespace, ev)
		})
		return nil
	})); err != nil {
		log.Error(err, "unable to register resize watcher workers")
		return err
	}

	if err := mgr.Add(manager.RunnableFunc(func(ctx context.Context) error {
		return backupScheduler.Run(ctx, configuration.Current.BackupTickSchedule, pvcNameForBranch)
	})); err != nil {
		log.Error(err, "unable to register backup scheduler")
		return err
	}

	if err := mgr.Add(manager.RunnableFunc(func(ctx context.Context) error {
		runMetricsServer(ctx, configuration.Current.MetricsBindAddress)
		return nil
	})); err != nil {
		log.Error(err, "unable to register metrics server")
		return err
	}

	log.Info("starting manager")
	if err := mgr.Start(ctx); err != nil {
		log.Error(err, "problem running manager")
		return err
	}

	return nil
}

// pvcNameForBranch derives the namespace and primary database PVC name
// for branch, matching the "<id>-pvc" suffix resize.ServiceForPVCName
// recognizes for ServiceDatabaseDiskResize.
func pvcNameForBranch(branch *store.Branch) (namespace, pvcName string) {
	namespace = configuration.Current.NamespaceForBranch(branch.ID.String())
	pvcName = fmt.Sprintf("%s-pvc", branch.ID.String())
	return namespace, pvcName
}

// branchIDFromNamespace inverts NamespaceForBranch, used by
// resize.ApplyEvent to recover the branch a PVC event belongs to.
func branchIDFromNamespace(namespace string) (entityid.ID, bool) {
	prefix := configuration.Current.NamespacePrefix + "-"
	if len(namespace) <= len(prefix) || namespace[:len(prefix)] != prefix {
		return "", false
	}
	id, err := entityid.Parse(namespace[len(prefix):])
	if err != nil {
		return "", false
	}
	return id, true
}

// runMetricsServer serves the dedicated prometheus registry (§ ambient
// metrics) the same way the teacher's own metrics server is bound to a
// dedicated address, independent of the controller-runtime manager's
// built-in metrics endpoint (disabled above).
func runMetricsServer(ctx context.Context, addr string) {
	log := vlog.FromContext(ctx).WithName("metrics-server")
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("starting metrics server", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error(err, "metrics server failed")
	}
}
