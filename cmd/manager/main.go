/*
The manager command is the main entrypoint of the Vela control plane.
*/
package main

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/util/retry"

	"github.com/simplyblock-io/vela-controlplane/internal/cmd/manager"
	branchcmd "github.com/simplyblock-io/vela-controlplane/internal/cmd/manager/branch"
	"github.com/simplyblock-io/vela-controlplane/internal/cmd/manager/controller"
	resizecmd "github.com/simplyblock-io/vela-controlplane/internal/cmd/manager/resize"
	"github.com/simplyblock-io/vela-controlplane/internal/cmd/manager/status"
	"github.com/simplyblock-io/vela-controlplane/internal/cmd/versions"
	"github.com/simplyblock-io/vela-controlplane/internal/vlog"

	_ "k8s.io/client-go/plugin/pkg/client/auth"
)

func main() {
	if !isK8sRESTServerReadyWithRetries() {
		vlog.FromContext(context.Background()).Info("the K8S REST API Server is not ready")
		os.Exit(1)
	}
	managerFlags := &manager.Flags{}

	cmd := &cobra.Command{
		Use:          "manager [cmd]",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			managerFlags.ConfigureLogging()
		},
	}

	managerFlags.AddFlags(cmd.PersistentFlags())

	cmd.AddCommand(controller.NewCmd())
	cmd.AddCommand(status.NewCmd())
	cmd.AddCommand(resizecmd.NewCmd())
	cmd.AddCommand(branchcmd.NewCmd())
	cmd.AddCommand(versions.NewCmd())

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// isK8sRESTServerReadyWithRetries attempts to retrieve the version of k8s REST API server, retrying
// the request if some communication error is encountered
func isK8sRESTServerReadyWithRetries() bool {
	readinessCheckRetry := wait.Backoff{
		Steps:    10,
		Duration: 10 * time.Millisecond,
		Factor:   5.0,
		Jitter:   0.1,
	}

	isErrorRetryable := func(err error) bool {
		var netError net.Error
		if errors.As(err, &netError) && netError.Timeout() {
			return false
		}
		return true
	}

	err := retry.OnError(readinessCheckRetry, isErrorRetryable, isK8sRESTServerReady)
	return err == nil
}

// isK8sRESTServerReady attempts to retrieve the version of the k8s REST API server to test its readiness.
func isK8sRESTServerReady() error {
	config, err := rest.InClusterConfig()
	if err != nil {
		return err
	}
	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return err
	}

	_, err = clientset.DiscoveryClient.ServerVersion()
	return err
}
