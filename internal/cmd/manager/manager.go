// Package manager contains the common behaviors of the manager subcommand.
package manager

import (
	"flag"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"k8s.io/klog/v2"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/simplyblock-io/vela-controlplane/internal/vlog"
)

// Flags contains the set of values necessary for configuring the manager.
type Flags struct{}

var (
	logLevel       string
	logDestination string
)

// AddFlags binds manager configuration flags to a given flagset.
func (l *Flags) AddFlags(flags *pflag.FlagSet) {
	loggingFlagSet := &flag.FlagSet{}
	loggingFlagSet.StringVar(&logLevel, "log-level", "info",
		"the desired log level, one of error, warning, info, debug")
	loggingFlagSet.StringVar(&logDestination, "log-destination", "",
		"where the log stream will be written")
	flags.AddGoFlagSet(loggingFlagSet)
}

// ConfigureLogging configures the logging honoring the flags passed from
// the user, wiring the same logr.Logger into controller-runtime, klog, and
// this module's vlog root.
func (l *Flags) ConfigureLogging() {
	if logDestination != "" {
		logStream, err := os.OpenFile(logDestination, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666) //#nosec
		if err != nil {
			panic(fmt.Sprintf("cannot open log destination %v: %v", logDestination, err))
		}
		os.Stdout = logStream
	}

	logger := vlog.New(logLevel)
	vlog.SetRoot(logger)
	ctrl.SetLogger(logger)
	klog.SetLogger(logger)
}
