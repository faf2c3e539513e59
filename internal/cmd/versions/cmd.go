// Package versions builds the version subcommand for the manager binary.
package versions

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Info holds the build-time version metadata, overridden via -ldflags
// the same way the teacher stamps its own build info.
var Info = struct {
	Version string
	Commit  string
	Date    string
}{
	Version: "dev",
	Commit:  "none",
	Date:    "unknown",
}

// NewCmd is a cobra command printing build information
func NewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Prints version, commit sha and date of the build",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Build: %+v\n", Info)
			if bi, ok := debug.ReadBuildInfo(); ok {
				fmt.Printf("Go: %s\n", bi.GoVersion)
			}
		},
	}
}
