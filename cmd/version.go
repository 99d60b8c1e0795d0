package cmd

import (
	"fmt"
	"io"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

var (
	appVersion = "dev"
	buildTime  string
)

// SetVersion records the build metadata and enables --version.
func SetVersion(v, bt string) {
	if v != "" {
		appVersion = v
	}
	buildTime = bt
	rootCmd.Version = appVersion
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		printVersion(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "helium-console %s\n", appVersion)
	fmt.Fprintf(w, "Go: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	if buildTime != "" {
		fmt.Fprintf(w, "Build Time: %s\n", buildTime)
	}
	if rev, dirty := vcsRevision(); rev != "" {
		if dirty {
			rev += " (modified)"
		}
		fmt.Fprintf(w, "Revision: %s\n", rev)
	}
}

// vcsRevision reads the commit stamped by the go tool, if any.
func vcsRevision() (rev string, dirty bool) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", false
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
			if len(rev) > 12 {
				rev = rev[:12]
			}
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	return rev, dirty
}
