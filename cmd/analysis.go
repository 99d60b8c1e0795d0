package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Ashfaaq98/helium-console/internal/caseview"
	"github.com/Ashfaaq98/helium-console/internal/upload"
	"github.com/spf13/cobra"
)

var (
	analysisSave bool
	analysisDir  string
)

// analysisCmd runs an analysis menu command
var analysisCmd = &cobra.Command{
	Use:   "analysis <start|restart|delete|logs|download> <case> <collection> <analyzer>",
	Short: "Run an analysis command on a collection",
	Long: `Run one of the analysis menu commands. A command is only accepted when
the current status of the analysis offers it: start for analyzers that never
ran, logs while running, restart/logs/delete after a failure and
restart/logs/delete/download after a success.

Examples:
  helium-console analysis start <case> <collection> hayabusa
  helium-console analysis logs <case> <collection> hayabusa --save
  helium-console analysis download <case> <collection> hayabusa --dir ./out`,
	Args: cobra.ExactArgs(4),
	RunE: runAnalysis,
}

func init() {
	rootCmd.AddCommand(analysisCmd)

	analysisCmd.Flags().BoolVar(&analysisSave, "save", false, "Save logs to a markdown file instead of printing them")
	analysisCmd.Flags().StringVar(&analysisDir, "dir", ".", "Directory for saved logs and downloads")
}

func parseCommand(s string) (caseview.Command, error) {
	c := caseview.Command(strings.ToLower(s))
	switch c {
	case caseview.CommandStart, caseview.CommandRestart, caseview.CommandDelete,
		caseview.CommandLogs, caseview.CommandDownload:
		return c, nil
	}
	return "", fmt.Errorf("unknown analysis command: %s (use 'start', 'restart', 'delete', 'logs' or 'download')", s)
}

func runAnalysis(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	command, err := parseCommand(args[0])
	if err != nil {
		return err
	}
	collection, analyzer := args[2], args[3]

	o, err := openOneShot(ctx, args[1], collection)
	if err != nil {
		return err
	}
	defer o.Close()
	s := o.session

	action := fmt.Sprintf("%s %s", command, analyzer)
	switch command {
	case caseview.CommandLogs:
		if !analysisSave {
			err = s.Run(ctx, command, collection, analyzer, out)
			break
		}
		path := filepath.Join(analysisDir, upload.LogFileName(collection, analyzer))
		err = writeFile(path, func(w io.Writer) error {
			return s.Run(ctx, command, collection, analyzer, w)
		})
		if err == nil {
			fmt.Fprintf(out, "Logs saved to %s\n", path)
		}

	case caseview.CommandDownload:
		var path string
		path, err = upload.SaveDownload(analysisDir, func(w io.Writer) (string, error) {
			return s.DownloadAnalysis(ctx, collection, analyzer, w)
		})
		if err == nil {
			fmt.Fprintf(out, "Saved %s\n", path)
		}

	default:
		err = s.Run(ctx, command, collection, analyzer, io.Discard)
		if err == nil {
			st := s.State()
			fmt.Fprintf(out, "%s: %s\n", action, statusLabel(string(st.AnalysisStatus(collection, analyzer))))
		}
	}

	o.record(ctx, "analysis_"+string(command), action+" on "+collection, err)
	return err
}

func statusLabel(status string) string {
	if status == "" {
		return "no analysis"
	}
	return status
}

// writeFile creates path and fills it with write; the file is removed on failure.
func writeFile(path string, write func(w io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
