package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Ashfaaq98/helium-console/internal/helium"
	"github.com/Ashfaaq98/helium-console/internal/upload"
	"github.com/spf13/cobra"
)

var (
	collectorDescription string
	collectorGUID        string
	collectorFingerprint string
	collectorDir         string
	collectorYes         bool
)

// collectorCmd groups the collector commands
var collectorCmd = &cobra.Command{
	Use:   "collector",
	Short: "Create, import, download or delete the collectors of a case",
}

var collectorCreateCmd = &cobra.Command{
	Use:   "create <case>",
	Short: "Create a collector and print its secrets",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCase(cmd, args[0], "create_collector", func(ctx context.Context, o *oneShot) (string, error) {
			c, err := o.session.CreateCollector(ctx, helium.Collector{Description: collectorDescription})
			if err != nil {
				return "", err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "GUID: %s\nFingerprint: %s\n", c.GUID, c.Fingerprint)
			return "created collector " + c.GUID, nil
		})
	},
}

var collectorImportCmd = &cobra.Command{
	Use:   "import <case>",
	Short: "Import an existing collector",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if collectorGUID == "" || collectorFingerprint == "" {
			return errors.New("--guid and --fingerprint are required")
		}
		return withCase(cmd, args[0], "import_collector", func(ctx context.Context, o *oneShot) (string, error) {
			c, err := o.session.ImportCollector(ctx, helium.Collector{
				GUID:        collectorGUID,
				Fingerprint: collectorFingerprint,
				Description: collectorDescription,
			})
			if err != nil {
				return "", err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported collector %s\n", c.GUID)
			return "imported collector " + c.GUID, nil
		})
	},
}

var collectorDownloadCmd = &cobra.Command{
	Use:   "download <case> <collector>",
	Short: "Download the collector package",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCase(cmd, args[0], "download_collector", func(ctx context.Context, o *oneShot) (string, error) {
			path, err := upload.SaveDownload(collectorDir, func(w io.Writer) (string, error) {
				return o.session.DownloadCollector(ctx, args[1], w)
			})
			if err != nil {
				return "", err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", path)
			return "downloaded collector " + args[1], nil
		})
	},
}

var collectorDeleteCmd = &cobra.Command{
	Use:   "delete <case> <collector>",
	Short: "Delete a collector",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !collectorYes && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), fmt.Sprintf("Delete collector %s?", args[1])) {
			fmt.Fprintln(cmd.OutOrStdout(), "Delete cancelled.")
			return nil
		}
		return withCase(cmd, args[0], "delete_collector", func(ctx context.Context, o *oneShot) (string, error) {
			if err := o.session.DeleteCollector(ctx, args[1]); err != nil {
				return "", err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted collector %s\n", args[1])
			return "deleted collector " + args[1], nil
		})
	},
}

func init() {
	rootCmd.AddCommand(collectorCmd)
	collectorCmd.AddCommand(collectorCreateCmd, collectorImportCmd, collectorDownloadCmd, collectorDeleteCmd)

	collectorCreateCmd.Flags().StringVar(&collectorDescription, "description", "", "Collector description")
	collectorImportCmd.Flags().StringVar(&collectorDescription, "description", "", "Collector description")
	collectorImportCmd.Flags().StringVar(&collectorGUID, "guid", "", "GUID of the collector to import")
	collectorImportCmd.Flags().StringVar(&collectorFingerprint, "fingerprint", "", "Fingerprint of the collector to import")
	collectorDownloadCmd.Flags().StringVar(&collectorDir, "dir", ".", "Directory where the package is saved")
	collectorDeleteCmd.Flags().BoolVarP(&collectorYes, "yes", "y", false, "Do not ask for confirmation")
}

// withCase opens caseID, runs fn and records the outcome under action.
func withCase(cmd *cobra.Command, caseID, action string, fn func(ctx context.Context, o *oneShot) (string, error)) error {
	ctx := cmd.Context()
	o, err := openOneShot(ctx, caseID, "")
	if err != nil {
		return err
	}
	defer o.Close()

	summary, err := fn(ctx, o)
	if summary == "" {
		summary = action
	}
	o.record(ctx, action, summary, err)
	return err
}
