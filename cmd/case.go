package cmd

import (
	"fmt"

	"github.com/Ashfaaq98/helium-console/internal/caseview"
	"github.com/Ashfaaq98/helium-console/internal/helium"
	"github.com/spf13/cobra"
)

var (
	caseName        string
	caseTSID        string
	caseDescription string
	caseYes         bool
)

// caseCmd groups the case menu commands
var caseCmd = &cobra.Command{
	Use:   "case",
	Short: "Edit, close, reopen or delete a case",
}

var caseEditCmd = &cobra.Command{
	Use:   "edit <case>",
	Short: "Edit the case metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var patch helium.CasePatch
		if cmd.Flags().Changed("name") {
			patch.Name = &caseName
		}
		if cmd.Flags().Changed("tsid") {
			patch.TSID = &caseTSID
		}
		if cmd.Flags().Changed("description") {
			patch.Description = &caseDescription
		}
		if patch.Name == nil && patch.TSID == nil && patch.Description == nil {
			return fmt.Errorf("nothing to change (use --name, --tsid or --description)")
		}
		return runCaseCommand(cmd, args[0], caseview.CaseEdit, func(o *oneShot) error {
			return o.session.UpdateCase(cmd.Context(), patch)
		})
	},
}

var caseCloseCmd = &cobra.Command{
	Use:   "close <case>",
	Short: "Close a case",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCaseCommand(cmd, args[0], caseview.CaseClose, func(o *oneShot) error {
			return o.session.CloseCase(cmd.Context())
		})
	},
}

var caseReopenCmd = &cobra.Command{
	Use:   "reopen <case>",
	Short: "Reopen a closed case",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCaseCommand(cmd, args[0], caseview.CaseReopen, func(o *oneShot) error {
			return o.session.ReopenCase(cmd.Context())
		})
	},
}

var caseDeleteCmd = &cobra.Command{
	Use:   "delete <case>",
	Short: "Delete a case and everything it holds",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !caseYes && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), fmt.Sprintf("Delete case %s?", args[0])) {
			fmt.Fprintln(cmd.OutOrStdout(), "Delete cancelled.")
			return nil
		}
		return runCaseCommand(cmd, args[0], caseview.CaseDelete, func(o *oneShot) error {
			return o.session.DeleteCase(cmd.Context())
		})
	},
}

func init() {
	rootCmd.AddCommand(caseCmd)
	caseCmd.AddCommand(caseEditCmd, caseCloseCmd, caseReopenCmd, caseDeleteCmd)

	caseEditCmd.Flags().StringVar(&caseName, "name", "", "Case name")
	caseEditCmd.Flags().StringVar(&caseTSID, "tsid", "", "Case TSID")
	caseEditCmd.Flags().StringVar(&caseDescription, "description", "", "Case description")
	caseDeleteCmd.Flags().BoolVarP(&caseYes, "yes", "y", false, "Do not ask for confirmation")
}

// runCaseCommand runs a case menu command when the menu offers it.
func runCaseCommand(cmd *cobra.Command, caseID string, command caseview.CaseCommand, fn func(o *oneShot) error) error {
	ctx := cmd.Context()
	o, err := openOneShot(ctx, caseID, "")
	if err != nil {
		return err
	}
	defer o.Close()

	meta := o.session.State().Case
	if !caseMenuOffers(meta, command) {
		return fmt.Errorf("case %s: %s is not available", meta.Name, command)
	}
	err = fn(o)
	o.record(ctx, "case_"+string(command), fmt.Sprintf("%s case %s", command, meta.Name), err)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Case %s: %s done\n", meta.Name, command)
	return nil
}

func caseMenuOffers(meta helium.CaseMetadata, command caseview.CaseCommand) bool {
	for _, item := range caseview.CaseMenu(meta) {
		if item.Command == command {
			return !item.Disabled
		}
	}
	return false
}
