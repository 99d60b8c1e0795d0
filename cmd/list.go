package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Ashfaaq98/helium-console/internal/api"
	"github.com/Ashfaaq98/helium-console/internal/caseview"
	"github.com/Ashfaaq98/helium-console/internal/helium"
	"github.com/Ashfaaq98/helium-console/internal/store"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	listLimit   int
	listRefresh bool
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list <recent|collectors|collections|analyses|activity> [case] [collection]",
	Short: "List visited cases, case content or recorded activity",
	Long: `List data from the local database or from a case.

Examples:
  # Cases opened on this machine
  helium-console list recent

  # Drop visited cases that no longer exist on the server
  helium-console list recent --refresh

  # Collectors and collections of a case
  helium-console list collectors <case>
  helium-console list collections <case>

  # Analyses of a collection, with the commands they allow
  helium-console list analyses <case> <collection>

  # Recorded activity, all cases or one
  helium-console list activity [case] --limit 20`,
	Args: cobra.RangeArgs(1, 3),
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().IntVarP(&listLimit, "limit", "l", 50, "Maximum number of activity entries to show")
	listCmd.Flags().BoolVar(&listRefresh, "refresh", false, "Check visited cases against the server")
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	target := strings.ToLower(args[0])

	needCase := func(n int) error {
		if len(args) < n+1 {
			return fmt.Errorf("list %s needs %d argument(s)", target, n)
		}
		return nil
	}

	switch target {
	case "recent":
		cfg := GetConfig()
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()
		if listRefresh {
			client, err := newClient(cfg, newDebugLogger(cfg, "api"), nil)
			if err != nil {
				return err
			}
			if err := refreshRecent(ctx, st, client); err != nil {
				return err
			}
		}
		return listRecent(ctx, out, st)

	case "collectors", "collections":
		if err := needCase(1); err != nil {
			return err
		}
		o, err := openOneShot(ctx, args[1], "")
		if err != nil {
			return err
		}
		defer o.Close()
		if target == "collectors" {
			listCollectors(out, o.session.State())
		} else {
			listCollections(out, o.session.State())
		}
		return nil

	case "analyses":
		if err := needCase(2); err != nil {
			return err
		}
		o, err := openOneShot(ctx, args[1], args[2])
		if err != nil {
			return err
		}
		defer o.Close()
		listAnalyses(out, o.session.State(), args[2])
		return nil

	case "activity":
		cfg := GetConfig()
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()
		caseGUID := ""
		if len(args) > 1 {
			caseGUID = args[1]
		}
		return listActivity(ctx, out, st, caseGUID, listLimit)

	default:
		return fmt.Errorf("unknown list type: %s (use 'recent', 'collectors', 'collections', 'analyses' or 'activity')", target)
	}
}

// caseGetter fetches case metadata.
type caseGetter interface {
	GetCase(ctx context.Context, id string) (helium.CaseMetadata, error)
}

// refreshRecent keeps the visited cases that still exist on the server.
// Cases that cannot be checked for another reason are kept.
func refreshRecent(ctx context.Context, st *store.Store, cases caseGetter) error {
	guids, err := st.StoredCaseGUIDs(ctx)
	if err != nil {
		return err
	}
	var found []helium.CaseMetadata
	for _, guid := range guids {
		meta, err := cases.GetCase(ctx, guid)
		switch {
		case err == nil:
			found = append(found, meta)
		case errors.Is(err, api.ErrNotFound):
		default:
			found = append(found, helium.CaseMetadata{GUID: guid})
		}
	}
	return st.RefreshStoredCases(ctx, found)
}

func listRecent(ctx context.Context, out io.Writer, st *store.Store) error {
	guids, err := st.StoredCaseGUIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list visited cases: %w", err)
	}
	if len(guids) == 0 {
		fmt.Fprintln(out, "No visited cases.")
		return nil
	}
	fmt.Fprintf(out, "Visited cases (%d):\n\n", len(guids))
	for i, guid := range guids {
		fmt.Fprintf(out, "%d. %s\n", i+1, guid)
	}
	return nil
}

func listCollectors(out io.Writer, st caseview.State) {
	if len(st.Collectors) == 0 {
		fmt.Fprintln(out, "No collectors found.")
		return
	}
	fmt.Fprintf(out, "Collectors of %s (%d):\n\n", st.Case.Name, len(st.Collectors))
	for i, c := range st.Collectors {
		fmt.Fprintf(out, "%d. %s\n", i+1, c.GUID)
		fmt.Fprintf(out, "   Fingerprint: %s\n", c.Fingerprint)
		fmt.Fprintf(out, "   Created: %s\n", c.Created)
		if c.Description != "" {
			fmt.Fprintf(out, "   Description: %s\n", c.Description)
		}
		fmt.Fprintln(out)
	}
}

func listCollections(out io.Writer, st caseview.State) {
	if len(st.Collections) == 0 {
		fmt.Fprintln(out, "No collections found.")
		return
	}
	fmt.Fprintf(out, "Collections of %s (%d):\n\n", st.Case.Name, len(st.Collections))
	for i, c := range st.Collections {
		status := ""
		if st.IsOrphaned(c) {
			status = " [orphaned]"
		}
		fmt.Fprintf(out, "%d. %s%s\n", i+1, c.Hostname, status)
		fmt.Fprintf(out, "   GUID: %s\n", c.GUID)
		fmt.Fprintf(out, "   Fingerprint: %s\n", c.Fingerprint)
		if t, ok := helium.ParseTimestamp(c.Created); ok {
			fmt.Fprintf(out, "   Created: %s (%s)\n", c.Created, humanize.Time(t))
		} else {
			fmt.Fprintf(out, "   Created: %s\n", c.Created)
		}
		if len(c.Tags) > 0 {
			fmt.Fprintf(out, "   Tags: %s\n", strings.Join(c.Tags, ", "))
		}
		if c.Description != "" {
			fmt.Fprintf(out, "   Description: %s\n", c.Description)
		}
		fmt.Fprintln(out)
	}
}

func listAnalyses(out io.Writer, st caseview.State, collectionGUID string) {
	c, _ := st.Collection(collectionGUID)
	names := analyzerNames(st, c)
	if len(names) == 0 {
		fmt.Fprintln(out, "No applicable analyzer.")
		return
	}
	fmt.Fprintf(out, "Analyses of %s (%s):\n\n", c.Hostname, c.GUID)
	for _, name := range names {
		status := st.AnalysisStatus(collectionGUID, name)
		label := string(status)
		if status == helium.StatusAbsent {
			label = "-"
		}
		var cmds []string
		for _, item := range st.AnalysisMenu(collectionGUID, name) {
			if !item.Disabled {
				cmds = append(cmds, string(item.Command))
			}
		}
		fmt.Fprintf(out, "%-24s %-12s %s\n", name, label, strings.Join(cmds, " "))
	}
}

// analyzerNames lists the analyzers applicable to a collection, plus any
// analyzer that already ran on it.
func analyzerNames(st caseview.State, c helium.Collection) []string {
	seen := map[string]bool{}
	var names []string
	for _, name := range caseview.ApplicableAnalyzers(st.Analyzers, c) {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for _, a := range sortedAnalyses(st.Analyses[c.GUID]) {
		if !seen[a.Analyzer] {
			seen[a.Analyzer] = true
			names = append(names, a.Analyzer)
		}
	}
	return names
}

func listActivity(ctx context.Context, out io.Writer, st *store.Store, caseGUID string, limit int) error {
	entries, err := st.ListActivity(ctx, caseGUID, limit)
	if err != nil {
		return fmt.Errorf("failed to list activity: %w", err)
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No activity recorded.")
		return nil
	}
	if caseGUID != "" {
		fmt.Fprintf(out, "Activity for case %s:\n\n", caseGUID)
	} else {
		fmt.Fprintf(out, "Recent activity:\n\n")
	}
	for _, a := range entries {
		fmt.Fprintf(out, "%s  %-8s %-24s %s\n", a.Timestamp.Format("2006-01-02 15:04:05"), a.Actor, a.Category, a.Summary)
	}
	return nil
}
