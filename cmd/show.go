package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/Ashfaaq98/helium-console/internal/caseview"
	"github.com/Ashfaaq98/helium-console/internal/helium"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	showOutput   string
	showAnalyses bool
)

// showCmd prints a snapshot of a case
var showCmd = &cobra.Command{
	Use:   "show <case>",
	Short: "Print a snapshot of a case",
	Long: `Fetch a case once and print its collectors, collections, disk usage
and, with --analyses, the analyses of every collection.

Examples:
  helium-console show 0b6a8b0e-...
  helium-console show 0b6a8b0e-... --analyses -o yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

func init() {
	rootCmd.AddCommand(showCmd)

	showCmd.Flags().StringVarP(&showOutput, "output", "o", "text", "Output format: text, yaml or json")
	showCmd.Flags().BoolVar(&showAnalyses, "analyses", false, "Load the analyses of every collection")
}

// caseSnapshot is the printable form of a case view.
type caseSnapshot struct {
	GUID        string               `json:"guid" yaml:"guid"`
	Name        string               `json:"name" yaml:"name"`
	TSID        string               `json:"tsid,omitempty" yaml:"tsid,omitempty"`
	Description string               `json:"description,omitempty" yaml:"description,omitempty"`
	Closed      string               `json:"closed,omitempty" yaml:"closed,omitempty"`
	ActiveUsers []string             `json:"active_users,omitempty" yaml:"active_users,omitempty"`
	DiskUsage   map[string]int64     `json:"disk_usage,omitempty" yaml:"disk_usage,omitempty"`
	Collectors  []helium.Collector   `json:"collectors" yaml:"collectors"`
	Collections []collectionSnapshot `json:"collections" yaml:"collections"`
	Analyzers   []string             `json:"analyzers,omitempty" yaml:"analyzers,omitempty"`
}

type collectionSnapshot struct {
	GUID        string             `json:"guid" yaml:"guid"`
	Hostname    string             `json:"hostname" yaml:"hostname"`
	Description string             `json:"description,omitempty" yaml:"description,omitempty"`
	Tags        []string           `json:"tags,omitempty" yaml:"tags,omitempty"`
	Created     string             `json:"created" yaml:"created"`
	Orphaned    bool               `json:"orphaned,omitempty" yaml:"orphaned,omitempty"`
	Analyses    []analysisSnapshot `json:"analyses,omitempty" yaml:"analyses,omitempty"`
}

type analysisSnapshot struct {
	Analyzer string   `json:"analyzer" yaml:"analyzer"`
	Status   string   `json:"status" yaml:"status"`
	Commands []string `json:"commands,omitempty" yaml:"commands,omitempty"`
}

func snapshotOf(st caseview.State) caseSnapshot {
	snap := caseSnapshot{
		GUID:        st.Case.GUID,
		Name:        st.Case.Name,
		TSID:        st.Case.TSID,
		Description: st.Case.Description,
		Closed:      st.Case.Closed,
		ActiveUsers: st.ActiveUsers,
		DiskUsage:   st.DiskUsage,
		Collectors:  st.Collectors,
	}
	for _, info := range st.Analyzers {
		snap.Analyzers = append(snap.Analyzers, info.Name)
	}
	for _, c := range st.Collections {
		cs := collectionSnapshot{
			GUID:        c.GUID,
			Hostname:    c.Hostname,
			Description: c.Description,
			Tags:        c.Tags,
			Created:     c.Created,
			Orphaned:    st.IsOrphaned(c),
		}
		for _, a := range sortedAnalyses(st.Analyses[c.GUID]) {
			as := analysisSnapshot{Analyzer: a.Analyzer, Status: string(a.Status)}
			for _, item := range st.AnalysisMenu(c.GUID, a.Analyzer) {
				if !item.Disabled {
					as.Commands = append(as.Commands, string(item.Command))
				}
			}
			cs.Analyses = append(cs.Analyses, as)
		}
		snap.Collections = append(snap.Collections, cs)
	}
	return snap
}

func sortedAnalyses(m map[string]helium.CollectionAnalysis) []helium.CollectionAnalysis {
	out := make([]helium.CollectionAnalysis, 0, len(m))
	for _, a := range m {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Analyzer < out[j].Analyzer })
	return out
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	o, err := openOneShot(ctx, args[0], "")
	if err != nil {
		return err
	}
	defer o.Close()

	if showAnalyses {
		for _, c := range o.session.State().Collections {
			if err := o.session.OpenCollection(ctx, c.GUID); err != nil {
				o.logger.Printf("failed to load analyses of %s: %v", c.GUID, err)
			}
		}
	}
	return printSnapshot(cmd.OutOrStdout(), snapshotOf(o.session.State()), showOutput)
}

func printSnapshot(w io.Writer, snap caseSnapshot, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(snap)
	case "text":
		printSnapshotText(w, snap)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s (use 'text', 'yaml' or 'json')", format)
	}
}

func printSnapshotText(w io.Writer, snap caseSnapshot) {
	fmt.Fprintf(w, "Case: %s\n", snap.Name)
	fmt.Fprintf(w, "   GUID: %s\n", snap.GUID)
	if snap.TSID != "" {
		fmt.Fprintf(w, "   TSID: %s\n", snap.TSID)
	}
	if snap.Closed != "" {
		fmt.Fprintf(w, "   Closed: %s\n", snap.Closed)
	}
	if snap.Description != "" {
		fmt.Fprintf(w, "   Description: %s\n", snap.Description)
	}
	if len(snap.ActiveUsers) > 0 {
		fmt.Fprintf(w, "   Active users: %s\n", strings.Join(snap.ActiveUsers, ", "))
	}
	if total, ok := snap.DiskUsage["_total"]; ok {
		fmt.Fprintf(w, "   Disk usage: %s\n", humanize.Bytes(uint64(total)))
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Collectors (%d):\n", len(snap.Collectors))
	for i, c := range snap.Collectors {
		fmt.Fprintf(w, "%d. %s\n", i+1, c.GUID)
		if c.Description != "" {
			fmt.Fprintf(w, "   Description: %s\n", c.Description)
		}
		fmt.Fprintf(w, "   Fingerprint: %s\n", c.Fingerprint)
		fmt.Fprintf(w, "   Created: %s\n", c.Created)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Collections (%d):\n", len(snap.Collections))
	for i, c := range snap.Collections {
		marker := ""
		if c.Orphaned {
			marker = " (orphaned)"
		}
		fmt.Fprintf(w, "%d. %s %s%s\n", i+1, c.Hostname, c.GUID, marker)
		if len(c.Tags) > 0 {
			fmt.Fprintf(w, "   Tags: %s\n", strings.Join(c.Tags, ", "))
		}
		fmt.Fprintf(w, "   Created: %s\n", c.Created)
		for _, a := range c.Analyses {
			fmt.Fprintf(w, "   - %-20s %-12s %s\n", a.Analyzer, a.Status, strings.Join(a.Commands, " "))
		}
	}
}
