package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Ashfaaq98/helium-console/internal/caseview"
	"github.com/Ashfaaq98/helium-console/internal/helium"
	"github.com/dustin/go-humanize"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

const orphanMarker = "orphaned"

// WindowTitle is the title of a case view.
func WindowTitle(meta helium.CaseMetadata) string {
	return "Helium - " + meta.Name
}

// headerText renders the title line: case name, state, active users and disk usage.
func headerText(st caseview.State, theme Theme) string {
	var b strings.Builder
	fmt.Fprintf(&b, " [%s::b]%s[-::-]", theme.TagAccent, tview.Escape(WindowTitle(st.Case)))
	if st.Case.TSID != "" {
		fmt.Fprintf(&b, " [%s](%s)[-]", theme.TagMuted, tview.Escape(st.Case.TSID))
	}
	if st.Case.IsClosed() {
		fmt.Fprintf(&b, "  [%s]CLOSED[-]", theme.TagWarning)
	}
	if len(st.ActiveUsers) > 0 {
		fmt.Fprintf(&b, "  [%s]users:[-] %s", theme.TagMuted, tview.Escape(strings.Join(st.ActiveUsers, ", ")))
	}
	if total, ok := st.DiskUsage["_total"]; ok {
		fmt.Fprintf(&b, "  [%s]disk:[-] %s", theme.TagMuted, humanize.Bytes(uint64(total)))
	}
	return b.String()
}

// diskUsageText details the storage used by the case.
func diskUsageText(st caseview.State) string {
	if st.DiskUsage == nil {
		return "Disk usage unavailable"
	}
	return fmt.Sprintf("Collectors: %s\nCollections: %s\nAnalyses: %s\nTotal: %s",
		humanize.Bytes(uint64(st.DiskUsage["collectors"])),
		humanize.Bytes(uint64(st.DiskUsage["collections"])),
		humanize.Bytes(uint64(st.DiskUsage["analyses"])),
		humanize.Bytes(uint64(st.DiskUsage["_total"])))
}

// relativeTime renders a server timestamp as "3 minutes ago", or verbatim when unparseable.
func relativeTime(ts string) string {
	if t, ok := helium.ParseTimestamp(ts); ok {
		return humanize.Time(t)
	}
	return ts
}

func setHeaderRow(table *tview.Table, theme Theme, headers ...string) {
	for col, header := range headers {
		table.SetCell(0, col, tview.NewTableCell(header).
			SetTextColor(theme.TableHeader).
			SetBackgroundColor(theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetSelectable(false))
	}
}

func setEmptyRow(table *tview.Table, theme Theme, text string) {
	table.SetCell(1, 0, tview.NewTableCell(text).
		SetTextColor(theme.TableRowMuted).
		SetSelectable(false))
}

// fillCollectors renders the collector list. Row i+1 holds collector i.
func fillCollectors(table *tview.Table, st caseview.State, theme Theme) {
	table.Clear()
	setHeaderRow(table, theme, "Fingerprint", "Created", "Description")
	if len(st.Collectors) == 0 {
		setEmptyRow(table, theme, "No collector")
		return
	}
	for i, c := range st.Collectors {
		row := i + 1
		table.SetCell(row, 0, tview.NewTableCell(truncate(c.Fingerprint, 16)).SetTextColor(theme.TableRow).SetReference(c.GUID))
		table.SetCell(row, 1, tview.NewTableCell(relativeTime(c.Created)).SetTextColor(theme.TableRowMuted))
		table.SetCell(row, 2, tview.NewTableCell(c.Description).SetTextColor(theme.TableRow).SetExpansion(1))
	}
}

// fillCollections renders the collection list with an orphan marker.
func fillCollections(table *tview.Table, st caseview.State, theme Theme) {
	table.Clear()
	setHeaderRow(table, theme, "Hostname", "Created", "Tags", "Description", "")
	if len(st.Collections) == 0 {
		setEmptyRow(table, theme, "No collection")
		return
	}
	for i, c := range st.Collections {
		row := i + 1
		color := theme.TableRow
		if st.SelectedTab == c.GUID {
			color = theme.Accent
		}
		table.SetCell(row, 0, tview.NewTableCell(c.Hostname).SetTextColor(color).SetReference(c.GUID))
		table.SetCell(row, 1, tview.NewTableCell(relativeTime(c.Created)).SetTextColor(theme.TableRowMuted))
		table.SetCell(row, 2, tview.NewTableCell(strings.Join(c.Tags, ",")).SetTextColor(theme.TableRowMuted))
		table.SetCell(row, 3, tview.NewTableCell(c.Description).SetTextColor(theme.TableRow).SetExpansion(1))
		marker := ""
		if st.IsOrphaned(c) {
			marker = orphanMarker
		}
		table.SetCell(row, 4, tview.NewTableCell(marker).SetTextColor(hex(theme.TagWarning)))
	}
}

// tabLabel names a collection tab.
func tabLabel(c helium.Collection) string {
	if c.Hostname != "" {
		return c.Hostname
	}
	return truncate(c.GUID, 8)
}

// tabBarText renders the open tabs as highlightable regions named by guid.
func tabBarText(st caseview.State, theme Theme) string {
	if len(st.Tabs) == 0 {
		return fmt.Sprintf(" [%s]Open a collection with Enter[-]", theme.TagMuted)
	}
	var b strings.Builder
	for i, c := range st.Tabs {
		label := tview.Escape(tabLabel(c))
		if c.GUID == st.SelectedTab {
			fmt.Fprintf(&b, `["%s"][::b] %d:%s [::-][""]`, c.GUID, i+1, label)
		} else {
			fmt.Fprintf(&b, `["%s"][%s] %d:%s [-][""]`, c.GUID, theme.TagMuted, i+1, label)
		}
		b.WriteString("│")
	}
	return b.String()
}

// analyzerRows lists the analyzers shown for a collection: the applicable
// catalog entries, or the analyzers already run when the catalog is unknown.
func analyzerRows(st caseview.State, c helium.Collection) []string {
	if len(st.Analyzers) > 0 {
		return caseview.ApplicableAnalyzers(st.Analyzers, c)
	}
	names := make([]string, 0, len(st.Analyses[c.GUID]))
	for name := range st.Analyses[c.GUID] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func statusColor(status helium.AnalysisStatus, theme Theme) string {
	switch status {
	case helium.StatusSuccess:
		return theme.TagSuccess
	case helium.StatusFailure:
		return theme.TagError
	case helium.StatusPending, helium.StatusProcessing:
		return theme.TagWarning
	default:
		return theme.TagMuted
	}
}

func menuLabels(items []caseview.MenuItem) string {
	labels := make([]string, 0, len(items))
	for _, it := range items {
		if it.Disabled {
			continue
		}
		labels = append(labels, it.Command.Label())
	}
	if len(labels) == 0 {
		return "-"
	}
	return strings.Join(labels, " ")
}

// fillAnalyses renders the analyses of the selected tab.
func fillAnalyses(table *tview.Table, st caseview.State, theme Theme) {
	table.Clear()
	setHeaderRow(table, theme, "Analyzer", "Status", "Updated", "Actions")
	i := st.TabIndex(st.SelectedTab)
	if i < 0 {
		setEmptyRow(table, theme, "No collection opened")
		return
	}
	c := st.Tabs[i]
	if !st.AnalysesLoaded(c.GUID) {
		setEmptyRow(table, theme, "Loading...")
		return
	}
	names := analyzerRows(st, c)
	if len(names) == 0 {
		setEmptyRow(table, theme, "No applicable analyzer")
		return
	}
	for i, name := range names {
		row := i + 1
		a := st.Analyses[c.GUID][name]
		status := string(a.Status)
		if status == "" {
			status = "-"
		}
		updated := a.Updated
		if updated == "" {
			updated = a.Created
		}
		table.SetCell(row, 0, tview.NewTableCell(name).SetTextColor(theme.TableRow).SetReference(name))
		table.SetCell(row, 1, tview.NewTableCell(fmt.Sprintf("[%s]%s[-]", statusColor(a.Status, theme), status)))
		table.SetCell(row, 2, tview.NewTableCell(relativeTime(updated)).SetTextColor(theme.TableRowMuted))
		table.SetCell(row, 3, tview.NewTableCell(menuLabels(st.AnalysisMenu(c.GUID, name))).SetTextColor(theme.TableRowMuted).SetExpansion(1))
	}
}

// toastText renders a notification for the status bar.
func toastText(t caseview.Toast, theme Theme) string {
	text := fmt.Sprintf("[%s::b]%s[-::-]", theme.severityTag(t.Severity), tview.Escape(t.Summary))
	if t.Detail != "" {
		text += " " + tview.Escape(t.Detail)
	}
	return text
}

// truncate returns a shortened string with ellipsis when len(s) > max.
func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
