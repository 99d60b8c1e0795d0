package caseview

import (
	"github.com/Ashfaaq98/helium-console/internal/helium"
)

// Command is an action offered by the analysis menu.
type Command string

const (
	CommandStart    Command = "start"
	CommandRestart  Command = "restart"
	CommandLogs     Command = "logs"
	CommandDelete   Command = "delete"
	CommandDownload Command = "download"
)

// Label is the menu text of a command.
func (c Command) Label() string {
	switch c {
	case CommandStart:
		return "Start"
	case CommandRestart:
		return "Restart"
	case CommandLogs:
		return "Logs"
	case CommandDelete:
		return "Delete"
	case CommandDownload:
		return "Download"
	}
	return string(c)
}

// MenuItem is one entry of the analysis menu.
type MenuItem struct {
	Command  Command
	Disabled bool
}

// MenuFor returns the ordered commands available for an analysis status.
// Start is disabled when the collection is orphaned. Statuses the client does
// not know behave as absent.
func MenuFor(status helium.AnalysisStatus, orphaned bool) []MenuItem {
	switch status {
	case helium.StatusFailure:
		return []MenuItem{{Command: CommandRestart}, {Command: CommandLogs}, {Command: CommandDelete}}
	case helium.StatusSuccess:
		return []MenuItem{{Command: CommandRestart}, {Command: CommandLogs}, {Command: CommandDelete}, {Command: CommandDownload}}
	case helium.StatusPending, helium.StatusProcessing:
		return []MenuItem{{Command: CommandLogs}}
	default:
		return []MenuItem{{Command: CommandStart, Disabled: orphaned}}
	}
}

// AnalysisMenu returns the menu of an analyzer on a collection of the projection.
func (s State) AnalysisMenu(collectionGUID, analyzer string) []MenuItem {
	orphaned := true
	if c, ok := s.Collection(collectionGUID); ok {
		orphaned = s.IsOrphaned(c)
	} else if i := s.TabIndex(collectionGUID); i >= 0 {
		orphaned = s.IsOrphaned(s.Tabs[i])
	}
	return MenuFor(s.AnalysisStatus(collectionGUID, analyzer), orphaned)
}

// Allowed reports whether cmd is an enabled entry of items.
func Allowed(items []MenuItem, cmd Command) bool {
	for _, it := range items {
		if it.Command == cmd {
			return !it.Disabled
		}
	}
	return false
}

// CaseCommand is an action of the case menu.
type CaseCommand string

const (
	CaseCopyGUID CaseCommand = "copy_guid"
	CaseEdit     CaseCommand = "edit"
	CaseClose    CaseCommand = "close"
	CaseReopen   CaseCommand = "reopen"
	CaseDelete   CaseCommand = "delete"
)

// CaseMenuItem is one entry of the case menu.
type CaseMenuItem struct {
	Command  CaseCommand
	Label    string
	Disabled bool
}

// CaseMenu returns the case menu. Editing is disabled on closed cases, which
// offer Reopen in place of Close.
func CaseMenu(meta helium.CaseMetadata) []CaseMenuItem {
	closeOrReopen := CaseMenuItem{Command: CaseClose, Label: "Close"}
	if meta.IsClosed() {
		closeOrReopen = CaseMenuItem{Command: CaseReopen, Label: "Reopen"}
	}
	return []CaseMenuItem{
		{Command: CaseCopyGUID, Label: "Copy GUID"},
		{Command: CaseEdit, Label: "Edit", Disabled: meta.IsClosed()},
		closeOrReopen,
		{Command: CaseDelete, Label: "Delete"},
	}
}
