package ui

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Ashfaaq98/helium-console/internal/caseview"
	"github.com/Ashfaaq98/helium-console/internal/helium"
	"github.com/Ashfaaq98/helium-console/internal/upload"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// centered wraps p in a fixed-size box in the middle of the screen.
func centered(p tview.Primitive, width, height int) tview.Primitive {
	return tview.NewFlex().
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().SetDirection(tview.FlexRow).
			AddItem(nil, 0, 1, false).
			AddItem(p, height, 1, true).
			AddItem(nil, 0, 1, false), width, 1, true).
		AddItem(nil, 0, 1, false)
}

// pushModal shows p above the main layout.
func (ui *UI) pushModal(name string, p tview.Primitive) {
	ui.modals++
	ui.pages.AddPage(name, p, true, true)
	ui.app.SetFocus(p)
}

// popModal removes a modal and restores focus to the main layout.
func (ui *UI) popModal(name string) {
	if !ui.pages.HasPage(name) {
		return
	}
	ui.pages.RemovePage(name)
	ui.modals--
	if ui.modals == 0 {
		ui.app.SetFocus(ui.collections)
		ui.highlightFocus(ui.collections)
	}
}

func (ui *UI) styleModal(modal *tview.Modal) {
	modal.SetBackgroundColor(ui.theme.Surface)
	modal.SetTextColor(ui.theme.TextPrimary)
	modal.SetBorderColor(ui.theme.FocusBorder)
	modal.SetButtonBackgroundColor(ui.theme.SelectionBg)
	modal.SetButtonTextColor(ui.theme.SelectionFg)
}

func (ui *UI) styleForm(form *tview.Form) {
	form.SetBorder(true)
	form.SetBackgroundColor(ui.theme.Surface)
	form.SetFieldBackgroundColor(ui.theme.Surface)
	form.SetFieldTextColor(ui.theme.TextPrimary)
	form.SetLabelColor(ui.theme.TextPrimary)
	form.SetButtonBackgroundColor(ui.theme.SelectionBg)
	form.SetButtonTextColor(ui.theme.SelectionFg)
	form.SetBorderColor(ui.theme.FocusBorder)
}

// showModal displays a message with a Close button.
func (ui *UI) showModal(title, text string) {
	const name = "message"
	modal := tview.NewModal().SetText(text).AddButtons([]string{"Close"})
	modal.SetTitle(fmt.Sprintf(" %s ", title))
	ui.styleModal(modal)
	modal.SetDoneFunc(func(int, string) { ui.popModal(name) })
	ui.pushModal(name, modal)
}

// confirm asks before running onConfirm.
func (ui *UI) confirm(title, text string, onConfirm func()) {
	const name = "confirm"
	modal := tview.NewModal().SetText(text).AddButtons([]string{"Confirm", "Cancel"})
	modal.SetTitle(fmt.Sprintf(" %s ", title))
	ui.styleModal(modal)
	modal.SetDoneFunc(func(_ int, label string) {
		ui.popModal(name)
		if label == "Confirm" {
			onConfirm()
		}
	})
	ui.pushModal(name, modal)
}

// showBanner displays the server banner until acknowledged.
func (ui *UI) showBanner(text string) {
	const name = "banner"
	modal := tview.NewModal().SetText(text).AddButtons([]string{"Dismiss", "Later"})
	modal.SetTitle(" Helium ")
	ui.styleModal(modal)
	modal.SetDoneFunc(func(_ int, label string) {
		ui.popModal(name)
		if label != "Dismiss" || ui.prefs == nil {
			return
		}
		banner := ui.opts.Banner
		go func() {
			if err := ui.prefs.AckBanner(ui.ctx, banner); err != nil {
				ui.logger.Printf("failed to acknowledge banner: %v", err)
			}
		}()
	})
	ui.pushModal(name, modal)
}

// showTextView displays scrollable text; Esc or q closes it.
func (ui *UI) showTextView(name, title, text string) {
	view := tview.NewTextView().SetDynamicColors(false).SetScrollable(true).SetWrap(true)
	view.SetText(text)
	view.SetBorder(true).SetTitle(fmt.Sprintf(" %s (Esc to close) ", title)).SetTitleAlign(tview.AlignLeft)
	view.SetBackgroundColor(ui.theme.Surface)
	view.SetTextColor(ui.theme.TextPrimary)
	view.SetBorderColor(ui.theme.FocusBorder)
	view.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEsc || (event.Key() == tcell.KeyRune && event.Rune() == 'q') {
			ui.popModal(name)
			return nil
		}
		return event
	})
	ui.pushModal(name, view)
}

func (ui *UI) showHelp() {
	ui.showTextView("help", "Help", strings.TrimSpace(`
Tab        cycle collections / analyses / collectors
Enter      open collection, analysis menu, collector secrets
[ ]        previous / next tab      x  close tab
r          refresh collections and analyses
m          case menu                s  disk usage
u          upload a collection      e  edit collection
c / i      create / import collector
w          download selected item   X  remove collection cache
D / Del    delete selected item
d          toggle dark mode         t  cycle theme
q          quit
`))
}

// showList displays a selection menu. Disabled entries are shown but inert.
func (ui *UI) showList(name, title string, labels []string, disabled []bool, onSelect func(int)) {
	list := tview.NewList().ShowSecondaryText(false)
	list.SetBorder(true).SetTitle(fmt.Sprintf(" %s ", title)).SetTitleAlign(tview.AlignLeft)
	list.SetBackgroundColor(ui.theme.Surface)
	list.SetMainTextColor(ui.theme.TextPrimary)
	list.SetSelectedTextColor(ui.theme.SelectionFg)
	list.SetSelectedBackgroundColor(ui.theme.SelectionBg)
	list.SetBorderColor(ui.theme.FocusBorder)
	for i, label := range labels {
		if disabled[i] {
			label = fmt.Sprintf("[%s]%s (unavailable)[-]", ui.theme.TagMuted, label)
		}
		list.AddItem(label, "", 0, nil)
	}
	list.SetSelectedFunc(func(i int, _, _ string, _ rune) {
		if disabled[i] {
			return
		}
		ui.popModal(name)
		onSelect(i)
	})
	list.SetDoneFunc(func() { ui.popModal(name) })
	ui.pushModal(name, centered(list, 40, len(labels)+2))
	ui.app.SetFocus(list)
}

// showCaseMenu offers the case commands.
func (ui *UI) showCaseMenu() {
	st := ui.snapshot()
	items := caseview.CaseMenu(st.Case)
	labels := make([]string, len(items))
	disabled := make([]bool, len(items))
	for i, it := range items {
		labels[i], disabled[i] = it.Label, it.Disabled
	}
	ui.showList("case-menu", "Case", labels, disabled, func(i int) {
		switch items[i].Command {
		case caseview.CaseCopyGUID:
			ui.setStatus(fmt.Sprintf("[%s]Case GUID:[-] %s", ui.theme.TagAccent, st.Case.GUID))
		case caseview.CaseEdit:
			ui.showEditCaseForm(st.Case)
		case caseview.CaseClose:
			ui.do("close case", func(ctx context.Context, s Session) error { return s.CloseCase(ctx) })
		case caseview.CaseReopen:
			ui.do("reopen case", func(ctx context.Context, s Session) error { return s.ReopenCase(ctx) })
		case caseview.CaseDelete:
			ui.confirm("Delete case", fmt.Sprintf("Delete case %s ?\n\nThis action cannot be undone.", st.Case.Name), func() {
				ui.do("delete case", func(ctx context.Context, s Session) error { return s.DeleteCase(ctx) })
			})
		}
	})
}

func (ui *UI) showEditCaseForm(meta helium.CaseMetadata) {
	const name = "edit-case"
	tsid, caseName, description := meta.TSID, meta.Name, meta.Description
	form := tview.NewForm()
	form.SetTitle(" Edit case ")
	ui.styleForm(form)
	form.AddInputField("TSID", tsid, 40, nil, func(text string) { tsid = text })
	form.AddInputField("Name", caseName, 40, nil, func(text string) { caseName = text })
	form.AddTextArea("Description", description, 40, 4, 0, func(text string) { description = text })
	form.AddButton("Save", func() {
		if strings.TrimSpace(caseName) == "" {
			ui.setStatus(fmt.Sprintf("[%s]Name is required[-]", ui.theme.TagError))
			return
		}
		ui.popModal(name)
		patch := helium.CasePatch{TSID: &tsid, Name: &caseName, Description: &description}
		ui.do("update case", func(ctx context.Context, s Session) error { return s.UpdateCase(ctx, patch) })
	})
	form.AddButton("Cancel", func() { ui.popModal(name) })
	form.SetCancelFunc(func() { ui.popModal(name) })
	ui.pushModal(name, centered(form, 60, 14))
	ui.app.SetFocus(form)
}

// showAnalysisMenu offers the commands legal for an analysis status.
func (ui *UI) showAnalysisMenu(collectionGUID, analyzer string) {
	if collectionGUID == "" {
		return
	}
	items := ui.snapshot().AnalysisMenu(collectionGUID, analyzer)
	labels := make([]string, len(items))
	disabled := make([]bool, len(items))
	for i, it := range items {
		labels[i], disabled[i] = it.Command.Label(), it.Disabled
	}
	ui.showList("analysis-menu", analyzer, labels, disabled, func(i int) {
		ui.runAnalysisCommand(items[i].Command, collectionGUID, analyzer)
	})
}

func (ui *UI) runAnalysisCommand(cmd caseview.Command, collectionGUID, analyzer string) {
	s := ui.sess()
	if s == nil {
		return
	}
	switch cmd {
	case caseview.CommandLogs:
		go func() {
			content, err := s.AnalysisLog(ui.ctx, collectionGUID, analyzer)
			ui.dispatch(func() {
				if err != nil {
					ui.toast(caseview.FailureToast(err))
					return
				}
				ui.showTextView("logs", analyzer+" logs", content)
			})
		}()
	case caseview.CommandDownload:
		ui.download("download analysis", func(w io.Writer) (string, error) {
			return s.DownloadAnalysis(ui.ctx, collectionGUID, analyzer, w)
		})
	default:
		action := strings.ToLower(cmd.Label()) + " analysis"
		ui.do(action, func(ctx context.Context, s Session) error {
			return s.Run(ctx, cmd, collectionGUID, analyzer, io.Discard)
		})
	}
}

// download saves a file into the download directory off the UI goroutine.
func (ui *UI) download(action string, fetch upload.FetchFunc) {
	dir := ui.opts.DownloadDir
	ui.setStatus(fmt.Sprintf("[%s]%s...[-]", ui.theme.TagWarning, action))
	go func() {
		path, err := upload.SaveDownload(dir, fetch)
		ui.dispatch(func() {
			if err != nil {
				ui.toast(caseview.FailureToast(err))
				return
			}
			ui.setStatus(fmt.Sprintf("[%s]Saved[-] %s", ui.theme.TagSuccess, path))
		})
	}()
}

// downloadFocused downloads the selected collector or collection.
func (ui *UI) downloadFocused() {
	s := ui.sess()
	if s == nil {
		return
	}
	switch ui.app.GetFocus() {
	case ui.collectors:
		if guid := selected(ui.collectors); guid != "" {
			ui.download("download collector", func(w io.Writer) (string, error) {
				return s.DownloadCollector(ui.ctx, guid, w)
			})
		}
	case ui.collections:
		if guid := selected(ui.collections); guid != "" {
			ui.download("download collection", func(w io.Writer) (string, error) {
				return s.DownloadCollection(ui.ctx, guid, w)
			})
		}
	case ui.analyses:
		if name := selected(ui.analyses); name != "" {
			ui.runAnalysisCommand(caseview.CommandDownload, ui.snapshot().SelectedTab, name)
		}
	}
}

// confirmDeleteFocused deletes the selected collector, collection or analysis.
func (ui *UI) confirmDeleteFocused() {
	switch ui.app.GetFocus() {
	case ui.collectors:
		if guid := selected(ui.collectors); guid != "" {
			ui.confirm("Delete collector", "Delete this collector ?\n\nIts collections become orphaned.", func() {
				ui.do("delete collector", func(ctx context.Context, s Session) error { return s.DeleteCollector(ctx, guid) })
			})
		}
	case ui.collections:
		if guid := selected(ui.collections); guid != "" {
			ui.confirm("Delete collection", "Delete this collection and its analyses ?", func() {
				ui.do("delete collection", func(ctx context.Context, s Session) error { return s.DeleteCollection(ctx, guid) })
			})
		}
	case ui.analyses:
		if name := selected(ui.analyses); name != "" {
			tab := ui.snapshot().SelectedTab
			ui.confirm("Delete analysis", fmt.Sprintf("Delete the %s analysis ?", name), func() {
				ui.runAnalysisCommand(caseview.CommandDelete, tab, name)
			})
		}
	}
}

// showCollectorSecrets displays the identifiers an agent needs to report to the case.
func (ui *UI) showCollectorSecrets(guid string) {
	for _, c := range ui.snapshot().Collectors {
		if c.GUID == guid {
			ui.showModal("Collector secrets", fmt.Sprintf("GUID: %s\nFingerprint: %s", c.GUID, c.Fingerprint))
			return
		}
	}
}

// showCollectorForm creates a collector, or imports one when imported is set.
func (ui *UI) showCollectorForm(imported bool) {
	const name = "collector"
	var c helium.Collector
	form := tview.NewForm()
	ui.styleForm(form)
	title, action := " Create collector ", "create collector"
	if imported {
		title, action = " Import collector ", "import collector"
		form.AddInputField("GUID", "", 40, nil, func(text string) { c.GUID = strings.TrimSpace(text) })
		form.AddInputField("Fingerprint", "", 40, nil, func(text string) { c.Fingerprint = strings.TrimSpace(text) })
	}
	form.SetTitle(title)
	form.AddInputField("Description", "", 40, nil, func(text string) { c.Description = text })
	form.AddButton("Submit", func() {
		if imported && (c.GUID == "" || c.Fingerprint == "") {
			ui.setStatus(fmt.Sprintf("[%s]GUID and fingerprint are required[-]", ui.theme.TagError))
			return
		}
		ui.popModal(name)
		s := ui.sess()
		if s == nil {
			return
		}
		go func() {
			var (
				created helium.Collector
				err     error
			)
			if imported {
				created, err = s.ImportCollector(ui.ctx, c)
			} else {
				created, err = s.CreateCollector(ui.ctx, c)
			}
			ui.dispatch(func() {
				if err != nil {
					ui.toast(caseview.FailureToast(err))
					return
				}
				ui.setStatus(fmt.Sprintf("[%s]Done: %s[-]", ui.theme.TagSuccess, action))
				if !imported {
					ui.showModal("Collector secrets", fmt.Sprintf("GUID: %s\nFingerprint: %s", created.GUID, created.Fingerprint))
				}
			})
		}()
	})
	form.AddButton("Cancel", func() { ui.popModal(name) })
	form.SetCancelFunc(func() { ui.popModal(name) })
	ui.pushModal(name, centered(form, 60, 11))
	ui.app.SetFocus(form)
}

// showUploadForm asks for an archive path, confirms and uploads it.
func (ui *UI) showUploadForm(path string) {
	const name = "upload"
	form := tview.NewForm()
	form.SetTitle(" Upload collection ")
	ui.styleForm(form)
	form.AddInputField("File", path, 50, nil, func(text string) { path = strings.TrimSpace(text) })
	form.AddButton("Upload", func() {
		if path == "" {
			return
		}
		ui.popModal(name)
		msg, warning := upload.ConfirmMessage(path)
		if warning != "" {
			msg += "\n\n" + warning
		}
		ui.confirm("Upload", msg, func() { ui.uploadCollection(path) })
	})
	form.AddButton("Cancel", func() { ui.popModal(name) })
	form.SetCancelFunc(func() { ui.popModal(name) })
	ui.pushModal(name, centered(form, 70, 7))
	ui.app.SetFocus(form)
}

func (ui *UI) uploadCollection(path string) {
	s := ui.sess()
	if s == nil {
		return
	}
	last := -1
	progress := func(loaded, total int64) {
		p := upload.Percent(loaded, total)
		if p == last {
			return
		}
		last = p
		label := upload.ProgressLabel(path, loaded, total)
		sizes := upload.SizeLabel(loaded, total)
		ui.dispatch(func() {
			ui.setStatus(fmt.Sprintf("[%s]%s[-] %s", ui.theme.TagWarning, tview.Escape(label), sizes))
		})
	}
	go func() {
		c, err := s.UploadCollection(ui.ctx, path, progress)
		ui.dispatch(func() {
			if err != nil {
				ui.toast(caseview.FailureToast(err))
				return
			}
			ui.setStatus(fmt.Sprintf("[%s]Uploaded[-] %s", ui.theme.TagSuccess, c.Hostname))
			if c.GUID != "" {
				ui.showEditCollection(c)
			}
		})
	}()
}

func (ui *UI) showEditCollectionForm(guid string) {
	if c, ok := ui.snapshot().Collection(guid); ok {
		ui.showEditCollection(c)
	}
}

func (ui *UI) showEditCollection(c helium.Collection) {
	const name = "edit-collection"
	form := tview.NewForm()
	form.SetTitle(" Edit collection ")
	ui.styleForm(form)
	form.AddInputField("Description", c.Description, 50, nil, func(text string) { c.Description = text })
	form.AddInputField("Tags", strings.Join(c.Tags, ","), 50, nil, func(text string) {
		c.Tags = nil
		for _, tag := range strings.Split(text, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				c.Tags = append(c.Tags, tag)
			}
		}
	})
	form.AddButton("Save", func() {
		ui.popModal(name)
		ui.do("edit collection", func(ctx context.Context, s Session) error { return s.EditCollection(ctx, c) })
	})
	form.AddButton("Cancel", func() { ui.popModal(name) })
	form.SetCancelFunc(func() { ui.popModal(name) })
	ui.pushModal(name, centered(form, 70, 9))
	ui.app.SetFocus(form)
}
