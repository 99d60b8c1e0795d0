// Package ui is the terminal case view: a tview screen rendering the case
// projection and driving the case view commands.
package ui

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/Ashfaaq98/helium-console/internal/caseview"
	"github.com/Ashfaaq98/helium-console/internal/helium"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Session is the case view as driven by the screen.
type Session interface {
	State() caseview.State
	OpenCollection(ctx context.Context, collectionGUID string) error
	SelectTab(collectionGUID string)
	CloseTab(index int)
	RefreshCollections(ctx context.Context) error
	RefreshAnalyses(ctx context.Context, collectionGUID string) error
	Run(ctx context.Context, cmd caseview.Command, collectionGUID, analyzer string, w io.Writer) error
	AnalysisLog(ctx context.Context, collectionGUID, analyzer string) (string, error)
	DownloadAnalysis(ctx context.Context, collectionGUID, analyzer string, w io.Writer) (string, error)

	UpdateCase(ctx context.Context, patch helium.CasePatch) error
	CloseCase(ctx context.Context) error
	ReopenCase(ctx context.Context) error
	DeleteCase(ctx context.Context) error

	CreateCollector(ctx context.Context, c helium.Collector) (helium.Collector, error)
	ImportCollector(ctx context.Context, c helium.Collector) (helium.Collector, error)
	DeleteCollector(ctx context.Context, collectorGUID string) error
	DownloadCollector(ctx context.Context, collectorGUID string, w io.Writer) (string, error)

	UploadCollection(ctx context.Context, path string, progress helium.ProgressFunc) (helium.Collection, error)
	EditCollection(ctx context.Context, c helium.Collection) error
	DeleteCollection(ctx context.Context, collectionGUID string) error
	DownloadCollection(ctx context.Context, collectionGUID string, w io.Writer) (string, error)
	RemoveCache(ctx context.Context, collectionGUID string) error
}

// Preferences is the local preference storage used by the screen.
type Preferences interface {
	IsDarkModeEnabled(ctx context.Context) (bool, error)
	ToggleDarkMode(ctx context.Context) (bool, error)
	Banner(ctx context.Context, text string) (string, error)
	AckBanner(ctx context.Context, text string) error
}

// Options configures the screen.
type Options struct {
	Logger      *log.Logger
	Preferences Preferences
	// Theme forces a palette; empty follows the dark mode preference.
	Theme string
	// Banner is shown once until acknowledged.
	Banner string
	// DownloadDir receives downloaded files.
	DownloadDir string
}

// UI is the case view screen. It implements caseview.Notifier.
type UI struct {
	app    *tview.Application
	logger *log.Logger
	prefs  Preferences
	opts   Options

	// Layout components
	pages       *tview.Pages
	layout      *tview.Flex
	header      *tview.TextView
	collectors  *tview.Table
	collections *tview.Table
	tabBar      *tview.TextView
	analyses    *tview.Table
	statusBar   *tview.TextView

	// State
	mu      sync.Mutex
	session Session
	state   caseview.State
	left    bool
	lastMsg caseview.Toast

	// Theme state
	theme     Theme
	themeName string

	// Runtime
	inline bool // run updates on the caller's goroutine (no event loop)
	modals int

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds the screen. Attach the session once it is open.
func New(ctx context.Context, opts Options) *UI {
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if opts.DownloadDir == "" {
		opts.DownloadDir = "."
	}
	uiCtx, cancel := context.WithCancel(ctx)
	ui := &UI{
		app:    tview.NewApplication(),
		logger: opts.Logger,
		prefs:  opts.Preferences,
		opts:   opts,
		ctx:    uiCtx,
		cancel: cancel,
	}

	name := opts.Theme
	if name == "" && ui.prefs != nil {
		name = "light"
		if dark, err := ui.prefs.IsDarkModeEnabled(uiCtx); err != nil {
			ui.logger.Printf("failed to read dark mode preference: %v", err)
		} else if dark {
			name = "dark"
		}
	}
	ui.themeName, ui.theme = ThemeByName(name)

	ui.setupLayout()
	ui.setupKeybindings()
	ui.applyTheme()
	return ui
}

// Attach binds the screen to an open case view.
func (ui *UI) Attach(s Session) {
	ui.mu.Lock()
	ui.session = s
	ui.mu.Unlock()
	st := s.State()
	ui.dispatch(func() { ui.render(st) })
}

// NavigatedAway reports whether the view was left by the case view itself,
// and the last notification shown.
func (ui *UI) NavigatedAway() (bool, caseview.Toast) {
	ui.mu.Lock()
	defer ui.mu.Unlock()
	return ui.left, ui.lastMsg
}

// Notify queues an update on the tview event loop.
func (ui *UI) Notify(u caseview.Update) {
	ui.dispatch(func() { ui.apply(u) })
}

// dispatch runs fn on the UI goroutine. Updates after Stop are dropped.
func (ui *UI) dispatch(fn func()) {
	if ui.inline {
		fn()
		return
	}
	if ui.ctx.Err() != nil {
		return
	}
	ui.app.QueueUpdateDraw(fn)
}

// apply renders an update and performs its effects.
func (ui *UI) apply(u caseview.Update) {
	for _, e := range u.Effects {
		switch e.Kind {
		case caseview.EffectRender:
			ui.render(u.State)
		case caseview.EffectToast:
			ui.toast(e.Toast)
		case caseview.EffectScrollToTab:
			ui.tabBar.Highlight(e.TabGUID)
			ui.tabBar.ScrollToHighlight()
		case caseview.EffectNavigateAway:
			ui.mu.Lock()
			ui.left = true
			ui.mu.Unlock()
			ui.logger.Printf("leaving case view")
			ui.Stop()
		}
	}
}

// render redraws every pane from a snapshot.
func (ui *UI) render(st caseview.State) {
	ui.mu.Lock()
	ui.state = st
	ui.mu.Unlock()

	ui.header.SetText(headerText(st, ui.theme))
	fillCollectors(ui.collectors, st, ui.theme)
	fillCollections(ui.collections, st, ui.theme)
	ui.tabBar.SetText(tabBarText(st, ui.theme))
	if st.SelectedTab != "" {
		ui.tabBar.Highlight(st.SelectedTab)
	} else {
		ui.tabBar.Highlight()
	}
	fillAnalyses(ui.analyses, st, ui.theme)
}

func (ui *UI) snapshot() caseview.State {
	ui.mu.Lock()
	defer ui.mu.Unlock()
	return ui.state
}

func (ui *UI) sess() Session {
	ui.mu.Lock()
	defer ui.mu.Unlock()
	return ui.session
}

// Run starts the TUI application. It returns when the user quits or the case view is left.
func (ui *UI) Run() error {
	ui.logger.Println("Starting TUI application")

	go func() {
		<-ui.ctx.Done()
		ui.app.Stop()
	}()

	if ui.prefs != nil && ui.opts.Banner != "" {
		text, err := ui.prefs.Banner(ui.ctx, ui.opts.Banner)
		if err != nil {
			ui.logger.Printf("failed to read banner acknowledgement: %v", err)
		} else if text != "" {
			ui.showBanner(text)
		}
	}

	err := ui.app.Run()
	ui.logger.Printf("app.Run() returned with error: %v", err)
	return err
}

// Stop stops the TUI application
func (ui *UI) Stop() {
	ui.cancel()
	ui.app.Stop()
}

// setupLayout creates the main layout
func (ui *UI) setupLayout() {
	ui.header = tview.NewTextView().SetDynamicColors(true)

	ui.collectors = tview.NewTable().SetSelectable(true, false).SetFixed(1, 0)
	ui.collectors.SetBorder(true).SetTitle(" Collectors ").SetTitleAlign(tview.AlignLeft)

	ui.collections = tview.NewTable().SetSelectable(true, false).SetFixed(1, 0)
	ui.collections.SetBorder(true).SetTitle(" Collections ").SetTitleAlign(tview.AlignLeft)

	ui.tabBar = tview.NewTextView().SetDynamicColors(true).SetRegions(true).SetWrap(false)

	ui.analyses = tview.NewTable().SetSelectable(true, false).SetFixed(1, 0)
	ui.analyses.SetBorder(true).SetTitle(" Analyses ").SetTitleAlign(tview.AlignLeft)

	ui.statusBar = tview.NewTextView().SetDynamicColors(true)
	ui.setStatus(fmt.Sprintf("[%s]Loading case...[-]", ui.theme.TagWarning))

	leftCol := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(ui.collectors, 0, 1, false).
		AddItem(ui.collections, 0, 2, true)

	rightCol := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(ui.tabBar, 1, 0, false).
		AddItem(ui.analyses, 0, 1, false)

	ui.layout = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(ui.header, 1, 0, false).
		AddItem(tview.NewFlex().
			AddItem(leftCol, 0, 1, true).
			AddItem(rightCol, 0, 1, false), 0, 1, true).
		AddItem(ui.statusBar, 1, 0, false)

	ui.pages = tview.NewPages().AddPage("main", ui.layout, true, true)
	ui.app.SetRoot(ui.pages, true)
	ui.app.SetFocus(ui.collections)

	ui.collections.SetSelectedFunc(func(row, col int) {
		if guid := cellReference(ui.collections, row); guid != "" {
			ui.openCollection(guid)
		}
	})
	ui.collectors.SetSelectedFunc(func(row, col int) {
		if guid := cellReference(ui.collectors, row); guid != "" {
			ui.showCollectorSecrets(guid)
		}
	})
	ui.analyses.SetSelectedFunc(func(row, col int) {
		if name := cellReference(ui.analyses, row); name != "" {
			ui.showAnalysisMenu(ui.snapshot().SelectedTab, name)
		}
	})
}

// cellReference returns the reference stored on the first cell of a row.
func cellReference(table *tview.Table, row int) string {
	if row <= 0 {
		return ""
	}
	cell := table.GetCell(row, 0)
	if cell == nil {
		return ""
	}
	ref, _ := cell.GetReference().(string)
	return ref
}

// selected returns the reference of the selected row of a table.
func selected(table *tview.Table) string {
	row, _ := table.GetSelection()
	return cellReference(table, row)
}

// setupKeybindings sets up global keybindings
func (ui *UI) setupKeybindings() {
	ui.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		// While a modal or form is active, allow it to handle all keys.
		if ui.modals > 0 {
			return event
		}
		switch event.Key() {
		case tcell.KeyCtrlC:
			ui.Stop()
			return nil
		case tcell.KeyTab:
			ui.cycleFocus()
			return nil
		case tcell.KeyEsc:
			ui.setStatus(fmt.Sprintf("[%s]Ready[-]", ui.theme.TagAccent))
			return nil
		case tcell.KeyDelete:
			ui.confirmDeleteFocused()
			return nil
		case tcell.KeyRune:
		default:
			return event
		}

		switch event.Rune() {
		case 'q', 'Q':
			ui.Stop()
		case 'r':
			ui.refresh()
		case 'm':
			ui.showCaseMenu()
		case 'd':
			ui.toggleDarkMode()
		case 't':
			ui.cycleTheme()
		case 'u':
			ui.showUploadForm("")
		case 'c':
			ui.showCollectorForm(false)
		case 'i':
			ui.showCollectorForm(true)
		case 'e':
			if guid := selected(ui.collections); guid != "" && ui.app.GetFocus() == ui.collections {
				ui.showEditCollectionForm(guid)
			}
		case 'w':
			ui.downloadFocused()
		case 'X':
			if guid := selected(ui.collections); guid != "" && ui.app.GetFocus() == ui.collections {
				ui.confirm("Remove cache", "Remove the cache of this collection, including decrypted data ?", func() {
					ui.do("remove cache", func(ctx context.Context, s Session) error { return s.RemoveCache(ctx, guid) })
				})
			}
		case 'D':
			ui.confirmDeleteFocused()
		case '[', ']':
			ui.stepTab(event.Rune() == ']')
		case 'x':
			st := ui.snapshot()
			if i := st.TabIndex(st.SelectedTab); i >= 0 {
				if s := ui.sess(); s != nil {
					s.CloseTab(i)
				}
			}
		case 's':
			ui.showModal("Disk usage", diskUsageText(ui.snapshot()))
		case '?', 'h':
			ui.showHelp()
		default:
			return event
		}
		return nil
	})
}

// cycleFocus cycles focus between the tables.
func (ui *UI) cycleFocus() {
	switch ui.app.GetFocus() {
	case ui.collections:
		ui.app.SetFocus(ui.analyses)
	case ui.analyses:
		ui.app.SetFocus(ui.collectors)
	default:
		ui.app.SetFocus(ui.collections)
	}
	ui.highlightFocus(ui.app.GetFocus())
}

func (ui *UI) highlightFocus(focused tview.Primitive) {
	for _, t := range []*tview.Table{ui.collectors, ui.collections, ui.analyses} {
		if t == focused {
			t.SetBorderColor(ui.theme.FocusBorder)
		} else {
			t.SetBorderColor(ui.theme.Border)
		}
	}
}

func (ui *UI) stepTab(forward bool) {
	st := ui.snapshot()
	if len(st.Tabs) == 0 {
		return
	}
	i := st.TabIndex(st.SelectedTab)
	if forward {
		i = (i + 1) % len(st.Tabs)
	} else {
		i = (i - 1 + len(st.Tabs)) % len(st.Tabs)
	}
	if s := ui.sess(); s != nil {
		s.SelectTab(st.Tabs[i].GUID)
	}
}

// do runs a session command off the UI goroutine and reports its failure.
func (ui *UI) do(action string, fn func(ctx context.Context, s Session) error) {
	s := ui.sess()
	if s == nil {
		return
	}
	ui.setStatus(fmt.Sprintf("[%s]%s...[-]", ui.theme.TagWarning, action))
	go func() {
		err := fn(ui.ctx, s)
		ui.dispatch(func() {
			if err != nil {
				ui.toast(caseview.FailureToast(err))
				return
			}
			ui.setStatus(fmt.Sprintf("[%s]Done: %s[-]", ui.theme.TagSuccess, action))
		})
	}()
}

func (ui *UI) openCollection(guid string) {
	ui.do("open collection", func(ctx context.Context, s Session) error { return s.OpenCollection(ctx, guid) })
}

func (ui *UI) refresh() {
	tab := ui.snapshot().SelectedTab
	ui.do("refresh", func(ctx context.Context, s Session) error {
		if err := s.RefreshCollections(ctx); err != nil {
			return err
		}
		if tab != "" {
			return s.RefreshAnalyses(ctx, tab)
		}
		return nil
	})
}

func (ui *UI) toast(t caseview.Toast) {
	ui.mu.Lock()
	ui.lastMsg = t
	ui.mu.Unlock()
	ui.logger.Printf("toast %s: %s %s", t.Severity, t.Summary, t.Detail)
	ui.setStatus(toastText(t, ui.theme))
}

// setStatus updates the status bar. Call it on the UI goroutine.
func (ui *UI) setStatus(message string) {
	timestamp := time.Now().Format("15:04:05")
	ui.statusBar.SetText(fmt.Sprintf("[%s]%s[-] | %s [%s]| ?:help q:quit[-]",
		ui.theme.TagMuted, timestamp, message, ui.theme.TagMuted))
}

// applyTheme pushes theme colors to widgets
func (ui *UI) applyTheme() {
	for _, t := range []*tview.Table{ui.collectors, ui.collections, ui.analyses} {
		t.SetSelectedStyle(tcell.StyleDefault.Background(ui.theme.SelectionBg).Foreground(ui.theme.SelectionFg))
		t.SetBorderColor(ui.theme.Border)
		t.SetBackgroundColor(ui.theme.Surface)
	}
	for _, tv := range []*tview.TextView{ui.header, ui.tabBar, ui.statusBar} {
		tv.SetTextColor(ui.theme.TextPrimary)
		tv.SetBackgroundColor(ui.theme.Surface)
	}
	ui.render(ui.snapshot())
	ui.highlightFocus(ui.app.GetFocus())
}

// setTheme applies a named theme
func (ui *UI) setTheme(name string) {
	ui.themeName, ui.theme = ThemeByName(name)
	ui.applyTheme()
	ui.setStatus(fmt.Sprintf("[%s]Theme: %s[-]", ui.theme.TagAccent, ui.themeName))
}

func (ui *UI) cycleTheme() {
	next := map[string]string{
		"dark":          "light",
		"light":         "high-contrast",
		"high-contrast": "dark",
	}
	ui.setTheme(next[ui.themeName])
}

// toggleDarkMode flips the stored dark mode flag and applies it.
func (ui *UI) toggleDarkMode() {
	if ui.prefs == nil {
		ui.cycleTheme()
		return
	}
	go func() {
		dark, err := ui.prefs.ToggleDarkMode(ui.ctx)
		ui.dispatch(func() {
			if err != nil {
				ui.toast(caseview.FailureToast(&caseview.ActionError{Action: "toggle dark mode", Err: err}))
				return
			}
			if dark {
				ui.setTheme("dark")
			} else {
				ui.setTheme("light")
			}
		})
	}()
}
