package ui

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Ashfaaq98/helium-console/internal/caseview"
	"github.com/Ashfaaq98/helium-console/internal/helium"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	mu    sync.Mutex
	state caseview.State
	calls []string
}

func (f *fakeSession) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeSession) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeSession) State() caseview.State { return f.state }
func (f *fakeSession) OpenCollection(ctx context.Context, guid string) error {
	f.record("open " + guid)
	return nil
}
func (f *fakeSession) SelectTab(guid string) { f.record("select " + guid) }
func (f *fakeSession) CloseTab(index int)    { f.record("close-tab") }
func (f *fakeSession) RefreshCollections(ctx context.Context) error {
	f.record("refresh collections")
	return nil
}
func (f *fakeSession) RefreshAnalyses(ctx context.Context, guid string) error {
	f.record("refresh analyses " + guid)
	return nil
}
func (f *fakeSession) Run(ctx context.Context, cmd caseview.Command, guid, analyzer string, w io.Writer) error {
	f.record(string(cmd) + " " + analyzer)
	if cmd == caseview.CommandRestart {
		return &caseview.ActionError{Action: "restart analysis", Err: caseview.ErrCommandNotAllowed}
	}
	return nil
}
func (f *fakeSession) AnalysisLog(ctx context.Context, guid, analyzer string) (string, error) {
	return "log", nil
}
func (f *fakeSession) DownloadAnalysis(ctx context.Context, guid, analyzer string, w io.Writer) (string, error) {
	return "a.zip", nil
}
func (f *fakeSession) UpdateCase(ctx context.Context, patch helium.CasePatch) error { return nil }
func (f *fakeSession) CloseCase(ctx context.Context) error                          { return nil }
func (f *fakeSession) ReopenCase(ctx context.Context) error                         { return nil }
func (f *fakeSession) DeleteCase(ctx context.Context) error                         { return nil }
func (f *fakeSession) CreateCollector(ctx context.Context, c helium.Collector) (helium.Collector, error) {
	return c, nil
}
func (f *fakeSession) ImportCollector(ctx context.Context, c helium.Collector) (helium.Collector, error) {
	return c, nil
}
func (f *fakeSession) DeleteCollector(ctx context.Context, guid string) error { return nil }
func (f *fakeSession) DownloadCollector(ctx context.Context, guid string, w io.Writer) (string, error) {
	return "collector.bin", nil
}
func (f *fakeSession) UploadCollection(ctx context.Context, path string, progress helium.ProgressFunc) (helium.Collection, error) {
	return helium.Collection{}, nil
}
func (f *fakeSession) EditCollection(ctx context.Context, c helium.Collection) error { return nil }
func (f *fakeSession) DeleteCollection(ctx context.Context, guid string) error     { return nil }
func (f *fakeSession) DownloadCollection(ctx context.Context, guid string, w io.Writer) (string, error) {
	return "collection.zip", nil
}
func (f *fakeSession) RemoveCache(ctx context.Context, guid string) error { return nil }

type fakePrefs struct {
	mu      sync.Mutex
	dark    bool
	toggles int
}

func (p *fakePrefs) IsDarkModeEnabled(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dark, nil
}

func (p *fakePrefs) ToggleDarkMode(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dark = !p.dark
	p.toggles++
	return p.dark, nil
}

func (p *fakePrefs) Banner(ctx context.Context, text string) (string, error) { return text, nil }
func (p *fakePrefs) AckBanner(ctx context.Context, text string) error      { return nil }

func newTestUI(t *testing.T, opts Options) *UI {
	t.Helper()
	ui := New(context.Background(), opts)
	ui.inline = true
	t.Cleanup(ui.Stop)
	return ui
}

func sampleState() caseview.State {
	st := caseview.SetCase(caseview.State{}, helium.CaseMetadata{GUID: "c1", Name: "Case A"})
	st = caseview.SetCollectors(st, []helium.Collector{{GUID: "k1", Fingerprint: "fp-1", Created: "2024-01-01T00:00:00Z"}})
	st = caseview.SetCollections(st, []helium.Collection{
		{GUID: "col-1", Fingerprint: "fp-1", Hostname: "host-1", Created: "2024-01-02T00:00:00Z", Tags: []string{"windows"}},
		{GUID: "col-2", Fingerprint: "gone", Hostname: "host-2", Created: "2024-01-01T00:00:00Z"},
	})
	st = caseview.SetDiskUsage(st, helium.CaseDiskUsage{GUID: "c1", Analyses: 500, Collections: 1000, Collectors: 0})
	st = caseview.SetAnalyzerInfos(st, []helium.AnalyzerInfo{
		{Name: "yara"},
		{Name: "hives", Tags: []string{"windows"}},
		{Name: "syslog", Tags: []string{"linux"}},
	})
	st.ActiveUsers = []string{"alice", "bob"}
	return st
}

func renderUpdate(st caseview.State) caseview.Update {
	return caseview.Update{State: st, Effects: []caseview.Effect{{Kind: caseview.EffectRender}}}
}

func TestRenderHeaderAndLists(t *testing.T) {
	ui := newTestUI(t, Options{Theme: "dark"})
	ui.Notify(renderUpdate(sampleState()))

	header := ui.header.GetText(true)
	assert.Contains(t, header, "Helium - Case A")
	assert.Contains(t, header, "users: alice, bob")
	assert.Contains(t, header, "disk: 1.5 kB")

	assert.Equal(t, "fp-1", ui.collectors.GetCell(1, 0).Text)
	assert.Equal(t, "k1", cellReference(ui.collectors, 1))

	require.Equal(t, 3, ui.collections.GetRowCount())
	assert.Equal(t, "host-1", ui.collections.GetCell(1, 0).Text)
	assert.Equal(t, "", ui.collections.GetCell(1, 4).Text)
	assert.Equal(t, "host-2", ui.collections.GetCell(2, 0).Text)
	assert.Equal(t, orphanMarker, ui.collections.GetCell(2, 4).Text)

	assert.Equal(t, "No collection opened", ui.analyses.GetCell(1, 0).Text)
}

func TestRenderAnalysesOfSelectedTab(t *testing.T) {
	ui := newTestUI(t, Options{Theme: "dark"})
	st, _ := caseview.OpenTab(sampleState(), "col-1")
	ui.Notify(renderUpdate(st))
	assert.Equal(t, "Loading...", ui.analyses.GetCell(1, 0).Text)

	st = caseview.SetAnalyses(st, "col-1", []helium.CollectionAnalysis{{Analyzer: "yara", Status: helium.StatusSuccess}})
	ui.Notify(renderUpdate(st))

	// yara and hives apply to a windows collection, syslog does not.
	require.Equal(t, 3, ui.analyses.GetRowCount())
	assert.Equal(t, "yara", cellReference(ui.analyses, 1))
	assert.Equal(t, "Restart Logs Delete Download", ui.analyses.GetCell(1, 3).Text)
	assert.Equal(t, "hives", cellReference(ui.analyses, 2))
	assert.Equal(t, "Start", ui.analyses.GetCell(2, 3).Text)

	assert.Contains(t, ui.tabBar.GetText(true), "1:host-1")
	assert.Equal(t, []string{"col-1"}, ui.tabBar.GetHighlights())
}

func TestOrphanedCollectionOffersNoStart(t *testing.T) {
	st, _ := caseview.OpenTab(sampleState(), "col-2")
	st = caseview.SetAnalyses(st, "col-2", nil)
	table := newTestUI(t, Options{Theme: "dark"}).analyses
	fillAnalyses(table, st, themeDark())
	assert.Equal(t, "yara", cellReference(table, 1))
	assert.Equal(t, "-", table.GetCell(1, 3).Text)
}

func TestToastAndNavigateAway(t *testing.T) {
	ui := newTestUI(t, Options{Theme: "dark"})
	ui.Notify(caseview.Update{Effects: []caseview.Effect{
		{Kind: caseview.EffectToast, Toast: caseview.Toast{Severity: caseview.SeverityWarn, Summary: "Case deleted", Detail: "by alice"}},
	}})
	assert.Contains(t, ui.statusBar.GetText(true), "Case deleted by alice")

	left, _ := ui.NavigatedAway()
	assert.False(t, left)

	ui.Notify(caseview.Update{Effects: []caseview.Effect{{Kind: caseview.EffectNavigateAway}}})
	left, last := ui.NavigatedAway()
	assert.True(t, left)
	assert.Equal(t, "Case deleted", last.Summary)
	assert.Error(t, ui.ctx.Err())
}

func TestThemeFollowsDarkModePreference(t *testing.T) {
	ui := newTestUI(t, Options{Preferences: &fakePrefs{}})
	assert.Equal(t, "light", ui.themeName)

	ui = newTestUI(t, Options{Preferences: &fakePrefs{dark: true}})
	assert.Equal(t, "dark", ui.themeName)

	ui = newTestUI(t, Options{Preferences: &fakePrefs{dark: true}, Theme: "high-contrast"})
	assert.Equal(t, "high-contrast", ui.themeName)

	ui.cycleTheme()
	assert.Equal(t, "dark", ui.themeName)
}

func TestToggleDarkModeStoresPreference(t *testing.T) {
	prefs := &fakePrefs{}
	ui := newTestUI(t, Options{Preferences: prefs})
	ui.toggleDarkMode()
	assert.Eventually(t, func() bool {
		prefs.mu.Lock()
		defer prefs.mu.Unlock()
		return prefs.toggles == 1 && prefs.dark
	}, time.Second, 10*time.Millisecond)
}

func TestStepTabAndCommands(t *testing.T) {
	ui := newTestUI(t, Options{Theme: "dark"})
	st := sampleState()
	st, _ = caseview.OpenTab(st, "col-1")
	st, _ = caseview.OpenTab(st, "col-2")
	sess := &fakeSession{state: st}
	ui.Attach(sess)

	ui.stepTab(true)
	assert.Equal(t, []string{"select col-1"}, sess.Calls())

	ui.openCollection("col-1")
	ui.runAnalysisCommand(caseview.CommandStart, "col-1", "hives")
	assert.Eventually(t, func() bool { return len(sess.Calls()) == 3 }, time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{"select col-1", "open col-1", "start hives"}, sess.Calls())
}

func TestFailedCommandShowsFailureToast(t *testing.T) {
	ui := newTestUI(t, Options{Theme: "dark"})
	sess := &fakeSession{state: sampleState()}
	ui.Attach(sess)

	ui.runAnalysisCommand(caseview.CommandRestart, "col-1", "yara")
	assert.Eventually(t, func() bool {
		_, last := ui.NavigatedAway()
		return last.Summary == "Action failed"
	}, time.Second, 10*time.Millisecond)
	_, last := ui.NavigatedAway()
	assert.True(t, strings.HasPrefix(last.Detail, "restart analysis"))
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "Helium - X", WindowTitle(helium.CaseMetadata{Name: "X"}))
	assert.Equal(t, "ab...", truncate("abcdefgh", 5))
	assert.Equal(t, "-", menuLabels(caseview.MenuFor(helium.StatusAbsent, true)))
	assert.Equal(t, "Logs", menuLabels(caseview.MenuFor(helium.StatusProcessing, false)))
	assert.Equal(t, "2024-13-99", relativeTime("2024-13-99"))
	assert.Equal(t, "Disk usage unavailable", diskUsageText(caseview.State{}))
	assert.Contains(t, diskUsageText(sampleState()), "Total: 1.5 kB")
}
