package caseview

import (
	"testing"

	"github.com/Ashfaaq98/helium-console/internal/helium"
	"github.com/stretchr/testify/assert"
)

func commands(items []MenuItem) []Command {
	out := make([]Command, 0, len(items))
	for _, it := range items {
		out = append(out, it.Command)
	}
	return out
}

func TestMenuForStatus(t *testing.T) {
	tests := []struct {
		status helium.AnalysisStatus
		want   []Command
	}{
		{helium.StatusAbsent, []Command{CommandStart}},
		{helium.StatusPending, []Command{CommandLogs}},
		{helium.StatusProcessing, []Command{CommandLogs}},
		{helium.StatusFailure, []Command{CommandRestart, CommandLogs, CommandDelete}},
		{helium.StatusSuccess, []Command{CommandRestart, CommandLogs, CommandDelete, CommandDownload}},
		{helium.AnalysisStatus("queued_somewhere"), []Command{CommandStart}},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, commands(MenuFor(tt.status, false)))
		})
	}
}

func TestStartDisabledOnOrphanedCollection(t *testing.T) {
	items := MenuFor(helium.StatusAbsent, true)
	assert.False(t, Allowed(items, CommandStart))
	assert.True(t, Allowed(MenuFor(helium.StatusAbsent, false), CommandStart))
	assert.False(t, Allowed(MenuFor(helium.StatusPending, false), CommandDownload))
}

func TestAnalysisMenuFromState(t *testing.T) {
	s := State{
		Collectors:  []helium.Collector{{GUID: "A", Fingerprint: "F1"}},
		Collections: []helium.Collection{{GUID: "X", Fingerprint: "F1"}, {GUID: "Y", Fingerprint: "F2"}},
	}
	s = SetAnalyses(s, "X", []helium.CollectionAnalysis{{GUID: "a1", Analyzer: "hayabusa", Status: helium.StatusSuccess}})

	assert.True(t, Allowed(s.AnalysisMenu("X", "hayabusa"), CommandDownload))
	assert.True(t, Allowed(s.AnalysisMenu("X", "other"), CommandStart))
	assert.False(t, Allowed(s.AnalysisMenu("Y", "other"), CommandStart))
	assert.False(t, Allowed(s.AnalysisMenu("unknown", "other"), CommandStart))
}

func TestOrphanPredicate(t *testing.T) {
	collectors := []helium.Collector{{GUID: "A", Fingerprint: "F1"}}
	assert.False(t, IsOrphaned(collectors, helium.Collection{Fingerprint: "F1"}))
	assert.True(t, IsOrphaned(collectors, helium.Collection{Fingerprint: "F2"}))
	assert.True(t, IsOrphaned(nil, helium.Collection{Fingerprint: "F1"}))
}

func TestAnalyzerApplies(t *testing.T) {
	infos := []helium.AnalyzerInfo{
		{Name: "any"},
		{Name: "windows", Tags: []string{"windows", "evtx"}},
		{Name: "linux", Tags: []string{"linux"}},
	}
	assert.True(t, AnalyzerApplies(infos, "any", nil))
	assert.True(t, AnalyzerApplies(infos, "windows", []string{"evtx"}))
	assert.False(t, AnalyzerApplies(infos, "linux", []string{"windows"}))
	assert.False(t, AnalyzerApplies(infos, "missing", []string{"windows"}))

	got := ApplicableAnalyzers(infos, helium.Collection{Tags: []string{"windows"}})
	assert.Equal(t, []string{"any", "windows"}, got)
}

func TestCaseMenu(t *testing.T) {
	open := CaseMenu(helium.CaseMetadata{GUID: "c"})
	assert.Len(t, open, 4)
	assert.Equal(t, CaseClose, open[2].Command)
	assert.False(t, open[1].Disabled)

	closed := CaseMenu(helium.CaseMetadata{GUID: "c", Closed: "2024-01-01T00:00:00Z"})
	assert.Equal(t, CaseReopen, closed[2].Command)
	assert.Equal(t, "Reopen", closed[2].Label)
	assert.True(t, closed[1].Disabled)
}

func TestEffectKindString(t *testing.T) {
	assert.Equal(t, "scroll_to_tab", EffectScrollToTab.String())
	assert.Equal(t, "effect(9)", EffectKind(9).String())
}
