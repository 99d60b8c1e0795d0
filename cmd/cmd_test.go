package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Ashfaaq98/helium-console/internal/api"
	"github.com/Ashfaaq98/helium-console/internal/caseview"
	"github.com/Ashfaaq98/helium-console/internal/helium"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHelium serves the part of the Helium API the commands use.
type fakeHelium struct {
	mu       sync.Mutex
	meta     helium.CaseMetadata
	analyses map[string][]helium.CollectionAnalysis
	calls    []string
	// events are sent on the case event stream, which then stays open.
	events []string
}

func newFakeHelium(t *testing.T) (*fakeHelium, *httptest.Server) {
	t.Helper()
	f := &fakeHelium{
		meta: helium.CaseMetadata{GUID: "case-1", Name: "Incident", TSID: "TS-1"},
		analyses: map[string][]helium.CollectionAnalysis{
			"X": {{GUID: "a1", Analyzer: "strings", Status: helium.StatusSuccess}},
		},
	}

	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": v})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/cases/{case}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("case") != "case-1" {
			http.Error(w, "no such case", http.StatusNotFound)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, f.meta)
	})
	mux.HandleFunc("PUT /api/cases/{case}", func(w http.ResponseWriter, r *http.Request) {
		var patch helium.CasePatch
		_ = json.NewDecoder(r.Body).Decode(&patch)
		f.mu.Lock()
		defer f.mu.Unlock()
		f.calls = append(f.calls, "PutCase")
		if patch.Closed != nil {
			f.meta.Closed = *patch.Closed
		}
		if patch.Name != nil {
			f.meta.Name = *patch.Name
		}
		writeJSON(w, f.meta)
	})
	mux.HandleFunc("GET /api/cases/{case}/collectors", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []helium.Collector{{GUID: "A", Fingerprint: "F1", Created: "2024-01-02T00:00:00Z"}})
	})
	mux.HandleFunc("GET /api/cases/{case}/collections", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []helium.Collection{
			{GUID: "X", Fingerprint: "F1", Hostname: "host01", Created: "2024-01-03T00:00:00Z", Tags: []string{"windows"}},
		})
	})
	mux.HandleFunc("GET /api/disk_usage", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, helium.DiskUsage{Cases: []helium.CaseDiskUsage{{GUID: "case-1", Analyses: 1024, Collections: 2048}}})
	})
	mux.HandleFunc("GET /api/analyzers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []helium.AnalyzerInfo{{Name: "hayabusa", Tags: []string{"windows"}}, {Name: "strings"}})
	})
	mux.HandleFunc("GET /api/cases/{case}/collections/{col}/analyses", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, f.analyses[r.PathValue("col")])
	})
	mux.HandleFunc("POST /api/cases/{case}/collections/{col}/analyses", func(w http.ResponseWriter, r *http.Request) {
		var a helium.CollectionAnalysis
		_ = json.NewDecoder(r.Body).Decode(&a)
		a.GUID = "new-" + a.Analyzer
		a.Status = helium.StatusPending
		f.mu.Lock()
		defer f.mu.Unlock()
		f.calls = append(f.calls, "PostCollectionAnalysis")
		col := r.PathValue("col")
		f.analyses[col] = append(f.analyses[col], a)
		writeJSON(w, a)
	})
	mux.HandleFunc("GET /api/cases/{case}/collections/{col}/analyses/{analyzer}/log", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("# " + r.PathValue("analyzer") + "\nall good\n"))
	})

	mux.HandleFunc("GET /api/cases/{case}/events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		f.mu.Lock()
		events := append([]string(nil), f.events...)
		f.mu.Unlock()
		for _, e := range events {
			_, _ = w.Write([]byte("data: " + e + "\n\n"))
		}
		if fl, ok := w.(http.Flusher); ok {
			fl.Flush()
		}
		<-r.Context().Done()
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeHelium) called(call string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == call {
			return true
		}
	}
	return false
}

// useTestConfig points the commands at srv and a fresh database.
func useTestConfig(t *testing.T, srvURL string) string {
	t.Helper()
	dir := t.TempDir()
	viper.Set("api.url", srvURL)
	viper.Set("api.rate", 0)
	viper.Set("database.path", filepath.Join(dir, "helium.db"))
	viper.Set("log.level", "error")
	viper.Set("redis.url", "")
	t.Cleanup(viper.Reset)
	return dir
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := rootCmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestConfigFromEnvironment(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	bindEnv()
	setDefaults()
	t.Setenv("HELIUM_API_URL", "https://helium.example")
	t.Setenv("HELIUM_API_TIMEOUT", "5s")
	t.Setenv("HELIUM_LOG_LEVEL", "DEBUG")

	cfg := GetConfig()
	assert.Equal(t, "https://helium.example", cfg.API.URL)
	assert.Equal(t, 5*time.Second, cfg.API.Timeout)
	assert.True(t, cfg.Log.Debug())
	assert.Equal(t, "./data/helium-console.db", cfg.Database.Path)
	assert.Empty(t, cfg.Redis.URL)
}

func TestAnalysisStartRecordsActivity(t *testing.T) {
	f, srv := newFakeHelium(t)
	useTestConfig(t, srv.URL)

	out, err := runCLI(t, "analysis", "start", "case-1", "X", "hayabusa")
	require.NoError(t, err)
	assert.Contains(t, out, "start hayabusa: pending")
	assert.True(t, f.called("PostCollectionAnalysis"))

	out, err = runCLI(t, "list", "activity", "case-1")
	require.NoError(t, err)
	assert.Contains(t, out, "analysis_start")
	assert.Contains(t, out, "start hayabusa on X")

	out, err = runCLI(t, "list", "recent")
	require.NoError(t, err)
	assert.Contains(t, out, "1. case-1")
}

func TestAnalysisCommandFollowsMenu(t *testing.T) {
	f, srv := newFakeHelium(t)
	useTestConfig(t, srv.URL)

	_, err := runCLI(t, "analysis", "restart", "case-1", "X", "hayabusa")
	assert.ErrorIs(t, err, caseview.ErrCommandNotAllowed)
	assert.False(t, f.called("PutCollectionAnalysis"))

	_, err = runCLI(t, "analysis", "reboot", "case-1", "X", "hayabusa")
	assert.ErrorContains(t, err, "unknown analysis command")

	_, err = runCLI(t, "analysis", "logs", "case-1", "Z", "strings")
	assert.ErrorContains(t, err, "collection Z not found")
}

func TestAnalysisLogsSaved(t *testing.T) {
	_, srv := newFakeHelium(t)
	dir := useTestConfig(t, srv.URL)

	out, err := runCLI(t, "analysis", "logs", "case-1", "X", "strings", "--save", "--dir", dir)
	require.NoError(t, err)
	path := filepath.Join(dir, "helium_X_strings.md")
	assert.Contains(t, out, path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# strings\nall good\n", string(data))

	out, err = runCLI(t, "analysis", "logs", "case-1", "X", "strings", "--save=false")
	require.NoError(t, err)
	assert.Contains(t, out, "all good")
}

func TestShowSnapshot(t *testing.T) {
	_, srv := newFakeHelium(t)
	useTestConfig(t, srv.URL)

	out, err := runCLI(t, "show", "case-1", "--analyses", "-o", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "name: Incident")
	assert.Contains(t, out, "hostname: host01")
	assert.Contains(t, out, "analyzer: strings")
	assert.Contains(t, out, "_total: 3072")

	out, err = runCLI(t, "show", "case-1", "--analyses=false", "-o", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "Case: Incident")
	assert.Contains(t, out, "Disk usage: 3.1 kB")

	_, err = runCLI(t, "show", "missing", "-o", "text")
	assert.ErrorIs(t, err, caseview.ErrCaseUnavailable)
	assert.ErrorIs(t, err, api.ErrNotFound)
}

func TestListAnalysesShowsCommands(t *testing.T) {
	_, srv := newFakeHelium(t)
	useTestConfig(t, srv.URL)

	out, err := runCLI(t, "list", "analyses", "case-1", "X")
	require.NoError(t, err)
	assert.Regexp(t, `hayabusa\s+-\s+start`, out)
	assert.Regexp(t, `strings\s+success\s+restart logs delete download`, out)

	_, err = runCLI(t, "list", "analyses", "case-1")
	assert.Error(t, err)
}

func TestCaseCloseFollowsMenu(t *testing.T) {
	f, srv := newFakeHelium(t)
	useTestConfig(t, srv.URL)

	out, err := runCLI(t, "case", "close", "case-1")
	require.NoError(t, err)
	assert.Contains(t, out, "close done")
	assert.True(t, f.called("PutCase"))

	// Closed cases offer reopen, not close or edit.
	_, err = runCLI(t, "case", "close", "case-1")
	assert.ErrorContains(t, err, "close is not available")
	_, err = runCLI(t, "case", "edit", "case-1", "--name", "Renamed")
	assert.ErrorContains(t, err, "edit is not available")
}

func TestPrefsDarkModeToggle(t *testing.T) {
	_, srv := newFakeHelium(t)
	useTestConfig(t, srv.URL)

	out, err := runCLI(t, "prefs", "dark-mode", "--toggle")
	require.NoError(t, err)
	assert.Contains(t, out, "Dark mode: on")

	out, err = runCLI(t, "prefs", "dark-mode", "--toggle=false")
	require.NoError(t, err)
	assert.Contains(t, out, "Dark mode: on")

	out, err = runCLI(t, "prefs", "dark-mode", "--toggle")
	require.NoError(t, err)
	assert.Contains(t, out, "Dark mode: off")
}

func TestPrefsBannerAck(t *testing.T) {
	_, srv := newFakeHelium(t)
	useTestConfig(t, srv.URL)

	out, err := runCLI(t, "prefs", "banner", "Maintenance tonight", "--ack=false")
	require.NoError(t, err)
	assert.Contains(t, out, "Banner pending")

	_, err = runCLI(t, "prefs", "banner", "Maintenance tonight", "--ack")
	require.NoError(t, err)

	out, err = runCLI(t, "prefs", "banner", "Maintenance tonight", "--ack=false")
	require.NoError(t, err)
	assert.Contains(t, out, "already acknowledged")
}

type fakeCases map[string]error

func (f fakeCases) GetCase(ctx context.Context, id string) (helium.CaseMetadata, error) {
	if err := f[id]; err != nil {
		return helium.CaseMetadata{}, err
	}
	return helium.CaseMetadata{GUID: id}, nil
}

func TestRefreshRecentDropsDeletedCases(t *testing.T) {
	viper.Set("database.path", filepath.Join(t.TempDir(), "helium.db"))
	t.Cleanup(viper.Reset)
	st, err := openStore(GetConfig())
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	for _, guid := range []string{"a", "gone", "offline"} {
		require.NoError(t, st.AddCaseGUID(ctx, guid))
	}
	cases := fakeCases{
		"gone":    &api.StatusError{Code: http.StatusNotFound},
		"offline": &api.StatusError{Code: http.StatusBadGateway},
	}
	require.NoError(t, refreshRecent(ctx, st, cases))

	guids, err := st.StoredCaseGUIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "offline"}, guids)
}

func TestWithMetadata(t *testing.T) {
	c := helium.Collection{GUID: "X", Description: "old", Tags: []string{"a"}}

	got := withMetadata(c, "", nil)
	assert.Equal(t, c, got)

	got = withMetadata(c, "new", []string{" windows ", "", "dc"})
	assert.Equal(t, "new", got.Description)
	assert.Equal(t, []string{"windows", "dc"}, got.Tags)
	assert.Equal(t, []string{"a"}, c.Tags)
}

func TestConfirm(t *testing.T) {
	var out bytes.Buffer
	assert.True(t, confirm(strings.NewReader("y\n"), &out, "Go?"))
	assert.True(t, confirm(strings.NewReader("YES\n"), &out, "Go?"))
	assert.False(t, confirm(strings.NewReader("\n"), &out, "Go?"))
	assert.False(t, confirm(strings.NewReader(""), &out, "Go?"))
	assert.Contains(t, out.String(), "Go? (y/N): ")
}

func TestProgressPrinterOncePerPercent(t *testing.T) {
	var out bytes.Buffer
	p := newProgressPrinter(&out, "/tmp/host01.zip")
	p.Progress(0, 1000)
	p.Progress(1, 1000)
	p.Progress(500, 1000)
	p.Progress(1000, 1000)
	p.Done()

	s := out.String()
	assert.Equal(t, 3, strings.Count(s, "\r"))
	assert.Contains(t, s, "[50%] host01.zip")
	assert.Contains(t, s, "[100%] Processing file")
}

func TestErrorFilterWriter(t *testing.T) {
	var buf bytes.Buffer
	w := &errorFilterWriter{writer: &buf}

	_, _ = w.Write([]byte("Starting TUI application\n"))
	_, _ = w.Write([]byte("failed to retrieve collectors: 401\n"))
	_, _ = w.Write([]byte("event stream error: context canceled\n"))

	assert.Equal(t, "failed to retrieve collectors: 401\n", buf.String())
}

func TestResolvePathRelativeToBase(t *testing.T) {
	base := filepath.FromSlash("/srv/helium")
	assert.Equal(t, filepath.Join(base, "logs"), resolvePathRelativeToBase(base, "logs"))
	assert.Equal(t, base, resolvePathRelativeToBase(base, ""))
	abs := filepath.Join(t.TempDir(), "x.db")
	assert.Equal(t, abs, resolvePathRelativeToBase(base, abs))
}
