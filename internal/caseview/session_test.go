package caseview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Ashfaaq98/helium-console/internal/helium"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubscription struct {
	ch   chan []byte
	once sync.Once
	err  error
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{ch: make(chan []byte, 16)}
}

func (f *fakeSubscription) Messages() <-chan []byte { return f.ch }
func (f *fakeSubscription) Err() error             { return f.err }
func (f *fakeSubscription) Close() error {
	f.once.Do(func() { close(f.ch) })
	return nil
}

type fakeBackend struct {
	mu sync.Mutex

	caseMeta    helium.CaseMetadata
	caseErr     error
	collectors  []helium.Collector
	collErr     error
	collections []helium.Collection
	analyses    map[string][]helium.CollectionAnalysis
	analyzers   []helium.AnalyzerInfo
	disk        helium.DiskUsage
	sub         *fakeSubscription

	// block holds GetCollectionAnalyses until closed.
	block chan struct{}

	calls   []string
	uploads []string
}

func (f *fakeBackend) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeBackend) called(call string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == call {
			return true
		}
	}
	return false
}

func (f *fakeBackend) GetCase(ctx context.Context, id string) (helium.CaseMetadata, error) {
	f.record("GetCase")
	return f.caseMeta, f.caseErr
}

func (f *fakeBackend) PutCase(ctx context.Context, caseGUID string, patch helium.CasePatch) (helium.CaseMetadata, error) {
	f.record("PutCase")
	meta := f.caseMeta
	if patch.Name != nil {
		meta.Name = *patch.Name
	}
	if patch.Closed != nil {
		meta.Closed = *patch.Closed
	}
	return meta, nil
}

func (f *fakeBackend) DeleteCase(ctx context.Context, caseGUID string) error {
	f.record("DeleteCase")
	return nil
}

func (f *fakeBackend) GetCaseCollectors(ctx context.Context, caseGUID string) ([]helium.Collector, error) {
	f.record("GetCaseCollectors")
	return f.collectors, f.collErr
}

func (f *fakeBackend) PostCaseCollector(ctx context.Context, caseGUID string, c helium.Collector) (helium.Collector, error) {
	f.record("PostCaseCollector")
	c.GUID = "new-collector"
	return c, nil
}

func (f *fakeBackend) ImportCaseCollector(ctx context.Context, caseGUID string, c helium.Collector) (helium.Collector, error) {
	f.record("ImportCaseCollector")
	return c, nil
}

func (f *fakeBackend) DeleteCollector(ctx context.Context, caseGUID, collectorGUID string) error {
	f.record("DeleteCollector")
	return nil
}

func (f *fakeBackend) DownloadCollector(ctx context.Context, caseGUID, collectorGUID string, w io.Writer) (string, error) {
	f.record("DownloadCollector")
	_, err := io.WriteString(w, "collector")
	return collectorGUID + ".zip", err
}

func (f *fakeBackend) GetCaseCollections(ctx context.Context, caseGUID string) ([]helium.Collection, error) {
	f.record("GetCaseCollections")
	return f.collections, nil
}

func (f *fakeBackend) PostCaseCollection(ctx context.Context, caseGUID, filename string, r io.Reader, size int64, progress helium.ProgressFunc) (helium.Collection, error) {
	f.record("PostCaseCollection")
	data, err := io.ReadAll(r)
	if err != nil {
		return helium.Collection{}, err
	}
	if progress != nil {
		progress(int64(len(data)), size)
	}
	f.mu.Lock()
	f.uploads = append(f.uploads, filename)
	f.mu.Unlock()
	return helium.Collection{GUID: "uploaded", Hostname: filename}, nil
}

func (f *fakeBackend) PutCaseCollection(ctx context.Context, caseGUID string, c helium.Collection) (helium.Collection, error) {
	f.record("PutCaseCollection")
	return c, nil
}

func (f *fakeBackend) DeleteCollection(ctx context.Context, caseGUID, collectionGUID string) error {
	f.record("DeleteCollection")
	return nil
}

func (f *fakeBackend) DownloadCollection(ctx context.Context, caseGUID, collectionGUID string, w io.Writer) (string, error) {
	f.record("DownloadCollection")
	return collectionGUID + ".zip", nil
}

func (f *fakeBackend) RemoveCache(ctx context.Context, caseGUID, collectionGUID string) error {
	f.record("RemoveCache")
	return nil
}

func (f *fakeBackend) GetCollectionAnalyses(ctx context.Context, caseGUID, collectionGUID string) ([]helium.CollectionAnalysis, error) {
	f.record("GetCollectionAnalyses")
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.analyses[collectionGUID], nil
}

func (f *fakeBackend) PostCollectionAnalysis(ctx context.Context, caseGUID, collectionGUID string, a helium.CollectionAnalysis) (helium.CollectionAnalysis, error) {
	f.record("PostCollectionAnalysis")
	a.GUID = "a-new"
	a.Status = helium.StatusPending
	return a, nil
}

func (f *fakeBackend) PutCollectionAnalysis(ctx context.Context, caseGUID, collectionGUID, analyzer string) (helium.CollectionAnalysis, error) {
	f.record("PutCollectionAnalysis")
	return helium.CollectionAnalysis{GUID: "a-re", Analyzer: analyzer, Status: helium.StatusPending}, nil
}

func (f *fakeBackend) DeleteCollectionAnalysis(ctx context.Context, caseGUID, collectionGUID, analyzer string) error {
	f.record("DeleteCollectionAnalysis")
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.analyses[collectionGUID][:0]
	for _, a := range f.analyses[collectionGUID] {
		if a.Analyzer != analyzer {
			kept = append(kept, a)
		}
	}
	f.analyses[collectionGUID] = kept
	return nil
}

func (f *fakeBackend) DownloadCollectionAnalysis(ctx context.Context, caseGUID, collectionGUID, analyzer string, w io.Writer) (string, error) {
	f.record("DownloadCollectionAnalysis")
	_, err := io.WriteString(w, "results")
	return analyzer + ".zip", err
}

func (f *fakeBackend) GetCollectionAnalysisLog(ctx context.Context, caseGUID, collectionGUID, analyzer string) (string, error) {
	f.record("GetCollectionAnalysisLog")
	return "log line", nil
}

func (f *fakeBackend) GetDiskUsage(ctx context.Context) (helium.DiskUsage, error) {
	f.record("GetDiskUsage")
	return f.disk, nil
}

func (f *fakeBackend) GetAnalyzerInfos(ctx context.Context) ([]helium.AnalyzerInfo, error) {
	f.record("GetAnalyzerInfos")
	return f.analyzers, nil
}

func (f *fakeBackend) SubscribeCaseEvents(ctx context.Context, caseGUID string) (helium.Subscription, error) {
	f.record("SubscribeCaseEvents")
	if f.sub == nil {
		return nil, errors.New("stream refused")
	}
	return f.sub, nil
}

type recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *recorder) Notify(u Update) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
}

func (r *recorder) toasts() []Toast {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Toast
	for _, u := range r.updates {
		for _, e := range u.Effects {
			if e.Kind == EffectToast {
				out = append(out, e.Toast)
			}
		}
	}
	return out
}

func (r *recorder) sawEffect(kind EffectKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.updates {
		if HasEffect(u.Effects, kind) {
			return true
		}
	}
	return false
}

type visits struct {
	mu    sync.Mutex
	guids []string
}

func (v *visits) AddCaseGUID(ctx context.Context, guid string) error {
	v.mu.Lock()
	v.guids = append(v.guids, guid)
	v.mu.Unlock()
	return nil
}

func newBackend() *fakeBackend {
	return &fakeBackend{
		caseMeta:   helium.CaseMetadata{GUID: "case-1", Name: "Incident"},
		collectors: []helium.Collector{{GUID: "A", Fingerprint: "F1", Created: "2024-01-02T00:00:00Z"}},
		collections: []helium.Collection{
			{GUID: "X", Fingerprint: "F1", Created: "2024-01-03T00:00:00Z", Tags: []string{"windows"}},
			{GUID: "Y", Fingerprint: "F9", Created: "2024-01-01T00:00:00Z"},
		},
		analyses: map[string][]helium.CollectionAnalysis{
			"X": {{GUID: "a1", Analyzer: "hayabusa", Status: helium.StatusSuccess}},
		},
		analyzers: []helium.AnalyzerInfo{{Name: "hayabusa", Tags: []string{"windows"}}, {Name: "strings"}},
		disk:      helium.DiskUsage{Cases: []helium.CaseDiskUsage{{GUID: "case-1", Analyses: 1, Collections: 2, Collectors: 3}}},
		sub:       newFakeSubscription(),
	}
}

func openSession(t *testing.T, b *fakeBackend, opts Options) (*Session, *recorder) {
	t.Helper()
	rec := &recorder{}
	s, err := Open(context.Background(), b, "case-1", rec, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	select {
	case <-s.Seeded():
	case <-time.After(2 * time.Second):
		t.Fatal("seed did not complete")
	}
	return s, rec
}

func TestOpenSeedsProjection(t *testing.T) {
	b := newBackend()
	v := &visits{}
	s, rec := openSession(t, b, Options{Visits: v})

	st := s.State()
	assert.Equal(t, "Incident", st.Case.Name)
	assert.True(t, st.Loaded)
	assert.Len(t, st.Collectors, 1)
	assert.Equal(t, []string{"X", "Y"}, guids(st.Collections))
	assert.EqualValues(t, 6, st.DiskUsage["_total"])
	assert.Len(t, st.Analyzers, 2)
	assert.Equal(t, []string{"case-1"}, v.guids)
	assert.True(t, b.called("SubscribeCaseEvents"))
	assert.True(t, rec.sawEffect(EffectRender))
	assert.Equal(t, "case-1", s.CaseGUID())
}

func TestOpenFailsWhenCaseUnavailable(t *testing.T) {
	b := newBackend()
	b.caseErr = errors.New("boom")
	_, err := Open(context.Background(), b, "case-1", nil, Options{})
	assert.ErrorIs(t, err, ErrCaseUnavailable)
	assert.False(t, b.called("GetCaseCollectors"))
}

func TestCollectorsFailureNavigatesAway(t *testing.T) {
	b := newBackend()
	b.collErr = errors.New("401")
	_, rec := openSession(t, b, Options{})

	assert.Eventually(t, func() bool { return rec.sawEffect(EffectNavigateAway) }, time.Second, 10*time.Millisecond)
	toasts := rec.toasts()
	require.NotEmpty(t, toasts)
	assert.Equal(t, "Unauthorized", toasts[0].Summary)
	assert.Equal(t, "Error while retrieving collectors", toasts[0].Detail)
}

func TestSyncDeliversQueuedUpdates(t *testing.T) {
	b := newBackend()
	b.collErr = errors.New("401")
	s, rec := openSession(t, b, Options{NoStream: true})

	require.NoError(t, s.Sync(context.Background()))
	assert.True(t, rec.sawEffect(EffectNavigateAway))

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Sync(context.Background()), ErrSessionClosed)
}

func TestSubscribeFailureIsNotFatal(t *testing.T) {
	b := newBackend()
	b.sub = nil
	s, rec := openSession(t, b, Options{})
	assert.Len(t, s.State().Collections, 2)
	assert.Eventually(t, func() bool {
		for _, ts := range rec.toasts() {
			if ts.Summary == "Live updates unavailable" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestStreamEventsUpdateProjection(t *testing.T) {
	b := newBackend()
	s, _ := openSession(t, b, Options{})

	b.sub.ch <- []byte(`{"category":"subscribe","ext":{"username":"alice"}}`)
	b.sub.ch <- []byte(`not json`)
	b.sub.ch <- []byte(`{"category":"create_collector","ext":{"guid":"B","fingerprint":"F9","created":"2024-02-01T00:00:00Z"}}`)

	assert.Eventually(t, func() bool {
		st := s.State()
		return len(st.ActiveUsers) == 1 && len(st.Collectors) == 2
	}, time.Second, 10*time.Millisecond)
	assert.False(t, s.State().IsOrphaned(helium.Collection{Fingerprint: "F9"}))
}

func TestDeleteCaseEventClosesSession(t *testing.T) {
	b := newBackend()
	s, rec := openSession(t, b, Options{})

	b.sub.ch <- []byte(`{"category":"delete_case","ext":{}}`)

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session not closed after delete_case")
	}
	assert.True(t, rec.sawEffect(EffectNavigateAway))
	assert.ErrorIs(t, s.RefreshCollections(context.Background()), ErrSessionClosed)
}

func TestResultsAfterCloseAreDropped(t *testing.T) {
	b := newBackend()
	b.block = make(chan struct{})
	s, rec := openSession(t, b, Options{NoStream: true})

	errc := make(chan error, 1)
	go func() { errc <- s.OpenCollection(context.Background(), "X") }()
	assert.Eventually(t, func() bool { return b.called("GetCollectionAnalyses") }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Close())
	close(b.block)
	require.NoError(t, <-errc)
	<-s.Done()

	assert.False(t, s.State().AnalysesLoaded("X"))
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, u := range rec.updates {
		assert.False(t, u.State.AnalysesLoaded("X"))
	}
}

func TestAnalysisCommandsFollowMenu(t *testing.T) {
	b := newBackend()
	s, _ := openSession(t, b, Options{NoStream: true})
	ctx := context.Background()

	require.NoError(t, s.OpenCollection(ctx, "X"))
	assert.Equal(t, "X", s.State().SelectedTab)
	assert.Equal(t, helium.StatusSuccess, s.State().AnalysisStatus("X", "hayabusa"))

	err := s.StartAnalysis(ctx, "X", "hayabusa")
	assert.ErrorIs(t, err, ErrCommandNotAllowed)
	assert.False(t, b.called("PostCollectionAnalysis"))

	require.NoError(t, s.StartAnalysis(ctx, "X", "strings"))
	assert.Equal(t, helium.StatusPending, s.State().AnalysisStatus("X", "strings"))

	var buf bytes.Buffer
	require.NoError(t, s.Run(ctx, CommandDownload, "X", "hayabusa", &buf))
	assert.Equal(t, "results", buf.String())

	buf.Reset()
	require.NoError(t, s.Run(ctx, CommandLogs, "X", "strings", &buf))
	assert.Equal(t, "log line", buf.String())

	require.NoError(t, s.RestartAnalysis(ctx, "X", "hayabusa"))
	assert.Equal(t, helium.StatusPending, s.State().AnalysisStatus("X", "hayabusa"))

	assert.ErrorIs(t, s.DeleteAnalysis(ctx, "X", "hayabusa"), ErrCommandNotAllowed)
}

func TestStartDisabledForOrphanedCollection(t *testing.T) {
	b := newBackend()
	s, _ := openSession(t, b, Options{NoStream: true})
	ctx := context.Background()

	require.NoError(t, s.OpenCollection(ctx, "Y"))
	err := s.StartAnalysis(ctx, "Y", "strings")
	assert.ErrorIs(t, err, ErrCommandNotAllowed)

	var ae *ActionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "start analysis", ae.Action)
	toast := FailureToast(err)
	assert.Equal(t, SeverityError, toast.Severity)
	assert.Equal(t, "Action failed", toast.Summary)
}

func TestDeleteAnalysisReloads(t *testing.T) {
	b := newBackend()
	b.analyses["X"] = append(b.analyses["X"], helium.CollectionAnalysis{GUID: "a2", Analyzer: "strings", Status: helium.StatusFailure})
	s, _ := openSession(t, b, Options{NoStream: true})
	ctx := context.Background()

	require.NoError(t, s.OpenCollection(ctx, "X"))
	require.NoError(t, s.DeleteAnalysis(ctx, "X", "strings"))
	assert.Equal(t, helium.StatusAbsent, s.State().AnalysisStatus("X", "strings"))
	assert.Equal(t, helium.StatusSuccess, s.State().AnalysisStatus("X", "hayabusa"))
}

func TestCaseCommands(t *testing.T) {
	b := newBackend()
	s, _ := openSession(t, b, Options{NoStream: true})
	ctx := context.Background()

	require.NoError(t, s.CloseCase(ctx))
	assert.True(t, s.State().Case.IsClosed())
	require.NoError(t, s.ReopenCase(ctx))
	assert.False(t, s.State().Case.IsClosed())

	name := "Renamed"
	require.NoError(t, s.UpdateCase(ctx, helium.CasePatch{Name: &name}))
	assert.Equal(t, "Renamed", s.State().Case.Name)

	require.NoError(t, s.DeleteCase(ctx))
	assert.True(t, b.called("DeleteCase"))
	assert.False(t, s.State().Deleted)
}

func TestCollectorAndCollectionCommands(t *testing.T) {
	b := newBackend()
	s, rec := openSession(t, b, Options{NoStream: true})
	ctx := context.Background()

	created, err := s.CreateCollector(ctx, helium.Collector{Fingerprint: "F9", Created: "2024-03-01T00:00:00Z"})
	require.NoError(t, err)
	assert.Equal(t, "new-collector", created.GUID)
	assert.Len(t, s.State().Collectors, 2)

	var buf bytes.Buffer
	name, err := s.DownloadCollector(ctx, "A", &buf)
	require.NoError(t, err)
	assert.Equal(t, "A.zip", name)

	path := filepath.Join(t.TempDir(), "triage.zip")
	require.NoError(t, os.WriteFile(path, []byte("PK"), 0o600))
	var loaded, total int64
	c, err := s.UploadCollection(ctx, path, func(l, n int64) { loaded, total = l, n })
	require.NoError(t, err)
	assert.Equal(t, "uploaded", c.GUID)
	assert.EqualValues(t, 2, loaded)
	assert.EqualValues(t, 2, total)
	_, ok := s.State().Collection("uploaded")
	assert.True(t, ok)

	_, err = s.UploadCollection(ctx, filepath.Join(t.TempDir(), "missing.zip"), nil)
	assert.Error(t, err)

	require.NoError(t, s.EditCollection(ctx, helium.Collection{GUID: "X", Hostname: "renamed"}))
	got, _ := s.State().Collection("X")
	assert.Equal(t, "renamed", got.Hostname)

	require.NoError(t, s.RemoveCache(ctx, "X"))
	assert.Eventually(t, func() bool {
		for _, ts := range rec.toasts() {
			if ts.Detail == "Cache removed" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, s.DeleteCollection(ctx, "X"))
	_, ok = s.State().Collection("X")
	assert.True(t, ok, "collection list follows the delete_collection event")
}

type countingMetrics struct {
	mu       sync.Mutex
	events   map[string]int
	failures map[string]int
}

func (m *countingMetrics) RecordEvent(category string, applied bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.events == nil {
		m.events = map[string]int{}
	}
	m.events[category]++
}

func (m *countingMetrics) RecordStreamError() {}

func (m *countingMetrics) RecordActionFailure(action string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures == nil {
		m.failures = map[string]int{}
	}
	m.failures[action]++
}

func TestMetricsObserveEventsAndFailures(t *testing.T) {
	b := newBackend()
	m := &countingMetrics{}
	s, _ := openSession(t, b, Options{Metrics: m})

	b.sub.ch <- []byte(`{"category":"subscribe","ext":{"username":"bob"}}`)
	assert.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.events["subscribe"] == 1
	}, time.Second, 10*time.Millisecond)

	_ = s.StartAnalysis(context.Background(), "Y", "strings")
	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, 1, m.failures["start analysis"])
}

// stalledNotifier blocks every delivery until release is closed.
type stalledNotifier struct {
	release chan struct{}
}

func (n stalledNotifier) Notify(Update) { <-n.release }

func TestSlowNotifierDoesNotBlockSession(t *testing.T) {
	b := newBackend()
	m := &countingMetrics{}
	n := stalledNotifier{release: make(chan struct{})}
	s, err := Open(context.Background(), b, "case-1", n, Options{Metrics: m})
	require.NoError(t, err)
	defer func() {
		close(n.release)
		_ = s.Close()
		<-s.Done()
	}()

	go func() {
		for i := 0; i < 400; i++ {
			b.sub.ch <- []byte(fmt.Sprintf(`{"category":"subscribe","ext":{"username":"user-%d"}}`, i))
		}
	}()
	assert.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.events["subscribe"] == 400
	}, 2*time.Second, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.SelectTab("X")
		_ = s.State()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("session blocked behind the notifier")
	}
	assert.Len(t, s.State().ActiveUsers, 400)
}

func TestOpenCollectionFetchesAnalysesAfterIgnoredEvent(t *testing.T) {
	b := newBackend()
	m := &countingMetrics{}
	s, _ := openSession(t, b, Options{Metrics: m})

	b.sub.ch <- []byte(`{"category":"create_analysis","ext":{"collection":{"guid":"X"},"analysis":{"guid":"a9","analyzer":"strings","status":"pending"}}}`)
	assert.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.events["create_analysis"] == 1
	}, time.Second, 10*time.Millisecond)
	assert.False(t, s.State().AnalysesLoaded("X"))

	require.NoError(t, s.OpenCollection(context.Background(), "X"))
	st := s.State()
	assert.Equal(t, helium.StatusSuccess, st.AnalysisStatus("X", "hayabusa"))
	assert.Equal(t, helium.StatusAbsent, st.AnalysisStatus("X", "strings"))
	assert.Len(t, st.Analyses["X"], 1)
}
