package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/Ashfaaq98/helium-console/internal/bus"
	"github.com/Ashfaaq98/helium-console/internal/caseview"
	"github.com/Ashfaaq98/helium-console/internal/helium"
	"github.com/Ashfaaq98/helium-console/internal/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTempStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func collectionEvent(t *testing.T, guid string) (*helium.Event, []byte) {
	t.Helper()
	raw, err := json.Marshal(map[string]interface{}{
		"category": helium.CategoryCreateCollection,
		"ext":      map[string]string{"guid": guid},
	})
	require.NoError(t, err)
	ev, err := helium.ParseEvent(raw)
	require.NoError(t, err)
	return &ev, raw
}

func TestWatchNotifierRecordsAndRelays(t *testing.T) {
	ctx := context.Background()
	st := newTempStore(t)
	mr := miniredis.RunT(t)
	rb, err := bus.NewRedisBus("redis://"+mr.Addr(), log.New(io.Discard, "", 0))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rb.Close() })

	var out bytes.Buffer
	n := newWatchNotifier(ctx, &out, log.New(io.Discard, "", 0), st, rb)

	ev, raw := collectionEvent(t, "col-9")
	received := time.Date(2026, 3, 1, 10, 20, 30, 0, time.UTC)
	n.Notify(caseview.Update{
		State:    caseview.State{Case: helium.CaseMetadata{GUID: "case-1", Name: "Incident"}},
		Event:    ev,
		Raw:      raw,
		Received: received,
	})

	assert.Contains(t, out.String(), "10:20:30 create_collection")
	assert.Contains(t, out.String(), "col-9")

	entries, err := st.ListActivity(ctx, "case-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "stream", entries[0].Actor)
	assert.Equal(t, "create_collection col-9", entries[0].Summary)
	assert.Equal(t, "col-9", entries[0].Details["subject"])

	stats, err := rb.GetStats(ctx, "case-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats["length"])
}

func TestWatchNotifierLeavesOnNavigateAway(t *testing.T) {
	var out bytes.Buffer
	n := newWatchNotifier(context.Background(), &out, log.New(io.Discard, "", 0), nil, nil)

	toast := caseview.Toast{Severity: "error", Summary: "Case deleted", Detail: "The case was deleted"}
	n.Notify(caseview.Update{Effects: []caseview.Effect{
		{Kind: caseview.EffectToast, Toast: toast},
		{Kind: caseview.EffectNavigateAway},
	}})
	// a second navigation must not close the channel twice
	n.Notify(caseview.Update{Effects: []caseview.Effect{{Kind: caseview.EffectNavigateAway}}})

	select {
	case <-n.Left():
	default:
		t.Fatal("Left channel not closed")
	}
	assert.Equal(t, toast, n.Reason())
	assert.Contains(t, out.String(), "[error] Case deleted: The case was deleted")
}

func TestDescribeEvent(t *testing.T) {
	st := caseview.State{
		Case:        helium.CaseMetadata{GUID: "case-1", Name: "Incident"},
		ActiveUsers: []string{"alice", "bob"},
	}
	colEvent, _ := collectionEvent(t, "col-1")

	tests := []struct {
		name string
		ev   helium.Event
		want string
	}{
		{"update case", helium.Event{Category: helium.CategoryUpdateCase, Case: &st.Case}, `case "Incident" updated`},
		{"delete case", helium.Event{Category: helium.CategoryDeleteCase, Case: &st.Case}, `case "Incident" deleted`},
		{"subscribers", helium.Event{Category: helium.CategorySubscribers}, "2 active users"},
		{"subject", *colEvent, "create_collection col-1"},
		{"bare", helium.Event{Category: "ping"}, "ping"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := tt.ev
			assert.Equal(t, tt.want, describeEvent(caseview.Update{State: st, Event: &ev}))
		})
	}
}

func TestArchiveHandler(t *testing.T) {
	ctx := context.Background()
	st := newTempStore(t)
	handle := archiveHandler(st)

	_, raw := collectionEvent(t, "col-2")
	require.NoError(t, handle(ctx, bus.CaseEventMessage{
		ID:        "1-0",
		CaseGUID:  "case-1",
		Category:  helium.CategoryCreateCollection,
		RawJSON:   string(raw),
		Timestamp: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli(),
	}))
	require.NoError(t, handle(ctx, bus.CaseEventMessage{
		ID:        "2-0",
		CaseGUID:  "case-1",
		Category:  "broken",
		RawJSON:   "{",
		Timestamp: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC).UnixMilli(),
	}))

	entries, err := st.ListActivity(ctx, "case-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// newest first
	assert.Equal(t, "broken", entries[0].Category)
	assert.Equal(t, "relay", entries[0].Actor)
	assert.Equal(t, "2-0", entries[0].Details["stream_id"])
	assert.Contains(t, entries[0].Details, "decode_error")

	assert.Equal(t, helium.CategoryCreateCollection, entries[1].Category)
	assert.Equal(t, "create_collection col-2", entries[1].Summary)
	assert.Equal(t, "col-2", entries[1].Details["subject"])
}

func TestResetRedisDataRemovesRelayKeysOnly(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	for _, guid := range []string{"case-1", "case-2"} {
		require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{
			Stream: bus.StreamKey(guid),
			Values: map[string]interface{}{"category": "subscribe"},
		}).Err())
	}
	require.NoError(t, client.Set(ctx, "unrelated", "keep", 0).Err())

	n, err := resetRedisData(ctx, "redis://"+mr.Addr())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.False(t, mr.Exists(bus.StreamKey("case-1")))
	assert.False(t, mr.Exists(bus.StreamKey("case-2")))
	assert.True(t, mr.Exists("unrelated"))

	_, err = resetRedisData(ctx, "not-a-url")
	assert.Error(t, err)
}

func TestResetDatabaseClearsTables(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "reset.db")
	cfg := Config{Database: DatabaseConfig{Path: dbPath}}

	st, err := openStore(cfg)
	require.NoError(t, err)
	require.NoError(t, st.AddCaseGUID(ctx, "case-1"))
	require.NoError(t, st.Close())

	require.NoError(t, resetDatabase(ctx, cfg, false))

	st, err = openStore(cfg)
	require.NoError(t, err)
	defer st.Close()
	guids, err := st.StoredCaseGUIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, guids)
}

func TestWatchStopsWhenCaseDeleted(t *testing.T) {
	f, srv := newFakeHelium(t)
	f.events = []string{
		`{"category":"subscribe","ext":{"username":"alice"}}`,
		`{"category":"delete_case","ext":{}}`,
	}
	useTestConfig(t, srv.URL)

	out, err := runCLI(t, "watch", "case-1", "--source", "api", "--publish=false")
	require.NoError(t, err)
	assert.Contains(t, out, "Case deleted, stopping.")
	assert.Contains(t, out, "delete_case")

	out, err = runCLI(t, "list", "activity", "case-1")
	require.NoError(t, err)
	assert.Contains(t, out, "delete_case")
}
