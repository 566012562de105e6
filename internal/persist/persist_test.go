package persist

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Raathmd/ammonia-desk/internal/config"
	"github.com/Raathmd/ammonia-desk/pkg/audit"
	"github.com/Raathmd/ammonia-desk/pkg/contracts"
	"github.com/Raathmd/ammonia-desk/pkg/review"
	"github.com/Raathmd/ammonia-desk/pkg/solve"
	"github.com/Raathmd/ammonia-desk/pkg/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestAdapter(t *testing.T, cfg config.PersistConfig) *Adapter {
	t.Helper()
	if cfg.LogDir == "" {
		cfg.LogDir = t.TempDir()
	}
	a, err := New(cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func sampleEvent(contractID string) store.Event {
	return store.Event{
		Kind: store.EventVersionStored, ContractID: contractID, Version: 1,
		ProductGroup: "ammonia", Status: contracts.StatusDraft, At: time.Unix(1700000000, 0).UTC(),
	}
}

func sampleAuditEntry(id string) audit.Entry {
	return audit.Entry{
		ID: id, Kind: audit.EntryReview, RecordedAt: time.Unix(1700000000, 0).UTC(),
		ProductGroup: "ammonia",
		Review: &review.Decision{
			ContractID: "c1", Version: 1,
			From: contracts.StatusDraft, To: contracts.StatusApproved,
			ActedBy: "trader1", Role: review.RoleTrader,
		},
	}
}

// waitForFlush gives the adapter's single writer goroutine a chance to
// drain the queue before a test inspects the on-disk file directly.
func waitForFlush() { time.Sleep(50 * time.Millisecond) }

func TestAdapter_EnqueueContractEvent_WritesRecoverableFrame(t *testing.T) {
	a := newTestAdapter(t, config.PersistConfig{})

	require.NoError(t, a.EnqueueContractEvent(sampleEvent("c1")))
	waitForFlush()

	var got []store.Event
	require.NoError(t, a.Restore(func(ev store.Event) error {
		got = append(got, ev)
		return nil
	}, nil))

	require.Len(t, got, 1)
	assert.Equal(t, "c1", got[0].ContractID)
	assert.Equal(t, store.EventVersionStored, got[0].Kind)
}

func TestAdapter_EnqueueAuditEntry_WritesRecoverableFrame(t *testing.T) {
	a := newTestAdapter(t, config.PersistConfig{})

	require.NoError(t, a.EnqueueAuditEntry(sampleAuditEntry("e1")))
	waitForFlush()

	var got []audit.Entry
	require.NoError(t, a.Restore(nil, func(e audit.Entry) error {
		got = append(got, e)
		return nil
	}))

	require.Len(t, got, 1)
	assert.Equal(t, "e1", got[0].ID)
	require.NotNil(t, got[0].Review)
	assert.Equal(t, "trader1", got[0].Review.ActedBy)
}

func TestAdapter_VerifyAll_DetectsTamperedFrame(t *testing.T) {
	dir := t.TempDir()
	a := newTestAdapter(t, config.PersistConfig{LogDir: dir})

	require.NoError(t, a.EnqueueContractEvent(sampleEvent("c1")))
	require.NoError(t, a.EnqueueContractEvent(sampleEvent("c2")))
	waitForFlush()

	require.NoError(t, a.VerifyAll(), "untampered log must verify cleanly")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var logFile string
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".log" {
			logFile = filepath.Join(dir, e.Name())
		}
	}
	require.NotEmpty(t, logFile)

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	require.NotEmpty(t, data)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(logFile, data, 0o644))

	err = a.VerifyAll()
	assert.Error(t, err, "a single flipped byte must break the hash chain")
}

func TestAdapter_MultipleRecordsPreserveOrder(t *testing.T) {
	a := newTestAdapter(t, config.PersistConfig{})

	for _, id := range []string{"c1", "c2", "c3"} {
		require.NoError(t, a.EnqueueContractEvent(sampleEvent(id)))
	}
	waitForFlush()

	var order []string
	require.NoError(t, a.Restore(func(ev store.Event) error {
		order = append(order, ev.ContractID)
		return nil
	}, nil))

	assert.Equal(t, []string{"c1", "c2", "c3"}, order)
}

func TestAdapter_Rotate_ResetsChainAndSealsPreviousFile(t *testing.T) {
	dir := t.TempDir()
	a := newTestAdapter(t, config.PersistConfig{LogDir: dir, CompressSealed: true})

	// Drive rotation directly with two distinct explicit dates rather than
	// racing real wall-clock days, which a fast-running test cannot observe.
	a.mu.Lock()
	require.NoError(t, a.rotate("2020-01-01"))
	require.NoError(t, a.appendFrame(Record{Kind: RecordContractEvent, Payload: marshalEvent(t, sampleEvent("c1")), EnqueuedAt: time.Now()}))
	require.NoError(t, a.rotate("2020-01-02"))
	require.NoError(t, a.appendFrame(Record{Kind: RecordContractEvent, Payload: marshalEvent(t, sampleEvent("c2")), EnqueuedAt: time.Now()}))
	a.mu.Unlock()

	m := readManifest(t, dir)
	assert.NotEmpty(t, m.LastSealedFile)
	assert.True(t, filepath.Ext(m.LastSealedFile) == ".br", "sealed file must be brotli-compressed when CompressSealed is set")
	assert.Contains(t, m.LastSealedFile, "2020-01-01")

	var got []store.Event
	require.NoError(t, a.Restore(func(ev store.Event) error {
		got = append(got, ev)
		return nil
	}, nil))
	require.Len(t, got, 2)
	assert.Equal(t, "c1", got[0].ContractID)
	assert.Equal(t, "c2", got[1].ContractID)
}

func TestAdapter_WatchAuditLog_MirrorsSinkEntries(t *testing.T) {
	a := newTestAdapter(t, config.PersistConfig{})
	log := audit.New(testLogger())
	a.WatchAuditLog(log)

	require.NoError(t, log.RecordSolve(solve.Record{RunID: "run-1", ProductGroup: "ammonia", Status: "ok"}))
	waitForFlush()

	var got []audit.Entry
	require.NoError(t, a.Restore(nil, func(e audit.Entry) error {
		got = append(got, e)
		return nil
	}))
	require.Len(t, got, 1)
	require.NotNil(t, got[0].Solve)
	assert.Equal(t, "run-1", got[0].Solve.RunID)
}

func TestAdapter_EnqueueAfterClose_ReturnsError(t *testing.T) {
	a := newTestAdapter(t, config.PersistConfig{})
	a.Close()

	err := a.EnqueueContractEvent(sampleEvent("c1"))
	assert.Error(t, err)
}

func marshalEvent(t *testing.T, ev store.Event) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	return data
}

func readManifest(t *testing.T, dir string) manifest {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	require.NoError(t, err)
	var m manifest
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}
