package ingest

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/Raathmd/ammonia-desk/internal/config"
	"github.com/Raathmd/ammonia-desk/internal/extract"
	"github.com/Raathmd/ammonia-desk/internal/scanner"
	"github.com/Raathmd/ammonia-desk/pkg/clauses"
	"github.com/Raathmd/ammonia-desk/pkg/contracts"
	"github.com/Raathmd/ammonia-desk/pkg/parser"
	"github.com/Raathmd/ammonia-desk/pkg/store"
	"github.com/Raathmd/ammonia-desk/pkg/validator"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleContractText = "Section 1. Quantity\nMinimum of 25000 metric tons FOB Donaldsonville.\n"

var sampleHash = sha256Hex(sampleContractText)

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// TestMain doubles this binary as a fake scanner subprocess speaking the
// same line-oriented JSON protocol internal/scanner uses, the same
// self-exec technique internal/scanner's own tests use. The wire structs
// below are independent of internal/scanner's unexported types: only the
// JSON field names need to match, exactly as a real out-of-process scanner
// binary would have to agree on.
func TestMain(m *testing.M) {
	if os.Getenv("GO_WANT_FAKE_INGEST_SCANNER") == "1" {
		runFakeScanner()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

type fakeKnownItem struct {
	ID      string `json:"id"`
	ItemID  string `json:"item_id"`
	DriveID string `json:"drive_id"`
	Hash    string `json:"hash"`
}

type fakeCommand struct {
	Cmd    string          `json:"cmd"`
	ItemID string          `json:"item_id"`
	Known  []fakeKnownItem `json:"known,omitempty"`
}

type fakeRemoteItem struct {
	ItemID string `json:"item_id"`
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

type fakeDiffResult struct {
	Changed   []string `json:"changed"`
	Unchanged []string `json:"unchanged"`
	Missing   []string `json:"missing"`
}

type fakeFetchResult struct {
	SHA256        string `json:"sha256"`
	Size          int64  `json:"size"`
	ContentBase64 string `json:"content_base64"`
}

type fakeResponse struct {
	Status string           `json:"status"`
	Error  string           `json:"error,omitempty"`
	Items  []fakeRemoteItem `json:"items,omitempty"`
	Diff   *fakeDiffResult  `json:"diff,omitempty"`
	Fetch  *fakeFetchResult `json:"fetch,omitempty"`
}

// runFakeScanner reports a single remote item "item-1" on scan, always
// serves sampleContractText on fetch, and classifies diff_hashes requests
// by item id: item-1 is unchanged, item-2 is changed, anything else is
// reported missing.
func runFakeScanner() {
	lines := bufio.NewScanner(os.Stdin)
	for lines.Scan() {
		var req fakeCommand
		if err := json.Unmarshal(lines.Bytes(), &req); err != nil {
			continue
		}

		var resp fakeResponse
		switch req.Cmd {
		case "scan":
			resp = fakeResponse{Status: "ok", Items: []fakeRemoteItem{
				{ItemID: "item-1", Name: "contract.txt", Size: int64(len(sampleContractText)), SHA256: sampleHash},
			}}
		case "fetch":
			resp = fakeResponse{Status: "ok", Fetch: &fakeFetchResult{
				SHA256: sampleHash, Size: int64(len(sampleContractText)),
				ContentBase64: base64.StdEncoding.EncodeToString([]byte(sampleContractText)),
			}}
		case "diff_hashes":
			diff := &fakeDiffResult{}
			for _, k := range req.Known {
				switch k.ItemID {
				case "item-1":
					diff.Unchanged = append(diff.Unchanged, k.ID)
				case "item-2":
					diff.Changed = append(diff.Changed, k.ID)
				default:
					diff.Missing = append(diff.Missing, k.ID)
				}
			}
			resp = fakeResponse{Status: "ok", Diff: diff}
		default:
			resp = fakeResponse{Status: "error", Error: "unknown_command"}
		}

		out, _ := json.Marshal(resp)
		fmt.Fprintln(os.Stdout, string(out))
	}
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func fakeScannerConfig(t *testing.T) config.ScannerConfig {
	t.Helper()
	self, err := os.Executable()
	require.NoError(t, err)
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"test-token","token_type":"bearer","expires_in":3600}`)
	}))
	t.Cleanup(tokenSrv.Close)
	return config.ScannerConfig{
		BinaryPath:        self,
		TokenURL:          tokenSrv.URL,
		RestartBackoffMin: 10 * time.Millisecond,
		RestartBackoffMax: 50 * time.Millisecond,
	}
}

func newTestIngestor(t *testing.T) (*Ingestor, *store.Store) {
	t.Helper()
	os.Setenv("GO_WANT_FAKE_INGEST_SCANNER", "1")
	t.Cleanup(func() { os.Unsetenv("GO_WANT_FAKE_INGEST_SCANNER") })

	reg := clauses.NewDefault()
	st := store.New(testLogger(), nil)
	sc := scanner.New(fakeScannerConfig(t), testLogger())
	t.Cleanup(sc.Close)

	ex := extract.New(nil)
	p := parser.New(reg)
	v := validator.New(reg, testLogger())

	return New(sc, ex, p, v, nil, st, reg, testLogger(), 2), st
}

func TestIngestor_FullScan_IngestsNewFile(t *testing.T) {
	ig, st := newTestIngestor(t)

	summary, err := ig.FullScan(context.Background(), "drive-1", "/contracts", "ammonia")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.New)
	assert.Empty(t, summary.Errors)

	got := st.LatestInProductGroup("ammonia")
	require.Len(t, got, 1)
	assert.Equal(t, contracts.StatusDraft, got[0].Status)
	assert.Equal(t, sampleHash, got[0].FileHash)
	assert.NotEmpty(t, got[0].Clauses, "parser should have matched at least the volume and incoterm clauses")
}

func TestIngestor_FullScan_UnchangedFileSkipped(t *testing.T) {
	ig, st := newTestIngestor(t)

	existing := contracts.Contract{
		ID: "existing-1", Version: 1, ProductGroup: "ammonia", Counterparty: "contract",
		RemoteDriveID: "drive-1", RemoteItemID: "item-1", FileHash: sampleHash,
	}
	require.NoError(t, st.Put(existing))

	summary, err := ig.FullScan(context.Background(), "drive-1", "/contracts", "ammonia")
	require.NoError(t, err)
	assert.Equal(t, 0, summary.New)
	assert.Equal(t, 1, summary.Unchanged)

	got, ok := st.Get("existing-1", 1)
	require.True(t, ok)
	assert.Equal(t, contracts.VerificationVerified, got.VerificationStatus)
}

func TestIngestor_DeltaScan_ClassifiesByItemID(t *testing.T) {
	ig, st := newTestIngestor(t)

	same := contracts.Contract{
		ID: "c-same", Version: 1, ProductGroup: "ammonia", Counterparty: "same",
		RemoteDriveID: "drive-1", RemoteItemID: "item-1", SourceFileName: "same.txt", FileHash: sampleHash,
	}
	changed := contracts.Contract{
		ID: "c-changed", Version: 1, ProductGroup: "ammonia", Counterparty: "changed",
		RemoteDriveID: "drive-1", RemoteItemID: "item-2", SourceFileName: "changed.txt", FileHash: "old-hash",
	}
	missing := contracts.Contract{
		ID: "c-missing", Version: 1, ProductGroup: "ammonia", Counterparty: "missing",
		RemoteDriveID: "drive-1", RemoteItemID: "item-3", SourceFileName: "missing.txt", FileHash: "missing-hash",
	}
	require.NoError(t, st.Put(same))
	require.NoError(t, st.Put(changed))
	require.NoError(t, st.Put(missing))

	summary, err := ig.DeltaScan(context.Background(), "ammonia")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Unchanged)
	assert.Equal(t, 1, summary.Missing)
	assert.Equal(t, 1, summary.Changed)
	assert.Empty(t, summary.Errors)

	missingGot, ok := st.Get("c-missing", 1)
	require.True(t, ok)
	assert.Equal(t, contracts.VerificationFileNotFound, missingGot.VerificationStatus)

	assert.Equal(t, 3, st.NextVersion("c-changed"), "a changed file must be ingested as the next version")
	v2, ok := st.Get("c-changed", 2)
	require.True(t, ok)
	assert.Equal(t, "old-hash", v2.PreviousHash)
	assert.Equal(t, sampleHash, v2.FileHash)

	sameGot, ok := st.Get("c-same", 1)
	require.True(t, ok)
	assert.Equal(t, contracts.VerificationVerified, sameGot.VerificationStatus)
}
