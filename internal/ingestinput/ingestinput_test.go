package ingestinput

import (
	"io"
	"testing"

	"github.com/Raathmd/ammonia-desk/internal/apperr"
	"github.com/Raathmd/ammonia-desk/internal/extract"
	"github.com/Raathmd/ammonia-desk/pkg/clauses"
	"github.com/Raathmd/ammonia-desk/pkg/contracts"
	"github.com/Raathmd/ammonia-desk/pkg/parser"
	"github.com/Raathmd/ammonia-desk/pkg/store"
	"github.com/Raathmd/ammonia-desk/pkg/validator"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleText = "Section 1. Quantity\nMinimum of 25000 metric tons FOB Donaldsonville.\n"

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestAdapter(t *testing.T) (*Adapter, *store.Store) {
	t.Helper()
	reg := clauses.NewDefault()
	st := store.New(testLogger(), nil)
	ex := extract.New(nil)
	p := parser.New(reg)
	v := validator.New(reg, testLogger())
	return New(ex, p, v, st, reg, testLogger()), st
}

func TestAdapter_Ingest_NewCounterparty_CreatesVersion1(t *testing.T) {
	a, st := newTestAdapter(t)

	c, err := a.Ingest(Input{
		Counterparty: "Acme LLC", CounterpartyType: contracts.CounterpartySupplier,
		ProductGroup: "ammonia", SourceFileName: "acme.txt", SourceFileBytes: []byte(sampleText),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, c.Version)
	assert.Equal(t, contracts.StatusDraft, c.Status)
	assert.NotEmpty(t, c.FileHash)
	assert.NotEmpty(t, c.Clauses)

	got, ok := st.Get(c.ID, 1)
	require.True(t, ok)
	assert.Equal(t, "Acme LLC", got.Counterparty)
}

func TestAdapter_Ingest_SameCanonicalKeyTwice_ChainsPreviousHash(t *testing.T) {
	a, st := newTestAdapter(t)

	first, err := a.Ingest(Input{
		Counterparty: "Acme LLC", ProductGroup: "ammonia",
		SourceFileName: "acme_v1.txt", SourceFileBytes: []byte(sampleText),
	})
	require.NoError(t, err)

	second, err := a.Ingest(Input{
		Counterparty: "Acme LLC", ProductGroup: "ammonia",
		SourceFileName: "acme_v2.txt", SourceFileBytes: []byte(sampleText + "Addendum.\n"),
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "same canonical key must version under the same contract id")
	assert.Equal(t, 2, second.Version)
	assert.Equal(t, first.FileHash, second.PreviousHash)
	assert.Equal(t, 3, st.NextVersion(first.ID))
}

func TestAdapter_Ingest_MissingCounterparty_ReturnsError(t *testing.T) {
	a, _ := newTestAdapter(t)

	_, err := a.Ingest(Input{ProductGroup: "ammonia", SourceFileName: "x.txt", SourceFileBytes: []byte(sampleText)})
	assert.Error(t, err)
}

func TestAdapter_Ingest_UnsupportedExtension_ReturnsUnsupportedFormat(t *testing.T) {
	a, _ := newTestAdapter(t)

	_, err := a.Ingest(Input{
		Counterparty: "Acme LLC", ProductGroup: "ammonia",
		SourceFileName: "acme.xlsx", SourceFileBytes: []byte(sampleText),
	})
	assert.Error(t, err)
	var unsupported *apperr.UnsupportedFormat
	assert.ErrorAs(t, err, &unsupported)
}
