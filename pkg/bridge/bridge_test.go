package bridge

import (
	"io"
	"testing"

	"github.com/Raathmd/ammonia-desk/pkg/contracts"
	"github.com/Raathmd/ammonia-desk/pkg/productgroup"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fakeSource struct {
	contracts []contracts.Contract
}

func (f fakeSource) ApprovedInProductGroup(pg string) []contracts.Contract {
	var out []contracts.Contract
	for _, c := range f.contracts {
		if c.ProductGroup == pg {
			out = append(out, c)
		}
	}
	return out
}

func openPos(v float64) *float64 { return &v }

func TestBridge_Project_TightensBoundsFromApprovedClauses(t *testing.T) {
	frames := productgroup.NewDefault()
	source := fakeSource{contracts: []contracts.Contract{
		{
			ID: "c1", ProductGroup: "ammonia", Counterparty: "Acme", OpenPosition: openPos(1000),
			Clauses: []contracts.Clause{
				{ClauseID: "volume_quantity", Parameter: "volume_mt", Operator: contracts.OpGTE, Value: 10000},
				{ClauseID: "contract_price", Parameter: "price_usd_per_mt", Operator: contracts.OpLTE, Value: 400},
			},
		},
	}}
	b := New(frames, source, nil, testLogger())

	res, err := b.Project("ammonia", true)
	require.NoError(t, err)

	vol := findBound(res.Bounds, "volume_mt")
	require.NotNil(t, vol)
	assert.Equal(t, 10000.0, vol.Min, "GTE clause must raise the min, never the max")

	price := findBound(res.Bounds, "price_usd_per_mt")
	require.NotNil(t, price)
	assert.Equal(t, 400.0, price.Max, "LTE clause must lower the max, never the min")
}

func TestBridge_Project_NeverLoosensPastDefault(t *testing.T) {
	frames := productgroup.NewDefault()
	source := fakeSource{}
	b := New(frames, source, nil, testLogger())

	res, err := b.Project("ammonia", true)
	require.NoError(t, err)

	vol := findBound(res.Bounds, "volume_mt")
	require.NotNil(t, vol)
	assert.Equal(t, 0.0, vol.Min)
	assert.Equal(t, 500000.0, vol.Max)
}

func TestBridge_Project_PenaltyScheduleSeparateFromBounds(t *testing.T) {
	frames := productgroup.NewDefault()
	source := fakeSource{contracts: []contracts.Contract{
		{
			ID: "c1", ProductGroup: "ammonia", Counterparty: "Acme", OpenPosition: openPos(500),
			Clauses: []contracts.Clause{
				{ClauseID: "demurrage_rate", Category: "penalty", PenaltyPerUnit: 12000},
			},
		},
	}}
	b := New(frames, source, nil, testLogger())

	res, err := b.Project("ammonia", true)
	require.NoError(t, err)
	require.Len(t, res.PenaltySchedule, 1)
	assert.Equal(t, contracts.PenaltyDemurrage, res.PenaltySchedule[0].PenaltyType)
	assert.Equal(t, 12000.0, res.PenaltySchedule[0].RatePerTon)

	// demurrage must not have tightened any bound; confirm bounds are still default.
	demurrageBound := findBound(res.Bounds, "demurrage_rate")
	assert.Nil(t, demurrageBound, "penalty clauses must never appear in Bounds")
}

func TestBridge_Project_OpenBookAggregatesPositions(t *testing.T) {
	frames := productgroup.NewDefault()
	source := fakeSource{contracts: []contracts.Contract{
		{ID: "c1", ProductGroup: "ammonia", CounterpartyType: contracts.CounterpartySupplier, OpenPosition: openPos(1000)},
		{ID: "c2", ProductGroup: "ammonia", CounterpartyType: contracts.CounterpartySupplier, OpenPosition: openPos(2500)},
		{ID: "c3", ProductGroup: "ammonia", CounterpartyType: contracts.CounterpartyCustomer, OpenPosition: openPos(1500)},
	}}
	b := New(frames, source, nil, testLogger())

	res, err := b.Project("ammonia", true)
	require.NoError(t, err)
	assert.Equal(t, 3500.0, res.OpenBook.TotalPurchaseObligation)
	assert.Equal(t, 1500.0, res.OpenBook.TotalSaleObligation)
	assert.Equal(t, 2000.0, res.OpenBook.NetOpenPosition)
	assert.Equal(t, 0.0, res.OpenBook.TotalPenaltyExposure)
}

func TestBridge_Project_PenaltyMaxExposureIsRateTimesOpenQty(t *testing.T) {
	frames := productgroup.NewDefault()
	source := fakeSource{contracts: []contracts.Contract{
		{
			ID: "c1", ProductGroup: "ammonia", Counterparty: "Acme", OpenPosition: openPos(500),
			Clauses: []contracts.Clause{
				{ClauseID: "demurrage_rate", Category: "penalty", PenaltyPerUnit: 12000},
			},
		},
	}}
	b := New(frames, source, nil, testLogger())

	res, err := b.Project("ammonia", true)
	require.NoError(t, err)
	require.Len(t, res.PenaltySchedule, 1)
	assert.Equal(t, 6_000_000.0, res.PenaltySchedule[0].MaxExposure)
	assert.Equal(t, 6_000_000.0, res.OpenBook.TotalPenaltyExposure)
}

func TestBridge_Project_ConflictingBoundsRecordedNotLoosened(t *testing.T) {
	frames := productgroup.NewDefault()
	source := fakeSource{contracts: []contracts.Contract{
		{
			ID: "c1", ProductGroup: "ammonia", Counterparty: "Acme",
			Clauses: []contracts.Clause{
				{ClauseID: "min_volume", Parameter: "volume_mt", Operator: contracts.OpGTE, Value: 5000},
			},
		},
		{
			ID: "c2", ProductGroup: "ammonia", Counterparty: "Beta",
			Clauses: []contracts.Clause{
				{ClauseID: "max_volume", Parameter: "volume_mt", Operator: contracts.OpLTE, Value: 3000},
			},
		},
	}}
	b := New(frames, source, nil, testLogger())

	res, err := b.Project("ammonia", true)
	require.NoError(t, err)

	vol := findBound(res.Bounds, "volume_mt")
	require.NotNil(t, vol)
	assert.True(t, vol.Conflict)
	assert.Equal(t, 5000.0, vol.Min, "floor must not be relaxed to mask the conflict")
	assert.Equal(t, 3000.0, vol.Max)
}

func TestBridge_Project_NotReadyBlocksNonWhatIf(t *testing.T) {
	frames := productgroup.NewDefault()
	source := fakeSource{}
	notReady := func(pg string) (bool, []string) { return false, []string{"extraction incomplete"} }
	b := New(frames, source, notReady, testLogger())

	_, err := b.Project("ammonia", false)
	assert.Error(t, err)

	_, err = b.Project("ammonia", true)
	assert.NoError(t, err, "what-if projections bypass the readiness gate")
}

func findBound(bounds []Bound, key string) *Bound {
	for i := range bounds {
		if bounds[i].Key == key {
			return &bounds[i]
		}
	}
	return nil
}
