package solverport

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeRequest_SolvePayloadLayout(t *testing.T) {
	req := Request{
		RunID: "run-123", ProductGroup: "ammonia", Command: CmdSolve,
		Bounds: []BoundInput{
			{Key: "volume_mt", Min: 100, Max: 5000},
		},
		Penalties: []PenaltyInput{
			{Counterparty: "Acme", PenaltyType: 1, RatePerTon: 12.5, OpenQty: 500, MaxExposure: 10000},
		},
	}

	payload := encodeRequest(req)
	require.NotEmpty(t, payload)
	assert.Equal(t, byte(CmdSolve), payload[0])

	r := &byteReader{buf: payload[1:]}
	runID, err := r.getString()
	require.NoError(t, err)
	assert.Equal(t, "run-123", runID)

	productGroup, err := r.getString()
	require.NoError(t, err)
	assert.Equal(t, "ammonia", productGroup)

	varCount, err := r.getUint32()
	require.NoError(t, err)
	require.EqualValues(t, 1, varCount)
	name, err := r.getString()
	require.NoError(t, err)
	assert.Equal(t, "volume_mt", name)

	routeCount, err := r.getUint32()
	require.NoError(t, err)
	assert.EqualValues(t, 1, routeCount)
	constraintCount, err := r.getUint32()
	require.NoError(t, err)
	assert.EqualValues(t, 1, constraintCount)

	min, err := r.getFloat64LE()
	require.NoError(t, err)
	assert.InDelta(t, 100, min, 0.0001)
	max, err := r.getFloat64LE()
	require.NoError(t, err)
	assert.InDelta(t, 5000, max, 0.0001)
}

func TestEncodeRequest_MonteCarloIncludesScenarioCount(t *testing.T) {
	req := Request{
		RunID: "run-456", ProductGroup: "ammonia", Command: CmdMonteCarlo, Trials: 2000,
		Bounds: []BoundInput{{Key: "volume_mt", Min: 0, Max: 1}},
	}
	payload := encodeRequest(req)
	r := &byteReader{buf: payload[1:]}
	_, _ = r.getString() // run_id
	_, _ = r.getString() // product_group
	_, _ = r.getUint32() // var count
	_, _ = r.getString() // var name
	_, _ = r.getUint32() // route count
	_, _ = r.getUint32() // constraint count
	scenarios, err := r.getUint32()
	require.NoError(t, err)
	assert.EqualValues(t, 2000, scenarios)
}

func TestEncodeRequest_IntegersAreLittleEndian(t *testing.T) {
	req := Request{
		RunID: "r", ProductGroup: "p", Command: CmdSolve,
		Bounds: []BoundInput{{Key: "a", Min: 0, Max: 1}, {Key: "b", Min: 0, Max: 1}},
	}
	payload := encodeRequest(req)
	// skip cmd byte, run_id ("r"), product_group ("p")
	pos := 1 + (4 + 1) + (4 + 1)
	gotLE := binary.LittleEndian.Uint32(payload[pos:])
	assert.EqualValues(t, 2, gotLE, "variable count must be little-endian per spec.md §6")
}

func TestDecodeResponse_OptimalSolveLayout(t *testing.T) {
	buf := []byte{byte(StatusOK)}
	buf = putFloat64LE(buf, 1_000_000) // profit
	buf = putFloat64LE(buf, 4200.5)    // tons
	buf = putFloat64LE(buf, 3)         // vessels
	buf = putFloat64LE(buf, 80000)     // cost
	buf = putFloat64LE(buf, 0.92)      // eff_barge
	buf = putFloat64LE(buf, 1500)      // route_tons[0]
	buf = putFloat64LE(buf, 40000)     // route_profits[0]
	buf = putFloat64LE(buf, 12.4)      // margins[0]
	buf = putFloat64LE(buf, 6)         // transits[0]
	buf = putFloat64LE(buf, 2.1)       // shadow_prices[0]
	buf = putFloat64LE(buf, -0.5)      // shadow_prices[1]

	resp, err := decodeResponse(buf, CmdSolve, 1, 2)
	require.NoError(t, err)
	require.NotNil(t, resp.Solve)
	assert.InDelta(t, 1_000_000, resp.Solve.Profit, 0.0001)
	assert.InDelta(t, 1_000_000, resp.Objective, 0.0001)
	require.Len(t, resp.Solve.RouteTons, 1)
	assert.InDelta(t, 1500, resp.Solve.RouteTons[0], 0.0001)
	require.Len(t, resp.Solve.ShadowPrices, 2)
	assert.InDelta(t, -0.5, resp.Solve.ShadowPrices[1], 0.0001)
}

func TestDecodeResponse_MonteCarloLayout(t *testing.T) {
	buf := []byte{byte(StatusOK)}
	buf = putUint32(buf, 5000) // n_scenarios
	buf = putUint32(buf, 4800) // n_feasible
	buf = putUint32(buf, 200)  // n_infeasible
	for _, v := range []float64{100, 10, 85, 92, 100, 108, 115, 60, 150, 0} {
		buf = putFloat64LE(buf, v)
	}
	buf = putFloat64LE(buf, 0.73) // sensitivity for the one constraint

	resp, err := decodeResponse(buf, CmdMonteCarlo, 0, 1)
	require.NoError(t, err)
	require.NotNil(t, resp.MonteCarlo)
	assert.EqualValues(t, 5000, resp.MonteCarlo.NScenarios)
	assert.EqualValues(t, 4800, resp.MonteCarlo.NFeasible)
	assert.InDelta(t, 100, resp.MonteCarlo.Mean, 0.0001)
	assert.InDelta(t, 150, resp.MonteCarlo.Max, 0.0001)
	require.Len(t, resp.MonteCarlo.Sensitivities, 1)
	assert.InDelta(t, 0.73, resp.MonteCarlo.Sensitivities[0], 0.0001)
}

func TestDecodeResponse_InfeasibleStatus(t *testing.T) {
	resp, err := decodeResponse([]byte{byte(StatusInfeasible)}, CmdSolve, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, StatusInfeasible, resp.Status)
}

func TestDecodeResponse_ErrorStatusCarriesMessage(t *testing.T) {
	buf := []byte{byte(StatusError)}
	buf = putString(buf, "singular matrix")

	resp, err := decodeResponse(buf, CmdSolve, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "singular matrix", resp.ErrorMsg)
}

func TestDecodeResponse_TruncatedPayloadErrors(t *testing.T) {
	_, err := decodeResponse([]byte{byte(StatusOK), 0, 0}, CmdSolve, 0, 0)
	assert.Error(t, err)
}
