package solve

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/Raathmd/ammonia-desk/internal/apperr"
	"github.com/Raathmd/ammonia-desk/pkg/bridge"
	"github.com/Raathmd/ammonia-desk/pkg/contracts"
	"github.com/Raathmd/ammonia-desk/pkg/productgroup"
	"github.com/Raathmd/ammonia-desk/pkg/solverport"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fakeApprovedSource struct{}

func (fakeApprovedSource) ApprovedInProductGroup(pg string) []contracts.Contract { return nil }

type fakeSolver struct {
	resp solverport.Response
	err  error
	calls int
}

func (f *fakeSolver) Solve(ctx context.Context, req solverport.Request) (solverport.Response, error) {
	f.calls++
	return f.resp, f.err
}

type fakeAudit struct {
	records []Record
}

func (f *fakeAudit) RecordSolve(r Record) error {
	f.records = append(f.records, r)
	return nil
}

func newTestPipeline(solver *fakeSolver, audit *fakeAudit, fresh FreshnessChecker) *Pipeline {
	b := bridge.New(productgroup.NewDefault(), fakeApprovedSource{}, nil, testLogger())
	return New(b, solver, audit, fresh, nil, testLogger(), nil)
}

func TestPipeline_Run_HappyPathRecordsOK(t *testing.T) {
	solver := &fakeSolver{resp: solverport.Response{Status: solverport.StatusOK, Objective: 42}}
	audit := &fakeAudit{}
	fresh := func(ctx context.Context, pg string) (bool, error) { return true, nil }

	p := newTestPipeline(solver, audit, fresh)
	rec, err := p.Run(context.Background(), "ammonia")

	require.NoError(t, err)
	assert.Equal(t, "ok", rec.Status)
	assert.Equal(t, 42.0, rec.Objective)
	require.Len(t, audit.records, 1)
	assert.Equal(t, 1, solver.calls)
}

func TestPipeline_Run_InfeasibleRecorded(t *testing.T) {
	solver := &fakeSolver{err: &apperr.SolverInfeasible{ProductGroup: "ammonia"}}
	audit := &fakeAudit{}
	fresh := func(ctx context.Context, pg string) (bool, error) { return true, nil }

	p := newTestPipeline(solver, audit, fresh)
	rec, err := p.Run(context.Background(), "ammonia")

	require.Error(t, err)
	assert.Equal(t, "infeasible", rec.Status)
}

func TestPipeline_Run_StaleTriggersIngestBeforeSolve(t *testing.T) {
	solver := &fakeSolver{resp: solverport.Response{Status: solverport.StatusOK}}
	audit := &fakeAudit{}
	fresh := func(ctx context.Context, pg string) (bool, error) { return false, nil }

	ingestCalled := false
	b := bridge.New(productgroup.NewDefault(), fakeApprovedSource{}, nil, testLogger())
	p := New(b, solver, audit, fresh, func(ctx context.Context, pg string) error {
		ingestCalled = true
		return nil
	}, testLogger(), nil)

	_, err := p.Run(context.Background(), "ammonia")
	require.NoError(t, err)
	assert.True(t, ingestCalled)
}

func TestPipeline_Run_SerializesRunsPerProductGroup(t *testing.T) {
	solver := &fakeSolver{resp: solverport.Response{Status: solverport.StatusOK}}
	audit := &fakeAudit{}
	fresh := func(ctx context.Context, pg string) (bool, error) { return true, nil }
	p := newTestPipeline(solver, audit, fresh)

	done := make(chan struct{}, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, _ = p.Run(context.Background(), "ammonia")
			done <- struct{}{}
		}()
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for serialized runs")
		}
	}
	assert.Equal(t, 3, solver.calls)
}

func TestPipeline_Run_NotReadyFailsWithoutAllowStale(t *testing.T) {
	solver := &fakeSolver{resp: solverport.Response{Status: solverport.StatusOK}}
	audit := &fakeAudit{}
	fresh := func(ctx context.Context, pg string) (bool, error) { return true, nil }
	notReady := func(pg string) (bool, []string) { return false, []string{"extraction incomplete"} }

	b := bridge.New(productgroup.NewDefault(), fakeApprovedSource{}, notReady, testLogger())
	p := New(b, solver, audit, fresh, nil, testLogger(), nil)

	_, err := p.Run(context.Background(), "ammonia")
	require.Error(t, err)
	require.Len(t, audit.records, 1)
	assert.Equal(t, "error", audit.records[0].Status)
}

func TestPipeline_Run_NotReadyDowngradesToStaleSolveWhenAllowed(t *testing.T) {
	solver := &fakeSolver{resp: solverport.Response{Status: solverport.StatusOK, Objective: 7}}
	audit := &fakeAudit{}
	fresh := func(ctx context.Context, pg string) (bool, error) { return true, nil }
	notReady := func(pg string) (bool, []string) { return false, []string{"SAP validation pending"} }

	b := bridge.New(productgroup.NewDefault(), fakeApprovedSource{}, notReady, testLogger())
	p := New(b, solver, audit, fresh, nil, testLogger(), nil)

	rec, err := p.Run(context.Background(), "ammonia", AllowStaleSolve())
	require.NoError(t, err)
	assert.Equal(t, "ok", rec.Status)
	assert.True(t, rec.ContractsStale)
	assert.True(t, rec.BlocksSubmission)
	assert.Equal(t, 1, solver.calls)
}

func TestPipeline_Run_FreshnessErrorDowngradesWhenAllowed(t *testing.T) {
	solver := &fakeSolver{resp: solverport.Response{Status: solverport.StatusOK}}
	audit := &fakeAudit{}
	fresh := func(ctx context.Context, pg string) (bool, error) { return false, &apperr.ScannerCrashed{} }

	p := newTestPipeline(solver, audit, fresh)

	rec, err := p.Run(context.Background(), "ammonia", AllowStaleSolve())
	require.NoError(t, err)
	assert.Equal(t, "ok", rec.Status)
	assert.True(t, rec.ContractsStale)
}

func TestPipeline_Run_PhaseTimestampsAreMonotonic(t *testing.T) {
	solver := &fakeSolver{resp: solverport.Response{Status: solverport.StatusOK}}
	audit := &fakeAudit{}
	fresh := func(ctx context.Context, pg string) (bool, error) { return true, nil }
	p := newTestPipeline(solver, audit, fresh)

	rec, err := p.Run(context.Background(), "ammonia")
	require.NoError(t, err)

	assert.False(t, rec.StartedAt.After(rec.ContractsCheckedAt))
	assert.False(t, rec.ContractsCheckedAt.After(rec.IngestionCompletedAt))
	assert.False(t, rec.IngestionCompletedAt.After(rec.SolveStartedAt))
	assert.False(t, rec.SolveStartedAt.After(rec.CompletedAt))
}

func TestPipeline_Subscribe_ReceivesPhaseEvents(t *testing.T) {
	solver := &fakeSolver{resp: solverport.Response{Status: solverport.StatusOK}}
	audit := &fakeAudit{}
	fresh := func(ctx context.Context, pg string) (bool, error) { return true, nil }
	p := newTestPipeline(solver, audit, fresh)

	events := p.Subscribe(16)
	_, err := p.Run(context.Background(), "ammonia")
	require.NoError(t, err)

	sawDone := false
	for i := 0; i < 10; i++ {
		select {
		case ev := <-events:
			if ev.Phase == PhaseDone {
				sawDone = true
			}
		default:
		}
	}
	assert.True(t, sawDone)
}
