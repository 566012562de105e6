// Package solve implements SolvePipeline: a per-product-group serialized
// solve queue that runs freshness check -> conditional ingest ->
// constraint-bridge projection -> solver call -> audit record, with phase
// broadcast and cooperative cancellation (§4.11).
//
// Grounded on the teacher's internal/mcp/transport_stdio.go request
// lifecycle (one outstanding call, dispatched by id) for the
// one-job-at-a-time-per-group discipline, and on
// pkg/telemetry/batch.go's RequestEvent/ViolationEvent shapes for the
// audit record this pipeline emits. Run ids are generated with
// github.com/google/uuid, adopted from the example pack's
// theRebelliousNerd-codenerd repo which uses it throughout for the same
// purpose.
package solve

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Raathmd/ammonia-desk/internal/apperr"
	"github.com/Raathmd/ammonia-desk/pkg/bridge"
	"github.com/Raathmd/ammonia-desk/pkg/contracts"
	"github.com/Raathmd/ammonia-desk/pkg/solverport"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Phase is one step of a solve run's lifecycle.
type Phase string

const (
	PhaseFreshnessCheck Phase = "freshness_check"
	PhaseIngest         Phase = "conditional_ingest"
	PhaseBridge         Phase = "constraint_bridge"
	PhaseSolve          Phase = "solver_call"
	PhaseAudit          Phase = "audit_record"
	PhaseDone           Phase = "done"
	PhaseFailed         Phase = "failed"
)

// PhaseEvent is one phase-transition broadcast for a run.
type PhaseEvent struct {
	RunID        string
	ProductGroup string
	Phase        Phase
	At           time.Time
	Err          error
}

// FreshnessChecker reports whether productGroup's source documents are
// fresh enough to solve without a re-scan. Returning false signals the
// pipeline to run Ingestor before projecting bounds.
type FreshnessChecker func(ctx context.Context, productGroup string) (fresh bool, err error)

// Ingestor triggers a scan-and-ingest cycle for a product group.
type Ingestor func(ctx context.Context, productGroup string) error

// AuditRecorder persists the outcome of one solve run. Implemented by
// pkg/audit.AuditLog; expressed as an interface here to avoid a package
// cycle (pkg/audit never needs to import pkg/solve).
type AuditRecorder interface {
	RecordSolve(run Record) error
}

// Solver is the subset of *pkg/solverport.Port the pipeline calls,
// expressed as an interface so tests can substitute a fake rather than
// spawning a real solver subprocess.
type Solver interface {
	Solve(ctx context.Context, req solverport.Request) (solverport.Response, error)
}

// ContractSnapshot is the identifying detail of one contract folded into a
// solve's projection, captured at the moment the bridge read it (§4.11 step
// 6, §4.13) so a later audit query never has to dereference a contract that
// may since have been amended or withdrawn.
type ContractSnapshot struct {
	ID           string
	Version      int
	Counterparty string
	FileHash     string
}

// Record is what SolvePipeline hands to AuditRecorder after every run,
// successful or not. The five phase timestamps satisfy the §8 monotonicity
// invariant completed_at >= solve_started_at >= ingestion_completed_at >=
// contracts_checked_at >= started_at (each left zero if the run exited
// before reaching that phase).
type Record struct {
	RunID        string
	ProductGroup string

	StartedAt             time.Time
	ContractsCheckedAt    time.Time
	IngestionCompletedAt  time.Time
	SolveStartedAt        time.Time
	CompletedAt           time.Time
	FinishedAt            time.Time

	ContractsUsed   []ContractSnapshot
	ContractsStale  bool
	BoundsSourcedAt map[string]time.Time // per solver-variable key, when its backing contract data was last refreshed

	AppliedBounds    []bridge.Bound
	Objective        float64
	Status           string // "ok", "infeasible", "error"
	ErrorMsg         string
	BlocksSubmission bool
}

// Pipeline runs gated solves, one at a time per product group.
type Pipeline struct {
	bridge *bridge.Bridge
	port   Solver
	audit  AuditRecorder
	fresh  FreshnessChecker
	ingest Ingestor
	log    *logrus.Logger

	mu     sync.Mutex
	queues map[string]chan func()

	subsMu sync.Mutex
	subs   []chan PhaseEvent

	solvesStarted    prometheus.Counter
	solvesInfeasible prometheus.Counter
	solvesStale      prometheus.Counter
}

// New builds a Pipeline. registry, if non-nil, receives the pipeline's
// prometheus counters (solves started/infeasible/stale, per §
// Supplemented Features).
func New(b *bridge.Bridge, port Solver, audit AuditRecorder, fresh FreshnessChecker, ingest Ingestor, log *logrus.Logger, registry *prometheus.Registry) *Pipeline {
	p := &Pipeline{
		bridge: b, port: port, audit: audit, fresh: fresh, ingest: ingest, log: log,
		queues: map[string]chan func(){},
		solvesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ammoniadesk_solves_started_total", Help: "Total solve runs started.",
		}),
		solvesInfeasible: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ammoniadesk_solves_infeasible_total", Help: "Total solve runs that reported infeasible.",
		}),
		solvesStale: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ammoniadesk_solves_stale_total", Help: "Total solve runs that required a re-ingest due to staleness.",
		}),
	}
	if registry != nil {
		registry.MustRegister(p.solvesStarted, p.solvesInfeasible, p.solvesStale)
	}
	return p
}

// Subscribe returns a channel of phase events for every run, across every
// product group. The channel is unbuffered-safe up to cap; a slow
// subscriber does not block the pipeline (events are dropped for that
// subscriber past cap, since phase events are observability, not the
// audit record of truth).
func (p *Pipeline) Subscribe(cap int) <-chan PhaseEvent {
	ch := make(chan PhaseEvent, cap)
	p.subsMu.Lock()
	p.subs = append(p.subs, ch)
	p.subsMu.Unlock()
	return ch
}

func (p *Pipeline) broadcast(ev PhaseEvent) {
	p.subsMu.Lock()
	defer p.subsMu.Unlock()
	for _, ch := range p.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// queueFor returns the single worker goroutine's job channel for a product
// group, starting the worker on first use so every group's runs are
// serialized independently of other groups.
func (p *Pipeline) queueFor(productGroup string) chan func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if q, ok := p.queues[productGroup]; ok {
		return q
	}
	q := make(chan func(), 16)
	p.queues[productGroup] = q
	go func() {
		for job := range q {
			job()
		}
	}()
	return q
}

// RunOption configures one call to Run.
type RunOption func(*runConfig)

type runConfig struct {
	allowStale bool
}

// AllowStaleSolve lets Run proceed against a not-ready product group rather
// than failing outright (§7/§8): the bridge projection bypasses the
// readiness gate, and the resulting Record carries contracts_stale=true so
// the audit trail shows the solve ran against data that had not cleared
// ReadinessGate.
func AllowStaleSolve() RunOption {
	return func(c *runConfig) { c.allowStale = true }
}

// Run enqueues a solve for productGroup and blocks until it completes or
// ctx is cancelled. Cancellation is cooperative: it is checked between
// phases, so a phase already in flight (e.g. a subprocess call) completes
// before the pipeline observes cancellation and stops advancing.
func (p *Pipeline) Run(ctx context.Context, productGroup string, opts ...RunOption) (Record, error) {
	runID := uuid.NewString()
	p.solvesStarted.Inc()

	cfg := runConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	type outcome struct {
		rec Record
		err error
	}
	done := make(chan outcome, 1)

	p.queueFor(productGroup) <- func() {
		rec, err := p.runOne(ctx, runID, productGroup, cfg)
		done <- outcome{rec: rec, err: err}
	}

	select {
	case <-ctx.Done():
		return Record{}, ctx.Err()
	case o := <-done:
		return o.rec, o.err
	}
}

func (p *Pipeline) emit(runID, productGroup string, phase Phase, err error) {
	p.broadcast(PhaseEvent{RunID: runID, ProductGroup: productGroup, Phase: phase, At: time.Now(), Err: err})
}

func (p *Pipeline) runOne(ctx context.Context, runID, productGroup string, cfg runConfig) (Record, error) {
	rec := Record{RunID: runID, ProductGroup: productGroup, StartedAt: time.Now()}

	finish := func(status string, err error) (Record, error) {
		now := time.Now()
		rec.FinishedAt = now
		rec.CompletedAt = now
		rec.Status = status
		if err != nil {
			rec.ErrorMsg = err.Error()
			p.emit(runID, productGroup, PhaseFailed, err)
		} else {
			p.emit(runID, productGroup, PhaseDone, nil)
		}
		if p.audit != nil {
			if auditErr := p.audit.RecordSolve(rec); auditErr != nil {
				p.log.WithError(auditErr).Error("failed to persist solve audit record")
			}
		}
		return rec, err
	}

	p.emit(runID, productGroup, PhaseFreshnessCheck, nil)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return finish("error", ctxErr)
	}
	if p.fresh != nil {
		fresh, err := p.fresh(ctx, productGroup)
		if err != nil {
			if !cfg.allowStale {
				return finish("error", err)
			}
			// ScannerUnavailable-class errors downgrade to a stale solve
			// rather than failing the run outright when the caller opted in.
			p.log.WithError(err).Warn("freshness check failed, proceeding as a stale-data solve")
			rec.ContractsStale = true
		} else if !fresh {
			p.solvesStale.Inc()
			rec.ContractsStale = true
			p.emit(runID, productGroup, PhaseIngest, nil)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return finish("error", ctxErr)
			}
			if p.ingest != nil {
				if err := p.ingest(ctx, productGroup); err != nil {
					if !cfg.allowStale {
						return finish("error", err)
					}
					p.log.WithError(err).Warn("ingest failed, proceeding as a stale-data solve")
				} else {
					rec.ContractsStale = false
				}
			}
		}
	}
	rec.ContractsCheckedAt = time.Now()

	if ready, issues := p.bridge.CheckReady(productGroup); !ready {
		if !cfg.allowStale {
			return finish("error", &apperr.NotReady{ProductGroup: productGroup, Issues: issues})
		}
		rec.ContractsStale = true
		rec.BlocksSubmission = true
	}
	rec.IngestionCompletedAt = time.Now()

	p.emit(runID, productGroup, PhaseBridge, nil)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return finish("error", ctxErr)
	}
	projection, err := p.bridge.Project(productGroup, rec.ContractsStale)
	if err != nil {
		return finish("error", err)
	}
	rec.AppliedBounds = projection.Bounds

	rec.ContractsUsed = make([]ContractSnapshot, 0, len(projection.Approved))
	rec.BoundsSourcedAt = make(map[string]time.Time, len(projection.Bounds))
	for _, c := range projection.Approved {
		rec.ContractsUsed = append(rec.ContractsUsed, contractSnapshot(c))
	}
	for _, b := range projection.Bounds {
		rec.BoundsSourcedAt[b.Key] = rec.IngestionCompletedAt
	}

	rec.SolveStartedAt = time.Now()
	p.emit(runID, productGroup, PhaseSolve, nil)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return finish("error", ctxErr)
	}

	req := solverport.Request{RunID: runID, ProductGroup: productGroup}
	for _, b := range projection.Bounds {
		req.Bounds = append(req.Bounds, solverport.BoundInput{Key: b.Key, Min: b.Min, Max: b.Max})
	}
	for _, pe := range projection.PenaltySchedule {
		req.Penalties = append(req.Penalties, solverport.PenaltyInput{
			Counterparty: pe.Counterparty, RatePerTon: pe.RatePerTon, OpenQty: pe.OpenQty, MaxExposure: pe.MaxExposure,
		})
	}

	resp, err := p.port.Solve(ctx, req)
	if err != nil {
		var infeasible *apperr.SolverInfeasible
		if errors.As(err, &infeasible) {
			p.solvesInfeasible.Inc()
			return finish("infeasible", err)
		}
		return finish("error", err)
	}
	rec.Objective = resp.Objective

	p.emit(runID, productGroup, PhaseAudit, nil)
	return finish("ok", nil)
}

func contractSnapshot(c contracts.Contract) ContractSnapshot {
	return ContractSnapshot{ID: c.ID, Version: c.Version, Counterparty: c.Counterparty, FileHash: c.FileHash}
}
