// Package audit implements AuditLog: the immutable, append-only record of
// every review decision and solve run, indexed four ways, with the
// trader_decision_chain, product_group_timeline, and compare_paths
// aggregation views (§4.13).
//
// Grounded on the teacher's pkg/telemetry/batch.go TelemetryBatch
// (RequestEvent/ViolationEvent accumulated in a mutex-guarded slice,
// flushed to an external metrics service), generalized from a
// fire-and-forget telemetry buffer into the desk's permanent record of
// truth: entries are never removed, only appended, and the aggregation
// views are built by filtering the same append-only slice rather than a
// separate write path.
package audit

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/Raathmd/ammonia-desk/pkg/bridge"
	"github.com/Raathmd/ammonia-desk/pkg/review"
	"github.com/Raathmd/ammonia-desk/pkg/solve"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// EntryKind distinguishes the two record shapes an AuditLog carries.
type EntryKind string

const (
	EntrySolve  EntryKind = "solve"
	EntryReview EntryKind = "review"
)

// Entry is one immutable audit record. Exactly one of Solve/Review is
// populated, matching EntryKind.
type Entry struct {
	ID           string
	Kind         EntryKind
	RecordedAt   time.Time
	ProductGroup string
	Solve        *solve.Record
	Review       *review.Decision
}

// AuditLog is the append-only store, indexed by contract id, product
// group, run id, and acting trader — the four index dimensions §4.13
// names.
type AuditLog struct {
	mu sync.RWMutex

	entries []Entry

	byContract map[string][]int
	byProduct  map[string][]int
	byRun      map[string][]int
	byTrader   map[string][]int

	log  *logrus.Logger
	sink func(Entry)
}

// New builds an empty AuditLog.
func New(log *logrus.Logger) *AuditLog {
	return &AuditLog{
		byContract: map[string][]int{},
		byProduct:  map[string][]int{},
		byRun:      map[string][]int{},
		byTrader:   map[string][]int{},
		log:        log,
	}
}

// SetSink registers a callback invoked with every newly appended entry,
// after it is durably indexed in memory. internal/persist uses this to
// mirror audit entries into the write-ahead log (§4.14 "receives
// mutations from ContractStore and AuditLog").
func (a *AuditLog) SetSink(sink func(Entry)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sink = sink
}

// RecordSolve appends a solve run's outcome. It implements
// pkg/solve.AuditRecorder.
func (a *AuditLog) RecordSolve(rec solve.Record) error {
	a.mu.Lock()

	entry := Entry{
		ID: uuid.NewString(), Kind: EntrySolve, RecordedAt: time.Now(),
		ProductGroup: rec.ProductGroup, Solve: &rec,
	}
	idx := len(a.entries)
	a.entries = append(a.entries, entry)
	a.byProduct[rec.ProductGroup] = append(a.byProduct[rec.ProductGroup], idx)
	a.byRun[rec.RunID] = append(a.byRun[rec.RunID], idx)
	sink := a.sink

	a.mu.Unlock()

	a.log.WithFields(logrus.Fields{
		"run_id": rec.RunID, "product_group": rec.ProductGroup, "status": rec.Status,
	}).Info("solve run recorded to audit log")

	if sink != nil {
		sink(entry)
	}
	return nil
}

// RecordReview appends a review decision for contractID.
func (a *AuditLog) RecordReview(contractID, productGroup string, d review.Decision) error {
	a.mu.Lock()

	entry := Entry{
		ID: uuid.NewString(), Kind: EntryReview, RecordedAt: time.Now(),
		ProductGroup: productGroup, Review: &d,
	}
	idx := len(a.entries)
	a.entries = append(a.entries, entry)
	a.byContract[contractID] = append(a.byContract[contractID], idx)
	a.byProduct[productGroup] = append(a.byProduct[productGroup], idx)
	a.byTrader[d.ActedBy] = append(a.byTrader[d.ActedBy], idx)
	sink := a.sink

	a.mu.Unlock()

	a.log.WithFields(logrus.Fields{
		"contract_id": contractID, "acted_by": d.ActedBy, "to": d.To,
	}).Info("review decision recorded to audit log")

	if sink != nil {
		sink(entry)
	}
	return nil
}

// ByContract returns every entry recorded against contractID, oldest
// first.
func (a *AuditLog) ByContract(contractID string) []Entry {
	return a.collect(a.byContract[contractID])
}

// ByProductGroup returns every entry recorded for productGroup, oldest
// first.
func (a *AuditLog) ByProductGroup(productGroup string) []Entry {
	return a.collect(a.byProduct[productGroup])
}

// ByRun returns every entry recorded for runID.
func (a *AuditLog) ByRun(runID string) []Entry {
	return a.collect(a.byRun[runID])
}

// ByTrader returns every review decision recorded as acted_by trader.
func (a *AuditLog) ByTrader(trader string) []Entry {
	return a.collect(a.byTrader[trader])
}

func (a *AuditLog) collect(idxs []int) []Entry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Entry, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, a.entries[i])
	}
	return out
}

// TraderDecisionChain returns every review decision a trader made, in the
// order they were recorded — the audit trail a compliance reviewer follows
// to see one person's full decision history.
func (a *AuditLog) TraderDecisionChain(trader string) []review.Decision {
	entries := a.ByTrader(trader)
	out := make([]review.Decision, 0, len(entries))
	for _, e := range entries {
		if e.Review != nil {
			out = append(out, *e.Review)
		}
	}
	return out
}

// ProductGroupTimeline returns every solve run and review decision
// recorded for a product group, in the order they were recorded —
// interleaving both entry kinds so a reader can see why a solve happened
// when it did relative to contract approvals.
func (a *AuditLog) ProductGroupTimeline(productGroup string) []Entry {
	return a.ByProductGroup(productGroup)
}

// ComparePaths scores how similar two solve runs' applied bounds were,
// using cosine similarity over the two runs' bound vectors (keyed by
// variable, missing keys treated as zero) — the concrete algorithm named
// in SPEC_FULL.md's Supplemented Features, since spec.md names the
// compare_paths operation but not its mechanism.
func (a *AuditLog) ComparePaths(runIDA, runIDB string) (float64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	boundsA, err := a.firstSolveBounds(runIDA)
	if err != nil {
		return 0, err
	}
	boundsB, err := a.firstSolveBounds(runIDB)
	if err != nil {
		return 0, err
	}

	return cosineSimilarity(boundsA, boundsB), nil
}

func (a *AuditLog) firstSolveBounds(runID string) ([]bridge.Bound, error) {
	for _, i := range a.byRun[runID] {
		e := a.entries[i]
		if e.Kind == EntrySolve && e.Solve != nil {
			return e.Solve.AppliedBounds, nil
		}
	}
	return nil, fmt.Errorf("no solve entry found for run %s", runID)
}

func cosineSimilarity(a, b []bridge.Bound) float64 {
	vecA := boundsToVector(a)
	vecB := boundsToVector(b)

	keys := map[string]bool{}
	for k := range vecA {
		keys[k] = true
	}
	for k := range vecB {
		keys[k] = true
	}

	var dot, normA, normB float64
	for k := range keys {
		va := vecA[k]
		vb := vecB[k]
		dot += va * vb
		normA += va * va
		normB += vb * vb
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// boundsToVector flattens each bound into two vector components (min, max)
// per key so a shift in either edge of a range affects the similarity
// score.
func boundsToVector(bounds []bridge.Bound) map[string]float64 {
	v := make(map[string]float64, len(bounds)*2)
	for _, b := range bounds {
		v[b.Key+":min"] = b.Min
		v[b.Key+":max"] = b.Max
	}
	return v
}
