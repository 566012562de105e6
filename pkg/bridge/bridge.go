// Package bridge implements ConstraintBridge: projecting the currently
// approved contracts for a product group onto solver variable bounds (a
// tightening-only projection over pkg/productgroup's defaults) and a
// separate penalty schedule, plus open-book aggregation (§4.9).
//
// Grounded on the teacher's pkg/gateway/validate.go ValidateThresholds,
// which already walks a `map[string]contracts.Bounds` applying per-metric
// min/max checks; generalized here from "check a live value against a
// bound" to "fold every approved contract's bound-shaped clauses down into
// one tightened bound per solver variable".
package bridge

import (
	"fmt"

	"github.com/Raathmd/ammonia-desk/pkg/contracts"
	"github.com/Raathmd/ammonia-desk/pkg/productgroup"
	"github.com/sirupsen/logrus"
)

// Bound is a solver variable's resolved [Min, Max] range after projection.
// Conflict is set when two approved contracts' clauses tightened Min past
// Max — the bridge records this rather than loosening the bound back to
// feasibility, so the solver sees the true empty interval (§3, §8: bounds
// only ever tighten).
type Bound struct {
	Key      string
	Min      float64
	Max      float64
	Conflict bool
}

// OpenBook is the four-field open-position breakdown §4.9 requires, rather
// than a single aggregated scalar.
type OpenBook struct {
	TotalPurchaseObligation float64
	TotalSaleObligation     float64
	NetOpenPosition         float64
	TotalPenaltyExposure    float64
}

// ApprovedSource supplies the approved contracts for a product group. This
// is satisfied by *pkg/store.Store; it is expressed as an interface here
// so bridge does not import store directly and risk a cycle as both
// packages grow.
type ApprovedSource interface {
	ApprovedInProductGroup(productGroup string) []contracts.Contract
}

// ReadyCheck reports whether a product group currently passes the
// readiness gate. Expressed as a function type (rather than importing
// pkg/readiness) for the same reason as ApprovedSource.
type ReadyCheck func(productGroup string) (ready bool, issues []string)

// ProjectionResult is the full output of one bound-and-penalty projection.
type ProjectionResult struct {
	Bounds          []Bound
	PenaltySchedule []contracts.PenaltyScheduleEntry
	OpenBook        OpenBook
	Approved        []contracts.Contract // the exact contract set the bounds were folded from
}

// Bridge projects the active set onto solver inputs.
type Bridge struct {
	frames *productgroup.Registry
	source ApprovedSource
	ready  ReadyCheck
	log    *logrus.Logger
}

// New builds a Bridge. ready may be nil, meaning readiness is never
// consulted (equivalent to every call being a what-if call).
func New(frames *productgroup.Registry, source ApprovedSource, ready ReadyCheck, log *logrus.Logger) *Bridge {
	return &Bridge{frames: frames, source: source, ready: ready, log: log}
}

// CheckReady reports productGroup's current readiness without projecting,
// so callers (like pkg/solve's pipeline) can decide whether to downgrade to
// a stale-data solve before calling Project. A nil ready gate always
// reports ready.
func (b *Bridge) CheckReady(productGroup string) (bool, []string) {
	if b.ready == nil {
		return true, nil
	}
	return b.ready(productGroup)
}

// Project computes bounds, penalty schedule, and open-book total for
// productGroup. Unless whatIf is true, it first consults the readiness
// gate and refuses to project for a not-ready product group — a what-if
// call bypasses that gate so traders can explore hypothetical bounds
// before a contract is fully ready (§4.9, §4.10).
func (b *Bridge) Project(productGroup string, whatIf bool) (ProjectionResult, error) {
	if !whatIf && b.ready != nil {
		if ok, issues := b.ready(productGroup); !ok {
			return ProjectionResult{}, fmt.Errorf("product group %s not ready for projection: %v", productGroup, issues)
		}
	}

	frame, ok := b.frames.Frame(productGroup)
	if !ok {
		return ProjectionResult{}, fmt.Errorf("no product group frame registered for %q", productGroup)
	}

	approved := b.source.ApprovedInProductGroup(productGroup)

	bounds := make([]Bound, 0, len(frame.Variables))
	for _, v := range frame.Variables {
		bnd := tighten(v, approved)
		if bnd.Conflict {
			b.log.WithFields(logrus.Fields{
				"product_group": productGroup, "variable": bnd.Key, "min": bnd.Min, "max": bnd.Max,
			}).Warn("conflicting bounds from approved contracts, interval left infeasible")
		}
		bounds = append(bounds, bnd)
	}

	var schedule []contracts.PenaltyScheduleEntry
	book := OpenBook{}
	for _, c := range approved {
		schedule = append(schedule, penaltyEntries(c, frame)...)
		if c.OpenPosition != nil {
			switch c.CounterpartyType {
			case contracts.CounterpartySupplier:
				book.TotalPurchaseObligation += *c.OpenPosition
			case contracts.CounterpartyCustomer:
				book.TotalSaleObligation += *c.OpenPosition
			}
		}
	}
	book.NetOpenPosition = book.TotalPurchaseObligation - book.TotalSaleObligation
	for _, entry := range schedule {
		book.TotalPenaltyExposure += entry.MaxExposure
	}

	b.log.WithFields(logrus.Fields{
		"product_group": productGroup, "approved_contracts": len(approved), "what_if": whatIf,
	}).Info("constraint bridge projection complete")

	return ProjectionResult{Bounds: bounds, PenaltySchedule: schedule, OpenBook: book, Approved: approved}, nil
}

// tighten folds every approved contract's clauses for one variable key down
// into a single bound, never loosening past the frame's default range.
func tighten(v productgroup.VariableBound, approved []contracts.Contract) Bound {
	b := Bound{Key: v.Key, Min: v.Min, Max: v.Max}
	for _, c := range approved {
		for _, cl := range c.ClausesByParameter(v.Key) {
			switch cl.Operator {
			case contracts.OpGTE:
				if cl.Value > b.Min {
					b.Min = cl.Value
				}
			case contracts.OpLTE:
				if cl.Value < b.Max {
					b.Max = cl.Value
				}
			case contracts.OpEQ:
				if cl.Value > b.Min {
					b.Min = cl.Value
				}
				if cl.Value < b.Max {
					b.Max = cl.Value
				}
			case contracts.OpBetween:
				if cl.Value > b.Min {
					b.Min = cl.Value
				}
				if cl.ValueUpper < b.Max {
					b.Max = cl.ValueUpper
				}
			}
		}
	}
	if b.Min > b.Max {
		b.Conflict = true
	}
	return b
}

// penaltyEntries extracts every penalty-category clause from c that maps to
// a slot the frame accepts, kept as its own schedule rather than merged
// into Bounds (§9 Design Notes: penalties and bounds are deliberately
// separate so a penalty rate never silently tightens a solver variable).
func penaltyEntries(c contracts.Contract, frame productgroup.Frame) []contracts.PenaltyScheduleEntry {
	var out []contracts.PenaltyScheduleEntry
	penaltyType := map[string]contracts.PenaltyType{
		"volume_shortfall_penalty": contracts.PenaltyVolumeShortfall,
		"late_delivery_penalty":    contracts.PenaltyLateDelivery,
		"demurrage_rate":           contracts.PenaltyDemurrage,
	}
	for _, cl := range c.Clauses {
		pt, ok := penaltyType[cl.ClauseID]
		if !ok {
			continue
		}
		if !slotAccepted(frame, string(pt)) {
			continue
		}
		qty := 0.0
		if c.OpenPosition != nil {
			qty = *c.OpenPosition
		}
		out = append(out, contracts.PenaltyScheduleEntry{
			Counterparty: c.Counterparty,
			PenaltyType:  pt,
			RatePerTon:   cl.PenaltyPerUnit,
			OpenQty:      qty,
			MaxExposure:  cl.PenaltyPerUnit * qty, // §4.9: max_exposure = rate_per_ton × open_position
			Incoterm:     c.Incoterm,
			Direction:    string(c.CounterpartyType),
		})
	}
	return out
}

func slotAccepted(frame productgroup.Frame, slot string) bool {
	for _, s := range frame.PenaltySlots {
		if s == slot {
			return true
		}
	}
	return false
}
