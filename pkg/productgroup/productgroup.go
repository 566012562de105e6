// Package productgroup defines the per-product-group solver variable
// frames that ConstraintBridge and SolverPort project contracts onto. The
// original system keeps this mapping out of the bridge itself (§9 Design
// Notes); it is its own package here, grounded on the same copy-on-write
// registry shape as pkg/clauses since both are small, rarely-mutated
// catalogues read on every hot path.
package productgroup

import "sync/atomic"

// VariableBound is a solver variable's default (unconstrained) range before
// any contract bound is applied.
type VariableBound struct {
	Key string
	Min float64
	Max float64
}

// Frame is one product group's solver surface: its variable keys with
// default bounds, and the penalty-rate slots it accepts.
type Frame struct {
	ProductGroup   string
	Variables      []VariableBound
	PenaltySlots   []string // PenaltyType values valid for this group
}

// VariableDefault returns the default bound for key, if defined.
func (f Frame) VariableDefault(key string) (VariableBound, bool) {
	for _, v := range f.Variables {
		if v.Key == key {
			return v, true
		}
	}
	return VariableBound{}, false
}

// Registry holds the known product-group frames behind an atomic snapshot,
// the same copy-on-write pattern as pkg/clauses.Registry.
type Registry struct {
	ptr atomic.Pointer[map[string]Frame]
}

// New returns an empty frame registry.
func New() *Registry {
	r := &Registry{}
	m := map[string]Frame{}
	r.ptr.Store(&m)
	return r
}

// NewDefault returns a registry seeded with the ammonia desk's standard
// product groups.
func NewDefault() *Registry {
	r := New()
	for _, f := range defaultFrames {
		r.Register(f)
	}
	return r
}

// Register adds or replaces a frame.
func (r *Registry) Register(f Frame) {
	for {
		cur := r.ptr.Load()
		next := make(map[string]Frame, len(*cur)+1)
		for k, v := range *cur {
			next[k] = v
		}
		next[f.ProductGroup] = f
		if r.ptr.CompareAndSwap(cur, &next) {
			return
		}
	}
}

// Frame looks up a product group's frame.
func (r *Registry) Frame(productGroup string) (Frame, bool) {
	m := *r.ptr.Load()
	f, ok := m[productGroup]
	return f, ok
}

// All returns every registered frame.
func (r *Registry) All() []Frame {
	m := *r.ptr.Load()
	out := make([]Frame, 0, len(m))
	for _, f := range m {
		out = append(out, f)
	}
	return out
}

var defaultFrames = []Frame{
	{
		ProductGroup: "ammonia",
		Variables: []VariableBound{
			{Key: "volume_mt", Min: 0, Max: 500_000},
			{Key: "volume_mt_min", Min: 0, Max: 500_000},
			{Key: "volume_mt_max", Min: 0, Max: 500_000},
			{Key: "price_usd_per_mt", Min: 0, Max: 3_000},
			{Key: "moisture_pct_max", Min: 0, Max: 100},
		},
		PenaltySlots: []string{"volume_shortfall", "late_delivery", "demurrage"},
	},
	{
		ProductGroup: "urea",
		Variables: []VariableBound{
			{Key: "volume_mt", Min: 0, Max: 500_000},
			{Key: "volume_mt_min", Min: 0, Max: 500_000},
			{Key: "volume_mt_max", Min: 0, Max: 500_000},
			{Key: "price_usd_per_mt", Min: 0, Max: 2_000},
		},
		PenaltySlots: []string{"volume_shortfall", "late_delivery", "demurrage"},
	},
	{
		ProductGroup: "uan",
		Variables: []VariableBound{
			{Key: "volume_mt", Min: 0, Max: 500_000},
			{Key: "volume_mt_min", Min: 0, Max: 500_000},
			{Key: "volume_mt_max", Min: 0, Max: 500_000},
			{Key: "price_usd_per_mt", Min: 0, Max: 1_000},
		},
		PenaltySlots: []string{"volume_shortfall", "late_delivery"},
	},
}
