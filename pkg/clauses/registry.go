// Package clauses implements the TemplateRegistry: the catalogue of
// recognised clause types, contract templates, and family signatures that
// the parser and validator consult. It is grounded on the teacher's
// pkg/txrepo/dynamic_registry.go DynamicRegistry, generalized from a single
// map-of-guardrail-configs into three related catalogues (clause defs,
// templates, families) sharing one copy-on-write snapshot.
package clauses

import (
	"sort"
	"sync/atomic"

	"github.com/Raathmd/ammonia-desk/pkg/contracts"
)

// ClauseDef describes one recognised clause type: its canonical id,
// category, the anchor phrases the parser looks for, and the sanity range
// used to flag suspicious values.
type ClauseDef struct {
	ClauseID       string
	Category       string
	Anchors        []string
	Parameter      string
	ParameterClass string // §4.2 parameter_class_members grouping; may be empty
	Order          int    // walk order for the matcher pipeline, most specific first (§4.3)
	SanityMin      float64
	SanityMax      float64
	HasSanity      bool
}

// Snapshot is an immutable view of the registry's full contents at one
// point in time. Readers hold a Snapshot for the duration of one operation
// so a concurrent registration cannot produce a torn read.
type Snapshot struct {
	clauseDefs map[string]ClauseDef
	templates  map[templateKey]contracts.Template
	families   map[string]contracts.FamilySignature
	custom     map[string]bool // clause ids registered at runtime, for Export
}

type templateKey struct {
	contractType contracts.TemplateType
	incoterm     contracts.Incoterm
}

func newEmptySnapshot() *Snapshot {
	return &Snapshot{
		clauseDefs: map[string]ClauseDef{},
		templates:  map[templateKey]contracts.Template{},
		families:   map[string]contracts.FamilySignature{},
		custom:     map[string]bool{},
	}
}

func (s *Snapshot) clone() *Snapshot {
	out := &Snapshot{
		clauseDefs: make(map[string]ClauseDef, len(s.clauseDefs)),
		templates:  make(map[templateKey]contracts.Template, len(s.templates)),
		families:   make(map[string]contracts.FamilySignature, len(s.families)),
		custom:     make(map[string]bool, len(s.custom)),
	}
	for k, v := range s.clauseDefs {
		out.clauseDefs[k] = v
	}
	for k, v := range s.templates {
		out.templates[k] = v
	}
	for k, v := range s.families {
		out.families[k] = v
	}
	for k, v := range s.custom {
		out.custom[k] = v
	}
	return out
}

// ClauseDef looks up a clause type by its canonical id.
func (s *Snapshot) ClauseDef(clauseID string) (ClauseDef, bool) {
	d, ok := s.clauseDefs[clauseID]
	return d, ok
}

// AllClauseDefs returns every registered clause definition as a fixed,
// deterministic walk ordered by Order then ClauseID (§4.3: "a fixed ordered
// pipeline … more specific first"). The result never depends on map
// iteration order, which Go leaves unspecified.
func (s *Snapshot) AllClauseDefs() []ClauseDef {
	out := make([]ClauseDef, 0, len(s.clauseDefs))
	for _, d := range s.clauseDefs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ClauseID < out[j].ClauseID
	})
	return out
}

// ParameterClassMembers returns every clause id registered under the given
// parameter class (§4.2's parameter_class_members operation), sorted for
// determinism. An empty parameterClass returns nil.
func (s *Snapshot) ParameterClassMembers(parameterClass string) []string {
	if parameterClass == "" {
		return nil
	}
	var out []string
	for id, d := range s.clauseDefs {
		if d.ParameterClass == parameterClass {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Template looks up the checklist for a (contract_type, incoterm) pair.
func (s *Snapshot) Template(contractType contracts.TemplateType, incoterm contracts.Incoterm) (contracts.Template, bool) {
	t, ok := s.templates[templateKey{contractType, incoterm}]
	return t, ok
}

// Family looks up a family signature by id.
func (s *Snapshot) Family(familyID string) (contracts.FamilySignature, bool) {
	f, ok := s.families[familyID]
	return f, ok
}

// AllFamilies returns every registered family signature.
func (s *Snapshot) AllFamilies() []contracts.FamilySignature {
	out := make([]contracts.FamilySignature, 0, len(s.families))
	for _, f := range s.families {
		out = append(out, f)
	}
	return out
}

// Registry is the copy-on-write snapshot registry (§9 Design Notes):
// readers call Snapshot() and never block a concurrent writer; writers
// build a new Snapshot from the current one and atomically swap it in, the
// same pattern as the teacher's DynamicRegistry but generalized from a
// single RWMutex-guarded map to an atomic.Pointer[Snapshot].
type Registry struct {
	ptr atomic.Pointer[Snapshot]
}

// New returns an empty Registry. Call the Register* methods to
// populate it; NewDefault returns one pre-seeded with the canonical clause
// catalogue.
func New() *Registry {
	r := &Registry{}
	r.ptr.Store(newEmptySnapshot())
	return r
}

// Snapshot returns the current immutable view.
func (r *Registry) Snapshot() *Snapshot {
	return r.ptr.Load()
}

// RegisterClause adds or replaces one clause definition.
func (r *Registry) RegisterClause(d ClauseDef, custom bool) {
	for {
		cur := r.ptr.Load()
		next := cur.clone()
		next.clauseDefs[d.ClauseID] = d
		if custom {
			next.custom[d.ClauseID] = true
		}
		if r.ptr.CompareAndSwap(cur, next) {
			return
		}
	}
}

// UnregisterClause removes a clause definition by id.
func (r *Registry) UnregisterClause(clauseID string) {
	for {
		cur := r.ptr.Load()
		if _, ok := cur.clauseDefs[clauseID]; !ok {
			return
		}
		next := cur.clone()
		delete(next.clauseDefs, clauseID)
		delete(next.custom, clauseID)
		if r.ptr.CompareAndSwap(cur, next) {
			return
		}
	}
}

// RegisterTemplate adds or replaces a contract template.
func (r *Registry) RegisterTemplate(t contracts.Template) {
	for {
		cur := r.ptr.Load()
		next := cur.clone()
		next.templates[templateKey{t.ContractType, t.Incoterm}] = t
		if r.ptr.CompareAndSwap(cur, next) {
			return
		}
	}
}

// RegisterFamily adds or replaces a family signature.
func (r *Registry) RegisterFamily(f contracts.FamilySignature) {
	for {
		cur := r.ptr.Load()
		next := cur.clone()
		next.families[f.FamilyID] = f
		if r.ptr.CompareAndSwap(cur, next) {
			return
		}
	}
}

// ExportedConfig is the serializable form of one runtime-registered clause
// definition, mirroring the teacher's DynamicRegistry.ExportConfigs shape.
type ExportedConfig struct {
	ClauseDef ClauseDef
}

// Export returns every clause definition that was registered at runtime
// (via RegisterClause with custom=true) rather than seeded at startup,
// letting an operator back up or migrate runtime additions (§ Supplemented
// Features: dynamic registration export/import).
func (r *Registry) Export() []ExportedConfig {
	snap := r.Snapshot()
	out := make([]ExportedConfig, 0, len(snap.custom))
	for id := range snap.custom {
		if d, ok := snap.clauseDefs[id]; ok {
			out = append(out, ExportedConfig{ClauseDef: d})
		}
	}
	return out
}

// LoadExported re-registers a previously exported set of runtime clause
// definitions.
func (r *Registry) LoadExported(cfgs []ExportedConfig) {
	for _, c := range cfgs {
		r.RegisterClause(c.ClauseDef, true)
	}
}
