// Package validator implements TemplateValidator: checking a contract's
// extracted clauses against its template's checklist and the registered
// clause sanity ranges. Grounded on the teacher's pkg/gateway/validate.go
// ValidateThresholds/ValidateResponse, generalized from "are these runtime
// metrics within the contract's numeric bounds" to "does this contract's
// clause set satisfy its template's checklist".
package validator

import (
	"fmt"
	"sort"

	"github.com/Raathmd/ammonia-desk/internal/apperr"
	"github.com/Raathmd/ammonia-desk/pkg/clauses"
	"github.com/Raathmd/ammonia-desk/pkg/contracts"
	"github.com/sirupsen/logrus"
)

// FindingKind is the closed set of validation finding types (§4.4).
type FindingKind string

const (
	FindingMissingRequired FindingKind = "missing_required"
	FindingMissingExpected FindingKind = "missing_expected"
	FindingLowConfidence   FindingKind = "low_confidence"
	FindingValueSuspicious FindingKind = "value_suspicious"
	FindingConflict        FindingKind = "conflict"
)

// Finding is one validation issue surfaced for a contract.
type Finding struct {
	Kind       FindingKind
	ClauseType string
	ClauseID   string
	Detail     string
}

// Result is the outcome of validating one contract against its template.
type Result struct {
	Valid            bool
	Findings         []Finding
	BlocksSubmission bool
}

// Validator checks contracts against the TemplateRegistry's checklists.
type Validator struct {
	registry *clauses.Registry
	// StrictConfidence, when true, excludes low-confidence clauses from
	// satisfying a required/expected checklist entry. Default false per
	// the Open Question decision recorded in DESIGN.md: low-confidence
	// clauses count toward satisfaction by default.
	StrictConfidence bool
	log              *logrus.Logger
}

// New builds a Validator reading templates from reg.
func New(reg *clauses.Registry, log *logrus.Logger) *Validator {
	return &Validator{registry: reg, log: log}
}

// Validate checks contract's clauses against its (template_type, incoterm)
// template. A TemplateUnknown error is returned if no template is
// registered for that pair; this is separate from Result, which only
// carries findings for a template that was found.
func (v *Validator) Validate(c *contracts.Contract) (Result, error) {
	snap := v.registry.Snapshot()
	tmpl, ok := snap.Template(c.TemplateType, c.Incoterm)
	if !ok {
		return Result{}, &apperr.TemplateUnknown{
			TemplateType: string(c.TemplateType), Incoterm: string(c.Incoterm),
		}
	}

	var res Result
	res.Valid = true

	present := map[string]contracts.Clause{}
	for _, cl := range c.Clauses {
		present[cl.ClauseID] = cl
	}

	for _, req := range tmpl.Requirements {
		cl, ok := present[req.ClauseType]
		satisfied := ok
		// §4.2: a requirement is satisfied only if the matched clause's
		// parameter is also a member of the requirement's parameter class
		// (a null parameter class imposes no such constraint).
		if ok && req.ParameterClass != "" {
			if !containsString(snap.ParameterClassMembers(req.ParameterClass), cl.ClauseID) {
				satisfied = false
			}
		}
		if satisfied && v.StrictConfidence && cl.Confidence == contracts.ConfidenceLow {
			satisfied = false
		}
		if !satisfied {
			switch req.Level {
			case contracts.LevelRequired:
				res.Findings = append(res.Findings, Finding{
					Kind: FindingMissingRequired, ClauseType: req.ClauseType,
					Detail: req.Description,
				})
				res.Valid = false
				res.BlocksSubmission = true
			case contracts.LevelExpected:
				res.Findings = append(res.Findings, Finding{
					Kind: FindingMissingExpected, ClauseType: req.ClauseType,
					Detail: req.Description,
				})
			}
			continue
		}

		if cl.Confidence == contracts.ConfidenceLow {
			res.Findings = append(res.Findings, Finding{
				Kind: FindingLowConfidence, ClauseType: req.ClauseType, ClauseID: cl.ClauseID,
				Detail: "clause matched with low confidence, verify manually",
			})
		}

		if def, ok := snap.ClauseDef(cl.ClauseID); ok && def.HasSanity && cl.IsBoundShaped() {
			if cl.Value < def.SanityMin || cl.Value > def.SanityMax {
				res.Findings = append(res.Findings, Finding{
					Kind: FindingValueSuspicious, ClauseType: req.ClauseType, ClauseID: cl.ClauseID,
					Detail: fmt.Sprintf("value %v outside sanity range [%v, %v]", cl.Value, def.SanityMin, def.SanityMax),
				})
			}
		}
	}

	res.Findings = append(res.Findings, v.findConflicts(snap, c)...)
	for _, f := range res.Findings {
		if f.Kind == FindingConflict {
			res.Valid = false
			res.BlocksSubmission = true
		}
	}

	v.log.WithFields(logrus.Fields{
		"contract_id": c.ID, "valid": res.Valid, "findings": len(res.Findings),
	}).Info("template validation complete")

	return res, nil
}

// findConflicts applies §4.4's general rule — for any parameter with both a
// floor (>=, =, or the lower edge of a between) and a ceiling (<=, =, or the
// upper edge of a between) clause, flag a conflict if the highest floor
// exceeds the lowest ceiling — grouping bound-shaped clauses by parameter
// class where one is registered (so min_volume/volume_mt_min and
// max_volume/volume_mt_max, which resolve to different solver variable
// keys but share the "volume" parameter class, are still compared) and
// falling back to the raw Parameter otherwise.
func (v *Validator) findConflicts(snap *clauses.Snapshot, c *contracts.Contract) []Finding {
	type bound struct {
		value    float64
		clauseID string
	}
	floors := map[string][]bound{}
	ceilings := map[string][]bound{}

	for _, cl := range c.Clauses {
		if !cl.IsBoundShaped() {
			continue
		}
		group := cl.Parameter
		if def, ok := snap.ClauseDef(cl.ClauseID); ok && def.ParameterClass != "" {
			group = def.ParameterClass
		}
		switch cl.Operator {
		case contracts.OpGTE:
			floors[group] = append(floors[group], bound{cl.Value, cl.ClauseID})
		case contracts.OpLTE:
			ceilings[group] = append(ceilings[group], bound{cl.Value, cl.ClauseID})
		case contracts.OpEQ:
			floors[group] = append(floors[group], bound{cl.Value, cl.ClauseID})
			ceilings[group] = append(ceilings[group], bound{cl.Value, cl.ClauseID})
		case contracts.OpBetween:
			floors[group] = append(floors[group], bound{cl.Value, cl.ClauseID})
			ceilings[group] = append(ceilings[group], bound{cl.ValueUpper, cl.ClauseID})
		}
	}

	var groups []string
	for g := range floors {
		groups = append(groups, g)
	}
	sort.Strings(groups)

	var out []Finding
	for _, group := range groups {
		ceils, ok := ceilings[group]
		if !ok {
			continue
		}
		maxFloor := floors[group][0]
		for _, f := range floors[group][1:] {
			if f.value > maxFloor.value {
				maxFloor = f
			}
		}
		minCeil := ceils[0]
		for _, cl := range ceils[1:] {
			if cl.value < minCeil.value {
				minCeil = cl
			}
		}
		if maxFloor.value > minCeil.value {
			out = append(out, Finding{
				Kind: FindingConflict, ClauseType: group, ClauseID: maxFloor.clauseID,
				Detail: fmt.Sprintf("%s floor %v exceeds ceiling %v (%s)", group, maxFloor.value, minCeil.value, minCeil.clauseID),
			})
		}
	}
	return out
}

func containsString(ss []string, target string) bool {
	for _, s := range ss {
		if s == target {
			return true
		}
	}
	return false
}
