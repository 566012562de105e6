// Package readiness implements ReadinessGate: the four-level check a
// product group's approved contracts must pass before ConstraintBridge and
// SolvePipeline will treat them as live (§4.10): extraction, review,
// activation, freshness.
//
// Grounded on the teacher's internal/validation/validator.go Validator,
// which already runs a multi-step check (blockchain-or-cache validation,
// suite allowlist) and logs a structured pass/fail outcome; generalized
// from one external-commitment check into the four-level internal
// readiness checklist spec.md §4.10 names.
package readiness

import (
	"time"

	"github.com/Raathmd/ammonia-desk/pkg/contracts"
	"github.com/Raathmd/ammonia-desk/pkg/validator"
	"github.com/sirupsen/logrus"
)

// Level is one of the four readiness checks.
type Level string

const (
	LevelExtraction Level = "extraction"
	LevelReview     Level = "review"
	LevelActivation Level = "activation"
	LevelFreshness  Level = "freshness"
)

// Issue is one readiness failure for one contract.
type Issue struct {
	Level      Level
	ContractID string
	Detail     string
}

// Report is the outcome of a readiness check for one product group.
type Report struct {
	ProductGroup string
	Ready        bool
	Issues       []Issue
}

// Thresholds mirrors internal/config.ReadinessConfig.
type Thresholds struct {
	MaxDocumentAge     time.Duration
	MaxVerificationAge time.Duration
	MaxSAPAge          time.Duration
}

// Gate checks a product group's candidate contracts (typically its
// currently-approved set) against the four levels.
type Gate struct {
	thresholds Thresholds
	validator  *validator.Validator
	log        *logrus.Logger
}

// New builds a Gate with the given staleness thresholds. v backs the
// extraction level's missing_required check (§4.10 level 1).
func New(thresholds Thresholds, v *validator.Validator, log *logrus.Logger) *Gate {
	return &Gate{thresholds: thresholds, validator: v, log: log}
}

// Check runs all four levels over candidates and returns one Report. now is
// passed in rather than read from time.Now() so callers (and tests) fully
// control freshness evaluation.
func (g *Gate) Check(productGroup string, candidates []contracts.Contract, now time.Time) Report {
	report := Report{ProductGroup: productGroup, Ready: true}

	for _, c := range candidates {
		if len(c.Clauses) == 0 {
			report.Issues = append(report.Issues, Issue{Level: LevelExtraction, ContractID: c.ID, Detail: "no clauses extracted"})
		} else if g.validator != nil {
			res, err := g.validator.Validate(&c)
			if err != nil {
				report.Issues = append(report.Issues, Issue{Level: LevelExtraction, ContractID: c.ID, Detail: "template validation failed: " + err.Error()})
			} else {
				for _, f := range res.Findings {
					if f.Kind == validator.FindingMissingRequired {
						report.Issues = append(report.Issues, Issue{Level: LevelExtraction, ContractID: c.ID, Detail: "missing required clause: " + f.ClauseType})
					}
				}
			}
		}

		if c.Status != contracts.StatusApproved {
			report.Issues = append(report.Issues, Issue{Level: LevelReview, ContractID: c.ID, Detail: "contract is not in approved status: " + string(c.Status)})
		}

		if !c.SAPValidated {
			report.Issues = append(report.Issues, Issue{Level: LevelActivation, ContractID: c.ID, Detail: "not SAP validated"})
		}
		if c.OpenPosition == nil {
			report.Issues = append(report.Issues, Issue{Level: LevelActivation, ContractID: c.ID, Detail: "open position not set"})
		}
		if !c.ExpiryDate.IsZero() && !c.ExpiryDate.After(now) {
			report.Issues = append(report.Issues, Issue{Level: LevelActivation, ContractID: c.ID, Detail: "contract has expired"})
		}

		switch c.VerificationStatus {
		case contracts.VerificationVerified:
			if g.thresholds.MaxVerificationAge > 0 && now.Sub(c.LastVerifiedAt) > g.thresholds.MaxVerificationAge {
				report.Issues = append(report.Issues, Issue{Level: LevelFreshness, ContractID: c.ID, Detail: "verification stale"})
			}
		case contracts.VerificationFileNotFound:
			report.Issues = append(report.Issues, Issue{Level: LevelFreshness, ContractID: c.ID, Detail: "source file not found at remote store"})
		default:
			report.Issues = append(report.Issues, Issue{Level: LevelFreshness, ContractID: c.ID, Detail: "verification status: " + string(c.VerificationStatus)})
		}
	}

	report.Ready = len(report.Issues) == 0

	g.log.WithFields(logrus.Fields{
		"product_group": productGroup, "ready": report.Ready, "issues": len(report.Issues),
	}).Info("readiness check complete")

	return report
}

// IssueStrings flattens each issue into a "level: contract_id: detail"
// string, for callers (like pkg/bridge's ReadyCheck function type) that
// only need a flat issue list.
func (r Report) IssueStrings() []string {
	out := make([]string, 0, len(r.Issues))
	for _, i := range r.Issues {
		out = append(out, string(i.Level)+": "+i.ContractID+": "+i.Detail)
	}
	return out
}
