// Package review implements ReviewWorkflow: the role-gated finite state
// machine a contract moves through on its way to becoming part of the
// active set (§4.8). Grounded on the teacher's pkg/gateway/validate.go
// ValidateResponse's structured decision logging
// (`log.WithFields(...).Info/Warn` on pass/fail) and on
// pkg/txrepo/dynamic_registry.go's role-keyed lookup idiom, generalized
// into an explicit state machine with one allowed transition per role.
package review

import (
	"fmt"

	"github.com/Raathmd/ammonia-desk/pkg/contracts"
	"github.com/sirupsen/logrus"
)

// Role is a reviewer's permission level.
type Role string

const (
	RoleTrader Role = "trader"
	RoleRisk   Role = "risk"
	RoleOps    Role = "ops"
)

// transition is one allowed (from, role) -> to edge of the state machine:
// draft -> pending_review (any role may submit); pending_review ->
// {approved, rejected} (risk or ops only); approved -> superseded is
// system-driven, not reviewer-driven, and is handled by pkg/store directly.
type transition struct {
	from contracts.ReviewStatus
	to   contracts.ReviewStatus
}

var allowedByRole = map[Role]map[transition]bool{
	RoleTrader: {
		{contracts.StatusDraft, contracts.StatusPendingReview}: true,
	},
	RoleRisk: {
		{contracts.StatusDraft, contracts.StatusPendingReview}:         true,
		{contracts.StatusPendingReview, contracts.StatusApproved}:      true,
		{contracts.StatusPendingReview, contracts.StatusRejected}:      true,
	},
	RoleOps: {
		{contracts.StatusDraft, contracts.StatusPendingReview}:         true,
		{contracts.StatusPendingReview, contracts.StatusApproved}:      true,
		{contracts.StatusPendingReview, contracts.StatusRejected}:      true,
	},
}

// TransitionError is raised when a role attempts a transition the state
// machine does not permit.
type TransitionError struct {
	From contracts.ReviewStatus
	To   contracts.ReviewStatus
	Role Role
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("role %s may not transition contract from %s to %s", e.Role, e.From, e.To)
}

// Decision is the record of one review action, to be persisted by the
// caller (typically appended to the audit log) alongside the store
// mutation.
type Decision struct {
	ContractID string
	Version    int
	From       contracts.ReviewStatus
	To         contracts.ReviewStatus
	ActedBy    string
	Role       Role
	Notes      string
}

// Workflow validates review transitions against the role-gated state
// machine. It does not itself own storage; callers apply the resulting
// Decision to pkg/store.
type Workflow struct {
	log *logrus.Logger
}

// New builds a Workflow.
func New(log *logrus.Logger) *Workflow {
	return &Workflow{log: log}
}

// Submit moves a draft contract into pending_review. Any role may submit.
func (w *Workflow) Submit(c *contracts.Contract, actedBy string, role Role) (Decision, error) {
	return w.transition(c, contracts.StatusPendingReview, actedBy, role, "")
}

// Approve moves a pending_review contract into approved. Only risk or ops
// may approve.
func (w *Workflow) Approve(c *contracts.Contract, actedBy string, role Role, notes string) (Decision, error) {
	return w.transition(c, contracts.StatusApproved, actedBy, role, notes)
}

// Reject moves a pending_review contract into rejected, a terminal state.
// Only risk or ops may reject.
func (w *Workflow) Reject(c *contracts.Contract, actedBy string, role Role, notes string) (Decision, error) {
	return w.transition(c, contracts.StatusRejected, actedBy, role, notes)
}

func (w *Workflow) transition(c *contracts.Contract, to contracts.ReviewStatus, actedBy string, role Role, notes string) (Decision, error) {
	t := transition{from: c.Status, to: to}
	if !allowedByRole[role][t] {
		w.log.WithFields(logrus.Fields{
			"contract_id": c.ID, "from": c.Status, "to": to, "role": role, "acted_by": actedBy,
		}).Warn("review transition denied")
		return Decision{}, &TransitionError{From: c.Status, To: to, Role: role}
	}

	d := Decision{
		ContractID: c.ID, Version: c.Version, From: c.Status, To: to,
		ActedBy: actedBy, Role: role, Notes: notes,
	}

	w.log.WithFields(logrus.Fields{
		"contract_id": c.ID, "from": d.From, "to": d.To, "role": role, "acted_by": actedBy,
	}).Info("review transition accepted")

	return d, nil
}
