// Package apperr defines the closed set of error kinds the ammonia desk
// raises, per spec §7. Each kind is a distinct struct type so callers can
// discriminate with errors.As instead of string-matching or a tagged enum.
package apperr

import "fmt"

// UnsupportedFormat is raised when a source document's extension is not one
// of pdf/docx/docm/txt.
type UnsupportedFormat struct {
	FileName string
	Ext      string
}

func (e *UnsupportedFormat) Error() string {
	return fmt.Sprintf("unsupported source format %q for %s", e.Ext, e.FileName)
}

// ExtractFailed wraps a failure to pull plain text out of a source document.
type ExtractFailed struct {
	FileName string
	Err      error
}

func (e *ExtractFailed) Error() string {
	return fmt.Sprintf("extract failed for %s: %v", e.FileName, e.Err)
}
func (e *ExtractFailed) Unwrap() error { return e.Err }

// ParseWarn is a non-fatal clause-parsing issue recorded alongside a
// contract rather than aborting ingestion.
type ParseWarn struct {
	ContractID string
	SectionRef string
	Msg        string
}

func (e *ParseWarn) Error() string {
	return fmt.Sprintf("parse warning on %s at %s: %s", e.ContractID, e.SectionRef, e.Msg)
}

// TemplateUnknown is raised when a contract's (template_type, incoterm)
// pair has no registered Template.
type TemplateUnknown struct {
	TemplateType string
	Incoterm     string
}

func (e *TemplateUnknown) Error() string {
	return fmt.Sprintf("no template registered for type=%s incoterm=%s", e.TemplateType, e.Incoterm)
}

// MissingRequiredClause is raised by TemplateValidator when a required
// clause type is absent.
type MissingRequiredClause struct {
	ContractID string
	ClauseType string
}

func (e *MissingRequiredClause) Error() string {
	return fmt.Sprintf("contract %s missing required clause %s", e.ContractID, e.ClauseType)
}

// SuspiciousValue is raised when an extracted value falls outside the
// registered sanity range for its clause type.
type SuspiciousValue struct {
	ContractID string
	ClauseID   string
	Value      float64
}

func (e *SuspiciousValue) Error() string {
	return fmt.Sprintf("contract %s clause %s has suspicious value %v", e.ContractID, e.ClauseID, e.Value)
}

// ScannerUnavailable means the scanner subprocess could not be reached or
// is not running.
type ScannerUnavailable struct{ Err error }

func (e *ScannerUnavailable) Error() string { return fmt.Sprintf("scanner unavailable: %v", e.Err) }
func (e *ScannerUnavailable) Unwrap() error { return e.Err }

// ScannerCrashed means the scanner subprocess exited unexpectedly mid-command.
type ScannerCrashed struct{ Err error }

func (e *ScannerCrashed) Error() string { return fmt.Sprintf("scanner crashed: %v", e.Err) }
func (e *ScannerCrashed) Unwrap() error { return e.Err }

// TokenError wraps a bearer-token acquisition or refresh failure.
type TokenError struct{ Err error }

func (e *TokenError) Error() string { return fmt.Sprintf("token error: %v", e.Err) }
func (e *TokenError) Unwrap() error { return e.Err }

// RemoteAPIError wraps a non-2xx response from the remote document store.
type RemoteAPIError struct {
	StatusCode int
	Body       string
}

func (e *RemoteAPIError) Error() string {
	return fmt.Sprintf("remote api error: status=%d body=%s", e.StatusCode, e.Body)
}

// FetchFailed wraps a failure to download a document's bytes.
type FetchFailed struct {
	ItemID string
	Err    error
}

func (e *FetchFailed) Error() string { return fmt.Sprintf("fetch failed for %s: %v", e.ItemID, e.Err) }
func (e *FetchFailed) Unwrap() error { return e.Err }

// LLMError wraps a failure in the LLM cross-check second pass. It is never
// fatal to ingestion; the deterministic parse remains authoritative.
type LLMError struct{ Err error }

func (e *LLMError) Error() string { return fmt.Sprintf("llm cross-check error: %v", e.Err) }
func (e *LLMError) Unwrap() error { return e.Err }

// IngestFailed wraps a failure that aborted ingestion of one document.
type IngestFailed struct {
	FileName string
	Err      error
}

func (e *IngestFailed) Error() string { return fmt.Sprintf("ingest failed for %s: %v", e.FileName, e.Err) }
func (e *IngestFailed) Unwrap() error { return e.Err }

// InvariantViolated is raised when a write would break a documented
// data-model invariant (e.g. two approved versions for one canonical key).
type InvariantViolated struct{ Msg string }

func (e *InvariantViolated) Error() string { return fmt.Sprintf("invariant violated: %s", e.Msg) }

// SolverTimeout means the solver subprocess did not respond within its
// configured deadline.
type SolverTimeout struct{ Phase string }

func (e *SolverTimeout) Error() string { return fmt.Sprintf("solver timeout during %s", e.Phase) }

// SolverCrashed means the solver subprocess exited unexpectedly.
type SolverCrashed struct{ Err error }

func (e *SolverCrashed) Error() string { return fmt.Sprintf("solver crashed: %v", e.Err) }
func (e *SolverCrashed) Unwrap() error { return e.Err }

// SolverInfeasible means the solver completed and reported no feasible
// solution for the given bounds.
type SolverInfeasible struct{ ProductGroup string }

func (e *SolverInfeasible) Error() string {
	return fmt.Sprintf("solver reported infeasible for product group %s", e.ProductGroup)
}

// NotReady is raised when a solve is requested for a product group that
// fails the readiness gate.
type NotReady struct {
	ProductGroup string
	Issues       []string
}

func (e *NotReady) Error() string {
	return fmt.Sprintf("product group %s not ready: %v", e.ProductGroup, e.Issues)
}

// PersistError wraps a durable-log write or recovery failure.
type PersistError struct{ Err error }

func (e *PersistError) Error() string { return fmt.Sprintf("persist error: %v", e.Err) }
func (e *PersistError) Unwrap() error { return e.Err }
