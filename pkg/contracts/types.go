// Package contracts defines the shared data model for physical commodity
// contracts: the Contract/Clause record shapes, their enums, and the small
// value types (Template, FamilySignature, PenaltyScheduleEntry) that the
// rest of the system projects them through.
package contracts

import "time"

// TemplateType classifies a contract's commercial direction.
type TemplateType string

const (
	TemplatePurchase     TemplateType = "purchase"
	TemplateSale         TemplateType = "sale"
	TemplateSpotPurchase TemplateType = "spot_purchase"
	TemplateSpotSale     TemplateType = "spot_sale"
)

// Incoterm is the delivery term governing risk and cost transfer.
type Incoterm string

const (
	IncotermFOB  Incoterm = "FOB"
	IncotermCFR  Incoterm = "CFR"
	IncotermCIF  Incoterm = "CIF"
	IncotermDAP  Incoterm = "DAP"
	IncotermDDP  Incoterm = "DDP"
	IncotermFCA  Incoterm = "FCA"
	IncotermEXW  Incoterm = "EXW"
	IncotermNone Incoterm = ""
)

// TermType distinguishes spot deals from long-term agreements.
type TermType string

const (
	TermSpot      TermType = "spot"
	TermLongTerm  TermType = "long_term"
)

// CounterpartyType says which side of the book the counterparty sits on.
type CounterpartyType string

const (
	CounterpartySupplier CounterpartyType = "supplier"
	CounterpartyCustomer CounterpartyType = "customer"
)

// VerificationStatus reflects the result of the last freshness check
// against the remote document store.
type VerificationStatus string

const (
	VerificationVerified     VerificationStatus = "verified"
	VerificationStale        VerificationStatus = "stale"
	VerificationFileNotFound VerificationStatus = "file_not_found"
	VerificationUnverified   VerificationStatus = "unverified"
)

// ReviewStatus is the contract's position in the review workflow state
// machine: draft -> pending_review -> {approved, rejected}; approved ->
// superseded only; rejected is terminal.
type ReviewStatus string

const (
	StatusDraft          ReviewStatus = "draft"
	StatusPendingReview  ReviewStatus = "pending_review"
	StatusApproved       ReviewStatus = "approved"
	StatusRejected       ReviewStatus = "rejected"
	StatusSuperseded     ReviewStatus = "superseded"
)

// SourceFormat is the original document's file extension family.
type SourceFormat string

const (
	FormatPDF  SourceFormat = "pdf"
	FormatDOCX SourceFormat = "docx"
	FormatDOCM SourceFormat = "docm"
	FormatTXT  SourceFormat = "txt"
)

// Confidence is the parser's self-assessed reliability for one clause.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Operator is a bound-shaped clause's comparison relation.
type Operator string

const (
	OpGTE     Operator = ">="
	OpLTE     Operator = "<="
	OpEQ      Operator = "="
	OpBetween Operator = "between"
)

// Period names the cadence a bound-shaped clause applies over.
type Period string

const (
	PeriodSpot      Period = "spot"
	PeriodMonthly   Period = "monthly"
	PeriodQuarterly Period = "quarterly"
	PeriodAnnual    Period = "annual"
)

// FieldValue is a typed extracted field: numeric, string, or enum. Only one
// of Number/Text is populated; IsEnum marks Text as drawn from a closed set
// rather than free text.
type FieldValue struct {
	Number *float64 `json:"number,omitempty"`
	Text   string   `json:"text,omitempty"`
	IsEnum bool     `json:"is_enum,omitempty"`
}

// NumberValue builds a numeric FieldValue.
func NumberValue(v float64) FieldValue { return FieldValue{Number: &v} }

// TextValue builds a free-text FieldValue.
func TextValue(v string) FieldValue { return FieldValue{Text: v} }

// EnumValue builds an enum-typed FieldValue.
func EnumValue(v string) FieldValue { return FieldValue{Text: v, IsEnum: true} }

// Clause is one recognised provision lifted from a contract's free-form
// text, per spec §3.
type Clause struct {
	ClauseID        string                `json:"clause_id"`
	Category        string                `json:"category"`
	ExtractedFields map[string]FieldValue `json:"extracted_fields,omitempty"`
	SourceText      string                `json:"source_text"`
	SectionRef      string                `json:"section_ref"`
	AnchorsMatched  []string              `json:"anchors_matched,omitempty"`
	Confidence      Confidence            `json:"confidence"`

	// Bound-shaped fields. Populated only for clauses that resolve to a
	// solver variable or a penalty; zero value otherwise.
	Parameter     string   `json:"parameter,omitempty"`
	Operator      Operator `json:"operator,omitempty"`
	Value         float64  `json:"value,omitempty"`
	ValueUpper    float64  `json:"value_upper,omitempty"`
	Unit          string   `json:"unit,omitempty"`
	PenaltyPerUnit float64 `json:"penalty_per_unit,omitempty"`
	PenaltyCap    float64  `json:"penalty_cap,omitempty"`
	Period        Period   `json:"period,omitempty"`
}

// IsBoundShaped reports whether the clause carries an applicable
// parameter/operator/value tuple rather than being purely informational.
func (c Clause) IsBoundShaped() bool {
	return c.Parameter != "" && c.Operator != ""
}

// CanonicalKey is the identity under which contract versions chain:
// (normalised_counterparty, product_group).
type CanonicalKey struct {
	NormalizedCounterparty string
	ProductGroup           string
}

// Contract is one logical agreement with a counterparty, per spec §3.
type Contract struct {
	ID      string `json:"id"`
	Version int    `json:"version"`

	// Provenance
	SourceFileName     string             `json:"source_file_name"`
	SourceFormat       SourceFormat       `json:"source_format"`
	FileSizeBytes      int64              `json:"file_size_bytes"`
	FileHash           string             `json:"file_hash"`
	PreviousHash       string             `json:"previous_hash"`
	RemoteItemID       string             `json:"remote_item_id"`
	RemoteDriveID      string             `json:"remote_drive_id"`
	LastVerifiedAt     time.Time          `json:"last_verified_at"`
	VerificationStatus VerificationStatus `json:"verification_status"`

	// Classification
	TemplateType TemplateType `json:"template_type"`
	Incoterm     Incoterm     `json:"incoterm"`
	FamilyID     string       `json:"family_id"`
	TermType     TermType     `json:"term_type"`
	Company      string       `json:"company"`

	// Commercial
	ContractNumber   string           `json:"contract_number"`
	EffectiveDate    time.Time        `json:"effective_date"`
	ExpiryDate       time.Time        `json:"expiry_date"`
	Counterparty     string           `json:"counterparty"`
	CounterpartyType CounterpartyType `json:"counterparty_type"`
	ProductGroup     string           `json:"product_group"`
	OpenPosition     *float64         `json:"open_position,omitempty"`

	// Review
	Status          ReviewStatus `json:"status"`
	ReviewedBy      string       `json:"reviewed_by,omitempty"`
	ReviewedAt      time.Time    `json:"reviewed_at,omitempty"`
	ReviewNotes     string       `json:"review_notes,omitempty"`
	SAPValidated    bool         `json:"sap_validated"`
	SAPDiscrepancies []string    `json:"sap_discrepancies,omitempty"`

	// Content
	Clauses []Clause `json:"clauses"`
}

// CanonicalKey computes the contract's canonical key.
func (c *Contract) CanonicalKey() CanonicalKey {
	return CanonicalKey{
		NormalizedCounterparty: NormalizeCounterparty(c.Counterparty),
		ProductGroup:           c.ProductGroup,
	}
}

// IsActive reports whether the contract belongs to the "active set" as
// defined in the glossary: approved, unexpired, SAP-validated, open
// position set.
func (c *Contract) IsActive(now time.Time) bool {
	return c.Status == StatusApproved &&
		c.ExpiryDate.After(now) &&
		c.SAPValidated &&
		c.OpenPosition != nil
}

// ClauseByID returns the first clause with the given canonical clause id.
func (c *Contract) ClauseByID(clauseID string) (Clause, bool) {
	for _, cl := range c.Clauses {
		if cl.ClauseID == clauseID {
			return cl, true
		}
	}
	return Clause{}, false
}

// ClausesByParameter returns every clause resolving to the given solver
// variable key, in section order.
func (c *Contract) ClausesByParameter(parameter string) []Clause {
	var out []Clause
	for _, cl := range c.Clauses {
		if cl.Parameter == parameter {
			out = append(out, cl)
		}
	}
	return out
}

// RequirementLevel is how strongly a template requires a clause type.
type RequirementLevel string

const (
	LevelRequired RequirementLevel = "required"
	LevelExpected RequirementLevel = "expected"
	LevelOptional RequirementLevel = "optional"
)

// ClauseRequirement is one row of a Template's checklist.
type ClauseRequirement struct {
	ClauseType     string           `json:"clause_type"`
	ParameterClass string           `json:"parameter_class,omitempty"`
	Level          RequirementLevel `json:"level"`
	Description    string           `json:"description"`
}

// Template maps a (contract_type, incoterm) pair to its ordered clause
// checklist.
type Template struct {
	ContractType TemplateType        `json:"contract_type"`
	Incoterm     Incoterm             `json:"incoterm"`
	Requirements []ClauseRequirement `json:"requirements"`
}

// FamilySignature is a coarse contract archetype used for auto-detection
// and default classification.
type FamilySignature struct {
	FamilyID            string     `json:"family_id"`
	Direction            string     `json:"direction"`
	TermType             TermType   `json:"term_type"`
	Transport            string     `json:"transport"`
	DefaultIncoterms     []Incoterm `json:"default_incoterms"`
	DetectAnchors        []string   `json:"detect_anchors"`
	ExpectedClauseIDs    []string   `json:"expected_clause_ids"`
}

// PenaltyType names one of the three penalty rate kinds a contract may
// carry.
type PenaltyType string

const (
	PenaltyVolumeShortfall PenaltyType = "volume_shortfall"
	PenaltyLateDelivery    PenaltyType = "late_delivery"
	PenaltyDemurrage       PenaltyType = "demurrage"
)

// PenaltyScheduleEntry is one row of the solver's penalty schedule,
// projected from an approved contract's penalty clauses.
type PenaltyScheduleEntry struct {
	Counterparty string      `json:"counterparty"`
	PenaltyType  PenaltyType `json:"penalty_type"`
	RatePerTon   float64     `json:"rate_per_ton"`
	OpenQty      float64     `json:"open_qty"`
	MaxExposure  float64     `json:"max_exposure"`
	Incoterm     Incoterm    `json:"incoterm"`
	Direction    string      `json:"direction"`
}
