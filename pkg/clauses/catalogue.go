package clauses

import "github.com/Raathmd/ammonia-desk/pkg/contracts"

// NewDefault returns a Registry pre-seeded with the canonical clause
// catalogue, the seven family signatures, and the standard templates,
// grounded on the teacher's built-in guardrail set in
// pkg/txrepo/dynamic_registry.go (the static fallback tier beneath custom
// and LLM-backed guardrails) generalized to commercial contract clauses.
func NewDefault() *Registry {
	r := New()
	for i, d := range canonicalClauses {
		// canonicalClauses opens with the numeric commercial clauses; derive
		// a stable Order from each entry's position so the matcher pipeline
		// walks it deterministically (§4.3) without hand-numbering entries.
		d.Order = i * 10
		r.RegisterClause(d, false)
	}
	for _, f := range canonicalFamilies {
		r.RegisterFamily(f)
	}
	for _, t := range canonicalTemplates {
		r.RegisterTemplate(t)
	}
	return r
}

var canonicalClauses = []ClauseDef{
	{ClauseID: "volume_quantity", Category: "commercial", Parameter: "volume_mt", ParameterClass: "volume", Anchors: []string{"metric tons", "mt per", "quantity of"}, HasSanity: true, SanityMin: 0, SanityMax: 1_000_000},
	{ClauseID: "contract_price", Category: "commercial", Parameter: "price_usd_per_mt", ParameterClass: "price", Anchors: []string{"price per metric ton", "usd/mt", "contract price"}, HasSanity: true, SanityMin: 0, SanityMax: 10_000},
	{ClauseID: "min_volume", Category: "commercial", Parameter: "volume_mt_min", ParameterClass: "volume", Anchors: []string{"minimum quantity", "not less than"}, HasSanity: true, SanityMin: 0, SanityMax: 1_000_000},
	{ClauseID: "max_volume", Category: "commercial", Parameter: "volume_mt_max", ParameterClass: "volume", Anchors: []string{"maximum quantity", "not more than", "not to exceed"}, HasSanity: true, SanityMin: 0, SanityMax: 1_000_000},
	{ClauseID: "delivery_window", Category: "logistics", Anchors: []string{"laycan", "delivery window", "shipment period"}},
	{ClauseID: "delivery_port", Category: "logistics", Anchors: []string{"port of discharge", "port of loading", "delivery at"}},
	{ClauseID: "incoterm_clause", Category: "logistics", Anchors: []string{"fob", "cfr", "cif", "dap", "ddp", "fca", "exw"}},
	{ClauseID: "payment_terms", Category: "commercial", Anchors: []string{"payment shall be made", "net 30", "letter of credit", "days from bill of lading"}},
	{ClauseID: "quality_spec", Category: "quality", Anchors: []string{"minimum purity", "quality specification", "% nh3"}, HasSanity: true, SanityMin: 0, SanityMax: 100},
	{ClauseID: "moisture_max", Category: "quality", Parameter: "moisture_pct_max", Anchors: []string{"maximum moisture", "moisture content not to exceed"}, HasSanity: true, SanityMin: 0, SanityMax: 100},
	{ClauseID: "volume_shortfall_penalty", Category: "penalty", ParameterClass: "penalty", Anchors: []string{"shortfall penalty", "failure to deliver the minimum", "liquidated damages for volume"}},
	{ClauseID: "late_delivery_penalty", Category: "penalty", ParameterClass: "penalty", Anchors: []string{"late delivery", "demurrage shall accrue", "penalty per day of delay"}},
	{ClauseID: "demurrage_rate", Category: "penalty", ParameterClass: "penalty", Anchors: []string{"demurrage rate", "per running hour", "per day demurrage"}},
	{ClauseID: "force_majeure", Category: "legal", Anchors: []string{"force majeure", "act of god"}},
	{ClauseID: "termination_clause", Category: "legal", Anchors: []string{"termination", "right to terminate"}},
	{ClauseID: "governing_law", Category: "legal", Anchors: []string{"governing law", "laws of", "jurisdiction of"}},
	{ClauseID: "arbitration_clause", Category: "legal", Anchors: []string{"arbitration", "icc rules", "disputes shall be settled"}},
	{ClauseID: "title_transfer", Category: "legal", Anchors: []string{"title shall pass", "risk shall pass", "transfer of title"}},
	{ClauseID: "inspection_rights", Category: "quality", Anchors: []string{"independent inspector", "right to inspect", "surveyor"}},
	{ClauseID: "weighing_method", Category: "quality", Anchors: []string{"weighbridge", "draft survey", "weighing shall be conducted"}},
	{ClauseID: "price_adjustment", Category: "commercial", Anchors: []string{"price shall be adjusted", "escalation clause", "indexed to"}},
	{ClauseID: "currency_clause", Category: "commercial", Anchors: []string{"payable in", "currency of payment"}},
	{ClauseID: "insurance_clause", Category: "logistics", Anchors: []string{"marine insurance", "insured value", "institute cargo clauses"}},
	{ClauseID: "nomination_notice", Category: "logistics", Anchors: []string{"nomination notice", "days prior notice of vessel"}},
	{ClauseID: "demurrage_cap", Category: "penalty", Parameter: "demurrage_cap_usd", ParameterClass: "penalty", Anchors: []string{"demurrage shall not exceed", "capped at"}, HasSanity: true, SanityMin: 0, SanityMax: 10_000_000},
	{ClauseID: "assignment_clause", Category: "legal", Anchors: []string{"shall not assign", "assignment of this agreement"}},
	{ClauseID: "confidentiality_clause", Category: "legal", Anchors: []string{"confidential information", "non-disclosure"}},
	{ClauseID: "sanctions_clause", Category: "legal", Anchors: []string{"sanctions", "export control laws"}},
	{ClauseID: "amendment_clause", Category: "legal", Anchors: []string{"amendment", "modified only in writing"}},
	{ClauseID: "notices_clause", Category: "legal", Anchors: []string{"notices under this agreement", "notice shall be deemed given"}},
	{ClauseID: "spot_settlement", Category: "commercial", Anchors: []string{"spot cargo", "single shipment", "one-off delivery"}},
	{ClauseID: "term_duration", Category: "commercial", Anchors: []string{"this agreement shall remain in effect", "term of this agreement", "effective until"}},
}

var canonicalFamilies = []contracts.FamilySignature{
	{
		FamilyID: "long_term_fob_supply", Direction: "purchase", TermType: contracts.TermLongTerm, Transport: "ocean",
		DefaultIncoterms: []contracts.Incoterm{contracts.IncotermFOB},
		DetectAnchors:    []string{"laycan", "port of loading", "this agreement shall remain in effect"},
		ExpectedClauseIDs: []string{"volume_quantity", "contract_price", "delivery_window", "incoterm_clause", "payment_terms", "quality_spec"},
	},
	{
		FamilyID: "long_term_cif_sale", Direction: "sale", TermType: contracts.TermLongTerm, Transport: "ocean",
		DefaultIncoterms: []contracts.Incoterm{contracts.IncotermCIF, contracts.IncotermCFR},
		DetectAnchors:    []string{"port of discharge", "insured value", "term of this agreement"},
		ExpectedClauseIDs: []string{"volume_quantity", "contract_price", "delivery_window", "incoterm_clause", "insurance_clause"},
	},
	{
		FamilyID: "spot_fob_cargo", Direction: "purchase", TermType: contracts.TermSpot, Transport: "ocean",
		DefaultIncoterms: []contracts.Incoterm{contracts.IncotermFOB},
		DetectAnchors:    []string{"spot cargo", "single shipment"},
		ExpectedClauseIDs: []string{"volume_quantity", "contract_price", "delivery_window"},
	},
	{
		FamilyID: "spot_cif_cargo", Direction: "sale", TermType: contracts.TermSpot, Transport: "ocean",
		DefaultIncoterms: []contracts.Incoterm{contracts.IncotermCIF},
		DetectAnchors:    []string{"spot cargo", "one-off delivery"},
		ExpectedClauseIDs: []string{"volume_quantity", "contract_price", "delivery_window"},
	},
	{
		FamilyID: "rail_dap_domestic", Direction: "sale", TermType: contracts.TermLongTerm, Transport: "rail",
		DefaultIncoterms: []contracts.Incoterm{contracts.IncotermDAP},
		DetectAnchors:    []string{"rail car", "railcar", "domestic delivery"},
		ExpectedClauseIDs: []string{"volume_quantity", "contract_price", "delivery_window"},
	},
	{
		FamilyID: "truck_ddp_domestic", Direction: "sale", TermType: contracts.TermSpot, Transport: "truck",
		DefaultIncoterms: []contracts.Incoterm{contracts.IncotermDDP},
		DetectAnchors:    []string{"truck delivery", "trucked to"},
		ExpectedClauseIDs: []string{"volume_quantity", "contract_price"},
	},
	{
		FamilyID: "ex_works_pickup", Direction: "sale", TermType: contracts.TermSpot, Transport: "pickup",
		DefaultIncoterms: []contracts.Incoterm{contracts.IncotermEXW},
		DetectAnchors:    []string{"ex works", "buyer shall collect"},
		ExpectedClauseIDs: []string{"volume_quantity", "contract_price"},
	},
}

var canonicalTemplates = []contracts.Template{
	{
		ContractType: contracts.TemplatePurchase, Incoterm: contracts.IncotermFOB,
		Requirements: []contracts.ClauseRequirement{
			{ClauseType: "volume_quantity", ParameterClass: "volume", Level: contracts.LevelRequired, Description: "contracted volume"},
			{ClauseType: "contract_price", ParameterClass: "price", Level: contracts.LevelRequired, Description: "unit price"},
			{ClauseType: "delivery_window", Level: contracts.LevelRequired, Description: "laycan or shipment period"},
			{ClauseType: "incoterm_clause", Level: contracts.LevelRequired, Description: "incoterm"},
			{ClauseType: "payment_terms", Level: contracts.LevelExpected, Description: "payment terms"},
			{ClauseType: "quality_spec", Level: contracts.LevelExpected, Description: "quality specification"},
			{ClauseType: "volume_shortfall_penalty", ParameterClass: "penalty", Level: contracts.LevelOptional, Description: "shortfall penalty"},
			{ClauseType: "force_majeure", Level: contracts.LevelOptional, Description: "force majeure"},
		},
	},
	{
		ContractType: contracts.TemplateSale, Incoterm: contracts.IncotermCIF,
		Requirements: []contracts.ClauseRequirement{
			{ClauseType: "volume_quantity", ParameterClass: "volume", Level: contracts.LevelRequired, Description: "contracted volume"},
			{ClauseType: "contract_price", ParameterClass: "price", Level: contracts.LevelRequired, Description: "unit price"},
			{ClauseType: "delivery_window", Level: contracts.LevelRequired, Description: "laycan or shipment period"},
			{ClauseType: "incoterm_clause", Level: contracts.LevelRequired, Description: "incoterm"},
			{ClauseType: "insurance_clause", Level: contracts.LevelExpected, Description: "marine insurance"},
			{ClauseType: "late_delivery_penalty", ParameterClass: "penalty", Level: contracts.LevelOptional, Description: "late delivery penalty"},
		},
	},
	{
		ContractType: contracts.TemplateSpotPurchase, Incoterm: contracts.IncotermFOB,
		Requirements: []contracts.ClauseRequirement{
			{ClauseType: "volume_quantity", ParameterClass: "volume", Level: contracts.LevelRequired, Description: "cargo volume"},
			{ClauseType: "contract_price", ParameterClass: "price", Level: contracts.LevelRequired, Description: "unit price"},
			{ClauseType: "delivery_window", Level: contracts.LevelExpected, Description: "delivery window"},
		},
	},
	{
		ContractType: contracts.TemplateSpotSale, Incoterm: contracts.IncotermCIF,
		Requirements: []contracts.ClauseRequirement{
			{ClauseType: "volume_quantity", ParameterClass: "volume", Level: contracts.LevelRequired, Description: "cargo volume"},
			{ClauseType: "contract_price", ParameterClass: "price", Level: contracts.LevelRequired, Description: "unit price"},
			{ClauseType: "delivery_window", Level: contracts.LevelExpected, Description: "delivery window"},
		},
	},
}
