// Package parser implements the deterministic ClauseParser: a paragraph
// splitter feeding an ordered, anchor-based matcher pipeline, grounded on
// the teacher's pkg/txrepo/extractors.go regex pattern matchers
// (PIIDetectorV1, GroundingAnalyzerV1, ...), generalized from a fixed set
// of compliance detectors into a registry-driven clause matcher that walks
// every ClauseDef the TemplateRegistry currently knows about.
//
// The deterministic parse is authoritative (§9 Design Notes); the LLM
// second pass in pkg/llmcheck only reports disagreements, it never
// overrides a clause this package extracted.
package parser

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Raathmd/ammonia-desk/pkg/clauses"
	"github.com/Raathmd/ammonia-desk/pkg/contracts"
)

var (
	paragraphSplit = regexp.MustCompile(`\n\s*\n+`)
	numberPattern  = regexp.MustCompile(`[-+]?[0-9][0-9,]*(?:\.[0-9]+)?`)
	sectionRefPattern = regexp.MustCompile(`(?i)^\s*(section\s+\d+(\.\d+)*|\d+(\.\d+)+|article\s+[ivxlcdm]+)\b`)

	atLeastPattern  = regexp.MustCompile(`(?i)not less than|minimum of|at least`)
	atMostPattern   = regexp.MustCompile(`(?i)not more than|not to exceed|maximum of|shall not exceed|up to`)
	betweenPattern  = regexp.MustCompile(`(?i)between\s+([0-9.,]+)\s+and\s+([0-9.,]+)`)

	monthlyPattern   = regexp.MustCompile(`(?i)\bmonthly\b|per month`)
	quarterlyPattern = regexp.MustCompile(`(?i)\bquarterly\b|per quarter`)
	annualPattern    = regexp.MustCompile(`(?i)\bannual(ly)?\b|per year|per annum`)
	spotPeriodPattern = regexp.MustCompile(`(?i)\bspot\b|single shipment|one-off`)

	unitMTPattern  = regexp.MustCompile(`(?i)metric tons?|mt\b`)
	unitUSDPattern = regexp.MustCompile(`(?i)usd|\$|dollars`)
	unitPctPattern = regexp.MustCompile(`%|percent`)
)

// Warning is a non-fatal parse issue recorded alongside a contract rather
// than aborting ingestion, matching spec.md's ParseWarn error kind.
type Warning struct {
	SectionRef string
	Msg        string
}

// Result is the outcome of parsing one document's plain text.
type Result struct {
	Clauses  []contracts.Clause
	FamilyID string
	Warnings []Warning
}

// Parser matches clause anchors from the registry's current snapshot
// against a document's paragraphs.
type Parser struct {
	registry *clauses.Registry
}

// New returns a Parser reading clause definitions from reg.
func New(reg *clauses.Registry) *Parser {
	return &Parser{registry: reg}
}

// Parse splits text into paragraphs and runs the ordered matcher pipeline
// over each, then runs family auto-detection and an embedded-penalty
// second pass, and finally dedups by clause id.
func (p *Parser) Parse(text string) Result {
	snap := p.registry.Snapshot()
	paragraphs := splitParagraphs(text)

	var result Result
	seen := map[string]int{} // clause_id -> index into result.Clauses, for dedup

	for _, para := range paragraphs {
		for _, def := range snap.AllClauseDefs() {
			anchors := matchedAnchors(para.text, def.Anchors)
			if len(anchors) == 0 {
				continue
			}
			cl := buildClause(def, para, anchors)
			mergeOrAppend(&result, seen, cl)
		}
		// Embedded penalty sub-clause second pass: a delivery or pricing
		// paragraph frequently carries a penalty rate inline (e.g. a
		// demurrage sentence tacked onto a laycan clause). Re-scan the same
		// paragraph against only the penalty category so it is captured as
		// its own clause even when the paragraph's primary anchor matched a
		// non-penalty clause type.
		for _, def := range snap.AllClauseDefs() {
			if def.Category != "penalty" {
				continue
			}
			if _, already := seen[def.ClauseID]; already {
				continue
			}
			anchors := matchedAnchors(para.text, def.Anchors)
			if len(anchors) == 0 {
				continue
			}
			cl := buildClause(def, para, anchors)
			mergeOrAppend(&result, seen, cl)
		}
	}

	result.FamilyID = detectFamily(snap, text)

	// §4.3: output is ordered by section_ref; §8 requires the result depend
	// only on normalise(text), so this sort (not paragraph-scan order) is
	// the authoritative ordering.
	sort.SliceStable(result.Clauses, func(i, j int) bool {
		a, b := result.Clauses[i], result.Clauses[j]
		if a.SectionRef != b.SectionRef {
			return a.SectionRef < b.SectionRef
		}
		return a.ClauseID < b.ClauseID
	})

	for _, cl := range result.Clauses {
		if cl.Confidence == contracts.ConfidenceLow {
			result.Warnings = append(result.Warnings, Warning{
				SectionRef: cl.SectionRef,
				Msg:        fmt.Sprintf("low-confidence match for clause %s", cl.ClauseID),
			})
		}
	}

	return result
}

type paragraph struct {
	text       string
	sectionRef string
}

func splitParagraphs(text string) []paragraph {
	raw := paragraphSplit.Split(strings.TrimSpace(text), -1)
	out := make([]paragraph, 0, len(raw))
	for i, t := range raw {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		ref := sectionRefPattern.FindString(t)
		if ref == "" {
			ref = fmt.Sprintf("para-%d", i+1)
		}
		out = append(out, paragraph{text: t, sectionRef: strings.TrimSpace(ref)})
	}
	return out
}

func matchedAnchors(text string, anchors []string) []string {
	lower := strings.ToLower(text)
	var hits []string
	for _, a := range anchors {
		if strings.Contains(lower, strings.ToLower(a)) {
			hits = append(hits, a)
		}
	}
	return hits
}

func buildClause(def clauses.ClauseDef, para paragraph, anchors []string) contracts.Clause {
	cl := contracts.Clause{
		ClauseID:       def.ClauseID,
		Category:       def.Category,
		SourceText:     para.text,
		SectionRef:     para.sectionRef,
		AnchorsMatched: anchors,
		Parameter:      def.Parameter,
	}

	if def.Parameter != "" {
		applyNumericExtraction(&cl, def, para.text)
	}

	cl.Confidence = scoreConfidence(def, cl, len(anchors))
	return cl
}

// applyNumericExtraction looks for an operator phrase, a number, and a unit
// in the paragraph and fills in the clause's bound-shaped fields.
func applyNumericExtraction(cl *contracts.Clause, def clauses.ClauseDef, text string) {
	if m := betweenPattern.FindStringSubmatch(text); m != nil {
		lo, errLo := parseNumber(m[1])
		hi, errHi := parseNumber(m[2])
		if errLo == nil && errHi == nil {
			cl.Operator = contracts.OpBetween
			cl.Value = lo
			cl.ValueUpper = hi
			cl.Unit = detectUnit(text)
			cl.Period = detectPeriod(text)
			return
		}
	}

	numMatch := numberPattern.FindString(text)
	if numMatch == "" {
		return
	}
	val, err := parseNumber(numMatch)
	if err != nil {
		return
	}

	switch {
	case atLeastPattern.MatchString(text):
		cl.Operator = contracts.OpGTE
	case atMostPattern.MatchString(text):
		cl.Operator = contracts.OpLTE
	default:
		cl.Operator = contracts.OpEQ
	}
	cl.Value = val
	cl.Unit = detectUnit(text)
	cl.Period = detectPeriod(text)

	if def.Category == "penalty" {
		cl.PenaltyPerUnit = val
	}
}

func parseNumber(s string) (float64, error) {
	s = strings.ReplaceAll(s, ",", "")
	return strconv.ParseFloat(s, 64)
}

func detectUnit(text string) string {
	switch {
	case unitMTPattern.MatchString(text):
		return "mt"
	case unitPctPattern.MatchString(text):
		return "pct"
	case unitUSDPattern.MatchString(text):
		return "usd"
	default:
		return ""
	}
}

func detectPeriod(text string) contracts.Period {
	switch {
	case monthlyPattern.MatchString(text):
		return contracts.PeriodMonthly
	case quarterlyPattern.MatchString(text):
		return contracts.PeriodQuarterly
	case annualPattern.MatchString(text):
		return contracts.PeriodAnnual
	case spotPeriodPattern.MatchString(text):
		return contracts.PeriodSpot
	default:
		return ""
	}
}

// scoreConfidence rates a match high when both an anchor and a full
// numeric/unit extraction succeeded, low when the anchor matched but numeric
// extraction failed for a clause type that expects a value (§4.3: "low if …
// numeric extraction failed"), and medium for weaker anchor-only matches on
// clause types that don't expect a value.
func scoreConfidence(def clauses.ClauseDef, cl contracts.Clause, anchorHits int) contracts.Confidence {
	expectsValue := def.Parameter != "" || def.Category == "penalty"
	if expectsValue {
		if cl.IsBoundShaped() {
			return contracts.ConfidenceHigh
		}
		return contracts.ConfidenceLow
	}
	if anchorHits >= 2 {
		return contracts.ConfidenceHigh
	}
	return contracts.ConfidenceMedium
}

// mergeOrAppend dedups by clause id: a later match for a clause id already
// seen merges its matched anchors in rather than producing a duplicate
// clause, keeping whichever occurrence has the higher confidence.
func mergeOrAppend(result *Result, seen map[string]int, cl contracts.Clause) {
	if idx, ok := seen[cl.ClauseID]; ok {
		existing := result.Clauses[idx]
		existing.AnchorsMatched = dedupStrings(append(existing.AnchorsMatched, cl.AnchorsMatched...))
		if confidenceRank(cl.Confidence) > confidenceRank(existing.Confidence) {
			anchors := existing.AnchorsMatched
			existing = cl
			existing.AnchorsMatched = anchors
		}
		result.Clauses[idx] = existing
		return
	}
	seen[cl.ClauseID] = len(result.Clauses)
	result.Clauses = append(result.Clauses, cl)
}

func confidenceRank(c contracts.Confidence) int {
	switch c {
	case contracts.ConfidenceHigh:
		return 2
	case contracts.ConfidenceMedium:
		return 1
	default:
		return 0
	}
}

func dedupStrings(in []string) []string {
	seen := map[string]bool{}
	out := in[:0]
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// detectFamily scores every registered family signature by how many of its
// detect anchors appear anywhere in the document and returns the top
// scorer's id, or "" if nothing scored above zero.
func detectFamily(snap *clauses.Snapshot, text string) string {
	lower := strings.ToLower(text)
	best := ""
	bestScore := 0
	for _, fam := range snap.AllFamilies() {
		score := 0
		for _, a := range fam.DetectAnchors {
			if strings.Contains(lower, strings.ToLower(a)) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			best = fam.FamilyID
		}
	}
	return best
}
