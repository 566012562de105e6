// Package ingest implements the Ingestor: the component orchestrating
// scan → fetch → extract → parse → (optional LLM cross-check) → version
// for documents discovered in the remote document store (§4.6).
//
// Grounded on the teacher's pkg/gateway/sync.go SyncRegistry loop, which
// already walks a list of remote sources and classifies each as
// new/changed/unchanged against a local cache before re-fetching only
// what changed; generalized here from a guardrail-config sync to a
// contract-document sync, and pipelined with a bounded in-flight count via
// golang.org/x/sync/errgroup's SetLimit, the same bounded-concurrency
// idiom pkg/llmcheck uses via semaphore.Weighted for its own call-site.
package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Raathmd/ammonia-desk/internal/apperr"
	"github.com/Raathmd/ammonia-desk/internal/extract"
	"github.com/Raathmd/ammonia-desk/internal/scanner"
	"github.com/Raathmd/ammonia-desk/pkg/clauses"
	"github.com/Raathmd/ammonia-desk/pkg/contracts"
	"github.com/Raathmd/ammonia-desk/pkg/llmcheck"
	"github.com/Raathmd/ammonia-desk/pkg/parser"
	"github.com/Raathmd/ammonia-desk/pkg/store"
	"github.com/Raathmd/ammonia-desk/pkg/validator"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// FileError is one file's ingest failure, collected into a Summary rather
// than aborting the rest of the scan (§4.6 "errors for one file never
// cancel other files").
type FileError struct {
	FileName string
	ItemID   string
	Err      error
}

// Summary is the outcome of one full or delta scan.
type Summary struct {
	New       int
	Changed   int
	Unchanged int
	Missing   int
	Errors    []FileError
}

// Ingestor wires the scanner, extractor, parser, optional LLM cross-check,
// validator, and store together.
type Ingestor struct {
	scanner     *scanner.Scanner
	extractor   *extract.Extractor
	parser      *parser.Parser
	validator   *validator.Validator
	llm         *llmcheck.Client // nil disables the cross-check second pass
	store       *store.Store
	registry    *clauses.Registry
	log         *logrus.Logger
	concurrency int
}

// New builds an Ingestor. llm may be nil to disable the LLM second pass
// entirely (§4.6: "optional"). concurrency <= 0 defaults to 4.
func New(sc *scanner.Scanner, ex *extract.Extractor, p *parser.Parser, v *validator.Validator, llm *llmcheck.Client, st *store.Store, reg *clauses.Registry, log *logrus.Logger, concurrency int) *Ingestor {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Ingestor{
		scanner: sc, extractor: ex, parser: p, validator: v, llm: llm,
		store: st, registry: reg, log: log, concurrency: concurrency,
	}
}

// FullScan lists every recognised-extension file under folderPath, classifies
// each against the store by remote item id then file hash, and ingests
// every new or changed file. Unchanged files are marked verified in place.
func (ig *Ingestor) FullScan(ctx context.Context, driveID, folderPath, productGroup string) (Summary, error) {
	items, err := ig.scanner.Scan(ctx, driveID, folderPath)
	if err != nil {
		return Summary{}, fmt.Errorf("full scan: %w", err)
	}

	var mu sync.Mutex
	summary := Summary{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ig.concurrency)

	for _, item := range items {
		item := item
		g.Go(func() error {
			existing, found := ig.store.ByRemoteItem(driveID, item.ItemID)
			if !found {
				existing, found = ig.store.ByFileHash(item.SHA256)
			}

			if found && existing.FileHash == item.SHA256 {
				mu.Lock()
				summary.Unchanged++
				mu.Unlock()
				if err := ig.store.UpdateVerification(existing.ID, existing.Version, contracts.VerificationVerified, time.Now()); err != nil {
					ig.log.WithError(err).Warn("update_verification failed for unchanged file")
				}
				return nil
			}

			if found {
				mu.Lock()
				summary.Changed++
				mu.Unlock()
			} else {
				mu.Lock()
				summary.New++
				mu.Unlock()
			}

			if err := ig.ingestOne(gctx, driveID, productGroup, item); err != nil {
				mu.Lock()
				summary.Errors = append(summary.Errors, FileError{FileName: item.Name, ItemID: item.ItemID, Err: err})
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	ig.log.WithFields(logrus.Fields{
		"drive_id": driveID, "folder": folderPath, "product_group": productGroup,
		"new": summary.New, "changed": summary.Changed, "unchanged": summary.Unchanged, "errors": len(summary.Errors),
	}).Info("full scan complete")
	return summary, nil
}

// DeltaScan sends the store's current per-contract file hashes for
// productGroup to the scanner's diff_hashes command and ingests only what
// changed, marking unchanged contracts verified and missing ones
// file_not_found (§4.6 step 2).
func (ig *Ingestor) DeltaScan(ctx context.Context, productGroup string) (Summary, error) {
	known := ig.knownItems(productGroup)
	if len(known) == 0 {
		return Summary{}, nil
	}

	changedIDs, unchangedIDs, missingIDs, err := ig.scanner.DiffHashes(ctx, known)
	if err != nil {
		return Summary{}, fmt.Errorf("delta scan: %w", err)
	}

	now := time.Now()
	for _, id := range unchangedIDs {
		if c, ok := ig.store.Latest(id); ok {
			if err := ig.store.UpdateVerification(c.ID, c.Version, contracts.VerificationVerified, now); err != nil {
				ig.log.WithError(err).Warn("update_verification failed for unchanged contract")
			}
		}
	}
	for _, id := range missingIDs {
		if c, ok := ig.store.Latest(id); ok {
			if err := ig.store.UpdateVerification(c.ID, c.Version, contracts.VerificationFileNotFound, now); err != nil {
				ig.log.WithError(err).Warn("update_verification failed for missing contract")
			}
		}
	}

	summary := Summary{Unchanged: len(unchangedIDs), Missing: len(missingIDs)}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ig.concurrency)

	for _, id := range changedIDs {
		id := id
		g.Go(func() error {
			c, ok := ig.store.Latest(id)
			if !ok {
				return nil
			}
			item := scanner.RemoteItem{ItemID: c.RemoteItemID, Name: c.SourceFileName}
			if err := ig.ingestOne(gctx, c.RemoteDriveID, c.ProductGroup, item); err != nil {
				mu.Lock()
				summary.Errors = append(summary.Errors, FileError{FileName: c.SourceFileName, ItemID: c.RemoteItemID, Err: err})
				mu.Unlock()
				return nil
			}
			mu.Lock()
			summary.Changed++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	ig.log.WithFields(logrus.Fields{
		"product_group": productGroup, "changed": summary.Changed,
		"unchanged": summary.Unchanged, "missing": summary.Missing, "errors": len(summary.Errors),
	}).Info("delta scan complete")
	return summary, nil
}

// knownItems builds the diff_hashes request payload from the store's
// current latest-version state for productGroup.
func (ig *Ingestor) knownItems(productGroup string) []scanner.KnownItem {
	latest := ig.store.LatestInProductGroup(productGroup)
	known := make([]scanner.KnownItem, 0, len(latest))
	for _, c := range latest {
		if c.RemoteItemID == "" {
			continue
		}
		known = append(known, scanner.KnownItem{ID: c.ID, DriveID: c.RemoteDriveID, ItemID: c.RemoteItemID, Hash: c.FileHash})
	}
	return known
}

// ingestOne fetches, extracts, parses, optionally cross-checks, and stores
// one new or changed file as the next version of its canonical key,
// chaining previous_hash to the predecessor's file_hash (§4.6 step 3).
func (ig *Ingestor) ingestOne(ctx context.Context, driveID, productGroup string, item scanner.RemoteItem) error {
	format, err := ClassifyFormat(item.Name)
	if err != nil {
		return err
	}

	sha, data, err := ig.scanner.Fetch(ctx, driveID, item.ItemID)
	if err != nil {
		return err
	}

	text, err := ig.extractor.Extract(item.Name, format, data)
	if err != nil {
		return err
	}

	result := ig.parser.Parse(text)
	for _, w := range result.Warnings {
		ig.log.WithFields(logrus.Fields{"section": w.SectionRef, "file": item.Name}).Warn(w.Msg)
	}

	if ig.llm != nil {
		disagreements, err := ig.llm.CrossCheck(ctx, text, result.Clauses)
		if err != nil {
			ig.log.WithError(err).Warn("llm cross-check failed, deterministic parse remains authoritative")
		} else if len(disagreements) > 0 {
			ig.log.WithFields(logrus.Fields{"file": item.Name, "count": len(disagreements)}).Info("llm cross-check recorded disagreements")
		}
	}

	snap := ig.registry.Snapshot()
	templateType, incoterm, termType := Classify(snap, result)
	counterparty, counterpartyType := deriveCounterparty(item.Name, snap, result.FamilyID)

	canonicalKey := contracts.CanonicalKey{NormalizedCounterparty: contracts.NormalizeCounterparty(counterparty), ProductGroup: productGroup}
	id, hasExisting := ig.store.ContractIDForCanonicalKey(canonicalKey)
	if !hasExisting {
		id = uuid.NewString()
	}

	previousHash := ""
	if hasExisting {
		if prev, ok := ig.store.Latest(id); ok {
			previousHash = prev.FileHash
		}
	}

	contract := contracts.Contract{
		ID:                 id,
		Version:            ig.store.NextVersion(id),
		SourceFileName:     item.Name,
		SourceFormat:       format,
		FileSizeBytes:      int64(len(data)),
		FileHash:           sha,
		PreviousHash:       previousHash,
		RemoteItemID:       item.ItemID,
		RemoteDriveID:      driveID,
		LastVerifiedAt:     time.Now(),
		VerificationStatus: contracts.VerificationVerified,
		TemplateType:       templateType,
		Incoterm:           incoterm,
		FamilyID:           result.FamilyID,
		TermType:           termType,
		Company:            counterparty,
		Counterparty:       counterparty,
		CounterpartyType:   counterpartyType,
		ProductGroup:       productGroup,
		Status:             contracts.StatusDraft,
		Clauses:            result.Clauses,
	}

	if _, err := ig.validator.Validate(&contract); err != nil {
		ig.log.WithError(err).WithField("file", item.Name).Warn("template validation could not run for ingested contract")
	}

	if err := ig.store.Put(contract); err != nil {
		return &apperr.IngestFailed{FileName: item.Name, Err: err}
	}
	return nil
}

// ClassifyFormat maps a file name's extension to a SourceFormat, per the
// supported pdf/docx/docm/txt set. Exported so internal/ingestinput's
// manual-upload path can classify without duplicating the switch.
func ClassifyFormat(name string) (contracts.SourceFormat, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return contracts.FormatPDF, nil
	case ".docx":
		return contracts.FormatDOCX, nil
	case ".docm":
		return contracts.FormatDOCM, nil
	case ".txt":
		return contracts.FormatTXT, nil
	default:
		return "", &apperr.UnsupportedFormat{FileName: name, Ext: filepath.Ext(name)}
	}
}

// Classify derives template_type, incoterm, and term_type from the parser's
// detected family and any incoterm_clause text, per spec.md §3's
// classification fields. Exported for reuse by internal/ingestinput.
func Classify(snap *clauses.Snapshot, result parser.Result) (contracts.TemplateType, contracts.Incoterm, contracts.TermType) {
	fam, ok := snap.Family(result.FamilyID)
	if !ok {
		return contracts.TemplateSpotPurchase, contracts.IncotermNone, contracts.TermSpot
	}

	incoterm := incotermFromClauses(result.Clauses)
	if incoterm == contracts.IncotermNone && len(fam.DefaultIncoterms) > 0 {
		incoterm = fam.DefaultIncoterms[0]
	}

	return templateTypeFor(fam.Direction, fam.TermType), incoterm, fam.TermType
}

var allIncoterms = []contracts.Incoterm{
	contracts.IncotermFOB, contracts.IncotermCFR, contracts.IncotermCIF,
	contracts.IncotermDAP, contracts.IncotermDDP, contracts.IncotermFCA, contracts.IncotermEXW,
}

func incotermFromClauses(cls []contracts.Clause) contracts.Incoterm {
	for _, cl := range cls {
		if cl.ClauseID != "incoterm_clause" {
			continue
		}
		upper := strings.ToUpper(cl.SourceText)
		for _, inc := range allIncoterms {
			if strings.Contains(upper, string(inc)) {
				return inc
			}
		}
	}
	return contracts.IncotermNone
}

func templateTypeFor(direction string, term contracts.TermType) contracts.TemplateType {
	switch {
	case direction == "purchase" && term == contracts.TermSpot:
		return contracts.TemplateSpotPurchase
	case direction == "purchase":
		return contracts.TemplatePurchase
	case term == contracts.TermSpot:
		return contracts.TemplateSpotSale
	default:
		return contracts.TemplateSale
	}
}

// deriveCounterparty takes the counterparty name from the source file's
// stem (its first one or two '_'/'-'-separated fields, joined with a
// space, or the whole stem when it has no such fields), since no dedicated
// counterparty clause exists in the
// canonical catalogue (recorded as an Open Question decision in
// DESIGN.md). counterparty_type follows the family's direction: a
// purchase-direction family means the desk buys from this counterparty
// (a supplier); a sale-direction family means the desk sells to it (a
// customer).
func deriveCounterparty(fileName string, snap *clauses.Snapshot, familyID string) (string, contracts.CounterpartyType) {
	stem := strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName))
	fields := strings.FieldsFunc(stem, func(r rune) bool { return r == '_' || r == '-' })

	name := stem
	if len(fields) > 0 {
		name = strings.Join(fields[:1], " ")
		if len(fields) > 1 {
			name = strings.Join(fields[:2], " ")
		}
	}

	counterpartyType := contracts.CounterpartySupplier
	if fam, ok := snap.Family(familyID); ok && fam.Direction == "sale" {
		counterpartyType = contracts.CounterpartyCustomer
	}
	return name, counterpartyType
}
