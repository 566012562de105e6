// Package ingestinput implements the manual-upload ingest path named in
// spec.md §6's "Contract ingest input format" — the same extract → parse →
// classify → validate → version pipeline internal/ingest runs for a
// scanner-discovered file, entered instead from an in-memory byte buffer
// when counterparty, counterparty_type, and product_group are already
// known (a trader pasting in a side letter, a one-off manual correction)
// rather than derived from a remote item.
//
// Grounded the same way internal/ingest is grounded, on the teacher's
// pkg/gateway/sync.go re-fetch-and-classify loop: this package reuses
// internal/ingest's exported ClassifyFormat/Classify helpers rather than
// re-deriving them, since both entry points feed the same downstream
// pipeline and should classify identically.
package ingestinput

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/Raathmd/ammonia-desk/internal/apperr"
	"github.com/Raathmd/ammonia-desk/internal/extract"
	"github.com/Raathmd/ammonia-desk/internal/ingest"
	"github.com/Raathmd/ammonia-desk/pkg/clauses"
	"github.com/Raathmd/ammonia-desk/pkg/contracts"
	"github.com/Raathmd/ammonia-desk/pkg/parser"
	"github.com/Raathmd/ammonia-desk/pkg/store"
	"github.com/Raathmd/ammonia-desk/pkg/validator"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Input is the manual ingest payload spec.md §6 names: everything a
// scanner-derived RemoteItem would otherwise have supplied (counterparty,
// its type, and the product group) plus the raw document bytes.
type Input struct {
	Counterparty     string
	CounterpartyType contracts.CounterpartyType
	ProductGroup     string
	SourceFileBytes  []byte
	SourceFileName   string
	Metadata         map[string]string
}

// Adapter decodes manual Input payloads into stored Contract versions,
// sharing the extractor, parser, validator, registry, and store a
// scanner-driven internal/ingest.Ingestor would use.
type Adapter struct {
	extractor *extract.Extractor
	parser    *parser.Parser
	validator *validator.Validator
	store     *store.Store
	registry  *clauses.Registry
	log       *logrus.Logger
}

// New builds an Adapter.
func New(ex *extract.Extractor, p *parser.Parser, v *validator.Validator, st *store.Store, reg *clauses.Registry, log *logrus.Logger) *Adapter {
	return &Adapter{extractor: ex, parser: p, validator: v, store: st, registry: reg, log: log}
}

// Ingest decodes one manual Input into the next version of its canonical
// key's contract, chaining previous_hash exactly as internal/ingest's
// scanner-driven path does.
func (a *Adapter) Ingest(in Input) (contracts.Contract, error) {
	if in.Counterparty == "" || in.ProductGroup == "" {
		return contracts.Contract{}, &apperr.IngestFailed{FileName: in.SourceFileName, Err: fmt.Errorf("counterparty and product_group are required")}
	}

	format, err := ingest.ClassifyFormat(in.SourceFileName)
	if err != nil {
		return contracts.Contract{}, err
	}

	text, err := a.extractor.Extract(in.SourceFileName, format, in.SourceFileBytes)
	if err != nil {
		return contracts.Contract{}, err
	}

	result := a.parser.Parse(text)
	for _, w := range result.Warnings {
		a.log.WithFields(logrus.Fields{"section": w.SectionRef, "file": in.SourceFileName}).Warn(w.Msg)
	}
	if len(in.Metadata) > 0 {
		a.log.WithFields(logrus.Fields{"file": in.SourceFileName, "metadata": in.Metadata}).Info("manual ingest carried caller-supplied metadata")
	}

	snap := a.registry.Snapshot()
	templateType, incoterm, termType := ingest.Classify(snap, result)

	canonicalKey := contracts.CanonicalKey{
		NormalizedCounterparty: contracts.NormalizeCounterparty(in.Counterparty),
		ProductGroup:           in.ProductGroup,
	}
	id, hasExisting := a.store.ContractIDForCanonicalKey(canonicalKey)
	if !hasExisting {
		id = uuid.NewString()
	}

	previousHash := ""
	if hasExisting {
		if prev, ok := a.store.Latest(id); ok {
			previousHash = prev.FileHash
		}
	}

	sum := sha256.Sum256(in.SourceFileBytes)
	contract := contracts.Contract{
		ID:                 id,
		Version:            a.store.NextVersion(id),
		SourceFileName:     in.SourceFileName,
		SourceFormat:       format,
		FileSizeBytes:      int64(len(in.SourceFileBytes)),
		FileHash:           hex.EncodeToString(sum[:]),
		PreviousHash:       previousHash,
		LastVerifiedAt:     time.Now(),
		VerificationStatus: contracts.VerificationVerified,
		TemplateType:       templateType,
		Incoterm:           incoterm,
		FamilyID:           result.FamilyID,
		TermType:           termType,
		Company:            in.Counterparty,
		Counterparty:       in.Counterparty,
		CounterpartyType:   in.CounterpartyType,
		ProductGroup:       in.ProductGroup,
		Status:             contracts.StatusDraft,
		Clauses:            result.Clauses,
	}

	if _, err := a.validator.Validate(&contract); err != nil {
		a.log.WithError(err).WithField("file", in.SourceFileName).Warn("template validation could not run for manually ingested contract")
	}

	if err := a.store.Put(contract); err != nil {
		return contracts.Contract{}, &apperr.IngestFailed{FileName: in.SourceFileName, Err: err}
	}
	return contract, nil
}
