// Command ammoniadesk is the desk's process entrypoint: it wires every
// component together and runs exactly one action, then exits. There is no
// HTTP server here (spec.md's Non-goals exclude serving HTTP); this is the
// one-shot CLI a scheduler or an operator invokes for a scan, a solve, a
// manual ingest, or a write-ahead log check.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Raathmd/ammonia-desk/internal/applog"
	"github.com/Raathmd/ammonia-desk/internal/config"
	"github.com/Raathmd/ammonia-desk/internal/extract"
	"github.com/Raathmd/ammonia-desk/internal/ingest"
	"github.com/Raathmd/ammonia-desk/internal/ingestinput"
	"github.com/Raathmd/ammonia-desk/internal/persist"
	"github.com/Raathmd/ammonia-desk/internal/scanner"
	"github.com/Raathmd/ammonia-desk/pkg/audit"
	"github.com/Raathmd/ammonia-desk/pkg/bridge"
	"github.com/Raathmd/ammonia-desk/pkg/clauses"
	"github.com/Raathmd/ammonia-desk/pkg/contracts"
	"github.com/Raathmd/ammonia-desk/pkg/llmcheck"
	"github.com/Raathmd/ammonia-desk/pkg/parser"
	"github.com/Raathmd/ammonia-desk/pkg/productgroup"
	"github.com/Raathmd/ammonia-desk/pkg/readiness"
	"github.com/Raathmd/ammonia-desk/pkg/review"
	"github.com/Raathmd/ammonia-desk/pkg/solve"
	"github.com/Raathmd/ammonia-desk/pkg/solverport"
	"github.com/Raathmd/ammonia-desk/pkg/store"
	"github.com/Raathmd/ammonia-desk/pkg/validator"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

func main() {
	var (
		configPath       = flag.String("config", "config.yaml", "path to the desk's YAML config file")
		action           = flag.String("action", "", "one of: full-scan, delta-scan, solve, manual-ingest, review, verify-log, replay-log")
		driveID          = flag.String("drive-id", "", "remote drive id (full-scan)")
		folder           = flag.String("folder", "/", "remote folder path (full-scan)")
		productGroupName = flag.String("product-group", "", "product group (full-scan, delta-scan, solve)")
		filePath         = flag.String("file", "", "local document path (manual-ingest)")
		counterparty     = flag.String("counterparty", "", "counterparty name (manual-ingest)")
		counterpartyType = flag.String("counterparty-type", "supplier", "supplier or customer (manual-ingest)")
		contractID       = flag.String("contract-id", "", "contract id (review)")
		version          = flag.Int("version", 0, "contract version (review)")
		decision         = flag.String("decision", "", "submit, approve, or reject (review)")
		actedBy          = flag.String("acted-by", "", "reviewer name (review)")
		role             = flag.String("role", "", "trader, risk, or ops (review)")
		notes            = flag.String("notes", "", "review notes (review)")
	)
	flag.Parse()

	if *action == "" {
		fmt.Fprintln(os.Stderr, "ammoniadesk: -action is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ammoniadesk: load config: %v\n", err)
		os.Exit(1)
	}

	log := applog.New(applog.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: cfg.Logging.Output, File: cfg.Logging.File})
	applog.SetDefault(log)

	d, err := wireDesk(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to wire desk components")
	}
	defer d.Close()

	ctx := context.Background()

	switch *action {
	case "full-scan":
		if *driveID == "" || *productGroupName == "" {
			log.Fatal("full-scan requires -drive-id and -product-group")
		}
		summary, err := d.ingestor.FullScan(ctx, *driveID, *folder, *productGroupName)
		mustSummary(log, "full-scan", summary, err)

	case "delta-scan":
		if *productGroupName == "" {
			log.Fatal("delta-scan requires -product-group")
		}
		summary, err := d.ingestor.DeltaScan(ctx, *productGroupName)
		mustSummary(log, "delta-scan", summary, err)

	case "solve":
		if *productGroupName == "" {
			log.Fatal("solve requires -product-group")
		}
		rec, err := d.solvePipeline.Run(ctx, *productGroupName)
		if err != nil {
			log.WithError(err).Fatal("solve run failed")
		}
		log.WithFields(logrus.Fields{
			"run_id": rec.RunID, "status": rec.Status, "objective": rec.Objective,
		}).Info("solve run complete")

	case "manual-ingest":
		if *filePath == "" || *counterparty == "" || *productGroupName == "" {
			log.Fatal("manual-ingest requires -file, -counterparty, and -product-group")
		}
		data, err := os.ReadFile(*filePath)
		if err != nil {
			log.WithError(err).Fatal("failed to read -file")
		}
		cpType := contracts.CounterpartySupplier
		if *counterpartyType == "customer" {
			cpType = contracts.CounterpartyCustomer
		}
		c, err := d.manualIngest.Ingest(ingestinput.Input{
			Counterparty: *counterparty, CounterpartyType: cpType, ProductGroup: *productGroupName,
			SourceFileBytes: data, SourceFileName: *filePath,
		})
		if err != nil {
			log.WithError(err).Fatal("manual ingest failed")
		}
		log.WithFields(logrus.Fields{"contract_id": c.ID, "version": c.Version}).Info("manual ingest complete")

	case "review":
		if *contractID == "" || *version == 0 || *decision == "" || *actedBy == "" || *role == "" {
			log.Fatal("review requires -contract-id, -version, -decision, -acted-by, and -role")
		}
		if err := d.review(*contractID, *version, *decision, *actedBy, *role, *notes); err != nil {
			log.WithError(err).Fatal("review decision failed")
		}
		log.WithFields(logrus.Fields{"contract_id": *contractID, "decision": *decision}).Info("review decision recorded")

	case "verify-log":
		if err := d.persistAdapter.VerifyAll(); err != nil {
			log.WithError(err).Fatal("write-ahead log verification failed")
		}
		log.Info("write-ahead log verified clean")

	case "replay-log":
		var contractEvents, auditEntries int
		err := d.persistAdapter.Restore(
			func(ev store.Event) error { contractEvents++; return nil },
			func(e audit.Entry) error { auditEntries++; return nil },
		)
		if err != nil {
			log.WithError(err).Fatal("write-ahead log replay failed")
		}
		log.WithFields(logrus.Fields{"contract_events": contractEvents, "audit_entries": auditEntries}).Info("write-ahead log replay complete")

	default:
		log.Fatalf("unknown -action %q", *action)
	}
}

func mustSummary(log *logrus.Logger, action string, summary ingest.Summary, err error) {
	if err != nil {
		log.WithError(err).Fatalf("%s failed", action)
	}
	log.WithFields(logrus.Fields{
		"new": summary.New, "changed": summary.Changed, "unchanged": summary.Unchanged,
		"missing": summary.Missing, "errors": len(summary.Errors),
	}).Infof("%s complete", action)
	for _, fe := range summary.Errors {
		log.WithFields(logrus.Fields{"file": fe.FileName, "item_id": fe.ItemID}).WithError(fe.Err).Warn("file failed to ingest")
	}
}

// desk bundles every wired component main needs to reach, along with the
// subset that owns a subprocess or background goroutine and must be shut
// down cleanly on exit.
type desk struct {
	ingestor       *ingest.Ingestor
	manualIngest   *ingestinput.Adapter
	solvePipeline  *solve.Pipeline
	persistAdapter *persist.Adapter
	reviewWorkflow *review.Workflow
	auditLog       *audit.AuditLog
	contractStore  *store.Store

	scanner *scanner.Scanner
	solver  *solverport.Port
}

// review applies one reviewer decision to the named contract version:
// validates the transition against the role-gated state machine, updates
// the store, and records the decision in the audit trail.
func (d *desk) review(contractID string, version int, decisionName, actedBy, roleName, notes string) error {
	c, ok := d.contractStore.Get(contractID, version)
	if !ok {
		return fmt.Errorf("contract %s version %d not found", contractID, version)
	}

	r := review.Role(roleName)
	var dec review.Decision
	var err error
	switch decisionName {
	case "submit":
		dec, err = d.reviewWorkflow.Submit(&c, actedBy, r)
	case "approve":
		dec, err = d.reviewWorkflow.Approve(&c, actedBy, r, notes)
	case "reject":
		dec, err = d.reviewWorkflow.Reject(&c, actedBy, r, notes)
	default:
		return fmt.Errorf("unknown -decision %q, want submit, approve, or reject", decisionName)
	}
	if err != nil {
		return err
	}

	if err := d.contractStore.UpdateStatus(contractID, version, dec.To); err != nil {
		return err
	}
	return d.auditLog.RecordReview(contractID, c.ProductGroup, dec)
}

func (d *desk) Close() {
	d.scanner.Close()
	d.solver.Close()
	d.persistAdapter.Close()
}

// wireDesk builds every package's component exactly once, following the
// dependency order each package was built in: registries and stores first,
// then the pipelines that read from them.
func wireDesk(cfg config.Config, log *logrus.Logger) (*desk, error) {
	clauseRegistry := clauses.NewDefault()
	productGroups := productgroup.NewDefault()

	var rdb *redis.Client
	if cfg.Store.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Store.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse store.redis_url: %w", err)
		}
		rdb = redis.NewClient(opts)
	}
	changeFeed := store.NewChangeFeed(rdb, cfg.Store.ChangeFeedPrefix, log)
	contractStore := store.New(log, changeFeed)

	auditLog := audit.New(log)

	persistAdapter, err := persist.New(cfg.Persist, log)
	if err != nil {
		return nil, fmt.Errorf("build persist adapter: %w", err)
	}
	feedEvents, _ := changeFeed.Subscribe(cfg.Store.SpoolCapacity)
	persistAdapter.WatchChangeFeed(feedEvents)
	persistAdapter.WatchAuditLog(auditLog)

	extractor := extract.New(nil)
	clauseParser := parser.New(clauseRegistry)
	templateValidator := validator.New(clauseRegistry, log)

	var llmClient *llmcheck.Client
	if apiKey := cfg.LLM.APIKey(); apiKey != "" && cfg.LLM.BaseURL != "" {
		llmClient = llmcheck.New(llmcheck.Config{
			BaseURL: cfg.LLM.BaseURL, APIKey: apiKey, Model: cfg.LLM.Model,
			Timeout: cfg.LLM.Timeout, Concurrency: cfg.LLM.Concurrency,
		}, log)
	}

	scan := scanner.New(cfg.Scanner, log)
	ingestor := ingest.New(scan, extractor, clauseParser, templateValidator, llmClient, contractStore, clauseRegistry, log, cfg.Ingest.Concurrency)
	manualIngest := ingestinput.New(extractor, clauseParser, templateValidator, contractStore, clauseRegistry, log)

	reviewWorkflow := review.New(log)

	readinessGate := readiness.New(readiness.Thresholds{
		MaxDocumentAge: cfg.Readiness.MaxDocumentAge, MaxVerificationAge: cfg.Readiness.MaxVerificationAge, MaxSAPAge: cfg.Readiness.MaxSAPAge,
	}, templateValidator, log)

	readyCheck := func(productGroup string) (bool, []string) {
		report := readinessGate.Check(productGroup, contractStore.ApprovedInProductGroup(productGroup), time.Now())
		return report.Ready, report.IssueStrings()
	}
	constraintBridge := bridge.New(productGroups, contractStore, readyCheck, log)

	solver := solverport.New(cfg.Solver, log)

	freshnessChecker := func(ctx context.Context, productGroup string) (bool, error) {
		report := readinessGate.Check(productGroup, contractStore.ApprovedInProductGroup(productGroup), time.Now())
		for _, issue := range report.Issues {
			if issue.Level == readiness.LevelFreshness {
				return false, nil
			}
		}
		return true, nil
	}
	reingest := func(ctx context.Context, productGroup string) error {
		_, err := ingestor.DeltaScan(ctx, productGroup)
		return err
	}

	solvePipeline := solve.New(constraintBridge, solver, auditLog, freshnessChecker, reingest, log, prometheus.NewRegistry())

	return &desk{
		ingestor: ingestor, manualIngest: manualIngest, solvePipeline: solvePipeline, persistAdapter: persistAdapter,
		reviewWorkflow: reviewWorkflow, auditLog: auditLog, contractStore: contractStore,
		scanner: scan, solver: solver,
	}, nil
}
