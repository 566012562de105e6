// Package llmcheck implements the clause cross-check second pass: an
// OpenAI-compatible chat-completions call that re-reads a document's text
// and reports where it disagrees with the deterministic parse. It is
// grounded directly on the teacher's pkg/txrepo/generic_llm.go callLLM,
// which already POSTs to `{base}/chat/completions` with the exact
// messages/temperature/response_format shape spec.md §6 requires.
//
// The LLM pass is never authoritative (§9 Design Notes): its findings are
// returned to the caller as disagreements (the ingestor logs how many there
// were) and are not stored on the contract; they never replace or mutate a
// clause the deterministic parser extracted.
package llmcheck

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Raathmd/ammonia-desk/internal/apperr"
	"github.com/Raathmd/ammonia-desk/pkg/contracts"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// Config configures the LLM client, mirroring internal/config.LLMConfig.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	Concurrency int
}

// Disagreement is one place where the LLM's re-read of the document
// diverges from the deterministic parser's output for a given clause id.
type Disagreement struct {
	ClauseID   string `json:"clause_id"`
	Field      string `json:"field"`
	ParsedValue string `json:"parsed_value"`
	LLMValue   string `json:"llm_value"`
	Note       string `json:"note"`
}

// chatRequest mirrors the teacher's OpenAI-compatible request body exactly
// (messages, temperature, response_format).
type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat responseFmt   `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFmt struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type llmFindings struct {
	Disagreements []Disagreement `json:"disagreements"`
}

// Client performs the cross-check call against the configured endpoint,
// bounding concurrent in-flight calls with a semaphore (default 3, per
// §5), grounded on golang.org/x/sync/semaphore.Weighted as used elsewhere
// in this module for bounded concurrency.
type Client struct {
	cfg    Config
	http   *http.Client
	sem    *semaphore.Weighted
	log    *logrus.Logger
}

// New builds a Client. A concurrency of 0 or less defaults to 3.
func New(cfg Config, log *logrus.Logger) *Client {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		sem:  semaphore.NewWeighted(int64(cfg.Concurrency)),
		log:  log,
	}
}

const systemPrompt = `You are a contract clause cross-checker. You are given the ` +
	`plain text of a physical commodity contract and a JSON list of clauses a ` +
	`deterministic parser already extracted. Re-read the text independently and ` +
	`report only where your reading disagrees with the given extraction. Respond ` +
	`with a JSON object: {"disagreements":[{"clause_id":"...","field":"...",` +
	`"parsed_value":"...","llm_value":"...","note":"..."}]}. If you find no ` +
	`disagreements, respond with {"disagreements":[]}.`

// CrossCheck re-reads documentText against the already-parsed clauses and
// returns any disagreements the LLM flags. A non-fatal LLM failure is
// wrapped in apperr.LLMError and returned alongside a nil slice; callers
// must treat that as "no disagreements found", never as a parse failure.
func (c *Client) CrossCheck(ctx context.Context, documentText string, parsed []contracts.Clause) ([]Disagreement, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, &apperr.LLMError{Err: err}
	}
	defer c.sem.Release(1)

	parsedJSON, err := json.Marshal(parsed)
	if err != nil {
		return nil, &apperr.LLMError{Err: err}
	}

	reqBody := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf("DOCUMENT TEXT:\n%s\n\nPARSED CLAUSES:\n%s", documentText, parsedJSON)},
		},
		Temperature:    0.1,
		ResponseFormat: responseFmt{Type: "json_object"},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &apperr.LLMError{Err: err}
	}

	url := c.cfg.BaseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &apperr.LLMError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.WithError(err).Warn("llm cross-check request failed")
		return nil, &apperr.LLMError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := &apperr.RemoteAPIError{StatusCode: resp.StatusCode}
		c.log.WithField("status", resp.StatusCode).Warn("llm cross-check non-200 response")
		return nil, &apperr.LLMError{Err: err}
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, &apperr.LLMError{Err: err}
	}
	if len(cr.Choices) == 0 {
		return nil, &apperr.LLMError{Err: fmt.Errorf("no choices in llm response")}
	}

	var findings llmFindings
	if err := json.Unmarshal([]byte(cr.Choices[0].Message.Content), &findings); err != nil {
		c.log.WithError(err).Warn("llm response was not valid findings json")
		return nil, &apperr.LLMError{Err: err}
	}

	c.log.WithFields(logrus.Fields{
		"disagreement_count": len(findings.Disagreements),
	}).Info("llm cross-check complete")

	return findings.Disagreements, nil
}
