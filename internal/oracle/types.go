// Package oracle provides the text-generation oracle client used as one
// of the two mention-extraction signal sources. The oracle receives the
// article title and body and returns structured item-name candidates;
// a second, smaller call confirms or rejects lexically-found names.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrMalformedResponse indicates the oracle replied with output that
// failed schema parsing. It is not retryable within the same call;
// callers log it and treat the call as producing zero candidates.
var ErrMalformedResponse = errors.New("malformed oracle response")

// Candidate contexts the extraction prompt allows.
const (
	ContextDirect      = "direct"      // item named outright in the article
	ContextIndirect    = "indirect"    // item affected via a mechanic or drop table
	ContextSpeculative = "speculative" // reader inference, weakest signal
)

// Candidate is a single raw mention produced by the oracle. Name is a
// free-form string until the validator resolves it against the catalog.
type Candidate struct {
	Name       string  `json:"name"`
	Snippet    string  `json:"snippet"`
	Context    string  `json:"context"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Usage holds token counters for one or more oracle calls.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Add returns the element-wise sum of two usage counters.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
	}
}

// Total returns prompt plus completion tokens.
func (u Usage) Total() int { return u.PromptTokens + u.CompletionTokens }

// ExtractResult is the outcome of a candidate-extraction call.
type ExtractResult struct {
	Candidates []Candidate
	Usage      Usage
}

// ConfirmResult is the outcome of a yes/no relevance-confirmation call.
// Confirmed is keyed by the exact names passed to Confirm.
type ConfirmResult struct {
	Confirmed map[string]bool
	Usage     Usage
}

// Client is the oracle boundary the extraction engine depends on.
type Client interface {
	// Extract asks the oracle for item-mention candidates in an article.
	Extract(ctx context.Context, title, body string) (ExtractResult, error)

	// Confirm asks the oracle whether each named item is genuinely
	// discussed by the article. Used to disambiguate lexical-only hits.
	Confirm(ctx context.Context, title, body string, names []string) (ConfirmResult, error)
}

// Config holds oracle client configuration.
type Config struct {
	Model           string        `koanf:"model"`
	APIKey          string        `koanf:"api_key"`
	BaseURL         string        `koanf:"base_url"`
	MaxTokens       int           `koanf:"max_tokens"`
	Timeout         time.Duration `koanf:"timeout"`
	MaxRetries      int           `koanf:"max_retries"`
	ReasoningEffort string        `koanf:"reasoning_effort"`
}

// DefaultConfig returns a Config with the client defaults filled in.
// APIKey has no default and must be supplied.
func DefaultConfig() Config {
	return Config{
		Model:      defaultModel,
		BaseURL:    defaultBaseURL,
		MaxTokens:  defaultMaxTokens,
		Timeout:    defaultTimeout,
		MaxRetries: defaultMaxRetries,
	}
}

// Validate checks the config for values NewChatClient would reject.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("api_key is required")
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must not be negative")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	return nil
}
