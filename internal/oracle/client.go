package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Default configuration values.
const (
	defaultBaseURL     = "https://api.openai.com"
	defaultModel       = "gpt-4o-mini"
	defaultMaxTokens   = 2048
	defaultTimeout     = 60 * time.Second
	defaultMaxRetries  = 3
	defaultBaseBackoff = 1 * time.Second
)

// Rate limiter defaults: 50 requests per minute.
const (
	defaultRateLimit = 50.0 / 60.0
	defaultBurst     = 5
)

// extractPrompt is the system prompt for the candidate-extraction call.
const extractPrompt = `You are an expert on the in-game economy. You will be given a news article.
Identify every tradeable item the article discusses in an economically meaningful way.

For each item return:
- "name": the item's name as written in the article
- "snippet": the sentence fragment where it is discussed (<=160 chars)
- "context": one of "direct", "indirect", "speculative"
- "confidence": 0.0 to 1.0

Do not include skills, NPCs, locations, or untradeable rewards.
Respond ONLY with a JSON object: {"items": [...]}.`

// confirmPrompt is the system prompt for the relevance-confirmation call.
const confirmPrompt = `You are an expert on the in-game economy. You will be given a news article
and a list of item names found in its text by a literal scanner.

For each name decide whether the article genuinely discusses that item
(as opposed to the word appearing incidentally or as part of something else).

Respond ONLY with a JSON object: {"confirmed": ["name", ...]} listing the
names that are genuine mentions, spelled exactly as given.`

// ChatClient implements Client against an OpenAI-compatible chat
// completions endpoint using structured JSON-schema output.
type ChatClient struct {
	model           string
	apiKey          string
	baseURL         string
	maxTokens       int
	reasoningEffort string
	httpClient      *http.Client
	limiter         *rate.Limiter
	maxRetries      int
}

// NewChatClient creates an oracle client from config.
func NewChatClient(cfg Config) (*ChatClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("oracle API key required")
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	return &ChatClient{
		model:           model,
		apiKey:          cfg.APIKey,
		baseURL:         baseURL,
		maxTokens:       maxTokens,
		reasoningEffort: cfg.ReasoningEffort,
		httpClient:      &http.Client{Timeout: timeout},
		limiter:         rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
		maxRetries:      maxRetries,
	}, nil
}

// chatRequest is the request format for the chat completions API.
type chatRequest struct {
	Model           string          `json:"model"`
	Messages        []chatMessage   `json:"messages"`
	MaxTokens       int             `json:"max_tokens,omitempty"`
	Temperature     float64         `json:"temperature"`
	ResponseFormat  *responseFormat `json:"response_format,omitempty"`
	ReasoningEffort string          `json:"reasoning_effort,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *jsonSchema `json:"json_schema,omitempty"`
}

type jsonSchema struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

// chatResponse is the response format from the chat completions API.
type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// chatError is an error response from the API.
type chatError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// extractSchema constrains the extraction call's output shape.
var extractSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "items": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": "string"},
          "snippet": {"type": "string"},
          "context": {"type": "string", "enum": ["direct", "indirect", "speculative"]},
          "confidence": {"type": "number"}
        },
        "required": ["name", "snippet", "context"],
        "additionalProperties": false
      }
    }
  },
  "required": ["items"],
  "additionalProperties": false
}`)

// confirmSchema constrains the confirmation call's output shape.
var confirmSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "confirmed": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["confirmed"],
  "additionalProperties": false
}`)

// Extract asks the oracle for item-mention candidates.
func (c *ChatClient) Extract(ctx context.Context, title, body string) (ExtractResult, error) {
	userContent := fmt.Sprintf("Title: %s\n\nArticle:\n%s", title, body)

	content, usage, err := c.complete(ctx, extractPrompt, userContent, "item_mentions", extractSchema)
	if err != nil {
		return ExtractResult{Usage: usage}, err
	}

	var parsed struct {
		Items []Candidate `json:"items"`
	}
	if err := json.Unmarshal([]byte(stripFences(content)), &parsed); err != nil {
		return ExtractResult{Usage: usage}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	return ExtractResult{Candidates: parsed.Items, Usage: usage}, nil
}

// Confirm asks the oracle a yes/no relevance question per name.
// Names missing from the reply are treated as rejected.
func (c *ChatClient) Confirm(ctx context.Context, title, body string, names []string) (ConfirmResult, error) {
	if len(names) == 0 {
		return ConfirmResult{Confirmed: map[string]bool{}}, nil
	}

	userContent := fmt.Sprintf("Title: %s\n\nArticle:\n%s\n\nNames found by the scanner:\n- %s",
		title, body, strings.Join(names, "\n- "))

	content, usage, err := c.complete(ctx, confirmPrompt, userContent, "confirmed_mentions", confirmSchema)
	if err != nil {
		return ConfirmResult{Usage: usage}, err
	}

	var parsed struct {
		Confirmed []string `json:"confirmed"`
	}
	if err := json.Unmarshal([]byte(stripFences(content)), &parsed); err != nil {
		return ConfirmResult{Usage: usage}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	confirmed := make(map[string]bool, len(names))
	for _, name := range names {
		confirmed[name] = false
	}
	for _, name := range parsed.Confirmed {
		if _, ok := confirmed[name]; ok {
			confirmed[name] = true
		}
	}

	return ConfirmResult{Confirmed: confirmed, Usage: usage}, nil
}

// complete runs one chat completion with retries and returns the
// message content plus token usage.
func (c *ChatClient) complete(ctx context.Context, system, user, schemaName string, schema json.RawMessage) (string, Usage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", Usage{}, fmt.Errorf("rate limiter error: %w", err)
	}

	req := chatRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: 0.2, // Low temperature for consistent extraction
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		ResponseFormat: &responseFormat{
			Type:       "json_schema",
			JSONSchema: &jsonSchema{Name: schemaName, Strict: true, Schema: schema},
		},
		ReasoningEffort: c.reasoningEffort,
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := defaultBaseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", Usage{}, ctx.Err()
			}
		}

		content, usage, err := c.doRequest(ctx, req)
		if err == nil {
			return content, usage, nil
		}

		lastErr = err
		if !isRetryableError(err) {
			return "", usage, err
		}
	}

	return "", Usage{}, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// doRequest performs the actual HTTP request.
func (c *ChatClient) doRequest(ctx context.Context, req chatRequest) (string, Usage, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return "", Usage{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", Usage{}, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", Usage{}, &retryableError{err: fmt.Errorf("API request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Usage{}, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", Usage{}, &retryableError{err: fmt.Errorf("rate limited (429)")}
	}
	if resp.StatusCode >= 500 {
		return "", Usage{}, &retryableError{err: fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))}
	}
	if resp.StatusCode != http.StatusOK {
		var errResp chatError
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
			return "", Usage{}, fmt.Errorf("API error (%d): %s", resp.StatusCode, errResp.Error.Message)
		}
		return "", Usage{}, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", Usage{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(chatResp.Choices) == 0 {
		return "", Usage{}, fmt.Errorf("%w: empty choices", ErrMalformedResponse)
	}

	usage := Usage{
		PromptTokens:     chatResp.Usage.PromptTokens,
		CompletionTokens: chatResp.Usage.CompletionTokens,
	}
	return chatResp.Choices[0].Message.Content, usage, nil
}

// stripFences removes a markdown code fence some models wrap JSON in.
func stripFences(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

// retryableError wraps an error to indicate it can be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// isRetryableError checks if an error should be retried.
func isRetryableError(err error) bool {
	for e := err; e != nil; {
		if _, ok := e.(*retryableError); ok {
			return true
		}
		if u, ok := e.(interface{ Unwrap() error }); ok {
			e = u.Unwrap()
		} else {
			break
		}
	}
	return false
}

var _ Client = (*ChatClient)(nil)
