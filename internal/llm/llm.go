// Package llm implements component F of the organizer: a client for an
// OpenAI-compatible chat-completions endpoint that asks for a
// schema-constrained JSON response via response_format: json_schema.
//
// The teacher reaches for a full agent SDK (fantasy, openai-go) when it
// needs tool-calling, streaming, and multi-turn state. This client needs
// none of that — one request, one schema-constrained JSON response — so it
// talks to the endpoint directly over net/http, the way the teacher's own
// lower-level HTTP helpers do, which keeps status-code-based error
// classification (transient vs permanent vs malformed) explicit instead of
// buried inside an SDK's retry policy.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/invopop/jsonschema"
)

// ErrorKind classifies a completion failure for the caller's retry policy.
type ErrorKind string

const (
	// KindTransient is a retryable failure: rate limit, timeout, 5xx.
	KindTransient ErrorKind = "transient"
	// KindPermanent is a non-retryable failure: auth, bad request, 4xx
	// other than rate-limit.
	KindPermanent ErrorKind = "permanent"
	// KindMalformed means the call returned 200 but the response envelope
	// could not be decoded or carried no choices; the content string itself
	// is not checked here.
	KindMalformed ErrorKind = "malformed"
)

// Error wraps a completion failure with its classification.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("llm: %s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("llm: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func classifyStatus(code int) ErrorKind {
	switch {
	case code == http.StatusTooManyRequests:
		return KindTransient
	case code >= 500:
		return KindTransient
	case code >= 400:
		return KindPermanent
	default:
		return KindPermanent
	}
}

// Client talks to an OpenAI-compatible /v1/chat/completions endpoint.
type Client struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

// New constructs a Client. baseURL should not have a trailing slash.
func New(baseURL, apiKey, model string) *Client {
	return &Client{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		Model:      model,
		HTTPClient: &http.Client{Timeout: 120 * time.Second},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type jsonSchemaFormat struct {
	Type       string          `json:"type"`
	JSONSchema jsonSchemaSpec  `json:"json_schema"`
}

type jsonSchemaSpec struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema *jsonschema.Schema `json:"schema"`
}

type completionRequest struct {
	Model          string           `json:"model"`
	Messages       []chatMessage    `json:"messages"`
	MaxTokens      int              `json:"max_tokens"`
	Temperature    float64          `json:"temperature"`
	ResponseFormat jsonSchemaFormat `json:"response_format"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// OrganizePlanSchema is reflected into the JSON schema passed as
// response_format, constraining the model to exactly the shape
// internal/validate expects to sanitize.
type OrganizePlanSchema struct {
	Groups []struct {
		GroupName   string   `json:"group_name" jsonschema:"required,description=Filesystem-safe name for this group"`
		Description string   `json:"description" jsonschema:"required"`
		Files       []string `json:"files" jsonschema:"required,minItems=1"`
	} `json:"groups" jsonschema:"required"`
	UngroupedFiles             []string `json:"ungrouped_files" jsonschema:"required"`
	ReorganizationDescription string   `json:"reorganization_description" jsonschema:"required"`
}

// Usage reports the token accounting an OpenAI-compatible endpoint returns
// alongside a completion, for the cost bookkeeping spec.md §6 config knobs
// (LLMInputPrice/LLMOutputPrice) are meant to be multiplied against.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Complete sends system/user messages plus a JSON schema for the response
// shape, and returns the raw JSON content string the model produced.
// schemaFor should usually be the zero value of the target Go struct; the
// schema is reflected from its type with jsonschema.Reflect, the same
// struct-tag-driven approach invopop/jsonschema uses across the teacher's
// dependency set.
func (c *Client) Complete(ctx context.Context, system, user string, schemaFor any, maxTokens int, temperature float64) (string, Usage, error) {
	schema := jsonschema.Reflect(schemaFor)
	schema.Version = ""

	reqBody := completionRequest{
		Model: c.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens:   maxTokens,
		Temperature: temperature,
		ResponseFormat: jsonSchemaFormat{
			Type: "json_schema",
			JSONSchema: jsonSchemaSpec{
				Name:   "organize_plan",
				Strict: true,
				Schema: schema,
			},
		},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", Usage{}, &Error{Kind: KindPermanent, Err: fmt.Errorf("encode request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", Usage{}, &Error{Kind: KindPermanent, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	// Each attempt gets its own ID so the provider's logs can be correlated
	// with a specific retry attempt rather than the whole Complete call.
	httpReq.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return "", Usage{}, &Error{Kind: KindTransient, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Usage{}, &Error{Kind: KindTransient, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return "", Usage{}, &Error{
			Kind:       classifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", string(respBody)),
		}
	}

	var parsed completionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", Usage{}, &Error{Kind: KindMalformed, Err: fmt.Errorf("decode completion envelope: %w", err)}
	}
	if len(parsed.Choices) == 0 {
		return "", Usage{}, &Error{Kind: KindMalformed, Err: fmt.Errorf("no choices returned")}
	}

	usage := Usage{PromptTokens: parsed.Usage.PromptTokens, CompletionTokens: parsed.Usage.CompletionTokens}
	return parsed.Choices[0].Message.Content, usage, nil
}
