// Package organize implements component G of the organizer: the
// end-to-end single-request pipeline that turns an OrganizeRequest into a
// sanitized OrganizePlan by building prompts (D), calling the LLM (F) with
// retry, and validating/sanitizing the response (E).
package organize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"charm.land/log/v2"
	"github.com/sethvargo/go-retry"

	"github.com/Arke-Institute/arke-organizer-service/internal/llm"
	"github.com/Arke-Institute/arke-organizer-service/internal/model"
	"github.com/Arke-Institute/arke-organizer-service/internal/prompt"
	"github.com/Arke-Institute/arke-organizer-service/internal/tokenest"
	"github.com/Arke-Institute/arke-organizer-service/internal/validate"
)

// Completer is the subset of *llm.Client organize depends on, so tests can
// substitute a stub without spinning up an HTTP server.
type Completer interface {
	Complete(ctx context.Context, system, user string, schemaFor any, maxTokens int, temperature float64) (string, llm.Usage, error)
}

// Options controls retry and budget behavior. It has no defaults of its
// own: cmd/organizerd sets MaxTokens, TokenBudgetPercentage and the prices
// from internal/config, and Temperature, MaxLLMRetries and RetryBase to
// fixed values.
type Options struct {
	MaxTokens             int
	TokenBudgetPercentage float64
	Temperature           float64
	MaxLLMRetries         uint64
	RetryBase             time.Duration
	// InputPrice and OutputPrice are dollars per 1e6 tokens (spec.md §4.F
	// cost formula); zero prices give a Cost of 0.
	InputPrice  float64
	OutputPrice float64
}

// Organizer runs the single-request organize pipeline.
type Organizer struct {
	LLM       Completer
	Estimator tokenest.Estimator
	Logger    *log.Logger
	Opts      Options
}

// New constructs an Organizer.
func New(client Completer, estimator tokenest.Estimator, logger *log.Logger, opts Options) *Organizer {
	return &Organizer{LLM: client, Estimator: estimator, Logger: logger, Opts: opts}
}

// Result is the plan plus the token accounting and dollar cost of the LLM
// call that produced it (spec.md §4.F/§6: the synchronous /organize
// response carries "tokens, cost" alongside the plan).
type Result struct {
	Plan            model.OrganizePlan
	PromptTokens    int
	CompletionTokens int
	TotalTokens     int
	Cost            float64
}

// Run executes the full pipeline for one request: build prompts, call the
// LLM with exponential-backoff retry on transient failures, then validate
// and sanitize the response against req's input file names.
func (o *Organizer) Run(ctx context.Context, req model.OrganizeRequest) (Result, error) {
	inputNames := make([]string, len(req.Files))
	for i, f := range req.Files {
		inputNames[i] = f.Name
	}

	builder := prompt.New(o.Estimator)
	built := builder.Build(req, o.Opts.MaxTokens, o.Opts.TokenBudgetPercentage)

	backoff, err := retry.NewExponential(o.Opts.RetryBase)
	if err != nil {
		return Result{}, fmt.Errorf("organize: build retry policy: %w", err)
	}
	backoff = retry.WithMaxRetries(o.Opts.MaxLLMRetries, backoff)
	backoff = retry.WithJitterPercent(20, backoff)

	var raw string
	var usage llm.Usage
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		content, u, callErr := o.LLM.Complete(ctx, built.System, built.User, llm.OrganizePlanSchema{}, o.Opts.MaxTokens, o.Opts.Temperature)
		if callErr != nil {
			var lerr *llm.Error
			if errors.As(callErr, &lerr) && lerr.Kind == llm.KindTransient {
				if o.Logger != nil {
					o.Logger.Warn("llm call failed, retrying", "err", callErr)
				}
				return retry.RetryableError(callErr)
			}
			return callErr
		}
		raw = content
		usage = u
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("organize: llm completion: %w", err)
	}

	plan, warnings, err := validate.Sanitize([]byte(raw), inputNames)
	if err != nil {
		return Result{}, fmt.Errorf("organize: sanitize response: %w", err)
	}

	truncation := built.Truncation
	plan.Truncation = &truncation
	plan.Warnings = warnings

	cost := float64(usage.PromptTokens)/1e6*o.Opts.InputPrice + float64(usage.CompletionTokens)/1e6*o.Opts.OutputPrice

	return Result{
		Plan:             plan,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.PromptTokens + usage.CompletionTokens,
		Cost:             cost,
	}, nil
}
