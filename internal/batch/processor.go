// Processor drives the per-batch state machine described in spec.md §4.J:
// PENDING → PROCESSING → PUBLISHING → CALLBACK → {DONE|ERROR}. A single
// logical writer (the scheduler's Tick) owns all mutation of a given
// (batch_id, chunk_id); batches never share mutable state, so multiple
// batches advance concurrently without any cross-batch locking.
package batch

import (
	"context"
	"fmt"
	"time"

	"charm.land/log/v2"
	"golang.org/x/sync/errgroup"

	"github.com/Arke-Institute/arke-organizer-service/internal/model"
)

// Config holds the per-item and callback retry limits from spec §6.
type Config struct {
	MaxRetriesPerItem     int
	MaxCallbackRetries    int
	ProcessingConcurrency int
}

// Processor advances every active batch's state machine one step per Tick.
type Processor struct {
	Store     Store
	Fetcher   ContextFetcher
	Organizer OrganizeRunner
	Publisher EntityPublisher
	Callback  CallbackSender
	Logger    *log.Logger
	Config    Config
}

// New constructs a Processor.
func New(store Store, fetcher ContextFetcher, organizer OrganizeRunner, publisher EntityPublisher, cb CallbackSender, logger *log.Logger, cfg Config) *Processor {
	if cfg.ProcessingConcurrency <= 0 {
		cfg.ProcessingConcurrency = 8
	}
	return &Processor{Store: store, Fetcher: fetcher, Organizer: organizer, Publisher: publisher, Callback: cb, Logger: logger, Config: cfg}
}

// Submit persists a new batch or reports that one is already in flight.
func (p *Processor) Submit(ctx context.Context, batchID, chunkID string, ids []string, customPrompt string) (string, error) {
	items := make([]model.ItemState, len(ids))
	for i, id := range ids {
		items[i] = model.ItemState{ID: id, Status: model.ItemPending}
	}
	state := &model.BatchState{
		BatchID:      batchID,
		ChunkID:      chunkID,
		Phase:        model.PhasePending,
		StartedAt:    startedAt(),
		CustomPrompt: customPrompt,
		Items:        items,
	}

	if err := p.Store.Create(ctx, state); err != nil {
		if err == ErrAlreadyProcessing {
			return "already_processing", nil
		}
		return "", fmt.Errorf("batch: submit: %w", err)
	}
	return "accepted", nil
}

func startedAt() time.Time { return time.Now() }

// Tick advances every active batch by one state-machine step.
func (p *Processor) Tick(ctx context.Context) error {
	active, err := p.Store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("batch: list active: %w", err)
	}
	for _, state := range active {
		if err := p.advance(ctx, state); err != nil {
			if p.Logger != nil {
				p.Logger.Error("batch advance failed", "batch_id", state.BatchID, "chunk_id", state.ChunkID, "err", err)
			}
		}
	}
	return nil
}

// advance runs every phase transition this batch is ready for, persisting
// after each phase so a crash mid-advance resumes from the last committed
// phase rather than re-running finished work.
func (p *Processor) advance(ctx context.Context, state *model.BatchState) error {
	for {
		prevPhase := state.Phase
		var err error
		switch state.Phase {
		case model.PhasePending:
			state.Phase = model.PhaseProcessing
		case model.PhaseProcessing:
			err = p.runProcessing(ctx, state)
		case model.PhasePublishing:
			err = p.runPublishing(ctx, state)
		case model.PhaseCallback:
			err = p.runCallback(ctx, state)
		case model.PhaseDone, model.PhaseError:
			return p.Store.Delete(ctx, state.BatchID, state.ChunkID)
		default:
			return fmt.Errorf("batch: unknown phase %q", state.Phase)
		}
		if err != nil {
			return err
		}
		if err := p.Store.Save(ctx, state); err != nil {
			return fmt.Errorf("batch: save state: %w", err)
		}
		if state.Phase == prevPhase {
			return nil
		}
	}
}

// runProcessing runs every item in {pending, fetching} in parallel, then
// transitions the batch to PUBLISHING once none remain in {pending,
// fetching, processing}.
func (p *Processor) runProcessing(ctx context.Context, state *model.BatchState) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.Config.ProcessingConcurrency)

	for i := range state.Items {
		item := &state.Items[i]
		if item.Status != model.ItemPending && item.Status != model.ItemFetching {
			continue
		}
		g.Go(func() error {
			p.processItem(gctx, item)
			return nil
		})
	}
	_ = g.Wait()

	for _, item := range state.Items {
		if item.Status == model.ItemPending || item.Status == model.ItemFetching || item.Status == model.ItemProcessing {
			return nil
		}
	}
	state.Phase = model.PhasePublishing
	return nil
}

// processItem runs fetch (H) then organize (G) for one item, advancing its
// status and persisting just enough state to resume — file content is
// dropped once the plan is built to bound storage, per spec §4.J step 3.
func (p *Processor) processItem(ctx context.Context, item *model.ItemState) {
	item.Status = model.ItemFetching
	fetched, err := p.Fetcher.Fetch(ctx, item.ID)
	if err != nil {
		p.recordFailure(item, fmt.Sprintf("context fetch: %v", err))
		return
	}
	item.Tip = fetched.Tip
	item.Components = fetched.Components
	item.Files = fetched.Files

	if len(item.Files) < 3 {
		item.Status = model.ItemDone
		item.Files = nil
		return
	}

	item.Status = model.ItemProcessing
	req := model.OrganizeRequest{DirectoryPath: item.DirectoryPath, Files: item.Files}
	res, err := p.Organizer.Run(ctx, req)
	if err != nil {
		p.recordFailure(item, fmt.Sprintf("organize: %v", err))
		return
	}

	item.Plan = &res.Plan
	item.Files = nil
	item.Status = model.ItemPublishing
}

// recordFailure is the failure path: increment retry_count, and mark
// the item error once MAX_RETRIES_PER_ITEM is reached, otherwise revert to
// pending for another attempt on the next tick.
func (p *Processor) recordFailure(item *model.ItemState, message string) {
	item.RetryCount++
	if item.RetryCount >= p.Config.MaxRetriesPerItem {
		item.Status = model.ItemError
		item.Error = message
		return
	}
	item.Status = model.ItemPending
	item.Error = message
}

// runPublishing processes publishing-status items one at a time, per spec
// §5's deliberate asymmetry: entity writes contend for CAS and benefit
// from serialization.
func (p *Processor) runPublishing(ctx context.Context, state *model.BatchState) error {
	for i := range state.Items {
		item := &state.Items[i]
		if item.Status != model.ItemPublishing || item.NewParentTip != "" {
			continue
		}
		if item.Plan == nil {
			item.Status = model.ItemError
			item.Error = "publishing: no plan recorded"
			continue
		}
		res, err := p.Publisher.Publish(ctx, *item, *item.Plan)
		if err != nil {
			item.Status = model.ItemError
			item.Error = fmt.Sprintf("publish: %v", err)
			continue
		}
		item.NewParentTip = res.NewParentTip
		item.NewParentVersion = res.NewParentVersion
		item.GroupsCreated = res.GroupsCreated
		item.Ungrouped = item.Plan.Ungrouped
		item.Plan = nil
		item.Status = model.ItemDone
	}

	for _, item := range state.Items {
		if item.Status == model.ItemPublishing {
			return nil
		}
	}
	state.Phase = model.PhaseCallback
	return nil
}

// runCallback sends the aggregated CallbackPayload once. On failure it
// tries again on each subsequent tick, with no backoff between attempts,
// until MaxCallbackRetries attempts in all (the first one included) have
// failed, then force-transitions to DONE so the batch does not retain
// state forever.
//
// CompletedAt is stamped here, the first time the batch reaches the
// CALLBACK phase (idempotent across retries), since this is where the
// state machine commits to its terminal DONE transition — there is no
// separate whole-batch ERROR phase in this implementation; per-item
// failures are carried in the callback payload's own results instead.
func (p *Processor) runCallback(ctx context.Context, state *model.BatchState) error {
	if state.CompletedAt == nil {
		now := time.Now()
		state.CompletedAt = &now
	}
	payload := buildCallbackPayload(state)
	if err := p.Callback.Send(ctx, payload); err != nil {
		state.CallbackRetryCount++
		if p.Logger != nil {
			p.Logger.Warn("callback delivery failed", "batch_id", state.BatchID, "attempt", state.CallbackRetryCount, "err", err)
		}
		if state.CallbackRetryCount >= p.Config.MaxCallbackRetries {
			state.GlobalError = fmt.Sprintf("callback delivery failed after %d attempts: %v", state.CallbackRetryCount, err)
			state.Phase = model.PhaseDone
		}
		return nil
	}
	state.Phase = model.PhaseDone
	return nil
}

func buildCallbackPayload(state *model.BatchState) CallbackPayload {
	results := make([]CallbackResult, len(state.Items))
	var succeeded, failed int
	var newPIs []NewPI

	for i, item := range state.Items {
		if item.Status == model.ItemError {
			failed++
			results[i] = CallbackResult{ID: item.ID, Status: "error", Error: item.Error}
			continue
		}
		succeeded++
		results[i] = CallbackResult{
			ID:            item.ID,
			Status:        "success",
			NewTip:        item.NewParentTip,
			NewVersion:    item.NewParentVersion,
			GroupsCreated: item.GroupsCreated,
		}
		for _, g := range item.GroupsCreated {
			newPIs = append(newPIs, NewPI{
				ID:       g.ID,
				ParentID: item.ID,
				Children: nil,
				ProcessingConfig: ProcessingConfig{
					OCR:        false,
					Reorganize: false,
					Pinax:      true,
				},
			})
		}
	}

	status := "success"
	switch {
	case succeeded == 0:
		status = "error"
	case failed > 0:
		status = "partial"
	}

	var processingTimeMS int64
	if state.CompletedAt != nil {
		processingTimeMS = state.CompletedAt.Sub(state.StartedAt).Milliseconds()
	}

	return CallbackPayload{
		BatchID: state.BatchID,
		ChunkID: state.ChunkID,
		Status:  status,
		Results: results,
		NewPIs:  newPIs,
		Summary: CallbackSummary{
			Total:            len(state.Items),
			Succeeded:        succeeded,
			Failed:           failed,
			ProcessingTimeMS: processingTimeMS,
		},
		Error: state.GlobalError,
	}
}
