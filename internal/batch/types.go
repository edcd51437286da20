package batch

import (
	"context"

	"github.com/Arke-Institute/arke-organizer-service/internal/contextfetch"
	"github.com/Arke-Institute/arke-organizer-service/internal/model"
	"github.com/Arke-Institute/arke-organizer-service/internal/organize"
	"github.com/Arke-Institute/arke-organizer-service/internal/publish"
)

// ContextFetcher is the narrow interface the processor needs from
// component H.
type ContextFetcher interface {
	Fetch(ctx context.Context, id string) (contextfetch.Result, error)
}

// OrganizeRunner is the narrow interface the processor needs from
// component G.
type OrganizeRunner interface {
	Run(ctx context.Context, req model.OrganizeRequest) (organize.Result, error)
}

// EntityPublisher is the narrow interface the processor needs from
// component I.
type EntityPublisher interface {
	Publish(ctx context.Context, item model.ItemState, plan model.OrganizePlan) (publish.Result, error)
}

// CallbackResult is one item's outcome in the callback payload.
type CallbackResult struct {
	ID            string               `json:"id"`
	Status        string               `json:"status"`
	NewTip        string               `json:"new_tip,omitempty"`
	NewVersion    int                  `json:"new_version,omitempty"`
	Error         string               `json:"error,omitempty"`
	GroupsCreated []model.GroupCreated `json:"groups_created,omitempty"`
}

// ProcessingConfig mirrors spec §6's new_pis processing_config object: new
// child entities are plain grouping containers, not re-entrant inputs to
// OCR or another organize pass.
type ProcessingConfig struct {
	OCR        bool `json:"ocr"`
	Reorganize bool `json:"reorganize"`
	Pinax      bool `json:"pinax"`
}

// NewPI is one newly created child entity, surfaced to the orchestrator so
// it can register it for downstream processing.
type NewPI struct {
	ID               string           `json:"id"`
	ParentID         string           `json:"parent_id"`
	Children         []string         `json:"children"`
	ProcessingConfig ProcessingConfig `json:"processing_config"`
}

// CallbackSummary tallies the batch's outcome.
type CallbackSummary struct {
	Total            int   `json:"total"`
	Succeeded        int   `json:"succeeded"`
	Failed           int   `json:"failed"`
	ProcessingTimeMS int64 `json:"processing_time_ms"`
}

// CallbackPayload is the body POSTed to
// {orchestrator}/callback/organizer/{batch_id} (spec §6).
type CallbackPayload struct {
	BatchID string           `json:"batch_id"`
	ChunkID string           `json:"chunk_id"`
	Status  string           `json:"status"`
	Results []CallbackResult `json:"results"`
	NewPIs  []NewPI          `json:"new_pis,omitempty"`
	Summary CallbackSummary  `json:"summary"`
	Error   string           `json:"error,omitempty"`
}

// CallbackSender delivers a CallbackPayload to the upstream orchestrator.
type CallbackSender interface {
	Send(ctx context.Context, payload CallbackPayload) error
}
