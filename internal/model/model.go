// Package model holds the data types shared across the organizer's
// components: the request/response shapes of spec.md §3, plus the
// persisted batch-processor state of §3/§4.J.
package model

import (
	"strings"
	"time"
)

// FileKind distinguishes a textual document from a reference descriptor for
// a non-text artifact.
type FileKind string

const (
	KindText FileKind = "text"
	KindRef  FileKind = "ref"
)

// FileInput is one input file to an organize request.
type FileInput struct {
	Name         string   `json:"name"`
	Kind         FileKind `json:"kind"`
	Content      string   `json:"content"`
	OriginalName string   `json:"original_name,omitempty"`
	MIME         string   `json:"mime,omitempty"`
	Size         int64    `json:"size,omitempty"`
}

// OrganizeRequest is the input to the single-request organize operation.
type OrganizeRequest struct {
	DirectoryPath    string      `json:"directory_path"`
	Files            []FileInput `json:"files"`
	CustomPrompt     string      `json:"custom_prompt,omitempty"`
	StrategyGuidance string      `json:"strategy_guidance,omitempty"`
}

// MaxRequestBytes is the serialized-size invariant from spec §3.
const MaxRequestBytes = 10 * 1024 * 1024

// unsafeNameChars are forbidden in a group_name per spec §3: / \ : * ? " < > |
const unsafeNameChars = `/\:*?"<>|`

// IsFilesystemSafeName reports whether name contains none of the forbidden
// characters / \ : * ? " < > |.
func IsFilesystemSafeName(name string) bool {
	return !strings.ContainsAny(name, unsafeNameChars)
}

// Group is a named subset of input files with a human-readable description.
type Group struct {
	GroupName   string   `json:"group_name"`
	Description string   `json:"description"`
	Files       []string `json:"files"`
}

// OrganizePlan is the result of organizing a request.
type OrganizePlan struct {
	Groups      []Group          `json:"groups"`
	Ungrouped   []string         `json:"ungrouped"`
	Description string           `json:"description"`
	Truncation  *TruncationStats `json:"truncation,omitempty"`
	Warnings    []string         `json:"warnings,omitempty"`
}

// TruncationStats summarizes what the progressive-tax allocator did to fit
// file content into the prompt's token budget.
type TruncationStats struct {
	Applied               bool    `json:"applied"`
	TotalOriginalTokens   int     `json:"total_original_tokens"`
	TargetTokens          int     `json:"target_tokens"`
	Deficit               int     `json:"deficit"`
	ProtectionModeUsed    bool    `json:"protection_mode_used"`
	ProtectedCount        int     `json:"protected_count"`
	TruncatedCount        int     `json:"truncated_count"`
}

// Entity is the external content-addressed store's unit of storage.
type Entity struct {
	ID         string            `json:"id"`
	Tip        string            `json:"tip"`
	Version    int               `json:"version"`
	Components map[string]string `json:"components"` // name -> cid
	Parent     string            `json:"parent,omitempty"`
	Children   []string          `json:"children,omitempty"`
}

// BatchPhase is the batch processor's state-machine phase.
type BatchPhase string

const (
	PhasePending    BatchPhase = "PENDING"
	PhaseProcessing BatchPhase = "PROCESSING"
	PhasePublishing BatchPhase = "PUBLISHING"
	PhaseCallback   BatchPhase = "CALLBACK"
	PhaseDone       BatchPhase = "DONE"
	PhaseError      BatchPhase = "ERROR"
)

// ItemStatus is one item's progress within a batch.
type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemFetching   ItemStatus = "fetching"
	ItemProcessing ItemStatus = "processing"
	ItemPublishing ItemStatus = "publishing"
	ItemDone       ItemStatus = "done"
	ItemError      ItemStatus = "error"
)

// GroupCreated records one published child entity.
type GroupCreated struct {
	GroupName   string `json:"group_name"`
	ID          string `json:"id"`
	Files       []string `json:"files"`
	Description string `json:"description"`
}

// ItemState is the persisted per-directory state within a batch.
type ItemState struct {
	ID                string          `json:"id"`
	Status            ItemStatus      `json:"status"`
	RetryCount        int             `json:"retry_count"`
	Tip               string          `json:"tip,omitempty"`
	DirectoryPath     string          `json:"directory_path,omitempty"`
	Files             []FileInput     `json:"files,omitempty"`
	Components        map[string]string `json:"components,omitempty"`
	Plan              *OrganizePlan   `json:"plan,omitempty"`
	GroupsCreated     []GroupCreated  `json:"groups_created,omitempty"`
	NewParentTip      string          `json:"new_parent_tip,omitempty"`
	NewParentVersion  int             `json:"new_parent_version,omitempty"`
	Ungrouped         []string        `json:"ungrouped,omitempty"`
	Error             string          `json:"error,omitempty"`
}

// BatchState is the persisted state of one (batch_id, chunk_id) unit.
type BatchState struct {
	BatchID            string      `json:"batch_id"`
	ChunkID            string      `json:"chunk_id"`
	Phase              BatchPhase  `json:"phase"`
	StartedAt          time.Time   `json:"started_at"`
	CompletedAt        *time.Time  `json:"completed_at,omitempty"`
	CallbackRetryCount int         `json:"callback_retry_count"`
	CustomPrompt       string      `json:"custom_prompt,omitempty"`
	Items              []ItemState `json:"items"`
	GlobalError        string      `json:"global_error,omitempty"`
}

// ProgressCounts tallies item statuses for the /status endpoint.
type ProgressCounts struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Fetching   int `json:"fetching"`
	Processing int `json:"processing"`
	Publishing int `json:"publishing"`
	Done       int `json:"done"`
	Failed     int `json:"failed"`
}

// Progress computes the ProgressCounts for a BatchState's items.
func (b *BatchState) Progress() ProgressCounts {
	var p ProgressCounts
	p.Total = len(b.Items)
	for _, it := range b.Items {
		switch it.Status {
		case ItemPending:
			p.Pending++
		case ItemFetching:
			p.Fetching++
		case ItemProcessing:
			p.Processing++
		case ItemPublishing:
			p.Publishing++
		case ItemDone:
			p.Done++
		case ItemError:
			p.Failed++
		}
	}
	return p
}
