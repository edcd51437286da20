// Package publish implements component I of the organizer: given a
// processed item, it creates one child entity per group, uploads a
// human-readable reorganization description, and appends a new version to
// the parent entity — refetching the parent's tip on every CAS-conflict
// retry, since reusing a tip captured before the retry loop began is
// exactly the bug spec.md §9 calls out.
package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/Arke-Institute/arke-organizer-service/internal/entitystore"
	"github.com/Arke-Institute/arke-organizer-service/internal/model"
)

const childEntityType = "PI"

// Options controls the CAS-retry policy for the parent version append.
type Options struct {
	MaxRetries uint64
	RetryBase  time.Duration
}

// DefaultOptions matches spec.md §4.I's "retry on CAS conflict with
// exponential backoff (≥3 attempts)".
func DefaultOptions() Options {
	return Options{MaxRetries: 3, RetryBase: 50 * time.Millisecond}
}

// Publisher runs the publish operation against an entity store.
type Publisher struct {
	Store entitystore.Client
	Opts  Options
}

// New constructs a Publisher.
func New(store entitystore.Client, opts Options) *Publisher {
	return &Publisher{Store: store, Opts: opts}
}

// Result is what the batch processor persists back into the ItemState.
type Result struct {
	NewParentTip     string
	NewParentVersion int
	GroupsCreated    []model.GroupCreated
	Warnings         []string
}

// Publish creates child entities for every non-empty group in plan, then
// appends a single new version to the parent (item.ID) describing the
// components removed by the split and the new reorganization description.
// A plan with no groups publishes nothing: Publish returns an empty Result
// without calling the store.
func (p *Publisher) Publish(ctx context.Context, item model.ItemState, plan model.OrganizePlan) (Result, error) {
	var result Result
	if len(plan.Groups) == 0 {
		return result, nil
	}
	componentsToRemove := make(map[string]bool)

	for _, g := range plan.Groups {
		subset := make(map[string]string, len(g.Files))
		for _, name := range g.Files {
			if cid, ok := item.Components[name]; ok {
				subset[name] = cid
			}
		}
		if len(subset) == 0 {
			result.Warnings = append(result.Warnings, fmt.Sprintf("skipped group %q: no matching components on parent", g.GroupName))
			continue
		}

		note := fmt.Sprintf("split from %s: %s", item.ID, g.GroupName)
		child, err := p.Store.CreateEntity(ctx, subset, item.ID, childEntityType, note)
		if err != nil {
			return Result{}, fmt.Errorf("publish: create child entity for group %q: %w", g.GroupName, err)
		}

		result.GroupsCreated = append(result.GroupsCreated, model.GroupCreated{
			GroupName:   g.GroupName,
			ID:          child.ID,
			Files:       g.Files,
			Description: g.Description,
		})
		for name := range subset {
			componentsToRemove[name] = true
		}
	}

	descriptionCID, err := p.Store.Upload(ctx, "reorganization-description.txt", []byte(buildDescription(plan, result.GroupsCreated)))
	if err != nil {
		return Result{}, fmt.Errorf("publish: upload reorganization description: %w", err)
	}

	removeList := make([]string, 0, len(componentsToRemove))
	for name := range componentsToRemove {
		removeList = append(removeList, name)
	}

	updated, err := p.appendParentVersion(ctx, item.ID, descriptionCID, removeList)
	if err != nil {
		return Result{}, fmt.Errorf("publish: append parent version: %w", err)
	}

	result.NewParentTip = updated.Tip
	result.NewParentVersion = updated.Version
	return result, nil
}

// appendParentVersion retries on CAS conflict, refetching the parent's
// current tip inside the retry closure on every attempt.
func (p *Publisher) appendParentVersion(ctx context.Context, parentID, descriptionCID string, removeList []string) (entityVersion, error) {
	backoff, err := retry.NewExponential(p.Opts.RetryBase)
	if err != nil {
		return entityVersion{}, err
	}
	backoff = retry.WithMaxRetries(p.Opts.MaxRetries, backoff)

	var result entityVersion
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		parent, err := p.Store.GetEntity(ctx, parentID)
		if err != nil {
			return fmt.Errorf("refetch parent tip: %w", err)
		}

		updated, err := p.Store.AppendVersion(ctx, parentID, parent.Tip,
			map[string]string{"reorganization-description.txt": descriptionCID},
			removeList,
			"organizer split",
		)
		if err != nil {
			if errors.Is(err, entitystore.ErrCASConflict) {
				return retry.RetryableError(err)
			}
			return err
		}
		result = entityVersion{Tip: updated.Tip, Version: updated.Version}
		return nil
	})
	return result, err
}

type entityVersion struct {
	Tip     string
	Version int
}

func buildDescription(plan model.OrganizePlan, created []model.GroupCreated) string {
	var b strings.Builder
	if plan.Description != "" {
		b.WriteString(plan.Description)
		b.WriteString("\n\n")
	}
	for _, g := range created {
		fmt.Fprintf(&b, "- %s: %s (%d files)\n", g.GroupName, g.Description, len(g.Files))
	}
	if len(plan.Ungrouped) > 0 {
		fmt.Fprintf(&b, "\nUngrouped: %s\n", strings.Join(plan.Ungrouped, ", "))
	}
	return b.String()
}
