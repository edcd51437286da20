// Package prompt implements component D of the organizer: it builds the
// system and user prompts sent to the LLM client, using the token
// estimator (A) and progressive-tax allocator (B) to fit arbitrarily many
// files into a fixed input budget while preserving small files intact.
package prompt

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/Arke-Institute/arke-organizer-service/internal/budget"
	"github.com/Arke-Institute/arke-organizer-service/internal/model"
	"github.com/Arke-Institute/arke-organizer-service/internal/tokenest"
)

const noOCRPlaceholder = "(No OCR text available — use filename/metadata for grouping)"

const divider = "\n\n---\n\n"

const systemPromptTemplate = `You are a meticulous archivist. Given a set of files from a single directory, group them into named, filesystem-safe collections based on their semantic content, purpose, or relationship to one another. A file may belong to more than one group when that overlap is meaningful. Every input file must be accounted for exactly: either placed into at least one group, or listed as ungrouped. Never invent a filename that was not given to you.`

const fixedInstructionsTemplate = `Instructions:
1. Every file name given above must appear somewhere in your output: in at least one group's "files" list, or in "ungrouped_files".
2. Only use file names from the list above. Do not invent, abbreviate, or guess at names.
3. Do not return directory paths (strings ending in "/"); return file names only.
4. A file may appear in more than one group when it genuinely belongs to multiple groups.
5. Each group_name must be filesystem-safe: it must not contain any of the characters / \ : * ? " < > |.
6. Write a short reorganization_description summarizing the grouping strategy you used.`

// Builder produces prompts using a token Estimator for truncation and the
// progressive-tax allocator for fair-share content budgeting.
type Builder struct {
	Estimator tokenest.Estimator
}

// New constructs a Builder with the given estimator.
func New(estimator tokenest.Estimator) *Builder {
	return &Builder{Estimator: estimator}
}

// Result is the built prompt pair plus the truncation bookkeeping the
// caller (internal/organize) attaches to the resulting plan. Keeping this
// as a returned value rather than a package-global slot is the concurrency
// fix spec.md §9 Design Notes calls for: "this must become per-request
// state threaded through or returned from the prompt builder."
type Result struct {
	System     string
	User       string
	Truncation model.TruncationStats
}

// metadataBlock renders one file's metadata line.
func metadataBlock(f model.FileInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "name: %s\n", f.Name)
	fmt.Fprintf(&b, "kind: %s\n", f.Kind)
	if f.OriginalName != "" {
		fmt.Fprintf(&b, "original: %s\n", f.OriginalName)
	}
	if f.MIME != "" {
		fmt.Fprintf(&b, "mime: %s\n", f.MIME)
	}
	if f.Size > 0 {
		fmt.Fprintf(&b, "size: %s\n", humanize.Bytes(uint64(f.Size)))
	}
	return b.String()
}

// Build produces the (system, user) prompt pair for req, fitting file
// content into maxTokens*budgetPercentage tokens total.
func (b *Builder) Build(req model.OrganizeRequest, maxTokens int, budgetPercentage float64) Result {
	M := float64(maxTokens) * budgetPercentage

	fixedInstructions := fixedInstructionsTemplate
	if req.CustomPrompt != "" {
		fixedInstructions = req.CustomPrompt + "\n\n" + fixedInstructions
	}
	if req.StrategyGuidance != "" {
		fixedInstructions = fixedInstructions + "\n\nStrategy guidance: " + req.StrategyGuidance
	}

	static := b.Estimator.Estimate(systemPromptTemplate + fixedInstructions)

	metadataTokens := 0
	metas := make([]string, len(req.Files))
	for i, f := range req.Files {
		metas[i] = metadataBlock(f)
		metadataTokens += b.Estimator.Estimate(metas[i])
	}

	separatorTokens := 0
	if len(req.Files) > 1 {
		separatorTokens = b.Estimator.Estimate(divider) * (len(req.Files) - 1)
	}

	contentBudget := int(M) - static - metadataTokens - separatorTokens
	if contentBudget < 0 {
		contentBudget = 0
	}

	// Only non-empty content items compete for the content budget; empty
	// ref files get the fixed "no OCR" string and empty text files get
	// nothing, per spec §4.D.
	type contentItem struct {
		index int
		text  string
	}
	var contentItems []contentItem
	for i, f := range req.Files {
		if f.Content == "" {
			continue
		}
		contentItems = append(contentItems, contentItem{index: i, text: f.Content})
	}

	budgetItems := make([]budget.Item, len(contentItems))
	for i, ci := range contentItems {
		budgetItems[i] = budget.Item{Name: fmt.Sprintf("%d", ci.index), Tokens: b.Estimator.Estimate(ci.text)}
	}
	allocations, stats := budget.Allocate(budgetItems, contentBudget)
	allocByIndex := make(map[int]int, len(allocations))
	for i, a := range allocations {
		allocByIndex[contentItems[i].index] = a.AllocatedTokens
	}

	truncation := model.TruncationStats{
		Applied:             stats.Deficit > 0,
		TotalOriginalTokens: stats.TotalOriginalTokens,
		TargetTokens:        stats.TargetTokens,
		Deficit:             stats.Deficit,
		ProtectionModeUsed:  stats.ProtectionModeUsed,
		ProtectedCount:      stats.ProtectedCount,
		TruncatedCount:      stats.TruncatedCount,
	}

	var user strings.Builder
	user.WriteString(fmt.Sprintf("Directory: %s\n\n", req.DirectoryPath))
	user.WriteString("Files:\n")

	sections := make([]string, 0, len(req.Files))
	for i, f := range req.Files {
		var sec strings.Builder
		sec.WriteString(metas[i])
		switch {
		case f.Content != "":
			allocated := allocByIndex[i]
			sec.WriteString(b.Estimator.Truncate(f.Content, allocated))
		case f.Kind == model.KindRef:
			sec.WriteString(noOCRPlaceholder)
		default:
			// Empty text file: nothing after the metadata block.
		}
		sections = append(sections, sec.String())
	}
	user.WriteString(strings.Join(sections, divider))
	user.WriteString("\n\n")
	user.WriteString(fixedInstructions)

	return Result{
		System:     systemPromptTemplate,
		User:       user.String(),
		Truncation: truncation,
	}
}
