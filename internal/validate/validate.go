// Package validate implements component E of the organizer: it turns the
// LLM's raw JSON response into a model.OrganizePlan that spec.md §4.E
// guarantees is safe to publish — every name in it is one of the request's
// input names, every input name is accounted for, and every group name is
// filesystem-safe.
//
// Checking happens in two tiers. Structural checks (required fields
// present, correct shapes, non-empty groups) are fatal: a response that
// fails them cannot be repaired and is rejected outright, the same way the
// teacher's tool-call argument validation rejects malformed JSON before it
// ever reaches business logic. Reconciliation checks (unknown file names,
// omitted files, directory paths) are recoverable: the sanitizer repairs
// them and records a warning, rather than failing the whole request over a
// single fuzzy-matchable filename.
package validate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/Arke-Institute/arke-organizer-service/internal/matcher"
	"github.com/Arke-Institute/arke-organizer-service/internal/model"
)

// requiredTopLevel and requiredGroupFields are the fields a well-formed
// response must carry per spec §4.E before any business-rule reconciliation
// runs. Checking field presence with gjson ahead of json.Unmarshal catches
// the "field present but wrong type" case (e.g. "files": "a.txt" instead of
// an array) that a bare struct-tag decode would otherwise silently coerce
// or fail on with a less useful error.
var (
	requiredTopLevel    = []string{"groups", "ungrouped_files", "reorganization_description"}
	requiredGroupFields = []string{"group_name", "description", "files"}
)

// structuralIssues inspects the raw JSON for missing required fields and
// wrong-shaped values, returning a human-readable issue per problem found.
func structuralIssues(raw []byte) []string {
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return []string{"response body is not a JSON object"}
	}

	var issues []string
	for _, field := range requiredTopLevel {
		if !doc.Get(field).Exists() {
			issues = append(issues, fmt.Sprintf("missing required field %q", field))
		}
	}
	if groups := doc.Get("groups"); groups.Exists() {
		if !groups.IsArray() {
			issues = append(issues, `"groups" must be an array`)
		} else {
			groups.ForEach(func(idx, g gjson.Result) bool {
				if !g.IsObject() {
					issues = append(issues, fmt.Sprintf("groups[%d] must be an object", idx.Int()))
					return true
				}
				for _, field := range requiredGroupFields {
					if !g.Get(field).Exists() {
						issues = append(issues, fmt.Sprintf("groups[%d] missing required field %q", idx.Int(), field))
					}
				}
				if files := g.Get("files"); files.Exists() && !files.IsArray() {
					issues = append(issues, fmt.Sprintf("groups[%d].files must be an array", idx.Int()))
				}
				return true
			})
		}
	}
	if ug := doc.Get("ungrouped_files"); ug.Exists() && !ug.IsArray() {
		issues = append(issues, `"ungrouped_files" must be an array`)
	}
	return issues
}

// rawGroup and rawResponse mirror the LLM's JSON response shape (spec §4.E).
type rawGroup struct {
	GroupName   string   `json:"group_name"`
	Description string   `json:"description"`
	Files       []string `json:"files"`
}

type rawResponse struct {
	Groups                    []rawGroup `json:"groups"`
	UngroupedFiles            []string   `json:"ungrouped_files"`
	ReorganizationDescription string     `json:"reorganization_description"`
}

// StructuralError is returned when the raw response fails schema validation
// and cannot be sanitized at all.
type StructuralError struct {
	Issues []string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("response failed structural validation: %s", strings.Join(e.Issues, "; "))
}

// Sanitize validates raw (the LLM's decoded JSON response body) against the
// structural schema, then reconciles its file references against
// inputNames using a matcher, returning a plan whose every name is in
// inputNames and which accounts for every name in inputNames at least once.
//
// Sanitize returns a *StructuralError when raw fails the fatal schema check.
// All other problems are recovered and reported as warnings.
func Sanitize(raw []byte, inputNames []string) (model.OrganizePlan, []string, error) {
	if issues := structuralIssues(raw); len(issues) > 0 {
		return model.OrganizePlan{}, nil, &StructuralError{Issues: issues}
	}

	var resp rawResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return model.OrganizePlan{}, nil, &StructuralError{Issues: []string{err.Error()}}
	}
	for i, g := range resp.Groups {
		if strings.TrimSpace(g.GroupName) == "" {
			return model.OrganizePlan{}, nil, &StructuralError{
				Issues: []string{fmt.Sprintf("groups[%d].group_name is empty", i)},
			}
		}
		if !model.IsFilesystemSafeName(g.GroupName) {
			return model.OrganizePlan{}, nil, &StructuralError{
				Issues: []string{fmt.Sprintf("groups[%d].group_name %q is not filesystem-safe", i, g.GroupName)},
			}
		}
		if len(g.Files) == 0 {
			return model.OrganizePlan{}, nil, &StructuralError{
				Issues: []string{fmt.Sprintf("groups[%d].files is empty", i)},
			}
		}
	}

	m := matcher.New(inputNames)
	var warnings []string
	accounted := make(map[string]bool, len(inputNames))

	resolve := func(name, where string) (string, bool) {
		if strings.HasSuffix(name, "/") {
			warnings = append(warnings, fmt.Sprintf("dropped directory path %q returned in %s", name, where))
			return "", false
		}
		r := m.Match(name)
		if r.Confidence == matcher.ConfidenceNone {
			warnings = append(warnings, fmt.Sprintf("dropped unresolvable name %q returned in %s", name, where))
			return "", false
		}
		if r.Confidence != matcher.ConfidenceExact {
			warnings = append(warnings, fmt.Sprintf("resolved %q to input file %q in %s via %s match", name, r.Match, where, r.Confidence))
		}
		return r.Match, true
	}

	groups := make([]model.Group, 0, len(resp.Groups))
	for _, g := range resp.Groups {
		files := make([]string, 0, len(g.Files))
		seen := make(map[string]bool, len(g.Files))
		for _, f := range g.Files {
			resolved, ok := resolve(f, fmt.Sprintf("group %q", g.GroupName))
			if !ok || seen[resolved] {
				continue
			}
			seen[resolved] = true
			files = append(files, resolved)
			accounted[resolved] = true
		}
		if len(files) == 0 {
			warnings = append(warnings, fmt.Sprintf("dropped group %q: no resolvable files remained after sanitization", g.GroupName))
			continue
		}
		groups = append(groups, model.Group{GroupName: g.GroupName, Description: g.Description, Files: files})
	}

	ungrouped := make([]string, 0, len(resp.UngroupedFiles))
	seenUngrouped := make(map[string]bool, len(resp.UngroupedFiles))
	for _, f := range resp.UngroupedFiles {
		resolved, ok := resolve(f, "ungrouped_files")
		if !ok || seenUngrouped[resolved] {
			continue
		}
		seenUngrouped[resolved] = true
		ungrouped = append(ungrouped, resolved)
		accounted[resolved] = true
	}

	var missing []string
	for _, in := range inputNames {
		if !accounted[in] {
			missing = append(missing, in)
		}
	}
	if len(missing) > 0 {
		warnings = append(warnings, fmt.Sprintf("response omitted %d input file(s); appended to ungrouped: %s", len(missing), strings.Join(missing, ", ")))
		for _, in := range missing {
			if !seenUngrouped[in] {
				seenUngrouped[in] = true
				ungrouped = append(ungrouped, in)
			}
		}
	}

	plan := model.OrganizePlan{
		Groups:      groups,
		Ungrouped:   ungrouped,
		Description: resp.ReorganizationDescription,
	}
	return plan, warnings, nil
}
