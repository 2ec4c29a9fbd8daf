package agents

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/parley-ai/parley/internal/model"
)

// ToolPolicy grades one tool for the confirmation gate.
type ToolPolicy struct {
	Category    string
	Sensitivity model.Sensitivity
	Undoable    bool
}

// policyTable is the declarative policy for every registered tool.
// Unregistered tools fall back to the keyword heuristics in Classify.
var policyTable = map[string]ToolPolicy{
	"createCalendarEvent": {Category: "calendar", Sensitivity: model.SensitivityHigh, Undoable: true},
	"listCalendarEvents":  {Category: "calendar", Sensitivity: model.SensitivityLow, Undoable: true},
	"deleteCalendarEvent": {Category: "calendar", Sensitivity: model.SensitivityCritical, Undoable: false},

	"sendEmail":  {Category: "email", Sensitivity: model.SensitivityHigh, Undoable: false},
	"fetchInbox": {Category: "email", Sensitivity: model.SensitivityLow, Undoable: true},
	"draftReply": {Category: "email", Sensitivity: model.SensitivityMedium, Undoable: true},

	"searchWeb": {Category: "dataModification", Sensitivity: model.SensitivityLow, Undoable: true},
	"fetchPage": {Category: "dataModification", Sensitivity: model.SensitivityLow, Undoable: true},

	"writeFile":  {Category: "file", Sensitivity: model.SensitivityHigh, Undoable: true},
	"readFile":   {Category: "file", Sensitivity: model.SensitivityLow, Undoable: true},
	"deleteFile": {Category: "file", Sensitivity: model.SensitivityCritical, Undoable: false},
}

var categoryKeywords = []struct {
	category string
	words    []string
}{
	{"delete", []string{"delete", "destroy", "purge", "remove"}},
	{"calendar", []string{"calendar", "event", "schedule", "meeting"}},
	{"email", []string{"email", "mail", "inbox"}},
	{"file", []string{"file", "document", "folder"}},
	{"social", []string{"post", "tweet", "social", "publish"}},
}

var destructiveWords = []string{"delete", "destroy", "purge"}

// Classify returns the confirmation policy for a tool. Registered tools
// come straight from the policy table; anything else is graded by
// tool-name keywords.
func Classify(toolName string) ToolPolicy {
	if p, ok := policyTable[toolName]; ok {
		return p
	}

	lowered := strings.ToLower(toolName)
	p := ToolPolicy{Category: "dataModification", Sensitivity: model.SensitivityMedium, Undoable: true}

	for _, ck := range categoryKeywords {
		if containsAny(lowered, ck.words) {
			p.Category = ck.category
			break
		}
	}

	switch {
	case containsAny(lowered, destructiveWords):
		p.Sensitivity = model.SensitivityCritical
	case containsAny(lowered, []string{"update", "write", "create", "send"}):
		p.Sensitivity = model.SensitivityHigh
	case containsAny(lowered, []string{"read", "fetch", "get", "list"}):
		p.Sensitivity = model.SensitivityLow
	}

	p.Undoable = !containsAny(lowered, destructiveWords)
	return p
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// BuildPreview flattens a tool call into the summary shown to the user
// while the call waits for confirmation.
func BuildPreview(toolName string, args json.RawMessage, policy ToolPolicy) model.ToolPreview {
	preview := model.ToolPreview{
		Title:   fmt.Sprintf("%s (%s)", toolName, policy.Category),
		Details: map[string]string{},
	}

	var parsed map[string]any
	if len(args) > 0 && json.Unmarshal(args, &parsed) == nil {
		keys := make([]string, 0, len(parsed))
		for k := range parsed {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			preview.Details[k] = flatten(parsed[k])
		}
	}

	if !policy.Undoable {
		preview.Warnings = append(preview.Warnings, "This action cannot be undone.")
	}
	if policy.Sensitivity == model.SensitivityCritical {
		preview.Warnings = append(preview.Warnings, "Critical-sensitivity tool: review carefully before approving.")
	}
	return preview
}

func flatten(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", t)
	}
}
