// internal/normalize/normalize.go

// Package normalize maps the provider's field vocabularies onto the
// canonical schema and derives timing metrics. Everything here is pure:
// no I/O, no clocks.
package normalize

import (
	"path"
	"strings"
	"time"

	"collab-sync/internal/model"
)

// PullRequestState maps the provider's PR state onto {open, merged, closed}.
// A closed PR with a merge timestamp is merged; some provider surfaces also
// report "merged" directly.
func PullRequestState(raw string, mergedAt *time.Time) model.PRState {
	switch strings.ToLower(raw) {
	case "open":
		return model.PROpen
	case "merged":
		return model.PRMerged
	case "closed":
		if mergedAt != nil {
			return model.PRMerged
		}
		return model.PRClosed
	default:
		if mergedAt != nil {
			return model.PRMerged
		}
		return model.PROpen
	}
}

// ReviewState maps the provider's review outcome vocabulary, tolerating both
// the REST (lowercase) and GraphQL (SCREAMING_SNAKE) spellings.
func ReviewState(raw string) model.ReviewState {
	switch strings.ToLower(raw) {
	case "approved", "approve":
		return model.ReviewApproved
	case "changes_requested", "request_changes":
		return model.ReviewChangesRequested
	case "dismissed":
		return model.ReviewDismissed
	case "pending":
		return model.ReviewPending
	default:
		return model.ReviewCommented
	}
}

// ChangeType maps the provider's file status vocabulary onto
// {added, modified, removed, renamed}. Unknown values default to modified.
func ChangeType(raw string) model.ChangeType {
	switch strings.ToLower(raw) {
	case "added", "add":
		return model.ChangeAdded
	case "removed", "deleted", "delete":
		return model.ChangeRemoved
	case "renamed", "rename":
		return model.ChangeRenamed
	case "modified", "changed", "copied":
		return model.ChangeModified
	default:
		return model.ChangeModified
	}
}

var categoryByExt = map[string]model.FileCategory{
	".js":     model.CategoryFrontend,
	".jsx":    model.CategoryFrontend,
	".ts":     model.CategoryFrontend,
	".tsx":    model.CategoryFrontend,
	".vue":    model.CategoryFrontend,
	".svelte": model.CategoryFrontend,
	".css":    model.CategoryFrontend,
	".scss":   model.CategoryFrontend,
	".html":   model.CategoryFrontend,
	".go":     model.CategoryBackend,
	".py":     model.CategoryBackend,
	".rb":     model.CategoryBackend,
	".java":   model.CategoryBackend,
	".kt":     model.CategoryBackend,
	".cs":     model.CategoryBackend,
	".php":    model.CategoryBackend,
	".rs":     model.CategoryBackend,
	".c":      model.CategoryBackend,
	".cpp":    model.CategoryBackend,
	".h":      model.CategoryBackend,
	".sql":    model.CategoryBackend,
	".md":     model.CategoryDocs,
	".rst":    model.CategoryDocs,
	".txt":    model.CategoryDocs,
	".adoc":   model.CategoryDocs,
	".yml":    model.CategoryConfig,
	".yaml":   model.CategoryConfig,
	".json":   model.CategoryConfig,
	".toml":   model.CategoryConfig,
	".ini":    model.CategoryConfig,
	".env":    model.CategoryConfig,
	".lock":   model.CategoryConfig,
}

// FileCategory classifies a changed file. Test files win over every
// extension rule: a .go file named foo_test.go is test, not backend.
func FileCategory(filename string) model.FileCategory {
	lower := strings.ToLower(filename)
	if strings.Contains(lower, "test") || strings.Contains(lower, "spec") {
		return model.CategoryTest
	}
	if c, ok := categoryByExt[path.Ext(lower)]; ok {
		return c
	}
	base := path.Base(lower)
	if base == "dockerfile" || base == "makefile" {
		return model.CategoryConfig
	}
	return model.CategoryOther
}

// HoursBetween returns the elapsed hours from a to b.
func HoursBetween(a, b time.Time) float64 {
	return b.Sub(a).Hours()
}
