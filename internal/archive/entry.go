package archive

import (
	"encoding/json"
	"path"
	"strings"

	"github.com/asheshgoplani/pr-viewer/internal/apperr"
)

const (
	indexPrefix = "pr_index_"
	indexSuffix = ".json"

	// ContentDir is the directory, relative to the archive root, that holds
	// one content file per PR.
	ContentDir = "prs"
)

// PrIndexEntry is one row of the archive's pr_index_*.json document.
type PrIndexEntry struct {
	ID            int64  `json:"id"`
	Title         string `json:"title"`
	CreatedBy     string `json:"created_by"`
	CreationDate  string `json:"creation_date"`
	Status        string `json:"status"`
	SourceBranch  string `json:"source_branch"`
	TargetBranch  string `json:"target_branch"`
	Filename      string `json:"filename"`
	Description   string `json:"description,omitempty"`
	Repository    string `json:"repository,omitempty"`
	CompletedDate string `json:"completion_date,omitempty"`
	IsDraft       bool   `json:"is_draft,omitempty"`
	ReviewerCount int    `json:"reviewer_count,omitempty"`
	WorkItemCount int    `json:"work_item_count,omitempty"`
	ThreadCount   int    `json:"thread_count,omitempty"`
}

// IsIndexName reports whether an entry name is a PR index document located
// at the archive root or exactly one directory below it.
func IsIndexName(name string) bool {
	if strings.HasSuffix(name, "/") {
		return false
	}
	dir, base := path.Split(name)
	if strings.Count(dir, "/") > 1 {
		return false
	}
	return strings.HasPrefix(base, indexPrefix) && strings.HasSuffix(base, indexSuffix)
}

// findIndexName returns the single index document among names and the
// directory prefix ("" or "dir/") that acts as the archive root.
func findIndexName(names []string) (name, root string, err error) {
	var found []string
	for _, n := range names {
		if IsIndexName(n) {
			found = append(found, n)
		}
	}
	switch len(found) {
	case 0:
		return "", "", apperr.NotFound("index", indexPrefix+"*"+indexSuffix, nil)
	case 1:
		dir, _ := path.Split(found[0])
		return found[0], dir, nil
	default:
		return "", "", apperr.Corrupt("index", strings.Join(found, ", "), errMultipleIndex)
	}
}

func parseIndex(name string, data []byte) ([]PrIndexEntry, error) {
	var entries []PrIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, apperr.Corrupt("parse index", name, err)
	}
	if entries == nil {
		entries = []PrIndexEntry{}
	}
	return entries, nil
}
