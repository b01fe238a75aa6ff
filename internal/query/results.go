package query

import "time"

type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ResultSet is one tabular payload returned by a site. Site is populated for
// cross-site executions so callers can tell row sets apart after the merge.
type ResultSet struct {
	Columns []Column `json:"columns"`
	Rows    [][]any  `json:"rows"`
	Site    string   `json:"site,omitempty"`
}

// QueryResults is the aggregate a single save/run produces, shaped for the
// JSON response documents the service emits.
type QueryResults struct {
	ResultSets    []ResultSet `json:"resultSets"`
	Messages      string      `json:"messages,omitempty"`
	ExecutionPlan string      `json:"executionPlan,omitempty"`
	SiteID        int64       `json:"siteId,omitempty"`
	SiteName      string      `json:"siteName,omitempty"`
	RevisionID    int64       `json:"revisionId,omitempty"`
	ParentID      int64       `json:"parentId,omitempty"`
	Slug          string      `json:"slug,omitempty"`
	Created       *time.Time  `json:"created,omitempty"`
	ExecutionMs   int64       `json:"executionTime"`
	FromCache     bool        `json:"fromCache,omitempty"`
	TextOnly      bool        `json:"textOnly,omitempty"`
}

func (r *QueryResults) AppendMessage(message string) {
	if message == "" {
		return
	}
	if r.Messages != "" {
		r.Messages += "\n"
	}
	r.Messages += message
}
