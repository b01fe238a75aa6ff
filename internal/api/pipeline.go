package api

import (
	"context"
	"log/slog"

	"github.com/queryvault/queryvault/internal/jobs"
	"github.com/queryvault/queryvault/internal/query"
	"github.com/queryvault/queryvault/internal/revision"
	"github.com/queryvault/queryvault/internal/store"
	"github.com/queryvault/queryvault/internal/transform"
)

// Pipeline is the full save-and-run path a job executes: run the bound SQL,
// commit the revision, record the execution, and shape the result payload.
// It is what main wires into the job runner as its ExecuteFunc.
type Pipeline struct {
	Runner    *query.Runner
	Revisions *revision.Service
	Repo      store.Repository
	Logger    *slog.Logger
}

func (p *Pipeline) Execute(ctx context.Context, request jobs.Request) (*query.QueryResults, error) {
	var results *query.QueryResults
	var err error
	if request.Parsed.Options.CrossSite {
		results, err = p.Runner.RunCrossSite(ctx, request.Parsed, request.RequesterID)
	} else {
		results, err = p.Runner.Run(ctx, request.Parsed, request.Site, request.RequesterID)
	}
	if err != nil {
		return nil, err
	}

	committed, err := p.Revisions.Commit(ctx, revision.CommitInput{
		SQL:              request.Parsed.SQL,
		Hash:             request.Parsed.Hash,
		Title:            optionalString(request.Title),
		Description:      optionalString(request.Description),
		OwnerID:          request.RequesterID,
		OwnerIP:          request.OwnerIP,
		ParentRevisionID: request.ParentRevisionID,
	})
	if err != nil {
		return nil, err
	}

	// Executions are recorded even when the revision was a no-op reuse.
	if err := p.Repo.LogExecution(ctx, committed.RevisionID, request.Site.ID, request.RequesterID); err != nil {
		if p.Logger != nil {
			p.Logger.WarnContext(ctx, "log execution failed",
				slog.Int64("revision_id", committed.RevisionID), slog.String("error", err.Error()))
		}
	}

	results.RevisionID = committed.RevisionID
	results.ParentID = committed.ParentID
	if committed.QuerySet.Title != nil {
		results.Slug = revision.Slug(*committed.QuerySet.Title)
	}
	created := committed.QuerySet.LastActivity
	if !created.IsZero() {
		results.Created = &created
	}

	transform.ToText(results, request.TextResults)
	return results, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
