package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/queryvault/queryvault/internal/observability"
	"github.com/queryvault/queryvault/internal/site"
)

// Executor runs bound SQL against a single target site. Implementations live
// under query/duckdb; tests substitute fakes.
type Executor interface {
	Execute(ctx context.Context, target site.Site, sql string, withPlan bool) (Execution, error)
}

// Execution is the raw outcome of running SQL against one site.
type Execution struct {
	ResultSets    []ResultSet
	ExecutionPlan string
}

// CachedResult is a previously computed execution keyed by (hash, site).
type CachedResult struct {
	ResultSets    []ResultSet `json:"resultSets"`
	ExecutionPlan string      `json:"executionPlan,omitempty"`
	CachedAt      time.Time   `json:"cachedAt"`
}

// ResultCache is consulted before executing and populated afterwards. Get
// returns cache.ErrMiss-compatible errors on absence; any cache failure is
// treated as a miss by the runner.
type ResultCache interface {
	Get(ctx context.Context, hash string, siteID int64) (CachedResult, error)
	Put(ctx context.Context, hash string, siteID int64, entry CachedResult) error
}

// Runner executes parsed queries against target sites, consulting and
// populating the result cache as a side effect.
type Runner struct {
	Sites    *site.Registry
	Executor Executor
	Cache    ResultCache
	Logger   *slog.Logger
}

// Run executes parsed against a single target site.
func (r *Runner) Run(ctx context.Context, parsed ParsedQuery, target site.Site, requesterID *int64) (*QueryResults, error) {
	if err := r.validate(parsed); err != nil {
		return nil, err
	}

	start := time.Now()
	execution, fromCache, err := r.runSite(ctx, parsed, target)
	if err != nil {
		observability.ObserveQueryExecution(false, true, time.Since(start))
		return nil, AsExecutionError(err)
	}
	observability.ObserveQueryExecution(false, false, time.Since(start))

	results := &QueryResults{
		ResultSets:  execution.ResultSets,
		SiteID:      target.ID,
		SiteName:    target.Name,
		ExecutionMs: time.Since(start).Milliseconds(),
		FromCache:   fromCache,
	}
	if parsed.Options.IncludeExecutionPlan {
		results.ExecutionPlan = execution.ExecutionPlan
	}
	return results, nil
}

// RunCrossSite fans parsed out across every registered site. Per-site
// failures become diagnostic messages; one bad site never aborts the batch.
func (r *Runner) RunCrossSite(ctx context.Context, parsed ParsedQuery, requesterID *int64) (*QueryResults, error) {
	if err := r.validate(parsed); err != nil {
		return nil, err
	}
	if r.Sites == nil || r.Sites.Len() == 0 {
		return nil, &ValidationError{Message: "no sites are registered"}
	}

	start := time.Now()
	results := &QueryResults{}

	for _, target := range r.Sites.All() {
		if parsed.Options.ExcludeMetas && target.IsMeta {
			continue
		}

		execution, _, err := r.runSite(ctx, parsed, target)
		if err != nil {
			results.AppendMessage(fmt.Sprintf("site %s: %s", target.Name, err))
			if r.Logger != nil {
				r.Logger.WarnContext(ctx, "cross-site execution failed",
					slog.String("site", target.Name), slog.Any("error", err))
			}
			continue
		}

		for _, resultSet := range execution.ResultSets {
			resultSet.Site = target.Name
			if !parsed.Options.ExcludeMetas {
				resultSet = tagWithSite(resultSet, target.Name)
			}
			results.ResultSets = append(results.ResultSets, resultSet)
		}
	}

	results.ExecutionMs = time.Since(start).Milliseconds()
	observability.ObserveQueryExecution(true, false, time.Since(start))
	return results, nil
}

func (r *Runner) validate(parsed ParsedQuery) error {
	if parsed.IsExecutionReady() {
		return nil
	}
	message := parsed.ErrorMessage
	if message == "" {
		message = "all parameters must be set"
	}
	return &ValidationError{Message: message}
}

// runSite resolves one site's result: cache first, then the executor. Cache
// failures on either side degrade to a miss or a dropped write, never an
// execution failure.
func (r *Runner) runSite(ctx context.Context, parsed ParsedQuery, target site.Site) (Execution, bool, error) {
	if r.Cache != nil && parsed.Hash != "" {
		cached, err := r.Cache.Get(ctx, parsed.Hash, target.ID)
		if err == nil {
			observability.IncrementCacheHit()
			return Execution{ResultSets: cached.ResultSets, ExecutionPlan: cached.ExecutionPlan}, true, nil
		}
		observability.IncrementCacheMiss()
	}

	execution, err := r.Executor.Execute(ctx, target, parsed.ExecutionSQL, parsed.Options.IncludeExecutionPlan)
	if err != nil {
		return Execution{}, false, err
	}

	if r.Cache != nil && parsed.Hash != "" {
		entry := CachedResult{
			ResultSets:    execution.ResultSets,
			ExecutionPlan: execution.ExecutionPlan,
			CachedAt:      time.Now().UTC(),
		}
		if err := r.Cache.Put(ctx, parsed.Hash, target.ID, entry); err != nil {
			observability.IncrementCacheWriteFailure()
			if r.Logger != nil {
				r.Logger.WarnContext(ctx, "result cache write failed",
					slog.String("hash", parsed.Hash), slog.Int64("site_id", target.ID), slog.Any("error", err))
			}
		}
	}

	return execution, false, nil
}

func tagWithSite(resultSet ResultSet, siteName string) ResultSet {
	tagged := ResultSet{
		Columns: make([]Column, 0, len(resultSet.Columns)+1),
		Rows:    make([][]any, 0, len(resultSet.Rows)),
		Site:    resultSet.Site,
	}
	tagged.Columns = append(tagged.Columns, Column{Name: "Site Name", Type: "string"})
	tagged.Columns = append(tagged.Columns, resultSet.Columns...)
	for _, row := range resultSet.Rows {
		taggedRow := make([]any, 0, len(row)+1)
		taggedRow = append(taggedRow, siteName)
		taggedRow = append(taggedRow, row...)
		tagged.Rows = append(tagged.Rows, taggedRow)
	}
	return tagged
}
