package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/queryvault/queryvault/internal/cache"
	"github.com/queryvault/queryvault/internal/jobs"
	"github.com/queryvault/queryvault/internal/query"
	"github.com/queryvault/queryvault/internal/revision"
	"github.com/queryvault/queryvault/internal/site"
	"github.com/queryvault/queryvault/internal/store"
	"github.com/queryvault/queryvault/internal/transform"
)

const maxQueryBodyBytes = 1 << 20

type saveQueryRequest struct {
	SQL                  string            `json:"sql"`
	Title                string            `json:"title"`
	Description          string            `json:"description"`
	Parameters           map[string]string `json:"parameters"`
	ParentRevisionID     int64             `json:"parentRevisionId"`
	TextResults          bool              `json:"textResults"`
	IncludeExecutionPlan bool              `json:"includeExecutionPlan"`
	CrossSite            bool              `json:"crossSite"`
	ExcludeMetas         bool              `json:"excludeMetas"`
}

type runRevisionRequest struct {
	Parameters           map[string]string `json:"parameters"`
	TextResults          bool              `json:"textResults"`
	IncludeExecutionPlan bool              `json:"includeExecutionPlan"`
	CrossSite            bool              `json:"crossSite"`
	ExcludeMetas         bool              `json:"excludeMetas"`
}

type updateMetadataRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

func handleListSites(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	sites := deps.Sites.All()
	payload := make([]map[string]any, 0, len(sites))
	for _, s := range sites {
		payload = append(payload, map[string]any{
			"id":          s.ID,
			"name":        s.Name,
			"description": s.Description,
			"is_meta":     s.IsMeta,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sites": payload})
}

func handleSaveQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	target, ok := siteFromID(deps, w, r)
	if !ok {
		return
	}

	var req saveQueryRequest
	if !decodeBody(w, r, &req) {
		return
	}

	parsed := query.Parse(req.SQL, req.Parameters, query.Options{
		IncludeExecutionPlan: req.IncludeExecutionPlan,
		CrossSite:            req.CrossSite,
		ExcludeMetas:         req.ExcludeMetas,
	})
	if !parsed.IsExecutionReady() {
		writeQueryFailure(w, &query.ValidationError{Message: parsed.ErrorMessage})
		return
	}

	status := deps.Jobs.Submit(r.Context(), jobs.Request{
		Parsed:           parsed,
		Site:             target,
		RequesterID:      requesterID(r),
		OwnerIP:          r.RemoteAddr,
		Title:            req.Title,
		Description:      req.Description,
		ParentRevisionID: req.ParentRevisionID,
		TextResults:      req.TextResults,
	})
	writeJobStatus(w, status)
}

func handleRunRevision(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	target, ok := siteFromID(deps, w, r)
	if !ok {
		return
	}
	revisionID, ok := pathID(w, r, "revisionId")
	if !ok {
		return
	}

	stored, err := deps.Repo.GetQueryForRevision(r.Context(), revisionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "REVISION_NOT_FOUND", fmt.Sprintf("revision %d does not exist", revisionID), false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "STORE_ERROR", err.Error(), true, nil)
		return
	}

	var req runRevisionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	parsed := query.Parse(stored.Body, req.Parameters, query.Options{
		IncludeExecutionPlan: req.IncludeExecutionPlan,
		CrossSite:            req.CrossSite,
		ExcludeMetas:         req.ExcludeMetas,
	})
	if !parsed.IsExecutionReady() {
		writeQueryFailure(w, &query.ValidationError{Message: parsed.ErrorMessage})
		return
	}

	status := deps.Jobs.Submit(r.Context(), jobs.Request{
		Parsed:           parsed,
		Site:             target,
		RequesterID:      requesterID(r),
		OwnerIP:          r.RemoteAddr,
		ParentRevisionID: revisionID,
		TextResults:      req.TextResults,
	})
	writeJobStatus(w, status)
}

func handlePollJob(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	status, err := deps.Jobs.Poll(jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "JOB_NOT_FOUND", fmt.Sprintf("job %q does not exist", jobID), false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "JOB_POLL_FAILED", err.Error(), true, nil)
		return
	}
	if status.JobID == "" {
		status.JobID = jobID
	}
	writeJobStatus(w, status)
}

func handleUpdateMetadata(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	revisionID, ok := pathID(w, r, "revisionId")
	if !ok {
		return
	}
	var req updateMetadataRequest
	if !decodeBody(w, r, &req) {
		return
	}

	set, err := deps.Revisions.UpdateMetadata(r.Context(), revisionID, requesterID(r), req.Title, req.Description)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "REVISION_NOT_FOUND", fmt.Sprintf("revision %d does not exist", revisionID), false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "METADATA_UPDATE_FAILED", err.Error(), true, nil)
		return
	}

	payload := map[string]any{
		"query_set_id":        set.ID,
		"current_revision_id": set.CurrentRevisionID,
	}
	if set.Title != nil {
		payload["title"] = *set.Title
		payload["slug"] = revision.Slug(*set.Title)
	}
	if set.Description != nil {
		payload["description"] = *set.Description
	}
	writeJSON(w, http.StatusOK, payload)
}

type exportMode int

const (
	exportSingleSite exportMode = iota
	exportCrossSite
	exportCrossSiteNoMetas
)

func handleExportCSV(deps Dependencies, w http.ResponseWriter, r *http.Request, mode exportMode) {
	results, ok := runForExport(deps, w, r, query.Options{
		CrossSite:    mode != exportSingleSite,
		ExcludeMetas: mode == exportCrossSiteNoMetas,
	})
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="QueryResults.csv"`)
	if err := transform.WriteCSV(w, results); err != nil && deps.Logger != nil {
		deps.Logger.ErrorContext(r.Context(), "stream csv export failed", "error", err.Error())
	}
}

func handleExportParquet(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	results, ok := runForExport(deps, w, r, query.Options{})
	if !ok {
		return
	}
	if len(results.ResultSets) == 0 {
		writeError(r.Context(), w, http.StatusNotFound, "NO_RESULTS", "query produced no result sets", false, nil)
		return
	}

	data, err := transform.EncodeParquet(results.ResultSets[0])
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "PARQUET_ENCODE_FAILED", err.Error(), false, nil)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.apache.parquet")
	w.Header().Set("Content-Disposition", `attachment; filename="QueryResults.parquet"`)
	_, _ = w.Write(data)
}

func handleExportPlan(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	target, ok := siteFromName(deps, w, r)
	if !ok {
		return
	}
	revisionID, ok := pathID(w, r, "revisionId")
	if !ok {
		return
	}

	stored, err := deps.Repo.GetQueryForRevision(r.Context(), revisionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "REVISION_NOT_FOUND", fmt.Sprintf("revision %d does not exist", revisionID), false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "STORE_ERROR", err.Error(), true, nil)
		return
	}

	parsed := query.Parse(stored.Body, queryStringParameters(r), query.Options{})
	if !parsed.IsExecutionReady() {
		writeQueryFailure(w, &query.ValidationError{Message: parsed.ErrorMessage})
		return
	}

	plan, err := deps.Cache.GetPlan(r.Context(), parsed.Hash, target.ID)
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			writeError(r.Context(), w, http.StatusNotFound, "PLAN_NOT_FOUND", "no execution plan has been captured for this revision", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "PLAN_FETCH_FAILED", err.Error(), true, nil)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, plan)
}

// runForExport resolves the site and revision from the path and executes the
// revision's query synchronously. Exports bypass the job runner: they stream
// a complete document and cannot answer with a pending job.
func runForExport(deps Dependencies, w http.ResponseWriter, r *http.Request, opts query.Options) (*query.QueryResults, bool) {
	target, ok := siteFromName(deps, w, r)
	if !ok {
		return nil, false
	}
	revisionID, ok := pathID(w, r, "revisionId")
	if !ok {
		return nil, false
	}

	stored, err := deps.Repo.GetQueryForRevision(r.Context(), revisionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "REVISION_NOT_FOUND", fmt.Sprintf("revision %d does not exist", revisionID), false, nil)
			return nil, false
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "STORE_ERROR", err.Error(), true, nil)
		return nil, false
	}

	parsed := query.Parse(stored.Body, queryStringParameters(r), opts)
	if !parsed.IsExecutionReady() {
		writeQueryFailure(w, &query.ValidationError{Message: parsed.ErrorMessage})
		return nil, false
	}

	userID := requesterID(r)
	var results *query.QueryResults
	if opts.CrossSite {
		results, err = deps.Runner.RunCrossSite(r.Context(), parsed, userID)
	} else {
		results, err = deps.Runner.Run(r.Context(), parsed, target, userID)
	}
	if err != nil {
		writeQueryFailure(w, err)
		return nil, false
	}

	if err := deps.Repo.LogExecution(r.Context(), revisionID, target.ID, userID); err != nil && deps.Logger != nil {
		deps.Logger.WarnContext(r.Context(), "log export execution failed", "error", err.Error())
	}
	return results, true
}

// writeJobStatus maps a job status onto the wire contract: pending jobs
// answer {"running":true,"job_id":...}, failures answer {"error":...} with an
// optional line, successes answer the full result payload.
func writeJobStatus(w http.ResponseWriter, status jobs.Status) {
	switch status.State {
	case jobs.StatePending:
		writeResultsJSON(w, http.StatusOK, map[string]any{"running": true, "job_id": status.JobID})
	case jobs.StateFailure:
		writeQueryFailure(w, status.Err)
	default:
		writeResultsJSON(w, http.StatusOK, status.Results)
	}
}

func writeQueryFailure(w http.ResponseWriter, err error) {
	payload := map[string]any{"error": err.Error()}
	var validation *query.ValidationError
	if !errors.As(err, &validation) {
		execErr := query.AsExecutionError(err)
		payload["error"] = execErr.Message
		if execErr.Line > 0 {
			payload["line"] = execErr.Line
		}
	}
	writeResultsJSON(w, http.StatusOK, payload)
}

func siteFromID(deps Dependencies, w http.ResponseWriter, r *http.Request) (site.Site, bool) {
	siteID, ok := pathID(w, r, "siteId")
	if !ok {
		return site.Site{}, false
	}
	target, found := deps.Sites.ByID(siteID)
	if !found {
		writeError(r.Context(), w, http.StatusNotFound, "SITE_NOT_FOUND", fmt.Sprintf("site %d is not registered", siteID), false, nil)
		return site.Site{}, false
	}
	return target, true
}

func siteFromName(deps Dependencies, w http.ResponseWriter, r *http.Request) (site.Site, bool) {
	name := r.PathValue("siteName")
	target, found := deps.Sites.ByName(name)
	if !found {
		writeError(r.Context(), w, http.StatusNotFound, "SITE_NOT_FOUND", fmt.Sprintf("site %q is not registered", name), false, nil)
		return site.Site{}, false
	}
	return target, true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_ARGUMENT", fmt.Sprintf("%s must be a positive integer", name), false, nil)
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQueryBodyBytes))
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_BODY", "request body is not valid JSON", false, nil)
		return false
	}
	return true
}

// requesterID reads the authenticated user forwarded by the edge proxy.
// Absent or malformed headers mean an anonymous request.
func requesterID(r *http.Request) *int64 {
	raw := r.Header.Get("X-User-ID")
	if raw == "" {
		return nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil
	}
	return &id
}

func queryStringParameters(r *http.Request) map[string]string {
	values := r.URL.Query()
	if len(values) == 0 {
		return nil
	}
	params := make(map[string]string, len(values))
	for key := range values {
		params[key] = values.Get(key)
	}
	return params
}
