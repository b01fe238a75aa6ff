package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/queryvault/queryvault/internal/cache"
	"github.com/queryvault/queryvault/internal/config"
	"github.com/queryvault/queryvault/internal/jobs"
	"github.com/queryvault/queryvault/internal/observability"
	"github.com/queryvault/queryvault/internal/query"
	"github.com/queryvault/queryvault/internal/revision"
	"github.com/queryvault/queryvault/internal/site"
	"github.com/queryvault/queryvault/internal/store"
)

type ReadinessCheck func(ctx context.Context) error

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	DependencyTimeout time.Duration
	Repo              store.Repository
	Sites             *site.Registry
	Runner            *query.Runner
	Jobs              *jobs.Runner
	Revisions         *revision.Service
	Cache             *cache.Store
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	mux.HandleFunc("GET /v1/sites", func(w http.ResponseWriter, r *http.Request) {
		handleListSites(deps, w, r)
	})

	mux.HandleFunc("POST /query/save/{siteId}", func(w http.ResponseWriter, r *http.Request) {
		handleSaveQuery(deps, w, r)
	})
	mux.HandleFunc("POST /query/run/{siteId}/{revisionId}", func(w http.ResponseWriter, r *http.Request) {
		handleRunRevision(deps, w, r)
	})
	mux.HandleFunc("GET /query/job/{jobId}", func(w http.ResponseWriter, r *http.Request) {
		handlePollJob(deps, w, r)
	})
	mux.HandleFunc("POST /query/update/{revisionId}", func(w http.ResponseWriter, r *http.Request) {
		handleUpdateMetadata(deps, w, r)
	})

	mux.HandleFunc("GET /{siteName}/csv/{revisionId}", func(w http.ResponseWriter, r *http.Request) {
		handleExportCSV(deps, w, r, exportSingleSite)
	})
	mux.HandleFunc("GET /{siteName}/mcsv/{revisionId}", func(w http.ResponseWriter, r *http.Request) {
		handleExportCSV(deps, w, r, exportCrossSite)
	})
	mux.HandleFunc("GET /{siteName}/nmcsv/{revisionId}", func(w http.ResponseWriter, r *http.Request) {
		handleExportCSV(deps, w, r, exportCrossSiteNoMetas)
	})
	mux.HandleFunc("GET /{siteName}/parquet/{revisionId}", func(w http.ResponseWriter, r *http.Request) {
		handleExportParquet(deps, w, r)
	})
	mux.HandleFunc("GET /{siteName}/plan/{revisionId}", func(w http.ResponseWriter, r *http.Request) {
		handleExportPlan(deps, w, r)
	})

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CheckStoreDSN(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.Store.DSN == "" {
			return errors.New("store dsn is not configured")
		}
		return nil
	}
}

func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.ObjectStore.Endpoint == "" {
			return errors.New("object store endpoint is not configured")
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeResultsJSON emits query result payloads with forward slashes escaped,
// which some downstream grid consumers require of embedded markup.
func writeResultsJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "encode results"})
		return
	}
	escaped := strings.ReplaceAll(string(body), "/", `\/`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(escaped))
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
