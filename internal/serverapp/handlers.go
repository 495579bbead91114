package serverapp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"reportql/internal/catalog"
	"reportql/internal/config"
	"reportql/internal/dbexec"
	"reportql/internal/logging"
	"reportql/internal/middleware"
	"reportql/internal/observability"
	"reportql/internal/planner"
	"reportql/internal/resultcache"
)

// queryAPI bundles the compiled-query pipeline behind the HTTP endpoints.
type queryAPI struct {
	cfg            *config.Config
	logger         *logging.Logger
	catalog        *catalog.Catalog
	planner        *planner.Planner
	executor       dbexec.QueryExecutor
	cache          *resultcache.Cache
	jobs           *resultcache.Runner
	metrics        *observability.QueryMetrics
	refreshMetrics *observability.CatalogRefreshMetrics
}

// queryResult is the response body for executed queries.
type queryResult struct {
	Query    *planner.CompiledQuery `json:"query"`
	Columns  []string               `json:"columns"`
	Rows     []map[string]any       `json:"rows"`
	RowCount int                    `json:"rowCount"`
	Cached   bool                   `json:"cached,omitempty"`
}

type jobResponse struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	SpecHash    string     `json:"specHash"`
	SubmittedBy string     `json:"submittedBy,omitempty"`
	Error       string     `json:"error,omitempty"`
	SubmittedAt time.Time  `json:"submittedAt"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
	Result      any        `json:"result,omitempty"`
}

func (a *queryAPI) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/schema", a.handleSchema)
	mux.HandleFunc("/query/preview", a.handlePreview)
	mux.HandleFunc("/query/aggregate", a.handleAggregate)
	mux.HandleFunc("/query/aggregate/jobs", a.handleAggregateJob)
	mux.HandleFunc("/jobs/", a.handleJobStatus)
	return mux
}

func (a *queryAPI) handleSchema(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	reqLogger := logging.FromContext(r.Context())

	if r.URL.Query().Get("refresh") == "true" {
		start := time.Now()
		a.catalog.Clear()
		// Rebuild eagerly so the refresh outcome is observable here rather
		// than on the next query.
		_, err := a.catalog.DescribeAll(r.Context())
		if a.refreshMetrics != nil {
			a.refreshMetrics.RecordRefresh(r.Context(), time.Since(start), err == nil, "http")
		}
		if err != nil {
			reqLogger.Error("catalog refresh failed", slog.String("error", err.Error()))
			writeError(w, http.StatusServiceUnavailable, "schema introspection failed")
			return
		}
		reqLogger.Info("catalog refreshed", slog.Duration("duration", time.Since(start)))
	}

	entities, err := a.catalog.DescribeAll(r.Context())
	if err != nil {
		reqLogger.Error("schema introspection failed", slog.String("error", err.Error()))
		writeError(w, http.StatusServiceUnavailable, "schema introspection failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"entities": entities})
}

func (a *queryAPI) handlePreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var spec planner.FlatSpec
	if err := decodeBody(r, &spec); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	compiled, ok := a.compile(r.Context(), w, "flat", func(ctx context.Context) (*planner.CompiledQuery, error) {
		return a.planner.PlanFlat(ctx, spec)
	})
	if !ok {
		return
	}

	result, err := a.execute(r.Context(), "flat", compiled)
	if err != nil {
		logging.FromContext(r.Context()).Error("query execution failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "query execution failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (a *queryAPI) handleAggregate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	reqLogger := logging.FromContext(r.Context())

	var spec planner.AggregateSpec
	if err := decodeBody(r, &spec); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	specHash := ""
	if a.cache != nil {
		hash, err := resultcache.Hash(spec)
		if err == nil {
			specHash = hash
			if cached, hit := a.cache.Get(specHash); hit {
				if a.metrics != nil {
					a.metrics.RecordCacheHit(r.Context())
				}
				if result, isResult := cached.(*queryResult); isResult {
					reqLogger.Debug("serving aggregate from cache", slog.String("spec_hash", specHash))
					copied := *result
					copied.Cached = true
					writeJSON(w, http.StatusOK, &copied)
					return
				}
			}
			if a.metrics != nil {
				a.metrics.RecordCacheMiss(r.Context())
			}
		}
	}

	compiled, ok := a.compile(r.Context(), w, "aggregate", func(ctx context.Context) (*planner.CompiledQuery, error) {
		return a.planner.PlanAggregate(ctx, spec)
	})
	if !ok {
		return
	}

	result, err := a.execute(r.Context(), "aggregate", compiled)
	if err != nil {
		reqLogger.Error("query execution failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "query execution failed")
		return
	}

	if a.cache != nil && specHash != "" {
		a.cache.Put(specHash, result, a.cfg.Cache.ResultTTL)
	}

	writeJSON(w, http.StatusOK, result)
}

func (a *queryAPI) handleAggregateJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if a.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "background jobs are disabled")
		return
	}

	var spec planner.AggregateSpec
	if err := decodeBody(r, &spec); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Compile synchronously so spec errors surface on submission instead of
	// as a failed job.
	compiled, ok := a.compile(r.Context(), w, "aggregate", func(ctx context.Context) (*planner.CompiledQuery, error) {
		return a.planner.PlanAggregate(ctx, spec)
	})
	if !ok {
		return
	}

	specHash, err := resultcache.Hash(spec)
	if err != nil {
		writeError(w, http.StatusBadRequest, "spec is not hashable")
		return
	}

	if a.metrics != nil {
		a.metrics.RecordJobSubmitted(r.Context())
	}

	// The job outlives the submitting request.
	jobCtx := context.WithoutCancel(r.Context())
	job := a.jobs.Enqueue(jobCtx, specHash, callerSubject(r.Context()), func(ctx context.Context) (any, error) {
		result, execErr := a.execute(ctx, "aggregate", compiled)
		if a.metrics != nil {
			a.metrics.RecordJobFinished(ctx, execErr != nil)
		}
		return result, execErr
	})

	logging.FromContext(r.Context()).Info("aggregate job submitted",
		slog.String("job_id", job.ID),
		slog.String("spec_hash", specHash),
		slog.String("submitted_by", job.SubmittedBy),
	)

	writeJSON(w, http.StatusAccepted, jobToResponse(job, false))
}

func (a *queryAPI) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if a.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "background jobs are disabled")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/jobs/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	job, found := a.jobs.Status(id)
	if !found {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	writeJSON(w, http.StatusOK, jobToResponse(job, true))
}

// compile runs a plan function with timing and metrics, writing the error
// response itself when the plan fails. The boolean reports success.
func (a *queryAPI) compile(ctx context.Context, w http.ResponseWriter, mode string, plan func(context.Context) (*planner.CompiledQuery, error)) (*planner.CompiledQuery, bool) {
	start := time.Now()
	compiled, err := plan(ctx)
	duration := time.Since(start)

	if err != nil {
		var compileErr *planner.CompileError
		if errors.As(err, &compileErr) {
			if a.metrics != nil {
				a.metrics.RecordCompile(ctx, duration, mode, string(compileErr.Code))
			}
			writeJSON(w, compileErr.Status, map[string]any{"error": compileErr})
			return nil, false
		}
		if a.metrics != nil {
			a.metrics.RecordCompile(ctx, duration, mode, "internal")
		}
		logging.FromContext(ctx).Error("query compilation failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "query compilation failed")
		return nil, false
	}

	if a.metrics != nil {
		a.metrics.RecordCompile(ctx, duration, mode, "")
	}
	return compiled, true
}

func (a *queryAPI) execute(ctx context.Context, mode string, compiled *planner.CompiledQuery) (*queryResult, error) {
	start := time.Now()
	rows, err := a.executor.QueryContext(ctx, compiled.SQL, compiled.Params)
	if err != nil {
		return nil, err
	}

	records, err := dbexec.ScanRows(rows, compiled.Columns)
	if err != nil {
		return nil, err
	}

	if a.metrics != nil {
		a.metrics.RecordExecution(ctx, time.Since(start), mode)
		a.metrics.RecordResultRows(ctx, int64(len(records)), mode)
	}

	return &queryResult{
		Query:    compiled,
		Columns:  compiled.Columns,
		Rows:     records,
		RowCount: len(records),
	}, nil
}

// callerSubject resolves the authenticated identity submitting a query job.
// Unauthenticated deployments record jobs anonymously.
func callerSubject(ctx context.Context) string {
	auth, ok := middleware.AuthFromContext(ctx)
	if !ok {
		return "anonymous"
	}
	if auth.Subject == "" {
		return auth.Method
	}
	return auth.Subject
}

func jobToResponse(job resultcache.Job, includeResult bool) jobResponse {
	resp := jobResponse{
		ID:          job.ID,
		Status:      string(job.Status),
		SpecHash:    job.SpecHash,
		SubmittedBy: job.SubmittedBy,
		Error:       job.Error,
		SubmittedAt: job.SubmittedAt,
		FinishedAt:  job.FinishedAt,
	}
	if includeResult && job.Status == resultcache.JobDone {
		resp.Result = job.Result
	}
	return resp
}

func decodeBody(r *http.Request, target any) error {
	defer func() { _ = r.Body.Close() }()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return errors.New("invalid request body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
