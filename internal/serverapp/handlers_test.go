package serverapp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"reportql/internal/catalog"
	"reportql/internal/config"
	"reportql/internal/dbexec"
	"reportql/internal/logging"
	"reportql/internal/middleware"
	"reportql/internal/planner"
	"reportql/internal/resultcache"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticSource is an in-memory SchemaSource for handler tests.
type staticSource struct {
	entities map[string]*catalog.RawEntity
	order    []string

	describeCalls int
}

func (s *staticSource) EnumerateEntities(_ context.Context) ([]string, error) {
	return s.order, nil
}

func (s *staticSource) DescribeEntity(_ context.Context, id string) (*catalog.RawEntity, error) {
	s.describeCalls++
	raw, ok := s.entities[id]
	if !ok {
		return nil, &catalog.NotFoundError{Entity: id}
	}
	return raw, nil
}

func ordersSource() *staticSource {
	return &staticSource{
		order: []string{"orders"},
		entities: map[string]*catalog.RawEntity{
			"orders": {
				Name:  "orders",
				Table: "orders",
				Columns: []catalog.RawColumn{
					{Name: "id", DataType: "bigint"},
					{Name: "total", DataType: "numeric", Nullable: true},
					{Name: "status", DataType: "text", Nullable: true},
				},
				PrimaryKeys: []string{"id"},
			},
		},
	}
}

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.Config{Level: "error", Format: "text"})
}

func newTestAPI(t *testing.T, source catalog.SchemaSource, executor dbexec.QueryExecutor, withCache bool) *queryAPI {
	t.Helper()

	cfg := &config.Config{}
	cfg.Cache.Enabled = withCache
	cfg.Cache.ResultTTL = time.Minute

	schemaCatalog := catalog.New(source)
	api := &queryAPI{
		cfg:      cfg,
		logger:   testLogger(),
		catalog:  schemaCatalog,
		planner:  planner.New(schemaCatalog),
		executor: executor,
	}
	if withCache {
		api.cache = resultcache.NewCache()
		api.jobs = resultcache.NewRunner(api.cache, cfg.Cache.ResultTTL)
	}
	return api
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	encoded, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(encoded))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleSchema_ListsEntities(t *testing.T) {
	api := newTestAPI(t, ordersSource(), nil, false)

	req := httptest.NewRequest(http.MethodGet, "/schema", nil)
	rec := httptest.NewRecorder()
	api.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Entities []catalog.EntityDescriptor `json:"entities"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Entities, 1)
	assert.Equal(t, "orders", body.Entities[0].ID)
	assert.Equal(t, "Order (orders)", body.Entities[0].DisplayName)
}

func TestHandleSchema_RefreshReintrospects(t *testing.T) {
	source := ordersSource()
	api := newTestAPI(t, source, nil, false)
	handler := api.routes()

	first := httptest.NewRequest(http.MethodGet, "/schema", nil)
	handler.ServeHTTP(httptest.NewRecorder(), first)
	callsAfterFirst := source.describeCalls

	// A plain GET serves from the memo cache.
	second := httptest.NewRequest(http.MethodGet, "/schema", nil)
	handler.ServeHTTP(httptest.NewRecorder(), second)
	assert.Equal(t, callsAfterFirst, source.describeCalls)

	refresh := httptest.NewRequest(http.MethodGet, "/schema?refresh=true", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, refresh)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Greater(t, source.describeCalls, callsAfterFirst)
}

func TestHandleSchema_MethodNotAllowed(t *testing.T) {
	api := newTestAPI(t, ordersSource(), nil, false)

	rec := postJSON(t, api.routes(), "/schema", map[string]any{})
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandlePreview_ExecutesCompiledQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT m0."id" AS "orders__id", m0."total" AS "orders__total" FROM "orders" m0 LIMIT 200`,
	)).WillReturnRows(
		sqlmock.NewRows([]string{"orders__id", "orders__total"}).
			AddRow(int64(1), 99.5).
			AddRow(int64(2), 12.0),
	)

	api := newTestAPI(t, ordersSource(), dbexec.NewStandardExecutor(db), false)

	rec := postJSON(t, api.routes(), "/query/preview", planner.FlatSpec{
		Entities: []string{"orders"},
		Fields:   map[string][]string{"orders": {"id", "total"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result queryResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 2, result.RowCount)
	assert.Equal(t, []string{"orders__id", "orders__total"}, result.Columns)
	require.NotNil(t, result.Query)
	assert.Equal(t, "flat", result.Query.Metadata.Mode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandlePreview_CompileErrorStatus(t *testing.T) {
	api := newTestAPI(t, ordersSource(), nil, false)

	rec := postJSON(t, api.routes(), "/query/preview", planner.FlatSpec{
		Entities: []string{"invoices"},
		Fields:   map[string][]string{"invoices": {"id"}},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body struct {
		Error planner.CompileError `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, planner.CodeSchemaLookupFailed, body.Error.Code)
}

func TestHandlePreview_RejectsUnknownFields(t *testing.T) {
	api := newTestAPI(t, ordersSource(), nil, false)

	rec := postJSON(t, api.routes(), "/query/preview", map[string]any{
		"entities":   []string{"orders"},
		"fields":     map[string][]string{"orders": {"id"}},
		"unexpected": true,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAggregate_CachesResult(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// Only one database round trip for two identical requests.
	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT SUM(m0."total") AS "revenue" FROM "orders" m0 LIMIT 500`,
	)).WillReturnRows(sqlmock.NewRows([]string{"revenue"}).AddRow(111.5))

	api := newTestAPI(t, ordersSource(), dbexec.NewStandardExecutor(db), true)
	spec := planner.AggregateSpec{
		Entities: []string{"orders"},
		Metrics:  []planner.Metric{{Entity: "orders", Field: "total", Agg: "sum", Alias: "revenue"}},
	}

	first := postJSON(t, api.routes(), "/query/aggregate", spec)
	require.Equal(t, http.StatusOK, first.Code)
	var firstResult queryResult
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &firstResult))
	assert.False(t, firstResult.Cached)
	assert.Equal(t, 1, firstResult.RowCount)

	second := postJSON(t, api.routes(), "/query/aggregate", spec)
	require.Equal(t, http.StatusOK, second.Code)
	var secondResult queryResult
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &secondResult))
	assert.True(t, secondResult.Cached)
	assert.Equal(t, 1, secondResult.RowCount)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleAggregate_RequiresMetric(t *testing.T) {
	api := newTestAPI(t, ordersSource(), nil, false)

	rec := postJSON(t, api.routes(), "/query/aggregate", planner.AggregateSpec{
		Entities: []string{"orders"},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var body struct {
		Error planner.CompileError `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, planner.CodeEmptyProjection, body.Error.Code)
}

func TestHandleAggregateJob_Lifecycle(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT SUM(m0."total") AS "revenue" FROM "orders" m0 LIMIT 500`,
	)).WillReturnRows(sqlmock.NewRows([]string{"revenue"}).AddRow(42.0))

	api := newTestAPI(t, ordersSource(), dbexec.NewStandardExecutor(db), true)
	handler := api.routes()

	rec := postJSON(t, handler, "/query/aggregate/jobs", planner.AggregateSpec{
		Entities: []string{"orders"},
		Metrics:  []planner.Metric{{Entity: "orders", Field: "total", Agg: "sum", Alias: "revenue"}},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var submitted jobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	require.NotEmpty(t, submitted.ID)
	assert.NotEmpty(t, submitted.SpecHash)
	assert.Equal(t, "anonymous", submitted.SubmittedBy)

	api.jobs.Wait()

	statusReq := httptest.NewRequest(http.MethodGet, "/jobs/"+submitted.ID, nil)
	statusRec := httptest.NewRecorder()
	handler.ServeHTTP(statusRec, statusReq)
	require.Equal(t, http.StatusOK, statusRec.Code)

	var status jobResponse
	require.NoError(t, json.Unmarshal(statusRec.Body.Bytes(), &status))
	assert.Equal(t, string(resultcache.JobDone), status.Status)
	require.NotNil(t, status.Result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleAggregateJob_RecordsCallerSubject(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT SUM(m0."total") AS "revenue" FROM "orders" m0 LIMIT 500`,
	)).WillReturnRows(sqlmock.NewRows([]string{"revenue"}).AddRow(42.0))

	api := newTestAPI(t, ordersSource(), dbexec.NewStandardExecutor(db), true)

	body, err := json.Marshal(planner.AggregateSpec{
		Entities: []string{"orders"},
		Metrics:  []planner.Metric{{Entity: "orders", Field: "total", Agg: "sum", Alias: "revenue"}},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/query/aggregate/jobs", bytes.NewReader(body))
	req = req.WithContext(middleware.WithAuthContext(req.Context(), middleware.AuthContext{
		Subject: "analyst@corp",
		Method:  "jwt",
	}))
	rec := httptest.NewRecorder()
	api.routes().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var submitted jobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	assert.Equal(t, "analyst@corp", submitted.SubmittedBy)

	api.jobs.Wait()

	job, ok := api.jobs.Status(submitted.ID)
	require.True(t, ok)
	assert.Equal(t, "analyst@corp", job.SubmittedBy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleAggregateJob_CompileErrorRejectedOnSubmit(t *testing.T) {
	api := newTestAPI(t, ordersSource(), nil, true)

	rec := postJSON(t, api.routes(), "/query/aggregate/jobs", planner.AggregateSpec{
		Entities: []string{"orders"},
		Metrics:  []planner.Metric{{Entity: "orders", Field: "total", Agg: "median"}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandleAggregateJob_DisabledWithoutCache(t *testing.T) {
	api := newTestAPI(t, ordersSource(), nil, false)

	rec := postJSON(t, api.routes(), "/query/aggregate/jobs", planner.AggregateSpec{
		Entities: []string{"orders"},
		Metrics:  []planner.Metric{{Entity: "orders", Field: "total", Agg: "sum"}},
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleJobStatus_UnknownJob(t *testing.T) {
	api := newTestAPI(t, ordersSource(), nil, true)

	req := httptest.NewRequest(http.MethodGet, "/jobs/no-such-job", nil)
	rec := httptest.NewRecorder()
	api.routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
