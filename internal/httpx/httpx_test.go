package httpx

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/qirat-network/qiratd/internal/fabric"
	"github.com/qirat-network/qiratd/internal/storage/relationaldb"
)

type fakeIdempotencyRepo struct {
	records map[string]*relationaldb.IdempotencyRecord
	gets    int
	puts    int
}

func newFakeIdempotencyRepo() *fakeIdempotencyRepo {
	return &fakeIdempotencyRepo{records: make(map[string]*relationaldb.IdempotencyRecord)}
}

func (r *fakeIdempotencyRepo) Get(_ context.Context, tenantID, method, path, bodyHash string) (*relationaldb.IdempotencyRecord, error) {
	r.gets++
	rec, ok := r.records[cacheKey(tenantID, method, path, bodyHash)]
	if !ok {
		return nil, relationaldb.ErrIdempotencyNotFound
	}
	return rec, nil
}

func (r *fakeIdempotencyRepo) Put(_ context.Context, rec *relationaldb.IdempotencyRecord) error {
	r.puts++
	r.records[cacheKey(rec.TenantID, rec.Method, rec.Path, rec.BodyHash)] = rec
	return nil
}

func (r *fakeIdempotencyRepo) PurgeExpired(context.Context) (int64, error) { return 0, nil }

var _ relationaldb.IdempotencyRepository = (*fakeIdempotencyRepo)(nil)

type fakeDB struct {
	pingErr error
}

func (d *fakeDB) Open(context.Context) error  { return nil }
func (d *fakeDB) Close(context.Context) error { return nil }
func (d *fakeDB) Ping(context.Context) error  { return d.pingErr }
func (d *fakeDB) DB() *sql.DB                 { return nil }
func (d *fakeDB) RunInTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return fn(nil)
}

var _ relationaldb.Database = (*fakeDB)(nil)

type fakeOutbox struct {
	relationaldb.OutboxRepository
	depth int64
	dead  int64
}

func (o *fakeOutbox) QueueDepth(context.Context, int) (int64, error)      { return o.depth, nil }
func (o *fakeOutbox) DeadLetterCount(context.Context, int) (int64, error) { return o.dead, nil }

type fakeBreakers struct {
	stats map[string]fabric.BreakerStats
}

func (b *fakeBreakers) BreakerStats() map[string]fabric.BreakerStats { return b.stats }

func countingHandler(calls *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
}

func idempotentRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/transfers", strings.NewReader(body))
	req.Header.Set(IdempotencyHeader, "key-1")
	return req
}

func TestIdempotencyReplaysCachedResponse(t *testing.T) {
	repo := newFakeIdempotencyRepo()
	cache, err := NewIdempotencyCache(repo, zaptest.NewLogger(t))
	require.NoError(t, err)

	calls := 0
	handler := cache.Middleware(countingHandler(&calls))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, idempotentRequest(`{"amount":100}`))
	require.Equal(t, http.StatusCreated, first.Code)
	require.Equal(t, 1, calls)
	require.Equal(t, 1, repo.puts)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, idempotentRequest(`{"amount":100}`))
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
	assert.Equal(t, "true", second.Header().Get("X-Idempotent-Replay"))
	assert.Equal(t, 1, calls, "handler must not run on replay")
}

func TestIdempotencyDifferentBodyIsDifferentRequest(t *testing.T) {
	cache, err := NewIdempotencyCache(newFakeIdempotencyRepo(), zaptest.NewLogger(t))
	require.NoError(t, err)

	calls := 0
	handler := cache.Middleware(countingHandler(&calls))

	handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest(`{"amount":100}`))
	handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest(`{"amount":200}`))

	assert.Equal(t, 2, calls)
}

func TestIdempotencyTenantScopesCache(t *testing.T) {
	cache, err := NewIdempotencyCache(newFakeIdempotencyRepo(), zaptest.NewLogger(t))
	require.NoError(t, err)

	calls := 0
	handler := cache.Middleware(countingHandler(&calls))

	first := idempotentRequest(`{"amount":100}`)
	first.Header.Set(TenantHeader, "tenant-a")
	handler.ServeHTTP(httptest.NewRecorder(), first)

	second := idempotentRequest(`{"amount":100}`)
	second.Header.Set(TenantHeader, "tenant-b")
	handler.ServeHTTP(httptest.NewRecorder(), second)

	assert.Equal(t, 2, calls)
}

func TestIdempotencyWithoutHeaderPassesThrough(t *testing.T) {
	repo := newFakeIdempotencyRepo()
	cache, err := NewIdempotencyCache(repo, zaptest.NewLogger(t))
	require.NoError(t, err)

	calls := 0
	handler := cache.Middleware(countingHandler(&calls))

	req := httptest.NewRequest(http.MethodPost, "/v1/transfers", strings.NewReader(`{}`))
	handler.ServeHTTP(httptest.NewRecorder(), req)
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/transfers", strings.NewReader(`{}`)))

	assert.Equal(t, 2, calls)
	assert.Equal(t, 0, repo.puts)
}

func TestIdempotencyExpiredRecordIsNotReplayed(t *testing.T) {
	repo := newFakeIdempotencyRepo()
	cache, err := NewIdempotencyCache(repo, zaptest.NewLogger(t))
	require.NoError(t, err)
	cache.SetTTL(time.Minute)

	calls := 0
	handler := cache.Middleware(countingHandler(&calls))

	handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest(`{"amount":100}`))
	require.Equal(t, 1, calls)

	cache.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest(`{"amount":100}`))
	assert.Equal(t, 2, calls)
}

func TestIdempotencyLRUFrontAvoidsRepositoryHits(t *testing.T) {
	repo := newFakeIdempotencyRepo()
	cache, err := NewIdempotencyCache(repo, zaptest.NewLogger(t))
	require.NoError(t, err)

	calls := 0
	handler := cache.Middleware(countingHandler(&calls))

	handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest(`{"amount":100}`))
	getsAfterFirst := repo.gets

	handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest(`{"amount":100}`))
	assert.Equal(t, getsAfterFirst, repo.gets, "replay of a hot key must be served from the LRU")
}

func TestHealthReport(t *testing.T) {
	health := NewHealth(&fakeDB{}, &fakeOutbox{depth: 7, dead: 2}, &fakeBreakers{
		stats: map[string]fabric.BreakerStats{
			"org1-admin": {State: fabric.BreakerClosed, Successes: 10},
		},
	}, 5, zaptest.NewLogger(t))

	mux := http.NewServeMux()
	health.Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var report HealthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "running", report.Status)
	assert.Equal(t, int64(7), report.QueueDepth)
	assert.Equal(t, int64(2), report.DeadLetters)
	assert.Equal(t, fabric.BreakerClosed, report.Breakers["org1-admin"].State)
}

func TestReadyReflectsDatabase(t *testing.T) {
	db := &fakeDB{}
	health := NewHealth(db, nil, nil, 5, zaptest.NewLogger(t))
	mux := http.NewServeMux()
	health.Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	db.pingErr = errors.New("connection refused")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReadyDuringShutdown(t *testing.T) {
	health := NewHealth(&fakeDB{}, nil, nil, 5, zaptest.NewLogger(t))
	mux := http.NewServeMux()
	health.Register(mux)

	health.SetRunning(false)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var report HealthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "shutting_down", report.Status)
}

func TestLive(t *testing.T) {
	health := NewHealth(&fakeDB{pingErr: errors.New("down")}, nil, nil, 5, zaptest.NewLogger(t))
	mux := http.NewServeMux()
	health.Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestLoggerSetsRequestID(t *testing.T) {
	handler := RequestLogger(zaptest.NewLogger(t))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/profiles", nil))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/profiles", nil)
	req.Header.Set(RequestIDHeader, "upstream-id")
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "upstream-id", rec.Header().Get(RequestIDHeader))
}

func TestIdempotencyPreservesRequestBodyForHandler(t *testing.T) {
	cache, err := NewIdempotencyCache(newFakeIdempotencyRepo(), zaptest.NewLogger(t))
	require.NoError(t, err)

	var seen string
	handler := cache.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, readErr := io.ReadAll(r.Body)
		require.NoError(t, readErr)
		seen = string(data)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest(`{"amount":100}`))
	assert.Equal(t, `{"amount":100}`, seen)
}
