// Package httpx holds the HTTP boundary utilities shared by the API
// surface: response idempotency, health endpoints and request-scoped
// logging.
package httpx

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/qirat-network/qiratd/internal/storage/relationaldb"
)

// IdempotencyHeader marks a request as replayable. Requests without it
// pass through the cache untouched.
const IdempotencyHeader = "X-Idempotency-Key"

// TenantHeader selects the tenant scope of the cached response.
const TenantHeader = "X-Tenant-ID"

const (
	// DefaultIdempotencyTTL is how long a cached response replays.
	DefaultIdempotencyTTL = 24 * time.Hour

	// DefaultCacheSize bounds the in-process LRU front.
	DefaultCacheSize = 4096

	purgeInterval = time.Hour
)

// IdempotencyCache replays previously served responses byte for byte.
// An in-process LRU fronts the http_idempotency table, so replays of a
// hot key never touch the database.
type IdempotencyCache struct {
	repo   relationaldb.IdempotencyRepository
	front  *lru.Cache[string, *relationaldb.IdempotencyRecord]
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewIdempotencyCache creates a cache over the given repository.
func NewIdempotencyCache(repo relationaldb.IdempotencyRepository, logger *zap.Logger) (*IdempotencyCache, error) {
	front, err := lru.New[string, *relationaldb.IdempotencyRecord](DefaultCacheSize)
	if err != nil {
		return nil, err
	}
	return &IdempotencyCache{
		repo:   repo,
		front:  front,
		ttl:    DefaultIdempotencyTTL,
		logger: logger,
		now:    time.Now,
	}, nil
}

// SetTTL overrides the replay window.
func (c *IdempotencyCache) SetTTL(ttl time.Duration) { c.ttl = ttl }

// RunPurge deletes expired rows on an hourly cadence until ctx is done.
func (c *IdempotencyCache) RunPurge(ctx context.Context) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := c.repo.PurgeExpired(ctx)
			if err != nil {
				c.logger.Error("idempotency purge failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				c.logger.Info("purged expired idempotency records", zap.Int64("removed", removed))
			}
		}
	}
}

// Middleware replays cached responses for requests carrying an
// idempotency key, and records first responses for later replay. The
// key is (tenant, method, path, sha256 of the body): the same key with
// a different body is a different request.
func (c *IdempotencyCache) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(IdempotencyHeader) == "" {
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		tenant := r.Header.Get(TenantHeader)
		if tenant == "" {
			tenant = relationaldb.DefaultTenant
		}
		sum := sha256.Sum256(body)
		bodyHash := hex.EncodeToString(sum[:])

		if rec := c.lookup(r.Context(), tenant, r.Method, r.URL.Path, bodyHash); rec != nil {
			c.replay(w, rec)
			return
		}

		recorder := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		c.store(r.Context(), tenant, r.Method, r.URL.Path, bodyHash, recorder)
	})
}

func (c *IdempotencyCache) lookup(ctx context.Context, tenant, method, path, bodyHash string) *relationaldb.IdempotencyRecord {
	key := cacheKey(tenant, method, path, bodyHash)

	if rec, ok := c.front.Get(key); ok {
		if c.now().Before(rec.TTLExpiresAt) {
			return rec
		}
		c.front.Remove(key)
	}

	rec, err := c.repo.Get(ctx, tenant, method, path, bodyHash)
	if err != nil {
		if !errors.Is(err, relationaldb.ErrIdempotencyNotFound) {
			c.logger.Error("idempotency lookup failed", zap.Error(err))
		}
		return nil
	}
	if !c.now().Before(rec.TTLExpiresAt) {
		return nil
	}
	c.front.Add(key, rec)
	return rec
}

func (c *IdempotencyCache) store(ctx context.Context, tenant, method, path, bodyHash string, recorder *responseRecorder) {
	headers, err := json.Marshal(recorder.Header())
	if err != nil {
		c.logger.Error("failed to encode response headers", zap.Error(err))
		return
	}

	rec := &relationaldb.IdempotencyRecord{
		TenantID:        tenant,
		Method:          method,
		Path:            path,
		BodyHash:        bodyHash,
		StatusCode:      recorder.status,
		ResponseHeaders: headers,
		ResponseBody:    recorder.body.Bytes(),
		TTLExpiresAt:    c.now().Add(c.ttl),
	}
	if err := c.repo.Put(ctx, rec); err != nil {
		c.logger.Error("failed to store idempotency record", zap.Error(err))
		return
	}
	c.front.Add(cacheKey(tenant, method, path, bodyHash), rec)
}

func (c *IdempotencyCache) replay(w http.ResponseWriter, rec *relationaldb.IdempotencyRecord) {
	if len(rec.ResponseHeaders) > 0 {
		var headers http.Header
		if err := json.Unmarshal(rec.ResponseHeaders, &headers); err == nil {
			for name, values := range headers {
				for _, value := range values {
					w.Header().Add(name, value)
				}
			}
		}
	}
	w.Header().Set("X-Idempotent-Replay", "true")
	w.WriteHeader(rec.StatusCode)
	_, _ = w.Write(rec.ResponseBody)
}

func cacheKey(tenant, method, path, bodyHash string) string {
	return tenant + "|" + method + "|" + path + "|" + bodyHash
}

// responseRecorder tees the response so it can be stored after serving.
type responseRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	r.body.Write(data)
	return r.ResponseWriter.Write(data)
}
