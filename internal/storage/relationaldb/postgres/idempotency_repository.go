package postgres

import (
	"context"
	"database/sql"

	"github.com/qirat-network/qiratd/internal/storage/relationaldb"
)

// IdempotencyRepository implements the IdempotencyRepository interface for
// PostgreSQL
type IdempotencyRepository struct {
	db *sql.DB
}

// NewIdempotencyRepository creates a new PostgreSQL idempotency repository
func NewIdempotencyRepository(db *sql.DB) *IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

// Get returns the cached response for the key if it has not expired.
func (r *IdempotencyRepository) Get(ctx context.Context, tenantID, method, path, bodyHash string) (*relationaldb.IdempotencyRecord, error) {
	if tenantID == "" {
		tenantID = relationaldb.DefaultTenant
	}

	rec := &relationaldb.IdempotencyRecord{
		TenantID: tenantID,
		Method:   method,
		Path:     path,
		BodyHash: bodyHash,
	}

	err := r.db.QueryRowContext(ctx,
		`SELECT status_code, response_headers, response_body, ttl_expires_at
		 FROM http_idempotency
		 WHERE tenant_id = $1 AND method = $2 AND path = $3 AND body_hash = $4
		   AND ttl_expires_at > NOW()`,
		tenantID, method, path, bodyHash).
		Scan(&rec.StatusCode, &rec.ResponseHeaders, &rec.ResponseBody, &rec.TTLExpiresAt)

	if err == sql.ErrNoRows {
		return nil, relationaldb.ErrIdempotencyNotFound
	}
	if err != nil {
		return nil, relationaldb.NewQueryError("get_idempotency", "failed to query cached response", err)
	}

	return rec, nil
}

// Put stores a response. A concurrent duplicate keeps the first write.
func (r *IdempotencyRepository) Put(ctx context.Context, rec *relationaldb.IdempotencyRecord) error {
	tenant := rec.TenantID
	if tenant == "" {
		tenant = relationaldb.DefaultTenant
	}

	query := `INSERT INTO http_idempotency
			(tenant_id, method, path, body_hash, status_code, response_headers, response_body, ttl_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id, method, path, body_hash) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query, tenant, rec.Method, rec.Path,
		rec.BodyHash, rec.StatusCode, rec.ResponseHeaders, rec.ResponseBody, rec.TTLExpiresAt)
	if err != nil {
		return relationaldb.NewQueryError("put_idempotency", "failed to store cached response", err)
	}

	return nil
}

// PurgeExpired deletes rows past their TTL.
func (r *IdempotencyRepository) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM http_idempotency WHERE ttl_expires_at <= NOW()`)
	if err != nil {
		return 0, relationaldb.NewQueryError("purge_idempotency", "failed to purge expired responses", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, relationaldb.NewQueryError("purge_idempotency", "failed to read affected rows", err)
	}
	return n, nil
}

var _ relationaldb.IdempotencyRepository = (*IdempotencyRepository)(nil)
