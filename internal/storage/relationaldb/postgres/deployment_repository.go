package postgres

import (
	"context"
	"database/sql"
	"strings"

	"github.com/qirat-network/qiratd/internal/storage/relationaldb"
)

// logSeparator joins deployment log lines in the logs column.
const logSeparator = "\n"

// DeploymentRepository implements the DeploymentRepository interface for
// PostgreSQL
type DeploymentRepository struct {
	db *sql.DB
}

// NewDeploymentRepository creates a new PostgreSQL deployment repository
func NewDeploymentRepository(db *sql.DB) *DeploymentRepository {
	return &DeploymentRepository{db: db}
}

// Create inserts a deployment record
func (r *DeploymentRepository) Create(ctx context.Context, rec *relationaldb.DeploymentRecord) error {
	query := `INSERT INTO deployment_records
		(deployment_id, service, source_env, target_env, image_tag,
		 previous_tag, reason, status, requested_by, approval_id, logs)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.ExecContext(ctx, query, rec.DeploymentID, rec.Service,
		rec.SourceEnv, rec.TargetEnv, rec.ImageTag, rec.PreviousTag,
		rec.Reason, string(rec.Status), rec.RequestedBy, rec.ApprovalID,
		strings.Join(rec.Logs, logSeparator))
	if err != nil {
		return relationaldb.NewQueryError("create_deployment", "failed to insert deployment record", err)
	}
	return nil
}

// Get returns a deployment record by id
func (r *DeploymentRepository) Get(ctx context.Context, deploymentID string) (*relationaldb.DeploymentRecord, error) {
	var rec relationaldb.DeploymentRecord
	var logs string

	err := r.db.QueryRowContext(ctx,
		`SELECT deployment_id, service, source_env, target_env, image_tag,
			previous_tag, reason, status, requested_by, approval_id, logs,
			created_at, updated_at
		 FROM deployment_records WHERE deployment_id = $1`, deploymentID).
		Scan(&rec.DeploymentID, &rec.Service, &rec.SourceEnv, &rec.TargetEnv,
			&rec.ImageTag, &rec.PreviousTag, &rec.Reason, &rec.Status,
			&rec.RequestedBy, &rec.ApprovalID, &logs, &rec.CreatedAt,
			&rec.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, relationaldb.ErrDeploymentNotFound
	}
	if err != nil {
		return nil, relationaldb.NewQueryError("get_deployment", "failed to query deployment record", err)
	}

	if logs != "" {
		rec.Logs = strings.Split(logs, logSeparator)
	}
	return &rec, nil
}

// UpdateStatus performs a conditional state transition
func (r *DeploymentRepository) UpdateStatus(ctx context.Context, deploymentID string, from, to relationaldb.DeploymentStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE deployment_records
		 SET status = $3, updated_at = NOW()
		 WHERE deployment_id = $1 AND status = $2`,
		deploymentID, string(from), string(to))
	if err != nil {
		return relationaldb.NewQueryError("update_deployment", "failed to update deployment status", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return relationaldb.NewQueryError("update_deployment", "failed to read affected rows", err)
	}
	if n == 0 {
		return relationaldb.ErrDeploymentNotFound
	}
	return nil
}

// AppendLog appends a line to the deployment log
func (r *DeploymentRepository) AppendLog(ctx context.Context, deploymentID, line string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE deployment_records
		 SET logs = CASE WHEN logs = '' THEN $2 ELSE logs || $3 || $2 END,
		     updated_at = NOW()
		 WHERE deployment_id = $1`,
		deploymentID, line, logSeparator)
	if err != nil {
		return relationaldb.NewQueryError("append_deployment_log", "failed to append log line", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return relationaldb.NewQueryError("append_deployment_log", "failed to read affected rows", err)
	}
	if n == 0 {
		return relationaldb.ErrDeploymentNotFound
	}
	return nil
}

// LastCompletedTag returns the most recently completed image tag for
// rollback targets.
func (r *DeploymentRepository) LastCompletedTag(ctx context.Context, service, targetEnv string) (string, error) {
	var tag string
	err := r.db.QueryRowContext(ctx,
		`SELECT image_tag FROM deployment_records
		 WHERE service = $1 AND target_env = $2 AND status = 'COMPLETED'
		 ORDER BY updated_at DESC LIMIT 1`, service, targetEnv).Scan(&tag)

	if err == sql.ErrNoRows {
		return "", relationaldb.ErrDeploymentNotFound
	}
	if err != nil {
		return "", relationaldb.NewQueryError("last_completed_tag", "failed to query completed deployments", err)
	}
	return tag, nil
}

var _ relationaldb.DeploymentRepository = (*DeploymentRepository)(nil)
