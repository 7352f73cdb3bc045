package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/qirat-network/qiratd/internal/storage/relationaldb"
)

// Deployment environments in promotion order.
const (
	EnvDevnet  = "devnet"
	EnvTestnet = "testnet"
	EnvMainnet = "mainnet"
)

// ErrInvalidPromotion is returned for a promotion that skips environments
// or moves backwards.
var ErrInvalidPromotion = errors.New("invalid promotion path")

// promotionOrder encodes the only allowed path: devnet through testnet to
// mainnet.
var promotionOrder = map[string]string{
	EnvDevnet:  EnvTestnet,
	EnvTestnet: EnvMainnet,
}

// deploymentEntityType scopes signatory rules governing promotions.
const deploymentEntityType = "DEPLOYMENT"

// DeploymentWorkflow drives environment promotions: a record is created,
// optionally gated on a multi-sig approval, then walks
// IN_PROGRESS -> HEALTH_CHECK -> COMPLETED, with FAILED and ROLLED_BACK
// as terminal failure states.
type DeploymentWorkflow struct {
	deployments relationaldb.DeploymentRepository
	engine      *Engine
	logger      *zap.Logger

	now func() time.Time
}

// NewDeploymentWorkflow creates a workflow over the deployment repository
// and the approval engine.
func NewDeploymentWorkflow(deployments relationaldb.DeploymentRepository, engine *Engine, logger *zap.Logger) *DeploymentWorkflow {
	return &DeploymentWorkflow{
		deployments: deployments,
		engine:      engine,
		logger:      logger,
		now:         time.Now,
	}
}

// DeploymentRequest asks to promote a service image between environments.
type DeploymentRequest struct {
	Service     string
	SourceEnv   string
	TargetEnv   string
	ImageTag    string
	Reason      string
	RequestedBy string
}

// Request validates the promotion path, captures the rollback target and
// creates the deployment record. When a signatory rule governs the target
// environment the record stays in PENDING_APPROVAL gated on a pending
// multi-sig transaction; otherwise it moves straight to IN_PROGRESS.
func (w *DeploymentWorkflow) Request(ctx context.Context, req DeploymentRequest) (*relationaldb.DeploymentRecord, error) {
	if promotionOrder[req.SourceEnv] != req.TargetEnv {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidPromotion, req.SourceEnv, req.TargetEnv)
	}

	previousTag, err := w.deployments.LastCompletedTag(ctx, req.Service, req.TargetEnv)
	if err != nil && !errors.Is(err, relationaldb.ErrDeploymentNotFound) {
		return nil, err
	}

	rec := &relationaldb.DeploymentRecord{
		DeploymentID: uuid.NewString(),
		Service:      req.Service,
		SourceEnv:    req.SourceEnv,
		TargetEnv:    req.TargetEnv,
		ImageTag:     req.ImageTag,
		PreviousTag:  previousTag,
		Reason:       req.Reason,
		Status:       relationaldb.DeploymentPendingApproval,
		RequestedBy:  req.RequestedBy,
	}

	pending, _, err := w.engine.Initiate(ctx, InitiateRequest{
		EntityType:      deploymentEntityType,
		EntityID:        req.TargetEnv,
		TransactionType: "DEPLOYMENT",
		Purpose:         fmt.Sprintf("promote %s %s from %s to %s", req.Service, req.ImageTag, req.SourceEnv, req.TargetEnv),
		ExternalRef:     rec.DeploymentID,
		InitiatedBy:     req.RequestedBy,
	})
	if err != nil {
		return nil, err
	}
	if pending != nil {
		rec.ApprovalID = pending.PendingTxID
	}

	if err := w.deployments.Create(ctx, rec); err != nil {
		return nil, err
	}

	if pending == nil {
		if err := w.deployments.UpdateStatus(ctx, rec.DeploymentID,
			relationaldb.DeploymentPendingApproval, relationaldb.DeploymentInProgress); err != nil {
			return nil, err
		}
		rec.Status = relationaldb.DeploymentInProgress
	}

	w.logger.Info("deployment requested",
		zap.String("deployment_id", rec.DeploymentID),
		zap.String("service", req.Service),
		zap.String("target_env", req.TargetEnv),
		zap.String("image_tag", req.ImageTag),
		zap.Bool("needs_approval", pending != nil))

	return rec, nil
}

// Begin moves an approved deployment into IN_PROGRESS.
func (w *DeploymentWorkflow) Begin(ctx context.Context, deploymentID string) error {
	if err := w.deployments.UpdateStatus(ctx, deploymentID,
		relationaldb.DeploymentPendingApproval, relationaldb.DeploymentInProgress); err != nil {
		return err
	}
	return w.deployments.AppendLog(ctx, deploymentID, "deployment approved, rollout started")
}

// StartHealthCheck moves a deployment from IN_PROGRESS to HEALTH_CHECK.
func (w *DeploymentWorkflow) StartHealthCheck(ctx context.Context, deploymentID string) error {
	if err := w.deployments.UpdateStatus(ctx, deploymentID,
		relationaldb.DeploymentInProgress, relationaldb.DeploymentHealthCheck); err != nil {
		return err
	}
	return w.deployments.AppendLog(ctx, deploymentID, "rollout finished, health check started")
}

// Complete finalizes a healthy deployment.
func (w *DeploymentWorkflow) Complete(ctx context.Context, deploymentID string) error {
	if err := w.deployments.UpdateStatus(ctx, deploymentID,
		relationaldb.DeploymentHealthCheck, relationaldb.DeploymentCompleted); err != nil {
		return err
	}
	return w.deployments.AppendLog(ctx, deploymentID, "health check passed, deployment completed")
}

// FailHealthCheck handles a failed health check: when a previous completed
// tag exists the deployment rolls back to it, otherwise it is marked
// FAILED.
func (w *DeploymentWorkflow) FailHealthCheck(ctx context.Context, deploymentID, detail string) error {
	rec, err := w.deployments.Get(ctx, deploymentID)
	if err != nil {
		return err
	}

	if rec.PreviousTag == "" {
		if err := w.deployments.UpdateStatus(ctx, deploymentID,
			relationaldb.DeploymentHealthCheck, relationaldb.DeploymentFailed); err != nil {
			return err
		}
		return w.deployments.AppendLog(ctx, deploymentID,
			fmt.Sprintf("health check failed, no rollback target: %s", detail))
	}

	if err := w.deployments.UpdateStatus(ctx, deploymentID,
		relationaldb.DeploymentHealthCheck, relationaldb.DeploymentRolledBack); err != nil {
		return err
	}

	w.logger.Warn("deployment rolled back",
		zap.String("deployment_id", deploymentID),
		zap.String("service", rec.Service),
		zap.String("rolled_back_to", rec.PreviousTag))

	return w.deployments.AppendLog(ctx, deploymentID,
		fmt.Sprintf("health check failed (%s), rolled back to %s", detail, rec.PreviousTag))
}

// Fail terminates a deployment whose rollout never reached health check.
func (w *DeploymentWorkflow) Fail(ctx context.Context, deploymentID, detail string) error {
	if err := w.deployments.UpdateStatus(ctx, deploymentID,
		relationaldb.DeploymentInProgress, relationaldb.DeploymentFailed); err != nil {
		return err
	}
	return w.deployments.AppendLog(ctx, deploymentID,
		fmt.Sprintf("rollout failed: %s", detail))
}
