package approval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/qirat-network/qiratd/internal/storage/relationaldb"
)

func newTestWorkflow(t *testing.T) (*DeploymentWorkflow, *fakeDeployments, *fakeApprovals) {
	t.Helper()
	approvals := newFakeApprovals()
	deployments := newFakeDeployments()
	engine := NewEngine(fakeDB{}, approvals, &fakeOutbox{}, zaptest.NewLogger(t))
	return NewDeploymentWorkflow(deployments, engine, zaptest.NewLogger(t)), deployments, approvals
}

func TestRequestRejectsInvalidPromotionPath(t *testing.T) {
	w, _, _ := newTestWorkflow(t)
	ctx := context.Background()

	for _, tc := range []struct{ source, target string }{
		{EnvDevnet, EnvMainnet},
		{EnvTestnet, EnvDevnet},
		{EnvMainnet, EnvTestnet},
		{EnvMainnet, "production"},
	} {
		_, err := w.Request(ctx, DeploymentRequest{
			Service: "qiratd", SourceEnv: tc.source, TargetEnv: tc.target,
			ImageTag: "v1.2.3", RequestedBy: "alice",
		})
		assert.ErrorIs(t, err, ErrInvalidPromotion, "%s -> %s", tc.source, tc.target)
	}
}

func TestRequestWithoutRuleStartsImmediately(t *testing.T) {
	w, deployments, _ := newTestWorkflow(t)

	rec, err := w.Request(context.Background(), DeploymentRequest{
		Service: "qiratd", SourceEnv: EnvDevnet, TargetEnv: EnvTestnet,
		ImageTag: "v1.2.3", RequestedBy: "alice",
	})
	require.NoError(t, err)

	assert.Equal(t, relationaldb.DeploymentInProgress, rec.Status)
	assert.Empty(t, rec.ApprovalID)
	assert.Empty(t, rec.PreviousTag, "no completed deployment to roll back to yet")

	stored, err := deployments.Get(context.Background(), rec.DeploymentID)
	require.NoError(t, err)
	assert.Equal(t, relationaldb.DeploymentInProgress, stored.Status)
}

func TestRequestWithRuleWaitsForApproval(t *testing.T) {
	w, _, approvals := newTestWorkflow(t)
	ctx := context.Background()

	require.NoError(t, approvals.SaveRule(ctx, &relationaldb.SignatoryRule{
		RuleID:            "deploy-mainnet",
		EntityType:        deploymentEntityType,
		EntityID:          EnvMainnet,
		RuleOrder:         1,
		RequiredApprovals: 2,
		IsActive:          true,
	}))

	rec, err := w.Request(ctx, DeploymentRequest{
		Service: "qiratd", SourceEnv: EnvTestnet, TargetEnv: EnvMainnet,
		ImageTag: "v1.2.3", RequestedBy: "alice",
	})
	require.NoError(t, err)

	assert.Equal(t, relationaldb.DeploymentPendingApproval, rec.Status)
	require.NotEmpty(t, rec.ApprovalID)

	pending, err := approvals.GetPending(ctx, rec.ApprovalID)
	require.NoError(t, err)
	assert.Equal(t, rec.DeploymentID, pending.ExternalRef)
	assert.Equal(t, 2, pending.RequiredApprovals)
}

func TestHappyPathToCompleted(t *testing.T) {
	w, deployments, _ := newTestWorkflow(t)
	ctx := context.Background()

	rec, err := w.Request(ctx, DeploymentRequest{
		Service: "qiratd", SourceEnv: EnvDevnet, TargetEnv: EnvTestnet,
		ImageTag: "v1.2.3", RequestedBy: "alice",
	})
	require.NoError(t, err)

	require.NoError(t, w.StartHealthCheck(ctx, rec.DeploymentID))
	require.NoError(t, w.Complete(ctx, rec.DeploymentID))

	stored, err := deployments.Get(ctx, rec.DeploymentID)
	require.NoError(t, err)
	assert.Equal(t, relationaldb.DeploymentCompleted, stored.Status)
	assert.NotEmpty(t, stored.Logs)
}

func TestFailedHealthCheckRollsBackToPreviousTag(t *testing.T) {
	w, deployments, _ := newTestWorkflow(t)
	ctx := context.Background()

	// A completed v1 deployment provides the rollback target.
	first, err := w.Request(ctx, DeploymentRequest{
		Service: "qiratd", SourceEnv: EnvDevnet, TargetEnv: EnvTestnet,
		ImageTag: "v1.0.0", RequestedBy: "alice",
	})
	require.NoError(t, err)
	require.NoError(t, w.StartHealthCheck(ctx, first.DeploymentID))
	require.NoError(t, w.Complete(ctx, first.DeploymentID))

	second, err := w.Request(ctx, DeploymentRequest{
		Service: "qiratd", SourceEnv: EnvDevnet, TargetEnv: EnvTestnet,
		ImageTag: "v1.1.0", RequestedBy: "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "v1.0.0", second.PreviousTag)

	require.NoError(t, w.StartHealthCheck(ctx, second.DeploymentID))
	require.NoError(t, w.FailHealthCheck(ctx, second.DeploymentID, "readiness probe failed"))

	stored, err := deployments.Get(ctx, second.DeploymentID)
	require.NoError(t, err)
	assert.Equal(t, relationaldb.DeploymentRolledBack, stored.Status)
	assert.Contains(t, stored.Logs[len(stored.Logs)-1], "v1.0.0")
}

func TestFailedHealthCheckWithoutRollbackTargetFails(t *testing.T) {
	w, deployments, _ := newTestWorkflow(t)
	ctx := context.Background()

	rec, err := w.Request(ctx, DeploymentRequest{
		Service: "qiratd", SourceEnv: EnvDevnet, TargetEnv: EnvTestnet,
		ImageTag: "v1.0.0", RequestedBy: "alice",
	})
	require.NoError(t, err)

	require.NoError(t, w.StartHealthCheck(ctx, rec.DeploymentID))
	require.NoError(t, w.FailHealthCheck(ctx, rec.DeploymentID, "crash loop"))

	stored, err := deployments.Get(ctx, rec.DeploymentID)
	require.NoError(t, err)
	assert.Equal(t, relationaldb.DeploymentFailed, stored.Status)
}

func TestBeginAfterApproval(t *testing.T) {
	w, deployments, approvals := newTestWorkflow(t)
	ctx := context.Background()

	require.NoError(t, approvals.SaveRule(ctx, &relationaldb.SignatoryRule{
		RuleID:            "deploy-mainnet",
		EntityType:        deploymentEntityType,
		EntityID:          EnvMainnet,
		RuleOrder:         1,
		RequiredApprovals: 1,
		IsActive:          true,
	}))

	rec, err := w.Request(ctx, DeploymentRequest{
		Service: "qiratd", SourceEnv: EnvTestnet, TargetEnv: EnvMainnet,
		ImageTag: "v2.0.0", RequestedBy: "alice",
	})
	require.NoError(t, err)
	require.Equal(t, relationaldb.DeploymentPendingApproval, rec.Status)

	require.NoError(t, w.Begin(ctx, rec.DeploymentID))

	stored, err := deployments.Get(ctx, rec.DeploymentID)
	require.NoError(t, err)
	assert.Equal(t, relationaldb.DeploymentInProgress, stored.Status)
}
