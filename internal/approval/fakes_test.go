package approval

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/qirat-network/qiratd/internal/storage/relationaldb"
)

// fakeDB satisfies relationaldb.Database without a real connection. The
// engine only composes writes through RunInTransaction, which the
// in-memory fakes honor by mutating state directly.
type fakeDB struct{}

func (fakeDB) Open(context.Context) error  { return nil }
func (fakeDB) Close(context.Context) error { return nil }
func (fakeDB) Ping(context.Context) error  { return nil }
func (fakeDB) DB() *sql.DB                 { return nil }

func (fakeDB) RunInTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return fn(nil)
}

// fakeApprovals is an in-memory ApprovalRepository.
type fakeApprovals struct {
	pendings map[string]*relationaldb.PendingMultiSigTransaction
	votes    map[string]map[string]*relationaldb.MultiSigVote
	rules    []*relationaldb.SignatoryRule
}

func newFakeApprovals() *fakeApprovals {
	return &fakeApprovals{
		pendings: make(map[string]*relationaldb.PendingMultiSigTransaction),
		votes:    make(map[string]map[string]*relationaldb.MultiSigVote),
	}
}

func (f *fakeApprovals) CreatePending(ctx context.Context, tx *sql.Tx, p *relationaldb.PendingMultiSigTransaction) error {
	cp := *p
	f.pendings[p.PendingTxID] = &cp
	return nil
}

func (f *fakeApprovals) GetPending(ctx context.Context, pendingTxID string) (*relationaldb.PendingMultiSigTransaction, error) {
	p, ok := f.pendings[pendingTxID]
	if !ok {
		return nil, relationaldb.ErrApprovalNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeApprovals) ListPendingByEntity(ctx context.Context, entityType, entityID string) ([]*relationaldb.PendingMultiSigTransaction, error) {
	var out []*relationaldb.PendingMultiSigTransaction
	for _, p := range f.pendings {
		if p.EntityType == entityType && p.EntityID == entityID && p.Status == relationaldb.ApprovalPending {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeApprovals) RecordVote(ctx context.Context, tx *sql.Tx, vote *relationaldb.MultiSigVote) (int, error) {
	byVoter, ok := f.votes[vote.PendingTxID]
	if !ok {
		byVoter = make(map[string]*relationaldb.MultiSigVote)
		f.votes[vote.PendingTxID] = byVoter
	}
	if _, dup := byVoter[vote.VoterID]; dup {
		return 0, relationaldb.ErrDuplicateVote
	}
	cp := *vote
	byVoter[vote.VoterID] = &cp

	if vote.Approved {
		f.pendings[vote.PendingTxID].CurrentApprovals++
	}
	return f.pendings[vote.PendingTxID].CurrentApprovals, nil
}

func (f *fakeApprovals) ListVotes(ctx context.Context, pendingTxID string) ([]*relationaldb.MultiSigVote, error) {
	var out []*relationaldb.MultiSigVote
	for _, v := range f.votes[pendingTxID] {
		cp := *v
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VotedAt.Before(out[j].VotedAt) })
	return out, nil
}

func (f *fakeApprovals) UpdateStatus(ctx context.Context, tx *sql.Tx, pendingTxID string, from, to relationaldb.ApprovalStatus) error {
	p, ok := f.pendings[pendingTxID]
	if !ok || p.Status != from {
		return relationaldb.ErrApprovalNotFound
	}
	p.Status = to
	return nil
}

func (f *fakeApprovals) MarkExecuted(ctx context.Context, pendingTxID, executedTxID string) error {
	p, ok := f.pendings[pendingTxID]
	if !ok || p.Status != relationaldb.ApprovalApproved {
		return relationaldb.ErrApprovalNotFound
	}
	now := time.Now()
	p.Status = relationaldb.ApprovalExecuted
	p.ExecutedAt = &now
	p.ExecutedTxID = executedTxID
	return nil
}

func (f *fakeApprovals) MarkRejected(ctx context.Context, tx *sql.Tx, pendingTxID, rejectedBy, reason string) error {
	p, ok := f.pendings[pendingTxID]
	if !ok || p.Status != relationaldb.ApprovalPending {
		return relationaldb.ErrApprovalNotFound
	}
	now := time.Now()
	p.Status = relationaldb.ApprovalRejected
	p.RejectedBy = rejectedBy
	p.RejectedAt = &now
	p.RejectionReason = reason
	return nil
}

func (f *fakeApprovals) ActiveRules(ctx context.Context, entityType, entityID string, now time.Time) ([]*relationaldb.SignatoryRule, error) {
	var out []*relationaldb.SignatoryRule
	for _, r := range f.rules {
		if r.EntityType != entityType || r.EntityID != entityID || !r.IsActive {
			continue
		}
		if r.ValidFrom != nil && r.ValidFrom.After(now) {
			continue
		}
		if r.ValidUntil != nil && r.ValidUntil.Before(now) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RuleOrder < out[j].RuleOrder })
	return out, nil
}

func (f *fakeApprovals) SaveRule(ctx context.Context, rule *relationaldb.SignatoryRule) error {
	cp := *rule
	f.rules = append(f.rules, &cp)
	return nil
}

// fakeOutbox records enqueued commands.
type fakeOutbox struct {
	enqueued []*relationaldb.OutboxCommand
}

func (f *fakeOutbox) Enqueue(ctx context.Context, tx *sql.Tx, cmd *relationaldb.OutboxCommand) error {
	for _, existing := range f.enqueued {
		if existing.Service == cmd.Service && existing.RequestID == cmd.RequestID {
			return relationaldb.NewConstraintError("enqueue", "duplicate request id", nil)
		}
	}
	cp := *cmd
	f.enqueued = append(f.enqueued, &cp)
	return nil
}

func (f *fakeOutbox) ClaimBatch(ctx context.Context, workerID string, batchSize int, lockTimeout time.Duration, maxRetries int) ([]*relationaldb.OutboxCommand, error) {
	return nil, nil
}

func (f *fakeOutbox) MarkCommitted(ctx context.Context, id, workerID, fabricTxID string, commitBlock uint64) error {
	return nil
}

func (f *fakeOutbox) MarkFailed(ctx context.Context, id, workerID, errMsg, errCode string) error {
	return nil
}

func (f *fakeOutbox) Get(ctx context.Context, id string) (*relationaldb.OutboxCommand, error) {
	return nil, relationaldb.ErrCommandNotFound
}

func (f *fakeOutbox) GetByRequestID(ctx context.Context, tenantID, service, requestID string) (*relationaldb.OutboxCommand, error) {
	return nil, relationaldb.ErrCommandNotFound
}

func (f *fakeOutbox) QueueDepth(ctx context.Context, maxRetries int) (int64, error) {
	return int64(len(f.enqueued)), nil
}

func (f *fakeOutbox) DeadLetterCount(ctx context.Context, maxRetries int) (int64, error) {
	return 0, nil
}

// fakeDeployments is an in-memory DeploymentRepository.
type fakeDeployments struct {
	records map[string]*relationaldb.DeploymentRecord
	order   []string
}

func newFakeDeployments() *fakeDeployments {
	return &fakeDeployments{records: make(map[string]*relationaldb.DeploymentRecord)}
}

func (f *fakeDeployments) Create(ctx context.Context, rec *relationaldb.DeploymentRecord) error {
	cp := *rec
	f.records[rec.DeploymentID] = &cp
	f.order = append(f.order, rec.DeploymentID)
	return nil
}

func (f *fakeDeployments) Get(ctx context.Context, deploymentID string) (*relationaldb.DeploymentRecord, error) {
	rec, ok := f.records[deploymentID]
	if !ok {
		return nil, relationaldb.ErrDeploymentNotFound
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeDeployments) UpdateStatus(ctx context.Context, deploymentID string, from, to relationaldb.DeploymentStatus) error {
	rec, ok := f.records[deploymentID]
	if !ok || rec.Status != from {
		return relationaldb.ErrDeploymentNotFound
	}
	rec.Status = to
	return nil
}

func (f *fakeDeployments) AppendLog(ctx context.Context, deploymentID, line string) error {
	rec, ok := f.records[deploymentID]
	if !ok {
		return relationaldb.ErrDeploymentNotFound
	}
	rec.Logs = append(rec.Logs, line)
	return nil
}

func (f *fakeDeployments) LastCompletedTag(ctx context.Context, service, targetEnv string) (string, error) {
	for i := len(f.order) - 1; i >= 0; i-- {
		rec := f.records[f.order[i]]
		if rec.Service == service && rec.TargetEnv == targetEnv && rec.Status == relationaldb.DeploymentCompleted {
			return rec.ImageTag, nil
		}
	}
	return "", relationaldb.ErrDeploymentNotFound
}

var (
	_ relationaldb.Database             = fakeDB{}
	_ relationaldb.ApprovalRepository   = (*fakeApprovals)(nil)
	_ relationaldb.OutboxRepository     = (*fakeOutbox)(nil)
	_ relationaldb.DeploymentRepository = (*fakeDeployments)(nil)
)
