package submitter

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/qirat-network/qiratd/internal/fabric"
	"github.com/qirat-network/qiratd/internal/outbox"
	"github.com/qirat-network/qiratd/internal/storage/relationaldb"
)

// fakeDB runs transaction closures directly against the in-memory fakes.
type fakeDB struct{}

func (fakeDB) Open(context.Context) error  { return nil }
func (fakeDB) Close(context.Context) error { return nil }
func (fakeDB) Ping(context.Context) error  { return nil }
func (fakeDB) DB() *sql.DB                 { return nil }
func (fakeDB) RunInTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return fn(nil)
}

// fakeOutboxRepo hands out queued commands once and records finalizations.
type fakeOutboxRepo struct {
	queued    []*relationaldb.OutboxCommand
	committed map[string]string // id -> fabric tx id
	failed    map[string]string // id -> error code
	leaseLost bool
}

func newFakeOutboxRepo() *fakeOutboxRepo {
	return &fakeOutboxRepo{
		committed: make(map[string]string),
		failed:    make(map[string]string),
	}
}

func (f *fakeOutboxRepo) Enqueue(ctx context.Context, tx *sql.Tx, cmd *relationaldb.OutboxCommand) error {
	f.queued = append(f.queued, cmd)
	return nil
}

func (f *fakeOutboxRepo) ClaimBatch(ctx context.Context, workerID string, batchSize int, lockTimeout time.Duration, maxRetries int) ([]*relationaldb.OutboxCommand, error) {
	batch := f.queued
	if len(batch) > batchSize {
		batch = batch[:batchSize]
	}
	f.queued = f.queued[len(batch):]
	return batch, nil
}

func (f *fakeOutboxRepo) MarkCommitted(ctx context.Context, id, workerID, fabricTxID string, commitBlock uint64) error {
	if f.leaseLost {
		return relationaldb.ErrLeaseLost
	}
	f.committed[id] = fabricTxID
	return nil
}

func (f *fakeOutboxRepo) MarkFailed(ctx context.Context, id, workerID, errMsg, errCode string) error {
	if f.leaseLost {
		return relationaldb.ErrLeaseLost
	}
	f.failed[id] = errCode
	return nil
}

func (f *fakeOutboxRepo) Get(ctx context.Context, id string) (*relationaldb.OutboxCommand, error) {
	return nil, relationaldb.ErrCommandNotFound
}

func (f *fakeOutboxRepo) GetByRequestID(ctx context.Context, tenantID, service, requestID string) (*relationaldb.OutboxCommand, error) {
	return nil, relationaldb.ErrCommandNotFound
}

func (f *fakeOutboxRepo) QueueDepth(ctx context.Context, maxRetries int) (int64, error) {
	return int64(len(f.queued)), nil
}

func (f *fakeOutboxRepo) DeadLetterCount(ctx context.Context, maxRetries int) (int64, error) {
	return 0, nil
}

// fakeGateway answers submissions and balance queries.
type fakeGateway struct {
	submitErr error
	result    *fabric.SubmitResult
	balances  map[string]string

	submissions []string // "Contract.Function"
}

func (g *fakeGateway) Submit(ctx context.Context, contract, function string, args ...string) (*fabric.SubmitResult, error) {
	g.submissions = append(g.submissions, contract+"."+function)
	if g.submitErr != nil {
		return nil, g.submitErr
	}
	return g.result, nil
}

func (g *fakeGateway) Evaluate(ctx context.Context, contract, function string, args ...string) ([]byte, error) {
	if function == "GetBalance" && len(args) == 1 {
		if b, ok := g.balances[args[0]]; ok {
			return []byte(b), nil
		}
	}
	return nil, errors.New("no such account")
}

// fakeProvider returns the same gateway for every identity and records
// which identities were requested.
type fakeProvider struct {
	gateway    *fakeGateway
	identities []string
}

func (p *fakeProvider) Gateway(name string) (Gateway, error) {
	p.identities = append(p.identities, name)
	return p.gateway, nil
}

// fakeReadModel is a minimal in-memory read model.
type fakeReadModel struct {
	profiles      map[string]*relationaldb.UserProfile // by profile id
	byAccount     map[string]string                    // account id -> profile id
	wallets       map[string]int64                     // profile id -> balance
	notifications []*relationaldb.Notification
}

func newFakeReadModel() *fakeReadModel {
	return &fakeReadModel{
		profiles:  make(map[string]*relationaldb.UserProfile),
		byAccount: make(map[string]string),
		wallets:   make(map[string]int64),
	}
}

func (f *fakeReadModel) addProfile(profileID, accountID string) {
	f.profiles[profileID] = &relationaldb.UserProfile{
		ProfileID: profileID,
		AccountID: accountID,
		Status:    relationaldb.UserRegistered,
	}
	f.byAccount[accountID] = profileID
}

func (f *fakeReadModel) UpsertProfile(ctx context.Context, tx *sql.Tx, p *relationaldb.UserProfile) error {
	cp := *p
	f.profiles[p.ProfileID] = &cp
	if p.AccountID != "" {
		f.byAccount[p.AccountID] = p.ProfileID
	}
	return nil
}

func (f *fakeReadModel) GetProfile(ctx context.Context, profileID string) (*relationaldb.UserProfile, error) {
	p, ok := f.profiles[profileID]
	if !ok {
		return nil, relationaldb.ErrProfileNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeReadModel) GetProfileByAccountID(ctx context.Context, accountID string) (*relationaldb.UserProfile, error) {
	id, ok := f.byAccount[accountID]
	if !ok {
		return nil, relationaldb.ErrProfileNotFound
	}
	return f.GetProfile(ctx, id)
}

func (f *fakeReadModel) SetProfileStatus(ctx context.Context, tx *sql.Tx, profileID string, status relationaldb.UserStatus, onchain relationaldb.OnchainStatus, registeredAt *time.Time) error {
	p, ok := f.profiles[profileID]
	if !ok {
		return relationaldb.ErrProfileNotFound
	}
	p.Status = status
	p.OnchainStatus = onchain
	if p.OnchainRegisteredAt == nil {
		p.OnchainRegisteredAt = registeredAt
	}
	return nil
}

func (f *fakeReadModel) EnsureWallet(ctx context.Context, tx *sql.Tx, profileID, tenantID string) (*relationaldb.Wallet, error) {
	if _, ok := f.wallets[profileID]; !ok {
		f.wallets[profileID] = 0
	}
	return &relationaldb.Wallet{WalletID: "w-" + profileID, ProfileID: profileID, CachedBalance: f.wallets[profileID]}, nil
}

func (f *fakeReadModel) GetWalletByProfile(ctx context.Context, profileID string) (*relationaldb.Wallet, error) {
	balance, ok := f.wallets[profileID]
	if !ok {
		return nil, relationaldb.ErrWalletNotFound
	}
	return &relationaldb.Wallet{WalletID: "w-" + profileID, ProfileID: profileID, CachedBalance: balance}, nil
}

func (f *fakeReadModel) SetWalletBalance(ctx context.Context, tx *sql.Tx, walletID string, balance int64) error {
	return relationaldb.ErrWalletNotFound
}

func (f *fakeReadModel) SetWalletBalanceByProfile(ctx context.Context, tx *sql.Tx, profileID string, balance int64) error {
	if _, ok := f.wallets[profileID]; !ok {
		return relationaldb.ErrWalletNotFound
	}
	f.wallets[profileID] = balance
	return nil
}

func (f *fakeReadModel) RecordTransaction(ctx context.Context, tx *sql.Tx, rec *relationaldb.TransactionRecord) error {
	return nil
}

func (f *fakeReadModel) GetTransaction(ctx context.Context, txID string) (*relationaldb.TransactionRecord, error) {
	return nil, sql.ErrNoRows
}

func (f *fakeReadModel) InsertNotification(ctx context.Context, tx *sql.Tx, n *relationaldb.Notification) error {
	for _, existing := range f.notifications {
		if existing.NotificationID == n.NotificationID {
			return nil
		}
	}
	cp := *n
	f.notifications = append(f.notifications, &cp)
	return nil
}

func (f *fakeReadModel) ListNotifications(ctx context.Context, profileID string, limit int) ([]*relationaldb.Notification, error) {
	var out []*relationaldb.Notification
	for _, n := range f.notifications {
		if n.ProfileID == profileID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeReadModel) AppendEventLog(ctx context.Context, tx *sql.Tx, rec *relationaldb.EventLogRecord) error {
	return nil
}

var (
	_ relationaldb.Database            = fakeDB{}
	_ relationaldb.OutboxRepository    = (*fakeOutboxRepo)(nil)
	_ relationaldb.ReadModelRepository = (*fakeReadModel)(nil)
)

func newTestWorker(t *testing.T, gateway *fakeGateway) (*Worker, *fakeOutboxRepo, *fakeReadModel, *fakeProvider) {
	t.Helper()
	cfg := NewConfig()
	cfg.WorkerID = "worker-1"
	repo := newFakeOutboxRepo()
	readModel := newFakeReadModel()
	provider := &fakeProvider{gateway: gateway}
	w := New(cfg, fakeDB{}, repo, readModel, provider, zaptest.NewLogger(t))
	return w, repo, readModel, provider
}

func enqueue(t *testing.T, repo *fakeOutboxRepo, p outbox.Payload) *relationaldb.OutboxCommand {
	t.Helper()
	cmd, err := outbox.NewCommand("", "test", "req-"+p.CommandType(), p)
	require.NoError(t, err)
	require.NoError(t, repo.Enqueue(context.Background(), nil, cmd))
	return cmd
}

func TestIdentityFor(t *testing.T) {
	assert.Equal(t, fabric.IdentitySuperAdmin, IdentityFor(outbox.CmdBootstrapSystem))
	assert.Equal(t, fabric.IdentitySuperAdmin, IdentityFor(outbox.CmdPauseSystem))
	assert.Equal(t, fabric.IdentityAdmin, IdentityFor(outbox.CmdTransferTokens))
	assert.Equal(t, fabric.IdentityAdmin, IdentityFor(outbox.CmdDistributeGenesis))
	assert.Equal(t, fabric.IdentityPartnerAPI, IdentityFor(outbox.CmdCreateUser))
	assert.Equal(t, fabric.IdentityPartnerAPI, IdentityFor(outbox.CmdApplyForLoan))
	assert.Equal(t, fabric.IdentityPartnerAPI, IdentityFor("SOMETHING_NEW"))
}

func TestProcessCreateUserCommitsAndReconciles(t *testing.T) {
	gateway := &fakeGateway{
		result:   &fabric.SubmitResult{TxID: "ftx-1", BlockNumber: 42},
		balances: map[string]string{"US A3F HBF934 0ABCD 1234": "7500"},
	}
	w, repo, readModel, provider := newTestWorker(t, gateway)
	readModel.addProfile("profile-1", "")

	cmd := enqueue(t, repo, outbox.CreateUserPayload{
		UserID:        "US A3F HBF934 0ABCD 1234",
		ProfileID:     "profile-1",
		BiometricHash: "b1ff",
		CountryCode:   "US",
		Age:           "41",
	})

	w.poll(context.Background())

	assert.Equal(t, "ftx-1", repo.committed[cmd.ID])
	assert.Equal(t, []string{fabric.IdentityPartnerAPI}, provider.identities)
	assert.Equal(t, []string{"IdentityContract.CreateUser"}, gateway.submissions)

	profile, err := readModel.GetProfile(context.Background(), "profile-1")
	require.NoError(t, err)
	assert.Equal(t, relationaldb.UserActive, profile.Status)
	assert.Equal(t, relationaldb.OnchainActive, profile.OnchainStatus)
	assert.NotNil(t, profile.OnchainRegisteredAt, "registration must be stamped at reconcile time")
	assert.Equal(t, int64(7500), readModel.wallets["profile-1"])
}

func TestProcessTransferRefreshesBothPartiesAndNotifies(t *testing.T) {
	const (
		fromAccount = "US A3F HBF934 0ABCD 1234"
		toAccount   = "GB B2E HCG045 0EFGH 5678"
	)
	gateway := &fakeGateway{
		result: &fabric.SubmitResult{TxID: "ftx-2", BlockNumber: 43},
		balances: map[string]string{
			fromAccount: "400",
			toAccount:   "1600",
		},
	}
	w, repo, readModel, provider := newTestWorker(t, gateway)
	readModel.addProfile("profile-from", fromAccount)
	readModel.addProfile("profile-to", toAccount)
	readModel.profiles["profile-from"].DisplayName = "Ayesha Khan"
	readModel.profiles["profile-to"].DisplayName = "Brianna Chen"
	readModel.wallets["profile-from"] = 1000
	readModel.wallets["profile-to"] = 1000

	cmd := enqueue(t, repo, outbox.TransferTokensPayload{
		From: fromAccount, To: toAccount, Amount: "600", IdempotencyKey: "req-1",
	})

	w.poll(context.Background())

	assert.Equal(t, "ftx-2", repo.committed[cmd.ID])
	assert.Equal(t, []string{fabric.IdentityAdmin}, provider.identities)
	assert.Equal(t, int64(400), readModel.wallets["profile-from"])
	assert.Equal(t, int64(1600), readModel.wallets["profile-to"])

	require.Len(t, readModel.notifications, 2)
	assert.Equal(t, "WALLET_DEBITED", readModel.notifications[0].Kind)
	assert.Equal(t, cmd.ID+"-wallet_debited", readModel.notifications[0].NotificationID)
	assert.Equal(t, "Transfer of 600 Qirat to Brianna Chen processed", readModel.notifications[0].Message)
	assert.Equal(t, "WALLET_CREDITED", readModel.notifications[1].Kind)
	assert.Equal(t, "Transfer of 600 Qirat from Ayesha Khan processed", readModel.notifications[1].Message)

	// Replaying reconciliation inserts nothing new.
	w.reconcile(context.Background(), cmd, gateway, w.logger)
	assert.Len(t, readModel.notifications, 2)
}

func TestProcessFailureRecordsErrorCode(t *testing.T) {
	gateway := &fakeGateway{submitErr: &fabric.ChaincodeError{Message: "insufficient balance"}}
	w, repo, _, _ := newTestWorker(t, gateway)

	cmd := enqueue(t, repo, outbox.TransferTokensPayload{
		From: "a", To: "b", Amount: "5", IdempotencyKey: "req-2",
	})

	w.poll(context.Background())

	assert.Empty(t, repo.committed)
	assert.Equal(t, "CHAINCODE", repo.failed[cmd.ID])
}

func TestProcessUnroutableCommandFails(t *testing.T) {
	gateway := &fakeGateway{result: &fabric.SubmitResult{TxID: "ftx-3"}}
	w, repo, _, _ := newTestWorker(t, gateway)

	cmd := &relationaldb.OutboxCommand{
		ID:          "cmd-raw",
		CommandType: "MINT_UNICORNS",
		Payload:     []byte(`{}`),
	}
	require.NoError(t, repo.Enqueue(context.Background(), nil, cmd))

	w.poll(context.Background())

	assert.Equal(t, "ROUTING", repo.failed[cmd.ID])
	assert.Empty(t, gateway.submissions)
}

func TestLeaseLostSkipsSideEffects(t *testing.T) {
	gateway := &fakeGateway{
		result:   &fabric.SubmitResult{TxID: "ftx-4", BlockNumber: 44},
		balances: map[string]string{"US A3F HBF934 0ABCD 1234": "7500"},
	}
	w, repo, readModel, _ := newTestWorker(t, gateway)
	readModel.addProfile("profile-1", "")
	repo.leaseLost = true

	enqueue(t, repo, outbox.CreateUserPayload{
		UserID: "US A3F HBF934 0ABCD 1234", ProfileID: "profile-1",
		BiometricHash: "b1ff", CountryCode: "US", Age: "41",
	})

	w.poll(context.Background())

	// The submission happened but no local state changed.
	assert.Len(t, gateway.submissions, 1)
	profile, err := readModel.GetProfile(context.Background(), "profile-1")
	require.NoError(t, err)
	assert.Equal(t, relationaldb.UserRegistered, profile.Status)
	assert.NotContains(t, readModel.wallets, "profile-1")
}

func TestRunStopsOnCancel(t *testing.T) {
	gateway := &fakeGateway{result: &fabric.SubmitResult{TxID: "ftx-5"}}
	w, _, _, _ := newTestWorker(t, gateway)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(250 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
