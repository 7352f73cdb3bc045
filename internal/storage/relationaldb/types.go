// Package relationaldb defines the storage interfaces and row types for
// the backend's PostgreSQL state: the transactional outbox, projector
// checkpoints, HTTP idempotency cache, multi-sig approval records,
// deployment records and the projected read model.
package relationaldb

import "time"

// DefaultTenant is used when a caller does not scope a row to a tenant.
const DefaultTenant = "default"

// CommandStatus is the lifecycle state of an outbox command.
type CommandStatus string

const (
	CommandPending   CommandStatus = "PENDING"
	CommandLocked    CommandStatus = "LOCKED"
	CommandCommitted CommandStatus = "COMMITTED"
	CommandFailed    CommandStatus = "FAILED"
)

// OutboxCommand is one ledger command awaiting, undergoing or finished
// submission. Payload is the JSON-encoded command payload.
type OutboxCommand struct {
	ID          string        `json:"id"`
	TenantID    string        `json:"tenant_id"`
	Service     string        `json:"service"`
	CommandType string        `json:"command_type"`
	RequestID   string        `json:"request_id"`
	Payload     []byte        `json:"payload"`
	Status      CommandStatus `json:"status"`
	Attempts    int           `json:"attempts"`
	LockedBy    string        `json:"locked_by,omitempty"`
	LockedAt    *time.Time    `json:"locked_at,omitempty"`
	SubmittedAt *time.Time    `json:"submitted_at,omitempty"`
	FabricTxID  string        `json:"fabric_tx_id,omitempty"`
	CommitBlock uint64        `json:"commit_block,omitempty"`
	Error       string        `json:"error,omitempty"`
	ErrorCode   string        `json:"error_code,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// ProjectorState is the resumable checkpoint of one projector.
type ProjectorState struct {
	ProjectorName      string    `json:"projector_name"`
	LastProcessedBlock uint64    `json:"last_processed_block"`
	LastProcessedTxID  string    `json:"last_processed_tx_id"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// IdempotencyRecord is a cached HTTP response keyed by
// (tenant, method, path, bodyHash).
type IdempotencyRecord struct {
	TenantID        string    `json:"tenant_id"`
	Method          string    `json:"method"`
	Path            string    `json:"path"`
	BodyHash        string    `json:"body_hash"`
	StatusCode      int       `json:"status_code"`
	ResponseHeaders []byte    `json:"response_headers,omitempty"`
	ResponseBody    []byte    `json:"response_body,omitempty"`
	TTLExpiresAt    time.Time `json:"ttl_expires_at"`
}

// ApprovalStatus is the lifecycle state of a pending multi-sig
// transaction.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
	ApprovalExecuted ApprovalStatus = "EXECUTED"
	ApprovalExpired  ApprovalStatus = "EXPIRED"
	ApprovalCanceled ApprovalStatus = "CANCELED"
)

// PendingMultiSigTransaction is a high-value operation waiting for its
// quorum of signatory votes.
type PendingMultiSigTransaction struct {
	PendingTxID       string         `json:"pending_tx_id"`
	TenantID          string         `json:"tenant_id"`
	EntityType        string         `json:"entity_type"`
	EntityID          string         `json:"entity_id"`
	TransactionType   string         `json:"transaction_type"`
	FromEntityID      string         `json:"from_entity_id,omitempty"`
	ToEntityID        string         `json:"to_entity_id,omitempty"`
	Amount            int64          `json:"amount"`
	Fee               int64          `json:"fee"`
	Purpose           string         `json:"purpose,omitempty"`
	Category          string         `json:"category,omitempty"`
	ExternalRef       string         `json:"external_ref,omitempty"`
	RequiredApprovals int            `json:"required_approvals"`
	CurrentApprovals  int            `json:"current_approvals"`
	Status            ApprovalStatus `json:"status"`
	InitiatedBy       string         `json:"initiated_by"`
	InitiatedAt       time.Time      `json:"initiated_at"`
	ExpiresAt         time.Time      `json:"expires_at"`
	ExecutedAt        *time.Time     `json:"executed_at,omitempty"`
	ExecutedTxID      string         `json:"executed_tx_id,omitempty"`
	RejectedBy        string         `json:"rejected_by,omitempty"`
	RejectedAt        *time.Time     `json:"rejected_at,omitempty"`
	RejectionReason   string         `json:"rejection_reason,omitempty"`
}

// MultiSigVote is one signatory's vote on a pending transaction.
type MultiSigVote struct {
	VoteID      string    `json:"vote_id"`
	PendingTxID string    `json:"pending_tx_id"`
	VoterID     string    `json:"voter_id"`
	VoterRole   string    `json:"voter_role,omitempty"`
	Approved    bool      `json:"approved"`
	Remarks     string    `json:"remarks,omitempty"`
	VotedAt     time.Time `json:"voted_at"`
}

// SignatoryRule describes when a transaction requires multi-sig approval
// and who may vote. A nil MinAmount or MaxAmount leaves that bound open;
// empty TransactionTypes matches every type.
type SignatoryRule struct {
	RuleID            string     `json:"rule_id"`
	EntityType        string     `json:"entity_type"`
	EntityID          string     `json:"entity_id"`
	RuleOrder         int        `json:"rule_order"`
	MinAmount         *int64     `json:"min_amount,omitempty"`
	MaxAmount         *int64     `json:"max_amount,omitempty"`
	RequiredApprovals int        `json:"required_approvals"`
	TransactionTypes  []string   `json:"transaction_types,omitempty"`
	ApproverRoles     []string   `json:"approver_roles,omitempty"`
	AutoExecute       bool       `json:"auto_execute"`
	ValidFrom         *time.Time `json:"valid_from,omitempty"`
	ValidUntil        *time.Time `json:"valid_until,omitempty"`
	IsActive          bool       `json:"is_active"`
}

// DeploymentStatus is the lifecycle state of a deployment promotion.
type DeploymentStatus string

const (
	DeploymentPendingApproval DeploymentStatus = "PENDING_APPROVAL"
	DeploymentInProgress      DeploymentStatus = "IN_PROGRESS"
	DeploymentHealthCheck     DeploymentStatus = "HEALTH_CHECK"
	DeploymentCompleted       DeploymentStatus = "COMPLETED"
	DeploymentFailed          DeploymentStatus = "FAILED"
	DeploymentRolledBack      DeploymentStatus = "ROLLED_BACK"
)

// DeploymentRecord tracks one environment promotion of a service image.
type DeploymentRecord struct {
	DeploymentID string           `json:"deployment_id"`
	Service      string           `json:"service"`
	SourceEnv    string           `json:"source_env"`
	TargetEnv    string           `json:"target_env"`
	ImageTag     string           `json:"image_tag"`
	PreviousTag  string           `json:"previous_tag,omitempty"`
	Reason       string           `json:"reason,omitempty"`
	Status       DeploymentStatus `json:"status"`
	RequestedBy  string           `json:"requested_by"`
	ApprovalID   string           `json:"approval_id,omitempty"`
	Logs         []string         `json:"logs,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// UserStatus is the off-chain lifecycle state of a user profile.
type UserStatus string

const (
	UserRegistered UserStatus = "REGISTERED"
	UserActive     UserStatus = "ACTIVE"
	UserFrozen     UserStatus = "FROZEN"
	UserDeleted    UserStatus = "DELETED"
)

// OnchainStatus tracks the profile's identity state on chain.
type OnchainStatus string

const (
	OnchainNotRegistered OnchainStatus = "NOT_REGISTERED"
	OnchainActive        OnchainStatus = "ACTIVE"
	OnchainFrozen        OnchainStatus = "FROZEN"
)

// UserProfile is the projected off-chain view of an identity. AccountID
// is the 20-character ledger account id, empty until registration
// commits.
type UserProfile struct {
	ProfileID           string        `json:"profile_id"`
	TenantID            string        `json:"tenant_id"`
	AccountID           string        `json:"account_id,omitempty"`
	DisplayName         string        `json:"display_name,omitempty"`
	CountryCode         string        `json:"country_code,omitempty"`
	Status              UserStatus    `json:"status"`
	OnchainStatus       OnchainStatus `json:"onchain_status"`
	OnchainRegisteredAt *time.Time    `json:"onchain_registered_at,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// Wallet is the projected wallet of a profile. CachedBalance mirrors the
// chain and is advisory; the ledger remains the source of truth.
type Wallet struct {
	WalletID      string     `json:"wallet_id"`
	ProfileID     string     `json:"profile_id"`
	TenantID      string     `json:"tenant_id"`
	CachedBalance int64      `json:"cached_balance"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TransactionRecord is one projected ledger transaction.
type TransactionRecord struct {
	TxID           string    `json:"tx_id"`
	TenantID       string    `json:"tenant_id"`
	Type           string    `json:"type"`
	FromAccount    string    `json:"from_account,omitempty"`
	ToAccount      string    `json:"to_account,omitempty"`
	Amount         int64     `json:"amount"`
	Fee            int64     `json:"fee"`
	Purpose        string    `json:"purpose,omitempty"`
	Category       string    `json:"category,omitempty"`
	ExternalRef    string    `json:"external_ref,omitempty"`
	BlockchainTxID string    `json:"blockchain_tx_id,omitempty"`
	BlockNumber    uint64    `json:"block_number"`
	CreatedAt      time.Time `json:"created_at"`
}

// Notification is a user-facing message produced by projections and
// post-commit reconciliation.
type Notification struct {
	NotificationID string    `json:"notification_id"`
	TenantID       string    `json:"tenant_id"`
	ProfileID      string    `json:"profile_id"`
	Kind           string    `json:"kind"`
	Message        string    `json:"message"`
	CreatedAt      time.Time `json:"created_at"`
}

// EventLogRecord archives one raw chaincode event.
type EventLogRecord struct {
	EventName   string    `json:"event_name"`
	Payload     []byte    `json:"payload,omitempty"`
	FabricTxID  string    `json:"fabric_tx_id"`
	BlockNumber uint64    `json:"block_number"`
	ReceivedAt  time.Time `json:"received_at"`
}
