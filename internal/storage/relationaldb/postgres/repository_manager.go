package postgres

import (
	"context"

	"github.com/qirat-network/qiratd/internal/storage/relationaldb"
)

// RepositoryManager bundles the PostgreSQL repositories over one database
type RepositoryManager struct {
	database *PostgresDatabase

	outbox      *OutboxRepository
	projector   *ProjectorStateRepository
	idempotency *IdempotencyRepository
	approvals   *ApprovalRepository
	deployments *DeploymentRepository
	readModel   *ReadModelRepository
}

// NewRepositoryManager opens the database and constructs the repositories
func NewRepositoryManager(ctx context.Context, config *relationaldb.Config) (*RepositoryManager, error) {
	db, err := NewDatabase(config)
	if err != nil {
		return nil, err
	}

	if err := db.Open(ctx); err != nil {
		return nil, err
	}

	pool := db.DB()
	return &RepositoryManager{
		database:    db,
		outbox:      NewOutboxRepository(pool),
		projector:   NewProjectorStateRepository(pool),
		idempotency: NewIdempotencyRepository(pool),
		approvals:   NewApprovalRepository(pool),
		deployments: NewDeploymentRepository(pool),
		readModel:   NewReadModelRepository(pool),
	}, nil
}

// Close closes the underlying database
func (m *RepositoryManager) Close(ctx context.Context) error {
	return m.database.Close(ctx)
}

func (m *RepositoryManager) Database() relationaldb.Database { return m.database }

func (m *RepositoryManager) Outbox() relationaldb.OutboxRepository { return m.outbox }

func (m *RepositoryManager) ProjectorState() relationaldb.ProjectorStateRepository {
	return m.projector
}

func (m *RepositoryManager) Idempotency() relationaldb.IdempotencyRepository {
	return m.idempotency
}

func (m *RepositoryManager) Approvals() relationaldb.ApprovalRepository { return m.approvals }

func (m *RepositoryManager) Deployments() relationaldb.DeploymentRepository {
	return m.deployments
}

func (m *RepositoryManager) ReadModel() relationaldb.ReadModelRepository { return m.readModel }

var _ relationaldb.RepositoryManager = (*RepositoryManager)(nil)
