package fabric

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperledger/fabric-gateway/pkg/client"
	"github.com/hyperledger/fabric-gateway/pkg/identity"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
)

// Event is a committed chaincode event delivered by StreamEvents.
type Event struct {
	BlockNumber uint64 `json:"block_number"`
	TxID        string `json:"tx_id"`
	Name        string `json:"name"`
	Payload     []byte `json:"payload"`
}

// SubmitResult describes a transaction that reached the ledger.
type SubmitResult struct {
	TxID        string `json:"tx_id"`
	BlockNumber uint64 `json:"block_number"`
	Payload     []byte `json:"payload"`
}

// Client wraps one gateway connection for one signing identity. Submissions
// pass through the identity's circuit breaker; evaluations and event
// streaming do not.
type Client struct {
	name    string
	conn    *grpc.ClientConn
	gateway *client.Gateway
	network *client.Network
	breaker *CircuitBreaker
	config  *Config
	logger  *zap.Logger
}

// NewClient dials the identity's peer and connects the gateway. The gRPC
// connection is created once and reused for the client's lifetime.
func NewClient(config *Config, name string, logger *zap.Logger) (*Client, error) {
	idConfig, err := config.Identity(name)
	if err != nil {
		return nil, err
	}

	material, err := config.loadWalletMaterial(name)
	if err != nil {
		return nil, err
	}

	cert, err := identity.CertificateFromPEM(material.certPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing certificate for %s: %w", name, err)
	}

	id, err := identity.NewX509Identity(idConfig.MSPID, cert)
	if err != nil {
		return nil, fmt.Errorf("failed to build identity for %s: %w", name, err)
	}

	key, err := identity.PrivateKeyFromPEM(material.keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key for %s: %w", name, err)
	}

	sign, err := identity.NewPrivateKeySign(key)
	if err != nil {
		return nil, fmt.Errorf("failed to build signer for %s: %w", name, err)
	}

	creds := credentials.NewClientTLSFromCert(material.tlsCAPool, idConfig.TLSServerNameOverride)
	conn, err := grpc.NewClient(idConfig.PeerEndpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, &ConnectionError{Endpoint: idConfig.PeerEndpoint, Cause: err}
	}

	gateway, err := client.Connect(
		id,
		client.WithSign(sign),
		client.WithClientConnection(conn),
		client.WithEvaluateTimeout(15*time.Second),
		client.WithEndorseTimeout(30*time.Second),
		client.WithSubmitTimeout(30*time.Second),
		client.WithCommitStatusTimeout(config.SubmitTimeout),
	)
	if err != nil {
		_ = conn.Close()
		return nil, &ConnectionError{Endpoint: idConfig.PeerEndpoint, Cause: err}
	}

	return &Client{
		name:    name,
		conn:    conn,
		gateway: gateway,
		network: gateway.GetNetwork(config.ChannelName),
		breaker: NewCircuitBreaker(config.BreakerOpenFor, config.BreakerVolume, config.BreakerRateLimit),
		config:  config,
		logger:  logger.With(zap.String("identity", name)),
	}, nil
}

// Name returns the identity name this client signs with.
func (c *Client) Name() string { return c.name }

// Breaker exposes the submit-path circuit breaker for health reporting.
func (c *Client) Breaker() *CircuitBreaker { return c.breaker }

// Close disconnects the gateway and tears down the gRPC connection.
func (c *Client) Close() error {
	if c.gateway != nil {
		c.gateway.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Submit endorses, orders and waits for commit of a chaincode transaction.
// The whole flow is bounded by the configured submit timeout and gated by
// the circuit breaker.
func (c *Client) Submit(ctx context.Context, contractName, function string, args ...string) (*SubmitResult, error) {
	if !c.breaker.Allow() {
		return nil, ErrBreakerOpen
	}

	result, err := c.submit(ctx, contractName, function, args)
	if err != nil {
		c.breaker.RecordFailure()
		return nil, err
	}

	c.breaker.RecordSuccess()
	return result, nil
}

func (c *Client) submit(ctx context.Context, contractName, function string, args []string) (*SubmitResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.SubmitTimeout)
	defer cancel()

	contract := c.network.GetContractWithName(c.config.ChaincodeName, contractName)

	proposal, err := contract.NewProposal(function, client.WithArguments(args...))
	if err != nil {
		return nil, &EndorsementError{Cause: err}
	}
	txID := proposal.TransactionID()

	txn, err := proposal.EndorseWithContext(ctx)
	if err != nil {
		return nil, c.mapSubmitError(txID, err)
	}

	commit, err := txn.SubmitWithContext(ctx)
	if err != nil {
		return nil, c.mapSubmitError(txID, err)
	}

	status, err := commit.StatusWithContext(ctx)
	if err != nil {
		return nil, c.mapSubmitError(txID, err)
	}
	if !status.Successful {
		return nil, &ChaincodeError{
			TxID:    txID,
			Message: fmt.Sprintf("transaction %s failed validation with code %d", txID, int32(status.Code)),
		}
	}

	c.logger.Debug("transaction committed",
		zap.String("tx_id", txID),
		zap.Uint64("block", status.BlockNumber),
		zap.String("contract", contractName),
		zap.String("function", function))

	return &SubmitResult{
		TxID:        txID,
		BlockNumber: status.BlockNumber,
		Payload:     txn.Result(),
	}, nil
}

// Evaluate runs a read-only chaincode query against the peer. Queries do
// not touch the breaker: they are cheap and safely retryable.
func (c *Client) Evaluate(ctx context.Context, contractName, function string, args ...string) ([]byte, error) {
	contract := c.network.GetContractWithName(c.config.ChaincodeName, contractName)

	proposal, err := contract.NewProposal(function, client.WithArguments(args...))
	if err != nil {
		return nil, &ChaincodeError{Message: err.Error(), Cause: err}
	}

	result, err := proposal.EvaluateWithContext(ctx)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Cause: err}
		}
		return nil, &ChaincodeError{Message: err.Error(), Cause: err}
	}
	return result, nil
}

// mapSubmitError translates gateway SDK errors into the package taxonomy.
// A deadline anywhere past endorsement means the outcome is unknown.
func (c *Client) mapSubmitError(txID string, err error) error {
	var endorseErr *client.EndorseError
	var submitErr *client.SubmitError
	var statusErr *client.CommitStatusError

	switch {
	case errors.As(err, &endorseErr):
		if endorseErr.GRPCStatus().Code() == codes.DeadlineExceeded {
			return &TimeoutError{TxID: txID, Cause: err}
		}
		// Endorsement surfaces chaincode failures before ordering; the
		// transaction never reached the ledger.
		return &EndorsementError{TxID: txID, Cause: err}
	case errors.As(err, &submitErr):
		if submitErr.GRPCStatus().Code() == codes.DeadlineExceeded {
			return &TimeoutError{TxID: txID, Cause: err}
		}
		return &ConnectionError{Endpoint: "orderer", Cause: err}
	case errors.As(err, &statusErr):
		// Past submission the transaction may still commit.
		return &TimeoutError{TxID: txID, Cause: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &TimeoutError{TxID: txID, Cause: err}
	default:
		return &ConnectionError{Endpoint: c.name, Cause: err}
	}
}

// StreamEvents delivers committed chaincode events starting at startBlock.
// The stream reconnects after a fixed delay, resuming from the block of
// the last delivered event so nothing is skipped even when that block was
// only partially consumed; consumers must tolerate redelivery of events
// from that block. The returned channel closes when ctx is done.
func (c *Client) StreamEvents(ctx context.Context, startBlock uint64) <-chan *Event {
	out := make(chan *Event)

	go func() {
		defer close(out)

		next := startBlock
		for {
			delivered, err := c.streamOnce(ctx, next, out)
			if delivered > 0 {
				next = delivered
			}
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("event stream interrupted, reconnecting",
				zap.Uint64("resume_block", next),
				zap.Duration("delay", c.config.StreamReconnectDelay),
				zap.Error(err))

			select {
			case <-ctx.Done():
				return
			case <-time.After(c.config.StreamReconnectDelay):
			}
		}
	}()

	return out
}

// streamOnce consumes a single event stream session. It returns the block
// number of the last event delivered, or 0 when none were.
func (c *Client) streamOnce(ctx context.Context, startBlock uint64, out chan<- *Event) (uint64, error) {
	events, err := c.network.ChaincodeEvents(ctx, c.config.ChaincodeName, client.WithStartBlock(startBlock))
	if err != nil {
		return 0, &ConnectionError{Endpoint: c.name, Cause: err}
	}

	var lastBlock uint64
	for event := range events {
		e := &Event{
			BlockNumber: event.BlockNumber,
			TxID:        event.TransactionID,
			Name:        event.EventName,
			Payload:     event.Payload,
		}
		select {
		case out <- e:
			lastBlock = event.BlockNumber
		case <-ctx.Done():
			return lastBlock, ctx.Err()
		}
	}
	return lastBlock, errors.New("event stream closed by peer")
}
