package fabric

import (
	"sync"

	"go.uber.org/zap"
)

// Pool holds one connected client per configured identity. Clients are
// dialed lazily on first use and reused for the process lifetime.
type Pool struct {
	mu      sync.Mutex
	config  *Config
	logger  *zap.Logger
	clients map[string]*Client

	// dial is replaceable in tests.
	dial func(config *Config, name string, logger *zap.Logger) (*Client, error)
}

// NewPool creates an empty pool over the configured identities.
func NewPool(config *Config, logger *zap.Logger) *Pool {
	return &Pool{
		config:  config,
		logger:  logger,
		clients: make(map[string]*Client),
		dial:    NewClient,
	}
}

// Client returns the connected client for the named identity, dialing it
// on first use.
func (p *Pool) Client(name string) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[name]; ok {
		return c, nil
	}

	c, err := p.dial(p.config, name, p.logger)
	if err != nil {
		return nil, err
	}
	p.clients[name] = c
	p.logger.Info("gateway client connected", zap.String("identity", name))
	return c, nil
}

// BreakerStats returns the breaker snapshot for every connected identity.
func (p *Pool) BreakerStats() map[string]BreakerStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := make(map[string]BreakerStats, len(p.clients))
	for name, c := range p.clients {
		stats[name] = c.Breaker().Stats()
	}
	return stats
}

// Close disconnects every client. The first error is returned; the rest
// are logged.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var first error
	for name, c := range p.clients {
		if err := c.Close(); err != nil {
			if first == nil {
				first = err
			} else {
				p.logger.Warn("failed to close gateway client",
					zap.String("identity", name), zap.Error(err))
			}
		}
		delete(p.clients, name)
	}
	return first
}
