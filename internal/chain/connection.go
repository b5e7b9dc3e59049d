package chain

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/upkeep-automator/internal/config"
	"github.com/smartdevs17/upkeep-automator/internal/metrics"
	"github.com/smartdevs17/upkeep-automator/pkg/utils"
)

// ConnectionManager maintains one RPC client per configured network,
// dialing lazily and reconnecting when a health check fails.
type ConnectionManager struct {
	config     *config.ChainConfig
	logger     *logrus.Logger
	prometheus *metrics.PrometheusMetrics

	mu          sync.RWMutex
	clients     map[string]*ethclient.Client
	lastChecked map[string]time.Time
	stats       ConnectionStats
}

// ConnectionStats holds connection statistics
type ConnectionStats struct {
	TotalRequests  uint64    `json:"total_requests"`
	FailedRequests uint64    `json:"failed_requests"`
	Reconnects     uint64    `json:"reconnects"`
	Networks       []string  `json:"networks"`
	LastHealthLoop time.Time `json:"last_health_check"`
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager(cfg *config.ChainConfig) *ConnectionManager {
	networks := make([]string, 0, len(cfg.Networks))
	for network := range cfg.Networks {
		networks = append(networks, network)
	}

	return &ConnectionManager{
		config:      cfg,
		logger:      utils.GetLogger(),
		clients:     make(map[string]*ethclient.Client),
		lastChecked: make(map[string]time.Time),
		stats:       ConnectionStats{Networks: networks},
	}
}

// SetMetrics attaches Prometheus metrics for connection error reporting
func (cm *ConnectionManager) SetMetrics(prom *metrics.PrometheusMetrics) {
	cm.prometheus = prom
}

func (cm *ConnectionManager) recordError(network, errorType string) {
	if cm.prometheus != nil {
		cm.prometheus.RecordConnectionError(network, errorType)
	}
}

// GetClient returns a connected client for the given network, dialing if needed
func (cm *ConnectionManager) GetClient(ctx context.Context, network string) (*ethclient.Client, error) {
	cm.mu.RLock()
	client := cm.clients[network]
	lastChecked := cm.lastChecked[network]
	cm.mu.RUnlock()

	if client != nil {
		// Re-verify stale connections before handing them out
		if time.Since(lastChecked) > time.Minute {
			if err := cm.quickHealthCheck(ctx, client); err != nil {
				cm.logger.Warn("Client health check failed, reconnecting", logrus.Fields{
					"network": network, "error": err,
				})
				cm.recordError(network, "health_check_failed")
				return cm.reconnect(ctx, network)
			}
			cm.mu.Lock()
			cm.lastChecked[network] = time.Now()
			cm.mu.Unlock()
		}
		cm.mu.Lock()
		cm.stats.TotalRequests++
		cm.mu.Unlock()
		return client, nil
	}

	return cm.connect(ctx, network)
}

// connect establishes a new connection for a network
func (cm *ConnectionManager) connect(ctx context.Context, network string) (*ethclient.Client, error) {
	url, ok := cm.config.Networks[network]
	if !ok {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration,
			"No RPC endpoint configured for network", network)
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	// Another caller may have connected while we waited for the lock
	if client := cm.clients[network]; client != nil {
		return client, nil
	}

	attempts := cm.config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		cm.logger.Info("Attempting RPC connection", logrus.Fields{
			"network": network, "url": url, "attempt": attempt + 1,
		})

		client, err := cm.dialWithTimeout(ctx, url)
		if err == nil {
			if err = cm.quickHealthCheck(ctx, client); err == nil {
				cm.clients[network] = client
				cm.lastChecked[network] = time.Now()
				cm.logger.Info("Connected to RPC node", logrus.Fields{"network": network, "url": url})
				return client, nil
			}
			client.Close()
		}

		lastErr = err
		cm.stats.FailedRequests++
		cm.recordError(network, "dial_failed")

		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(cm.config.RetryDelay):
			}
		}
	}

	return nil, utils.NewAppError(utils.ErrCodeConnection,
		"Failed to connect to RPC node", network+": "+lastErr.Error())
}

// reconnect drops a stale connection and dials again
func (cm *ConnectionManager) reconnect(ctx context.Context, network string) (*ethclient.Client, error) {
	cm.mu.Lock()
	if client := cm.clients[network]; client != nil {
		client.Close()
		delete(cm.clients, network)
	}
	cm.stats.Reconnects++
	cm.mu.Unlock()

	return cm.connect(ctx, network)
}

// dialWithTimeout creates a connection with timeout
func (cm *ConnectionManager) dialWithTimeout(ctx context.Context, url string) (*ethclient.Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, cm.config.RequestTimeout)
	defer cancel()

	return ethclient.DialContext(dialCtx, url)
}

// quickHealthCheck performs a quick health check
func (cm *ConnectionManager) quickHealthCheck(ctx context.Context, client *ethclient.Client) error {
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := client.ChainID(checkCtx)
	return err
}

// HealthCheck verifies connectivity for every configured network
func (cm *ConnectionManager) HealthCheck(ctx context.Context) error {
	for network := range cm.config.Networks {
		client, err := cm.GetClient(ctx, network)
		if err != nil {
			return err
		}
		if _, err := client.BlockNumber(ctx); err != nil {
			return utils.NewAppError(utils.ErrCodeConnection,
				"Failed to get latest block", network+": "+err.Error())
		}
	}

	cm.mu.Lock()
	cm.stats.LastHealthLoop = time.Now()
	cm.mu.Unlock()

	return nil
}

// IsHealthy reports whether at least one network connection is alive
func (cm *ConnectionManager) IsHealthy() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.clients) > 0
}

// Stats returns connection statistics
func (cm *ConnectionManager) Stats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.stats
}

// Close closes all network connections
func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	for network, client := range cm.clients {
		client.Close()
		delete(cm.clients, network)
	}

	cm.logger.Info("Connection manager closed")
	return nil
}
