package chain

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/upkeep-automator/internal/config"
	"github.com/smartdevs17/upkeep-automator/internal/metrics"
	"github.com/smartdevs17/upkeep-automator/pkg/utils"
)

// receiptPollInterval is how often pending receipts are polled for
const receiptPollInterval = 500 * time.Millisecond

// EthClient implements Client on top of go-ethereum's ethclient
type EthClient struct {
	config       *config.ChainConfig
	conns        *ConnectionManager
	key          *ecdsa.PrivateKey
	from         common.Address
	deployer     common.Address
	pollInterval time.Duration
	logger       *logrus.Logger
	prometheus   *metrics.PrometheusMetrics

	// Serializes nonce assignment across concurrent submissions
	nonceMu sync.Mutex

	subMu sync.Mutex
	subs  map[chan struct{}]CancelFunc
	wg    sync.WaitGroup
}

// NewEthClient creates a chain client from configuration. A missing signing
// key or deployer address is a configuration error, not a per-call one.
func NewEthClient(cfg *config.ChainConfig, pollInterval time.Duration) (*EthClient, error) {
	if cfg.PrivateKey == "" {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Signing private key is required", "")
	}
	if cfg.DeployerAddress == "" {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Deployer contract address is required", "")
	}
	if !utils.IsValidAddress(cfg.DeployerAddress) {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Invalid deployer contract address", cfg.DeployerAddress)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Invalid signing private key", err.Error())
	}

	return &EthClient{
		config:       cfg,
		conns:        NewConnectionManager(cfg),
		key:          key,
		from:         crypto.PubkeyToAddress(key.PublicKey),
		deployer:     common.HexToAddress(cfg.DeployerAddress),
		pollInterval: pollInterval,
		logger:       utils.GetLogger(),
		subs:         make(map[chan struct{}]CancelFunc),
	}, nil
}

// Connections exposes the underlying connection manager for health reporting
func (c *EthClient) Connections() *ConnectionManager {
	return c.conns
}

// SetMetrics attaches Prometheus metrics for RPC accounting
func (c *EthClient) SetMetrics(prom *metrics.PrometheusMetrics) {
	c.prometheus = prom
	c.conns.SetMetrics(prom)
}

func (c *EthClient) recordRPC(network, method string, err error) {
	if c.prometheus == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.prometheus.RecordRPCRequest(network, method, status)
}

// SignerAddress returns the address transactions are sent from
func (c *EthClient) SignerAddress() common.Address {
	return c.from
}

// EstimateCheckAndExecute estimates gas for an automator's checkAndExecute call
func (c *EthClient) EstimateCheckAndExecute(ctx context.Context, network string, automator common.Address) (uint64, error) {
	client, err := c.conns.GetClient(ctx, network)
	if err != nil {
		return 0, err
	}

	data, err := AutomatorABI().Pack("checkAndExecute")
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeBlockchain, "Failed to pack checkAndExecute", err.Error())
	}

	gas, err := client.EstimateGas(ctx, ethereum.CallMsg{
		From: c.from,
		To:   &automator,
		Data: data,
	})
	c.recordRPC(network, "eth_estimateGas", err)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeBlockchain, "Gas estimation failed", err.Error())
	}

	return gas, nil
}

// FeeData fetches current gas pricing. MaxFeePerGas is only set when the
// network's latest header carries a base fee (EIP-1559).
func (c *EthClient) FeeData(ctx context.Context, network string) (*FeeData, error) {
	client, err := c.conns.GetClient(ctx, network)
	if err != nil {
		return nil, err
	}

	gasPrice, err := client.SuggestGasPrice(ctx)
	c.recordRPC(network, "eth_gasPrice", err)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeBlockchain, "Failed to suggest gas price", err.Error())
	}

	fee := &FeeData{GasPrice: gasPrice}

	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeBlockchain, "Failed to fetch latest header", err.Error())
	}

	if header.BaseFee != nil {
		tip, err := client.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeBlockchain, "Failed to suggest gas tip cap", err.Error())
		}

		// maxFee = 2*baseFee + tip, the usual headroom for base fee drift
		maxFee := new(big.Int).Mul(header.BaseFee, big.NewInt(2))
		maxFee.Add(maxFee, tip)

		fee.MaxFeePerGas = maxFee
		fee.MaxPriorityFeePerGas = tip
	}

	return fee, nil
}

// SubmitCheckAndExecute signs and submits a checkAndExecute transaction
func (c *EthClient) SubmitCheckAndExecute(ctx context.Context, network string, automator common.Address, opts *TxOptions) (common.Hash, error) {
	data, err := AutomatorABI().Pack("checkAndExecute")
	if err != nil {
		return common.Hash{}, utils.NewAppError(utils.ErrCodeBlockchain, "Failed to pack checkAndExecute", err.Error())
	}

	return c.sendTransaction(ctx, network, automator, data, opts)
}

// sendTransaction builds, signs and broadcasts a transaction to the given address
func (c *EthClient) sendTransaction(ctx context.Context, network string, to common.Address, data []byte, opts *TxOptions) (common.Hash, error) {
	client, err := c.conns.GetClient(ctx, network)
	if err != nil {
		return common.Hash{}, err
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return common.Hash{}, utils.NewAppError(utils.ErrCodeBlockchain, "Failed to get chain ID", err.Error())
	}

	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()

	nonce, err := client.PendingNonceAt(ctx, c.from)
	if err != nil {
		return common.Hash{}, utils.NewAppError(utils.ErrCodeBlockchain, "Failed to get pending nonce", err.Error())
	}

	var tx *types.Transaction
	if opts.Type == 2 {
		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: opts.MaxPriorityFeePerGas,
			GasFeeCap: opts.MaxFeePerGas,
			Gas:       opts.GasLimit,
			To:        &to,
			Data:      data,
		})
	} else {
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: opts.GasPrice,
			Gas:      opts.GasLimit,
			To:       &to,
			Data:     data,
		})
	}

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), c.key)
	if err != nil {
		return common.Hash{}, utils.NewAppError(utils.ErrCodeBlockchain, "Failed to sign transaction", err.Error())
	}

	err = client.SendTransaction(ctx, signed)
	c.recordRPC(network, "eth_sendRawTransaction", err)
	if err != nil {
		return common.Hash{}, utils.NewAppError(utils.ErrCodeBlockchain, "Failed to send transaction", err.Error())
	}

	return signed.Hash(), nil
}

// WaitForReceipt polls until the transaction is mined or the context expires
func (c *EthClient) WaitForReceipt(ctx context.Context, network string, txHash common.Hash) (*Receipt, error) {
	client, err := c.conns.GetClient(ctx, network)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := client.TransactionReceipt(ctx, txHash)
		if err == nil {
			return &Receipt{
				TxHash:      txHash,
				BlockNumber: receipt.BlockNumber.Uint64(),
				GasUsed:     receipt.GasUsed,
				Status:      receipt.Status,
			}, nil
		}
		if err != ethereum.NotFound {
			return nil, utils.NewAppError(utils.ErrCodeBlockchain, "Failed to fetch receipt", err.Error())
		}

		select {
		case <-ctx.Done():
			return nil, utils.NewAppError(utils.ErrCodeTimeout,
				"Transaction confirmation timeout", txHash.Hex())
		case <-ticker.C:
		}
	}
}

// DeployAutomator invokes the deployer contract and waits for the deployment
// transaction to be mined
func (c *EthClient) DeployAutomator(ctx context.Context, network string, target common.Address, intervalSeconds int64, owner common.Address) (*Receipt, error) {
	data, err := DeployerABI().Pack("deployAutomator", target, big.NewInt(intervalSeconds), owner)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeBlockchain, "Failed to pack deployAutomator", err.Error())
	}

	client, err := c.conns.GetClient(ctx, network)
	if err != nil {
		return nil, err
	}

	gas, err := client.EstimateGas(ctx, ethereum.CallMsg{
		From: c.from,
		To:   &c.deployer,
		Data: data,
	})
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeBlockchain, "Deployment gas estimation failed", err.Error())
	}

	fee, err := c.FeeData(ctx, network)
	if err != nil {
		return nil, err
	}

	txHash, err := c.sendTransaction(ctx, network, c.deployer, data, BuildTxOptions(fee, gas))
	if err != nil {
		return nil, err
	}

	c.logger.Info("Automator deployment submitted", logrus.Fields{
		"tx_hash": txHash.Hex(),
		"target":  target.Hex(),
		"network": network,
	})

	return c.WaitForReceipt(ctx, network, txHash)
}

// SubscribeAutomatorDeployed watches the deployer contract for AutomatorDeployed events
func (c *EthClient) SubscribeAutomatorDeployed(network string, handler func(AutomatorDeployedEvent)) (CancelFunc, error) {
	event := DeployerABI().Events["AutomatorDeployed"]

	return c.pollLogs(network, c.deployer, event.ID, func(log types.Log) {
		if len(log.Topics) < 3 {
			return
		}

		values, err := DeployerABI().Unpack("AutomatorDeployed", log.Data)
		if err != nil {
			c.logger.Error("Failed to unpack AutomatorDeployed event", logrus.Fields{"error": err})
			return
		}

		interval, ok := values[0].(*big.Int)
		if !ok {
			return
		}

		handler(AutomatorDeployedEvent{
			TargetContract:   common.BytesToAddress(log.Topics[1].Bytes()),
			AutomatorAddress: common.BytesToAddress(log.Topics[2].Bytes()),
			Interval:         interval,
			BlockNumber:      log.BlockNumber,
		})
	})
}

// SubscribeAutomationTriggered watches one automator for AutomationTriggered events
func (c *EthClient) SubscribeAutomationTriggered(network string, automator common.Address, handler func(AutomationTriggeredEvent)) (CancelFunc, error) {
	event := AutomatorABI().Events["AutomationTriggered"]

	return c.pollLogs(network, automator, event.ID, func(log types.Log) {
		values, err := AutomatorABI().Unpack("AutomationTriggered", log.Data)
		if err != nil {
			c.logger.Error("Failed to unpack AutomationTriggered event", logrus.Fields{"error": err})
			return
		}

		timestamp, ok1 := values[0].(*big.Int)
		wasNeeded, ok2 := values[1].(bool)
		if !ok1 || !ok2 {
			return
		}

		handler(AutomationTriggeredEvent{
			Automator:   automator,
			Timestamp:   timestamp,
			WasNeeded:   wasNeeded,
			BlockNumber: log.BlockNumber,
		})
	})
}

// pollLogs runs a filter-log polling loop for one contract/topic pair.
// HTTP RPC endpoints (anvil included) do not support push subscriptions,
// so events are collected by range-scanning new blocks each tick.
func (c *EthClient) pollLogs(network string, address common.Address, topic common.Hash, handle func(types.Log)) (CancelFunc, error) {
	quit := make(chan struct{})

	var once sync.Once
	cancelSub := func() {
		once.Do(func() {
			close(quit)
			c.subMu.Lock()
			delete(c.subs, quit)
			c.subMu.Unlock()
		})
	}

	c.subMu.Lock()
	c.subs[quit] = cancelSub
	c.subMu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		var fromBlock uint64
		initialized := false

		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
			}

			ctx, cancel := context.WithTimeout(context.Background(), c.config.RequestTimeout)
			client, err := c.conns.GetClient(ctx, network)
			if err != nil {
				cancel()
				c.logger.Warn("Log poll connection failed", logrus.Fields{"network": network, "error": err})
				continue
			}

			head, err := client.BlockNumber(ctx)
			if err != nil {
				cancel()
				continue
			}

			if !initialized {
				// Only deliver events emitted after subscription start
				fromBlock = head + 1
				initialized = true
				cancel()
				continue
			}

			if head < fromBlock {
				cancel()
				continue
			}

			logs, err := client.FilterLogs(ctx, ethereum.FilterQuery{
				FromBlock: new(big.Int).SetUint64(fromBlock),
				ToBlock:   new(big.Int).SetUint64(head),
				Addresses: []common.Address{address},
				Topics:    [][]common.Hash{{topic}},
			})
			cancel()
			c.recordRPC(network, "eth_getLogs", err)
			if err != nil {
				c.logger.Warn("Log filter failed", logrus.Fields{"network": network, "error": err})
				continue
			}

			for _, log := range logs {
				handle(log)
			}

			fromBlock = head + 1
		}
	}()

	return cancelSub, nil
}

func (c *EthClient) subscriptionCount() int {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return len(c.subs)
}

// Close cancels all subscriptions and closes RPC connections. Each cancel
// runs through its own sync.Once, so subscription handles returned earlier
// stay safe to call after shutdown.
func (c *EthClient) Close() error {
	c.subMu.Lock()
	cancels := make([]CancelFunc, 0, len(c.subs))
	for _, cancel := range c.subs {
		cancels = append(cancels, cancel)
	}
	c.subMu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}

	c.wg.Wait()
	return c.conns.Close()
}
