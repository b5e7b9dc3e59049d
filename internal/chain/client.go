package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// CancelFunc stops a running subscription and releases its resources
type CancelFunc func()

// FeeData carries current network gas pricing. MaxFeePerGas is nil on
// networks without EIP-1559 support; GasPrice is always populated.
type FeeData struct {
	GasPrice             *big.Int `json:"gas_price"`
	MaxFeePerGas         *big.Int `json:"max_fee_per_gas,omitempty"`
	MaxPriorityFeePerGas *big.Int `json:"max_priority_fee_per_gas,omitempty"`
}

// TxOptions describes the pricing and gas limit of an outgoing transaction
type TxOptions struct {
	Type                 uint8    `json:"type"` // 0 legacy, 2 EIP-1559
	GasLimit             uint64   `json:"gas_limit"`
	GasPrice             *big.Int `json:"gas_price,omitempty"`
	MaxFeePerGas         *big.Int `json:"max_fee_per_gas,omitempty"`
	MaxPriorityFeePerGas *big.Int `json:"max_priority_fee_per_gas,omitempty"`
}

// Receipt is the subset of a transaction receipt the automator cares about
type Receipt struct {
	TxHash      common.Hash `json:"tx_hash"`
	BlockNumber uint64      `json:"block_number"`
	GasUsed     uint64      `json:"gas_used"`
	Status      uint64      `json:"status"`
}

// AutomatorDeployedEvent mirrors the deployer contract's AutomatorDeployed event
type AutomatorDeployedEvent struct {
	TargetContract   common.Address
	AutomatorAddress common.Address
	Interval         *big.Int
	BlockNumber      uint64
}

// AutomationTriggeredEvent mirrors an automator's AutomationTriggered event
type AutomationTriggeredEvent struct {
	Automator   common.Address
	Timestamp   *big.Int
	WasNeeded   bool
	BlockNumber uint64
}

// Client is the narrow chain capability the coordinator and deployment flow
// depend on. The ethclient adapter implements it; tests use fakes.
type Client interface {
	// Execution path
	EstimateCheckAndExecute(ctx context.Context, network string, automator common.Address) (uint64, error)
	FeeData(ctx context.Context, network string) (*FeeData, error)
	SubmitCheckAndExecute(ctx context.Context, network string, automator common.Address, opts *TxOptions) (common.Hash, error)
	WaitForReceipt(ctx context.Context, network string, txHash common.Hash) (*Receipt, error)

	// Deployment path
	DeployAutomator(ctx context.Context, network string, target common.Address, intervalSeconds int64, owner common.Address) (*Receipt, error)

	// Event subscriptions; the returned CancelFunc must always be called
	SubscribeAutomatorDeployed(network string, handler func(AutomatorDeployedEvent)) (CancelFunc, error)
	SubscribeAutomationTriggered(network string, automator common.Address, handler func(AutomationTriggeredEvent)) (CancelFunc, error)

	Close() error
}
