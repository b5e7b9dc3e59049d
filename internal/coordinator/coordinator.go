package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/upkeep-automator/internal/bus"
	"github.com/smartdevs17/upkeep-automator/internal/chain"
	"github.com/smartdevs17/upkeep-automator/internal/config"
	"github.com/smartdevs17/upkeep-automator/internal/metrics"
	"github.com/smartdevs17/upkeep-automator/internal/models"
	"github.com/smartdevs17/upkeep-automator/internal/storage"
	"github.com/smartdevs17/upkeep-automator/pkg/utils"
)

// Outcome classifies how an execution attempt ended
type Outcome string

const (
	OutcomeConfirmed     Outcome = "confirmed"
	OutcomeSkipped       Outcome = "skipped"
	OutcomeNotAssociated Outcome = "not_associated"
	OutcomeFailed        Outcome = "failed"
)

// Result is the structured outcome of one execution attempt. Execute never
// returns an error; failures are carried here.
type Result struct {
	Outcome     Outcome     `json:"outcome"`
	TxHash      string      `json:"tx_hash,omitempty"`
	BlockNumber uint64      `json:"block_number,omitempty"`
	GasUsed     uint64      `json:"gas_used,omitempty"`
	Err         error       `json:"-"`
}

// ExecutionEvent is published on the bus after every non-skipped attempt
type ExecutionEvent struct {
	Network          string
	AutomatorAddress string
	ContractAddress  string
	Outcome          Outcome
	TxHash           string
}

// Coordinator runs checkAndExecute attempts with per-automator single-flight,
// fee strategy, submission/confirmation deadlines and append-only history
// recording.
type Coordinator struct {
	config     *config.CoordinatorConfig
	storage    storage.Storage
	client     chain.Client
	registry   *InFlightRegistry
	tracker    *metrics.ExecutionTracker
	prometheus *metrics.PrometheusMetrics
	bus        *bus.Bus
	logger     *logrus.Entry
}

// NewCoordinator wires a coordinator from its dependencies
func NewCoordinator(cfg *config.CoordinatorConfig, store storage.Storage, client chain.Client, tracker *metrics.ExecutionTracker, prom *metrics.PrometheusMetrics, eventBus *bus.Bus) *Coordinator {
	return &Coordinator{
		config:     cfg,
		storage:    store,
		client:     client,
		registry:   NewInFlightRegistry(),
		tracker:    tracker,
		prometheus: prom,
		bus:        eventBus,
		logger:     utils.ComponentLogger("coordinator"),
	}
}

// Registry exposes the in-flight registry for stats reporting
func (c *Coordinator) Registry() *InFlightRegistry {
	return c.registry
}

// Execute runs one checkAndExecute attempt for the given automator. At most
// one attempt per network:automator pair runs at a time; a concurrent call
// returns a skipped result immediately. All failures are recovered into the
// returned Result.
func (c *Coordinator) Execute(ctx context.Context, network, automatorAddress string, retryCount int) (result Result) {
	log := c.logger.WithFields(logrus.Fields{
		"network":   network,
		"automator": automatorAddress,
		"retry":     retryCount,
	})

	defer func() {
		if r := recover(); r != nil {
			log.Error("Execution panicked", logrus.Fields{"panic": r})
			result = Result{Outcome: OutcomeFailed, Err: fmt.Errorf("execution panic: %v", r)}
		}
	}()

	key := utils.ExecutionKey(network, automatorAddress)
	if !c.registry.Add(key) {
		log.Debug("Execution already in flight, skipping")
		if c.prometheus != nil {
			c.prometheus.RecordExecutionSkipped()
		}
		return Result{Outcome: OutcomeSkipped}
	}
	defer c.registry.Remove(key)

	if c.prometheus != nil {
		c.prometheus.ExecutionsInFlight.Inc()
		defer c.prometheus.ExecutionsInFlight.Dec()
	}

	attempt := c.tracker.RecordAttempt()
	started := time.Now()
	defer func() {
		duration := time.Since(started)
		c.tracker.RecordDuration(duration)
		if c.prometheus != nil {
			c.prometheus.RecordExecution(network, string(result.Outcome), duration)
		}
		c.tracker.Housekeep(attempt)

		if c.bus != nil && result.Outcome != OutcomeSkipped {
			c.bus.Publish(bus.TopicAutomatorExecution, ExecutionEvent{
				Network:          network,
				AutomatorAddress: automatorAddress,
				Outcome:          result.Outcome,
				TxHash:           result.TxHash,
			})
		}
	}()

	upkeep, err := c.storage.GetUpkeepByAutomator(ctx, automatorAddress)
	if err != nil {
		if utils.IsCode(err, utils.ErrCodeNotFound) {
			log.Warn("Automator is not associated with any upkeep")
			c.tracker.RecordFailure()
			return Result{Outcome: OutcomeNotAssociated, Err: err}
		}
		log.Error("Upkeep lookup failed", logrus.Fields{"error": err})
		c.tracker.RecordFailure()
		return Result{Outcome: OutcomeFailed, Err: err}
	}

	log = log.WithField("contract", upkeep.ContractAddress)
	automator := common.HexToAddress(automatorAddress)

	gasEstimate, err := c.client.EstimateCheckAndExecute(ctx, network, automator)
	if err != nil {
		return c.fail(ctx, log, upkeep, automatorAddress, "", err)
	}

	fee, err := chain.FetchFeeData(ctx, c.client, network,
		c.config.FeeRetryAttempts, c.config.FeeRetryDelay, c.recordFeeRetry)
	if err != nil {
		if c.prometheus != nil {
			c.prometheus.RecordFeeDataFailure()
		}
		return c.fail(ctx, log, upkeep, automatorAddress, "", err)
	}

	opts := chain.BuildTxOptions(fee, gasEstimate)
	log.Info("Submitting checkAndExecute", logrus.Fields{
		"tx_type":   opts.Type,
		"gas_limit": opts.GasLimit,
	})

	submitCtx, cancelSubmit := context.WithTimeout(ctx, c.config.SubmitTimeout)
	txHash, err := c.client.SubmitCheckAndExecute(submitCtx, network, automator, opts)
	cancelSubmit()
	if err != nil {
		return c.fail(ctx, log, upkeep, automatorAddress, "", err)
	}

	hash := txHash.Hex()
	log = log.WithField("tx_hash", hash)

	c.appendHistory(ctx, log, &models.HistoryEntry{
		UpkeepID:         upkeep.ID,
		ContractAddress:  upkeep.ContractAddress,
		AutomatorAddress: automatorAddress,
		TxHash:           hash,
		ActivityType:     models.ActivityCheckExecute,
		Status:           models.StatusPending,
	})

	confirmCtx, cancelConfirm := context.WithTimeout(ctx, c.config.ConfirmTimeout)
	receipt, err := c.client.WaitForReceipt(confirmCtx, network, txHash)
	cancelConfirm()
	if err != nil {
		return c.fail(ctx, log, upkeep, automatorAddress, hash, err)
	}

	if receipt.Status == 0 {
		c.tracker.RecordFailure()
		gasUsed := fmt.Sprintf("%d", receipt.GasUsed)
		c.appendHistory(ctx, log, &models.HistoryEntry{
			UpkeepID:         upkeep.ID,
			ContractAddress:  upkeep.ContractAddress,
			AutomatorAddress: automatorAddress,
			TxHash:           hash,
			BlockNumber:      &receipt.BlockNumber,
			GasUsed:          gasUsed,
			ActivityType:     models.ActivityCheckExecute,
			Status:           models.StatusReverted,
		})
		log.Warn("Execution transaction reverted")
		return Result{
			Outcome:     OutcomeFailed,
			TxHash:      hash,
			BlockNumber: receipt.BlockNumber,
			GasUsed:     receipt.GasUsed,
			Err:         utils.NewAppError(utils.ErrCodeExecution, "Transaction reverted", hash),
		}
	}

	c.tracker.RecordSuccess(receipt.GasUsed)

	if err := c.storage.RecordCheck(ctx, upkeep.ID, time.Now()); err != nil {
		log.Warn("Failed to record upkeep check", logrus.Fields{"error": err})
	}

	c.appendHistory(ctx, log, &models.HistoryEntry{
		UpkeepID:         upkeep.ID,
		ContractAddress:  upkeep.ContractAddress,
		AutomatorAddress: automatorAddress,
		TxHash:           hash,
		BlockNumber:      &receipt.BlockNumber,
		GasUsed:          fmt.Sprintf("%d", receipt.GasUsed),
		ActivityType:     models.ActivityCheckExecute,
		Status:           models.StatusSuccess,
		UpkeepPerformed:  true,
	})

	log.Info("Execution confirmed", logrus.Fields{
		"block":    receipt.BlockNumber,
		"gas_used": receipt.GasUsed,
	})

	return Result{
		Outcome:     OutcomeConfirmed,
		TxHash:      hash,
		BlockNumber: receipt.BlockNumber,
		GasUsed:     receipt.GasUsed,
	}
}

func (c *Coordinator) recordFeeRetry() {
	if c.prometheus != nil {
		c.prometheus.RecordFeeDataRetry()
	}
}

// fail records the failure in the tracker and history and builds the result.
// txHash is empty when the failure happened before submission.
func (c *Coordinator) fail(ctx context.Context, log *logrus.Entry, upkeep *models.UpkeepContract, automatorAddress, txHash string, err error) Result {
	c.tracker.RecordFailure()
	log.Error("Execution failed", logrus.Fields{"error": err})

	c.appendHistory(ctx, log, &models.HistoryEntry{
		UpkeepID:         upkeep.ID,
		ContractAddress:  upkeep.ContractAddress,
		AutomatorAddress: automatorAddress,
		TxHash:           txHash,
		ActivityType:     models.ActivityCheckExecute,
		Status:           models.StatusError,
		ErrorMessage:     err.Error(),
	})

	return Result{Outcome: OutcomeFailed, TxHash: txHash, Err: err}
}

// appendHistory writes a history row, logging instead of failing the
// execution when the write itself errors
func (c *Coordinator) appendHistory(ctx context.Context, log *logrus.Entry, entry *models.HistoryEntry) {
	if err := c.storage.AppendHistory(ctx, entry); err != nil {
		log.Error("Failed to append history entry", logrus.Fields{
			"status": string(entry.Status),
			"error":  err,
		})
	}
}

// GetStats returns coordinator runtime statistics
func (c *Coordinator) GetStats() map[string]interface{} {
	snap := c.tracker.Snapshot()
	return map[string]interface{}{
		"in_flight":      c.registry.Len(),
		"attempts":       snap.Attempts,
		"successes":      snap.Successes,
		"failures":       snap.Failures,
		"gas_used_total": snap.GasUsedTotal,
		"last_duration":  snap.LastDuration.String(),
		"avg_duration":   snap.AvgDuration.String(),
	}
}

// IsHealthy reports whether the coordinator can reach its dependencies
func (c *Coordinator) IsHealthy() bool {
	return c.storage.IsHealthy()
}
