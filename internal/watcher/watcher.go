package watcher

import (
	"context"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/upkeep-automator/internal/bus"
	"github.com/smartdevs17/upkeep-automator/internal/chain"
	"github.com/smartdevs17/upkeep-automator/internal/config"
	"github.com/smartdevs17/upkeep-automator/internal/coordinator"
	"github.com/smartdevs17/upkeep-automator/internal/metrics"
	"github.com/smartdevs17/upkeep-automator/internal/models"
	"github.com/smartdevs17/upkeep-automator/internal/storage"
	"github.com/smartdevs17/upkeep-automator/pkg/utils"
)

// Watcher wires on-chain events to the execution coordinator. It listens for
// AutomatorDeployed on the deployer contract of every configured network and
// maintains one AutomationTriggered subscription per deployed automator.
type Watcher struct {
	chainConfig *config.ChainConfig
	storage     storage.Storage
	client      chain.Client
	coordinator *coordinator.Coordinator
	bus         *bus.Bus
	prometheus  *metrics.PrometheusMetrics
	logger      *logrus.Entry

	mu      sync.Mutex
	cancels map[string]chain.CancelFunc
	started bool
}

// NewWatcher wires a watcher from its dependencies
func NewWatcher(chainCfg *config.ChainConfig, store storage.Storage, client chain.Client, coord *coordinator.Coordinator, eventBus *bus.Bus, prom *metrics.PrometheusMetrics) *Watcher {
	return &Watcher{
		chainConfig: chainCfg,
		storage:     store,
		client:      client,
		coordinator: coord,
		bus:         eventBus,
		prometheus:  prom,
		logger:      utils.ComponentLogger("watcher"),
		cancels:     make(map[string]chain.CancelFunc),
	}
}

// Start subscribes to deployment events on every configured network and
// resubscribes triggers for every active upkeep that already has an automator
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return utils.NewAppError(utils.ErrCodeInternal, "Watcher already started", "")
	}
	w.started = true
	w.mu.Unlock()

	for network := range w.chainConfig.Networks {
		net := network
		cancel, err := w.client.SubscribeAutomatorDeployed(net, func(event chain.AutomatorDeployedEvent) {
			w.onAutomatorDeployed(net, event)
		})
		if err != nil {
			w.Stop()
			return err
		}
		w.addCancel("deployed:"+net, cancel)
	}

	active := true
	upkeeps, err := w.storage.GetUpkeeps(ctx, models.UpkeepFilter{IsActive: &active})
	if err != nil {
		w.Stop()
		return err
	}

	resubscribed := 0
	for _, upkeep := range upkeeps {
		if upkeep.AutomatorAddress == "" {
			continue
		}
		if err := w.watchAutomator(upkeep.Network, upkeep.AutomatorAddress); err != nil {
			w.logger.Error("Failed to resubscribe automator", logrus.Fields{
				"automator": upkeep.AutomatorAddress,
				"network":   upkeep.Network,
				"error":     err,
			})
			continue
		}
		resubscribed++
	}

	w.logger.Info("Watcher started", logrus.Fields{
		"networks":     len(w.chainConfig.Networks),
		"resubscribed": resubscribed,
	})

	return nil
}

// onAutomatorDeployed records the automator address on its upkeep and starts
// watching the new automator for triggers
func (w *Watcher) onAutomatorDeployed(network string, event chain.AutomatorDeployedEvent) {
	target := utils.NormalizeAddress(event.TargetContract.Hex())
	automator := utils.NormalizeAddress(event.AutomatorAddress.Hex())

	log := w.logger.WithFields(logrus.Fields{
		"network":   network,
		"contract":  target,
		"automator": automator,
	})
	log.Info("Automator deployed")

	ctx, cancel := context.WithTimeout(context.Background(), w.chainConfig.RequestTimeout)
	defer cancel()

	if err := w.storage.SetAutomatorAddress(ctx, target, automator); err != nil {
		// A repeated event for the same automator is harmless; anything
		// else is a real inconsistency.
		if utils.IsCode(err, utils.ErrCodeConflict) {
			log.Warn("Automator address conflicts with stored value", logrus.Fields{"error": err})
		} else if utils.IsCode(err, utils.ErrCodeNotFound) {
			log.Warn("Deployment event for unknown upkeep contract")
		} else {
			log.Error("Failed to store automator address", logrus.Fields{"error": err})
		}
		return
	}

	if w.bus != nil {
		w.bus.Publish(bus.TopicAutomatorDeployed, event)
	}

	if err := w.watchAutomator(network, automator); err != nil {
		log.Error("Failed to subscribe automator triggers", logrus.Fields{"error": err})
	}
}

// watchAutomator starts an AutomationTriggered subscription for one automator.
// Starting a watch that already exists is a no-op.
func (w *Watcher) watchAutomator(network, automatorAddress string) error {
	key := "trigger:" + utils.ExecutionKey(network, automatorAddress)

	w.mu.Lock()
	if _, exists := w.cancels[key]; exists {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	automator := common.HexToAddress(automatorAddress)
	cancel, err := w.client.SubscribeAutomationTriggered(network, automator, func(event chain.AutomationTriggeredEvent) {
		w.onAutomationTriggered(network, automatorAddress, event)
	})
	if err != nil {
		return err
	}

	w.addCancel(key, cancel)
	return nil
}

// onAutomationTriggered hands the trigger to the coordinator. The
// coordinator's registry absorbs duplicate triggers for the same automator.
func (w *Watcher) onAutomationTriggered(network, automatorAddress string, event chain.AutomationTriggeredEvent) {
	w.logger.Debug("Automation triggered", logrus.Fields{
		"network":    network,
		"automator":  automatorAddress,
		"was_needed": event.WasNeeded,
		"block":      event.BlockNumber,
	})

	go func() {
		result := w.coordinator.Execute(context.Background(), network, automatorAddress, 0)
		if result.Outcome == coordinator.OutcomeFailed {
			w.logger.Warn("Triggered execution failed", logrus.Fields{
				"network":   network,
				"automator": automatorAddress,
				"error":     result.Err,
			})
		}
	}()
}

func (w *Watcher) addCancel(key string, cancel chain.CancelFunc) {
	w.mu.Lock()
	w.cancels[key] = cancel
	count := len(w.cancels)
	watched := w.triggerCountLocked()
	w.mu.Unlock()

	if w.prometheus != nil {
		w.prometheus.UpdateSubscriptionsActive(count)
		w.prometheus.UpdateUpkeepsWatched(watched)
	}
}

// triggerCountLocked counts trigger subscriptions; callers hold w.mu
func (w *Watcher) triggerCountLocked() int {
	count := 0
	for key := range w.cancels {
		if strings.HasPrefix(key, "trigger:") {
			count++
		}
	}
	return count
}

// Stop cancels every active subscription
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancels := w.cancels
	w.cancels = make(map[string]chain.CancelFunc)
	w.started = false
	w.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}

	if w.prometheus != nil {
		w.prometheus.UpdateSubscriptionsActive(0)
		w.prometheus.UpdateUpkeepsWatched(0)
	}

	w.logger.Info("Watcher stopped", logrus.Fields{"subscriptions": len(cancels)})
}

// GetStats returns watcher runtime statistics
func (w *Watcher) GetStats() map[string]interface{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return map[string]interface{}{
		"subscriptions": len(w.cancels),
		"started":       w.started,
	}
}

// IsHealthy reports whether the watcher is running
func (w *Watcher) IsHealthy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}
