package automation

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/upkeep-automator/internal/bus"
	"github.com/smartdevs17/upkeep-automator/internal/chain"
	"github.com/smartdevs17/upkeep-automator/internal/config"
	"github.com/smartdevs17/upkeep-automator/internal/metrics"
	"github.com/smartdevs17/upkeep-automator/internal/models"
	"github.com/smartdevs17/upkeep-automator/internal/storage"
	"github.com/smartdevs17/upkeep-automator/pkg/utils"
)

// DefaultInterval is the automation interval applied when a request omits one
const DefaultInterval int64 = 300

// CreateUpkeepRequest is the payload for registering a new upkeep contract
type CreateUpkeepRequest struct {
	ContractAddress string `json:"contractAddress" validate:"required,startswith=0x"`
	Name            string `json:"name" validate:"required,min=2"`
	Network         string `json:"network"`
	Owner           string `json:"owner" validate:"required,startswith=0x"`
	Interval        int64  `json:"interval" validate:"omitempty,gt=0"`
}

// Service owns the registration and deployment flow: persist the upkeep
// record, invoke the deployer contract, and record the registration in
// history. The automator address itself arrives later via the
// AutomatorDeployed event.
type Service struct {
	chainConfig *config.ChainConfig
	storage     storage.Storage
	client      chain.Client
	bus         *bus.Bus
	prometheus  *metrics.PrometheusMetrics
	validate    *validator.Validate
	logger      *logrus.Entry
}

// NewService wires an automation service from its dependencies
func NewService(chainCfg *config.ChainConfig, store storage.Storage, client chain.Client, eventBus *bus.Bus, prom *metrics.PrometheusMetrics) *Service {
	return &Service{
		chainConfig: chainCfg,
		storage:     store,
		client:      client,
		bus:         eventBus,
		prometheus:  prom,
		validate:    validator.New(),
		logger:      utils.ComponentLogger("automation"),
	}
}

// RegisterUpkeep validates the request, persists the upkeep record, then
// deploys its automator contract. A duplicate contract address returns the
// existing record with a conflict error and never touches the chain.
// Deployment failure propagates but the persisted record is not rolled back.
func (s *Service) RegisterUpkeep(ctx context.Context, req *CreateUpkeepRequest) (*models.UpkeepContract, error) {
	if req.Network == "" {
		req.Network = s.chainConfig.DefaultNetwork
	}
	if req.Interval == 0 {
		req.Interval = DefaultInterval
	}

	if err := s.validate.Struct(req); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Invalid registration request", err.Error())
	}
	if !utils.IsValidAddress(req.ContractAddress) {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Invalid contract address", req.ContractAddress)
	}
	if !utils.IsValidAddress(req.Owner) {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Invalid owner address", req.Owner)
	}
	if _, ok := s.chainConfig.Networks[req.Network]; !ok {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Unknown network", req.Network)
	}

	contractAddress := utils.NormalizeAddress(req.ContractAddress)

	existing, err := s.storage.GetUpkeepByAddress(ctx, contractAddress)
	if err == nil {
		return existing, utils.NewAppError(utils.ErrCodeConflict,
			"Upkeep contract already registered", contractAddress)
	}
	if !utils.IsCode(err, utils.ErrCodeNotFound) {
		return nil, err
	}

	now := time.Now()
	upkeep := &models.UpkeepContract{
		ID:              uuid.New().String(),
		ContractAddress: contractAddress,
		Name:            req.Name,
		Network:         req.Network,
		Owner:           utils.NormalizeAddress(req.Owner),
		Interval:        req.Interval,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.storage.CreateUpkeep(ctx, upkeep); err != nil {
		return nil, err
	}

	s.appendHistory(ctx, &models.HistoryEntry{
		UpkeepID:        upkeep.ID,
		ContractAddress: upkeep.ContractAddress,
		ActivityType:    models.ActivityRegister,
		Status:          models.StatusSuccess,
	})

	if s.prometheus != nil {
		s.prometheus.RecordUpkeepRegistered()
	}
	if s.bus != nil {
		s.bus.Publish(bus.TopicContractRegistered, upkeep)
	}

	s.logger.Info("Upkeep registered, deploying automator", logrus.Fields{
		"contract": upkeep.ContractAddress,
		"network":  upkeep.Network,
		"interval": upkeep.Interval,
	})

	receipt, err := s.client.DeployAutomator(ctx, upkeep.Network,
		common.HexToAddress(upkeep.ContractAddress), upkeep.Interval,
		common.HexToAddress(upkeep.Owner))
	if err != nil {
		if s.prometheus != nil {
			s.prometheus.RecordDeploymentFailure()
		}
		s.logger.Error("Automator deployment failed", logrus.Fields{
			"contract": upkeep.ContractAddress,
			"error":    err,
		})
		return upkeep, err
	}

	if s.prometheus != nil {
		s.prometheus.RecordAutomatorDeployed()
	}

	s.logger.Info("Automator deployment mined", logrus.Fields{
		"contract": upkeep.ContractAddress,
		"tx_hash":  receipt.TxHash.Hex(),
		"block":    receipt.BlockNumber,
	})

	return upkeep, nil
}

// GetUpkeep returns one upkeep by contract address
func (s *Service) GetUpkeep(ctx context.Context, contractAddress string) (*models.UpkeepContract, error) {
	if !utils.IsValidAddress(contractAddress) {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Invalid contract address", contractAddress)
	}
	return s.storage.GetUpkeepByAddress(ctx, utils.NormalizeAddress(contractAddress))
}

// ListUpkeeps returns upkeeps matching the filter, newest first
func (s *Service) ListUpkeeps(ctx context.Context, filter models.UpkeepFilter) ([]*models.UpkeepContract, error) {
	return s.storage.GetUpkeeps(ctx, filter)
}

// GetHistory returns history entries matching the filter, newest first
func (s *Service) GetHistory(ctx context.Context, filter models.HistoryFilter) ([]*models.HistoryEntry, error) {
	return s.storage.GetHistory(ctx, filter)
}

// RecordFunding appends a FUND history row for the given upkeep
func (s *Service) RecordFunding(ctx context.Context, contractAddress, txHash, linkAmount string) error {
	upkeep, err := s.storage.GetUpkeepByAddress(ctx, utils.NormalizeAddress(contractAddress))
	if err != nil {
		return err
	}

	entry := &models.HistoryEntry{
		UpkeepID:         upkeep.ID,
		ContractAddress:  upkeep.ContractAddress,
		AutomatorAddress: upkeep.AutomatorAddress,
		TxHash:           txHash,
		LinkAmount:       linkAmount,
		ActivityType:     models.ActivityFund,
		Status:           models.StatusSuccess,
	}
	return s.storage.AppendHistory(ctx, entry)
}

// SetActive pauses or resumes an upkeep
func (s *Service) SetActive(ctx context.Context, contractAddress string, active bool) error {
	if !utils.IsValidAddress(contractAddress) {
		return utils.NewAppError(utils.ErrCodeValidation, "Invalid contract address", contractAddress)
	}
	return s.storage.SetUpkeepActive(ctx, utils.NormalizeAddress(contractAddress), active)
}

func (s *Service) appendHistory(ctx context.Context, entry *models.HistoryEntry) {
	if err := s.storage.AppendHistory(ctx, entry); err != nil {
		s.logger.Error("Failed to append history entry", logrus.Fields{
			"activity": string(entry.ActivityType),
			"error":    err,
		})
	}
}
