package chain

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/upkeep-automator/pkg/utils"
)

// FetchFeeData retrieves current fee data with bounded retry: one initial
// attempt plus up to maxRetries retries with a fixed delay between attempts.
// The final failure propagates to the caller. Each scheduled retry invokes
// every onRetry hook.
func FetchFeeData(ctx context.Context, client Client, network string, maxRetries int, delay time.Duration, onRetry ...func()) (*FeeData, error) {
	logger := utils.GetLogger()

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		fee, err := client.FeeData(ctx, network)
		if err == nil {
			return fee, nil
		}
		lastErr = err

		if attempt == maxRetries {
			break
		}

		for _, hook := range onRetry {
			hook()
		}
		logger.Warn("Fee data fetch failed, retrying", logrus.Fields{
			"network": network,
			"attempt": attempt + 1,
			"error":   err.Error(),
		})

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, utils.NewAppError(utils.ErrCodeBlockchain,
		"Failed to fetch fee data", network+": "+lastErr.Error())
}

// BuildTxOptions derives transaction pricing from fee data. Presence of
// MaxFeePerGas selects an EIP-1559 (type 2) transaction; otherwise a legacy
// (type 0) flat gas price is used. Either way the gas limit gets a 20%
// buffer over the estimate, rounded down.
func BuildTxOptions(fee *FeeData, gasEstimate uint64) *TxOptions {
	gasLimit := gasEstimate + gasEstimate/5

	if fee.MaxFeePerGas != nil {
		return &TxOptions{
			Type:                 2,
			GasLimit:             gasLimit,
			MaxFeePerGas:         fee.MaxFeePerGas,
			MaxPriorityFeePerGas: fee.MaxPriorityFeePerGas,
		}
	}

	return &TxOptions{
		Type:     0,
		GasLimit: gasLimit,
		GasPrice: fee.GasPrice,
	}
}
