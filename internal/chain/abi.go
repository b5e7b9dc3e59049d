package chain

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// automatorABIJSON covers the per-upkeep automator contract surface
const automatorABIJSON = `[
	{
		"type": "function",
		"name": "checkAndExecute",
		"inputs": [],
		"outputs": [],
		"stateMutability": "nonpayable"
	},
	{
		"type": "event",
		"name": "AutomationTriggered",
		"inputs": [
			{"name": "timestamp", "type": "uint256", "indexed": false},
			{"name": "wasNeeded", "type": "bool", "indexed": false}
		],
		"anonymous": false
	}
]`

// deployerABIJSON covers the automator deployer contract surface
const deployerABIJSON = `[
	{
		"type": "function",
		"name": "deployAutomator",
		"inputs": [
			{"name": "targetContract", "type": "address"},
			{"name": "intervalSeconds", "type": "uint256"},
			{"name": "owner", "type": "address"}
		],
		"outputs": [{"name": "automator", "type": "address"}],
		"stateMutability": "nonpayable"
	},
	{
		"type": "event",
		"name": "AutomatorDeployed",
		"inputs": [
			{"name": "targetContract", "type": "address", "indexed": true},
			{"name": "automator", "type": "address", "indexed": true},
			{"name": "interval", "type": "uint256", "indexed": false}
		],
		"anonymous": false
	}
]`

var (
	abiOnce      sync.Once
	automatorABI abi.ABI
	deployerABI  abi.ABI
)

func loadABIs() {
	abiOnce.Do(func() {
		var err error
		automatorABI, err = abi.JSON(strings.NewReader(automatorABIJSON))
		if err != nil {
			panic("invalid automator ABI: " + err.Error())
		}
		deployerABI, err = abi.JSON(strings.NewReader(deployerABIJSON))
		if err != nil {
			panic("invalid deployer ABI: " + err.Error())
		}
	})
}

// AutomatorABI returns the parsed automator contract ABI
func AutomatorABI() abi.ABI {
	loadABIs()
	return automatorABI
}

// DeployerABI returns the parsed deployer contract ABI
func DeployerABI() abi.ABI {
	loadABIs()
	return deployerABI
}
