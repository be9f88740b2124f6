package transfer

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// State 为转账在流水线中的阶段。
type State string

const (
	StateRequested        State = "requested"
	StatePolicyChecked    State = "policy_checked"
	StateSimulated        State = "simulated"
	StateSubmitted        State = "submitted"
	StateConfirmed        State = "confirmed"
	StateRejected         State = "rejected"
	StateSimulationFailed State = "simulation_failed"
	StateSubmissionFailed State = "submission_failed"
)

// Request 描述一次转账请求。Value 单位为 wei，nil 视为 0。
// MaxValueOverride 非 nil 时仅替代本次请求的策略限额。
// Data 仅用于通过同一流水线发起的合约调用。
type Request struct {
	To               common.Address
	Value            *uint256.Int
	MaxValueOverride *uint256.Int
	Data             []byte
	// GasFloor 为本次请求的最小 gas，与全局 MinGas 取较大值。
	GasFloor uint64
}

// SimulationResult 为 gas 预估结果。节点拒绝时 OK 为 false 且 Error 保留节点原始信息。
type SimulationResult struct {
	OK           bool    `json:"ok"`
	EstimatedGas *uint64 `json:"estimated_gas,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// Result 为一次 Send 的结果。失败时仍会返回已到达的状态与已知信息。
type Result struct {
	RequestID  string           `json:"request_id"`
	State      State            `json:"state"`
	Simulation SimulationResult `json:"simulation"`
	TxHash     *common.Hash     `json:"tx_hash,omitempty"`
	Receipt    *types.Receipt   `json:"receipt,omitempty"`
}
