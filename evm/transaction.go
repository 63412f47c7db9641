package evm

import (
	"bytes"
	"fmt"
)

// Transaction summarizes the parameters of one call into the fuzzed
// contract. Instances are treated as immutable once constructed; identity
// is value based, two transactions with equal fields are interchangeable
// for replay and deduplication purposes.
type Transaction struct {
	Sender    Address // the account issuing the call
	Recipient Address // the contract being called
	Input     Data    // the call data passed to the contract
	Value     Value   // the amount of currency transferred with the call
	GasLimit  Gas     // the maximum amount of gas the call may consume
	Block     BlockContext
}

// BlockContext carries the block environment adjustments a transaction is
// executed under. Delays are increments relative to the previous
// transaction of the sequence, mirroring the corpus schema of the
// external fuzzer.
type BlockContext struct {
	NumberDelay    uint64
	TimestampDelay uint64
}

// Equal reports whether two transactions carry identical fields.
func (t Transaction) Equal(o Transaction) bool {
	return t.Sender == o.Sender &&
		t.Recipient == o.Recipient &&
		bytes.Equal(t.Input, o.Input) &&
		t.Value == o.Value &&
		t.GasLimit == o.GasLimit &&
		t.Block == o.Block
}

func (t Transaction) String() string {
	return fmt.Sprintf("tx{%v -> %v, value %v, gas %d, data 0x%x}",
		t.Sender, t.Recipient, t.Value, t.GasLimit, []byte(t.Input))
}

// ExecutionStatus describes how the execution of one transaction ended.
type ExecutionStatus int

const (
	Success              ExecutionStatus = iota // terminated with STOP or RETURN
	Reverted                                    // terminated with REVERT, state was rolled back
	NumExecutionStatuses                        // not an actual status
)

func (s ExecutionStatus) String() string {
	switch s {
	case Success:
		return "success"
	case Reverted:
		return "reverted"
	default:
		return fmt.Sprintf("ExecutionStatus(%d)", s)
	}
}

// ExecutionResult summarizes the outcome of running one transaction.
type ExecutionResult struct {
	Status       ExecutionStatus
	Output       Data  // return data, set on success
	RevertReason Data  // revert payload, set on revert
	GasUsed      Gas   // gas consumed by the execution
	Logs         []Log // events emitted, empty if the execution reverted
}
