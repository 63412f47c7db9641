// Package corpus implements the interchange format and the on-disk store
// for transaction sequences shared with an external coverage-guided
// fuzzer. Sequences are stored one per JSON file; the wire schema is
// fixed and decoding is strict, so a sequence written by one session can
// be replayed bit-for-bit by the next.
package corpus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/trailofbits/optik/evm"
)

// Sequence is an ordered list of transactions replayed against a fresh
// deployment of the target contract.
type Sequence []evm.Transaction

// MalformedCorpusError reports a corpus file that could not be decoded.
// Malformed files are skipped during loading rather than aborting the
// session, so the error carries enough context to point at the culprit.
type MalformedCorpusError struct {
	File  string // the file the sequence was read from, may be empty
	Cause error
}

func (e *MalformedCorpusError) Error() string {
	if e.File == "" {
		return fmt.Sprintf("malformed corpus sequence: %v", e.Cause)
	}
	return fmt.Sprintf("malformed corpus file %s: %v", e.File, e.Cause)
}

func (e *MalformedCorpusError) Unwrap() error {
	return e.Cause
}

// wireTransaction is the JSON schema of a single transaction. Required
// fields are pointers so that their absence can be told apart from a
// zero value during strict decoding.
type wireTransaction struct {
	Sender    *evm.Address    `json:"sender"`
	Recipient *evm.Address    `json:"recipient"`
	CallData  *hexutil.Bytes  `json:"callData"`
	Value     *hexutil.Big    `json:"value"`
	GasLimit  *hexutil.Uint64 `json:"gasLimit"`

	BlockDelay uint64 `json:"blockDelay,omitempty"`
	TimeDelay  uint64 `json:"timeDelay,omitempty"`
}

// Decode parses a sequence from its JSON representation. Unknown fields
// and missing required fields are rejected.
func Decode(data []byte) (Sequence, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()

	var wire []wireTransaction
	if err := decoder.Decode(&wire); err != nil {
		return nil, &MalformedCorpusError{Cause: err}
	}

	sequence := make(Sequence, 0, len(wire))
	for i, cur := range wire {
		tx, err := cur.toTransaction()
		if err != nil {
			return nil, &MalformedCorpusError{
				Cause: fmt.Errorf("transaction %d: %w", i, err),
			}
		}
		sequence = append(sequence, tx)
	}
	return sequence, nil
}

// Encode renders a sequence into its JSON representation. Encoding is
// deterministic, equal sequences produce byte-identical output.
func Encode(sequence Sequence) ([]byte, error) {
	wire := make([]wireTransaction, 0, len(sequence))
	for i := range sequence {
		wire = append(wire, toWire(&sequence[i]))
	}
	return json.MarshalIndent(wire, "", "  ")
}

func (w *wireTransaction) toTransaction() (evm.Transaction, error) {
	if w.Sender == nil {
		return evm.Transaction{}, fmt.Errorf("missing sender")
	}
	if w.Recipient == nil {
		return evm.Transaction{}, fmt.Errorf("missing recipient")
	}
	if w.CallData == nil {
		return evm.Transaction{}, fmt.Errorf("missing callData")
	}
	if w.Value == nil {
		return evm.Transaction{}, fmt.Errorf("missing value")
	}
	if w.GasLimit == nil {
		return evm.Transaction{}, fmt.Errorf("missing gasLimit")
	}
	if *w.GasLimit > math.MaxInt64 {
		return evm.Transaction{}, fmt.Errorf("gasLimit %d out of range", *w.GasLimit)
	}
	value := (*big.Int)(w.Value)
	if value.Sign() < 0 || value.BitLen() > 256 {
		return evm.Transaction{}, fmt.Errorf("value %v out of range", value)
	}
	result := evm.Transaction{
		Sender:    *w.Sender,
		Recipient: *w.Recipient,
		Input:     evm.Data(*w.CallData),
		GasLimit:  evm.Gas(*w.GasLimit),
		Block: evm.BlockContext{
			NumberDelay:    w.BlockDelay,
			TimestampDelay: w.TimeDelay,
		},
	}
	value.FillBytes(result.Value[:])
	return result, nil
}

func toWire(tx *evm.Transaction) wireTransaction {
	sender := tx.Sender
	recipient := tx.Recipient
	callData := hexutil.Bytes(tx.Input)
	if callData == nil {
		callData = hexutil.Bytes{}
	}
	value := hexutil.Big(*tx.Value.ToBig())
	gasLimit := hexutil.Uint64(tx.GasLimit)
	return wireTransaction{
		Sender:     &sender,
		Recipient:  &recipient,
		CallData:   &callData,
		Value:      &value,
		GasLimit:   &gasLimit,
		BlockDelay: tx.Block.NumberDelay,
		TimeDelay:  tx.Block.TimestampDelay,
	}
}
