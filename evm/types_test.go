package evm

import (
	"testing"

	"github.com/holiman/uint256"
)

func TestNewValue_ArgumentsArePlacedBigEndian(t *testing.T) {
	tests := map[string]struct {
		args []uint64
		want *uint256.Int
	}{
		"none":   {nil, uint256.NewInt(0)},
		"one":    {[]uint64{12}, uint256.NewInt(12)},
		"two":    {[]uint64{1, 2}, new(uint256.Int).Add(new(uint256.Int).Lsh(uint256.NewInt(1), 64), uint256.NewInt(2))},
		"shifts": {[]uint64{1, 0, 0, 0}, new(uint256.Int).Lsh(uint256.NewInt(1), 192)},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			got := NewValue(test.args...).ToUint256()
			if got.Cmp(test.want) != 0 {
				t.Errorf("wanted %v, got %v", test.want, got)
			}
		})
	}
}

func TestNewValue_TooManyArgumentsPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("expected a panic for more than 4 arguments")
		}
	}()
	NewValue(1, 2, 3, 4, 5)
}

func TestValue_TextRoundTrip(t *testing.T) {
	value := NewValue(42)
	text, err := value.MarshalText()
	if err != nil {
		t.Fatalf("failed to marshal value: %v", err)
	}
	var restored Value
	if err := restored.UnmarshalText(text); err != nil {
		t.Fatalf("failed to unmarshal value: %v", err)
	}
	if restored != value {
		t.Errorf("round trip changed value: wanted %v, got %v", value, restored)
	}
}

func TestAddress_UnmarshalRejectsMalformedText(t *testing.T) {
	tests := map[string]string{
		"missing-prefix": "0011223344556677889900112233445566778899",
		"odd-length":     "0x001",
		"wrong-size":     "0x0011",
		"not-hex":        "0xzz11223344556677889900112233445566778899",
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			var addr Address
			if err := addr.UnmarshalText([]byte(input)); err == nil {
				t.Errorf("expected %q to be rejected", input)
			}
		})
	}
}

func TestTransaction_EqualIsValueBased(t *testing.T) {
	base := Transaction{
		Sender:    Address{1},
		Recipient: Address{2},
		Input:     Data{0xab, 0xcd},
		Value:     NewValue(7),
		GasLimit:  100_000,
	}
	same := Transaction{
		Sender:    Address{1},
		Recipient: Address{2},
		Input:     Data{0xab, 0xcd},
		Value:     NewValue(7),
		GasLimit:  100_000,
	}
	if !base.Equal(same) {
		t.Errorf("transactions with identical fields must be equal")
	}

	modified := base
	modified.Input = Data{0xab, 0xce}
	if base.Equal(modified) {
		t.Errorf("transactions with different input must not be equal")
	}
}

func TestStatusStrings(t *testing.T) {
	if got, want := Success.String(), "success"; got != want {
		t.Errorf("wanted %s, got %s", want, got)
	}
	if got, want := OutgoingCall.String(), "outgoing_call"; got != want {
		t.Errorf("wanted %s, got %s", want, got)
	}
	if got, want := ExecutionStatus(99).String(), "ExecutionStatus(99)"; got != want {
		t.Errorf("wanted %s, got %s", want, got)
	}
}

func TestRevertStatusesAreDistinctPerLevel(t *testing.T) {
	// Reverted reports a whole transaction, StepReverted a single frame;
	// both print the same but each carries its own type.
	var transaction ExecutionStatus = Reverted
	var step StepStatus = StepReverted
	if got, want := transaction.String(), "reverted"; got != want {
		t.Errorf("wanted %s, got %s", want, got)
	}
	if got, want := step.String(), "reverted"; got != want {
		t.Errorf("wanted %s, got %s", want, got)
	}
}
