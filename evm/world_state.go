package evm

// WorldState is an interface to access and manipulate the state an
// execution operates on. The state is a collection of accounts, each with
// a balance, a nonce, optional code and storage. All modifications are
// buffered in a journal, which can be marked with a snapshot and rolled
// back to it.
type WorldState interface {
	AccountExists(Address) bool

	GetBalance(Address) Value
	SetBalance(Address, Value)

	GetNonce(Address) uint64
	SetNonce(Address, uint64)

	GetCode(Address) Code
	GetCodeHash(Address) Hash
	GetCodeSize(Address) int
	SetCode(Address, Code)

	GetStorage(Address, Key) Word
	SetStorage(Address, Key, Word)

	// CreateSnapshot marks the current state; RestoreSnapshot rolls all
	// modifications performed since the mark back. Snapshots are ordered:
	// restoring an older snapshot invalidates every newer one.
	CreateSnapshot() Snapshot
	RestoreSnapshot(Snapshot)
}

// Snapshot is an opaque marker of a recoverable point in time, either of a
// WorldState journal or of an engine execution context. A snapshot is
// exclusively owned by the component that created it: it is consumed by a
// restore and discarded on commit.
type Snapshot int
