// Package state provides the in-memory world state the fuzzing core
// executes against: a set of accounts with balances, nonces, code and
// storage, journaled so that arbitrary spans of modifications can be
// rolled back through cheap integer snapshots.
package state

import (
	"maps"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/trailofbits/optik/evm"
)

type account struct {
	balance  evm.Value
	nonce    uint64
	code     evm.Code
	codeHash evm.Hash
	storage  map[evm.Key]evm.Word
}

// World is a journaled implementation of evm.WorldState. The zero value
// is not usable; use NewWorld.
type World struct {
	accounts map[evm.Address]*account
	journal  []journalEntry
}

var _ evm.WorldState = (*World)(nil)

func NewWorld() *World {
	return &World{accounts: map[evm.Address]*account{}}
}

func (w *World) AccountExists(addr evm.Address) bool {
	_, ok := w.accounts[addr]
	return ok
}

func (w *World) GetBalance(addr evm.Address) evm.Value {
	if account, ok := w.accounts[addr]; ok {
		return account.balance
	}
	return evm.Value{}
}

func (w *World) SetBalance(addr evm.Address, balance evm.Value) {
	account := w.touch(addr)
	w.journal = append(w.journal, balanceChange{addr, account.balance})
	account.balance = balance
}

func (w *World) GetNonce(addr evm.Address) uint64 {
	if account, ok := w.accounts[addr]; ok {
		return account.nonce
	}
	return 0
}

func (w *World) SetNonce(addr evm.Address, nonce uint64) {
	account := w.touch(addr)
	w.journal = append(w.journal, nonceChange{addr, account.nonce})
	account.nonce = nonce
}

func (w *World) GetCode(addr evm.Address) evm.Code {
	if account, ok := w.accounts[addr]; ok {
		return account.code
	}
	return nil
}

func (w *World) GetCodeHash(addr evm.Address) evm.Hash {
	if account, ok := w.accounts[addr]; ok {
		return account.codeHash
	}
	return evm.Hash{}
}

func (w *World) GetCodeSize(addr evm.Address) int {
	if account, ok := w.accounts[addr]; ok {
		return len(account.code)
	}
	return 0
}

func (w *World) SetCode(addr evm.Address, code evm.Code) {
	account := w.touch(addr)
	w.journal = append(w.journal, codeChange{addr, account.code, account.codeHash})
	account.code = code
	account.codeHash = CodeHash(code)
}

func (w *World) GetStorage(addr evm.Address, key evm.Key) evm.Word {
	if account, ok := w.accounts[addr]; ok {
		return account.storage[key]
	}
	return evm.Word{}
}

func (w *World) SetStorage(addr evm.Address, key evm.Key, value evm.Word) {
	account := w.touch(addr)
	w.journal = append(w.journal, storageChange{addr, key, account.storage[key]})
	account.storage[key] = value
}

// CreateSnapshot marks the current journal position. The snapshot is
// invalidated by restoring it or any older snapshot; committing is simply
// forgetting the snapshot.
func (w *World) CreateSnapshot() evm.Snapshot {
	return evm.Snapshot(len(w.journal))
}

// RestoreSnapshot undoes every modification recorded since the snapshot
// was taken, in reverse order.
func (w *World) RestoreSnapshot(snapshot evm.Snapshot) {
	mark := int(snapshot)
	if mark < 0 || mark > len(w.journal) {
		panic("state: restore of invalid snapshot")
	}
	for i := len(w.journal) - 1; i >= mark; i-- {
		w.journal[i].revert(w)
	}
	w.journal = w.journal[:mark]
}

// Clone produces an independent copy of the world with an empty journal.
// Clones are what workers replay against; the base world stays pristine.
func (w *World) Clone() *World {
	res := NewWorld()
	for addr, acc := range w.accounts {
		res.accounts[addr] = &account{
			balance:  acc.balance,
			nonce:    acc.nonce,
			code:     acc.code,
			codeHash: acc.codeHash,
			storage:  maps.Clone(acc.storage),
		}
	}
	return res
}

// touch returns the account for addr, creating it if needed. Creation is
// journaled so that a rollback removes the account again.
func (w *World) touch(addr evm.Address) *account {
	if acc, ok := w.accounts[addr]; ok {
		return acc
	}
	acc := &account{storage: map[evm.Key]evm.Word{}}
	w.accounts[addr] = acc
	w.journal = append(w.journal, accountCreated{addr})
	return acc
}

// CodeHash derives the canonical identifier of a contract: the keccak-256
// hash of its byte code.
func CodeHash(code evm.Code) evm.Hash {
	return evm.Hash(crypto.Keccak256Hash(code))
}

// CreateContract installs contract code at the given address and
// initializes the account's nonce to one, following the account scheme of
// deployed contracts. Existing nonces are kept.
func (w *World) CreateContract(addr evm.Address, code evm.Code) {
	w.SetCode(addr, code)
	if w.GetNonce(addr) == 0 {
		w.SetNonce(addr, 1)
	}
}
