package state

import "github.com/trailofbits/optik/evm"

// journalEntry is one reversible modification of the world state. Entries
// are appended as mutations happen and replayed backwards on rollback.
type journalEntry interface {
	revert(*World)
}

type balanceChange struct {
	account evm.Address
	prev    evm.Value
}

func (c balanceChange) revert(w *World) {
	w.accounts[c.account].balance = c.prev
}

type nonceChange struct {
	account evm.Address
	prev    uint64
}

func (c nonceChange) revert(w *World) {
	w.accounts[c.account].nonce = c.prev
}

type codeChange struct {
	account  evm.Address
	prev     evm.Code
	prevHash evm.Hash
}

func (c codeChange) revert(w *World) {
	account := w.accounts[c.account]
	account.code = c.prev
	account.codeHash = c.prevHash
}

type storageChange struct {
	account evm.Address
	key     evm.Key
	prev    evm.Word
}

func (c storageChange) revert(w *World) {
	w.accounts[c.account].storage[c.key] = c.prev
}

type accountCreated struct {
	account evm.Address
}

func (c accountCreated) revert(w *World) {
	delete(w.accounts, c.account)
}
