// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gov

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// ChainSource provides the chain access the governance subsystem needs.  The
// node's chainstate, transaction index, and mempool sit behind this interface
// so the package itself never touches disk or network directly.
type ChainSource interface {
	// BestHeight returns the height of the current chain tip.
	BestHeight() (int32, error)

	// BlockAt returns the block at the given main chain height.  The
	// returned block must report that height via its Height method.
	BlockAt(height int32) (*btcutil.Block, error)

	// HeightOf returns the main chain height of the given block hash.
	HeightOf(hash *chainhash.Hash) (int32, error)

	// FetchOutput returns the output referenced by the given outpoint
	// regardless of whether it is spent.  This is a transaction index
	// lookup and is used to resolve the owner and amount of voting utxos.
	FetchOutput(op wire.OutPoint) (*wire.TxOut, error)

	// UnspentOutput returns the output referenced by the given outpoint
	// if it is unspent in the current utxo set, or nil if it is spent or
	// unknown.
	UnspentOutput(op wire.OutPoint) (*wire.TxOut, error)

	// MempoolSpent returns whether the given outpoint is consumed by a
	// transaction currently in the mempool.
	MempoolSpent(op wire.OutPoint) bool

	// Notifications returns a channel of chain events.  The channel
	// delivers BlockConnected and BlockDisconnected values in chain
	// order; other values are ignored.
	Notifications() <-chan interface{}
}

// BlockConnected is a notification for when a block is attached to the main
// chain.  The block must carry its height.
type BlockConnected struct {
	Block *btcutil.Block
}

// BlockDisconnected is a notification for when a block is removed from the
// main chain during a reorganization.
type BlockDisconnected struct {
	Block *btcutil.Block
}
