// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gov

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

const coin = btcutil.Amount(btcutil.SatoshiPerBitcoin)

// testParams returns the governance parameters the package tests run under:
// a 100 block superblock period, one coin per vote, and short cutoffs.
func testParams() *Params {
	return &Params{
		ChainParams:       &chaincfg.MainNetParams,
		Superblock:        100,
		GovernanceBlock:   1,
		ProposalCutoff:    20,
		VotingCutoff:      10,
		ProposalFee:       10 * coin,
		ProposalMinAmount: 1 * coin,
		ProposalMaxAmount: 1000 * coin,
		VoteMinUtxoAmount: 1 * coin,
		VoteBalance:       1 * coin,
		BlockSubsidy: func(height int32) btcutil.Amount {
			return 150 * coin
		},
	}
}

// mockChain is an in-memory ChainSource.  Outputs registered through fund are
// visible to the transaction index immediately; spentness tracks the inputs
// of connected blocks.
type mockChain struct {
	mu           sync.Mutex
	blocks       map[int32]*btcutil.Block
	heights      map[chainhash.Hash]int32
	best         int32
	outputs      map[wire.OutPoint]*wire.TxOut
	spent        map[wire.OutPoint]struct{}
	mempoolSpent map[wire.OutPoint]struct{}
	ntfns        chan interface{}
}

func newMockChain() *mockChain {
	return &mockChain{
		blocks:       make(map[int32]*btcutil.Block),
		heights:      make(map[chainhash.Hash]int32),
		outputs:      make(map[wire.OutPoint]*wire.TxOut),
		spent:        make(map[wire.OutPoint]struct{}),
		mempoolSpent: make(map[wire.OutPoint]struct{}),
		ntfns:        make(chan interface{}, 16),
	}
}

func (c *mockChain) BestHeight() (int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.best, nil
}

func (c *mockChain) BlockAt(height int32) (*btcutil.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	block, ok := c.blocks[height]
	if !ok {
		return nil, fmt.Errorf("no block at height %d", height)
	}
	return block, nil
}

func (c *mockChain) HeightOf(hash *chainhash.Hash) (int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	height, ok := c.heights[*hash]
	if !ok {
		return 0, fmt.Errorf("unknown block %v", hash)
	}
	return height, nil
}

func (c *mockChain) FetchOutput(op wire.OutPoint) (*wire.TxOut, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out, ok := c.outputs[op]
	if !ok {
		return nil, fmt.Errorf("unknown output %v", op)
	}
	return out, nil
}

func (c *mockChain) UnspentOutput(op wire.OutPoint) (*wire.TxOut, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.spent[op]; ok {
		return nil, nil
	}
	out, ok := c.outputs[op]
	if !ok {
		return nil, nil
	}
	return out, nil
}

func (c *mockChain) MempoolSpent(op wire.OutPoint) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.mempoolSpent[op]
	return ok
}

func (c *mockChain) Notifications() <-chan interface{} {
	return c.ntfns
}

// addBlock stores a block and applies its spends to the mock utxo view
// without touching governance state.
func (c *mockChain) addBlock(block *btcutil.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()

	height := block.Height()
	c.blocks[height] = block
	c.heights[*block.Hash()] = height
	if height > c.best {
		c.best = height
	}
	for _, tx := range block.Transactions() {
		txHash := tx.Hash()
		for i, out := range tx.MsgTx().TxOut {
			op := wire.OutPoint{Hash: *txHash, Index: uint32(i)}
			c.outputs[op] = out
		}
		for _, txIn := range tx.MsgTx().TxIn {
			c.spent[txIn.PreviousOutPoint] = struct{}{}
		}
	}
}

// removeBlock reverts addBlock's utxo view changes for a disconnect.
func (c *mockChain) removeBlock(block *btcutil.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()

	height := block.Height()
	delete(c.blocks, height)
	delete(c.heights, *block.Hash())
	if c.best == height {
		c.best = height - 1
	}
	for _, tx := range block.Transactions() {
		for _, txIn := range tx.MsgTx().TxIn {
			delete(c.spent, txIn.PreviousOutPoint)
		}
	}
}

// testHarness wires a governance instance to a mock chain and provides
// builders for funded utxos, proposal and vote transactions, and blocks.
type testHarness struct {
	t      *testing.T
	params *Params
	chain  *mockChain
	gov    *Governance

	keyCounter  byte
	utxoCounter uint32
}

func newTestHarness(t *testing.T) *testHarness {
	return newTestHarnessWithParams(t, testParams())
}

func newTestHarnessWithParams(t *testing.T, params *Params) *testHarness {
	chain := newMockChain()
	return &testHarness{
		t:      t,
		params: params,
		chain:  chain,
		gov:    New(chain, params),
	}
}

// newKey returns a deterministic private key.
func (h *testHarness) newKey() *btcec.PrivateKey {
	h.keyCounter++
	var b [32]byte
	b[31] = h.keyCounter
	key, _ := btcec.PrivKeyFromBytes(b[:])
	return key
}

// address returns the p2pkh address string for a key.
func (h *testHarness) address(key *btcec.PrivateKey) string {
	pkHash := btcutil.Hash160(key.PubKey().SerializeCompressed())
	addr, err := btcutil.NewAddressPubKeyHash(pkHash, h.params.ChainParams)
	require.NoError(h.t, err)
	return addr.EncodeAddress()
}

// fund registers an unspent p2pkh output controlled by key and returns its
// outpoint.  The output exists in the transaction index but no block; it
// stands in for coins confirmed before the test range.
func (h *testHarness) fund(key *btcec.PrivateKey,
	amount btcutil.Amount) wire.OutPoint {

	h.utxoCounter++
	var hash chainhash.Hash
	binary.LittleEndian.PutUint32(hash[:4], h.utxoCounter)
	hash[31] = 0xfd
	op := wire.OutPoint{Hash: hash, Index: 0}

	script := h.p2pkhScript(key)
	h.chain.mu.Lock()
	h.chain.outputs[op] = wire.NewTxOut(int64(amount), script)
	h.chain.mu.Unlock()
	return op
}

func (h *testHarness) p2pkhScript(key *btcec.PrivateKey) []byte {
	pkHash := btcutil.Hash160(key.PubKey().SerializeCompressed())
	addr, err := btcutil.NewAddressPubKeyHash(pkHash, h.params.ChainParams)
	require.NoError(h.t, err)
	script, err := txscript.PayToAddrScript(addr)
	require.NoError(h.t, err)
	return script
}

// opReturnScript builds the OP_RETURN carrier script for a payload.
func opReturnScript(t *testing.T, payload []byte) []byte {
	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_RETURN).AddData(payload).Script()
	require.NoError(t, err)
	return script
}

// proposalTx builds a transaction carrying the serialized proposal.
func (h *testHarness) proposalTx(p *Proposal) *wire.MsgTx {
	var buf bytes.Buffer
	require.NoError(h.t, p.Serialize(&buf))

	feeKey := h.newKey()
	feeOp := h.fund(feeKey, h.params.ProposalFee)
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(&feeOp, nil, nil))
	tx.AddTxOut(wire.NewTxOut(0, opReturnScript(h.t, buf.Bytes())))
	return tx
}

// voteTx builds a transaction carrying a signed vote for the proposal on
// behalf of utxo, which must be controlled by key.  The vote's vin hash
// binds it to the transaction's only input.
func (h *testHarness) voteTx(proposal chainhash.Hash, choice VoteType,
	utxo wire.OutPoint, key *btcec.PrivateKey) (*wire.MsgTx, *Vote) {

	feeKey := h.newKey()
	feeOp := h.fund(feeKey, 1*coin)
	v := NewVote(proposal, choice, utxo, MakeVinHash(feeOp))
	require.NoError(h.t, v.Sign(key))

	var buf bytes.Buffer
	require.NoError(h.t, v.Serialize(&buf))

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(&feeOp, nil, nil))
	tx.AddTxOut(wire.NewTxOut(0, opReturnScript(h.t, buf.Bytes())))
	return tx, v
}

// spendTx builds a plain transaction consuming the given outpoint.
func (h *testHarness) spendTx(op wire.OutPoint) *wire.MsgTx {
	key := h.newKey()
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(&op, nil, nil))
	tx.AddTxOut(wire.NewTxOut(int64(1*coin), h.p2pkhScript(key)))
	return tx
}

// coinbaseTx builds a coinbase shaped transaction unique to the height.
func (h *testHarness) coinbaseTx(height int32) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	prevout := wire.OutPoint{Index: wire.MaxPrevOutIndex}
	script := make([]byte, 8)
	binary.LittleEndian.PutUint32(script, uint32(height))
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: prevout,
		SignatureScript:  script,
		Sequence:         wire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(wire.NewTxOut(0, nil))
	return tx
}

// makeBlock assembles a block at the given height containing a coinbase plus
// the given transactions.  Block time advances one minute per height so votes
// in later blocks carry later times.
func (h *testHarness) makeBlock(height int32, txs ...*wire.MsgTx) *btcutil.Block {
	msg := &wire.MsgBlock{
		Header: wire.BlockHeader{
			Version:   1,
			Timestamp: time.Unix(1600000000+int64(height)*60, 0),
			Bits:      0x1d00ffff,
			Nonce:     uint32(height),
		},
	}
	msg.AddTransaction(h.coinbaseTx(height))
	for _, tx := range txs {
		msg.AddTransaction(tx)
	}
	block := btcutil.NewBlock(msg)
	block.SetHeight(height)
	return block
}

// connect stores a block in the mock chain and processes it live.
func (h *testHarness) connect(block *btcutil.Block) {
	h.chain.addBlock(block)
	h.gov.ProcessBlock(block, true)
}

// disconnect undoes a block and reverts the mock chain view.
func (h *testHarness) disconnect(block *btcutil.Block) {
	h.gov.UndoBlock(block)
	h.chain.removeBlock(block)
}

// fillChain stores empty blocks for every height in [from, to] that has no
// block yet, so the loader can scan a contiguous range.
func (h *testHarness) fillChain(from, to int32) {
	for height := from; height <= to; height++ {
		h.chain.mu.Lock()
		_, ok := h.chain.blocks[height]
		h.chain.mu.Unlock()
		if !ok {
			h.chain.addBlock(h.makeBlock(height))
		}
	}
}

// voteSummary is a comparable snapshot of a vote used to compare state
// across governance instances.
type voteSummary struct {
	voteID      chainhash.Hash
	choice      VoteType
	utxo        wire.OutPoint
	amount      btcutil.Amount
	keyID       KeyID
	blockNumber int32
	time        int64
	spentBlock  int32
	spentHash   chainhash.Hash
}

// snapshot returns comparable maps of a governance instance's contents.
func snapshot(g *Governance) (map[chainhash.Hash]int32,
	map[chainhash.Hash]voteSummary) {

	g.mu.RLock()
	defer g.mu.RUnlock()

	props := make(map[chainhash.Hash]int32, len(g.proposals))
	for hash, p := range g.proposals {
		props[hash] = p.BlockNumber()
	}
	votes := make(map[chainhash.Hash]voteSummary, len(g.votes))
	for voteID, v := range g.votes {
		votes[voteID] = voteSummary{
			voteID:      voteID,
			choice:      v.Vote(),
			utxo:        v.Utxo(),
			amount:      v.Amount(),
			keyID:       v.KeyID(),
			blockNumber: v.BlockNumber(),
			time:        v.Time(),
			spentBlock:  v.SpentBlock(),
			spentHash:   v.spentHash,
		}
	}
	return props, votes
}
