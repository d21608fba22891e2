// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gov

import (
	"bytes"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// scanMode selects which checks dataFromBlock applies while extracting
// governance objects from a block.
type scanMode int

const (
	// scanLive applies every check: proposal and vote cutoffs, and the
	// requirement that a vote's proposal confirmed in an earlier block.
	scanLive scanMode = iota

	// scanLoad is used by the initial chain load.  Votes are retained
	// even when their proposal is not yet known and the voting cutoff is
	// deferred, because parallel shards may scan a vote before its
	// proposal; the load's reconcile pass applies both afterwards.
	scanLoad

	// scanUndo disables the cutoff and proposal checks entirely: the
	// objects were valid when their block connected and the undo path
	// needs to reconstruct exactly what was added.
	scanUndo
)

// blockPrevouts returns the map of every outpoint consumed by the block's
// transactions to the hash of the consuming transaction.  It is computed once
// per block and passed to both the spend-marking and undo paths.
func blockPrevouts(block *btcutil.Block) map[wire.OutPoint]chainhash.Hash {
	prevouts := make(map[wire.OutPoint]chainhash.Hash)
	for _, tx := range block.Transactions() {
		if blockchain.IsCoinBaseTx(tx.MsgTx()) {
			continue
		}
		for _, txIn := range tx.MsgTx().TxIn {
			prevouts[txIn.PreviousOutPoint] = *tx.Hash()
		}
	}
	return prevouts
}

// dataFromBlock extracts the valid proposals and votes carried by a block's
// OP_RETURN outputs.  Malformed payloads and objects failing validation are
// skipped without affecting the enclosing transaction.
//
// Votes within the block sharing a vote id are reduced to a single winner:
// the vote with the later time, ties resolved by the larger sig hash compared
// as an unsigned 256-bit integer.  The tie-break can surprise a user who
// intended the smaller hash to be the most recent change of vote, but it is
// consensus critical and must not change; voting clients should wait a block
// between vote changes instead.
func (g *Governance) dataFromBlock(block *btcutil.Block,
	mode scanMode) ([]*Proposal, []*Vote) {

	height := block.Height()
	blockTime := block.MsgBlock().Header.Timestamp.Unix()

	proposals := make(map[chainhash.Hash]*Proposal)
	votes := make(map[chainhash.Hash]*Vote)

	for _, tx := range block.Transactions() {
		if blockchain.IsCoinBaseTx(tx.MsgTx()) {
			continue
		}
		var vinHashes map[VinHash]struct{}
		for n, out := range tx.MsgTx().TxOut {
			payload := ExtractPayload(out.PkScript)
			if payload == nil {
				continue
			}
			version, objType, err := readObjectHeader(
				bytes.NewReader(payload))
			if err != nil || version != NetworkVersion {
				continue
			}

			switch objType {
			case TypeProposal:
				p := new(Proposal)
				if err := p.Deserialize(
					bytes.NewReader(payload)); err != nil {

					log.Debugf("Skipping malformed "+
						"proposal in %v: %v",
						tx.Hash(), err)
					continue
				}
				p.blockNumber = height
				if err := CheckProposal(p, g.params); err != nil {
					log.Debugf("Skipping invalid "+
						"proposal in %v: %v",
						tx.Hash(), err)
					continue
				}
				if mode != scanUndo &&
					!OutsideProposalCutoff(p, height,
						g.params) {

					continue
				}
				hash := p.Hash()
				if _, ok := proposals[hash]; !ok {
					proposals[hash] = p
				}

			case TypeVote:
				if vinHashes == nil {
					vinHashes = make(map[VinHash]struct{})
					for _, txIn := range tx.MsgTx().TxIn {
						vh := MakeVinHash(
							txIn.PreviousOutPoint)
						vinHashes[vh] = struct{}{}
					}
				}
				v := new(Vote)
				if err := v.Deserialize(
					bytes.NewReader(payload)); err != nil {

					log.Debugf("Skipping malformed vote "+
						"in %v: %v", tx.Hash(), err)
					continue
				}
				v.outpoint = wire.OutPoint{
					Hash:  *tx.Hash(),
					Index: uint32(n),
				}
				v.time = blockTime
				v.blockNumber = height

				// A vote is only accepted live if its
				// proposal confirmed in a strictly earlier
				// block.
				if mode == scanLive &&
					!g.HasProposalBefore(v.Proposal(),
						height) {

					continue
				}
				if err := CheckVote(v, vinHashes, g.params,
					g.chain); err != nil {

					log.Debugf("Skipping invalid vote "+
						"in %v: %v", tx.Hash(), err)
					continue
				}
				if mode == scanLive {
					p, ok := g.Proposal(v.Proposal())
					if !ok || !OutsideVotingCutoff(p,
						height, g.params) {

						continue
					}
				}

				voteID := v.VoteID()
				prev, ok := votes[voteID]
				if !ok || v.time > prev.time ||
					(v.time == prev.time &&
						voteSigHashGreater(v, prev)) {

					votes[voteID] = v
				}
			}
		}
	}

	ps := make([]*Proposal, 0, len(proposals))
	for _, p := range proposals {
		ps = append(ps, p)
	}
	vs := make([]*Vote, 0, len(votes))
	for _, v := range votes {
		vs = append(vs, v)
	}
	return ps, vs
}

// voteSigHashGreater returns true if a's sig hash is numerically greater
// than b's.
func voteSigHashGreater(a, b *Vote) bool {
	ah, bh := a.SigHash(), b.SigHash()
	return hashGreater(&ah, &bh)
}

// ProcessBlock applies the governance data carried by a block.  isLive marks
// chain-tip processing: the utxo set and mempool are consulted to reject
// votes whose utxo is already consumed, and votes without a previously
// confirmed proposal are dropped.  The initial chain load passes false and
// defers both to its reconcile pass.
//
// Proposals are inserted before votes and never overwrite an existing record.
// A vote whose id already exists replaces the record only when it carries a
// strictly later time, or an equal time with a strictly greater sig hash.
func (g *Governance) ProcessBlock(block *btcutil.Block, isLive bool) {
	mode := scanLoad
	if isLive {
		mode = scanLive
	}
	ps, vs := g.dataFromBlock(block, mode)

	// Consult the utxo set and mempool before taking the state lock so no
	// chain I/O happens inside the critical section.  Live mode is single
	// writer, so the existence peek cannot go stale before the insert.
	spentRejected := make(map[chainhash.Hash]struct{})
	if isLive {
		for _, v := range vs {
			voteID := v.VoteID()
			if g.HasVote(voteID) {
				continue
			}
			out, err := g.chain.UnspentOutput(v.Utxo())
			if err != nil || out == nil ||
				g.chain.MempoolSpent(v.Utxo()) {

				spentRejected[voteID] = struct{}{}
			}
		}
	}

	height := block.Height()

	// The block's prevout map is only needed for live spend marking; the
	// initial load reconciles spends from its own complete prevout record.
	var prevouts map[wire.OutPoint]chainhash.Hash
	if isLive {
		prevouts = blockPrevouts(block)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, p := range ps {
		g.addProposal(p)
	}
	for _, v := range vs {
		if isLive {
			if _, ok := g.proposals[v.Proposal()]; !ok {
				continue
			}
		}
		voteID := v.VoteID()
		if prev, ok := g.votes[voteID]; ok {
			if v.Time() > prev.Time() ||
				(v.Time() == prev.Time() &&
					voteSigHashGreater(v, prev)) {

				g.addVote(v, isLive)
			}
			continue
		}
		if _, ok := spentRejected[voteID]; ok {
			continue
		}
		g.addVote(v, isLive)
	}

	// Mark live votes whose utxos this block consumed as spent.  During
	// the initial load the complete spent-outpoint map is reconciled in a
	// separate pass, so shard order cannot influence the result.
	if !isLive {
		return
	}
	g.spendVotesIn(prevouts, height)
}

// spendVotesIn marks every known vote of a proposal with a superblock at or
// after the given height as spent when its utxo appears in prevouts.
//
// This function MUST be called with the state mutex held for writes.
func (g *Governance) spendVotesIn(prevouts map[wire.OutPoint]chainhash.Hash,
	height int32) {

	for superblock, vs := range g.sbvotes {
		if superblock < height {
			continue
		}
		for voteID, v := range vs {
			txHash, ok := prevouts[v.Utxo()]
			if !ok {
				continue
			}
			g.spendVote(voteID, height, txHash)
		}
	}
}

// UndoBlock reverts the governance data carried by a block when it is
// disconnected from the main chain.  The block's objects are re-extracted
// with the cutoff and proposal checks disabled since they were valid when the
// block connected; records created at this height are removed and spend
// markers written by this block are reverted.
func (g *Governance) UndoBlock(block *btcutil.Block) {
	ps, vs := g.dataFromBlock(block, scanUndo)
	height := block.Height()
	prevouts := blockPrevouts(block)

	g.mu.Lock()
	defer g.mu.Unlock()

	// Remove votes before proposals: vote removal needs the proposal to
	// locate the superblock index.
	for _, v := range vs {
		voteID := v.VoteID()
		stored, ok := g.votes[voteID]
		if !ok || stored.BlockNumber() != height {
			continue
		}
		g.removeVote(voteID)
	}
	for _, p := range ps {
		hash := p.Hash()
		stored, ok := g.proposals[hash]
		if !ok || stored.BlockNumber() != height {
			continue
		}
		g.removeProposal(hash)
	}

	// Revert spend markers this block wrote.  unspendVote only reverts on
	// an exact (height, txhash) match, so markers from other blocks are
	// untouched.
	for superblock, vs := range g.sbvotes {
		if superblock < height {
			continue
		}
		for voteID, v := range vs {
			txHash, ok := prevouts[v.Utxo()]
			if !ok {
				continue
			}
			g.unspendVote(voteID, height, txHash)
		}
	}
}
