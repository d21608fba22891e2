// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gov

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"golang.org/x/sync/errgroup"
)

// spentPrevout records the transaction and height that consumed an outpoint.
type spentPrevout struct {
	txHash chainhash.Hash
	height int32
}

// prevoutSet is the loader's shared record of every outpoint consumed by the
// scanned range.  It has its own mutex, distinct from the state store mutex;
// no worker holds both at once.
type prevoutSet struct {
	sync.Mutex
	spent map[wire.OutPoint]spentPrevout
}

// record stores the spending transaction and height for each input of the
// given transactions.
func (s *prevoutSet) record(block *wire.MsgBlock, height int32) {
	s.Lock()
	defer s.Unlock()

	for _, tx := range block.Transactions {
		txHash := tx.TxHash()
		for _, txIn := range tx.TxIn {
			s.spent[txIn.PreviousOutPoint] = spentPrevout{
				txHash: txHash,
				height: height,
			}
		}
	}
}

// lookup returns the spend record for an outpoint, if any.
func (s *prevoutSet) lookup(op wire.OutPoint) (spentPrevout, bool) {
	s.Lock()
	defer s.Unlock()

	sp, ok := s.spent[op]
	return sp, ok
}

// LoadGovernanceData rebuilds the governance state by scanning every block
// from the governance activation height to the current tip.  The scan is
// sharded across nworkers goroutines (capped at the number of cores; pass 0
// for the default).
//
// The load runs in two passes.  Pass one replays blocks: every input prevout
// is recorded and governance data is applied with the live-only checks
// disabled, so a vote scanned before its proposal is retained.  Pass two
// walks the retained votes once all proposals are known: votes whose proposal
// is missing, confirmed later, or inside the voting cutoff are discarded, and
// votes whose utxo was spent at or before their proposal's superblock are
// marked spent.  The result is identical regardless of worker count.
//
// A quit channel close aborts the load mid-shard and returns
// ErrLoadCancelled; the state must then be considered incomplete and the load
// rerun at next start.
func (g *Governance) LoadGovernanceData(nworkers int, quit <-chan struct{}) error {
	bestHeight, err := g.chain.BestHeight()
	if err != nil {
		return govError(ErrChainIO, "failed to query the chain tip", err)
	}

	// Nothing to load on the genesis block or before governance activated.
	if bestHeight == 0 || bestHeight < g.params.GovernanceBlock {
		return nil
	}

	cores := runtime.NumCPU()
	if nworkers > 0 && nworkers < cores {
		cores = nworkers
	}

	prevouts := &prevoutSet{spent: make(map[wire.OutPoint]spentPrevout)}

	// Pass one: shard the block range across the workers.  Shards are
	// disjoint, so workers only contend on the prevout set and the state
	// store.
	totalBlocks := bestHeight - g.params.GovernanceBlock
	slice := totalBlocks / int32(cores)

	var wg errgroup.Group
	for k := 0; k < cores; k++ {
		start := g.params.GovernanceBlock + int32(k)*slice
		end := start + slice
		if k == cores-1 {
			end = bestHeight + 1
		}
		wg.Go(func() error {
			return g.scanBlocks(start, end, prevouts, quit)
		})
	}
	if err := wg.Wait(); err != nil {
		return err
	}

	// Pass two: reconcile the retained votes now that every proposal in
	// the range is known.
	votes := g.CopyVotes()
	if len(votes) == 0 {
		return nil
	}

	slice = int32(len(votes)) / int32(cores)
	var wg2 errgroup.Group
	for k := 0; k < cores; k++ {
		start := int32(k) * slice
		end := start + slice
		if k == cores-1 {
			end = int32(len(votes))
		}
		shard := votes[start:end]
		wg2.Go(func() error {
			return g.reconcileVotes(shard, prevouts, quit)
		})
	}
	return wg2.Wait()
}

// scanBlocks replays the half-open block range [start, end), recording every
// spent prevout and applying governance data with the live checks disabled.
func (g *Governance) scanBlocks(start, end int32, prevouts *prevoutSet,
	quit <-chan struct{}) error {

	for height := start; height < end; height++ {
		select {
		case <-quit:
			return govError(ErrLoadCancelled, "governance load "+
				"interrupted by shutdown", nil)
		default:
		}

		block, err := g.chain.BlockAt(height)
		if err != nil {
			return govError(ErrChainIO, fmt.Sprintf("failed to "+
				"read block %d", height), err)
		}
		prevouts.record(block.MsgBlock(), height)
		g.ProcessBlock(block, false)
	}
	return nil
}

// reconcileVotes applies the deferred live checks to a shard of the votes
// retained by pass one.  Each vote is re-validated and re-added atomically:
// a vote without a proposal confirmed in an earlier block, or one inside its
// proposal's voting cutoff, is discarded; a vote whose utxo was consumed at
// or before its superblock is marked spent with the consuming transaction.
func (g *Governance) reconcileVotes(votes []*Vote, prevouts *prevoutSet,
	quit <-chan struct{}) error {

	for _, v := range votes {
		select {
		case <-quit:
			return govError(ErrLoadCancelled, "governance load "+
				"interrupted by shutdown", nil)
		default:
		}

		voteID := v.VoteID()
		p, ok := g.Proposal(v.Proposal())
		if !ok || p.BlockNumber() >= v.BlockNumber() ||
			!OutsideVotingCutoff(p, v.BlockNumber(), g.params) {

			g.mu.Lock()
			g.removeVote(voteID)
			g.mu.Unlock()
			continue
		}

		if sp, ok := prevouts.lookup(v.Utxo()); ok &&
			sp.height <= p.Superblock() {

			v.spend(sp.height, sp.txHash)
		}

		g.mu.Lock()
		g.addVote(v, true)
		g.mu.Unlock()
	}
	return nil
}
