// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gov

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Tally aggregates the votes cast on one proposal.  The counts are the coin
// amounts integer-divided by the vote balance parameter; the c-prefixed
// fields carry the raw coin amounts.
type Tally struct {
	Yes     int
	No      int
	Abstain int

	CYes     btcutil.Amount
	CNo      btcutil.Amount
	CAbstain btcutil.Amount
}

// Passing returns the fraction of yes votes among the yes and no votes.
func (t *Tally) Passing() float64 {
	return float64(t.Yes) / float64(t.Yes+t.No)
}

// NetYes returns the yes votes less the no votes.
func (t *Tally) NetYes() int {
	return t.Yes - t.No
}

// SuperblockResult pairs a proposal with its tally.
type SuperblockResult struct {
	Proposal *Proposal
	Tally    Tally
}

// TallyVotes computes the tally for one proposal over the given votes,
// coalescing votes cast by the same economic identity so no coin is counted
// twice.
//
// Votes carried by the same transaction are assumed co-authored, as are votes
// whose utxos pay to the same key.  Each transaction group is expanded with
// every vote sharing a key with one of its members, the already-counted votes
// are removed, and the remainder forms one user's sub-tally.  Sub-tally
// counts are the coin sums integer-divided by the vote balance and clamped at
// zero, so a user voting with less than one vote balance counts for nothing.
func TallyVotes(proposal chainhash.Hash, votes []*Vote, params *Params) Tally {
	// Group by enclosing transaction and by destination key.
	userVotes := make(map[chainhash.Hash][]*Vote)
	destVotes := make(map[KeyID][]*Vote)
	for _, v := range votes {
		if v.Proposal() != proposal {
			continue
		}
		txHash := v.Outpoint().Hash
		userVotes[txHash] = append(userVotes[txHash], v)
		destVotes[v.KeyID()] = append(destVotes[v.KeyID()], v)
	}

	// Transaction groups are consumed in sorted order.  The counted-set
	// walk partitions votes by first touch, and with integer truncation
	// the partition affects the totals, so the order must be stable.
	txHashes := make([]chainhash.Hash, 0, len(userVotes))
	for txHash := range userVotes {
		txHashes = append(txHashes, txHash)
	}
	sort.Slice(txHashes, func(i, j int) bool {
		return bytes.Compare(txHashes[i][:], txHashes[j][:]) < 0
	})

	counted := make(map[chainhash.Hash]struct{})
	var final Tally
	for _, txHash := range txHashes {
		group := userVotes[txHash]
		// Expand the transaction group with every vote sharing a
		// destination with one of its members, deduplicated by vote
		// id.
		unique := make(map[chainhash.Hash]*Vote)
		for _, v := range group {
			unique[v.VoteID()] = v
			for _, dv := range destVotes[v.KeyID()] {
				unique[dv.VoteID()] = dv
			}
		}

		var sub Tally
		empty := true
		for voteID, v := range unique {
			if _, ok := counted[voteID]; ok {
				continue
			}
			counted[voteID] = struct{}{}
			empty = false
			switch v.Vote() {
			case VoteYes:
				sub.CYes += v.Amount()
			case VoteNo:
				sub.CNo += v.Amount()
			case VoteAbstain:
				sub.CAbstain += v.Amount()
			}
		}
		if empty {
			continue
		}

		sub.Yes = clampVotes(sub.CYes / params.VoteBalance)
		sub.No = clampVotes(sub.CNo / params.VoteBalance)
		sub.Abstain = clampVotes(sub.CAbstain / params.VoteBalance)

		final.Yes += sub.Yes
		final.No += sub.No
		final.Abstain += sub.Abstain
		final.CYes += sub.CYes
		final.CNo += sub.CNo
		final.CAbstain += sub.CAbstain
	}
	return final
}

// clampVotes truncates a vote count at zero.
func clampVotes(n btcutil.Amount) int {
	if n < 0 {
		return 0
	}
	return int(n)
}

// ProposalsWithVotes returns the proposals targeting the given superblock
// together with every unspent vote cast on them.
func (g *Governance) ProposalsWithVotes(superblock int32) ([]*Proposal, []*Vote) {
	proposals := g.ProposalsForSuperblock(superblock)
	votes := g.VotesForSuperblock(superblock)

	hashes := make(map[chainhash.Hash]struct{}, len(proposals))
	for _, p := range proposals {
		hashes[p.Hash()] = struct{}{}
	}
	var matched []*Vote
	for _, v := range votes {
		if _, ok := hashes[v.Proposal()]; ok {
			matched = append(matched, v)
		}
	}
	return proposals, matched
}

// SuperblockResults returns the passing proposals of the given superblock
// with their tallies.  A proposal passes only when all of the following hold:
// at least one yes or no vote was cast, at least 60% of the yes/no votes are
// yes, the proposal drew at least 25% of the unique votes cast in the
// superblock, and at least one yes vote was cast.
func (g *Governance) SuperblockResults(
	superblock int32) map[chainhash.Hash]*SuperblockResult {

	results := make(map[chainhash.Hash]*SuperblockResult)
	if !IsSuperblock(superblock, g.params) {
		return results
	}

	proposals, votes := g.ProposalsWithVotes(superblock)

	// Count the coins behind each distinct voting utxo once to establish
	// the superblock's total participation.
	unique := make(map[wire.OutPoint]struct{})
	var uniqueAmount btcutil.Amount
	for _, v := range votes {
		if _, ok := unique[v.Utxo()]; ok {
			continue
		}
		unique[v.Utxo()] = struct{}{}
		uniqueAmount += v.Amount()
	}
	uniqueVotes := int(uniqueAmount / g.params.VoteBalance)

	for _, p := range proposals {
		hash := p.Hash()
		results[hash] = &SuperblockResult{
			Proposal: p,
			Tally:    TallyVotes(hash, votes, g.params),
		}
	}

	for hash, r := range results {
		t := &r.Tally
		yayNay := t.Yes + t.No
		total := t.Yes + t.No + t.Abstain
		if yayNay == 0 || t.Passing() < 0.6 ||
			float64(total) < float64(uniqueVotes)*0.25 ||
			t.Yes <= 0 {

			delete(results, hash)
		}
	}
	return results
}

// SuperblockPayees returns the deterministic payee list for the given result
// set.  Proposals are ordered by net yes votes descending, then most yes
// votes, then earliest submission block, and greedily fitted into the
// superblock budget; a proposal too large for the remaining budget is skipped
// and smaller proposals may still fit after it.
func SuperblockPayees(superblock int32,
	results map[chainhash.Hash]*SuperblockResult,
	params *Params) []*wire.TxOut {

	if len(results) == 0 {
		return nil
	}

	sorted := make([]*SuperblockResult, 0, len(results))
	for _, r := range results {
		sorted = append(sorted, r)
	}
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Tally.NetYes() != b.Tally.NetYes() {
			return a.Tally.NetYes() > b.Tally.NetYes()
		}
		if a.Tally.Yes != b.Tally.Yes {
			return a.Tally.Yes > b.Tally.Yes
		}
		return a.Proposal.BlockNumber() < b.Proposal.BlockNumber()
	})

	budget := params.ProposalMaxAmount
	if subsidy := params.BlockSubsidy(superblock); subsidy < budget {
		budget = subsidy
	}

	var payees []*wire.TxOut
	for _, r := range sorted {
		amount := r.Proposal.Amount()
		if amount > budget {
			continue
		}
		script, err := payToProposalAddress(r.Proposal.Address(),
			params)
		if err != nil {
			// Address validity was checked on admission; a decode
			// failure here means the proposal should never have
			// been stored.
			log.Errorf("Unpayable proposal %s address %s: %v",
				r.Proposal.Name(), r.Proposal.Address(), err)
			continue
		}
		budget -= amount
		payees = append(payees, wire.NewTxOut(int64(amount), script))
	}
	return payees
}

// isCoinStakeTx returns whether the transaction has the coinstake shape: a
// real first input, at least two outputs, and an empty first output.
func isCoinStakeTx(tx *wire.MsgTx) bool {
	if len(tx.TxIn) == 0 || len(tx.TxOut) < 2 {
		return false
	}
	if tx.TxIn[0].PreviousOutPoint.Hash == (chainhash.Hash{}) &&
		tx.TxIn[0].PreviousOutPoint.Index == wire.MaxPrevOutIndex {

		return false
	}
	first := tx.TxOut[0]
	return first.Value == 0 && len(first.PkScript) == 0
}

// CheckSuperblock validates a superblock's governance payouts and returns the
// total amount paid to proposals.  The block must be proof of stake and its
// coinstake must pay every expected payee exactly once by amount and script;
// up to two additional outputs are allowed for the coinbase marker and the
// staker's own payment.  A superblock with no passing proposals, or with no
// proposal that yields a payee, places no constraint on the block.
func (g *Governance) CheckSuperblock(block *btcutil.Block) (btcutil.Amount, error) {
	height := block.Height()
	if !IsSuperblock(height, g.params) {
		return 0, govError(ErrInvalidSuperblock, fmt.Sprintf("block "+
			"%d is not a superblock", height), nil)
	}

	// The payout lives in the coinstake of a proof of stake block.
	txs := block.MsgBlock().Transactions
	if len(txs) < 2 || !isCoinStakeTx(txs[1]) {
		return 0, govError(ErrInvalidSuperblock, fmt.Sprintf("block "+
			"%d is not proof of stake", height), nil)
	}

	results := g.SuperblockResults(height)
	if len(results) == 0 {
		return 0, nil
	}
	payees := SuperblockPayees(height, results, g.params)
	if len(payees) == 0 {
		return 0, nil
	}

	var total btcutil.Amount
	for _, payee := range payees {
		total += btcutil.Amount(payee.Value)
	}

	outs := txs[1].TxOut
	if len(outs)-len(payees) > 2 {
		return total, govError(ErrInvalidSuperblock, fmt.Sprintf(
			"superblock %d pays %d outputs, expected at most %d",
			height, len(outs), len(payees)+2), nil)
	}

	// Consume each expected payee exactly once; whatever the coinstake
	// pays beyond the payee set must fit in the two-output allowance.
	remaining := make([]*wire.TxOut, len(payees))
	copy(remaining, payees)
	unmatched := 0
	for _, out := range outs {
		found := false
		for i, payee := range remaining {
			if out.Value == payee.Value &&
				bytes.Equal(out.PkScript, payee.PkScript) {

				remaining = append(remaining[:i],
					remaining[i+1:]...)
				found = true
				break
			}
		}
		if !found {
			unmatched++
		}
	}
	if len(remaining) > 0 || unmatched > 2 {
		return total, govError(ErrInvalidSuperblock, fmt.Sprintf(
			"superblock %d does not pay the expected proposals",
			height), nil)
	}
	return total, nil
}

// UtxoInVoteCutoff returns whether the given utxo backs a vote on a proposal
// in the upcoming superblock whose voting period has closed.  Wallets use
// this to refuse spending coins whose votes are still being counted.
func (g *Governance) UtxoInVoteCutoff(utxo wire.OutPoint, tipHeight int32) bool {
	superblock := NextSuperblock(g.params, tipHeight)
	if !InsideVoteCutoff(superblock, tipHeight, g.params) {
		return false
	}
	_, votes := g.ProposalsWithVotes(superblock)
	for _, v := range votes {
		if v.Utxo() == utxo {
			return true
		}
	}
	return false
}

// VoteInTxOut parses the vote carried by a single transaction output, if
// any.  The vote is unvalidated; callers needing the recovered key must run
// CheckVote.
func VoteInTxOut(out *wire.TxOut) (*Vote, bool) {
	payload := ExtractPayload(out.PkScript)
	if payload == nil {
		return nil, false
	}
	v := new(Vote)
	if err := v.Deserialize(bytes.NewReader(payload)); err != nil {
		return nil, false
	}
	return v, true
}
