// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gov

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Governance indexes every proposal and vote observed on the chain and
// answers the queries block validation and the RPC layer need.  One instance
// is owned by the node and shared by its collaborators; there is no process
// wide singleton.
//
// All state lives in memory and is rebuilt from the chain by
// LoadGovernanceData.  Live updates arrive through the chain notification
// channel (see Start) which serializes all writes; concurrent readers are
// safe at any time.
type Governance struct {
	chain  ChainSource
	params *Params

	// mu guards the three maps below.  votes and sbvotes share *Vote
	// pointers, so a vote mutated through one index is mutated in both
	// and the two views can never diverge.
	mu        sync.RWMutex
	proposals map[chainhash.Hash]*Proposal
	votes     map[chainhash.Hash]*Vote
	sbvotes   map[int32]map[chainhash.Hash]*Vote

	wg   sync.WaitGroup
	quit chan struct{}
}

// New creates a governance manager backed by the given chain.
func New(chain ChainSource, params *Params) *Governance {
	return &Governance{
		chain:     chain,
		params:    params,
		proposals: make(map[chainhash.Hash]*Proposal),
		votes:     make(map[chainhash.Hash]*Vote),
		sbvotes:   make(map[int32]map[chainhash.Hash]*Vote),
		quit:      make(chan struct{}),
	}
}

// Reset clears all governance state.
func (g *Governance) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.proposals = make(map[chainhash.Hash]*Proposal)
	g.votes = make(map[chainhash.Hash]*Vote)
	g.sbvotes = make(map[int32]map[chainhash.Hash]*Vote)
}

// HasProposal returns whether the proposal with the given hash is known.
func (g *Governance) HasProposal(hash chainhash.Hash) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	_, ok := g.proposals[hash]
	return ok
}

// HasProposalBefore returns whether the proposal with the given hash is known
// and was recorded in a block strictly before the given height.  Vote
// acceptance requires its proposal to have confirmed in an earlier block.
func (g *Governance) HasProposalBefore(hash chainhash.Hash, height int32) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	p, ok := g.proposals[hash]
	return ok && p.BlockNumber() < height
}

// HasProposalName returns whether a proposal with the given name exists for
// the given superblock.
func (g *Governance) HasProposalName(name string, superblock int32) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, p := range g.proposals {
		if p.Superblock() == superblock && p.Name() == name {
			return true
		}
	}
	return false
}

// HasVote returns whether a vote with the given vote id is known.
func (g *Governance) HasVote(voteID chainhash.Hash) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	_, ok := g.votes[voteID]
	return ok
}

// HasVoteFor returns whether a known vote casts the given choice on the
// given proposal on behalf of the given utxo.
func (g *Governance) HasVoteFor(proposal chainhash.Hash, voteType VoteType,
	utxo wire.OutPoint) bool {

	g.mu.RLock()
	defer g.mu.RUnlock()

	p, ok := g.proposals[proposal]
	if !ok {
		return false
	}
	for _, v := range g.sbvotes[p.Superblock()] {
		if v.Utxo() == utxo && v.Proposal() == proposal &&
			v.Vote() == voteType {

			return true
		}
	}
	return false
}

// Proposal returns the proposal with the given hash.
func (g *Governance) Proposal(hash chainhash.Hash) (*Proposal, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	p, ok := g.proposals[hash]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

// Vote returns the vote with the given vote id.
func (g *Governance) Vote(voteID chainhash.Hash) (*Vote, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	v, ok := g.votes[voteID]
	if !ok {
		return nil, false
	}
	cv := *v
	return &cv, true
}

// Proposals returns all known proposals.
func (g *Governance) Proposals() []*Proposal {
	g.mu.RLock()
	defer g.mu.RUnlock()

	props := make([]*Proposal, 0, len(g.proposals))
	for _, p := range g.proposals {
		cp := *p
		props = append(props, &cp)
	}
	return props
}

// ProposalsForSuperblock returns all known proposals targeting the given
// superblock.
func (g *Governance) ProposalsForSuperblock(superblock int32) []*Proposal {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var props []*Proposal
	for _, p := range g.proposals {
		if p.Superblock() == superblock {
			cp := *p
			props = append(props, &cp)
		}
	}
	return props
}

// ProposalsSince returns all known proposals whose superblock is at or after
// the given height.
func (g *Governance) ProposalsSince(height int32) []*Proposal {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var props []*Proposal
	for _, p := range g.proposals {
		if p.Superblock() >= height {
			cp := *p
			props = append(props, &cp)
		}
	}
	return props
}

// Votes returns all known votes whose utxos have not been spent.
func (g *Governance) Votes() []*Vote {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var vs []*Vote
	for _, v := range g.votes {
		if !v.Spent() {
			cv := *v
			vs = append(vs, &cv)
		}
	}
	return vs
}

// VotesFor returns all unspent votes cast on the given proposal.
func (g *Governance) VotesFor(proposal chainhash.Hash) []*Vote {
	g.mu.RLock()
	defer g.mu.RUnlock()

	p, ok := g.proposals[proposal]
	if !ok {
		return nil
	}
	var vs []*Vote
	for _, v := range g.sbvotes[p.Superblock()] {
		if v.Proposal() == proposal && !v.Spent() {
			cv := *v
			vs = append(vs, &cv)
		}
	}
	return vs
}

// VotesForSuperblock returns all unspent votes targeting proposals in the
// given superblock.
func (g *Governance) VotesForSuperblock(superblock int32) []*Vote {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var vs []*Vote
	for _, v := range g.sbvotes[superblock] {
		if !v.Spent() {
			cv := *v
			vs = append(vs, &cv)
		}
	}
	return vs
}

// CopyVotes returns a snapshot of every known vote, spent or not.
func (g *Governance) CopyVotes() []*Vote {
	g.mu.RLock()
	defer g.mu.RUnlock()

	vs := make([]*Vote, 0, len(g.votes))
	for _, v := range g.votes {
		cv := *v
		vs = append(vs, &cv)
	}
	return vs
}

// CopyProposals returns a snapshot of every known proposal.
func (g *Governance) CopyProposals() []*Proposal {
	g.mu.RLock()
	defer g.mu.RUnlock()

	props := make([]*Proposal, 0, len(g.proposals))
	for _, p := range g.proposals {
		cp := *p
		props = append(props, &cp)
	}
	return props
}

// addProposal records a proposal.  An existing proposal with the same hash is
// never overwritten; the first observation wins.
//
// This function MUST be called with the state mutex held for writes.
func (g *Governance) addProposal(p *Proposal) {
	hash := p.Hash()
	if _, ok := g.proposals[hash]; ok {
		return
	}
	cp := *p
	g.proposals[hash] = &cp
}

// removeProposal erases a proposal.  Votes referencing the proposal are not
// cascaded; callers remove those first since vote removal needs the proposal
// to locate the superblock index.
//
// This function MUST be called with the state mutex held for writes.
func (g *Governance) removeProposal(hash chainhash.Hash) {
	delete(g.proposals, hash)
}

// addVote records a vote under its vote id, replacing any previous record
// with the same id.  When requireProposal is true votes referencing unknown
// proposals are dropped; the initial chain load defers that requirement
// because a vote may be scanned before its proposal (see LoadGovernanceData).
//
// This function MUST be called with the state mutex held for writes.
func (g *Governance) addVote(v *Vote, requireProposal bool) {
	p, haveProposal := g.proposals[v.Proposal()]
	if requireProposal && !haveProposal {
		return
	}

	voteID := v.VoteID()
	cv := *v
	g.votes[voteID] = &cv

	// Index by superblock only once the proposal is known; the load's
	// reconcile pass re-adds every retained vote after proposals are
	// complete, which repairs the index for early votes.
	if haveProposal {
		vs, ok := g.sbvotes[p.Superblock()]
		if !ok {
			vs = make(map[chainhash.Hash]*Vote)
			g.sbvotes[p.Superblock()] = vs
		}
		vs[voteID] = &cv
	}
}

// removeVote erases the vote with the given vote id from both indices.
//
// This function MUST be called with the state mutex held for writes.
func (g *Governance) removeVote(voteID chainhash.Hash) {
	v, ok := g.votes[voteID]
	if !ok {
		return
	}
	delete(g.votes, voteID)

	p, ok := g.proposals[v.Proposal()]
	if !ok {
		return
	}
	vs, ok := g.sbvotes[p.Superblock()]
	if !ok {
		return
	}
	delete(vs, voteID)
	if len(vs) == 0 {
		delete(g.sbvotes, p.Superblock())
	}
}

// spendVote marks the vote's utxo as consumed by the given block and
// transaction.  Spends that land after the vote's superblock are ignored
// since the vote has already contributed to a finalized tally.
//
// This function MUST be called with the state mutex held for writes.
func (g *Governance) spendVote(voteID chainhash.Hash, block int32,
	txHash chainhash.Hash) {

	v, ok := g.votes[voteID]
	if !ok {
		return
	}
	p, ok := g.proposals[v.Proposal()]
	if !ok {
		return
	}
	if block > p.Superblock() {
		return
	}
	v.spend(block, txHash)
}

// unspendVote reverts a spend marker if the recorded spending block and
// transaction match exactly.
//
// This function MUST be called with the state mutex held for writes.
func (g *Governance) unspendVote(voteID chainhash.Hash, block int32,
	txHash chainhash.Hash) {

	v, ok := g.votes[voteID]
	if !ok {
		return
	}
	p, ok := g.proposals[v.Proposal()]
	if !ok {
		return
	}
	if block > p.Superblock() {
		return
	}
	v.unspend(block, txHash)
}
