// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gov

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// Params houses the consensus parameters the governance subsystem depends on.
// The values are fixed per network and must match across all validating nodes
// since proposal acceptance, vote cutoffs, and superblock payouts are all
// consensus critical.
type Params struct {
	// ChainParams identifies the network the governance addresses belong
	// to.  Proposal payment addresses are decoded against these params.
	ChainParams *chaincfg.Params

	// Superblock is the superblock period.  Every block height that is a
	// positive multiple of this value (at or above GovernanceBlock) is a
	// superblock whose coinstake pays the winning proposals.
	Superblock int32

	// GovernanceBlock is the activation height of the governance system.
	// Blocks below this height carry no governance data.
	GovernanceBlock int32

	// ProposalCutoff is the number of blocks prior to a superblock after
	// which proposals targeting that superblock are refused.
	ProposalCutoff int32

	// VotingCutoff is the number of blocks prior to a superblock after
	// which votes targeting that superblock are refused.
	VotingCutoff int32

	// ProposalFee is the burn amount required to submit a proposal.  The
	// fee output itself is validated outside this package.
	ProposalFee btcutil.Amount

	// ProposalMinAmount and ProposalMaxAmount bound the payment a single
	// proposal may request.
	ProposalMinAmount btcutil.Amount
	ProposalMaxAmount btcutil.Amount

	// VoteMinUtxoAmount is the smallest utxo that may be used to cast a
	// vote.
	VoteMinUtxoAmount btcutil.Amount

	// VoteBalance is the coin amount backing one counted vote.  Vote
	// weight is the total utxo amount integer-divided by this value.
	VoteBalance btcutil.Amount

	// BlockSubsidy returns the subsidy available at the given height.  The
	// superblock budget is the smaller of ProposalMaxAmount and the
	// subsidy of the superblock height.
	BlockSubsidy func(height int32) btcutil.Amount
}

// MainNetParams defines the governance parameters for the main network.
var MainNetParams = Params{
	ChainParams:       &chaincfg.MainNetParams,
	Superblock:        43200,
	GovernanceBlock:   274300,
	ProposalCutoff:    2880,
	VotingCutoff:      60,
	ProposalFee:       10 * btcutil.SatoshiPerBitcoin,
	ProposalMinAmount: 10 * btcutil.SatoshiPerBitcoin,
	ProposalMaxAmount: 40000 * btcutil.SatoshiPerBitcoin,
	VoteMinUtxoAmount: 1 * btcutil.SatoshiPerBitcoin,
	VoteBalance:       1 * btcutil.SatoshiPerBitcoin,
	BlockSubsidy: func(height int32) btcutil.Amount {
		return 50 * btcutil.SatoshiPerBitcoin
	},
}

// NextSuperblock returns the superblock immediately after the given block
// height.
func NextSuperblock(params *Params, fromBlock int32) int32 {
	return fromBlock - fromBlock%params.Superblock + params.Superblock
}

// PreviousSuperblock returns the superblock immediately preceding the given
// block height.
func PreviousSuperblock(params *Params, fromBlock int32) int32 {
	return NextSuperblock(params, fromBlock) - params.Superblock
}

// IsSuperblock returns whether the given height is a superblock, i.e. a
// positive multiple of the superblock period at or above the governance
// activation height.
func IsSuperblock(height int32, params *Params) bool {
	return height >= params.GovernanceBlock && height > 0 &&
		height%params.Superblock == 0
}

// OutsideProposalCutoff returns true if a proposal observed at the given
// block height is not yet inside its submission cutoff window.  Proposals may
// target superblocks multiple periods in the future, so the window is always
// relative to the proposal's own superblock.
func OutsideProposalCutoff(p *Proposal, height int32, params *Params) bool {
	if p.IsNull() {
		return false
	}
	return height < p.Superblock()-params.ProposalCutoff
}

// OutsideVotingCutoff returns true if a vote observed at the given block
// height for the given proposal is not yet inside the voting cutoff window of
// the proposal's superblock.
func OutsideVotingCutoff(p *Proposal, height int32, params *Params) bool {
	if p.IsNull() {
		return false
	}
	return height < p.Superblock()-params.VotingCutoff
}

// InsideVoteCutoff returns true if the given block height falls inside the
// voting cutoff window of the given superblock, i.e. the stretch of blocks
// where votes are being counted and vote utxos should not be spent.
func InsideVoteCutoff(superblock, height int32, params *Params) bool {
	return height >= superblock-params.VotingCutoff && height <= superblock
}
