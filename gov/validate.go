// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gov

import (
	"fmt"
	"regexp"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// proposalNameRE matches acceptable proposal names: word characters with
// interior dashes, underscores, and spaces.
var proposalNameRE = regexp.MustCompile(`^\w+[\w\-_ ]*\w+$`)

// CheckProposal performs the stateless validity checks on a proposal.  A nil
// return means the proposal may be admitted to the state store, subject to
// the submission cutoff of its superblock.
func CheckProposal(p *Proposal, params *Params) error {
	if !proposalNameRE.MatchString(p.Name()) {
		return govError(ErrInvalidProposal, fmt.Sprintf("proposal "+
			"name %q is invalid, only alpha-numeric characters "+
			"are accepted", p.Name()), nil)
	}
	if p.Superblock() <= 0 || p.Superblock()%params.Superblock != 0 {
		return govError(ErrInvalidProposal, fmt.Sprintf("bad "+
			"superblock number %d, expected a multiple of %d",
			p.Superblock(), params.Superblock), nil)
	}
	maxAmount := params.ProposalMaxAmount
	if subsidy := params.BlockSubsidy(p.Superblock()); subsidy < maxAmount {
		maxAmount = subsidy
	}
	if p.Amount() < params.ProposalMinAmount || p.Amount() > maxAmount {
		return govError(ErrInvalidProposal, fmt.Sprintf("bad "+
			"proposal amount, specify an amount between %s - %s",
			params.ProposalMinAmount, maxAmount), nil)
	}
	if _, err := payToProposalAddress(p.Address(), params); err != nil {
		return govError(ErrInvalidProposal, fmt.Sprintf("bad payment "+
			"address %s", p.Address()), err)
	}
	if size := p.SerializeSize(); size > maxPayloadSize {
		return govError(ErrInvalidProposal, fmt.Sprintf("proposal "+
			"input is too long by %d bytes, reduce the name, url, "+
			"or description", size-maxPayloadSize), nil)
	}
	return nil
}

// payToProposalAddress decodes a proposal payment address and returns the
// script paying to it.
func payToProposalAddress(address string, params *Params) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(address, params.ChainParams)
	if err != nil {
		return nil, err
	}
	if !addr.IsForNet(params.ChainParams) {
		return nil, fmt.Errorf("address %s is for the wrong network",
			address)
	}
	return txscript.PayToAddrScript(addr)
}

// extractKeyID returns the key id of the destination an output script pays
// to.  Only key-based destinations can vote.
func extractKeyID(pkScript []byte, chainParams *chaincfg.Params) (KeyID, error) {
	var keyID KeyID
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, chainParams)
	if err != nil {
		return keyID, err
	}
	if len(addrs) == 0 {
		return keyID, fmt.Errorf("script pays to no destination")
	}
	switch addr := addrs[0].(type) {
	case *btcutil.AddressPubKeyHash:
		copy(keyID[:], addr.ScriptAddress())
	case *btcutil.AddressPubKey:
		copy(keyID[:], addr.AddressPubKeyHash().ScriptAddress())
	default:
		return keyID, fmt.Errorf("script pays to a non-key destination")
	}
	return keyID, nil
}

// CheckVote performs the stateless validity checks on a vote, resolving the
// voting utxo through the chain and recovering the signer from the compact
// signature.  On success the vote's memory-only pubkey, key id, and amount
// fields are populated.
//
// vinHashes is the set of truncated prevout digests of the enclosing
// transaction's inputs.  Requiring membership binds the vote to that
// transaction and prevents replaying the payload in another transaction.
func CheckVote(v *Vote, vinHashes map[VinHash]struct{}, params *Params,
	chain ChainSource) error {

	if !validVoteType(v.Vote()) {
		return govError(ErrInvalidVote, fmt.Sprintf("unknown vote "+
			"type %d", v.Vote()), nil)
	}
	if _, ok := vinHashes[v.VinHash()]; !ok {
		return govError(ErrInvalidVote, "vote vin hash does not match "+
			"any input of the enclosing transaction", nil)
	}

	// Resolve the utxo being voted with.  A transaction index lookup is
	// used rather than the utxo set because the vote stays valid for
	// tallying even after the utxo is later spent.
	out, err := chain.FetchOutput(v.Utxo())
	if err != nil || out == nil {
		return govError(ErrInvalidVote, fmt.Sprintf("voting utxo %v "+
			"not found", v.Utxo()), err)
	}
	keyID, err := extractKeyID(out.PkScript, params.ChainParams)
	if err != nil {
		return govError(ErrInvalidVote, fmt.Sprintf("voting utxo %v "+
			"has no key destination", v.Utxo()), err)
	}
	amount := btcutil.Amount(out.Value)
	if amount < params.VoteMinUtxoAmount {
		return govError(ErrInvalidVote, fmt.Sprintf("voting utxo "+
			"amount %s is below the minimum %s", amount,
			params.VoteMinUtxoAmount), nil)
	}

	// The signature must recover to the key controlling the utxo.  The
	// compact signature encodes whether the signer used the compressed
	// form, and the key id must be derived from the same form the utxo
	// address was built with.
	sigHash := v.SigHash()
	pubKey, compressed, err := ecdsa.RecoverCompact(v.Signature(), sigHash[:])
	if err != nil {
		return govError(ErrInvalidVote, "vote signature recovery "+
			"failed", err)
	}
	var recovered KeyID
	if compressed {
		copy(recovered[:], btcutil.Hash160(pubKey.SerializeCompressed()))
	} else {
		copy(recovered[:], btcutil.Hash160(pubKey.SerializeUncompressed()))
	}
	if recovered != keyID {
		return govError(ErrInvalidVote, "vote signature does not "+
			"match the voting utxo's key", nil)
	}

	v.pubKey = pubKey
	v.keyID = keyID
	v.amount = amount
	return nil
}

// MatchesVinPubKey returns true if the public key pushed by the input's
// signature script hashes to the same key id as the vote's recovered pubkey.
func MatchesVinPubKey(v *Vote, txIn *wire.TxIn) bool {
	if v.PubKey() == nil {
		return false
	}
	var pushed []byte
	tokenizer := txscript.MakeScriptTokenizer(0, txIn.SignatureScript)
	for tokenizer.Next() {
		data := tokenizer.Data()
		if len(data) == 33 || len(data) == 65 {
			pushed = data
			break
		}
	}
	if pushed == nil {
		return false
	}
	pubKey, err := btcec.ParsePubKey(pushed)
	if err != nil {
		return false
	}
	return NewKeyID(pubKey) == NewKeyID(v.PubKey())
}
