// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gov

import (
	"bytes"
	"io"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Proposal is a request to pay the given address the given amount in the
// coinstake of the given superblock.  Anyone may submit one by paying the
// proposal fee and embedding the serialized proposal in an OP_RETURN output.
//
// Proposal identity is the digest of the serialized body, so two proposals
// with identical parameters are the same proposal regardless of which
// transaction carried them.
type Proposal struct {
	version     uint8
	name        string
	superblock  int32
	amount      btcutil.Amount
	address     string
	url         string
	description string

	// blockNumber is memory only and records the height of the block the
	// proposal was first observed in.  It is excluded from the hash.
	blockNumber int32
}

// NewProposal returns a proposal with the given user-supplied parameters.
func NewProposal(name string, superblock int32, amount btcutil.Amount,
	address, url, description string) *Proposal {

	return &Proposal{
		version:     NetworkVersion,
		name:        name,
		superblock:  superblock,
		amount:      amount,
		address:     address,
		url:         url,
		description: description,
	}
}

// Name returns the proposal name.
func (p *Proposal) Name() string { return p.name }

// Superblock returns the superblock height the proposal requests payment in.
func (p *Proposal) Superblock() int32 { return p.superblock }

// Amount returns the requested payment amount.
func (p *Proposal) Amount() btcutil.Amount { return p.amount }

// Address returns the encoded payment address.
func (p *Proposal) Address() string { return p.address }

// URL returns the informational url of the proposal.
func (p *Proposal) URL() string { return p.url }

// Description returns the proposal description.
func (p *Proposal) Description() string { return p.description }

// BlockNumber returns the height of the block the proposal was first observed
// in, or 0 if the proposal has not been observed on chain.
func (p *Proposal) BlockNumber() int32 { return p.blockNumber }

// IsNull returns true for the zero proposal.
func (p *Proposal) IsNull() bool { return p.superblock == 0 }

// Serialize encodes the proposal into its canonical byte layout.  The same
// layout is used on the wire and as the preimage of the proposal hash.
func (p *Proposal) Serialize(w io.Writer) error {
	if err := writeObjectHeader(w, p.version, TypeProposal); err != nil {
		return err
	}
	if err := writeInt32(w, p.superblock); err != nil {
		return err
	}
	if err := writeInt64(w, int64(p.amount)); err != nil {
		return err
	}
	if err := wire.WriteVarString(w, pver, p.address); err != nil {
		return err
	}
	if err := wire.WriteVarString(w, pver, p.name); err != nil {
		return err
	}
	if err := wire.WriteVarString(w, pver, p.url); err != nil {
		return err
	}
	return wire.WriteVarString(w, pver, p.description)
}

// Deserialize decodes a proposal from its canonical byte layout.
func (p *Proposal) Deserialize(r io.Reader) error {
	version, objType, err := readObjectHeader(r)
	if err != nil {
		return err
	}
	if version != NetworkVersion {
		return govError(ErrMalformed, "unknown governance version", nil)
	}
	if objType != TypeProposal {
		return govError(ErrMalformed, "payload is not a proposal", nil)
	}
	p.version = version
	if p.superblock, err = readInt32(r); err != nil {
		return err
	}
	amount, err := readInt64(r)
	if err != nil {
		return err
	}
	p.amount = btcutil.Amount(amount)
	if p.address, err = wire.ReadVarString(r, pver); err != nil {
		return err
	}
	if p.name, err = wire.ReadVarString(r, pver); err != nil {
		return err
	}
	if p.url, err = wire.ReadVarString(r, pver); err != nil {
		return err
	}
	p.description, err = wire.ReadVarString(r, pver)
	return err
}

// SerializeSize returns the length of the canonical encoding.
func (p *Proposal) SerializeSize() int {
	var buf bytes.Buffer
	if err := p.Serialize(&buf); err != nil {
		return 0
	}
	return buf.Len()
}

// Hash returns the proposal identity, the digest of the canonical encoding.
func (p *Proposal) Hash() chainhash.Hash {
	var buf bytes.Buffer
	if err := p.Serialize(&buf); err != nil {
		return chainhash.Hash{}
	}
	return chainhash.DoubleHashH(buf.Bytes())
}
