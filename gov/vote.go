// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gov

import (
	"bytes"
	"io"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// VinHashSize is the size of the truncated input-outpoint digest each vote
// carries.
const VinHashSize = 12

// VinHash is the first VinHashSize bytes of the digest of a transaction
// input's previous outpoint.  A vote declares the vin hash of one input of
// its enclosing transaction, binding the vote to that transaction so the
// payload cannot be replayed elsewhere.
type VinHash [VinHashSize]byte

// MakeVinHash builds the vin hash for a transaction input prevout.
func MakeVinHash(prevout wire.OutPoint) VinHash {
	var buf bytes.Buffer
	_ = writeOutPoint(&buf, &prevout)
	digest := chainhash.DoubleHashH(buf.Bytes())
	var vh VinHash
	copy(vh[:], digest[:VinHashSize])
	return vh
}

// VoteType is the choice a vote casts on a proposal.
type VoteType uint8

// Valid vote choices.
const (
	VoteNo      VoteType = 0
	VoteYes     VoteType = 1
	VoteAbstain VoteType = 2
)

// String returns the lowercase name of the vote type.
func (v VoteType) String() string {
	switch v {
	case VoteYes:
		return "yes"
	case VoteNo:
		return "no"
	case VoteAbstain:
		return "abstain"
	default:
		return "unknown"
	}
}

// VoteTypeFromString converts a case-insensitive yes/no/abstain string into
// the corresponding vote type.
func VoteTypeFromString(s string) (VoteType, bool) {
	switch strings.ToLower(s) {
	case "yes":
		return VoteYes, true
	case "no":
		return VoteNo, true
	case "abstain":
		return VoteAbstain, true
	}
	return VoteAbstain, false
}

// validVoteType returns whether the byte is a known vote choice.
func validVoteType(v VoteType) bool {
	return v <= VoteAbstain
}

// KeyIDSize is the size of a public key hash.
const KeyIDSize = 20

// KeyID is the 160-bit hash of a public key, the on-chain identity of the
// key controlling a voting utxo.
type KeyID [KeyIDSize]byte

// NewKeyID builds a KeyID from a public key.
func NewKeyID(pubKey *btcec.PublicKey) KeyID {
	var id KeyID
	copy(id[:], btcutil.Hash160(pubKey.SerializeCompressed()))
	return id
}

// IsZero returns true for the zero key id.
func (k KeyID) IsZero() bool {
	return k == KeyID{}
}

// Vote casts a choice on a proposal on behalf of an unspent output.  The
// utxo's amount is the vote's weight and the utxo's key must have produced
// the compact signature.
//
// Two digests exist over a vote.  The vote id excludes the choice so that a
// change of vote on the same utxo replaces the previous record.  The sig hash
// covers the choice and the vin hash and is what the signature commits to.
type Vote struct {
	version   uint8
	proposal  chainhash.Hash
	vote      VoteType
	utxo      wire.OutPoint
	vinHash   VinHash
	signature []byte

	// The remaining fields are memory only and never serialized.
	pubKey      *btcec.PublicKey
	keyID       KeyID
	amount      btcutil.Amount
	outpoint    wire.OutPoint // outpoint of the vote's own OP_RETURN output
	time        int64         // block time of the vote
	blockNumber int32         // block containing this vote
	spentBlock  int32         // block that spent the vote utxo, 0 if unspent
	spentHash   chainhash.Hash
}

// NewVote returns an unsigned vote for the given proposal and voting utxo.
func NewVote(proposal chainhash.Hash, vote VoteType, utxo wire.OutPoint,
	vinHash VinHash) *Vote {

	return &Vote{
		version:  NetworkVersion,
		proposal: proposal,
		vote:     vote,
		utxo:     utxo,
		vinHash:  vinHash,
	}
}

// Proposal returns the hash of the proposal being voted on.
func (v *Vote) Proposal() chainhash.Hash { return v.proposal }

// Vote returns the choice cast.
func (v *Vote) Vote() VoteType { return v.vote }

// Utxo returns the output the vote casts on behalf of.  This is not the
// outpoint of the OP_RETURN output carrying the vote; see Outpoint.
func (v *Vote) Utxo() wire.OutPoint { return v.utxo }

// VinHash returns the truncated prevout digest binding the vote to its
// enclosing transaction.
func (v *Vote) VinHash() VinHash { return v.vinHash }

// Signature returns the compact signature over the sig hash.
func (v *Vote) Signature() []byte { return v.signature }

// PubKey returns the public key recovered from the signature, or nil if the
// vote has not been validated or signed.
func (v *Vote) PubKey() *btcec.PublicKey { return v.pubKey }

// KeyID returns the key id of the vote's utxo.
func (v *Vote) KeyID() KeyID { return v.keyID }

// Amount returns the amount of the vote's utxo.
func (v *Vote) Amount() btcutil.Amount { return v.amount }

// Outpoint returns the outpoint of the OP_RETURN output that carried the
// vote.
func (v *Vote) Outpoint() wire.OutPoint { return v.outpoint }

// Time returns the block time of the block that recorded the vote.
func (v *Vote) Time() int64 { return v.time }

// BlockNumber returns the height of the block that recorded the vote.
func (v *Vote) BlockNumber() int32 { return v.blockNumber }

// SpentBlock returns the height of the block that spent the vote utxo, or 0.
func (v *Vote) SpentBlock() int32 { return v.spentBlock }

// Spent returns true once the vote's utxo has been consumed by a block.
func (v *Vote) Spent() bool { return v.spentBlock > 0 }

// IsNull returns true for the zero vote.
func (v *Vote) IsNull() bool {
	return v.utxo == wire.OutPoint{}
}

// spend marks the vote utxo as consumed by the given block and transaction.
func (v *Vote) spend(block int32, txHash chainhash.Hash) {
	v.spentBlock = block
	v.spentHash = txHash
}

// unspend reverts a spend marker.  The revert only applies when the recorded
// spending block and transaction match exactly, so a disconnect of an
// unrelated block cannot resurrect the vote.
func (v *Vote) unspend(block int32, txHash chainhash.Hash) bool {
	if v.spentBlock == block && v.spentHash == txHash {
		v.spentBlock = 0
		v.spentHash = chainhash.Hash{}
		return true
	}
	return false
}

// Sign signs the vote's sig hash with the given key and retains the
// recovered public key.  The signature is compact so validators can recover
// the key without additional data.
func (v *Vote) Sign(key *btcec.PrivateKey) error {
	sigHash := v.SigHash()
	sig := ecdsa.SignCompact(key, sigHash[:], true)
	pubKey, _, err := ecdsa.RecoverCompact(sig, sigHash[:])
	if err != nil {
		return err
	}
	v.signature = sig
	v.pubKey = pubKey
	return nil
}

// Serialize encodes the vote into its canonical byte layout.
func (v *Vote) Serialize(w io.Writer) error {
	if err := writeObjectHeader(w, v.version, TypeVote); err != nil {
		return err
	}
	if err := writeHash(w, &v.proposal); err != nil {
		return err
	}
	if _, err := w.Write([]byte{byte(v.vote)}); err != nil {
		return err
	}
	if err := writeOutPoint(w, &v.utxo); err != nil {
		return err
	}
	if _, err := w.Write(v.vinHash[:]); err != nil {
		return err
	}
	return wire.WriteVarBytes(w, pver, v.signature)
}

// Deserialize decodes a vote from its canonical byte layout.  Signature
// recovery is deliberately not performed here; see CheckVote.
func (v *Vote) Deserialize(r io.Reader) error {
	version, objType, err := readObjectHeader(r)
	if err != nil {
		return err
	}
	if version != NetworkVersion {
		return govError(ErrMalformed, "unknown governance version", nil)
	}
	if objType != TypeVote {
		return govError(ErrMalformed, "payload is not a vote", nil)
	}
	v.version = version
	if err := readHash(r, &v.proposal); err != nil {
		return err
	}
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return err
	}
	v.vote = VoteType(b[0])
	if err := readOutPoint(r, &v.utxo); err != nil {
		return err
	}
	if _, err := io.ReadFull(r, v.vinHash[:]); err != nil {
		return err
	}
	v.signature, err = wire.ReadVarBytes(r, pver, maxPayloadSize,
		"vote signature")
	return err
}

// VoteID returns the vote identity.  The choice is excluded from the digest
// so that a later vote on the same utxo for the same proposal replaces the
// earlier one.
func (v *Vote) VoteID() chainhash.Hash {
	var buf bytes.Buffer
	_ = writeObjectHeader(&buf, v.version, TypeVote)
	_ = writeHash(&buf, &v.proposal)
	_ = writeOutPoint(&buf, &v.utxo)
	return chainhash.DoubleHashH(buf.Bytes())
}

// SigHash returns the digest the vote signature commits to.  Unlike the vote
// id it covers the choice and the vin hash, binding the signature to a
// specific choice inside a specific transaction.
func (v *Vote) SigHash() chainhash.Hash {
	var buf bytes.Buffer
	_ = writeObjectHeader(&buf, v.version, TypeVote)
	_ = writeHash(&buf, &v.proposal)
	buf.WriteByte(byte(v.vote))
	_ = writeOutPoint(&buf, &v.utxo)
	buf.Write(v.vinHash[:])
	return chainhash.DoubleHashH(buf.Bytes())
}
