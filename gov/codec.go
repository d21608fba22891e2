// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gov

import (
	"encoding/binary"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// NetworkVersion is the serialization version all governance payloads carry
// in their first byte.  Payloads with any other version are skipped.
const NetworkVersion uint8 = 0x01

// ObjectType identifies the kind of governance object encoded in an
// OP_RETURN payload.
type ObjectType uint8

// Governance object types.
const (
	TypeNone     ObjectType = 0
	TypeProposal ObjectType = 1
	TypeVote     ObjectType = 2
)

// String returns a human-readable object type name.
func (t ObjectType) String() string {
	switch t {
	case TypeProposal:
		return "proposal"
	case TypeVote:
		return "vote"
	default:
		return "none"
	}
}

// MaxOpReturnRelay is the maximum total size of an OP_RETURN output script
// carrying governance data.  Three bytes are consumed by the OP_RETURN opcode
// and pushdata opcodes, so the payload itself may be at most
// MaxOpReturnRelay-3 bytes.
const MaxOpReturnRelay = 160

// maxPayloadSize is the largest governance payload that fits in a relayed
// OP_RETURN script.
const maxPayloadSize = MaxOpReturnRelay - 3

// pver is the protocol version passed to the wire var-length encoders.  The
// governance codec has a single canonical format, so this never changes the
// encoding.
const pver uint32 = 0

// writeObjectHeader serializes the two-byte network object header.
func writeObjectHeader(w io.Writer, version uint8, objType ObjectType) error {
	_, err := w.Write([]byte{version, byte(objType)})
	return err
}

// readObjectHeader deserializes the two-byte network object header.
func readObjectHeader(r io.Reader) (uint8, ObjectType, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, TypeNone, err
	}
	return b[0], ObjectType(b[1]), nil
}

// writeInt32 serializes a 32-bit integer in little-endian order.
func writeInt32(w io.Writer, v int32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	_, err := w.Write(b[:])
	return err
}

// readInt32 deserializes a little-endian 32-bit integer.
func readInt32(r io.Reader) (int32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b[:])), nil
}

// writeInt64 serializes a 64-bit integer in little-endian order.
func writeInt64(w io.Writer, v int64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	_, err := w.Write(b[:])
	return err
}

// readInt64 deserializes a little-endian 64-bit integer.
func readInt64(r io.Reader) (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b[:])), nil
}

// writeOutPoint serializes an outpoint as its 32-byte transaction hash
// followed by the little-endian output index.
func writeOutPoint(w io.Writer, op *wire.OutPoint) error {
	if _, err := w.Write(op.Hash[:]); err != nil {
		return err
	}
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], op.Index)
	_, err := w.Write(b[:])
	return err
}

// readOutPoint deserializes an outpoint.
func readOutPoint(r io.Reader, op *wire.OutPoint) error {
	if _, err := io.ReadFull(r, op.Hash[:]); err != nil {
		return err
	}
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return err
	}
	op.Index = binary.LittleEndian.Uint32(b[:])
	return nil
}

// writeHash serializes a 32-byte hash.
func writeHash(w io.Writer, h *chainhash.Hash) error {
	_, err := w.Write(h[:])
	return err
}

// readHash deserializes a 32-byte hash.
func readHash(r io.Reader, h *chainhash.Hash) error {
	_, err := io.ReadFull(r, h[:])
	return err
}

// ExtractPayload returns the governance payload embedded in the given output
// script, or nil if the script is not a governance carrier.  A carrier script
// starts with OP_RETURN; the first non-empty push-data is taken as the
// payload.  Script parse failures yield nil rather than an error since
// malformed carriers are simply skipped.
func ExtractPayload(pkScript []byte) []byte {
	if len(pkScript) == 0 || pkScript[0] != txscript.OP_RETURN {
		return nil
	}
	tokenizer := txscript.MakeScriptTokenizer(0, pkScript[1:])
	for tokenizer.Next() {
		if data := tokenizer.Data(); len(data) > 0 {
			return data
		}
	}
	return nil
}

// hashGreater compares two hashes as unsigned 256-bit little-endian integers
// and returns true if a > b.  This is the tie-breaking order used for
// competing votes with equal timestamps and must not change, as it is
// consensus critical.
func hashGreater(a, b *chainhash.Hash) bool {
	for i := chainhash.HashSize - 1; i >= 0; i-- {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return false
}
