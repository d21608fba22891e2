// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package gov implements the on-chain governance subsystem of a proof-of-stake
chain.  Participants submit spending proposals and cast coin-weighted votes on
them through OP_RETURN outputs; when a superblock height is reached the
coinstake of that block must pay exactly the set of winning proposals.

The package maintains an in-memory index of every proposal and vote observed
on the chain, keeps vote-utxo spentness consistent across reorganizations, and
provides the deterministic tally and payee selection used by block validation.
State is never persisted; it is rebuilt from the block history on startup by
LoadGovernanceData.
*/
package gov
