// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gov

import "github.com/btcsuite/btcd/btcutil"

// Start begins forwarding chain notifications into the governance state.
// Block connects are applied live and block disconnects undo exactly what the
// block added.  The handler processes one notification at a time in arrival
// order, which makes live mode single-writer by construction.
func (g *Governance) Start() {
	g.wg.Add(1)
	go g.notificationHandler()
}

// Stop signals the notification handler to exit.
func (g *Governance) Stop() {
	close(g.quit)
}

// WaitForShutdown blocks until the notification handler has exited.
func (g *Governance) WaitForShutdown() {
	g.wg.Wait()
}

// notificationHandler dispatches chain events until the source channel closes
// or Stop is called.  Only the locked critical sections of the block
// processor can delay the notifier.
func (g *Governance) notificationHandler() {
	defer g.wg.Done()

	ntfns := g.chain.Notifications()
	for {
		select {
		case n, ok := <-ntfns:
			if !ok {
				return
			}
			switch n := n.(type) {
			case BlockConnected:
				g.ProcessBlock(n.Block, true)

			case BlockDisconnected:
				g.UndoBlock(g.resolveHeight(n.Block))
			}

		case <-g.quit:
			return
		}
	}
}

// resolveHeight ensures a disconnected block carries its height, looking it
// up by hash when the notifier did not set one.  A block whose height cannot
// be resolved is given an impossible height so no state is touched: votes
// must not be unspent against a guessed height.
func (g *Governance) resolveHeight(block *btcutil.Block) *btcutil.Block {
	if block.Height() != btcutil.BlockHeightUnknown {
		return block
	}
	height, err := g.chain.HeightOf(block.Hash())
	if err != nil {
		log.Warnf("Unable to resolve height of disconnected block "+
			"%v: %v", block.Hash(), err)
		block.SetHeight(int32(^uint32(0) >> 1))
		return block
	}
	block.SetHeight(height)
	return block
}
