package raft

import "go.uber.org/zap"

// applyLoop hands committed entries to the state machine strictly in index
// order, with no gaps. It wakes on notifyApplyCh, which is signalled
// whenever commitIndex advances.
func (n *Node) applyLoop() {
	defer n.wg.Done()
	for {
		select {
		case <-n.stopCh:
			return
		case <-n.notifyApplyCh:
			n.applyCommitted()
		}
	}
}

func (n *Node) applyCommitted() {
	for {
		n.mu.Lock()
		if n.lastApplied >= n.commitIndex {
			n.mu.Unlock()
			return
		}
		index := n.lastApplied + 1
		entry, ok := n.log.EntryAt(index)
		if !ok {
			// Should not happen if commitIndex tracks the log correctly;
			// bail rather than spin.
			n.mu.Unlock()
			return
		}
		waiter := n.waiters[index]
		delete(n.waiters, index)
		n.mu.Unlock()

		result, err := n.sm.Apply(entry.Index, entry.Command)

		n.mu.Lock()
		n.lastApplied = index
		n.mu.Unlock()

		if waiter != nil {
			// The entry actually occupying this index may belong to a
			// different term than the one the waiter proposed at, if this
			// node lost leadership before its own entry committed and a
			// later leader's entry landed on the same index. Deliver the
			// foreign result only to the caller who actually proposed it.
			if entry.Term == waiter.term {
				waiter.result <- applyOutcome{result: result, err: err}
			} else {
				waiter.result <- applyOutcome{err: &NotLeader{Hint: n.LeaderHint()}}
			}
		}
		if err != nil {
			n.logger.Error("state machine apply failed", zap.Uint64("index", index), zap.Error(err))
		}
	}
}
