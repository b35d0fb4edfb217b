package wal

import (
	"fmt"
	"os"
)

// ReplayFunc applies a recovered page image to the data file.
type ReplayFunc func(pageID uint64, image []byte) error

// Recovery manages crash recovery from the journal.
type Recovery struct {
	wal *WAL
}

// NewRecovery creates a recovery manager.
func NewRecovery(wal *WAL) *Recovery {
	return &Recovery{wal: wal}
}

// Recover replays every committed transaction group's page images in LSN
// order. A transaction group with no matching Commit frame — a write that
// was interrupted mid-commit — is discarded entirely (spec.md §4.2).
func (r *Recovery) Recover(replay ReplayFunc) error {
	_, err := r.RecoverWithStats(replay)
	return err
}

// Transaction is a group of journal frames sharing one transaction id.
type Transaction struct {
	TxnID     uint64
	StartLSN  uint64
	Entries   []*Entry
	Committed bool
}

// groupByTransaction groups frames by transaction id, in first-seen order.
// Checkpoint frames are not part of any group.
func (r *Recovery) groupByTransaction(entries []*Entry) []*Transaction {
	txnMap := make(map[uint64]*Transaction)
	var txnList []*Transaction

	for _, entry := range entries {
		if entry.OpType == FrameCheckpoint {
			continue
		}

		txn, exists := txnMap[entry.TxnID]
		if !exists {
			txn = &Transaction{TxnID: entry.TxnID, StartLSN: entry.LSN}
			txnMap[entry.TxnID] = txn
			txnList = append(txnList, txn)
		}

		if entry.OpType == FrameCommit {
			txn.Committed = true
		} else {
			txn.Entries = append(txn.Entries, entry)
		}
	}

	return txnList
}

// findLastCheckpoint returns the most recent checkpoint frame, if any.
func (r *Recovery) findLastCheckpoint(entries []*Entry) *Entry {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].OpType == FrameCheckpoint {
			return entries[i]
		}
	}
	return nil
}

// RecoveryStats summarizes a recovery pass.
type RecoveryStats struct {
	TotalEntries       int
	CommittedTxns      int
	UncommittedTxns    int
	ReplayedOperations int
	LastCheckpointLSN  uint64
}

// RecoverWithStats performs recovery and returns statistics describing what
// was found and replayed, for logging (spec.md §9 ambient logging).
func (r *Recovery) RecoverWithStats(replay ReplayFunc) (*RecoveryStats, error) {
	stats := &RecoveryStats{}

	files, err := r.wal.findLogFiles()
	if err != nil {
		if os.IsNotExist(err) {
			return stats, nil
		}
		return nil, err
	}

	entries, err := ReadAll(files)
	if err != nil {
		return nil, fmt.Errorf("read journal entries: %w", err)
	}
	stats.TotalEntries = len(entries)

	transactions := r.groupByTransaction(entries)

	lastCheckpoint := r.findLastCheckpoint(entries)
	if lastCheckpoint != nil {
		stats.LastCheckpointLSN = lastCheckpoint.LSN
	}

	for _, txn := range transactions {
		if lastCheckpoint != nil && txn.StartLSN < lastCheckpoint.LSN {
			continue
		}

		if !txn.Committed {
			stats.UncommittedTxns++
			continue
		}

		stats.CommittedTxns++
		for _, entry := range txn.Entries {
			if entry.OpType != FramePageImage {
				continue
			}
			if err := replay(entry.PageID(), entry.Value); err != nil {
				return stats, fmt.Errorf("replay failed at LSN %d: %w", entry.LSN, err)
			}
			stats.ReplayedOperations++
		}
	}

	return stats, nil
}
