package wal

import (
	"path/filepath"
	"testing"
)

func openTestWAL(t *testing.T) *WAL {
	t.Helper()
	path := filepath.Join(t.TempDir(), "db.wal")
	w := &WAL{Path: path}
	if err := w.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func TestRecoverReplaysOnlyCommittedGroups(t *testing.T) {
	w := openTestWAL(t)

	// Committed transaction 1: page 5.
	w.WriteBegin(1)
	w.WritePageImage(1, 5, pageFilled(0xAA))
	w.WriteCommit(1)

	// Uncommitted (crashed mid-write) transaction 2: page 6, no Commit frame.
	w.WriteBegin(2)
	w.WritePageImage(2, 6, pageFilled(0xBB))

	if err := w.Fsync(); err != nil {
		t.Fatalf("Fsync: %v", err)
	}

	replayed := map[uint64][]byte{}
	rec := NewRecovery(w)
	stats, err := rec.RecoverWithStats(func(pageID uint64, image []byte) error {
		replayed[pageID] = image
		return nil
	})
	if err != nil {
		t.Fatalf("RecoverWithStats: %v", err)
	}

	if stats.CommittedTxns != 1 || stats.UncommittedTxns != 1 {
		t.Fatalf("unexpected txn counts: %+v", stats)
	}
	if _, ok := replayed[5]; !ok {
		t.Fatal("committed page 5 should have been replayed")
	}
	if _, ok := replayed[6]; ok {
		t.Fatal("page from uncommitted transaction must not be replayed")
	}
}

func TestRecoverSkipsFramesBeforeLastCheckpoint(t *testing.T) {
	w := openTestWAL(t)

	w.WriteBegin(1)
	w.WritePageImage(1, 1, pageFilled(0x01))
	w.WriteCommit(1)
	w.WriteCheckpoint()
	w.WriteBegin(2)
	w.WritePageImage(2, 2, pageFilled(0x02))
	w.WriteCommit(2)
	w.Fsync()

	var seen []uint64
	rec := NewRecovery(w)
	if _, err := rec.RecoverWithStats(func(pageID uint64, image []byte) error {
		seen = append(seen, pageID)
		return nil
	}); err != nil {
		t.Fatalf("RecoverWithStats: %v", err)
	}

	if len(seen) != 1 || seen[0] != 2 {
		t.Fatalf("expected only post-checkpoint page 2 replayed, got %v", seen)
	}
}

func pageFilled(b byte) []byte {
	buf := make([]byte, 4096)
	for i := range buf {
		buf[i] = b
	}
	return buf
}
