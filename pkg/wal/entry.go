// Package wal implements the write-ahead journal used for crash recovery
// (spec.md §4.2): page-image framing with Begin/PageImage/Commit/Checkpoint
// frames, each carrying an LSN and a CRC32 checksum, with forward-scan
// recovery that discards a trailing incomplete transaction group.
//
// Grounded on the teacher's pkg/wal, which frames a key-value oplog with
// the same LSN/TxnID header and CRC32 trailer and the same file-rotation
// machinery; this package keeps that framing and retargets the payload
// from key/value pairs to whole page images, since recovery here operates
// on pages, not logical keys.
package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"
)

// FrameType identifies what a journal frame records.
type FrameType byte

const (
	// FrameBegin opens a transaction group at a given LSN.
	FrameBegin FrameType = 1
	// FramePageImage carries the post-image of one dirty page.
	FramePageImage FrameType = 2
	// FrameCommit closes a transaction group; only groups that reach a
	// Commit frame are replayed during recovery.
	FrameCommit FrameType = 3
	// FrameCheckpoint marks that every prior frame's pages are durable in
	// the data file and may be dropped from the journal.
	FrameCheckpoint FrameType = 4
)

const (
	// EntryHeaderSize: LSN(8) + TxnID(8) + FrameType(1) + Reserved(7) +
	// KeyLen(4) + ValLen(4) + Timestamp(8).
	EntryHeaderSize = 40
)

// Entry is a single journal frame. Key carries the 8-byte big-endian page
// id for FramePageImage frames and is empty otherwise; Value carries the
// page image for FramePageImage frames and is empty otherwise.
type Entry struct {
	LSN       uint64
	TxnID     uint64
	OpType    FrameType
	Key       []byte
	Value     []byte
	Timestamp time.Time
}

// NewPageImageEntry builds a FramePageImage entry for pageID's contents.
func NewPageImageEntry(lsn, txnID uint64, pageID uint64, image []byte) Entry {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, pageID)
	return Entry{LSN: lsn, TxnID: txnID, OpType: FramePageImage, Key: key, Value: image, Timestamp: time.Now()}
}

// PageID decodes the page id carried by a FramePageImage entry.
func (e *Entry) PageID() uint64 {
	if len(e.Key) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(e.Key)
}

// Encode serializes the entry to bytes with a CRC32 trailer.
// Format: [Header(40)] [Key] [Value] [CRC32(4)]
func (e *Entry) Encode() []byte {
	keyLen := len(e.Key)
	valLen := len(e.Value)
	totalSize := EntryHeaderSize + keyLen + valLen + 4

	buf := make([]byte, totalSize)

	binary.LittleEndian.PutUint64(buf[0:8], e.LSN)
	binary.LittleEndian.PutUint64(buf[8:16], e.TxnID)
	buf[16] = byte(e.OpType)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(keyLen))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(valLen))
	binary.LittleEndian.PutUint64(buf[32:40], uint64(e.Timestamp.Unix()))

	offset := EntryHeaderSize
	copy(buf[offset:], e.Key)
	offset += keyLen
	copy(buf[offset:], e.Value)
	offset += valLen

	crc := crc32.ChecksumIEEE(buf[:offset])
	binary.LittleEndian.PutUint32(buf[offset:offset+4], crc)

	return buf
}

// DecodeEntry deserializes a journal frame from bytes, verifying its CRC32.
func DecodeEntry(data []byte) (*Entry, error) {
	if len(data) < EntryHeaderSize+4 {
		return nil, ErrTruncated
	}

	keyLen := binary.LittleEndian.Uint32(data[24:28])
	valLen := binary.LittleEndian.Uint32(data[28:32])
	expectedSize := EntryHeaderSize + int(keyLen) + int(valLen) + 4
	if len(data) < expectedSize {
		return nil, ErrTruncated
	}

	dataLen := len(data)
	storedCRC := binary.LittleEndian.Uint32(data[dataLen-4:])
	computedCRC := crc32.ChecksumIEEE(data[:dataLen-4])
	if storedCRC != computedCRC {
		return nil, ErrCorrupted
	}

	entry := &Entry{
		LSN:    binary.LittleEndian.Uint64(data[0:8]),
		TxnID:  binary.LittleEndian.Uint64(data[8:16]),
		OpType: FrameType(data[16]),
	}

	timestamp := binary.LittleEndian.Uint64(data[32:40])
	entry.Timestamp = time.Unix(int64(timestamp), 0)

	offset := EntryHeaderSize
	if keyLen > 0 {
		entry.Key = make([]byte, keyLen)
		copy(entry.Key, data[offset:offset+int(keyLen)])
		offset += int(keyLen)
	}
	if valLen > 0 {
		entry.Value = make([]byte, valLen)
		copy(entry.Value, data[offset:offset+int(valLen)])
	}

	return entry, nil
}

// Size returns the encoded size of the entry.
func (e *Entry) Size() int {
	return EntryHeaderSize + len(e.Key) + len(e.Value) + 4
}

func (e *Entry) String() string {
	opName := "UNKNOWN"
	switch e.OpType {
	case FrameBegin:
		opName = "BEGIN"
	case FramePageImage:
		opName = "PAGE_IMAGE"
	case FrameCommit:
		opName = "COMMIT"
	case FrameCheckpoint:
		opName = "CHECKPOINT"
	}
	return fmt.Sprintf("WAL[LSN=%d TxnID=%d Frame=%s KeyLen=%d ValLen=%d]",
		e.LSN, e.TxnID, opName, len(e.Key), len(e.Value))
}
