package storage

import (
	"fmt"

	"github.com/moneyfestation-dev/manifest-wall/internal/protocol"
)

// ChainEvent fills the sequence number and hashes of entry given the current
// log head. Backends call it inside the transaction that appends the entry.
func ChainEvent(head protocol.EventEntry, hasHead bool, entry protocol.EventEntry) (protocol.EventEntry, error) {
	entry.Seq = 1
	entry.PreviousHash = ""
	if hasHead {
		entry.Seq = head.Seq + 1
		entry.PreviousHash = head.EntryHash
	}
	entry.RecordedAt = entry.RecordedAt.UTC()
	hash, err := protocol.ComputeEventEntryHash(entry, entry.PreviousHash)
	if err != nil {
		return protocol.EventEntry{}, fmt.Errorf("compute entry hash: %w", err)
	}
	entry.EntryHash = hash
	return entry, nil
}

// ClampLimit bounds page sizes for event listings.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	}
	return limit
}
