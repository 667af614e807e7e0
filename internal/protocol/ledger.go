package protocol

import (
	"encoding/json"
	"time"
)

// Account is a balance-bearing ledger entry. System-owned accounts are user
// wallets; program-owned accounts hold program records such as a Wall.
type Account struct {
	Address  Pubkey `json:"address"`
	Lamports uint64 `json:"lamports"`
	Owner    Pubkey `json:"owner"`
	Data     []byte `json:"data,omitempty"`
}

// EventEntry is one record of the append-only, hash-chained event log.
type EventEntry struct {
	Seq          int64           `json:"seq"`
	EntryHash    string          `json:"entry_hash"`
	PreviousHash string          `json:"previous_hash,omitempty"`
	TxSignature  string          `json:"tx_signature"`
	EventType    string          `json:"event_type"`
	Data         []byte          `json:"data"`
	Payload      json.RawMessage `json:"payload"`
	RecordedAt   time.Time       `json:"recorded_at"`
}

const (
	ReceiptStatusOK     = "ok"
	ReceiptStatusFailed = "failed"
)

type ReceiptError struct {
	Code    uint32 `json:"code"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Receipt is the runtime's transaction-level record, kept for both outcomes.
type Receipt struct {
	Signature   string        `json:"signature"`
	Status      string        `json:"status"`
	FeePayer    Pubkey        `json:"fee_payer"`
	Fee         uint64        `json:"fee"`
	Error       *ReceiptError `json:"error,omitempty"`
	Logs        []string      `json:"logs"`
	EventSeqs   []int64       `json:"event_seqs,omitempty"`
	ProcessedAt time.Time     `json:"processed_at"`
}

func (r Receipt) Succeeded() bool {
	return r.Status == ReceiptStatusOK
}

// EventHead commits to the whole event log at a given size.
type EventHead struct {
	TreeSize   int       `json:"tree_size"`
	RootHash   string    `json:"root_hash"`
	LatestHash string    `json:"latest_hash,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	KeyID      string    `json:"kid"`
	Signature  string    `json:"sig"`
}

// EventProof shows that the entry at Seq is covered by Head.
type EventProof struct {
	Seq       int64       `json:"seq"`
	EntryHash string      `json:"entry_hash"`
	Proof     MerkleProof `json:"proof"`
	Head      EventHead   `json:"head"`
}
