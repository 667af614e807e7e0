package protocol

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"time"
)

var b64u = base64.RawURLEncoding

func CanonicalJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func SHA256B64u(in []byte) string {
	h := sha256.Sum256(in)
	return b64u.EncodeToString(h[:])
}

func SHA256Hex(in []byte) string {
	h := sha256.Sum256(in)
	return hex.EncodeToString(h[:])
}

// ComputeEventEntryHash chains an event to its predecessor.
func ComputeEventEntryHash(entry EventEntry, previousHash string) (string, error) {
	shape := struct {
		Seq          int64     `json:"seq"`
		TxSignature  string    `json:"tx_signature"`
		EventType    string    `json:"event_type"`
		DataHash     string    `json:"data_hash"`
		PreviousHash string    `json:"previous_hash"`
		RecordedAt   time.Time `json:"recorded_at"`
	}{
		Seq:          entry.Seq,
		TxSignature:  entry.TxSignature,
		EventType:    entry.EventType,
		DataHash:     SHA256B64u(entry.Data),
		PreviousHash: previousHash,
		RecordedAt:   entry.RecordedAt.UTC(),
	}
	raw, err := CanonicalJSON(shape)
	if err != nil {
		return "", err
	}
	return SHA256Hex(raw), nil
}
