package protocol

import "time"

func EventHeadSignaturePayload(head EventHead) ([]byte, error) {
	type payload struct {
		TreeSize   int       `json:"tree_size"`
		RootHash   string    `json:"root_hash"`
		LatestHash string    `json:"latest_hash"`
		Timestamp  time.Time `json:"timestamp"`
		KeyID      string    `json:"kid"`
	}
	return CanonicalJSON(payload{
		TreeSize:   head.TreeSize,
		RootHash:   head.RootHash,
		LatestHash: head.LatestHash,
		Timestamp:  head.Timestamp,
		KeyID:      head.KeyID,
	})
}
