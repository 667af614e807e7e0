package protocol

import "time"

type SubmitTransactionRequest struct {
	// Transaction is the base64 (std) encoding of Transaction.MarshalBinary.
	Transaction string `json:"transaction"`
}

type AirdropRequest struct {
	Lamports uint64 `json:"lamports"`
}

type AccountResponse struct {
	Address  Pubkey `json:"address"`
	Lamports uint64 `json:"lamports"`
	Owner    Pubkey `json:"owner"`
	Data     []byte `json:"data,omitempty"`
}

type WallResponse struct {
	Address Pubkey `json:"address"`
	Wall    Wall   `json:"wall"`
	Rent    uint64 `json:"lamports"`
}

type EventsPage struct {
	Events []EventEntry `json:"events"`
	Next   int64        `json:"next"`
}

type HealthResponse struct {
	Service     string    `json:"service"`
	Version     string    `json:"version"`
	Status      string    `json:"status"`
	ProgramID   Pubkey    `json:"program_id"`
	Time        time.Time `json:"time"`
	LatestSeq   int64     `json:"latest_seq,omitempty"`
	LatestHash  string    `json:"latest_hash,omitempty"`
	StoreDriver string    `json:"store_driver"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Retryable   bool   `json:"retryable"`
	ProgramCode uint32 `json:"program_code,omitempty"`
}

// VerifyCheck is one named outcome of an audit.
type VerifyCheck struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Details string `json:"details,omitempty"`
}
