package service

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/moneyfestation-dev/manifest-wall/internal/crypto"
	"github.com/moneyfestation-dev/manifest-wall/internal/host"
	"github.com/moneyfestation-dev/manifest-wall/internal/program"
	"github.com/moneyfestation-dev/manifest-wall/internal/protocol"
	"github.com/moneyfestation-dev/manifest-wall/internal/storage"
)

// MaxAirdropLamports bounds a single faucet request.
const MaxAirdropLamports uint64 = 100_000_000_000

type WallNode struct {
	runtime       *host.Runtime
	store         storage.Store
	signer        *crypto.Signer
	adminToken    string
	enableAirdrop bool
	service       string
	version       string
	now           func() time.Time
}

type WallNodeParams struct {
	Runtime       *host.Runtime
	Signer        *crypto.Signer
	AdminToken    string
	EnableAirdrop bool
	Service       string
	Version       string
}

func NewWallNode(params WallNodeParams) (*WallNode, error) {
	if params.Runtime == nil {
		return nil, fmt.Errorf("runtime is required")
	}
	if params.Signer == nil {
		return nil, fmt.Errorf("signer is required")
	}
	if params.EnableAirdrop && params.AdminToken == "" {
		return nil, fmt.Errorf("admin token is required when airdrop is enabled")
	}
	if params.Service == "" {
		params.Service = "manifest-wall-node"
	}
	if params.Version == "" {
		params.Version = "dev"
	}
	return &WallNode{
		runtime:       params.Runtime,
		store:         params.Runtime.Store(),
		signer:        params.Signer,
		adminToken:    params.AdminToken,
		enableAirdrop: params.EnableAirdrop,
		service:       params.Service,
		version:       params.Version,
		now:           time.Now,
	}, nil
}

func (s *WallNode) VerifyAdminToken(token string) bool {
	token = strings.TrimSpace(token)
	if token == "" || s.adminToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) == 1
}

// SubmitTransaction decodes and processes a base64 wire transaction.
func (s *WallNode) SubmitTransaction(ctx context.Context, req protocol.SubmitTransactionRequest) (protocol.Receipt, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(req.Transaction))
	if err != nil {
		return protocol.Receipt{}, BadRequest("transaction is not valid base64", err)
	}
	var tx protocol.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		return protocol.Receipt{}, BadRequest("transaction did not decode", err)
	}
	receipt, err := s.runtime.Process(ctx, tx)
	if err != nil {
		return receipt, mapRuntimeError(err)
	}
	return receipt, nil
}

func mapRuntimeError(err error) error {
	var txErr *host.TransactionError
	switch {
	case errors.As(err, &txErr):
		appErr := NewAppError(http.StatusUnprocessableEntity, "TRANSACTION_FAILED", txErr.Cause.Name+": "+txErr.Cause.Msg, false, err)
		appErr.ProgramCode = txErr.Cause.Code
		return appErr
	case errors.Is(err, host.ErrInvalidTransaction):
		return NewAppError(http.StatusBadRequest, "INVALID_TRANSACTION", "transaction failed verification", false, err)
	case errors.Is(err, host.ErrAlreadyProcessed):
		return NewAppError(http.StatusConflict, "ALREADY_PROCESSED", "transaction was already processed", false, err)
	case errors.Is(err, host.ErrConflictExhausted):
		return NewAppError(http.StatusServiceUnavailable, "LEDGER_BUSY", "transaction conflicted with concurrent writers", true, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return NewAppError(http.StatusServiceUnavailable, "CANCELED", "request canceled", true, err)
	}
	if pe, ok := program.AsError(err); ok {
		appErr := NewAppError(http.StatusUnprocessableEntity, "PROGRAM_ERROR", pe.Name+": "+pe.Msg, false, err)
		appErr.ProgramCode = pe.Code
		return appErr
	}
	return Internal("process transaction", err)
}

func (s *WallNode) GetReceipt(ctx context.Context, signature string) (protocol.Receipt, error) {
	if _, err := protocol.ParseSignature(signature); err != nil {
		return protocol.Receipt{}, BadRequest("signature is not valid base58", err)
	}
	var (
		receipt protocol.Receipt
		found   bool
	)
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		receipt, found, err = tx.GetReceipt(ctx, signature)
		return err
	})
	if err != nil {
		return protocol.Receipt{}, Internal("get receipt", err)
	}
	if !found {
		return protocol.Receipt{}, NotFound("transaction not found")
	}
	return receipt, nil
}

func (s *WallNode) GetAccount(ctx context.Context, address protocol.Pubkey) (protocol.AccountResponse, error) {
	var (
		acct  protocol.Account
		found bool
	)
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		acct, found, err = tx.GetAccount(ctx, address)
		return err
	})
	if err != nil {
		return protocol.AccountResponse{}, Internal("get account", err)
	}
	if !found {
		return protocol.AccountResponse{}, NotFound("account not found")
	}
	return protocol.AccountResponse{Address: acct.Address, Lamports: acct.Lamports, Owner: acct.Owner, Data: acct.Data}, nil
}

func (s *WallNode) GetWall(ctx context.Context, owner protocol.Pubkey, wallID uint64) (protocol.WallResponse, error) {
	wall, acct, err := s.runtime.LoadWall(ctx, owner, wallID)
	if err != nil {
		if errors.Is(err, program.ErrNotFound) {
			return protocol.WallResponse{}, NotFound("wall not found")
		}
		if pe, ok := program.AsError(err); ok {
			appErr := NewAppError(http.StatusConflict, "WALL_INVALID", pe.Name+": "+pe.Msg, false, err)
			appErr.ProgramCode = pe.Code
			return protocol.WallResponse{}, appErr
		}
		return protocol.WallResponse{}, Internal("load wall", err)
	}
	return protocol.WallResponse{Address: acct.Address, Wall: wall, Rent: acct.Lamports}, nil
}

func (s *WallNode) ListEvents(ctx context.Context, afterSeq int64, limit int) (protocol.EventsPage, error) {
	if afterSeq < 0 {
		return protocol.EventsPage{}, BadRequest("after must be non-negative", nil)
	}
	var events []protocol.EventEntry
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		events, err = tx.ListEvents(ctx, afterSeq, limit)
		return err
	})
	if err != nil {
		return protocol.EventsPage{}, Internal("list events", err)
	}
	page := protocol.EventsPage{Events: events, Next: afterSeq}
	if len(events) > 0 {
		page.Next = events[len(events)-1].Seq
	}
	return page, nil
}

// EventHead signs the Merkle root over every entry hash in the log.
func (s *WallNode) EventHead(ctx context.Context) (protocol.EventHead, error) {
	hashes, latest, err := s.logSnapshot(ctx)
	if err != nil {
		return protocol.EventHead{}, err
	}
	return s.signHead(hashes, latest)
}

// EventProof returns the inclusion proof of event seq against a fresh head.
func (s *WallNode) EventProof(ctx context.Context, seq int64) (protocol.EventProof, error) {
	hashes, latest, err := s.logSnapshot(ctx)
	if err != nil {
		return protocol.EventProof{}, err
	}
	if seq < 1 || seq > int64(len(hashes)) {
		return protocol.EventProof{}, NotFound("event not found")
	}
	head, err := s.signHead(hashes, latest)
	if err != nil {
		return protocol.EventProof{}, err
	}
	index := int(seq - 1)
	proof, err := protocol.NewEventTree(hashes).Proof(index)
	if err != nil {
		return protocol.EventProof{}, Internal("compute inclusion proof", err)
	}
	return protocol.EventProof{Seq: seq, EntryHash: hashes[index], Proof: proof, Head: head}, nil
}

func (s *WallNode) logSnapshot(ctx context.Context) ([]string, protocol.EventEntry, error) {
	var (
		hashes []string
		latest protocol.EventEntry
	)
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		if hashes, err = tx.ListEntryHashes(ctx); err != nil {
			return err
		}
		latest, _, err = tx.LatestEvent(ctx)
		return err
	})
	if err != nil {
		return nil, protocol.EventEntry{}, Internal("read event log", err)
	}
	return hashes, latest, nil
}

func (s *WallNode) signHead(hashes []string, latest protocol.EventEntry) (protocol.EventHead, error) {
	head := protocol.EventHead{
		TreeSize:   len(hashes),
		RootHash:   protocol.NewEventTree(hashes).Root(),
		LatestHash: latest.EntryHash,
		Timestamp:  s.now().UTC(),
		KeyID:      s.signer.KeyID,
	}
	payload, err := protocol.EventHeadSignaturePayload(head)
	if err != nil {
		return protocol.EventHead{}, Internal("encode event head", err)
	}
	head.Signature = s.signer.Sign(payload)
	return head, nil
}

func (s *WallNode) Airdrop(ctx context.Context, address protocol.Pubkey, req protocol.AirdropRequest) (protocol.AccountResponse, error) {
	if !s.enableAirdrop {
		return protocol.AccountResponse{}, NewAppError(http.StatusForbidden, "AIRDROP_DISABLED", "airdrop is disabled on this node", false, nil)
	}
	if req.Lamports == 0 || req.Lamports > MaxAirdropLamports {
		return protocol.AccountResponse{}, BadRequest(fmt.Sprintf("lamports must be between 1 and %d", MaxAirdropLamports), nil)
	}
	acct, err := s.runtime.Airdrop(ctx, address, req.Lamports)
	if err != nil {
		return protocol.AccountResponse{}, mapRuntimeError(err)
	}
	return protocol.AccountResponse{Address: acct.Address, Lamports: acct.Lamports, Owner: acct.Owner, Data: acct.Data}, nil
}

func (s *WallNode) Health(ctx context.Context) (protocol.HealthResponse, error) {
	var (
		latest protocol.EventEntry
		found  bool
	)
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		latest, found, err = tx.LatestEvent(ctx)
		return err
	})
	if err != nil {
		return protocol.HealthResponse{}, Internal("get latest event", err)
	}
	out := protocol.HealthResponse{
		Service:     s.service,
		Version:     s.version,
		Status:      "ok",
		ProgramID:   protocol.WallProgramID,
		Time:        s.now().UTC(),
		StoreDriver: s.store.Driver(),
	}
	if found {
		out.LatestSeq = latest.Seq
		out.LatestHash = latest.EntryHash
	}
	return out, nil
}
