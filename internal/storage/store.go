package storage

import (
	"context"
	"errors"

	"github.com/moneyfestation-dev/manifest-wall/internal/protocol"
)

var (
	// ErrConflict reports a serialization conflict; the whole unit may be retried.
	ErrConflict      = errors.New("storage transaction conflict")
	ErrNotFound      = errors.New("not found")
	ErrReceiptExists = errors.New("receipt already exists")
)

// Store runs units of work as serializable transactions. Update commits when
// fn returns nil and rolls back otherwise.
type Store interface {
	Update(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
	Driver() string
	Close() error
}

// Tx is the ledger state visible inside one transaction.
type Tx interface {
	GetAccount(ctx context.Context, address protocol.Pubkey) (protocol.Account, bool, error)
	PutAccount(ctx context.Context, acct protocol.Account) error

	// AppendEvent assigns the next sequence number and chains the entry hash.
	AppendEvent(ctx context.Context, entry protocol.EventEntry) (protocol.EventEntry, error)
	ListEvents(ctx context.Context, afterSeq int64, limit int) ([]protocol.EventEntry, error)
	LatestEvent(ctx context.Context) (protocol.EventEntry, bool, error)
	ListEntryHashes(ctx context.Context) ([]string, error)

	GetReceipt(ctx context.Context, signature string) (protocol.Receipt, bool, error)
	// PutReceipt returns ErrReceiptExists when signature was already recorded.
	PutReceipt(ctx context.Context, receipt protocol.Receipt) error
}
