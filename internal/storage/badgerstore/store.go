package badgerstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/moneyfestation-dev/manifest-wall/internal/protocol"
	"github.com/moneyfestation-dev/manifest-wall/internal/storage"
)

const (
	prefixAccount = "acct/"
	prefixEvent   = "evt/"
	prefixReceipt = "rcpt/"
	keyEventHead  = "meta/event_head"
)

type Options struct {
	Path     string
	InMemory bool
	Logger   *slog.Logger
}

// Store is an embedded single-process ledger store on badger's SSI transactions.
type Store struct {
	db *badger.DB
}

var _ storage.Store = (*Store)(nil)

func Open(opts Options) (*Store, error) {
	bopts := badger.DefaultOptions(opts.Path)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts.Logger = nil
	if opts.Logger != nil {
		bopts.Logger = slogAdapter{logger: opts.Logger.With("component", "badger")}
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Driver() string {
	return "badger"
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Update(ctx context.Context, fn func(storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return fn(&tx{txn: txn})
	})
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%w: %v", storage.ErrConflict, err)
	}
	return err
}

func (s *Store) View(ctx context.Context, fn func(storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		return fn(&tx{txn: txn})
	})
}

type tx struct {
	txn *badger.Txn
}

type eventHead struct {
	Seq       int64  `json:"seq"`
	EntryHash string `json:"entry_hash"`
}

func accountKey(address protocol.Pubkey) []byte {
	return append([]byte(prefixAccount), address[:]...)
}

func eventKey(seq int64) []byte {
	return binary.BigEndian.AppendUint64([]byte(prefixEvent), uint64(seq))
}

func receiptKey(signature string) []byte {
	return []byte(prefixReceipt + signature)
}

func (t *tx) getJSON(key []byte, out any) (bool, error) {
	item, err := t.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
	if err != nil {
		return false, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

func (t *tx) setJSON(key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return t.txn.Set(key, raw)
}

func (t *tx) GetAccount(_ context.Context, address protocol.Pubkey) (protocol.Account, bool, error) {
	var acct protocol.Account
	ok, err := t.getJSON(accountKey(address), &acct)
	return acct, ok, err
}

func (t *tx) PutAccount(_ context.Context, acct protocol.Account) error {
	return t.setJSON(accountKey(acct.Address), acct)
}

func (t *tx) AppendEvent(ctx context.Context, entry protocol.EventEntry) (protocol.EventEntry, error) {
	head, ok, err := t.LatestEvent(ctx)
	if err != nil {
		return protocol.EventEntry{}, err
	}
	chained, err := storage.ChainEvent(head, ok, entry)
	if err != nil {
		return protocol.EventEntry{}, err
	}
	if err := t.setJSON(eventKey(chained.Seq), chained); err != nil {
		return protocol.EventEntry{}, err
	}
	if err := t.setJSON([]byte(keyEventHead), eventHead{Seq: chained.Seq, EntryHash: chained.EntryHash}); err != nil {
		return protocol.EventEntry{}, err
	}
	return chained, nil
}

func (t *tx) ListEvents(_ context.Context, afterSeq int64, limit int) ([]protocol.EventEntry, error) {
	limit = storage.ClampLimit(limit)
	if afterSeq < 0 {
		afterSeq = 0
	}
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefixEvent)
	it := t.txn.NewIterator(opts)
	defer it.Close()

	out := make([]protocol.EventEntry, 0, limit)
	for it.Seek(eventKey(afterSeq + 1)); it.ValidForPrefix(opts.Prefix) && len(out) < limit; it.Next() {
		var entry protocol.EventEntry
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		}); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, entry)
	}
	return out, nil
}

func (t *tx) LatestEvent(ctx context.Context) (protocol.EventEntry, bool, error) {
	var head eventHead
	ok, err := t.getJSON([]byte(keyEventHead), &head)
	if err != nil || !ok {
		return protocol.EventEntry{}, false, err
	}
	var entry protocol.EventEntry
	ok, err = t.getJSON(eventKey(head.Seq), &entry)
	if err != nil {
		return protocol.EventEntry{}, false, err
	}
	if !ok {
		return protocol.EventEntry{}, false, fmt.Errorf("event head %d: %w", head.Seq, storage.ErrNotFound)
	}
	return entry, true, nil
}

func (t *tx) ListEntryHashes(_ context.Context) ([]string, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefixEvent)
	it := t.txn.NewIterator(opts)
	defer it.Close()

	var out []string
	for it.Rewind(); it.Valid(); it.Next() {
		var entry struct {
			EntryHash string `json:"entry_hash"`
		}
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		}); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, entry.EntryHash)
	}
	return out, nil
}

func (t *tx) GetReceipt(_ context.Context, signature string) (protocol.Receipt, bool, error) {
	var receipt protocol.Receipt
	ok, err := t.getJSON(receiptKey(signature), &receipt)
	return receipt, ok, err
}

func (t *tx) PutReceipt(_ context.Context, receipt protocol.Receipt) error {
	key := receiptKey(receipt.Signature)
	_, err := t.txn.Get(key)
	if err == nil {
		return storage.ErrReceiptExists
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	return t.setJSON(key, receipt)
}

// slogAdapter routes badger's printf-style logging into slog.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Errorf(format string, args ...any) {
	a.logger.Error(fmt.Sprintf(format, args...))
}

func (a slogAdapter) Warningf(format string, args ...any) {
	a.logger.Warn(fmt.Sprintf(format, args...))
}

func (a slogAdapter) Infof(format string, args ...any) {
	a.logger.Debug(fmt.Sprintf(format, args...))
}

func (a slogAdapter) Debugf(format string, args ...any) {
	a.logger.Debug(fmt.Sprintf(format, args...))
}
