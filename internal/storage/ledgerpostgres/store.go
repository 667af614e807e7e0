package ledgerpostgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/moneyfestation-dev/manifest-wall/internal/protocol"
	"github.com/moneyfestation-dev/manifest-wall/internal/storage"
)

//go:embed migrations/001_init.sql
var migration001 string

const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateUniqueViolation      = "23505"
)

type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

func Open(ctx context.Context, dsn string, maxConns, minConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns >= 0 {
		cfg.MinConns = minConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store := &Store{pool: pool}
	if err := store.applyMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Driver() string {
	return "postgres"
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) applyMigrations(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, migration001)
	if err != nil {
		return fmt.Errorf("apply migration 001: %w", err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, fn func(storage.Tx) error) error {
	return s.run(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable}, fn)
}

func (s *Store) View(ctx context.Context, fn func(storage.Tx) error) error {
	return s.run(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, fn)
}

func (s *Store) run(ctx context.Context, opts pgx.TxOptions, fn func(storage.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return mapError(err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return mapError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapError(err)
	}
	return nil
}

// mapError turns retryable SQLSTATEs into storage.ErrConflict.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateSerializationFailure, sqlStateDeadlockDetected:
			return fmt.Errorf("%w: %v", storage.ErrConflict, err)
		}
	}
	return err
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetAccount(ctx context.Context, address protocol.Pubkey) (protocol.Account, bool, error) {
	var (
		out      protocol.Account
		lamports int64
		owner    string
	)
	err := t.tx.QueryRow(ctx, `
SELECT lamports, owner, data FROM accounts WHERE address = $1
`, address.String()).Scan(&lamports, &owner, &out.Data)
	if errors.Is(err, pgx.ErrNoRows) {
		return protocol.Account{}, false, nil
	}
	if err != nil {
		return protocol.Account{}, false, err
	}
	parsed, err := protocol.ParsePubkey(owner)
	if err != nil {
		return protocol.Account{}, false, fmt.Errorf("account %s owner: %w", address, err)
	}
	out.Address = address
	out.Lamports = uint64(lamports)
	out.Owner = parsed
	if len(out.Data) == 0 {
		out.Data = nil
	}
	return out, true, nil
}

func (t *pgTx) PutAccount(ctx context.Context, acct protocol.Account) error {
	if acct.Lamports > math.MaxInt64 {
		return fmt.Errorf("account %s: lamports %d exceed BIGINT range", acct.Address, acct.Lamports)
	}
	data := acct.Data
	if data == nil {
		data = []byte{}
	}
	_, err := t.tx.Exec(ctx, `
INSERT INTO accounts (address, lamports, owner, data, updated_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (address) DO UPDATE
SET lamports = EXCLUDED.lamports, owner = EXCLUDED.owner, data = EXCLUDED.data, updated_at = NOW()
`, acct.Address.String(), int64(acct.Lamports), acct.Owner.String(), data)
	return err
}

func (t *pgTx) AppendEvent(ctx context.Context, entry protocol.EventEntry) (protocol.EventEntry, error) {
	head, ok, err := t.LatestEvent(ctx)
	if err != nil {
		return protocol.EventEntry{}, err
	}
	chained, err := storage.ChainEvent(head, ok, entry)
	if err != nil {
		return protocol.EventEntry{}, err
	}
	payload := chained.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	_, err = t.tx.Exec(ctx, `
INSERT INTO events (seq, entry_hash, previous_hash, tx_signature, event_type, data, payload_json, recorded_at)
VALUES ($1,$2,$3,$4,$5,$6,$7::jsonb,$8)
`, chained.Seq, chained.EntryHash, nullableString(chained.PreviousHash), chained.TxSignature, chained.EventType, chained.Data, string(payload), chained.RecordedAt)
	if err != nil {
		return protocol.EventEntry{}, err
	}
	return chained, nil
}

const selectEvent = `
SELECT seq, entry_hash, COALESCE(previous_hash,''), tx_signature, event_type, data, payload_json, recorded_at
FROM events`

func scanEvent(row pgx.Row) (protocol.EventEntry, error) {
	var (
		out        protocol.EventEntry
		payloadRaw []byte
	)
	err := row.Scan(&out.Seq, &out.EntryHash, &out.PreviousHash, &out.TxSignature, &out.EventType, &out.Data, &payloadRaw, &out.RecordedAt)
	if err != nil {
		return out, err
	}
	out.Payload = json.RawMessage(payloadRaw)
	out.RecordedAt = out.RecordedAt.UTC()
	return out, nil
}

func (t *pgTx) ListEvents(ctx context.Context, afterSeq int64, limit int) ([]protocol.EventEntry, error) {
	rows, err := t.tx.Query(ctx, selectEvent+` WHERE seq > $1 ORDER BY seq ASC LIMIT $2`, afterSeq, storage.ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]protocol.EventEntry, 0)
	for rows.Next() {
		entry, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (t *pgTx) LatestEvent(ctx context.Context) (protocol.EventEntry, bool, error) {
	entry, err := scanEvent(t.tx.QueryRow(ctx, selectEvent+` ORDER BY seq DESC LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return protocol.EventEntry{}, false, nil
	}
	if err != nil {
		return protocol.EventEntry{}, false, err
	}
	return entry, true, nil
}

func (t *pgTx) ListEntryHashes(ctx context.Context) ([]string, error) {
	rows, err := t.tx.Query(ctx, `SELECT entry_hash FROM events ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (t *pgTx) GetReceipt(ctx context.Context, signature string) (protocol.Receipt, bool, error) {
	var raw []byte
	err := t.tx.QueryRow(ctx, `SELECT receipt_json FROM receipts WHERE signature = $1`, signature).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return protocol.Receipt{}, false, nil
	}
	if err != nil {
		return protocol.Receipt{}, false, err
	}
	var receipt protocol.Receipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return protocol.Receipt{}, false, fmt.Errorf("decode receipt %s: %w", signature, err)
	}
	return receipt, true, nil
}

func (t *pgTx) PutReceipt(ctx context.Context, receipt protocol.Receipt) error {
	raw, err := json.Marshal(receipt)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `
INSERT INTO receipts (signature, status, receipt_json, processed_at)
VALUES ($1,$2,$3::jsonb,$4)
ON CONFLICT (signature) DO NOTHING
`, receipt.Signature, receipt.Status, string(raw), receipt.ProcessedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == sqlStateUniqueViolation {
			return storage.ErrReceiptExists
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrReceiptExists
	}
	return nil
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
