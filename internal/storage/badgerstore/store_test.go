package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/moneyfestation-dev/manifest-wall/internal/protocol"
	"github.com/moneyfestation-dev/manifest-wall/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAccountsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	acct := protocol.Account{Address: protocol.Pubkey{1}, Lamports: 42, Owner: protocol.WallProgramID, Data: []byte{1, 2, 3}}

	require.NoError(t, s.Update(ctx, func(tx storage.Tx) error {
		return tx.PutAccount(ctx, acct)
	}))
	require.NoError(t, s.View(ctx, func(tx storage.Tx) error {
		got, ok, err := tx.GetAccount(ctx, acct.Address)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, acct, got)
		_, ok, err = tx.GetAccount(ctx, protocol.Pubkey{2})
		require.NoError(t, err)
		require.False(t, ok)
		return nil
	}))
}

func TestUpdateRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	boom := errors.New("boom")

	err := s.Update(ctx, func(tx storage.Tx) error {
		require.NoError(t, tx.PutAccount(ctx, protocol.Account{Address: protocol.Pubkey{1}, Lamports: 1}))
		_, err := tx.AppendEvent(ctx, protocol.EventEntry{EventType: protocol.EventMessagePosted, Data: []byte("x")})
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.View(ctx, func(tx storage.Tx) error {
		_, ok, err := tx.GetAccount(ctx, protocol.Pubkey{1})
		require.NoError(t, err)
		require.False(t, ok)
		_, ok, err = tx.LatestEvent(ctx)
		require.NoError(t, err)
		require.False(t, ok)
		return nil
	}))
}

func TestAppendEventChainsHashes(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Unix(1_700_000_000, 0)

	var appended []protocol.EventEntry
	require.NoError(t, s.Update(ctx, func(tx storage.Tx) error {
		for i := 0; i < 3; i++ {
			entry, err := tx.AppendEvent(ctx, protocol.EventEntry{
				TxSignature: "sig",
				EventType:   protocol.EventMessagePosted,
				Data:        []byte(fmt.Sprintf("event-%d", i)),
				RecordedAt:  now,
			})
			if err != nil {
				return err
			}
			appended = append(appended, entry)
		}
		return nil
	}))

	require.Equal(t, int64(1), appended[0].Seq)
	require.Empty(t, appended[0].PreviousHash)
	for i := 1; i < len(appended); i++ {
		require.Equal(t, appended[i-1].Seq+1, appended[i].Seq)
		require.Equal(t, appended[i-1].EntryHash, appended[i].PreviousHash)
		want, err := protocol.ComputeEventEntryHash(appended[i], appended[i].PreviousHash)
		require.NoError(t, err)
		require.Equal(t, want, appended[i].EntryHash)
	}

	require.NoError(t, s.View(ctx, func(tx storage.Tx) error {
		page, err := tx.ListEvents(ctx, 1, 10)
		require.NoError(t, err)
		require.Len(t, page, 2)
		require.Equal(t, int64(2), page[0].Seq)

		head, ok, err := tx.LatestEvent(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, appended[2].EntryHash, head.EntryHash)

		hashes, err := tx.ListEntryHashes(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{appended[0].EntryHash, appended[1].EntryHash, appended[2].EntryHash}, hashes)
		return nil
	}))
}

func TestListEventsOrdersPastByteBoundaries(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.Update(ctx, func(tx storage.Tx) error {
		for i := 0; i < 300; i++ {
			if _, err := tx.AppendEvent(ctx, protocol.EventEntry{EventType: protocol.EventMessagePosted}); err != nil {
				return err
			}
		}
		return nil
	}))
	require.NoError(t, s.View(ctx, func(tx storage.Tx) error {
		page, err := tx.ListEvents(ctx, 250, 100)
		require.NoError(t, err)
		require.Len(t, page, 50)
		require.Equal(t, int64(251), page[0].Seq)
		require.Equal(t, int64(300), page[49].Seq)
		return nil
	}))
}

func TestPutReceiptRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	receipt := protocol.Receipt{Signature: "abc", Status: protocol.ReceiptStatusOK, Logs: []string{"ok"}}
	require.NoError(t, s.Update(ctx, func(tx storage.Tx) error {
		return tx.PutReceipt(ctx, receipt)
	}))
	err := s.Update(ctx, func(tx storage.Tx) error {
		return tx.PutReceipt(ctx, receipt)
	})
	require.ErrorIs(t, err, storage.ErrReceiptExists)

	require.NoError(t, s.View(ctx, func(tx storage.Tx) error {
		got, ok, err := tx.GetReceipt(ctx, "abc")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, receipt.Logs, got.Logs)
		return nil
	}))
}

func TestConcurrentWritersConflict(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	key := protocol.Pubkey{9}

	inner := make(chan error, 1)
	err := s.Update(ctx, func(outer storage.Tx) error {
		if _, _, err := outer.GetAccount(ctx, key); err != nil {
			return err
		}
		inner <- s.Update(ctx, func(tx storage.Tx) error {
			return tx.PutAccount(ctx, protocol.Account{Address: key, Lamports: 1})
		})
		return outer.PutAccount(ctx, protocol.Account{Address: key, Lamports: 2})
	})
	require.NoError(t, <-inner)
	require.ErrorIs(t, err, storage.ErrConflict)
}
