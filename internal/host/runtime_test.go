package host

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/moneyfestation-dev/manifest-wall/internal/program"
	"github.com/moneyfestation-dev/manifest-wall/internal/protocol"
	"github.com/moneyfestation-dev/manifest-wall/internal/storage"
	"github.com/moneyfestation-dev/manifest-wall/internal/storage/badgerstore"
)

const testTxFee uint64 = 5_000

type wallet struct {
	pub  protocol.Pubkey
	priv ed25519.PrivateKey
}

func newWallet(t testing.TB) wallet {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return wallet{pub: protocol.PubkeyFromPublicKey(pub), priv: priv}
}

type harness struct {
	t       *testing.T
	ctx     context.Context
	store   storage.Store
	runtime *Runtime
	nonce   uint64
	now     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := badgerstore.Open(badgerstore.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return newHarnessWithStore(t, store)
}

func newHarnessWithStore(t *testing.T, store storage.Store) *harness {
	h := &harness{t: t, ctx: context.Background(), store: store, now: time.Unix(1_700_000_000, 0)}
	h.runtime = New(store, Options{
		TxFeeLamports: testTxFee,
		Clock:         ClockFunc(func() time.Time { return h.now }),
	})
	return h
}

func (h *harness) fund(w wallet, lamports uint64) {
	h.t.Helper()
	_, err := h.runtime.Airdrop(h.ctx, w.pub, lamports)
	require.NoError(h.t, err)
}

func (h *harness) balance(key protocol.Pubkey) uint64 {
	h.t.Helper()
	var out uint64
	require.NoError(h.t, h.store.View(h.ctx, func(tx storage.Tx) error {
		acct, _, err := tx.GetAccount(h.ctx, key)
		out = acct.Lamports
		return err
	}))
	return out
}

func (h *harness) events() []protocol.EventEntry {
	h.t.Helper()
	var out []protocol.EventEntry
	require.NoError(h.t, h.store.View(h.ctx, func(tx storage.Tx) error {
		var err error
		out, err = tx.ListEvents(h.ctx, 0, 1000)
		return err
	}))
	return out
}

func (h *harness) submit(signer wallet, ixs ...protocol.Instruction) (protocol.Receipt, error) {
	h.t.Helper()
	h.nonce++
	tx, err := protocol.NewTransaction(protocol.Message{Signers: []protocol.Pubkey{signer.pub}, Nonce: h.nonce, Instructions: ixs}, signer.priv)
	require.NoError(h.t, err)
	return h.runtime.Process(h.ctx, tx)
}

func (h *harness) initWall(owner wallet, wallID uint64) protocol.Pubkey {
	h.t.Helper()
	ix, err := protocol.NewInitializeWallInstruction(owner.pub, wallID)
	require.NoError(h.t, err)
	_, err = h.submit(owner, ix)
	require.NoError(h.t, err)
	return ix.Accounts[0].Pubkey
}

func (h *harness) post(poster wallet, wall, dev protocol.Pubkey, message string) (protocol.Receipt, error) {
	h.t.Helper()
	return h.submit(poster, protocol.NewPostMessageInstruction(wall, poster.pub, dev, message))
}

func requireProgramCode(t *testing.T, err error, want *program.Error) {
	t.Helper()
	var txErr *TransactionError
	require.ErrorAs(t, err, &txErr)
	require.Equal(t, want.Code, txErr.Receipt.Error.Code)
	require.ErrorIs(t, err, want)
}

func TestHappyInit(t *testing.T) {
	h := newHarness(t)
	owner := newWallet(t)
	h.fund(owner, 1_000_000_000)

	address := h.initWall(owner, 7)

	wall, acct, err := h.runtime.LoadWall(h.ctx, owner.pub, 7)
	require.NoError(t, err)
	expected, bump, err := protocol.DeriveWallAddress(owner.pub, 7)
	require.NoError(t, err)
	require.Equal(t, expected, address)
	require.Equal(t, protocol.Wall{Owner: owner.pub, WallID: 7, Bump: bump}, wall)
	require.Equal(t, protocol.WallProgramID, acct.Owner)
	require.Equal(t, uint64(1_231_920), acct.Lamports)
	require.Len(t, acct.Data, protocol.WallAccountSize)

	require.Equal(t, uint64(1_000_000_000)-1_231_920-testTxFee, h.balance(owner.pub))

	events := h.events()
	require.Len(t, events, 1)
	decoded, err := protocol.DecodeEvent(events[0].Data)
	require.NoError(t, err)
	require.Equal(t, protocol.WallInitialized{WallID: 7, DevWallet: owner.pub}, decoded)
}

func TestHappyPost(t *testing.T) {
	h := newHarness(t)
	owner, poster := newWallet(t), newWallet(t)
	h.fund(owner, 1_000_000_000)
	h.fund(poster, 1_000_000_000)
	wall := h.initWall(owner, 7)
	ownerBefore := h.balance(owner.pub)

	receipt, err := h.post(poster, wall, owner.pub, "hello")
	require.NoError(t, err)
	require.True(t, receipt.Succeeded())
	require.Equal(t, testTxFee, receipt.Fee)

	require.Equal(t, uint64(1_000_000_000)-protocol.MessageFee-testTxFee, h.balance(poster.pub))
	require.Equal(t, ownerBefore+protocol.MessageFee, h.balance(owner.pub))

	events := h.events()
	require.Len(t, events, 2)
	require.Equal(t, []int64{events[1].Seq}, receipt.EventSeqs)
	decoded, err := protocol.DecodeEvent(events[1].Data)
	require.NoError(t, err)
	require.Equal(t, protocol.MessagePosted{WallID: 7, User: poster.pub, Message: "hello", Timestamp: h.now.Unix()}, decoded)
	require.Equal(t, receipt.Signature, events[1].TxSignature)
	require.Contains(t, strings.Join(receipt.Logs, "\n"), "Program data: ")
}

func TestRejectedPostsLeaveNoTrace(t *testing.T) {
	cases := []struct {
		name    string
		message string
		dev     func(owner, other wallet) protocol.Pubkey
		want    *program.Error
	}{
		{"empty", "", func(o, _ wallet) protocol.Pubkey { return o.pub }, program.ErrEmptyMessage},
		{"too long", strings.Repeat("a", 501), func(o, _ wallet) protocol.Pubkey { return o.pub }, program.ErrMessageTooLong},
		{"wrong owner", "hello", func(_, c wallet) protocol.Pubkey { return c.pub }, program.ErrInvalidDevWallet},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			owner, poster, other := newWallet(t), newWallet(t), newWallet(t)
			h.fund(owner, 1_000_000_000)
			h.fund(poster, 1_000_000_000)
			wall := h.initWall(owner, 7)
			ownerBefore, otherBefore := h.balance(owner.pub), h.balance(other.pub)

			receipt, err := h.post(poster, wall, tc.dev(owner, other), tc.message)
			requireProgramCode(t, err, tc.want)
			require.Equal(t, protocol.ReceiptStatusFailed, receipt.Status)
			require.Zero(t, receipt.Fee)

			require.Equal(t, uint64(1_000_000_000), h.balance(poster.pub))
			require.Equal(t, ownerBefore, h.balance(owner.pub))
			require.Equal(t, otherBefore, h.balance(other.pub))
			require.Len(t, h.events(), 1)
		})
	}
}

func TestCustomErrorCodesAreStable(t *testing.T) {
	require.Equal(t, uint32(program.CustomErrorBase+0), program.ErrEmptyMessage.Code)
	require.Equal(t, uint32(program.CustomErrorBase+1), program.ErrMessageTooLong.Code)
	require.Equal(t, uint32(program.CustomErrorBase+2), program.ErrInsufficientFunds.Code)
	require.Equal(t, uint32(program.CustomErrorBase+3), program.ErrInvalidDevWallet.Code)
}

func TestMessageLengthBoundary(t *testing.T) {
	h := newHarness(t)
	owner, poster := newWallet(t), newWallet(t)
	h.fund(owner, 1_000_000_000)
	h.fund(poster, 1_000_000_000)
	wall := h.initWall(owner, 7)

	_, err := h.post(poster, wall, owner.pub, strings.Repeat("a", 500))
	require.NoError(t, err)
	_, err = h.post(poster, wall, owner.pub, strings.Repeat("a", 501))
	requireProgramCode(t, err, program.ErrMessageTooLong)
}

func TestFundsBoundary(t *testing.T) {
	need := protocol.MessageFee + protocol.TxFeeBuffer

	h := newHarness(t)
	owner, short, exact := newWallet(t), newWallet(t), newWallet(t)
	h.fund(owner, 1_000_000_000)
	h.fund(short, need-1)
	h.fund(exact, need)
	wall := h.initWall(owner, 7)

	_, err := h.post(short, wall, owner.pub, "hi")
	requireProgramCode(t, err, program.ErrInsufficientFunds)
	require.Equal(t, need-1, h.balance(short.pub))

	receipt, err := h.post(exact, wall, owner.pub, "hi")
	require.NoError(t, err)
	require.Equal(t, need-protocol.MessageFee-receipt.Fee, h.balance(exact.pub))
}

func TestFundsBoundaryAtMaximumFee(t *testing.T) {
	need := protocol.MessageFee + protocol.TxFeeBuffer

	h := newHarness(t)
	h.runtime = New(h.store, Options{TxFeeLamports: protocol.TxFeeBuffer})
	owner, exact := newWallet(t), newWallet(t)
	h.fund(owner, 1_000_000_000)
	h.fund(exact, need)
	wall := h.initWall(owner, 7)

	receipt, err := h.post(exact, wall, owner.pub, "hi")
	require.NoError(t, err)
	require.Equal(t, protocol.TxFeeBuffer, receipt.Fee)
	require.Zero(t, h.balance(exact.pub))
}

func TestFeeAboveBufferRejected(t *testing.T) {
	h := newHarness(t)
	h.runtime = New(h.store, Options{TxFeeLamports: protocol.TxFeeBuffer/2 + 1})
	owner, poster := newWallet(t), newWallet(t)
	h.fund(owner, 1_000_000_000)
	h.fund(poster, 1_000_000_000)

	initIx, err := protocol.NewInitializeWallInstruction(owner.pub, 7)
	require.NoError(t, err)
	_, err = h.submit(owner, initIx)
	require.NoError(t, err)

	h.nonce++
	tx, err := protocol.NewTransaction(protocol.Message{
		Signers:      []protocol.Pubkey{poster.pub, owner.pub},
		Nonce:        h.nonce,
		Instructions: []protocol.Instruction{protocol.NewPostMessageInstruction(initIx.Accounts[0].Pubkey, poster.pub, owner.pub, "hi")},
	}, poster.priv, owner.priv)
	require.NoError(t, err)

	_, err = h.runtime.Process(h.ctx, tx)
	require.ErrorIs(t, err, ErrInvalidTransaction)
	require.Equal(t, uint64(1_000_000_000), h.balance(poster.pub))
	require.Len(t, h.events(), 1)
}

func TestDoubleInitFails(t *testing.T) {
	h := newHarness(t)
	owner := newWallet(t)
	h.fund(owner, 1_000_000_000)
	h.initWall(owner, 7)
	wallBefore, acctBefore, err := h.runtime.LoadWall(h.ctx, owner.pub, 7)
	require.NoError(t, err)
	ownerBefore := h.balance(owner.pub)

	ix, err := protocol.NewInitializeWallInstruction(owner.pub, 7)
	require.NoError(t, err)
	_, err = h.submit(owner, ix)
	requireProgramCode(t, err, program.ErrAlreadyInitialized)

	wallAfter, acctAfter, err := h.runtime.LoadWall(h.ctx, owner.pub, 7)
	require.NoError(t, err)
	require.Equal(t, wallBefore, wallAfter)
	require.Equal(t, acctBefore, acctAfter)
	require.Equal(t, ownerBefore, h.balance(owner.pub))

	initialized := 0
	for _, e := range h.events() {
		if e.EventType == protocol.EventWallInitialized {
			initialized++
		}
	}
	require.Equal(t, 1, initialized)
}

func TestInitWithoutRentFails(t *testing.T) {
	h := newHarness(t)
	owner := newWallet(t)
	h.fund(owner, 1_000)

	ix, err := protocol.NewInitializeWallInstruction(owner.pub, 1)
	require.NoError(t, err)
	_, err = h.submit(owner, ix)
	requireProgramCode(t, err, program.ErrInsufficientFundsForTransfer)
	require.Empty(t, h.events())
	require.Equal(t, uint64(1_000), h.balance(owner.pub))
}

func TestPrefundedWallAddressStillInitializes(t *testing.T) {
	h := newHarness(t)
	owner := newWallet(t)
	h.fund(owner, 1_000_000_000)
	address, _, err := protocol.DeriveWallAddress(owner.pub, 3)
	require.NoError(t, err)
	_, err = h.runtime.Airdrop(h.ctx, address, 1_000)
	require.NoError(t, err)

	h.initWall(owner, 3)
	require.Equal(t, RentExemptMinimum(protocol.WallAccountSize), h.balance(address))
}

func TestDuplicateTransactionRejected(t *testing.T) {
	h := newHarness(t)
	owner := newWallet(t)
	h.fund(owner, 1_000_000_000)
	ix, err := protocol.NewInitializeWallInstruction(owner.pub, 7)
	require.NoError(t, err)
	tx, err := protocol.NewTransaction(protocol.Message{Signers: []protocol.Pubkey{owner.pub}, Instructions: []protocol.Instruction{ix}}, owner.priv)
	require.NoError(t, err)

	_, err = h.runtime.Process(h.ctx, tx)
	require.NoError(t, err)
	_, err = h.runtime.Process(h.ctx, tx)
	require.ErrorIs(t, err, ErrAlreadyProcessed)
}

func TestSignerMetaWithoutSignatureRejected(t *testing.T) {
	h := newHarness(t)
	owner, payer := newWallet(t), newWallet(t)
	h.fund(payer, 1_000_000_000)
	ix, err := protocol.NewInitializeWallInstruction(owner.pub, 7)
	require.NoError(t, err)

	_, err = h.submit(payer, ix)
	require.ErrorIs(t, err, ErrInvalidTransaction)
}

func TestUnsignedOwnerMetaIsNotSigner(t *testing.T) {
	h := newHarness(t)
	owner, payer := newWallet(t), newWallet(t)
	h.fund(payer, 1_000_000_000)
	h.fund(owner, 1_000_000_000)
	ix, err := protocol.NewInitializeWallInstruction(owner.pub, 7)
	require.NoError(t, err)
	ix.Accounts[1].IsSigner = false

	_, err = h.submit(payer, ix)
	requireProgramCode(t, err, program.ErrNotSigner)
}

func TestSystemTransferAndFeePayer(t *testing.T) {
	h := newHarness(t)
	a, b := newWallet(t), newWallet(t)
	h.fund(a, 1_000_000)

	receipt, err := h.submit(a, protocol.NewSystemTransferInstruction(a.pub, b.pub, 400_000))
	require.NoError(t, err)
	require.Equal(t, uint64(1_000_000)-400_000-receipt.Fee, h.balance(a.pub))
	require.Equal(t, uint64(400_000), h.balance(b.pub))

	_, err = h.submit(a, protocol.NewSystemTransferInstruction(a.pub, b.pub, 10_000_000))
	requireProgramCode(t, err, program.ErrInsufficientFundsForTransfer)
}

func TestFeePayerCannotCoverFee(t *testing.T) {
	h := newHarness(t)
	a, b := newWallet(t), newWallet(t)
	h.fund(a, 100)

	_, err := h.submit(a, protocol.NewSystemTransferInstruction(a.pub, b.pub, 100))
	requireProgramCode(t, err, program.ErrInsufficientFundsForFee)
	require.Equal(t, uint64(100), h.balance(a.pub))
	require.Zero(t, h.balance(b.pub))
}

func TestMultiInstructionTransactionIsAtomic(t *testing.T) {
	h := newHarness(t)
	owner, poster := newWallet(t), newWallet(t)
	h.fund(owner, 1_000_000_000)
	h.fund(poster, 1_000_000_000)
	wall := h.initWall(owner, 7)
	ownerBefore := h.balance(owner.pub)

	_, err := h.submit(poster,
		protocol.NewPostMessageInstruction(wall, poster.pub, owner.pub, "first"),
		protocol.NewPostMessageInstruction(wall, poster.pub, owner.pub, ""),
	)
	var txErr *TransactionError
	require.ErrorAs(t, err, &txErr)
	require.Equal(t, 1, txErr.InstructionIndex)
	require.Equal(t, uint64(1_000_000_000), h.balance(poster.pub))
	require.Equal(t, ownerBefore, h.balance(owner.pub))
	require.Len(t, h.events(), 1)
}

// failingEventStore wraps a Store so that every AppendEvent fails.
type failingEventStore struct {
	storage.Store
}

type failingEventTx struct {
	storage.Tx
}

var errSinkDown = errors.New("event sink down")

func (s failingEventStore) Update(ctx context.Context, fn func(storage.Tx) error) error {
	return s.Store.Update(ctx, func(tx storage.Tx) error {
		return fn(failingEventTx{Tx: tx})
	})
}

func (failingEventTx) AppendEvent(context.Context, protocol.EventEntry) (protocol.EventEntry, error) {
	return protocol.EventEntry{}, errSinkDown
}

func TestEmitFailureRollsBackTransfer(t *testing.T) {
	h := newHarness(t)
	owner, poster := newWallet(t), newWallet(t)
	h.fund(owner, 1_000_000_000)
	h.fund(poster, 1_000_000_000)
	wall := h.initWall(owner, 7)
	ownerBefore := h.balance(owner.pub)

	broken := newHarnessWithStore(t, failingEventStore{Store: h.store})
	_, err := broken.post(poster, wall, owner.pub, "hello")
	require.ErrorIs(t, err, errSinkDown)

	require.Equal(t, uint64(1_000_000_000), h.balance(poster.pub))
	require.Equal(t, ownerBefore, h.balance(owner.pub))
	require.Len(t, h.events(), 1)
}

func TestConcurrentPostsSettleEveryFee(t *testing.T) {
	h := newHarness(t)
	h.runtime = New(h.store, Options{TxFeeLamports: testTxFee, MaxConflictRetries: 100})
	owner := newWallet(t)
	h.fund(owner, 1_000_000_000)
	wall := h.initWall(owner, 7)
	ownerBefore := h.balance(owner.pub)

	const posters = 8
	var wg sync.WaitGroup
	errs := make(chan error, posters)
	for i := 0; i < posters; i++ {
		poster := newWallet(t)
		h.fund(poster, 1_000_000_000)
		tx, err := protocol.NewTransaction(protocol.Message{
			Signers:      []protocol.Pubkey{poster.pub},
			Instructions: []protocol.Instruction{protocol.NewPostMessageInstruction(wall, poster.pub, owner.pub, "hi")},
		}, poster.priv)
		require.NoError(t, err)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.runtime.Process(h.ctx, tx)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, ownerBefore+posters*protocol.MessageFee, h.balance(owner.pub))
	require.Len(t, h.events(), posters+1)
}

func TestMonotonicClockNeverRewinds(t *testing.T) {
	times := []time.Time{time.Unix(100, 0), time.Unix(50, 0), time.Unix(120, 0)}
	i := 0
	clock := newMonotonicClock(ClockFunc(func() time.Time {
		t := times[i]
		i++
		return t
	}))
	require.Equal(t, int64(100), clock.Now().Unix())
	require.Equal(t, int64(100), clock.Now().Unix())
	require.Equal(t, int64(120), clock.Now().Unix())
}

func TestRentExemptMinimum(t *testing.T) {
	require.Equal(t, uint64(1_231_920), RentExemptMinimum(protocol.WallAccountSize))
}
