package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/moneyfestation-dev/manifest-wall/internal/program"
	"github.com/moneyfestation-dev/manifest-wall/internal/protocol"
	"github.com/moneyfestation-dev/manifest-wall/internal/storage"
)

const (
	DefaultTxFeeLamports      uint64 = 5_000
	DefaultMaxConflictRetries        = 8
)

var (
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrAlreadyProcessed   = errors.New("transaction already processed")
	ErrConflictExhausted  = errors.New("transaction kept conflicting with concurrent writers")
)

// TransactionError reports a transaction that was aborted by a program or
// runtime rule. Its receipt has been recorded with status failed.
type TransactionError struct {
	Receipt          protocol.Receipt
	InstructionIndex int
	Cause            *program.Error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction %s failed at instruction %d: %v", e.Receipt.Signature, e.InstructionIndex, e.Cause)
}

func (e *TransactionError) Unwrap() error {
	return e.Cause
}

type Options struct {
	// TxFeeLamports is charged per signature to the fee payer of every
	// successful transaction.
	TxFeeLamports      uint64
	MaxConflictRetries int
	Clock              Clock
	Logger             *slog.Logger
}

// Runtime executes signed transactions against a Store. Every transaction
// commits or aborts as one storage transaction.
type Runtime struct {
	store   storage.Store
	program *program.Program
	opts    Options
	clock   *monotonicClock
	logger  *slog.Logger
}

func New(store storage.Store, opts Options) *Runtime {
	if opts.MaxConflictRetries <= 0 {
		opts.MaxConflictRetries = DefaultMaxConflictRetries
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		store:   store,
		program: program.New(),
		opts:    opts,
		clock:   newMonotonicClock(opts.Clock),
		logger:  logger,
	}
}

func (r *Runtime) Store() storage.Store {
	return r.store
}

func (r *Runtime) TxFee(tx protocol.Transaction) uint64 {
	return r.opts.TxFeeLamports * uint64(len(tx.Message.Signers))
}

// feeWithinBuffer reports whether the runtime fee of tx fits inside the
// headroom a post keeps on its signer.
func (r *Runtime) feeWithinBuffer(tx protocol.Transaction) bool {
	n := uint64(len(tx.Message.Signers))
	return n == 0 || r.opts.TxFeeLamports <= protocol.TxFeeBuffer/n
}

// instructionFailure carries the failing instruction out of the storage closure.
type instructionFailure struct {
	index int
	err   error
}

func (f *instructionFailure) Error() string {
	return fmt.Sprintf("instruction %d: %v", f.index, f.err)
}

func (f *instructionFailure) Unwrap() error {
	return f.err
}

// Process verifies tx and executes its instructions atomically. Program and
// runtime rule violations return a *TransactionError whose receipt is stored.
func (r *Runtime) Process(ctx context.Context, tx protocol.Transaction) (protocol.Receipt, error) {
	if err := tx.Verify(); err != nil {
		return protocol.Receipt{}, fmt.Errorf("%w: %v", ErrInvalidTransaction, err)
	}
	if err := checkSignerMetas(tx); err != nil {
		return protocol.Receipt{}, err
	}
	if !r.feeWithinBuffer(tx) {
		return protocol.Receipt{}, fmt.Errorf("%w: fee for %d signers exceeds %d", ErrInvalidTransaction, len(tx.Message.Signers), protocol.TxFeeBuffer)
	}
	signature := tx.ID().String()
	fee := r.TxFee(tx)

	var (
		receipt protocol.Receipt
		exec    *execution
	)
	err := r.withRetry(ctx, func() error {
		exec = &execution{ctx: ctx, signature: signature, now: r.clock.Now()}
		return r.store.Update(ctx, func(stx storage.Tx) error {
			exec.tx = stx
			exec.logs = nil
			exec.eventSeqs = nil
			if _, seen, err := stx.GetReceipt(ctx, signature); err != nil {
				return err
			} else if seen {
				return ErrAlreadyProcessed
			}
			for i, ix := range tx.Message.Instructions {
				if err := r.dispatch(exec, ix); err != nil {
					return &instructionFailure{index: i, err: err}
				}
			}
			if err := r.chargeFee(exec, tx.Message.FeePayer(), fee); err != nil {
				return &instructionFailure{index: len(tx.Message.Instructions), err: err}
			}
			receipt = protocol.Receipt{
				Signature:   signature,
				Status:      protocol.ReceiptStatusOK,
				FeePayer:    tx.Message.FeePayer(),
				Fee:         fee,
				Logs:        exec.logs,
				EventSeqs:   exec.eventSeqs,
				ProcessedAt: exec.now,
			}
			return stx.PutReceipt(ctx, receipt)
		})
	})
	if err == nil {
		r.logger.Info("transaction_processed", "signature", signature, "status", receipt.Status, "fee", fee, "events", len(receipt.EventSeqs))
		return receipt, nil
	}
	if errors.Is(err, storage.ErrReceiptExists) {
		err = ErrAlreadyProcessed
	}

	var failure *instructionFailure
	pe, isProgram := program.AsError(err)
	if !errors.As(err, &failure) || !isProgram {
		r.logger.Warn("transaction_aborted", "signature", signature, "error", err.Error())
		return protocol.Receipt{}, err
	}
	return r.recordFailure(ctx, tx, exec, failure.index, pe)
}

// recordFailure stores the receipt of an aborted transaction. No fee is
// charged and none of the aborted attempt's state survives.
func (r *Runtime) recordFailure(ctx context.Context, tx protocol.Transaction, exec *execution, index int, pe *program.Error) (protocol.Receipt, error) {
	logs := append(exec.logs,
		"Program log: "+pe.LogLine(),
		fmt.Sprintf("Program %s failed: custom program error: 0x%x", programAt(tx, index), pe.Code),
	)
	receipt := protocol.Receipt{
		Signature:   exec.signature,
		Status:      protocol.ReceiptStatusFailed,
		FeePayer:    tx.Message.FeePayer(),
		Error:       &protocol.ReceiptError{Code: pe.Code, Name: pe.Name, Message: pe.Msg},
		Logs:        logs,
		ProcessedAt: exec.now,
	}
	err := r.withRetry(ctx, func() error {
		return r.store.Update(ctx, func(stx storage.Tx) error {
			return stx.PutReceipt(ctx, receipt)
		})
	})
	if errors.Is(err, storage.ErrReceiptExists) {
		return protocol.Receipt{}, ErrAlreadyProcessed
	}
	if err != nil {
		return protocol.Receipt{}, fmt.Errorf("record failed receipt: %w", err)
	}
	r.logger.Info("transaction_processed",
		"signature", receipt.Signature,
		"status", receipt.Status,
		"error_code", pe.Code,
		"error_name", pe.Name,
	)
	return receipt, &TransactionError{Receipt: receipt, InstructionIndex: index, Cause: pe}
}

func (r *Runtime) dispatch(exec *execution, ix protocol.Instruction) error {
	inv := newInvocation(exec, ix)
	exec.log(fmt.Sprintf("Program %s invoke [1]", ix.ProgramID))
	var err error
	switch ix.ProgramID {
	case r.program.ID():
		err = r.program.Process(inv, ix)
	case protocol.SystemProgramID:
		err = processSystemInstruction(inv, ix)
	default:
		err = program.ErrUnsupportedProgram.With("program %s", ix.ProgramID)
	}
	if err != nil {
		return err
	}
	exec.log(fmt.Sprintf("Program %s success", ix.ProgramID))
	return nil
}

func processSystemInstruction(inv *invocation, ix protocol.Instruction) error {
	lamports, err := protocol.DecodeSystemTransfer(ix.Data)
	if err != nil {
		return program.ErrInstructionDidNotDeserialize.With("%v", err)
	}
	if len(ix.Accounts) < 2 {
		return program.ErrAccountNotEnoughKeys.With("system transfer needs 2 accounts, got %d", len(ix.Accounts))
	}
	return inv.Transfer(ix.Accounts[0].Pubkey, ix.Accounts[1].Pubkey, lamports)
}

// chargeFee debits the fee payer after every instruction has succeeded.
// The fee is burned.
func (r *Runtime) chargeFee(exec *execution, payer protocol.Pubkey, fee uint64) error {
	if fee == 0 {
		return nil
	}
	acct, ok, err := exec.tx.GetAccount(exec.ctx, payer)
	if err != nil {
		return err
	}
	if !ok || acct.Lamports < fee {
		return program.ErrInsufficientFundsForFee.With("fee payer %s needs %d", payer, fee)
	}
	acct.Lamports -= fee
	return exec.tx.PutAccount(exec.ctx, acct)
}

// withRetry reruns fn while the store reports serialization conflicts.
func (r *Runtime) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= r.opts.MaxConflictRetries; attempt++ {
		err = fn()
		if !errors.Is(err, storage.ErrConflict) {
			return err
		}
		r.logger.Debug("storage_conflict_retry", "attempt", attempt+1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * time.Millisecond):
		}
	}
	return fmt.Errorf("%w: %v", ErrConflictExhausted, err)
}

// checkSignerMetas rejects instructions that mark an account as signer when
// the transaction carries no signature for it.
func checkSignerMetas(tx protocol.Transaction) error {
	signed := make(map[protocol.Pubkey]struct{}, len(tx.Message.Signers))
	for _, s := range tx.Message.Signers {
		signed[s] = struct{}{}
	}
	for i, ix := range tx.Message.Instructions {
		for _, meta := range ix.Accounts {
			if _, ok := signed[meta.Pubkey]; meta.IsSigner && !ok {
				return fmt.Errorf("%w: instruction %d marks %s as signer without a signature", ErrInvalidTransaction, i, meta.Pubkey)
			}
		}
	}
	return nil
}

func programAt(tx protocol.Transaction, index int) protocol.Pubkey {
	if index < len(tx.Message.Instructions) {
		return tx.Message.Instructions[index].ProgramID
	}
	return protocol.SystemProgramID
}

// Airdrop credits lamports to address. Used by local networks only.
func (r *Runtime) Airdrop(ctx context.Context, address protocol.Pubkey, lamports uint64) (protocol.Account, error) {
	var out protocol.Account
	err := r.withRetry(ctx, func() error {
		return r.store.Update(ctx, func(stx storage.Tx) error {
			acct, ok, err := stx.GetAccount(ctx, address)
			if err != nil {
				return err
			}
			if !ok {
				acct = protocol.Account{Address: address, Owner: protocol.SystemProgramID}
			}
			if lamports > MaxLamports || acct.Lamports > MaxLamports-lamports {
				return program.ErrLamportOverflow.With("account %s", address)
			}
			acct.Lamports += lamports
			out = acct
			return stx.PutAccount(ctx, acct)
		})
	})
	if err != nil {
		return protocol.Account{}, err
	}
	r.logger.Info("airdrop", "address", address.String(), "lamports", lamports, "balance", out.Lamports)
	return out, nil
}

// LoadWall reads the wall of (owner, wallID) through the registry.
func (r *Runtime) LoadWall(ctx context.Context, owner protocol.Pubkey, wallID uint64) (protocol.Wall, protocol.Account, error) {
	var (
		wall protocol.Wall
		acct protocol.Account
	)
	err := r.store.View(ctx, func(stx storage.Tx) error {
		inv := readOnlyInvocation{ctx: ctx, tx: stx}
		w, address, err := program.Registry{}.Load(inv, owner, wallID)
		if err != nil {
			return err
		}
		a, _, err := stx.GetAccount(ctx, address)
		if err != nil {
			return err
		}
		wall, acct = w, a
		return nil
	})
	return wall, acct, err
}
