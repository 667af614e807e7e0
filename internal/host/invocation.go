package host

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/moneyfestation-dev/manifest-wall/internal/program"
	"github.com/moneyfestation-dev/manifest-wall/internal/protocol"
	"github.com/moneyfestation-dev/manifest-wall/internal/storage"
)

// MaxLamports caps any single balance so every backend can store it.
const MaxLamports = math.MaxInt64

const (
	rentBaseBytes         = 128
	rentLamportsPerByteYr = 3480
	rentExemptionYears    = 2
)

// RentExemptMinimum is the balance an account of space data bytes must hold.
func RentExemptMinimum(space uint64) uint64 {
	return (rentBaseBytes + space) * rentLamportsPerByteYr * rentExemptionYears
}

// execution is the per-attempt state shared by the instructions of one
// transaction.
type execution struct {
	ctx       context.Context
	tx        storage.Tx
	signature string
	now       time.Time
	logs      []string
	eventSeqs []int64
}

func (e *execution) log(line string) {
	e.logs = append(e.logs, line)
}

// invocation binds an execution to one instruction's account metas.
type invocation struct {
	exec      *execution
	programID protocol.Pubkey
	metas     map[protocol.Pubkey]protocol.AccountMeta
}

var _ program.Invocation = (*invocation)(nil)

func newInvocation(exec *execution, ix protocol.Instruction) *invocation {
	metas := make(map[protocol.Pubkey]protocol.AccountMeta, len(ix.Accounts))
	for _, m := range ix.Accounts {
		prev := metas[m.Pubkey]
		metas[m.Pubkey] = protocol.AccountMeta{
			Pubkey:     m.Pubkey,
			IsSigner:   prev.IsSigner || m.IsSigner,
			IsWritable: prev.IsWritable || m.IsWritable,
		}
	}
	return &invocation{exec: exec, programID: ix.ProgramID, metas: metas}
}

func (i *invocation) Context() context.Context {
	return i.exec.ctx
}

func (i *invocation) IsSigner(key protocol.Pubkey) bool {
	return i.metas[key].IsSigner
}

func (i *invocation) writable(key protocol.Pubkey) error {
	if !i.metas[key].IsWritable {
		return program.ErrConstraintMut.With("account %s is not writable", key)
	}
	return nil
}

func (i *invocation) Account(address protocol.Pubkey) (protocol.Account, bool, error) {
	return i.exec.tx.GetAccount(i.exec.ctx, address)
}

func (i *invocation) loadOrEmpty(address protocol.Pubkey) (protocol.Account, bool, error) {
	acct, ok, err := i.Account(address)
	if err != nil {
		return protocol.Account{}, false, err
	}
	if !ok {
		acct = protocol.Account{Address: address, Owner: protocol.SystemProgramID}
	}
	return acct, ok, nil
}

func (i *invocation) CreateAccount(payer, address protocol.Pubkey, space uint64, owner protocol.Pubkey) error {
	if !i.IsSigner(payer) {
		return program.ErrNotSigner.With("payer %s", payer)
	}
	if err := i.writable(payer); err != nil {
		return err
	}
	if err := i.writable(address); err != nil {
		return err
	}
	target, _, err := i.loadOrEmpty(address)
	if err != nil {
		return err
	}
	if len(target.Data) > 0 || target.Owner != protocol.SystemProgramID {
		return program.ErrAlreadyInitialized.With("account %s already in use", address)
	}
	rent := RentExemptMinimum(space)
	if target.Lamports < rent {
		if err := i.move(payer, address, rent-target.Lamports); err != nil {
			return err
		}
		if target, _, err = i.loadOrEmpty(address); err != nil {
			return err
		}
	}
	target.Owner = owner
	target.Data = make([]byte, space)
	i.exec.log(fmt.Sprintf("Program %s invoke [2]", protocol.SystemProgramID))
	i.exec.log(fmt.Sprintf("Program %s success", protocol.SystemProgramID))
	return i.exec.tx.PutAccount(i.exec.ctx, target)
}

// WriteAccountData replaces the data of an account owned by the running program.
func (i *invocation) WriteAccountData(address protocol.Pubkey, data []byte) error {
	if err := i.writable(address); err != nil {
		return err
	}
	acct, ok, err := i.Account(address)
	if err != nil {
		return err
	}
	if !ok || acct.Owner != i.programID {
		return program.ErrReadOnlyAccount.With("account %s", address)
	}
	if len(data) > len(acct.Data) {
		return program.ErrAccountDidNotDeserialize.With("account %s holds %d bytes, got %d", address, len(acct.Data), len(data))
	}
	buf := make([]byte, len(acct.Data))
	copy(buf, data)
	acct.Data = buf
	return i.exec.tx.PutAccount(i.exec.ctx, acct)
}

func (i *invocation) Transfer(from, to protocol.Pubkey, lamports uint64) error {
	if !i.IsSigner(from) {
		return program.ErrNotSigner.With("transfer source %s", from)
	}
	if err := i.writable(from); err != nil {
		return err
	}
	if err := i.writable(to); err != nil {
		return err
	}
	i.exec.log(fmt.Sprintf("Program %s invoke [2]", protocol.SystemProgramID))
	if err := i.move(from, to, lamports); err != nil {
		i.exec.log(fmt.Sprintf("Transfer: insufficient lamports or overflow moving %d", lamports))
		return err
	}
	i.exec.log(fmt.Sprintf("Program %s success", protocol.SystemProgramID))
	return nil
}

// move debits from and credits to without permission checks.
func (i *invocation) move(from, to protocol.Pubkey, lamports uint64) error {
	src, _, err := i.loadOrEmpty(from)
	if err != nil {
		return err
	}
	if src.Lamports < lamports {
		return program.ErrInsufficientFundsForTransfer.With("account %s has %d, need %d", from, src.Lamports, lamports)
	}
	if from == to {
		return nil
	}
	dst, _, err := i.loadOrEmpty(to)
	if err != nil {
		return err
	}
	if lamports > math.MaxInt64 || dst.Lamports > math.MaxInt64-lamports {
		return program.ErrLamportOverflow.With("account %s", to)
	}
	src.Lamports -= lamports
	dst.Lamports += lamports
	if err := i.exec.tx.PutAccount(i.exec.ctx, src); err != nil {
		return err
	}
	return i.exec.tx.PutAccount(i.exec.ctx, dst)
}

// Emit appends event to the log inside the current storage transaction.
func (i *invocation) Emit(event protocol.Event) error {
	data, err := event.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode %s: %w", event.EventName(), err)
	}
	payload, err := protocol.EventPayloadJSON(event)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event.EventName(), err)
	}
	entry, err := i.exec.tx.AppendEvent(i.exec.ctx, protocol.EventEntry{
		TxSignature: i.exec.signature,
		EventType:   event.EventName(),
		Data:        data,
		Payload:     payload,
		RecordedAt:  i.exec.now,
	})
	if err != nil {
		return fmt.Errorf("append %s: %w", event.EventName(), err)
	}
	i.exec.eventSeqs = append(i.exec.eventSeqs, entry.Seq)
	return nil
}

func (i *invocation) UnixTimestamp() int64 {
	return i.exec.now.Unix()
}

func (i *invocation) Log(line string) {
	if strings.HasPrefix(line, "Program data: ") {
		i.exec.log(line)
		return
	}
	i.exec.log("Program log: " + line)
}

// readOnlyInvocation serves registry reads outside of a transaction.
type readOnlyInvocation struct {
	ctx context.Context
	tx  storage.Tx
}

var _ program.Invocation = readOnlyInvocation{}

func (r readOnlyInvocation) Context() context.Context { return r.ctx }

func (readOnlyInvocation) IsSigner(protocol.Pubkey) bool { return false }

func (r readOnlyInvocation) Account(address protocol.Pubkey) (protocol.Account, bool, error) {
	return r.tx.GetAccount(r.ctx, address)
}

func (readOnlyInvocation) CreateAccount(_, address protocol.Pubkey, _ uint64, _ protocol.Pubkey) error {
	return program.ErrReadOnlyAccount.With("account %s", address)
}

func (readOnlyInvocation) WriteAccountData(address protocol.Pubkey, _ []byte) error {
	return program.ErrReadOnlyAccount.With("account %s", address)
}

func (readOnlyInvocation) Transfer(from, _ protocol.Pubkey, _ uint64) error {
	return program.ErrReadOnlyAccount.With("account %s", from)
}

func (readOnlyInvocation) Emit(protocol.Event) error {
	return program.ErrReadOnlyAccount
}

func (readOnlyInvocation) UnixTimestamp() int64 { return 0 }

func (readOnlyInvocation) Log(string) {}
