package program

import (
	"context"
	"errors"

	"github.com/moneyfestation-dev/manifest-wall/internal/protocol"
)

var errEmitFailed = errors.New("event sink unavailable")

// memInvocation is a non-transactional Invocation for exercising the program
// in isolation. Tests snapshot it to check that failures leave no trace.
type memInvocation struct {
	accounts  map[protocol.Pubkey]protocol.Account
	signers   map[protocol.Pubkey]bool
	events    []protocol.Event
	logs      []string
	now       int64
	failEmit  bool
	transfers int
}

func newMemInvocation(signers ...protocol.Pubkey) *memInvocation {
	m := &memInvocation{
		accounts: map[protocol.Pubkey]protocol.Account{},
		signers:  map[protocol.Pubkey]bool{},
		now:      1_700_000_000,
	}
	for _, s := range signers {
		m.signers[s] = true
	}
	return m
}

func (m *memInvocation) fund(key protocol.Pubkey, lamports uint64) {
	acct := m.accounts[key]
	acct.Address = key
	acct.Lamports = lamports
	m.accounts[key] = acct
}

func (m *memInvocation) balance(key protocol.Pubkey) uint64 {
	return m.accounts[key].Lamports
}

func (m *memInvocation) Context() context.Context { return context.Background() }

func (m *memInvocation) IsSigner(key protocol.Pubkey) bool { return m.signers[key] }

func (m *memInvocation) Account(address protocol.Pubkey) (protocol.Account, bool, error) {
	acct, ok := m.accounts[address]
	return acct, ok, nil
}

func (m *memInvocation) CreateAccount(payer, address protocol.Pubkey, space uint64, owner protocol.Pubkey) error {
	if _, ok := m.accounts[address]; ok {
		return ErrAlreadyInitialized
	}
	m.accounts[address] = protocol.Account{Address: address, Owner: owner, Data: make([]byte, space)}
	return nil
}

func (m *memInvocation) WriteAccountData(address protocol.Pubkey, data []byte) error {
	acct := m.accounts[address]
	acct.Data = append([]byte(nil), data...)
	m.accounts[address] = acct
	return nil
}

func (m *memInvocation) Transfer(from, to protocol.Pubkey, lamports uint64) error {
	src := m.accounts[from]
	if src.Lamports < lamports {
		return ErrInsufficientFundsForTransfer
	}
	src.Lamports -= lamports
	m.accounts[from] = src
	dst := m.accounts[to]
	dst.Address = to
	dst.Lamports += lamports
	m.accounts[to] = dst
	m.transfers++
	return nil
}

func (m *memInvocation) Emit(event protocol.Event) error {
	if m.failEmit {
		return errEmitFailed
	}
	m.events = append(m.events, event)
	return nil
}

func (m *memInvocation) UnixTimestamp() int64 { return m.now }

func (m *memInvocation) Log(line string) { m.logs = append(m.logs, line) }
