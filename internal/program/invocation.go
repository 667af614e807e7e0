package program

import (
	"context"

	"github.com/moneyfestation-dev/manifest-wall/internal/protocol"
)

// Invocation is the host runtime surface visible to one instruction. Every
// mutation made through it commits or aborts together with the enclosing
// transaction.
type Invocation interface {
	Context() context.Context
	IsSigner(key protocol.Pubkey) bool
	// Account returns the current state of address; ok is false when nothing
	// has been stored there.
	Account(address protocol.Pubkey) (acct protocol.Account, ok bool, err error)
	// CreateAccount funds a rent-exempt reservation of space bytes at address
	// from payer and assigns it to owner.
	CreateAccount(payer, address protocol.Pubkey, space uint64, owner protocol.Pubkey) error
	WriteAccountData(address protocol.Pubkey, data []byte) error
	Transfer(from, to protocol.Pubkey, lamports uint64) error
	Emit(event protocol.Event) error
	UnixTimestamp() int64
	Log(line string)
}

// SignerSet is the subset of Invocation the validator needs.
type SignerSet interface {
	IsSigner(key protocol.Pubkey) bool
}
