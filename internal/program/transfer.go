package program

import "github.com/moneyfestation-dev/manifest-wall/internal/protocol"

// Transfer moves lamports through the runtime transfer primitive. The move is
// part of the enclosing transaction and rolls back with it.
func Transfer(inv Invocation, from, to protocol.Pubkey, amount uint64) error {
	if err := ValidateSigner(inv, from); err != nil {
		return err
	}
	return inv.Transfer(from, to, amount)
}
