package program

import "github.com/moneyfestation-dev/manifest-wall/internal/protocol"

// ValidateMessage bounds the UTF-8 byte length of a post body.
func ValidateMessage(message string) error {
	switch n := len(message); {
	case n == 0:
		return ErrEmptyMessage
	case n > protocol.MaxMessageLength:
		return ErrMessageTooLong.With("got %d bytes, limit %d", n, protocol.MaxMessageLength)
	}
	return nil
}

// ValidateDevWallet binds the supplied fee recipient to the wall owner.
func ValidateDevWallet(supplied protocol.Pubkey, wall protocol.Wall) error {
	if supplied != wall.Owner {
		return ErrInvalidDevWallet.With("supplied %s, wall owner %s", supplied, wall.Owner)
	}
	return nil
}

// ValidateFunds requires the message fee plus headroom for the runtime fee.
func ValidateFunds(balance uint64) error {
	if need := protocol.MessageFee + protocol.TxFeeBuffer; balance < need {
		return ErrInsufficientFunds.With("balance %d, need %d", balance, need)
	}
	return nil
}

func ValidateSigner(signers SignerSet, key protocol.Pubkey) error {
	if !signers.IsSigner(key) {
		return ErrNotSigner.With("account %s", key)
	}
	return nil
}
