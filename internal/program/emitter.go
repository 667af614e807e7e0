package program

import (
	"encoding/base64"

	"github.com/moneyfestation-dev/manifest-wall/internal/protocol"
)

func EmitWallInitialized(inv Invocation, wallID uint64, owner protocol.Pubkey) error {
	return emit(inv, protocol.WallInitialized{WallID: wallID, DevWallet: owner})
}

func EmitMessagePosted(inv Invocation, wallID uint64, user protocol.Pubkey, message string, timestamp int64) error {
	return emit(inv, protocol.MessagePosted{WallID: wallID, User: user, Message: message, Timestamp: timestamp})
}

func emit(inv Invocation, event protocol.Event) error {
	raw, err := event.MarshalBinary()
	if err != nil {
		return err
	}
	if err := inv.Emit(event); err != nil {
		return err
	}
	inv.Log("Program data: " + base64.StdEncoding.EncodeToString(raw))
	return nil
}
