package protocol

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// MessageFee is charged per post, in minor units (0.05 of the display unit).
	MessageFee uint64 = 50_000_000
	// TxFeeBuffer is headroom kept on the poster so the runtime fee cannot abort a post.
	TxFeeBuffer uint64 = 1_000_000
	// MaxMessageLength bounds the UTF-8 byte length of a post body.
	MaxMessageLength = 500

	DiscriminatorSize = 8
	WallDataLen       = PubkeySize + 8 + 1
	WallAccountSize   = DiscriminatorSize + WallDataLen
)

var (
	WallDiscriminator = discriminator("account:Wall")

	ErrAccountDiscriminator = errors.New("account discriminator mismatch")
	ErrAccountData          = errors.New("account data too short")
)

// Wall is the on-ledger record stored at DeriveWallAddress(Owner, WallID).
type Wall struct {
	Owner  Pubkey `json:"dev_wallet"`
	WallID uint64 `json:"wall_id"`
	Bump   uint8  `json:"bump"`
}

func (w Wall) Address() (Pubkey, error) {
	return WallAddressWithBump(w.Owner, w.WallID, w.Bump)
}

// MarshalBinary lays out discriminator, owner, le64 wall id and bump: 49 bytes.
func (w Wall) MarshalBinary() ([]byte, error) {
	buf := make([]byte, WallAccountSize)
	copy(buf[0:DiscriminatorSize], WallDiscriminator[:])
	body := buf[DiscriminatorSize:]
	copy(body[0:32], w.Owner[:])
	binary.LittleEndian.PutUint64(body[32:40], w.WallID)
	body[40] = w.Bump
	return buf, nil
}

func (w *Wall) UnmarshalBinary(data []byte) error {
	if len(data) < DiscriminatorSize {
		return ErrAccountData
	}
	if !bytes.Equal(data[:DiscriminatorSize], WallDiscriminator[:]) {
		return ErrAccountDiscriminator
	}
	body := data[DiscriminatorSize:]
	if len(body) < WallDataLen {
		return fmt.Errorf("%w: got %d bytes want %d", ErrAccountData, len(body), WallDataLen)
	}
	copy(w.Owner[:], body[0:32])
	w.WallID = binary.LittleEndian.Uint64(body[32:40])
	w.Bump = body[40]
	return nil
}

func discriminator(preimage string) [DiscriminatorSize]byte {
	var out [DiscriminatorSize]byte
	h := sha256.Sum256([]byte(preimage))
	copy(out[:], h[:DiscriminatorSize])
	return out
}
