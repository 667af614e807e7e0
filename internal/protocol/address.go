package protocol

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
)

const (
	MaxSeeds      = 16
	MaxSeedLength = 32
)

// WallSeedPrefix is the domain-separation tag for wall addresses.
var WallSeedPrefix = []byte("wall")

var (
	ErrInvalidSeeds    = errors.New("invalid seeds")
	ErrAddressOnCurve  = errors.New("derived address lies on the ed25519 curve")
	ErrNoViableBump    = errors.New("unable to find a viable program address bump")
	programDerivedMark = []byte("ProgramDerivedAddress")
)

// CreateProgramAddress hashes seeds with the owning program id. The result is
// rejected when it is a valid curve point, so no signer can ever control it.
func CreateProgramAddress(seeds [][]byte, programID Pubkey) (Pubkey, error) {
	if len(seeds) > MaxSeeds {
		return Pubkey{}, ErrInvalidSeeds
	}
	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > MaxSeedLength {
			return Pubkey{}, ErrInvalidSeeds
		}
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write(programDerivedMark)

	var addr Pubkey
	copy(addr[:], h.Sum(nil))
	if addr.IsOnCurve() {
		return Pubkey{}, ErrAddressOnCurve
	}
	return addr, nil
}

// FindProgramAddress returns the first off-curve address, searching bump from 255 down.
func FindProgramAddress(seeds [][]byte, programID Pubkey) (Pubkey, uint8, error) {
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{uint8(bump)}
		addr, err := CreateProgramAddress(withBump, programID)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if !errors.Is(err, ErrAddressOnCurve) {
			return Pubkey{}, 0, err
		}
	}
	return Pubkey{}, 0, ErrNoViableBump
}

func WallSeeds(owner Pubkey, wallID uint64) [][]byte {
	id := make([]byte, 8)
	binary.LittleEndian.PutUint64(id, wallID)
	return [][]byte{WallSeedPrefix, owner.Bytes(), id}
}

// DeriveWallAddress returns the canonical wall address and the bump that produced it.
func DeriveWallAddress(owner Pubkey, wallID uint64) (Pubkey, uint8, error) {
	return FindProgramAddress(WallSeeds(owner, wallID), WallProgramID)
}

// WallAddressWithBump recomputes a wall address from a recorded bump without searching.
func WallAddressWithBump(owner Pubkey, wallID uint64, bump uint8) (Pubkey, error) {
	seeds := append(WallSeeds(owner, wallID), []byte{bump})
	return CreateProgramAddress(seeds, WallProgramID)
}
