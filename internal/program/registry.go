package program

import (
	"errors"

	"github.com/moneyfestation-dev/manifest-wall/internal/protocol"
)

// Registry creates and reads Wall records. Only the wall program writes them.
type Registry struct{}

// Initialize stores a new Wall at address. The owner signs and pays rent.
func (Registry) Initialize(inv Invocation, owner protocol.Pubkey, wallID uint64, address protocol.Pubkey, bump uint8) error {
	if err := ValidateSigner(inv, owner); err != nil {
		return err
	}
	existing, ok, err := inv.Account(address)
	if err != nil {
		return err
	}
	if ok && (len(existing.Data) > 0 || existing.Owner != protocol.SystemProgramID) {
		return ErrAlreadyInitialized.With("wall %s", address)
	}
	if err := inv.CreateAccount(owner, address, protocol.WallAccountSize, protocol.WallProgramID); err != nil {
		return err
	}
	data, err := protocol.Wall{Owner: owner, WallID: wallID, Bump: bump}.MarshalBinary()
	if err != nil {
		return err
	}
	return inv.WriteAccountData(address, data)
}

// Load reads the wall derived from (ownerHint, wallID) and checks that it is
// owned by ownerHint.
func (r Registry) Load(inv Invocation, ownerHint protocol.Pubkey, wallID uint64) (protocol.Wall, protocol.Pubkey, error) {
	address, _, err := protocol.DeriveWallAddress(ownerHint, wallID)
	if err != nil {
		return protocol.Wall{}, protocol.Pubkey{}, err
	}
	wall, err := r.LoadAt(inv, address)
	if err != nil {
		return protocol.Wall{}, address, err
	}
	if wall.Owner != ownerHint || wall.WallID != wallID {
		return protocol.Wall{}, address, ErrAddressMismatch.With("wall %s is not owned by %s", address, ownerHint)
	}
	return wall, address, nil
}

// LoadAt decodes the Wall stored at address and rechecks the address from the
// stored owner, id and bump without searching.
func (Registry) LoadAt(inv Invocation, address protocol.Pubkey) (protocol.Wall, error) {
	acct, ok, err := inv.Account(address)
	if err != nil {
		return protocol.Wall{}, err
	}
	if !ok || (len(acct.Data) == 0 && acct.Owner == protocol.SystemProgramID) {
		return protocol.Wall{}, ErrNotFound.With("wall %s", address)
	}
	if acct.Owner != protocol.WallProgramID {
		return protocol.Wall{}, ErrAccountOwnedByWrongProgram.With("account %s owned by %s", address, acct.Owner)
	}
	var wall protocol.Wall
	if err := wall.UnmarshalBinary(acct.Data); err != nil {
		if errors.Is(err, protocol.ErrAccountDiscriminator) {
			return protocol.Wall{}, ErrAccountDiscriminatorMismatch.With("account %s", address)
		}
		return protocol.Wall{}, ErrAccountDidNotDeserialize.With("account %s: %v", address, err)
	}
	expected, err := wall.Address()
	if err != nil || expected != address {
		return protocol.Wall{}, ErrAddressMismatch.With("wall %s does not match its seeds", address)
	}
	return wall, nil
}
