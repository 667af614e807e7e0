package program

import (
	"fmt"

	"github.com/moneyfestation-dev/manifest-wall/internal/protocol"
)

const (
	initializeWallAccounts = 3
	postMessageAccounts    = 4
)

// Program is the wall program entrypoint.
type Program struct {
	registry Registry
}

func New() *Program {
	return &Program{}
}

func (p *Program) ID() protocol.Pubkey {
	return protocol.WallProgramID
}

// Process routes one instruction by discriminator. Any returned error aborts
// the enclosing transaction.
func (p *Program) Process(inv Invocation, ix protocol.Instruction) error {
	if ix.ProgramID != protocol.WallProgramID {
		return ErrInvalidProgramID.With("instruction targets %s", ix.ProgramID)
	}
	disc, args, err := protocol.SplitInstructionData(ix.Data)
	if err != nil {
		return ErrInstructionFallbackNotFound
	}
	switch disc {
	case protocol.InitializeWallDiscriminator:
		inv.Log("Instruction: InitializeWall")
		decoded, err := protocol.DecodeInitializeWallArgs(args)
		if err != nil {
			return ErrInstructionDidNotDeserialize.With("%v", err)
		}
		return p.InitializeWall(inv, ix.Accounts, decoded.WallID)
	case protocol.PostMessageDiscriminator:
		inv.Log("Instruction: PostMessage")
		decoded, err := protocol.DecodePostMessageArgs(args)
		if err != nil {
			return ErrInstructionDidNotDeserialize.With("%v", err)
		}
		return p.PostMessage(inv, ix.Accounts, decoded.Message)
	default:
		return ErrInstructionFallbackNotFound.With("discriminator %x", disc)
	}
}

// InitializeWall creates the wall for (owner, wallID) and emits WallInitialized.
// Accounts: [wall (w), owner (s,w), system program].
func (p *Program) InitializeWall(inv Invocation, accounts []protocol.AccountMeta, wallID uint64) error {
	if err := checkAccounts(accounts, initializeWallAccounts); err != nil {
		return err
	}
	wallMeta, ownerMeta := accounts[0], accounts[1]
	owner := ownerMeta.Pubkey

	if err := ValidateSigner(inv, owner); err != nil {
		return err
	}
	address, bump, err := protocol.DeriveWallAddress(owner, wallID)
	if err != nil {
		return fmt.Errorf("derive wall address: %w", err)
	}
	if address != wallMeta.Pubkey {
		return ErrAddressMismatch.With("expected %s, got %s", address, wallMeta.Pubkey)
	}
	if err := p.registry.Initialize(inv, owner, wallID, address, bump); err != nil {
		return err
	}
	return EmitWallInitialized(inv, wallID, owner)
}

// PostMessage charges MessageFee from the poster to the wall owner and emits
// MessagePosted. Accounts: [wall (w), poster (s,w), owner wallet (w), system program].
func (p *Program) PostMessage(inv Invocation, accounts []protocol.AccountMeta, message string) error {
	if err := checkAccounts(accounts, postMessageAccounts); err != nil {
		return err
	}
	wallMeta, posterMeta, devMeta := accounts[0], accounts[1], accounts[2]
	poster := posterMeta.Pubkey

	if err := ValidateMessage(message); err != nil {
		return err
	}
	wall, err := p.registry.LoadAt(inv, wallMeta.Pubkey)
	if err != nil {
		return err
	}
	if err := ValidateDevWallet(devMeta.Pubkey, wall); err != nil {
		return err
	}
	posterAcct, _, err := inv.Account(poster)
	if err != nil {
		return err
	}
	if err := ValidateFunds(posterAcct.Lamports); err != nil {
		return err
	}
	if err := ValidateSigner(inv, poster); err != nil {
		return err
	}
	if err := Transfer(inv, poster, wall.Owner, protocol.MessageFee); err != nil {
		return err
	}
	timestamp := inv.UnixTimestamp()
	return EmitMessagePosted(inv, wall.WallID, poster, message, timestamp)
}

// checkAccounts enforces the shape shared by both instructions: enough keys,
// the first two writable, and the system program last.
func checkAccounts(accounts []protocol.AccountMeta, want int) error {
	if len(accounts) < want {
		return ErrAccountNotEnoughKeys.With("got %d, want %d", len(accounts), want)
	}
	for i := 0; i < want-1; i++ {
		if !accounts[i].IsWritable {
			return ErrConstraintMut.With("account %s", accounts[i].Pubkey)
		}
	}
	if accounts[want-1].Pubkey != protocol.SystemProgramID {
		return ErrInvalidProgramID.With("expected system program, got %s", accounts[want-1].Pubkey)
	}
	return nil
}
