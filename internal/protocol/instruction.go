package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	InitializeWallDiscriminator = discriminator("global:initialize_wall")
	PostMessageDiscriminator    = discriminator("global:post_message")

	ErrUnknownInstruction   = errors.New("unknown instruction discriminator")
	ErrInstructionData      = errors.New("instruction data did not deserialize")
	ErrInvalidUTF8          = errors.New("string is not valid utf-8")
	ErrTrailingInstruction  = errors.New("trailing bytes after instruction arguments")
	ErrSystemInstruction    = errors.New("system instruction did not deserialize")
	systemTransferOpcode    = uint32(2)
	systemTransferDataBytes = 4 + 8
)

// AccountMeta is one account reference of an instruction, in positional order.
type AccountMeta struct {
	Pubkey     Pubkey `json:"pubkey"`
	IsSigner   bool   `json:"is_signer"`
	IsWritable bool   `json:"is_writable"`
}

// Instruction invokes ProgramID with positional accounts and opaque data.
type Instruction struct {
	ProgramID Pubkey        `json:"program_id"`
	Accounts  []AccountMeta `json:"accounts"`
	Data      []byte        `json:"data"`
}

type InitializeWallArgs struct {
	WallID uint64
}

type PostMessageArgs struct {
	Message string
}

// NewInitializeWallInstruction builds the instruction with accounts
// [wall (w), owner (s,w), system program].
func NewInitializeWallInstruction(owner Pubkey, wallID uint64) (Instruction, error) {
	wall, _, err := DeriveWallAddress(owner, wallID)
	if err != nil {
		return Instruction{}, err
	}
	data := make([]byte, 0, DiscriminatorSize+8)
	data = append(data, InitializeWallDiscriminator[:]...)
	data = binary.LittleEndian.AppendUint64(data, wallID)
	return Instruction{
		ProgramID: WallProgramID,
		Accounts: []AccountMeta{
			{Pubkey: wall, IsWritable: true},
			{Pubkey: owner, IsSigner: true, IsWritable: true},
			{Pubkey: SystemProgramID},
		},
		Data: data,
	}, nil
}

// NewPostMessageInstruction builds the instruction with accounts
// [wall (w), poster (s,w), owner wallet (w), system program].
func NewPostMessageInstruction(wall, poster, devWallet Pubkey, message string) Instruction {
	data := make([]byte, 0, DiscriminatorSize+4+len(message))
	data = append(data, PostMessageDiscriminator[:]...)
	data = binary.LittleEndian.AppendUint32(data, uint32(len(message)))
	data = append(data, message...)
	return Instruction{
		ProgramID: WallProgramID,
		Accounts: []AccountMeta{
			{Pubkey: wall, IsWritable: true},
			{Pubkey: poster, IsSigner: true, IsWritable: true},
			{Pubkey: devWallet, IsWritable: true},
			{Pubkey: SystemProgramID},
		},
		Data: data,
	}
}

// SplitInstructionData separates the 8-byte discriminator from the arguments.
func SplitInstructionData(data []byte) ([DiscriminatorSize]byte, []byte, error) {
	var disc [DiscriminatorSize]byte
	if len(data) < DiscriminatorSize {
		return disc, nil, ErrUnknownInstruction
	}
	copy(disc[:], data[:DiscriminatorSize])
	return disc, data[DiscriminatorSize:], nil
}

func DecodeInitializeWallArgs(args []byte) (InitializeWallArgs, error) {
	if len(args) < 8 {
		return InitializeWallArgs{}, fmt.Errorf("%w: wall_id needs 8 bytes, got %d", ErrInstructionData, len(args))
	}
	if len(args) > 8 {
		return InitializeWallArgs{}, fmt.Errorf("%w: %v", ErrInstructionData, ErrTrailingInstruction)
	}
	return InitializeWallArgs{WallID: binary.LittleEndian.Uint64(args)}, nil
}

func DecodePostMessageArgs(args []byte) (PostMessageArgs, error) {
	r := bytes.NewReader(args)
	msg, err := readString(r)
	if err != nil {
		return PostMessageArgs{}, fmt.Errorf("%w: %v", ErrInstructionData, err)
	}
	if r.Len() != 0 {
		return PostMessageArgs{}, fmt.Errorf("%w: %v", ErrInstructionData, ErrTrailingInstruction)
	}
	return PostMessageArgs{Message: msg}, nil
}

// NewSystemTransferInstruction moves lamports between two wallets through the
// runtime transfer module. Accounts: [from (s,w), to (w)].
func NewSystemTransferInstruction(from, to Pubkey, lamports uint64) Instruction {
	data := make([]byte, 0, systemTransferDataBytes)
	data = binary.LittleEndian.AppendUint32(data, systemTransferOpcode)
	data = binary.LittleEndian.AppendUint64(data, lamports)
	return Instruction{
		ProgramID: SystemProgramID,
		Accounts: []AccountMeta{
			{Pubkey: from, IsSigner: true, IsWritable: true},
			{Pubkey: to, IsWritable: true},
		},
		Data: data,
	}
}

func DecodeSystemTransfer(data []byte) (uint64, error) {
	if len(data) != systemTransferDataBytes {
		return 0, ErrSystemInstruction
	}
	if binary.LittleEndian.Uint32(data[:4]) != systemTransferOpcode {
		return 0, ErrSystemInstruction
	}
	return binary.LittleEndian.Uint64(data[4:]), nil
}

func readString(r *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", errors.New("missing string length prefix")
	}
	if int64(n) > int64(r.Len()) {
		return "", fmt.Errorf("string length %d exceeds remaining %d bytes", n, r.Len())
	}
	buf := make([]byte, n)
	if _, err := r.Read(buf); err != nil && n > 0 {
		return "", err
	}
	if !utf8.Valid(buf) {
		return "", ErrInvalidUTF8
	}
	return string(buf), nil
}

func appendString(dst []byte, s string) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(s)))
	return append(dst, s...)
}
