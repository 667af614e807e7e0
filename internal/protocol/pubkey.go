package protocol

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

const (
	PubkeySize    = 32
	SignatureSize = ed25519.SignatureSize
)

// Pubkey is a 32-byte identity on the ledger. Its text form is base58.
type Pubkey [PubkeySize]byte

var (
	// SystemProgramID owns user wallets and provides the native transfer primitive.
	SystemProgramID = Pubkey{}

	// WallProgramID owns every Wall record.
	WallProgramID = Pubkey(sha256.Sum256([]byte("manifest-wall:program:v1")))
)

func PubkeyFromBytes(b []byte) (Pubkey, error) {
	var pk Pubkey
	if len(b) != PubkeySize {
		return pk, fmt.Errorf("pubkey length %d invalid", len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

func ParsePubkey(s string) (Pubkey, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return Pubkey{}, fmt.Errorf("decode pubkey: %w", err)
	}
	return PubkeyFromBytes(raw)
}

func MustParsePubkey(s string) Pubkey {
	pk, err := ParsePubkey(s)
	if err != nil {
		panic(err)
	}
	return pk
}

func (p Pubkey) String() string {
	return base58.Encode(p[:])
}

func (p Pubkey) Bytes() []byte {
	out := make([]byte, PubkeySize)
	copy(out, p[:])
	return out
}

func (p Pubkey) IsZero() bool {
	return p == Pubkey{}
}

func (p Pubkey) Equal(other Pubkey) bool {
	return bytes.Equal(p[:], other[:])
}

func (p Pubkey) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Pubkey) UnmarshalText(text []byte) error {
	pk, err := ParsePubkey(string(text))
	if err != nil {
		return err
	}
	*p = pk
	return nil
}

// IsOnCurve reports whether the key decompresses to a valid ed25519 point.
// Only on-curve keys can have a corresponding private key.
func (p Pubkey) IsOnCurve() bool {
	_, err := new(edwards25519.Point).SetBytes(p[:])
	return err == nil
}

// PublicKey converts an on-curve identity to an ed25519 verification key.
func (p Pubkey) PublicKey() ed25519.PublicKey {
	return ed25519.PublicKey(p.Bytes())
}

func PubkeyFromPublicKey(pub ed25519.PublicKey) Pubkey {
	var pk Pubkey
	copy(pk[:], pub)
	return pk
}

// Signature is an ed25519 signature over a serialized Message.
type Signature [SignatureSize]byte

func ParseSignature(s string) (Signature, error) {
	var sig Signature
	raw, err := base58.Decode(s)
	if err != nil {
		return sig, fmt.Errorf("decode signature: %w", err)
	}
	if len(raw) != SignatureSize {
		return sig, fmt.Errorf("signature length %d invalid", len(raw))
	}
	copy(sig[:], raw)
	return sig, nil
}

func (s Signature) String() string {
	return base58.Encode(s[:])
}

func (s Signature) IsZero() bool {
	return s == Signature{}
}

func (s Signature) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Signature) UnmarshalText(text []byte) error {
	sig, err := ParseSignature(string(text))
	if err != nil {
		return err
	}
	*s = sig
	return nil
}

var ErrInvalidSignature = errors.New("invalid signature")
