package crypto

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mr-tron/base58"
)

// Signer holds the node key that signs event heads.
type Signer struct {
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
	KeyID   string
}

func NewSigner(priv ed25519.PrivateKey) *Signer {
	pub := priv.Public().(ed25519.PublicKey)
	return &Signer{Private: priv, Public: pub, KeyID: KeyID(pub)}
}

// LoadSigner reads a private key and, when publicPath is set, checks it
// against the matching public key file.
func LoadSigner(privatePath, publicPath string) (*Signer, error) {
	priv, err := loadPrivateKey(privatePath)
	if err != nil {
		return nil, err
	}
	signer := NewSigner(priv)
	if publicPath == "" {
		return signer, nil
	}
	pub, err := loadPublicKey(publicPath)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(signer.Public, pub) {
		return nil, errors.New("public key does not match private key")
	}
	return signer, nil
}

func (s *Signer) Sign(payload []byte) string {
	sig := ed25519.Sign(s.Private, payload)
	return base64.RawURLEncoding.EncodeToString(sig)
}

func Verify(pub ed25519.PublicKey, payload []byte, signature string) bool {
	sig, err := base64.RawURLEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, payload, sig)
}

// ParsePublicKey accepts PEM (PKIX), base58, or base64 encodings.
func ParsePublicKey(encoded string) (ed25519.PublicKey, error) {
	buf := strings.TrimSpace(encoded)
	if strings.HasPrefix(buf, "-----BEGIN") {
		block, _ := pem.Decode([]byte(buf))
		if block == nil {
			return nil, errors.New("invalid public key pem")
		}
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse public key pem: %w", err)
		}
		pk, ok := parsed.(ed25519.PublicKey)
		if !ok {
			return nil, errors.New("public key is not ed25519")
		}
		return pk, nil
	}
	b, err := decodeKeyText(buf, ed25519.PublicKeySize)
	if err != nil {
		return nil, err
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key length %d invalid", len(b))
	}
	return ed25519.PublicKey(b), nil
}

// ParsePrivateKey accepts PEM (PKCS#8), a JSON byte array keypair, base58, or
// base64 encodings of a 32-byte seed or 64-byte private key.
func ParsePrivateKey(encoded string) (ed25519.PrivateKey, error) {
	data := strings.TrimSpace(encoded)
	var b []byte
	switch {
	case strings.HasPrefix(data, "-----BEGIN"):
		block, _ := pem.Decode([]byte(data))
		if block == nil {
			return nil, errors.New("invalid private key pem")
		}
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse pkcs8 private key: %w", err)
		}
		pk, ok := parsed.(ed25519.PrivateKey)
		if !ok {
			return nil, errors.New("private key is not ed25519")
		}
		return pk, nil
	case strings.HasPrefix(data, "["):
		var ints []int
		if err := json.Unmarshal([]byte(data), &ints); err != nil {
			return nil, fmt.Errorf("parse keypair array: %w", err)
		}
		b = make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("keypair byte %d out of range", i)
			}
			b[i] = byte(v)
		}
	default:
		var err error
		if b, err = decodeKeyText(data, ed25519.PrivateKeySize, ed25519.SeedSize); err != nil {
			return nil, err
		}
	}
	switch len(b) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(b), nil
	case ed25519.PrivateKeySize:
		priv := ed25519.PrivateKey(b)
		if !bytes.Equal(ed25519.NewKeyFromSeed(priv.Seed()).Public().(ed25519.PublicKey), priv[32:]) {
			return nil, errors.New("private key halves do not match")
		}
		return priv, nil
	default:
		return nil, fmt.Errorf("private key length %d invalid", len(b))
	}
}

func loadPrivateKey(path string) (ed25519.PrivateKey, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	return ParsePrivateKey(string(buf))
}

func loadPublicKey(path string) (ed25519.PublicKey, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	return ParsePublicKey(string(buf))
}

// decodeKeyText tries base58 first, keeping it only when it yields one of the
// expected lengths, then falls back to the base64 variants.
func decodeKeyText(s string, sizes ...int) ([]byte, error) {
	s = strings.TrimSpace(s)
	if b, err := base58.Decode(s); err == nil {
		for _, n := range sizes {
			if len(b) == n {
				return b, nil
			}
		}
	}
	candidates := []func(string) ([]byte, error){
		base64.RawURLEncoding.DecodeString,
		base64.URLEncoding.DecodeString,
		base64.RawStdEncoding.DecodeString,
		base64.StdEncoding.DecodeString,
	}
	for _, fn := range candidates {
		if b, err := fn(s); err == nil {
			return b, nil
		}
	}
	return nil, errors.New("key is not valid base58 or base64")
}

func KeyID(pub ed25519.PublicKey) string {
	h := sha256.Sum256(pub)
	return "ed25519:" + hex.EncodeToString(h[:8])
}
