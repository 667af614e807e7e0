package protocol

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	maxSigners      = 8
	maxInstructions = 16
	maxAccountMetas = 32
	// MaxTransactionSize bounds a serialized transaction.
	MaxTransactionSize = 4096
)

var (
	ErrNoSigners          = errors.New("transaction has no signers")
	ErrNoInstructions     = errors.New("transaction has no instructions")
	ErrSignatureCount     = errors.New("signature count does not match signer count")
	ErrDuplicateSigner    = errors.New("duplicate signer")
	ErrMalformedTx        = errors.New("malformed transaction")
	ErrTransactionTooLong = errors.New("transaction exceeds maximum size")
)

// Message is the signed body of a transaction. Signers[0] pays the runtime fee.
// Nonce distinguishes otherwise identical messages.
type Message struct {
	Signers      []Pubkey      `json:"signers"`
	Nonce        uint64        `json:"nonce"`
	Instructions []Instruction `json:"instructions"`
}

type Transaction struct {
	Signatures []Signature `json:"signatures"`
	Message    Message     `json:"message"`
}

func (m Message) FeePayer() Pubkey {
	if len(m.Signers) == 0 {
		return Pubkey{}
	}
	return m.Signers[0]
}

// Serialize produces the deterministic bytes that signers sign.
func (m Message) Serialize() ([]byte, error) {
	if len(m.Signers) > maxSigners || len(m.Instructions) > maxInstructions {
		return nil, ErrMalformedTx
	}
	var buf bytes.Buffer
	buf.WriteByte(uint8(len(m.Signers)))
	for _, s := range m.Signers {
		buf.Write(s[:])
	}
	_ = binary.Write(&buf, binary.LittleEndian, m.Nonce)
	buf.WriteByte(uint8(len(m.Instructions)))
	for _, ix := range m.Instructions {
		if len(ix.Accounts) > maxAccountMetas {
			return nil, ErrMalformedTx
		}
		buf.Write(ix.ProgramID[:])
		buf.WriteByte(uint8(len(ix.Accounts)))
		for _, meta := range ix.Accounts {
			buf.Write(meta.Pubkey[:])
			var flags byte
			if meta.IsSigner {
				flags |= 1
			}
			if meta.IsWritable {
				flags |= 2
			}
			buf.WriteByte(flags)
		}
		_ = binary.Write(&buf, binary.LittleEndian, uint32(len(ix.Data)))
		buf.Write(ix.Data)
	}
	if buf.Len() > MaxTransactionSize {
		return nil, ErrTransactionTooLong
	}
	return buf.Bytes(), nil
}

func decodeMessage(r *bytes.Reader) (Message, error) {
	var m Message
	nSigners, err := r.ReadByte()
	if err != nil {
		return m, err
	}
	if int(nSigners) > maxSigners {
		return m, ErrMalformedTx
	}
	m.Signers = make([]Pubkey, nSigners)
	for i := range m.Signers {
		if _, err := io.ReadFull(r, m.Signers[i][:]); err != nil {
			return m, err
		}
	}
	if err := binary.Read(r, binary.LittleEndian, &m.Nonce); err != nil {
		return m, err
	}
	nIx, err := r.ReadByte()
	if err != nil {
		return m, err
	}
	if int(nIx) > maxInstructions {
		return m, ErrMalformedTx
	}
	m.Instructions = make([]Instruction, nIx)
	for i := range m.Instructions {
		ix := &m.Instructions[i]
		if _, err := io.ReadFull(r, ix.ProgramID[:]); err != nil {
			return m, err
		}
		nAcc, err := r.ReadByte()
		if err != nil {
			return m, err
		}
		if int(nAcc) > maxAccountMetas {
			return m, ErrMalformedTx
		}
		ix.Accounts = make([]AccountMeta, nAcc)
		for j := range ix.Accounts {
			if _, err := io.ReadFull(r, ix.Accounts[j].Pubkey[:]); err != nil {
				return m, err
			}
			flags, err := r.ReadByte()
			if err != nil {
				return m, err
			}
			ix.Accounts[j].IsSigner = flags&1 != 0
			ix.Accounts[j].IsWritable = flags&2 != 0
		}
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return m, err
		}
		if int64(n) > int64(r.Len()) {
			return m, ErrMalformedTx
		}
		ix.Data = make([]byte, n)
		if _, err := io.ReadFull(r, ix.Data); err != nil {
			return m, err
		}
	}
	return m, nil
}

// NewTransaction signs msg with the given keys, in Signers order.
func NewTransaction(msg Message, keys ...ed25519.PrivateKey) (Transaction, error) {
	payload, err := msg.Serialize()
	if err != nil {
		return Transaction{}, err
	}
	byPub := make(map[Pubkey]ed25519.PrivateKey, len(keys))
	for _, k := range keys {
		byPub[PubkeyFromPublicKey(k.Public().(ed25519.PublicKey))] = k
	}
	tx := Transaction{Message: msg, Signatures: make([]Signature, len(msg.Signers))}
	for i, signer := range msg.Signers {
		key, ok := byPub[signer]
		if !ok {
			return Transaction{}, fmt.Errorf("missing private key for signer %s", signer)
		}
		copy(tx.Signatures[i][:], ed25519.Sign(key, payload))
	}
	return tx, nil
}

// ID is the first signature, which uniquely names the transaction.
func (t Transaction) ID() Signature {
	if len(t.Signatures) == 0 {
		return Signature{}
	}
	return t.Signatures[0]
}

// Sanitize checks structural rules that do not need ledger state.
func (t Transaction) Sanitize() error {
	if len(t.Message.Signers) == 0 {
		return ErrNoSigners
	}
	if len(t.Message.Instructions) == 0 {
		return ErrNoInstructions
	}
	if len(t.Signatures) != len(t.Message.Signers) {
		return ErrSignatureCount
	}
	seen := make(map[Pubkey]struct{}, len(t.Message.Signers))
	for _, s := range t.Message.Signers {
		if _, dup := seen[s]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateSigner, s)
		}
		seen[s] = struct{}{}
	}
	return nil
}

// Verify checks every signer's signature over the serialized message.
func (t Transaction) Verify() error {
	if err := t.Sanitize(); err != nil {
		return err
	}
	payload, err := t.Message.Serialize()
	if err != nil {
		return err
	}
	for i, signer := range t.Message.Signers {
		if !signer.IsOnCurve() || !ed25519.Verify(signer.PublicKey(), payload, t.Signatures[i][:]) {
			return fmt.Errorf("%w for signer %s", ErrInvalidSignature, signer)
		}
	}
	return nil
}

func (t Transaction) MarshalBinary() ([]byte, error) {
	msg, err := t.Message.Serialize()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 1+len(t.Signatures)*SignatureSize+len(msg))
	out = append(out, uint8(len(t.Signatures)))
	for _, sig := range t.Signatures {
		out = append(out, sig[:]...)
	}
	return append(out, msg...), nil
}

func (t *Transaction) UnmarshalBinary(data []byte) error {
	if len(data) > MaxTransactionSize+1+maxSigners*SignatureSize {
		return ErrTransactionTooLong
	}
	r := bytes.NewReader(data)
	nSigs, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedTx, err)
	}
	if int(nSigs) > maxSigners {
		return ErrMalformedTx
	}
	sigs := make([]Signature, nSigs)
	for i := range sigs {
		if _, err := io.ReadFull(r, sigs[i][:]); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedTx, err)
		}
	}
	msg, err := decodeMessage(r)
	if err != nil {
		if errors.Is(err, ErrMalformedTx) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrMalformedTx, err)
	}
	if r.Len() != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformedTx, r.Len())
	}
	t.Signatures = sigs
	t.Message = msg
	return nil
}
