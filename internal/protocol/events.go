package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	EventWallInitialized = "WallInitialized"
	EventMessagePosted   = "MessagePosted"
)

var (
	WallInitializedDiscriminator = discriminator("event:" + EventWallInitialized)
	MessagePostedDiscriminator   = discriminator("event:" + EventMessagePosted)

	ErrUnknownEvent = errors.New("unknown event discriminator")
)

// Event is a structured record published to the runtime event sink.
type Event interface {
	EventName() string
	MarshalBinary() ([]byte, error)
}

type WallInitialized struct {
	WallID    uint64 `json:"wall_id"`
	DevWallet Pubkey `json:"dev_wallet"`
}

type MessagePosted struct {
	WallID    uint64 `json:"wall_id"`
	User      Pubkey `json:"user"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

func (WallInitialized) EventName() string { return EventWallInitialized }

func (MessagePosted) EventName() string { return EventMessagePosted }

func (e WallInitialized) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, DiscriminatorSize+8+PubkeySize)
	buf = append(buf, WallInitializedDiscriminator[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, e.WallID)
	buf = append(buf, e.DevWallet[:]...)
	return buf, nil
}

func (e MessagePosted) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, DiscriminatorSize+8+PubkeySize+4+len(e.Message)+8)
	buf = append(buf, MessagePostedDiscriminator[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, e.WallID)
	buf = append(buf, e.User[:]...)
	buf = appendString(buf, e.Message)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(e.Timestamp))
	return buf, nil
}

// DecodeEvent parses a binary event record produced by MarshalBinary.
func DecodeEvent(data []byte) (Event, error) {
	if len(data) < DiscriminatorSize {
		return nil, ErrUnknownEvent
	}
	r := bytes.NewReader(data[DiscriminatorSize:])
	switch {
	case bytes.Equal(data[:DiscriminatorSize], WallInitializedDiscriminator[:]):
		var e WallInitialized
		if err := binary.Read(r, binary.LittleEndian, &e.WallID); err != nil {
			return nil, fmt.Errorf("decode wall_id: %w", err)
		}
		if _, err := io.ReadFull(r, e.DevWallet[:]); err != nil {
			return nil, fmt.Errorf("decode dev_wallet: %w", err)
		}
		return e, expectDrained(r)
	case bytes.Equal(data[:DiscriminatorSize], MessagePostedDiscriminator[:]):
		var e MessagePosted
		if err := binary.Read(r, binary.LittleEndian, &e.WallID); err != nil {
			return nil, fmt.Errorf("decode wall_id: %w", err)
		}
		if _, err := io.ReadFull(r, e.User[:]); err != nil {
			return nil, fmt.Errorf("decode user: %w", err)
		}
		msg, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		e.Message = msg
		if err := binary.Read(r, binary.LittleEndian, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("decode timestamp: %w", err)
		}
		return e, expectDrained(r)
	default:
		return nil, ErrUnknownEvent
	}
}

// EventPayloadJSON renders the JSON view of an event with stable field order.
func EventPayloadJSON(e Event) (json.RawMessage, error) {
	raw, err := CanonicalJSON(e)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}

func expectDrained(r *bytes.Reader) error {
	if r.Len() != 0 {
		return fmt.Errorf("%d trailing bytes after event", r.Len())
	}
	return nil
}
