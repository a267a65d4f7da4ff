// Package wire implements the control messages exchanged on a call stream.
//
// Wire format: a 1-byte kind, followed by a 4-byte little-endian size only
// for KindVoiceData. The codec is stateless and symmetric; which message is
// valid at which point of a call is decided by the call package.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Kind is the 1-byte discriminator that starts every control message.
type Kind byte

const (
	// KindInvite asks the listener to start ringing (dialer → listener).
	KindInvite Kind = 0x00

	// KindBusy rejects an invite because another call is active (listener → dialer).
	KindBusy Kind = 0x01

	// KindHangup ends the call (either direction).
	KindHangup Kind = 0x02

	// KindHangupAck acknowledges a received hangup.
	KindHangupAck Kind = 0x03

	// KindVoiceData announces Size bytes of opaque voice payload that follow.
	KindVoiceData Kind = 0x04
)

// sizeLen is the width of the VoiceData length field.
const sizeLen = 4

// ErrShortMessage is returned when the stream ends in the middle of a message.
var ErrShortMessage = errors.New("wire: short message")

// UnknownKindError is returned when a message starts with an unrecognized kind.
type UnknownKindError struct {
	Kind byte
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("wire: unknown message kind 0x%02x", e.Kind)
}

func (k Kind) String() string {
	switch k {
	case KindInvite:
		return "Invite"
	case KindBusy:
		return "Busy"
	case KindHangup:
		return "Hangup"
	case KindHangupAck:
		return "HangupAck"
	case KindVoiceData:
		return "VoiceData"
	default:
		return fmt.Sprintf("Kind(0x%02x)", byte(k))
	}
}

func (k Kind) known() bool {
	return k <= KindVoiceData
}

// Message is one control message. Size is only meaningful for KindVoiceData.
type Message struct {
	Kind Kind
	Size uint32
}

// Invite, Busy, Hangup and HangupAck are the payload-less messages.
var (
	Invite    = Message{Kind: KindInvite}
	Busy      = Message{Kind: KindBusy}
	Hangup    = Message{Kind: KindHangup}
	HangupAck = Message{Kind: KindHangupAck}
)

// VoiceData returns a VoiceData header announcing size payload bytes.
func VoiceData(size uint32) Message {
	return Message{Kind: KindVoiceData, Size: size}
}

func (m Message) String() string {
	if m.Kind == KindVoiceData {
		return fmt.Sprintf("VoiceData{size=%d}", m.Size)
	}
	return m.Kind.String()
}

// MarshalBinary returns the encoded form of m.
func (m Message) MarshalBinary() ([]byte, error) {
	if !m.Kind.known() {
		return nil, &UnknownKindError{Kind: byte(m.Kind)}
	}
	if m.Kind != KindVoiceData {
		return []byte{byte(m.Kind)}, nil
	}
	out := make([]byte, 1+sizeLen)
	out[0] = byte(m.Kind)
	binary.LittleEndian.PutUint32(out[1:], m.Size)
	return out, nil
}

// UnmarshalBinary decodes exactly one message from data.
func (m *Message) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return ErrShortMessage
	}
	k := Kind(data[0])
	if !k.known() {
		return &UnknownKindError{Kind: data[0]}
	}
	if k != KindVoiceData {
		if len(data) != 1 {
			return fmt.Errorf("wire: %d trailing bytes after %s", len(data)-1, k)
		}
		*m = Message{Kind: k}
		return nil
	}
	if len(data) != 1+sizeLen {
		if len(data) < 1+sizeLen {
			return ErrShortMessage
		}
		return fmt.Errorf("wire: %d trailing bytes after %s", len(data)-1-sizeLen, k)
	}
	*m = Message{Kind: k, Size: binary.LittleEndian.Uint32(data[1:])}
	return nil
}

// Write encodes m to w in a single Write call.
func Write(w io.Writer, m Message) error {
	b, err := m.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// Read decodes the next message from r. It reads exactly one kind byte and,
// for VoiceData, exactly four size bytes; the payload is left on r.
// A clean end of stream before the kind byte returns io.EOF.
func Read(r io.Reader) (Message, error) {
	var kb [1]byte
	if _, err := io.ReadFull(r, kb[:]); err != nil {
		return Message{}, err
	}
	k := Kind(kb[0])
	if !k.known() {
		return Message{}, &UnknownKindError{Kind: kb[0]}
	}
	if k != KindVoiceData {
		return Message{Kind: k}, nil
	}
	var sb [sizeLen]byte
	if _, err := io.ReadFull(r, sb[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Message{}, ErrShortMessage
		}
		return Message{}, err
	}
	return Message{Kind: k, Size: binary.LittleEndian.Uint32(sb[:])}, nil
}
