package wire

import (
	"bytes"
	"errors"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	msgs := []Message{
		Invite,
		Busy,
		Hangup,
		HangupAck,
		VoiceData(0),
		VoiceData(1),
		VoiceData(160),
		VoiceData(math.MaxUint32),
	}

	for _, m := range msgs {
		t.Run(m.String(), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Write(&buf, m))

			got, err := Read(&buf)
			require.NoError(t, err)
			require.Equal(t, m, got)
			require.Zero(t, buf.Len(), "decoder must consume exactly one message")

			b, err := m.MarshalBinary()
			require.NoError(t, err)
			var um Message
			require.NoError(t, um.UnmarshalBinary(b))
			require.Equal(t, m, um)
		})
	}
}

func TestEncodedWidths(t *testing.T) {
	b, err := Hangup.MarshalBinary()
	require.NoError(t, err)
	require.Equal(t, []byte{0x02}, b)

	b, err = VoiceData(0x01020304).MarshalBinary()
	require.NoError(t, err)
	require.Equal(t, []byte{0x04, 0x04, 0x03, 0x02, 0x01}, b)
}

func TestReadSequence(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, Invite))
	require.NoError(t, Write(&buf, VoiceData(3)))
	buf.Write([]byte{0xAA, 0xBB, 0xCC})
	require.NoError(t, Write(&buf, Hangup))

	m, err := Read(&buf)
	require.NoError(t, err)
	require.Equal(t, Invite, m)

	m, err = Read(&buf)
	require.NoError(t, err)
	require.Equal(t, VoiceData(3), m)
	_, err = io.CopyN(io.Discard, &buf, int64(m.Size))
	require.NoError(t, err)

	m, err = Read(&buf)
	require.NoError(t, err)
	require.Equal(t, Hangup, m)

	_, err = Read(&buf)
	require.ErrorIs(t, err, io.EOF)
}

func TestUnknownKind(t *testing.T) {
	_, err := Read(bytes.NewReader([]byte{0xFF, 0x00}))

	var uk *UnknownKindError
	require.True(t, errors.As(err, &uk))
	require.Equal(t, byte(0xFF), uk.Kind)
	require.Contains(t, err.Error(), "0xff")

	var m Message
	err = m.UnmarshalBinary([]byte{0x7F})
	require.True(t, errors.As(err, &uk))
	require.Equal(t, byte(0x7F), uk.Kind)

	_, err = Message{Kind: 0x42}.MarshalBinary()
	require.True(t, errors.As(err, &uk))
}

func TestShortVoiceData(t *testing.T) {
	_, err := Read(bytes.NewReader([]byte{byte(KindVoiceData), 0x01, 0x02}))
	require.ErrorIs(t, err, ErrShortMessage)

	var m Message
	require.ErrorIs(t, m.UnmarshalBinary([]byte{byte(KindVoiceData), 0x01}), ErrShortMessage)
	require.ErrorIs(t, m.UnmarshalBinary(nil), ErrShortMessage)
}

func TestTrailingBytes(t *testing.T) {
	var m Message
	require.Error(t, m.UnmarshalBinary([]byte{byte(KindBusy), 0x00}))
	require.Error(t, m.UnmarshalBinary([]byte{byte(KindVoiceData), 0, 0, 0, 0, 0}))
}

func TestKindString(t *testing.T) {
	require.Equal(t, "HangupAck", KindHangupAck.String())
	require.Equal(t, "Kind(0x99)", Kind(0x99).String())
	require.Equal(t, "VoiceData{size=7}", VoiceData(7).String())
}
