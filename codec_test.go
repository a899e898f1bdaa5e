package msgsock

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_RoundTrip(t *testing.T) {
	sizes := []int{0, 1, 4, 255, 256, 1000, MaxPayloadSize}
	for _, size := range sizes {
		payload := make([]byte, size)
		for i := range payload {
			payload[i] = byte(i)
		}

		frame, err := Encode(payload)
		require.NoError(t, err, "size %d", size)
		require.Len(t, frame, HeaderSize+size)

		n, err := DecodeHeader(frame[:HeaderSize])
		require.NoError(t, err)
		assert.Equal(t, size, n)
		assert.Equal(t, payload, frame[HeaderSize:])
	}
}

func TestEncode_HeaderLayout(t *testing.T) {
	frame, err := Encode(make([]byte, 0x0102))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xEE, 0xEE, 0x01, 0x02}, frame[:HeaderSize])
}

func TestEncode_TooLarge(t *testing.T) {
	_, err := Encode(make([]byte, MaxPayloadSize+1))
	assert.True(t, errors.Is(err, ErrPayloadTooLarge))
}

func TestEncodeHeader_ShortBuffer(t *testing.T) {
	err := EncodeHeader(make([]byte, 2), 10)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestDecodeHeader_InvalidMark(t *testing.T) {
	cases := [][]byte{
		{0x00, 0xEE, 0x00, 0x01},
		{0xEE, 0x00, 0x00, 0x01},
		{'G', 'E', 'T', ' '},
	}
	for _, h := range cases {
		_, err := DecodeHeader(h)
		assert.True(t, errors.Is(err, ErrInvalidHeader), "header %v", h)
	}
}

func TestDecodeHeader_WrongSize(t *testing.T) {
	_, err := DecodeHeader([]byte{0xEE, 0xEE, 0x00})
	assert.True(t, errors.Is(err, ErrInvalidHeader))
}

func TestReadFrame(t *testing.T) {
	var buf bytes.Buffer
	for _, p := range []string{"ping", "", "pong"} {
		frame, err := Encode([]byte(p))
		require.NoError(t, err)
		buf.Write(frame)
	}

	for _, want := range []string{"ping", "", "pong"} {
		got, err := ReadFrame(&buf)
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}

	_, err := ReadFrame(&buf)
	assert.Error(t, err)
}
