package msgsock

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Frame layout: two mark bytes followed by the big-endian payload length.
const (
	// HeaderSize is the size of the frame header in bytes.
	HeaderSize = 4
	// HeaderMark is the sentinel value of the first two header bytes.
	HeaderMark = 0xEE
	// MaxPayloadSize is the largest payload a single frame can carry.
	MaxPayloadSize = 0xFFFF
)

// EncodeHeader writes the header for a payload of size bytes into dst.
// dst must hold at least HeaderSize bytes.
func EncodeHeader(dst []byte, size int) error {
	if size < 0 || size > MaxPayloadSize {
		return errors.Wrapf(ErrPayloadTooLarge, "size %d", size)
	}
	if len(dst) < HeaderSize {
		return errors.Wrapf(ErrInvalidArgument, "header buffer of %d bytes", len(dst))
	}
	dst[0] = HeaderMark
	dst[1] = HeaderMark
	binary.BigEndian.PutUint16(dst[2:HeaderSize], uint16(size))
	return nil
}

// Encode returns the frame carrying payload.
func Encode(payload []byte) ([]byte, error) {
	frame := make([]byte, HeaderSize+len(payload))
	if err := EncodeHeader(frame, len(payload)); err != nil {
		return nil, err
	}
	copy(frame[HeaderSize:], payload)
	return frame, nil
}

// DecodeHeader validates a complete header and returns the payload length it declares.
func DecodeHeader(h []byte) (int, error) {
	if len(h) != HeaderSize {
		return 0, errors.Wrapf(ErrInvalidHeader, "expecting %d header bytes, got %d", HeaderSize, len(h))
	}
	if h[0] != HeaderMark || h[1] != HeaderMark {
		return 0, errors.Wrapf(ErrInvalidHeader, "mark %#02x %#02x", h[0], h[1])
	}
	return int(binary.BigEndian.Uint16(h[2:])), nil
}

// ReadFrame reads one complete frame from r and returns its payload.
// It blocks until the whole frame is available, which suits simple blocking
// peers such as tools and tests talking to a Server. Server and Client use the
// resumable Conn state machine instead.
func ReadFrame(r io.Reader) ([]byte, error) {
	var h [HeaderSize]byte
	if _, err := io.ReadFull(r, h[:]); err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	size, err := DecodeHeader(h[:])
	if err != nil {
		return nil, err
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, errors.Wrap(err, "read payload")
	}
	return payload, nil
}
