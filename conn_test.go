package msgsock

import (
	"net"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createPipeConn returns a Conn reading from an in-memory pipe and the writer side.
func createPipeConn(t *testing.T) (*Conn, net.Conn) {
	t.Helper()

	r, w := net.Pipe()
	t.Cleanup(func() {
		r.Close()
		w.Close()
	})
	return newConn(r), w
}

// writeChunks writes data in pieces of at most size bytes, then optionally closes w.
func writeChunks(w net.Conn, data []byte, size int, closeAfter bool) {
	go func() {
		for len(data) > 0 {
			n := size
			if n > len(data) {
				n = len(data)
			}
			if _, err := w.Write(data[:n]); err != nil {
				return
			}
			data = data[n:]
		}
		if closeAfter {
			w.Close()
		}
	}()
}

// readMessages drives c until want messages completed or an error occurred.
func readMessages(t *testing.T, c *Conn, want int) ([][]byte, error) {
	t.Helper()

	var msgs [][]byte
	for steps := 0; steps < 1<<20; steps++ {
		_ = c.raw.SetReadDeadline(time.Now().Add(2 * time.Second))
		msg, err := c.readStep()
		if err != nil {
			return msgs, err
		}
		if msg != nil {
			msgs = append(msgs, msg)
			if len(msgs) == want {
				return msgs, nil
			}
		}
	}
	t.Fatal("state machine made no progress")
	return nil, nil
}

func mustEncode(t *testing.T, payload []byte) []byte {
	t.Helper()
	frame, err := Encode(payload)
	require.NoError(t, err)
	return frame
}

func TestConn_NewConnState(t *testing.T) {
	c, _ := createPipeConn(t)

	assert.Equal(t, StateAwaitingHeader, c.State())
	assert.Equal(t, InvalidSocket, c.Socket())
	assert.NoError(t, c.Err())
}

func TestConn_ReassemblesByteAtATime(t *testing.T) {
	c, w := createPipeConn(t)
	payload := []byte("fragmented payload\x00")

	writeChunks(w, mustEncode(t, payload), 1, false)

	msgs, err := readMessages(t, c, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, payload, msgs[0])
	assert.Equal(t, StateAwaitingHeader, c.State())
}

func TestConn_ReassemblesArbitraryChunks(t *testing.T) {
	payload := make([]byte, 5000)
	for i := range payload {
		payload[i] = byte(i * 7)
	}

	for _, size := range []int{2, 3, 5, 999, 4096, 6000} {
		c, w := createPipeConn(t)
		writeChunks(w, mustEncode(t, payload), size, false)

		msgs, err := readMessages(t, c, 1)
		require.NoError(t, err, "chunk size %d", size)
		require.Len(t, msgs, 1)
		assert.Equal(t, payload, msgs[0], "chunk size %d", size)
	}
}

func TestConn_StaysInBodyOnShortRead(t *testing.T) {
	c, w := createPipeConn(t)
	frame := mustEncode(t, []byte("abcdef"))

	writeChunks(w, frame[:HeaderSize+2], HeaderSize+2, false)

	_ = c.raw.SetReadDeadline(time.Now().Add(time.Second))
	msg, err := c.readStep()
	require.NoError(t, err)
	assert.Nil(t, msg)
	assert.Equal(t, StateAwaitingBody, c.State())

	msg, err = c.readStep()
	require.NoError(t, err)
	assert.Nil(t, msg)
	assert.Equal(t, StateAwaitingBody, c.State())
	assert.Equal(t, 2, c.bodyN)

	writeChunks(w, frame[HeaderSize+2:], 64, false)
	msgs, err := readMessages(t, c, 1)
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(msgs[0]))
}

func TestConn_MultipleFramesInOneWrite(t *testing.T) {
	c, w := createPipeConn(t)

	var stream []byte
	want := []string{"one", "two", "", "three"}
	for _, p := range want {
		stream = append(stream, mustEncode(t, []byte(p))...)
	}
	writeChunks(w, stream, len(stream), false)

	msgs, err := readMessages(t, c, len(want))
	require.NoError(t, err)
	require.Len(t, msgs, len(want))
	for i, p := range want {
		assert.Equal(t, p, string(msgs[i]))
	}
}

func TestConn_EmptyPayload(t *testing.T) {
	c, w := createPipeConn(t)
	writeChunks(w, mustEncode(t, nil), HeaderSize, false)

	_ = c.raw.SetReadDeadline(time.Now().Add(time.Second))
	msg, err := c.readStep()
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Empty(t, msg)
	assert.Equal(t, StateAwaitingHeader, c.State())
}

func TestConn_InvalidHeader(t *testing.T) {
	c, w := createPipeConn(t)
	writeChunks(w, []byte("GET / HTTP/1.1\r\n"), 16, false)

	msgs, err := readMessages(t, c, 1)
	assert.Empty(t, msgs)
	assert.True(t, errors.Is(err, ErrInvalidHeader))
	assert.Equal(t, StateFailed, c.State())
	assert.True(t, errors.Is(c.Err(), ErrInvalidHeader))

	// a failed connection does not read again
	_, err = c.readStep()
	assert.True(t, errors.Is(err, ErrInvalidHeader))
}

func TestConn_PeerClosedAwaitingHeader(t *testing.T) {
	c, w := createPipeConn(t)
	w.Close()

	msgs, err := readMessages(t, c, 1)
	assert.Empty(t, msgs)
	assert.True(t, errors.Is(err, ErrPeerClosed))
	assert.Equal(t, StateFailed, c.State())
}

func TestConn_PeerClosedMidHeader(t *testing.T) {
	c, w := createPipeConn(t)
	writeChunks(w, []byte{HeaderMark, HeaderMark}, 2, true)

	msgs, err := readMessages(t, c, 1)
	assert.Empty(t, msgs)
	assert.True(t, errors.Is(err, ErrPeerClosed))
	assert.Equal(t, StateFailed, c.State())
}

func TestConn_PeerClosedMidBody(t *testing.T) {
	c, w := createPipeConn(t)
	frame := mustEncode(t, []byte("truncated body"))
	writeChunks(w, frame[:HeaderSize+5], 3, true)

	msgs, err := readMessages(t, c, 1)
	assert.Empty(t, msgs)
	assert.True(t, errors.Is(err, ErrPeerClosed))
	assert.Equal(t, StateFailed, c.State())
	assert.Nil(t, c.body)
}

func TestConn_ReadTimeoutKeepsProgress(t *testing.T) {
	c, w := createPipeConn(t)
	frame := mustEncode(t, []byte("slow"))
	writeChunks(w, frame[:HeaderSize+1], HeaderSize+1, false)

	_ = c.raw.SetReadDeadline(time.Now().Add(time.Second))
	_, err := c.readStep()
	require.NoError(t, err)
	_, err = c.readStep()
	require.NoError(t, err)

	_ = c.raw.SetReadDeadline(time.Now().Add(20 * time.Millisecond))
	_, err = c.readStep()
	assert.True(t, errors.Is(err, errReadTimeout))
	assert.True(t, IsTemporary(err))
	assert.Equal(t, StateAwaitingBody, c.State())

	writeChunks(w, frame[HeaderSize+1:], 1, false)
	msgs, err := readMessages(t, c, 1)
	require.NoError(t, err)
	assert.Equal(t, "slow", string(msgs[0]))
}

func TestConn_ShutdownIdempotent(t *testing.T) {
	c, _ := createPipeConn(t)

	require.NoError(t, c.shutdown())
	assert.Equal(t, StateClosed, c.State())
	assert.NoError(t, c.shutdown())

	_, err := c.readStep()
	assert.True(t, errors.Is(err, ErrConnectionClosed))
}

func TestConn_SocketOfTCP(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)

	c := newConn(serverConn)
	assert.NotEqual(t, InvalidSocket, c.Socket())
	assert.NotEqual(t, c.Socket(), newConn(clientConn).Socket())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "awaiting-header", StateAwaitingHeader.String())
	assert.Equal(t, "awaiting-body", StateAwaitingBody.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(7).String())
}
