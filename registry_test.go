package msgsock

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, n int) (*registry, []*Conn) {
	t.Helper()

	r := &registry{}
	conns := make([]*Conn, n)
	for i := range conns {
		serverConn, _ := createTestTCPPair(t)
		conns[i] = newConn(serverConn)
		require.True(t, r.add(conns[i]))
	}
	return r, conns
}

func TestRegistry_AddKeepsOrderAndRejectsDuplicates(t *testing.T) {
	r, conns := newTestRegistry(t, 3)

	assert.False(t, r.add(conns[1]))
	assert.Equal(t, 3, r.len())
	assert.Equal(t, []Socket{conns[0].sock, conns[1].sock, conns[2].sock}, r.sockets())
}

func TestRegistry_LookupSkipsDeadConnections(t *testing.T) {
	r, conns := newTestRegistry(t, 2)

	assert.Same(t, conns[0], r.lookup(conns[0].sock))
	assert.Nil(t, r.lookup(Socket(-42)))

	conns[1].fail(errors.New("boom"))
	assert.Nil(t, r.lookup(conns[1].sock))
	assert.Equal(t, []Socket{conns[0].sock}, r.sockets())
}

func TestRegistry_ReapRemovesOnlyFailed(t *testing.T) {
	r, conns := newTestRegistry(t, 4)

	conns[1].fail(ErrPeerClosed)
	conns[3].fail(ErrInvalidHeader)

	dropped := r.reap()
	require.Len(t, dropped, 2)
	assert.Same(t, conns[1], dropped[0])
	assert.Same(t, conns[3], dropped[1])
	for _, c := range dropped {
		assert.Equal(t, StateClosed, c.State())
	}

	assert.Equal(t, 2, r.len())
	assert.Equal(t, []Socket{conns[0].sock, conns[2].sock}, r.sockets())
	assert.Empty(t, r.reap())
}

func TestRegistry_CloseAll(t *testing.T) {
	r, conns := newTestRegistry(t, 3)

	closed := r.closeAll()
	assert.Len(t, closed, 3)
	assert.Equal(t, 0, r.len())
	for _, c := range conns {
		assert.Equal(t, StateClosed, c.State())
	}
}
