package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/braidchat/switchboard/internal/execctx"
)

func newTestSession(conn *fakeConn) *Session {
	return NewSession(conn, time.Minute, nil, nil)
}

// deliveryContext builds the unit of work a delivery runs under: bound to
// the user and, when a session is given, to that connection.
func deliveryContext(userID string, s *Session) *execctx.Context {
	ec := execctx.New(execctx.KindConnection, nil, nil)
	ec.BindUser(userID)
	if s != nil {
		ec.BindConn(s)
	}
	return ec
}

func TestRegistryRegisterUnregister(t *testing.T) {
	reg := NewRegistry(nil, nil)
	s1 := newTestSession(newFakeConn())
	s2 := newTestSession(newFakeConn())

	reg.Register("u-1", s1)
	reg.Register("u-1", s2)
	assert.Len(t, reg.SessionsFor("u-1"), 2)
	assert.Equal(t, 2, reg.ConnectionCount())

	reg.Unregister("u-1", s1)
	require.Len(t, reg.SessionsFor("u-1"), 1)
	assert.Same(t, s2, reg.SessionsFor("u-1")[0])

	// Unregistering a session twice is a no-op.
	reg.Unregister("u-1", s1)
	assert.Len(t, reg.SessionsFor("u-1"), 1)

	reg.Unregister("u-1", s2)
	assert.Empty(t, reg.SessionsFor("u-1"))
	assert.Equal(t, 0, reg.ConnectionCount())
}

func TestRegistryCloseUserRemovesBeforeClosing(t *testing.T) {
	reg := NewRegistry(nil, nil)
	conn1 := newFakeConn()
	conn2 := newFakeConn()
	reg.Register("u-1", newTestSession(conn1))
	reg.Register("u-1", newTestSession(conn2))
	reg.Register("u-2", newTestSession(newFakeConn()))

	closed := reg.CloseUser("u-1")
	assert.Equal(t, 2, closed)
	assert.Empty(t, reg.SessionsFor("u-1"))
	assert.True(t, conn1.isClosed())
	assert.True(t, conn2.isClosed())
	assert.Len(t, reg.SessionsFor("u-2"), 1)

	n, err := reg.Deliver(context.Background(), deliveryContext("u-1", nil), Envelope{Type: "card"}, true)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRegistryCloseUserWithoutSessions(t *testing.T) {
	reg := NewRegistry(nil, nil)
	assert.Zero(t, reg.CloseUser("nobody"))
}

func TestRegistryDeliverMulticast(t *testing.T) {
	reg := NewRegistry(nil, nil)
	conn1 := newFakeConn()
	conn2 := newFakeConn()
	reg.Register("u-1", newTestSession(conn1))
	reg.Register("u-1", newTestSession(conn2))

	env := Envelope{Type: "card", ServiceID: "mail", AccountID: "a-1"}
	n, err := reg.Deliver(context.Background(), deliveryContext("u-1", nil), env, true)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, conn := range []*fakeConn{conn1, conn2} {
		writes := conn.written()
		require.Len(t, writes, 1)
		var got Envelope
		require.NoError(t, json.Unmarshal([]byte(writes[0]), &got))
		assert.Equal(t, env, got)
	}
}

func TestRegistryDeliverUnicastWritesBoundConnection(t *testing.T) {
	reg := NewRegistry(nil, nil)
	conn1 := newFakeConn()
	conn2 := newFakeConn()
	s1 := newTestSession(conn1)
	s2 := newTestSession(conn2)
	reg.Register("u-1", s1)
	reg.Register("u-1", s2)

	// The unit of work arrived on the second session; the reply must land
	// there, not on the oldest registered session.
	n, err := reg.Deliver(context.Background(), deliveryContext("u-1", s2), Envelope{Type: "card"}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, conn1.written())
	assert.Len(t, conn2.written(), 1)
}

func TestRegistryDeliverUnicastWithoutBoundConnection(t *testing.T) {
	reg := NewRegistry(nil, nil)
	conn := newFakeConn()
	reg.Register("u-1", newTestSession(conn))

	n, err := reg.Deliver(context.Background(), deliveryContext("u-1", nil), Envelope{Type: "card"}, false)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, conn.written())
}

func TestRegistryDeliverToAbsentUser(t *testing.T) {
	reg := NewRegistry(nil, nil)
	n, err := reg.Deliver(context.Background(), deliveryContext("nobody", nil), Envelope{Type: "card"}, true)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRegistryDeliverSkipsFailedWrites(t *testing.T) {
	reg := NewRegistry(nil, nil)
	dead := newFakeConn()
	dead.Close()
	live := newFakeConn()
	reg.Register("u-1", newTestSession(dead))
	reg.Register("u-1", newTestSession(live))

	n, err := reg.Deliver(context.Background(), deliveryContext("u-1", nil), Envelope{Type: "card"}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, live.written(), 1)
}
