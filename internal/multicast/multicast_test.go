package multicast

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/presence-chat/internal/protocol"
)

func TestPublishDeliversEnvelope(t *testing.T) {
	sub, err := Subscribe(0, "", 1024)
	require.NoError(t, err)
	defer sub.Close()
	port := sub.LocalAddr().(*net.UDPAddr).Port

	tr, err := Open(Options{Port: port, TTL: 1, Loopback: true})
	require.NoError(t, err)
	defer tr.Close()

	// a unicast destination exercises the same write path without
	// depending on multicast routing in the test environment
	env := protocol.Envelope{Type: protocol.TypeGroupMsg, From: "alice", GroupName: "golang", Msg: "hi"}
	require.NoError(t, tr.Publish(netip.MustParseAddr("127.0.0.1"), env))

	got := make(chan protocol.Envelope, 1)
	go func() {
		if e, err := sub.Receive(); err == nil {
			got <- e
		}
	}()
	select {
	case e := <-got:
		assert.Equal(t, env, e)
	case <-time.After(2 * time.Second):
		t.Fatal("datagram not received")
	}
}

func TestJoinLeaveAndClose(t *testing.T) {
	tr, err := Open(Options{Port: 10004, TTL: 1})
	require.NoError(t, err)

	addr := netip.MustParseAddr("239.255.77.1")
	if err := tr.Join(addr); err != nil {
		_ = tr.Close()
		t.Skipf("multicast not available: %v", err)
	}
	assert.NoError(t, tr.Join(addr), "joining twice is a no-op")
	assert.NoError(t, tr.Leave(addr))
	assert.NoError(t, tr.Leave(addr), "leaving twice is a no-op")

	require.NoError(t, tr.Join(addr))
	require.NoError(t, tr.Close())
	assert.ErrorIs(t, tr.Join(addr), ErrClosed)
	assert.ErrorIs(t, tr.Publish(addr, protocol.Envelope{Type: protocol.TypeGroupMsg}), ErrClosed)
	assert.NoError(t, tr.Close())
}

func TestOpenUnknownInterface(t *testing.T) {
	_, err := Open(Options{Port: 10004, Interface: "no-such-iface0"})
	assert.Error(t, err)
}
