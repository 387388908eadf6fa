package multicast

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"golang.org/x/net/ipv4"

	"github.com/Tyrowin/presence-chat/internal/protocol"
)

// Subscriber receives envelopes published to the groups it joined.
type Subscriber struct {
	conn    net.PacketConn
	pc      *ipv4.PacketConn
	iface   *net.Interface
	maxSize int
}

// Subscribe listens on port for multicast datagrams. Datagrams larger than
// maxSize are truncated and fail to decode.
func Subscribe(port int, ifaceName string, maxSize int) (*Subscriber, error) {
	iface, err := lookupInterface(ifaceName)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenPacket("udp4", "0.0.0.0:"+strconv.Itoa(port))
	if err != nil {
		return nil, fmt.Errorf("listen multicast port %d: %w", port, err)
	}
	if maxSize <= 0 {
		maxSize = 1024
	}
	return &Subscriber{conn: conn, pc: ipv4.NewPacketConn(conn), iface: iface, maxSize: maxSize}, nil
}

// LocalAddr returns the bound address.
func (s *Subscriber) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Join starts receiving datagrams sent to addr.
func (s *Subscriber) Join(addr netip.Addr) error {
	if err := s.pc.JoinGroup(s.iface, &net.UDPAddr{IP: addr.AsSlice()}); err != nil {
		return fmt.Errorf("join %s: %w", addr, err)
	}
	return nil
}

// Leave stops receiving datagrams sent to addr.
func (s *Subscriber) Leave(addr netip.Addr) error {
	if err := s.pc.LeaveGroup(s.iface, &net.UDPAddr{IP: addr.AsSlice()}); err != nil {
		return fmt.Errorf("leave %s: %w", addr, err)
	}
	return nil
}

// Receive blocks until the next envelope arrives.
func (s *Subscriber) Receive() (protocol.Envelope, error) {
	buf := make([]byte, s.maxSize)
	for {
		n, _, _, err := s.pc.ReadFrom(buf)
		if err != nil {
			return protocol.Envelope{}, err
		}
		env, err := protocol.Decode(buf[:n])
		if err != nil {
			continue
		}
		return env, nil
	}
}

// Close releases the socket and unblocks Receive.
func (s *Subscriber) Close() error {
	return s.conn.Close()
}
