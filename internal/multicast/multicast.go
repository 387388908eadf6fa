// Package multicast publishes group envelopes to IPv4 multicast addresses
// and lets clients subscribe to them.
package multicast

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"

	"github.com/Tyrowin/presence-chat/internal/protocol"
)

// ErrClosed is returned by operations on a closed Transport or Subscriber.
var ErrClosed = errors.New("multicast: closed")

// Options configures a Transport.
type Options struct {
	// Port is the destination port of every published datagram.
	Port int
	// TTL is the multicast hop limit.
	TTL int
	// Interface names the outgoing interface. Empty means the system default.
	Interface string
	// Loopback delivers published datagrams to listeners on this host.
	Loopback bool
}

// Transport is the server side of group fan-out.
type Transport struct {
	conn  net.PacketConn
	pc    *ipv4.PacketConn
	iface *net.Interface
	port  int

	mu     sync.Mutex
	joined map[netip.Addr]struct{}
	closed bool
}

// Open creates a Transport sending from an ephemeral UDP port.
func Open(opts Options) (*Transport, error) {
	iface, err := lookupInterface(opts.Interface)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenPacket("udp4", "0.0.0.0:0")
	if err != nil {
		return nil, fmt.Errorf("open multicast socket: %w", err)
	}
	pc := ipv4.NewPacketConn(conn)

	if opts.TTL > 0 {
		if err := pc.SetMulticastTTL(opts.TTL); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("set multicast ttl: %w", err)
		}
	}
	if err := pc.SetMulticastLoopback(opts.Loopback); err != nil {
		logrus.WithField("function", "multicast.Open").WithError(err).Warn("cannot set multicast loopback")
	}
	if iface != nil {
		if err := pc.SetMulticastInterface(iface); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("set multicast interface %s: %w", iface.Name, err)
		}
	}

	return &Transport{
		conn:   conn,
		pc:     pc,
		iface:  iface,
		port:   opts.Port,
		joined: make(map[netip.Addr]struct{}),
	}, nil
}

func lookupInterface(name string) (*net.Interface, error) {
	if name == "" {
		return nil, nil
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("multicast interface %q: %w", name, err)
	}
	return iface, nil
}

// Port returns the destination port of published datagrams.
func (t *Transport) Port() int {
	return t.port
}

// Join subscribes the transport socket to addr.
func (t *Transport) Join(addr netip.Addr) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if _, ok := t.joined[addr]; ok {
		return nil
	}
	if err := t.pc.JoinGroup(t.iface, &net.UDPAddr{IP: addr.AsSlice()}); err != nil {
		return fmt.Errorf("join %s: %w", addr, err)
	}
	t.joined[addr] = struct{}{}
	return nil
}

// Leave drops the subscription to addr.
func (t *Transport) Leave(addr netip.Addr) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.joined[addr]; !ok {
		return nil
	}
	delete(t.joined, addr)
	if err := t.pc.LeaveGroup(t.iface, &net.UDPAddr{IP: addr.AsSlice()}); err != nil {
		return fmt.Errorf("leave %s: %w", addr, err)
	}
	return nil
}

// Publish sends env as one datagram to addr on the transport port.
func (t *Transport) Publish(addr netip.Addr, env protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}
	dst := net.UDPAddrFromAddrPort(netip.AddrPortFrom(addr, uint16(t.port)))
	if _, err := t.pc.WriteTo(data, nil, dst); err != nil {
		return fmt.Errorf("publish to %s: %w", dst, err)
	}
	return nil
}

// Close leaves every joined group and releases the socket.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	for addr := range t.joined {
		if err := t.pc.LeaveGroup(t.iface, &net.UDPAddr{IP: addr.AsSlice()}); err != nil {
			logrus.WithFields(logrus.Fields{"function": "Transport.Close", "addr": addr}).WithError(err).Debug("leave failed")
		}
		delete(t.joined, addr)
	}
	t.mu.Unlock()
	return t.conn.Close()
}
