package core

import (
	"fmt"
	"net/netip"
	"sync"
)

// Default bounds of the multicast range handed out to groups.
var (
	DefaultPoolStart = netip.MustParseAddr("224.0.0.1")
	DefaultPoolEnd   = netip.MustParseAddr("239.255.255.255")
)

// AddressPool hands out IPv4 multicast addresses in ascending order. An
// address is never handed out twice, even after its group is closed.
type AddressPool struct {
	mu        sync.Mutex
	next      netip.Addr
	end       netip.Addr
	exhausted bool
}

// NewAddressPool creates a pool over the inclusive range [start, end].
func NewAddressPool(start, end netip.Addr) (*AddressPool, error) {
	if !start.Is4() || !end.Is4() {
		return nil, fmt.Errorf("multicast pool %s-%s: addresses must be IPv4", start, end)
	}
	if !start.IsMulticast() || !end.IsMulticast() {
		return nil, fmt.Errorf("multicast pool %s-%s: addresses must be multicast", start, end)
	}
	if end.Less(start) {
		return nil, fmt.Errorf("multicast pool %s-%s: start is after end", start, end)
	}
	return &AddressPool{next: start, end: end}, nil
}

// Allocate returns the next unused address or ErrPoolExhausted.
func (p *AddressPool) Allocate() (netip.Addr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exhausted {
		return netip.Addr{}, ErrPoolExhausted
	}
	addr := p.next
	if addr == p.end {
		p.exhausted = true
	} else {
		p.next = addr.Next()
	}
	return addr, nil
}
