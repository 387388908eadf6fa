package client

import (
	"errors"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/presence-chat/internal/multicast"
	"github.com/Tyrowin/presence-chat/internal/protocol"
)

const maxDatagram = 1024

// openGroups opens the datagram socket towards the server and the multicast
// subscription, then joins groups.
func (c *Client) openGroups(groups []GroupInfo) error {
	var errs []error

	if c.cfg.GroupAddr != "" {
		addr, err := net.ResolveUDPAddr("udp", c.cfg.GroupAddr)
		if err == nil {
			var conn *net.UDPConn
			if conn, err = net.DialUDP("udp", nil, addr); err == nil {
				c.mu.Lock()
				c.group = conn
				c.mu.Unlock()
				c.readers.Add(1)
				go c.readGroupReplies(conn)
			}
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("group datagrams: %w", err))
		}
	}

	if c.cfg.MulticastPort != 0 {
		sub, err := multicast.Subscribe(c.cfg.MulticastPort, c.cfg.MulticastInterface, maxDatagram)
		if err != nil {
			errs = append(errs, err)
		} else {
			c.mu.Lock()
			c.sub = sub
			c.mu.Unlock()
			c.readers.Add(1)
			go c.readMulticast(sub)
		}
	}

	for _, g := range groups {
		c.subscribe(g)
	}
	return errors.Join(errs...)
}

// subscribe joins the multicast group of g when a subscription is open.
func (c *Client) subscribe(g GroupInfo) {
	c.mu.Lock()
	sub := c.sub
	c.mu.Unlock()
	if sub == nil {
		return
	}
	if err := sub.Join(g.Addr); err != nil {
		c.log.WithFields(logrus.Fields{"group": g.Name, "addr": g.Addr}).WithError(err).Warn("multicast join failed")
	}
}

// SendGroupMessage sends text to every online member of group. Success is
// silent; a refusal arrives as a SourceGroup event with a NACK envelope.
func (c *Client) SendGroupMessage(group, text string) error {
	c.mu.Lock()
	conn, user := c.group, c.user
	c.mu.Unlock()
	if user == "" {
		return ErrNotLoggedIn
	}
	if conn == nil {
		return errors.New("client: group messaging not configured")
	}

	data, err := protocol.Encode(protocol.Envelope{
		Type:      protocol.TypeGroupMsg,
		From:      user,
		GroupName: group,
		Msg:       text,
	})
	if err != nil {
		return err
	}
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("send group message: %w", err)
	}
	return nil
}

func (c *Client) readGroupReplies(conn *net.UDPConn) {
	defer c.readers.Done()
	buf := make([]byte, maxDatagram)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if c.closed() || errors.Is(err, net.ErrClosed) {
				return
			}
			// ICMP unreachable surfaces here on connected sockets
			c.log.WithError(err).Debug("group reply read failed")
			continue
		}
		env, err := protocol.Decode(buf[:n])
		if err != nil {
			continue
		}
		c.emit(Event{Source: SourceGroup, Envelope: env})
	}
}

func (c *Client) readMulticast(sub *multicast.Subscriber) {
	defer c.readers.Done()
	for {
		env, err := sub.Receive()
		if err != nil {
			if !c.closed() && !errors.Is(err, net.ErrClosed) {
				c.log.WithError(err).Warn("multicast receive failed")
			}
			return
		}
		c.emit(Event{Source: SourceGroup, Envelope: env})
	}
}
