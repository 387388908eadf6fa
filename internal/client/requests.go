package client

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/language"

	"github.com/Tyrowin/presence-chat/internal/protocol"
)

// GroupInfo locates a group's multicast fan-out.
type GroupInfo struct {
	Name string
	Addr netip.Addr
	Port int
}

// Session describes a completed login.
type Session struct {
	User     string
	Language language.Tag
	Groups   []GroupInfo
}

// roundTrip sends env on the request stream and returns the reply. The
// stream answers every request with exactly one envelope.
func (c *Client) roundTrip(ctx context.Context, env protocol.Envelope) (protocol.Envelope, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	if c.closed() {
		return protocol.Envelope{}, ErrClosed
	}
	if err := writeEnvelope(c.request, env, c.cfg.ReplyTimeout); err != nil {
		return protocol.Envelope{}, fmt.Errorf("send %s: %w", env.Type, err)
	}
	if err := c.request.SetReadDeadline(deadline(ctx, c.cfg.ReplyTimeout)); err != nil {
		return protocol.Envelope{}, err
	}
	for {
		envs, err := readEnvelopes(c.request)
		if err != nil {
			return protocol.Envelope{}, fmt.Errorf("read %s reply: %w", env.Type, err)
		}
		if len(envs) == 0 {
			continue
		}
		if len(envs) > 1 {
			c.log.WithField("type", env.Type).Warnf("discarding %d surplus replies", len(envs)-1)
		}
		return envs[0], nil
	}
}

// Register creates an account. lang is a BCP 47 tag such as "en" or "it".
func (c *Client) Register(ctx context.Context, user, password, lang string) error {
	reply, err := c.roundTrip(ctx, protocol.Envelope{Type: protocol.TypeRegister, Usr: user, Psw: password, Lang: lang})
	if err != nil {
		return err
	}
	return expect(reply, protocol.TypeACK)
}

// Login authenticates and opens the notification and chat streams, which
// completes the login on the server. Group streams are opened when
// configured.
func (c *Client) Login(ctx context.Context, user, password string) (Session, error) {
	if c.User() != "" {
		return Session{}, fmt.Errorf("client: already logged in as %s", c.User())
	}
	reply, err := c.roundTrip(ctx, protocol.Envelope{Type: protocol.TypeLogin, Usr: user, Psw: password})
	if err != nil {
		return Session{}, err
	}
	if err := expect(reply, protocol.TypeLACK); err != nil {
		return Session{}, err
	}

	notify, notifyEarly, err := c.handshake(ctx, "/ws/notify", user)
	if err != nil {
		return Session{}, err
	}
	chat, chatEarly, err := c.handshake(ctx, "/ws/chat", user)
	if err != nil {
		_ = notify.Close()
		return Session{}, err
	}

	session := Session{User: user, Language: language.Make(reply.Lang)}
	for _, ref := range reply.Groups {
		addr, err := netip.ParseAddr(ref.Ip)
		if err != nil {
			c.log.WithFields(logrus.Fields{"group": ref.GroupName, "ip": ref.Ip}).Warn("ignoring group with invalid address")
			continue
		}
		session.Groups = append(session.Groups, GroupInfo{Name: ref.GroupName, Addr: addr, Port: c.cfg.MulticastPort})
	}

	c.mu.Lock()
	c.user = user
	c.notify = notify
	c.chat = chat
	c.mu.Unlock()

	c.readers.Add(2)
	go c.readNotify(notify, notifyEarly)
	go c.readChat(chat, chatEarly)

	if err := c.openGroups(session.Groups); err != nil {
		c.log.WithError(err).Warn("group messaging unavailable")
	}
	c.log.WithFields(logrus.Fields{"user": user, "groups": len(session.Groups)}).Info("logged in")
	return session, nil
}

func (c *Client) loggedIn() error {
	if c.User() == "" {
		return ErrNotLoggedIn
	}
	return nil
}

// AddFriend starts following user.
func (c *Client) AddFriend(ctx context.Context, user string) error {
	if err := c.loggedIn(); err != nil {
		return err
	}
	reply, err := c.roundTrip(ctx, protocol.Envelope{Type: protocol.TypeAddFriend, Usr: user})
	if err != nil {
		return err
	}
	return expect(reply, protocol.TypeACK)
}

// SearchUser reports whether user is registered.
func (c *Client) SearchUser(ctx context.Context, user string) (bool, error) {
	reply, err := c.roundTrip(ctx, protocol.Envelope{Type: protocol.TypeSearchUser, Usr: user})
	if err != nil {
		return false, err
	}
	switch reply.Type {
	case protocol.TypeACK:
		return true, nil
	case protocol.TypeNACK:
		return false, nil
	default:
		return false, fmt.Errorf("%w: %s", ErrUnexpectedReply, reply.Type)
	}
}

// Friends returns the users this client follows.
func (c *Client) Friends(ctx context.Context) ([]string, error) {
	if err := c.loggedIn(); err != nil {
		return nil, err
	}
	reply, err := c.roundTrip(ctx, protocol.Envelope{Type: protocol.TypeFriendsList})
	if err != nil {
		return nil, err
	}
	if err := expect(reply, protocol.TypeFACK); err != nil {
		return nil, err
	}
	return reply.List, nil
}

// CreateGroup creates a group administered by this client and subscribes
// to it.
func (c *Client) CreateGroup(ctx context.Context, name string) (GroupInfo, error) {
	return c.groupRequest(ctx, protocol.TypeGroupCreate, name)
}

// JoinGroup joins an existing group and subscribes to it.
func (c *Client) JoinGroup(ctx context.Context, name string) (GroupInfo, error) {
	return c.groupRequest(ctx, protocol.TypeGroupJoin, name)
}

func (c *Client) groupRequest(ctx context.Context, kind, name string) (GroupInfo, error) {
	if err := c.loggedIn(); err != nil {
		return GroupInfo{}, err
	}
	reply, err := c.roundTrip(ctx, protocol.Envelope{Type: kind, GroupName: name})
	if err != nil {
		return GroupInfo{}, err
	}
	if err := expect(reply, protocol.TypeGACK); err != nil {
		return GroupInfo{}, err
	}
	addr, err := netip.ParseAddr(reply.Ip)
	if err != nil {
		return GroupInfo{}, fmt.Errorf("group %s address %q: %w", name, reply.Ip, err)
	}
	info := GroupInfo{Name: reply.GroupName, Addr: addr, Port: reply.Port}
	c.subscribe(info)
	return info, nil
}

// ListGroups returns the groups this client joined and every other group.
func (c *Client) ListGroups(ctx context.Context) (joined, others []string, err error) {
	if err := c.loggedIn(); err != nil {
		return nil, nil, err
	}
	reply, err := c.roundTrip(ctx, protocol.Envelope{Type: protocol.TypeGroupList})
	if err != nil {
		return nil, nil, err
	}
	if err := expect(reply, protocol.TypeGroupList); err != nil {
		return nil, nil, err
	}
	return reply.ListUserGroup, reply.List, nil
}

// CloseGroup closes a group this client administers.
func (c *Client) CloseGroup(ctx context.Context, name string) error {
	if err := c.loggedIn(); err != nil {
		return err
	}
	reply, err := c.roundTrip(ctx, protocol.Envelope{Type: protocol.TypeGroupClose, GroupName: name})
	if err != nil {
		return err
	}
	return expect(reply, protocol.TypeACK)
}
