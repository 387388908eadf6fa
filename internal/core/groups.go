package core

import (
	"errors"
	"net/netip"

	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/presence-chat/internal/protocol"
	"github.com/Tyrowin/presence-chat/internal/shardmap"
)

// GroupDirectory is the registry of live groups.
type GroupDirectory struct {
	groups    *shardmap.Map[*Group]
	pool      *AddressPool
	transport GroupTransport
	port      int
}

// NewGroupDirectory creates an empty directory that allocates addresses from
// pool and fans messages out through transport. port is the multicast port
// advertised to clients.
func NewGroupDirectory(pool *AddressPool, transport GroupTransport, port int) *GroupDirectory {
	return &GroupDirectory{
		groups:    shardmap.New[*Group](),
		pool:      pool,
		transport: transport,
		port:      port,
	}
}

// Port returns the multicast port groups publish on.
func (d *GroupDirectory) Port() int {
	return d.port
}

func (d *GroupDirectory) info(g *Group) GroupInfo {
	return GroupInfo{Name: g.name, Addr: g.addr, Port: d.port}
}

// Info returns the subscription details of the named group.
func (d *GroupDirectory) Info(name string) (GroupInfo, bool) {
	var info GroupInfo
	found := d.groups.ComputeIfPresent(name, func(g *Group) bool {
		info = d.info(g)
		return true
	})
	return info, found
}

// Names returns every group name in sorted order.
func (d *GroupDirectory) Names() []string {
	return d.groups.Keys()
}

// Members returns a sorted snapshot of the group's members.
func (d *GroupDirectory) Members(name string) ([]string, bool) {
	var members []string
	found := d.groups.ComputeIfPresent(name, func(g *Group) bool {
		members = g.memberNames()
		return true
	})
	return members, found
}

// Counts returns the online and total member counts of a group.
func (d *GroupDirectory) Counts(name string) (online, members int, found bool) {
	found = d.groups.ComputeIfPresent(name, func(g *Group) bool {
		online, members = g.online, len(g.members)
		return true
	})
	return online, members, found
}

// create inserts a group owned by admin. The address is consumed even when
// joining the transport fails. online is read under the group lock.
func (d *GroupDirectory) create(admin, name string, online func() bool) (GroupInfo, Code) {
	log := logrus.WithFields(logrus.Fields{"function": "GroupDirectory.create", "group": name, "user": admin})

	code := CodeAlreadyExists
	var info GroupInfo
	d.groups.ComputeIfAbsent(name, func() (*Group, bool) {
		addr, err := d.pool.Allocate()
		if err != nil {
			if errors.Is(err, ErrPoolExhausted) {
				log.Warn("no multicast address left")
			}
			code = CodeGroupFail
			return nil, false
		}
		if err := d.transport.Join(addr); err != nil {
			log.WithError(err).WithField("addr", addr).Error("failed to join multicast group")
			code = CodeGroupFail
			return nil, false
		}
		g := newGroup(name, admin, addr, online())
		info = d.info(g)
		code = CodeOK
		return g, true
	})
	if code == CodeOK {
		log.WithField("addr", info.Addr).Info("group created")
	}
	return info, code
}

// join adds user to the group. online is read under the group lock, so a
// status change that lands after it also finds the member.
func (d *GroupDirectory) join(user, name string, online func() bool) (GroupInfo, Code) {
	code := CodeGroupNotExist
	var info GroupInfo
	d.groups.ComputeIfPresent(name, func(g *Group) bool {
		if !g.join(user, online()) {
			code = CodeUserAlreadyInGroup
			return true
		}
		info = d.info(g)
		code = CodeOK
		return true
	})
	return info, code
}

func (d *GroupDirectory) hasMember(name, user string) bool {
	member := false
	d.groups.ComputeIfPresent(name, func(g *Group) bool {
		member = g.isMember(user)
		return true
	})
	return member
}

func (d *GroupDirectory) setMemberOnline(name, user string, online bool) {
	d.groups.ComputeIfPresent(name, func(g *Group) bool {
		g.setOnline(user, online)
		return true
	})
}

// publish sends env to the group on behalf of source.
func (d *GroupDirectory) publish(source, name string, env protocol.Envelope) Code {
	code := CodeGroupNotExist
	d.groups.ComputeIfPresent(name, func(g *Group) bool {
		switch {
		case !g.isMember(source):
			code = CodeGroupNoUser
		case g.online <= 1:
			code = CodeGroupNoOnlineUser
		default:
			if err := d.transport.Publish(g.addr, env); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "GroupDirectory.publish",
					"group":    name,
					"user":     source,
				}).WithError(err).Error("multicast send failed")
				code = CodeGroupSendFail
			} else {
				code = CodeOK
			}
		}
		return true
	})
	return code
}

// close removes the group if requester is its admin and the close notice
// reached the transport. It returns the former members.
func (d *GroupDirectory) close(requester, name string) ([]string, Code) {
	log := logrus.WithFields(logrus.Fields{"function": "GroupDirectory.close", "group": name, "user": requester})

	code := CodeGroupNotExist
	var members []string
	var addr netip.Addr
	d.groups.ComputeIfPresent(name, func(g *Group) bool {
		if g.admin != requester {
			code = CodeGroupUserNotAdmin
			return true
		}
		notice := protocol.Envelope{Type: protocol.TypeGroupClose, GroupName: name, From: requester}
		if err := d.transport.Publish(g.addr, notice); err != nil {
			log.WithError(err).Error("failed to broadcast close notice")
			code = CodeGroupSendFail
			return true
		}
		members = g.memberNames()
		addr = g.addr
		code = CodeOK
		return false
	})
	if code != CodeOK {
		return nil, code
	}
	if err := d.transport.Leave(addr); err != nil {
		log.WithError(err).WithField("addr", addr).Warn("failed to leave multicast group")
	}
	log.Info("group closed")
	return members, code
}
