package core

import (
	"net/netip"
	"sort"

	"github.com/sirupsen/logrus"
)

// Group is a named multicast group. Its fields are only touched while the
// owning shard of the group map is locked.
type Group struct {
	name    string
	admin   string
	addr    netip.Addr
	members map[string]bool
	online  int
}

// GroupInfo is what a client needs to subscribe to a group.
type GroupInfo struct {
	Name string
	Addr netip.Addr
	Port int
}

func newGroup(name, admin string, addr netip.Addr, adminOnline bool) *Group {
	g := &Group{
		name:    name,
		admin:   admin,
		addr:    addr,
		members: map[string]bool{admin: adminOnline},
	}
	if adminOnline {
		g.online = 1
	}
	return g
}

func (g *Group) isMember(user string) bool {
	_, ok := g.members[user]
	return ok
}

// join adds user as a member. It returns false for existing members.
func (g *Group) join(user string, online bool) bool {
	if g.isMember(user) {
		return false
	}
	g.members[user] = false
	if online {
		g.setOnline(user, true)
	}
	return true
}

// setOnline flips the member's flag and moves the online counter, keeping it
// within [0, member count].
func (g *Group) setOnline(user string, online bool) {
	cur, ok := g.members[user]
	if !ok || cur == online {
		return
	}
	g.members[user] = online

	next := g.online - 1
	if online {
		next = g.online + 1
	}
	switch {
	case next < 0:
		logrus.WithFields(logrus.Fields{
			"function": "Group.setOnline",
			"group":    g.name,
			"user":     user,
		}).Warn("online counter underflow, clamping to 0")
		next = 0
	case next > len(g.members):
		logrus.WithFields(logrus.Fields{
			"function": "Group.setOnline",
			"group":    g.name,
			"user":     user,
		}).Warn("online counter overflow, clamping to member count")
		next = len(g.members)
	}
	g.online = next
}

func (g *Group) memberNames() []string {
	names := make([]string, 0, len(g.members))
	for name := range g.members {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
