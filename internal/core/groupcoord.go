package core

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/presence-chat/internal/protocol"
)

// GroupCoordinator implements the group lifecycle on top of the user and
// group directories.
type GroupCoordinator struct {
	presence *Presence
	groups   *GroupDirectory
}

// NewGroupCoordinator creates a GroupCoordinator.
func NewGroupCoordinator(presence *Presence, groups *GroupDirectory) *GroupCoordinator {
	return &GroupCoordinator{presence: presence, groups: groups}
}

// CreateGroup creates name with admin as its only member. A blank name is
// refused with CodeGroupFail.
//
// The membership is recorded on the user before the group exists, so a
// logout racing with the creation always finds it and clears the flag.
func (c *GroupCoordinator) CreateGroup(admin, name string) (GroupInfo, Code) {
	if strings.TrimSpace(name) == "" {
		return GroupInfo{}, CodeGroupFail
	}
	if !c.presence.Exists(admin) {
		return GroupInfo{}, CodeWrongUser
	}
	c.presence.addGroup(admin, name)
	info, code := c.groups.create(admin, name, func() bool { return c.presence.active(admin) })
	if code != CodeOK {
		c.rollback(admin, name)
	}
	return info, code
}

// JoinGroup adds user to name. A logged-in user joins as an online member.
// Like CreateGroup it records the membership on the user first.
func (c *GroupCoordinator) JoinGroup(user, name string) (GroupInfo, Code) {
	if !c.presence.Exists(user) {
		return GroupInfo{}, CodeWrongUser
	}
	c.presence.addGroup(user, name)
	info, code := c.groups.join(user, name, func() bool { return c.presence.active(user) })
	if code != CodeOK {
		c.rollback(user, name)
		return info, code
	}
	logrus.WithFields(logrus.Fields{"function": "GroupCoordinator.JoinGroup", "user": user, "group": name}).Info("user joined group")
	return info, code
}

// rollback drops an optimistic membership unless the user really is in
// the group, as with a repeated join.
func (c *GroupCoordinator) rollback(user, name string) {
	if !c.groups.hasMember(name, user) {
		c.presence.removeGroup(user, name)
	}
}

// SendGroupMessage publishes text to the group. Delivery happens over the
// group transport, so OK carries no reply for source.
func (c *GroupCoordinator) SendGroupMessage(source, group, text string) Code {
	return c.groups.publish(source, group, protocol.Envelope{
		Type:      protocol.TypeGroupMsg,
		From:      source,
		GroupName: group,
		Msg:       text,
	})
}

// CloseGroup broadcasts a close notice, removes the group and strips it from
// every member. Only the admin may close a group.
func (c *GroupCoordinator) CloseGroup(user, name string) Code {
	members, code := c.groups.close(user, name)
	if code != CodeOK {
		return code
	}
	for _, m := range members {
		c.presence.removeGroup(m, name)
	}
	return CodeOK
}

// ListGroups splits the existing groups into those user belongs to and the rest.
func (c *GroupCoordinator) ListGroups(user string) (joined, others []string) {
	mine := c.presence.groupsOf(user)
	for _, name := range c.groups.Names() {
		if _, ok := mine[name]; ok {
			joined = append(joined, name)
		} else {
			others = append(others, name)
		}
	}
	return joined, others
}

// Memberships returns the subscription details of every group user belongs to.
func (c *GroupCoordinator) Memberships(user string) []GroupInfo {
	joined, _ := c.ListGroups(user)
	infos := make([]GroupInfo, 0, len(joined))
	for _, name := range joined {
		if info, ok := c.groups.Info(name); ok {
			infos = append(infos, info)
		}
	}
	return infos
}
