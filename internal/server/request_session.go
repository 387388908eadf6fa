package server

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/presence-chat/internal/core"
	"github.com/Tyrowin/presence-chat/internal/protocol"
)

// requestSession serves the request stream of one client. The identity is
// bound to the login cycle that created it and is dropped as soon as that
// cycle ends, whether the stream closes or the login times out.
type requestSession struct {
	srv   *Server
	user  string
	cycle uint64
}

func (s *requestSession) Handle(c *Conn, env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeRegister:
		c.reply(registerReply(s.srv.presence.Register(env.Usr, env.Psw, env.Lang)))
		return
	case protocol.TypeLogin:
		s.login(c, env)
		return
	case protocol.TypeSearchUser:
		c.reply(searchReply(s.srv.presence.Exists(env.Usr), env.Usr))
		return
	}

	if s.user == "" {
		c.reply(protocol.Nack(msgNotLoggedIn))
		return
	}
	if !s.current() {
		c.log.WithFields(logrus.Fields{"user": s.user, "cycle": s.cycle}).Info("login cycle ended, dropping identity")
		s.user = ""
		c.reply(protocol.Nack(msgSessionExpired))
		return
	}

	switch env.Type {
	case protocol.TypeAddFriend:
		c.reply(addFriendReply(s.srv.presence.AddRelation(s.user, env.Usr), env.Usr))
	case protocol.TypeFriendsList:
		friends, _ := s.srv.presence.Friends(s.user)
		c.reply(friendsReply(friends))
	case protocol.TypeGroupCreate:
		name := strings.TrimSpace(env.GroupName)
		if name == "" {
			c.reply(protocol.Nack(msgEmptyGroupName))
			return
		}
		info, code := s.srv.coord.CreateGroup(s.user, name)
		c.reply(groupReply(code, true, name, info))
	case protocol.TypeGroupJoin:
		info, code := s.srv.coord.JoinGroup(s.user, env.GroupName)
		c.reply(groupReply(code, false, env.GroupName, info))
	case protocol.TypeGroupList:
		c.reply(groupListReply(s.srv.coord.ListGroups(s.user)))
	case protocol.TypeGroupClose:
		c.reply(groupCloseReply(s.srv.coord.CloseGroup(s.user, env.GroupName), env.GroupName))
	default:
		c.log.WithField("type", env.Type).Warn("unsupported request")
		c.reply(protocol.Nack(msgUnsupported))
	}
}

// current reports whether the bound login cycle is still running.
func (s *requestSession) current() bool {
	return s.srv.presence.InCycle(s.user, s.cycle)
}

func (s *requestSession) login(c *Conn, env protocol.Envelope) {
	if s.user != "" && s.current() {
		c.reply(protocol.Nack(msgAlreadyLogged))
		return
	}
	s.user = ""
	code, cycle := s.srv.presence.BeginLogin(env.Usr, env.Psw)
	if !code.OK() {
		c.reply(loginReply(code, core.UserView{}, nil))
		return
	}
	s.user, s.cycle = env.Usr, cycle

	view, _ := s.srv.presence.Lookup(s.user)
	c.reply(loginReply(code, view, s.srv.coord.Memberships(s.user)))
}

func (s *requestSession) Closed(c *Conn) {
	if s.user == "" {
		return
	}
	log := logrus.WithFields(logrus.Fields{"function": "requestSession.Closed", "user": s.user, "cycle": s.cycle, "conn": c.ID().String()})
	if s.srv.presence.SetOfflineIfCycle(s.user, s.cycle) {
		log.Info("request stream closed, user offline")
	} else {
		log.Debug("login cycle already over")
	}
}
