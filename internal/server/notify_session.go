package server

import (
	"golang.org/x/text/language"

	"github.com/Tyrowin/presence-chat/internal/core"
	"github.com/Tyrowin/presence-chat/internal/protocol"
)

// notifySession is the push stream of one client. Attaching it completes
// the user's login.
type notifySession struct {
	srv  *Server
	conn *Conn
	user string
}

func (s *notifySession) PushNewFriend(username string, lang language.Tag) error {
	return s.conn.Send(protocol.Envelope{
		Type: protocol.TypeNewFriend,
		Usr:  username,
		Lang: lang.String(),
	})
}

func (s *notifySession) PushStatusChange(username string, status core.Status) error {
	return s.conn.Send(protocol.Envelope{
		Type:   protocol.TypeStatusChange,
		Usr:    username,
		Status: status.String(),
	})
}

func (s *notifySession) Handle(c *Conn, env protocol.Envelope) {
	if env.Type != protocol.TypeInit {
		c.reply(protocol.Nack(msgUnsupported))
		return
	}
	if s.user != "" || !s.srv.presence.AttachNotificationChannel(env.Usr, s) {
		c.reply(protocol.Nack(msgNotifyReject))
		return
	}
	s.user = env.Usr
	c.reply(protocol.Ack(msgNotifyReady))
}

func (s *notifySession) Closed(*Conn) {}
