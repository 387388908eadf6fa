package server

import (
	"sync"

	"github.com/Tyrowin/presence-chat/internal/core"
	"github.com/Tyrowin/presence-chat/internal/protocol"
)

// chatSession serves the chat stream of one client and is the ChatChannel
// the core delivers to.
type chatSession struct {
	srv  *Server
	conn *Conn

	mu   sync.Mutex
	user string
}

func (s *chatSession) Deliver(env protocol.Envelope) error {
	return s.conn.Send(env)
}

func (s *chatSession) username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

func (s *chatSession) Handle(c *Conn, env protocol.Envelope) {
	if env.Type == protocol.TypeInit {
		s.init(c, env)
		return
	}

	user := s.username()
	if user == "" {
		c.reply(protocol.Nack(msgNotLoggedIn))
		return
	}

	switch env.Type {
	case protocol.TypeChatMessage:
		code := s.srv.messenger.SendChatMessage(s.srv.ctx, user, env.To, env.Msg)
		c.reply(directReply(code, "MSG", env.To, env.Msg))
	case protocol.TypeFileMessage:
		code := s.srv.messenger.RequestFileTransfer(user, env.To, env.FileName, env.Len, env.Ide)
		c.reply(directReply(code, "FILE", env.To, env.FileName))
	case protocol.TypeSockInfo:
		// the sender learns the endpoint from the relay, the receiver gets no reply
		s.srv.messenger.RelaySocketInfo(user, env.Usr, core.Endpoint{Host: env.Ip, Port: env.Port}, env.Ide)
	default:
		c.log.WithField("type", env.Type).Warn("unsupported chat request")
		c.reply(protocol.Nack(msgUnsupported))
	}
}

func (s *chatSession) init(c *Conn, env protocol.Envelope) {
	if s.username() != "" || env.Usr == "" {
		c.reply(protocol.Nack(msgChatRejected))
		return
	}
	if !s.srv.presence.AttachChatChannel(env.Usr, s) {
		c.reply(protocol.Nack(msgChatRejected))
		return
	}
	s.mu.Lock()
	s.user = env.Usr
	s.mu.Unlock()
	c.reply(protocol.Ack(msgChatReady))
}

func (s *chatSession) Closed(*Conn) {
	if user := s.username(); user != "" {
		s.srv.presence.DetachChatChannel(user, s)
	}
}
