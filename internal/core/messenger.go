package core

import (
	"context"
	"strconv"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/language"

	"github.com/Tyrowin/presence-chat/internal/protocol"
)

// Messenger routes direct chat messages and brokers the file transfer
// rendezvous between two friends.
type Messenger struct {
	presence   *Presence
	translator Translator
}

// NewMessenger creates a Messenger. A nil translator delivers text unchanged.
func NewMessenger(presence *Presence, translator Translator) *Messenger {
	return &Messenger{presence: presence, translator: translator}
}

// checkRoute applies the checks shared by chat and file offers and returns
// the languages of both ends.
func (m *Messenger) checkRoute(source, dest string) (from, to language.Tag, code Code) {
	if !m.presence.Exists(dest) {
		return from, to, CodeWrongUser
	}
	code = CodeWrongUser
	m.presence.users.ComputeIfPresent(source, func(u *UserRecord) bool {
		from = u.lang
		if !u.isFriend(dest) {
			code = CodeNotFriends
			return true
		}
		code = CodeOK
		return true
	})
	if code != CodeOK {
		return from, to, code
	}

	code = CodeOffline
	m.presence.users.ComputeIfPresent(dest, func(u *UserRecord) bool {
		to = u.lang
		if u.reachable() {
			code = CodeOK
		}
		return true
	})
	return from, to, code
}

// deliver hands env to dest's chat channel if dest is still reachable.
func (m *Messenger) deliver(dest string, env protocol.Envelope) Code {
	code := CodeOffline
	m.presence.users.ComputeIfPresent(dest, func(u *UserRecord) bool {
		if !u.reachable() {
			return true
		}
		if err := u.chat.ch.Deliver(env); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Messenger.deliver",
				"user":     dest,
				"type":     env.Type,
			}).WithError(err).Warn("chat delivery failed")
			return true
		}
		code = CodeOK
		return true
	})
	return code
}

// SendChatMessage delivers text from source to dest, translated to dest's
// language when the two differ.
func (m *Messenger) SendChatMessage(ctx context.Context, source, dest, text string) Code {
	from, to, code := m.checkRoute(source, dest)
	if code != CodeOK {
		return code
	}

	msg := m.translate(ctx, text, from, to)
	return m.deliver(dest, protocol.Envelope{
		Type: protocol.TypeChatMessage,
		From: source,
		To:   dest,
		Msg:  msg,
	})
}

func (m *Messenger) translate(ctx context.Context, text string, from, to language.Tag) string {
	if m.translator == nil || from == to || from == language.Und || to == language.Und {
		return text
	}
	out, err := m.translator.Translate(ctx, text, from, to)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Messenger.translate",
			"from":     from.String(),
			"to":       to.String(),
		}).WithError(err).Warn("translation failed, delivering original text")
		return text
	}
	return out
}

// RequestFileTransfer forwards a file offer from source to dest. The offer
// is remembered on source's chat stream under ide until the receiver answers
// with its endpoint.
func (m *Messenger) RequestFileTransfer(source, dest, filename string, length, ide int64) Code {
	if _, _, code := m.checkRoute(source, dest); code != CodeOK {
		return code
	}

	recorded := false
	m.presence.users.ComputeIfPresent(source, func(u *UserRecord) bool {
		if u.chat != nil {
			recorded = u.chat.offers.Put(ide, FileOffer{To: dest, FileName: filename, Length: length})
		}
		return true
	})
	if !recorded {
		return CodeOffline
	}

	code := m.deliver(dest, protocol.Envelope{
		Type:     protocol.TypeFileMessage,
		From:     source,
		To:       dest,
		FileName: filename,
		Len:      length,
		Ide:      ide,
	})
	if code != CodeOK {
		m.takeOffer(source, ide)
	}
	return code
}

func (m *Messenger) takeOffer(sender string, ide int64) (FileOffer, bool) {
	var offer FileOffer
	found := false
	m.presence.users.ComputeIfPresent(sender, func(u *UserRecord) bool {
		if u.chat != nil {
			offer, found = u.chat.offers.Take(ide)
		}
		return true
	})
	return offer, found
}

// RelaySocketInfo passes the endpoint receiver listens on back to sender.
// The pending offer is consumed, so a second relay for the same ide fails.
func (m *Messenger) RelaySocketInfo(receiver, sender string, ep Endpoint, ide int64) bool {
	log := logrus.WithFields(logrus.Fields{
		"function": "Messenger.RelaySocketInfo",
		"user":     receiver,
		"sender":   sender,
		"ide":      ide,
	})

	offer, ok := m.takeOffer(sender, ide)
	if !ok {
		log.Warn("no pending offer for socket info")
		return false
	}
	if offer.To != receiver {
		log.WithField("offered_to", offer.To).Warn("socket info from a user the offer was not sent to")
	}

	code := m.deliver(sender, protocol.Envelope{
		Type:     protocol.TypeSockInfo,
		Usr:      receiver,
		FileName: offer.FileName,
		Len:      offer.Length,
		Ip:       ep.Host,
		Port:     ep.Port,
		Ide:      ide,
	})
	if code != CodeOK {
		log.Warn("sender unreachable, endpoint dropped")
		return false
	}
	log.WithField("endpoint", ep.Host+":"+strconv.Itoa(ep.Port)).Debug("endpoint relayed")
	return true
}
