package core

import (
	"context"
	"net/netip"

	"golang.org/x/text/language"

	"github.com/Tyrowin/presence-chat/internal/protocol"
)

// ChatChannel delivers chat and file signalling envelopes to one connected
// client. Deliver is called while the recipient's record is locked and must
// not block; implementations enqueue and return.
type ChatChannel interface {
	Deliver(env protocol.Envelope) error
}

// NotificationChannel pushes asynchronous events to one logged-in client.
// Calls happen outside directory locks.
type NotificationChannel interface {
	PushNewFriend(username string, lang language.Tag) error
	PushStatusChange(username string, status Status) error
}

// GroupTransport fans envelopes out to the members of a multicast group.
type GroupTransport interface {
	Join(addr netip.Addr) error
	Leave(addr netip.Addr) error
	Publish(addr netip.Addr, env protocol.Envelope) error
}

// Translator converts text between two languages.
type Translator interface {
	Translate(ctx context.Context, text string, from, to language.Tag) (string, error)
}

// Endpoint is a host and port a peer listens on for a direct file transfer.
type Endpoint struct {
	Host string
	Port int
}

// FileOffer is a file transfer a sender announced and is waiting to have
// answered with the receiver's endpoint.
type FileOffer struct {
	To       string
	FileName string
	Length   int64
}
