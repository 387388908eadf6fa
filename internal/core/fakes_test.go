package core

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/language"

	"github.com/Tyrowin/presence-chat/internal/protocol"
)

var errInjected = errors.New("injected failure")

type fakeChat struct {
	mu   sync.Mutex
	envs []protocol.Envelope
	fail bool
}

func (f *fakeChat) Deliver(env protocol.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errInjected
	}
	f.envs = append(f.envs, env)
	return nil
}

func (f *fakeChat) received() []protocol.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Envelope(nil), f.envs...)
}

type statusEvent struct {
	user   string
	status Status
}

type fakeNotify struct {
	mu         sync.Mutex
	newFriends []string
	statuses   []statusEvent
}

func (f *fakeNotify) PushNewFriend(username string, _ language.Tag) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.newFriends = append(f.newFriends, username)
	return nil
}

func (f *fakeNotify) PushStatusChange(username string, status Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, statusEvent{username, status})
	return nil
}

func (f *fakeNotify) statusEvents() []statusEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]statusEvent(nil), f.statuses...)
}

func (f *fakeNotify) friendEvents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.newFriends...)
}

type published struct {
	addr netip.Addr
	env  protocol.Envelope
}

type fakeTransport struct {
	mu          sync.Mutex
	joined      map[netip.Addr]bool
	sent        []published
	failJoin    bool
	failPublish bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{joined: make(map[netip.Addr]bool)}
}

func (f *fakeTransport) Join(addr netip.Addr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failJoin {
		return errInjected
	}
	f.joined[addr] = true
	return nil
}

func (f *fakeTransport) Leave(addr netip.Addr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.joined, addr)
	return nil
}

func (f *fakeTransport) Publish(addr netip.Addr, env protocol.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPublish {
		return errInjected
	}
	f.sent = append(f.sent, published{addr, env})
	return nil
}

func (f *fakeTransport) setFailPublish(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPublish = v
}

func (f *fakeTransport) published() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.sent...)
}

type fakeTranslator struct {
	fail bool
}

func (f fakeTranslator) Translate(_ context.Context, text string, from, to language.Tag) (string, error) {
	if f.fail {
		return "", errInjected
	}
	return "[" + from.String() + "->" + to.String() + "] " + text, nil
}

type testEnv struct {
	transport *fakeTransport
	groups    *GroupDirectory
	presence  *Presence
	messenger *Messenger
	coord     *GroupCoordinator
}

func newTestEnv(t *testing.T, opts ...PresenceOption) *testEnv {
	t.Helper()
	pool, err := NewAddressPool(DefaultPoolStart, DefaultPoolEnd)
	require.NoError(t, err)
	return newTestEnvWithPool(t, pool, opts...)
}

func newTestEnvWithPool(t *testing.T, pool *AddressPool, opts ...PresenceOption) *testEnv {
	t.Helper()
	transport := newFakeTransport()
	groups := NewGroupDirectory(pool, transport, 10004)
	opts = append([]PresenceOption{WithPasswordCost(bcrypt.MinCost), WithLoginTimeout(0)}, opts...)
	presence := NewPresence(groups, opts...)
	return &testEnv{
		transport: transport,
		groups:    groups,
		presence:  presence,
		messenger: NewMessenger(presence, fakeTranslator{}),
		coord:     NewGroupCoordinator(presence, groups),
	}
}

func (e *testEnv) register(t *testing.T, user, lang string) {
	t.Helper()
	code, err := e.presence.Register(user, "pw-"+user, lang)
	require.NoError(t, err)
	require.Equal(t, CodeOK, code)
}

// online runs the whole login handshake and returns the attached channels.
func (e *testEnv) online(t *testing.T, user string) (*fakeChat, *fakeNotify) {
	t.Helper()
	require.Equal(t, CodeOK, e.presence.Login(user, "pw-"+user))
	notify := &fakeNotify{}
	require.True(t, e.presence.AttachNotificationChannel(user, notify))
	chat := &fakeChat{}
	require.True(t, e.presence.AttachChatChannel(user, chat))
	return chat, notify
}
