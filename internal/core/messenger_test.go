package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/presence-chat/internal/protocol"
)

func TestChatScenarioWithAsymmetricFriendship(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "en")
	env.register(t, "bob", "it")

	require.Equal(t, CodeOK, env.presence.AddRelation("alice", "bob"))
	aliceChat, _ := env.online(t, "alice")
	bobChat, _ := env.online(t, "bob")

	code := env.messenger.SendChatMessage(context.Background(), "alice", "bob", "hello")
	require.Equal(t, CodeOK, code)

	got := bobChat.received()
	require.Len(t, got, 1)
	assert.Equal(t, protocol.TypeChatMessage, got[0].Type)
	assert.Equal(t, "alice", got[0].From)
	assert.Equal(t, "[en->it] hello", got[0].Msg)

	code = env.messenger.RequestFileTransfer("bob", "alice", "photo.png", 1024, 1)
	assert.Equal(t, CodeNotFriends, code, "bob never added alice")
	assert.Empty(t, aliceChat.received())
}

func TestSendChatMessageResults(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "en")
	env.register(t, "bob", "en")
	env.online(t, "alice")

	ctx := context.Background()
	assert.Equal(t, CodeWrongUser, env.messenger.SendChatMessage(ctx, "alice", "nobody", "hi"))
	assert.Equal(t, CodeNotFriends, env.messenger.SendChatMessage(ctx, "alice", "bob", "hi"))

	require.Equal(t, CodeOK, env.presence.AddRelation("alice", "bob"))
	assert.Equal(t, CodeOffline, env.messenger.SendChatMessage(ctx, "alice", "bob", "hi"))

	// logging in is not enough, the notification channel must be attached
	require.Equal(t, CodeOK, env.presence.Login("bob", "pw-bob"))
	require.True(t, env.presence.AttachChatChannel("bob", &fakeChat{}))
	assert.Equal(t, CodeOffline, env.messenger.SendChatMessage(ctx, "alice", "bob", "hi"))

	require.True(t, env.presence.AttachNotificationChannel("bob", &fakeNotify{}))
	assert.Equal(t, CodeOK, env.messenger.SendChatMessage(ctx, "alice", "bob", "hi"))
}

func TestSendChatMessageDeliveryFailureIsOffline(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "en")
	env.register(t, "bob", "en")
	require.Equal(t, CodeOK, env.presence.AddRelation("alice", "bob"))
	env.online(t, "alice")
	bobChat, _ := env.online(t, "bob")
	bobChat.fail = true

	assert.Equal(t, CodeOffline, env.messenger.SendChatMessage(context.Background(), "alice", "bob", "hi"))
}

func TestTranslationFailureDeliversOriginal(t *testing.T) {
	env := newTestEnv(t)
	env.messenger = NewMessenger(env.presence, fakeTranslator{fail: true})
	env.register(t, "alice", "en")
	env.register(t, "bob", "it")
	require.Equal(t, CodeOK, env.presence.AddRelation("alice", "bob"))
	env.online(t, "alice")
	bobChat, _ := env.online(t, "bob")

	require.Equal(t, CodeOK, env.messenger.SendChatMessage(context.Background(), "alice", "bob", "ciao?"))
	got := bobChat.received()
	require.Len(t, got, 1)
	assert.Equal(t, "ciao?", got[0].Msg)
}

func TestSameLanguageSkipsTranslation(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "en")
	env.register(t, "bob", "en")
	require.Equal(t, CodeOK, env.presence.AddRelation("alice", "bob"))
	env.online(t, "alice")
	bobChat, _ := env.online(t, "bob")

	require.Equal(t, CodeOK, env.messenger.SendChatMessage(context.Background(), "alice", "bob", "hi"))
	assert.Equal(t, "hi", bobChat.received()[0].Msg)
}

func TestFileRendezvousRelaysOnce(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "en")
	env.register(t, "bob", "en")
	require.Equal(t, CodeOK, env.presence.AddRelation("alice", "bob"))
	aliceChat, _ := env.online(t, "alice")
	bobChat, _ := env.online(t, "bob")

	require.Equal(t, CodeOK, env.messenger.RequestFileTransfer("alice", "bob", "notes.txt", 42, 7))
	assert.Equal(t, 1, env.presence.PendingOffers("alice"))

	offers := bobChat.received()
	require.Len(t, offers, 1)
	assert.Equal(t, protocol.TypeFileMessage, offers[0].Type)
	assert.Equal(t, int64(7), offers[0].Ide)
	assert.Equal(t, int64(42), offers[0].Len)
	assert.Equal(t, "notes.txt", offers[0].FileName)

	ep := Endpoint{Host: "127.0.0.1", Port: 40000}
	require.True(t, env.messenger.RelaySocketInfo("bob", "alice", ep, 7))
	assert.False(t, env.messenger.RelaySocketInfo("bob", "alice", ep, 7), "offer is single use")
	assert.Equal(t, 0, env.presence.PendingOffers("alice"))

	relayed := aliceChat.received()
	require.Len(t, relayed, 1)
	assert.Equal(t, protocol.TypeSockInfo, relayed[0].Type)
	assert.Equal(t, "bob", relayed[0].Usr)
	assert.Equal(t, "127.0.0.1", relayed[0].Ip)
	assert.Equal(t, 40000, relayed[0].Port)
	assert.Equal(t, int64(7), relayed[0].Ide)
}

func TestRelayUnknownIde(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "en")
	env.online(t, "alice")

	assert.False(t, env.messenger.RelaySocketInfo("bob", "alice", Endpoint{Host: "h", Port: 1}, 99))
	assert.False(t, env.messenger.RelaySocketInfo("bob", "nobody", Endpoint{Host: "h", Port: 1}, 99))
}

func TestFailedOfferIsNotKept(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "en")
	env.register(t, "bob", "en")
	require.Equal(t, CodeOK, env.presence.AddRelation("alice", "bob"))
	env.online(t, "alice")
	bobChat, _ := env.online(t, "bob")
	bobChat.fail = true

	assert.Equal(t, CodeOffline, env.messenger.RequestFileTransfer("alice", "bob", "a", 1, 3))
	assert.Equal(t, 0, env.presence.PendingOffers("alice"))
}

func TestUnansweredOfferExpires(t *testing.T) {
	env := newTestEnv(t, WithOfferTTL(20*time.Millisecond))
	env.register(t, "alice", "en")
	env.register(t, "bob", "en")
	require.Equal(t, CodeOK, env.presence.AddRelation("alice", "bob"))
	env.online(t, "alice")
	env.online(t, "bob")

	require.Equal(t, CodeOK, env.messenger.RequestFileTransfer("alice", "bob", "a", 1, 3))
	require.Eventually(t, func() bool { return env.presence.PendingOffers("alice") == 0 }, time.Second, 5*time.Millisecond)
	assert.False(t, env.messenger.RelaySocketInfo("bob", "alice", Endpoint{Host: "h", Port: 1}, 3))
}

func TestOffersDieWithChatChannel(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "en")
	env.register(t, "bob", "en")
	require.Equal(t, CodeOK, env.presence.AddRelation("alice", "bob"))
	aliceChat, _ := env.online(t, "alice")
	env.online(t, "bob")

	require.Equal(t, CodeOK, env.messenger.RequestFileTransfer("alice", "bob", "a", 1, 3))
	env.presence.DetachChatChannel("alice", aliceChat)
	assert.False(t, env.messenger.RelaySocketInfo("bob", "alice", Endpoint{Host: "h", Port: 1}, 3))
}

func TestCodeString(t *testing.T) {
	assert.Equal(t, "OK", CodeOK.String())
	assert.Equal(t, "WRGUSR", CodeWrongUser.String())
	assert.Equal(t, "GRP_USR_NOT_ADMIN", CodeGroupUserNotAdmin.String())
	assert.Equal(t, "Code(99)", Code(99).String())
	assert.Equal(t, "LOGGING", StatusLogging.String())
}
