package core

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestRegisterTwiceKeepsOriginal(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "en")

	code, err := env.presence.Register("alice", "other", "fr")
	require.NoError(t, err)
	assert.Equal(t, CodeAlreadyExists, code)

	view, ok := env.presence.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, language.English, view.Language)
	assert.Equal(t, CodeOK, env.presence.Login("alice", "pw-alice"), "original password must still work")
}

func TestRegisterRejectsMalformedInput(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.presence.Register("  ", "pw", "en")
	assert.ErrorIs(t, err, ErrEmptyUsername)

	_, err = env.presence.Register("bob", "", "en")
	assert.ErrorIs(t, err, ErrEmptyPassword)
	assert.False(t, env.presence.Exists("bob"))
}

func TestLoginResults(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "en")

	assert.Equal(t, CodeWrongUser, env.presence.Login("nobody", "x"))
	assert.Equal(t, CodeWrongPassword, env.presence.Login("alice", "wrong"))
	assert.Equal(t, CodeOK, env.presence.Login("alice", "pw-alice"))

	status, _ := env.presence.Status("alice")
	assert.Equal(t, StatusLogging, status)
	assert.Equal(t, CodeAlreadyOnline, env.presence.Login("alice", "pw-alice"))
}

func TestConcurrentLoginExactlyOneWins(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "en")

	var ok, rejected atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch env.presence.Login("alice", "pw-alice") {
			case CodeOK:
				ok.Add(1)
			case CodeAlreadyOnline:
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(15), rejected.Load())
}

func TestAttachNotificationChannelRequiresLogging(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "en")

	assert.False(t, env.presence.AttachNotificationChannel("alice", &fakeNotify{}), "offline user")
	require.Equal(t, CodeOK, env.presence.Login("alice", "pw-alice"))
	assert.True(t, env.presence.AttachNotificationChannel("alice", &fakeNotify{}))
	assert.False(t, env.presence.AttachNotificationChannel("alice", &fakeNotify{}), "already online")

	status, _ := env.presence.Status("alice")
	assert.Equal(t, StatusOnline, status)
}

func TestSetOfflineIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "en")
	env.register(t, "bob", "en")
	require.Equal(t, CodeOK, env.presence.AddRelation("bob", "alice"))
	_, bobNotify := env.online(t, "bob")
	env.online(t, "alice")

	assert.False(t, env.presence.SetOffline("nobody"))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if env.presence.SetOffline("alice") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
	assert.False(t, env.presence.SetOffline("alice"))

	assert.Equal(t, []statusEvent{
		{"alice", StatusOnline},
		{"alice", StatusOffline},
	}, bobNotify.statusEvents(), "exactly one offline event")
}

func TestStatusFanOutSkipsOfflineFollowers(t *testing.T) {
	env := newTestEnv(t)
	for _, u := range []string{"alice", "bob", "carol"} {
		env.register(t, u, "en")
	}
	require.Equal(t, CodeOK, env.presence.AddRelation("bob", "alice"))
	require.Equal(t, CodeOK, env.presence.AddRelation("carol", "alice"))

	_, bobNotify := env.online(t, "bob")
	_, carolNotify := env.online(t, "carol")
	require.True(t, env.presence.SetOffline("carol"))

	env.online(t, "alice")
	assert.Equal(t, []statusEvent{{"alice", StatusOnline}}, bobNotify.statusEvents())
	assert.Empty(t, carolNotify.statusEvents())
}

func TestAddRelationIsDirected(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "en")
	env.register(t, "bob", "it")
	_, bobNotify := env.online(t, "bob")

	assert.Equal(t, CodeWrongUser, env.presence.AddRelation("alice", "nobody"))
	assert.Equal(t, CodeOK, env.presence.AddRelation("alice", "bob"))
	assert.Equal(t, CodeAlreadyFriends, env.presence.AddRelation("alice", "bob"))

	alice, _ := env.presence.Lookup("alice")
	bob, _ := env.presence.Lookup("bob")
	assert.Equal(t, []string{"bob"}, alice.Friends)
	assert.Empty(t, alice.Followers)
	assert.Empty(t, bob.Friends, "dest friend set is never touched")
	assert.Equal(t, []string{"alice"}, bob.Followers)
	assert.Equal(t, []string{"alice"}, bobNotify.friendEvents())

	friends, ok := env.presence.Friends("alice")
	require.True(t, ok)
	assert.Equal(t, []string{"bob"}, friends)
}

func TestLoginTimeoutReturnsUserOffline(t *testing.T) {
	env := newTestEnv(t, WithLoginTimeout(20*time.Millisecond))
	env.register(t, "alice", "en")

	require.Equal(t, CodeOK, env.presence.Login("alice", "pw-alice"))
	require.Eventually(t, func() bool {
		status, _ := env.presence.Status("alice")
		return status == StatusOffline
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, CodeOK, env.presence.Login("alice", "pw-alice"), "account is usable again")
}

func TestLoginTimeoutStopsOnAttach(t *testing.T) {
	env := newTestEnv(t, WithLoginTimeout(20*time.Millisecond))
	env.register(t, "alice", "en")

	env.online(t, "alice")
	time.Sleep(60 * time.Millisecond)

	status, _ := env.presence.Status("alice")
	assert.Equal(t, StatusOnline, status)
}

func TestStaleLoginTimerIgnoresLaterCycle(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "en")

	require.Equal(t, CodeOK, env.presence.Login("alice", "pw-alice"))
	require.True(t, env.presence.SetOffline("alice"))
	require.Equal(t, CodeOK, env.presence.Login("alice", "pw-alice"))

	env.presence.expireLogin("alice", 1)
	status, _ := env.presence.Status("alice")
	assert.Equal(t, StatusLogging, status, "timer of the first cycle must not end the second")

	env.presence.expireLogin("alice", 2)
	status, _ = env.presence.Status("alice")
	assert.Equal(t, StatusOffline, status)
}

func TestChatChannelLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "en")

	assert.False(t, env.presence.AttachChatChannel("alice", &fakeChat{}), "offline users cannot attach")

	chat, _ := env.online(t, "alice")
	other := &fakeChat{}
	env.presence.DetachChatChannel("alice", other)
	env.presence.users.ComputeIfPresent("alice", func(u *UserRecord) bool {
		assert.Same(t, chat, u.chat.ch.(*fakeChat), "detaching a foreign channel is a no-op")
		return true
	})

	env.presence.DetachChatChannel("alice", chat)
	env.presence.users.ComputeIfPresent("alice", func(u *UserRecord) bool {
		assert.Nil(t, u.chat)
		return true
	})
}

func TestRegisterRejectsPaddedUsername(t *testing.T) {
	env := newTestEnv(t)

	code, err := env.presence.Register(" alice", "pw", "en")
	assert.ErrorIs(t, err, ErrPaddedUsername)
	assert.Equal(t, CodeWrongUser, code)
	assert.False(t, env.presence.Exists("alice"))
	assert.False(t, env.presence.Exists(" alice"))
}

func TestLoginCycleEndsWithTimeoutAndLogout(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "en")

	code, first := env.presence.BeginLogin("alice", "pw-alice")
	require.Equal(t, CodeOK, code)
	assert.True(t, env.presence.InCycle("alice", first))

	env.presence.expireLogin("alice", first)
	assert.False(t, env.presence.InCycle("alice", first), "the login timer ends the cycle")

	code, second := env.presence.BeginLogin("alice", "pw-alice")
	require.Equal(t, CodeOK, code)
	assert.NotEqual(t, first, second)
	require.True(t, env.presence.AttachNotificationChannel("alice", &fakeNotify{}))

	assert.False(t, env.presence.SetOfflineIfCycle("alice", first), "an ended cycle cannot log out a later one")
	status, _ := env.presence.Status("alice")
	assert.Equal(t, StatusOnline, status)

	assert.True(t, env.presence.SetOfflineIfCycle("alice", second))
	assert.False(t, env.presence.InCycle("alice", second))
	assert.False(t, env.presence.InCycle("nobody", second))
}
