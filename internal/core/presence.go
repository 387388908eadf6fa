package core

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/language"

	"github.com/Tyrowin/presence-chat/internal/pending"
	"github.com/Tyrowin/presence-chat/internal/shardmap"
)

// Defaults applied by NewPresence.
const (
	DefaultLoginTimeout = 30 * time.Second
	DefaultOfferTTL     = 10 * time.Minute
)

// Presence is the user directory. It owns registration, the login state
// machine, friend and follower edges and the fan-out of presence events.
type Presence struct {
	users        *shardmap.Map[*UserRecord]
	groups       *GroupDirectory
	passwordCost int
	loginTimeout time.Duration
	offerTTL     time.Duration
}

// PresenceOption configures a Presence.
type PresenceOption func(*Presence)

// WithPasswordCost sets the bcrypt cost used for new credentials.
func WithPasswordCost(cost int) PresenceOption {
	return func(p *Presence) {
		p.passwordCost = cost
	}
}

// WithLoginTimeout bounds how long a user may stay LOGGING. Zero disables the
// timeout.
func WithLoginTimeout(d time.Duration) PresenceOption {
	return func(p *Presence) {
		p.loginTimeout = d
	}
}

// WithOfferTTL sets how long an unanswered file offer is remembered.
func WithOfferTTL(d time.Duration) PresenceOption {
	return func(p *Presence) {
		p.offerTTL = d
	}
}

// NewPresence creates an empty user directory. groups receives online
// counter updates when users log in and out.
func NewPresence(groups *GroupDirectory, opts ...PresenceOption) *Presence {
	p := &Presence{
		users:        shardmap.New[*UserRecord](),
		groups:       groups,
		loginTimeout: DefaultLoginTimeout,
		offerTTL:     DefaultOfferTTL,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register creates an OFFLINE account. It returns CodeAlreadyExists when the
// username is taken. Malformed input is reported as an error. Names are
// stored as given, so surrounding whitespace is refused rather than trimmed.
func (p *Presence) Register(username, password, lang string) (Code, error) {
	trimmed := strings.TrimSpace(username)
	if trimmed == "" {
		return CodeWrongUser, ErrEmptyUsername
	}
	if trimmed != username {
		return CodeWrongUser, ErrPaddedUsername
	}
	if _, ok := p.users.Load(username); ok {
		return CodeAlreadyExists, nil
	}
	cred, err := NewCredential(password, p.passwordCost)
	if err != nil {
		return CodeWrongPassword, err
	}
	if _, inserted := p.users.PutIfAbsent(username, newUserRecord(username, cred, language.Make(lang))); !inserted {
		return CodeAlreadyExists, nil
	}
	logrus.WithFields(logrus.Fields{"function": "Presence.Register", "user": username}).Info("user registered")
	return CodeOK, nil
}

// Login checks the credential and moves the user from OFFLINE to LOGGING.
func (p *Presence) Login(username, password string) Code {
	code, _ := p.BeginLogin(username, password)
	return code
}

// BeginLogin is Login that also returns the login cycle it opened. The cycle
// names this session to InCycle and SetOfflineIfCycle; it is only
// meaningful with CodeOK.
func (p *Presence) BeginLogin(username, password string) (Code, uint64) {
	rec, ok := p.users.Load(username)
	if !ok {
		return CodeWrongUser, 0
	}
	// the credential never changes after registration
	if !rec.credential.Matches(password) {
		return CodeWrongPassword, 0
	}

	code := CodeWrongUser
	var cycle uint64
	var groups []string
	p.users.ComputeIfPresent(username, func(u *UserRecord) bool {
		if u.status != StatusOffline {
			code = CodeAlreadyOnline
			return true
		}
		u.status = StatusLogging
		u.loginSeq++
		if p.loginTimeout > 0 {
			seq := u.loginSeq
			u.loginTimer = time.AfterFunc(p.loginTimeout, func() { p.expireLogin(username, seq) })
		}
		cycle = u.loginSeq
		groups = sortedKeys(u.groups)
		code = CodeOK
		return true
	})
	if code != CodeOK {
		return code, 0
	}

	for _, g := range groups {
		p.groups.setMemberOnline(g, username, true)
	}
	logrus.WithFields(logrus.Fields{"function": "Presence.Login", "user": username, "cycle": cycle}).Info("user logging in")
	return CodeOK, cycle
}

// InCycle reports whether the login cycle that returned cycle is still
// running, i.e. the user has not gone OFFLINE since.
func (p *Presence) InCycle(username string, cycle uint64) bool {
	current := false
	p.users.ComputeIfPresent(username, func(u *UserRecord) bool {
		current = u.status != StatusOffline && u.loginSeq == cycle
		return true
	})
	return current
}

// expireLogin takes a user that never attached a notification channel back
// offline. seq ties the timer to the login cycle that armed it.
func (p *Presence) expireLogin(username string, seq uint64) {
	expired := p.takeOffline(username, func(u *UserRecord) bool {
		return u.status == StatusLogging && u.loginSeq == seq
	})
	if expired {
		logrus.WithFields(logrus.Fields{"function": "Presence.expireLogin", "user": username}).
			Warn("login not completed in time, user set offline")
	}
}

// AttachNotificationChannel completes a login: the user goes ONLINE and
// followers are told. It fails unless the user is LOGGING.
func (p *Presence) AttachNotificationChannel(username string, ch NotificationChannel) bool {
	attached := false
	var followers []string
	p.users.ComputeIfPresent(username, func(u *UserRecord) bool {
		if u.status != StatusLogging || ch == nil {
			return true
		}
		u.notify = ch
		u.status = StatusOnline
		u.stopLoginTimer()
		followers = sortedKeys(u.followers)
		attached = true
		return true
	})
	if !attached {
		return false
	}
	logrus.WithFields(logrus.Fields{"function": "Presence.AttachNotificationChannel", "user": username}).Info("user online")
	p.fanOutStatus(username, StatusOnline, followers)
	return true
}

// AttachChatChannel binds the user's chat stream. It is accepted while the
// user is LOGGING or ONLINE and replaces any previous chat stream.
func (p *Presence) AttachChatChannel(username string, ch ChatChannel) bool {
	attached := false
	p.users.ComputeIfPresent(username, func(u *UserRecord) bool {
		if u.status == StatusOffline || ch == nil {
			return true
		}
		u.dropChat()
		u.chat = &chatLink{ch: ch, offers: pending.New[int64, FileOffer](p.offerTTL)}
		attached = true
		return true
	})
	return attached
}

// DetachChatChannel unbinds ch if it is still the user's chat stream.
func (p *Presence) DetachChatChannel(username string, ch ChatChannel) {
	p.users.ComputeIfPresent(username, func(u *UserRecord) bool {
		if u.chat != nil && u.chat.ch == ch {
			u.dropChat()
		}
		return true
	})
}

// SetOffline ends the user's session. It returns false, with no side
// effects, when the user is unknown or already OFFLINE.
func (p *Presence) SetOffline(username string) bool {
	return p.takeOffline(username, func(u *UserRecord) bool {
		return u.status != StatusOffline
	})
}

// SetOfflineIfCycle is SetOffline restricted to one login cycle. A later
// login of the same account is left alone.
func (p *Presence) SetOfflineIfCycle(username string, cycle uint64) bool {
	return p.takeOffline(username, func(u *UserRecord) bool {
		return u.status != StatusOffline && u.loginSeq == cycle
	})
}

func (p *Presence) takeOffline(username string, when func(*UserRecord) bool) bool {
	changed := false
	var followers, groups []string
	p.users.ComputeIfPresent(username, func(u *UserRecord) bool {
		if !when(u) {
			return true
		}
		followers = sortedKeys(u.followers)
		groups = sortedKeys(u.groups)
		u.goOffline()
		changed = true
		return true
	})
	if !changed {
		return false
	}

	for _, g := range groups {
		p.groups.setMemberOnline(g, username, false)
	}
	logrus.WithFields(logrus.Fields{"function": "Presence.SetOffline", "user": username}).Info("user offline")
	p.fanOutStatus(username, StatusOffline, followers)
	return true
}

// AddRelation makes dest a friend of source and source a follower of dest.
// The two records are updated one after the other.
func (p *Presence) AddRelation(source, dest string) Code {
	if _, ok := p.users.Load(dest); !ok {
		return CodeWrongUser
	}

	code := CodeWrongUser
	var lang language.Tag
	p.users.ComputeIfPresent(source, func(u *UserRecord) bool {
		if u.isFriend(dest) {
			code = CodeAlreadyFriends
			return true
		}
		u.friends[dest] = struct{}{}
		lang = u.lang
		code = CodeOK
		return true
	})
	if code != CodeOK {
		return code
	}

	var target NotificationChannel
	p.users.ComputeIfPresent(dest, func(u *UserRecord) bool {
		u.followers[source] = struct{}{}
		if u.status == StatusOnline {
			target = u.notify
		}
		return true
	})

	log := logrus.WithFields(logrus.Fields{"function": "Presence.AddRelation", "user": source, "friend": dest})
	log.Info("friend added")
	if target != nil {
		if err := target.PushNewFriend(source, lang); err != nil {
			log.WithError(err).Warn("new-friend notification failed")
		}
	}
	return CodeOK
}

// fanOutStatus pushes a status change to every follower that is ONLINE at
// the time it is visited.
func (p *Presence) fanOutStatus(username string, status Status, followers []string) {
	log := logrus.WithFields(logrus.Fields{"function": "Presence.fanOutStatus", "user": username, "status": status})
	for _, f := range followers {
		var target NotificationChannel
		p.users.ComputeIfPresent(f, func(u *UserRecord) bool {
			if u.status == StatusOnline {
				target = u.notify
			}
			return true
		})
		if target == nil {
			continue
		}
		if err := target.PushStatusChange(username, status); err != nil {
			log.WithError(err).WithField("follower", f).Warn("status notification failed")
		}
	}
}

// Exists reports whether username is registered.
func (p *Presence) Exists(username string) bool {
	_, ok := p.users.Load(username)
	return ok
}

// Friends returns the sorted friend list of username.
func (p *Presence) Friends(username string) ([]string, bool) {
	var friends []string
	found := p.users.ComputeIfPresent(username, func(u *UserRecord) bool {
		friends = sortedKeys(u.friends)
		return true
	})
	return friends, found
}

// Groups returns the sorted names of the groups username belongs to.
func (p *Presence) Groups(username string) ([]string, bool) {
	var groups []string
	found := p.users.ComputeIfPresent(username, func(u *UserRecord) bool {
		groups = sortedKeys(u.groups)
		return true
	})
	return groups, found
}

// Status returns the current status of username.
func (p *Presence) Status(username string) (Status, bool) {
	status := StatusOffline
	found := p.users.ComputeIfPresent(username, func(u *UserRecord) bool {
		status = u.status
		return true
	})
	return status, found
}

// Lookup returns a snapshot of the user's record.
func (p *Presence) Lookup(username string) (UserView, bool) {
	var view UserView
	found := p.users.ComputeIfPresent(username, func(u *UserRecord) bool {
		view = u.view()
		return true
	})
	return view, found
}

// PendingOffers returns how many file offers of username await an answer.
func (p *Presence) PendingOffers(username string) int {
	n := 0
	p.users.ComputeIfPresent(username, func(u *UserRecord) bool {
		if u.chat != nil {
			n = u.chat.offers.Len()
		}
		return true
	})
	return n
}

// active reports whether username is LOGGING or ONLINE.
func (p *Presence) active(username string) bool {
	status, _ := p.Status(username)
	return status != StatusOffline
}

func (p *Presence) addGroup(username, group string) {
	p.users.ComputeIfPresent(username, func(u *UserRecord) bool {
		u.groups[group] = struct{}{}
		return true
	})
}

func (p *Presence) removeGroup(username, group string) {
	p.users.ComputeIfPresent(username, func(u *UserRecord) bool {
		delete(u.groups, group)
		return true
	})
}

func (p *Presence) groupsOf(username string) map[string]struct{} {
	set := make(map[string]struct{})
	p.users.ComputeIfPresent(username, func(u *UserRecord) bool {
		for g := range u.groups {
			set[g] = struct{}{}
		}
		return true
	})
	return set
}
