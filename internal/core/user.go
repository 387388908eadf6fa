package core

import (
	"sort"
	"time"

	"golang.org/x/text/language"

	"github.com/Tyrowin/presence-chat/internal/pending"
)

type chatLink struct {
	ch     ChatChannel
	offers *pending.Table[int64, FileOffer]
}

// UserRecord is the mutable state of one account. It is only touched while
// the owning shard of the user map is locked.
type UserRecord struct {
	username   string
	credential Credential
	lang       language.Tag

	status    Status
	friends   map[string]struct{}
	followers map[string]struct{}
	groups    map[string]struct{}

	chat   *chatLink
	notify NotificationChannel

	loginSeq   uint64
	loginTimer *time.Timer
}

// UserView is a read-only snapshot of a UserRecord.
type UserView struct {
	Username  string
	Language  language.Tag
	Status    Status
	Friends   []string
	Followers []string
	Groups    []string
}

func newUserRecord(username string, cred Credential, lang language.Tag) *UserRecord {
	return &UserRecord{
		username:   username,
		credential: cred,
		lang:       lang,
		status:     StatusOffline,
		friends:    make(map[string]struct{}),
		followers:  make(map[string]struct{}),
		groups:     make(map[string]struct{}),
	}
}

func (u *UserRecord) isFriend(name string) bool {
	_, ok := u.friends[name]
	return ok
}

func (u *UserRecord) view() UserView {
	return UserView{
		Username:  u.username,
		Language:  u.lang,
		Status:    u.status,
		Friends:   sortedKeys(u.friends),
		Followers: sortedKeys(u.followers),
		Groups:    sortedKeys(u.groups),
	}
}

// goOffline resets the session state. Callers check the status first.
func (u *UserRecord) goOffline() {
	u.status = StatusOffline
	u.notify = nil
	u.stopLoginTimer()
	u.dropChat()
}

func (u *UserRecord) stopLoginTimer() {
	if u.loginTimer != nil {
		u.loginTimer.Stop()
		u.loginTimer = nil
	}
}

func (u *UserRecord) dropChat() {
	if u.chat != nil {
		u.chat.offers.Close()
		u.chat = nil
	}
}

// reachable reports whether chat envelopes can be delivered right now.
func (u *UserRecord) reachable() bool {
	return u.status == StatusOnline && u.chat != nil
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
