package core

// Status is the presence state of a user.
//
// A login cycle moves Offline -> Logging -> Online -> Offline. Logging is
// held between a successful password check and the attachment of the
// notification channel so a second login for the same account is rejected
// before the user becomes reachable.
type Status int

const (
	StatusOffline Status = iota
	StatusLogging
	StatusOnline
)

func (s Status) String() string {
	switch s {
	case StatusOffline:
		return "OFFLINE"
	case StatusLogging:
		return "LOGGING"
	case StatusOnline:
		return "ONLINE"
	default:
		return "UNKNOWN"
	}
}
