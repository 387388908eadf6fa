package core

import "fmt"

// Code is the outcome of a coordinator operation.
type Code int

// Result codes. The zero value is CodeOK.
const (
	CodeOK Code = iota
	CodeAlreadyOnline
	CodeWrongUser
	CodeWrongPassword
	CodeAlreadyFriends
	CodeNotFriends
	CodeOffline
	CodeGroupFail
	CodeAlreadyExists
	CodeGroupNotExist
	CodeGroupNoUser
	CodeGroupNoOnlineUser
	CodeGroupSendFail
	CodeUserAlreadyInGroup
	CodeGroupUserNotAdmin
)

var codeNames = [...]string{
	CodeOK:                 "OK",
	CodeAlreadyOnline:      "ALREADY_ONLINE",
	CodeWrongUser:          "WRGUSR",
	CodeWrongPassword:      "WRGPSW",
	CodeAlreadyFriends:     "ALREADY_FRIENDS",
	CodeNotFriends:         "NOT_FRIENDS",
	CodeOffline:            "OFFLINE",
	CodeGroupFail:          "GRP_FAIL",
	CodeAlreadyExists:      "ALRDY_EXISTS",
	CodeGroupNotExist:      "GRP_NOT_EXIST",
	CodeGroupNoUser:        "GRP_NO_USR",
	CodeGroupNoOnlineUser:  "GRP_NO_ON_USR",
	CodeGroupSendFail:      "GRP_SEND_FAIL",
	CodeUserAlreadyInGroup: "USR_ALRDY_GRP",
	CodeGroupUserNotAdmin:  "GRP_USR_NOT_ADMIN",
}

func (c Code) String() string {
	if c >= 0 && int(c) < len(codeNames) {
		return codeNames[c]
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// OK reports whether c is CodeOK.
func (c Code) OK() bool {
	return c == CodeOK
}
