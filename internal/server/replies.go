package server

import (
	"fmt"

	"github.com/Tyrowin/presence-chat/internal/core"
	"github.com/Tyrowin/presence-chat/internal/protocol"
)

const (
	msgRateLimited    = "Too many requests, slow down!"
	msgMalformed      = "Malformed request!"
	msgNotLoggedIn    = "You must log in first!"
	msgAlreadyLogged  = "You are already logged in!"
	msgSessionExpired = "Your session has expired, log in again!"
	msgEmptyGroupName = "Group name must not be empty!"
	msgUnsupported    = "Unsupported request!"
	msgChatReady      = "Chat channel ready"
	msgChatRejected   = "Chat channel rejected!"
	msgNotifyReady    = "Notifications enabled"
	msgNotifyReject   = "Notifications rejected!"
)

// registerReply answers a Register request.
func registerReply(code core.Code, err error) protocol.Envelope {
	switch {
	case err != nil:
		return protocol.Nack(fmt.Sprintf("Invalid registration: %v", err))
	case code == core.CodeOK:
		return protocol.Ack("User created")
	case code == core.CodeAlreadyExists:
		return protocol.Nack("User already exists")
	default:
		return protocol.Nack(code.String())
	}
}

// loginReply answers a Login request. view and groups are only read on success.
func loginReply(code core.Code, view core.UserView, groups []core.GroupInfo) protocol.Envelope {
	switch code {
	case core.CodeOK:
		refs := make([]protocol.GroupRef, 0, len(groups))
		for _, g := range groups {
			refs = append(refs, protocol.GroupRef{GroupName: g.Name, Ip: g.Addr.String()})
		}
		return protocol.Envelope{
			Type:   protocol.TypeLACK,
			Usr:    view.Username,
			Lang:   view.Language.String(),
			Msg:    "Logged in",
			Groups: refs,
		}
	case core.CodeWrongPassword:
		return protocol.Nack("Wrong password")
	case core.CodeWrongUser:
		return protocol.Nack("Wrong username")
	case core.CodeAlreadyOnline:
		return protocol.Nack("User already online")
	default:
		return protocol.Nack(code.String())
	}
}

func addFriendReply(code core.Code, friend string) protocol.Envelope {
	switch code {
	case core.CodeOK:
		return protocol.Ack(fmt.Sprintf("You and %s are friends now!", friend))
	case core.CodeWrongUser:
		return protocol.Nack(fmt.Sprintf("User %s does not exist!", friend))
	case core.CodeAlreadyFriends:
		return protocol.Nack(fmt.Sprintf("User %s is already your friend!", friend))
	default:
		return protocol.Nack(code.String())
	}
}

func searchReply(found bool, user string) protocol.Envelope {
	if found {
		return protocol.Ack(fmt.Sprintf("User %s exists!", user))
	}
	return protocol.Nack(fmt.Sprintf("User %s does not exist!", user))
}

func friendsReply(friends []string) protocol.Envelope {
	return protocol.Envelope{
		Type: protocol.TypeFACK,
		Msg:  "Here is your friends list:",
		List: friends,
	}
}

// directReply answers a ChatMessage or FileMessage. kind is "MSG" or "FILE".
func directReply(code core.Code, kind, dest, what string) protocol.Envelope {
	switch code {
	case core.CodeOK:
		return protocol.Ack(fmt.Sprintf("[%s] You-%s: %s", kind, dest, what))
	case core.CodeWrongUser:
		return protocol.Nack(fmt.Sprintf("User %s does not exist!", dest))
	case core.CodeNotFriends:
		return protocol.Nack(fmt.Sprintf("User %s is not your friend!", dest))
	case core.CodeOffline:
		return protocol.Nack(fmt.Sprintf("[MSG/FILE] User %s is offline!", dest))
	default:
		return protocol.Nack(code.String())
	}
}

func groupMessage(group, text string) string {
	return fmt.Sprintf("[GROUP: %s] %s", group, text)
}

// groupReply answers GroupCreate and GroupJoin.
func groupReply(code core.Code, create bool, name string, info core.GroupInfo) protocol.Envelope {
	if code == core.CodeOK {
		msg := "Group join succeed!"
		if create {
			msg = "Group creation succeed!"
		}
		return protocol.Envelope{
			Type:      protocol.TypeGACK,
			Msg:       groupMessage(name, msg),
			GroupName: info.Name,
			Ip:        info.Addr.String(),
			Port:      info.Port,
		}
	}
	return protocol.Nack(groupFailure(code, name))
}

// groupFailure formats every non-OK group code.
func groupFailure(code core.Code, name string) string {
	switch code {
	case core.CodeAlreadyExists:
		return groupMessage(name, "Group already exists!")
	case core.CodeGroupFail:
		return groupMessage(name, "Group creation failed!")
	case core.CodeGroupNoUser:
		return groupMessage(name, "You are not in this group!")
	case core.CodeUserAlreadyInGroup:
		return groupMessage(name, "You are already in this group!")
	case core.CodeGroupNoOnlineUser:
		return groupMessage(name, "All group members are offline!")
	case core.CodeGroupNotExist:
		return groupMessage(name, "This group does not exists!")
	case core.CodeGroupSendFail:
		return groupMessage(name, "Failed to send the message!")
	case core.CodeGroupUserNotAdmin:
		return groupMessage(name, "You can't close this group!")
	default:
		return groupMessage(name, code.String())
	}
}

func groupCloseReply(code core.Code, name string) protocol.Envelope {
	if code == core.CodeOK {
		return protocol.Ack(groupMessage(name, "Group has been closed!"))
	}
	return protocol.Nack(groupFailure(code, name))
}

func groupListReply(joined, others []string) protocol.Envelope {
	return protocol.Envelope{
		Type:          protocol.TypeGroupList,
		Msg:           "Here is your group list:",
		ListUserGroup: joined,
		List:          others,
	}
}
