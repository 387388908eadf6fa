// Package protocol defines the JSON envelope exchanged between clients and the
// server on every stream: request, chat, notification, group datagrams and
// multicast fan-out.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Request types.
const (
	TypeRegister    = "Register"
	TypeLogin       = "Login"
	TypeAddFriend   = "AddFriend"
	TypeSearchUser  = "SearchUser"
	TypeFriendsList = "FriendsList"
	TypeChatMessage = "ChatMessage"
	TypeFileMessage = "FileMessage"
	TypeSockInfo    = "SockInfo"
	TypeGroupCreate = "GroupCreate"
	TypeGroupJoin   = "GroupJoin"
	TypeGroupList   = "GroupList"
	TypeGroupClose  = "GroupClose"
	TypeGroupMsg    = "GroupMsg"
	TypeInit        = "Init"
)

// Response and push types.
const (
	TypeACK          = "ACK"
	TypeNACK         = "NACK"
	TypeLACK         = "LACK"
	TypeFACK         = "FACK"
	TypeGACK         = "GACK"
	TypeNewFriend    = "NewFriend"
	TypeStatusChange = "StatusChange"
)

// ErrMissingType is returned by Decode for envelopes without a Type.
var ErrMissingType = errors.New("protocol: envelope has no type")

// GroupRef names a group together with its multicast address.
type GroupRef struct {
	GroupName string `json:"GroupName"`
	Ip        string `json:"Ip"`
}

// Envelope is the single message shape used on the wire. Only the fields
// relevant to a given Type are populated.
type Envelope struct {
	Type          string     `json:"Type"`
	Usr           string     `json:"Usr,omitempty"`
	Psw           string     `json:"Psw,omitempty"`
	Lang          string     `json:"Lang,omitempty"`
	Msg           string     `json:"Msg,omitempty"`
	List          []string   `json:"List,omitempty"`
	From          string     `json:"From,omitempty"`
	To            string     `json:"To,omitempty"`
	FileName      string     `json:"FileName,omitempty"`
	Ip            string     `json:"Ip,omitempty"`
	Port          int        `json:"Port,omitempty"`
	Ide           int64      `json:"Ide,omitempty"`
	Len           int64      `json:"Len,omitempty"`
	GroupName     string     `json:"GroupName,omitempty"`
	ListUserGroup []string   `json:"ListUserGroup,omitempty"`
	Status        string     `json:"Status,omitempty"`
	Groups        []GroupRef `json:"Groups,omitempty"`
}

// Decode parses one envelope.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, ErrMissingType
	}
	return env, nil
}

// Encode serialises env.
func Encode(env Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope %s: %w", env.Type, err)
	}
	return data, nil
}

// SplitFrame returns the envelopes carried by one websocket frame. Writers may
// batch several queued envelopes into a frame separated by newlines.
func SplitFrame(frame []byte) [][]byte {
	var parts [][]byte
	for _, line := range bytes.Split(frame, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			parts = append(parts, line)
		}
	}
	return parts
}

// Ack builds a positive reply.
func Ack(msg string) Envelope {
	return Envelope{Type: TypeACK, Msg: msg}
}

// Nack builds a negative reply.
func Nack(msg string) Envelope {
	return Envelope{Type: TypeNACK, Msg: msg}
}
