// Package protocol owns the tagged JSON envelope exchanged with clients.
// Every frame is one complete JSON object with a mandatory "type" field;
// inbound frames are decoded once at the boundary into a closed set of
// variants so nothing downstream dispatches on strings.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/chat-relay/chat-relay/internal/presence"
	"github.com/chat-relay/chat-relay/internal/store"
)

// Frame type tags.
const (
	TypeSendMessage       = "send_message"
	TypeInitialData       = "initial_data"
	TypeNewMessage        = "new_message"
	TypeUserOnline        = "user_online"
	TypeUserOffline       = "user_offline"
	TypeOnlineUsersUpdate = "online_users_update"
	TypeProtocolError     = "protocol_error"
)

// Machine-readable reasons carried by protocol_error frames.
const (
	ReasonUnknownType    = "unknown_type"
	ReasonInvalidPayload = "invalid_payload"
	ReasonNotFound       = "not_found"
	ReasonNotMember      = "not_member"
	ReasonInvalidText    = "invalid_text"
)

// FrameError classifies an inbound frame failure. It is reported to the
// sender only; the connection stays open.
type FrameError struct {
	Reason string
	Detail string
}

func (e *FrameError) Error() string {
	if e.Detail == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

// Inbound is the closed set of client-originated frames.
type Inbound interface {
	inboundType() string
}

// SendMessage asks the server to append text to a chat and fan it out.
type SendMessage struct {
	ChatID string
	Text   string
}

func (SendMessage) inboundType() string { return TypeSendMessage }

// DecodeInbound validates and decodes one inbound frame. Failures are
// *FrameError with reason unknown_type or invalid_payload.
func DecodeInbound(data []byte) (Inbound, error) {
	var envelope struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, &FrameError{Reason: ReasonInvalidPayload, Detail: "frame is not a JSON object"}
	}
	if envelope.Type == nil {
		return nil, &FrameError{Reason: ReasonInvalidPayload, Detail: "missing type field"}
	}

	switch *envelope.Type {
	case TypeSendMessage:
		var frame struct {
			ChatID *string `json:"chat_id"`
			Text   *string `json:"text"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, &FrameError{Reason: ReasonInvalidPayload, Detail: "malformed send_message payload"}
		}
		if frame.ChatID == nil || *frame.ChatID == "" {
			return nil, &FrameError{Reason: ReasonInvalidPayload, Detail: "chat_id is required"}
		}
		if frame.Text == nil {
			return nil, &FrameError{Reason: ReasonInvalidPayload, Detail: "text is required"}
		}
		return SendMessage{ChatID: *frame.ChatID, Text: *frame.Text}, nil
	default:
		return nil, &FrameError{Reason: ReasonUnknownType, Detail: *envelope.Type}
	}
}

// WireUser is the user shape the client renders.
type WireUser struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	Online bool   `json:"online"`
}

// WireMessage is the message shape the client renders. Time is Unix
// milliseconds of the server-assigned timestamp.
type WireMessage struct {
	ID         uint64 `json:"id"`
	Sender     string `json:"sender"`
	SenderName string `json:"sender_name"`
	Text       string `json:"text"`
	Time       int64  `json:"time"`
	Timestamp  string `json:"timestamp"`
}

// WireChat is the chat shape carried inside initial_data.
type WireChat struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Type         string        `json:"type"`
	Avatar       string        `json:"avatar,omitempty"`
	Participants []string      `json:"participants"`
	Messages     []WireMessage `json:"messages"`
}

// Outbound frames. Each carries its tag so a single json.Marshal produces a
// complete frame.

type InitialData struct {
	Type        string     `json:"type"`
	Chats       []WireChat `json:"chats"`
	User        WireUser   `json:"user"`
	OnlineUsers []WireUser `json:"online_users"`
}

type NewMessage struct {
	Type    string      `json:"type"`
	ChatID  string      `json:"chat_id"`
	Message WireMessage `json:"message"`
}

type UserOnline struct {
	Type string   `json:"type"`
	User WireUser `json:"user"`
}

type UserOffline struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

type OnlineUsersUpdate struct {
	Type        string     `json:"type"`
	OnlineUsers []WireUser `json:"online_users"`
}

type ProtocolError struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// NewInitialData builds the resynchronization snapshot sent on connect.
func NewInitialData(chats []WireChat, user WireUser, online []WireUser) InitialData {
	if chats == nil {
		chats = []WireChat{}
	}
	if online == nil {
		online = []WireUser{}
	}
	return InitialData{Type: TypeInitialData, Chats: chats, User: user, OnlineUsers: online}
}

func NewNewMessage(chatID string, msg WireMessage) NewMessage {
	return NewMessage{Type: TypeNewMessage, ChatID: chatID, Message: msg}
}

func NewUserOnline(user WireUser) UserOnline {
	return UserOnline{Type: TypeUserOnline, User: user}
}

func NewUserOffline(userID string) UserOffline {
	return UserOffline{Type: TypeUserOffline, UserID: userID}
}

func NewOnlineUsersUpdate(online []WireUser) OnlineUsersUpdate {
	if online == nil {
		online = []WireUser{}
	}
	return OnlineUsersUpdate{Type: TypeOnlineUsersUpdate, OnlineUsers: online}
}

func NewProtocolError(reason string) ProtocolError {
	return ProtocolError{Type: TypeProtocolError, Reason: reason}
}

// Encode marshals one outbound frame.
func Encode(frame any) ([]byte, error) {
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}

// MessageWire converts a stored message to its wire shape. Rows appended
// before display names were recorded fall back to the sender id.
func MessageWire(msg store.Message) WireMessage {
	name := msg.SenderName
	if name == "" {
		name = msg.SenderID
	}
	return WireMessage{
		ID:         msg.Seq,
		Sender:     msg.SenderID,
		SenderName: name,
		Text:       msg.Text,
		Time:       msg.SentAt.UnixMilli(),
		Timestamp:  msg.SentAt.UTC().Format(time.RFC3339Nano),
	}
}

// ChatWire converts a stored chat, including its message history.
func ChatWire(chat store.Chat) WireChat {
	msgs := make([]WireMessage, 0, len(chat.Messages))
	for _, m := range chat.Messages {
		msgs = append(msgs, MessageWire(m))
	}
	return WireChat{
		ID:           chat.ID,
		Name:         chat.Name,
		Type:         chat.Kind,
		Avatar:       chat.Avatar,
		Participants: chat.ParticipantIDs(),
		Messages:     msgs,
	}
}

// UserWire converts a stored user.
func UserWire(user store.User, online bool) WireUser {
	return WireUser{ID: user.ID, Name: user.DisplayName, Avatar: user.Avatar, Online: online}
}

// EntryWire converts a presence entry; entries are online by definition.
func EntryWire(entry presence.Entry) WireUser {
	return WireUser{ID: entry.UserID, Name: entry.DisplayName, Avatar: entry.Avatar, Online: true}
}

// EntriesWire converts a presence snapshot.
func EntriesWire(entries []presence.Entry) []WireUser {
	out := make([]WireUser, 0, len(entries))
	for _, e := range entries {
		out = append(out, EntryWire(e))
	}
	return out
}
