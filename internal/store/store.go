package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Chat kinds. Private chats carry exactly two participants, groups at least two.
const (
	KindPrivate = "private"
	KindGroup   = "group"
)

var (
	// ErrNotFound signals an unknown chat identifier.
	ErrNotFound = errors.New("chat not found")
	// ErrNotMember signals a sender outside the chat's participant set.
	ErrNotMember = errors.New("sender is not a chat participant")
	// ErrInvalidText signals message text that trims to empty.
	ErrInvalidText = errors.New("message text is empty")
	// ErrChatExists signals a provisioning collision on chat id.
	ErrChatExists = errors.New("chat already exists")
	// ErrInvalidChat signals a chat definition that violates kind or participant rules.
	ErrInvalidChat = errors.New("invalid chat definition")
	// ErrLastParticipant guards against emptying a chat's participant set.
	ErrLastParticipant = errors.New("cannot remove the last participant")
)

// User is a chat participant identity.
type User struct {
	ID          string `gorm:"primaryKey"`
	DisplayName string `gorm:"not null"`
	Avatar      string
	CreatedAt   time.Time
}

// Chat holds a participant list and an append-only message log.
type Chat struct {
	ID           string `gorm:"primaryKey"`
	Name         string `gorm:"not null"`
	Kind         string `gorm:"not null"`
	Avatar       string
	CreatedAt    time.Time
	Participants []ChatParticipant `gorm:"foreignKey:ChatID"`
	Messages     []Message         `gorm:"foreignKey:ChatID"`
}

// ChatParticipant is a membership row; Position preserves provisioning order.
type ChatParticipant struct {
	ChatID   string `gorm:"primaryKey"`
	UserID   string `gorm:"primaryKey"`
	Position int    `gorm:"not null"`
}

// Message is immutable once appended. Seq is monotonic per chat, starting
// at 1. SenderName is the sender's display name frozen at append time, so
// history keeps the name the recipients saw.
type Message struct {
	ChatID     string    `gorm:"primaryKey"`
	Seq        uint64    `gorm:"primaryKey;autoIncrement:false"`
	SenderID   string    `gorm:"not null"`
	SenderName string
	Text       string    `gorm:"not null"`
	SentAt     time.Time `gorm:"not null"`
}

// ParticipantIDs returns the participant user ids in provisioning order.
func (c Chat) ParticipantIDs() []string {
	out := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		out = append(out, p.UserID)
	}
	return out
}

// HasParticipant reports membership of a (normalized) user id.
func (c Chat) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// ChatStore owns the durable set of chats, their participant lists, and
// ordered per-chat message history. Chats and participants are provisioned
// out of band; the delivery path only appends messages and reads.
type ChatStore interface {
	// ListChatsFor returns every chat the user participates in, in insertion
	// order, with participants and full ordered message history.
	ListChatsFor(ctx context.Context, userID string) ([]Chat, error)
	// Chat fetches one chat with participants and messages, or ErrNotFound.
	Chat(ctx context.Context, chatID string) (Chat, error)
	// Participants resolves the participant ids of a chat, or ErrNotFound.
	Participants(ctx context.Context, chatID string) ([]string, error)
	// AppendMessage durably appends a message before returning. The sequence
	// number and timestamp reflect the order appends were observed: two calls
	// on the same chat are strictly serialized, distinct chats may proceed
	// concurrently.
	AppendMessage(ctx context.Context, chatID, senderID, text string, now time.Time) (Message, error)

	// Provisioning surface, consumed by the admin interface and seeding.
	CreateChat(ctx context.Context, chat Chat) error
	AddParticipant(ctx context.Context, chatID, userID string) error
	RemoveParticipant(ctx context.Context, chatID, userID string) error
	EnsureUser(ctx context.Context, userID, displayName string) (User, error)
}

// NormalizeUserID canonicalizes caller-supplied user identifiers.
func NormalizeUserID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// DefaultAvatar mirrors the avatar scheme the client renders for unknown users.
func DefaultAvatar(userID string) string {
	return fmt.Sprintf("https://i.pravatar.cc/150?u=%s", userID)
}

func validateChat(chat Chat) error {
	if chat.ID == "" || chat.Name == "" {
		return fmt.Errorf("%w: id and name are required", ErrInvalidChat)
	}
	switch chat.Kind {
	case KindPrivate:
		if len(chat.Participants) != 2 {
			return fmt.Errorf("%w: private chat needs exactly 2 participants", ErrInvalidChat)
		}
	case KindGroup:
		if len(chat.Participants) < 2 {
			return fmt.Errorf("%w: group chat needs at least 2 participants", ErrInvalidChat)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidChat, chat.Kind)
	}
	seen := make(map[string]struct{}, len(chat.Participants))
	for _, p := range chat.Participants {
		id := NormalizeUserID(p.UserID)
		if id == "" {
			return fmt.Errorf("%w: empty participant id", ErrInvalidChat)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate participant %s", ErrInvalidChat, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
