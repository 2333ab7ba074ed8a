package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormStore persists chats, users, and messages in a sqlite database.
// Appends on the same chat are serialized by a per-chat mutex so sequence
// numbers and timestamps reflect observed order; appends to distinct chats
// do not contend.
type GormStore struct {
	db *gorm.DB

	mu        sync.Mutex
	chatLocks map[string]*sync.Mutex
}

// Open creates or opens the sqlite database at path and migrates the schema.
func Open(path string) (*GormStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open chat store %s: %w", path, err)
	}
	if err := db.AutoMigrate(&User{}, &Chat{}, &ChatParticipant{}, &Message{}); err != nil {
		return nil, fmt.Errorf("migrate chat store: %w", err)
	}
	return &GormStore{
		db:        db,
		chatLocks: make(map[string]*sync.Mutex),
	}, nil
}

func (s *GormStore) chatLock(chatID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.chatLocks[chatID]
	if !ok {
		lock = &sync.Mutex{}
		s.chatLocks[chatID] = lock
	}
	return lock
}

func preloadChat(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Participants", func(db *gorm.DB) *gorm.DB {
			return db.Order("position asc")
		}).
		Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order("seq asc")
		})
}

// ListChatsFor returns the user's chats in insertion order.
func (s *GormStore) ListChatsFor(ctx context.Context, userID string) ([]Chat, error) {
	userID = NormalizeUserID(userID)

	var chats []Chat
	err := preloadChat(s.db.WithContext(ctx)).
		Joins("JOIN chat_participants ON chat_participants.chat_id = chats.id").
		Where("chat_participants.user_id = ?", userID).
		Order("chats.created_at asc, chats.id asc").
		Find(&chats).Error
	if err != nil {
		return nil, fmt.Errorf("list chats for %s: %w", userID, err)
	}
	return chats, nil
}

// Chat fetches a single chat with its participants and message history.
func (s *GormStore) Chat(ctx context.Context, chatID string) (Chat, error) {
	var chat Chat
	err := preloadChat(s.db.WithContext(ctx)).First(&chat, "id = ?", chatID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Chat{}, ErrNotFound
	}
	if err != nil {
		return Chat{}, fmt.Errorf("load chat %s: %w", chatID, err)
	}
	return chat, nil
}

// Participants resolves the participant ids of a chat.
func (s *GormStore) Participants(ctx context.Context, chatID string) ([]string, error) {
	var exists int64
	if err := s.db.WithContext(ctx).Model(&Chat{}).Where("id = ?", chatID).Count(&exists).Error; err != nil {
		return nil, fmt.Errorf("check chat %s: %w", chatID, err)
	}
	if exists == 0 {
		return nil, ErrNotFound
	}

	var rows []ChatParticipant
	if err := s.db.WithContext(ctx).Where("chat_id = ?", chatID).Order("position asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load participants of %s: %w", chatID, err)
	}
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.UserID)
	}
	return out, nil
}

// AppendMessage validates and durably appends a message, assigning the next
// per-chat sequence number and the server-observed timestamp.
func (s *GormStore) AppendMessage(ctx context.Context, chatID, senderID, text string, now time.Time) (Message, error) {
	senderID = NormalizeUserID(senderID)

	lock := s.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	var chat Chat
	err := s.db.WithContext(ctx).
		Preload("Participants").
		First(&chat, "id = ?", chatID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("load chat %s: %w", chatID, err)
	}
	if !chat.HasParticipant(senderID) {
		return Message{}, ErrNotMember
	}
	if strings.TrimSpace(text) == "" {
		return Message{}, ErrInvalidText
	}

	var sender User
	if err := s.db.WithContext(ctx).First(&sender, "id = ?", senderID).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return Message{}, fmt.Errorf("load sender %s: %w", senderID, err)
	}
	senderName := sender.DisplayName
	if senderName == "" {
		senderName = senderID
	}

	var lastSeq uint64
	row := s.db.WithContext(ctx).Model(&Message{}).
		Where("chat_id = ?", chatID).
		Select("COALESCE(MAX(seq), 0)").
		Row()
	if err := row.Scan(&lastSeq); err != nil {
		return Message{}, fmt.Errorf("next sequence for %s: %w", chatID, err)
	}

	msg := Message{
		ChatID:     chatID,
		Seq:        lastSeq + 1,
		SenderID:   senderID,
		SenderName: senderName,
		Text:       text,
		SentAt:     now,
	}
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return Message{}, fmt.Errorf("append message to %s: %w", chatID, err)
	}
	return msg, nil
}

// CreateChat provisions a chat and its participant list, creating any users
// referenced for the first time.
func (s *GormStore) CreateChat(ctx context.Context, chat Chat) error {
	if err := validateChat(chat); err != nil {
		return err
	}
	if chat.Avatar == "" {
		chat.Avatar = DefaultAvatar(chat.ID)
	}
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now()
	}
	for i := range chat.Participants {
		chat.Participants[i].ChatID = chat.ID
		chat.Participants[i].UserID = NormalizeUserID(chat.Participants[i].UserID)
		chat.Participants[i].Position = i
	}
	chat.Messages = nil

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var exists int64
		if err := tx.Model(&Chat{}).Where("id = ?", chat.ID).Count(&exists).Error; err != nil {
			return fmt.Errorf("check chat %s: %w", chat.ID, err)
		}
		if exists > 0 {
			return ErrChatExists
		}
		for _, p := range chat.Participants {
			if err := ensureUserTx(tx, p.UserID, ""); err != nil {
				return err
			}
		}
		if err := tx.Create(&chat).Error; err != nil {
			return fmt.Errorf("create chat %s: %w", chat.ID, err)
		}
		return nil
	})
}

// AddParticipant appends a user to a chat's participant list; adding an
// existing participant is a no-op.
func (s *GormStore) AddParticipant(ctx context.Context, chatID, userID string) error {
	userID = NormalizeUserID(userID)
	if userID == "" {
		return fmt.Errorf("%w: empty participant id", ErrInvalidChat)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var exists int64
		if err := tx.Model(&Chat{}).Where("id = ?", chatID).Count(&exists).Error; err != nil {
			return fmt.Errorf("check chat %s: %w", chatID, err)
		}
		if exists == 0 {
			return ErrNotFound
		}
		var member int64
		if err := tx.Model(&ChatParticipant{}).Where("chat_id = ? AND user_id = ?", chatID, userID).Count(&member).Error; err != nil {
			return fmt.Errorf("check membership: %w", err)
		}
		if member > 0 {
			return nil
		}
		if err := ensureUserTx(tx, userID, ""); err != nil {
			return err
		}
		var last int64
		row := tx.Model(&ChatParticipant{}).Where("chat_id = ?", chatID).Select("COALESCE(MAX(position), -1)").Row()
		if err := row.Scan(&last); err != nil {
			return fmt.Errorf("next position: %w", err)
		}
		p := ChatParticipant{ChatID: chatID, UserID: userID, Position: int(last) + 1}
		if err := tx.Create(&p).Error; err != nil {
			return fmt.Errorf("add participant %s to %s: %w", userID, chatID, err)
		}
		return nil
	})
}

// RemoveParticipant drops a user from a chat. The participant set never
// becomes empty; removing the last member fails.
func (s *GormStore) RemoveParticipant(ctx context.Context, chatID, userID string) error {
	userID = NormalizeUserID(userID)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var exists int64
		if err := tx.Model(&Chat{}).Where("id = ?", chatID).Count(&exists).Error; err != nil {
			return fmt.Errorf("check chat %s: %w", chatID, err)
		}
		if exists == 0 {
			return ErrNotFound
		}
		var total int64
		if err := tx.Model(&ChatParticipant{}).Where("chat_id = ?", chatID).Count(&total).Error; err != nil {
			return fmt.Errorf("count participants: %w", err)
		}
		res := tx.Where("chat_id = ? AND user_id = ?", chatID, userID).Delete(&ChatParticipant{})
		if res.Error != nil {
			return fmt.Errorf("remove participant %s from %s: %w", userID, chatID, res.Error)
		}
		if res.RowsAffected > 0 && total-res.RowsAffected < 1 {
			return ErrLastParticipant
		}
		return nil
	})
}

// EnsureUser fetches a user, creating it on first reference.
func (s *GormStore) EnsureUser(ctx context.Context, userID, displayName string) (User, error) {
	userID = NormalizeUserID(userID)
	if userID == "" {
		return User{}, fmt.Errorf("%w: empty user id", ErrInvalidChat)
	}

	var user User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureUserTx(tx, userID, displayName); err != nil {
			return err
		}
		return tx.First(&user, "id = ?", userID).Error
	})
	if err != nil {
		return User{}, fmt.Errorf("ensure user %s: %w", userID, err)
	}
	return user, nil
}

func ensureUserTx(tx *gorm.DB, userID, displayName string) error {
	var count int64
	if err := tx.Model(&User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
		return fmt.Errorf("check user %s: %w", userID, err)
	}
	if count > 0 {
		return nil
	}
	if displayName == "" {
		displayName = userID
	}
	user := User{
		ID:          userID,
		DisplayName: displayName,
		Avatar:      DefaultAvatar(userID),
		CreatedAt:   time.Now(),
	}
	if err := tx.Create(&user).Error; err != nil {
		return fmt.Errorf("create user %s: %w", userID, err)
	}
	return nil
}
