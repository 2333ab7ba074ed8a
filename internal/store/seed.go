package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SeedDemoData provisions the demo users and chats the front end ships with.
// Re-running against an already seeded store is a no-op.
func SeedDemoData(ctx context.Context, s ChatStore, now time.Time) error {
	users := []struct{ id, name string }{
		{"alice", "Alice"},
		{"bob", "Bob"},
		{"charlie", "Charlie"},
		{"diana", "Diana"},
	}
	for _, u := range users {
		if _, err := s.EnsureUser(ctx, u.id, u.name); err != nil {
			return fmt.Errorf("seed user %s: %w", u.id, err)
		}
	}

	chats := []Chat{
		{
			ID:   "chat_1",
			Name: "Alice",
			Kind: KindPrivate,
			Participants: []ChatParticipant{
				{UserID: "alice"}, {UserID: "bob"},
			},
		},
		{
			ID:   "chat_2",
			Name: "Team Project",
			Kind: KindGroup,
			Participants: []ChatParticipant{
				{UserID: "alice"}, {UserID: "bob"}, {UserID: "charlie"}, {UserID: "diana"},
			},
		},
		{
			ID:   "chat_3",
			Name: "Bob",
			Kind: KindPrivate,
			Participants: []ChatParticipant{
				{UserID: "alice"}, {UserID: "bob"},
			},
		},
	}
	for i := range chats {
		chats[i].CreatedAt = now.Add(time.Duration(i) * time.Millisecond)
		err := s.CreateChat(ctx, chats[i])
		if errors.Is(err, ErrChatExists) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("seed chat %s: %w", chats[i].ID, err)
		}
	}

	greetings := []struct {
		chatID, sender, text string
	}{
		{"chat_1", "alice", "Hey there!"},
		{"chat_1", "bob", "How are you?"},
		{"chat_2", "alice", "Let's start the call!"},
		{"chat_2", "charlie", "Joining in 5 mins"},
		{"chat_3", "bob", "Meeting at 3?"},
	}
	for i, g := range greetings {
		at := now.Add(time.Duration(i) * time.Second)
		if _, err := s.AppendMessage(ctx, g.chatID, g.sender, g.text, at); err != nil {
			return fmt.Errorf("seed message in %s: %w", g.chatID, err)
		}
	}
	return nil
}
