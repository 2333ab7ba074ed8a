package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

func provisionChat(t *testing.T, s *GormStore, id, kind string, participants ...string) {
	t.Helper()
	chat := Chat{ID: id, Name: id, Kind: kind}
	for _, p := range participants {
		chat.Participants = append(chat.Participants, ChatParticipant{UserID: p})
	}
	if err := s.CreateChat(context.Background(), chat); err != nil {
		t.Fatalf("create chat %s: %v", id, err)
	}
}

func TestAppendMessageAssignsSequenceAndTimestamp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	provisionChat(t, s, "chat_1", KindPrivate, "alice", "bob")

	at := time.UnixMilli(100)
	msg, err := s.AppendMessage(ctx, "chat_1", "alice", "hello", at)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if msg.Seq != 1 {
		t.Fatalf("expected first sequence 1, got %d", msg.Seq)
	}
	if !msg.SentAt.Equal(at) {
		t.Fatalf("expected server timestamp %v, got %v", at, msg.SentAt)
	}

	second, err := s.AppendMessage(ctx, "chat_1", "bob", "hi", at.Add(time.Second))
	if err != nil {
		t.Fatalf("append second: %v", err)
	}
	if second.Seq != 2 {
		t.Fatalf("expected sequence 2, got %d", second.Seq)
	}

	chats, err := s.ListChatsFor(ctx, "alice")
	if err != nil {
		t.Fatalf("list chats: %v", err)
	}
	if len(chats) != 1 {
		t.Fatalf("expected 1 chat, got %d", len(chats))
	}
	msgs := chats[0].Messages
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	last := msgs[len(msgs)-1]
	if last.Seq != 2 || last.SenderID != "bob" || last.Text != "hi" {
		t.Fatalf("unexpected last message: %+v", last)
	}
}

func TestAppendMessageFailures(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	provisionChat(t, s, "chat_1", KindPrivate, "alice", "bob")

	if _, err := s.AppendMessage(ctx, "missing", "alice", "hi", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.AppendMessage(ctx, "chat_1", "mallory", "hi", time.Now()); !errors.Is(err, ErrNotMember) {
		t.Fatalf("expected ErrNotMember, got %v", err)
	}
	if _, err := s.AppendMessage(ctx, "chat_1", "alice", "   \t ", time.Now()); !errors.Is(err, ErrInvalidText) {
		t.Fatalf("expected ErrInvalidText, got %v", err)
	}

	chat, err := s.Chat(ctx, "chat_1")
	if err != nil {
		t.Fatalf("load chat: %v", err)
	}
	if len(chat.Messages) != 0 {
		t.Fatalf("expected no messages after rejected appends, got %d", len(chat.Messages))
	}
}

func TestAppendMessageNormalizesSender(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	provisionChat(t, s, "chat_1", KindPrivate, "alice", "bob")

	msg, err := s.AppendMessage(ctx, "chat_1", "  Alice ", "hello", time.Now())
	if err != nil {
		t.Fatalf("append with unnormalized sender: %v", err)
	}
	if msg.SenderID != "alice" {
		t.Fatalf("expected normalized sender alice, got %s", msg.SenderID)
	}
}

func TestAppendMessageFreezesSenderDisplayName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.EnsureUser(ctx, "alice", "Alice"); err != nil {
		t.Fatalf("ensure alice: %v", err)
	}
	provisionChat(t, s, "chat_1", KindPrivate, "alice", "bob")

	msg, err := s.AppendMessage(ctx, "chat_1", "alice", "hello", time.Now())
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if msg.SenderName != "Alice" {
		t.Fatalf("expected sender display name Alice, got %q", msg.SenderName)
	}

	// Bob was provisioned without a display name; his id stands in.
	msg, err = s.AppendMessage(ctx, "chat_1", "bob", "hi", time.Now())
	if err != nil {
		t.Fatalf("append as bob: %v", err)
	}
	if msg.SenderName != "bob" {
		t.Fatalf("expected id fallback for bob, got %q", msg.SenderName)
	}
}

func TestConcurrentAppendsSameChatKeepUniqueSequences(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	provisionChat(t, s, "chat_1", KindGroup, "alice", "bob", "charlie")

	const n = 20
	var wg sync.WaitGroup
	seqs := make(chan uint64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg, err := s.AppendMessage(ctx, "chat_1", "alice", "x", time.Now())
			if err != nil {
				t.Errorf("append: %v", err)
				return
			}
			seqs <- msg.Seq
		}()
	}
	wg.Wait()
	close(seqs)

	seen := make(map[uint64]bool)
	for seq := range seqs {
		if seen[seq] {
			t.Fatalf("duplicate sequence %d", seq)
		}
		seen[seq] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d unique sequences, got %d", n, len(seen))
	}
}

func TestListChatsForInsertionOrderAndEmptyState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	for i, id := range []string{"chat_a", "chat_b", "chat_c"} {
		chat := Chat{
			ID: id, Name: id, Kind: KindPrivate,
			CreatedAt:    base.Add(time.Duration(i) * time.Millisecond),
			Participants: []ChatParticipant{{UserID: "alice"}, {UserID: "bob"}},
		}
		if err := s.CreateChat(ctx, chat); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	chats, err := s.ListChatsFor(ctx, "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(chats) != 3 {
		t.Fatalf("expected 3 chats, got %d", len(chats))
	}
	for i, want := range []string{"chat_a", "chat_b", "chat_c"} {
		if chats[i].ID != want {
			t.Fatalf("expected chat %s at index %d, got %s", want, i, chats[i].ID)
		}
	}

	// A user with no chats is a valid empty state, not an error.
	none, err := s.ListChatsFor(ctx, "stranger")
	if err != nil {
		t.Fatalf("list for stranger: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no chats, got %d", len(none))
	}
}

func TestCreateChatValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cases := []Chat{
		{ID: "c1", Name: "solo", Kind: KindPrivate, Participants: []ChatParticipant{{UserID: "alice"}}},
		{ID: "c2", Name: "dup", Kind: KindGroup, Participants: []ChatParticipant{{UserID: "alice"}, {UserID: "Alice"}}},
		{ID: "c3", Name: "bad kind", Kind: "broadcast", Participants: []ChatParticipant{{UserID: "a"}, {UserID: "b"}}},
		{ID: "", Name: "no id", Kind: KindPrivate, Participants: []ChatParticipant{{UserID: "a"}, {UserID: "b"}}},
	}
	for _, chat := range cases {
		if err := s.CreateChat(ctx, chat); !errors.Is(err, ErrInvalidChat) {
			t.Fatalf("chat %q: expected ErrInvalidChat, got %v", chat.ID, err)
		}
	}

	provisionChat(t, s, "chat_1", KindPrivate, "alice", "bob")
	err := s.CreateChat(ctx, Chat{
		ID: "chat_1", Name: "again", Kind: KindPrivate,
		Participants: []ChatParticipant{{UserID: "alice"}, {UserID: "bob"}},
	})
	if !errors.Is(err, ErrChatExists) {
		t.Fatalf("expected ErrChatExists, got %v", err)
	}
}

func TestParticipantProvisioning(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	provisionChat(t, s, "chat_1", KindGroup, "alice", "bob")

	if err := s.AddParticipant(ctx, "chat_1", "Charlie"); err != nil {
		t.Fatalf("add participant: %v", err)
	}
	// Re-adding is a no-op.
	if err := s.AddParticipant(ctx, "chat_1", "charlie"); err != nil {
		t.Fatalf("re-add participant: %v", err)
	}

	ids, err := s.Participants(ctx, "chat_1")
	if err != nil {
		t.Fatalf("participants: %v", err)
	}
	if len(ids) != 3 || ids[2] != "charlie" {
		t.Fatalf("expected [alice bob charlie], got %v", ids)
	}

	if err := s.RemoveParticipant(ctx, "chat_1", "charlie"); err != nil {
		t.Fatalf("remove participant: %v", err)
	}
	if err := s.RemoveParticipant(ctx, "chat_1", "bob"); err != nil {
		t.Fatalf("remove bob: %v", err)
	}
	if err := s.RemoveParticipant(ctx, "chat_1", "alice"); !errors.Is(err, ErrLastParticipant) {
		t.Fatalf("expected ErrLastParticipant, got %v", err)
	}

	if err := s.AddParticipant(ctx, "missing", "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEnsureUserIsIdempotentAndNormalized(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.EnsureUser(ctx, " Alice ", "Alice")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if first.ID != "alice" || first.DisplayName != "Alice" {
		t.Fatalf("unexpected user: %+v", first)
	}
	if first.Avatar == "" {
		t.Fatal("expected a default avatar")
	}

	again, err := s.EnsureUser(ctx, "ALICE", "Other Name")
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if again.DisplayName != "Alice" {
		t.Fatalf("expected existing display name preserved, got %s", again.DisplayName)
	}
}

func TestSeedDemoData(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	if err := SeedDemoData(ctx, s, now); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := SeedDemoData(ctx, s, now); err != nil {
		t.Fatalf("seed twice: %v", err)
	}

	chats, err := s.ListChatsFor(ctx, "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(chats) != 3 {
		t.Fatalf("expected 3 seeded chats for alice, got %d", len(chats))
	}
	group, err := s.Chat(ctx, "chat_2")
	if err != nil {
		t.Fatalf("load group: %v", err)
	}
	if group.Kind != KindGroup || len(group.Participants) != 4 {
		t.Fatalf("unexpected group chat: kind=%s participants=%d", group.Kind, len(group.Participants))
	}
	if len(group.Messages) != 2 {
		t.Fatalf("expected 2 seeded group messages, got %d", len(group.Messages))
	}
}
