// Package hub owns the live connection set and the fan-out path between the
// chat store and connected clients.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chat-relay/chat-relay/internal/presence"
	"github.com/chat-relay/chat-relay/internal/protocol"
	"github.com/chat-relay/chat-relay/internal/store"
)

const defaultSendBufferSize = 32

// ErrInvalidUser rejects handshakes without a usable user identifier.
var ErrInvalidUser = errors.New("handshake user id is empty")

// Session is one live connection bound to a user. At most one session per
// user identifier is live at a time; a newer handshake supersedes the older
// session and cancels its pending writes.
type Session struct {
	id           string
	userID       string
	user         store.User
	sendCh       chan []byte
	ctx          context.Context
	cancel       context.CancelFunc
	connectedAt  time.Time
	unregistered atomic.Bool
}

// ID returns the session's connection identity.
func (s *Session) ID() string { return s.id }

// UserID returns the normalized user identifier bound to this session.
func (s *Session) UserID() string { return s.userID }

// User returns the stored user record for this session.
func (s *Session) User() store.User { return s.user }

// Outbound is the queue of encoded frames awaiting write to the peer.
func (s *Session) Outbound() <-chan []byte { return s.sendCh }

// Context is cancelled when the session closes or is superseded.
func (s *Session) Context() context.Context { return s.ctx }

// Options tune hub behavior.
type Options struct {
	SendBufferSize int
	Metrics        *Metrics
	Now            func() time.Time
}

// Hub translates connect/disconnect events into presence changes and inbound
// frames into store mutations and outbound broadcasts.
//
// Locking: mu guards the session set. Frame handling holds it shared for the
// whole append-and-fan-out so a registering connection (which holds it
// exclusively across snapshot build and session insertion) either observes a
// message in its initial_data snapshot or receives it as a new_message frame,
// never both and never neither. Per-chat delivery locks serialize appends on
// one chat so enqueue order equals append order.
type Hub struct {
	log      *zap.Logger
	store    store.ChatStore
	presence *presence.Registry
	metrics  *Metrics
	bufSize  int
	now      func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session

	chatMu    sync.Mutex
	chatLocks map[string]*sync.Mutex
}

// New wires a hub over the given store and presence registry.
func New(log *zap.Logger, chats store.ChatStore, reg *presence.Registry, opts Options) *Hub {
	if opts.SendBufferSize <= 0 {
		opts.SendBufferSize = defaultSendBufferSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Hub{
		log:       log,
		store:     chats,
		presence:  reg,
		metrics:   opts.Metrics,
		bufSize:   opts.SendBufferSize,
		now:       opts.Now,
		sessions:  make(map[string]*Session),
		chatLocks: make(map[string]*sync.Mutex),
	}
}

func (h *Hub) deliveryLock(chatID string) *sync.Mutex {
	h.chatMu.Lock()
	defer h.chatMu.Unlock()
	lock, ok := h.chatLocks[chatID]
	if !ok {
		lock = &sync.Mutex{}
		h.chatLocks[chatID] = lock
	}
	return lock
}

// Register opens a session for the handshake's user identifier. A prior
// session for the same user is superseded: cancelled without emitting
// user_offline, while the user's online state carries over without a second
// user_online. A fresh online transition broadcasts user_online and a
// presence snapshot to everyone else, and the new session is queued an
// initial_data frame with the user's chats and the current snapshot.
func (h *Hub) Register(ctx context.Context, userID string) (*Session, error) {
	userID = store.NormalizeUserID(userID)
	if userID == "" {
		return nil, ErrInvalidUser
	}

	user, err := h.store.EnsureUser(ctx, userID, "")
	if err != nil {
		return nil, fmt.Errorf("resolve user %s: %w", userID, err)
	}

	sctx, cancel := context.WithCancel(context.Background())
	now := h.now()
	session := &Session{
		id:          uuid.NewString(),
		userID:      userID,
		user:        user,
		sendCh:      make(chan []byte, h.bufSize),
		ctx:         sctx,
		cancel:      cancel,
		connectedAt: now,
	}

	h.mu.Lock()
	prev := h.sessions[userID]
	h.sessions[userID] = session

	if prev != nil {
		// Atomic handoff: the old session just stops, no presence events.
		prev.cancel()
		h.metrics.recordSupersession()
	}

	fresh := h.presence.MarkOnline(presence.Entry{
		UserID:      userID,
		DisplayName: user.DisplayName,
		Avatar:      user.Avatar,
		ConnectedAt: now,
	})

	chats, listErr := h.store.ListChatsFor(ctx, userID)
	if listErr != nil {
		delete(h.sessions, userID)
		if fresh {
			h.presence.MarkOffline(userID)
		}
		h.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("load chats for %s: %w", userID, listErr)
	}

	wireChats := make([]protocol.WireChat, 0, len(chats))
	for _, c := range chats {
		wireChats = append(wireChats, protocol.ChatWire(c))
	}
	online := protocol.EntriesWire(h.presence.Snapshot())

	h.push(session, protocol.NewInitialData(wireChats, protocol.UserWire(user, true), online))
	if fresh {
		h.broadcastLocked(userID, protocol.NewUserOnline(protocol.UserWire(user, true)))
		h.broadcastLocked(userID, protocol.NewOnlineUsersUpdate(online))
	}
	h.mu.Unlock()

	h.metrics.incConnection()
	h.log.Info("user connected",
		zap.String("user_id", userID),
		zap.String("session_id", session.id),
		zap.Bool("superseded_previous", prev != nil))
	return session, nil
}

// Unregister closes a session. If it is still the live session for its user,
// the user goes offline and the remaining connections are told; a superseded
// session just stops. Repeated calls on the same session are no-ops.
func (h *Hub) Unregister(session *Session) {
	session.cancel()
	if !session.unregistered.CompareAndSwap(false, true) {
		return
	}

	h.mu.Lock()
	live := h.sessions[session.userID] != nil && h.sessions[session.userID].id == session.id
	if live {
		delete(h.sessions, session.userID)
		if h.presence.MarkOffline(session.userID) {
			h.broadcastLocked(session.userID, protocol.NewUserOffline(session.userID))
			h.broadcastLocked(session.userID, protocol.NewOnlineUsersUpdate(protocol.EntriesWire(h.presence.Snapshot())))
		}
	}
	h.mu.Unlock()

	h.metrics.decConnection()
	h.log.Info("user disconnected",
		zap.String("user_id", session.userID),
		zap.String("session_id", session.id),
		zap.Bool("superseded", !live))
}

// HandleFrame dispatches one inbound frame. Per-frame failures are echoed to
// the sender as protocol_error; nothing here closes the connection.
func (h *Hub) HandleFrame(session *Session, raw []byte) {
	start := h.now()
	in, err := protocol.DecodeInbound(raw)
	if err != nil {
		reason := protocol.ReasonInvalidPayload
		var ferr *protocol.FrameError
		if errors.As(err, &ferr) {
			reason = ferr.Reason
		}
		h.metrics.recordFrameError(reason)
		h.log.Debug("discarded malformed frame",
			zap.String("user_id", session.userID), zap.String("reason", reason))
		h.push(session, protocol.NewProtocolError(reason))
		return
	}

	switch frame := in.(type) {
	case protocol.SendMessage:
		h.metrics.recordFrame(protocol.TypeSendMessage)
		h.handleSendMessage(session, frame)
		h.metrics.observeLatency(protocol.TypeSendMessage, time.Since(start))
	}
}

func (h *Hub) handleSendMessage(session *Session, frame protocol.SendMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	lock := h.deliveryLock(frame.ChatID)
	lock.Lock()
	defer lock.Unlock()

	msg, err := h.store.AppendMessage(session.ctx, frame.ChatID, session.userID, frame.Text, h.now())
	if err != nil {
		reason := storeErrorReason(err)
		if reason == "" {
			h.log.Error("append message failed",
				zap.String("chat_id", frame.ChatID), zap.String("user_id", session.userID), zap.Error(err))
			return
		}
		h.metrics.recordFrameError(reason)
		h.push(session, protocol.NewProtocolError(reason))
		return
	}

	h.fanOutLocked(frame.ChatID, msg)
}

// Deliver fans a previously appended message out to every chat participant
// with a live session; offline participants are skipped silently.
func (h *Hub) Deliver(chatID string, msg store.Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	lock := h.deliveryLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	h.fanOutLocked(chatID, msg)
}

// fanOutLocked requires h.mu held (shared is enough) and the chat's delivery
// lock held.
func (h *Hub) fanOutLocked(chatID string, msg store.Message) {
	participants, err := h.store.Participants(context.Background(), chatID)
	if err != nil {
		h.log.Error("resolve participants failed", zap.String("chat_id", chatID), zap.Error(err))
		return
	}

	frame := protocol.NewNewMessage(chatID, protocol.MessageWire(msg))
	for _, userID := range participants {
		target, ok := h.sessions[userID]
		if !ok {
			h.metrics.recordSkippedOffline()
			continue
		}
		h.push(target, frame)
		h.metrics.recordDelivered()
	}
}

// broadcastLocked requires h.mu held. It queues a frame for every live
// session except the excluded user.
func (h *Hub) broadcastLocked(exclude string, frame any) {
	for userID, session := range h.sessions {
		if userID == exclude {
			continue
		}
		h.push(session, frame)
	}
}

// push encodes and queues a frame without blocking. A session that cannot
// keep up is cancelled rather than allowed to stall everyone else.
func (h *Hub) push(session *Session, frame any) {
	data, err := protocol.Encode(frame)
	if err != nil {
		h.log.Error("encode frame failed", zap.Error(err))
		return
	}

	select {
	case <-session.ctx.Done():
	case session.sendCh <- data:
	default:
		h.metrics.recordBackpressure()
		h.log.Warn("send buffer full, dropping session",
			zap.String("user_id", session.userID), zap.String("session_id", session.id))
		session.cancel()
	}
}

// IsOnline reports whether a user currently has a live session.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.sessions[store.NormalizeUserID(userID)]
	return ok
}

func storeErrorReason(err error) string {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return protocol.ReasonNotFound
	case errors.Is(err, store.ErrNotMember):
		return protocol.ReasonNotMember
	case errors.Is(err, store.ErrInvalidText):
		return protocol.ReasonInvalidText
	default:
		return ""
	}
}
