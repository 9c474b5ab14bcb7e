package store

import (
	"sort"
	"sync"
	"time"

	"github.com/alexjbarnes/social-sync/internal/models"
	"github.com/samber/lo"
)

// chatEntry is the store's private view of one chat. messages is kept in
// createdAt order and seen holds every message id for de-duplication.
type chatEntry struct {
	chat     models.Chat
	messages []models.Message
	seen     map[string]struct{}
	lastRead time.Time
	stub     bool
}

func newChatEntry(c models.Chat) *chatEntry {
	if c.UnreadCount < 0 {
		c.UnreadCount = 0
	}

	return &chatEntry{
		chat: c,
		seen: make(map[string]struct{}),
	}
}

// ChatStore holds conversations and their message sets. Mutations come
// from the reconciliation engine only; reads may happen from any goroutine.
type ChatStore struct {
	mu    sync.RWMutex
	chats map[string]*chatEntry
	open  map[string]bool
}

// NewChatStore creates an empty chat store.
func NewChatStore() *ChatStore {
	return &ChatStore{
		chats: make(map[string]*chatEntry),
		open:  make(map[string]bool),
	}
}

// LoadSnapshot replaces the known chat metadata with the snapshot.
//
// For chats known on both sides the more recent lastMessage/updatedAt
// wins, so a slow snapshot never rolls back a message already pushed.
// Chats missing from the snapshot are dropped unless they were updated
// after the request was issued. Open chats always end with unread 0.
func (s *ChatStore) LoadSnapshot(snap models.Snapshot[models.Chat]) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]*chatEntry, len(snap.Items))

	for _, c := range snap.Items {
		entry := newChatEntry(c)

		if prev, ok := s.chats[c.ID]; ok {
			entry.messages = prev.messages
			entry.seen = prev.seen
			entry.lastRead = prev.lastRead

			if prev.chat.UpdatedAt.After(c.UpdatedAt) {
				entry.chat.LastMessage = prev.chat.LastMessage
				entry.chat.UpdatedAt = prev.chat.UpdatedAt
				entry.chat.UnreadCount = max(entry.chat.UnreadCount, prev.chat.UnreadCount)
			}
		}

		if s.open[c.ID] {
			entry.chat.UnreadCount = 0
		}

		next[c.ID] = entry
	}

	for id, prev := range s.chats {
		if _, ok := next[id]; ok {
			continue
		}

		if prev.chat.UpdatedAt.After(snap.RequestedAt) {
			next[id] = prev
		}
	}

	s.chats = next
}

// ApplyMessage appends msg to its chat. It returns false without touching
// anything when the message id was already seen in that chat.
func (s *ChatStore) ApplyMessage(msg models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.chats[msg.ChatID]
	if !ok {
		entry = newChatEntry(models.Chat{ID: msg.ChatID})
		entry.stub = true
		s.chats[msg.ChatID] = entry
	}

	if _, dup := entry.seen[msg.ID]; dup {
		return false
	}

	entry.seen[msg.ID] = struct{}{}

	idx := sort.Search(len(entry.messages), func(i int) bool {
		return entry.messages[i].CreatedAt.After(msg.CreatedAt)
	})
	entry.messages = append(entry.messages, models.Message{})
	copy(entry.messages[idx+1:], entry.messages[idx:])
	entry.messages[idx] = msg

	if !msg.CreatedAt.Before(entry.chat.UpdatedAt) {
		entry.chat.LastMessage = &models.LastMessage{Body: msg.Body, CreatedAt: msg.CreatedAt}
		entry.chat.UpdatedAt = msg.CreatedAt
	}

	if s.open[msg.ChatID] {
		entry.lastRead = maxTime(entry.lastRead, msg.CreatedAt)
	} else if msg.CreatedAt.After(entry.lastRead) {
		entry.chat.UnreadCount++
	}

	return true
}

// SetOpen records the external "chat viewed" signal. Opening a chat
// clears its unread count and moves the last-read marker to now.
func (s *ChatStore) SetOpen(chatID string, open bool, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !open {
		delete(s.open, chatID)
		return
	}

	s.open[chatID] = true

	if entry, ok := s.chats[chatID]; ok {
		entry.chat.UnreadCount = 0
		entry.lastRead = maxTime(now, entry.chat.UpdatedAt)
	}
}

// IsOpen reports whether the chat is currently marked open.
func (s *ChatStore) IsOpen(chatID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.open[chatID]
}

// Insert adds a chat if its id is unknown. Used by optimistic start-chat.
func (s *ChatStore) Insert(c models.Chat) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[c.ID]; ok {
		return false
	}

	s.chats[c.ID] = newChatEntry(c)

	return true
}

// Remap replaces a temporary chat id with the server-assigned chat. When
// the server chat is already known the temporary entry is dropped; an
// open marker carries over either way.
func (s *ChatStore) Remap(tempID string, c models.Chat) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, hadTemp := s.chats[tempID]
	delete(s.chats, tempID)

	if wasOpen := s.open[tempID]; wasOpen {
		delete(s.open, tempID)
		s.open[c.ID] = true
	}

	if existing, ok := s.chats[c.ID]; ok {
		if s.open[c.ID] {
			existing.chat.UnreadCount = 0
			existing.lastRead = maxTime(existing.lastRead, existing.chat.UpdatedAt)

			if hadTemp {
				existing.lastRead = maxTime(existing.lastRead, tmp.lastRead)
			}
		}

		return
	}

	entry := newChatEntry(c)
	if hadTemp {
		entry.messages = tmp.messages
		entry.seen = tmp.seen
		entry.lastRead = tmp.lastRead
	}

	if s.open[c.ID] {
		entry.chat.UnreadCount = 0
		entry.lastRead = maxTime(entry.lastRead, entry.chat.UpdatedAt)
	}

	s.chats[c.ID] = entry
}

// Remove deletes a chat and its open marker.
func (s *ChatStore) Remove(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.chats, chatID)
	delete(s.open, chatID)
}

// Get returns a copy of the chat.
func (s *ChatStore) Get(chatID string) (models.Chat, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.chats[chatID]
	if !ok {
		return models.Chat{}, false
	}

	return copyChat(entry.chat), true
}

// FindWith returns the chat whose participants include userID.
func (s *ChatStore) FindWith(userID string) (models.Chat, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, entry := range s.chats {
		if lo.ContainsBy(entry.chat.Participants, func(u models.User) bool { return u.ID == userID }) {
			return copyChat(entry.chat), true
		}
	}

	return models.Chat{}, false
}

// List returns all chats ordered by updatedAt descending, ties by id.
func (s *ChatStore) List() []models.Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := lo.MapToSlice(s.chats, func(_ string, e *chatEntry) models.Chat {
		return copyChat(e.chat)
	})

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}

		return out[i].ID < out[j].ID
	})

	return out
}

// Messages returns a copy of the chat's messages in createdAt order.
func (s *ChatStore) Messages(chatID string) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.chats[chatID]
	if !ok {
		return nil
	}

	out := make([]models.Message, len(entry.messages))
	copy(out, entry.messages)

	return out
}

// UnreadTotal sums unreadCount over all chats.
func (s *ChatStore) UnreadTotal() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return lo.SumBy(lo.Values(s.chats), func(e *chatEntry) int { return e.chat.UnreadCount })
}

// UnreadChats counts chats with at least one unread message.
func (s *ChatStore) UnreadChats() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return lo.CountBy(lo.Values(s.chats), func(e *chatEntry) bool { return e.chat.UnreadCount > 0 })
}

func copyChat(c models.Chat) models.Chat {
	c.Participants = append([]models.User(nil), c.Participants...)
	if c.LastMessage != nil {
		lm := *c.LastMessage
		c.LastMessage = &lm
	}

	return c
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}

	return b
}
