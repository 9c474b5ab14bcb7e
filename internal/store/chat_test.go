package store

import (
	"testing"
	"time"

	"github.com/alexjbarnes/social-sync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

func chat(id string, updated time.Time, unread int) models.Chat {
	return models.Chat{
		ID:           id,
		Participants: []models.User{{ID: "me", Username: "me"}, {ID: "u-" + id, Username: "user-" + id}},
		UpdatedAt:    updated,
		UnreadCount:  unread,
	}
}

func msg(id, chatID string, created time.Time) models.Message {
	return models.Message{ID: id, ChatID: chatID, SenderID: "u-" + chatID, Body: "body " + id, CreatedAt: created}
}

func chatSnap(requested time.Time, chats ...models.Chat) models.Snapshot[models.Chat] {
	return models.Snapshot[models.Chat]{Items: chats, RequestedAt: requested}
}

// --- ApplyMessage ---

func TestApplyMessage_AppendsAndCountsUnread(t *testing.T) {
	s := NewChatStore()
	s.LoadSnapshot(chatSnap(at(0), chat("c1", at(0), 0)))

	assert.True(t, s.ApplyMessage(msg("m1", "c1", at(10))))

	c, ok := s.Get("c1")
	require.True(t, ok)
	assert.Equal(t, 1, c.UnreadCount)
	assert.Equal(t, at(10), c.UpdatedAt)
	require.NotNil(t, c.LastMessage)
	assert.Equal(t, "body m1", c.LastMessage.Body)
}

func TestApplyMessage_DuplicateIsNoop(t *testing.T) {
	s := NewChatStore()
	s.LoadSnapshot(chatSnap(at(0), chat("c1", at(0), 0)))

	require.True(t, s.ApplyMessage(msg("m1", "c1", at(10))))
	assert.False(t, s.ApplyMessage(msg("m1", "c1", at(10))))

	c, _ := s.Get("c1")
	assert.Equal(t, 1, c.UnreadCount)
	assert.Len(t, s.Messages("c1"), 1)
}

func TestApplyMessage_OpenChatStaysRead(t *testing.T) {
	s := NewChatStore()
	s.LoadSnapshot(chatSnap(at(0), chat("c1", at(0), 3)))
	s.SetOpen("c1", true, at(1))

	s.ApplyMessage(msg("m1", "c1", at(10)))

	c, _ := s.Get("c1")
	assert.Equal(t, 0, c.UnreadCount)
	assert.True(t, s.IsOpen("c1"))
}

func TestApplyMessage_OutOfOrderKeepsNewestPreview(t *testing.T) {
	s := NewChatStore()
	s.LoadSnapshot(chatSnap(at(0), chat("c1", at(0), 0)))

	s.ApplyMessage(msg("m2", "c1", at(20)))
	s.ApplyMessage(msg("m1", "c1", at(10)))

	c, _ := s.Get("c1")
	assert.Equal(t, at(20), c.UpdatedAt)
	assert.Equal(t, "body m2", c.LastMessage.Body)

	msgs := s.Messages("c1")
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)
}

func TestApplyMessage_UnknownChatCreatesStub(t *testing.T) {
	s := NewChatStore()

	assert.True(t, s.ApplyMessage(msg("m1", "c9", at(5))))

	c, ok := s.Get("c9")
	require.True(t, ok)
	assert.Equal(t, 1, c.UnreadCount)
}

func TestApplyMessage_ReorderedList(t *testing.T) {
	s := NewChatStore()
	s.LoadSnapshot(chatSnap(at(0), chat("a", at(3), 0), chat("b", at(2), 0), chat("c", at(1), 0)))

	s.ApplyMessage(msg("m1", "c", at(10)))

	list := s.List()
	require.Len(t, list, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{list[0].ID, list[1].ID, list[2].ID})
}

// --- LoadSnapshot ---

func TestLoadSnapshot_OpenChatForcedToZero(t *testing.T) {
	s := NewChatStore()
	s.SetOpen("c1", true, at(0))
	s.LoadSnapshot(chatSnap(at(0), chat("c1", at(0), 7)))

	c, _ := s.Get("c1")
	assert.Equal(t, 0, c.UnreadCount)
}

func TestLoadSnapshot_NegativeUnreadClamped(t *testing.T) {
	s := NewChatStore()
	s.LoadSnapshot(chatSnap(at(0), chat("c1", at(0), -4)))

	c, _ := s.Get("c1")
	assert.Equal(t, 0, c.UnreadCount)
}

func TestLoadSnapshot_StaleSnapshotKeepsNewerMessage(t *testing.T) {
	s := NewChatStore()
	s.LoadSnapshot(chatSnap(at(0), chat("c1", at(0), 0)))
	s.ApplyMessage(msg("m1", "c1", at(30)))

	// Snapshot requested before the push landed still describes at(0).
	s.LoadSnapshot(chatSnap(at(5), chat("c1", at(0), 0)))

	c, _ := s.Get("c1")
	assert.Equal(t, at(30), c.UpdatedAt)
	assert.Equal(t, 1, c.UnreadCount)
	assert.Len(t, s.Messages("c1"), 1)
}

func TestLoadSnapshot_NewerSnapshotWins(t *testing.T) {
	s := NewChatStore()
	s.LoadSnapshot(chatSnap(at(0), chat("c1", at(0), 0)))

	fresh := chat("c1", at(50), 2)
	fresh.LastMessage = &models.LastMessage{Body: "later", CreatedAt: at(50)}
	s.LoadSnapshot(chatSnap(at(60), fresh))

	c, _ := s.Get("c1")
	assert.Equal(t, at(50), c.UpdatedAt)
	assert.Equal(t, 2, c.UnreadCount)
	assert.Equal(t, "later", c.LastMessage.Body)
}

func TestLoadSnapshot_DropsMissingUnlessPushedDuringFetch(t *testing.T) {
	s := NewChatStore()
	s.LoadSnapshot(chatSnap(at(0), chat("old", at(0), 0)))
	s.ApplyMessage(msg("m1", "pushed", at(20)))

	s.LoadSnapshot(chatSnap(at(10), chat("other", at(5), 0)))

	_, hasOld := s.Get("old")
	_, hasPushed := s.Get("pushed")
	_, hasOther := s.Get("other")
	assert.False(t, hasOld)
	assert.True(t, hasPushed)
	assert.True(t, hasOther)
}

func TestLoadSnapshot_DuplicateAfterSnapshotStillDeduped(t *testing.T) {
	s := NewChatStore()
	s.LoadSnapshot(chatSnap(at(0), chat("c1", at(0), 0)))
	s.ApplyMessage(msg("m1", "c1", at(10)))
	s.LoadSnapshot(chatSnap(at(20), chat("c1", at(10), 1)))

	assert.False(t, s.ApplyMessage(msg("m1", "c1", at(10))))
	c, _ := s.Get("c1")
	assert.Equal(t, 1, c.UnreadCount)
}

// --- Remap ---

func TestRemap_ReplacesTemporaryChat(t *testing.T) {
	s := NewChatStore()
	require.True(t, s.Insert(models.Chat{ID: "tmp-1", UpdatedAt: at(0)}))
	s.SetOpen("tmp-1", true, at(0))

	s.Remap("tmp-1", chat("c1", at(1), 4))

	_, hasTemp := s.Get("tmp-1")
	c, ok := s.Get("c1")
	assert.False(t, hasTemp)
	require.True(t, ok)
	assert.Equal(t, 0, c.UnreadCount, "open marker follows the remap")
	assert.True(t, s.IsOpen("c1"))
}

func TestRemap_ExistingServerChatKept(t *testing.T) {
	s := NewChatStore()
	s.LoadSnapshot(chatSnap(at(0), chat("c1", at(0), 2)))
	s.Insert(models.Chat{ID: "tmp-1"})

	s.Remap("tmp-1", chat("c1", at(0), 0))

	c, _ := s.Get("c1")
	assert.Equal(t, 2, c.UnreadCount)
	assert.Len(t, s.List(), 1)
}

func TestRemap_OpenTemporaryClearsKnownServerChat(t *testing.T) {
	s := NewChatStore()
	s.Insert(models.Chat{ID: "tmp-1"})
	s.SetOpen("tmp-1", true, at(1))

	// The snapshot lands before the server answers the start-chat call.
	s.LoadSnapshot(chatSnap(at(0), chat("c9", at(2), 3)))
	s.Remap("tmp-1", chat("c9", at(2), 0))

	assert.True(t, s.IsOpen("c9"))
	assert.False(t, s.IsOpen("tmp-1"))

	c, ok := s.Get("c9")
	require.True(t, ok)
	assert.Equal(t, 0, c.UnreadCount)
	assert.Equal(t, 0, s.UnreadTotal())

	// Messages up to the chat's last update count as read.
	assert.True(t, s.ApplyMessage(msg("m1", "c9", at(3))))
	c, _ = s.Get("c9")
	assert.Equal(t, 0, c.UnreadCount, "open chat stays at zero")
}

func TestFindWith(t *testing.T) {
	s := NewChatStore()
	s.LoadSnapshot(chatSnap(at(0), chat("c1", at(0), 0)))

	c, ok := s.FindWith("u-c1")
	require.True(t, ok)
	assert.Equal(t, "c1", c.ID)

	_, ok = s.FindWith("nobody")
	assert.False(t, ok)
}

// --- Aggregates ---

func TestUnreadTotalsNeverNegative(t *testing.T) {
	s := NewChatStore()
	s.LoadSnapshot(chatSnap(at(0), chat("a", at(0), 2), chat("b", at(0), 0)))

	s.ApplyMessage(msg("m1", "b", at(1)))
	s.SetOpen("a", true, at(2))
	s.SetOpen("a", false, at(3))
	s.ApplyMessage(msg("m1", "b", at(1)))

	for _, c := range s.List() {
		assert.GreaterOrEqual(t, c.UnreadCount, 0)
	}

	assert.Equal(t, 1, s.UnreadTotal())
	assert.Equal(t, 1, s.UnreadChats())
}

func TestGet_ReturnsCopy(t *testing.T) {
	s := NewChatStore()
	s.LoadSnapshot(chatSnap(at(0), chat("c1", at(0), 0)))
	s.ApplyMessage(msg("m1", "c1", at(1)))

	c, _ := s.Get("c1")
	c.Participants[0].Username = "mutated"
	c.LastMessage.Body = "mutated"

	again, _ := s.Get("c1")
	assert.Equal(t, "me", again.Participants[0].Username)
	assert.Equal(t, "body m1", again.LastMessage.Body)
}
