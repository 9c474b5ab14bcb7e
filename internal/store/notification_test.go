package store

import (
	"fmt"
	"testing"

	"github.com/alexjbarnes/social-sync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func note(id string, created int, read bool) models.Notification {
	return models.Notification{
		ID:        id,
		Type:      models.NotificationFriendRequest,
		SubjectID: "u-" + id,
		IsRead:    read,
		CreatedAt: at(created),
	}
}

func TestNotificationList_OrderedNewestFirst(t *testing.T) {
	s := NewNotificationStore()
	s.Insert(note("n1", 1, false))
	s.Insert(note("n3", 3, false))
	s.Insert(note("n2", 2, false))

	list := s.List()
	require.Len(t, list, 3)
	assert.Equal(t, []string{"n3", "n2", "n1"}, []string{list[0].ID, list[1].ID, list[2].ID})
}

func TestNotificationInsert_ReadIsMonotonic(t *testing.T) {
	s := NewNotificationStore()
	s.Insert(note("n1", 1, true))

	assert.False(t, s.Insert(note("n1", 1, false)))
	assert.Equal(t, 0, s.Unread())
}

func TestMarkAllRead_RaceWithNewNotification(t *testing.T) {
	s := NewNotificationStore()
	for i := 1; i <= 4; i++ {
		s.Insert(note(fmt.Sprintf("n%d", i), i, false))
	}

	tok := s.MarkAllRead()
	assert.Equal(t, 0, s.Unread())

	s.Insert(note("n5", 5, false))
	assert.Equal(t, 0, s.ConfirmRead(tok))

	assert.Equal(t, 1, s.Unread())
	assert.False(t, s.List()[0].IsRead, "n5 stays unread")
}

func TestMarkAllRead_TokensIncrease(t *testing.T) {
	s := NewNotificationStore()
	a := s.MarkAllRead()
	b := s.MarkAllRead()
	assert.Greater(t, b.ID, a.ID)
}

func TestConfirmRead_CoversEarlierInsertsReloadedUnread(t *testing.T) {
	s := NewNotificationStore()
	s.Insert(note("n1", 1, false))
	tok := s.MarkAllRead()

	// A stale snapshot still lists n1 as unread: OR-merge keeps it read.
	s.LoadSnapshot(models.Snapshot[models.Notification]{Items: []models.Notification{note("n1", 1, false)}, RequestedAt: at(2)})
	assert.Equal(t, 0, s.Unread())

	s.ConfirmRead(tok)
	assert.Equal(t, 0, s.Unread())
}

func TestNotificationLoadSnapshot_DropsMissingOld(t *testing.T) {
	s := NewNotificationStore()
	s.Insert(note("old", 1, false))
	s.Insert(note("fresh", 20, false))

	s.LoadSnapshot(models.Snapshot[models.Notification]{Items: []models.Notification{note("n9", 5, false)}, RequestedAt: at(10)})

	ids := []string{}
	for _, n := range s.List() {
		ids = append(ids, n.ID)
	}

	assert.Equal(t, []string{"fresh", "n9"}, ids)
}
