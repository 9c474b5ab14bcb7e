//go:generate go run go.uber.org/mock/mockgen -source=api.go -destination=../mocks/mock_api.go -package=mocks

package social

import (
	"context"

	"github.com/alexjbarnes/social-sync/internal/models"
)

// API is the server surface the service talks to. *transport.Client
// satisfies it.
type API interface {
	ListChats(ctx context.Context) (models.Snapshot[models.Chat], error)
	ListFriends(ctx context.Context) (models.Snapshot[models.User], error)
	ListFriendRequests(ctx context.Context) (models.Snapshot[models.FriendRequest], error)
	ListNotifications(ctx context.Context) (models.Snapshot[models.Notification], error)
	ListOnlineFriends(ctx context.Context) (models.Snapshot[models.User], error)

	AcceptFriendRequest(ctx context.Context, id string) error
	DeclineFriendRequest(ctx context.Context, id string) error
	SendFriendRequest(ctx context.Context, recipientID string) (models.FriendRequest, error)
	ChatWith(ctx context.Context, userID string) (models.Chat, error)
	FindMatch(ctx context.Context) (models.Chat, error)
	MarkNotificationsRead(ctx context.Context) error
}
