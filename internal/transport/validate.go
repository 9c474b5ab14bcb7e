package transport

import (
	"errors"
	"fmt"

	apperrors "github.com/alexjbarnes/social-sync/internal/errors"
	"github.com/alexjbarnes/social-sync/internal/models"
	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"
)

// validate is shared by the REST client and the event decoder. A
// validator caches struct metadata and is safe for concurrent use.
var validate = validator.New(validator.WithRequiredStructEnabled())

// validateBatch checks every item of a decoded collection. One invalid
// item fails the whole batch so a partial snapshot never reaches a store.
// fix, when set, normalises an item before validation and may reject it.
func validateBatch[T any](items []T, fix func(*T) error) ([]T, error) {
	out := make([]T, len(items))

	for i := range items {
		item := items[i]

		if fix != nil {
			if err := fix(&item); err != nil {
				return nil, fmt.Errorf("%w: item %d: %v", apperrors.ErrSnapshotDecode, i, err)
			}
		}

		if err := validate.Struct(item); err != nil {
			return nil, fmt.Errorf("%w: item %d: %v", apperrors.ErrSnapshotDecode, i, describeValidation(err))
		}

		out[i] = item
	}

	return out, nil
}

// describeValidation flattens validator errors into a short field list.
func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msg := ""

	for i, fe := range verrs {
		if i > 0 {
			msg += ", "
		}

		msg += fe.Namespace() + " failed " + fe.Tag()
	}

	return errors.New(msg)
}

func normalizeUser(u *models.User) error {
	u.Username = norm.NFC.String(u.Username)
	return nil
}

func normalizeChat(c *models.Chat) error {
	for i := range c.Participants {
		_ = normalizeUser(&c.Participants[i])
	}

	if c.LastMessage != nil {
		c.LastMessage.Body = norm.NFC.String(c.LastMessage.Body)
	}

	if c.UnreadCount < 0 {
		c.UnreadCount = 0
	}

	return nil
}

func normalizeMessage(m *models.Message) error {
	m.Body = norm.NFC.String(m.Body)
	return nil
}

// normalizeRequest is used for requests addressed to the session user,
// which must always name their sender.
func normalizeRequest(r *models.FriendRequest) error {
	if err := normalizeOutgoing(r); err != nil {
		return err
	}

	if r.Sender.ID == "" {
		return errors.New("request has no sender")
	}

	return nil
}

func normalizeOutgoing(r *models.FriendRequest) error {
	_ = normalizeUser(&r.Sender)
	_ = normalizeUser(&r.Recipient)

	if r.Recipient.ID == "" && r.Sender.ID == "" {
		return errors.New("request has no participants")
	}

	return nil
}
