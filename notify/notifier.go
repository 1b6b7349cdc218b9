// Package notify delivers fresh listings to the owner of a search.
package notify

import (
	"context"
	"errors"

	"wohnwatch/models"
)

// Notifier hands a batch of fresh listings to one recipient.
type Notifier interface {
	Notify(ctx context.Context, email string, listings []models.Listing) error
}

// Multi fans a batch out to several notifiers. Every notifier is tried; the errors of
// those that failed are joined.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, email string, listings []models.Listing) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, email, listings); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
