// Package seed provisions the example directory used by the demo mode and
// the test suite: three users and four printers with the ownership links
// User A → {Printer A, C, D} and User B → {Printer B}.
package seed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/printfleet/fleetdir/internal/models"
	"github.com/printfleet/fleetdir/internal/repositories"
)

func owner(id string) *string {
	return &id
}

// ExampleAccounts returns a fresh copy of the example dataset. All presence
// records share the given timestamp and server id.
func ExampleAccounts(now time.Time, serverID string) []*models.Account {
	online := models.Presence{UpdatedAt: now, ServerID: serverID, Status: models.StatusOnline}
	offline := models.Presence{UpdatedAt: now, ServerID: serverID, Status: models.StatusOffline}

	return []*models.Account{
		{ID: "1", Kind: models.KindUser, Name: "User A", OwnedIDs: []string{"2", "6", "7"}, Presence: online},
		{ID: "2", Kind: models.KindPrinter, Name: "Printer A", OwnerID: owner("1"), Presence: online},
		{ID: "3", Kind: models.KindUser, Name: "User C", IsAdmin: true, Presence: online},
		{ID: "4", Kind: models.KindPrinter, Name: "Printer B", OwnerID: owner("5"), Presence: offline},
		{ID: "5", Kind: models.KindUser, Name: "User B", OwnedIDs: []string{"4"}, Presence: online},
		{ID: "6", Kind: models.KindPrinter, Name: "Printer C", OwnerID: owner("1"), Presence: online},
		{ID: "7", Kind: models.KindPrinter, Name: "Printer D", OwnerID: owner("1"), Presence: online},
	}
}

// Apply inserts the example accounts into the store, skipping any id that
// already exists so re-running at startup is harmless.
func Apply(ctx context.Context, store repositories.AccountStore, serverID string) error {
	now := time.Now().UTC()
	for _, account := range ExampleAccounts(now, serverID) {
		err := store.Insert(ctx, account)
		if errors.Is(err, repositories.ErrAlreadyExists) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to seed account %s: %w", account.ID, err)
		}
	}
	return nil
}
