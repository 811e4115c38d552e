package services

import (
	"context"
	"fmt"

	"github.com/printfleet/fleetdir/internal/models"
	"github.com/printfleet/fleetdir/internal/repositories"
)

// statusFilterAll disables status narrowing, matching the UI's "all" option.
const statusFilterAll = "all"

// QueryFacade is the read-only projection layer: everything here is built on
// plain account store reads and never mutates anything.
type QueryFacade struct {
	store repositories.AccountStore
}

func NewQueryFacade(store repositories.AccountStore) *QueryFacade {
	return &QueryFacade{store: store}
}

// ListVisiblePrinters returns the printers the caller may see: all of them
// for admins, only the caller's own otherwise. The optional status filter
// and case-insensitive name search narrow the result as an intersection.
// Results come back in insertion order.
func (q *QueryFacade) ListVisiblePrinters(ctx context.Context, callerID string, isAdmin bool, statusFilter, searchText string) ([]*models.Account, error) {
	filter := repositories.AccountFilter{Kind: models.KindPrinter}

	if !isAdmin {
		if callerID == "" {
			return nil, fmt.Errorf("%w: caller id must not be empty", ErrInvalidArgument)
		}
		filter.OwnerID = &callerID
	}

	if statusFilter != "" && statusFilter != statusFilterAll {
		status := models.PresenceStatus(statusFilter)
		if status != models.StatusOnline && status != models.StatusOffline {
			return nil, fmt.Errorf("%w: unknown presence status %q", ErrInvalidArgument, statusFilter)
		}
		filter.Status = status
	}
	filter.NameContains = searchText

	printers, err := q.store.Find(ctx, filter, repositories.FindOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return printers, nil
}

// ListVisibleUsers returns every user-kind account for admins. Non-admins
// never enumerate other users and get an empty result.
func (q *QueryFacade) ListVisibleUsers(ctx context.Context, isAdmin bool) ([]*models.Account, error) {
	if !isAdmin {
		return nil, nil
	}

	users, err := q.store.Find(ctx, repositories.AccountFilter{Kind: models.KindUser}, repositories.FindOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return users, nil
}

// ListAllAccounts is the full directory dump used by the admin console.
// Non-admins get an empty result.
func (q *QueryFacade) ListAllAccounts(ctx context.Context, isAdmin bool) ([]*models.Account, error) {
	if !isAdmin {
		return nil, nil
	}

	accounts, err := q.store.Find(ctx, repositories.AccountFilter{}, repositories.FindOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return accounts, nil
}

// GetAccount looks up a single account. Callers may read any account they
// can name; field-level visibility is the API layer's concern.
func (q *QueryFacade) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: account id must not be empty", ErrInvalidArgument)
	}
	return q.store.GetByID(ctx, id)
}
