package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/printfleet/fleetdir/internal/models"
	"github.com/printfleet/fleetdir/internal/repositories"
)

// PresenceCache is the optional fast-read layer for presence snapshots.
// Implemented by repositories.RedisPresenceCache.
type PresenceCache interface {
	Set(ctx context.Context, accountID string, presence models.Presence) error
	Delete(ctx context.Context, accountID string) error
}

// PresenceUpdate is one heartbeat-style report from a connected client.
type PresenceUpdate struct {
	Status        models.PresenceStatus
	ServerID      string
	ClientAddress string
	HTTPHeader    map[string]string
	Timestamp     time.Time
}

// PresenceTracker validates and applies presence updates. Timestamps are
// monotonic per account: an update older than the stored one is rejected
// with ErrStalePresence and leaves the record untouched. Persistence is
// delegated to the account store; the cache is best-effort only.
type PresenceTracker struct {
	store repositories.AccountStore
	cache PresenceCache // may be nil
}

func NewPresenceTracker(store repositories.AccountStore, cache PresenceCache) *PresenceTracker {
	return &PresenceTracker{store: store, cache: cache}
}

// ApplyUpdate replaces the account's presence sub-record and returns the
// refreshed account.
func (t *PresenceTracker) ApplyUpdate(ctx context.Context, accountID string, update PresenceUpdate) (*models.Account, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: account id must not be empty", ErrInvalidArgument)
	}
	if update.ServerID == "" {
		return nil, fmt.Errorf("%w: server id must not be empty", ErrInvalidArgument)
	}
	if update.Status != models.StatusOnline && update.Status != models.StatusOffline {
		return nil, fmt.Errorf("%w: unknown presence status %q", ErrInvalidArgument, update.Status)
	}
	if update.Timestamp.IsZero() {
		return nil, fmt.Errorf("%w: presence timestamp must be set", ErrInvalidArgument)
	}

	presence := models.Presence{
		UpdatedAt:     update.Timestamp,
		ServerID:      update.ServerID,
		ClientAddress: update.ClientAddress,
		HTTPHeader:    update.HTTPHeader,
		Status:        update.Status,
	}

	modified, err := t.store.SetPresenceIfNewer(ctx, accountID, presence)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if modified == 0 {
		// Either the account is gone or the guard rejected a stale update.
		_, getErr := t.store.GetByID(ctx, accountID)
		if errors.Is(getErr, repositories.ErrNotFound) {
			return nil, repositories.ErrNotFound
		}
		if getErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, getErr)
		}
		return nil, fmt.Errorf("%w: update at %s is older than the stored presence",
			ErrStalePresence, update.Timestamp.Format(time.RFC3339))
	}

	account, err := t.store.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if t.cache != nil {
		if err := t.cache.Set(ctx, accountID, account.Presence); err != nil {
			log.Printf("presence cache update failed for account %s: %v", accountID, err)
		}
	}
	return account, nil
}

// ForgetPresence drops the cached snapshot for an account, typically after
// the account itself was removed.
func (t *PresenceTracker) ForgetPresence(ctx context.Context, accountID string) {
	if t.cache == nil {
		return
	}
	if err := t.cache.Delete(ctx, accountID); err != nil {
		log.Printf("presence cache delete failed for account %s: %v", accountID, err)
	}
}
