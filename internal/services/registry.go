package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/printfleet/fleetdir/internal/models"
	"github.com/printfleet/fleetdir/internal/repositories"
)

// ErrAlreadyOwned is returned by LinkPrinterToUser when the printer is
// already linked to a different user.
var ErrAlreadyOwned = errors.New("printer already owned by another user")

const (
	storeRetryAttempts = 3
	storeRetryBackoff  = 50 * time.Millisecond
)

// OwnershipRegistry guards the owner/owned relation between user and printer
// accounts. The store gives per-document atomicity only, so every two-sided
// mutation here either completes on both sides or surfaces a
// PartialFailureError naming the side that could not be updated. The
// registry holds no mutable state and is safe for concurrent use.
type OwnershipRegistry struct {
	store repositories.AccountStore
}

func NewOwnershipRegistry(store repositories.AccountStore) *OwnershipRegistry {
	return &OwnershipRegistry{store: store}
}

// ListOwnedBy returns the printer accounts owned by userID.
// Returns repositories.ErrNotFound when userID does not resolve to an
// existing user-kind account.
func (r *OwnershipRegistry) ListOwnedBy(ctx context.Context, userID string) ([]*models.Account, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id must not be empty", ErrInvalidArgument)
	}

	user, err := r.store.GetByID(ctx, userID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, repositories.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if user.Kind != models.KindUser {
		return nil, repositories.ErrNotFound
	}

	printers, err := r.store.Find(ctx, repositories.AccountFilter{
		Kind:    models.KindPrinter,
		OwnerID: &userID,
	}, repositories.FindOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return printers, nil
}

// UnlinkPrinterFromUser severs the ownerID↔printerID link. Both sides are
// updated: printerID is pulled from the owner's set and the printer's owner
// reference is cleared (to NULL, never a placeholder id). Unlinking an
// already-unowned printer is a successful no-op. Returns
// repositories.ErrNotFound when neither document exists, and a
// *PartialFailureError when one side could not be updated after retrying.
func (r *OwnershipRegistry) UnlinkPrinterFromUser(ctx context.Context, ownerID, printerID string) error {
	if ownerID == "" || printerID == "" {
		return fmt.Errorf("%w: owner and printer ids must not be empty", ErrInvalidArgument)
	}

	var ownerModified int64
	err := r.retry(ctx, func() error {
		var opErr error
		ownerModified, opErr = r.store.UpdateFields(ctx, ownerID, repositories.FieldPatch{
			PullOwnedID: printerID,
		})
		return opErr
	})
	if err != nil {
		// Nothing changed yet; state is still consistent.
		return &PartialFailureError{Side: SideOwner, Err: err}
	}

	// The owner side is done. From here on the printer side must be brought
	// in line before this call may report success.
	var printerModified int64
	err = r.retry(ctx, func() error {
		var opErr error
		printerModified, opErr = r.store.UpdateFields(ctx, printerID, repositories.FieldPatch{
			ClearOwnerMatching: ownerID,
		})
		return opErr
	})
	if err != nil {
		return &PartialFailureError{Side: SidePrinter, Err: err}
	}

	if ownerModified == 0 && printerModified == 0 {
		// Neither document changed: either both already reflect the unlinked
		// state, or they don't exist at all.
		_, ownerErr := r.store.GetByID(ctx, ownerID)
		_, printerErr := r.store.GetByID(ctx, printerID)
		if errors.Is(ownerErr, repositories.ErrNotFound) && errors.Is(printerErr, repositories.ErrNotFound) {
			return repositories.ErrNotFound
		}
		for _, readErr := range []error{ownerErr, printerErr} {
			if readErr != nil && !errors.Is(readErr, repositories.ErrNotFound) {
				return fmt.Errorf("%w: %v", ErrStoreUnavailable, readErr)
			}
		}
	}
	return nil
}

// LinkPrinterToUser establishes the owner↔owned relation. The printer side
// is claimed first; a printer already linked to a different user yields
// ErrAlreadyOwned. Re-linking an existing pair is a successful no-op.
func (r *OwnershipRegistry) LinkPrinterToUser(ctx context.Context, ownerID, printerID string) error {
	if ownerID == "" || printerID == "" {
		return fmt.Errorf("%w: owner and printer ids must not be empty", ErrInvalidArgument)
	}

	owner, err := r.store.GetByID(ctx, ownerID)
	if errors.Is(err, repositories.ErrNotFound) {
		return repositories.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if owner.Kind != models.KindUser {
		return fmt.Errorf("%w: account %s is not a user", ErrInvalidArgument, ownerID)
	}

	printer, err := r.store.GetByID(ctx, printerID)
	if errors.Is(err, repositories.ErrNotFound) {
		return repositories.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if printer.Kind != models.KindPrinter {
		return fmt.Errorf("%w: account %s is not a printer", ErrInvalidArgument, printerID)
	}

	var printerModified int64
	err = r.retry(ctx, func() error {
		var opErr error
		printerModified, opErr = r.store.UpdateFields(ctx, printerID, repositories.FieldPatch{
			ClaimOwner: &ownerID,
		})
		return opErr
	})
	if err != nil {
		return &PartialFailureError{Side: SidePrinter, Err: err}
	}
	if printerModified == 0 {
		// The claim guard rejected the write: someone else owns it.
		return ErrAlreadyOwned
	}

	err = r.retry(ctx, func() error {
		_, opErr := r.store.UpdateFields(ctx, ownerID, repositories.FieldPatch{
			AddOwnedID: printerID,
		})
		return opErr
	})
	if err != nil {
		return &PartialFailureError{Side: SideOwner, Err: err}
	}
	return nil
}

// RemovePrinter deletes the printer account. When the printer has an owner,
// the owner's set is updated first so the deletion never leaves a dangling
// reference behind. Returns repositories.ErrNotFound when the printer does
// not exist (including a concurrent removal).
func (r *OwnershipRegistry) RemovePrinter(ctx context.Context, printerID string) error {
	if printerID == "" {
		return fmt.Errorf("%w: printer id must not be empty", ErrInvalidArgument)
	}

	printer, err := r.store.GetByID(ctx, printerID)
	if errors.Is(err, repositories.ErrNotFound) {
		return repositories.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if printer.Kind != models.KindPrinter {
		return fmt.Errorf("%w: account %s is not a printer", ErrInvalidArgument, printerID)
	}

	if printer.OwnerID != nil {
		ownerID := *printer.OwnerID
		err = r.retry(ctx, func() error {
			_, opErr := r.store.UpdateFields(ctx, ownerID, repositories.FieldPatch{
				PullOwnedID: printerID,
			})
			return opErr
		})
		if err != nil {
			// Deleting now would leave the owner pointing at a ghost; stop
			// before the destructive half.
			return &PartialFailureError{Side: SideOwner, Err: err}
		}
	}

	var deleted int64
	err = r.retry(ctx, func() error {
		var opErr error
		deleted, opErr = r.store.DeleteByID(ctx, printerID)
		return opErr
	})
	if err != nil {
		return &PartialFailureError{Side: SidePrinter, Err: err}
	}
	if deleted == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

// retry runs op up to storeRetryAttempts times with linear backoff,
// honouring context cancellation between attempts.
func (r *OwnershipRegistry) retry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt < storeRetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * storeRetryBackoff):
			}
		}
		if err = op(); err == nil {
			return nil
		}
	}
	return err
}
