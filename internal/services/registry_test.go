package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/printfleet/fleetdir/internal/models"
	"github.com/printfleet/fleetdir/internal/repositories"
	"github.com/printfleet/fleetdir/internal/seed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seededStore returns a memory store loaded with the example directory:
// user 1 owns printers 2/6/7, user 5 owns printer 4, user 3 is an admin.
func seededStore(t *testing.T) *repositories.MemoryAccountStore {
	t.Helper()
	store := repositories.NewMemoryAccountStore()
	require.NoError(t, seed.Apply(context.Background(), store, "srv-test"))
	return store
}

// assertSymmetric scans the whole directory and fails if any ownership link
// is only recorded on one side.
func assertSymmetric(t *testing.T, store repositories.AccountStore) {
	t.Helper()
	ctx := context.Background()

	accounts, err := store.Find(ctx, repositories.AccountFilter{}, repositories.FindOptions{})
	require.NoError(t, err)

	byID := make(map[string]*models.Account, len(accounts))
	for _, account := range accounts {
		byID[account.ID] = account
	}

	for _, account := range accounts {
		if account.Kind == models.KindPrinter && account.OwnerID != nil {
			owner, ok := byID[*account.OwnerID]
			require.True(t, ok, "printer %s references missing owner %s", account.ID, *account.OwnerID)
			assert.True(t, owner.Owns(account.ID),
				"owner %s does not list printer %s", owner.ID, account.ID)
		}
		if account.Kind == models.KindUser {
			for _, printerID := range account.OwnedIDs {
				printer, ok := byID[printerID]
				require.True(t, ok, "user %s lists missing printer %s", account.ID, printerID)
				require.NotNil(t, printer.OwnerID,
					"printer %s is listed by user %s but has no owner", printerID, account.ID)
				assert.Equal(t, account.ID, *printer.OwnerID)
			}
		}
	}
}

func TestRegistry_Unlink_Scenario(t *testing.T) {
	store := seededStore(t)
	registry := NewOwnershipRegistry(store)
	ctx := context.Background()

	// ACT: unlink printer 6 from user 1
	err := registry.UnlinkPrinterFromUser(ctx, "1", "6")
	require.NoError(t, err)

	// User 1 keeps only printers 2 and 7
	printers, err := registry.ListOwnedBy(ctx, "1")
	require.NoError(t, err)
	ids := make([]string, 0, len(printers))
	for _, p := range printers {
		ids = append(ids, p.ID)
	}
	assert.ElementsMatch(t, []string{"2", "7"}, ids)

	// Printer 6 is unowned now, not pointed at a placeholder
	printer, err := store.GetByID(ctx, "6")
	require.NoError(t, err)
	assert.Nil(t, printer.OwnerID)

	assertSymmetric(t, store)
}

func TestRegistry_Unlink_Idempotent(t *testing.T) {
	store := seededStore(t)
	registry := NewOwnershipRegistry(store)
	ctx := context.Background()

	require.NoError(t, registry.UnlinkPrinterFromUser(ctx, "1", "6"))

	after, err := store.Find(ctx, repositories.AccountFilter{}, repositories.FindOptions{})
	require.NoError(t, err)

	// Second call observes the already-unlinked state and still succeeds
	require.NoError(t, registry.UnlinkPrinterFromUser(ctx, "1", "6"))

	again, err := store.Find(ctx, repositories.AccountFilter{}, repositories.FindOptions{})
	require.NoError(t, err)
	assert.Equal(t, after, again, "second unlink must not change any account")
	assertSymmetric(t, store)
}

func TestRegistry_Unlink_UnownedPrinterIsNoOp(t *testing.T) {
	store := seededStore(t)
	registry := NewOwnershipRegistry(store)
	ctx := context.Background()

	// Printer owned by someone else entirely: both sides are no-ops and the
	// foreign link must survive.
	require.NoError(t, registry.UnlinkPrinterFromUser(ctx, "1", "4"))

	printer, err := store.GetByID(ctx, "4")
	require.NoError(t, err)
	require.NotNil(t, printer.OwnerID)
	assert.Equal(t, "5", *printer.OwnerID)
	assertSymmetric(t, store)
}

func TestRegistry_Unlink_NeitherExists(t *testing.T) {
	store := seededStore(t)
	registry := NewOwnershipRegistry(store)

	err := registry.UnlinkPrinterFromUser(context.Background(), "missing-user", "missing-printer")
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestRegistry_Unlink_EmptyIDs(t *testing.T) {
	registry := NewOwnershipRegistry(seededStore(t))

	assert.ErrorIs(t, registry.UnlinkPrinterFromUser(context.Background(), "", "6"), ErrInvalidArgument)
	assert.ErrorIs(t, registry.UnlinkPrinterFromUser(context.Background(), "1", ""), ErrInvalidArgument)
}

func TestRegistry_Unlink_PrinterSidePartialFailure(t *testing.T) {
	store := seededStore(t)
	flaky := &flakyStore{AccountStore: store, failUpdatesFor: map[string]int{"6": 10}}
	registry := NewOwnershipRegistry(flaky)
	ctx := context.Background()

	err := registry.UnlinkPrinterFromUser(ctx, "1", "6")

	var partial *PartialFailureError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, SidePrinter, partial.Side, "failed side must be named for reconciliation")

	// The owner side did change; a later retry against a healthy store must
	// converge instead of erroring.
	flaky.failUpdatesFor = nil
	require.NoError(t, registry.UnlinkPrinterFromUser(ctx, "1", "6"))
	assertSymmetric(t, store)
}

func TestRegistry_Unlink_RetriesTransientPrinterFailure(t *testing.T) {
	store := seededStore(t)
	flaky := &flakyStore{AccountStore: store, failUpdatesFor: map[string]int{"6": 1}}
	registry := NewOwnershipRegistry(flaky)

	// A single transient failure is absorbed by the bounded retry.
	require.NoError(t, registry.UnlinkPrinterFromUser(context.Background(), "1", "6"))
	assertSymmetric(t, store)
}

func TestRegistry_RemovePrinter_CascadesOwnerSide(t *testing.T) {
	store := seededStore(t)
	registry := NewOwnershipRegistry(store)
	ctx := context.Background()

	require.NoError(t, registry.RemovePrinter(ctx, "4"))

	_, err := store.GetByID(ctx, "4")
	assert.ErrorIs(t, err, repositories.ErrNotFound)

	owner, err := store.GetByID(ctx, "5")
	require.NoError(t, err)
	assert.False(t, owner.Owns("4"), "owner must not keep a dangling reference")
	assertSymmetric(t, store)
}

func TestRegistry_RemovePrinter_Unowned(t *testing.T) {
	store := seededStore(t)
	registry := NewOwnershipRegistry(store)
	ctx := context.Background()

	require.NoError(t, registry.UnlinkPrinterFromUser(ctx, "1", "7"))
	require.NoError(t, registry.RemovePrinter(ctx, "7"))

	_, err := store.GetByID(ctx, "7")
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestRegistry_RemovePrinter_AlreadyRemoved(t *testing.T) {
	store := seededStore(t)
	registry := NewOwnershipRegistry(store)
	ctx := context.Background()

	require.NoError(t, registry.RemovePrinter(ctx, "4"))
	assert.ErrorIs(t, registry.RemovePrinter(ctx, "4"), repositories.ErrNotFound)
}

func TestRegistry_RemovePrinter_RejectsUserAccount(t *testing.T) {
	registry := NewOwnershipRegistry(seededStore(t))

	assert.ErrorIs(t, registry.RemovePrinter(context.Background(), "1"), ErrInvalidArgument)
}

func TestRegistry_RemovePrinter_OwnerSideFailureAbortsDelete(t *testing.T) {
	store := seededStore(t)
	flaky := &flakyStore{AccountStore: store, failUpdatesFor: map[string]int{"5": 10}}
	registry := NewOwnershipRegistry(flaky)
	ctx := context.Background()

	err := registry.RemovePrinter(ctx, "4")

	var partial *PartialFailureError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, SideOwner, partial.Side)

	// The destructive half never ran, so nothing dangles.
	_, getErr := store.GetByID(ctx, "4")
	require.NoError(t, getErr)
	assertSymmetric(t, store)
}

func TestRegistry_ListOwnedBy(t *testing.T) {
	registry := NewOwnershipRegistry(seededStore(t))
	ctx := context.Background()

	printers, err := registry.ListOwnedBy(ctx, "1")
	require.NoError(t, err)
	ids := make([]string, 0, len(printers))
	for _, p := range printers {
		ids = append(ids, p.ID)
	}
	assert.ElementsMatch(t, []string{"2", "6", "7"}, ids)

	// Unknown id and printer-kind ids both fail the user resolution
	_, err = registry.ListOwnedBy(ctx, "missing")
	assert.ErrorIs(t, err, repositories.ErrNotFound)
	_, err = registry.ListOwnedBy(ctx, "2")
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestRegistry_LinkPrinterToUser(t *testing.T) {
	store := seededStore(t)
	registry := NewOwnershipRegistry(store)
	ctx := context.Background()

	require.NoError(t, registry.UnlinkPrinterFromUser(ctx, "1", "6"))
	require.NoError(t, registry.LinkPrinterToUser(ctx, "5", "6"))

	printer, err := store.GetByID(ctx, "6")
	require.NoError(t, err)
	require.NotNil(t, printer.OwnerID)
	assert.Equal(t, "5", *printer.OwnerID)
	assertSymmetric(t, store)

	// Re-linking the same pair is a no-op success
	require.NoError(t, registry.LinkPrinterToUser(ctx, "5", "6"))
	assertSymmetric(t, store)

	// Claiming a printer someone else owns is refused
	assert.ErrorIs(t, registry.LinkPrinterToUser(ctx, "1", "6"), ErrAlreadyOwned)

	// Kind mismatches are invalid
	assert.ErrorIs(t, registry.LinkPrinterToUser(ctx, "2", "6"), ErrInvalidArgument)
	assert.ErrorIs(t, registry.LinkPrinterToUser(ctx, "5", "1"), ErrInvalidArgument)
}

func TestRegistry_SymmetryAcrossOperationSequence(t *testing.T) {
	store := seededStore(t)
	registry := NewOwnershipRegistry(store)
	ctx := context.Background()

	steps := []func() error{
		func() error { return registry.UnlinkPrinterFromUser(ctx, "1", "2") },
		func() error { return registry.LinkPrinterToUser(ctx, "5", "2") },
		func() error { return registry.RemovePrinter(ctx, "2") },
		func() error { return registry.UnlinkPrinterFromUser(ctx, "1", "6") },
		func() error { return registry.RemovePrinter(ctx, "4") },
		func() error { return registry.UnlinkPrinterFromUser(ctx, "1", "7") },
	}
	for i, step := range steps {
		require.NoError(t, step(), "step %d", i)
		assertSymmetric(t, store)
	}
}

// flakyStore wraps an AccountStore, failing UpdateFields for chosen ids a
// configured number of times to exercise the compensation path.
type flakyStore struct {
	repositories.AccountStore
	failUpdatesFor map[string]int
}

var errInjected = errors.New("injected store failure")

func (s *flakyStore) UpdateFields(ctx context.Context, id string, patch repositories.FieldPatch) (int64, error) {
	if remaining, ok := s.failUpdatesFor[id]; ok && remaining > 0 {
		s.failUpdatesFor[id] = remaining - 1
		return 0, errInjected
	}
	return s.AccountStore.UpdateFields(ctx, id, patch)
}

func TestRegistry_RetryHonoursContextCancellation(t *testing.T) {
	store := seededStore(t)
	flaky := &flakyStore{AccountStore: store, failUpdatesFor: map[string]int{"1": 10}}
	registry := NewOwnershipRegistry(flaky)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := registry.UnlinkPrinterFromUser(ctx, "1", "6")
	var partial *PartialFailureError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, SideOwner, partial.Side)
}
