package repositories

import (
	"context"
	"errors"

	"github.com/printfleet/fleetdir/internal/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// AccountFilter is an equality/membership predicate over account fields.
// Zero-valued fields are not applied.
type AccountFilter struct {
	Kind         models.AccountKind
	OwnerID      *string
	Status       models.PresenceStatus
	NameContains string // case-insensitive substring match on Name
	IDs          []string
}

const OrderByName = "name"

// FindOptions tunes a Find call. With an empty OrderBy results come back in
// insertion order.
type FindOptions struct {
	OrderBy string
	Limit   int
	Skip    int
}

// FieldPatch is a single-document set/unset/pull mutation. Exactly the
// non-zero fields are applied, together, atomically.
type FieldPatch struct {
	SetName    *string
	SetIsAdmin *bool

	// ClaimOwner points the printer at the given owner, but only when the
	// printer is currently unowned or already owned by that same account.
	ClaimOwner *string

	// ClearOwnerMatching unsets OwnerID, but only when it currently equals
	// the given id. "No owner" is NULL, never a placeholder id.
	ClearOwnerMatching string

	AddOwnedID  string // add to the OwnedIDs set (no-op when present)
	PullOwnedID string // remove from the OwnedIDs set (no-op when absent)
}

// IsZero reports whether the patch would change nothing.
func (p FieldPatch) IsZero() bool {
	return p.SetName == nil && p.SetIsAdmin == nil && p.ClaimOwner == nil &&
		p.ClearOwnerMatching == "" && p.AddOwnedID == "" && p.PullOwnedID == ""
}

// AccountStore is durable keyed storage of Account records. Every operation
// is atomic at single-document granularity; nothing here spans documents.
// Mutations report how many documents actually changed (0 or 1) so callers
// can distinguish a no-op from a hit without a second read.
type AccountStore interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
	Find(ctx context.Context, filter AccountFilter, opts FindOptions) ([]*models.Account, error)
	Insert(ctx context.Context, account *models.Account) error
	UpdateFields(ctx context.Context, id string, patch FieldPatch) (int64, error)

	// SetPresenceIfNewer replaces the presence sub-record only when
	// presence.UpdatedAt is not older than the stored one. The comparison and
	// the write are a single atomic step; returns 0 when the guard rejects
	// the update or the account does not exist.
	SetPresenceIfNewer(ctx context.Context, id string, presence models.Presence) (int64, error)

	DeleteByID(ctx context.Context, id string) (int64, error)
}
