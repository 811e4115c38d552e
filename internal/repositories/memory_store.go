package repositories

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/printfleet/fleetdir/internal/models"
)

// MemoryAccountStore is a mutex-guarded in-memory AccountStore with the same
// observable semantics as the Postgres store: per-document atomicity,
// insertion-ordered Find, and modified counts that report actual changes.
// It backs the test suite and the example-data demo mode.
type MemoryAccountStore struct {
	mu       sync.RWMutex
	accounts map[string]*models.Account
	order    []string
}

func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{
		accounts: make(map[string]*models.Account),
	}
}

func (s *MemoryAccountStore) GetByID(ctx context.Context, id string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return account.Clone(), nil
}

func (s *MemoryAccountStore) Find(ctx context.Context, filter AccountFilter, opts FindOptions) ([]*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.Account
	for _, id := range s.order {
		account := s.accounts[id]
		if matchesFilter(account, filter) {
			matched = append(matched, account.Clone())
		}
	}

	if opts.OrderBy == OrderByName {
		sort.SliceStable(matched, func(i, j int) bool {
			if matched[i].Name != matched[j].Name {
				return matched[i].Name < matched[j].Name
			}
			return matched[i].ID < matched[j].ID
		})
	}
	if opts.Skip > 0 {
		if opts.Skip >= len(matched) {
			return nil, nil
		}
		matched = matched[opts.Skip:]
	}
	if opts.Limit > 0 && opts.Limit < len(matched) {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}

func (s *MemoryAccountStore) Insert(ctx context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[account.ID]; ok {
		return ErrAlreadyExists
	}
	s.accounts[account.ID] = account.Clone()
	s.order = append(s.order, account.ID)
	return nil
}

func (s *MemoryAccountStore) UpdateFields(ctx context.Context, id string, patch FieldPatch) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[id]
	if !ok || patch.IsZero() {
		return 0, nil
	}

	changed := false
	if patch.SetName != nil && account.Name != *patch.SetName {
		account.Name = *patch.SetName
		changed = true
	}
	if patch.SetIsAdmin != nil && account.IsAdmin != *patch.SetIsAdmin {
		account.IsAdmin = *patch.SetIsAdmin
		changed = true
	}
	if patch.ClaimOwner != nil {
		if account.OwnerID == nil || *account.OwnerID == *patch.ClaimOwner {
			owner := *patch.ClaimOwner
			account.OwnerID = &owner
			changed = true
		}
	}
	if patch.ClearOwnerMatching != "" &&
		account.OwnerID != nil && *account.OwnerID == patch.ClearOwnerMatching {
		account.OwnerID = nil
		changed = true
	}
	if patch.AddOwnedID != "" && !account.Owns(patch.AddOwnedID) {
		account.OwnedIDs = append(account.OwnedIDs, patch.AddOwnedID)
		changed = true
	}
	if patch.PullOwnedID != "" && account.Owns(patch.PullOwnedID) {
		kept := account.OwnedIDs[:0]
		for _, owned := range account.OwnedIDs {
			if owned != patch.PullOwnedID {
				kept = append(kept, owned)
			}
		}
		account.OwnedIDs = kept
		changed = true
	}

	if !changed {
		return 0, nil
	}
	return 1, nil
}

func (s *MemoryAccountStore) SetPresenceIfNewer(ctx context.Context, id string, presence models.Presence) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[id]
	if !ok {
		return 0, nil
	}
	if presence.UpdatedAt.Before(account.Presence.UpdatedAt) {
		return 0, nil
	}
	account.Presence = presence
	if presence.HTTPHeader != nil {
		account.Presence.HTTPHeader = make(map[string]string, len(presence.HTTPHeader))
		for k, v := range presence.HTTPHeader {
			account.Presence.HTTPHeader[k] = v
		}
	}
	return 1, nil
}

func (s *MemoryAccountStore) DeleteByID(ctx context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[id]; !ok {
		return 0, nil
	}
	delete(s.accounts, id)
	for i, ordered := range s.order {
		if ordered == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return 1, nil
}

func matchesFilter(account *models.Account, filter AccountFilter) bool {
	if filter.Kind != "" && account.Kind != filter.Kind {
		return false
	}
	if filter.OwnerID != nil {
		if account.OwnerID == nil || *account.OwnerID != *filter.OwnerID {
			return false
		}
	}
	if filter.Status != "" && account.Presence.Status != filter.Status {
		return false
	}
	if filter.NameContains != "" &&
		!strings.Contains(strings.ToLower(account.Name), strings.ToLower(filter.NameContains)) {
		return false
	}
	if len(filter.IDs) > 0 {
		found := false
		for _, id := range filter.IDs {
			if id == account.ID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
