package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/printfleet/fleetdir/internal/models"
)

const accountColumns = `id, kind, name, is_admin, owner_id, owned_ids,
	presence_updated_at, presence_server_id, presence_client_address,
	presence_http_header, presence_status`

type PostgresAccountStore struct {
	pool *pgxpool.Pool
}

func NewPostgresAccountStore(pool *pgxpool.Pool) *PostgresAccountStore {
	return &PostgresAccountStore{pool: pool}
}

func (s *PostgresAccountStore) GetByID(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	account, err := scanAccount(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

func (s *PostgresAccountStore) Find(ctx context.Context, filter AccountFilter, opts FindOptions) ([]*models.Account, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Kind != "" {
		where = append(where, "kind = "+arg(filter.Kind))
	}
	if filter.OwnerID != nil {
		where = append(where, "owner_id = "+arg(*filter.OwnerID))
	}
	if filter.Status != "" {
		where = append(where, "presence_status = "+arg(filter.Status))
	}
	if filter.NameContains != "" {
		where = append(where, "name ILIKE "+arg("%"+filter.NameContains+"%"))
	}
	if len(filter.IDs) > 0 {
		where = append(where, "id = ANY("+arg(filter.IDs)+")")
	}

	query := `SELECT ` + accountColumns + ` FROM accounts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	switch opts.OrderBy {
	case OrderByName:
		query += " ORDER BY name, id"
	default:
		// insertion order
		query += " ORDER BY created_at, id"
	}
	if opts.Limit > 0 {
		query += " LIMIT " + arg(opts.Limit)
	}
	if opts.Skip > 0 {
		query += " OFFSET " + arg(opts.Skip)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}
	return accounts, nil
}

func (s *PostgresAccountStore) Insert(ctx context.Context, account *models.Account) error {
	query := `INSERT INTO accounts (id, kind, name, is_admin, owner_id, owned_ids,
	              presence_updated_at, presence_server_id, presence_client_address,
	              presence_http_header, presence_status)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	header, err := marshalHeader(account.Presence.HTTPHeader)
	if err != nil {
		return err
	}
	ownedIDs := account.OwnedIDs
	if ownedIDs == nil {
		ownedIDs = []string{}
	}

	_, err = s.pool.Exec(ctx, query,
		account.ID,
		account.Kind,
		account.Name,
		account.IsAdmin,
		account.OwnerID,
		ownedIDs,
		account.Presence.UpdatedAt,
		account.Presence.ServerID,
		account.Presence.ClientAddress,
		header,
		account.Presence.Status,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

// UpdateFields applies the patch to exactly one row. The clear-owner and
// pull guards are part of the WHERE clause so the modified count reports
// only rows that actually changed, matching the store contract.
func (s *PostgresAccountStore) UpdateFields(ctx context.Context, id string, patch FieldPatch) (int64, error) {
	if patch.IsZero() {
		return 0, nil
	}

	var (
		sets  []string
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	where = append(where, "id = "+arg(id))

	if patch.SetName != nil {
		sets = append(sets, "name = "+arg(*patch.SetName))
	}
	if patch.SetIsAdmin != nil {
		sets = append(sets, "is_admin = "+arg(*patch.SetIsAdmin))
	}
	if patch.ClaimOwner != nil {
		p := arg(*patch.ClaimOwner)
		sets = append(sets, "owner_id = "+p)
		where = append(where, "(owner_id IS NULL OR owner_id = "+p+")")
	}
	if patch.ClearOwnerMatching != "" {
		sets = append(sets, "owner_id = NULL")
		where = append(where, "owner_id = "+arg(patch.ClearOwnerMatching))
	}
	if patch.AddOwnedID != "" {
		p := arg(patch.AddOwnedID)
		sets = append(sets, "owned_ids = array_append(owned_ids, "+p+")")
		where = append(where, "NOT ("+p+" = ANY(owned_ids))")
	}
	if patch.PullOwnedID != "" {
		p := arg(patch.PullOwnedID)
		sets = append(sets, "owned_ids = array_remove(owned_ids, "+p+")")
		where = append(where, p+" = ANY(owned_ids)")
	}

	query := "UPDATE accounts SET " + strings.Join(sets, ", ") +
		" WHERE " + strings.Join(where, " AND ")

	result, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update account: %w", err)
	}
	return result.RowsAffected(), nil
}

func (s *PostgresAccountStore) SetPresenceIfNewer(ctx context.Context, id string, presence models.Presence) (int64, error) {
	header, err := marshalHeader(presence.HTTPHeader)
	if err != nil {
		return 0, err
	}

	// The timestamp guard lives in the WHERE clause: check and write are one
	// atomic statement, so a stale update can never clobber a newer one.
	query := `UPDATE accounts
	          SET presence_updated_at = $2,
	              presence_server_id = $3,
	              presence_client_address = $4,
	              presence_http_header = $5,
	              presence_status = $6
	          WHERE id = $1 AND presence_updated_at <= $2`

	result, err := s.pool.Exec(ctx, query, id,
		presence.UpdatedAt,
		presence.ServerID,
		presence.ClientAddress,
		header,
		presence.Status,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to set presence: %w", err)
	}
	return result.RowsAffected(), nil
}

func (s *PostgresAccountStore) DeleteByID(ctx context.Context, id string) (int64, error) {
	result, err := s.pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return 0, fmt.Errorf("failed to delete account: %w", err)
	}
	return result.RowsAffected(), nil
}

func marshalHeader(header map[string]string) ([]byte, error) {
	if len(header) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal http header: %w", err)
	}
	return data, nil
}

func scanAccount(row pgx.Row) (*models.Account, error) {
	var (
		account models.Account
		header  []byte
	)
	err := row.Scan(
		&account.ID,
		&account.Kind,
		&account.Name,
		&account.IsAdmin,
		&account.OwnerID,
		&account.OwnedIDs,
		&account.Presence.UpdatedAt,
		&account.Presence.ServerID,
		&account.Presence.ClientAddress,
		&header,
		&account.Presence.Status,
	)
	if err != nil {
		return nil, err
	}
	if len(header) > 0 {
		if err := json.Unmarshal(header, &account.Presence.HTTPHeader); err != nil {
			return nil, fmt.Errorf("failed to unmarshal http header: %w", err)
		}
	}
	return &account, nil
}
