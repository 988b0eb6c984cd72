package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"splitsync/party"
)

// ErrAccountNotFound is returned when no party row matches the lookup.
var ErrAccountNotFound = errors.New("auth: account not found")

// Repository defines the data access required by the service.
type Repository interface {
	CreateAccount(ctx context.Context, params CreateAccountParams) (Account, error)
	GetAccountByEmail(ctx context.Context, email string) (Account, error)
	GetAccountByID(ctx context.Context, partyID string) (Account, error)
	DeleteAccount(ctx context.Context, partyID string) error
}

// CreateAccountParams carries the fields persisted at registration.
type CreateAccountParams struct {
	Email        string
	DisplayName  string
	PasswordHash string
}

// PGRepository implements Repository over the parties table.
type PGRepository struct {
	pool    *pgxpool.Pool
	parties *party.Repository
}

func NewRepository(pool *pgxpool.Pool, parties *party.Repository) *PGRepository {
	if parties == nil {
		parties = party.NewRepository(nil)
	}
	return &PGRepository{pool: pool, parties: parties}
}

func (r *PGRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (Account, error) {
	p, err := r.parties.Create(ctx, r.pool, party.CreateParams{
		Email:        params.Email,
		DisplayName:  params.DisplayName,
		PasswordHash: params.PasswordHash,
	})
	if err != nil {
		return Account{}, err
	}
	return Account{
		PartyID:      p.ID,
		Email:        p.Email,
		DisplayName:  p.DisplayName,
		PasswordHash: params.PasswordHash,
		CreatedAt:    p.CreatedAt,
	}, nil
}

func (r *PGRepository) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	const q = `
SELECT id, email, display_name, password_hash, created_at
FROM parties
WHERE email = $1
`
	return r.scanAccount(r.pool.QueryRow(ctx, q, strings.ToLower(strings.TrimSpace(email))))
}

func (r *PGRepository) GetAccountByID(ctx context.Context, partyID string) (Account, error) {
	const q = `
SELECT id, email, display_name, password_hash, created_at
FROM parties
WHERE id = $1
`
	return r.scanAccount(r.pool.QueryRow(ctx, q, partyID))
}

// DeleteAccount removes the party row behind an account. The delete is
// version-guarded and captures a party_deleted change event, which is what
// mirrors the party's edges away from its counterparts.
func (r *PGRepository) DeleteAccount(ctx context.Context, partyID string) error {
	for attempt := 0; attempt < 5; attempt++ {
		err := r.deleteOnce(ctx, partyID)
		if !errors.Is(err, party.ErrContention) {
			return err
		}
	}
	return fmt.Errorf("auth: delete account %s: %w", partyID, party.ErrContention)
}

func (r *PGRepository) deleteOnce(ctx context.Context, partyID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("auth: begin delete: %w", err)
	}
	defer tx.Rollback(ctx)

	p, err := r.parties.Get(ctx, tx, partyID)
	if err != nil {
		if errors.Is(err, party.ErrNotFound) {
			return ErrAccountNotFound
		}
		return err
	}
	if err := r.parties.Delete(ctx, tx, p); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PGRepository) scanAccount(row pgx.Row) (Account, error) {
	var a Account
	if err := row.Scan(&a.PartyID, &a.Email, &a.DisplayName, &a.PasswordHash, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("auth: scan account: %w", err)
	}
	return a, nil
}
