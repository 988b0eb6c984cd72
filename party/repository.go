package party

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"splitsync/feed"
)

var (
	// ErrNotFound is returned when no party row exists for the identifier.
	ErrNotFound = errors.New("party: not found")
	// ErrContention signals a version-guarded write lost an optimistic race
	// and should be retried against a fresh read.
	ErrContention = errors.New("party: document version conflict")
	// ErrEmailTaken signals a registration against an existing email.
	ErrEmailTaken = errors.New("party: email already registered")
)

// Querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx, letting
// reads run either standalone or inside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists Party documents. Mutations of the relationships map
// and ledger refs are version-guarded and captured as change events in the
// same transaction, which is what feeds the synchronization engine.
type Repository struct {
	events *feed.Repository
}

func NewRepository(events *feed.Repository) *Repository {
	if events == nil {
		events = feed.NewRepository()
	}
	return &Repository{events: events}
}

const partyColumns = `id, email, display_name, notify_address, password_hash, relationships, ledger_refs, version, created_at, updated_at`

// CreateParams carries the fields needed to create a party row. PasswordHash
// is set by the auth service; the engine never reads it.
type CreateParams struct {
	Email        string
	DisplayName  string
	PasswordHash string
}

// Create inserts a new party with empty relationships and ledger refs.
func (r *Repository) Create(ctx context.Context, q Querier, params CreateParams) (*Party, error) {
	email := strings.ToLower(strings.TrimSpace(params.Email))
	if email == "" {
		return nil, fmt.Errorf("party: email required")
	}
	if params.DisplayName == "" {
		return nil, fmt.Errorf("party: display name required")
	}

	const insertSQL = `
INSERT INTO parties (id, email, display_name, password_hash)
VALUES ($1, $2, $3, $4)
RETURNING ` + partyColumns

	row := q.QueryRow(ctx, insertSQL, uuid.NewString(), email, params.DisplayName, params.PasswordHash)
	p, err := scanParty(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("party: insert: %w", err)
	}
	return p, nil
}

// Get loads a party by ID.
func (r *Repository) Get(ctx context.Context, q Querier, id string) (*Party, error) {
	const sql = `SELECT ` + partyColumns + ` FROM parties WHERE id = $1`
	p, err := scanParty(q.QueryRow(ctx, sql, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("party: get %s: %w", id, err)
	}
	return p, nil
}

// GetByEmail resolves a party by email; this is the placeholder-resolution
// lookup for friend requests addressed before the counterpart ID is known.
func (r *Repository) GetByEmail(ctx context.Context, q Querier, email string) (*Party, error) {
	const sql = `SELECT ` + partyColumns + ` FROM parties WHERE email = $1`
	p, err := scanParty(q.QueryRow(ctx, sql, strings.ToLower(strings.TrimSpace(email))))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("party: get by email: %w", err)
	}
	return p, nil
}

// Save writes the party's relationships map and ledger refs with an
// optimistic version guard and captures a party_updated change event holding
// the before/after relationship snapshots. On success the in-memory version
// is advanced to match the stored row. before must be the relationships map
// as it was when the party was read.
func (r *Repository) Save(ctx context.Context, tx pgx.Tx, p *Party, before map[string]Edge) error {
	relJSON, err := json.Marshal(relOrEmpty(p.Relationships))
	if err != nil {
		return fmt.Errorf("party: marshal relationships: %w", err)
	}
	refsJSON, err := json.Marshal(refsOrEmpty(p.LedgerRefs))
	if err != nil {
		return fmt.Errorf("party: marshal ledger refs: %w", err)
	}

	const updateSQL = `
UPDATE parties
SET relationships = $1, ledger_refs = $2, version = version + 1, updated_at = now()
WHERE id = $3 AND version = $4
`
	tag, err := tx.Exec(ctx, updateSQL, relJSON, refsJSON, p.ID, p.Version)
	if err != nil {
		return fmt.Errorf("party: save %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrContention
	}
	p.Version++

	if err := r.events.Append(ctx, tx, feed.KindPartyUpdated, p.ID, relOrEmpty(before), relOrEmpty(p.Relationships)); err != nil {
		return err
	}
	return nil
}

// Delete removes the party row and captures a party_deleted event carrying
// the final relationships map, so counterpart edges can be mirrored away.
func (r *Repository) Delete(ctx context.Context, tx pgx.Tx, p *Party) error {
	tag, err := tx.Exec(ctx, `DELETE FROM parties WHERE id = $1 AND version = $2`, p.ID, p.Version)
	if err != nil {
		return fmt.Errorf("party: delete %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrContention
	}
	return r.events.Append(ctx, tx, feed.KindPartyDeleted, p.ID, relOrEmpty(p.Relationships), nil)
}

func scanParty(row pgx.Row) (*Party, error) {
	var (
		p        Party
		relJSON  []byte
		refsJSON []byte
	)
	if err := row.Scan(&p.ID, &p.Email, &p.DisplayName, &p.NotifyAddress, new(string),
		&relJSON, &refsJSON, &p.Version, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(relJSON, &p.Relationships); err != nil {
		return nil, fmt.Errorf("unmarshal relationships: %w", err)
	}
	if err := json.Unmarshal(refsJSON, &p.LedgerRefs); err != nil {
		return nil, fmt.Errorf("unmarshal ledger refs: %w", err)
	}
	return &p, nil
}

func relOrEmpty(m map[string]Edge) map[string]Edge {
	if m == nil {
		return map[string]Edge{}
	}
	return m
}

func refsOrEmpty(refs []string) []string {
	if refs == nil {
		return []string{}
	}
	return refs
}
