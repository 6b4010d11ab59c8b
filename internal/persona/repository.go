package persona

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when an agent has no persona registered.
var ErrNotFound = errors.New("persona not found")

// ErrConflict is returned when a persona already exists for the agent.
var ErrConflict = errors.New("persona already exists")

// Repository provides persistence for the current persona row per agent and
// its append-only history.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Get retrieves the current persona for an agent.
func (r *Repository) Get(ctx context.Context, agentID string) (*Persona, error) {
	query := `SELECT agent_id, version, persona_hash, canonical_json, updated_at
		FROM personas WHERE agent_id = $1`
	return scanPersona(r.db.QueryRow(ctx, query, agentID))
}

func scanPersona(row pgx.Row) (*Persona, error) {
	p := &Persona{}
	if err := row.Scan(&p.AgentID, &p.Version, &p.Hash, &p.CanonicalJSON, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan persona: %w", err)
	}
	return p, nil
}

// Create inserts the first persona for an agent and its history entry, in
// one transaction.
func (r *Repository) Create(ctx context.Context, p *Persona) error {
	p.UpdatedAt = time.Now().UTC()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO personas (agent_id, version, persona_hash, canonical_json, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		p.AgentID, p.Version, p.Hash, p.CanonicalJSON, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert persona: %w", err)
	}

	if err := insertHistory(ctx, tx, p); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ReplaceWithHistory archives the existing persona into history, then
// replaces the current row with next, atomically.
func (r *Repository) ReplaceWithHistory(ctx context.Context, next *Persona) error {
	next.UpdatedAt = time.Now().UTC()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	current, err := scanPersona(tx.QueryRow(ctx,
		`SELECT agent_id, version, persona_hash, canonical_json, updated_at
		 FROM personas WHERE agent_id = $1 FOR UPDATE`, next.AgentID))
	if err != nil {
		return err
	}

	if err := insertHistory(ctx, tx, current); err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`UPDATE personas SET version = $2, persona_hash = $3, canonical_json = $4, updated_at = $5
		 WHERE agent_id = $1`,
		next.AgentID, next.Version, next.Hash, next.CanonicalJSON, next.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update persona: %w", err)
	}
	return tx.Commit(ctx)
}

func insertHistory(ctx context.Context, tx pgx.Tx, p *Persona) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO persona_history (agent_id, persona_hash, persona_version, canonical_json, changed_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		p.AgentID, p.Hash, p.Version, p.CanonicalJSON, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert persona history: %w", err)
	}
	return nil
}

// History returns a page of history entries for an agent, ordered by
// changed_at ascending or descending, plus the total count.
func (r *Repository) History(ctx context.Context, agentID string, limit, offset int, descending bool) ([]*HistoryEntry, int, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	order := "ASC"
	if descending {
		order = "DESC"
	}
	query := fmt.Sprintf(`SELECT id, agent_id, persona_hash, persona_version, changed_at
		FROM persona_history WHERE agent_id = $1 ORDER BY changed_at %s LIMIT $2 OFFSET $3`, order)

	rows, err := r.db.Query(ctx, query, agentID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query persona history: %w", err)
	}
	defer rows.Close()

	var entries []*HistoryEntry
	for rows.Next() {
		e := &HistoryEntry{}
		if err := rows.Scan(&e.ID, &e.AgentID, &e.PersonaHash, &e.PersonaVersion, &e.ChangedAt); err != nil {
			return nil, 0, fmt.Errorf("scan persona history: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM persona_history WHERE agent_id = $1`, agentID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count persona history: %w", err)
	}
	return entries, total, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && (contains(err.Error(), "duplicate key") || contains(err.Error(), "unique constraint"))
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
