package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when an agent_id has no matching row.
var ErrNotFound = errors.New("agent not found")

// Repository provides persistence for agents.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create inserts a new agent row.
func (r *Repository) Create(ctx context.Context, a *Agent) error {
	a.CreatedAt = time.Now().UTC()
	query := `
		INSERT INTO agents (agent_id, name, owner_email, api_key_hash, permissions, status, tier, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.db.Exec(ctx, query,
		a.AgentID, a.Name, a.OwnerEmail, a.APIKeyHash, a.Permissions, a.Status, a.Tier, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

const selectColumns = `agent_id, name, owner_email, api_key_hash, permissions, status, tier,
	created_at, last_verified_at, persona_hash, persona_version, active_commitment`

func (r *Repository) scan(row pgx.Row) (*Agent, error) {
	a := &Agent{}
	err := row.Scan(
		&a.AgentID, &a.Name, &a.OwnerEmail, &a.APIKeyHash, &a.Permissions, &a.Status, &a.Tier,
		&a.CreatedAt, &a.LastVerifiedAt, &a.PersonaHash, &a.PersonaVersion, &a.ActiveCommitment,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan agent: %w", err)
	}
	return a, nil
}

// GetByAgentID retrieves an agent by its opaque agent_id.
func (r *Repository) GetByAgentID(ctx context.Context, agentID string) (*Agent, error) {
	query := `SELECT ` + selectColumns + ` FROM agents WHERE agent_id = $1`
	return r.scan(r.db.QueryRow(ctx, query, agentID))
}

// List returns agents, optionally filtered by status, newest first.
func (r *Repository) List(ctx context.Context, status string, limit, offset int) ([]*Agent, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := `SELECT ` + selectColumns + ` FROM agents
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := r.db.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		a, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// Update persists the mutable fields of an existing agent row.
func (r *Repository) Update(ctx context.Context, a *Agent) error {
	query := `
		UPDATE agents SET
			name = $2, owner_email = $3, permissions = $4, status = $5, tier = $6,
			last_verified_at = $7, persona_hash = $8, persona_version = $9, active_commitment = $10
		WHERE agent_id = $1`
	tag, err := r.db.Exec(ctx, query,
		a.AgentID, a.Name, a.OwnerEmail, a.Permissions, a.Status, a.Tier,
		a.LastVerifiedAt, a.PersonaHash, a.PersonaVersion, a.ActiveCommitment,
	)
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes an agent row; dependents cascade via foreign keys.
func (r *Repository) Delete(ctx context.Context, agentID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM agents WHERE agent_id = $1`, agentID)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
