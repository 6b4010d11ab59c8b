package commitment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a commitment hex string has no matching row.
var ErrNotFound = errors.New("commitment not found")

// Repository provides persistence for commitments.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create inserts a new commitment row.
func (r *Repository) Create(ctx context.Context, c *Commitment) error {
	c.CreatedAt = time.Now().UTC()
	c.Status = StatusActive
	_, err := r.db.Exec(ctx,
		`INSERT INTO commitments (commitment, agent_id, status, expires_at, permissions, tier, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.Commitment, c.AgentID, c.Status, c.ExpiresAt, c.Permissions, c.Tier, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert commitment: %w", err)
	}
	return nil
}

// Get retrieves a commitment by its hex digest.
func (r *Repository) Get(ctx context.Context, digest string) (*Commitment, error) {
	row := r.db.QueryRow(ctx,
		`SELECT commitment, agent_id, status, expires_at, permissions, tier, created_at
		 FROM commitments WHERE commitment = $1`, digest)
	c := &Commitment{}
	if err := row.Scan(&c.Commitment, &c.AgentID, &c.Status, &c.ExpiresAt, &c.Permissions, &c.Tier, &c.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan commitment: %w", err)
	}
	return c, nil
}

// Revoke transitions a commitment from active to revoked. Returns
// ErrNotFound if no active commitment with that digest exists.
func (r *Repository) Revoke(ctx context.Context, digest string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE commitments SET status = $2 WHERE commitment = $1 AND status = $3`,
		digest, StatusRevoked, StatusActive,
	)
	if err != nil {
		return fmt.Errorf("revoke commitment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RevokeAllForAgent transitions every active commitment owned by agentID to
// revoked.
func (r *Repository) RevokeAllForAgent(ctx context.Context, agentID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE commitments SET status = $2 WHERE agent_id = $1 AND status = $3`,
		agentID, StatusRevoked, StatusActive,
	)
	if err != nil {
		return fmt.Errorf("revoke agent commitments: %w", err)
	}
	return nil
}

// ActiveCount returns the number of commitments that are active and not
// expired.
func (r *Repository) ActiveCount(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM commitments WHERE status = $1 AND (expires_at IS NULL OR expires_at > now())`,
		StatusActive,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active commitments: %w", err)
	}
	return n, nil
}

// SweepExpired transitions every active commitment whose expires_at has
// passed to revoked, in a single query. Returns the number of rows changed.
func (r *Repository) SweepExpired(ctx context.Context) (int, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE commitments SET status = $1 WHERE status = $2 AND expires_at IS NOT NULL AND expires_at <= now()`,
		StatusRevoked, StatusActive,
	)
	if err != nil {
		return 0, fmt.Errorf("sweep expired commitments: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
