package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when an endpoint id has no matching row.
var ErrNotFound = errors.New("webhook endpoint not found")

// Repository provides persistence for webhook endpoints and deliveries.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const endpointColumns = `id, agent_id, url, events, secret, is_active, created_at`

func scanEndpoint(row pgx.Row) (*Endpoint, error) {
	e := &Endpoint{}
	if err := row.Scan(&e.ID, &e.AgentID, &e.URL, &e.Events, &e.Secret, &e.IsActive, &e.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan webhook endpoint: %w", err)
	}
	return e, nil
}

// Create inserts a new endpoint.
func (r *Repository) Create(ctx context.Context, e *Endpoint) error {
	e.ID = uuid.New()
	e.IsActive = true
	e.CreatedAt = time.Now().UTC()
	_, err := r.db.Exec(ctx,
		`INSERT INTO webhook_endpoints (id, agent_id, url, events, secret, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.AgentID, e.URL, e.Events, e.Secret, e.IsActive, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert webhook endpoint: %w", err)
	}
	return nil
}

// Get retrieves an endpoint by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Endpoint, error) {
	row := r.db.QueryRow(ctx, `SELECT `+endpointColumns+` FROM webhook_endpoints WHERE id = $1`, id)
	return scanEndpoint(row)
}

// ListByAgent returns all endpoints registered by an agent.
func (r *Repository) ListByAgent(ctx context.Context, agentID string) ([]*Endpoint, error) {
	rows, err := r.db.Query(ctx, `SELECT `+endpointColumns+` FROM webhook_endpoints WHERE agent_id = $1`, agentID)
	if err != nil {
		return nil, fmt.Errorf("query webhook endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []*Endpoint
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, e)
	}
	return endpoints, rows.Err()
}

// ListActiveByAgentAndEvent returns active endpoints for an agent subscribed
// to event, directly or via the "*" wildcard.
func (r *Repository) ListActiveByAgentAndEvent(ctx context.Context, agentID, event string) ([]*Endpoint, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+endpointColumns+` FROM webhook_endpoints
		 WHERE agent_id = $1 AND is_active = true AND (events @> ARRAY[$2]::text[] OR events @> ARRAY['*']::text[])`,
		agentID, event,
	)
	if err != nil {
		return nil, fmt.Errorf("query matching webhook endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []*Endpoint
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, e)
	}
	return endpoints, rows.Err()
}

// Delete removes an endpoint owned by agentID.
func (r *Repository) Delete(ctx context.Context, agentID string, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM webhook_endpoints WHERE id = $1 AND agent_id = $2`, id, agentID)
	if err != nil {
		return fmt.Errorf("delete webhook endpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetActive toggles an endpoint's active flag.
func (r *Repository) SetActive(ctx context.Context, agentID string, id uuid.UUID, active bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE webhook_endpoints SET is_active = $3 WHERE id = $1 AND agent_id = $2`,
		id, agentID, active,
	)
	if err != nil {
		return fmt.Errorf("toggle webhook endpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RotateSecret assigns a new secret to an endpoint.
func (r *Repository) RotateSecret(ctx context.Context, agentID string, id uuid.UUID, secret string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE webhook_endpoints SET secret = $3 WHERE id = $1 AND agent_id = $2`,
		id, agentID, secret,
	)
	if err != nil {
		return fmt.Errorf("rotate webhook secret: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordDelivery appends a delivery attempt record.
func (r *Repository) RecordDelivery(ctx context.Context, d *Delivery) error {
	d.ID = uuid.New()
	d.DeliveredAt = time.Now().UTC()
	_, err := r.db.Exec(ctx,
		`INSERT INTO webhook_deliveries (id, endpoint_id, event, status_code, attempt, success, error_message, delivered_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.EndpointID, d.Event, d.StatusCode, d.Attempt, d.Success, d.ErrorMessage, d.DeliveredAt,
	)
	if err != nil {
		return fmt.Errorf("record webhook delivery: %w", err)
	}
	return nil
}

// ListDeliveries returns the most recent deliveries for an endpoint.
func (r *Repository) ListDeliveries(ctx context.Context, endpointID uuid.UUID, limit int) ([]*Delivery, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, endpoint_id, event, status_code, attempt, success, error_message, delivered_at
		 FROM webhook_deliveries WHERE endpoint_id = $1 ORDER BY delivered_at DESC LIMIT $2`,
		endpointID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query webhook deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []*Delivery
	for rows.Next() {
		d := &Delivery{}
		if err := rows.Scan(&d.ID, &d.EndpointID, &d.Event, &d.StatusCode, &d.Attempt, &d.Success, &d.ErrorMessage, &d.DeliveredAt); err != nil {
			return nil, fmt.Errorf("scan webhook delivery: %w", err)
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}
