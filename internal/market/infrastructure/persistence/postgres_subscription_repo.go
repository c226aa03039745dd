// Package persistence provides PostgreSQL and SQLite implementations for
// market repositories.
package persistence

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	marketDomain "github.com/openagora/agora/internal/market/domain"
	sharedDomain "github.com/openagora/agora/internal/shared/domain"
	"github.com/openagora/agora/internal/shared/infrastructure/database"
)

// PostgresSubscriptionRepository implements marketDomain.SubscriptionRepository
// using PostgreSQL.
type PostgresSubscriptionRepository struct {
	conn database.Connection
}

// NewPostgresSubscriptionRepository creates a new PostgreSQL subscription repository.
func NewPostgresSubscriptionRepository(conn database.Connection) *PostgresSubscriptionRepository {
	return &PostgresSubscriptionRepository{conn: conn}
}

// subscriptionRow represents a database row for subscriptions.
type subscriptionRow struct {
	ID          uuid.UUID
	Side        string
	OwnerKey    string
	Properties  []byte
	Constraints string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ExpiresAt   *time.Time
	RemovedAt   *time.Time
	Version     int
}

// propertyKeys returns the sorted top-level property names of the terms.
// They are stored alongside the JSON document so candidate scans can use
// the GIN index instead of unpacking every document.
func propertyKeys(terms marketDomain.Terms) []string {
	props := terms.Properties()
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Save persists a subscription to the database.
func (r *PostgresSubscriptionRepository) Save(ctx context.Context, sub *marketDomain.Subscription) error {
	props, err := sub.Terms().PropertiesJSON()
	if err != nil {
		return err
	}

	query := `
		INSERT INTO subscriptions (
			id, side, owner_key, properties, property_keys, constraints,
			created_at, updated_at, expires_at, removed_at, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			properties = EXCLUDED.properties,
			property_keys = EXCLUDED.property_keys,
			constraints = EXCLUDED.constraints,
			expires_at = EXCLUDED.expires_at,
			removed_at = EXCLUDED.removed_at,
			version = subscriptions.version + 1,
			updated_at = NOW()
	`

	exec := database.ExecutorFromContext(ctx, r.conn)
	_, err = exec.Exec(ctx, query,
		sub.ID(),
		sub.Side().String(),
		sub.Owner().String(),
		props,
		pq.Array(propertyKeys(sub.Terms())),
		sub.Terms().Constraints(),
		sub.CreatedAt(),
		sub.UpdatedAt(),
		sub.ExpiresAt(),
		sub.RemovedAt(),
		sub.Version(),
	)
	return err
}

// FindByID retrieves a subscription by its ID.
func (r *PostgresSubscriptionRepository) FindByID(ctx context.Context, id uuid.UUID) (*marketDomain.Subscription, error) {
	query := `
		SELECT id, side, owner_key, properties, constraints,
		       created_at, updated_at, expires_at, removed_at, version
		FROM subscriptions
		WHERE id = $1
	`

	var row subscriptionRow
	exec := database.ExecutorFromContext(ctx, r.conn)
	err := exec.QueryRow(ctx, query, id).Scan(
		&row.ID,
		&row.Side,
		&row.OwnerKey,
		&row.Properties,
		&row.Constraints,
		&row.CreatedAt,
		&row.UpdatedAt,
		&row.ExpiresAt,
		&row.RemovedAt,
		&row.Version,
	)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, marketDomain.ErrSubscriptionNotFound
		}
		return nil, err
	}

	return rowToSubscription(row)
}

// FindActiveBySide retrieves subscriptions on one side of the market that
// have not been removed or expired.
func (r *PostgresSubscriptionRepository) FindActiveBySide(ctx context.Context, side marketDomain.Side) ([]*marketDomain.Subscription, error) {
	query := `
		SELECT id, side, owner_key, properties, constraints,
		       created_at, updated_at, expires_at, removed_at, version
		FROM subscriptions
		WHERE side = $1
		  AND removed_at IS NULL
		  AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY created_at
	`

	exec := database.ExecutorFromContext(ctx, r.conn)
	rows, err := exec.Query(ctx, query, side.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSubscriptions(rows)
}

// FindByOwner retrieves all subscriptions published by a node.
func (r *PostgresSubscriptionRepository) FindByOwner(ctx context.Context, ownerKey string) ([]*marketDomain.Subscription, error) {
	query := `
		SELECT id, side, owner_key, properties, constraints,
		       created_at, updated_at, expires_at, removed_at, version
		FROM subscriptions
		WHERE owner_key = $1
		ORDER BY created_at DESC
	`

	exec := database.ExecutorFromContext(ctx, r.conn)
	rows, err := exec.Query(ctx, query, ownerKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSubscriptions(rows)
}

// Delete removes a subscription from the database.
func (r *PostgresSubscriptionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM subscriptions WHERE id = $1`
	exec := database.ExecutorFromContext(ctx, r.conn)
	result, err := exec.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return marketDomain.ErrSubscriptionNotFound
	}
	return nil
}

func scanSubscriptions(rows database.Rows) ([]*marketDomain.Subscription, error) {
	var subs []*marketDomain.Subscription

	for rows.Next() {
		var row subscriptionRow
		err := rows.Scan(
			&row.ID,
			&row.Side,
			&row.OwnerKey,
			&row.Properties,
			&row.Constraints,
			&row.CreatedAt,
			&row.UpdatedAt,
			&row.ExpiresAt,
			&row.RemovedAt,
			&row.Version,
		)
		if err != nil {
			return nil, err
		}

		sub, err := rowToSubscription(row)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}

	return subs, rows.Err()
}

func rowToSubscription(row subscriptionRow) (*marketDomain.Subscription, error) {
	side, err := marketDomain.ParseSide(row.Side)
	if err != nil {
		return nil, err
	}

	terms, err := marketDomain.ParseTerms(row.Properties, row.Constraints)
	if err != nil {
		return nil, err
	}

	return marketDomain.RehydrateSubscription(
		row.ID,
		side,
		sharedDomain.NewNodeKey(row.OwnerKey),
		terms,
		row.CreatedAt,
		row.UpdatedAt,
		row.ExpiresAt,
		row.RemovedAt,
		row.Version,
	), nil
}
