package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	marketDomain "github.com/openagora/agora/internal/market/domain"
	sharedDomain "github.com/openagora/agora/internal/shared/domain"
	sharedPersistence "github.com/openagora/agora/internal/shared/infrastructure/persistence"
)

// SQLiteSubscriptionRepository implements marketDomain.SubscriptionRepository
// using SQLite.
type SQLiteSubscriptionRepository struct {
	dbConn *sql.DB
}

// NewSQLiteSubscriptionRepository creates a new SQLite subscription repository.
func NewSQLiteSubscriptionRepository(dbConn *sql.DB) *SQLiteSubscriptionRepository {
	return &SQLiteSubscriptionRepository{dbConn: dbConn}
}

// querier abstracts *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// getQuerier returns the transaction from context when present.
func (r *SQLiteSubscriptionRepository) getQuerier(ctx context.Context) querier {
	if info, ok := sharedPersistence.SQLiteTxInfoFromContext(ctx); ok {
		return info.Tx
	}
	return r.dbConn
}

const sqliteSelectSubscription = `
	SELECT id, side, owner_key, properties, constraints,
	       created_at, updated_at, expires_at, removed_at, version
	FROM subscriptions
`

// Save persists a subscription to the database.
func (r *SQLiteSubscriptionRepository) Save(ctx context.Context, sub *marketDomain.Subscription) error {
	props, err := sub.Terms().PropertiesJSON()
	if err != nil {
		return err
	}

	query := `
		INSERT INTO subscriptions (
			id, side, owner_key, properties, constraints,
			created_at, updated_at, expires_at, removed_at, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			properties = excluded.properties,
			constraints = excluded.constraints,
			expires_at = excluded.expires_at,
			removed_at = excluded.removed_at,
			version = subscriptions.version + 1,
			updated_at = excluded.updated_at
	`

	_, err = r.getQuerier(ctx).ExecContext(ctx, query,
		sub.ID().String(),
		sub.Side().String(),
		sub.Owner().String(),
		string(props),
		sub.Terms().Constraints(),
		formatTime(sub.CreatedAt()),
		nowString(),
		formatNullTime(sub.ExpiresAt()),
		formatNullTime(sub.RemovedAt()),
		sub.Version(),
	)
	return err
}

// FindByID retrieves a subscription by its ID.
func (r *SQLiteSubscriptionRepository) FindByID(ctx context.Context, id uuid.UUID) (*marketDomain.Subscription, error) {
	row := r.getQuerier(ctx).QueryRowContext(ctx, sqliteSelectSubscription+` WHERE id = ?`, id.String())

	sub, err := scanSQLiteSubscription(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, marketDomain.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return sub, nil
}

// FindActiveBySide retrieves subscriptions on one side of the market that
// have not been removed or expired.
func (r *SQLiteSubscriptionRepository) FindActiveBySide(ctx context.Context, side marketDomain.Side) ([]*marketDomain.Subscription, error) {
	query := sqliteSelectSubscription + `
		WHERE side = ?
		  AND removed_at IS NULL
		  AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY created_at
	`

	rows, err := r.getQuerier(ctx).QueryContext(ctx, query, side.String(), nowString())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSQLiteSubscriptions(rows)
}

// FindByOwner retrieves all subscriptions published by a node.
func (r *SQLiteSubscriptionRepository) FindByOwner(ctx context.Context, ownerKey string) ([]*marketDomain.Subscription, error) {
	query := sqliteSelectSubscription + `
		WHERE owner_key = ?
		ORDER BY created_at DESC
	`

	rows, err := r.getQuerier(ctx).QueryContext(ctx, query, ownerKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSQLiteSubscriptions(rows)
}

// Delete removes a subscription from the database.
func (r *SQLiteSubscriptionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.getQuerier(ctx).ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ?`, id.String())
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

type sqliteRow interface {
	Scan(dest ...any) error
}

func scanSQLiteSubscription(row sqliteRow) (*marketDomain.Subscription, error) {
	var (
		id          string
		side        string
		ownerKey    string
		properties  string
		constraints string
		createdAt   string
		updatedAt   string
		expiresAt   sql.NullString
		removedAt   sql.NullString
		version     int
	)

	err := row.Scan(&id, &side, &ownerKey, &properties, &constraints,
		&createdAt, &updatedAt, &expiresAt, &removedAt, &version)
	if err != nil {
		return nil, err
	}

	subID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid subscription id %q: %w", id, err)
	}
	parsedSide, err := marketDomain.ParseSide(side)
	if err != nil {
		return nil, err
	}
	terms, err := marketDomain.ParseTerms([]byte(properties), constraints)
	if err != nil {
		return nil, err
	}
	created, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	updated, err := parseTime(updatedAt)
	if err != nil {
		return nil, err
	}
	expires, err := parseNullTime(expiresAt)
	if err != nil {
		return nil, err
	}
	removed, err := parseNullTime(removedAt)
	if err != nil {
		return nil, err
	}

	return marketDomain.RehydrateSubscription(
		subID,
		parsedSide,
		sharedDomain.NewNodeKey(ownerKey),
		terms,
		created,
		updated,
		expires,
		removed,
		version,
	), nil
}

func scanSQLiteSubscriptions(rows *sql.Rows) ([]*marketDomain.Subscription, error) {
	var subs []*marketDomain.Subscription
	for rows.Next() {
		sub, err := scanSQLiteSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
