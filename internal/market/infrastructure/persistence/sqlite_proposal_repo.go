package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	marketDomain "github.com/openagora/agora/internal/market/domain"
	sharedDomain "github.com/openagora/agora/internal/shared/domain"
	sharedPersistence "github.com/openagora/agora/internal/shared/infrastructure/persistence"
)

// SQLiteProposalRepository implements marketDomain.ProposalRepository using SQLite.
type SQLiteProposalRepository struct {
	dbConn *sql.DB
}

// NewSQLiteProposalRepository creates a new SQLite proposal repository.
func NewSQLiteProposalRepository(dbConn *sql.DB) *SQLiteProposalRepository {
	return &SQLiteProposalRepository{dbConn: dbConn}
}

func (r *SQLiteProposalRepository) getQuerier(ctx context.Context) querier {
	if info, ok := sharedPersistence.SQLiteTxInfoFromContext(ctx); ok {
		return info.Tx
	}
	return r.dbConn
}

const sqliteSelectProposal = `
	SELECT id, subscription_id, prev_proposal_id, side, state,
	       issuer_key, counterpart_key, properties, constraints,
	       created_at, updated_at, version
	FROM proposals
`

// Save persists a proposal to the database.
func (r *SQLiteProposalRepository) Save(ctx context.Context, p *marketDomain.Proposal) error {
	props, err := p.Terms().PropertiesJSON()
	if err != nil {
		return err
	}

	var prevID any
	if prev := p.PrevProposalID(); prev != nil {
		prevID = prev.String()
	}

	query := `
		INSERT INTO proposals (
			id, subscription_id, prev_proposal_id, side, state,
			issuer_key, counterpart_key, properties, constraints,
			created_at, updated_at, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			state = excluded.state,
			properties = excluded.properties,
			constraints = excluded.constraints,
			version = proposals.version + 1,
			updated_at = excluded.updated_at
	`

	_, err = r.getQuerier(ctx).ExecContext(ctx, query,
		p.ID().String(),
		p.SubscriptionID().String(),
		prevID,
		p.Side().String(),
		p.State().String(),
		p.Issuer().String(),
		p.Counterpart().String(),
		string(props),
		p.Terms().Constraints(),
		formatTime(p.CreatedAt()),
		nowString(),
		p.Version(),
	)
	return err
}

// FindByID retrieves a proposal by its ID.
func (r *SQLiteProposalRepository) FindByID(ctx context.Context, id uuid.UUID) (*marketDomain.Proposal, error) {
	row := r.getQuerier(ctx).QueryRowContext(ctx, sqliteSelectProposal+` WHERE id = ?`, id.String())

	p, err := scanSQLiteProposal(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, marketDomain.ErrProposalNotFound
		}
		return nil, err
	}
	return p, nil
}

// FindBySubscription retrieves all proposals queued against a subscription.
func (r *SQLiteProposalRepository) FindBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]*marketDomain.Proposal, error) {
	query := sqliteSelectProposal + `
		WHERE subscription_id = ?
		ORDER BY created_at
	`

	rows, err := r.getQuerier(ctx).QueryContext(ctx, query, subscriptionID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSQLiteProposals(rows)
}

// FindOpenBySubscription retrieves proposals still under negotiation.
func (r *SQLiteProposalRepository) FindOpenBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]*marketDomain.Proposal, error) {
	query := sqliteSelectProposal + `
		WHERE subscription_id = ? AND state IN ('initial', 'draft')
		ORDER BY created_at
	`

	rows, err := r.getQuerier(ctx).QueryContext(ctx, query, subscriptionID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSQLiteProposals(rows)
}

func scanSQLiteProposal(row sqliteRow) (*marketDomain.Proposal, error) {
	var (
		id             string
		subscriptionID string
		prevProposalID sql.NullString
		side           string
		state          string
		issuerKey      string
		counterpartKey string
		properties     string
		constraints    string
		createdAt      string
		updatedAt      string
		version        int
	)

	err := row.Scan(&id, &subscriptionID, &prevProposalID, &side, &state,
		&issuerKey, &counterpartKey, &properties, &constraints,
		&createdAt, &updatedAt, &version)
	if err != nil {
		return nil, err
	}

	proposalID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid proposal id %q: %w", id, err)
	}
	subID, err := uuid.Parse(subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("invalid subscription id %q: %w", subscriptionID, err)
	}

	var prevID *uuid.UUID
	if prevProposalID.Valid {
		parsed, err := uuid.Parse(prevProposalID.String)
		if err != nil {
			return nil, fmt.Errorf("invalid prev proposal id %q: %w", prevProposalID.String, err)
		}
		prevID = &parsed
	}

	parsedSide, err := marketDomain.ParseSide(side)
	if err != nil {
		return nil, err
	}
	parsedState, err := marketDomain.ParseProposalState(state)
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

	return marketDomain.RehydrateProposal(
		proposalID,
		subID,
		prevID,
		parsedSide,
		parsedState,
		sharedDomain.NewNodeKey(issuerKey),
		sharedDomain.NewNodeKey(counterpartKey),
		terms,
		created,
		updated,
		version,
	), nil
}

func scanSQLiteProposals(rows *sql.Rows) ([]*marketDomain.Proposal, error) {
	var proposals []*marketDomain.Proposal
	for rows.Next() {
		p, err := scanSQLiteProposal(rows)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, p)
	}
	return proposals, rows.Err()
}
