package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"

	marketDomain "github.com/openagora/agora/internal/market/domain"
	sharedDomain "github.com/openagora/agora/internal/shared/domain"
	"github.com/openagora/agora/internal/shared/infrastructure/database"
)

// PostgresProposalRepository implements marketDomain.ProposalRepository
// using PostgreSQL.
type PostgresProposalRepository struct {
	conn database.Connection
}

// NewPostgresProposalRepository creates a new PostgreSQL proposal repository.
func NewPostgresProposalRepository(conn database.Connection) *PostgresProposalRepository {
	return &PostgresProposalRepository{conn: conn}
}

// proposalRow represents a database row for proposals.
type proposalRow struct {
	ID             uuid.UUID
	SubscriptionID uuid.UUID
	PrevProposalID *uuid.UUID
	Side           string
	State          string
	IssuerKey      string
	CounterpartKey string
	Properties     []byte
	Constraints    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Version        int
}

// Save persists a proposal to the database.
func (r *PostgresProposalRepository) Save(ctx context.Context, p *marketDomain.Proposal) error {
	props, err := p.Terms().PropertiesJSON()
	if err != nil {
		return err
	}

	query := `
		INSERT INTO proposals (
			id, subscription_id, prev_proposal_id, side, state,
			issuer_key, counterpart_key, properties, constraints,
			created_at, updated_at, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			properties = EXCLUDED.properties,
			constraints = EXCLUDED.constraints,
			version = proposals.version + 1,
			updated_at = NOW()
	`

	exec := database.ExecutorFromContext(ctx, r.conn)
	_, err = exec.Exec(ctx, query,
		p.ID(),
		p.SubscriptionID(),
		p.PrevProposalID(),
		p.Side().String(),
		p.State().String(),
		p.Issuer().String(),
		p.Counterpart().String(),
		props,
		p.Terms().Constraints(),
		p.CreatedAt(),
		p.UpdatedAt(),
		p.Version(),
	)
	return err
}

// FindByID retrieves a proposal by its ID.
func (r *PostgresProposalRepository) FindByID(ctx context.Context, id uuid.UUID) (*marketDomain.Proposal, error) {
	query := `
		SELECT id, subscription_id, prev_proposal_id, side, state,
		       issuer_key, counterpart_key, properties, constraints,
		       created_at, updated_at, version
		FROM proposals
		WHERE id = $1
	`

	var row proposalRow
	exec := database.ExecutorFromContext(ctx, r.conn)
	err := exec.QueryRow(ctx, query, id).Scan(
		&row.ID,
		&row.SubscriptionID,
		&row.PrevProposalID,
		&row.Side,
		&row.State,
		&row.IssuerKey,
		&row.CounterpartKey,
		&row.Properties,
		&row.Constraints,
		&row.CreatedAt,
		&row.UpdatedAt,
		&row.Version,
	)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, marketDomain.ErrProposalNotFound
		}
		return nil, err
	}

	return rowToProposal(row)
}

// FindBySubscription retrieves all proposals queued against a subscription.
func (r *PostgresProposalRepository) FindBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]*marketDomain.Proposal, error) {
	query := `
		SELECT id, subscription_id, prev_proposal_id, side, state,
		       issuer_key, counterpart_key, properties, constraints,
		       created_at, updated_at, version
		FROM proposals
		WHERE subscription_id = $1
		ORDER BY created_at
	`

	exec := database.ExecutorFromContext(ctx, r.conn)
	rows, err := exec.Query(ctx, query, subscriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanProposals(rows)
}

// FindOpenBySubscription retrieves proposals still under negotiation.
func (r *PostgresProposalRepository) FindOpenBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]*marketDomain.Proposal, error) {
	query := `
		SELECT id, subscription_id, prev_proposal_id, side, state,
		       issuer_key, counterpart_key, properties, constraints,
		       created_at, updated_at, version
		FROM proposals
		WHERE subscription_id = $1 AND state IN ('initial', 'draft')
		ORDER BY created_at
	`

	exec := database.ExecutorFromContext(ctx, r.conn)
	rows, err := exec.Query(ctx, query, subscriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanProposals(rows)
}

func scanProposals(rows database.Rows) ([]*marketDomain.Proposal, error) {
	var proposals []*marketDomain.Proposal

	for rows.Next() {
		var row proposalRow
		err := rows.Scan(
			&row.ID,
			&row.SubscriptionID,
			&row.PrevProposalID,
			&row.Side,
			&row.State,
			&row.IssuerKey,
			&row.CounterpartKey,
			&row.Properties,
			&row.Constraints,
			&row.CreatedAt,
			&row.UpdatedAt,
			&row.Version,
		)
		if err != nil {
			return nil, err
		}

		p, err := rowToProposal(row)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, p)
	}

	return proposals, rows.Err()
}

func rowToProposal(row proposalRow) (*marketDomain.Proposal, error) {
	side, err := marketDomain.ParseSide(row.Side)
	if err != nil {
		return nil, err
	}

	state, err := marketDomain.ParseProposalState(row.State)
	if err != nil {
		return nil, err
	}

	terms, err := marketDomain.ParseTerms(row.Properties, row.Constraints)
	if err != nil {
		return nil, err
	}

	return marketDomain.RehydrateProposal(
		row.ID,
		row.SubscriptionID,
		row.PrevProposalID,
		side,
		state,
		sharedDomain.NewNodeKey(row.IssuerKey),
		sharedDomain.NewNodeKey(row.CounterpartKey),
		terms,
		row.CreatedAt,
		row.UpdatedAt,
		row.Version,
	), nil
}
