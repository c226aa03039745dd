package queries

import (
	"context"

	"github.com/google/uuid"

	marketDomain "github.com/openagora/agora/internal/market/domain"
)

// GetProposalQuery contains the parameters for fetching a single proposal.
type GetProposalQuery struct {
	ProposalID uuid.UUID
}

// GetProposalHandler handles the GetProposalQuery.
type GetProposalHandler struct {
	proposalRepo marketDomain.ProposalRepository
}

// NewGetProposalHandler creates a new GetProposalHandler.
func NewGetProposalHandler(proposalRepo marketDomain.ProposalRepository) *GetProposalHandler {
	return &GetProposalHandler{proposalRepo: proposalRepo}
}

// Handle executes the GetProposalQuery.
func (h *GetProposalHandler) Handle(ctx context.Context, query GetProposalQuery) (*ProposalDTO, error) {
	p, err := h.proposalRepo.FindByID(ctx, query.ProposalID)
	if err != nil {
		return nil, err
	}

	dto := proposalToDTO(p)
	return &dto, nil
}
