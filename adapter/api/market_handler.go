package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openagora/agora/internal/market/application/commands"
	"github.com/openagora/agora/internal/market/application/queries"
	marketDomain "github.com/openagora/agora/internal/market/domain"
	"github.com/openagora/agora/internal/market/negotiation"
)

// defaultCollectTimeout applies when the events endpoint is called without
// a timeout parameter.
const defaultCollectTimeout = 5 * time.Second

// MarketHandler handles market API requests.
type MarketHandler struct {
	subscribe       *commands.SubscribeHandler
	unsubscribe     *commands.UnsubscribeHandler
	counterProposal *commands.CounterProposalHandler
	acceptProposal  *commands.AcceptProposalHandler
	rejectProposal  *commands.RejectProposalHandler
	injectProposal  *commands.InjectProposalHandler
	collectEvents   *queries.CollectEventsHandler
	getProposal     *queries.GetProposalHandler
	listSubs        *queries.ListSubscriptionsHandler
	logger          *slog.Logger
}

// MarketHandlerConfig holds dependencies for the market handler.
type MarketHandlerConfig struct {
	Subscribe       *commands.SubscribeHandler
	Unsubscribe     *commands.UnsubscribeHandler
	CounterProposal *commands.CounterProposalHandler
	AcceptProposal  *commands.AcceptProposalHandler
	RejectProposal  *commands.RejectProposalHandler
	InjectProposal  *commands.InjectProposalHandler
	CollectEvents   *queries.CollectEventsHandler
	GetProposal     *queries.GetProposalHandler
	ListSubs        *queries.ListSubscriptionsHandler
	Logger          *slog.Logger
}

// NewMarketHandler creates a new market handler.
func NewMarketHandler(cfg MarketHandlerConfig) *MarketHandler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &MarketHandler{
		subscribe:       cfg.Subscribe,
		unsubscribe:     cfg.Unsubscribe,
		counterProposal: cfg.CounterProposal,
		acceptProposal:  cfg.AcceptProposal,
		rejectProposal:  cfg.RejectProposal,
		injectProposal:  cfg.InjectProposal,
		collectEvents:   cfg.CollectEvents,
		getProposal:     cfg.GetProposal,
		listSubs:        cfg.ListSubs,
		logger:          cfg.Logger,
	}
}

// subscribeRequest is the body of POST /market-api/v1/{demands,offers}.
type subscribeRequest struct {
	Properties  json.RawMessage `json:"properties"`
	Constraints string          `json:"constraints"`
}

// subscribeResponse is the body returned on a successful subscription.
type subscribeResponse struct {
	SubscriptionID uuid.UUID `json:"subscriptionId"`
	Matched        int       `json:"matched"`
}

// counterRequest is the body of the counter endpoint.
type counterRequest struct {
	Properties  json.RawMessage `json:"properties"`
	Constraints string          `json:"constraints"`
}

// rejectRequest is the body of the reject endpoint.
type rejectRequest struct {
	Reason string `json:"reason"`
}

// injectRequest is the body of POST /admin/v1/inject.
type injectRequest struct {
	SubscriptionID uuid.UUID       `json:"subscriptionId"`
	IssuerKey      string          `json:"issuerKey"`
	Properties     json.RawMessage `json:"properties"`
	Constraints    string          `json:"constraints"`
}

// callerKey extracts the node key from the Authorization header.
func callerKey(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, prefix))
}

// SubscribeDemand handles POST /market-api/v1/demands
func (h *MarketHandler) SubscribeDemand(w http.ResponseWriter, r *http.Request) {
	h.handleSubscribe(w, r, marketDomain.SideDemand)
}

// SubscribeOffer handles POST /market-api/v1/offers
func (h *MarketHandler) SubscribeOffer(w http.ResponseWriter, r *http.Request) {
	h.handleSubscribe(w, r, marketDomain.SideOffer)
}

func (h *MarketHandler) handleSubscribe(w http.ResponseWriter, r *http.Request, side marketDomain.Side) {
	caller := callerKey(r)
	if caller == "" {
		writeError(w, http.StatusUnauthorized, "Authorization header with a node key is required")
		return
	}

	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.subscribe.Handle(r.Context(), commands.SubscribeCommand{
		Side:        side,
		OwnerKey:    caller,
		Properties:  req.Properties,
		Constraints: req.Constraints,
	})
	if err != nil {
		h.writeDomainError(w, err, "failed to subscribe")
		return
	}

	writeJSON(w, http.StatusCreated, subscribeResponse{
		SubscriptionID: result.SubscriptionID,
		Matched:        result.Matched,
	})
}

// Unsubscribe handles DELETE /market-api/v1/{demands,offers}/{subscriptionID}
func (h *MarketHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	caller := callerKey(r)
	if caller == "" {
		writeError(w, http.StatusUnauthorized, "Authorization header with a node key is required")
		return
	}

	id, err := uuid.Parse(r.PathValue("subscriptionID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid subscription ID")
		return
	}

	if err := h.unsubscribe.Handle(r.Context(), commands.UnsubscribeCommand{
		SubscriptionID: id,
		CallerKey:      caller,
	}); err != nil {
		h.writeDomainError(w, err, "failed to unsubscribe")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CollectEvents handles GET /market-api/v1/{demands,offers}/{subscriptionID}/events
func (h *MarketHandler) CollectEvents(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("subscriptionID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid subscription ID")
		return
	}

	timeout := defaultCollectTimeout
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		seconds, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid timeout parameter")
			return
		}
		timeout = time.Duration(seconds * float64(time.Second))
	}

	var maxEvents *int
	if raw := r.URL.Query().Get("maxEvents"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid maxEvents parameter")
			return
		}
		maxEvents = &n
	}

	events, err := h.collectEvents.Handle(r.Context(), queries.CollectEventsQuery{
		SubscriptionID: id,
		CallerKey:      callerKey(r),
		Timeout:        timeout,
		MaxEvents:      maxEvents,
	})
	if err != nil {
		h.writeDomainError(w, err, "failed to collect events")
		return
	}

	writeJSON(w, http.StatusOK, events)
}

// ListDemands handles GET /market-api/v1/demands
func (h *MarketHandler) ListDemands(w http.ResponseWriter, r *http.Request) {
	h.handleList(w, r, marketDomain.SideDemand)
}

// ListOffers handles GET /market-api/v1/offers
func (h *MarketHandler) ListOffers(w http.ResponseWriter, r *http.Request) {
	h.handleList(w, r, marketDomain.SideOffer)
}

func (h *MarketHandler) handleList(w http.ResponseWriter, r *http.Request, side marketDomain.Side) {
	query := queries.ListSubscriptionsQuery{Side: &side}
	if r.URL.Query().Get("mine") == "true" {
		query.OwnerKey = callerKey(r)
	}

	subs, err := h.listSubs.Handle(r.Context(), query)
	if err != nil {
		h.writeDomainError(w, err, "failed to list subscriptions")
		return
	}

	writeJSON(w, http.StatusOK, subs)
}

// GetProposal handles GET /market-api/v1/proposals/{proposalID}
func (h *MarketHandler) GetProposal(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("proposalID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid proposal ID")
		return
	}

	proposal, err := h.getProposal.Handle(r.Context(), queries.GetProposalQuery{ProposalID: id})
	if err != nil {
		h.writeDomainError(w, err, "failed to get proposal")
		return
	}

	writeJSON(w, http.StatusOK, proposal)
}

// CounterProposal handles POST /market-api/v1/proposals/{proposalID}/counter
func (h *MarketHandler) CounterProposal(w http.ResponseWriter, r *http.Request) {
	caller := callerKey(r)
	if caller == "" {
		writeError(w, http.StatusUnauthorized, "Authorization header with a node key is required")
		return
	}

	id, err := uuid.Parse(r.PathValue("proposalID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid proposal ID")
		return
	}

	var req counterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.counterProposal.Handle(r.Context(), commands.CounterProposalCommand{
		ProposalID:  id,
		CallerKey:   caller,
		Properties:  req.Properties,
		Constraints: req.Constraints,
	})
	if err != nil {
		h.writeDomainError(w, err, "failed to counter proposal")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]uuid.UUID{"proposalId": result.ProposalID})
}

// AcceptProposal handles POST /market-api/v1/proposals/{proposalID}/accept
func (h *MarketHandler) AcceptProposal(w http.ResponseWriter, r *http.Request) {
	caller := callerKey(r)
	if caller == "" {
		writeError(w, http.StatusUnauthorized, "Authorization header with a node key is required")
		return
	}

	id, err := uuid.Parse(r.PathValue("proposalID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid proposal ID")
		return
	}

	if err := h.acceptProposal.Handle(r.Context(), commands.AcceptProposalCommand{
		ProposalID: id,
		CallerKey:  caller,
	}); err != nil {
		h.writeDomainError(w, err, "failed to accept proposal")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RejectProposal handles POST /market-api/v1/proposals/{proposalID}/reject
func (h *MarketHandler) RejectProposal(w http.ResponseWriter, r *http.Request) {
	caller := callerKey(r)
	if caller == "" {
		writeError(w, http.StatusUnauthorized, "Authorization header with a node key is required")
		return
	}

	id, err := uuid.Parse(r.PathValue("proposalID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid proposal ID")
		return
	}

	var req rejectRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	if err := h.rejectProposal.Handle(r.Context(), commands.RejectProposalCommand{
		ProposalID: id,
		CallerKey:  caller,
		Reason:     req.Reason,
	}); err != nil {
		h.writeDomainError(w, err, "failed to reject proposal")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// InjectProposal handles POST /admin/v1/inject
func (h *MarketHandler) InjectProposal(w http.ResponseWriter, r *http.Request) {
	var req injectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.IssuerKey == "" {
		writeError(w, http.StatusBadRequest, "issuerKey is required")
		return
	}

	result, err := h.injectProposal.Handle(r.Context(), commands.InjectProposalCommand{
		SubscriptionID: req.SubscriptionID,
		IssuerKey:      req.IssuerKey,
		Properties:     req.Properties,
		Constraints:    req.Constraints,
	})
	if err != nil {
		h.writeDomainError(w, err, "failed to inject proposal")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]uuid.UUID{"proposalId": result.ProposalID})
}

// writeDomainError maps domain and engine errors onto HTTP statuses.
func (h *MarketHandler) writeDomainError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case errors.Is(err, negotiation.ErrInvalidMaxEvents),
		errors.Is(err, marketDomain.ErrInvalidProperties),
		errors.Is(err, marketDomain.ErrUnknownSide):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, negotiation.ErrForbidden),
		errors.Is(err, marketDomain.ErrNotProposalRecipient):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, negotiation.ErrNotFound),
		errors.Is(err, marketDomain.ErrSubscriptionNotFound),
		errors.Is(err, marketDomain.ErrProposalNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, negotiation.ErrUnsubscribed):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, marketDomain.ErrProposalNotNegotiable),
		errors.Is(err, marketDomain.ErrProposalNotCountered):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error(logMsg, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
