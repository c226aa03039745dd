package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/openagora/agora/internal/market/application/queries"
)

// Client is a thin REST client for the market node API.
type Client struct {
	baseURL string
	nodeKey string
	http    *http.Client
}

// NewClient creates a client for the node at baseURL, authenticating as
// nodeKey.
func NewClient(baseURL, nodeKey string) *Client {
	return &Client{
		baseURL: baseURL,
		nodeKey: nodeKey,
		// No client-side timeout: event polls block server-side for the
		// requested window and are bounded by the request context.
		http: &http.Client{},
	}
}

// SubscribeResult is the response of publishing a demand or an offer.
type SubscribeResult struct {
	SubscriptionID uuid.UUID `json:"subscriptionId"`
	Matched        int       `json:"matched"`
}

type subscribeBody struct {
	Properties  json.RawMessage `json:"properties,omitempty"`
	Constraints string          `json:"constraints,omitempty"`
}

type counterBody struct {
	Properties  json.RawMessage `json:"properties,omitempty"`
	Constraints string          `json:"constraints,omitempty"`
}

type rejectBody struct {
	Reason string `json:"reason,omitempty"`
}

type apiErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Subscribe publishes a demand or an offer, side being "demands" or "offers".
func (c *Client) Subscribe(ctx context.Context, side string, properties json.RawMessage, constraints string) (*SubscribeResult, error) {
	var result SubscribeResult
	err := c.call(ctx, http.MethodPost, "/market-api/v1/"+side, subscribeBody{
		Properties:  properties,
		Constraints: constraints,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Unsubscribe drops a subscription.
func (c *Client) Unsubscribe(ctx context.Context, side string, id uuid.UUID) error {
	return c.call(ctx, http.MethodDelete, fmt.Sprintf("/market-api/v1/%s/%s", side, id), nil, nil)
}

// CollectEvents long-polls a subscription's queue for at most timeout.
func (c *Client) CollectEvents(ctx context.Context, side string, id uuid.UUID, timeout time.Duration, maxEvents int) ([]queries.EventDTO, error) {
	params := url.Values{}
	params.Set("timeout", strconv.FormatFloat(timeout.Seconds(), 'f', -1, 64))
	if maxEvents > 0 {
		params.Set("maxEvents", strconv.Itoa(maxEvents))
	}

	var events []queries.EventDTO
	path := fmt.Sprintf("/market-api/v1/%s/%s/events?%s", side, id, params.Encode())
	if err := c.call(ctx, http.MethodGet, path, nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// GetProposal fetches one proposal.
func (c *Client) GetProposal(ctx context.Context, id uuid.UUID) (*queries.ProposalDTO, error) {
	var proposal queries.ProposalDTO
	if err := c.call(ctx, http.MethodGet, "/market-api/v1/proposals/"+id.String(), nil, &proposal); err != nil {
		return nil, err
	}
	return &proposal, nil
}

// Counter answers a proposal with revised terms and returns the new
// proposal's id.
func (c *Client) Counter(ctx context.Context, id uuid.UUID, properties json.RawMessage, constraints string) (uuid.UUID, error) {
	var result struct {
		ProposalID uuid.UUID `json:"proposalId"`
	}
	err := c.call(ctx, http.MethodPost, fmt.Sprintf("/market-api/v1/proposals/%s/counter", id), counterBody{
		Properties:  properties,
		Constraints: constraints,
	}, &result)
	if err != nil {
		return uuid.Nil, err
	}
	return result.ProposalID, nil
}

// Accept closes a negotiation in agreement.
func (c *Client) Accept(ctx context.Context, id uuid.UUID) error {
	return c.call(ctx, http.MethodPost, fmt.Sprintf("/market-api/v1/proposals/%s/accept", id), nil, nil)
}

// Reject closes a negotiation with a refusal.
func (c *Client) Reject(ctx context.Context, id uuid.UUID, reason string) error {
	return c.call(ctx, http.MethodPost, fmt.Sprintf("/market-api/v1/proposals/%s/reject", id), rejectBody{Reason: reason}, nil)
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.nodeKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.nodeKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr apiErrorBody
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Message != "" {
			return fmt.Errorf("%s %s: %s (%s)", method, path, apiErr.Message, resp.Status)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
