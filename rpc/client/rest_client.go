package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mutualcredit/mcledger/rpc"
	"github.com/mutualcredit/mcledger/snapshot"
	"github.com/mutualcredit/mcledger/transactor"
	"github.com/mutualcredit/mcledger/types"
)

const (
	apiPrefix        = "api/v1"
	InfoPath         = apiPrefix + "/info"
	BalancePath      = apiPrefix + "/balance"
	TransactionsPath = apiPrefix + "/transactions"
	AttestationsPath = apiPrefix + "/attestations"
	OffersPath       = apiPrefix + "/offers"

	defaultScheme   = "http://"
	contentType     = "Content-Type"
	applicationJson = "application/json"
)

/*
AgentClient talks to the REST API of the ledger node.
*/
type AgentClient struct {
	BaseUrl    *url.URL
	HttpClient http.Client
}

func New(baseUrl string) (*AgentClient, error) {
	if !strings.HasPrefix(baseUrl, "http://") && !strings.HasPrefix(baseUrl, "https://") {
		baseUrl = defaultScheme + baseUrl
	}
	u, err := url.Parse(baseUrl)
	if err != nil {
		return nil, fmt.Errorf("error parsing agent client base URL (%s): %w", baseUrl, err)
	}
	return &AgentClient{
		BaseUrl: u,
		// accepting an offer waits for several round trips to the counterparty
		HttpClient: http.Client{Timeout: time.Minute},
	}, nil
}

func (c *AgentClient) Info(ctx context.Context) (*rpc.InfoResponse, error) {
	rsp := &rpc.InfoResponse{}
	if err := c.get(ctx, c.BaseUrl.JoinPath(InfoPath), rsp); err != nil {
		return nil, fmt.Errorf("get node info request failed: %w", err)
	}
	return rsp, nil
}

func (c *AgentClient) GetBalance(ctx context.Context) (*rpc.BalanceResponse, error) {
	rsp := &rpc.BalanceResponse{}
	if err := c.get(ctx, c.BaseUrl.JoinPath(BalancePath), rsp); err != nil {
		return nil, fmt.Errorf("get balance request failed: %w", err)
	}
	return rsp, nil
}

func (c *AgentClient) GetTransactions(ctx context.Context) ([]*transactor.TransactionItem, error) {
	var rsp []*transactor.TransactionItem
	if err := c.get(ctx, c.BaseUrl.JoinPath(TransactionsPath), &rsp); err != nil {
		return nil, fmt.Errorf("get transactions request failed: %w", err)
	}
	return rsp, nil
}

func (c *AgentClient) GetAttestations(ctx context.Context) ([]*transactor.AttestationItem, error) {
	var rsp []*transactor.AttestationItem
	if err := c.get(ctx, c.BaseUrl.JoinPath(AttestationsPath), &rsp); err != nil {
		return nil, fmt.Errorf("get attestations request failed: %w", err)
	}
	return rsp, nil
}

func (c *AgentClient) GetOffers(ctx context.Context) ([]*transactor.OfferItem, error) {
	var rsp []*transactor.OfferItem
	if err := c.get(ctx, c.BaseUrl.JoinPath(OffersPath), &rsp); err != nil {
		return nil, fmt.Errorf("get offers request failed: %w", err)
	}
	return rsp, nil
}

func (c *AgentClient) GetOffer(ctx context.Context, txAddr types.Address) (*types.Offer, error) {
	rsp := &transactor.OfferItem{}
	if err := c.get(ctx, c.BaseUrl.JoinPath(OffersPath, string(txAddr)), rsp); err != nil {
		return nil, fmt.Errorf("get offer request failed: %w", err)
	}
	return rsp.Offer, nil
}

func (c *AgentClient) CreateOffer(ctx context.Context, creditor types.Address, amount float64) (types.Address, error) {
	rsp := &rpc.CreateOfferResponse{}
	req := &rpc.CreateOfferRequest{Creditor: creditor, Amount: amount}
	if err := c.post(ctx, c.BaseUrl.JoinPath(OffersPath), req, rsp); err != nil {
		return "", fmt.Errorf("create offer request failed: %w", err)
	}
	return rsp.TransactionAddress, nil
}

func (c *AgentClient) GetSnapshot(ctx context.Context, txAddr types.Address) (*snapshot.CounterpartySnapshot, error) {
	rsp := &snapshot.CounterpartySnapshot{}
	if err := c.get(ctx, c.BaseUrl.JoinPath(OffersPath, string(txAddr), "snapshot"), rsp); err != nil {
		return nil, fmt.Errorf("get counterparty snapshot request failed: %w", err)
	}
	return rsp, nil
}

func (c *AgentClient) AcceptOffer(ctx context.Context, txAddr, anchor types.Address) (*types.TransactionCompletedProof, error) {
	rsp := &types.TransactionCompletedProof{}
	req := &rpc.AcceptOfferRequest{Anchor: anchor}
	if err := c.post(ctx, c.BaseUrl.JoinPath(OffersPath, string(txAddr), "accept"), req, rsp); err != nil {
		return nil, fmt.Errorf("accept offer request failed: %w", err)
	}
	return rsp, nil
}

func (c *AgentClient) CancelOffer(ctx context.Context, txAddr types.Address) error {
	if err := c.post(ctx, c.BaseUrl.JoinPath(OffersPath, string(txAddr), "cancel"), nil, nil); err != nil {
		return fmt.Errorf("cancel offer request failed: %w", err)
	}
	return nil
}

func (c *AgentClient) get(ctx context.Context, u *url.URL, rspData any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to build http request: %w", err)
	}
	return c.do(req, rspData)
}

func (c *AgentClient) post(ctx context.Context, u *url.URL, reqData, rspData any) error {
	var body io.Reader = http.NoBody
	if reqData != nil {
		b, err := json.Marshal(reqData)
		if err != nil {
			return fmt.Errorf("failed to encode request data: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), body)
	if err != nil {
		return fmt.Errorf("failed to build http request: %w", err)
	}
	req.Header.Set(contentType, applicationJson)
	return c.do(req, rspData)
}

func (c *AgentClient) do(req *http.Request, rspData any) error {
	rsp, err := c.HttpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer rsp.Body.Close()

	if rsp.StatusCode >= http.StatusBadRequest {
		return decodeError(rsp)
	}
	if rspData == nil || rsp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(rsp.Body).Decode(rspData); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}

// decodeError converts error response to error, 404 is returned as types.ErrNotFound.
func decodeError(rsp *http.Response) error {
	errInfo := &rpc.ErrorResponse{}
	if err := json.NewDecoder(rsp.Body).Decode(errInfo); err != nil || errInfo.Message == "" {
		errInfo.Message = rsp.Status
	}
	if rsp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", types.ErrNotFound, errInfo.Message)
	}
	return fmt.Errorf("%s (status %d)", errInfo.Message, rsp.StatusCode)
}
