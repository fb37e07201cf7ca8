package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/mutualcredit/mcledger/snapshot"
	"github.com/mutualcredit/mcledger/transactor"
	"github.com/mutualcredit/mcledger/types"
)

const paramTxAddr = "txAddr"

type (
	// AgentAPI is the set of agent operations exposed over REST, implemented by *transactor.Agent.
	AgentAPI interface {
		Address() types.Address
		CreateOffer(ctx context.Context, creditor types.Address, amount float64, timestamp int64) (types.Address, error)
		GetCounterpartySnapshot(ctx context.Context, txAddr types.Address) (*snapshot.CounterpartySnapshot, error)
		AcceptOffer(ctx context.Context, txAddr, anchor types.Address) (*types.TransactionCompletedProof, error)
		CancelOffer(ctx context.Context, txAddr types.Address) error
		QueryMyBalance() (float64, error)
		QueryMyTransactions() ([]*transactor.TransactionItem, error)
		QueryOffer(txAddr types.Address) (*types.Offer, error)
		QueryMyOffers() ([]*transactor.OfferItem, error)
		QueryMyAttestations() ([]*transactor.AttestationItem, error)
	}

	BalanceResponse struct {
		Agent   types.Address `json:"agent"`
		Balance float64       `json:"balance"`
	}

	CreateOfferRequest struct {
		Creditor types.Address `json:"creditor"`
		Amount   float64       `json:"amount"`
		// unix milliseconds, current time is used when zero
		Timestamp int64 `json:"timestamp,omitempty"`
	}

	CreateOfferResponse struct {
		TransactionAddress types.Address `json:"transactionAddress"`
	}

	AcceptOfferRequest struct {
		Anchor types.Address `json:"anchor"`
	}

	agentHandlers struct {
		agent AgentAPI
		now   func() time.Time
		rw    responseWriter
	}
)

/*
AgentEndpoints registers the REST endpoints of the agent's offer operations
and queries.
*/
func AgentEndpoints(agent AgentAPI, log *slog.Logger) RegistrarFunc {
	return func(r *mux.Router) {
		h := &agentHandlers{agent: agent, now: time.Now, rw: responseWriter{log: log}}
		h.register(r)
	}
}

func (h *agentHandlers) register(r *mux.Router) {
	r.HandleFunc("/balance", h.getBalance).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/transactions", h.getTransactions).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/attestations", h.getAttestations).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/offers", h.getOffers).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/offers", h.postOffer).Methods(http.MethodPost)
	r.HandleFunc("/offers/{txAddr}", h.getOffer).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/offers/{txAddr}/snapshot", h.getSnapshot).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/offers/{txAddr}/accept", h.postAccept).Methods(http.MethodPost)
	r.HandleFunc("/offers/{txAddr}/cancel", h.postCancel).Methods(http.MethodPost)
}

func (h *agentHandlers) getBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.agent.QueryMyBalance()
	if err != nil {
		h.rw.writeErrorResponse(w, r, err)
		return
	}
	h.rw.writeResponse(w, r, http.StatusOK, BalanceResponse{Agent: h.agent.Address(), Balance: balance})
}

func (h *agentHandlers) getTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.agent.QueryMyTransactions()
	if err != nil {
		h.rw.writeErrorResponse(w, r, err)
		return
	}
	h.rw.writeResponse(w, r, http.StatusOK, nonNil(txs))
}

func (h *agentHandlers) getAttestations(w http.ResponseWriter, r *http.Request) {
	atts, err := h.agent.QueryMyAttestations()
	if err != nil {
		h.rw.writeErrorResponse(w, r, err)
		return
	}
	h.rw.writeResponse(w, r, http.StatusOK, nonNil(atts))
}

func (h *agentHandlers) getOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := h.agent.QueryMyOffers()
	if err != nil {
		h.rw.writeErrorResponse(w, r, err)
		return
	}
	h.rw.writeResponse(w, r, http.StatusOK, nonNil(offers))
}

func (h *agentHandlers) getOffer(w http.ResponseWriter, r *http.Request) {
	txAddr := types.Address(mux.Vars(r)[paramTxAddr])
	offer, err := h.agent.QueryOffer(txAddr)
	if err != nil {
		h.rw.writeErrorResponse(w, r, err)
		return
	}
	h.rw.writeResponse(w, r, http.StatusOK, &transactor.OfferItem{Address: txAddr, Offer: offer})
}

func (h *agentHandlers) postOffer(w http.ResponseWriter, r *http.Request) {
	req := &CreateOfferRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		h.rw.writeErrorResponse(w, r, fmt.Errorf("%w: decoding request body: %w", errInvalidRequest, err))
		return
	}
	if req.Timestamp == 0 {
		req.Timestamp = h.now().UnixMilli()
	}
	tx := &types.Transaction{Debtor: h.agent.Address(), Creditor: req.Creditor, Amount: req.Amount, Timestamp: req.Timestamp}
	if err := tx.IsValid(); err != nil {
		h.rw.writeErrorResponse(w, r, fmt.Errorf("%w: %w", errInvalidRequest, err))
		return
	}

	txAddr, err := h.agent.CreateOffer(r.Context(), req.Creditor, req.Amount, req.Timestamp)
	if err != nil {
		h.rw.writeErrorResponse(w, r, err)
		return
	}
	h.rw.writeResponse(w, r, http.StatusCreated, CreateOfferResponse{TransactionAddress: txAddr})
}

func (h *agentHandlers) getSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.agent.GetCounterpartySnapshot(r.Context(), types.Address(mux.Vars(r)[paramTxAddr]))
	if err != nil {
		h.rw.writeErrorResponse(w, r, err)
		return
	}
	h.rw.writeResponse(w, r, http.StatusOK, snap)
}

func (h *agentHandlers) postAccept(w http.ResponseWriter, r *http.Request) {
	req := &AcceptOfferRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		h.rw.writeErrorResponse(w, r, fmt.Errorf("%w: decoding request body: %w", errInvalidRequest, err))
		return
	}
	if req.Anchor == "" {
		h.rw.invalidParamResponse(w, r, "anchor", fmt.Errorf("address of the counterparty's last header is required"))
		return
	}

	proof, err := h.agent.AcceptOffer(r.Context(), types.Address(mux.Vars(r)[paramTxAddr]), req.Anchor)
	if err != nil {
		h.rw.writeErrorResponse(w, r, err)
		return
	}
	h.rw.writeResponse(w, r, http.StatusOK, proof)
}

func (h *agentHandlers) postCancel(w http.ResponseWriter, r *http.Request) {
	if err := h.agent.CancelOffer(r.Context(), types.Address(mux.Vars(r)[paramTxAddr])); err != nil {
		h.rw.writeErrorResponse(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// nonNil makes sure empty list is encoded as JSON array rather than null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
