package treasuryapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/covault/covault/treasury"
	"github.com/gorilla/mux"
)

// maxRequestBodySize limits POST body sizes to prevent DoS.
const maxRequestBodySize = 1 << 20 // 1 MB

// callerHeader carries the identity the request acts as. There is no
// authentication layer here; deployments front this API with one.
const callerHeader = "X-Covault-Caller"

// newRouter builds the gorilla/mux router for the treasury API.
func (c *Component) newRouter() *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/members", c.instrument("add_member", c.handleAddMember)).Methods("POST")
	api.HandleFunc("/members/{identity}", c.instrument("remove_member", c.handleRemoveMember)).Methods("DELETE")
	api.HandleFunc("/oracle", c.instrument("set_oracle", c.handleSetOracle)).Methods("PUT")
	api.HandleFunc("/deposits", c.instrument("deposit", c.handleDeposit)).Methods("POST")
	api.HandleFunc("/proposals", c.instrument("create_proposal", c.handleCreateProposal)).Methods("POST")
	api.HandleFunc("/proposals", c.instrument("list_proposals", c.handleListProposals)).Methods("GET")
	api.HandleFunc("/proposals/{id}", c.instrument("get_proposal", c.handleGetProposal)).Methods("GET")
	api.HandleFunc("/proposals/{id}/votes", c.instrument("vote", c.handleVote)).Methods("POST")
	api.HandleFunc("/proposals/{id}/execute", c.instrument("execute", c.handleExecute)).Methods("POST")
	api.HandleFunc("/treasury", c.instrument("treasury", c.handleTreasury)).Methods("GET")

	r.HandleFunc("/health", c.handleHealth).Methods("GET")
	r.Handle("/metrics", c.metrics.Handler()).Methods("GET")

	return r
}

// instrument wraps a handler with request count and duration metrics.
func (c *Component) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		c.metrics.requestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		c.metrics.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// caller extracts the acting identity from the request header. It writes a
// 401 and returns false when the header is missing.
func (c *Component) caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(callerHeader)
	if id == "" {
		writeError(w, http.StatusUnauthorized, "missing "+callerHeader+" header")
		return "", false
	}
	return id, true
}

// ----------------------------------------------------------------------------
// Membership and oracle administration
// ----------------------------------------------------------------------------

// IdentityRequest is the request body for member and oracle management.
type IdentityRequest struct {
	Identity string `json:"identity"`
}

func (c *Component) handleAddMember(w http.ResponseWriter, r *http.Request) {
	caller, ok := c.caller(w, r)
	if !ok {
		return
	}

	var req IdentityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Identity == "" {
		writeError(w, http.StatusBadRequest, "identity is required")
		return
	}

	if err := c.ledger.AddMember(r.Context(), caller, req.Identity); err != nil {
		c.writeLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"identity": req.Identity})
}

func (c *Component) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	caller, ok := c.caller(w, r)
	if !ok {
		return
	}

	identity := mux.Vars(r)["identity"]
	if err := c.ledger.RemoveMember(r.Context(), caller, identity); err != nil {
		c.writeLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"identity": identity})
}

func (c *Component) handleSetOracle(w http.ResponseWriter, r *http.Request) {
	caller, ok := c.caller(w, r)
	if !ok {
		return
	}

	var req IdentityRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := c.ledger.SetOracle(r.Context(), caller, req.Identity); err != nil {
		c.writeLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"oracle": req.Identity})
}

// ----------------------------------------------------------------------------
// Deposits
// ----------------------------------------------------------------------------

// DepositRequest is the request body for POST /api/v1/deposits.
type DepositRequest struct {
	Amount int64 `json:"amount"`
}

func (c *Component) handleDeposit(w http.ResponseWriter, r *http.Request) {
	caller, ok := c.caller(w, r)
	if !ok {
		return
	}

	var req DepositRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := c.ledger.Deposit(r.Context(), caller, req.Amount); err != nil {
		c.writeLedgerError(w, r, err)
		return
	}

	c.metrics.depositsTotal.Inc()
	c.metrics.depositedAmount.Add(float64(req.Amount))

	writeJSON(w, http.StatusOK, map[string]any{
		"identity": caller,
		"amount":   req.Amount,
	})
}

// ----------------------------------------------------------------------------
// Proposals
// ----------------------------------------------------------------------------

// ProposalRequest is the request body for POST /api/v1/proposals.
type ProposalRequest struct {
	Recipient   string `json:"recipient"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

func (c *Component) handleCreateProposal(w http.ResponseWriter, r *http.Request) {
	caller, ok := c.caller(w, r)
	if !ok {
		return
	}

	var req ProposalRequest
	if !decodeBody(w, r, &req) {
		return
	}

	id, err := c.ledger.CreateProposal(r.Context(), caller, req.Recipient, req.Amount, req.Description)
	if err != nil {
		c.writeLedgerError(w, r, err)
		return
	}

	c.metrics.proposalsTotal.Inc()

	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (c *Component) handleListProposals(w http.ResponseWriter, r *http.Request) {
	proposals, err := c.ledger.Store().ListProposals(r.Context())
	if err != nil {
		c.writeLedgerError(w, r, err)
		return
	}
	if proposals == nil {
		proposals = []*treasury.Proposal{}
	}
	writeJSON(w, http.StatusOK, proposals)
}

func (c *Component) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	id, ok := proposalID(w, r)
	if !ok {
		return
	}

	p, err := c.ledger.Store().GetProposal(r.Context(), id)
	if err != nil {
		c.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// VoteRequest is the request body for POST /api/v1/proposals/{id}/votes.
type VoteRequest struct {
	Support bool `json:"support"`
}

func (c *Component) handleVote(w http.ResponseWriter, r *http.Request) {
	caller, ok := c.caller(w, r)
	if !ok {
		return
	}

	id, ok := proposalID(w, r)
	if !ok {
		return
	}

	var req VoteRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := c.ledger.Vote(r.Context(), caller, id, req.Support); err != nil {
		c.writeLedgerError(w, r, err)
		return
	}

	c.metrics.votesTotal.Inc()

	writeJSON(w, http.StatusOK, map[string]any{
		"id":      id,
		"voter":   caller,
		"support": req.Support,
	})
}

func (c *Component) handleExecute(w http.ResponseWriter, r *http.Request) {
	caller, ok := c.caller(w, r)
	if !ok {
		return
	}

	id, ok := proposalID(w, r)
	if !ok {
		return
	}

	if err := c.ledger.ExecuteProposal(r.Context(), caller, id); err != nil {
		c.writeLedgerError(w, r, err)
		return
	}

	c.metrics.executionsTotal.WithLabelValues("member").Inc()

	p, err := c.ledger.Store().GetProposal(r.Context(), id)
	if err != nil {
		c.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ----------------------------------------------------------------------------
// Treasury view
// ----------------------------------------------------------------------------

// TreasuryView is the response body for GET /api/v1/treasury.
type TreasuryView struct {
	Admin             string           `json:"admin"`
	Oracle            string           `json:"oracle,omitempty"`
	Members           []string         `json:"members"`
	MemberCount       int              `json:"member_count"`
	MajorityThreshold int              `json:"majority_threshold"`
	Deposits          map[string]int64 `json:"deposits"`
	TotalDeposits     int64            `json:"total_deposits"`
	CustodyBalance    int64            `json:"custody_balance"`
}

func (c *Component) handleTreasury(w http.ResponseWriter, r *http.Request) {
	st, err := c.ledger.Store().GetState(r.Context())
	if err != nil {
		c.writeLedgerError(w, r, err)
		return
	}

	balance, err := c.ledger.Bridge().Balance(r.Context())
	if err != nil {
		c.writeLedgerError(w, r, err)
		return
	}

	members := make([]string, 0, len(st.Members))
	for id, ok := range st.Members {
		if ok {
			members = append(members, id)
		}
	}
	sort.Strings(members)

	writeJSON(w, http.StatusOK, TreasuryView{
		Admin:             st.Admin,
		Oracle:            st.Oracle,
		Members:           members,
		MemberCount:       st.MemberCount(),
		MajorityThreshold: st.MajorityThreshold(),
		Deposits:          st.Deposits,
		TotalDeposits:     st.TotalDeposits,
		CustodyBalance:    balance,
	})
}

func (c *Component) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := c.Health()
	status := http.StatusOK
	if !h.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"status":  h.Status,
		"healthy": h.Healthy,
	})
}

// ----------------------------------------------------------------------------
// Helpers
// ----------------------------------------------------------------------------

// writeLedgerError maps treasury sentinel errors onto HTTP status codes.
func (c *Component) writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, treasury.ErrUnauthorized),
		errors.Is(err, treasury.ErrUnauthorizedOracle):
		status = http.StatusForbidden
	case errors.Is(err, treasury.ErrNotMember):
		status = http.StatusForbidden
	case errors.Is(err, treasury.ErrAlreadyMember),
		errors.Is(err, treasury.ErrAlreadyVoted),
		errors.Is(err, treasury.ErrProposalExecuted),
		errors.Is(err, treasury.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, treasury.ErrInvalidAmount),
		errors.Is(err, treasury.ErrInvalidRecipient):
		status = http.StatusBadRequest
	case errors.Is(err, treasury.ErrProposalNotFound):
		status = http.StatusNotFound
	case errors.Is(err, treasury.ErrNotApproved),
		errors.Is(err, treasury.ErrInsufficientFunds):
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		c.logger.Error("Request failed", "path", r.URL.Path, "error", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

// proposalID parses the {id} path variable. Writes a 400 on bad input.
func proposalID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid proposal id")
		return 0, false
	}
	return id, true
}

// decodeBody decodes a JSON request body. Writes a 400 and returns false on
// malformed input.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// writeJSON marshals v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error body with the given status code.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
