package treasuryapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/covault/covault/treasury"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// nopPublisher discards events; handler tests assert on HTTP behaviour only.
type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, []byte) error { return nil }

// newTestComponent builds a component over in-memory buckets with admin
// "admin" and a bank seeded for alice and bob.
func newTestComponent(t *testing.T) *Component {
	t.Helper()

	ctx := context.Background()
	store := treasury.NewStoreWithBuckets(treasury.NewMemBucket(), treasury.NewMemBucket())
	_, err := store.EnsureState(ctx, treasury.State{Admin: "admin", Oracle: "oracle-1"})
	require.NoError(t, err)

	bank, err := treasury.NewKVTokenBankWithBucket(ctx, treasury.NewMemBucket(), map[string]int64{
		"alice": 1_000,
		"bob":   1_000,
		"carol": 1_000,
	})
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &Component{
		name:    "treasury-api",
		config:  DefaultConfig(),
		logger:  logger,
		ledger:  treasury.NewLedger(store, bank, nopPublisher{}, "treasury-api", logger),
		metrics: NewMetrics(),
	}
}

// do runs a request against the component router and returns the recorder.
func do(t *testing.T, c *Component, method, path, caller string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	if caller != "" {
		req.Header.Set(callerHeader, caller)
	}

	rec := httptest.NewRecorder()
	c.newRouter().ServeHTTP(rec, req)
	return rec
}

// addMembers registers identities through the admin endpoint.
func addMembers(t *testing.T, c *Component, identities ...string) {
	t.Helper()
	for _, id := range identities {
		rec := do(t, c, http.MethodPost, "/api/v1/members", "admin", IdentityRequest{Identity: id})
		require.Equal(t, http.StatusCreated, rec.Code, "add member %s: %s", id, rec.Body.String())
	}
}

func TestAddMember(t *testing.T) {
	c := newTestComponent(t)

	rec := do(t, c, http.MethodPost, "/api/v1/members", "admin", IdentityRequest{Identity: "alice"})
	assert.Equal(t, http.StatusCreated, rec.Code)

	t.Run("duplicate conflicts", func(t *testing.T) {
		rec := do(t, c, http.MethodPost, "/api/v1/members", "admin", IdentityRequest{Identity: "alice"})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("non-admin forbidden", func(t *testing.T) {
		rec := do(t, c, http.MethodPost, "/api/v1/members", "alice", IdentityRequest{Identity: "bob"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("missing caller header", func(t *testing.T) {
		rec := do(t, c, http.MethodPost, "/api/v1/members", "", IdentityRequest{Identity: "bob"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("empty identity", func(t *testing.T) {
		rec := do(t, c, http.MethodPost, "/api/v1/members", "admin", IdentityRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRemoveMember(t *testing.T) {
	c := newTestComponent(t)
	addMembers(t, c, "alice", "bob")

	rec := do(t, c, http.MethodDelete, "/api/v1/members/bob", "admin", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	t.Run("unknown member", func(t *testing.T) {
		rec := do(t, c, http.MethodDelete, "/api/v1/members/mallory", "admin", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestDepositAndTreasuryView(t *testing.T) {
	c := newTestComponent(t)
	addMembers(t, c, "alice", "bob")

	rec := do(t, c, http.MethodPost, "/api/v1/deposits", "alice", DepositRequest{Amount: 300})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, c, http.MethodGet, "/api/v1/treasury", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var view TreasuryView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "admin", view.Admin)
	assert.Equal(t, "oracle-1", view.Oracle)
	assert.Equal(t, []string{"alice", "bob"}, view.Members)
	assert.Equal(t, 2, view.MemberCount)
	assert.Equal(t, 2, view.MajorityThreshold)
	assert.Equal(t, int64(300), view.TotalDeposits)
	assert.Equal(t, int64(300), view.CustodyBalance)
	assert.Equal(t, int64(300), view.Deposits["alice"])

	t.Run("non-member deposit forbidden", func(t *testing.T) {
		rec := do(t, c, http.MethodPost, "/api/v1/deposits", "mallory", DepositRequest{Amount: 50})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("zero amount rejected", func(t *testing.T) {
		rec := do(t, c, http.MethodPost, "/api/v1/deposits", "alice", DepositRequest{Amount: 0})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestProposalLifecycle(t *testing.T) {
	c := newTestComponent(t)
	addMembers(t, c, "alice", "bob", "carol")

	rec := do(t, c, http.MethodPost, "/api/v1/deposits", "alice", DepositRequest{Amount: 1_000})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, c, http.MethodPost, "/api/v1/proposals", "alice", ProposalRequest{
		Recipient:   "vendor-1",
		Amount:      100,
		Description: "monthly infrastructure subscription",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created map[string]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, int64(1), created["id"])

	// Two of three members approve.
	rec = do(t, c, http.MethodPost, "/api/v1/proposals/1/votes", "alice", VoteRequest{Support: true})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, c, http.MethodPost, "/api/v1/proposals/1/votes", "bob", VoteRequest{Support: true})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, c, http.MethodPost, "/api/v1/proposals/1/execute", "carol", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var p treasury.Proposal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.True(t, p.Executed)
	assert.Equal(t, "carol", p.ExecutedBy)
	assert.False(t, p.ExecutedByOracle)

	t.Run("re-execution conflicts", func(t *testing.T) {
		rec := do(t, c, http.MethodPost, "/api/v1/proposals/1/execute", "carol", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("votes frozen after execution", func(t *testing.T) {
		rec := do(t, c, http.MethodPost, "/api/v1/proposals/1/votes", "carol", VoteRequest{Support: false})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("custody balance reduced", func(t *testing.T) {
		rec := do(t, c, http.MethodGet, "/api/v1/treasury", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var view TreasuryView
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
		assert.Equal(t, int64(900), view.CustodyBalance)
	})
}

func TestVoteErrors(t *testing.T) {
	c := newTestComponent(t)
	addMembers(t, c, "alice", "bob")

	rec := do(t, c, http.MethodPost, "/api/v1/deposits", "alice", DepositRequest{Amount: 500})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, c, http.MethodPost, "/api/v1/proposals", "alice", ProposalRequest{
		Recipient: "vendor-1", Amount: 40, Description: "tooling",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	t.Run("non-member forbidden", func(t *testing.T) {
		rec := do(t, c, http.MethodPost, "/api/v1/proposals/1/votes", "mallory", VoteRequest{Support: true})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("double vote conflicts", func(t *testing.T) {
		rec := do(t, c, http.MethodPost, "/api/v1/proposals/1/votes", "alice", VoteRequest{Support: true})
		require.Equal(t, http.StatusOK, rec.Code)
		rec = do(t, c, http.MethodPost, "/api/v1/proposals/1/votes", "alice", VoteRequest{Support: false})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("unknown proposal", func(t *testing.T) {
		rec := do(t, c, http.MethodPost, "/api/v1/proposals/99/votes", "bob", VoteRequest{Support: true})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("invalid proposal id", func(t *testing.T) {
		rec := do(t, c, http.MethodPost, "/api/v1/proposals/abc/votes", "bob", VoteRequest{Support: true})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestExecuteNotApproved(t *testing.T) {
	c := newTestComponent(t)
	addMembers(t, c, "alice", "bob", "carol")

	rec := do(t, c, http.MethodPost, "/api/v1/deposits", "alice", DepositRequest{Amount: 500})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, c, http.MethodPost, "/api/v1/proposals", "alice", ProposalRequest{
		Recipient: "vendor-1", Amount: 40, Description: "tooling",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	// One of three approvals is below the threshold of two.
	rec = do(t, c, http.MethodPost, "/api/v1/proposals/1/votes", "alice", VoteRequest{Support: true})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, c, http.MethodPost, "/api/v1/proposals/1/execute", "alice", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestListAndGetProposals(t *testing.T) {
	c := newTestComponent(t)
	addMembers(t, c, "alice")

	rec := do(t, c, http.MethodGet, "/api/v1/proposals", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = do(t, c, http.MethodPost, "/api/v1/proposals", "alice", ProposalRequest{
		Recipient: "vendor-1", Amount: 10, Description: "gas top-up",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, c, http.MethodGet, "/api/v1/proposals", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []treasury.Proposal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "vendor-1", list[0].Recipient)

	rec = do(t, c, http.MethodGet, "/api/v1/proposals/1", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, c, http.MethodGet, "/api/v1/proposals/7", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMalformedBody(t *testing.T) {
	c := newTestComponent(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/members", bytes.NewBufferString("{not json"))
	req.Header.Set(callerHeader, "admin")
	rec := httptest.NewRecorder()
	c.newRouter().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	c := newTestComponent(t)

	// Not started, so the component reports unhealthy.
	rec := do(t, c, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// Hit an instrumented route so the request counter has a sample.
	rec = do(t, c, http.MethodGet, "/api/v1/proposals", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, c, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "treasury_http_requests_total")
}
