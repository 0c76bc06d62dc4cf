package ledger

import (
	// Go Internal Packages
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	// Local Packages
	errors "tx-tracker/errors"
	models "tx-tracker/models"

	// External Packages
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// rpcServer answers every call of method with body, which is either a result or
// an error member.
func rpcServer(t *testing.T, method string, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, method, req.Method)
		assert.Equal(t, "2.0", req.JSONRPC)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,` + body + `}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, url string) *Client {
	t.Helper()
	c := NewClient(url, time.Second, zap.NewNop())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func result(v string) string { return `"result":` + v }

func op() models.Operation {
	return models.Operation{Category: models.CategoryAuctionBid, Params: models.CallParams{Envelope: "AAAA"}}
}

func TestSubmitReturnsHash(t *testing.T) {
	srv := rpcServer(t, "sendTransaction", result(`{"hash":"abc","status":"PENDING","latestLedger":10}`))
	c := newClient(t, srv.URL)

	id, err := c.Submit(context.Background(), op())
	require.NoError(t, err)
	assert.Equal(t, "abc", id)
}

func TestSubmitRejected(t *testing.T) {
	srv := rpcServer(t, "sendTransaction", result(`{"hash":"abc","status":"ERROR","errorResultXdr":"AAAB"}`))
	c := newClient(t, srv.URL)

	id, err := c.Submit(context.Background(), op())
	assert.Empty(t, id)
	assert.True(t, errors.Is(errors.Invalid, err))
	assert.Contains(t, err.Error(), "AAAB")
}

func TestSubmitRPCError(t *testing.T) {
	srv := rpcServer(t, "sendTransaction", `"error":{"code":-32602,"message":"bad envelope"}`)
	c := newClient(t, srv.URL)

	_, err := c.Submit(context.Background(), op())
	assert.True(t, errors.Is(errors.Unavailable, err))
	assert.Contains(t, err.Error(), "bad envelope")
}

func TestGetTransactionOutcome(t *testing.T) {
	cases := []struct {
		name   string
		result string
		want   models.LedgerStatus
	}{
		{"success", `{"status":"SUCCESS","ledger":99,"createdAt":"1700000000","returnValue":"AAAAAw=="}`, models.LedgerSucceeded},
		{"failed", `{"status":"FAILED","ledger":99,"resultXdr":"AAAA"}`, models.LedgerFailed},
		{"not found", `{"status":"NOT_FOUND","latestLedger":100}`, models.LedgerNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := rpcServer(t, "getTransaction", result(tc.result))
			c := newClient(t, srv.URL)

			out, err := c.GetTransactionOutcome(context.Background(), "abc")
			require.NoError(t, err)
			assert.Equal(t, tc.want, out.Status)
		})
	}
}

func TestGetTransactionOutcomeSuccessPayload(t *testing.T) {
	srv := rpcServer(t, "getTransaction", result(`{"status":"SUCCESS","ledger":99,"createdAt":"1700000000","returnValue":"AAAAAw=="}`))
	c := newClient(t, srv.URL)

	out, err := c.GetTransactionOutcome(context.Background(), "abc")
	require.NoError(t, err)
	assert.JSONEq(t, `{"return_value":"AAAAAw==","ledger":99}`, string(out.Result))
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), out.ClosedAt)
	assert.True(t, out.Terminal())
}

func TestHTTPFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gateway down", http.StatusBadGateway)
	}))
	defer srv.Close()
	c := newClient(t, srv.URL)

	_, err := c.GetTransactionOutcome(context.Background(), "abc")
	assert.True(t, errors.Is(errors.Unavailable, err))
}

func TestSubmitSendsEnvelope(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NoError(t, json.Unmarshal(req.Params, &got))
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"result":{"hash":"h1","status":"DUPLICATE"}}`))
	}))
	defer srv.Close()
	c := newClient(t, srv.URL)

	id, err := c.Submit(context.Background(), op())
	require.NoError(t, err)
	assert.Equal(t, "h1", id)
	assert.Equal(t, map[string]string{"transaction": "AAAA"}, got)
}

func TestUnknownStatusIsUnavailable(t *testing.T) {
	srv := rpcServer(t, "getTransaction", result(`{"status":"INGESTING"}`))
	c := newClient(t, srv.URL)

	_, err := c.GetTransactionOutcome(context.Background(), "abc")
	assert.True(t, errors.Is(errors.Unavailable, err))
}
