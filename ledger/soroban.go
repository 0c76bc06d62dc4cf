// Package ledger talks to a Soroban RPC endpoint: it submits signed envelopes and
// looks up the fate of submitted transactions.
package ledger

import (
	// Go Internal Packages
	"context"
	"encoding/json"
	goerrors "errors"
	"net/http"
	"strconv"
	"time"

	// Local Packages
	errors "tx-tracker/errors"
	models "tx-tracker/models"

	// External Packages
	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/jhttp"
	"go.uber.org/zap"
)

// Statuses reported by sendTransaction and getTransaction.
const (
	sendPending       = "PENDING"
	sendDuplicate     = "DUPLICATE"
	sendTryAgainLater = "TRY_AGAIN_LATER"

	txSuccess  = "SUCCESS"
	txFailed   = "FAILED"
	txNotFound = "NOT_FOUND"
)

type Client struct {
	rpc    *jrpc2.Client
	logger *zap.Logger
}

func NewClient(endpoint string, timeout time.Duration, logger *zap.Logger) *Client {
	ch := jhttp.NewChannel(endpoint, &jhttp.ChannelOptions{
		Client: &http.Client{Timeout: timeout},
	})
	return &Client{rpc: jrpc2.NewClient(ch, nil), logger: logger}
}

// Close shuts the rpc client down; pending calls fail.
func (c *Client) Close() error {
	return c.rpc.Close()
}

func (c *Client) call(ctx context.Context, method string, params, out any) error {
	err := c.rpc.CallResult(ctx, method, params, out)
	if err == nil {
		return nil
	}
	var rpcErr *jrpc2.Error
	if goerrors.As(err, &rpcErr) {
		return errors.E(errors.Unavailable, method, rpcErr)
	}
	return errors.E(errors.Unavailable, method, err)
}

type sendTransactionResult struct {
	Hash           string `json:"hash"`
	Status         string `json:"status"`
	LatestLedger   int64  `json:"latestLedger"`
	ErrorResultXDR string `json:"errorResultXdr"`
}

// Submit sends the signed envelope of op and returns the transaction hash. A request
// the ledger refuses outright (ERROR, TRY_AGAIN_LATER) yields no hash and an error.
func (c *Client) Submit(ctx context.Context, op models.Operation) (string, error) {
	var res sendTransactionResult
	params := map[string]string{"transaction": op.Params.Envelope}
	if err := c.call(ctx, "sendTransaction", params, &res); err != nil {
		return "", err
	}

	switch res.Status {
	case sendPending, sendDuplicate:
		if res.Hash == "" {
			return "", errors.E(errors.Unavailable, "sendTransaction returned no hash", nil)
		}
		c.logger.Debug("transaction submitted",
			zap.String("tx_id", res.Hash),
			zap.String("status", res.Status),
			zap.Int64("latest_ledger", res.LatestLedger),
		)
		return res.Hash, nil
	case sendTryAgainLater:
		return "", errors.E(errors.Unavailable, "ledger busy, try again later", nil)
	default:
		msg := "transaction rejected"
		if res.ErrorResultXDR != "" {
			msg += ": " + res.ErrorResultXDR
		}
		return "", errors.E(errors.Invalid, msg, nil)
	}
}

type getTransactionResult struct {
	Status      string `json:"status"`
	Ledger      int64  `json:"ledger"`
	CreatedAt   string `json:"createdAt"`
	ReturnValue string `json:"returnValue"`
	ResultXDR   string `json:"resultXdr"`
}

type successOutcome struct {
	ReturnValue string `json:"return_value,omitempty"`
	Ledger      int64  `json:"ledger"`
}

// GetTransactionOutcome asks the ledger what became of hash.
func (c *Client) GetTransactionOutcome(ctx context.Context, hash string) (models.LedgerOutcome, error) {
	var res getTransactionResult
	if err := c.call(ctx, "getTransaction", map[string]string{"hash": hash}, &res); err != nil {
		return models.LedgerOutcome{}, err
	}

	out := models.LedgerOutcome{Ledger: res.Ledger}
	if secs, err := strconv.ParseInt(res.CreatedAt, 10, 64); err == nil && secs > 0 {
		out.ClosedAt = time.Unix(secs, 0).UTC()
	}

	switch res.Status {
	case txSuccess:
		out.Status = models.LedgerSucceeded
		raw, err := json.Marshal(successOutcome{ReturnValue: res.ReturnValue, Ledger: res.Ledger})
		if err != nil {
			return models.LedgerOutcome{}, errors.E(errors.Internal, "encode outcome", err)
		}
		out.Result = raw
	case txFailed:
		out.Status = models.LedgerFailed
		out.Reason = "transaction failed on ledger"
		if res.ResultXDR != "" {
			out.Reason += ": " + res.ResultXDR
		}
	case txNotFound:
		out.Status = models.LedgerNotFound
	default:
		return models.LedgerOutcome{}, errors.E(errors.Unavailable, "unknown getTransaction status "+res.Status, nil)
	}
	return out, nil
}
