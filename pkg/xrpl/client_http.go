package xrpl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/nexus-labs/nexus/core/pkg/store"
)

const maxResponseBytes = 1 << 20

// HTTPClient speaks the XRPL JSON-RPC dialect over HTTP. When wired with a
// body store and an exchange store it records every request/response pair
// as content-addressed evidence.
type HTTPClient struct {
	endpoint  string
	httpc     *http.Client
	limiter   *rate.Limiter
	bodies    *store.BodyStore
	exchanges *store.ExchangeStore
	clock     func() time.Time
	logger    *slog.Logger
}

// HTTPClientOption configures an HTTPClient.
type HTTPClientOption func(*HTTPClient)

// WithHTTPClient swaps the underlying http.Client.
func WithHTTPClient(h *http.Client) HTTPClientOption {
	return func(c *HTTPClient) { c.httpc = h }
}

// WithRateLimit caps outbound request rate.
func WithRateLimit(rps float64, burst int) HTTPClientOption {
	return func(c *HTTPClient) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithEvidence enables exchange recording through the given stores.
func WithEvidence(bodies *store.BodyStore, exchanges *store.ExchangeStore) HTTPClientOption {
	return func(c *HTTPClient) {
		c.bodies = bodies
		c.exchanges = exchanges
	}
}

// WithClientClock overrides the clock for testing.
func WithClientClock(clock func() time.Time) HTTPClientOption {
	return func(c *HTTPClient) { c.clock = clock }
}

// NewHTTPClient builds a client against one JSON-RPC endpoint. The default
// rate limit is conservative; public rippled endpoints throttle hard.
func NewHTTPClient(endpoint string, opts ...HTTPClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint: endpoint,
		httpc:    &http.Client{Timeout: 30 * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(5), 5),
		clock:    time.Now,
		logger:   slog.Default().With("component", "xrpl.client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit posts a signed transaction blob.
func (c *HTTPClient) Submit(ctx context.Context, signedTxBlobHex string) (*SubmitResult, error) {
	resp, exchangeDigest, err := c.postJSON(ctx, map[string]any{
		"method": "submit",
		"params": []any{map[string]any{"tx_blob": signedTxBlobHex}},
	})
	if err != nil {
		return nil, err
	}

	result, _ := resp["result"].(map[string]any)
	if errName, ok := result["error"].(string); ok && errName != "" {
		detail, _ := result["error_message"].(string)
		return &SubmitResult{
			Accepted:       false,
			EngineResult:   errName,
			Detail:         detail,
			ExchangeDigest: exchangeDigest,
		}, nil
	}

	engine, _ := result["engine_result"].(string)
	detail, _ := result["engine_result_message"].(string)
	txHash := ""
	if txJSON, ok := result["tx_json"].(map[string]any); ok {
		txHash, _ = txJSON["hash"].(string)
	}
	return &SubmitResult{
		Accepted:       strings.HasPrefix(engine, "tes"),
		TxHash:         txHash,
		EngineResult:   engine,
		Detail:         detail,
		ExchangeDigest: exchangeDigest,
	}, nil
}

// GetTx queries a transaction's validation status. A txnNotFound answer is
// a normal "not yet" rather than an error.
func (c *HTTPClient) GetTx(ctx context.Context, txHash string) (*TxStatusResult, error) {
	resp, exchangeDigest, err := c.postJSON(ctx, map[string]any{
		"method": "tx",
		"params": []any{map[string]any{"transaction": txHash, "binary": false}},
	})
	if err != nil {
		return nil, err
	}

	result, _ := resp["result"].(map[string]any)
	if errName, ok := result["error"].(string); ok && errName != "" {
		if errName == "txnNotFound" {
			return &TxStatusResult{Found: false, ExchangeDigest: exchangeDigest}, nil
		}
		return nil, fmt.Errorf("xrpl tx query failed: %s", errName)
	}

	validated, _ := result["validated"].(bool)
	out := &TxStatusResult{
		Found:          true,
		Validated:      validated,
		ExchangeDigest: exchangeDigest,
	}
	if idx, ok := result["ledger_index"].(json.Number); ok {
		out.LedgerIndex, _ = idx.Int64()
	}
	if meta, ok := result["meta"].(map[string]any); ok {
		out.EngineResult, _ = meta["TransactionResult"].(string)
	}
	if closeISO, ok := result["close_time_iso"].(string); ok {
		out.LedgerCloseTime = closeISO
	} else if date, ok := result["date"].(json.Number); ok {
		out.LedgerCloseTime = date.String()
	}
	return out, nil
}

// postJSON performs one rate-limited JSON-RPC call, recording the exchange
// as evidence when stores are wired. The returned digest addresses the
// recorded request/response pair; empty when recording is off.
func (c *HTTPClient) postJSON(ctx context.Context, payload map[string]any) (map[string]any, string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, "", fmt.Errorf("rate limit wait: %w", err)
	}

	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("marshal rpc request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpc.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("xrpl rpc post: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read rpc response: %w", err)
	}

	exchangeDigest := ""
	if c.bodies != nil && c.exchanges != nil {
		reqDigest, err := c.bodies.Put(reqBody)
		if err != nil {
			return nil, "", err
		}
		respDigest, err := c.bodies.Put(respBody)
		if err != nil {
			return nil, "", err
		}
		rec, err := c.exchanges.Record(ctx, reqDigest, respDigest, c.clock())
		if err != nil {
			return nil, "", err
		}
		exchangeDigest = rec.ContentDigest
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, exchangeDigest, fmt.Errorf("xrpl rpc status %d", httpResp.StatusCode)
	}

	dec := json.NewDecoder(bytes.NewReader(respBody))
	dec.UseNumber()
	var parsed map[string]any
	if err := dec.Decode(&parsed); err != nil {
		return nil, exchangeDigest, fmt.Errorf("decode rpc response: %w", err)
	}
	c.logger.DebugContext(ctx, "rpc exchange", "method", payload["method"], "exchange_digest", exchangeDigest)
	return parsed, exchangeDigest, nil
}
