package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nexus-labs/nexus/core/pkg/governance"
	"github.com/nexus-labs/nexus/core/pkg/xrpl"
)

// httpRouter dispatches execution requests to an external router service.
// The CLI wires it in when NEXUS_ROUTER_URL is set; without one, execute
// commands fail with ROUTER_ERROR before any event is written.
type httpRouter struct {
	baseURL string
	httpc   *http.Client
}

func newHTTPRouter(baseURL string) governance.Router {
	return &httpRouter{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 60 * time.Second},
	}
}

func (r *httpRouter) Run(ctx context.Context, req governance.RunRequest) (*governance.RunResult, error) {
	var result governance.RunResult
	if err := r.post(ctx, "/v1/runs", req, &result); err != nil {
		return nil, err
	}
	if result.RunID == "" {
		return nil, fmt.Errorf("router returned no run_id")
	}
	return &result, nil
}

func (r *httpRouter) GetAdapterCapabilities(ctx context.Context, adapterID string) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		r.baseURL+"/v1/adapters/"+adapterID+"/capabilities", nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.httpc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("router request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		// Adapter capabilities are advisory; an older router that does not
		// expose them yields nil, which skips the capability check.
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("router returned %s", resp.Status)
	}
	var body struct {
		Capabilities []string `json:"capabilities"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode capabilities: %w", err)
	}
	if body.Capabilities == nil {
		body.Capabilities = []string{}
	}
	return body.Capabilities, nil
}

func (r *httpRouter) post(ctx context.Context, path string, payload, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := r.httpc.Do(httpReq)
	if err != nil {
		return fmt.Errorf("router request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read router response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("router returned %s: %s", resp.Status, bytes.TrimSpace(body))
	}
	return json.Unmarshal(body, out)
}

// httpSigner asks an external signing service to sign ledger transactions.
// The private key lives in that service; only the account address and a
// public key identifier ever cross into this process.
type httpSigner struct {
	baseURL string
	account string
	keyID   string
	httpc   *http.Client
}

func newHTTPSigner(baseURL, account, keyID string) xrpl.Signer {
	return &httpSigner{
		baseURL: baseURL,
		account: account,
		keyID:   keyID,
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *httpSigner) Account() string { return s.account }
func (s *httpSigner) KeyID() string   { return s.keyID }

func (s *httpSigner) Sign(unsignedTx map[string]any) (*xrpl.SignResult, error) {
	raw, err := json.Marshal(map[string]any{"key_id": s.keyID, "tx": unsignedTx})
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequest(http.MethodPost, s.baseURL+"/v1/sign", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := s.httpc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("signer request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("signer returned %s", resp.Status)
	}
	var body struct {
		SignedTxBlobHex string `json:"signed_tx_blob_hex"`
		TxHash          string `json:"tx_hash"`
		KeyID           string `json:"key_id"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode signer response: %w", err)
	}
	if body.SignedTxBlobHex == "" {
		return nil, fmt.Errorf("signer returned no signed blob")
	}
	if body.KeyID == "" {
		body.KeyID = s.keyID
	}
	return &xrpl.SignResult{
		SignedTxBlobHex: body.SignedTxBlobHex,
		TxHash:          body.TxHash,
		KeyID:           body.KeyID,
	}, nil
}
