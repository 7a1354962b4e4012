// Package rpc provides the redundant-endpoint JSON-RPC layer: a capability
// split between reads and transaction submission, a failover pool over
// equivalent endpoints, and the retried submission channel.
package rpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// Commitment is the confirmation depth required before a submitted payload
// is treated as final.
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

var commitmentRank = map[Commitment]int{
	CommitmentProcessed: 1,
	CommitmentConfirmed: 2,
	CommitmentFinalized: 3,
}

// AtLeast reports whether c is at or beyond the target commitment depth.
func (c Commitment) AtLeast(target Commitment) bool {
	return commitmentRank[c] >= commitmentRank[target]
}

// SignatureStatus is the observed state of a submitted transaction.
type SignatureStatus struct {
	Found        bool
	Confirmation Commitment
	// Err is non-empty when the transaction was processed but failed on
	// chain. That is a terminal outcome, not a pending one.
	Err string
}

// Reader is the read-only RPC capability.
type Reader interface {
	GetSignatureStatus(ctx context.Context, sig string) (SignatureStatus, error)
	GetBalance(ctx context.Context, pubkey string) (uint64, error)
	// Simulate pre-flights a signed payload without submitting it. A
	// rejection is reported as *domain.SimulationError.
	Simulate(ctx context.Context, payload []byte) error
}

// Sender is the transaction submission capability.
type Sender interface {
	// SendTransaction submits a serialized signed payload and returns its
	// signature.
	SendTransaction(ctx context.Context, payload []byte) (string, error)
}

// Conn is one logical endpoint carrying both capabilities.
type Conn interface {
	Reader
	Sender
	URL() string
}

// routedConn overrides only the submission capability of a base connection,
// leaving reads untouched. Used to route sends through a dedicated relay
// while status polling stays on the pool.
type routedConn struct {
	Conn
	sender Sender
}

func (r *routedConn) SendTransaction(ctx context.Context, payload []byte) (string, error) {
	return r.sender.SendTransaction(ctx, payload)
}

// WithSender returns a Conn whose SendTransaction goes through sender while
// every read still hits base.
func WithSender(base Conn, sender Sender) Conn {
	return &routedConn{Conn: base, sender: sender}
}

// Endpoint is an HTTP JSON-RPC 2.0 client for a single endpoint, rate
// limited so bursts of status polls cannot starve submissions.
type Endpoint struct {
	url        string
	httpClient *http.Client
	limiter    *rate.Limiter
	reqID      atomic.Int64
}

// NewEndpoint creates an Endpoint. rps/burst bound the request rate; a zero
// rps disables limiting.
func NewEndpoint(url string, rps float64, burst int) *Endpoint {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst < 1 {
		burst = 1
	}
	return &Endpoint{
		url: url,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		limiter: rate.NewLimiter(limit, burst),
	}
}

// URL returns the endpoint's URL.
func (e *Endpoint) URL() string { return e.url }

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// call performs one JSON-RPC request and decodes the result into out.
func (e *Endpoint) call(ctx context.Context, method string, params any, out any) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rpc: rate limit wait: %w", err)
	}

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      e.reqID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("rpc: encode %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("rpc: build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("rpc: %s: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("rpc: read %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rpc: %s: unexpected status %d: %s", method, resp.StatusCode, respBody)
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("rpc: decode %s response: %w", method, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("rpc: %s: %w", method, envelope.Error)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("rpc: decode %s result: %w", method, err)
		}
	}
	return nil
}

// SendTransaction submits a serialized signed payload, skipping the remote
// pre-flight: simulation is this layer's own concern.
func (e *Endpoint) SendTransaction(ctx context.Context, payload []byte) (string, error) {
	params := []any{
		base64.StdEncoding.EncodeToString(payload),
		map[string]any{
			"encoding":      "base64",
			"skipPreflight": true,
			"maxRetries":    0,
		},
	}
	var sig string
	if err := e.call(ctx, "sendTransaction", params, &sig); err != nil {
		return "", err
	}
	return sig, nil
}

// Simulate pre-flights the payload. An on-chain rejection comes back as
// *domain.SimulationError with the program logs.
func (e *Endpoint) Simulate(ctx context.Context, payload []byte) error {
	params := []any{
		base64.StdEncoding.EncodeToString(payload),
		map[string]any{
			"encoding":   "base64",
			"commitment": string(CommitmentProcessed),
		},
	}
	var result struct {
		Value struct {
			Err  json.RawMessage `json:"err"`
			Logs []string        `json:"logs"`
		} `json:"value"`
	}
	if err := e.call(ctx, "simulateTransaction", params, &result); err != nil {
		return err
	}
	if len(result.Value.Err) > 0 && string(result.Value.Err) != "null" {
		return &domain.SimulationError{
			Reason: string(result.Value.Err),
			Logs:   result.Value.Logs,
		}
	}
	return nil
}

// GetSignatureStatus looks up the confirmation state of one signature.
func (e *Endpoint) GetSignatureStatus(ctx context.Context, sig string) (SignatureStatus, error) {
	params := []any{
		[]string{sig},
		map[string]any{"searchTransactionHistory": true},
	}
	var result struct {
		Value []*struct {
			ConfirmationStatus string          `json:"confirmationStatus"`
			Err                json.RawMessage `json:"err"`
		} `json:"value"`
	}
	if err := e.call(ctx, "getSignatureStatuses", params, &result); err != nil {
		return SignatureStatus{}, err
	}
	if len(result.Value) == 0 || result.Value[0] == nil {
		return SignatureStatus{}, nil
	}

	st := SignatureStatus{
		Found:        true,
		Confirmation: Commitment(result.Value[0].ConfirmationStatus),
	}
	if len(result.Value[0].Err) > 0 && string(result.Value[0].Err) != "null" {
		st.Err = string(result.Value[0].Err)
	}
	return st, nil
}

// GetBalance returns the lamport balance of an account.
func (e *Endpoint) GetBalance(ctx context.Context, pubkey string) (uint64, error) {
	params := []any{pubkey, map[string]any{"commitment": string(CommitmentConfirmed)}}
	var result struct {
		Value uint64 `json:"value"`
	}
	if err := e.call(ctx, "getBalance", params, &result); err != nil {
		return 0, err
	}
	return result.Value, nil
}

// Compile-time capability check.
var _ Conn = (*Endpoint)(nil)
