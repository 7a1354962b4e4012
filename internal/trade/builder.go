package trade

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/snipebot/internal/config"
	"github.com/alanyoungcy/snipebot/internal/domain"
)

// Builder is an HTTP client for the local trade-builder service. The builder
// owns the wallet keys: it constructs and signs bonding-curve buy and sell
// transactions and returns them as serialized payloads ready for submission.
// Snipebot never sees key material.
type Builder struct {
	baseURL     string
	apiKey      string
	wallet      string
	slippageBps int
	priorityFee uint64
	httpClient  *http.Client
}

// BuiltTransaction is a signed, serialized transaction produced by the
// builder, plus the builder's own accounting of what it encodes.
type BuiltTransaction struct {
	// Payload is the base64-encoded signed transaction.
	Payload string
	// Signature is the transaction signature, known to the builder at
	// signing time, before submission.
	Signature string
	// TokenAmount is the expected token quantity bought or sold, in the
	// token's base units.
	TokenAmount uint64
	// Lamports is the SOL leg of the trade: spent for a buy, expected
	// proceeds (after slippage) for a sell.
	Lamports uint64
}

// Bytes decodes the serialized transaction for submission.
func (t BuiltTransaction) Bytes() ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(t.Payload)
	if err != nil {
		return nil, fmt.Errorf("trade: decode payload: %w", err)
	}
	return raw, nil
}

// NewBuilder creates a trade-builder client from the builder section of the
// configuration.
func NewBuilder(cfg config.BuilderConfig) *Builder {
	return &Builder{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		wallet:      cfg.Wallet,
		slippageBps: cfg.SlippageBps,
		priorityFee: cfg.PriorityFee,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// buildRequest is the request envelope shared by the buy and sell endpoints.
type buildRequest struct {
	Wallet      string  `json:"wallet"`
	Mint        string  `json:"mint"`
	AmountSol   float64 `json:"amount_sol,omitempty"`
	TokenAmount uint64  `json:"token_amount,omitempty"`
	SellPercent float64 `json:"sell_percent,omitempty"`
	SlippageBps int     `json:"slippage_bps"`
	PriorityFee uint64  `json:"priority_fee"`
}

// buildResponse is the response envelope shared by the buy and sell
// endpoints.
type buildResponse struct {
	Transaction string `json:"transaction"`
	Signature   string `json:"signature"`
	TokenAmount uint64 `json:"token_amount"`
	Lamports    uint64 `json:"lamports"`
	Error       string `json:"error,omitempty"`
}

// BuildBuy asks the builder for a signed buy of amountSol worth of the
// token. A failed build returns no payload at all; there are no partial
// results to submit.
func (b *Builder) BuildBuy(ctx context.Context, mint string, amountSol float64) (BuiltTransaction, error) {
	req := buildRequest{
		Wallet:      b.wallet,
		Mint:        mint,
		AmountSol:   amountSol,
		SlippageBps: b.slippageBps,
		PriorityFee: b.priorityFee,
	}

	resp, err := b.doPost(ctx, "/v1/build/buy", req)
	if err != nil {
		return BuiltTransaction{}, fmt.Errorf("trade: build buy %s: %w", mint, err)
	}
	return resp, nil
}

// BuildSell asks the builder for a signed sell of the given fraction of the
// held token amount. percent is in (0, 1]; 1.0 sells the full remainder.
func (b *Builder) BuildSell(ctx context.Context, mint string, tokenAmount uint64, percent float64) (BuiltTransaction, error) {
	req := buildRequest{
		Wallet:      b.wallet,
		Mint:        mint,
		TokenAmount: tokenAmount,
		SellPercent: percent,
		SlippageBps: b.slippageBps,
		PriorityFee: b.priorityFee,
	}

	resp, err := b.doPost(ctx, "/v1/build/sell", req)
	if err != nil {
		return BuiltTransaction{}, fmt.Errorf("trade: build sell %s: %w", mint, err)
	}
	return resp, nil
}

// EstimateValue asks the builder to quote the current sell value of a token
// position against the bonding curve, in lamports. No transaction is built
// or signed for a quote.
func (b *Builder) EstimateValue(ctx context.Context, mint string, tokenAmount uint64) (uint64, error) {
	req := buildRequest{
		Wallet:      b.wallet,
		Mint:        mint,
		TokenAmount: tokenAmount,
		SlippageBps: b.slippageBps,
	}

	resp, err := b.doPost(ctx, "/v1/quote/sell", req)
	if err != nil {
		return 0, fmt.Errorf("trade: quote %s: %w", mint, err)
	}
	return resp.Lamports, nil
}

// doPost executes a builder request and decodes the shared response
// envelope. Any transport, HTTP, or builder-reported failure wraps
// domain.ErrBuildFailed.
func (b *Builder) doPost(ctx context.Context, path string, reqBody buildRequest) (BuiltTransaction, error) {
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return BuiltTransaction{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return BuiltTransaction{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return BuiltTransaction{}, fmt.Errorf("%w: %v", domain.ErrBuildFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return BuiltTransaction{}, fmt.Errorf("%w: read response: %v", domain.ErrBuildFailed, err)
	}

	var decoded buildResponse
	if resp.StatusCode != http.StatusOK {
		// The builder puts a reason in the envelope when it can.
		_ = json.Unmarshal(body, &decoded)
		if decoded.Error != "" {
			return BuiltTransaction{}, fmt.Errorf("%w: %s", domain.ErrBuildFailed, decoded.Error)
		}
		return BuiltTransaction{}, fmt.Errorf("%w: status %d: %s", domain.ErrBuildFailed, resp.StatusCode, truncate(body, 200))
	}

	if err := json.Unmarshal(body, &decoded); err != nil {
		return BuiltTransaction{}, fmt.Errorf("%w: decode response: %v", domain.ErrBuildFailed, err)
	}
	if decoded.Error != "" {
		return BuiltTransaction{}, fmt.Errorf("%w: %s", domain.ErrBuildFailed, decoded.Error)
	}
	if decoded.Transaction == "" && path != "/v1/quote/sell" {
		return BuiltTransaction{}, fmt.Errorf("%w: empty transaction in response", domain.ErrBuildFailed)
	}

	return BuiltTransaction{
		Payload:     decoded.Transaction,
		Signature:   decoded.Signature,
		TokenAmount: decoded.TokenAmount,
		Lamports:    decoded.Lamports,
	}, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
