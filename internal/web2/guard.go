package web2

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/nyxlabs/testnet-gateway/internal/apierr"
	"github.com/nyxlabs/testnet-gateway/internal/assets"
	"github.com/nyxlabs/testnet-gateway/internal/evidence"
	"github.com/nyxlabs/testnet-gateway/internal/fees"
	"github.com/nyxlabs/testnet-gateway/internal/ident"
	"github.com/nyxlabs/testnet-gateway/internal/metrics"
	"github.com/nyxlabs/testnet-gateway/internal/store"
)

const (
	maxURLLen        = 256
	maxBodyBytes     = 2048
	maxResponseBytes = 100_000
	maxSealedLen     = 4096
	requestTimeout   = 8 * time.Second
	previewLen       = 2000
)

// Fetch performs the outbound call and reports (status, body bytes,
// truncated flag, error hint). Stubbed in tests.
type Fetch func(method, url, body string) (int, []byte, bool, string)

// Guard executes allowlisted egress requests.
type Guard struct {
	Allowlist []Entry
	Pricer    fees.Pricer
	Engine    evidence.Engine
	Resolver  func(host string) ([]net.IP, error)
	Do        Fetch
	Metrics   *metrics.Metrics
	Now       func() int64
}

// Request is the validated egress payload.
type Request struct {
	URL           string
	Method        string
	Body          string
	SealedRequest string
}

// Result is the wire summary of one guarded call.
type Result struct {
	RunID             string         `json:"run_id"`
	StateHash         string         `json:"state_hash"`
	ReceiptHashes     []string       `json:"receipt_hashes"`
	ReplayOK          bool           `json:"replay_ok"`
	RequestID         string         `json:"request_id"`
	RequestHash       string         `json:"request_hash"`
	ResponseHash      string         `json:"response_hash"`
	ResponseStatus    int            `json:"response_status"`
	ResponseSize      int            `json:"response_size"`
	ResponseTruncated bool           `json:"response_truncated"`
	BodySize          int            `json:"body_size"`
	UpstreamOK        bool           `json:"upstream_ok"`
	UpstreamError     string         `json:"upstream_error,omitempty"`
	ResponsePreview   string         `json:"response_preview"`
	FeeTotal          int64          `json:"fee_total"`
	FeeBreakdown      map[string]any `json:"fee_breakdown"`
	TreasuryAddress   string         `json:"treasury_address"`
}

func (g *Guard) now() int64 {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now().Unix()
}

func (g *Guard) validate(req *Request) error {
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		return apierr.ParamRequired("url")
	}
	if len(req.URL) > maxURLLen {
		return apierr.ParamInvalid("url", "too long")
	}
	req.Method = strings.ToUpper(strings.TrimSpace(req.Method))
	if req.Method != http.MethodGet && req.Method != http.MethodPost {
		return apierr.ParamInvalid("method", "not allowed")
	}
	if len(req.Body) > maxBodyBytes {
		return apierr.ParamInvalid("body", "too large")
	}
	if req.Method == http.MethodGet && req.Body != "" {
		return apierr.ParamInvalid("body", "not allowed for GET")
	}
	req.SealedRequest = strings.TrimSpace(req.SealedRequest)
	if len(req.SealedRequest) > maxSealedLen {
		return apierr.ParamInvalid("sealed_request", "too long")
	}
	return nil
}

func requestHeaders(method string) map[string]string {
	headers := map[string]string{
		"User-Agent": "NYX-Web2Guard/1.0",
		"Accept":     "application/json",
	}
	if method == http.MethodPost {
		headers["Content-Type"] = "application/json"
	}
	return headers
}

func sortedHeaderNames(method string) []string {
	headers := requestHeaders(method)
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// defaultFetch performs the real outbound call: fixed timeout, no
// redirects, capped read.
func defaultFetch(method, url, body string) (int, []byte, bool, string) {
	client := &http.Client{
		Timeout: requestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	var reqBody io.Reader
	if method == http.MethodPost && body != "" {
		reqBody = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return 0, nil, false, "unavailable"
	}
	for name, value := range requestHeaders(method) {
		req.Header.Set(name, value)
	}
	resp, err := client.Do(req)
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return 0, nil, false, "timeout"
		}
		return 0, nil, false, "unavailable"
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		return resp.StatusCode, nil, false, "redirect"
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return resp.StatusCode, nil, false, "unavailable"
	}
	truncated := false
	if len(raw) > maxResponseBytes {
		truncated = true
		raw = raw[:maxResponseBytes]
	}
	hint := ""
	if resp.StatusCode >= 400 {
		hint = httpHint(resp.StatusCode)
	}
	return resp.StatusCode, raw, truncated, hint
}

func httpHint(status int) string {
	// "http_404" style hints keep upstream failures greppable.
	digits := [3]byte{byte('0' + status/100), byte('0' + status/10%10), byte('0' + status%10)}
	return "http_" + string(digits[:])
}

// Execute runs the full guarded pipeline inside the caller's
// transaction: validate, match, resolve, call out, then fee + evidence +
// audit row. A denial happens before any write, so nothing persists.
func (g *Guard) Execute(ctx context.Context, conn *store.Conn, seed int64, runID string, req Request, walletAddress string) (*Result, error) {
	if walletAddress == "" {
		return nil, apierr.AuthRequired()
	}
	if err := g.validate(&req); err != nil {
		return nil, err
	}
	entry, safeURL, err := g.matchAllowlist(req.URL, req.Method)
	if err != nil {
		return nil, err
	}

	requestHash := ident.SHA256Hex([]byte(entry.ID + ":" + req.Method + ":" + safeURL + ":" + req.Body))

	fetch := g.Do
	if fetch == nil {
		fetch = defaultFetch
	}
	status, responseBytes, truncated, errHint := fetch(req.Method, safeURL, req.Body)
	if g.Metrics != nil {
		decision := "allow"
		if errHint != "" {
			decision = "upstream_error"
		}
		g.Metrics.GuardDecisions.WithLabelValues(decision).Inc()
	}

	responseHash := ident.SHA256Hex(responseBytes)
	preview := string(responseBytes)
	if len(preview) > previewLen {
		preview = preview[:previewLen] + "…"
	}

	quote := g.Pricer.RouteFee("web2", "guard_request", map[string]any{"amount": int64(1)}, runID, walletAddress)
	balance, err := conn.GetWalletBalance(ctx, walletAddress, assets.FeeAsset)
	if err != nil {
		return nil, err
	}
	if balance < quote.Total() {
		return nil, apierr.InsufficientBalance(assets.FeeAsset).WithDetails(map[string]any{
			"balance": balance, "required": quote.Total(),
		})
	}

	evidencePayload := map[string]any{
		"url":                safeURL,
		"method":             req.Method,
		"allowlist_id":       entry.ID,
		"request_hash":       requestHash,
		"response_hash":      responseHash,
		"response_status":    status,
		"response_size":      len(responseBytes),
		"response_truncated": truncated,
		"body_size":          len(req.Body),
		"upstream_error":     errHint,
	}
	outcome, err := evidence.RunAndRecord(ctx, g.Engine, conn, seed, runID, "web2", "guard_request", evidencePayload)
	if err != nil {
		return nil, err
	}

	if err := conn.ApplyTransfer(ctx, store.WalletTransfer{
		TransferID:      ident.DeterministicID("web2-fee", runID),
		FromAddress:     walletAddress,
		ToAddress:       quote.Ledger.FeeAddress,
		AssetID:         assets.FeeAsset,
		Amount:          0,
		FeeTotal:        quote.Total(),
		TreasuryAddress: quote.Ledger.FeeAddress,
		RunID:           runID,
	}); err != nil {
		return nil, err
	}
	if err := conn.InsertFeeLedger(ctx, quote.Ledger); err != nil {
		return nil, err
	}

	requestID := ident.DeterministicID("web2-req", runID)
	if err := conn.InsertWeb2GuardRequest(ctx, store.Web2GuardRequest{
		RequestID:         requestID,
		AccountID:         walletAddress,
		RunID:             runID,
		URL:               safeURL,
		Method:            req.Method,
		RequestHash:       requestHash,
		ResponseHash:      responseHash,
		ResponseStatus:    int64(status),
		ResponseSize:      int64(len(responseBytes)),
		ResponseTruncated: truncated,
		BodySize:          int64(len(req.Body)),
		HeaderNames:       sortedHeaderNames(req.Method),
		SealedRequest:     req.SealedRequest,
		CreatedAt:         g.now(),
	}); err != nil {
		return nil, err
	}

	return &Result{
		RunID:             runID,
		StateHash:         outcome.StateHash,
		ReceiptHashes:     outcome.ReceiptHashes,
		ReplayOK:          outcome.ReplayOK,
		RequestID:         requestID,
		RequestHash:       requestHash,
		ResponseHash:      responseHash,
		ResponseStatus:    status,
		ResponseSize:      len(responseBytes),
		ResponseTruncated: truncated,
		BodySize:          len(req.Body),
		UpstreamOK:        status >= 200 && status < 300 && errHint == "",
		UpstreamError:     errHint,
		ResponsePreview:   preview,
		FeeTotal:          quote.Total(),
		FeeBreakdown: map[string]any{
			"protocol_fee_total":  quote.Ledger.ProtocolFeeTotal,
			"platform_fee_amount": quote.Ledger.PlatformFeeAmount,
		},
		TreasuryAddress: quote.Ledger.FeeAddress,
	}, nil
}
