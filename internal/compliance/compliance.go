// Package compliance calls an optional external decision service before
// sensitive mutations. With no URL configured every check is skipped;
// with one configured, fail-open vs fail-closed decides what happens
// when the service cannot be reached.
package compliance

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nyxlabs/testnet-gateway/internal/apierr"
	"github.com/nyxlabs/testnet-gateway/internal/ident"
)

const (
	defaultTimeout  = 5 * time.Second
	maxResponseRead = 65536
)

// Decision is the outcome of one clearance check.
type Decision struct {
	Status   string `json:"status"`   // skipped | ok | unavailable
	Decision string `json:"decision,omitempty"`
}

// Client posts clearance requests to the configured decision endpoint.
type Client struct {
	URL        string
	FailClosed bool
	Timeout    time.Duration

	// Do overrides the HTTP POST. Test hook.
	Do  func(url string, body []byte) (int, []byte, error)
	Now func() int64
}

func (c *Client) now() int64 {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().Unix()
}

func (c *Client) post(url string, body []byte) (int, []byte, error) {
	if c.Do != nil {
		return c.Do(url, body)
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := &http.Client{Timeout: timeout}
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseRead))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, raw, nil
}

// RequireClearance asks the decision service to approve one mutation.
// A missing URL disables the check entirely.
func (c *Client) RequireClearance(ctx context.Context, accountID, walletAddress, module, action, runID string, metadata map[string]any) (Decision, error) {
	if c == nil || c.URL == "" {
		return Decision{Status: "skipped"}, nil
	}
	if accountID == "" || walletAddress == "" {
		return Decision{}, apierr.New(apierr.CodeAuthRequired, "compliance requires authenticated identity", http.StatusUnauthorized)
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	payload := map[string]any{
		"account_id":     accountID,
		"wallet_address": walletAddress,
		"module":         module,
		"action":         action,
		"run_id":         runID,
		"timestamp":      c.now(),
		"metadata":       metadata,
	}
	body, err := ident.CanonicalJSON(payload)
	if err != nil {
		return Decision{}, err
	}

	status, raw, err := c.post(c.URL, []byte(body))
	if err != nil || status >= 400 {
		return c.unavailable(err)
	}
	var parsed map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return c.unavailable(err)
		}
	}
	decision := strings.ToLower(stringField(parsed, "decision"))
	if decision == "" {
		decision = strings.ToLower(stringField(parsed, "status"))
	}
	switch decision {
	case "allow", "approved", "ok":
		return Decision{Status: "ok", Decision: decision}, nil
	}
	if decision == "" {
		decision = "deny"
	}
	return Decision{}, apierr.New(apierr.CodeComplianceDenied, "compliance decision blocked", http.StatusForbidden).
		WithDetails(map[string]any{"decision": decision})
}

func (c *Client) unavailable(cause error) (Decision, error) {
	if c.FailClosed {
		details := map[string]any{}
		if cause != nil {
			details["error"] = cause.Error()
		}
		return Decision{}, apierr.New(apierr.CodeComplianceUnavailable, "compliance service unavailable", http.StatusServiceUnavailable).
			WithDetails(details)
	}
	return Decision{Status: "unavailable"}, nil
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
