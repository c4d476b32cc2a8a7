package compliance

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nyxlabs/testnet-gateway/internal/apierr"
)

func TestClearanceSkippedWithoutURL(t *testing.T) {
	c := &Client{}
	d, err := c.RequireClearance(context.Background(), "acct-1", "wallet-1", "wallet", "transfer", "run-1", nil)
	require.NoError(t, err)
	require.Equal(t, "skipped", d.Status)
}

func TestClearanceRequiresIdentity(t *testing.T) {
	c := &Client{URL: "https://compliance.internal/decide"}
	_, err := c.RequireClearance(context.Background(), "", "wallet-1", "wallet", "transfer", "run-1", nil)
	require.Error(t, err)
	require.Equal(t, apierr.CodeAuthRequired, apierr.From(err).Code)
}

func TestClearanceAllowed(t *testing.T) {
	var gotBody []byte
	c := &Client{
		URL: "https://compliance.internal/decide",
		Now: func() int64 { return 1700000000 },
		Do: func(url string, body []byte) (int, []byte, error) {
			gotBody = body
			return 200, []byte(`{"decision":"allow"}`), nil
		},
	}
	d, err := c.RequireClearance(context.Background(), "acct-1", "wallet-1", "wallet", "transfer", "run-1", map[string]any{"amount": 5})
	require.NoError(t, err)
	require.Equal(t, "ok", d.Status)
	require.Equal(t, "allow", d.Decision)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	require.Equal(t, "acct-1", payload["account_id"])
	require.Equal(t, "transfer", payload["action"])
	require.EqualValues(t, 1700000000, payload["timestamp"])
}

func TestClearanceBlocked(t *testing.T) {
	c := &Client{
		URL: "https://compliance.internal/decide",
		Do: func(url string, body []byte) (int, []byte, error) {
			return 200, []byte(`{"decision":"deny"}`), nil
		},
	}
	_, err := c.RequireClearance(context.Background(), "acct-1", "wallet-1", "wallet", "transfer", "run-1", nil)
	require.Error(t, err)
	apiErr := apierr.From(err)
	require.Equal(t, apierr.CodeComplianceDenied, apiErr.Code)
	require.Equal(t, "deny", apiErr.Details["decision"])
}

func TestClearanceUnavailableFailOpenVsClosed(t *testing.T) {
	fail := func(url string, body []byte) (int, []byte, error) {
		return 503, nil, nil
	}

	open := &Client{URL: "https://compliance.internal/decide", Do: fail}
	d, err := open.RequireClearance(context.Background(), "acct-1", "wallet-1", "wallet", "transfer", "run-1", nil)
	require.NoError(t, err)
	require.Equal(t, "unavailable", d.Status)

	closed := &Client{URL: "https://compliance.internal/decide", FailClosed: true, Do: fail}
	_, err = closed.RequireClearance(context.Background(), "acct-1", "wallet-1", "wallet", "transfer", "run-1", nil)
	require.Error(t, err)
	require.Equal(t, apierr.CodeComplianceUnavailable, apierr.From(err).Code)
}
