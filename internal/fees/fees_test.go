package fees

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRouteFeeReproducible(t *testing.T) {
	p := Pricer{PlatformFeeBPS: 10, TreasuryAddress: "treasury"}
	payload := map[string]any{"amount": int64(5000)}

	first := p.RouteFee("wallet", "transfer", payload, "run-1", "alice")
	second := p.RouteFee("wallet", "transfer", payload, "run-1", "alice")
	require.Equal(t, first, second)
	require.Equal(t, first.Ledger.FeeID, second.Ledger.FeeID)
}

func TestRouteFeeComponents(t *testing.T) {
	p := Pricer{PlatformFeeBPS: 10, TreasuryAddress: "treasury"}

	// 5000 * 10bps = 5 platform, protocol floors at 1.
	q := p.RouteFee("wallet", "transfer", map[string]any{"amount": int64(5000)}, "run-1", "alice")
	require.Equal(t, int64(1), q.Ledger.ProtocolFeeTotal)
	require.Equal(t, int64(5), q.Ledger.PlatformFeeAmount)
	require.Equal(t, int64(6), q.Ledger.TotalPaid)

	// Tiny base still produces a platform fee of 1.
	q = p.RouteFee("web2", "guard_request", map[string]any{"amount": int64(1)}, "run-2", "alice")
	require.Equal(t, int64(1), q.Ledger.PlatformFeeAmount)
	require.Equal(t, int64(2), q.Ledger.TotalPaid)
}

func TestRouteFeeZeroBPSDisablesPlatform(t *testing.T) {
	p := Pricer{PlatformFeeBPS: 0, TreasuryAddress: "treasury"}
	q := p.RouteFee("wallet", "transfer", map[string]any{"amount": int64(100)}, "run-1", "alice")
	require.Zero(t, q.Ledger.PlatformFeeAmount)
	require.Equal(t, int64(1), q.Ledger.TotalPaid)
}

func TestRouteFeeProtocolMinimum(t *testing.T) {
	p := Pricer{PlatformFeeBPS: 10, ProtocolFeeMin: 3, TreasuryAddress: "treasury"}
	q := p.RouteFee("marketplace", "purchase_listing",
		map[string]any{"price": int64(40), "qty": int64(2)}, "run-1", "alice")
	require.Equal(t, int64(3), q.Ledger.ProtocolFeeTotal)
	// base = price*qty = 80 → platform floors at 1.
	require.Equal(t, int64(1), q.Ledger.PlatformFeeAmount)
	require.Equal(t, int64(4), q.Ledger.TotalPaid)
}

func TestBaseAmountFallbacks(t *testing.T) {
	require.Equal(t, int64(250), baseAmount(map[string]any{"reward": int64(250)}))
	require.Equal(t, int64(12), baseAmount(map[string]any{"price": int64(12)}))
	require.Equal(t, int64(1), baseAmount(map[string]any{}))
	require.Equal(t, int64(1), baseAmount(map[string]any{"amount": "bogus"}))
}

func TestSponsorSwapsPayerOnly(t *testing.T) {
	p := Pricer{PlatformFeeBPS: 10, TreasuryAddress: "treasury"}
	q := p.RouteFee("chat", "message_event", map[string]any{}, "run-1", "alice")
	sponsored := Sponsor(q, "bob")
	require.Equal(t, "bob", sponsored.Payer)
	require.Equal(t, q.Ledger, sponsored.Ledger)
}
