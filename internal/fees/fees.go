// Package fees quotes the fee vector for every state mutation and builds
// the fee ledger row the executor persists. Quotes are pure functions of
// (module, action, payload, run_id), so replays price identically.
package fees

import (
	"encoding/json"

	"github.com/nyxlabs/testnet-gateway/internal/ident"
	"github.com/nyxlabs/testnet-gateway/internal/store"
)

// Pricer holds the configured fee knobs. Zero platform bps disables the
// platform component entirely.
type Pricer struct {
	PlatformFeeBPS  int64
	ProtocolFeeMin  int64 // 0 means "use the floor of 1"
	TreasuryAddress string
}

// Quote is one priced mutation. Payer starts as the caller and can be
// swapped by Sponsor without touching the amounts.
type Quote struct {
	Ledger store.FeeLedger
	Payer  string
}

// Total is the NYXT amount the payer owes.
func (q Quote) Total() int64 { return q.Ledger.TotalPaid }

// RouteFee prices one mutating call. The protocol component respects the
// configured minimum and is never below 1; the platform component is
// max(1, base*bps/10000) when bps > 0, else 0.
func (p Pricer) RouteFee(module, action string, payload map[string]any, runID, payer string) Quote {
	base := baseAmount(payload)

	protocol := p.ProtocolFeeMin
	if protocol < 1 {
		protocol = 1
	}

	var platform int64
	if p.PlatformFeeBPS > 0 {
		platform = base * p.PlatformFeeBPS / 10_000
		if platform < 1 {
			platform = 1
		}
	}

	return Quote{
		Ledger: store.FeeLedger{
			FeeID:             ident.DeterministicID("fee", runID),
			Module:            module,
			Action:            action,
			ProtocolFeeTotal:  protocol,
			PlatformFeeAmount: platform,
			TotalPaid:         protocol + platform,
			FeeAddress:        p.TreasuryAddress,
			RunID:             runID,
		},
		Payer: payer,
	}
}

// Sponsor moves the fee obligation to another payer. Amounts and the
// ledger identity are unchanged.
func Sponsor(q Quote, sponsor string) Quote {
	q.Payer = sponsor
	return q
}

// baseAmount extracts the economic size of the call from its payload:
// the explicit amount, else price*qty, else price, else 1.
func baseAmount(payload map[string]any) int64 {
	if amount, ok := intField(payload, "amount"); ok && amount > 0 {
		return amount
	}
	price, hasPrice := intField(payload, "price")
	if hasPrice && price > 0 {
		if qty, ok := intField(payload, "qty"); ok && qty > 0 {
			return price * qty
		}
		return price
	}
	if reward, ok := intField(payload, "reward"); ok && reward > 0 {
		return reward
	}
	return 1
}

func intField(payload map[string]any, key string) (int64, bool) {
	v, ok := payload[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}
