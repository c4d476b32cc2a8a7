package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/nyxlabs/testnet-gateway/internal/apierr"
	"github.com/nyxlabs/testnet-gateway/internal/assets"
	"github.com/nyxlabs/testnet-gateway/internal/evidence"
	"github.com/nyxlabs/testnet-gateway/internal/ident"
	"github.com/nyxlabs/testnet-gateway/internal/store"
)

func (e *Executor) clearance(ctx context.Context, caller Caller, module, action, runID string, metadata map[string]any) error {
	if e.Compliance == nil {
		return nil
	}
	_, err := e.Compliance.RequireClearance(ctx, caller.AccountID, caller.Wallet, module, action, runID, metadata)
	return err
}

// ExecuteWalletTransfer moves funds between wallets. With requireOwner
// set (the session-authenticated path) the source must be the caller's
// own wallet; the legacy path skips that check.
func (e *Executor) ExecuteWalletTransfer(ctx context.Context, seed int64, runID string, payload map[string]any, caller Caller, requireOwner bool) (*Result, error) {
	transfer, err := validateWalletTransfer(payload)
	if err != nil {
		return nil, err
	}
	if requireOwner {
		if caller.Wallet == "" {
			return nil, apierr.AuthRequired()
		}
		if transfer.FromAddress != caller.Wallet {
			return nil, apierr.New(apierr.CodeFromAddressMismatch,
				"from_address must match authenticated wallet", http.StatusForbidden)
		}
	}
	if err := e.checkRisk("wallet.transfer", caller, transfer.Amount); err != nil {
		return nil, err
	}
	if requireOwner {
		if err := e.clearance(ctx, caller, "wallet", "transfer", runID, map[string]any{
			"to_address": transfer.ToAddress, "amount": transfer.Amount, "asset_id": transfer.AssetID,
		}); err != nil {
			return nil, err
		}
	}

	res, err := e.walletTransferTx(ctx, seed, runID, transfer)
	e.finish("wallet", "transfer", err)
	return res, err
}

func (e *Executor) walletTransferTx(ctx context.Context, seed int64, runID string, transfer *walletTransferPayload) (*Result, error) {
	tx, err := e.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	conn := &tx.Conn

	runPayload := map[string]any{
		"from_address": transfer.FromAddress,
		"to_address":   transfer.ToAddress,
		"amount":       transfer.Amount,
		"asset_id":     transfer.AssetID,
	}
	outcome, err := evidence.RunAndRecord(ctx, e.Engine, conn, seed, runID, "wallet", "transfer", runPayload)
	if err != nil {
		return nil, err
	}
	quote := e.Pricer.RouteFee("wallet", "transfer", runPayload, runID, transfer.FromAddress)
	if err := conn.ApplyTransfer(ctx, store.WalletTransfer{
		TransferID:      ident.DeterministicID("wallet", runID),
		FromAddress:     transfer.FromAddress,
		ToAddress:       transfer.ToAddress,
		AssetID:         transfer.AssetID,
		Amount:          transfer.Amount,
		FeeTotal:        quote.Total(),
		TreasuryAddress: quote.Ledger.FeeAddress,
		RunID:           runID,
	}); err != nil {
		return nil, err
	}
	if err := conn.InsertFeeLedger(ctx, quote.Ledger); err != nil {
		return nil, err
	}

	balances := map[string]int64{}
	for name, lookup := range map[string][2]string{
		"from_balance":     {transfer.FromAddress, transfer.AssetID},
		"to_balance":       {transfer.ToAddress, transfer.AssetID},
		"treasury_balance": {quote.Ledger.FeeAddress, assets.FeeAsset},
	} {
		balance, err := conn.GetWalletBalance(ctx, lookup[0], lookup[1])
		if err != nil {
			return nil, err
		}
		balances[name] = balance
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	res := fromResult(outcome)
	res.Fee = &quote.Ledger
	res.Balances = balances
	return res, nil
}

// ExecuteWalletFaucet is the unthrottled dev faucet. Only reachable when
// the legacy wallet surface is enabled.
func (e *Executor) ExecuteWalletFaucet(ctx context.Context, seed int64, runID string, payload map[string]any, caller Caller) (*Result, error) {
	faucet, err := validateWalletFaucet(payload)
	if err != nil {
		return nil, err
	}
	if err := e.checkRisk("wallet.faucet", caller, faucet.Amount); err != nil {
		return nil, err
	}
	res, err := e.faucetTx(ctx, seed, runID, faucet, nil)
	e.finish("wallet", "faucet", err)
	return res, err
}

// ExecuteWalletFaucetV1 is the throttled faucet: per-account cooldown,
// 24h claim and amount caps, and a per-IP cap, all checked inside the
// claim transaction.
func (e *Executor) ExecuteWalletFaucetV1(ctx context.Context, seed int64, runID string, payload map[string]any, caller Caller) (*Result, error) {
	if caller.Wallet == "" {
		return nil, apierr.AuthRequired()
	}
	faucet, err := validateWalletFaucet(payload)
	if err != nil {
		return nil, err
	}
	if faucet.Address != caller.Wallet {
		return nil, apierr.New(apierr.CodeFaucetAddressMismatch,
			"address must match authenticated wallet", http.StatusForbidden)
	}
	if err := e.checkRisk("wallet.faucet", caller, faucet.Amount); err != nil {
		return nil, err
	}
	if err := e.clearance(ctx, caller, "wallet", "faucet", runID, map[string]any{
		"amount": faucet.Amount, "asset_id": faucet.AssetID,
	}); err != nil {
		return nil, err
	}

	ip := strings.TrimSpace(caller.IP)
	if ip == "" {
		ip = "unknown"
	}
	claim := &store.FaucetClaim{
		ClaimID:   ident.DeterministicID("faucet-claim", runID),
		AccountID: caller.Wallet,
		Address:   faucet.Address,
		AssetID:   faucet.AssetID,
		Amount:    faucet.Amount,
		IP:        ip,
		CreatedAt: e.now(),
		RunID:     runID,
	}
	res, err := e.faucetTx(ctx, seed, runID, faucet, claim)
	e.finish("wallet", "faucet", err)
	return res, err
}

func (e *Executor) checkFaucetPolicy(ctx context.Context, conn *store.Conn, claim *store.FaucetClaim) error {
	now := claim.CreatedAt
	windowStart := now - 24*60*60

	if cooldown := int64(e.Faucet.Cooldown.Seconds()); cooldown > 0 {
		lastAt, err := conn.LastFaucetClaimAt(ctx, claim.AccountID)
		if err != nil {
			return err
		}
		if lastAt > 0 {
			if retryAfter := cooldown - (now - lastAt); retryAfter > 0 {
				return apierr.New(apierr.CodeFaucetCooldown, "faucet cooldown active", http.StatusTooManyRequests).
					WithDetails(map[string]any{"retry_after_seconds": retryAfter})
			}
		}
	}

	window, err := conn.FaucetAccountWindow(ctx, claim.AccountID, windowStart)
	if err != nil {
		return err
	}
	if e.Faucet.MaxClaimsPer24h > 0 && window.Count >= e.Faucet.MaxClaimsPer24h {
		return apierr.New(apierr.CodeFaucetDailyClaimsExceeded, "daily faucet claim limit exceeded", http.StatusTooManyRequests).
			WithDetails(map[string]any{"max_claims_per_24h": e.Faucet.MaxClaimsPer24h})
	}
	if e.Faucet.MaxAmountPer24h > 0 && window.Total+claim.Amount > e.Faucet.MaxAmountPer24h {
		return apierr.New(apierr.CodeFaucetDailyAmountExceeded, "daily faucet amount limit exceeded", http.StatusTooManyRequests).
			WithDetails(map[string]any{
				"max_amount_per_24h":         e.Faucet.MaxAmountPer24h,
				"already_claimed_amount_24h": window.Total,
			})
	}
	if e.Faucet.IPMaxClaimsPer24h > 0 {
		ipCount, err := conn.FaucetIPClaimCount(ctx, claim.IP, windowStart)
		if err != nil {
			return err
		}
		if ipCount >= e.Faucet.IPMaxClaimsPer24h {
			return apierr.New(apierr.CodeFaucetIPLimitExceeded, "ip faucet claim limit exceeded", http.StatusTooManyRequests).
				WithDetails(map[string]any{"ip_max_claims_per_24h": e.Faucet.IPMaxClaimsPer24h})
		}
	}
	return nil
}

func (e *Executor) faucetTx(ctx context.Context, seed int64, runID string, faucet *walletFaucetPayload, claim *store.FaucetClaim) (*Result, error) {
	tx, err := e.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	conn := &tx.Conn

	if claim != nil {
		if err := e.checkFaucetPolicy(ctx, conn, claim); err != nil {
			return nil, err
		}
	}

	runPayload := map[string]any{
		"address":  faucet.Address,
		"amount":   faucet.Amount,
		"asset_id": faucet.AssetID,
	}
	outcome, err := evidence.RunAndRecord(ctx, e.Engine, conn, seed, runID, "wallet", "faucet", runPayload)
	if err != nil {
		return nil, err
	}
	quote := e.Pricer.RouteFee("wallet", "faucet", runPayload, runID, faucet.Address)
	balance, err := conn.ApplyFaucetWithFee(ctx, faucet.Address, faucet.Amount, quote.Total(),
		quote.Ledger.FeeAddress, runID, faucet.AssetID)
	if err != nil {
		return nil, err
	}
	if err := conn.InsertFeeLedger(ctx, quote.Ledger); err != nil {
		return nil, err
	}
	if claim != nil {
		if err := conn.InsertFaucetClaim(ctx, *claim); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	res := fromResult(outcome)
	res.Fee = &quote.Ledger
	res.Balance = &balance
	return res, nil
}
