package gateway

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nyxlabs/testnet-gateway/internal/apierr"
	"github.com/nyxlabs/testnet-gateway/internal/assets"
	"github.com/nyxlabs/testnet-gateway/internal/evidence"
	"github.com/nyxlabs/testnet-gateway/internal/fees"
	"github.com/nyxlabs/testnet-gateway/internal/ident"
	"github.com/nyxlabs/testnet-gateway/internal/metrics"
	"github.com/nyxlabs/testnet-gateway/internal/risk"
	"github.com/nyxlabs/testnet-gateway/internal/store"
)

func testExecutor(t *testing.T) (*Executor, *store.Store, *int64) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "gw.db"), metrics.New())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	eng, err := evidence.NewLocalEngine(filepath.Join(dir, "runs"))
	require.NoError(t, err)

	clock := int64(1_700_000_000)
	e := &Executor{
		Store:   s,
		Engine:  eng,
		Pricer:  fees.Pricer{PlatformFeeBPS: 10, TreasuryAddress: "treasury"},
		Metrics: metrics.New(),
		Faucet: FaucetPolicy{
			Cooldown:          time.Hour,
			MaxAmountPer24h:   1500,
			MaxClaimsPer24h:   2,
			IPMaxClaimsPer24h: 2,
		},
		Now: func() int64 { return clock },
	}
	return e, s, &clock
}

func fund(t *testing.T, s *store.Store, address, assetID string, amount int64) {
	t.Helper()
	_, err := s.Conn().ApplyFaucetWithFee(context.Background(), address, amount, 0,
		"treasury", "seed-"+address+"-"+assetID, assetID)
	require.NoError(t, err)
}

func balance(t *testing.T, s *store.Store, address, assetID string) int64 {
	t.Helper()
	b, err := s.Conn().GetWalletBalance(context.Background(), address, assetID)
	require.NoError(t, err)
	return b
}

var (
	buyer  = Caller{AccountID: "acct-buyer", Wallet: "wallet-buyer", IP: "203.0.113.10"}
	seller = Caller{AccountID: "acct-seller", Wallet: "wallet-seller", IP: "203.0.113.11"}
)

func orderPayload(owner, side string, amount, price int64) map[string]any {
	assetIn, assetOut := assets.NYXT, assets.ECHO
	if side == "SELL" {
		assetIn, assetOut = assets.ECHO, assets.NYXT
	}
	return map[string]any{
		"owner_address": owner, "side": side,
		"asset_in": assetIn, "asset_out": assetOut,
		"amount": amount, "price": price,
	}
}

func TestPlaceOrderMatchesAndChargesFee(t *testing.T) {
	e, s, _ := testExecutor(t)
	ctx := context.Background()
	fund(t, s, buyer.Wallet, assets.NYXT, 1000)
	fund(t, s, seller.Wallet, assets.ECHO, 50)
	fund(t, s, seller.Wallet, assets.NYXT, 10)

	res, err := e.Execute(ctx, 1, "run-s1", "exchange", "place_order",
		orderPayload(seller.Wallet, "SELL", 10, 10), seller)
	require.NoError(t, err)
	require.Equal(t, store.OrderStatusOpen, res.Order.Status)
	require.Empty(t, res.Trades)
	require.Equal(t, int64(2), res.Fee.TotalPaid)

	res, err = e.Execute(ctx, 1, "run-b1", "exchange", "place_order",
		orderPayload(buyer.Wallet, "BUY", 100, 10), buyer)
	require.NoError(t, err)
	require.Equal(t, store.OrderStatusFilled, res.Order.Status)
	require.Len(t, res.Trades, 1)
	require.Equal(t, int64(10), res.Trades[0].Amount)
	require.Equal(t, int64(10), res.Trades[0].Price)

	require.Equal(t, int64(898), balance(t, s, buyer.Wallet, assets.NYXT))
	require.Equal(t, int64(10), balance(t, s, buyer.Wallet, assets.ECHO))
	require.Equal(t, int64(40), balance(t, s, seller.Wallet, assets.ECHO))
	require.Equal(t, int64(108), balance(t, s, seller.Wallet, assets.NYXT))
	require.Equal(t, int64(4), balance(t, s, "treasury", assets.NYXT))

	receipt, err := s.Conn().GetReceiptByRun(ctx, "run-b1")
	require.NoError(t, err)
	require.NotNil(t, receipt)
	require.Equal(t, res.StateHash, receipt.StateHash)
}

func TestPlaceOrderOwnerMismatch(t *testing.T) {
	e, s, _ := testExecutor(t)
	fund(t, s, buyer.Wallet, assets.NYXT, 1000)

	_, err := e.Execute(context.Background(), 1, "run-x1", "exchange", "place_order",
		orderPayload("someone-else", "BUY", 100, 10), buyer)
	require.Error(t, err)
	require.Equal(t, apierr.CodeAddressMismatch, apierr.From(err).Code)

	row, err := s.Conn().LoadByID(context.Background(), "orders", ident.OrderID("run-x1"))
	require.NoError(t, err)
	require.Nil(t, row)
}

func TestPlaceOrderInsufficientBalanceRollsBack(t *testing.T) {
	e, s, _ := testExecutor(t)
	ctx := context.Background()
	fund(t, s, buyer.Wallet, assets.NYXT, 5)

	_, err := e.Execute(ctx, 1, "run-poor", "exchange", "place_order",
		orderPayload(buyer.Wallet, "BUY", 100, 10), buyer)
	require.Error(t, err)
	require.Equal(t, apierr.CodeInsufficientBalance, apierr.From(err).Code)

	// The whole transaction rolled back: no evidence row, no order.
	row, err := s.Conn().LoadByID(ctx, "evidence_runs", "run-poor")
	require.NoError(t, err)
	require.Nil(t, row)
	row, err = s.Conn().LoadByID(ctx, "orders", ident.OrderID("run-poor"))
	require.NoError(t, err)
	require.Nil(t, row)
	require.Equal(t, int64(5), balance(t, s, buyer.Wallet, assets.NYXT))
}

func TestCancelOrderRules(t *testing.T) {
	e, s, _ := testExecutor(t)
	ctx := context.Background()
	fund(t, s, seller.Wallet, assets.ECHO, 50)
	fund(t, s, seller.Wallet, assets.NYXT, 20)

	res, err := e.Execute(ctx, 1, "run-s2", "exchange", "place_order",
		orderPayload(seller.Wallet, "SELL", 10, 10), seller)
	require.NoError(t, err)
	orderID := res.Order.OrderID

	_, err = e.Execute(ctx, 1, "run-c0", "exchange", "cancel_order",
		map[string]any{"order_id": orderID}, buyer)
	require.Error(t, err)
	require.Equal(t, apierr.CodeAddressMismatch, apierr.From(err).Code)

	res, err = e.Execute(ctx, 1, "run-c1", "exchange", "cancel_order",
		map[string]any{"order_id": orderID}, seller)
	require.NoError(t, err)
	require.Equal(t, store.OrderStatusCancelled, res.Order.Status)

	_, err = e.Execute(ctx, 1, "run-c2", "exchange", "cancel_order",
		map[string]any{"order_id": orderID}, seller)
	require.Error(t, err)
	require.Equal(t, apierr.CodeOrderNotCancellable, apierr.From(err).Code)

	_, err = e.Execute(ctx, 1, "run-c3", "exchange", "cancel_order",
		map[string]any{"order_id": "order-missing"}, seller)
	require.Error(t, err)
	require.Equal(t, apierr.CodeNotFound, apierr.From(err).Code)
}

func TestChatMessageChargesFeeAndPersists(t *testing.T) {
	e, s, _ := testExecutor(t)
	ctx := context.Background()
	fund(t, s, buyer.Wallet, assets.NYXT, 10)

	envelope := `{"ciphertext":"c2VhbGVk","iv":"aXY"}`
	res, err := e.Execute(ctx, 1, "run-m1", "chat", "message_event",
		map[string]any{"channel": "dm:acct-buyer:acct-seller", "message": envelope}, buyer)
	require.NoError(t, err)
	require.Equal(t, buyer.AccountID, res.Message.SenderAccountID)
	require.Equal(t, int64(8), balance(t, s, buyer.Wallet, assets.NYXT))

	events, err := s.Conn().ListMessageEvents(ctx, "dm:acct-buyer:acct-seller", 10, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, envelope, events[0].Body)

	// Plaintext bodies never reach storage.
	_, err = e.Execute(ctx, 1, "run-m2", "chat", "message_event",
		map[string]any{"channel": "dm:a:b", "message": "hello in the clear"}, buyer)
	require.Error(t, err)

	// Broke senders are rejected before any row is written.
	pauper := Caller{AccountID: "acct-p", Wallet: "wallet-p"}
	_, err = e.Execute(ctx, 1, "run-m3", "chat", "message_event",
		map[string]any{"channel": "dm:a:b", "message": envelope}, pauper)
	require.Equal(t, apierr.CodeInsufficientBalance, apierr.From(err).Code)
}

func TestMarketplacePublishAndPurchase(t *testing.T) {
	e, s, _ := testExecutor(t)
	ctx := context.Background()
	fund(t, s, seller.Wallet, assets.NYXT, 10)
	fund(t, s, buyer.Wallet, assets.NYXT, 1000)

	res, err := e.Execute(ctx, 1, "run-l1", "marketplace", "listing_publish", map[string]any{
		"publisher_id": seller.Wallet, "sku": "sku-001", "title": "Test Item", "price": int64(100),
	}, seller)
	require.NoError(t, err)
	listingID := res.Listing.ListingID
	require.Equal(t, store.ListingStatusActive, res.Listing.Status)
	require.Equal(t, int64(8), balance(t, s, seller.Wallet, assets.NYXT))

	_, err = e.Execute(ctx, 1, "run-p0", "marketplace", "purchase_listing", map[string]any{
		"buyer_id": "someone-else", "listing_id": listingID, "qty": int64(1),
	}, buyer)
	require.Equal(t, apierr.CodeAddressMismatch, apierr.From(err).Code)

	res, err = e.Execute(ctx, 1, "run-p1", "marketplace", "purchase_listing", map[string]any{
		"buyer_id": buyer.Wallet, "listing_id": listingID, "qty": int64(3),
	}, buyer)
	require.NoError(t, err)
	require.Equal(t, int64(3), res.Purchase.Qty)
	require.Equal(t, int64(698), balance(t, s, buyer.Wallet, assets.NYXT))
	require.Equal(t, int64(308), balance(t, s, seller.Wallet, assets.NYXT))

	listing, err := s.Conn().GetListing(ctx, listingID)
	require.NoError(t, err)
	require.Equal(t, store.ListingStatusSold, listing.Status)

	_, err = e.Execute(ctx, 1, "run-p2", "marketplace", "purchase_listing", map[string]any{
		"buyer_id": buyer.Wallet, "listing_id": listingID, "qty": int64(1),
	}, buyer)
	require.Equal(t, apierr.CodeListingUnavailable, apierr.From(err).Code)

	_, err = e.Execute(ctx, 1, "run-p3", "marketplace", "purchase_listing", map[string]any{
		"buyer_id": buyer.Wallet, "listing_id": "listing-missing", "qty": int64(1),
	}, buyer)
	require.Equal(t, apierr.CodeNotFound, apierr.From(err).Code)
}

func TestEntertainmentStateStep(t *testing.T) {
	e, s, _ := testExecutor(t)
	ctx := context.Background()

	res, err := e.Execute(ctx, 7, "run-e1", "entertainment", "state_step",
		map[string]any{"item_id": "ent-001", "mode": "pulse", "step": int64(3)}, buyer)
	require.NoError(t, err)
	require.Equal(t, int64(3), res.Event.Step)

	items, err := s.Conn().ListEntertainmentItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 3)

	_, err = e.Execute(ctx, 7, "run-e2", "entertainment", "state_step",
		map[string]any{"item_id": "ent-404", "mode": "pulse", "step": int64(1)}, buyer)
	require.Equal(t, apierr.CodeNotFound, apierr.From(err).Code)

	_, err = e.Execute(ctx, 7, "run-e3", "entertainment", "state_step",
		map[string]any{"item_id": "ent-001", "mode": "blast", "step": int64(1)}, buyer)
	require.Error(t, err)

	_, err = e.Execute(ctx, 7, "run-e4", "entertainment", "state_step",
		map[string]any{"item_id": "ent-001", "mode": "pulse", "step": int64(21)}, buyer)
	require.Error(t, err)
}

func TestRouteSwapRecordsFeeOnly(t *testing.T) {
	e, s, _ := testExecutor(t)
	ctx := context.Background()

	res, err := e.Execute(ctx, 1, "run-rs1", "exchange", "route_swap", map[string]any{
		"asset_in": assets.NYXT, "asset_out": assets.ECHO, "amount": int64(50), "min_out": int64(45),
	}, buyer)
	require.NoError(t, err)
	require.NotNil(t, res.Fee)

	row, err := s.Conn().LoadByID(ctx, "fee_ledger", res.Fee.FeeID)
	require.NoError(t, err)
	require.NotNil(t, row)

	// A routed swap quote moves no funds.
	transfer, err := s.Conn().LoadByID(ctx, "wallet_transfers", ident.DeterministicID("fee", "run-rs1"))
	require.NoError(t, err)
	require.Nil(t, transfer)
}

func TestDappSignRequestRecordsEvent(t *testing.T) {
	e, s, _ := testExecutor(t)
	ctx := context.Background()

	res, err := e.Execute(ctx, 1, "run-d1", "dapp", "sign_request",
		map[string]any{"dapp_url": "https://dapp.example/swap", "method": "eth_signTypedData"}, buyer)
	require.NoError(t, err)
	require.Equal(t, "Signed: eth_signTypedData", res.Message.Body)

	events, err := s.Conn().ListMessageEvents(ctx, "https://dapp.example/swap", 10, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestUnknownActionRejected(t *testing.T) {
	e, _, _ := testExecutor(t)
	_, err := e.Execute(context.Background(), 1, "run-u1", "nyx", "noop", nil, buyer)
	require.Equal(t, apierr.CodeBadRequest, apierr.From(err).Code)

	_, err = e.Execute(context.Background(), 1, "run-u2", "marketplace", "order_intent", nil, buyer)
	require.Equal(t, apierr.CodeBadRequest, apierr.From(err).Code)
}

func TestWalletTransferV1(t *testing.T) {
	e, s, _ := testExecutor(t)
	ctx := context.Background()
	alice := Caller{AccountID: "acct-alice", Wallet: "wallet-alice"}
	fund(t, s, alice.Wallet, assets.NYXT, 6000)

	res, err := e.ExecuteWalletTransfer(ctx, 1, "run-t1", map[string]any{
		"from_address": alice.Wallet, "to_address": "wallet-bob", "amount": int64(5000),
	}, alice, true)
	require.NoError(t, err)
	require.Equal(t, int64(6), res.Fee.TotalPaid)
	require.Equal(t, int64(994), res.Balances["from_balance"])
	require.Equal(t, int64(5000), res.Balances["to_balance"])
	require.Equal(t, int64(6), res.Balances["treasury_balance"])

	_, err = e.ExecuteWalletTransfer(ctx, 1, "run-t2", map[string]any{
		"from_address": "wallet-bob", "to_address": alice.Wallet, "amount": int64(10),
	}, alice, true)
	require.Equal(t, apierr.CodeFromAddressMismatch, apierr.From(err).Code)

	// Legacy path has no owner binding.
	res, err = e.ExecuteWalletTransfer(ctx, 1, "run-t3", map[string]any{
		"from_address": "wallet-bob", "to_address": alice.Wallet, "amount": int64(100),
	}, Caller{}, false)
	require.NoError(t, err)
	require.Equal(t, int64(4898), res.Balances["from_balance"])
}

func TestWalletTransferNonFeeAsset(t *testing.T) {
	e, s, _ := testExecutor(t)
	ctx := context.Background()
	alice := Caller{AccountID: "acct-alice", Wallet: "wallet-alice"}
	fund(t, s, alice.Wallet, assets.ECHO, 100)
	fund(t, s, alice.Wallet, assets.NYXT, 10)

	res, err := e.ExecuteWalletTransfer(ctx, 1, "run-t4", map[string]any{
		"from_address": alice.Wallet, "to_address": "wallet-bob",
		"amount": int64(40), "asset_id": "ECHO",
	}, alice, true)
	require.NoError(t, err)
	require.Equal(t, int64(60), res.Balances["from_balance"])
	require.Equal(t, int64(40), res.Balances["to_balance"])
	// The NYXT fee still came out of the sender.
	require.Equal(t, int64(8), balance(t, s, alice.Wallet, assets.NYXT))
}

func TestFaucetV1Throttles(t *testing.T) {
	e, s, clock := testExecutor(t)
	ctx := context.Background()
	caller := Caller{AccountID: "acct-f", Wallet: "wallet-f", IP: "203.0.113.50"}

	payload := func(amount int64) map[string]any {
		return map[string]any{"address": caller.Wallet, "amount": amount}
	}

	_, err := e.ExecuteWalletFaucetV1(ctx, 1, "run-f0", map[string]any{
		"address": "wallet-other", "amount": int64(100),
	}, caller)
	require.Equal(t, apierr.CodeFaucetAddressMismatch, apierr.From(err).Code)

	res, err := e.ExecuteWalletFaucetV1(ctx, 1, "run-f1", payload(1000), caller)
	require.NoError(t, err)
	require.Equal(t, int64(1000), *res.Balance)

	_, err = e.ExecuteWalletFaucetV1(ctx, 1, "run-f2", payload(100), caller)
	apiErr := apierr.From(err)
	require.Equal(t, apierr.CodeFaucetCooldown, apiErr.Code)
	require.EqualValues(t, 3600, apiErr.Details["retry_after_seconds"])

	*clock += 3601
	_, err = e.ExecuteWalletFaucetV1(ctx, 1, "run-f3", payload(600), caller)
	require.Equal(t, apierr.CodeFaucetDailyAmountExceeded, apierr.From(err).Code)

	_, err = e.ExecuteWalletFaucetV1(ctx, 1, "run-f4", payload(500), caller)
	require.NoError(t, err)

	*clock += 3601
	_, err = e.ExecuteWalletFaucetV1(ctx, 1, "run-f5", payload(10), caller)
	require.Equal(t, apierr.CodeFaucetDailyClaimsExceeded, apierr.From(err).Code)

	// Per-IP cap across accounts.
	sharedIP := "203.0.113.99"
	for i, wallet := range []string{"wallet-ip1", "wallet-ip2"} {
		c := Caller{AccountID: "acct-" + wallet, Wallet: wallet, IP: sharedIP}
		_, err = e.ExecuteWalletFaucetV1(ctx, 1, "run-ip"+string(rune('1'+i)),
			map[string]any{"address": wallet, "amount": int64(10)}, c)
		require.NoError(t, err)
	}
	third := Caller{AccountID: "acct-ip3", Wallet: "wallet-ip3", IP: sharedIP}
	_, err = e.ExecuteWalletFaucetV1(ctx, 1, "run-ip3",
		map[string]any{"address": "wallet-ip3", "amount": int64(10)}, third)
	require.Equal(t, apierr.CodeFaucetIPLimitExceeded, apierr.From(err).Code)

	claims, err := s.Conn().ListFaucetClaims(ctx, caller.Wallet, 10, 0)
	require.NoError(t, err)
	require.Len(t, claims, 2)
}

func TestLegacyFaucetSkipsThrottles(t *testing.T) {
	e, s, _ := testExecutor(t)
	ctx := context.Background()

	for _, runID := range []string{"run-lf1", "run-lf2", "run-lf3"} {
		_, err := e.ExecuteWalletFaucet(ctx, 1, runID, map[string]any{
			"address": "wallet-dev", "amount": int64(1000),
		}, Caller{})
		require.NoError(t, err)
	}
	require.Equal(t, int64(3000), balance(t, s, "wallet-dev", assets.NYXT))
}

func TestAirdropClaimLifecycle(t *testing.T) {
	e, s, _ := testExecutor(t)
	ctx := context.Background()
	fund(t, s, seller.Wallet, assets.NYXT, 10)
	fund(t, s, buyer.Wallet, assets.NYXT, 1000)

	tasks, err := e.AirdropTasks(ctx, buyer)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	for _, task := range tasks {
		require.False(t, task.Completed)
		require.False(t, task.Claimable)
	}

	_, err = e.ExecuteAirdropClaim(ctx, 1, "run-a0", "store_1", buyer)
	require.Equal(t, apierr.CodeTaskIncomplete, apierr.From(err).Code)

	_, err = e.ExecuteAirdropClaim(ctx, 1, "run-a0b", "jackpot_9", buyer)
	require.Equal(t, apierr.CodeTaskUnknown, apierr.From(err).Code)

	// Complete store_1 with a real purchase.
	res, err := e.Execute(ctx, 1, "run-al1", "marketplace", "listing_publish", map[string]any{
		"publisher_id": seller.Wallet, "sku": "sku-air", "title": "Airdrop Bait", "price": int64(50),
	}, seller)
	require.NoError(t, err)
	_, err = e.Execute(ctx, 1, "run-ap1", "marketplace", "purchase_listing", map[string]any{
		"buyer_id": buyer.Wallet, "listing_id": res.Listing.ListingID, "qty": int64(1),
	}, buyer)
	require.NoError(t, err)

	before := balance(t, s, buyer.Wallet, assets.NYXT)
	claim, err := e.ExecuteAirdropClaim(ctx, 1, "run-a1", "store_1", buyer)
	require.NoError(t, err)
	require.Equal(t, int64(200), claim.Claim.Reward)
	require.Equal(t, before+200, balance(t, s, buyer.Wallet, assets.NYXT))

	_, err = e.ExecuteAirdropClaim(ctx, 1, "run-a2", "store_1", buyer)
	apiErr := apierr.From(err)
	require.Equal(t, apierr.CodeTaskAlreadyClaimed, apiErr.Code)
	require.Equal(t, "run-a1", apiErr.Details["claim_run_id"])

	tasks, err = e.AirdropTasks(ctx, buyer)
	require.NoError(t, err)
	for _, task := range tasks {
		if task.TaskID == "store_1" {
			require.True(t, task.Completed)
			require.True(t, task.Claimed)
			require.False(t, task.Claimable)
			require.Equal(t, "run-ap1", *task.CompletionRunID)
		}
	}
}

func TestRiskLimitGatesExecution(t *testing.T) {
	e, _, _ := testExecutor(t)
	e.Risk = risk.New(risk.Config{Mode: risk.ModeEnforce, Account: risk.Limit{MaxCount: 1}}, metrics.New())
	ctx := context.Background()

	payload := map[string]any{
		"asset_in": assets.NYXT, "asset_out": assets.ECHO, "amount": int64(5), "min_out": int64(4),
	}
	_, err := e.Execute(ctx, 1, "run-r1", "exchange", "route_swap", payload, buyer)
	require.NoError(t, err)
	_, err = e.Execute(ctx, 1, "run-r2", "exchange", "route_swap", payload, buyer)
	require.Equal(t, apierr.CodeRiskLimit, apierr.From(err).Code)
}

func TestPayloadValidation(t *testing.T) {
	_, err := payloadInt(map[string]any{"amount": 3.5}, "amount", 1, 100)
	require.Error(t, err)

	v, err := payloadInt(map[string]any{"amount": float64(42)}, "amount", 1, 100)
	require.NoError(t, err)
	require.Equal(t, int64(42), v)

	_, err = payloadAddress(map[string]any{"address": "has spaces"}, "address")
	require.Error(t, err)

	_, err = payloadAssetID(map[string]any{"asset_id": "DOGE"}, "asset_id")
	require.Error(t, err)

	asset, err := payloadAssetID(map[string]any{}, "asset_id")
	require.NoError(t, err)
	require.Equal(t, assets.NYXT, asset)

	_, err = validatePlaceOrder(map[string]any{
		"owner_address": "w", "side": "HOLD", "asset_in": "NYXT", "asset_out": "ECHO",
		"amount": int64(1), "price": int64(1),
	})
	require.Error(t, err)

	_, err = validateWalletTransfer(map[string]any{
		"from_address": "same", "to_address": "same", "amount": int64(1),
	})
	require.Error(t, err)
}
