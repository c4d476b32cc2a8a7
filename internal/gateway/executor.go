// Package gateway is the transactional action executor. Every state
// mutation runs inside one SQLite transaction that also records its
// deterministic evidence run and fee ledger entry, so a failure at any
// point leaves no partial writes behind.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/nyxlabs/testnet-gateway/internal/apierr"
	"github.com/nyxlabs/testnet-gateway/internal/assets"
	"github.com/nyxlabs/testnet-gateway/internal/compliance"
	"github.com/nyxlabs/testnet-gateway/internal/evidence"
	"github.com/nyxlabs/testnet-gateway/internal/exchange"
	"github.com/nyxlabs/testnet-gateway/internal/fees"
	"github.com/nyxlabs/testnet-gateway/internal/ident"
	"github.com/nyxlabs/testnet-gateway/internal/metrics"
	"github.com/nyxlabs/testnet-gateway/internal/risk"
	"github.com/nyxlabs/testnet-gateway/internal/store"
)

// Caller identifies the authenticated session behind a mutation. Ledger
// rows are keyed by the wallet address; chat events by the account id.
type Caller struct {
	AccountID string
	Wallet    string
	IP        string
}

// FaucetPolicy bounds v1 faucet dispensing.
type FaucetPolicy struct {
	Cooldown          time.Duration
	MaxAmountPer24h   int64
	MaxClaimsPer24h   int64
	IPMaxClaimsPer24h int64
}

// Executor routes validated actions into the store under a single
// transaction per run.
type Executor struct {
	Store      *store.Store
	Engine     evidence.Engine
	Pricer     fees.Pricer
	Risk       *risk.Engine
	Compliance *compliance.Client
	Metrics    *metrics.Metrics
	Faucet     FaucetPolicy
	Now        func() int64
}

// Result is the wire summary of one executed run.
type Result struct {
	RunID         string   `json:"run_id"`
	StateHash     string   `json:"state_hash"`
	ReceiptHashes []string `json:"receipt_hashes"`
	ReplayOK      bool     `json:"replay_ok"`

	Fee      *store.FeeLedger          `json:"fee,omitempty"`
	Order    *store.Order              `json:"order,omitempty"`
	Trades   []store.Trade             `json:"trades,omitempty"`
	Listing  *store.Listing            `json:"listing,omitempty"`
	Purchase *store.Purchase           `json:"purchase,omitempty"`
	Message  *store.MessageEvent       `json:"message,omitempty"`
	Event    *store.EntertainmentEvent `json:"event,omitempty"`
	Claim    *store.AirdropClaim       `json:"claim,omitempty"`
	Balance  *int64                    `json:"balance,omitempty"`
	Balances map[string]int64          `json:"balances,omitempty"`
}

func (e *Executor) now() int64 {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now().Unix()
}

func (e *Executor) checkRisk(action string, caller Caller, amount int64) error {
	if e.Risk == nil {
		return nil
	}
	return e.Risk.Check(action, caller.Wallet, caller.IP, amount)
}

func (e *Executor) finish(module, action string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if e.Risk != nil {
			e.Risk.RecordFailure(module + "." + action)
		}
	}
	if e.Metrics != nil {
		e.Metrics.RunsExecuted.WithLabelValues(module, action, outcome).Inc()
	}
}

func fromResult(outcome evidence.Outcome) *Result {
	return &Result{
		RunID:         outcome.RunID,
		StateHash:     outcome.StateHash,
		ReceiptHashes: outcome.ReceiptHashes,
		ReplayOK:      outcome.ReplayOK,
	}
}

// chargeFee moves the already-quoted fee from the payer to the treasury
// as a zero-amount transfer and writes the ledger row.
func (e *Executor) chargeFee(ctx context.Context, conn *store.Conn, quote fees.Quote, prefix, runID string) error {
	if err := conn.ApplyTransfer(ctx, store.WalletTransfer{
		TransferID:      ident.DeterministicID(prefix, runID),
		FromAddress:     quote.Payer,
		ToAddress:       quote.Ledger.FeeAddress,
		AssetID:         assets.FeeAsset,
		Amount:          0,
		FeeTotal:        quote.Total(),
		TreasuryAddress: quote.Ledger.FeeAddress,
		RunID:           runID,
	}); err != nil {
		return err
	}
	return conn.InsertFeeLedger(ctx, quote.Ledger)
}

func requireNYXT(ctx context.Context, conn *store.Conn, wallet string, required int64) error {
	balance, err := conn.GetWalletBalance(ctx, wallet, assets.FeeAsset)
	if err != nil {
		return err
	}
	if balance < required {
		return apierr.InsufficientBalance(assets.FeeAsset).WithDetails(map[string]any{
			"balance": balance, "required": required,
		})
	}
	return nil
}

// Execute runs one module action end to end: risk admission, payload
// validation, evidence run, fee, and the domain mutation, all inside a
// single transaction.
func (e *Executor) Execute(ctx context.Context, seed int64, runID, module, action string, payload map[string]any, caller Caller) (*Result, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	if err := e.checkRisk(module+"."+action, caller, riskAmount(payload)); err != nil {
		return nil, err
	}
	res, err := e.execute(ctx, seed, runID, module, action, payload, caller)
	e.finish(module, action, err)
	return res, err
}

func riskAmount(payload map[string]any) int64 {
	if amount, err := payloadInt(payload, "amount", 0, 1<<62); err == nil {
		return amount
	}
	return 0
}

func (e *Executor) execute(ctx context.Context, seed int64, runID, module, action string, payload map[string]any, caller Caller) (*Result, error) {
	tx, err := e.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var res *Result
	switch {
	case module == "exchange" && action == "place_order":
		res, err = e.placeOrder(ctx, &tx.Conn, seed, runID, payload, caller)
	case module == "exchange" && action == "cancel_order":
		res, err = e.cancelOrder(ctx, &tx.Conn, seed, runID, payload, caller)
	case module == "exchange" && action == "route_swap":
		res, err = e.routeSwap(ctx, &tx.Conn, seed, runID, payload, caller)
	case module == "chat" && action == "message_event":
		res, err = e.chatMessage(ctx, &tx.Conn, seed, runID, payload, caller)
	case module == "marketplace" && action == "listing_publish":
		res, err = e.publishListing(ctx, &tx.Conn, seed, runID, payload, caller)
	case module == "marketplace" && action == "purchase_listing":
		res, err = e.purchaseListing(ctx, &tx.Conn, seed, runID, payload, caller)
	case module == "entertainment" && action == "state_step":
		res, err = e.entertainmentStep(ctx, &tx.Conn, seed, runID, payload)
	case module == "dapp" && action == "sign_request":
		res, err = e.dappSignRequest(ctx, &tx.Conn, seed, runID, payload, caller)
	default:
		return nil, apierr.BadRequest("action not supported")
	}
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Executor) placeOrder(ctx context.Context, conn *store.Conn, seed int64, runID string, payload map[string]any, caller Caller) (*Result, error) {
	if caller.Wallet == "" {
		return nil, apierr.AuthRequired()
	}
	order, err := validatePlaceOrder(payload)
	if err != nil {
		return nil, err
	}
	if order.OwnerAddress != caller.Wallet {
		return nil, apierr.New(apierr.CodeAddressMismatch, "owner_address mismatch", http.StatusForbidden)
	}

	runPayload := map[string]any{
		"owner_address": order.OwnerAddress,
		"side":          order.Side,
		"asset_in":      order.AssetIn,
		"asset_out":     order.AssetOut,
		"amount":        order.Amount,
		"price":         order.Price,
	}
	outcome, err := evidence.RunAndRecord(ctx, e.Engine, conn, seed, runID, "exchange", "place_order", runPayload)
	if err != nil {
		return nil, err
	}

	quote := e.Pricer.RouteFee("exchange", "place_order", runPayload, runID, caller.Wallet)
	required := quote.Total()
	if order.AssetIn == assets.NYXT {
		required += order.Amount
	}
	if err := requireNYXT(ctx, conn, caller.Wallet, required); err != nil {
		return nil, err
	}

	placed, err := exchange.PlaceOrder(ctx, conn, store.Order{
		OrderID:      ident.OrderID(runID),
		OwnerAddress: order.OwnerAddress,
		Side:         order.Side,
		Amount:       order.Amount,
		Price:        order.Price,
		AssetIn:      order.AssetIn,
		AssetOut:     order.AssetOut,
		RunID:        runID,
	}, e.Pricer.TreasuryAddress)
	if err != nil {
		return nil, err
	}
	if err := e.chargeFee(ctx, conn, quote, "fee", runID); err != nil {
		return nil, err
	}

	res := fromResult(outcome)
	res.Fee = &quote.Ledger
	res.Order = &placed.Order
	res.Trades = placed.Trades
	return res, nil
}

func (e *Executor) cancelOrder(ctx context.Context, conn *store.Conn, seed int64, runID string, payload map[string]any, caller Caller) (*Result, error) {
	if caller.Wallet == "" {
		return nil, apierr.AuthRequired()
	}
	orderID, err := validateCancel(payload)
	if err != nil {
		return nil, err
	}
	runPayload := map[string]any{"order_id": orderID}
	outcome, err := evidence.RunAndRecord(ctx, e.Engine, conn, seed, runID, "exchange", "cancel_order", runPayload)
	if err != nil {
		return nil, err
	}
	order, err := exchange.CancelOrder(ctx, conn, orderID, caller.Wallet)
	if err != nil {
		return nil, err
	}
	quote := e.Pricer.RouteFee("exchange", "cancel_order", runPayload, runID, caller.Wallet)
	if err := e.chargeFee(ctx, conn, quote, "fee", runID); err != nil {
		return nil, err
	}

	res := fromResult(outcome)
	res.Fee = &quote.Ledger
	res.Order = order
	return res, nil
}

// routeSwap records a swap route quote as evidence and prices it; no
// balances move on this action.
func (e *Executor) routeSwap(ctx context.Context, conn *store.Conn, seed int64, runID string, payload map[string]any, caller Caller) (*Result, error) {
	swap, err := validateRouteSwap(payload)
	if err != nil {
		return nil, err
	}
	runPayload := map[string]any{
		"asset_in":  swap.AssetIn,
		"asset_out": swap.AssetOut,
		"amount":    swap.Amount,
		"min_out":   swap.MinOut,
	}
	outcome, err := evidence.RunAndRecord(ctx, e.Engine, conn, seed, runID, "exchange", "route_swap", runPayload)
	if err != nil {
		return nil, err
	}
	quote := e.Pricer.RouteFee("exchange", "route_swap", runPayload, runID, caller.Wallet)
	if err := conn.InsertFeeLedger(ctx, quote.Ledger); err != nil {
		return nil, err
	}
	res := fromResult(outcome)
	res.Fee = &quote.Ledger
	return res, nil
}

func (e *Executor) chatMessage(ctx context.Context, conn *store.Conn, seed int64, runID string, payload map[string]any, caller Caller) (*Result, error) {
	if caller.AccountID == "" || caller.Wallet == "" {
		return nil, apierr.AuthRequired()
	}
	chat, err := validateChat(payload)
	if err != nil {
		return nil, err
	}
	runPayload := map[string]any{"channel": chat.Channel, "message": chat.Message}
	outcome, err := evidence.RunAndRecord(ctx, e.Engine, conn, seed, runID, "chat", "message_event", runPayload)
	if err != nil {
		return nil, err
	}
	quote := e.Pricer.RouteFee("chat", "message_event", runPayload, runID, caller.Wallet)
	if err := requireNYXT(ctx, conn, caller.Wallet, quote.Total()); err != nil {
		return nil, err
	}
	if err := e.chargeFee(ctx, conn, quote, "fee", runID); err != nil {
		return nil, err
	}
	message := store.MessageEvent{
		MessageID:       ident.DeterministicID("message", runID),
		Channel:         chat.Channel,
		SenderAccountID: caller.AccountID,
		Body:            chat.Message,
		RunID:           runID,
	}
	if err := conn.InsertMessageEvent(ctx, message); err != nil {
		return nil, err
	}

	res := fromResult(outcome)
	res.Fee = &quote.Ledger
	res.Message = &message
	return res, nil
}

func (e *Executor) publishListing(ctx context.Context, conn *store.Conn, seed int64, runID string, payload map[string]any, caller Caller) (*Result, error) {
	if caller.Wallet == "" {
		return nil, apierr.AuthRequired()
	}
	listing, err := validateListing(payload)
	if err != nil {
		return nil, err
	}
	if listing.PublisherID != caller.Wallet {
		return nil, apierr.New(apierr.CodeAddressMismatch, "publisher_id mismatch", http.StatusForbidden)
	}
	runPayload := map[string]any{
		"publisher_id": listing.PublisherID,
		"sku":          listing.SKU,
		"title":        listing.Title,
		"price":        listing.Price,
	}
	outcome, err := evidence.RunAndRecord(ctx, e.Engine, conn, seed, runID, "marketplace", "listing_publish", runPayload)
	if err != nil {
		return nil, err
	}
	quote := e.Pricer.RouteFee("marketplace", "listing_publish", runPayload, runID, caller.Wallet)
	if err := requireNYXT(ctx, conn, caller.Wallet, quote.Total()); err != nil {
		return nil, err
	}
	row := store.Listing{
		ListingID:   ident.DeterministicID("listing", runID),
		PublisherID: listing.PublisherID,
		SKU:         listing.SKU,
		Title:       listing.Title,
		Price:       listing.Price,
		Status:      store.ListingStatusActive,
		RunID:       runID,
	}
	if err := conn.InsertListing(ctx, row); err != nil {
		return nil, err
	}
	if err := e.chargeFee(ctx, conn, quote, "fee", runID); err != nil {
		return nil, err
	}

	res := fromResult(outcome)
	res.Fee = &quote.Ledger
	res.Listing = &row
	return res, nil
}

func (e *Executor) purchaseListing(ctx context.Context, conn *store.Conn, seed int64, runID string, payload map[string]any, caller Caller) (*Result, error) {
	if caller.Wallet == "" {
		return nil, apierr.AuthRequired()
	}
	purchase, err := validatePurchase(payload)
	if err != nil {
		return nil, err
	}
	if purchase.BuyerID != caller.Wallet {
		return nil, apierr.New(apierr.CodeAddressMismatch, "buyer_id mismatch", http.StatusForbidden)
	}
	listing, err := conn.GetListing(ctx, purchase.ListingID)
	if err != nil {
		return nil, err
	}
	if listing == nil {
		return nil, apierr.New(apierr.CodeNotFound, "listing_id not found", http.StatusNotFound)
	}
	if listing.Status != store.ListingStatusActive {
		return nil, apierr.New(apierr.CodeListingUnavailable, "listing not available", http.StatusConflict).
			WithDetails(map[string]any{"listing_id": listing.ListingID, "status": listing.Status})
	}

	runPayload := map[string]any{
		"buyer_id":   purchase.BuyerID,
		"listing_id": purchase.ListingID,
		"qty":        purchase.Qty,
	}
	outcome, err := evidence.RunAndRecord(ctx, e.Engine, conn, seed, runID, "marketplace", "purchase_listing", runPayload)
	if err != nil {
		return nil, err
	}
	quote := e.Pricer.RouteFee("marketplace", "purchase_listing", runPayload, runID, caller.Wallet)

	total := listing.Price * purchase.Qty
	if err := requireNYXT(ctx, conn, caller.Wallet, total+quote.Total()); err != nil {
		return nil, err
	}
	// The purchase transfer carries the fee, so no separate fee transfer.
	if err := conn.ApplyTransfer(ctx, store.WalletTransfer{
		TransferID:      ident.DeterministicID("purchase-xfer", runID),
		FromAddress:     purchase.BuyerID,
		ToAddress:       listing.PublisherID,
		AssetID:         assets.NYXT,
		Amount:          total,
		FeeTotal:        quote.Total(),
		TreasuryAddress: quote.Ledger.FeeAddress,
		RunID:           runID,
	}); err != nil {
		return nil, err
	}
	row := store.Purchase{
		PurchaseID: ident.DeterministicID("purchase", runID),
		ListingID:  purchase.ListingID,
		BuyerID:    purchase.BuyerID,
		Qty:        purchase.Qty,
		RunID:      runID,
	}
	if err := conn.InsertPurchase(ctx, row); err != nil {
		return nil, err
	}
	if err := conn.MarkListingSold(ctx, purchase.ListingID); err != nil {
		return nil, err
	}
	if err := conn.InsertFeeLedger(ctx, quote.Ledger); err != nil {
		return nil, err
	}

	res := fromResult(outcome)
	res.Fee = &quote.Ledger
	res.Purchase = &row
	return res, nil
}

func (e *Executor) entertainmentStep(ctx context.Context, conn *store.Conn, seed int64, runID string, payload map[string]any) (*Result, error) {
	ent, err := validateEntertainment(payload)
	if err != nil {
		return nil, err
	}
	if err := EnsureEntertainmentItems(ctx, conn); err != nil {
		return nil, err
	}
	item, err := conn.GetEntertainmentItem(ctx, ent.ItemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, apierr.New(apierr.CodeNotFound, "item_id not found", http.StatusNotFound)
	}
	runPayload := map[string]any{"item_id": ent.ItemID, "mode": ent.Mode, "step": ent.Step}
	outcome, err := evidence.RunAndRecord(ctx, e.Engine, conn, seed, runID, "entertainment", "state_step", runPayload)
	if err != nil {
		return nil, err
	}
	event := store.EntertainmentEvent{
		EventID: ident.DeterministicID("ent-event", runID),
		ItemID:  ent.ItemID,
		Mode:    ent.Mode,
		Step:    ent.Step,
		RunID:   runID,
	}
	if err := conn.InsertEntertainmentEvent(ctx, event); err != nil {
		return nil, err
	}

	res := fromResult(outcome)
	res.Event = &event
	return res, nil
}

// dappSignRequest records a dapp signature prompt as an auditable
// message event; nothing is actually signed server side.
func (e *Executor) dappSignRequest(ctx context.Context, conn *store.Conn, seed int64, runID string, payload map[string]any, caller Caller) (*Result, error) {
	if caller.AccountID == "" {
		return nil, apierr.AuthRequired()
	}
	dappURL, err := payloadText(payload, "dapp_url", 256)
	if err != nil {
		return nil, err
	}
	method, err := payloadText(payload, "method", 64)
	if err != nil {
		return nil, err
	}
	runPayload := map[string]any{"dapp_url": dappURL, "method": method}
	outcome, err := evidence.RunAndRecord(ctx, e.Engine, conn, seed, runID, "dapp", "sign_request", runPayload)
	if err != nil {
		return nil, err
	}
	message := store.MessageEvent{
		MessageID:       ident.DeterministicID("dapp-sig", runID),
		Channel:         dappURL,
		SenderAccountID: caller.AccountID,
		Body:            "Signed: " + method,
		RunID:           runID,
	}
	if err := conn.InsertMessageEvent(ctx, message); err != nil {
		return nil, err
	}

	res := fromResult(outcome)
	res.Message = &message
	return res, nil
}

var defaultEntertainmentItems = []store.EntertainmentItem{
	{ItemID: "ent-001", Title: "Signal Drift", Summary: "Deterministic state steps for testnet alpha.", Category: "pulse"},
	{ItemID: "ent-002", Title: "Echo Field", Summary: "Bounded steps with stable evidence output.", Category: "drift"},
	{ItemID: "ent-003", Title: "Arc Loop", Summary: "Preview-only loop with deterministic receipts.", Category: "scan"},
}

// EnsureEntertainmentItems seeds the static catalog; idempotent.
func EnsureEntertainmentItems(ctx context.Context, conn *store.Conn) error {
	for _, item := range defaultEntertainmentItems {
		if err := conn.UpsertEntertainmentItem(ctx, item); err != nil {
			return err
		}
	}
	return nil
}
