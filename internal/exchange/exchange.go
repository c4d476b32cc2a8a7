// Package exchange implements the continuous double auction over the
// ECHO/NYXT pair. ECHO is the base asset and NYXT the quote; a BUY order
// carries its remaining quote budget, a SELL order its remaining base.
// Settlement always happens at the resting maker's price.
package exchange

import (
	"context"
	"net/http"

	"github.com/nyxlabs/testnet-gateway/internal/apierr"
	"github.com/nyxlabs/testnet-gateway/internal/assets"
	"github.com/nyxlabs/testnet-gateway/internal/ident"
	"github.com/nyxlabs/testnet-gateway/internal/store"
)

// Result reports the taker order after matching and the trade legs
// written during the sweep.
type Result struct {
	Order  store.Order   `json:"order"`
	Trades []store.Trade `json:"trades"`
}

// PlaceOrder inserts the taker order and sweeps the opposite side of the
// book inside the caller's transaction. Nothing commits here; any error
// must roll back every write.
func PlaceOrder(ctx context.Context, conn *store.Conn, taker store.Order, treasury string) (Result, error) {
	if err := checkPair(taker); err != nil {
		return Result{}, err
	}

	balance, err := conn.GetWalletBalance(ctx, taker.OwnerAddress, taker.AssetIn)
	if err != nil {
		return Result{}, err
	}
	if balance < taker.Amount {
		return Result{}, apierr.InsufficientBalance(taker.AssetIn)
	}

	taker.Status = store.OrderStatusOpen
	if err := conn.InsertOrder(ctx, taker); err != nil {
		return Result{}, err
	}

	makers, err := conn.ListOrders(ctx, store.OrderFilter{
		Side:     oppositeSide(taker.Side),
		AssetIn:  taker.AssetOut,
		AssetOut: taker.AssetIn,
		Status:   store.OrderStatusOpen,
		OrderBy:  makerOrder(taker.Side),
		Limit:    500,
	})
	if err != nil {
		return Result{}, err
	}

	remaining := taker.Amount
	trades := make([]store.Trade, 0)
	for _, maker := range makers {
		if maker.OrderID == taker.OrderID {
			continue
		}
		if !crosses(taker, maker) {
			break
		}

		// Sizes in base units. The taker's remaining is quote for BUY
		// and base for SELL; the maker mirrors it.
		var sellerBase, buyerQuote int64
		if taker.Side == "BUY" {
			sellerBase = maker.Amount
			buyerQuote = remaining
		} else {
			sellerBase = remaining
			buyerQuote = maker.Amount
		}
		tradeBase := min(sellerBase, buyerQuote/maker.Price)
		if tradeBase == 0 {
			continue
		}
		tradeQuote := tradeBase * maker.Price

		tradeID := ident.TradeID(taker.OrderID, maker.OrderID, tradeBase)

		// Two zero-fee settlement transfers; the gateway fee is charged
		// once by the outer executor, never per fill.
		var takerPays, makerPays int64
		if taker.Side == "BUY" {
			takerPays, makerPays = tradeQuote, tradeBase
		} else {
			takerPays, makerPays = tradeBase, tradeQuote
		}
		if err := conn.ApplyTransfer(ctx, store.WalletTransfer{
			TransferID:      tradeID + "-t",
			FromAddress:     taker.OwnerAddress,
			ToAddress:       maker.OwnerAddress,
			AssetID:         taker.AssetIn,
			Amount:          takerPays,
			TreasuryAddress: treasury,
			RunID:           taker.RunID,
		}); err != nil {
			return Result{}, err
		}
		if err := conn.ApplyTransfer(ctx, store.WalletTransfer{
			TransferID:      tradeID + "-m",
			FromAddress:     maker.OwnerAddress,
			ToAddress:       taker.OwnerAddress,
			AssetID:         taker.AssetOut,
			Amount:          makerPays,
			TreasuryAddress: treasury,
			RunID:           taker.RunID,
		}); err != nil {
			return Result{}, err
		}

		legs := []store.Trade{
			{TradeID: tradeID + "-t", OrderID: taker.OrderID, Amount: tradeBase, Price: maker.Price, RunID: taker.RunID},
			{TradeID: tradeID + "-m", OrderID: maker.OrderID, Amount: tradeBase, Price: maker.Price, RunID: maker.RunID},
		}
		for _, leg := range legs {
			if err := conn.InsertTrade(ctx, leg); err != nil {
				return Result{}, err
			}
		}
		trades = append(trades, legs[0])

		makerSpent := tradeBase
		if maker.Side == "BUY" {
			makerSpent = tradeQuote
		}
		makerLeft := maker.Amount - makerSpent
		if err := conn.UpdateOrderAmount(ctx, maker.OrderID, makerLeft); err != nil {
			return Result{}, err
		}
		if makerLeft == 0 {
			if err := conn.UpdateOrderStatus(ctx, maker.OrderID, store.OrderStatusFilled); err != nil {
				return Result{}, err
			}
		}

		if taker.Side == "BUY" {
			remaining -= tradeQuote
		} else {
			remaining -= tradeBase
		}
		if remaining == 0 {
			break
		}
	}

	if err := conn.UpdateOrderAmount(ctx, taker.OrderID, remaining); err != nil {
		return Result{}, err
	}
	taker.Amount = remaining
	if remaining == 0 {
		if err := conn.UpdateOrderStatus(ctx, taker.OrderID, store.OrderStatusFilled); err != nil {
			return Result{}, err
		}
		taker.Status = store.OrderStatusFilled
	}
	return Result{Order: taker, Trades: trades}, nil
}

// CancelOrder transitions an open order to cancelled. Only the owner may
// cancel, and only while the order is still open; balances are untouched.
func CancelOrder(ctx context.Context, conn *store.Conn, orderID, owner string) (*store.Order, error) {
	order, err := conn.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, apierr.New(apierr.CodeNotFound, "order_id not found", http.StatusNotFound)
	}
	if order.OwnerAddress != owner {
		return nil, apierr.New(apierr.CodeAddressMismatch, "order_id ownership mismatch", http.StatusForbidden)
	}
	if order.Status != store.OrderStatusOpen {
		return nil, apierr.New(apierr.CodeOrderNotCancellable, "order not cancellable", http.StatusConflict)
	}
	if err := conn.UpdateOrderStatus(ctx, orderID, store.OrderStatusCancelled); err != nil {
		return nil, err
	}
	order.Status = store.OrderStatusCancelled
	return order, nil
}

func checkPair(o store.Order) error {
	switch o.Side {
	case "BUY":
		if o.AssetIn != assets.NYXT || o.AssetOut != assets.ECHO {
			return apierr.ParamInvalid("asset_in", "BUY orders spend NYXT for ECHO")
		}
	case "SELL":
		if o.AssetIn != assets.ECHO || o.AssetOut != assets.NYXT {
			return apierr.ParamInvalid("asset_in", "SELL orders spend ECHO for NYXT")
		}
	default:
		return apierr.ParamInvalid("side", "must be BUY or SELL")
	}
	return nil
}

func oppositeSide(side string) string {
	if side == "BUY" {
		return "SELL"
	}
	return "BUY"
}

// BUY takers sweep cheapest SELL makers first; SELL takers sweep the
// highest BUY bids first. Ties break on order_id.
func makerOrder(side string) string {
	if side == "BUY" {
		return "price ASC, order_id ASC"
	}
	return "price DESC, order_id ASC"
}

func crosses(taker, maker store.Order) bool {
	if taker.Side == "BUY" {
		return taker.Price >= maker.Price
	}
	return taker.Price <= maker.Price
}
