package exchange

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nyxlabs/testnet-gateway/internal/apierr"
	"github.com/nyxlabs/testnet-gateway/internal/assets"
	"github.com/nyxlabs/testnet-gateway/internal/metrics"
	"github.com/nyxlabs/testnet-gateway/internal/store"
)

const treasury = "treasury"

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "g.db"), metrics.New())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func fund(t *testing.T, c *store.Conn, address, assetID string, amount int64) {
	t.Helper()
	_, err := c.ApplyFaucetWithFee(context.Background(), address, amount, 0, treasury, "seed-"+address+"-"+assetID, assetID)
	require.NoError(t, err)
}

func sellOrder(id, owner string, base, price int64) store.Order {
	return store.Order{
		OrderID: id, OwnerAddress: owner, Side: "SELL",
		Amount: base, Price: price,
		AssetIn: assets.ECHO, AssetOut: assets.NYXT, RunID: "run-" + id,
	}
}

func buyOrder(id, owner string, quote, price int64) store.Order {
	return store.Order{
		OrderID: id, OwnerAddress: owner, Side: "BUY",
		Amount: quote, Price: price,
		AssetIn: assets.NYXT, AssetOut: assets.ECHO, RunID: "run-" + id,
	}
}

func balance(t *testing.T, c *store.Conn, address, assetID string) int64 {
	t.Helper()
	b, err := c.GetWalletBalance(context.Background(), address, assetID)
	require.NoError(t, err)
	return b
}

func TestFullMatchAtMakerPrice(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	c := s.Conn()
	fund(t, c, "seller", assets.ECHO, 5)
	fund(t, c, "buyer", assets.NYXT, 50)

	_, err := PlaceOrder(ctx, c, sellOrder("order-s1", "seller", 5, 10), treasury)
	require.NoError(t, err)

	// Taker bids 12 but settles at the resting maker's 10.
	res, err := PlaceOrder(ctx, c, buyOrder("order-b1", "buyer", 50, 12), treasury)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	require.Equal(t, int64(5), res.Trades[0].Amount)
	require.Equal(t, int64(10), res.Trades[0].Price)
	require.Equal(t, store.OrderStatusFilled, res.Order.Status)
	require.Zero(t, res.Order.Amount)

	maker, err := c.GetOrder(ctx, "order-s1")
	require.NoError(t, err)
	require.Equal(t, store.OrderStatusFilled, maker.Status)
	require.Zero(t, maker.Amount)

	require.Equal(t, int64(5), balance(t, c, "buyer", assets.ECHO))
	require.Equal(t, int64(0), balance(t, c, "buyer", assets.NYXT))
	require.Equal(t, int64(50), balance(t, c, "seller", assets.NYXT))
	require.Equal(t, int64(0), balance(t, c, "seller", assets.ECHO))
}

func TestPartialFillLeavesRemainders(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	c := s.Conn()
	fund(t, c, "seller", assets.ECHO, 10)
	fund(t, c, "buyer", assets.NYXT, 36)

	_, err := PlaceOrder(ctx, c, sellOrder("order-s1", "seller", 10, 9), treasury)
	require.NoError(t, err)

	// 36 quote buys 36/9 = 4 base; the maker keeps 6 base resting.
	res, err := PlaceOrder(ctx, c, buyOrder("order-b1", "buyer", 36, 9), treasury)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	require.Equal(t, int64(4), res.Trades[0].Amount)
	require.Equal(t, store.OrderStatusFilled, res.Order.Status)

	maker, err := c.GetOrder(ctx, "order-s1")
	require.NoError(t, err)
	require.Equal(t, store.OrderStatusOpen, maker.Status)
	require.Equal(t, int64(6), maker.Amount)

	require.Equal(t, int64(4), balance(t, c, "buyer", assets.ECHO))
	require.Equal(t, int64(36), balance(t, c, "seller", assets.NYXT))
}

func TestPriceTimePriority(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	c := s.Conn()
	fund(t, c, "s1", assets.ECHO, 3)
	fund(t, c, "s2", assets.ECHO, 3)
	fund(t, c, "buyer", assets.NYXT, 100)

	// Same price: order_id breaks the tie; cheaper maker always first.
	_, err := PlaceOrder(ctx, c, sellOrder("order-b-late", "s2", 3, 7), treasury)
	require.NoError(t, err)
	_, err = PlaceOrder(ctx, c, sellOrder("order-a-early", "s1", 3, 7), treasury)
	require.NoError(t, err)

	res, err := PlaceOrder(ctx, c, buyOrder("order-take", "buyer", 21, 8), treasury)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)

	early, err := c.GetOrder(ctx, "order-a-early")
	require.NoError(t, err)
	require.Equal(t, store.OrderStatusFilled, early.Status)

	late, err := c.GetOrder(ctx, "order-b-late")
	require.NoError(t, err)
	require.Equal(t, store.OrderStatusOpen, late.Status)
}

func TestNoCrossLeavesTakerResting(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	c := s.Conn()
	fund(t, c, "seller", assets.ECHO, 5)
	fund(t, c, "buyer", assets.NYXT, 50)

	_, err := PlaceOrder(ctx, c, sellOrder("order-s1", "seller", 5, 20), treasury)
	require.NoError(t, err)

	res, err := PlaceOrder(ctx, c, buyOrder("order-b1", "buyer", 50, 10), treasury)
	require.NoError(t, err)
	require.Empty(t, res.Trades)
	require.Equal(t, store.OrderStatusOpen, res.Order.Status)
	require.Equal(t, int64(50), res.Order.Amount)
	require.Equal(t, int64(50), balance(t, c, "buyer", assets.NYXT))
}

func TestSellTakerSweepsBestBidFirst(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	c := s.Conn()
	fund(t, c, "b1", assets.NYXT, 30)
	fund(t, c, "b2", assets.NYXT, 40)
	fund(t, c, "seller", assets.ECHO, 10)

	_, err := PlaceOrder(ctx, c, buyOrder("order-low", "b1", 30, 3), treasury)
	require.NoError(t, err)
	_, err = PlaceOrder(ctx, c, buyOrder("order-high", "b2", 40, 4), treasury)
	require.NoError(t, err)

	// SELL 10 base at 3: fills 10 base against the 4-bid (40 quote), then stops.
	res, err := PlaceOrder(ctx, c, sellOrder("order-take", "seller", 10, 3), treasury)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	require.Equal(t, int64(10), res.Trades[0].Amount)
	require.Equal(t, int64(4), res.Trades[0].Price)
	require.Equal(t, store.OrderStatusFilled, res.Order.Status)

	high, err := c.GetOrder(ctx, "order-high")
	require.NoError(t, err)
	require.Equal(t, store.OrderStatusFilled, high.Status)
	require.Equal(t, int64(40), balance(t, c, "seller", assets.NYXT))
}

func TestDustMakerIsSkipped(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	c := s.Conn()
	fund(t, c, "seller", assets.ECHO, 5)
	fund(t, c, "buyer", assets.NYXT, 3)

	_, err := PlaceOrder(ctx, c, sellOrder("order-s1", "seller", 5, 10), treasury)
	require.NoError(t, err)

	// 3 quote cannot afford one base unit at price 10.
	res, err := PlaceOrder(ctx, c, buyOrder("order-b1", "buyer", 3, 10), treasury)
	require.NoError(t, err)
	require.Empty(t, res.Trades)
	require.Equal(t, int64(3), res.Order.Amount)
}

func TestAdmissionRejectsUnderfundedTaker(t *testing.T) {
	s := openStore(t)
	c := s.Conn()
	fund(t, c, "buyer", assets.NYXT, 10)

	_, err := PlaceOrder(context.Background(), c, buyOrder("order-b1", "buyer", 50, 10), treasury)
	require.Error(t, err)
	require.Equal(t, apierr.CodeInsufficientBalance, apierr.From(err).Code)
}

func TestCancelOrderRules(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	c := s.Conn()
	fund(t, c, "seller", assets.ECHO, 5)

	_, err := PlaceOrder(ctx, c, sellOrder("order-s1", "seller", 5, 10), treasury)
	require.NoError(t, err)

	_, err = CancelOrder(ctx, c, "order-s1", "mallory")
	require.Equal(t, apierr.CodeAddressMismatch, apierr.From(err).Code)

	cancelled, err := CancelOrder(ctx, c, "order-s1", "seller")
	require.NoError(t, err)
	require.Equal(t, store.OrderStatusCancelled, cancelled.Status)

	// ECHO stays with the seller; cancellation never touches balances.
	require.Equal(t, int64(5), balance(t, c, "seller", assets.ECHO))

	_, err = CancelOrder(ctx, c, "order-s1", "seller")
	require.Equal(t, apierr.CodeOrderNotCancellable, apierr.From(err).Code)

	_, err = CancelOrder(ctx, c, "order-none", "seller")
	require.Equal(t, apierr.CodeNotFound, apierr.From(err).Code)
}
