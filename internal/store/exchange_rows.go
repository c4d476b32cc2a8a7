package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Order-by fragments are interpolated into SQL and therefore whitelisted.
var orderByWhitelist = map[string]bool{
	"price ASC, order_id ASC":  true,
	"price DESC, order_id ASC": true,
}

// InsertOrder writes a new resting order.
func (c *Conn) InsertOrder(ctx context.Context, o Order) error {
	if err := validText(o.OrderID, "order_id"); err != nil {
		return err
	}
	if err := validAddress(o.OwnerAddress, "owner_address"); err != nil {
		return err
	}
	if o.Side != "BUY" && o.Side != "SELL" {
		return fmt.Errorf("side invalid")
	}
	if err := validPositive(o.Amount, "amount"); err != nil {
		return err
	}
	if err := validPositive(o.Price, "price"); err != nil {
		return err
	}
	status := o.Status
	if status == "" {
		status = OrderStatusOpen
	}
	_, err := c.exec(ctx, "insert_order",
		`INSERT INTO orders (order_id, owner_address, side, amount, price, asset_in, asset_out, status, run_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.OrderID, o.OwnerAddress, o.Side, o.Amount, o.Price, o.AssetIn, o.AssetOut, status, o.RunID)
	return err
}

// GetOrder loads one order by ID, or nil.
func (c *Conn) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	row := c.queryRow(ctx, "get_order",
		`SELECT order_id, owner_address, side, amount, price, asset_in, asset_out, status, run_id
		 FROM orders WHERE order_id = ?`, orderID)
	var o Order
	err := row.Scan(&o.OrderID, &o.OwnerAddress, &o.Side, &o.Amount, &o.Price, &o.AssetIn, &o.AssetOut, &o.Status, &o.RunID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get_order: %w", err)
	}
	return &o, nil
}

// UpdateOrderAmount sets the remaining amount.
func (c *Conn) UpdateOrderAmount(ctx context.Context, orderID string, amount int64) error {
	if err := validNonNegative(amount, "amount"); err != nil {
		return err
	}
	_, err := c.exec(ctx, "update_order_amount",
		"UPDATE orders SET amount = ? WHERE order_id = ?", amount, orderID)
	return err
}

// UpdateOrderStatus moves an order through open → filled/cancelled.
func (c *Conn) UpdateOrderStatus(ctx context.Context, orderID, status string) error {
	if status != OrderStatusOpen && status != OrderStatusFilled && status != OrderStatusCancelled {
		return fmt.Errorf("status invalid")
	}
	_, err := c.exec(ctx, "update_order_status",
		"UPDATE orders SET status = ? WHERE order_id = ?", status, orderID)
	return err
}

// OrderFilter narrows ListOrders. Zero values mean "no filter".
type OrderFilter struct {
	Side     string
	AssetIn  string
	AssetOut string
	Status   string
	Owner    string
	OrderBy  string // must be in the whitelist when set
	Limit    int64
	Offset   int64
}

// ListOrders pages orders under the filter. The order_by fragment is
// checked against the whitelist before interpolation.
func (c *Conn) ListOrders(ctx context.Context, f OrderFilter) ([]Order, error) {
	clauses := []string{"1=1"}
	args := []any{}
	if f.Side != "" {
		clauses = append(clauses, "side = ?")
		args = append(args, f.Side)
	}
	if f.AssetIn != "" {
		clauses = append(clauses, "asset_in = ?")
		args = append(args, f.AssetIn)
	}
	if f.AssetOut != "" {
		clauses = append(clauses, "asset_out = ?")
		args = append(args, f.AssetOut)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
	}
	if f.Owner != "" {
		clauses = append(clauses, "owner_address = ?")
		args = append(args, f.Owner)
	}
	orderBy := "order_id ASC"
	if f.OrderBy != "" {
		if !orderByWhitelist[f.OrderBy] {
			return nil, fmt.Errorf("order_by not allowed")
		}
		orderBy = f.OrderBy
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit, f.Offset)

	query := fmt.Sprintf(
		`SELECT order_id, owner_address, side, amount, price, asset_in, asset_out, status, run_id
		 FROM orders WHERE %s ORDER BY %s LIMIT ? OFFSET ?`,
		strings.Join(clauses, " AND "), orderBy)
	rows, err := c.query(ctx, "list_orders", query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Order, 0)
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.OrderID, &o.OwnerAddress, &o.Side, &o.Amount, &o.Price,
			&o.AssetIn, &o.AssetOut, &o.Status, &o.RunID); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// InsertTrade writes one trade leg.
func (c *Conn) InsertTrade(ctx context.Context, t Trade) error {
	if err := validText(t.TradeID, "trade_id"); err != nil {
		return err
	}
	if err := validPositive(t.Amount, "amount"); err != nil {
		return err
	}
	_, err := c.exec(ctx, "insert_trade",
		`INSERT INTO trades (trade_id, order_id, amount, price, run_id) VALUES (?, ?, ?, ?, ?)`,
		t.TradeID, t.OrderID, t.Amount, t.Price, t.RunID)
	return err
}

// ListTrades pages all trades.
func (c *Conn) ListTrades(ctx context.Context, limit, offset int64) ([]Trade, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := c.query(ctx, "list_trades",
		"SELECT trade_id, order_id, amount, price, run_id FROM trades ORDER BY rowid DESC LIMIT ? OFFSET ?",
		limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Trade, 0)
	for rows.Next() {
		var t Trade
		if err := rows.Scan(&t.TradeID, &t.OrderID, &t.Amount, &t.Price, &t.RunID); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// OwnerTrade is one row of the my_trades view.
type OwnerTrade struct {
	Trade
	Side          string   `json:"side"`
	AssetIn       string   `json:"asset_in"`
	AssetOut      string   `json:"asset_out"`
	OrderStatus   string   `json:"status"`
	StateHash     *string  `json:"state_hash"`
	ReceiptHashes []string `json:"receipt_hashes"`
	ReplayOK      bool     `json:"replay_ok"`
}

// ListTradesByOwner pages trades whose order belongs to owner.
func (c *Conn) ListTradesByOwner(ctx context.Context, owner string, limit, offset int64) ([]OwnerTrade, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := c.query(ctx, "list_trades_by_owner",
		`SELECT t.trade_id, t.order_id, t.amount, t.price, t.run_id,
		        o.side, o.asset_in, o.asset_out, o.status,
		        r.state_hash, r.receipt_hashes, r.replay_ok
		 FROM trades t
		 JOIN orders o ON o.order_id = t.order_id
		 LEFT JOIN receipts r ON r.run_id = t.run_id
		 WHERE o.owner_address = ?
		 ORDER BY t.trade_id DESC LIMIT ? OFFSET ?`,
		owner, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]OwnerTrade, 0)
	for rows.Next() {
		var v OwnerTrade
		var hashes sql.NullString
		var replay sql.NullInt64
		if err := rows.Scan(&v.TradeID, &v.OrderID, &v.Amount, &v.Price, &v.RunID,
			&v.Side, &v.AssetIn, &v.AssetOut, &v.OrderStatus,
			&v.StateHash, &hashes, &replay); err != nil {
			return nil, err
		}
		v.ReceiptHashes = decodeStrings(hashes.String)
		v.ReplayOK = replay.Valid && replay.Int64 != 0
		out = append(out, v)
	}
	return out, rows.Err()
}
