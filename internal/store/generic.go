package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Table names and key columns are interpolated into SQL, so lookups go
// through this whitelist.
var loadableTables = map[string]string{
	"evidence_runs":       "run_id",
	"receipts":            "receipt_id",
	"fee_ledger":          "fee_id",
	"wallet_transfers":    "transfer_id",
	"orders":              "order_id",
	"trades":              "trade_id",
	"messages":            "message_id",
	"listings":            "listing_id",
	"purchases":           "purchase_id",
	"portal_accounts":     "account_id",
	"chat_rooms":          "room_id",
	"chat_messages":       "message_id",
	"faucet_claims":       "claim_id",
	"airdrop_claims":      "claim_id",
	"entertainment_items": "item_id",
	"web2_guard_requests": "request_id",
}

// LoadByID fetches one whitelisted row as a column→value map, or nil
// when absent. Callers that need typed rows use the dedicated getters;
// this feeds the generic discovery endpoints.
func (c *Conn) LoadByID(ctx context.Context, table, id string) (map[string]any, error) {
	keyCol, ok := loadableTables[table]
	if !ok {
		return nil, fmt.Errorf("table %q not loadable", table)
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = ?", table, keyCol)
	rows, err := c.query(ctx, "load_by_id", query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, nil
	}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}

	out := make(map[string]any, len(cols))
	for i, col := range cols {
		switch v := values[i].(type) {
		case []byte:
			out[col] = string(v)
		case sql.RawBytes:
			out[col] = string(v)
		default:
			out[col] = v
		}
	}
	return out, nil
}

// ExistsByID reports whether a whitelisted row exists.
func (c *Conn) ExistsByID(ctx context.Context, table, id string) (bool, error) {
	row, err := c.LoadByID(ctx, table, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return row != nil, nil
}
