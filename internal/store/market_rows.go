package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// InsertListing publishes a marketplace listing.
func (c *Conn) InsertListing(ctx context.Context, l Listing) error {
	if err := validText(l.ListingID, "listing_id"); err != nil {
		return err
	}
	if err := validPositive(l.Price, "price"); err != nil {
		return err
	}
	status := l.Status
	if status == "" {
		status = ListingStatusActive
	}
	_, err := c.exec(ctx, "insert_listing",
		`INSERT INTO listings (listing_id, publisher_id, sku, title, price, status, run_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.ListingID, l.PublisherID, l.SKU, l.Title, l.Price, status, l.RunID)
	return err
}

// GetListing loads one listing by ID, or nil.
func (c *Conn) GetListing(ctx context.Context, listingID string) (*Listing, error) {
	row := c.queryRow(ctx, "get_listing",
		`SELECT listing_id, publisher_id, sku, title, price, status, run_id
		 FROM listings WHERE listing_id = ?`, listingID)
	var l Listing
	err := row.Scan(&l.ListingID, &l.PublisherID, &l.SKU, &l.Title, &l.Price, &l.Status, &l.RunID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get_listing: %w", err)
	}
	return &l, nil
}

// MarkListingSold flips an active listing to sold.
func (c *Conn) MarkListingSold(ctx context.Context, listingID string) error {
	_, err := c.exec(ctx, "mark_listing_sold",
		"UPDATE listings SET status = ? WHERE listing_id = ?", ListingStatusSold, listingID)
	return err
}

// ListListings pages listings, optionally filtered by status.
func (c *Conn) ListListings(ctx context.Context, status string, limit, offset int64) ([]Listing, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT listing_id, publisher_id, sku, title, price, status, run_id
	          FROM listings`
	args := []any{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY listing_id ASC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := c.query(ctx, "list_listings", query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanListings(rows)
}

// SearchListings substring-matches titles and SKUs among active listings.
func (c *Conn) SearchListings(ctx context.Context, q string, limit int64) ([]Listing, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := c.query(ctx, "search_listings",
		`SELECT listing_id, publisher_id, sku, title, price, status, run_id
		 FROM listings WHERE status = ? AND (title LIKE ? OR sku LIKE ?)
		 ORDER BY listing_id ASC LIMIT ?`,
		ListingStatusActive, "%"+q+"%", "%"+q+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanListings(rows)
}

func scanListings(rows *sql.Rows) ([]Listing, error) {
	out := make([]Listing, 0)
	for rows.Next() {
		var l Listing
		if err := rows.Scan(&l.ListingID, &l.PublisherID, &l.SKU, &l.Title, &l.Price, &l.Status, &l.RunID); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// InsertPurchase records a completed purchase.
func (c *Conn) InsertPurchase(ctx context.Context, p Purchase) error {
	if err := validText(p.PurchaseID, "purchase_id"); err != nil {
		return err
	}
	if err := validPositive(p.Qty, "qty"); err != nil {
		return err
	}
	_, err := c.exec(ctx, "insert_purchase",
		"INSERT INTO purchases (purchase_id, listing_id, buyer_id, qty, run_id) VALUES (?, ?, ?, ?, ?)",
		p.PurchaseID, p.ListingID, p.BuyerID, p.Qty, p.RunID)
	return err
}

// PurchaseView joins a purchase with its listing for list endpoints.
type PurchaseView struct {
	Purchase
	SKU    string `json:"sku"`
	Title  string `json:"title"`
	Price  int64  `json:"price"`
	Seller string `json:"seller"`
}

// ListPurchasesByBuyer pages a buyer's purchases, newest first.
func (c *Conn) ListPurchasesByBuyer(ctx context.Context, buyerID string, limit, offset int64) ([]PurchaseView, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := c.query(ctx, "list_purchases_by_buyer",
		`SELECT p.purchase_id, p.listing_id, p.buyer_id, p.qty, p.run_id,
		        l.sku, l.title, l.price, l.publisher_id
		 FROM purchases p
		 JOIN listings l ON l.listing_id = p.listing_id
		 WHERE p.buyer_id = ?
		 ORDER BY p.rowid DESC LIMIT ? OFFSET ?`,
		buyerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]PurchaseView, 0)
	for rows.Next() {
		var v PurchaseView
		if err := rows.Scan(&v.PurchaseID, &v.ListingID, &v.BuyerID, &v.Qty, &v.RunID,
			&v.SKU, &v.Title, &v.Price, &v.Seller); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ListPurchases pages purchases newest first, optionally filtered to one
// listing.
func (c *Conn) ListPurchases(ctx context.Context, listingID string, limit, offset int64) ([]PurchaseView, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	where := "1=1"
	args := []any{}
	if listingID != "" {
		where = "p.listing_id = ?"
		args = append(args, listingID)
	}
	args = append(args, limit, offset)
	rows, err := c.query(ctx, "list_purchases",
		`SELECT p.purchase_id, p.listing_id, p.buyer_id, p.qty, p.run_id,
		        l.sku, l.title, l.price, l.publisher_id
		 FROM purchases p
		 JOIN listings l ON l.listing_id = p.listing_id
		 WHERE `+where+`
		 ORDER BY p.rowid DESC LIMIT ? OFFSET ?`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]PurchaseView, 0)
	for rows.Next() {
		var v PurchaseView
		if err := rows.Scan(&v.PurchaseID, &v.ListingID, &v.BuyerID, &v.Qty, &v.RunID,
			&v.SKU, &v.Title, &v.Price, &v.Seller); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// InsertMessageEvent records a broadcast channel message.
func (c *Conn) InsertMessageEvent(ctx context.Context, m MessageEvent) error {
	if err := validText(m.MessageID, "message_id"); err != nil {
		return err
	}
	_, err := c.exec(ctx, "insert_message_event",
		"INSERT INTO messages (message_id, channel, sender_account_id, body, run_id) VALUES (?, ?, ?, ?, ?)",
		m.MessageID, m.Channel, m.SenderAccountID, m.Body, m.RunID)
	return err
}

// ListMessageEvents pages a channel's messages, oldest first.
func (c *Conn) ListMessageEvents(ctx context.Context, channel string, limit, offset int64) ([]MessageEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := c.query(ctx, "list_message_events",
		`SELECT message_id, channel, sender_account_id, body, run_id
		 FROM messages WHERE channel = ? ORDER BY rowid ASC LIMIT ? OFFSET ?`,
		channel, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]MessageEvent, 0)
	for rows.Next() {
		var m MessageEvent
		if err := rows.Scan(&m.MessageID, &m.Channel, &m.SenderAccountID, &m.Body, &m.RunID); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListConversationChannels returns the distinct channels an account has
// posted to, newest activity first.
func (c *Conn) ListConversationChannels(ctx context.Context, accountID string, limit int64) ([]string, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := c.query(ctx, "list_conversation_channels",
		`SELECT channel, MAX(rowid) AS last FROM messages
		 WHERE sender_account_id = ? GROUP BY channel ORDER BY last DESC LIMIT ?`,
		accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var channel string
		var last int64
		if err := rows.Scan(&channel, &last); err != nil {
			return nil, err
		}
		out = append(out, channel)
	}
	return out, rows.Err()
}

// UpsertEntertainmentItem seeds or refreshes a catalog item.
func (c *Conn) UpsertEntertainmentItem(ctx context.Context, it EntertainmentItem) error {
	if err := validText(it.ItemID, "item_id"); err != nil {
		return err
	}
	_, err := c.exec(ctx, "upsert_entertainment_item",
		`INSERT INTO entertainment_items (item_id, title, summary, category) VALUES (?, ?, ?, ?)
		 ON CONFLICT(item_id) DO UPDATE SET title = excluded.title, summary = excluded.summary, category = excluded.category`,
		it.ItemID, it.Title, it.Summary, it.Category)
	return err
}

// ListEntertainmentItems returns the whole catalog in stable order.
func (c *Conn) ListEntertainmentItems(ctx context.Context) ([]EntertainmentItem, error) {
	rows, err := c.query(ctx, "list_entertainment_items",
		"SELECT item_id, title, summary, category FROM entertainment_items ORDER BY item_id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]EntertainmentItem, 0)
	for rows.Next() {
		var it EntertainmentItem
		if err := rows.Scan(&it.ItemID, &it.Title, &it.Summary, &it.Category); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// GetEntertainmentItem loads one catalog item, or nil.
func (c *Conn) GetEntertainmentItem(ctx context.Context, itemID string) (*EntertainmentItem, error) {
	row := c.queryRow(ctx, "get_entertainment_item",
		"SELECT item_id, title, summary, category FROM entertainment_items WHERE item_id = ?", itemID)
	var it EntertainmentItem
	err := row.Scan(&it.ItemID, &it.Title, &it.Summary, &it.Category)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get_entertainment_item: %w", err)
	}
	return &it, nil
}

// InsertEntertainmentEvent records one deterministic playback step.
func (c *Conn) InsertEntertainmentEvent(ctx context.Context, e EntertainmentEvent) error {
	if err := validText(e.EventID, "event_id"); err != nil {
		return err
	}
	if err := validNonNegative(e.Step, "step"); err != nil {
		return err
	}
	_, err := c.exec(ctx, "insert_entertainment_event",
		"INSERT INTO entertainment_events (event_id, item_id, mode, step, run_id) VALUES (?, ?, ?, ?, ?)",
		e.EventID, e.ItemID, e.Mode, e.Step, e.RunID)
	return err
}

// ListEntertainmentEvents pages events for one item.
func (c *Conn) ListEntertainmentEvents(ctx context.Context, itemID string, limit int64) ([]EntertainmentEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := c.query(ctx, "list_entertainment_events",
		`SELECT event_id, item_id, mode, step, run_id FROM entertainment_events
		 WHERE item_id = ? ORDER BY rowid DESC LIMIT ?`, itemID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]EntertainmentEvent, 0)
	for rows.Next() {
		var e EntertainmentEvent
		if err := rows.Scan(&e.EventID, &e.ItemID, &e.Mode, &e.Step, &e.RunID); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
