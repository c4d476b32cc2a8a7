package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// InsertEvidenceRun records a completed evidence run. Idempotent by
// run_id so a replayed run does not error.
func (c *Conn) InsertEvidenceRun(ctx context.Context, rec EvidenceRun) error {
	if err := validText(rec.RunID, "run_id"); err != nil {
		return err
	}
	if err := validHash(rec.StateHash, "state_hash"); err != nil {
		return err
	}
	hashes, err := encodeStrings(rec.ReceiptHashes)
	if err != nil {
		return err
	}
	_, err = c.exec(ctx, "insert_evidence_run",
		`INSERT INTO evidence_runs (run_id, module, action, seed, state_hash, receipt_hashes, replay_ok)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO NOTHING`,
		rec.RunID, rec.Module, rec.Action, rec.Seed, rec.StateHash, hashes, boolToInt(rec.ReplayOK))
	return err
}

// InsertReceipt writes the per-call receipt row.
func (c *Conn) InsertReceipt(ctx context.Context, rec Receipt) error {
	if err := validText(rec.ReceiptID, "receipt_id"); err != nil {
		return err
	}
	hashes, err := encodeStrings(rec.ReceiptHashes)
	if err != nil {
		return err
	}
	_, err = c.exec(ctx, "insert_receipt",
		`INSERT INTO receipts (receipt_id, module, action, state_hash, receipt_hashes, replay_ok, run_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(receipt_id) DO NOTHING`,
		rec.ReceiptID, rec.Module, rec.Action, rec.StateHash, hashes, boolToInt(rec.ReplayOK), rec.RunID)
	return err
}

// InsertFeeLedger persists one fee record for a mutating call.
func (c *Conn) InsertFeeLedger(ctx context.Context, rec FeeLedger) error {
	if err := validText(rec.FeeID, "fee_id"); err != nil {
		return err
	}
	if rec.TotalPaid != rec.ProtocolFeeTotal+rec.PlatformFeeAmount {
		return fmt.Errorf("fee total mismatch")
	}
	if err := validPositive(rec.TotalPaid, "total_paid"); err != nil {
		return err
	}
	_, err := c.exec(ctx, "insert_fee_ledger",
		`INSERT INTO fee_ledger (fee_id, module, action, protocol_fee_total, platform_fee_amount, total_paid, fee_address, run_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.FeeID, rec.Module, rec.Action, rec.ProtocolFeeTotal, rec.PlatformFeeAmount,
		rec.TotalPaid, rec.FeeAddress, rec.RunID)
	return err
}

// GetReceiptByRun loads the receipt written for runID, or nil.
func (c *Conn) GetReceiptByRun(ctx context.Context, runID string) (*Receipt, error) {
	row := c.queryRow(ctx, "get_receipt",
		`SELECT receipt_id, module, action, state_hash, receipt_hashes, replay_ok, run_id
		 FROM receipts WHERE run_id = ?`, runID)
	var rec Receipt
	var hashes string
	var replay int64
	err := row.Scan(&rec.ReceiptID, &rec.Module, &rec.Action, &rec.StateHash, &hashes, &replay, &rec.RunID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get_receipt: %w", err)
	}
	rec.ReceiptHashes = decodeStrings(hashes)
	rec.ReplayOK = replay != 0
	return &rec, nil
}

// ReceiptSummary is one row of the account activity feed.
type ReceiptSummary struct {
	ReceiptID         string   `json:"receipt_id"`
	Module            string   `json:"module"`
	Action            string   `json:"action"`
	StateHash         string   `json:"state_hash"`
	ReceiptHashes     []string `json:"receipt_hashes"`
	ReplayOK          bool     `json:"replay_ok"`
	RunID             string   `json:"run_id"`
	FeeTotal          *int64   `json:"fee_total"`
	ProtocolFeeTotal  *int64   `json:"protocol_fee_total"`
	PlatformFeeAmount *int64   `json:"platform_fee_amount"`
	TreasuryAddress   *string  `json:"treasury_address"`
}

// ListAccountActivity returns receipts for every run this account touched,
// joined against the fee ledger.
func (c *Conn) ListAccountActivity(ctx context.Context, accountID, walletAddress string, limit, offset int64) ([]ReceiptSummary, error) {
	rows, err := c.query(ctx, "list_account_activity",
		`SELECT r.receipt_id, r.module, r.action, r.state_hash, r.receipt_hashes, r.replay_ok, r.run_id,
		        f.total_paid, f.protocol_fee_total, f.platform_fee_amount, f.fee_address
		 FROM receipts r
		 LEFT JOIN fee_ledger f ON f.run_id = r.run_id
		 WHERE r.run_id IN (
		     SELECT run_id FROM wallet_transfers WHERE from_address = ? OR to_address = ?
		     UNION SELECT run_id FROM orders WHERE owner_address = ?
		     UNION SELECT run_id FROM messages WHERE sender_account_id = ?
		     UNION SELECT run_id FROM listings WHERE publisher_id = ?
		     UNION SELECT run_id FROM purchases WHERE buyer_id = ?
		 )
		 ORDER BY r.receipt_id DESC
		 LIMIT ? OFFSET ?`,
		walletAddress, walletAddress, walletAddress, accountID, walletAddress, walletAddress,
		limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ReceiptSummary, 0)
	for rows.Next() {
		var rec ReceiptSummary
		var hashes string
		var replay int64
		if err := rows.Scan(&rec.ReceiptID, &rec.Module, &rec.Action, &rec.StateHash, &hashes, &replay,
			&rec.RunID, &rec.FeeTotal, &rec.ProtocolFeeTotal, &rec.PlatformFeeAmount, &rec.TreasuryAddress); err != nil {
			return nil, err
		}
		rec.ReceiptHashes = decodeStrings(hashes)
		rec.ReplayOK = replay != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListAccountRunReceipts selects receipts whose run_id starts with prefix
// and belongs to the account. Feeds the proof package builder.
func (c *Conn) ListAccountRunReceipts(ctx context.Context, accountID, walletAddress, prefix string, limit int64) ([]Receipt, error) {
	rows, err := c.query(ctx, "list_account_run_receipts",
		`SELECT DISTINCT r.receipt_id, r.module, r.action, r.state_hash, r.receipt_hashes, r.replay_ok, r.run_id
		 FROM receipts r
		 WHERE r.run_id LIKE ?
		   AND r.run_id IN (
		     SELECT run_id FROM wallet_transfers WHERE from_address = ? OR to_address = ?
		     UNION SELECT run_id FROM orders WHERE owner_address = ?
		     UNION SELECT run_id FROM listings WHERE publisher_id = ?
		     UNION SELECT run_id FROM purchases WHERE buyer_id = ?
		     UNION SELECT run_id FROM messages WHERE sender_account_id = ?
		   )
		 ORDER BY r.run_id ASC
		 LIMIT ?`,
		prefix+"%", walletAddress, walletAddress, walletAddress, walletAddress, walletAddress, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Receipt, 0)
	for rows.Next() {
		var rec Receipt
		var hashes string
		var replay int64
		if err := rows.Scan(&rec.ReceiptID, &rec.Module, &rec.Action, &rec.StateHash, &hashes, &replay, &rec.RunID); err != nil {
			return nil, err
		}
		rec.ReceiptHashes = decodeStrings(hashes)
		rec.ReplayOK = replay != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListRunIDs pages recorded evidence run ids, newest first.
func (c *Conn) ListRunIDs(ctx context.Context, limit int64) ([]string, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	rows, err := c.query(ctx, "list_run_ids",
		"SELECT run_id FROM evidence_runs ORDER BY rowid DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var runID string
		if err := rows.Scan(&runID); err != nil {
			return nil, err
		}
		out = append(out, runID)
	}
	return out, rows.Err()
}
