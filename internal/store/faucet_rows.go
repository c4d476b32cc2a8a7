package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// InsertFaucetClaim records one faucet dispense.
func (c *Conn) InsertFaucetClaim(ctx context.Context, fc FaucetClaim) error {
	if err := validText(fc.ClaimID, "claim_id"); err != nil {
		return err
	}
	if err := validPositive(fc.Amount, "amount"); err != nil {
		return err
	}
	_, err := c.exec(ctx, "insert_faucet_claim",
		`INSERT INTO faucet_claims (claim_id, account_id, address, asset_id, amount, ip, created_at, run_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		fc.ClaimID, fc.AccountID, fc.Address, fc.AssetID, fc.Amount, fc.IP, fc.CreatedAt, fc.RunID)
	return err
}

// LastFaucetClaimAt returns the newest claim timestamp for an account,
// or 0 when the account never claimed.
func (c *Conn) LastFaucetClaimAt(ctx context.Context, accountID string) (int64, error) {
	row := c.queryRow(ctx, "last_faucet_claim",
		"SELECT MAX(created_at) FROM faucet_claims WHERE account_id = ?", accountID)
	var last sql.NullInt64
	if err := row.Scan(&last); err != nil {
		return 0, fmt.Errorf("last_faucet_claim: %w", err)
	}
	return last.Int64, nil
}

// FaucetWindow aggregates an account's claims since a cutoff timestamp.
type FaucetWindow struct {
	Count int64
	Total int64
}

// FaucetAccountWindow counts and sums an account's claims since `since`.
func (c *Conn) FaucetAccountWindow(ctx context.Context, accountID string, since int64) (FaucetWindow, error) {
	row := c.queryRow(ctx, "faucet_account_window",
		"SELECT COUNT(*), COALESCE(SUM(amount), 0) FROM faucet_claims WHERE account_id = ? AND created_at >= ?",
		accountID, since)
	var w FaucetWindow
	if err := row.Scan(&w.Count, &w.Total); err != nil {
		return w, fmt.Errorf("faucet_account_window: %w", err)
	}
	return w, nil
}

// FaucetIPClaimCount counts claims from one source IP since `since`.
func (c *Conn) FaucetIPClaimCount(ctx context.Context, ip string, since int64) (int64, error) {
	row := c.queryRow(ctx, "faucet_ip_window",
		"SELECT COUNT(*) FROM faucet_claims WHERE ip = ? AND created_at >= ?", ip, since)
	var n int64
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("faucet_ip_window: %w", err)
	}
	return n, nil
}

// ListFaucetClaims pages an account's claims, newest first.
func (c *Conn) ListFaucetClaims(ctx context.Context, accountID string, limit, offset int64) ([]FaucetClaim, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := c.query(ctx, "list_faucet_claims",
		`SELECT claim_id, account_id, address, asset_id, amount, ip, created_at, run_id
		 FROM faucet_claims WHERE account_id = ? ORDER BY created_at DESC, claim_id DESC LIMIT ? OFFSET ?`,
		accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]FaucetClaim, 0)
	for rows.Next() {
		var fc FaucetClaim
		if err := rows.Scan(&fc.ClaimID, &fc.AccountID, &fc.Address, &fc.AssetID, &fc.Amount,
			&fc.IP, &fc.CreatedAt, &fc.RunID); err != nil {
			return nil, err
		}
		out = append(out, fc)
	}
	return out, rows.Err()
}

// InsertAirdropClaim records a claimed task reward. The UNIQUE
// (account_id, task_id) constraint blocks double claims.
func (c *Conn) InsertAirdropClaim(ctx context.Context, ac AirdropClaim) error {
	if err := validText(ac.ClaimID, "claim_id"); err != nil {
		return err
	}
	if err := validPositive(ac.Reward, "reward"); err != nil {
		return err
	}
	_, err := c.exec(ctx, "insert_airdrop_claim",
		`INSERT INTO airdrop_claims (claim_id, account_id, task_id, reward, created_at, run_id)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ac.ClaimID, ac.AccountID, ac.TaskID, ac.Reward, ac.CreatedAt, ac.RunID)
	return err
}

// GetAirdropClaim loads an account's claim for one task, or nil.
func (c *Conn) GetAirdropClaim(ctx context.Context, accountID, taskID string) (*AirdropClaim, error) {
	row := c.queryRow(ctx, "get_airdrop_claim",
		`SELECT claim_id, account_id, task_id, reward, created_at, run_id
		 FROM airdrop_claims WHERE account_id = ? AND task_id = ?`, accountID, taskID)
	var ac AirdropClaim
	err := row.Scan(&ac.ClaimID, &ac.AccountID, &ac.TaskID, &ac.Reward, &ac.CreatedAt, &ac.RunID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get_airdrop_claim: %w", err)
	}
	return &ac, nil
}

// ListAirdropClaims returns every claim an account has made.
func (c *Conn) ListAirdropClaims(ctx context.Context, accountID string) ([]AirdropClaim, error) {
	rows, err := c.query(ctx, "list_airdrop_claims",
		`SELECT claim_id, account_id, task_id, reward, created_at, run_id
		 FROM airdrop_claims WHERE account_id = ? ORDER BY created_at ASC, task_id ASC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]AirdropClaim, 0)
	for rows.Next() {
		var ac AirdropClaim
		if err := rows.Scan(&ac.ClaimID, &ac.AccountID, &ac.TaskID, &ac.Reward, &ac.CreatedAt, &ac.RunID); err != nil {
			return nil, err
		}
		out = append(out, ac)
	}
	return out, rows.Err()
}

func (c *Conn) firstRunID(ctx context.Context, op, query string, args ...any) (*string, error) {
	row := c.queryRow(ctx, op, query, args...)
	var runID string
	err := row.Scan(&runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &runID, nil
}

// FirstTradeRunID returns the run behind the wallet's earliest trade
// leg, or nil when it has never traded.
func (c *Conn) FirstTradeRunID(ctx context.Context, owner string) (*string, error) {
	return c.firstRunID(ctx, "first_trade_run",
		`SELECT o.run_id FROM trades t JOIN orders o ON o.order_id = t.order_id
		 WHERE o.owner_address = ? ORDER BY t.trade_id ASC LIMIT 1`, owner)
}

// FirstMessageRunID returns the run behind the account's earliest
// message event, or nil.
func (c *Conn) FirstMessageRunID(ctx context.Context, accountID string) (*string, error) {
	return c.firstRunID(ctx, "first_message_run",
		"SELECT run_id FROM messages WHERE sender_account_id = ? ORDER BY message_id ASC LIMIT 1", accountID)
}

// FirstPurchaseRunID returns the run behind the wallet's earliest
// purchase, or nil.
func (c *Conn) FirstPurchaseRunID(ctx context.Context, buyerID string) (*string, error) {
	return c.firstRunID(ctx, "first_purchase_run",
		"SELECT run_id FROM purchases WHERE buyer_id = ? ORDER BY purchase_id ASC LIMIT 1", buyerID)
}
