package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nyxlabs/testnet-gateway/internal/apierr"
	"github.com/nyxlabs/testnet-gateway/internal/assets"
)

// FaucetSource is the synthetic address faucet credits originate from.
const FaucetSource = "faucet"

// GetWalletBalance reads the balance for (address, asset). A missing row
// is a zero balance.
func (c *Conn) GetWalletBalance(ctx context.Context, address, assetID string) (int64, error) {
	row := c.queryRow(ctx, "get_wallet_balance",
		"SELECT balance FROM wallet_accounts WHERE address = ? AND asset_id = ?",
		address, assetID)
	var balance int64
	err := row.Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get_wallet_balance: %w", err)
	}
	return balance, nil
}

func (c *Conn) ensureWalletRow(ctx context.Context, address, assetID string) error {
	_, err := c.exec(ctx, "ensure_wallet_row",
		`INSERT INTO wallet_accounts (address, asset_id, balance) VALUES (?, ?, 0)
		 ON CONFLICT(address, asset_id) DO NOTHING`,
		address, assetID)
	return err
}

func (c *Conn) adjustBalance(ctx context.Context, address, assetID string, delta int64) error {
	_, err := c.exec(ctx, "adjust_balance",
		"UPDATE wallet_accounts SET balance = balance + ? WHERE address = ? AND asset_id = ?",
		delta, address, assetID)
	return err
}

// ApplyTransfer moves amount of assetID from → to and the NYXT fee to the
// treasury, then records the WalletTransfer row. Balances are re-read
// inside the caller's transaction, so admission cannot race a concurrent
// spend. No commit happens here.
func (c *Conn) ApplyTransfer(ctx context.Context, t WalletTransfer) error {
	if err := validAddress(t.FromAddress, "from_address"); err != nil {
		return err
	}
	if err := validAddress(t.ToAddress, "to_address"); err != nil {
		return err
	}
	if !assets.Supported(t.AssetID) {
		return fmt.Errorf("asset_id unsupported")
	}
	if err := validNonNegative(t.Amount, "amount"); err != nil {
		return err
	}
	if err := validNonNegative(t.FeeTotal, "fee_total"); err != nil {
		return err
	}
	if t.FromAddress == t.ToAddress && t.Amount > 0 {
		return fmt.Errorf("from_address equals to_address")
	}

	for _, pair := range [][2]string{
		{t.FromAddress, t.AssetID},
		{t.ToAddress, t.AssetID},
		{t.FromAddress, assets.FeeAsset},
		{t.TreasuryAddress, assets.FeeAsset},
	} {
		if err := c.ensureWalletRow(ctx, pair[0], pair[1]); err != nil {
			return err
		}
	}

	if t.AssetID == assets.FeeAsset {
		balance, err := c.GetWalletBalance(ctx, t.FromAddress, assets.FeeAsset)
		if err != nil {
			return err
		}
		if balance < t.Amount+t.FeeTotal {
			return apierr.InsufficientBalance(assets.FeeAsset)
		}
		if err := c.adjustBalance(ctx, t.FromAddress, assets.FeeAsset, -(t.Amount + t.FeeTotal)); err != nil {
			return err
		}
	} else {
		assetBalance, err := c.GetWalletBalance(ctx, t.FromAddress, t.AssetID)
		if err != nil {
			return err
		}
		if assetBalance < t.Amount {
			return apierr.InsufficientBalance(t.AssetID)
		}
		feeBalance, err := c.GetWalletBalance(ctx, t.FromAddress, assets.FeeAsset)
		if err != nil {
			return err
		}
		if feeBalance < t.FeeTotal {
			return apierr.InsufficientBalance(assets.FeeAsset)
		}
		if err := c.adjustBalance(ctx, t.FromAddress, t.AssetID, -t.Amount); err != nil {
			return err
		}
		if t.FeeTotal > 0 {
			if err := c.adjustBalance(ctx, t.FromAddress, assets.FeeAsset, -t.FeeTotal); err != nil {
				return err
			}
		}
	}

	if t.Amount > 0 {
		if err := c.adjustBalance(ctx, t.ToAddress, t.AssetID, t.Amount); err != nil {
			return err
		}
	}
	if t.FeeTotal > 0 {
		if err := c.adjustBalance(ctx, t.TreasuryAddress, assets.FeeAsset, t.FeeTotal); err != nil {
			return err
		}
	}

	return c.insertWalletTransfer(ctx, t)
}

// ApplyFaucetWithFee credits the recipient from the synthetic faucet
// source and routes the fee to the treasury. Returns the recipient's
// post-credit balance in the credited asset.
func (c *Conn) ApplyFaucetWithFee(ctx context.Context, address string, amount, feeTotal int64, treasury, runID, assetID string) (int64, error) {
	if err := validAddress(address, "address"); err != nil {
		return 0, err
	}
	if !assets.Supported(assetID) {
		return 0, fmt.Errorf("asset_id unsupported")
	}
	if err := validPositive(amount, "amount"); err != nil {
		return 0, err
	}
	if err := c.ensureWalletRow(ctx, address, assetID); err != nil {
		return 0, err
	}
	if err := c.ensureWalletRow(ctx, treasury, assets.FeeAsset); err != nil {
		return 0, err
	}
	if err := c.adjustBalance(ctx, address, assetID, amount); err != nil {
		return 0, err
	}
	if feeTotal > 0 {
		if err := c.adjustBalance(ctx, treasury, assets.FeeAsset, feeTotal); err != nil {
			return 0, err
		}
	}
	err := c.insertWalletTransfer(ctx, WalletTransfer{
		TransferID:      "faucet-" + runID,
		FromAddress:     FaucetSource,
		ToAddress:       address,
		AssetID:         assetID,
		Amount:          amount,
		FeeTotal:        feeTotal,
		TreasuryAddress: treasury,
		RunID:           runID,
	})
	if err != nil {
		return 0, err
	}
	return c.GetWalletBalance(ctx, address, assetID)
}

func (c *Conn) insertWalletTransfer(ctx context.Context, t WalletTransfer) error {
	_, err := c.exec(ctx, "insert_wallet_transfer",
		`INSERT INTO wallet_transfers (transfer_id, from_address, to_address, asset_id, amount, fee_total, treasury_address, run_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TransferID, t.FromAddress, t.ToAddress, t.AssetID, t.Amount, t.FeeTotal, t.TreasuryAddress, t.RunID)
	return err
}

// TransferView joins a transfer with its run receipt for list endpoints.
type TransferView struct {
	WalletTransfer
	StateHash     *string  `json:"state_hash"`
	ReceiptHashes []string `json:"receipt_hashes"`
	ReplayOK      bool     `json:"replay_ok"`
}

// ListTransfersByAddress pages transfers touching address, newest first.
func (c *Conn) ListTransfersByAddress(ctx context.Context, address string, limit, offset int64) ([]TransferView, error) {
	rows, err := c.query(ctx, "list_wallet_transfers",
		`SELECT wt.transfer_id, wt.from_address, wt.to_address, wt.asset_id, wt.amount, wt.fee_total,
		        wt.treasury_address, wt.run_id, r.state_hash, r.receipt_hashes, r.replay_ok
		 FROM wallet_transfers wt
		 LEFT JOIN receipts r ON r.run_id = wt.run_id
		 WHERE wt.from_address = ? OR wt.to_address = ?
		 ORDER BY wt.rowid DESC LIMIT ? OFFSET ?`,
		address, address, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]TransferView, 0)
	for rows.Next() {
		var v TransferView
		var hashes sql.NullString
		var replay sql.NullInt64
		if err := rows.Scan(&v.TransferID, &v.FromAddress, &v.ToAddress, &v.AssetID, &v.Amount,
			&v.FeeTotal, &v.TreasuryAddress, &v.RunID, &v.StateHash, &hashes, &replay); err != nil {
			return nil, err
		}
		v.ReceiptHashes = decodeStrings(hashes.String)
		v.ReplayOK = replay.Valid && replay.Int64 != 0
		out = append(out, v)
	}
	return out, rows.Err()
}
