package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// InsertPortalAccount writes a new account row.
func (c *Conn) InsertPortalAccount(ctx context.Context, a PortalAccount) error {
	if err := validText(a.AccountID, "account_id"); err != nil {
		return err
	}
	_, err := c.exec(ctx, "insert_portal_account",
		`INSERT INTO portal_accounts (account_id, handle, public_key, wallet_address, created_at, status, bio)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.AccountID, a.Handle, a.PublicKey, a.WalletAddress, a.CreatedAt, a.Status, nullIfEmpty(a.Bio))
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func scanPortalAccount(row *sql.Row) (*PortalAccount, error) {
	var a PortalAccount
	var wallet, bio sql.NullString
	err := row.Scan(&a.AccountID, &a.Handle, &a.PublicKey, &wallet, &a.CreatedAt, &a.Status, &bio)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load_portal_account: %w", err)
	}
	a.WalletAddress = wallet.String
	a.Bio = bio.String
	return &a, nil
}

const portalAccountColumns = "account_id, handle, public_key, wallet_address, created_at, status, bio"

// GetPortalAccount loads by account_id, or nil.
func (c *Conn) GetPortalAccount(ctx context.Context, accountID string) (*PortalAccount, error) {
	return scanPortalAccount(c.queryRow(ctx, "load_portal_account",
		"SELECT "+portalAccountColumns+" FROM portal_accounts WHERE account_id = ?", accountID))
}

// GetPortalAccountByHandle loads by handle, or nil.
func (c *Conn) GetPortalAccountByHandle(ctx context.Context, handle string) (*PortalAccount, error) {
	return scanPortalAccount(c.queryRow(ctx, "load_portal_account_by_handle",
		"SELECT "+portalAccountColumns+" FROM portal_accounts WHERE handle = ?", handle))
}

// UpdatePortalProfile rewrites the mutable profile columns.
func (c *Conn) UpdatePortalProfile(ctx context.Context, accountID, handle, bio string) error {
	_, err := c.exec(ctx, "update_portal_profile",
		"UPDATE portal_accounts SET handle = ?, bio = ? WHERE account_id = ?",
		handle, nullIfEmpty(bio), accountID)
	return err
}

// AccountDirectoryEntry is one row of the account search/by_id views.
type AccountDirectoryEntry struct {
	AccountID string  `json:"account_id"`
	Handle    string  `json:"handle"`
	PublicJWK *string `json:"public_jwk"`
}

// SearchAccounts prefix-matches handles and joins the published E2EE key.
func (c *Conn) SearchAccounts(ctx context.Context, prefix string, limit int64) ([]AccountDirectoryEntry, error) {
	rows, err := c.query(ctx, "search_accounts",
		`SELECT a.account_id, a.handle, i.public_jwk
		 FROM portal_accounts a
		 LEFT JOIN e2ee_identities i ON i.account_id = a.account_id
		 WHERE a.handle LIKE ?
		 ORDER BY a.handle ASC LIMIT ?`,
		prefix+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]AccountDirectoryEntry, 0)
	for rows.Next() {
		var e AccountDirectoryEntry
		if err := rows.Scan(&e.AccountID, &e.Handle, &e.PublicJWK); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetAccountDirectoryEntry loads one account with its E2EE key, or nil.
func (c *Conn) GetAccountDirectoryEntry(ctx context.Context, accountID string) (*AccountDirectoryEntry, error) {
	row := c.queryRow(ctx, "get_account_directory_entry",
		`SELECT a.account_id, a.handle, i.public_jwk
		 FROM portal_accounts a
		 LEFT JOIN e2ee_identities i ON i.account_id = a.account_id
		 WHERE a.account_id = ?`, accountID)
	var e AccountDirectoryEntry
	err := row.Scan(&e.AccountID, &e.Handle, &e.PublicJWK)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get_account_directory_entry: %w", err)
	}
	return &e, nil
}

// UpsertE2EEIdentity replaces the account's published JWK.
func (c *Conn) UpsertE2EEIdentity(ctx context.Context, accountID, publicJWK string, updatedAt int64) error {
	_, err := c.exec(ctx, "upsert_e2ee_identity",
		`INSERT INTO e2ee_identities (account_id, public_jwk, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(account_id) DO UPDATE SET public_jwk = excluded.public_jwk, updated_at = excluded.updated_at`,
		accountID, publicJWK, updatedAt)
	return err
}

// InsertPortalChallenge stores an issued challenge nonce.
func (c *Conn) InsertPortalChallenge(ctx context.Context, ch PortalChallenge) error {
	if err := validHash(ch.Nonce, "nonce"); err != nil {
		return err
	}
	_, err := c.exec(ctx, "insert_portal_challenge",
		"INSERT INTO portal_challenges (account_id, nonce, expires_at, used) VALUES (?, ?, ?, ?)",
		ch.AccountID, ch.Nonce, ch.ExpiresAt, boolToInt(ch.Used))
	return err
}

// ConsumePortalChallenge marks the challenge used and returns it. The
// conditional UPDATE is the single atomic gate: however many verifies
// race on one nonce, exactly one sees Used false.
func (c *Conn) ConsumePortalChallenge(ctx context.Context, accountID, nonce string) (*PortalChallenge, error) {
	res, err := c.exec(ctx, "consume_portal_challenge",
		"UPDATE portal_challenges SET used = 1 WHERE account_id = ? AND nonce = ? AND used = 0",
		accountID, nonce)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("consume_portal_challenge: %w", err)
	}
	row := c.queryRow(ctx, "load_portal_challenge",
		"SELECT account_id, nonce, expires_at FROM portal_challenges WHERE account_id = ? AND nonce = ?",
		accountID, nonce)
	var ch PortalChallenge
	err = row.Scan(&ch.AccountID, &ch.Nonce, &ch.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("consume_portal_challenge: %w", err)
	}
	ch.Used = affected == 0
	return &ch, nil
}

// InsertPortalSession stores an issued session.
func (c *Conn) InsertPortalSession(ctx context.Context, s PortalSession) error {
	_, err := c.exec(ctx, "insert_portal_session",
		"INSERT INTO portal_sessions (token, account_id, expires_at) VALUES (?, ?, ?)",
		s.Token, s.AccountID, s.ExpiresAt)
	return err
}

// GetPortalSession loads a session by token, or nil.
func (c *Conn) GetPortalSession(ctx context.Context, token string) (*PortalSession, error) {
	row := c.queryRow(ctx, "load_portal_session",
		"SELECT token, account_id, expires_at FROM portal_sessions WHERE token = ?", token)
	var s PortalSession
	err := row.Scan(&s.Token, &s.AccountID, &s.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load_portal_session: %w", err)
	}
	return &s, nil
}

// DeletePortalSession revokes a session token.
func (c *Conn) DeletePortalSession(ctx context.Context, token string) error {
	_, err := c.exec(ctx, "delete_portal_session",
		"DELETE FROM portal_sessions WHERE token = ?", token)
	return err
}

// InsertChatRoom writes a new room.
func (c *Conn) InsertChatRoom(ctx context.Context, r ChatRoom) error {
	if err := validText(r.RoomID, "room_id"); err != nil {
		return err
	}
	_, err := c.exec(ctx, "insert_chat_room",
		"INSERT INTO chat_rooms (room_id, name, created_at, is_public) VALUES (?, ?, ?, ?)",
		r.RoomID, r.Name, r.CreatedAt, boolToInt(r.IsPublic))
	return err
}

// ListChatRooms pages rooms oldest first.
func (c *Conn) ListChatRooms(ctx context.Context, limit, offset int64) ([]ChatRoom, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := c.query(ctx, "list_chat_rooms",
		"SELECT room_id, name, created_at, is_public FROM chat_rooms ORDER BY created_at ASC, room_id ASC LIMIT ? OFFSET ?",
		limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChatRooms(rows)
}

// SearchChatRooms substring-matches room names.
func (c *Conn) SearchChatRooms(ctx context.Context, q string, limit int64) ([]ChatRoom, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := c.query(ctx, "search_chat_rooms",
		"SELECT room_id, name, created_at, is_public FROM chat_rooms WHERE name LIKE ? ORDER BY created_at ASC LIMIT ?",
		"%"+q+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChatRooms(rows)
}

func scanChatRooms(rows *sql.Rows) ([]ChatRoom, error) {
	out := make([]ChatRoom, 0)
	for rows.Next() {
		var r ChatRoom
		var public int64
		if err := rows.Scan(&r.RoomID, &r.Name, &r.CreatedAt, &public); err != nil {
			return nil, err
		}
		r.IsPublic = public != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetLastChatMessage returns the newest message in a room, or nil on an
// empty room. The hash chain extends from this row.
func (c *Conn) GetLastChatMessage(ctx context.Context, roomID string) (*ChatMessage, error) {
	row := c.queryRow(ctx, "get_last_chat_message",
		`SELECT message_id, room_id, sender_account_id, body, seq, prev_digest, msg_digest, chain_head, created_at
		 FROM chat_messages WHERE room_id = ? ORDER BY seq DESC LIMIT 1`, roomID)
	var m ChatMessage
	err := row.Scan(&m.MessageID, &m.RoomID, &m.SenderAccountID, &m.Body, &m.Seq,
		&m.PrevDigest, &m.MsgDigest, &m.ChainHead, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get_last_chat_message: %w", err)
	}
	return &m, nil
}

// InsertChatMessage appends one hash-chained message.
func (c *Conn) InsertChatMessage(ctx context.Context, m ChatMessage) error {
	if err := validText(m.MessageID, "message_id"); err != nil {
		return err
	}
	if err := validHash(m.PrevDigest, "prev_digest"); err != nil {
		return err
	}
	if err := validHash(m.MsgDigest, "msg_digest"); err != nil {
		return err
	}
	if err := validHash(m.ChainHead, "chain_head"); err != nil {
		return err
	}
	_, err := c.exec(ctx, "insert_chat_message",
		`INSERT INTO chat_messages (message_id, room_id, sender_account_id, body, seq, prev_digest, msg_digest, chain_head, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.MessageID, m.RoomID, m.SenderAccountID, m.Body, m.Seq, m.PrevDigest, m.MsgDigest, m.ChainHead, m.CreatedAt)
	return err
}

// ListChatMessages pages a room's messages in chain order, optionally
// after a sequence number.
func (c *Conn) ListChatMessages(ctx context.Context, roomID string, after int64, limit int64) ([]ChatMessage, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := c.query(ctx, "list_chat_messages",
		`SELECT message_id, room_id, sender_account_id, body, seq, prev_digest, msg_digest, chain_head, created_at
		 FROM chat_messages WHERE room_id = ? AND seq > ? ORDER BY seq ASC LIMIT ?`,
		roomID, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ChatMessage, 0)
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.MessageID, &m.RoomID, &m.SenderAccountID, &m.Body, &m.Seq,
			&m.PrevDigest, &m.MsgDigest, &m.ChainHead, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
