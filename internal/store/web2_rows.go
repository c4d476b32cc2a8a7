package store

import (
	"context"
)

// InsertWeb2GuardRequest records one guarded outbound call.
func (c *Conn) InsertWeb2GuardRequest(ctx context.Context, r Web2GuardRequest) error {
	if err := validText(r.RequestID, "request_id"); err != nil {
		return err
	}
	if err := validHash(r.RequestHash, "request_hash"); err != nil {
		return err
	}
	if err := validHash(r.ResponseHash, "response_hash"); err != nil {
		return err
	}
	headers, err := encodeStrings(r.HeaderNames)
	if err != nil {
		return err
	}
	_, err = c.exec(ctx, "insert_web2_guard_request",
		`INSERT INTO web2_guard_requests
		 (request_id, account_id, run_id, url, method, request_hash, response_hash,
		  response_status, response_size, response_truncated, body_size, header_names, sealed_request, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RequestID, r.AccountID, r.RunID, r.URL, r.Method, r.RequestHash, r.ResponseHash,
		r.ResponseStatus, r.ResponseSize, boolToInt(r.ResponseTruncated), r.BodySize,
		headers, nullIfEmpty(r.SealedRequest), r.CreatedAt)
	return err
}

// ListWeb2GuardRequests pages an account's guarded calls, newest first.
func (c *Conn) ListWeb2GuardRequests(ctx context.Context, accountID string, limit, offset int64) ([]Web2GuardRequest, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := c.query(ctx, "list_web2_guard_requests",
		`SELECT request_id, account_id, run_id, url, method, request_hash, response_hash,
		        response_status, response_size, response_truncated, body_size, header_names, sealed_request, created_at
		 FROM web2_guard_requests WHERE account_id = ?
		 ORDER BY created_at DESC, request_id DESC LIMIT ? OFFSET ?`,
		accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Web2GuardRequest, 0)
	for rows.Next() {
		var r Web2GuardRequest
		var truncated int64
		var headers string
		var sealed *string
		if err := rows.Scan(&r.RequestID, &r.AccountID, &r.RunID, &r.URL, &r.Method, &r.RequestHash,
			&r.ResponseHash, &r.ResponseStatus, &r.ResponseSize, &truncated, &r.BodySize,
			&headers, &sealed, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.ResponseTruncated = truncated != 0
		r.HeaderNames = decodeStrings(headers)
		if sealed != nil {
			r.SealedRequest = *sealed
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
