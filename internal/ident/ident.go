package ident

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// ──────────────────────────────────────────────────────────────────────
// Deterministic identifiers and canonical encoding.
//
// Every derived ID is a pure function of the caller-supplied run_id so a
// replayed run regenerates the same rows. All digests are SHA-256 rendered
// as lowercase hex; short IDs take the first 16 hex chars.
// ──────────────────────────────────────────────────────────────────────

const shortIDLen = 16

// SHA256Hex returns the lowercase hex digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DeterministicID derives "<prefix>-<sha256(prefix:runID)[:16]>".
func DeterministicID(prefix, runID string) string {
	digest := SHA256Hex([]byte(prefix + ":" + runID))
	return fmt.Sprintf("%s-%s", prefix, digest[:shortIDLen])
}

// OrderID derives the exchange order ID for a run.
func OrderID(runID string) string { return DeterministicID("order", runID) }

// ReceiptID derives the evidence receipt ID for a run.
func ReceiptID(runID string) string { return DeterministicID("receipt", runID) }

// WalletAddress derives the ledger address owned by a portal account.
func WalletAddress(accountID string) string {
	return SHA256Hex([]byte("wallet:" + accountID))[:shortIDLen]
}

// AccountID derives a portal account ID from its handle and public key.
func AccountID(handle, pubkey string) string {
	digest := SHA256Hex([]byte("portal:acct:" + handle + ":" + pubkey))
	return "acct-" + digest[:shortIDLen]
}

// TradeID derives the ID shared by the two legs of one fill.
func TradeID(orderID, counterID string, amount int64) string {
	digest := SHA256Hex(fmt.Appendf(nil, "trade:%s:%s:%d", orderID, counterID, amount))
	return "trade-" + digest[:shortIDLen]
}

// CanonicalJSON renders v with sorted object keys and compact separators.
// Numbers survive a decode round-trip as json.Number so integer payloads
// never pick up a float exponent.
func CanonicalJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonical json: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var normalized any
	if err := dec.Decode(&normalized); err != nil {
		return "", fmt.Errorf("canonical json: %w", err)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return "", fmt.Errorf("canonical json: %w", err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// HashCanonical returns sha256 over the canonical JSON encoding of v.
func HashCanonical(v any) (string, error) {
	text, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	return SHA256Hex([]byte(text)), nil
}

// EqualConstantTime compares two digests without leaking a prefix length.
// Use for every MAC or digest comparison on an authentication path.
func EqualConstantTime(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
