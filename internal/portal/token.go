package portal

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nyxlabs/testnet-gateway/internal/apierr"
)

// Session tokens are three base64url segments: a fixed HS256 header, a
// compact sorted-key payload, and an HMAC-SHA256 over the first two
// joined by a dot. The token is also the session row's primary key.

func b64url(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

func b64urlDecode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// GenerateSessionID returns 16 random bytes as 32 hex chars; the uuid
// package supplies the entropy.
func GenerateSessionID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("session id: %w", err)
	}
	return hex.EncodeToString(id[:]), nil
}

type tokenHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

type tokenPayload struct {
	Exp int64  `json:"exp"`
	Iat int64  `json:"iat"`
	Sid string `json:"sid"`
	Sub string `json:"sub"`
	Ver int    `json:"ver"`
}

func compactJSON(v any) ([]byte, error) {
	// Struct fields above are declared in sorted key order, so a plain
	// marshal already yields the canonical compact form.
	return json.Marshal(v)
}

// IssueToken mints the session token for an account.
func IssueToken(accountID, sessionID string, issuedAt, expiresAt int64, secret string) (string, error) {
	headerRaw, err := compactJSON(tokenHeader{Alg: "HS256", Typ: "JWT"})
	if err != nil {
		return "", err
	}
	payloadRaw, err := compactJSON(tokenPayload{
		Exp: expiresAt, Iat: issuedAt, Sid: sessionID, Sub: accountID, Ver: 1,
	})
	if err != nil {
		return "", err
	}
	signingInput := b64url(headerRaw) + "." + b64url(payloadRaw)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signingInput))
	return signingInput + "." + b64url(mac.Sum(nil)), nil
}

// TokenClaims is the verified subset of the payload.
type TokenClaims struct {
	AccountID string
	SessionID string
	ExpiresAt int64
}

// VerifyToken checks the MAC in constant time, then the payload shape
// and expiry. Session-row checks happen in RequireSession.
func VerifyToken(token, secret string, now int64) (TokenClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return TokenClaims{}, apierr.AuthInvalid("token invalid")
	}
	signingInput := parts[0] + "." + parts[1]
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signingInput))
	provided, err := b64urlDecode(parts[2])
	if err != nil {
		return TokenClaims{}, apierr.AuthInvalid("token signature invalid")
	}
	if !hmac.Equal(mac.Sum(nil), provided) {
		return TokenClaims{}, apierr.AuthInvalid("token signature invalid")
	}

	payloadRaw, err := b64urlDecode(parts[1])
	if err != nil {
		return TokenClaims{}, apierr.AuthInvalid("token payload invalid")
	}
	var payload struct {
		Sub string `json:"sub"`
		Sid string `json:"sid"`
		Exp *int64 `json:"exp"`
	}
	if err := json.Unmarshal(payloadRaw, &payload); err != nil {
		return TokenClaims{}, apierr.AuthInvalid("token payload invalid")
	}
	if payload.Sub == "" {
		return TokenClaims{}, apierr.AuthInvalid("token subject invalid")
	}
	if payload.Sid == "" {
		return TokenClaims{}, apierr.AuthInvalid("token session invalid")
	}
	if payload.Exp == nil {
		return TokenClaims{}, apierr.AuthInvalid("token expiry invalid")
	}
	if now > *payload.Exp {
		return TokenClaims{}, apierr.AuthInvalid("token expired")
	}
	return TokenClaims{AccountID: payload.Sub, SessionID: payload.Sid, ExpiresAt: *payload.Exp}, nil
}
