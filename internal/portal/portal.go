// Package portal handles identity: account creation, challenge/response
// login, session verification and the profile surface. Authentication is
// deliberately symmetric (HMAC over the nonce with the registered key)
// so any client stack reproduces it byte for byte on the test network.
package portal

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/nyxlabs/testnet-gateway/internal/apierr"
	"github.com/nyxlabs/testnet-gateway/internal/ident"
	"github.com/nyxlabs/testnet-gateway/internal/store"
)

// Service carries the portal configuration. Now and Entropy are
// injectable for tests and default to the real clock and crypto/rand.
type Service struct {
	Secret       string
	ChallengeTTL int64
	SessionTTL   int64
	Now          func() int64
	Entropy      func() (string, error)
}

func (s *Service) now() int64 {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().Unix()
}

func (s *Service) entropy() (string, error) {
	if s.Entropy != nil {
		return s.Entropy()
	}
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("entropy: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

func validateHandle(handle string) error {
	if handle == "" {
		return apierr.ParamRequired("handle")
	}
	if len(handle) < 3 || len(handle) > 24 {
		return apierr.ParamInvalid("handle", "length invalid")
	}
	for _, ch := range handle {
		switch {
		case ch >= 'a' && ch <= 'z':
		case ch >= '0' && ch <= '9':
		case ch == '_' || ch == '-':
		default:
			return apierr.ParamInvalid("handle", "invalid")
		}
	}
	return nil
}

func validatePubkey(pubkey string) error {
	if pubkey == "" {
		return apierr.ParamRequired("pubkey")
	}
	if len(pubkey) > 256 {
		return apierr.ParamInvalid("pubkey", "too long")
	}
	raw, err := base64.StdEncoding.DecodeString(pubkey)
	if err != nil || len(raw) < 16 {
		return apierr.ParamInvalid("pubkey", "invalid")
	}
	return nil
}

// CreateAccount registers a handle with its public key and derives the
// account and wallet identifiers.
func (s *Service) CreateAccount(ctx context.Context, conn *store.Conn, handle, pubkey string) (*store.PortalAccount, error) {
	if err := validateHandle(handle); err != nil {
		return nil, err
	}
	if err := validatePubkey(pubkey); err != nil {
		return nil, err
	}
	existing, err := conn.GetPortalAccountByHandle(ctx, handle)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apierr.New(apierr.CodeBadRequest, "handle unavailable", http.StatusConflict)
	}
	accountID := ident.AccountID(handle, pubkey)
	account := store.PortalAccount{
		AccountID:     accountID,
		Handle:        handle,
		PublicKey:     pubkey,
		WalletAddress: ident.WalletAddress(accountID),
		CreatedAt:     s.now(),
		Status:        "active",
	}
	if err := conn.InsertPortalAccount(ctx, account); err != nil {
		return nil, err
	}
	return &account, nil
}

// IssueChallenge mints a single-use login nonce for the account.
func (s *Service) IssueChallenge(ctx context.Context, conn *store.Conn, accountID string) (*store.PortalChallenge, error) {
	account, err := conn.GetPortalAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, apierr.New(apierr.CodeNotFound, "account not found", http.StatusNotFound)
	}
	issuedAt := s.now()
	entropy, err := s.entropy()
	if err != nil {
		return nil, err
	}
	nonce := ident.SHA256Hex(fmt.Appendf(nil, "nonce:%s:%d:%s:%s", accountID, issuedAt, s.Secret, entropy))
	challenge := store.PortalChallenge{
		AccountID: account.AccountID,
		Nonce:     nonce,
		ExpiresAt: issuedAt + s.ChallengeTTL,
	}
	if err := conn.InsertPortalChallenge(ctx, challenge); err != nil {
		return nil, err
	}
	return &challenge, nil
}

// TODO: accept ed25519 signatures alongside the HMAC scheme; the stored
// key is already raw bytes and could carry an ed25519 public key.
func verifySignature(pubkey, nonce, signatureB64 string) bool {
	key, err := base64.StdEncoding.DecodeString(pubkey)
	if err != nil {
		return false
	}
	provided, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(nonce))
	return hmac.Equal(mac.Sum(nil), provided)
}

// VerifyChallenge consumes the nonce, checks the signature and on
// success issues a session.
func (s *Service) VerifyChallenge(ctx context.Context, conn *store.Conn, accountID, nonce, signature string) (*store.PortalSession, error) {
	challenge, err := conn.ConsumePortalChallenge(ctx, accountID, nonce)
	if err != nil {
		return nil, err
	}
	if challenge == nil {
		return nil, apierr.AuthInvalid("challenge not found")
	}
	if challenge.Used {
		return nil, apierr.AuthInvalid("challenge already used")
	}
	if s.now() > challenge.ExpiresAt {
		return nil, apierr.AuthInvalid("challenge expired")
	}
	account, err := conn.GetPortalAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, apierr.AuthInvalid("account not found")
	}
	if !verifySignature(account.PublicKey, nonce, signature) {
		return nil, apierr.AuthInvalid("signature invalid")
	}

	now := s.now()
	expiresAt := now + s.SessionTTL
	sessionID, err := GenerateSessionID()
	if err != nil {
		return nil, err
	}
	token, err := IssueToken(accountID, sessionID, now, expiresAt, s.Secret)
	if err != nil {
		return nil, err
	}
	session := store.PortalSession{Token: token, AccountID: accountID, ExpiresAt: expiresAt}
	if err := conn.InsertPortalSession(ctx, session); err != nil {
		return nil, err
	}
	return &session, nil
}

// RequireSession verifies the token MAC and the backing session row.
func (s *Service) RequireSession(ctx context.Context, conn *store.Conn, token string) (*store.PortalSession, error) {
	claims, err := VerifyToken(token, s.Secret, s.now())
	if err != nil {
		return nil, err
	}
	session, err := conn.GetPortalSession(ctx, token)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, apierr.AuthInvalid("session not found")
	}
	if session.AccountID != claims.AccountID {
		return nil, apierr.AuthInvalid("session account mismatch")
	}
	if s.now() > session.ExpiresAt {
		return nil, apierr.AuthInvalid("session expired")
	}
	return session, nil
}

// Logout revokes the session token. Unknown tokens are a no-op.
func (s *Service) Logout(ctx context.Context, conn *store.Conn, token string) error {
	return conn.DeletePortalSession(ctx, token)
}

// UpdateProfile changes the handle and/or bio. A nil field keeps the
// current value.
func (s *Service) UpdateProfile(ctx context.Context, conn *store.Conn, accountID string, handle, bio *string) (*store.PortalAccount, error) {
	account, err := conn.GetPortalAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, apierr.New(apierr.CodeNotFound, "account not found", http.StatusNotFound)
	}

	newHandle := account.Handle
	if handle != nil {
		if err := validateHandle(*handle); err != nil {
			return nil, err
		}
		if *handle != account.Handle {
			existing, err := conn.GetPortalAccountByHandle(ctx, *handle)
			if err != nil {
				return nil, err
			}
			if existing != nil {
				return nil, apierr.New(apierr.CodeBadRequest, "handle unavailable", http.StatusConflict)
			}
		}
		newHandle = *handle
	}
	newBio := account.Bio
	if bio != nil {
		if len(*bio) > 256 {
			return nil, apierr.ParamInvalid("bio", "too long")
		}
		newBio = *bio
	}
	if err := conn.UpdatePortalProfile(ctx, accountID, newHandle, newBio); err != nil {
		return nil, err
	}
	account.Handle = newHandle
	account.Bio = newBio
	return account, nil
}
