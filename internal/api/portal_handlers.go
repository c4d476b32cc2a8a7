package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nyxlabs/testnet-gateway/internal/apierr"
	"github.com/nyxlabs/testnet-gateway/internal/ident"
	"github.com/nyxlabs/testnet-gateway/internal/store"
)

const maxJWKLen = 2048

func accountView(a *store.PortalAccount) gin.H {
	view := gin.H{
		"account_id":     a.AccountID,
		"handle":         a.Handle,
		"wallet_address": a.WalletAddress,
		"created_at":     a.CreatedAt,
		"status":         a.Status,
	}
	if a.Bio != "" {
		view["bio"] = a.Bio
	}
	return view
}

func (s *Server) handleCreateAccount(c *gin.Context) {
	body, err := parseBody(c)
	if err != nil {
		writeErr(c, err)
		return
	}
	handle, _ := body["handle"].(string)
	pubkey, _ := body["pubkey"].(string)
	account, err := s.Portal.CreateAccount(c.Request.Context(), s.Store.Conn(),
		strings.TrimSpace(handle), strings.TrimSpace(pubkey))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": accountView(account)})
}

func (s *Server) handleAuthChallenge(c *gin.Context) {
	body, err := parseBody(c)
	if err != nil {
		writeErr(c, err)
		return
	}
	accountID, _ := body["account_id"].(string)
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		writeErr(c, apierr.ParamRequired("account_id"))
		return
	}
	challenge, err := s.Portal.IssueChallenge(c.Request.Context(), s.Store.Conn(), accountID)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account_id": challenge.AccountID,
		"nonce":      challenge.Nonce,
		"expires_at": challenge.ExpiresAt,
	})
}

func (s *Server) handleAuthVerify(c *gin.Context) {
	body, err := parseBody(c)
	if err != nil {
		writeErr(c, err)
		return
	}
	accountID, _ := body["account_id"].(string)
	nonce, _ := body["nonce"].(string)
	signature, _ := body["signature"].(string)
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		writeErr(c, apierr.ParamRequired("account_id"))
		return
	}
	if strings.TrimSpace(nonce) == "" {
		writeErr(c, apierr.ParamRequired("nonce"))
		return
	}
	if strings.TrimSpace(signature) == "" {
		writeErr(c, apierr.ParamRequired("signature"))
		return
	}
	sess, err := s.Portal.VerifyChallenge(c.Request.Context(), s.Store.Conn(),
		accountID, strings.TrimSpace(nonce), strings.TrimSpace(signature))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token": sess.Token,
		"account_id":   sess.AccountID,
		"expires_at":   sess.ExpiresAt,
	})
}

func (s *Server) handleLogout(c *gin.Context) {
	sess := session(c)
	if sess == nil {
		writeErr(c, apierr.AuthRequired())
		return
	}
	if err := s.Portal.Logout(c.Request.Context(), s.Store.Conn(), sess.Token); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleMe(c *gin.Context) {
	cl := caller(c)
	account, err := s.Store.Conn().GetPortalAccount(c.Request.Context(), cl.AccountID)
	if err != nil {
		writeErr(c, err)
		return
	}
	if account == nil {
		writeErr(c, apierr.New(apierr.CodeNotFound, "account not found", http.StatusNotFound))
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": accountView(account)})
}

func (s *Server) handleUpdateProfile(c *gin.Context) {
	body, err := parseBody(c)
	if err != nil {
		writeErr(c, err)
		return
	}
	var handle, bio *string
	if raw, ok := body["handle"]; ok {
		value, ok := raw.(string)
		if !ok {
			writeErr(c, apierr.ParamInvalid("handle", "must be string"))
			return
		}
		handle = &value
	}
	if raw, ok := body["bio"]; ok {
		value, ok := raw.(string)
		if !ok {
			writeErr(c, apierr.ParamInvalid("bio", "must be string"))
			return
		}
		bio = &value
	}
	cl := caller(c)
	account, err := s.Portal.UpdateProfile(c.Request.Context(), s.Store.Conn(), cl.AccountID, handle, bio)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": accountView(account)})
}

// handlePublishE2EEIdentity stores the caller's public JWK so other
// accounts can encrypt to them. The key is stored canonicalised.
func (s *Server) handlePublishE2EEIdentity(c *gin.Context) {
	body, err := parseBody(c)
	if err != nil {
		writeErr(c, err)
		return
	}
	var jwk map[string]any
	switch raw := body["public_jwk"].(type) {
	case map[string]any:
		jwk = raw
	case string:
		if err := json.Unmarshal([]byte(raw), &jwk); err != nil {
			writeErr(c, apierr.ParamInvalid("public_jwk", "must be json object"))
			return
		}
	default:
		writeErr(c, apierr.ParamRequired("public_jwk"))
		return
	}
	for _, field := range []string{"kty", "crv", "x"} {
		value, _ := jwk[field].(string)
		if strings.TrimSpace(value) == "" {
			writeErr(c, apierr.ParamInvalid("public_jwk", "missing "+field))
			return
		}
	}
	canonical, err := ident.CanonicalJSON(jwk)
	if err != nil {
		writeErr(c, apierr.ParamInvalid("public_jwk", "not canonicalisable"))
		return
	}
	if len(canonical) > maxJWKLen {
		writeErr(c, apierr.ParamInvalid("public_jwk", "too large"))
		return
	}

	cl := caller(c)
	updatedAt := time.Now().Unix()
	if s.Exec != nil && s.Exec.Now != nil {
		updatedAt = s.Exec.Now()
	}
	if err := s.Store.Conn().UpsertE2EEIdentity(c.Request.Context(), cl.AccountID, canonical, updatedAt); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account_id": cl.AccountID,
		"public_jwk": jwk,
		"updated_at": updatedAt,
	})
}

func decodeJWK(raw *string) any {
	if raw == nil {
		return nil
	}
	var parsed any
	if err := json.Unmarshal([]byte(*raw), &parsed); err != nil {
		return nil
	}
	return parsed
}

func (s *Server) handleAccountByID(c *gin.Context) {
	accountID := strings.TrimSpace(c.Query("account_id"))
	if accountID == "" {
		writeErr(c, apierr.ParamRequired("account_id"))
		return
	}
	entry, err := s.Store.Conn().GetAccountDirectoryEntry(c.Request.Context(), accountID)
	if err != nil {
		writeErr(c, err)
		return
	}
	if entry == nil {
		writeErr(c, apierr.New(apierr.CodeNotFound, "account not found", http.StatusNotFound))
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": gin.H{
		"account_id": entry.AccountID,
		"handle":     entry.Handle,
		"public_jwk": decodeJWK(entry.PublicJWK),
	}})
}

func (s *Server) handleAccountSearch(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		writeErr(c, apierr.ParamRequired("q"))
		return
	}
	limit, err := queryInt(c, "limit", 20, 1, 50)
	if err != nil {
		writeErr(c, err)
		return
	}
	entries, err := s.Store.Conn().SearchAccounts(c.Request.Context(), q, limit)
	if err != nil {
		writeErr(c, err)
		return
	}
	accounts := make([]gin.H, 0, len(entries))
	for _, entry := range entries {
		accounts = append(accounts, gin.H{
			"account_id": entry.AccountID,
			"handle":     entry.Handle,
			"public_jwk": decodeJWK(entry.PublicJWK),
		})
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts, "q": q, "limit": limit})
}

func (s *Server) handleActivity(c *gin.Context) {
	limit, err := queryInt(c, "limit", 50, 1, 200)
	if err != nil {
		writeErr(c, err)
		return
	}
	offset, err := queryInt(c, "offset", 0, 0, 1<<31)
	if err != nil {
		writeErr(c, err)
		return
	}
	cl := caller(c)
	receipts, err := s.Store.Conn().ListAccountActivity(c.Request.Context(), cl.AccountID, cl.Wallet, limit, offset)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account_id": cl.AccountID,
		"receipts":   receipts,
		"limit":      limit,
		"offset":     offset,
	})
}

func (s *Server) handleRoomSearch(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		writeErr(c, apierr.ParamRequired("q"))
		return
	}
	limit, err := queryInt(c, "limit", 20, 1, 50)
	if err != nil {
		writeErr(c, err)
		return
	}
	rooms, err := s.Store.Conn().SearchChatRooms(c.Request.Context(), q, limit)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms, "q": q})
}
