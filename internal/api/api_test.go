package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/nyxlabs/testnet-gateway/internal/evidence"
	"github.com/nyxlabs/testnet-gateway/internal/fees"
	"github.com/nyxlabs/testnet-gateway/internal/gateway"
	"github.com/nyxlabs/testnet-gateway/internal/metrics"
	"github.com/nyxlabs/testnet-gateway/internal/portal"
	"github.com/nyxlabs/testnet-gateway/internal/store"
	"github.com/nyxlabs/testnet-gateway/internal/web2"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var sessionKey = []byte("0123456789abcdef0123456789abcdef")

func newTestServer(t *testing.T) (*Server, *gin.Engine, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "api.db"), metrics.New())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	eng, err := evidence.NewLocalEngine(filepath.Join(dir, "runs"))
	require.NoError(t, err)

	s := &Server{
		Store:  st,
		Engine: eng,
		Portal: &portal.Service{Secret: "test-secret", ChallengeTTL: 300, SessionTTL: 3600},
		Exec: &gateway.Executor{
			Store:   st,
			Engine:  eng,
			Pricer:  fees.Pricer{PlatformFeeBPS: 10, TreasuryAddress: "treasury"},
			Metrics: metrics.New(),
			Faucet: gateway.FaucetPolicy{
				Cooldown:          time.Hour,
				MaxAmountPer24h:   1500,
				MaxClaimsPer24h:   2,
				IPMaxClaimsPer24h: 4,
			},
		},
		Guard: &web2.Guard{Allowlist: web2.DefaultAllowlist},
	}
	return s, s.SetupRouter(), st
}

func doJSON(t *testing.T, r *gin.Engine, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	out := map[string]any{}
	if len(w.Body.Bytes()) > 0 && w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func errCode(t *testing.T, body map[string]any) string {
	t.Helper()
	wrapper, ok := body["error"].(map[string]any)
	require.True(t, ok, "expected error envelope, got %v", body)
	code, _ := wrapper["code"].(string)
	return code
}

// createSession walks the full register/challenge/verify flow over HTTP.
func createSession(t *testing.T, r *gin.Engine, handle string) (token, accountID, wallet string) {
	t.Helper()
	pubkey := base64.StdEncoding.EncodeToString(sessionKey)

	w, body := doJSON(t, r, http.MethodPost, "/portal/v1/accounts", "",
		map[string]any{"handle": handle, "pubkey": pubkey})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	account := body["account"].(map[string]any)
	accountID = account["account_id"].(string)
	wallet = account["wallet_address"].(string)

	w, body = doJSON(t, r, http.MethodPost, "/portal/v1/auth/challenge", "",
		map[string]any{"account_id": accountID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	nonce := body["nonce"].(string)

	mac := hmac.New(sha256.New, sessionKey)
	mac.Write([]byte(nonce))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	w, body = doJSON(t, r, http.MethodPost, "/portal/v1/auth/verify", "",
		map[string]any{"account_id": accountID, "nonce": nonce, "signature": signature})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	token = body["access_token"].(string)
	return token, accountID, wallet
}

func fund(t *testing.T, st *store.Store, address, assetID string, amount int64) {
	t.Helper()
	_, err := st.Conn().ApplyFaucetWithFee(context.Background(), address, amount, 0,
		"treasury", "seed-"+address+"-"+assetID, assetID)
	require.NoError(t, err)
}

func TestHealthz(t *testing.T) {
	_, r, _ := newTestServer(t)
	w, body := doJSON(t, r, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, body["ok"])
}

func TestCapabilitiesListsModules(t *testing.T) {
	_, r, _ := newTestServer(t)
	w, body := doJSON(t, r, http.MethodGet, "/capabilities", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, body["modules"], "exchange")
	require.Contains(t, body["modules"], "evidence")
}

func TestMutationRequiresSession(t *testing.T) {
	_, r, _ := newTestServer(t)
	w, body := doJSON(t, r, http.MethodPost, "/exchange/place_order", "",
		map[string]any{"seed": 1, "run_id": "run-1"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "AUTH_REQUIRED", errCode(t, body))
}

func TestMutationEnvelopeValidation(t *testing.T) {
	_, r, _ := newTestServer(t)
	token, _, _ := createSession(t, r, "envelope-user")

	w, body := doJSON(t, r, http.MethodPost, "/exchange/place_order", token,
		map[string]any{"run_id": "run-1"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "PARAM_REQUIRED", errCode(t, body))

	w, body = doJSON(t, r, http.MethodPost, "/exchange/place_order", token,
		map[string]any{"seed": 1, "run_id": "bad run id!"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "PARAM_INVALID", errCode(t, body))

	w, body = doJSON(t, r, http.MethodPost, "/exchange/place_order", token,
		map[string]any{"seed": 1.5, "run_id": "run-1"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "PARAM_INVALID", errCode(t, body))
}

func TestPlaceOrderFlow(t *testing.T) {
	_, r, st := newTestServer(t)
	sellerToken, _, sellerWallet := createSession(t, r, "seller-one")
	buyerToken, _, buyerWallet := createSession(t, r, "buyer-one")

	fund(t, st, sellerWallet, "ECHO", 100)
	fund(t, st, sellerWallet, "NYXT", 100)
	fund(t, st, buyerWallet, "NYXT", 1000)

	w, body := doJSON(t, r, http.MethodPost, "/exchange/place_order", sellerToken, map[string]any{
		"seed": 7, "run_id": "run-sell-1",
		"side": "SELL", "asset_in": "ECHO", "asset_out": "NYXT",
		"amount": 10, "price": 10,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, "complete", body["status"])
	require.Equal(t, true, body["replay_ok"])
	order := body["order"].(map[string]any)
	require.Equal(t, "open", order["status"])
	require.Equal(t, sellerWallet, order["owner_address"])
	require.Contains(t, body, "fee_total")
	require.Equal(t, sellerWallet, body["payer"])

	w, body = doJSON(t, r, http.MethodGet, "/exchange/orderbook", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, body["sells"], 1)

	w, body = doJSON(t, r, http.MethodPost, "/exchange/place_order", buyerToken, map[string]any{
		"seed": 8, "run_id": "run-buy-1",
		"side": "BUY", "asset_in": "NYXT", "asset_out": "ECHO",
		"amount": 100, "price": 10,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NotEmpty(t, body["trades"])

	w, body = doJSON(t, r, http.MethodGet, "/exchange/v1/my_trades", buyerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, body["trades"])

	w, body = doJSON(t, r, http.MethodGet, "/exchange/v1/my_orders?status=all", sellerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, body["orders"], 1)
}

func TestOrderQueryValidation(t *testing.T) {
	_, r, _ := newTestServer(t)
	w, body := doJSON(t, r, http.MethodGet, "/exchange/orders?side=HOLD", "", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "PARAM_INVALID", errCode(t, body))

	w, body = doJSON(t, r, http.MethodGet, "/exchange/orders?status=parked", "", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "PARAM_INVALID", errCode(t, body))
}

func TestChannelAccessControl(t *testing.T) {
	_, r, _ := newTestServer(t)
	token, accountID, _ := createSession(t, r, "channel-user")

	w, _ := doJSON(t, r, http.MethodGet, "/chat/messages?channel=lobby", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = doJSON(t, r, http.MethodGet, "/chat/messages?channel="+accountID, token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, body := doJSON(t, r, http.MethodGet, "/chat/messages?channel=acct-somebody-else", token, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, "FORBIDDEN_CHAT_CHANNEL", errCode(t, body))
}

func TestRoomMessagesChainReceipts(t *testing.T) {
	_, r, _ := newTestServer(t)
	token, _, _ := createSession(t, r, "room-user")

	w, body := doJSON(t, r, http.MethodPost, "/chat/v1/rooms", token,
		map[string]any{"name": "general"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	room := body["room"].(map[string]any)
	roomID := room["room_id"].(string)

	envelope := `{"ciphertext":"b64-cipher","iv":"b64-iv"}`
	w, body = doJSON(t, r, http.MethodPost, "/chat/v1/rooms/"+roomID+"/messages", token,
		map[string]any{"body": envelope})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	receipt := body["receipt"].(map[string]any)
	require.NotEmpty(t, receipt["chain_head"])
	require.NotEmpty(t, receipt["msg_digest"])

	// Plaintext bodies are rejected; the gateway only chains envelopes.
	w, respBody := doJSON(t, r, http.MethodPost, "/chat/v1/rooms/"+roomID+"/messages", token,
		map[string]any{"body": "hello in the clear"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "PARAM_INVALID", errCode(t, respBody))

	w, body = doJSON(t, r, http.MethodGet, "/chat/v1/rooms/"+roomID+"/messages", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, body["messages"], 1)

	w, body = doJSON(t, r, http.MethodGet, "/chat/v1/rooms/"+roomID+"/verify", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, body["chain_ok"])
}

func TestFaucetAndBalances(t *testing.T) {
	_, r, _ := newTestServer(t)
	token, _, wallet := createSession(t, r, "faucet-user")

	w, body := doJSON(t, r, http.MethodPost, "/wallet/v1/faucet", token,
		map[string]any{"seed": 3, "run_id": "run-faucet-1", "amount": 100})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, wallet, body["address"])
	require.Contains(t, body, "balance")

	w, body = doJSON(t, r, http.MethodGet, "/wallet/v1/balances", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	balances := body["balances"].(map[string]any)
	require.Contains(t, balances, "NYXT")
	require.Contains(t, balances, "ECHO")
	require.Contains(t, balances, "USDX")

	w, body = doJSON(t, r, http.MethodGet, "/wallet/v1/balances?address=not-my-wallet", token, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, "ADDRESS_MISMATCH", errCode(t, body))
}

func TestLegacyWalletDisabledByDefault(t *testing.T) {
	_, r, _ := newTestServer(t)
	w, _ := doJSON(t, r, http.MethodPost, "/wallet/faucet", "",
		map[string]any{"seed": 1, "run_id": "run-legacy", "address": "w-legacy", "amount": 10})
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestEvidenceEndpoints(t *testing.T) {
	_, r, _ := newTestServer(t)
	token, _, _ := createSession(t, r, "evidence-user")

	w, _ := doJSON(t, r, http.MethodPost, "/wallet/v1/faucet", token,
		map[string]any{"seed": 11, "run_id": "run-evidence-1", "amount": 50})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, body := doJSON(t, r, http.MethodGet, "/status?run_id=run-evidence-1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "complete", body["status"])
	require.Equal(t, true, body["replay_ok"])

	w, body = doJSON(t, r, http.MethodGet, "/evidence?run_id=run-evidence-1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "wallet", body["module"])
	require.Equal(t, "faucet", body["action"])

	w, body = doJSON(t, r, http.MethodGet, "/evidence?run_id=run-missing", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "NOT_FOUND", errCode(t, body))

	w, body = doJSON(t, r, http.MethodPost, "/evidence/v1/replay", token,
		map[string]any{"run_id": "run-evidence-1"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, body["replay_ok"])

	w, _ = doJSON(t, r, http.MethodGet, "/export.zip?run_id=run-evidence-1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/zip", w.Header().Get("Content-Type"))

	w, _ = doJSON(t, r, http.MethodGet, "/proof.zip?prefix=run-evidence", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, "application/zip", w.Header().Get("Content-Type"))

	w, body = doJSON(t, r, http.MethodGet, "/proof.zip?prefix=nothing-here", token, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "NOT_FOUND", errCode(t, body))

	w, body = doJSON(t, r, http.MethodGet, "/list", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, body["runs"])
}

func TestArtifactTraversalRejected(t *testing.T) {
	s, r, _ := newTestServer(t)
	token, _, _ := createSession(t, r, "artifact-user")
	w, _ := doJSON(t, r, http.MethodPost, "/wallet/v1/faucet", token,
		map[string]any{"seed": 5, "run_id": "run-artifact-1", "amount": 25})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, _ = doJSON(t, r, http.MethodGet, "/artifact?run_id=run-artifact-1&name=evidence.json", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, body := doJSON(t, r, http.MethodGet,
		"/artifact?run_id=run-artifact-1&name=..%2Frun-x%2Fevidence.json", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "NOT_FOUND", errCode(t, body))

	// Files planted next to the run root must stay unreachable through
	// any run_id shape on the public evidence surface.
	outside := filepath.Join(s.Engine.RunDir(""), "..", "outside")
	require.NoError(t, os.MkdirAll(outside, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(outside, "leak.txt"), []byte("secret"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(outside, "evidence.json"), []byte(`{}`), 0o644))

	for _, path := range []string{
		"/artifact?run_id=..%2Foutside&name=leak.txt",
		"/evidence?run_id=..%2Foutside",
		"/status?run_id=..%2Foutside",
		"/export.zip?run_id=..%2Foutside",
	} {
		w, body = doJSON(t, r, http.MethodGet, path, "", nil)
		require.Equal(t, http.StatusNotFound, w.Code, path)
		require.Equal(t, "NOT_FOUND", errCode(t, body))
	}
}

func TestWeb2AllowlistIsPublic(t *testing.T) {
	_, r, _ := newTestServer(t)
	w, body := doJSON(t, r, http.MethodGet, "/web2/v1/allowlist", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, body["allowlist"])
}

func TestAccountRateLimitEnvelope(t *testing.T) {
	_, r, _ := newTestServer(t)
	token, _, _ := createSession(t, r, "ratelimit-user")

	var w *httptest.ResponseRecorder
	var body map[string]any
	for i := 0; i <= accountRateLimit; i++ {
		w, body = doJSON(t, r, http.MethodGet, "/portal/v1/me", token, nil)
	}
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "ACCOUNT_RATE_LIMIT", errCode(t, body))
}

func TestUpdateProfileAndDirectory(t *testing.T) {
	_, r, _ := newTestServer(t)
	token, accountID, _ := createSession(t, r, "profile-user")

	w, body := doJSON(t, r, http.MethodPost, "/portal/v1/profile", token,
		map[string]any{"bio": "testnet resident"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	account := body["account"].(map[string]any)
	require.Equal(t, "testnet resident", account["bio"])

	jwk := map[string]any{"kty": "EC", "crv": "P-256", "x": "abc", "y": "def"}
	w, body = doJSON(t, r, http.MethodPost, "/portal/v1/e2ee/identity", token,
		map[string]any{"public_jwk": jwk})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, accountID, body["account_id"])

	w, body = doJSON(t, r, http.MethodGet, "/portal/v1/accounts/by_id?account_id="+accountID, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	entry := body["account"].(map[string]any)
	published := entry["public_jwk"].(map[string]any)
	require.Equal(t, "P-256", published["crv"])

	w, body = doJSON(t, r, http.MethodGet, "/portal/v1/accounts/search?q=profile", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, body["accounts"])
}

func TestBodyTooLargeRejected(t *testing.T) {
	_, r, _ := newTestServer(t)
	token, _, _ := createSession(t, r, "bigbody-user")

	big := make([]byte, maxBodyBytes+100)
	for i := range big {
		big[i] = 'a'
	}
	payload := map[string]any{"seed": 1, "run_id": "run-big", "note": string(big)}
	w, body := doJSON(t, r, http.MethodPost, "/exchange/place_order", token, payload)
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	require.Equal(t, "BAD_REQUEST", errCode(t, body))
}

func TestMarketplaceFlow(t *testing.T) {
	_, r, st := newTestServer(t)
	sellerToken, _, sellerWallet := createSession(t, r, "market-seller")
	buyerToken, _, buyerWallet := createSession(t, r, "market-buyer")

	fund(t, st, sellerWallet, "NYXT", 100)
	fund(t, st, buyerWallet, "NYXT", 1000)

	w, body := doJSON(t, r, http.MethodPost, "/marketplace/listing", sellerToken, map[string]any{
		"seed": 21, "run_id": "run-listing-1",
		"sku": "sticker-pack", "title": "Sticker Pack", "price": 40,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	listing := body["listing"].(map[string]any)
	require.Equal(t, sellerWallet, listing["publisher_id"])
	listingID := listing["listing_id"].(string)

	w, body = doJSON(t, r, http.MethodGet, "/marketplace/listings", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, body["listings"], 1)

	w, body = doJSON(t, r, http.MethodPost, "/marketplace/purchase", buyerToken, map[string]any{
		"seed": 22, "run_id": "run-purchase-1",
		"listing_id": listingID, "qty": 1,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	purchase := body["purchase"].(map[string]any)
	require.Equal(t, buyerWallet, purchase["buyer_id"])

	w, body = doJSON(t, r, http.MethodGet, "/marketplace/v1/my_purchases", buyerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, body["purchases"], 1)

	w, body = doJSON(t, r, http.MethodGet, "/marketplace/purchases?listing_id="+listingID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, body["purchases"], 1)
}

func TestRunDispatchRejectsUnknownAction(t *testing.T) {
	_, r, _ := newTestServer(t)
	token, _, _ := createSession(t, r, "dispatch-user")

	w, body := doJSON(t, r, http.MethodPost, "/run", token, map[string]any{
		"seed": 1, "run_id": "run-unknown-1",
		"module": "exchange", "action": "teleport",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "BAD_REQUEST", errCode(t, body))

	w, body = doJSON(t, r, http.MethodPost, "/run", token, map[string]any{
		"seed": 1, "run_id": "run-no-module-1", "action": "place_order",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "PARAM_REQUIRED", errCode(t, body))
}

func TestVersionFallsBackToUnknown(t *testing.T) {
	_, r, _ := newTestServer(t)
	w, body := doJSON(t, r, http.MethodGet, "/version", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "unknown", body["commit"])
	require.Equal(t, "testnet", body["build"])
}
