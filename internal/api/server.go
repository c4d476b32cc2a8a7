// Package api is the HTTP surface of the gateway. Handlers stay thin:
// they parse and bound the request, resolve the session identity, call
// into the executor or store, and render the wire envelopes. All fee,
// evidence and ledger semantics live below this layer.
package api

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nyxlabs/testnet-gateway/internal/assets"
	"github.com/nyxlabs/testnet-gateway/internal/evidence"
	"github.com/nyxlabs/testnet-gateway/internal/gateway"
	"github.com/nyxlabs/testnet-gateway/internal/integrations"
	"github.com/nyxlabs/testnet-gateway/internal/metrics"
	"github.com/nyxlabs/testnet-gateway/internal/portal"
	"github.com/nyxlabs/testnet-gateway/internal/store"
	"github.com/nyxlabs/testnet-gateway/internal/web2"
)

const (
	maxBodyBytes = 4096

	ipRateLimit      = 120
	accountRateLimit = 60
	rateWindow       = time.Minute
)

// Server bundles every dependency the handlers need.
type Server struct {
	Store        *store.Store
	Engine       evidence.Engine
	Portal       *portal.Service
	Exec         *gateway.Executor
	Guard        *web2.Guard
	Integrations *integrations.Client
	Metrics      *metrics.Metrics
	Hub          *Hub

	Env                string
	Commit             string
	Describe           string
	EnableLegacyWallet bool

	ipLimiter      *Limiter
	accountLimiter *Limiter
}

// SetupRouter wires the middleware chain and the full route table.
func (s *Server) SetupRouter() *gin.Engine {
	r := gin.Default()

	// CORS is configurable via the ALLOWED_ORIGINS env var
	// (comma-separated). Empty or "*" allows every origin.
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	if s.Metrics != nil {
		r.Use(func(c *gin.Context) {
			c.Next()
			route := c.FullPath()
			if route == "" {
				route = "unmatched"
			}
			s.Metrics.HTTPRequests.WithLabelValues(
				c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		})
	}

	s.ipLimiter = NewLimiter(ipRateLimit, rateWindow)
	s.accountLimiter = NewLimiter(accountRateLimit, rateWindow)
	r.Use(s.ipLimiterMiddleware())

	auth := s.requireSession()

	r.GET("/healthz", s.handleHealthz)
	r.GET("/version", s.handleVersion)
	r.GET("/capabilities", s.handleCapabilities)
	r.GET("/status", s.handleRunStatus)
	r.GET("/discovery/feed", s.handleDiscoveryFeed)
	if s.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.Metrics.Handler()))
	}
	if s.Hub != nil {
		r.GET("/stream", s.Hub.Subscribe)
	}

	r.POST("/run", auth, s.handleRun)

	r.POST("/portal/v1/accounts", s.handleCreateAccount)
	r.POST("/portal/v1/auth/challenge", s.handleAuthChallenge)
	r.POST("/portal/v1/auth/verify", s.handleAuthVerify)
	r.POST("/portal/v1/auth/logout", auth, s.handleLogout)
	r.POST("/portal/v1/profile", auth, s.handleUpdateProfile)
	r.POST("/portal/v1/e2ee/identity", auth, s.handlePublishE2EEIdentity)
	r.GET("/portal/v1/me", auth, s.handleMe)
	r.GET("/portal/v1/accounts/by_id", auth, s.handleAccountByID)
	r.GET("/portal/v1/accounts/search", auth, s.handleAccountSearch)
	r.GET("/portal/v1/activity", auth, s.handleActivity)
	r.GET("/portal/v1/rooms/search", auth, s.handleRoomSearch)

	r.POST("/chat/v1/rooms", auth, s.handleCreateRoom)
	r.GET("/chat/v1/rooms", auth, s.handleListRooms)
	r.POST("/chat/v1/rooms/:room_id/messages", auth, s.handlePostRoomMessage)
	r.GET("/chat/v1/rooms/:room_id/messages", auth, s.handleListRoomMessages)
	r.GET("/chat/v1/rooms/:room_id/verify", auth, s.handleVerifyRoomChain)
	r.GET("/chat/v1/conversations", auth, s.handleConversations)
	r.GET("/chat/messages", auth, s.handleChannelMessages)
	r.POST("/chat/send", auth, s.handleChatSend)

	r.POST("/wallet/v1/faucet", auth, s.handleFaucetV1)
	r.POST("/wallet/v1/transfer", auth, s.handleTransferV1)
	r.POST("/wallet/v1/airdrop/claim", auth, s.handleAirdropClaim)
	r.POST("/wallet/airdrop/claim", auth, s.handleAirdropClaim)
	r.GET("/wallet/v1/airdrop/tasks", auth, s.handleAirdropTasks)
	r.GET("/wallet/v1/balances", auth, s.handleBalances)
	r.GET("/wallet/v1/transfers", auth, s.handleTransfers)
	r.GET("/wallet/balance", s.handleLegacyBalance)
	if s.EnableLegacyWallet {
		r.POST("/wallet/faucet", s.handleLegacyFaucet)
		r.POST("/wallet/transfer", s.handleLegacyTransfer)
	}

	r.POST("/exchange/place_order", auth, s.handlePlaceOrder)
	r.POST("/exchange/cancel_order", auth, s.handleCancelOrder)
	r.GET("/exchange/orders", s.handleListOrdersPublic)
	r.GET("/exchange/trades", s.handleListTrades)
	r.GET("/exchange/orderbook", s.handleOrderbook)
	r.GET("/exchange/v1/my_orders", auth, s.handleMyOrders)
	r.GET("/exchange/v1/my_trades", auth, s.handleMyTrades)

	r.POST("/marketplace/listing", auth, s.handlePublishListing)
	r.POST("/marketplace/purchase", auth, s.handlePurchaseListing)
	r.GET("/marketplace/listings", s.handleListings)
	r.GET("/marketplace/listings/search", s.handleListingSearch)
	r.GET("/marketplace/purchases", s.handlePurchases)
	r.GET("/marketplace/v1/my_purchases", auth, s.handleMyPurchases)

	r.POST("/entertainment/step", s.handleEntertainmentStep)
	r.GET("/entertainment/items", s.handleEntertainmentItems)
	r.GET("/entertainment/events", s.handleEntertainmentEvents)

	r.GET("/web2/v1/allowlist", s.handleWeb2Allowlist)
	r.POST("/web2/v1/request", auth, s.handleWeb2Request)
	r.GET("/web2/v1/requests", auth, s.handleWeb2Requests)

	r.GET("/evidence", s.handleEvidence)
	r.POST("/evidence/v1/replay", auth, s.handleReplay)
	r.GET("/artifact", s.handleArtifact)
	r.GET("/export.zip", s.handleExportZip)
	r.GET("/proof.zip", auth, s.handleProofZip)
	r.GET("/list", s.handleListRuns)

	r.GET("/integrations/v1/0x/quote", auth, s.handleZeroExQuote)
	r.GET("/integrations/v1/jupiter/quote", auth, s.handleJupiterQuote)
	r.GET("/integrations/v1/magic_eden/solana/collections", auth, s.handleMagicEdenCollections)
	r.GET("/integrations/v1/magic_eden/solana/collection_listings", auth, s.handleMagicEdenCollectionListings)
	r.GET("/integrations/v1/magic_eden/solana/token", auth, s.handleMagicEdenToken)

	return r
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleVersion(c *gin.Context) {
	commit := s.Commit
	if commit == "" {
		commit = "unknown"
	}
	describe := s.Describe
	if describe == "" {
		describe = "unknown"
	}
	c.JSON(http.StatusOK, gin.H{"commit": commit, "describe": describe, "build": "testnet", "env": s.Env})
}

func integrationFeature(key string) string {
	if key == "" {
		return "disabled_missing_api_key"
	}
	return "enabled"
}

func (s *Server) handleCapabilities(c *gin.Context) {
	zeroEx, jupiter := "", ""
	if s.Integrations != nil {
		zeroEx = s.Integrations.ZeroExKey
		jupiter = s.Integrations.JupiterKey
	}
	c.JSON(http.StatusOK, gin.H{
		"modules": []string{
			"portal", "wallet", "exchange", "marketplace", "chat",
			"entertainment", "dapp", "web2", "evidence", "integrations",
		},
		"module_features": gin.H{
			"wallet": gin.H{
				"legacy_endpoints": s.EnableLegacyWallet,
				"faucet_throttles": true,
				"airdrop_tasks":    true,
			},
			"chat": gin.H{
				"e2ee_envelopes": true,
				"hash_chains":    true,
			},
			"integrations": gin.H{
				"0x":                integrationFeature(zeroEx),
				"jupiter":           integrationFeature(jupiter),
				"magic_eden_solana": "enabled",
				"payevm":            "disabled_not_implemented",
			},
		},
		"endpoints": []string{
			"/run", "/portal/v1/accounts", "/portal/v1/auth/challenge", "/portal/v1/auth/verify",
			"/wallet/v1/faucet", "/wallet/v1/transfer", "/wallet/v1/airdrop/claim",
			"/exchange/place_order", "/exchange/cancel_order", "/exchange/orderbook",
			"/marketplace/listing", "/marketplace/purchase", "/chat/send",
			"/web2/v1/request", "/evidence", "/export.zip", "/proof.zip",
		},
		"assets": assets.List(),
		"exchange_pairs": []gin.H{
			{"base": assets.ECHO, "quote": assets.NYXT, "status": "enabled"},
		},
	})
}

func (s *Server) handleDiscoveryFeed(c *gin.Context) {
	ctx := c.Request.Context()
	conn := s.Store.Conn()
	rooms, err := conn.ListChatRooms(ctx, 5, 0)
	if err != nil {
		writeErr(c, err)
		return
	}
	listings, err := conn.ListListings(ctx, store.ListingStatusActive, 5, 0)
	if err != nil {
		writeErr(c, err)
		return
	}
	feed := make([]gin.H, 0, len(rooms)+len(listings))
	for _, room := range rooms {
		feed = append(feed, gin.H{"type": "room", "data": room})
	}
	for _, listing := range listings {
		feed = append(feed, gin.H{"type": "listing", "data": listing})
	}
	c.JSON(http.StatusOK, gin.H{"feed": feed})
}
