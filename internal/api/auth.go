package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nyxlabs/testnet-gateway/internal/apierr"
	"github.com/nyxlabs/testnet-gateway/internal/gateway"
	"github.com/nyxlabs/testnet-gateway/internal/ident"
	"github.com/nyxlabs/testnet-gateway/internal/store"
)

const (
	ctxCaller  = "caller"
	ctxSession = "session"
)

// requireSession validates the bearer token against the portal session
// store and attaches the caller identity to the request context. The
// per-account window is enforced here so only authenticated traffic
// burns it.
func (s *Server) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			writeErr(c, apierr.AuthRequired())
			c.Abort()
			return
		}
		token := strings.TrimSpace(parts[1])

		session, err := s.Portal.RequireSession(c.Request.Context(), s.Store.Conn(), token)
		if err != nil {
			writeErr(c, err)
			c.Abort()
			return
		}
		if s.accountLimiter != nil && !s.accountLimiter.Allow(session.AccountID) {
			writeErr(c, apierr.New(apierr.CodeAccountRateLimit,
				"account rate limit exceeded", http.StatusTooManyRequests))
			c.Abort()
			return
		}

		c.Set(ctxSession, session)
		c.Set(ctxCaller, gateway.Caller{
			AccountID: session.AccountID,
			Wallet:    ident.WalletAddress(session.AccountID),
			IP:        c.ClientIP(),
		})
		c.Next()
	}
}

func caller(c *gin.Context) gateway.Caller {
	value, ok := c.Get(ctxCaller)
	if !ok {
		return gateway.Caller{IP: c.ClientIP()}
	}
	cl, _ := value.(gateway.Caller)
	return cl
}

func session(c *gin.Context) *store.PortalSession {
	value, ok := c.Get(ctxSession)
	if !ok {
		return nil
	}
	sess, _ := value.(*store.PortalSession)
	return sess
}
