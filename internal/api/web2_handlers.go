package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nyxlabs/testnet-gateway/internal/web2"
)

func (s *Server) handleWeb2Allowlist(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"allowlist": s.Guard.Allowlist})
}

// handleWeb2Request proxies one guarded egress call. The handler owns the
// transaction; the guard writes its evidence rows inside it.
func (s *Server) handleWeb2Request(c *gin.Context) {
	body, err := parseBody(c)
	if err != nil {
		writeErr(c, err)
		return
	}
	seed, runID, payload, err := mutationEnvelope(body)
	if err != nil {
		writeErr(c, err)
		return
	}
	req := web2.Request{}
	req.URL, _ = payload["url"].(string)
	req.Method, _ = payload["method"].(string)
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	req.Body, _ = payload["body"].(string)
	req.SealedRequest, _ = payload["sealed_request"].(string)

	ctx := c.Request.Context()
	tx, err := s.Store.Begin(ctx)
	if err != nil {
		writeErr(c, err)
		return
	}
	defer tx.Rollback()

	cl := caller(c)
	result, err := s.Guard.Execute(ctx, &tx.Conn, seed, runID, req, cl.Wallet)
	if err != nil {
		writeErr(c, err)
		return
	}
	if err := tx.Commit(); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleWeb2Requests(c *gin.Context) {
	limit, err := queryInt(c, "limit", 50, 1, 500)
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
	requests, err := s.Store.Conn().ListWeb2GuardRequests(c.Request.Context(), cl.Wallet, limit, offset)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": requests, "limit": limit, "offset": offset})
}
