package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nyxlabs/testnet-gateway/internal/apierr"
	"github.com/nyxlabs/testnet-gateway/internal/assets"
	"github.com/nyxlabs/testnet-gateway/internal/gateway"
)

func (s *Server) handleFaucetV1(c *gin.Context) {
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
	cl := caller(c)
	if _, ok := payload["address"]; !ok {
		payload["address"] = cl.Wallet
	}
	res, err := s.Exec.ExecuteWalletFaucetV1(c.Request.Context(), seed, runID, payload, cl)
	if err != nil {
		writeErr(c, err)
		return
	}
	out := runResponse(res, cl.Wallet)
	out["address"] = cl.Wallet
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleTransferV1(c *gin.Context) {
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
	cl := caller(c)
	if _, ok := payload["from_address"]; !ok {
		payload["from_address"] = cl.Wallet
	}
	res, err := s.Exec.ExecuteWalletTransfer(c.Request.Context(), seed, runID, payload, cl, true)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, runResponse(res, cl.Wallet))
}

func (s *Server) handleAirdropClaim(c *gin.Context) {
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
	taskID, _ := payload["task_id"].(string)
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		writeErr(c, apierr.ParamRequired("task_id"))
		return
	}
	cl := caller(c)
	res, err := s.Exec.ExecuteAirdropClaim(c.Request.Context(), seed, runID, taskID, cl)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, runResponse(res, cl.Wallet))
}

func (s *Server) handleAirdropTasks(c *gin.Context) {
	cl := caller(c)
	tasks, err := s.Exec.AirdropTasks(c.Request.Context(), cl)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": cl.AccountID, "tasks": tasks})
}

// callerAddress resolves the address query parameter against the session
// wallet. Callers may only read their own rows.
func callerAddress(c *gin.Context, cl gateway.Caller) (string, error) {
	address := strings.TrimSpace(c.Query("address"))
	if address == "" {
		return cl.Wallet, nil
	}
	if address != cl.Wallet {
		return "", apierr.New(apierr.CodeAddressMismatch,
			"address does not match session wallet", http.StatusForbidden)
	}
	return address, nil
}

func (s *Server) handleBalances(c *gin.Context) {
	cl := caller(c)
	address, err := callerAddress(c, cl)
	if err != nil {
		writeErr(c, err)
		return
	}
	balances := gin.H{}
	for _, asset := range assets.List() {
		balance, err := s.Store.Conn().GetWalletBalance(c.Request.Context(), address, asset.AssetID)
		if err != nil {
			writeErr(c, err)
			return
		}
		balances[asset.AssetID] = balance
	}
	c.JSON(http.StatusOK, gin.H{"address": address, "balances": balances})
}

func (s *Server) handleTransfers(c *gin.Context) {
	cl := caller(c)
	address, err := callerAddress(c, cl)
	if err != nil {
		writeErr(c, err)
		return
	}
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
	transfers, err := s.Store.Conn().ListTransfersByAddress(c.Request.Context(), address, limit, offset)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": address, "transfers": transfers, "limit": limit, "offset": offset})
}

// handleLegacyBalance is the unauthenticated single-asset read kept for
// pre-portal clients.
func (s *Server) handleLegacyBalance(c *gin.Context) {
	address := strings.TrimSpace(c.Query("address"))
	if address == "" {
		writeErr(c, apierr.ParamRequired("address"))
		return
	}
	assetID := strings.TrimSpace(c.Query("asset_id"))
	if assetID == "" {
		assetID = assets.NYXT
	}
	if !assets.Supported(assetID) {
		writeErr(c, apierr.ParamInvalid("asset_id", "unknown asset"))
		return
	}
	balance, err := s.Store.Conn().GetWalletBalance(c.Request.Context(), address, assetID)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": address, "asset_id": assetID, "balance": balance})
}

// handleLegacyFaucet has no session and no throttles. It only exists
// behind the legacy wallet flag.
func (s *Server) handleLegacyFaucet(c *gin.Context) {
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
	cl := gateway.Caller{IP: c.ClientIP()}
	res, err := s.Exec.ExecuteWalletFaucet(c.Request.Context(), seed, runID, payload, cl)
	if err != nil {
		writeErr(c, err)
		return
	}
	payer, _ := payload["address"].(string)
	c.JSON(http.StatusOK, runResponse(res, payer))
}

func (s *Server) handleLegacyTransfer(c *gin.Context) {
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
	cl := gateway.Caller{IP: c.ClientIP()}
	res, err := s.Exec.ExecuteWalletTransfer(c.Request.Context(), seed, runID, payload, cl, false)
	if err != nil {
		writeErr(c, err)
		return
	}
	payer, _ := payload["from_address"].(string)
	c.JSON(http.StatusOK, runResponse(res, payer))
}
