package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nyxlabs/testnet-gateway/internal/apierr"
	"github.com/nyxlabs/testnet-gateway/internal/assets"
	"github.com/nyxlabs/testnet-gateway/internal/store"
)

func (s *Server) handlePlaceOrder(c *gin.Context) {
	s.executeAction(c, "exchange", "place_order")
}

func (s *Server) handleCancelOrder(c *gin.Context) {
	s.executeAction(c, "exchange", "cancel_order")
}

func orderQueryFilter(c *gin.Context) (store.OrderFilter, error) {
	var f store.OrderFilter

	if side := strings.ToUpper(strings.TrimSpace(c.Query("side"))); side != "" {
		if side != "BUY" && side != "SELL" {
			return f, apierr.ParamInvalid("side", "must be BUY or SELL")
		}
		f.Side = side
	}
	if assetIn := strings.ToUpper(strings.TrimSpace(c.Query("asset_in"))); assetIn != "" {
		if !assets.Supported(assetIn) {
			return f, apierr.ParamInvalid("asset_in", "unknown asset")
		}
		f.AssetIn = assetIn
	}
	if assetOut := strings.ToUpper(strings.TrimSpace(c.Query("asset_out"))); assetOut != "" {
		if !assets.Supported(assetOut) {
			return f, apierr.ParamInvalid("asset_out", "unknown asset")
		}
		f.AssetOut = assetOut
	}

	status := strings.ToLower(strings.TrimSpace(c.Query("status")))
	switch status {
	case "":
		f.Status = store.OrderStatusOpen
	case store.OrderStatusOpen, store.OrderStatusFilled, store.OrderStatusCancelled:
		f.Status = status
	case "all":
		f.Status = ""
	default:
		return f, apierr.ParamInvalid("status", "must be open, filled, cancelled or all")
	}

	limit, err := queryInt(c, "limit", 100, 1, 500)
	if err != nil {
		return f, err
	}
	offset, err := queryInt(c, "offset", 0, 0, 1<<31)
	if err != nil {
		return f, err
	}
	f.Limit = limit
	f.Offset = offset
	return f, nil
}

func (s *Server) handleListOrdersPublic(c *gin.Context) {
	filter, err := orderQueryFilter(c)
	if err != nil {
		writeErr(c, err)
		return
	}
	orders, err := s.Store.Conn().ListOrders(c.Request.Context(), filter)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) handleListTrades(c *gin.Context) {
	limit, err := queryInt(c, "limit", 100, 1, 500)
	if err != nil {
		writeErr(c, err)
		return
	}
	offset, err := queryInt(c, "offset", 0, 0, 1<<31)
	if err != nil {
		writeErr(c, err)
		return
	}
	trades, err := s.Store.Conn().ListTrades(c.Request.Context(), limit, offset)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

// handleOrderbook renders both sides of the book. Bids descend by price,
// asks ascend; ties break on order id so the view is stable.
func (s *Server) handleOrderbook(c *gin.Context) {
	ctx := c.Request.Context()
	conn := s.Store.Conn()

	buys, err := conn.ListOrders(ctx, store.OrderFilter{
		Side:    "BUY",
		Status:  store.OrderStatusOpen,
		OrderBy: "price DESC, order_id ASC",
		Limit:   100,
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	sells, err := conn.ListOrders(ctx, store.OrderFilter{
		Side:    "SELL",
		Status:  store.OrderStatusOpen,
		OrderBy: "price ASC, order_id ASC",
		Limit:   100,
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"buys": buys, "sells": sells})
}

func (s *Server) handleMyOrders(c *gin.Context) {
	filter, err := orderQueryFilter(c)
	if err != nil {
		writeErr(c, err)
		return
	}
	cl := caller(c)
	filter.Owner = cl.Wallet
	orders, err := s.Store.Conn().ListOrders(c.Request.Context(), filter)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": cl.Wallet, "orders": orders})
}

func (s *Server) handleMyTrades(c *gin.Context) {
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
	trades, err := s.Store.Conn().ListTradesByOwner(c.Request.Context(), cl.Wallet, limit, offset)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": cl.Wallet, "trades": trades})
}
