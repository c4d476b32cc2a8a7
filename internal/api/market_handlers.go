package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nyxlabs/testnet-gateway/internal/apierr"
	"github.com/nyxlabs/testnet-gateway/internal/gateway"
	"github.com/nyxlabs/testnet-gateway/internal/store"
)

func (s *Server) handlePublishListing(c *gin.Context) {
	s.executeAction(c, "marketplace", "listing_publish")
}

func (s *Server) handlePurchaseListing(c *gin.Context) {
	s.executeAction(c, "marketplace", "purchase_listing")
}

func (s *Server) handleListings(c *gin.Context) {
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
	listings, err := s.Store.Conn().ListListings(c.Request.Context(), store.ListingStatusActive, limit, offset)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": listings})
}

func (s *Server) handleListingSearch(c *gin.Context) {
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
	listings, err := s.Store.Conn().SearchListings(c.Request.Context(), q, limit)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": listings, "q": q})
}

func (s *Server) handlePurchases(c *gin.Context) {
	listingID := strings.TrimSpace(c.Query("listing_id"))
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
	purchases, err := s.Store.Conn().ListPurchases(c.Request.Context(), listingID, limit, offset)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"purchases": purchases})
}

func (s *Server) handleMyPurchases(c *gin.Context) {
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
	purchases, err := s.Store.Conn().ListPurchasesByBuyer(c.Request.Context(), cl.Wallet, limit, offset)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"buyer_id": cl.Wallet, "purchases": purchases})
}

func (s *Server) handleEntertainmentStep(c *gin.Context) {
	s.executeAction(c, "entertainment", "state_step")
}

func (s *Server) handleEntertainmentItems(c *gin.Context) {
	ctx := c.Request.Context()
	conn := s.Store.Conn()
	if err := gateway.EnsureEntertainmentItems(ctx, conn); err != nil {
		writeErr(c, err)
		return
	}
	items, err := conn.ListEntertainmentItems(ctx)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) handleEntertainmentEvents(c *gin.Context) {
	itemID := strings.TrimSpace(c.Query("item_id"))
	limit, err := queryInt(c, "limit", 50, 1, 500)
	if err != nil {
		writeErr(c, err)
		return
	}
	events, err := s.Store.Conn().ListEntertainmentEvents(c.Request.Context(), itemID, limit)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
