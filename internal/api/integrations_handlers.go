package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nyxlabs/testnet-gateway/internal/integrations"
)

func (s *Server) handleZeroExQuote(c *gin.Context) {
	chainID, err := optionalQueryInt(c, "chain_id")
	if err != nil {
		writeErr(c, err)
		return
	}
	slippage, err := optionalQueryInt(c, "slippage_bps")
	if err != nil {
		writeErr(c, err)
		return
	}
	result, err := s.Integrations.Quote0x(integrations.ZeroExQuoteParams{
		Network:      strings.TrimSpace(c.Query("network")),
		ChainID:      chainID,
		SellToken:    strings.TrimSpace(c.Query("sell_token")),
		BuyToken:     strings.TrimSpace(c.Query("buy_token")),
		SellAmount:   strings.TrimSpace(c.Query("sell_amount")),
		BuyAmount:    strings.TrimSpace(c.Query("buy_amount")),
		TakerAddress: strings.TrimSpace(c.Query("taker_address")),
		SlippageBPS:  slippage,
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleJupiterQuote(c *gin.Context) {
	slippage, err := optionalQueryInt(c, "slippage_bps")
	if err != nil {
		writeErr(c, err)
		return
	}
	result, err := s.Integrations.QuoteJupiter(integrations.JupiterQuoteParams{
		InputMint:   strings.TrimSpace(c.Query("input_mint")),
		OutputMint:  strings.TrimSpace(c.Query("output_mint")),
		Amount:      strings.TrimSpace(c.Query("amount")),
		SlippageBPS: slippage,
		SwapMode:    strings.TrimSpace(c.Query("swap_mode")),
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleMagicEdenCollections(c *gin.Context) {
	limit, err := optionalQueryInt(c, "limit")
	if err != nil {
		writeErr(c, err)
		return
	}
	offset, err := optionalQueryInt(c, "offset")
	if err != nil {
		writeErr(c, err)
		return
	}
	result, err := s.Integrations.MagicEdenCollections(limit, offset)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleMagicEdenCollectionListings(c *gin.Context) {
	limit, err := optionalQueryInt(c, "limit")
	if err != nil {
		writeErr(c, err)
		return
	}
	offset, err := optionalQueryInt(c, "offset")
	if err != nil {
		writeErr(c, err)
		return
	}
	result, err := s.Integrations.MagicEdenCollectionListings(strings.TrimSpace(c.Query("symbol")), limit, offset)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleMagicEdenToken(c *gin.Context) {
	result, err := s.Integrations.MagicEdenToken(strings.TrimSpace(c.Query("mint")))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
