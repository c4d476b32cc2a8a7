// Package integrations holds the read-only passthrough clients for the
// external swap and NFT market APIs. Every parameter is shape-checked
// before it reaches a URL, responses are size-capped, and upstream
// failures map to the UPSTREAM_* error codes.
package integrations

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/nyxlabs/testnet-gateway/internal/apierr"
)

const (
	defaultTimeout   = 10 * time.Second
	maxUpstreamBytes = 250_000
	maxSnippetLen    = 4000

	userAgent = "NYXGateway/2.0"
)

var (
	evmAddressRE = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	solMintRE    = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,64}$`)
	wordRE       = regexp.MustCompile(`^[A-Za-z0-9_-]{1,256}$`)
	meSymbolRE   = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	digitsRE     = regexp.MustCompile(`^[0-9]+$`)
)

// Fetch performs one upstream GET. Test hook.
type Fetch func(url string, headers map[string]string) (int, []byte, error)

// Client bundles the API keys and transport for all passthroughs.
type Client struct {
	ZeroExKey    string
	JupiterKey   string
	MagicEdenKey string

	Do Fetch
}

// Result is the normalized passthrough response.
type Result struct {
	Provider string            `json:"provider"`
	Network  string            `json:"network,omitempty"`
	Endpoint string            `json:"endpoint,omitempty"`
	Request  map[string]string `json:"request,omitempty"`
	Status   int               `json:"status"`
	Data     any               `json:"data"`
}

func (c *Client) fetch(rawURL string, headers map[string]string) (int, []byte, error) {
	if c.Do != nil {
		return c.Do(rawURL, headers)
	}
	client := &http.Client{Timeout: defaultTimeout}
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, nil, err
	}
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBytes+1))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, raw, nil
}

func safeSnippet(raw []byte) string {
	text := strings.NewReplacer("\n", `\n`, "\r", `\r`).Replace(string(raw))
	if len(text) > maxSnippetLen {
		return text[:maxSnippetLen] + "…"
	}
	return text
}

// getJSON fetches the URL and decodes the body. When requireObject is
// set, a non-object top-level value is an UPSTREAM_BAD_JSON failure.
func (c *Client) getJSON(rawURL string, headers map[string]string, requireObject bool) (int, any, error) {
	status, raw, err := c.fetch(rawURL, headers)
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return 0, nil, apierr.New(apierr.CodeUpstreamTimeout, "upstream timeout", http.StatusGatewayTimeout)
		}
		return 0, nil, apierr.New(apierr.CodeUpstreamUnavailable, "upstream unavailable", http.StatusBadGateway)
	}
	if len(raw) > maxUpstreamBytes {
		return 0, nil, apierr.New(apierr.CodeUpstreamResponseTooLarge, "upstream response too large", http.StatusBadGateway).
			WithDetails(map[string]any{"limit_bytes": maxUpstreamBytes})
	}
	if status >= 400 {
		return 0, nil, apierr.New(apierr.CodeUpstreamHTTPError, "upstream http error "+strconv.Itoa(status), http.StatusBadGateway).
			WithDetails(map[string]any{"status": status, "body": safeSnippet(raw)})
	}
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return 0, nil, apierr.New(apierr.CodeUpstreamBadJSON, "upstream returned invalid json", http.StatusBadGateway).
			WithDetails(map[string]any{"status": status, "body": safeSnippet(raw)})
	}
	if requireObject {
		if _, ok := parsed.(map[string]any); !ok {
			return 0, nil, apierr.New(apierr.CodeUpstreamBadJSON, "upstream returned non-object json", http.StatusBadGateway).
				WithDetails(map[string]any{"status": status})
		}
	}
	return status, parsed, nil
}

func requireParam(value, name string, pattern *regexp.Regexp) (string, error) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return "", apierr.ParamRequired(name)
	}
	if len(raw) > 256 {
		return "", apierr.ParamInvalid(name, "too long")
	}
	if pattern != nil && !pattern.MatchString(raw) {
		return "", apierr.ParamInvalid(name, "invalid")
	}
	return raw, nil
}

func boundedOptional(value *int64, name string, min, max int64) (*int64, error) {
	if value == nil {
		return nil, nil
	}
	if *value < min || *value > max {
		return nil, apierr.ParamInvalid(name, "out of bounds")
	}
	return value, nil
}

var zeroExChainByNetwork = map[string]int64{
	"ethereum":  1,
	"mainnet":   1,
	"polygon":   137,
	"optimism":  10,
	"arbitrum":  42161,
	"base":      8453,
	"bsc":       56,
	"avalanche": 43114,
}

var zeroExChains = map[int64]bool{
	1: true, 10: true, 56: true, 137: true, 42161: true, 8453: true, 43114: true,
}

// ZeroExQuoteParams are the validated inputs to the 0x permit2 quote.
type ZeroExQuoteParams struct {
	Network      string
	ChainID      *int64
	SellToken    string
	BuyToken     string
	SellAmount   string
	BuyAmount    string
	TakerAddress string
	SlippageBPS  *int64
}

// Quote0x proxies a swap quote through the 0x v2 API.
func (c *Client) Quote0x(p ZeroExQuoteParams) (*Result, error) {
	if c.ZeroExKey == "" {
		return nil, apierr.New(apierr.CodeIntegrationDisabled, "0x integration disabled (missing api key)", http.StatusServiceUnavailable)
	}

	chainID := p.ChainID
	network := strings.ToLower(strings.TrimSpace(p.Network))
	if network != "" {
		inferred, ok := zeroExChainByNetwork[network]
		if !ok {
			return nil, apierr.ParamInvalid("network", "not supported")
		}
		if chainID == nil {
			chainID = &inferred
		} else if *chainID != inferred {
			return nil, apierr.ParamInvalid("chain_id", "network and chain_id mismatch")
		}
	}
	if chainID == nil {
		one := int64(1)
		chainID = &one
	}
	if !zeroExChains[*chainID] {
		return nil, apierr.ParamInvalid("chain_id", "not supported")
	}

	sellToken, err := requireParam(p.SellToken, "sell_token", evmAddressRE)
	if err != nil {
		return nil, err
	}
	buyToken, err := requireParam(p.BuyToken, "buy_token", evmAddressRE)
	if err != nil {
		return nil, err
	}

	sellAmount := strings.TrimSpace(p.SellAmount)
	buyAmount := strings.TrimSpace(p.BuyAmount)
	if sellAmount == "" && buyAmount == "" {
		return nil, apierr.ParamRequired("sell_amount|buy_amount")
	}
	if sellAmount != "" && buyAmount != "" {
		return nil, apierr.ParamInvalid("sell_amount|buy_amount", "provide only one")
	}
	if sellAmount != "" && !digitsRE.MatchString(sellAmount) {
		return nil, apierr.ParamInvalid("sell_amount", "must be integer string")
	}
	if buyAmount != "" && !digitsRE.MatchString(buyAmount) {
		return nil, apierr.ParamInvalid("buy_amount", "must be integer string")
	}

	taker, err := requireParam(p.TakerAddress, "taker_address", evmAddressRE)
	if err != nil {
		return nil, err
	}
	// 0x v2 rejects precompile-range takers; check the significant hex
	// digits instead of parsing 160 bits.
	if len(strings.TrimLeft(taker[2:], "0")) <= 4 {
		return nil, apierr.ParamInvalid("taker_address", "too low")
	}

	params := url.Values{}
	params.Set("chainId", strconv.FormatInt(*chainID, 10))
	params.Set("sellToken", sellToken)
	params.Set("buyToken", buyToken)
	params.Set("taker", taker)
	request := map[string]string{
		"chainId": strconv.FormatInt(*chainID, 10), "sellToken": sellToken,
		"buyToken": buyToken, "taker": taker,
	}
	if sellAmount != "" {
		params.Set("sellAmount", sellAmount)
		request["sellAmount"] = sellAmount
	}
	if buyAmount != "" {
		params.Set("buyAmount", buyAmount)
		request["buyAmount"] = buyAmount
	}
	if slip, err := boundedOptional(p.SlippageBPS, "slippage_bps", 0, 10_000); err != nil {
		return nil, err
	} else if slip != nil {
		pct := strconv.FormatFloat(float64(*slip)/10_000, 'f', 6, 64)
		pct = strings.TrimRight(strings.TrimRight(pct, "0"), ".")
		params.Set("slippagePercentage", pct)
		request["slippagePercentage"] = pct
	}

	status, data, err := c.getJSON("https://api.0x.org/swap/permit2/quote?"+params.Encode(), map[string]string{
		"Accept":     "application/json",
		"0x-api-key": c.ZeroExKey,
		"0x-version": "v2",
		"User-Agent": userAgent,
	}, true)
	if err != nil {
		return nil, err
	}
	return &Result{Provider: "0x", Request: request, Status: status, Data: data}, nil
}

// JupiterQuoteParams are the validated inputs to the Jupiter quote.
type JupiterQuoteParams struct {
	InputMint   string
	OutputMint  string
	Amount      string
	SlippageBPS *int64
	SwapMode    string
}

// QuoteJupiter proxies a swap quote through the Jupiter v1 API.
func (c *Client) QuoteJupiter(p JupiterQuoteParams) (*Result, error) {
	if c.JupiterKey == "" {
		return nil, apierr.New(apierr.CodeIntegrationDisabled, "jupiter integration disabled (missing api key)", http.StatusServiceUnavailable)
	}
	inputMint, err := requireParam(p.InputMint, "input_mint", solMintRE)
	if err != nil {
		return nil, err
	}
	outputMint, err := requireParam(p.OutputMint, "output_mint", solMintRE)
	if err != nil {
		return nil, err
	}
	amount, err := requireParam(p.Amount, "amount", wordRE)
	if err != nil {
		return nil, err
	}
	if !digitsRE.MatchString(amount) {
		return nil, apierr.ParamInvalid("amount", "must be integer string")
	}

	params := url.Values{}
	params.Set("inputMint", inputMint)
	params.Set("outputMint", outputMint)
	params.Set("amount", amount)
	request := map[string]string{"inputMint": inputMint, "outputMint": outputMint, "amount": amount}
	if slip, err := boundedOptional(p.SlippageBPS, "slippage_bps", 0, 10_000); err != nil {
		return nil, err
	} else if slip != nil {
		params.Set("slippageBps", strconv.FormatInt(*slip, 10))
		request["slippageBps"] = strconv.FormatInt(*slip, 10)
	}
	if mode := strings.TrimSpace(p.SwapMode); mode != "" {
		if !wordRE.MatchString(mode) {
			return nil, apierr.ParamInvalid("swap_mode", "invalid")
		}
		params.Set("swapMode", mode)
		request["swapMode"] = mode
	}

	status, data, err := c.getJSON("https://api.jup.ag/swap/v1/quote?"+params.Encode(), map[string]string{
		"Accept":     "application/json",
		"x-api-key":  c.JupiterKey,
		"User-Agent": userAgent,
	}, true)
	if err != nil {
		return nil, err
	}
	return &Result{Provider: "jupiter", Request: request, Status: status, Data: data}, nil
}

func (c *Client) magicEdenHeaders() map[string]string {
	headers := map[string]string{
		"Accept":     "application/json",
		"User-Agent": userAgent,
	}
	if c.MagicEdenKey != "" {
		headers["Authorization"] = c.MagicEdenKey
	}
	return headers
}

func pageQuery(limit, offset *int64) (string, error) {
	if _, err := boundedOptional(limit, "limit", 1, 200); err != nil {
		return "", err
	}
	if _, err := boundedOptional(offset, "offset", 0, 1_000_000); err != nil {
		return "", err
	}
	params := url.Values{}
	if limit != nil {
		params.Set("limit", strconv.FormatInt(*limit, 10))
	}
	if offset != nil {
		params.Set("offset", strconv.FormatInt(*offset, 10))
	}
	if len(params) == 0 {
		return "", nil
	}
	return "?" + params.Encode(), nil
}

// MagicEdenCollections lists Solana collections. The key is optional
// here; Magic Eden rate-limits anonymous callers harder.
func (c *Client) MagicEdenCollections(limit, offset *int64) (*Result, error) {
	query, err := pageQuery(limit, offset)
	if err != nil {
		return nil, err
	}
	status, data, err := c.getJSON("https://api-mainnet.magiceden.dev/v2/collections"+query, c.magicEdenHeaders(), false)
	if err != nil {
		return nil, err
	}
	return &Result{Provider: "magic_eden", Network: "solana", Endpoint: "collections", Status: status, Data: data}, nil
}

// MagicEdenCollectionListings lists active listings for one collection.
func (c *Client) MagicEdenCollectionListings(symbol string, limit, offset *int64) (*Result, error) {
	symbol, err := requireParam(symbol, "symbol", meSymbolRE)
	if err != nil {
		return nil, err
	}
	query, err := pageQuery(limit, offset)
	if err != nil {
		return nil, err
	}
	status, data, err := c.getJSON("https://api-mainnet.magiceden.dev/v2/collections/"+symbol+"/listings"+query, c.magicEdenHeaders(), false)
	if err != nil {
		return nil, err
	}
	return &Result{
		Provider: "magic_eden", Network: "solana", Endpoint: "collection_listings",
		Request: map[string]string{"symbol": symbol}, Status: status, Data: data,
	}, nil
}

// MagicEdenToken fetches one token by mint.
func (c *Client) MagicEdenToken(mint string) (*Result, error) {
	mint, err := requireParam(mint, "mint", solMintRE)
	if err != nil {
		return nil, err
	}
	status, data, err := c.getJSON("https://api-mainnet.magiceden.dev/v2/tokens/"+mint, c.magicEdenHeaders(), false)
	if err != nil {
		return nil, err
	}
	return &Result{
		Provider: "magic_eden", Network: "solana", Endpoint: "token",
		Request: map[string]string{"mint": mint}, Status: status, Data: data,
	}, nil
}
