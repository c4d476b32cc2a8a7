package integrations

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nyxlabs/testnet-gateway/internal/apierr"
)

const (
	testEVMToken = "0x6B175474E89094C44Da98b954EedeAC495271d0F"
	testEVMTaker = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	testSolMint  = "So11111111111111111111111111111111111111112"
)

func stubFetch(captured *string, status int, body string) Fetch {
	return func(url string, headers map[string]string) (int, []byte, error) {
		if captured != nil {
			*captured = url
		}
		return status, []byte(body), nil
	}
}

func intPtr(v int64) *int64 { return &v }

func TestQuote0xDisabledWithoutKey(t *testing.T) {
	c := &Client{}
	_, err := c.Quote0x(ZeroExQuoteParams{})
	require.Error(t, err)
	require.Equal(t, apierr.CodeIntegrationDisabled, apierr.From(err).Code)
}

func TestQuote0xBuildsURL(t *testing.T) {
	var gotURL string
	c := &Client{ZeroExKey: "key", Do: stubFetch(&gotURL, 200, `{"price":"1"}`)}

	res, err := c.Quote0x(ZeroExQuoteParams{
		Network:      "base",
		SellToken:    testEVMToken,
		BuyToken:     testEVMTaker,
		SellAmount:   "1000",
		TakerAddress: testEVMTaker,
		SlippageBPS:  intPtr(50),
	})
	require.NoError(t, err)
	require.Equal(t, "0x", res.Provider)
	require.Equal(t, 200, res.Status)
	require.True(t, strings.HasPrefix(gotURL, "https://api.0x.org/swap/permit2/quote?"))
	require.Contains(t, gotURL, "chainId=8453")
	require.Contains(t, gotURL, "sellAmount=1000")
	require.Contains(t, gotURL, "slippagePercentage=0.005")
}

func TestQuote0xParamValidation(t *testing.T) {
	c := &Client{ZeroExKey: "key", Do: stubFetch(nil, 200, `{}`)}
	base := ZeroExQuoteParams{
		SellToken: testEVMToken, BuyToken: testEVMTaker,
		SellAmount: "10", TakerAddress: testEVMTaker,
	}

	p := base
	p.Network = "dogechain"
	_, err := c.Quote0x(p)
	require.Error(t, err)

	p = base
	p.Network = "ethereum"
	p.ChainID = intPtr(137)
	_, err = c.Quote0x(p)
	require.Error(t, err)

	p = base
	p.SellToken = "not-an-address"
	_, err = c.Quote0x(p)
	require.Error(t, err)

	p = base
	p.BuyAmount = "20"
	_, err = c.Quote0x(p)
	require.Error(t, err)

	p = base
	p.SellAmount = ""
	_, err = c.Quote0x(p)
	require.Error(t, err)

	p = base
	p.SellAmount = "1.5"
	_, err = c.Quote0x(p)
	require.Error(t, err)

	p = base
	p.TakerAddress = "0x000000000000000000000000000000000000ffff"
	_, err = c.Quote0x(p)
	require.Error(t, err)

	p = base
	p.SlippageBPS = intPtr(10_001)
	_, err = c.Quote0x(p)
	require.Error(t, err)
}

func TestQuoteJupiterBuildsURL(t *testing.T) {
	var gotURL string
	c := &Client{JupiterKey: "key", Do: stubFetch(&gotURL, 200, `{"outAmount":"9"}`)}

	res, err := c.QuoteJupiter(JupiterQuoteParams{
		InputMint:   testSolMint,
		OutputMint:  testSolMint,
		Amount:      "1000000",
		SlippageBPS: intPtr(25),
		SwapMode:    "ExactIn",
	})
	require.NoError(t, err)
	require.Equal(t, "jupiter", res.Provider)
	require.True(t, strings.HasPrefix(gotURL, "https://api.jup.ag/swap/v1/quote?"))
	require.Contains(t, gotURL, "slippageBps=25")
	require.Contains(t, gotURL, "swapMode=ExactIn")
}

func TestQuoteJupiterValidation(t *testing.T) {
	c := &Client{JupiterKey: "key", Do: stubFetch(nil, 200, `{}`)}

	_, err := c.QuoteJupiter(JupiterQuoteParams{InputMint: "0OIl", OutputMint: testSolMint, Amount: "1"})
	require.Error(t, err)

	_, err = c.QuoteJupiter(JupiterQuoteParams{InputMint: testSolMint, OutputMint: testSolMint, Amount: "1.5"})
	require.Error(t, err)

	disabled := &Client{}
	_, err = disabled.QuoteJupiter(JupiterQuoteParams{InputMint: testSolMint, OutputMint: testSolMint, Amount: "1"})
	require.Equal(t, apierr.CodeIntegrationDisabled, apierr.From(err).Code)
}

func TestMagicEdenEndpoints(t *testing.T) {
	var gotURL string
	c := &Client{MagicEdenKey: "me-key-123", Do: stubFetch(&gotURL, 200, `[{"symbol":"degods"}]`)}

	res, err := c.MagicEdenCollections(intPtr(10), intPtr(20))
	require.NoError(t, err)
	require.Equal(t, "collections", res.Endpoint)
	require.Contains(t, gotURL, "/v2/collections?limit=10&offset=20")

	_, err = c.MagicEdenCollectionListings("degods", nil, nil)
	require.NoError(t, err)
	require.Contains(t, gotURL, "/v2/collections/degods/listings")

	_, err = c.MagicEdenCollectionListings("bad symbol!", nil, nil)
	require.Error(t, err)

	_, err = c.MagicEdenCollections(intPtr(500), nil)
	require.Error(t, err)

	_, err = c.MagicEdenToken(testSolMint)
	require.NoError(t, err)
	require.Contains(t, gotURL, "/v2/tokens/"+testSolMint)
}

func TestUpstreamErrorMapping(t *testing.T) {
	c := &Client{JupiterKey: "key"}
	params := JupiterQuoteParams{InputMint: testSolMint, OutputMint: testSolMint, Amount: "1"}

	c.Do = stubFetch(nil, 429, `{"error":"rate limited"}`)
	_, err := c.QuoteJupiter(params)
	apiErr := apierr.From(err)
	require.Equal(t, apierr.CodeUpstreamHTTPError, apiErr.Code)
	require.Equal(t, http.StatusBadGateway, apiErr.Status)
	require.Equal(t, 429, apiErr.Details["status"])

	c.Do = stubFetch(nil, 200, `not json`)
	_, err = c.QuoteJupiter(params)
	require.Equal(t, apierr.CodeUpstreamBadJSON, apierr.From(err).Code)

	c.Do = stubFetch(nil, 200, `[1,2,3]`)
	_, err = c.QuoteJupiter(params)
	require.Equal(t, apierr.CodeUpstreamBadJSON, apierr.From(err).Code)

	c.Do = stubFetch(nil, 200, strings.Repeat("x", maxUpstreamBytes+1))
	_, err = c.QuoteJupiter(params)
	require.Equal(t, apierr.CodeUpstreamResponseTooLarge, apierr.From(err).Code)
}
