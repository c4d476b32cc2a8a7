package gateway

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/nyxlabs/testnet-gateway/internal/apierr"
	"github.com/nyxlabs/testnet-gateway/internal/assets"
	"github.com/nyxlabs/testnet-gateway/internal/portal"
)

const (
	maxAmount  = 1_000_000
	maxPrice   = 1_000_000
	maxSKULen  = 64
	maxTitle   = 128
	maxChatMsg = 2048
)

var addressRE = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

var entertainmentModes = map[string]bool{"pulse": true, "drift": true, "scan": true}

// payloadText reads a required string field, trimmed and bounded.
func payloadText(payload map[string]any, key string, maxLen int) (string, error) {
	raw, ok := payload[key]
	if !ok {
		return "", apierr.ParamRequired(key)
	}
	value, ok := raw.(string)
	if !ok {
		return "", apierr.ParamRequired(key)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", apierr.ParamRequired(key)
	}
	if len(value) > maxLen {
		return "", apierr.ParamInvalid(key, "too long")
	}
	return value, nil
}

// payloadAddress reads a required address-shaped field.
func payloadAddress(payload map[string]any, key string) (string, error) {
	value, err := payloadText(payload, key, 64)
	if err != nil {
		return "", err
	}
	if !addressRE.MatchString(value) {
		return "", apierr.ParamInvalid(key, "invalid")
	}
	return value, nil
}

// payloadInt reads a required integer field. JSON numbers arrive as
// float64 or json.Number; fractions and bools are rejected.
func payloadInt(payload map[string]any, key string, min, max int64) (int64, error) {
	raw, ok := payload[key]
	if !ok {
		return 0, apierr.ParamRequired(key)
	}
	var value int64
	switch v := raw.(type) {
	case int64:
		value = v
	case int:
		value = int64(v)
	case float64:
		value = int64(v)
		if float64(value) != v {
			return 0, apierr.ParamInvalid(key, "must be int")
		}
	case json.Number:
		parsed, err := v.Int64()
		if err != nil {
			return 0, apierr.ParamInvalid(key, "must be int")
		}
		value = parsed
	default:
		return 0, apierr.ParamInvalid(key, "must be int")
	}
	if value < min || value > max {
		return 0, apierr.ParamInvalid(key, "out of bounds")
	}
	return value, nil
}

// payloadAssetID reads the asset field, defaulting to NYXT.
func payloadAssetID(payload map[string]any, key string) (string, error) {
	raw, ok := payload[key]
	if !ok || raw == nil {
		return assets.NYXT, nil
	}
	value, ok := raw.(string)
	if !ok || strings.TrimSpace(value) == "" {
		return "", apierr.ParamInvalid(key, "invalid")
	}
	assetID := strings.ToUpper(strings.TrimSpace(value))
	if !assets.Supported(assetID) {
		return "", apierr.ParamInvalid(key, "unsupported")
	}
	return assetID, nil
}

type placeOrderPayload struct {
	OwnerAddress string
	Side         string
	AssetIn      string
	AssetOut     string
	Amount       int64
	Price        int64
}

func validatePlaceOrder(payload map[string]any) (*placeOrderPayload, error) {
	side, err := payloadText(payload, "side", 8)
	if err != nil {
		return nil, err
	}
	side = strings.ToUpper(side)
	if side != "BUY" && side != "SELL" {
		return nil, apierr.ParamInvalid("side", "must be BUY or SELL")
	}
	assetIn, err := payloadAssetID(payload, "asset_in")
	if err != nil {
		return nil, err
	}
	assetOut, err := payloadAssetID(payload, "asset_out")
	if err != nil {
		return nil, err
	}
	if assetIn == assetOut {
		return nil, apierr.ParamInvalid("asset_out", "must differ from asset_in")
	}
	owner, err := payloadAddress(payload, "owner_address")
	if err != nil {
		return nil, err
	}
	amount, err := payloadInt(payload, "amount", 1, maxAmount)
	if err != nil {
		return nil, err
	}
	price, err := payloadInt(payload, "price", 1, maxPrice)
	if err != nil {
		return nil, err
	}
	return &placeOrderPayload{
		OwnerAddress: owner, Side: side,
		AssetIn: assetIn, AssetOut: assetOut,
		Amount: amount, Price: price,
	}, nil
}

func validateCancel(payload map[string]any) (string, error) {
	return payloadText(payload, "order_id", 128)
}

type routeSwapPayload struct {
	AssetIn  string
	AssetOut string
	Amount   int64
	MinOut   int64
}

func validateRouteSwap(payload map[string]any) (*routeSwapPayload, error) {
	assetIn, err := payloadAssetID(payload, "asset_in")
	if err != nil {
		return nil, err
	}
	assetOut, err := payloadAssetID(payload, "asset_out")
	if err != nil {
		return nil, err
	}
	amount, err := payloadInt(payload, "amount", 1, maxAmount)
	if err != nil {
		return nil, err
	}
	minOut, err := payloadInt(payload, "min_out", 1, maxPrice)
	if err != nil {
		return nil, err
	}
	return &routeSwapPayload{AssetIn: assetIn, AssetOut: assetOut, Amount: amount, MinOut: minOut}, nil
}

type chatPayload struct {
	Channel string
	Message string
}

func validateChat(payload map[string]any) (*chatPayload, error) {
	channel, err := payloadText(payload, "channel", 64)
	if err != nil {
		return nil, err
	}
	rawMessage, ok := payload["message"].(string)
	if !ok || rawMessage == "" {
		return nil, apierr.ParamRequired("message")
	}
	if err := portal.ValidateCiphertextEnvelope(rawMessage, maxChatMsg); err != nil {
		return nil, err
	}
	return &chatPayload{Channel: channel, Message: rawMessage}, nil
}

type listingPayload struct {
	PublisherID string
	SKU         string
	Title       string
	Price       int64
}

func validateListing(payload map[string]any) (*listingPayload, error) {
	publisher, err := payloadAddress(payload, "publisher_id")
	if err != nil {
		return nil, err
	}
	sku, err := payloadText(payload, "sku", maxSKULen)
	if err != nil {
		return nil, err
	}
	title, err := payloadText(payload, "title", maxTitle)
	if err != nil {
		return nil, err
	}
	price, err := payloadInt(payload, "price", 1, maxAmount)
	if err != nil {
		return nil, err
	}
	return &listingPayload{PublisherID: publisher, SKU: sku, Title: title, Price: price}, nil
}

type purchasePayload struct {
	BuyerID   string
	ListingID string
	Qty       int64
}

func validatePurchase(payload map[string]any) (*purchasePayload, error) {
	buyer, err := payloadAddress(payload, "buyer_id")
	if err != nil {
		return nil, err
	}
	listingID, err := payloadText(payload, "listing_id", 128)
	if err != nil {
		return nil, err
	}
	qty, err := payloadInt(payload, "qty", 1, 100)
	if err != nil {
		return nil, err
	}
	return &purchasePayload{BuyerID: buyer, ListingID: listingID, Qty: qty}, nil
}

type entertainmentPayload struct {
	ItemID string
	Mode   string
	Step   int64
}

func validateEntertainment(payload map[string]any) (*entertainmentPayload, error) {
	itemID, err := payloadText(payload, "item_id", 32)
	if err != nil {
		return nil, err
	}
	mode, err := payloadText(payload, "mode", 32)
	if err != nil {
		return nil, err
	}
	if !entertainmentModes[mode] {
		return nil, apierr.ParamInvalid("mode", "not allowed")
	}
	step, err := payloadInt(payload, "step", 0, 20)
	if err != nil {
		return nil, err
	}
	return &entertainmentPayload{ItemID: itemID, Mode: mode, Step: step}, nil
}

type walletTransferPayload struct {
	FromAddress string
	ToAddress   string
	Amount      int64
	AssetID     string
}

func validateWalletTransfer(payload map[string]any) (*walletTransferPayload, error) {
	from, err := payloadAddress(payload, "from_address")
	if err != nil {
		return nil, err
	}
	to, err := payloadAddress(payload, "to_address")
	if err != nil {
		return nil, err
	}
	if from == to {
		return nil, apierr.ParamInvalid("to_address", "must differ from from_address")
	}
	amount, err := payloadInt(payload, "amount", 1, maxAmount)
	if err != nil {
		return nil, err
	}
	assetID, err := payloadAssetID(payload, "asset_id")
	if err != nil {
		return nil, err
	}
	return &walletTransferPayload{FromAddress: from, ToAddress: to, Amount: amount, AssetID: assetID}, nil
}

type walletFaucetPayload struct {
	Address string
	Amount  int64
	AssetID string
}

func validateWalletFaucet(payload map[string]any) (*walletFaucetPayload, error) {
	address, err := payloadAddress(payload, "address")
	if err != nil {
		return nil, err
	}
	amount, err := payloadInt(payload, "amount", 1, 10_000)
	if err != nil {
		return nil, err
	}
	assetID, err := payloadAssetID(payload, "asset_id")
	if err != nil {
		return nil, err
	}
	return &walletFaucetPayload{Address: address, Amount: amount, AssetID: assetID}, nil
}
