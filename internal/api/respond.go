package api

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nyxlabs/testnet-gateway/internal/apierr"
	"github.com/nyxlabs/testnet-gateway/internal/gateway"
)

var runIDRE = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// writeErr renders the error envelope. Anything outside the apierr
// taxonomy is a programming or storage failure and becomes a sanitized
// 500.
func writeErr(c *gin.Context, err error) {
	if apiErr := apierr.From(err); apiErr != nil {
		body := gin.H{"code": apiErr.Code, "message": apiErr.Message}
		if len(apiErr.Details) > 0 {
			body["details"] = apiErr.Details
		}
		c.JSON(apiErr.Status, gin.H{"error": body})
		return
	}
	log.Printf("internal error on %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": gin.H{"code": apierr.CodeInternal, "message": "internal error"},
	})
}

// parseBody reads and decodes a JSON object body, bounded at
// maxBodyBytes. An empty body decodes to an empty object.
func parseBody(c *gin.Context) (map[string]any, error) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
	if err != nil {
		return nil, apierr.BadRequest("body read failed")
	}
	if len(raw) > maxBodyBytes {
		return nil, apierr.New(apierr.CodeBadRequest, "payload too large", http.StatusRequestEntityTooLarge)
	}
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	body := map[string]any{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, apierr.BadRequest("invalid json body")
	}
	return body, nil
}

// mutationEnvelope pulls {seed, run_id, payload} out of a mutating
// request body. Without an explicit payload object, the remaining body
// keys become the payload.
func mutationEnvelope(body map[string]any) (int64, string, map[string]any, error) {
	rawSeed, ok := body["seed"]
	if !ok {
		return 0, "", nil, apierr.ParamRequired("seed")
	}
	var seed int64
	switch v := rawSeed.(type) {
	case float64:
		seed = int64(v)
		if float64(seed) != v {
			return 0, "", nil, apierr.ParamInvalid("seed", "must be int")
		}
	case json.Number:
		parsed, err := v.Int64()
		if err != nil {
			return 0, "", nil, apierr.ParamInvalid("seed", "must be int")
		}
		seed = parsed
	default:
		return 0, "", nil, apierr.ParamInvalid("seed", "must be int")
	}

	runID, _ := body["run_id"].(string)
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return 0, "", nil, apierr.ParamRequired("run_id")
	}
	if !runIDRE.MatchString(runID) {
		return 0, "", nil, apierr.ParamInvalid("run_id", "invalid")
	}

	payload, ok := body["payload"].(map[string]any)
	if !ok {
		payload = make(map[string]any, len(body))
		for key, value := range body {
			if key == "seed" || key == "run_id" || key == "payload" {
				continue
			}
			payload[key] = value
		}
	}
	return seed, runID, payload, nil
}

// runResponse renders one executed run. The fee summary fields appear
// only on fee-bearing actions.
func runResponse(res *gateway.Result, payer string) gin.H {
	out := gin.H{
		"run_id":         res.RunID,
		"status":         "complete",
		"state_hash":     res.StateHash,
		"receipt_hashes": res.ReceiptHashes,
		"replay_ok":      res.ReplayOK,
	}
	if res.Order != nil {
		out["order"] = res.Order
	}
	if len(res.Trades) > 0 {
		out["trades"] = res.Trades
	}
	if res.Listing != nil {
		out["listing"] = res.Listing
	}
	if res.Purchase != nil {
		out["purchase"] = res.Purchase
	}
	if res.Message != nil {
		out["message"] = res.Message
	}
	if res.Event != nil {
		out["event"] = res.Event
	}
	if res.Claim != nil {
		out["claim"] = res.Claim
	}
	if res.Balance != nil {
		out["balance"] = *res.Balance
	}
	if len(res.Balances) > 0 {
		out["balances"] = res.Balances
	}
	if res.Fee != nil {
		out["fee_total"] = res.Fee.TotalPaid
		out["fee_breakdown"] = gin.H{
			"protocol_fee_total":  res.Fee.ProtocolFeeTotal,
			"platform_fee_amount": res.Fee.PlatformFeeAmount,
		}
		out["payer"] = payer
		out["treasury_address"] = res.Fee.FeeAddress
	}
	return out
}

func queryInt(c *gin.Context, name string, def, min, max int64) (int64, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return def, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apierr.ParamInvalid(name, "must be int")
	}
	if value < min || value > max {
		return 0, apierr.ParamInvalid(name, "out of bounds")
	}
	return value, nil
}

func optionalQueryInt(c *gin.Context, name string) (*int64, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, apierr.ParamInvalid(name, "must be int")
	}
	return &value, nil
}
