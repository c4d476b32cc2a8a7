// Package apierr defines the closed error taxonomy shared by every layer.
// Handlers map an *Error to its HTTP status and the wire envelope
// {"error":{"code","message","details"}}; anything else becomes a
// sanitized 500.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Stable error codes. These are part of the API contract; never rename.
const (
	CodeAuthRequired = "AUTH_REQUIRED"
	CodeAuthInvalid  = "AUTH_INVALID"

	CodeParamRequired = "PARAM_REQUIRED"
	CodeParamInvalid  = "PARAM_INVALID"
	CodeBadRequest    = "BAD_REQUEST"

	CodeAddressMismatch       = "ADDRESS_MISMATCH"
	CodeFromAddressMismatch   = "FROM_ADDRESS_MISMATCH"
	CodeFaucetAddressMismatch = "FAUCET_ADDRESS_MISMATCH"

	CodeTaskAlreadyClaimed = "TASK_ALREADY_CLAIMED"
	CodeTaskIncomplete     = "TASK_INCOMPLETE"
	CodeTaskUnknown        = "TASK_UNKNOWN"

	CodeFaucetCooldown             = "FAUCET_COOLDOWN"
	CodeFaucetDailyClaimsExceeded  = "FAUCET_DAILY_CLAIMS_EXCEEDED"
	CodeFaucetDailyAmountExceeded  = "FAUCET_DAILY_AMOUNT_EXCEEDED"
	CodeFaucetIPLimitExceeded      = "FAUCET_IP_LIMIT_EXCEEDED"
	CodeInsufficientBalance        = "INSUFFICIENT_BALANCE"
	CodeRiskLimit                  = "RISK_LIMIT"
	CodeAccountRateLimit           = "ACCOUNT_RATE_LIMIT"
	CodeAllowlistDeny              = "ALLOWLIST_DENY"
	CodeUpstreamTimeout            = "UPSTREAM_TIMEOUT"
	CodeUpstreamHTTPError          = "UPSTREAM_HTTP_ERROR"
	CodeUpstreamUnavailable        = "UPSTREAM_UNAVAILABLE"
	CodeUpstreamBadJSON            = "UPSTREAM_BAD_JSON"
	CodeUpstreamResponseTooLarge   = "UPSTREAM_RESPONSE_TOO_LARGE"
	CodeComplianceDenied           = "COMPLIANCE_DENIED"
	CodeComplianceUnavailable      = "COMPLIANCE_UNAVAILABLE"
	CodeIntegrationDisabled        = "INTEGRATION_DISABLED"
	CodeForbiddenChatChannel       = "FORBIDDEN_CHAT_CHANNEL"
	CodeGlobalMutationsPaused      = "GLOBAL_MUTATIONS_PAUSED"
	CodeListingUnavailable         = "LISTING_UNAVAILABLE"
	CodeOrderNotCancellable        = "ORDER_NOT_CANCELLABLE"
	CodeNotFound                   = "NOT_FOUND"
	CodeInternal                   = "INTERNAL"
)

// Error is the single error type crossing layer boundaries.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New builds an API error with an explicit HTTP status.
func New(code, message string, status int) *Error {
	return &Error{Code: code, Message: message, Status: status}
}

// WithDetails attaches the details object; returns the error for chaining.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// BadRequest wraps an uncategorised validation failure.
func BadRequest(message string) *Error {
	return New(CodeBadRequest, message, http.StatusBadRequest)
}

// ParamRequired reports a missing payload field.
func ParamRequired(param string) *Error {
	return New(CodeParamRequired, param+" required", http.StatusBadRequest).
		WithDetails(map[string]any{"param": param})
}

// ParamInvalid reports a payload field that fails its schema.
func ParamInvalid(param, reason string) *Error {
	return New(CodeParamInvalid, param+" "+reason, http.StatusBadRequest).
		WithDetails(map[string]any{"param": param})
}

// InsufficientBalance reports a ledger admission failure.
func InsufficientBalance(assetID string) *Error {
	return New(CodeInsufficientBalance, "insufficient "+assetID+" balance", http.StatusBadRequest).
		WithDetails(map[string]any{"asset_id": assetID})
}

// AuthRequired reports a missing bearer token.
func AuthRequired() *Error {
	return New(CodeAuthRequired, "authorization required", http.StatusUnauthorized)
}

// AuthInvalid reports a rejected token or session.
func AuthInvalid(reason string) *Error {
	return New(CodeAuthInvalid, reason, http.StatusUnauthorized)
}

// From extracts the *Error from err's chain, or nil.
func From(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return nil
}

// StatusOf resolves the HTTP status for err, defaulting to 500.
func StatusOf(err error) int {
	if apiErr := From(err); apiErr != nil && apiErr.Status != 0 {
		return apiErr.Status
	}
	return http.StatusInternalServerError
}
