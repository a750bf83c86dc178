// Package errors provides structured error handling for the auth service.
package errors

import "net/http"

// Code is a machine-readable error code surfaced to API clients.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "unknown"
	// CodeInternal represents an unrecoverable server-side failure.
	CodeInternal Code = "internal_error"
	// CodeInvalidRequest represents a malformed or incomplete request.
	CodeInvalidRequest Code = "invalid_request"
	// CodeNotFound represents a missing record.
	CodeNotFound Code = "not_found"
	// CodeUnauthenticated represents a missing or invalid bearer token.
	CodeUnauthenticated Code = "unauthenticated"
	// CodeRateLimited represents a throttled request.
	CodeRateLimited Code = "rate_limited"

	// Credential errors
	CodeInvalidCredentials Code = "invalid_credentials"
	CodeAccountDisabled    Code = "account_disabled"
	CodeEmailNotVerified   Code = "email_not_verified"
	CodeEmailInUse         Code = "email_in_use"
	CodeLockoutPrevention  Code = "lockout_prevention"

	// OTP errors
	CodeInvalidOTP          Code = "invalid_otp"
	CodeOTPExpired          Code = "otp_expired"
	CodeOTPAttemptsExceeded Code = "otp_attempts_exceeded"

	// OAuth errors
	CodeInvalidOAuthToken    Code = "invalid_oauth_token"
	CodeInvalidOAuthScope    Code = "invalid_oauth_scope"
	CodeOAuthAccountConflict Code = "oauth_account_conflict"
	CodeNotLinked            Code = "not_linked"

	// Passkey errors
	CodeInvalidPasskeyResponse    Code = "invalid_passkey_response"
	CodePasskeyChallengeNotFound  Code = "passkey_challenge_not_found"
	CodePasskeyCredentialConflict Code = "passkey_credential_conflict"

	// Mail errors
	CodeEmailServiceNotConfigured Code = "email_service_not_configured"
)

// HTTPStatus maps an error code to the HTTP status the API layer responds with.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidRequest, CodeInvalidOTP, CodeOTPExpired, CodeOTPAttemptsExceeded,
		CodeInvalidPasskeyResponse:
		return http.StatusBadRequest
	case CodeUnauthenticated, CodeInvalidCredentials, CodeInvalidOAuthToken,
		CodeInvalidOAuthScope:
		return http.StatusUnauthorized
	case CodeAccountDisabled, CodeEmailNotVerified, CodeLockoutPrevention:
		return http.StatusForbidden
	case CodeNotFound, CodePasskeyChallengeNotFound, CodeNotLinked:
		return http.StatusNotFound
	case CodeOAuthAccountConflict, CodePasskeyCredentialConflict, CodeEmailInUse:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeEmailServiceNotConfigured:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
