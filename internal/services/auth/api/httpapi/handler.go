// Package httpapi exposes the auth service's HTTP JSON surface.
package httpapi

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/olympstage/olympstage/internal/platform/errors"
	"github.com/olympstage/olympstage/internal/platform/ratelimit"
	"github.com/olympstage/olympstage/internal/services/auth/account"
	"github.com/olympstage/olympstage/internal/services/auth/mailer"
	"github.com/olympstage/olympstage/internal/services/auth/oauth"
	"github.com/olympstage/olympstage/internal/services/auth/otp"
	"github.com/olympstage/olympstage/internal/services/auth/passkey"
	"github.com/olympstage/olympstage/internal/services/auth/storage"
	"github.com/olympstage/olympstage/internal/services/auth/token"
	"github.com/olympstage/olympstage/internal/services/auth/user"
)

const maxBodyBytes = 1 << 20

// Deps carries the engines the HTTP surface dispatches into.
type Deps struct {
	DB       storage.Database
	Codec    *token.Codec
	OTPs     *otp.Ledger
	Resolver *oauth.Resolver
	Accounts *account.Engine
	Passkeys *passkey.Engine
	Sender   mailer.Sender

	// LoginLimiter throttles credential-guessing endpoints by client address;
	// SendLimiter throttles outbound email by target address. Either may be
	// nil to disable throttling.
	LoginLimiter *ratelimit.Keyed
	SendLimiter  *ratelimit.Keyed
}

// Handler serves the auth endpoints.
type Handler struct {
	deps  Deps
	clock func() time.Time
}

// New builds the HTTP handler set.
func New(deps Deps) *Handler {
	return &Handler{deps: deps, clock: time.Now}
}

// WithClock returns a handler using the supplied clock.
func (h *Handler) WithClock(clock func() time.Time) *Handler {
	out := *h
	out.clock = clock
	return &out
}

// RegisterRoutes registers every auth endpoint on the provided mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/register", h.handleRegister)
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("POST /auth/email/verify", h.handleEmailVerify)
	mux.HandleFunc("POST /auth/email/resend", h.handleEmailResend)
	mux.HandleFunc("POST /auth/password/forgot", h.handlePasswordForgot)
	mux.HandleFunc("POST /auth/password/reset", h.handlePasswordReset)
	mux.HandleFunc("POST /auth/oauth/google", h.handleOAuthGoogle)
	mux.HandleFunc("POST /auth/passkeys/authenticate/options", h.handlePasskeyLoginOptions)
	mux.HandleFunc("POST /auth/passkeys/authenticate/verify", h.handlePasskeyLoginVerify)

	mux.HandleFunc("GET /me", h.authenticated(h.handleMe))
	mux.HandleFunc("GET /me/security", h.authenticated(h.handleSecurityOverview))
	mux.HandleFunc("POST /me/security/password/change", h.authenticated(h.handlePasswordChange))
	mux.HandleFunc("POST /me/security/oauth/google/link", h.authenticated(h.handleOAuthLink))
	mux.HandleFunc("DELETE /me/security/oauth/{provider}", h.authenticated(h.handleOAuthUnlink))
	mux.HandleFunc("POST /me/security/passkeys/register/options", h.authenticated(h.handlePasskeyRegisterOptions))
	mux.HandleFunc("POST /me/security/passkeys/register/verify", h.authenticated(h.handlePasskeyRegisterVerify))
	mux.HandleFunc("PATCH /me/security/passkeys/{id}", h.authenticated(h.handlePasskeyRename))
	mux.HandleFunc("DELETE /me/security/passkeys/{id}", h.authenticated(h.handlePasskeyDelete))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

// authenticated resolves the bearer token to an active user before invoking
// next.
func (h *Handler) authenticated(next func(w http.ResponseWriter, r *http.Request, u user.User)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		value, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(value) == "" {
			writeError(w, apperrors.New(apperrors.CodeUnauthenticated, "bearer token is required"))
			return
		}
		userID, err := h.deps.Codec.Verify(strings.TrimSpace(value))
		if err != nil {
			writeError(w, token.ErrInvalidToken)
			return
		}
		u, err := h.deps.DB.GetUser(r.Context(), userID)
		if err != nil {
			writeError(w, token.ErrInvalidToken)
			return
		}
		if !u.Active {
			writeError(w, apperrors.New(apperrors.CodeAccountDisabled, "account is disabled"))
			return
		}
		next(w, r, u)
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type userResponse struct {
	ID            int64     `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name,omitempty"`
	Role          user.Role `json:"role"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
}

type sessionResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

func toUserResponse(u user.User) userResponse {
	return userResponse{
		ID:            u.ID,
		Email:         u.Email,
		Name:          u.Name,
		Role:          u.Role,
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt,
	}
}

func (h *Handler) session(u user.User) sessionResponse {
	return sessionResponse{Token: h.deps.Codec.Issue(u.ID), User: toUserResponse(u)}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.New(apperrors.CodeInvalidRequest, "request body is not valid JSON")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps a structured error to its HTTP status. Codes without a
// client-facing meaning collapse into a generic internal error so persistence
// details never leak.
func writeError(w http.ResponseWriter, err error) {
	code := apperrors.GetCode(err)
	message := err.Error()
	if code == apperrors.CodeUnknown || code == apperrors.CodeInternal {
		log.Printf("[AUTH] internal error: %v", err)
		code = apperrors.CodeInternal
		message = "internal error"
	}
	writeJSON(w, code.HTTPStatus(), errorResponse{Error: string(code), Message: message})
}

var errRateLimited = apperrors.New(apperrors.CodeRateLimited, "too many requests")

// clientKey identifies the caller for throttling: the first forwarded hop
// when present, the socket peer otherwise.
func clientKey(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if first, _, ok := strings.Cut(forwarded, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(forwarded)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
