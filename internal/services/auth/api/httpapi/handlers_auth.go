package httpapi

import (
	"context"
	"errors"
	"log"
	"net/http"

	apperrors "github.com/olympstage/olympstage/internal/platform/errors"
	"github.com/olympstage/olympstage/internal/services/auth/storage"
	"github.com/olympstage/olympstage/internal/services/auth/user"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	email, err := user.NormalizeEmail(req.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	role, err := user.ParseRole(req.Role)
	if err != nil {
		writeError(w, err)
		return
	}
	hash, err := user.HashPassword(req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	now := h.clock().UTC()
	created := user.User{
		Email:        email,
		PasswordHash: hash,
		Name:         req.Name,
		Role:         role,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	var code string
	err = h.deps.DB.InTx(r.Context(), func(q storage.Queries) error {
		id, err := q.CreateUser(r.Context(), created)
		if err != nil {
			return err
		}
		created.ID = id
		if err := q.CreateProfile(r.Context(), id, role); err != nil {
			return err
		}
		code, err = h.deps.OTPs.CreateIn(r.Context(), q, id, email, storage.OTPPurposeVerifyEmail)
		return err
	})
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			writeError(w, apperrors.New(apperrors.CodeEmailInUse, "email is already registered"))
			return
		}
		writeError(w, err)
		return
	}

	// The OTP row committed with the user; delivery failure is recoverable
	// through the resend endpoint.
	if err := h.deps.Sender.Send(r.Context(), email, storage.OTPPurposeVerifyEmail, code); err != nil {
		log.Printf("[AUTH] send otp mail: %v", err)
	}

	writeJSON(w, http.StatusCreated, struct {
		User userResponse `json:"user"`
	}{User: toUserResponse(created)})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if limiter := h.deps.LoginLimiter; limiter != nil && !limiter.Allow(clientKey(r)) {
		writeError(w, errRateLimited)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	email, err := user.NormalizeEmail(req.Email)
	if err != nil {
		writeError(w, apperrors.New(apperrors.CodeInvalidCredentials, "email or password is incorrect"))
		return
	}

	u, err := h.deps.DB.GetUserByEmail(r.Context(), email)
	if err != nil || !u.CheckPassword(req.Password) {
		writeError(w, apperrors.New(apperrors.CodeInvalidCredentials, "email or password is incorrect"))
		return
	}
	if !u.Active {
		writeError(w, apperrors.New(apperrors.CodeAccountDisabled, "account is disabled"))
		return
	}
	if !u.EmailVerified {
		writeError(w, apperrors.New(apperrors.CodeEmailNotVerified, "email address is not verified"))
		return
	}
	writeJSON(w, http.StatusOK, h.session(u))
}

type emailVerifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (h *Handler) handleEmailVerify(w http.ResponseWriter, r *http.Request) {
	var req emailVerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	email, err := user.NormalizeEmail(req.Email)
	if err != nil {
		writeError(w, err)
		return
	}

	userID, err := h.deps.OTPs.Consume(r.Context(), storage.OTPPurposeVerifyEmail, email, req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	u, err := h.deps.DB.GetUser(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !u.Active {
		writeError(w, apperrors.New(apperrors.CodeAccountDisabled, "account is disabled"))
		return
	}
	if !u.EmailVerified {
		u.EmailVerified = true
		u.UpdatedAt = h.clock().UTC()
		if err := h.deps.DB.UpdateUser(r.Context(), u); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, h.session(u))
}

type emailRequest struct {
	Email string `json:"email"`
}

func (h *Handler) handleEmailResend(w http.ResponseWriter, r *http.Request) {
	h.handleOTPSend(w, r, storage.OTPPurposeVerifyEmail, func(u user.User) bool {
		return u.Active && !u.EmailVerified
	})
}

func (h *Handler) handlePasswordForgot(w http.ResponseWriter, r *http.Request) {
	h.handleOTPSend(w, r, storage.OTPPurposeResetPassword, func(u user.User) bool {
		return u.Active
	})
}

// handleOTPSend issues a code when the address belongs to an eligible user.
// The response is the same either way so the endpoint cannot be used to probe
// which addresses hold accounts.
func (h *Handler) handleOTPSend(w http.ResponseWriter, r *http.Request, purpose string, eligible func(u user.User) bool) {
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	email, err := user.NormalizeEmail(req.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	if limiter := h.deps.SendLimiter; limiter != nil && !limiter.Allow(email) {
		writeError(w, errRateLimited)
		return
	}

	if u, err := h.deps.DB.GetUserByEmail(r.Context(), email); err == nil && eligible(u) {
		h.issueAndSendOTP(r.Context(), u.ID, email, purpose)
	}
	w.WriteHeader(http.StatusNoContent)
}

type passwordResetRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

func (h *Handler) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req passwordResetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	email, err := user.NormalizeEmail(req.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	hash, err := user.HashPassword(req.NewPassword)
	if err != nil {
		writeError(w, err)
		return
	}

	userID, err := h.deps.OTPs.Consume(r.Context(), storage.OTPPurposeResetPassword, email, req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	u, err := h.deps.DB.GetUser(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	u.PasswordHash = hash
	// Consuming the code proves control of the address.
	u.EmailVerified = true
	u.UpdatedAt = h.clock().UTC()
	if err := h.deps.DB.UpdateUser(r.Context(), u); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type passwordChangeRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *Handler) handlePasswordChange(w http.ResponseWriter, r *http.Request, u user.User) {
	var req passwordChangeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if u.HasPassword() && !u.CheckPassword(req.CurrentPassword) {
		writeError(w, apperrors.New(apperrors.CodeInvalidCredentials, "current password is incorrect"))
		return
	}
	hash, err := user.HashPassword(req.NewPassword)
	if err != nil {
		writeError(w, err)
		return
	}
	u.PasswordHash = hash
	u.UpdatedAt = h.clock().UTC()
	if err := h.deps.DB.UpdateUser(r.Context(), u); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) issueAndSendOTP(ctx context.Context, userID int64, email, purpose string) {
	code, err := h.deps.OTPs.Create(ctx, userID, email, purpose)
	if err != nil {
		log.Printf("[AUTH] create otp: %v", err)
		return
	}
	if err := h.deps.Sender.Send(ctx, email, purpose, code); err != nil {
		log.Printf("[AUTH] send otp mail: %v", err)
	}
}
