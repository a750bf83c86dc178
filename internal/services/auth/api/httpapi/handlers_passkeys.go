package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/olympstage/olympstage/internal/platform/errors"
	"github.com/olympstage/olympstage/internal/services/auth/storage"
	"github.com/olympstage/olympstage/internal/services/auth/user"
)

type passkeyResponse struct {
	ID         string     `json:"id"`
	Label      string     `json:"label"`
	Transports []string   `json:"transports,omitempty"`
	BackedUp   bool       `json:"backed_up"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

func toPasskeyResponse(record storage.PasskeyCredential) passkeyResponse {
	return passkeyResponse{
		ID:         record.CredentialID,
		Label:      record.Label,
		Transports: record.Transports,
		BackedUp:   record.BackupState,
		CreatedAt:  record.CreatedAt,
		LastUsedAt: record.LastUsedAt,
	}
}

func (h *Handler) handlePasskeyRegisterOptions(w http.ResponseWriter, r *http.Request, u user.User) {
	creation, err := h.deps.Passkeys.BeginRegistration(r.Context(), u)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, creation)
}

type passkeyRegisterRequest struct {
	Response json.RawMessage `json:"response"`
	Label    string          `json:"label"`
}

func (h *Handler) handlePasskeyRegisterVerify(w http.ResponseWriter, r *http.Request, u user.User) {
	var req passkeyRegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Response) == 0 {
		writeError(w, apperrors.New(apperrors.CodeInvalidRequest, "credential response is required"))
		return
	}
	record, err := h.deps.Passkeys.FinishRegistration(r.Context(), u, req.Response, req.Label)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPasskeyResponse(record))
}

type passkeyLoginOptionsRequest struct {
	Email string `json:"email"`
}

func (h *Handler) handlePasskeyLoginOptions(w http.ResponseWriter, r *http.Request) {
	var req passkeyLoginOptionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	assertion, err := h.deps.Passkeys.BeginLogin(r.Context(), req.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assertion)
}

type passkeyLoginVerifyRequest struct {
	Response json.RawMessage `json:"response"`
}

func (h *Handler) handlePasskeyLoginVerify(w http.ResponseWriter, r *http.Request) {
	if limiter := h.deps.LoginLimiter; limiter != nil && !limiter.Allow(clientKey(r)) {
		writeError(w, errRateLimited)
		return
	}
	var req passkeyLoginVerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Response) == 0 {
		writeError(w, apperrors.New(apperrors.CodeInvalidRequest, "credential response is required"))
		return
	}
	u, _, err := h.deps.Passkeys.FinishLogin(r.Context(), req.Response)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.session(u))
}

type passkeyRenameRequest struct {
	Label string `json:"label"`
}

func (h *Handler) handlePasskeyRename(w http.ResponseWriter, r *http.Request, u user.User) {
	var req passkeyRenameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	label := strings.TrimSpace(req.Label)
	if label == "" {
		writeError(w, apperrors.New(apperrors.CodeInvalidRequest, "label is required"))
		return
	}
	if err := h.deps.Passkeys.UpdateLabel(r.Context(), u.ID, r.PathValue("id"), label); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePasskeyDelete(w http.ResponseWriter, r *http.Request, u user.User) {
	if err := h.deps.Passkeys.DeleteCredential(r.Context(), u.ID, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
