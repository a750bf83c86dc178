package httpapi

import (
	"net/http"
	"strings"

	apperrors "github.com/olympstage/olympstage/internal/platform/errors"
	"github.com/olympstage/olympstage/internal/services/auth/account"
	"github.com/olympstage/olympstage/internal/services/auth/oauth"
	"github.com/olympstage/olympstage/internal/services/auth/user"
)

type oauthSignInRequest struct {
	IDToken string `json:"id_token"`
	Role    string `json:"role"`
}

func (h *Handler) handleOAuthGoogle(w http.ResponseWriter, r *http.Request) {
	if limiter := h.deps.LoginLimiter; limiter != nil && !limiter.Allow(clientKey(r)) {
		writeError(w, errRateLimited)
		return
	}
	var req oauthSignInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	role := user.RoleStudent
	if strings.TrimSpace(req.Role) != "" {
		parsed, err := user.ParseRole(req.Role)
		if err != nil {
			writeError(w, err)
			return
		}
		role = parsed
	}

	identity := h.deps.Resolver.Verify(r.Context(), req.IDToken)
	if identity == nil {
		writeError(w, apperrors.New(apperrors.CodeInvalidOAuthToken, "identity token is invalid"))
		return
	}
	u, err := h.deps.Accounts.UpsertFromIdentity(r.Context(), oauth.ProviderGoogle, *identity, account.Defaults{Role: role})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.session(u))
}

type oauthLinkRequest struct {
	IDToken string `json:"id_token"`
}

func (h *Handler) handleOAuthLink(w http.ResponseWriter, r *http.Request, u user.User) {
	var req oauthLinkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	identity := h.deps.Resolver.Verify(r.Context(), req.IDToken)
	if identity == nil {
		writeError(w, apperrors.New(apperrors.CodeInvalidOAuthToken, "identity token is invalid"))
		return
	}
	if err := h.deps.Accounts.Link(r.Context(), u.ID, oauth.ProviderGoogle, *identity); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleOAuthUnlink(w http.ResponseWriter, r *http.Request, u user.User) {
	provider := strings.ToLower(strings.TrimSpace(r.PathValue("provider")))
	if provider == "" {
		writeError(w, apperrors.New(apperrors.CodeInvalidRequest, "provider is required"))
		return
	}
	if err := h.deps.Accounts.Unlink(r.Context(), u.ID, provider); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
