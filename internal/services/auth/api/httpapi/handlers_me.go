package httpapi

import (
	"net/http"
	"time"

	"github.com/olympstage/olympstage/internal/services/auth/user"
)

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request, u user.User) {
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

type oauthLinkResponse struct {
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
}

type securityOverviewResponse struct {
	HasPassword bool                `json:"has_password"`
	Passkeys    []passkeyResponse   `json:"passkeys"`
	OAuthLinks  []oauthLinkResponse `json:"oauth_links"`
}

func (h *Handler) handleSecurityOverview(w http.ResponseWriter, r *http.Request, u user.User) {
	credentials, err := h.deps.Passkeys.List(r.Context(), u.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	accounts, err := h.deps.DB.ListAuthAccountsByUser(r.Context(), u.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	overview := securityOverviewResponse{
		HasPassword: u.HasPassword(),
		Passkeys:    make([]passkeyResponse, 0, len(credentials)),
		OAuthLinks:  make([]oauthLinkResponse, 0, len(accounts)),
	}
	for _, credential := range credentials {
		overview.Passkeys = append(overview.Passkeys, toPasskeyResponse(credential))
	}
	for _, link := range accounts {
		overview.OAuthLinks = append(overview.OAuthLinks, oauthLinkResponse{
			Provider:  link.Provider,
			CreatedAt: link.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, overview)
}
