package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is a provider-verified federated identity, normalized for the
// account engine.
type Identity struct {
	ProviderAccountID string
	Email             string
	Name              string
}

// Resolver validates Google ID-token assertions against the provider's
// introspection endpoint.
type Resolver struct {
	config     Config
	httpClient *http.Client
	clock      func() time.Time
}

// NewResolver builds a resolver bound to verification config.
func NewResolver(config Config) *Resolver {
	return &Resolver{
		config:     config,
		httpClient: http.DefaultClient,
		clock:      time.Now,
	}
}

// WithHTTPClient returns a resolver using the supplied client.
func (r *Resolver) WithHTTPClient(client *http.Client) *Resolver {
	out := *r
	out.httpClient = client
	return &out
}

// WithClock returns a resolver using the supplied clock.
func (r *Resolver) WithClock(clock func() time.Time) *Resolver {
	out := *r
	out.clock = clock
	return &out
}

// tokenInfo is the subset of Google's introspection response this service
// consumes.
type tokenInfo struct {
	Audience      string `json:"aud"`
	Issuer        string `json:"iss"`
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified string `json:"email_verified"`
	Name          string `json:"name"`
	Expiry        string `json:"exp"`
}

// Verify validates the assertion and returns the normalized identity, or nil.
//
// Every failure mode (network error, malformed response, failed claim check)
// collapses into nil so callers surface one uniform "authentication failed"
// outcome and never leak which check rejected the token.
func (r *Resolver) Verify(ctx context.Context, providerToken string) *Identity {
	providerToken = strings.TrimSpace(providerToken)
	if providerToken == "" {
		return nil
	}
	if !r.prescreen(providerToken) {
		return nil
	}

	endpoint, err := url.Parse(r.config.TokenInfoURL)
	if err != nil {
		return nil
	}
	query := endpoint.Query()
	query.Set("id_token", providerToken)
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var info tokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil
	}
	return r.check(info)
}

// prescreen parses the assertion locally before the network round trip, so
// structurally broken or long-expired tokens never reach the provider. The
// introspection response stays authoritative for every accepted token.
func (r *Resolver) prescreen(providerToken string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(providerToken, claims); err != nil {
		return false
	}
	expiry, err := claims.GetExpirationTime()
	if err != nil || expiry == nil {
		return false
	}
	return expiry.Time.After(r.clock().UTC().Add(-ClockSkew))
}

// check applies the acceptance rules to introspected claims.
func (r *Resolver) check(info tokenInfo) *Identity {
	if !r.audienceAllowed(info.Audience) {
		return nil
	}
	if !googleIssuers[info.Issuer] {
		return nil
	}
	if info.Subject == "" || info.Email == "" {
		return nil
	}
	if info.EmailVerified != "true" {
		return nil
	}
	expiry, err := strconv.ParseInt(info.Expiry, 10, 64)
	if err != nil {
		return nil
	}
	if time.Unix(expiry, 0).Before(r.clock().UTC().Add(-ClockSkew)) {
		return nil
	}
	return &Identity{
		ProviderAccountID: info.Subject,
		Email:             strings.ToLower(info.Email),
		Name:              info.Name,
	}
}

func (r *Resolver) audienceAllowed(audience string) bool {
	for _, clientID := range r.config.ClientIDs {
		if strings.TrimSpace(clientID) == audience && audience != "" {
			return true
		}
	}
	return false
}
