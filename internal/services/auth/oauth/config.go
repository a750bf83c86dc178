// Package oauth resolves federated identity assertions into canonical
// identities.
package oauth

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// ProviderGoogle is the only provider this service currently federates with.
const ProviderGoogle = "google"

// ClockSkew is the tolerance applied to provider expiry claims.
const ClockSkew = 60 * time.Second

const defaultTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"

// Config controls Google identity verification.
type Config struct {
	// ClientIDs is the audience allow-list; an assertion minted for any
	// other client is rejected.
	ClientIDs    []string `env:"OLYMPSTAGE_GOOGLE_CLIENT_IDS"   envSeparator:","`
	TokenInfoURL string   `env:"OLYMPSTAGE_GOOGLE_TOKENINFO_URL"`
}

// LoadConfigFromEnv returns OAuth configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	_ = env.Parse(&cfg)
	if cfg.TokenInfoURL == "" {
		cfg.TokenInfoURL = defaultTokenInfoURL
	}
	return cfg
}

// googleIssuers are the issuer values Google mints ID tokens under.
var googleIssuers = map[string]bool{
	"accounts.google.com":         true,
	"https://accounts.google.com": true,
}
