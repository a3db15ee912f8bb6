package authapi

// Config controls auth API transport behavior.
type Config struct {
	// TrustProxy enables X-Forwarded-For / X-Real-IP parsing. Leave off
	// unless the server sits behind a proxy that strips those headers
	// from client traffic.
	TrustProxy bool `env:"TRUST_PROXY" envDefault:"false"`

	// MaxBodyBytes caps request bodies accepted by auth endpoints.
	MaxBodyBytes int64 `env:"MAX_BODY_BYTES" envDefault:"1048576"`

	// CookieDomain scopes the session cookies. Empty means host-only.
	CookieDomain string `env:"COOKIE_DOMAIN"`

	// CookieSecure marks session cookies Secure. Always on in
	// production; off only for local plain-HTTP development.
	CookieSecure bool `env:"COOKIE_SECURE" envDefault:"true"`
}

func DefaultConfig() Config {
	return Config{
		MaxBodyBytes: 1 << 20,
		CookieSecure: true,
	}
}
