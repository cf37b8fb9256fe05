package payme

import (
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"
)

// Authenticator verifies the shared merchant secret on inbound gateway
// calls. Gateway cabinets differ in how they present the secret, so the
// accepted forms are modelled as an ordered list of named strategies tried
// in sequence rather than a nested conditional chain; the compatibility
// matrix stays testable strategy by strategy.
type Authenticator struct {
	strategies []authStrategy
}

type authStrategy struct {
	name  string
	check func(header string) bool
}

// NewAuthenticator builds the strategy chain for the given cabinet login
// (conventionally "Paycom") and merchant key. Order matters: the documented
// Basic login:key form is tried first, then the bearer and bare-basic
// fallbacks some non-default cabinet modes produce.
func NewAuthenticator(login, key string) *Authenticator {
	basic := "Basic " + base64.StdEncoding.EncodeToString([]byte(login+":"+key))
	bearer := "Bearer " + key
	bareBasic := "Basic " + base64.StdEncoding.EncodeToString([]byte(key))

	return &Authenticator{
		strategies: []authStrategy{
			{name: "basic", check: match(basic)},
			{name: "bearer", check: match(bearer)},
			{name: "bare-basic", check: match(bareBasic)},
		},
	}
}

// Authenticate checks the request's Authorization header against the chain.
// It returns the name of the matching strategy, or ok=false when none match.
func (a *Authenticator) Authenticate(r *http.Request) (strategy string, ok bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	for _, s := range a.strategies {
		if s.check(header) {
			return s.name, true
		}
	}
	return "", false
}

// match returns a constant-time comparison against the expected header
// value. Both strategies that miss and the one that hits cost the same.
func match(expected string) func(string) bool {
	want := []byte(expected)
	return func(got string) bool {
		return subtle.ConstantTimeCompare(want, []byte(got)) == 1
	}
}
