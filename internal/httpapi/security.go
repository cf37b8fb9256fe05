// Package httpapi carries the storefront's plain HTTP surface around the
// settlement core: the customer order-status endpoint and the back-office
// state-advancement endpoint.
package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/go-faster/errors"

	"github.com/cardforge/storefront/internal/domain/auth"
)

// APIKeyAuth authenticates back-office requests via HMAC-SHA256 hashed API
// keys presented in the api_key header.
type APIKeyAuth struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewAPIKeyAuth creates an APIKeyAuth with the given repository and HMAC
// pepper.
func NewAPIKeyAuth(apikeys auth.Repository, pepper []byte) *APIKeyAuth {
	return &APIKeyAuth{apikeys: apikeys, pepper: pepper}
}

// HashKey computes the stored hash form of a raw API key.
func HashKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// Authenticate validates the request's api_key header and required scope.
// The lookup is by HMAC hash; the stored hash is then compared in constant
// time to guard against timing side-channels even when the lookup already
// succeeded.
func (a *APIKeyAuth) Authenticate(ctx context.Context, r *http.Request, scope string) (*auth.APIKeyInfo, error) {
	key := r.Header.Get("api_key")
	if key == "" {
		return nil, errors.New("unauthorized")
	}

	mac := hmac.New(sha256.New, a.pepper)
	mac.Write([]byte(key))
	hash := mac.Sum(nil)

	info, err := a.apikeys.FindByHash(ctx, hex.EncodeToString(hash))
	if err != nil {
		return nil, errors.New("unauthorized")
	}

	storedBytes, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return nil, errors.New("unauthorized")
	}
	if subtle.ConstantTimeCompare(hash, storedBytes) != 1 {
		return nil, errors.New("unauthorized")
	}

	if scope != "" && !info.HasScope(scope) {
		return nil, errors.New("forbidden")
	}
	return info, nil
}
