package auth

import (
	"crypto/subtle"
	"fmt"
	"net/http"
)

// AuthHeader carries the entry secret on the websocket handshake. A query
// parameter of the same name is accepted as a fallback for clients that
// cannot set headers on the upgrade request.
const AuthHeader = "X-Entry-Secret"

// SecretClient gates connections on a shared entry secret.
type SecretClient struct {
	secret string
}

func NewSecretClient(secret string) *SecretClient {
	return &SecretClient{secret: secret}
}

func (c *SecretClient) Auth(r *http.Request) error {
	supplied := r.Header.Get(AuthHeader)
	if supplied == "" {
		supplied = r.URL.Query().Get("secret")
	}
	if supplied == "" {
		return fmt.Errorf("missing entry secret")
	}
	if !SecretEqual(supplied, c.secret) {
		return fmt.Errorf("entry secret mismatch")
	}
	return nil
}

// MockClient accepts every handshake. Test use only.
type MockClient struct{}

func (c *MockClient) Auth(r *http.Request) error {
	return nil
}

// SecretEqual compares two secrets in constant time. An empty configured
// secret never matches.
func SecretEqual(supplied, configured string) bool {
	if configured == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(configured)) == 1
}
