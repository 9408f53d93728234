package auth

import "net/http"

type Client interface {
	// Auth authenticates the handshake request, returning an error when
	// the connection must be rejected.
	Auth(r *http.Request) error
}
