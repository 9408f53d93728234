package auth

// UserInfo is one connection's declared identity. The user id is a client
// generated opaque string persisted on the device; the server never verifies
// it, so anyone who learns a user id can delete that user's messages. A
// stronger scheme would bind ownership to a server issued credential; kept
// as-is for compatibility with the existing clients.
type UserInfo struct {
	UserId string `json:"userId"`
	Name   string `json:"name"`
	Color  string `json:"color,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// CanDeleteOwn reports whether a delete request from `identity` may remove a
// message owned by `msgUserId`. The connection must have joined.
func CanDeleteOwn(identity *UserInfo, msgUserId string) bool {
	return identity != nil && identity.UserId == msgUserId
}

// CanAdminClear reports whether `supplied` grants the admin clear-all.
func CanAdminClear(supplied, configured string) bool {
	return SecretEqual(supplied, configured)
}
