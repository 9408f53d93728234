package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanDeleteOwn(t *testing.T) {
	owner := &UserInfo{UserId: "u1", Name: "Alice"}
	other := &UserInfo{UserId: "u2", Name: "Bob"}

	assert.True(t, CanDeleteOwn(owner, "u1"))
	assert.False(t, CanDeleteOwn(other, "u1"))
	assert.False(t, CanDeleteOwn(nil, "u1"), "not joined")
}

func TestCanAdminClear(t *testing.T) {
	assert.True(t, CanAdminClear("hunter2", "hunter2"))
	assert.False(t, CanAdminClear("Hunter2", "hunter2"), "case sensitive")
	assert.False(t, CanAdminClear("", "hunter2"))
	assert.False(t, CanAdminClear("", ""), "empty configured secret never matches")
}

func TestSecretClient(t *testing.T) {
	c := NewSecretClient("open-sesame")

	r := httptest.NewRequest("GET", "/ws", nil)
	assert.Error(t, c.Auth(r), "missing secret")

	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set(AuthHeader, "open-sesame")
	assert.NoError(t, c.Auth(r))

	r = httptest.NewRequest("GET", "/ws?secret=open-sesame", nil)
	assert.NoError(t, c.Auth(r), "query fallback")

	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set(AuthHeader, "wrong")
	assert.Error(t, c.Auth(r))
}
