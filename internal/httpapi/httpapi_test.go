package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"fenrir/internal/collab"
)

func TestAuthorizeSubscriber_RejectsMissingCredential(t *testing.T) {
	auth := collab.NewInMemory()
	req := httptest.NewRequest(http.MethodGet, "/ws/orders/alice", nil)
	w := httptest.NewRecorder()

	ok := authorizeSubscriber(auth, w, req, "alice")
	assert.False(t, ok)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthorizeSubscriber_RejectsMismatchedUser(t *testing.T) {
	auth := collab.NewInMemory()
	auth.RegisterCredential("token-1", "alice")
	req := httptest.NewRequest(http.MethodGet, "/ws/orders/bob", nil)
	req.Header.Set("Authorization", "Bearer token-1")
	w := httptest.NewRecorder()

	ok := authorizeSubscriber(auth, w, req, "bob")
	assert.False(t, ok)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthorizeSubscriber_AcceptsMatchingCredential(t *testing.T) {
	auth := collab.NewInMemory()
	auth.RegisterCredential("token-1", "alice")
	req := httptest.NewRequest(http.MethodGet, "/ws/orders/alice", nil)
	req.Header.Set("Authorization", "Bearer token-1")
	w := httptest.NewRecorder()

	assert.True(t, authorizeSubscriber(auth, w, req, "alice"))
}

func TestBearerCredential_FallsBackToQueryToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws/orders/alice?token=token-1", nil)
	assert.Equal(t, "token-1", bearerCredential(req))
}
