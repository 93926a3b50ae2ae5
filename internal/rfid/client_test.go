package rfid

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestClientBindRejectsPartialBinding(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Token present but no bound user: the reader saw a scan it could
		// not attribute.
		json.NewEncoder(w).Encode(map[string]string{"token": "tok-7"})
	}))
	defer server.Close()

	client := NewClient(server.URL, zap.NewNop())
	_, err := client.Bind(context.Background())
	assert.ErrorIs(t, err, ErrBindingIncomplete)
}

func TestClientBindSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// No Content-Type header on purpose: readers in the field answer
		// JSON bodies without one, and the client must decode anyway.
		json.NewEncoder(w).Encode(Binding{Token: "tok-7", UserID: "card-1", UserName: "Desk"})
	}))
	defer server.Close()

	client := NewClient(server.URL, zap.NewNop())
	binding, err := client.Bind(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-7", binding.Token)
	assert.Equal(t, "Desk", binding.UserName)
}

func TestClientVerifyMapsRejectionToVerificationFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(server.URL, zap.NewNop())
	_, err := client.Verify(context.Background(), "tok-7", "Desk")
	assert.ErrorIs(t, err, ErrVerificationFailed)
}

func TestClientVerifySuccess(t *testing.T) {
	memberID := uuid.New()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "tok-7", req["token"])
		json.NewEncoder(w).Encode(Identity{MemberID: memberID, MemberName: "Desk"})
	}))
	defer server.Close()

	client := NewClient(server.URL, zap.NewNop())
	identity, err := client.Verify(context.Background(), "tok-7", "Desk")
	require.NoError(t, err)
	assert.Equal(t, memberID, identity.MemberID)
}

func TestClientVerifySuccessWithContentType(t *testing.T) {
	memberID := uuid.New()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Identity{MemberID: memberID, MemberName: "Desk"})
	}))
	defer server.Close()

	client := NewClient(server.URL, zap.NewNop())
	identity, err := client.Verify(context.Background(), "tok-7", "Desk")
	require.NoError(t, err)
	assert.Equal(t, memberID, identity.MemberID)
}

func TestClientBreakerStaysClosedThroughRefusals(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(server.URL, zap.NewNop())

	// Well past the consecutive-failure threshold: a provider that keeps
	// refusing cards is healthy, and every refusal must still reach the
	// caller as a verification failure rather than an open circuit.
	for i := 0; i < 10; i++ {
		_, err := client.Verify(context.Background(), "tok-7", "Desk")
		assert.ErrorIs(t, err, ErrVerificationFailed)
	}
}

func TestClientVerifyRejectsNilMember(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Identity{MemberName: "Desk"})
	}))
	defer server.Close()

	client := NewClient(server.URL, zap.NewNop())
	_, err := client.Verify(context.Background(), "tok-7", "Desk")
	assert.ErrorIs(t, err, ErrVerificationFailed)
}
