package googleauth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTokenInfoServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id_token") == "" {
			t.Errorf("expected id_token query parameter")
		}
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestVerifyValidToken(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()
	body := fmt.Sprintf(`{"aud":"client-1","sub":"g-123","email":"alice@x.com","name":"Alice","picture":"http://p","exp":"%d"}`, exp)
	server := newTokenInfoServer(t, http.StatusOK, body)

	verifier := NewVerifierForEndpoint("client-1", server.URL, server.Client())
	profile, errVerify := verifier.Verify(context.Background(), "token")
	if errVerify != nil {
		t.Fatalf("expected no error, got %v", errVerify)
	}
	if profile.Subject != "g-123" || profile.Email != "alice@x.com" || profile.Name != "Alice" {
		t.Fatalf("unexpected profile: %+v", profile)
	}
}

func TestVerifyRejectsWrongAudience(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()
	body := fmt.Sprintf(`{"aud":"other-client","sub":"g-123","email":"alice@x.com","exp":"%d"}`, exp)
	server := newTokenInfoServer(t, http.StatusOK, body)

	verifier := NewVerifierForEndpoint("client-1", server.URL, server.Client())
	if _, errVerify := verifier.Verify(context.Background(), "token"); errVerify != ErrInvalidIDToken {
		t.Fatalf("expected ErrInvalidIDToken, got %v", errVerify)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	exp := time.Now().Add(-time.Hour).Unix()
	body := fmt.Sprintf(`{"aud":"client-1","sub":"g-123","email":"alice@x.com","exp":"%d"}`, exp)
	server := newTokenInfoServer(t, http.StatusOK, body)

	verifier := NewVerifierForEndpoint("client-1", server.URL, server.Client())
	if _, errVerify := verifier.Verify(context.Background(), "token"); errVerify != ErrInvalidIDToken {
		t.Fatalf("expected ErrInvalidIDToken, got %v", errVerify)
	}
}

func TestVerifyRejectsGoogleRejection(t *testing.T) {
	server := newTokenInfoServer(t, http.StatusBadRequest, `{"error":"invalid_token"}`)
	verifier := NewVerifierForEndpoint("client-1", server.URL, server.Client())
	if _, errVerify := verifier.Verify(context.Background(), "token"); errVerify != ErrInvalidIDToken {
		t.Fatalf("expected ErrInvalidIDToken, got %v", errVerify)
	}
}

func TestVerifyEmptyToken(t *testing.T) {
	verifier := NewVerifier("client-1")
	if _, errVerify := verifier.Verify(context.Background(), "  "); errVerify != ErrInvalidIDToken {
		t.Fatalf("expected ErrInvalidIDToken, got %v", errVerify)
	}
}
