package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"hometopology/internal/auth"
)

func newTestTokens() *auth.TokenService {
	return auth.NewTokenService([]byte("test-secret-key-32-bytes-long!!"), time.Hour)
}

func protectedHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := auth.ClaimsFromContext(r.Context())
		if claims == nil {
			http.Error(w, "no claims in context", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAuth_MissingToken(t *testing.T) {
	tokens := newTestTokens()
	ts := httptest.NewServer(auth.RequireAuth(tokens)(protectedHandler()))
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
}

func TestRequireAuth_InvalidToken(t *testing.T) {
	tokens := newTestTokens()
	ts := httptest.NewServer(auth.RequireAuth(tokens)(protectedHandler()))
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL, nil)
	req.Header.Set("Authorization", "Bearer not-a-real-token")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
}

func TestRequireAuth_ValidToken(t *testing.T) {
	tokens := newTestTokens()
	ts := httptest.NewServer(auth.RequireAuth(tokens)(protectedHandler()))
	defer ts.Close()

	token, _, err := tokens.Issue("admin", "admin")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestRequireAuth_WrongScheme(t *testing.T) {
	tokens := newTestTokens()
	ts := httptest.NewServer(auth.RequireAuth(tokens)(protectedHandler()))
	defer ts.Close()

	token, _, _ := tokens.Issue("admin", "admin")
	req, _ := http.NewRequest(http.MethodGet, ts.URL, nil)
	req.Header.Set("Authorization", "Basic "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
}
