package server

import (
	"net/http"
	"sync"
	"time"

	"hometopology/internal/auth"
)

// refreshStore holds issued refresh token hashes in memory. There is a
// single admin account, so no per-user indexing is needed: a hash maps
// straight to its expiry.
type refreshStore struct {
	mu     sync.Mutex
	byHash map[string]time.Time
}

func newRefreshStore() refreshStore {
	return refreshStore{byHash: make(map[string]time.Time)}
}

func (rs *refreshStore) issue(duration time.Duration) (token string, err error) {
	token, hash, err := auth.GenerateRefreshToken()
	if err != nil {
		return "", err
	}
	rs.mu.Lock()
	rs.byHash[hash] = time.Now().Add(duration)
	rs.mu.Unlock()
	return token, nil
}

// redeem validates and consumes a refresh token (rotation: every redeem
// invalidates the presented token, whether or not a new one is issued).
func (rs *refreshStore) redeem(token string) bool {
	hash := auth.HashRefreshToken(token)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	expiresAt, ok := rs.byHash[hash]
	delete(rs.byHash, hash)
	if !ok {
		return false
	}
	return time.Now().Before(expiresAt)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token        string `json:"token"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiError{Error: "invalid request body"})
		return
	}

	if req.Username != s.adminUsername {
		writeJSON(w, r, http.StatusUnauthorized, apiError{Error: "invalid credentials"})
		return
	}
	ok, err := auth.VerifyPassword(req.Password, s.adminPasswordHash)
	if err != nil || !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiError{Error: "invalid credentials"})
		return
	}

	s.respondWithNewTokens(w, r, req.Username)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiError{Error: "invalid request body"})
		return
	}
	if !s.refresh.redeem(req.RefreshToken) {
		writeJSON(w, r, http.StatusUnauthorized, apiError{Error: "invalid or expired refresh token"})
		return
	}
	s.respondWithNewTokens(w, r, s.adminUsername)
}

func (s *Server) respondWithNewTokens(w http.ResponseWriter, r *http.Request, username string) {
	token, expiresAt, err := s.tokens.Issue(username, "admin")
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, apiError{Error: "issue token failed"})
		return
	}
	refreshToken, err := s.refresh.issue(s.refreshTokenDuration)
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, apiError{Error: "issue refresh token failed"})
		return
	}
	writeJSON(w, r, http.StatusOK, tokenResponse{
		Token:        token,
		ExpiresAt:    expiresAt.Unix(),
		RefreshToken: refreshToken,
	})
}
