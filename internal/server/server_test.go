package server

import (
	"testing"
	"time"

	"hometopology/internal/auth"
	"hometopology/internal/bus"
	configmem "hometopology/internal/config/memory"
	"hometopology/internal/occupancy"
	snapshotmem "hometopology/internal/snapshot/memory"
	"hometopology/internal/topology"
)

const testAdminPassword = "correct-horse-battery-staple"

func newTestServer(t *testing.T) *Server {
	t.Helper()

	tree := topology.New()
	if err := tree.CreateLocation("house", "House", "", true, nil, nil); err != nil {
		t.Fatalf("CreateLocation: %v", err)
	}
	if err := tree.CreateLocation("kitchen", "Kitchen", "house", false, nil, nil); err != nil {
		t.Fatalf("CreateLocation: %v", err)
	}

	b := bus.New(nil)
	module := occupancy.Attach(tree, b, nil)

	hash, err := auth.HashPassword(testAdminPassword)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}

	tokens := auth.NewTokenService([]byte("test-secret-key-32-bytes-long!!"), time.Hour)

	return New(tree, module, b, configmem.NewStore(), snapshotmem.New(), tokens, nil, Config{
		AdminUsername:     "admin",
		AdminPasswordHash: hash,
	})
}

func authHeader(t *testing.T, s *Server) string {
	t.Helper()
	token, _, err := s.tokens.Issue("admin", "admin")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return "Bearer " + token
}
