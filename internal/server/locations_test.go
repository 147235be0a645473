package server

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"
)

func TestHandleCreateAndGetLocation(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	body, _ := json.Marshal(createLocationRequest{ID: "bedroom", Name: "Bedroom", ParentID: "house"})
	req := httptest.NewRequest("POST", "/v1/locations", bytes.NewReader(body))
	req.Header.Set("Authorization", authHeader(t, s))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != 201 {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	getReq := httptest.NewRequest("GET", "/v1/locations/bedroom", nil)
	getReq.Header.Set("Authorization", authHeader(t, s))
	getRec := httptest.NewRecorder()
	h.ServeHTTP(getRec, getReq)
	if getRec.Code != 200 {
		t.Fatalf("get: expected 200, got %d", getRec.Code)
	}

	var got locationJSON
	if err := json.Unmarshal(getRec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "bedroom" || got.ParentID != "house" {
		t.Errorf("got %+v", got)
	}
}

func TestHandleGetLocationNotFound(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	req := httptest.NewRequest("GET", "/v1/locations/nope", nil)
	req.Header.Set("Authorization", authHeader(t, s))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != 404 {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleDeleteLocationWithChildrenFails(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	req := httptest.NewRequest("DELETE", "/v1/locations/house", nil)
	req.Header.Set("Authorization", authHeader(t, s))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != 400 {
		t.Fatalf("expected 400 (has children), got %d", rec.Code)
	}
}

func TestHandleReparentLocation(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	body, _ := json.Marshal(createLocationRequest{ID: "pantry", Name: "Pantry", ParentID: "house"})
	req := httptest.NewRequest("POST", "/v1/locations", bytes.NewReader(body))
	req.Header.Set("Authorization", authHeader(t, s))
	h.ServeHTTP(httptest.NewRecorder(), req)

	reparentBody, _ := json.Marshal(reparentRequest{ParentID: "kitchen"})
	reparentReq := httptest.NewRequest("POST", "/v1/locations/pantry/reparent", bytes.NewReader(reparentBody))
	reparentReq.Header.Set("Authorization", authHeader(t, s))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, reparentReq)
	if rec.Code != 204 {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	getReq := httptest.NewRequest("GET", "/v1/locations/pantry", nil)
	getReq.Header.Set("Authorization", authHeader(t, s))
	getRec := httptest.NewRecorder()
	h.ServeHTTP(getRec, getReq)
	var got locationJSON
	json.Unmarshal(getRec.Body.Bytes(), &got)
	if got.ParentID != "kitchen" {
		t.Errorf("expected parent kitchen, got %q", got.ParentID)
	}
}

func TestHandleListLocationsRequiresAuth(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	req := httptest.NewRequest("GET", "/v1/locations", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != 401 {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}
