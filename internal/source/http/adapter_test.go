package http

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeSink struct {
	mu        sync.Mutex
	triggered []string
	cleared   []string
}

func (f *fakeSink) Trigger(locationID, sourceID string, _ *time.Duration, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggered = append(f.triggered, locationID+":"+sourceID)
	return nil
}

func (f *fakeSink) Clear(locationID, sourceID string, _ *time.Duration, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, locationID+":"+sourceID)
	return nil
}

func TestWebhookTrigger(t *testing.T) {
	sink := &fakeSink{}
	a := New(Config{Addr: "127.0.0.1:0"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go a.Run(ctx, sink)
	time.Sleep(50 * time.Millisecond)

	body := `{"location_id":"kitchen","source_id":"motion1","state":true,"timeout_seconds":60}`
	resp, err := http.Post("http://"+a.Addr().String()+"/events", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.triggered) != 1 || sink.triggered[0] != "kitchen:motion1" {
		t.Errorf("expected trigger for kitchen:motion1, got %v", sink.triggered)
	}
}

func TestWebhookRequiresLocationAndSource(t *testing.T) {
	sink := &fakeSink{}
	a := New(Config{Addr: "127.0.0.1:0"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go a.Run(ctx, sink)
	time.Sleep(50 * time.Millisecond)

	resp, err := http.Post("http://"+a.Addr().String()+"/events", "application/json", strings.NewReader(`{"state":true}`))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
