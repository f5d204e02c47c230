package health

import (
	"net/http/httptest"
	"testing"
)

type fakeBus struct{ connected bool }

func (f fakeBus) IsConnected() bool { return f.connected }

type fakeCapacity struct {
	active   int64
	atTarget bool
}

func (f fakeCapacity) ActiveConnections() int64 { return f.active }
func (f fakeCapacity) AtTarget() bool           { return f.atTarget }

func TestHealthReflectsBusConnectivity(t *testing.T) {
	h := NewHandler(fakeBus{connected: false}, fakeCapacity{}, Config{ServerName: "odin-cdn"})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	h.Mux().ServeHTTP(rec, req)
	if rec.Code != 503 {
		t.Fatalf("expected 503 when bus disconnected, got %d", rec.Code)
	}
}

func TestCapacityDrainsAtTarget(t *testing.T) {
	h := NewHandler(fakeBus{connected: true}, fakeCapacity{active: 8, atTarget: true}, Config{ConnectionLimit: 10, ServerName: "odin-cdn"})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/capacity", nil)
	h.Mux().ServeHTTP(rec, req)
	if rec.Code != 503 {
		t.Fatalf("expected 503 at soft target, got %d", rec.Code)
	}
}

func TestCapacityOKBelowTarget(t *testing.T) {
	h := NewHandler(fakeBus{connected: true}, fakeCapacity{active: 2, atTarget: false}, Config{ConnectionLimit: 10, ServerName: "odin-cdn"})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/capacity", nil)
	h.Mux().ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("expected 200 below target, got %d", rec.Code)
	}
}
