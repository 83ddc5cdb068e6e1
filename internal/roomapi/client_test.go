package roomapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/party-room-system/pkg/models"
)

func TestValidRoomCode(t *testing.T) {
	valid := []string{"ABC123", "abc123", "XYZXYZ", " ABC123 "}
	for _, code := range valid {
		if !ValidRoomCode(code) {
			t.Errorf("ValidRoomCode(%q) = false, want true", code)
		}
	}

	invalid := []string{"", "   ", "undefined", "UNDEFINED", "Undefined", "AB-123", "AB 123", "AB¢123"}
	for _, code := range invalid {
		if ValidRoomCode(code) {
			t.Errorf("ValidRoomCode(%q) = true, want false", code)
		}
	}
}

func TestNormalizeCode(t *testing.T) {
	if got := NormalizeCode(" abc123 "); got != "ABC123" {
		t.Errorf("NormalizeCode = %q, want ABC123", got)
	}
}

func TestClientRejectsInvalidCodeLocally(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.JoinRoom(context.Background(), "undefined", "bob")
	if !errors.Is(err, ErrInvalidRoomCode) {
		t.Fatalf("err = %v, want ErrInvalidRoomCode", err)
	}
	if called {
		t.Error("invalid code must not produce a request")
	}
	if IsRejection(err) || IsTransport(err) {
		t.Error("invalid code is neither a rejection nor a transport failure")
	}
}

func TestClientNormalizesCodeOnTheWire(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(models.RoomState{})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if _, err := c.GetRoomState(context.Background(), "abc123"); err != nil {
		t.Fatalf("GetRoomState: %v", err)
	}
	if gotPath != "/rooms/ABC123/state" {
		t.Errorf("path = %q, want /rooms/ABC123/state", gotPath)
	}
}

func TestClientClassifiesRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "room not found"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.GetRoomState(context.Background(), "ABC123")
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsRejection(err) {
		t.Errorf("404 should classify as rejection: %v", err)
	}
	if IsTransport(err) {
		t.Error("a rejection is not a transport failure")
	}

	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %T, want *Error", err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", apiErr.StatusCode)
	}
	if apiErr.Message != "room not found" {
		t.Errorf("message = %q", apiErr.Message)
	}
}

func TestClientClassifiesDetailBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"detail": "no track selected"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Vote(context.Background(), "ABC123", "bob", true)

	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %T, want *Error", err)
	}
	if apiErr.Message != "no track selected" {
		t.Errorf("message = %q, want detail field fallback", apiErr.Message)
	}
}

func TestClientClassifiesTransport(t *testing.T) {
	// 5xx is a transport failure, not a rejection.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	c := NewClient(srv.URL)
	_, err := c.GetRoomState(context.Background(), "ABC123")
	if !IsTransport(err) {
		t.Errorf("502 should classify as transport: %v", err)
	}

	// So is a connection that never completes.
	srv.Close()
	_, err = c.GetRoomState(context.Background(), "ABC123")
	if err == nil {
		t.Fatal("expected connection failure")
	}
	if !IsTransport(err) {
		t.Errorf("connection failure should classify as transport: %v", err)
	}
	if IsRejection(err) {
		t.Error("connection failure is not a rejection")
	}
}
