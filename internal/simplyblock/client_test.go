package simplyblock

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSetIOPSSendsAuthenticatedPUT(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody setIOPSRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret-token")
	if err := c.SetIOPS(context.Background(), "vol-123", 5000); err != nil {
		t.Fatalf("SetIOPS: %v", err)
	}

	if gotPath != "/volumes/vol-123/iops" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotBody.IOPS != 5000 {
		t.Errorf("IOPS = %d, want 5000", gotBody.IOPS)
	}
}

func TestSetIOPSErrorsOnNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	if err := c.SetIOPS(context.Background(), "vol-123", 5000); err == nil {
		t.Fatalf("expected error on 500 response")
	}
}
