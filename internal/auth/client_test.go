package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"visadesk/internal/domain"
	"visadesk/internal/store"
)

func TestClient_Refresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/auth/refresh/" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["refresh"] != "r1" {
			t.Errorf("expected refresh key in body, got %v", body)
		}
		w.Write([]byte(`{"access":"a2"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/api/v1/", srv.Client())
	access, err := c.Refresh(context.Background(), "r1")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if access != "a2" {
		t.Fatalf("expected a2, got %q", access)
	}
}

func TestClient_RefreshMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"token":"x"}`))
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL, srv.Client()).Refresh(context.Background(), "r1"); err == nil {
		t.Fatal("expected error for response without access token")
	}
}

func TestSignInAndOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/login/" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"access":"a1","refresh":"r1","user":{"id":3,"email":"ops@example.com"}}`))
	}))
	defer srv.Close()

	st := store.NewMemoryStore(domain.Credential{})
	ctx := context.Background()
	if err := SignIn(ctx, NewClient(srv.URL, srv.Client()), st, "ops@example.com", "pw"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	cred, _ := st.LoadCredential(ctx)
	if cred.AccessToken != "a1" || cred.RefreshToken != "r1" || cred.Operator != "ops@example.com" {
		t.Fatalf("unexpected credential %+v", cred)
	}

	if err := SignOut(ctx, st); err != nil {
		t.Fatal(err)
	}
	cred, _ = st.LoadCredential(ctx)
	if !cred.IsZero() {
		t.Fatalf("expected cleared credential, got %+v", cred)
	}
}

func TestClient_LoginRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"invalid credentials"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL, srv.Client()).Login(context.Background(), "a", "b"); err == nil {
		t.Fatal("expected error for 401")
	}
}
