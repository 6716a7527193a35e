package githuboauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestBuildAuthorizeURL(t *testing.T) {
	client := NewClient(Config{
		ClientID:     "cid",
		ClientSecret: "secret",
		RedirectURI:  "http://localhost:8000/github/callback",
	})
	raw, err := client.BuildAuthorizeURL("state-token")
	if err != nil {
		t.Fatalf("build url: %v", err)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	q := parsed.Query()
	if q.Get("client_id") != "cid" || q.Get("state") != "state-token" {
		t.Fatalf("unexpected query %v", q)
	}
	if !strings.Contains(q.Get("scope"), "repo") {
		t.Fatalf("scope missing repo: %q", q.Get("scope"))
	}
}

func TestBuildAuthorizeURLRequiresConfig(t *testing.T) {
	client := NewClient(Config{})
	if _, err := client.BuildAuthorizeURL("state"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestExchangeCode(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("code") != "the-code" {
			t.Errorf("unexpected form %v", r.PostForm)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "gho_token"})
	}))
	defer ts.Close()

	client := NewClient(Config{ClientID: "cid", ClientSecret: "secret", TokenURL: ts.URL})
	token, err := client.ExchangeCode(context.Background(), "the-code")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if token != "gho_token" {
		t.Fatalf("unexpected token %q", token)
	}
}

func TestExchangeCodeFailures(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "bad_verification_code"})
	}))
	defer ts.Close()

	client := NewClient(Config{ClientID: "cid", ClientSecret: "secret", TokenURL: ts.URL})
	if _, err := client.ExchangeCode(context.Background(), "stale"); !errors.Is(err, ErrExchangeFailed) {
		t.Fatalf("expected ErrExchangeFailed for missing token, got %v", err)
	}
}

func TestFetchProfile(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"login": "octocat", "id": 583231})
	}))
	defer ts.Close()

	client := NewClient(Config{ClientID: "cid", ClientSecret: "secret", APIBaseURL: ts.URL})
	profile, err := client.FetchProfile(context.Background(), "gho_token")
	if err != nil {
		t.Fatalf("fetch profile: %v", err)
	}
	if profile.Login != "octocat" || profile.ID != "583231" {
		t.Fatalf("unexpected profile %+v", profile)
	}
}
