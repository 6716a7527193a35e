package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/rhushiiii/code-lite2.0/internal/githubclient"
	"github.com/rhushiiii/code-lite2.0/internal/githuboauth"
	"github.com/rhushiiii/code-lite2.0/pkg/domain"
)

func TestGithubConnectURLIssuesState(t *testing.T) {
	env := newTestEnv(t)
	token, user := env.signup(t, "link@example.com")

	rec := env.do(t, http.MethodGet, "/github/connect-url", "", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// The fake appends the raw state; it must verify back to the same user.
	parts := strings.SplitN(resp.URL, "&state=", 2)
	if len(parts) != 2 {
		t.Fatalf("no state in url %q", resp.URL)
	}
	userID, err := env.sessions.VerifyOAuthState(parts[1])
	if err != nil || userID != user.ID {
		t.Fatalf("state did not verify to user: %v / %q", err, userID)
	}
}

func TestGithubConnectURLNotConfigured(t *testing.T) {
	env := newTestEnv(t)
	env.oauth.authorizeErr = githuboauth.ErrNotConfigured
	token, _ := env.signup(t, "link@example.com")

	rec := env.do(t, http.MethodGet, "/github/connect-url", "", token)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestGithubCallbackConnects(t *testing.T) {
	env := newTestEnv(t)
	_, user := env.signup(t, "cb@example.com")
	env.oauth.profile = githuboauth.Profile{Login: "octocat", ID: "583231"}
	state, err := env.sessions.NewOAuthState(user.ID)
	if err != nil {
		t.Fatalf("state: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/github/callback?code=abc&state="+state, "", "")
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "http://localhost:3000/dashboard?github=connected" {
		t.Fatalf("location = %q", loc)
	}

	updated, _, _ := env.store.GetUserByID(user.ID)
	if !updated.GithubConnected() || updated.GithubUsername != "octocat" || updated.GithubID != "583231" {
		t.Fatalf("link not stored: %+v", updated)
	}
	plain, err := env.cipher.Decrypt(updated.GithubTokenEncrypted)
	if err != nil || plain != "gho_testtoken" {
		t.Fatalf("stored token = %q err %v", plain, err)
	}
}

func TestGithubCallbackOutcomes(t *testing.T) {
	env := newTestEnv(t)
	_, user := env.signup(t, "cb2@example.com")
	state, _ := env.sessions.NewOAuthState(user.ID)
	orphanState, _ := env.sessions.NewOAuthState("no-such-user")

	cases := []struct {
		name    string
		path    string
		prepare func()
		outcome string
	}{
		{"provider error", "/github/callback?error=access_denied", nil, "error"},
		{"missing code", "/github/callback?state=" + state, nil, "invalid_callback"},
		{"missing state", "/github/callback?code=abc", nil, "invalid_callback"},
		{"bad state", "/github/callback?code=abc&state=garbage", nil, "invalid_state"},
		{"unknown user", "/github/callback?code=abc&state=" + orphanState, nil, "user_not_found"},
		{
			"exchange failed", "/github/callback?code=abc&state=" + state,
			func() { env.oauth.exchangeErr = githuboauth.ErrExchangeFailed },
			"token_exchange_failed",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.prepare != nil {
				tc.prepare()
			}
			rec := env.do(t, http.MethodGet, tc.path, "", "")
			if rec.Code != http.StatusFound {
				t.Fatalf("status = %d, want 302", rec.Code)
			}
			want := "http://localhost:3000/dashboard?github=" + tc.outcome
			if loc := rec.Header().Get("Location"); loc != want {
				t.Fatalf("location = %q, want %q", loc, want)
			}
		})
	}
}

func TestGithubStatusAndDisconnect(t *testing.T) {
	env := newTestEnv(t)
	token, user := env.signup(t, "status@example.com")
	encrypted, _ := env.cipher.Encrypt("gho_secret")
	_ = env.store.SetGithubLink(user.ID, encrypted, "octocat", "1")

	rec := env.do(t, http.MethodGet, "/github/status", "", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var status struct {
		Connected bool   `json:"connected"`
		Username  string `json:"username"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !status.Connected || status.Username != "octocat" {
		t.Fatalf("unexpected status: %+v", status)
	}

	rec = env.do(t, http.MethodPost, "/github/disconnect", "", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("disconnect status = %d", rec.Code)
	}
	updated, _, _ := env.store.GetUserByID(user.ID)
	if updated.GithubConnected() || updated.GithubUsername != "" {
		t.Fatalf("link not cleared: %+v", updated)
	}
}

func TestReposPendingPullsRequiresLink(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.signup(t, "repos@example.com")

	rec := env.do(t, http.MethodGet, "/github/repos-pending-prs", "", token)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestReposPendingPulls(t *testing.T) {
	env := newTestEnv(t)
	token, user := env.signup(t, "repos2@example.com")
	encrypted, _ := env.cipher.Encrypt("gho_secret")
	_ = env.store.SetGithubLink(user.ID, encrypted, "octocat", "1")

	env.github.scanned = 4
	env.github.repos = []domain.RepoPendingPulls{
		{Owner: "octocat", Repo: "hello", FullName: "octocat/hello", PendingPRCount: 2},
	}

	rec := env.do(t, http.MethodGet, "/github/repos-pending-prs?max_repos=10", "", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if env.github.lastToken != "gho_secret" {
		t.Fatalf("github called with %q, want decrypted token", env.github.lastToken)
	}
	var resp struct {
		Scanned      int                       `json:"scanned"`
		Repositories []domain.RepoPendingPulls `json:"repositories"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Scanned != 4 || len(resp.Repositories) != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestReposPendingPullsMapsUpstreamErrors(t *testing.T) {
	env := newTestEnv(t)
	token, user := env.signup(t, "repos3@example.com")
	encrypted, _ := env.cipher.Encrypt("gho_secret")
	_ = env.store.SetGithubLink(user.ID, encrypted, "octocat", "1")
	env.github.err = &githubclient.APIError{
		Status:  http.StatusForbidden,
		Code:    githubclient.CodeRateLimitedOrForbidden,
		Message: "GitHub rate limit exceeded or access forbidden",
	}

	rec := env.do(t, http.MethodGet, "/github/repos-pending-prs", "", token)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	var notAPI = errors.New("boom")
	env.github.err = notAPI
	rec = env.do(t, http.MethodGet, "/github/repos-pending-prs", "", token)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}
