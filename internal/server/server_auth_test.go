package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rhushiiii/code-lite2.0/internal/githuboauth"
	"github.com/rhushiiii/code-lite2.0/internal/review"
	"github.com/rhushiiii/code-lite2.0/internal/sessiontoken"
	"github.com/rhushiiii/code-lite2.0/pkg/domain"
	"github.com/rhushiiii/code-lite2.0/pkg/secrets"
	"github.com/rhushiiii/code-lite2.0/pkg/store"
)

type fakeGithubAPI struct {
	scanned   int
	repos     []domain.RepoPendingPulls
	err       error
	lastToken string
}

func (f *fakeGithubAPI) ListReposWithPendingPulls(_ context.Context, token string, _, _ int, _ bool) (int, []domain.RepoPendingPulls, error) {
	f.lastToken = token
	if f.err != nil {
		return 0, nil, f.err
	}
	return f.scanned, f.repos, nil
}

type fakeOAuth struct {
	authorizeURL string
	authorizeErr error
	accessToken  string
	exchangeErr  error
	profile      githuboauth.Profile
	profileErr   error
}

func (f *fakeOAuth) BuildAuthorizeURL(state string) (string, error) {
	if f.authorizeErr != nil {
		return "", f.authorizeErr
	}
	return f.authorizeURL + "&state=" + state, nil
}

func (f *fakeOAuth) ExchangeCode(_ context.Context, _ string) (string, error) {
	if f.exchangeErr != nil {
		return "", f.exchangeErr
	}
	return f.accessToken, nil
}

func (f *fakeOAuth) FetchProfile(_ context.Context, _ string) (githuboauth.Profile, error) {
	if f.profileErr != nil {
		return githuboauth.Profile{}, f.profileErr
	}
	return f.profile, nil
}

type fakeReviews struct {
	record   domain.Review
	err      error
	listed   []domain.Review
	listErr  error
	lastUser domain.User
	lastReq  review.Request
}

func (f *fakeReviews) RunReview(_ context.Context, user domain.User, req review.Request) (domain.Review, error) {
	f.lastUser = user
	f.lastReq = req
	if f.err != nil {
		return domain.Review{}, f.err
	}
	return f.record, nil
}

func (f *fakeReviews) ListReviews(_ string, _ int) ([]domain.Review, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.listed, nil
}

type testEnv struct {
	server   *Server
	store    *store.MemoryStore
	sessions *sessiontoken.Manager
	cipher   *secrets.Cipher
	github   *fakeGithubAPI
	oauth    *fakeOAuth
	reviews  *fakeReviews
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	sessions, err := sessiontoken.NewManager("unit-test-secret", time.Hour)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	cipher, err := secrets.NewCipher("", "unit-test-secret")
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	env := &testEnv{
		store:    store.NewMemoryStore(),
		sessions: sessions,
		cipher:   cipher,
		github:   &fakeGithubAPI{},
		oauth:    &fakeOAuth{authorizeURL: "https://github.com/login/oauth/authorize?client_id=x", accessToken: "gho_testtoken"},
		reviews:  &fakeReviews{},
	}
	env.server = New(Config{
		Store:       env.store,
		Sessions:    sessions,
		Cipher:      cipher,
		GitHub:      env.github,
		OAuth:       env.oauth,
		Reviews:     env.reviews,
		FrontendURL: "http://localhost:3000",
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func newAuthedRequest(method, path, token string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(""))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func doRaw(env *testEnv, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) signup(t *testing.T, email string) (string, domain.User) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/auth/signup", `{"email":"`+email+`","password":"hunter22!"}`, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
		User  struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode signup response: %v", err)
	}
	user, ok, _ := e.store.GetUserByID(resp.User.ID)
	if !ok {
		t.Fatal("signup did not persist the user")
	}
	return resp.Token, user
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSignupAndLogin(t *testing.T) {
	env := newTestEnv(t)
	token, user := env.signup(t, "dev@example.com")
	if token == "" {
		t.Fatal("signup should return a session token")
	}
	if user.Email != "dev@example.com" {
		t.Fatalf("email = %q", user.Email)
	}

	rec := env.do(t, http.MethodPost, "/auth/login", `{"email":"dev@example.com","password":"hunter22!"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/auth/login", `{"email":"dev@example.com","password":"wrong-password"}`, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad password status = %d, want 401", rec.Code)
	}
}

func TestSignupValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		name string
		body string
		want int
	}{
		{"bad json", "{", http.StatusBadRequest},
		{"bad email", `{"email":"not-an-email","password":"hunter22!"}`, http.StatusBadRequest},
		{"short password", `{"email":"a@example.com","password":"short"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/auth/signup", tc.body, "")
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestSignupDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "dup@example.com")
	rec := env.do(t, http.MethodPost, "/auth/signup", `{"email":"dup@example.com","password":"hunter22!"}`, "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestMeRequiresAuth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/auth/me", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/auth/me", "", "not-a-jwt")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token status = %d, want 401", rec.Code)
	}
}

func TestMeReturnsProfile(t *testing.T) {
	env := newTestEnv(t)
	token, user := env.signup(t, "me@example.com")

	rec := env.do(t, http.MethodGet, "/auth/me", "", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var payload struct {
		ID              string `json:"id"`
		Email           string `json:"email"`
		GithubConnected bool   `json:"github_connected"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.ID != user.ID || payload.Email != "me@example.com" || payload.GithubConnected {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestOAuthStateRejectedAsSessionToken(t *testing.T) {
	env := newTestEnv(t)
	_, user := env.signup(t, "state@example.com")
	state, err := env.sessions.NewOAuthState(user.ID)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	rec := env.do(t, http.MethodGet, "/auth/me", "", state)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("oauth state used as session: status = %d, want 401", rec.Code)
	}
}
