package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/mail"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rhushiiii/code-lite2.0/internal/githubclient"
	"github.com/rhushiiii/code-lite2.0/internal/githuboauth"
	"github.com/rhushiiii/code-lite2.0/internal/ratelimit"
	"github.com/rhushiiii/code-lite2.0/internal/review"
	"github.com/rhushiiii/code-lite2.0/internal/sessiontoken"
	"github.com/rhushiiii/code-lite2.0/internal/util"
	"github.com/rhushiiii/code-lite2.0/pkg/auth"
	"github.com/rhushiiii/code-lite2.0/pkg/domain"
	"github.com/rhushiiii/code-lite2.0/pkg/secrets"
	"github.com/rhushiiii/code-lite2.0/pkg/store"
)

const (
	defaultPendingMaxRepos     = 30
	defaultPullsPerRepo        = 5
	defaultReviewListLimit     = 50
	rateLimitRetryAfterSeconds = "60"
)

// githubAPI is the part of the GitHub client the server calls directly.
type githubAPI interface {
	ListReposWithPendingPulls(ctx context.Context, token string, maxRepos, pullsPerRepo int, onlyWithOpen bool) (int, []domain.RepoPendingPulls, error)
}

// oauthClient performs the GitHub OAuth linking handshake.
type oauthClient interface {
	BuildAuthorizeURL(state string) (string, error)
	ExchangeCode(ctx context.Context, code string) (string, error)
	FetchProfile(ctx context.Context, accessToken string) (githuboauth.Profile, error)
}

// reviewRunner runs and lists reviews.
type reviewRunner interface {
	RunReview(ctx context.Context, user domain.User, req review.Request) (domain.Review, error)
	ListReviews(userID string, limit int) ([]domain.Review, error)
}

// Config carries the server's dependencies.
type Config struct {
	Store    store.Store
	Sessions *sessiontoken.Manager
	Cipher   *secrets.Cipher
	GitHub   githubAPI
	OAuth    oauthClient
	Reviews  reviewRunner

	FrontendURL string
	CORSOrigins []string

	GeneralLimiter ratelimit.Limiter
	ReviewLimiter  ratelimit.Limiter
}

// Server exposes the HTTP API.
type Server struct {
	store    store.Store
	sessions *sessiontoken.Manager
	cipher   *secrets.Cipher
	github   githubAPI
	oauth    oauthClient
	reviews  reviewRunner

	frontendURL string
	corsOrigins []string

	generalLimiter ratelimit.Limiter
	reviewLimiter  ratelimit.Limiter

	mux *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		store:          cfg.Store,
		sessions:       cfg.Sessions,
		cipher:         cfg.Cipher,
		github:         cfg.GitHub,
		oauth:          cfg.OAuth,
		reviews:        cfg.Reviews,
		frontendURL:    strings.TrimRight(cfg.FrontendURL, "/"),
		corsOrigins:    cfg.CORSOrigins,
		generalLimiter: cfg.GeneralLimiter,
		reviewLimiter:  cfg.ReviewLimiter,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/auth/signup", s.handleSignup)
	s.mux.HandleFunc("/auth/login", s.handleLogin)
	s.mux.Handle("/auth/me", s.authenticated(s.handleMe))

	// github linking
	s.mux.Handle("/github/connect-url", s.authenticated(s.handleGithubConnectURL))
	s.mux.Handle("/github/status", s.authenticated(s.handleGithubStatus))
	s.mux.HandleFunc("/github/callback", s.handleGithubCallback)
	s.mux.Handle("/github/disconnect", s.authenticated(s.handleGithubDisconnect))
	s.mux.Handle("/github/repos-pending-prs", s.authenticated(s.handleReposPendingPulls))

	// reviews
	s.mux.Handle("/review", s.authenticated(s.handleCreateReview))
	s.mux.Handle("/reviews", s.authenticated(s.handleListReviews))
}

// Handler wraps the mux in the middleware chain.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.withRateLimit(s.mux)
	h = util.WithCORS(s.corsOrigins, h)
	h = util.WithSecurityHeaders(h)
	h = util.WithRequestLog(h)
	return util.WithRequestID(h)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) authorize(r *http.Request) (domain.User, bool) {
	token := bearerToken(r)
	if token == "" {
		s.audit(r, "auth.authorize", "fail", "reason", "missing_token")
		return domain.User{}, false
	}
	userID, err := s.sessions.VerifyUserID(token)
	if err != nil {
		s.audit(r, "auth.authorize", "fail", "reason", "invalid_token")
		return domain.User{}, false
	}
	user, ok, err := s.store.GetUserByID(userID)
	if err != nil || !ok {
		s.audit(r, "auth.authorize", "fail", "reason", "unknown_user")
		return domain.User{}, false
	}
	return user, true
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		slog.Warn("missing bearer prefix", "path", r.URL.Path)
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}

// signup / login

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Token string      `json:"token"`
	User  userPayload `json:"user"`
}

type userPayload struct {
	ID              string `json:"id"`
	Email           string `json:"email"`
	GithubConnected bool   `json:"github_connected"`
	GithubUsername  string `json:"github_username,omitempty"`
	CreatedAt       string `json:"created_at"`
}

func toUserPayload(u domain.User) userPayload {
	return userPayload{
		ID:              u.ID,
		Email:           u.Email,
		GithubConnected: u.GithubConnected(),
		GithubUsername:  u.GithubUsername,
		CreatedAt:       u.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		writeError(w, http.StatusBadRequest, "invalid email address")
		return
	}
	if err := auth.ValidatePassword(req.Password); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	exists, err := s.store.HasUserEmail(email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	if exists {
		s.audit(r, "auth.signup", "fail", "reason", "email_taken")
		writeError(w, http.StatusConflict, "email already registered")
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not hash password")
		return
	}
	user := domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.SaveUser(user); err != nil {
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	token, err := s.sessions.NewAccessToken(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not issue session")
		return
	}
	s.audit(r, "auth.signup", "success", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, sessionResponse{Token: token, User: toUserPayload(user)})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	user, ok, err := s.store.GetUserByEmail(email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	if !ok || !auth.CheckPassword(req.Password, user.PasswordHash) {
		s.audit(r, "auth.login", "fail", "email", email)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	token, err := s.sessions.NewAccessToken(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not issue session")
		return
	}
	s.audit(r, "auth.login", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, sessionResponse{Token: token, User: toUserPayload(user)})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, toUserPayload(user))
}

// github linking

func (s *Server) handleGithubConnectURL(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	state, err := s.sessions.NewOAuthState(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not issue state")
		return
	}
	authorizeURL, err := s.oauth.BuildAuthorizeURL(state)
	if err != nil {
		if errors.Is(err, githuboauth.ErrNotConfigured) {
			writeError(w, http.StatusServiceUnavailable, "GitHub OAuth is not configured")
			return
		}
		writeError(w, http.StatusInternalServerError, "could not build authorize url")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": authorizeURL})
}

func (s *Server) handleGithubStatus(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"connected": user.GithubConnected(),
		"username":  user.GithubUsername,
	})
}

// handleGithubCallback completes the OAuth handshake. The browser arrives here
// without a session header, so identity comes from the signed state token and
// every outcome is reported by redirecting back to the frontend dashboard.
func (s *Server) handleGithubCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	if q.Get("error") != "" {
		s.audit(r, "github.callback", "fail", "reason", "provider_error")
		s.redirectDashboard(w, r, "error")
		return
	}
	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		s.audit(r, "github.callback", "fail", "reason", "missing_params")
		s.redirectDashboard(w, r, "invalid_callback")
		return
	}
	userID, err := s.sessions.VerifyOAuthState(state)
	if err != nil {
		s.audit(r, "github.callback", "fail", "reason", "invalid_state")
		s.redirectDashboard(w, r, "invalid_state")
		return
	}
	user, ok, err := s.store.GetUserByID(userID)
	if err != nil || !ok {
		s.audit(r, "github.callback", "fail", "reason", "user_not_found")
		s.redirectDashboard(w, r, "user_not_found")
		return
	}
	accessToken, err := s.oauth.ExchangeCode(r.Context(), code)
	if err != nil {
		s.audit(r, "github.callback", "fail", "reason", "token_exchange_failed", "err", err.Error())
		s.redirectDashboard(w, r, "token_exchange_failed")
		return
	}
	profile, err := s.oauth.FetchProfile(r.Context(), accessToken)
	if err != nil {
		s.audit(r, "github.callback", "fail", "reason", "profile_fetch_failed", "err", err.Error())
		s.redirectDashboard(w, r, "token_exchange_failed")
		return
	}
	encrypted, err := s.cipher.Encrypt(accessToken)
	if err != nil {
		s.audit(r, "github.callback", "fail", "reason", "encrypt_failed")
		s.redirectDashboard(w, r, "error")
		return
	}
	if err := s.store.SetGithubLink(user.ID, encrypted, profile.Login, profile.ID); err != nil {
		s.audit(r, "github.callback", "fail", "reason", "storage")
		s.redirectDashboard(w, r, "error")
		return
	}
	s.audit(r, "github.callback", "success", "user_id", user.ID, "github_login", profile.Login)
	s.redirectDashboard(w, r, "connected")
}

func (s *Server) redirectDashboard(w http.ResponseWriter, r *http.Request, outcome string) {
	target := s.frontendURL + "/dashboard?github=" + url.QueryEscape(outcome)
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) handleGithubDisconnect(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := s.store.ClearGithubLink(user.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	s.audit(r, "github.disconnect", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, map[string]bool{"disconnected": true})
}

func (s *Server) handleReposPendingPulls(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !user.GithubConnected() {
		writeError(w, http.StatusBadRequest, "GitHub access is required. Connect your GitHub account or provide a token.")
		return
	}
	token, err := s.cipher.Decrypt(user.GithubTokenEncrypted)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Stored GitHub token could not be decrypted. Reconnect GitHub.")
		return
	}

	q := r.URL.Query()
	maxRepos := queryInt(q, "max_repos", defaultPendingMaxRepos)
	pullsPerRepo := queryInt(q, "pulls_per_repo", defaultPullsPerRepo)
	onlyWithOpen := q.Get("only_with_open") != "false"

	scanned, repos, err := s.github.ListReposWithPendingPulls(r.Context(), token, maxRepos, pullsPerRepo, onlyWithOpen)
	if err != nil {
		writeGithubError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scanned":      scanned,
		"repositories": repos,
	})
}

// reviews

type reviewPayload struct {
	ID        string                 `json:"id"`
	RepoName  string                 `json:"repo_name"`
	PRNumber  int                    `json:"pr_number"`
	Result    domain.AnalysisResult  `json:"result"`
	Summary   domain.SeveritySummary `json:"summary"`
	CreatedAt string                 `json:"created_at"`
}

func toReviewPayload(r domain.Review) reviewPayload {
	return reviewPayload{
		ID:        r.ID,
		RepoName:  r.RepoName,
		PRNumber:  r.PRNumber,
		Result:    r.Result,
		Summary:   review.SummarizeSeverity(r.Result.Issues),
		CreatedAt: r.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleCreateReview(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req review.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	record, err := s.reviews.RunReview(r.Context(), user, req)
	if err != nil {
		s.audit(r, "review.run", "fail", "user_id", user.ID, "repo", req.RepoOwner+"/"+req.RepoName, "err", err.Error())
		writeReviewError(w, err)
		return
	}
	s.audit(r, "review.run", "success", "user_id", user.ID, "review_id", record.ID)
	writeJSON(w, http.StatusCreated, toReviewPayload(record))
}

func (s *Server) handleListReviews(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit := queryInt(r.URL.Query(), "limit", defaultReviewListLimit)
	records, err := s.reviews.ListReviews(user.ID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	payload := make([]reviewPayload, 0, len(records))
	for _, rec := range records {
		payload = append(payload, toReviewPayload(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"reviews": payload})
}

// error mapping

func writeReviewError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, review.ErrTokenRequired):
		writeError(w, http.StatusBadRequest, review.ErrTokenRequired.Error())
	case errors.Is(err, review.ErrTokenDecryptionFailed):
		writeError(w, http.StatusBadRequest, review.ErrTokenDecryptionFailed.Error())
	case errors.Is(err, review.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "GitHub rejected the provided token")
	default:
		writeGithubError(w, err)
	}
}

func writeGithubError(w http.ResponseWriter, err error) {
	var apiErr *githubclient.APIError
	if errors.As(err, &apiErr) {
		writeError(w, apiErr.Status, apiErr.Message)
		return
	}
	if errors.Is(err, githubclient.ErrEmptyDiff) {
		writeError(w, http.StatusUnprocessableEntity, "pull request diff is empty")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}

// rate limiting

// withRateLimit applies the per-tier sliding window. Review creation gets the
// strict limiter, health checks are exempt, everything else shares the
// general limiter.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}
		limiter := s.generalLimiter
		if r.URL.Path == "/review" && r.Method == http.MethodPost {
			limiter = s.reviewLimiter
		}
		if limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := util.ClientIP(r) + "|" + r.URL.Path
		if !limiter.Allow(key) {
			s.audit(r, "ratelimit.reject", "fail", "key", key)
			w.Header().Set("Retry-After", rateLimitRetryAfterSeconds)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded, retry later")
			return
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
		next.ServeHTTP(w, r)
	})
}

// helpers

func queryInt(q url.Values, key string, fallback int) int {
	raw := q.Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
