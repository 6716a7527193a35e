package githuboauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const oauthScope = "repo read:user"

var (
	// ErrNotConfigured indicates the OAuth client id/secret are missing.
	ErrNotConfigured = errors.New("githuboauth: client id and secret are not configured")
	// ErrExchangeFailed indicates GitHub rejected the code exchange or the
	// response carried no access token.
	ErrExchangeFailed = errors.New("githuboauth: token exchange failed")
	// ErrUpstream indicates GitHub's OAuth or API endpoints were unreachable.
	ErrUpstream = errors.New("githuboauth: github unreachable")
)

// Config holds the GitHub OAuth application settings.
type Config struct {
	AuthorizeURL string
	TokenURL     string
	APIBaseURL   string
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// Client performs the GitHub OAuth connect flow.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Profile is the subset of the GitHub user profile the service stores.
type Profile struct {
	Login string
	ID    string
}

// NewClient constructs an OAuth client.
func NewClient(cfg Config) *Client {
	if cfg.AuthorizeURL == "" {
		cfg.AuthorizeURL = "https://github.com/login/oauth/authorize"
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = "https://github.com/login/oauth/access_token"
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.github.com"
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
}

func (c *Client) ensureConfigured() error {
	if strings.TrimSpace(c.cfg.ClientID) == "" || strings.TrimSpace(c.cfg.ClientSecret) == "" {
		return ErrNotConfigured
	}
	return nil
}

// BuildAuthorizeURL returns the GitHub authorize URL carrying the state.
func (c *Client) BuildAuthorizeURL(state string) (string, error) {
	if err := c.ensureConfigured(); err != nil {
		return "", err
	}
	query := url.Values{
		"client_id":    {c.cfg.ClientID},
		"redirect_uri": {c.cfg.RedirectURI},
		"scope":        {oauthScope},
		"state":        {state},
	}
	return c.cfg.AuthorizeURL + "?" + query.Encode(), nil
}

// ExchangeCode swaps an authorization code for an access token.
func (c *Client) ExchangeCode(ctx context.Context, code string) (string, error) {
	if err := c.ensureConfigured(); err != nil {
		return "", err
	}
	form := url.Values{
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"code":          {code},
		"redirect_uri":  {c.cfg.RedirectURI},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", ErrExchangeFailed
	}
	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", ErrExchangeFailed
	}
	if strings.TrimSpace(body.AccessToken) == "" {
		return "", ErrExchangeFailed
	}
	return body.AccessToken, nil
}

// FetchProfile loads the authenticated user's GitHub login and id.
func (c *Client) FetchProfile(ctx context.Context, accessToken string) (Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIBaseURL+"/user", nil)
	if err != nil {
		return Profile{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return Profile{}, ErrExchangeFailed
	}
	var body struct {
		Login string `json:"login"`
		ID    int64  `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Profile{}, ErrExchangeFailed
	}
	profile := Profile{Login: body.Login}
	if body.ID != 0 {
		profile.ID = strconv.FormatInt(body.ID, 10)
	}
	return profile, nil
}
