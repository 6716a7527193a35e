package githubclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rhushiiii/code-lite2.0/pkg/domain"
)

const (
	defaultBaseURL = "https://api.github.com"
	defaultTimeout = 30 * time.Second

	apiVersion = "2022-11-28"

	reposPerPage = 100
	maxRepoPages = 3

	// maxConcurrentRepoFetches caps the per-repo open-PR fan-out so a wide
	// account cannot exhaust the caller's GitHub request budget.
	maxConcurrentRepoFetches = 5
)

// Client calls the GitHub REST API with caller-supplied tokens.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a GitHub API client. A non-positive timeout falls
// back to the default.
func NewClient(baseURL string, timeout time.Duration) *Client {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ValidateToken reports whether the token can fetch the caller's profile.
// Only transport failures produce an error; an upstream rejection is false.
func (c *Client) ValidateToken(ctx context.Context, token string) (bool, error) {
	resp, err := c.get(ctx, "/user", token, "application/vnd.github+json", nil)
	if err != nil {
		return false, upstreamUnavailable("Unable to validate GitHub token right now")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK, nil
}

// FetchPRDiff fetches the diff representation of a pull request plus the
// list of files it changes.
func (c *Client) FetchPRDiff(ctx context.Context, owner, repo string, prNumber int, token string) (string, []string, error) {
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d", owner, repo, prNumber)
	resp, err := c.get(ctx, path, token, "application/vnd.github.v3.diff", nil)
	if err != nil {
		return "", nil, upstreamUnavailable("Unable to reach GitHub API")
	}
	defer resp.Body.Close()

	if apiErr := classifyStatus(resp.StatusCode, "Unable to fetch pull request diff"); apiErr != nil {
		return "", nil, apiErr
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, upstreamUnavailable("Unable to reach GitHub API")
	}
	diff := string(body)
	if strings.TrimSpace(diff) == "" {
		return "", nil, ErrEmptyDiff
	}
	return diff, ExtractChangedFiles(diff), nil
}

// Repo is the subset of GitHub's repository payload the service consumes.
type Repo struct {
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	Private  bool   `json:"private"`
	HTMLURL  string `json:"html_url"`
	Owner    struct {
		Login string `json:"login"`
	} `json:"owner"`
}

// Pull is the subset of GitHub's pull-request payload the service consumes.
type Pull struct {
	Number    int    `json:"number"`
	Title     string `json:"title"`
	HTMLURL   string `json:"html_url"`
	State     string `json:"state"`
	Draft     bool   `json:"draft"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	User      struct {
		Login string `json:"login"`
	} `json:"user"`
}

// FetchUserRepos pages through the caller's accessible repositories, most
// recently updated first, stopping on a short or empty page.
func (c *Client) FetchUserRepos(ctx context.Context, token string) ([]Repo, error) {
	repos := make([]Repo, 0, reposPerPage)
	for page := 1; page <= maxRepoPages; page++ {
		params := url.Values{
			"sort":        {"updated"},
			"per_page":    {strconv.Itoa(reposPerPage)},
			"page":        {strconv.Itoa(page)},
			"affiliation": {"owner,collaborator,organization_member"},
		}
		var batch []Repo
		if err := c.getJSON(ctx, "/user/repos", token, params, "Unable to fetch repositories", &batch); err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		repos = append(repos, batch...)
		if len(batch) < reposPerPage {
			break
		}
	}
	return repos, nil
}

// FetchOpenPulls fetches open pull requests for one repository, most
// recently updated first, capped at perPage.
func (c *Client) FetchOpenPulls(ctx context.Context, token, owner, repo string, perPage int) ([]Pull, error) {
	if perPage <= 0 {
		perPage = 5
	}
	params := url.Values{
		"state":     {"open"},
		"per_page":  {strconv.Itoa(perPage)},
		"sort":      {"updated"},
		"direction": {"desc"},
	}
	path := fmt.Sprintf("/repos/%s/%s/pulls", owner, repo)
	var pulls []Pull
	if err := c.getJSON(ctx, path, token, params, "Unable to fetch pull requests", &pulls); err != nil {
		return nil, err
	}
	return pulls, nil
}

// ListReposWithPendingPulls fetches up to maxRepos repositories and fans out
// per-repo open-PR lookups with a bounded number in flight. Results keep the
// order repositories were returned by the listing call. Repositories missing
// owner or name are skipped; other failures abort the batch with the unified
// upstream error.
func (c *Client) ListReposWithPendingPulls(ctx context.Context, token string, maxRepos, pullsPerRepo int, onlyWithOpen bool) (int, []domain.RepoPendingPulls, error) {
	repos, err := c.FetchUserRepos(ctx, token)
	if err != nil {
		return 0, nil, err
	}
	if maxRepos > 0 && len(repos) > maxRepos {
		repos = repos[:maxRepos]
	}

	entries := make([]*domain.RepoPendingPulls, len(repos))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentRepoFetches)
	for i, repo := range repos {
		i, repo := i, repo
		g.Go(func() error {
			owner := strings.TrimSpace(repo.Owner.Login)
			name := strings.TrimSpace(repo.Name)
			if owner == "" || name == "" {
				return nil
			}
			pulls, err := c.FetchOpenPulls(gctx, token, owner, name, pullsPerRepo)
			if err != nil {
				return err
			}
			fullName := repo.FullName
			if fullName == "" {
				fullName = owner + "/" + name
			}
			entry := domain.RepoPendingPulls{
				Owner:               owner,
				Repo:                name,
				FullName:            fullName,
				Private:             repo.Private,
				HTMLURL:             repo.HTMLURL,
				PendingPRCount:      len(pulls),
				PendingPullRequests: make([]domain.PendingPullRequest, 0, len(pulls)),
			}
			for _, pr := range pulls {
				state := pr.State
				if state == "" {
					state = "open"
				}
				entry.PendingPullRequests = append(entry.PendingPullRequests, domain.PendingPullRequest{
					Number:    pr.Number,
					Title:     pr.Title,
					HTMLURL:   pr.HTMLURL,
					State:     state,
					Draft:     pr.Draft,
					CreatedAt: pr.CreatedAt,
					UpdatedAt: pr.UpdatedAt,
					Author:    pr.User.Login,
				})
			}
			if onlyWithOpen && entry.PendingPRCount == 0 {
				return nil
			}
			entries[i] = &entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, nil, err
	}

	out := make([]domain.RepoPendingPulls, 0, len(entries))
	for _, entry := range entries {
		if entry != nil {
			out = append(out, *entry)
		}
	}
	return len(repos), out, nil
}

// ExtractChangedFiles scans diff headers for "diff --git" lines and returns
// the post-change paths in order of first appearance, without duplicates.
func ExtractChangedFiles(diffText string) []string {
	files := make([]string, 0)
	seen := make(map[string]struct{})
	for _, line := range strings.Split(diffText, "\n") {
		if !strings.HasPrefix(line, "diff --git ") {
			continue
		}
		idx := strings.Index(line, " b/")
		if idx < 0 {
			continue
		}
		filename := strings.TrimSpace(line[idx+len(" b/"):])
		if filename == "" {
			continue
		}
		if _, ok := seen[filename]; ok {
			continue
		}
		seen[filename] = struct{}{}
		files = append(files, filename)
	}
	return files
}

func (c *Client) get(ctx context.Context, path, token, accept string, params url.Values) (*http.Response, error) {
	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", accept)
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	return c.httpClient.Do(req)
}

func (c *Client) getJSON(ctx context.Context, path, token string, params url.Values, fallback string, out any) error {
	resp, err := c.get(ctx, path, token, "application/vnd.github+json", params)
	if err != nil {
		return upstreamUnavailable("Unable to reach GitHub API")
	}
	defer resp.Body.Close()

	if apiErr := classifyStatus(resp.StatusCode, fallback); apiErr != nil {
		return apiErr
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return upstreamUnavailable("Unable to reach GitHub API")
	}
	return nil
}
