package review

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rhushiiii/code-lite2.0/pkg/domain"
	"github.com/rhushiiii/code-lite2.0/pkg/secrets"
	"github.com/rhushiiii/code-lite2.0/pkg/store"
)

var (
	// ErrTokenRequired means neither a request token nor a linked GitHub
	// account was available.
	ErrTokenRequired = errors.New("GitHub access is required. Connect your GitHub account or provide a token.")
	// ErrTokenDecryptionFailed means the stored GitHub token could not be
	// decrypted, usually after a key rotation.
	ErrTokenDecryptionFailed = errors.New("Stored GitHub token could not be decrypted. Reconnect GitHub.")
	// ErrInvalidToken means GitHub rejected the resolved token.
	ErrInvalidToken = errors.New("invalid GitHub token")
)

var repoNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Request carries one review submission.
type Request struct {
	RepoOwner   string `json:"repo_owner"`
	RepoName    string `json:"repo_name"`
	PRNumber    int    `json:"pr_number"`
	GithubToken string `json:"github_token,omitempty"`
}

// Validate rejects malformed submissions before any upstream call is made.
func (r Request) Validate() error {
	if r.RepoOwner == "" || len(r.RepoOwner) > 100 || !repoNamePattern.MatchString(r.RepoOwner) {
		return errors.New("repo_owner must match ^[A-Za-z0-9_.-]+$")
	}
	if r.RepoName == "" || len(r.RepoName) > 100 || !repoNamePattern.MatchString(r.RepoName) {
		return errors.New("repo_name must match ^[A-Za-z0-9_.-]+$")
	}
	if r.PRNumber < 1 {
		return errors.New("pr_number must be positive")
	}
	if r.GithubToken != "" && (len(r.GithubToken) < 20 || len(r.GithubToken) > 255) {
		return errors.New("github_token must be between 20 and 255 characters")
	}
	return nil
}

// GitHub is the subset of the GitHub API client the orchestrator needs.
type GitHub interface {
	ValidateToken(ctx context.Context, token string) (bool, error)
	FetchPRDiff(ctx context.Context, owner, repo string, prNumber int, token string) (string, []string, error)
}

// DiffAnalyzer produces an analysis result from a fetched diff.
type DiffAnalyzer interface {
	Analyze(ctx context.Context, diffText string, changedFiles []string) domain.AnalysisResult
}

// Service orchestrates a full review: token resolution, diff fetch, model
// analysis, and persistence.
type Service struct {
	store    store.Store
	github   GitHub
	analyzer DiffAnalyzer
	cipher   *secrets.Cipher
}

// NewService wires the orchestrator.
func NewService(st store.Store, github GitHub, analyzer DiffAnalyzer, cipher *secrets.Cipher) *Service {
	return &Service{store: st, github: github, analyzer: analyzer, cipher: cipher}
}

// RunReview executes one review for the given user and persists the result.
// Analysis degradation does not fail the review; token and upstream problems
// do, and nothing is persisted in that case.
func (s *Service) RunReview(ctx context.Context, user domain.User, req Request) (domain.Review, error) {
	token, err := s.resolveToken(user, req)
	if err != nil {
		return domain.Review{}, err
	}

	valid, err := s.github.ValidateToken(ctx, token)
	if err != nil {
		return domain.Review{}, err
	}
	if !valid {
		return domain.Review{}, ErrInvalidToken
	}

	diff, changedFiles, err := s.github.FetchPRDiff(ctx, req.RepoOwner, req.RepoName, req.PRNumber, token)
	if err != nil {
		return domain.Review{}, err
	}

	result := s.analyzer.Analyze(ctx, diff, changedFiles)

	record := domain.Review{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		RepoName:  fmt.Sprintf("%s/%s", req.RepoOwner, req.RepoName),
		PRNumber:  req.PRNumber,
		Result:    result,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateReview(record); err != nil {
		return domain.Review{}, fmt.Errorf("persist review: %w", err)
	}
	return record, nil
}

// resolveToken prefers an explicit request token over the stored encrypted
// one.
func (s *Service) resolveToken(user domain.User, req Request) (string, error) {
	if req.GithubToken != "" {
		return req.GithubToken, nil
	}
	if user.GithubTokenEncrypted == "" {
		return "", ErrTokenRequired
	}
	token, err := s.cipher.Decrypt(user.GithubTokenEncrypted)
	if err != nil {
		return "", ErrTokenDecryptionFailed
	}
	return token, nil
}

// ListReviews returns the user's reviews, newest first.
func (s *Service) ListReviews(userID string, limit int) ([]domain.Review, error) {
	return s.store.ListReviewsByUser(userID, limit)
}

// SummarizeSeverity counts issues per severity level. Unknown levels are
// ignored; matching is case-insensitive.
func SummarizeSeverity(issues []domain.Issue) domain.SeveritySummary {
	var summary domain.SeveritySummary
	for _, issue := range issues {
		switch domain.Severity(strings.ToLower(string(issue.Severity))) {
		case domain.SeverityLow:
			summary.Low++
		case domain.SeverityMedium:
			summary.Medium++
		case domain.SeverityHigh:
			summary.High++
		}
	}
	return summary
}
