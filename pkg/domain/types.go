package domain

import "time"

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// ValidSeverity reports whether s is one of the three accepted levels.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

type User struct {
	ID                   string    `json:"id"`
	Email                string    `json:"email"`
	PasswordHash         string    `json:"-"`
	GithubID             string    `json:"github_id,omitempty"`
	GithubUsername       string    `json:"github_username,omitempty"`
	GithubTokenEncrypted string    `json:"-"`
	CreatedAt            time.Time `json:"created_at"`
}

// GithubConnected reports whether the user has a stored GitHub token.
func (u User) GithubConnected() bool {
	return u.GithubTokenEncrypted != ""
}

// Issue is one finding reported by the model about a diff.
type Issue struct {
	File        string   `json:"file"`
	Line        *int     `json:"line"`
	Severity    Severity `json:"severity"`
	Message     string   `json:"message"`
	CodeSnippet string   `json:"code_snippet,omitempty"`
	Suggestion  string   `json:"suggestion,omitempty"`
}

// AnalysisResult is the validated payload produced by one diff analysis.
// Issues is always non-nil, possibly empty.
type AnalysisResult struct {
	Issues       []Issue  `json:"issues"`
	ChangedFiles []string `json:"changed_files"`
}

// Review is one completed analysis, immutable once stored.
type Review struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	RepoName  string         `json:"repo_name"`
	PRNumber  int            `json:"pr_number"`
	Result    AnalysisResult `json:"result_json"`
	CreatedAt time.Time      `json:"created_at"`
}

// SeveritySummary counts issues per severity level.
type SeveritySummary struct {
	Low    int `json:"low"`
	Medium int `json:"medium"`
	High   int `json:"high"`
}

// PendingPullRequest is a transient read-model of one open GitHub PR.
type PendingPullRequest struct {
	Number    int    `json:"number"`
	Title     string `json:"title"`
	HTMLURL   string `json:"html_url"`
	State     string `json:"state"`
	Draft     bool   `json:"draft"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	Author    string `json:"author,omitempty"`
}

// RepoPendingPulls summarizes one repository's open pull requests.
type RepoPendingPulls struct {
	Owner               string               `json:"owner"`
	Repo                string               `json:"repo"`
	FullName            string               `json:"full_name"`
	Private             bool                 `json:"private"`
	HTMLURL             string               `json:"html_url"`
	PendingPRCount      int                  `json:"pending_pr_count"`
	PendingPullRequests []PendingPullRequest `json:"pending_pull_requests"`
}
