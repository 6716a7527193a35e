package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/rhushiiii/code-lite2.0/pkg/ai"
	"github.com/rhushiiii/code-lite2.0/pkg/domain"
)

const (
	defaultMaxRetries   = 3
	defaultMaxDiffChars = 18000
)

// Analyzer turns raw pull-request diffs into validated issue lists by
// prompting a local model and coercing its free-text output into the strict
// result schema. Analyze never fails: exhausted retries produce a degraded
// single-issue result instead.
type Analyzer struct {
	gen          ai.Generator
	maxRetries   int
	maxDiffChars int
}

// NewAnalyzer constructs an Analyzer. Non-positive bounds fall back to
// defaults.
func NewAnalyzer(gen ai.Generator, maxRetries, maxDiffChars int) *Analyzer {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if maxDiffChars <= 0 {
		maxDiffChars = defaultMaxDiffChars
	}
	return &Analyzer{gen: gen, maxRetries: maxRetries, maxDiffChars: maxDiffChars}
}

// Analyze runs the model over the diff and validates its output, retrying on
// any failure up to the configured attempt bound.
func (a *Analyzer) Analyze(ctx context.Context, diffText string, changedFiles []string) domain.AnalysisResult {
	if changedFiles == nil {
		changedFiles = []string{}
	}
	truncated := diffText
	if len(truncated) > a.maxDiffChars {
		truncated = truncated[:a.maxDiffChars]
	}
	prompt := buildPrompt(truncated, changedFiles)

	logger := slog.Default()
	var lastErr error
	for attempt := 1; attempt <= a.maxRetries; attempt++ {
		issues, err := a.attempt(ctx, prompt)
		if err == nil {
			return domain.AnalysisResult{Issues: issues, ChangedFiles: changedFiles}
		}
		lastErr = err
		logger.Warn("model analysis attempt failed", "attempt", attempt, "err", err)
	}
	logger.Error("model analysis failed after retries", "attempts", a.maxRetries, "err", lastErr)

	return DegradedResult(changedFiles)
}

func (a *Analyzer) attempt(ctx context.Context, prompt string) ([]domain.Issue, error) {
	raw, err := a.gen.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return parseModelOutput(raw)
}

// DegradedResult is the fallback payload used when every model attempt
// failed. Review creation still succeeds with this single synthetic issue.
func DegradedResult(changedFiles []string) domain.AnalysisResult {
	if changedFiles == nil {
		changedFiles = []string{}
	}
	return domain.AnalysisResult{
		Issues: []domain.Issue{
			{
				File:       "system",
				Severity:   domain.SeverityLow,
				Message:    "Review completed with limited AI analysis due to LLM response error.",
				Suggestion: "Retry in a minute or verify your Ollama model is running.",
			},
		},
		ChangedFiles: changedFiles,
	}
}

func buildPrompt(diffText string, changedFiles []string) string {
	var files strings.Builder
	if len(changedFiles) == 0 {
		files.WriteString("- none")
	} else {
		for i, name := range changedFiles {
			if i > 0 {
				files.WriteString("\n")
			}
			files.WriteString("- ")
			files.WriteString(name)
		}
	}

	return fmt.Sprintf(`You are a principal code reviewer focusing on security and quality.
Analyze the provided git diff and return ONLY valid minified JSON with this exact schema:
{
  "issues": [
    {
      "file": "string",
      "line": 1,
      "severity": "low|medium|high",
      "message": "string",
      "code_snippet": "string",
      "suggestion": "string"
    }
  ]
}

Rules:
- Must detect: SQL injection risks, hardcoded secrets, performance problems, security flaws, and code quality issues.
- If no issues are found, return {"issues":[]}.
- `+"`severity`"+` must be one of: low, medium, high.
- Use line as integer when possible, otherwise null.
- Never include markdown, explanation, or extra keys.

Changed files:
%s

Diff:
%s`, files.String(), diffText)
}

// parseModelOutput decodes, normalizes, and validates one raw model reply.
func parseModelOutput(raw string) ([]domain.Issue, error) {
	data, err := safeJSONLoad(raw)
	if err != nil {
		return nil, err
	}

	// Models occasionally return a bare issue list.
	if list, ok := data.([]any); ok {
		data = map[string]any{"issues": list}
	}

	payload, ok := data.(map[string]any)
	if !ok {
		return nil, errors.New("model output is not a JSON object")
	}
	rawIssues, ok := payload["issues"]
	if !ok {
		return nil, errors.New("model output is missing 'issues'")
	}
	issueList, ok := rawIssues.([]any)
	if !ok {
		return nil, errors.New("'issues' is not a list")
	}

	issues := make([]domain.Issue, 0, len(issueList))
	for i, item := range issueList {
		issue, err := normalizeIssue(item)
		if err != nil {
			return nil, fmt.Errorf("issue %d: %w", i, err)
		}
		issues = append(issues, issue)
	}
	return issues, nil
}

func normalizeIssue(item any) (domain.Issue, error) {
	fields, ok := item.(map[string]any)
	if !ok {
		return domain.Issue{}, errors.New("not a JSON object")
	}

	issue := domain.Issue{File: "unknown", Severity: domain.SeverityLow}

	if raw, ok := fields["file"]; ok && raw != nil {
		file, ok := raw.(string)
		if !ok {
			return domain.Issue{}, errors.New("'file' is not a string")
		}
		if file != "" {
			issue.File = file
		}
	}

	if raw, ok := fields["severity"]; ok && raw != nil {
		severity := domain.Severity(strings.ToLower(fmt.Sprintf("%v", raw)))
		if !domain.ValidSeverity(severity) {
			return domain.Issue{}, fmt.Errorf("invalid severity %q", severity)
		}
		issue.Severity = severity
	}

	message, ok := fields["message"].(string)
	if !ok || strings.TrimSpace(message) == "" {
		return domain.Issue{}, errors.New("'message' is required")
	}
	issue.Message = message

	issue.Line = coerceLine(fields["line"])

	if raw, ok := fields["code_snippet"]; ok && raw != nil {
		snippet, ok := raw.(string)
		if !ok {
			return domain.Issue{}, errors.New("'code_snippet' is not a string")
		}
		issue.CodeSnippet = snippet
	}
	if raw, ok := fields["suggestion"]; ok && raw != nil {
		suggestion, ok := raw.(string)
		if !ok {
			return domain.Issue{}, errors.New("'suggestion' is not a string")
		}
		issue.Suggestion = suggestion
	}

	return issue, nil
}

// coerceLine maps the model's loosely-typed line field to an int or nil.
// Empty-string and null sentinels map to nil, as do unparseable values.
func coerceLine(raw any) *int {
	switch v := raw.(type) {
	case nil:
		return nil
	case float64:
		line := int(v)
		return &line
	case string:
		switch v {
		case "", "null", "None":
			return nil
		}
		line, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil
		}
		return &line
	default:
		return nil
	}
}

// safeJSONLoad decodes raw text as JSON, recovering from models that wrap
// the payload in prose by retrying on the first-to-last brace span.
func safeJSONLoad(raw string) (any, error) {
	var data any
	if err := json.Unmarshal([]byte(raw), &data); err == nil {
		return data, nil
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, errors.New("model output is not valid JSON")
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &data); err != nil {
		return nil, errors.New("model output is not valid JSON")
	}
	return data, nil
}
