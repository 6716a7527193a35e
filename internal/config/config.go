package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// defaultConfigPath is used when Load is called with an empty path.
const defaultConfigPath = "config.yaml"

// GithubOAuth holds the OAuth app settings for account linking.
type GithubOAuth struct {
	AuthorizeURL string `yaml:"authorizeURL"`
	TokenURL     string `yaml:"tokenURL"`
	ClientID     string `yaml:"clientID"`
	ClientSecret string `yaml:"clientSecret"`
	RedirectURI  string `yaml:"redirectURI"`
}

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                  string `yaml:"port"`
	LogLevel              string `yaml:"logLevel"`
	DatabaseURL           string `yaml:"databaseURL"`
	JWTSecret             string `yaml:"jwtSecret"`
	AccessTokenTTLMinutes int    `yaml:"accessTokenTTLMinutes"`
	CORSOrigins           string `yaml:"corsOrigins"`
	FrontendURL           string `yaml:"frontendURL"`

	GithubAPIBaseURL string      `yaml:"githubAPIBaseURL"`
	GithubOAuth      GithubOAuth `yaml:"githubOAuth"`

	TokenEncryptionKey string `yaml:"tokenEncryptionKey"`

	OllamaBaseURL     string `yaml:"ollamaBaseURL"`
	OllamaModel       string `yaml:"ollamaModel"`
	LLMMaxRetries     int    `yaml:"llmMaxRetries"`
	LLMTimeoutSeconds int    `yaml:"llmTimeoutSeconds"`
	MaxDiffChars      int    `yaml:"maxDiffChars"`

	GeneralRateLimitPerMinute int    `yaml:"generalRateLimitPerMinute"`
	ReviewRateLimitPerMinute  int    `yaml:"reviewRateLimitPerMinute"`
	RedisAddr                 string `yaml:"redisAddr"`
	RedisPassword             string `yaml:"redisPassword"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = defaultConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = v
	}
	if v := os.Getenv("FRONTEND_URL"); v != "" {
		cfg.FrontendURL = v
	}
	if v := os.Getenv("GITHUB_API_BASE_URL"); v != "" {
		cfg.GithubAPIBaseURL = v
	}
	if v := os.Getenv("GITHUB_CLIENT_ID"); v != "" {
		cfg.GithubOAuth.ClientID = v
	}
	if v := os.Getenv("GITHUB_CLIENT_SECRET"); v != "" {
		cfg.GithubOAuth.ClientSecret = v
	}
	if v := os.Getenv("GITHUB_REDIRECT_URI"); v != "" {
		cfg.GithubOAuth.RedirectURI = v
	}
	if v := os.Getenv("TOKEN_ENCRYPTION_KEY"); v != "" {
		cfg.TokenEncryptionKey = v
	}
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		cfg.OllamaBaseURL = v
	}
	if v := os.Getenv("OLLAMA_MODEL"); v != "" {
		cfg.OllamaModel = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("ACCESS_TOKEN_TTL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AccessTokenTTLMinutes = n
		}
	}
	if v := os.Getenv("LLM_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LLMMaxRetries = n
		}
	}
	if v := os.Getenv("LLM_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LLMTimeoutSeconds = n
		}
	}
	if v := os.Getenv("MAX_DIFF_CHARS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxDiffChars = n
		}
	}
	if v := os.Getenv("GENERAL_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.GeneralRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("REVIEW_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ReviewRateLimitPerMinute = n
		}
	}

	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.AccessTokenTTLMinutes <= 0 {
		cfg.AccessTokenTTLMinutes = 60
	}
	if cfg.FrontendURL == "" {
		cfg.FrontendURL = "http://localhost:3000"
	}
	if cfg.OllamaModel == "" {
		cfg.OllamaModel = "llama3"
	}
	if cfg.LLMMaxRetries <= 0 {
		cfg.LLMMaxRetries = 3
	}
	if cfg.LLMTimeoutSeconds <= 0 {
		cfg.LLMTimeoutSeconds = 90
	}
	if cfg.MaxDiffChars <= 0 {
		cfg.MaxDiffChars = 18000
	}
	if cfg.GeneralRateLimitPerMinute <= 0 {
		cfg.GeneralRateLimitPerMinute = 120
	}
	if cfg.ReviewRateLimitPerMinute <= 0 {
		cfg.ReviewRateLimitPerMinute = 20
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml)")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return errors.New("config: jwtSecret is required (set JWT_SECRET)")
	}
	if (cfg.GithubOAuth.ClientID == "") != (cfg.GithubOAuth.ClientSecret == "") {
		return errors.New("config: githubOAuth clientID and clientSecret must be set together")
	}
	return nil
}

// CORSOriginList splits the comma-separated corsOrigins value.
func (c FileConfig) CORSOriginList() []string {
	raw := strings.TrimSpace(c.CORSOrigins)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
