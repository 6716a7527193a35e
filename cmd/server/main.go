package main

import (
	"flag"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/rhushiiii/code-lite2.0/internal/config"
	"github.com/rhushiiii/code-lite2.0/internal/githubclient"
	"github.com/rhushiiii/code-lite2.0/internal/githuboauth"
	"github.com/rhushiiii/code-lite2.0/internal/ratelimit"
	"github.com/rhushiiii/code-lite2.0/internal/review"
	"github.com/rhushiiii/code-lite2.0/internal/server"
	"github.com/rhushiiii/code-lite2.0/internal/sessiontoken"
	"github.com/rhushiiii/code-lite2.0/internal/util"
	"github.com/rhushiiii/code-lite2.0/pkg/ai"
	"github.com/rhushiiii/code-lite2.0/pkg/secrets"
	"github.com/rhushiiii/code-lite2.0/pkg/store"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	cipher, err := secrets.NewCipher(cfg.TokenEncryptionKey, cfg.JWTSecret)
	if err != nil {
		log.Fatalf("failed to init token cipher: %v", err)
	}
	if cipher.DerivedKey() {
		slog.Warn("tokenEncryptionKey not set, deriving token cipher key from jwtSecret")
	}

	sessions, err := sessiontoken.NewManager(cfg.JWTSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute)
	if err != nil {
		log.Fatalf("failed to init session manager: %v", err)
	}

	st, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}

	github := githubclient.NewClient(cfg.GithubAPIBaseURL, 0)
	oauth := githuboauth.NewClient(githuboauth.Config{
		AuthorizeURL: cfg.GithubOAuth.AuthorizeURL,
		TokenURL:     cfg.GithubOAuth.TokenURL,
		APIBaseURL:   cfg.GithubAPIBaseURL,
		ClientID:     cfg.GithubOAuth.ClientID,
		ClientSecret: cfg.GithubOAuth.ClientSecret,
		RedirectURI:  cfg.GithubOAuth.RedirectURI,
	})

	llm := ai.NewOllamaClient(cfg.OllamaBaseURL, cfg.OllamaModel, time.Duration(cfg.LLMTimeoutSeconds)*time.Second)
	analyzer := review.NewAnalyzer(llm, cfg.LLMMaxRetries, cfg.MaxDiffChars)
	reviews := review.NewService(st, github, analyzer, cipher)

	general, strict, err := buildLimiters(cfg)
	if err != nil {
		log.Fatalf("failed to init rate limiters: %v", err)
	}

	httpServer := server.New(server.Config{
		Store:          st,
		Sessions:       sessions,
		Cipher:         cipher,
		GitHub:         github,
		OAuth:          oauth,
		Reviews:        reviews,
		FrontendURL:    cfg.FrontendURL,
		CORSOrigins:    cfg.CORSOriginList(),
		GeneralLimiter: general,
		ReviewLimiter:  strict,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("review server listening", "addr", addr, "model", cfg.OllamaModel)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}

// buildLimiters picks the Redis sliding window when redisAddr is configured
// and falls back to the in-process one otherwise.
func buildLimiters(cfg config.FileConfig) (ratelimit.Limiter, ratelimit.Limiter, error) {
	window := time.Minute
	if cfg.RedisAddr != "" {
		general, err := ratelimit.NewRedisSlidingWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "codelite:ratelimit:general", cfg.GeneralRateLimitPerMinute, window)
		if err != nil {
			return nil, nil, err
		}
		strict, err := ratelimit.NewRedisSlidingWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "codelite:ratelimit:review", cfg.ReviewRateLimitPerMinute, window)
		if err != nil {
			return nil, nil, err
		}
		return general, strict, nil
	}
	general, err := ratelimit.NewSlidingWindowLimiter(cfg.GeneralRateLimitPerMinute, window)
	if err != nil {
		return nil, nil, err
	}
	strict, err := ratelimit.NewSlidingWindowLimiter(cfg.ReviewRateLimitPerMinute, window)
	if err != nil {
		return nil, nil, err
	}
	return general, strict, nil
}
