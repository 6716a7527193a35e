package store

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/rhushiiii/code-lite2.0/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&UserModel{}, &ReviewModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// SaveUser stores or updates a user.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "password_hash", "github_id", "github_username", "github_token_encrypted"}),
	}).Create(&model).Error
}

// HasUserEmail checks if email exists.
func (s *GormStore) HasUserEmail(email string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// SetGithubLink writes the GitHub link fields in one update.
func (s *GormStore) SetGithubLink(userID, encryptedToken, username, githubID string) error {
	return s.db.Model(&UserModel{}).Where("id = ?", userID).Updates(map[string]any{
		"github_token_encrypted": encryptedToken,
		"github_username":        username,
		"github_id":              githubID,
	}).Error
}

// ClearGithubLink removes the GitHub link fields in one update.
func (s *GormStore) ClearGithubLink(userID string) error {
	return s.db.Model(&UserModel{}).Where("id = ?", userID).Updates(map[string]any{
		"github_token_encrypted": "",
		"github_username":        "",
		"github_id":              "",
	}).Error
}

// CreateReview inserts one review row. Reviews are never updated in place.
func (s *GormStore) CreateReview(r domain.Review) error {
	model, err := reviewToModel(r)
	if err != nil {
		return err
	}
	return s.db.Create(&model).Error
}

// ListReviewsByUser returns the user's reviews, newest first.
func (s *GormStore) ListReviewsByUser(userID string, limit int) ([]domain.Review, error) {
	query := s.db.Where("user_id = ?", userID).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var models []ReviewModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Review, 0, len(models))
	for _, m := range models {
		review, err := reviewFromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, review)
	}
	return res, nil
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:                   u.ID,
		Email:                u.Email,
		PasswordHash:         u.PasswordHash,
		GithubID:             u.GithubID,
		GithubUsername:       u.GithubUsername,
		GithubTokenEncrypted: u.GithubTokenEncrypted,
		CreatedAt:            u.CreatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:                   m.ID,
		Email:                m.Email,
		PasswordHash:         m.PasswordHash,
		GithubID:             m.GithubID,
		GithubUsername:       m.GithubUsername,
		GithubTokenEncrypted: m.GithubTokenEncrypted,
		CreatedAt:            m.CreatedAt,
	}
}

func reviewToModel(r domain.Review) (ReviewModel, error) {
	payload, err := json.Marshal(r.Result)
	if err != nil {
		return ReviewModel{}, fmt.Errorf("marshal review result: %w", err)
	}
	return ReviewModel{
		ID:         r.ID,
		UserID:     r.UserID,
		RepoName:   r.RepoName,
		PRNumber:   r.PRNumber,
		ResultJSON: payload,
		CreatedAt:  r.CreatedAt,
	}, nil
}

func reviewFromModel(m ReviewModel) (domain.Review, error) {
	var result domain.AnalysisResult
	if len(m.ResultJSON) > 0 {
		if err := json.Unmarshal(m.ResultJSON, &result); err != nil {
			return domain.Review{}, fmt.Errorf("unmarshal review result: %w", err)
		}
	}
	if result.Issues == nil {
		result.Issues = []domain.Issue{}
	}
	return domain.Review{
		ID:        m.ID,
		UserID:    m.UserID,
		RepoName:  m.RepoName,
		PRNumber:  m.PRNumber,
		Result:    result,
		CreatedAt: m.CreatedAt,
	}, nil
}
