package store

import "github.com/rhushiiii/code-lite2.0/pkg/domain"

// Store persists users and their reviews. Reviews are insert-only and are
// removed with their owning user.
type Store interface {
	SaveUser(u domain.User) error
	HasUserEmail(email string) (bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)

	// SetGithubLink applies the encrypted token and profile fields as a
	// single atomic update; ClearGithubLink removes them the same way.
	SetGithubLink(userID, encryptedToken, username, githubID string) error
	ClearGithubLink(userID string) error

	CreateReview(r domain.Review) error
	ListReviewsByUser(userID string, limit int) ([]domain.Review, error)
}
