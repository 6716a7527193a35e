package store

import (
	"sort"
	"sync"

	"github.com/rhushiiii/code-lite2.0/pkg/domain"
)

// MemoryStore is an in-memory Store used by tests.
type MemoryStore struct {
	mu      sync.RWMutex
	users   map[string]domain.User
	reviews map[string]domain.Review
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]domain.User),
		reviews: make(map[string]domain.Review),
	}
}

func (s *MemoryStore) SaveUser(u domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

func (s *MemoryStore) HasUserEmail(email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

func (s *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok, nil
}

func (s *MemoryStore) SetGithubLink(userID, encryptedToken, username, githubID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil
	}
	u.GithubTokenEncrypted = encryptedToken
	u.GithubUsername = username
	u.GithubID = githubID
	s.users[userID] = u
	return nil
}

func (s *MemoryStore) ClearGithubLink(userID string) error {
	return s.SetGithubLink(userID, "", "", "")
}

func (s *MemoryStore) CreateReview(r domain.Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.Result.Issues == nil {
		r.Result.Issues = []domain.Issue{}
	}
	s.reviews[r.ID] = r
	return nil
}

func (s *MemoryStore) ListReviewsByUser(userID string, limit int) ([]domain.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Review, 0)
	for _, r := range s.reviews {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ReviewCount reports the number of stored reviews, for test assertions.
func (s *MemoryStore) ReviewCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.reviews)
}
