package identity

import (
	"context"
	"sort"
	"sync"

	"obrolan/server/internal/apperr"
	"obrolan/server/internal/models"
)

// Provider supplies user profiles. Identity is owned elsewhere; the
// messaging core only reads it.
type Provider interface {
	Profile(ctx context.Context, id string) (*models.Profile, error)
	ListUsers(ctx context.Context) ([]models.Profile, error)
}

// Static is an in-memory Provider, used when no database is configured and in tests
type Static struct {
	mu       sync.RWMutex
	profiles map[string]models.Profile
}

func NewStatic(profiles ...models.Profile) *Static {
	s := &Static{profiles: make(map[string]models.Profile, len(profiles))}
	for _, p := range profiles {
		s.profiles[p.ID] = p
	}
	return s
}

// Put adds or replaces a profile
func (s *Static) Put(p models.Profile) {
	s.mu.Lock()
	s.profiles[p.ID] = p
	s.mu.Unlock()
}

func (s *Static) Profile(_ context.Context, id string) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[id]
	if !ok {
		return nil, apperr.NotFound("identity.Profile", "user %s not found", id)
	}
	return &p, nil
}

// ListUsers returns every profile ordered by display name
func (s *Static) ListUsers(_ context.Context) ([]models.Profile, error) {
	s.mu.RLock()
	out := make([]models.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
