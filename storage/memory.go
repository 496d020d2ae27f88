package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"car_scrooper/identity"
	"car_scrooper/models"
)

// MemoryStore keeps listings and specs in process memory. It backs dry runs
// and tests, and mirrors PostgresStore's lookup semantics.
type MemoryStore struct {
	mu       sync.RWMutex
	listings map[uuid.UUID]*models.Listing
	specs    map[string]*models.VehicleSpec // by fingerprint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		listings: make(map[uuid.UUID]*models.Listing),
		specs:    make(map[string]*models.VehicleSpec),
	}
}

func (s *MemoryStore) FindListingsBySource(ctx context.Context, sourceID string) ([]models.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Listing
	for _, l := range s.listings {
		if l.SourceID == sourceID {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Link < out[j].Link
	})
	return out, nil
}

func (s *MemoryStore) CreateListing(ctx context.Context, l *models.Listing) (*models.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.listings {
		if existing.SourceID == l.SourceID && existing.Link == l.Link {
			return nil, fmt.Errorf("insert listing: duplicate link %s for %s", l.Link, l.SourceID)
		}
	}

	stored := *l
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = stored.CreatedAt
	}
	s.listings[stored.ID] = &stored

	out := stored
	return &out, nil
}

func (s *MemoryStore) UpdateListing(ctx context.Context, id uuid.UUID, patch models.ListingPatch) error {
	if patch.IsEmpty() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.listings[id]
	if !ok {
		return fmt.Errorf("update listing: %s not found", id)
	}
	patch.Apply(l)
	l.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) FindSpecByKey(ctx context.Context, key models.SpecKey) (*models.VehicleSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	spec, ok := s.specs[identity.SpecFingerprint(key)]
	if !ok {
		return nil, nil
	}
	out := *spec
	return &out, nil
}

func (s *MemoryStore) CreateSpec(ctx context.Context, spec *models.VehicleSpec) (*models.VehicleSpec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fingerprint := spec.Fingerprint
	if fingerprint == "" {
		fingerprint = identity.SpecFingerprint(spec.Key())
	}
	if existing, ok := s.specs[fingerprint]; ok {
		out := *existing
		return &out, nil
	}

	stored := *spec
	stored.Fingerprint = fingerprint
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	s.specs[fingerprint] = &stored

	out := stored
	return &out, nil
}

func (s *MemoryStore) ListingsWithoutImageMirror(ctx context.Context, maxFailures, limit int) ([]models.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Listing
	for _, l := range s.listings {
		if l.ImageKey == nil && l.ImageURL != nil && l.ImageFailures < maxFailures {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) SetListingImageKey(ctx context.Context, id uuid.UUID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.listings[id]
	if !ok {
		return fmt.Errorf("set image key: %s not found", id)
	}
	k := key
	l.ImageKey = &k
	return nil
}

func (s *MemoryStore) RecordImageFailure(ctx context.Context, id uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.listings[id]
	if !ok {
		return 0, fmt.Errorf("record image failure: %s not found", id)
	}
	l.ImageFailures++
	return l.ImageFailures, nil
}

// SpecCount is the number of distinct vehicle specs stored
func (s *MemoryStore) SpecCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.specs)
}
