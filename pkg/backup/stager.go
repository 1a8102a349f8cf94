package backup

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"photovault/pkg/domain"
)

const defaultStageTTL = 15 * time.Minute

// stagedCollection names the pseudo-collection used in NotFoundError for tokens.
const stagedCollection domain.Collection = "staged imports"

// StagedImport is a parsed snapshot waiting for confirmation.
type StagedImport struct {
	Token     string                    `json:"token"`
	Counts    map[domain.Collection]int `json:"counts"`
	ExpiresAt time.Time                 `json:"expiresAt"`
	snapshot  domain.Snapshot
}

// Stager keeps parsed snapshots until they are confirmed or cancelled, so a
// malformed file never reaches the store.
type Stager struct {
	codec *Codec
	ttl   time.Duration
	now   func() time.Time

	mu     sync.Mutex
	staged map[string]StagedImport
}

// NewStager creates a stager; ttl <= 0 uses 15 minutes.
func NewStager(codec *Codec, ttl time.Duration) *Stager {
	if ttl <= 0 {
		ttl = defaultStageTTL
	}
	return &Stager{
		codec:  codec,
		ttl:    ttl,
		now:    time.Now,
		staged: make(map[string]StagedImport),
	}
}

// Stage parses raw and holds the result under a new token.
func (s *Stager) Stage(raw []byte) (StagedImport, error) {
	snapshot, err := Parse(raw)
	if err != nil {
		return StagedImport{}, err
	}
	now := s.now()
	staged := StagedImport{
		Token:     uuid.NewString(),
		Counts:    snapshot.Counts(),
		ExpiresAt: now.Add(s.ttl).UTC(),
		snapshot:  snapshot,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked(now)
	s.staged[staged.Token] = staged
	return staged, nil
}

// Confirm applies the staged snapshot once; the token is consumed even if
// applying fails.
func (s *Stager) Confirm(ctx context.Context, token string) (StagedImport, error) {
	staged, err := s.take(token)
	if err != nil {
		return StagedImport{}, err
	}
	if err := s.codec.Confirm(ctx, staged.snapshot); err != nil {
		return StagedImport{}, err
	}
	return staged, nil
}

// Cancel drops a staged snapshot.
func (s *Stager) Cancel(token string) error {
	_, err := s.take(token)
	return err
}

func (s *Stager) take(token string) (StagedImport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked(s.now())
	staged, ok := s.staged[token]
	if !ok {
		return StagedImport{}, &domain.NotFoundError{Collection: stagedCollection, ID: token}
	}
	delete(s.staged, token)
	return staged, nil
}

func (s *Stager) evictLocked(now time.Time) {
	for token, staged := range s.staged {
		if now.After(staged.ExpiresAt) {
			delete(s.staged, token)
		}
	}
}
