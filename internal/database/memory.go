package database

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"contactrecon/internal/models"
)

type memoryState struct {
	contacts map[int64]models.Contact
	nextID   int64
}

func (s memoryState) clone() memoryState {
	out := memoryState{contacts: make(map[int64]models.Contact, len(s.contacts)), nextID: s.nextID}
	for id, c := range s.contacts {
		out.contacts[id] = c
	}
	return out
}

// MemoryStore is an in-process Store. Transactions hold an exclusive lock and
// work on a copy of the state that replaces the original only on success.
type MemoryStore struct {
	mu    sync.Mutex
	state memoryState
	now   func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock sets the clock used for createdAt and updatedAt.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		state: memoryState{contacts: make(map[int64]models.Contact), nextID: 1},
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memoryTx{state: s.state.clone(), now: s.now}
	if err := fn(tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (s *MemoryStore) Close() error { return nil }

// Contacts returns every stored contact, deleted ones included, ordered by id.
func (s *MemoryStore) Contacts() []models.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Contact, 0, len(s.state.contacts))
	for _, c := range s.state.contacts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MarkDeleted sets deletedAt on the contact with the given id.
func (s *MemoryStore) MarkDeleted(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.state.contacts[id]
	if !ok {
		return fmt.Errorf("contact %d not found", id)
	}
	at := s.now().UTC()
	c.DeletedAt = &at
	s.state.contacts[id] = c
	return nil
}

type memoryTx struct {
	state memoryState
	now   func() time.Time
}

func (t *memoryTx) FindMatching(_ context.Context, email, phone *string) ([]models.Contact, error) {
	if email == nil && phone == nil {
		return nil, nil
	}
	return t.collect(func(c *models.Contact) bool {
		return (email != nil && c.Email != nil && *c.Email == *email) ||
			(phone != nil && c.PhoneNumber != nil && *c.PhoneNumber == *phone)
	}), nil
}

func (t *memoryTx) FindCluster(_ context.Context, rootIDs []int64) ([]models.Contact, error) {
	roots := make(map[int64]bool, len(rootIDs))
	for _, id := range rootIDs {
		roots[id] = true
	}
	return t.collect(func(c *models.Contact) bool {
		return roots[c.ID] || (c.LinkedID != nil && roots[*c.LinkedID])
	}), nil
}

func (t *memoryTx) Insert(_ context.Context, c models.Contact) (models.Contact, error) {
	if err := c.Validate(); err != nil {
		return models.Contact{}, err
	}
	for _, existing := range t.state.contacts {
		if existing.DeletedAt == nil && models.EqualOptional(existing.Email, c.Email) && models.EqualOptional(existing.PhoneNumber, c.PhoneNumber) {
			return models.Contact{}, fmt.Errorf("insert contact: pair already stored as %d: %w", existing.ID, ErrConflict)
		}
	}
	if c.LinkedID != nil {
		if _, ok := t.state.contacts[*c.LinkedID]; !ok {
			return models.Contact{}, fmt.Errorf("insert contact: linked contact %d does not exist", *c.LinkedID)
		}
	}
	now := t.now().UTC()
	c.ID = t.state.nextID
	c.CreatedAt = now
	c.UpdatedAt = now
	c.DeletedAt = nil
	t.state.nextID++
	t.state.contacts[c.ID] = c
	return c, nil
}

func (t *memoryTx) Link(_ context.Context, ids []int64, primaryID int64) error {
	now := t.now().UTC()
	for _, id := range ids {
		if id == primaryID {
			return fmt.Errorf("contact %d cannot link to itself", id)
		}
		c, ok := t.state.contacts[id]
		if !ok || c.DeletedAt != nil {
			return fmt.Errorf("link contacts: contact %d not found: %w", id, ErrConflict)
		}
		linked := primaryID
		c.LinkPrecedence = models.Secondary
		c.LinkedID = &linked
		c.UpdatedAt = now
		t.state.contacts[id] = c
	}
	return nil
}

func (t *memoryTx) collect(match func(c *models.Contact) bool) []models.Contact {
	var out []models.Contact
	for _, c := range t.state.contacts {
		if c.DeletedAt == nil && match(&c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(&out[j]) })
	return out
}

