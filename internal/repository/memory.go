package repository

import (
	"context"
	"sync"

	"github.com/formica-tech/formic-api/internal/domain"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory Store used by unit tests in place of
// Postgres. WithTx snapshots the maps and restores them when the callback
// fails, so rollback semantics hold.
type MemoryStore struct {
	mu    sync.Mutex
	users map[string]domain.User
	codes map[string]domain.VerificationCode
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]domain.User),
		codes: make(map[string]domain.VerificationCode),
	}
}

func (s *MemoryStore) Users() UserRepository { return (*memoryUserRepo)(s) }
func (s *MemoryStore) Codes() CodeRepository { return (*memoryCodeRepo)(s) }

func (s *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	s.mu.Lock()
	users := cloneMap(s.users)
	codes := cloneMap(s.codes)
	s.mu.Unlock()

	if err := fn(ctx, s); err != nil {
		s.mu.Lock()
		s.users = users
		s.codes = codes
		s.mu.Unlock()
		return err
	}
	return nil
}

type memoryUserRepo MemoryStore

func (r *memoryUserRepo) GetByID(ctx context.Context, id string) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, nil
}

func (r *memoryUserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Email == email {
			return user, nil
		}
	}
	return domain.User{}, domain.ErrUserNotFound
}

func (r *memoryUserRepo) CountByEmail(ctx context.Context, email string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, user := range r.users {
		if user.Email == email {
			count++
		}
	}
	return count, nil
}

func (r *memoryUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == user.Email {
			return domain.User{}, domain.ErrUserAlreadyExists
		}
	}
	r.users[user.ID] = user
	return user, nil
}

func (r *memoryUserRepo) Update(ctx context.Context, user domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; !ok {
		return domain.ErrUserNotFound
	}
	r.users[user.ID] = user
	return nil
}

type memoryCodeRepo MemoryStore

func (r *memoryCodeRepo) Get(ctx context.Context, id string) (domain.VerificationCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	code, ok := r.codes[id]
	if !ok {
		return domain.VerificationCode{}, domain.ErrInvalidVerificationID
	}
	return code, nil
}

func (r *memoryCodeRepo) GetWithUser(ctx context.Context, id string) (domain.VerificationCode, domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	code, ok := r.codes[id]
	if !ok {
		return domain.VerificationCode{}, domain.User{}, domain.ErrInvalidVerificationID
	}
	user, ok := r.users[code.UserID]
	if !ok {
		return domain.VerificationCode{}, domain.User{}, domain.ErrInvalidVerificationID
	}
	return code, user, nil
}

func (r *memoryCodeRepo) Create(ctx context.Context, code domain.VerificationCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.codes {
		if existing.Code == code.Code {
			return domain.ErrDuplicateCode
		}
	}
	r.codes[code.ID] = code
	return nil
}

func (r *memoryCodeRepo) Delete(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.codes[id]; !ok {
		return false, nil
	}
	delete(r.codes, id)
	return true, nil
}

func cloneMap[V any](src map[string]V) map[string]V {
	dst := make(map[string]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
