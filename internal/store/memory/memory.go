package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"feedline.org/internal/feed"
	"feedline.org/internal/ids"
)

var (
	_ feed.UserStore = (*Users)(nil)
	_ feed.PostStore = (*Posts)(nil)
)

// Users implements feed.UserStore with in-process concurrency safety.
type Users struct {
	mu     sync.RWMutex
	byID   map[ids.ID]*feed.User
	emails map[string]ids.ID
	now    func() time.Time
}

// NewUsers creates an empty user store.
func NewUsers() *Users {
	return &Users{
		byID:   make(map[ids.ID]*feed.User),
		emails: make(map[string]ids.ID),
		now:    time.Now,
	}
}

func (s *Users) Create(ctx context.Context, user *feed.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := feed.NormalizeEmail(user.Email)
	if _, taken := s.emails[email]; taken {
		return feed.ErrDuplicateEmail
	}
	if user.ID == "" {
		user.ID = ids.New()
	}
	now := s.now().UTC()
	user.Email = email
	user.CreatedAt = now
	user.UpdatedAt = now

	s.byID[user.ID] = copyUser(user)
	s.emails[email] = user.ID
	return nil
}

func (s *Users) FindByEmail(ctx context.Context, email string) (*feed.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emails[feed.NormalizeEmail(email)]
	if !ok {
		return nil, feed.ErrNotFound
	}
	return copyUser(s.byID[id]), nil
}

func (s *Users) FindByID(ctx context.Context, id ids.ID) (*feed.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[ids.Normalize(string(id))]
	if !ok {
		return nil, feed.ErrNotFound
	}
	return copyUser(u), nil
}

func (s *Users) Save(ctx context.Context, user *feed.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := ids.Normalize(string(user.ID))
	current, ok := s.byID[id]
	if !ok {
		return feed.ErrNotFound
	}
	email := feed.NormalizeEmail(user.Email)
	if email != current.Email {
		if _, taken := s.emails[email]; taken {
			return feed.ErrDuplicateEmail
		}
		delete(s.emails, current.Email)
		s.emails[email] = id
	}
	user.Email = email
	user.CreatedAt = current.CreatedAt
	user.UpdatedAt = s.now().UTC()
	s.byID[id] = copyUser(user)
	return nil
}

// Posts implements feed.PostStore. Insertion order is kept so the natural
// listing order is stable.
type Posts struct {
	mu    sync.RWMutex
	byID  map[ids.ID]*feed.Post
	order []ids.ID
	now   func() time.Time
}

// NewPosts creates an empty post store.
func NewPosts() *Posts {
	return &Posts{
		byID: make(map[ids.ID]*feed.Post),
		now:  time.Now,
	}
}

func (s *Posts) Create(ctx context.Context, post *feed.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if post.ID == "" {
		post.ID = ids.New()
	}
	now := s.now().UTC()
	post.CreatedAt = now
	post.UpdatedAt = now

	s.byID[post.ID] = copyPost(post)
	s.order = append(s.order, post.ID)
	return nil
}

func (s *Posts) FindByID(ctx context.Context, id ids.ID) (*feed.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[ids.Normalize(string(id))]
	if !ok {
		return nil, feed.ErrNotFound
	}
	return copyPost(p), nil
}

func (s *Posts) Save(ctx context.Context, post *feed.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := ids.Normalize(string(post.ID))
	current, ok := s.byID[id]
	if !ok {
		return feed.ErrNotFound
	}
	// creator and creation time are immutable
	post.CreatorID = current.CreatorID
	post.CreatedAt = current.CreatedAt
	post.UpdatedAt = s.now().UTC()
	s.byID[id] = copyPost(post)
	return nil
}

func (s *Posts) Delete(ctx context.Context, id ids.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id = ids.Normalize(string(id))
	if _, ok := s.byID[id]; !ok {
		return feed.ErrNotFound
	}
	delete(s.byID, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Posts) CountAll(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID), nil
}

func (s *Posts) FindPage(ctx context.Context, offset, limit int, sortDesc bool) ([]*feed.Post, error) {
	if offset < 0 {
		return nil, feed.ErrBadOffset
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*feed.Post, 0, len(s.order))
	for _, id := range s.order {
		all = append(all, s.byID[id])
	}
	if sortDesc {
		sort.SliceStable(all, func(i, j int) bool {
			if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
				return all[i].CreatedAt.After(all[j].CreatedAt)
			}
			return all[i].ID > all[j].ID
		})
	}
	if offset >= len(all) {
		return []*feed.Post{}, nil
	}
	end := len(all)
	if limit > 0 && limit < end-offset {
		end = offset + limit
	}
	out := make([]*feed.Post, 0, end-offset)
	for _, p := range all[offset:end] {
		out = append(out, copyPost(p))
	}
	return out, nil
}

func copyUser(u *feed.User) *feed.User {
	out := *u
	out.PostIDs = append([]ids.ID(nil), u.PostIDs...)
	return &out
}

func copyPost(p *feed.Post) *feed.Post {
	out := *p
	out.CreatorName = ""
	return &out
}
