package feed

import (
	"context"

	"feedline.org/internal/ids"
)

// UserStore persists user records. FindByEmail and FindByID return
// ErrNotFound for unknown users; Create returns ErrDuplicateEmail when the
// address is taken.
type UserStore interface {
	Create(ctx context.Context, user *User) error
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id ids.ID) (*User, error)
	Save(ctx context.Context, user *User) error
}

// PostStore persists posts. FindByID, Save and Delete return ErrNotFound
// for unknown posts. FindPage returns posts in insertion order, or newest
// first when sortDesc is set.
type PostStore interface {
	Create(ctx context.Context, post *Post) error
	FindByID(ctx context.Context, id ids.ID) (*Post, error)
	Save(ctx context.Context, post *Post) error
	Delete(ctx context.Context, id ids.ID) error
	CountAll(ctx context.Context) (int, error)
	FindPage(ctx context.Context, offset, limit int, sortDesc bool) ([]*Post, error)
}

// Cleaner disposes of an image that is no longer referenced.
type Cleaner interface {
	Clean(ctx context.Context, ref string) error
}

// Publisher receives committed post changes.
type Publisher interface {
	Publish(evt Event)
}
