package feed

import (
	"strings"
	"time"

	"feedline.org/internal/ids"
)

// DefaultStatus is the status every new user starts with.
const DefaultStatus = "I am new!"

// User is an account that can own posts.
type User struct {
	ID           ids.ID
	Email        string
	PasswordHash string
	Name         string
	Status       string
	PostIDs      []ids.ID
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Owns reports whether postID is listed among the user's posts.
func (u *User) Owns(postID ids.ID) bool {
	for _, id := range u.PostIDs {
		if ids.Equal(id, postID) {
			return true
		}
	}
	return false
}

// removePost drops postID from PostIDs, keeping the order of the rest.
func (u *User) removePost(postID ids.ID) bool {
	out := u.PostIDs[:0]
	removed := false
	for _, id := range u.PostIDs {
		if ids.Equal(id, postID) {
			removed = true
			continue
		}
		out = append(out, id)
	}
	u.PostIDs = out
	return removed
}

// Post is a user-owned feed entry. CreatorID never changes after creation.
type Post struct {
	ID          ids.ID    `json:"id"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	ImageRef    string    `json:"imageUrl"`
	CreatorID   ids.ID    `json:"creatorId"`
	CreatorName string    `json:"creatorName,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// PostInput carries the mutable fields of a post.
type PostInput struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	ImageRef string `json:"imageUrl"`
}

func (in PostInput) normalized() PostInput {
	return PostInput{
		Title:    strings.TrimSpace(in.Title),
		Content:  strings.TrimSpace(in.Content),
		ImageRef: strings.TrimSpace(in.ImageRef),
	}
}

// SignupInput carries the fields needed to register a user.
type SignupInput struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

func (in SignupInput) normalized() SignupInput {
	return SignupInput{
		Email:    NormalizeEmail(in.Email),
		Name:     strings.TrimSpace(in.Name),
		Password: in.Password,
	}
}

// NormalizeEmail lower-cases and trims an address so lookups are stable.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token     string
	UserID    ids.ID
	ExpiresAt time.Time
}

// EventAction names a change to a post.
type EventAction string

const (
	EventCreated EventAction = "created"
	EventUpdated EventAction = "updated"
	EventDeleted EventAction = "deleted"
)

// Event describes a committed post change.
type Event struct {
	Action EventAction `json:"action"`
	PostID ids.ID      `json:"postId"`
	UserID ids.ID      `json:"userId"`
	Post   *Post       `json:"post,omitempty"`
	At     time.Time   `json:"at"`
}
