package feed

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"feedline.org/internal/auth"
	"feedline.org/internal/ids"
	"feedline.org/internal/obs"
)

// TokenIssuer mints login tokens.
type TokenIssuer interface {
	Issue(sub auth.Subject) (string, time.Time, error)
}

// Service implements the feed operations: account signup and login, post
// mutation with ownership checks, status updates and paginated listing.
// Every operation runs its store calls sequentially and reports failures as
// *Error.
type Service struct {
	users   UserStore
	posts   PostStore
	hasher  auth.Hasher
	tokens  TokenIssuer
	cleaner Cleaner
	events  Publisher
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures Service.
type Option func(*Service)

// WithCleaner sets the collaborator that disposes of replaced and deleted images.
func WithCleaner(c Cleaner) Option {
	return func(s *Service) { s.cleaner = c }
}

// WithPublisher sets the sink for post change events.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source used for event timestamps.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService wires the service to its stores, password hasher and token issuer.
func NewService(users UserStore, posts PostStore, hasher auth.Hasher, tokens TokenIssuer, opts ...Option) *Service {
	s := &Service{
		users:  users,
		posts:  posts,
		hasher: hasher,
		tokens: tokens,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Signup registers a new user. All input problems, including a taken email
// address, are reported together as one validation failure.
func (s *Service) Signup(ctx context.Context, in SignupInput) (user *User, err error) {
	defer s.observe("signup", &err)

	in = in.normalized()
	fields, err := validateSignup(in)
	if err != nil {
		return nil, unavailable("validate signup", err)
	}
	if in.Email != "" {
		_, err := s.users.FindByEmail(ctx, in.Email)
		switch {
		case err == nil:
			fields = appendField(fields, FieldError{Field: "email", Message: "already registered"})
		case !errors.Is(err, ErrNotFound):
			return nil, unavailable("find user", err)
		}
	}
	if len(fields) > 0 {
		return nil, validationFailed(fields)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, unavailable("hash password", err)
	}
	user = &User{
		Email:        in.Email,
		Name:         in.Name,
		PasswordHash: hash,
		Status:       DefaultStatus,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, validationFailed([]FieldError{{Field: "email", Message: "already registered"}})
		}
		return nil, unavailable("create user", err)
	}
	return user, nil
}

// Login checks credentials and issues a token. Unknown addresses and wrong
// passwords fail the same way.
func (s *Service) Login(ctx context.Context, email, password string) (res LoginResult, err error) {
	defer s.observe("login", &err)

	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return LoginResult{}, unauthenticated("invalid credentials")
	}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return LoginResult{}, unauthenticated("invalid credentials")
		}
		return LoginResult{}, unavailable("find user", err)
	}
	if err := s.hasher.Verify(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMatch) {
			return LoginResult{}, unauthenticated("invalid credentials")
		}
		return LoginResult{}, unavailable("verify password", err)
	}
	token, expiresAt, err := s.tokens.Issue(auth.Subject{UserID: user.ID, Email: user.Email})
	if err != nil {
		return LoginResult{}, unavailable("issue token", err)
	}
	return LoginResult{Token: token, UserID: user.ID, ExpiresAt: expiresAt}, nil
}

// GetPost returns a single post. It is a public read.
func (s *Service) GetPost(ctx context.Context, id ids.ID) (post *Post, err error) {
	defer s.observe("get_post", &err)

	post, err = s.posts.FindByID(ctx, ids.Normalize(string(id)))
	if err != nil {
		return nil, storeErr("find post", "post not found", err)
	}
	if err := s.populateCreators(ctx, []*Post{post}); err != nil {
		return nil, err
	}
	return post, nil
}

// CreatePost stores a post owned by the caller and appends it to the
// caller's post list. If the second write fails the post is deleted again;
// should that also fail the orphan is logged.
func (s *Service) CreatePost(ctx context.Context, who auth.AuthResult, in PostInput) (post *Post, err error) {
	defer s.observe("create_post", &err)

	if err := requireAuth(who); err != nil {
		return nil, err
	}
	in = in.normalized()
	if err := checkPost(in); err != nil {
		return nil, err
	}
	user, err := s.users.FindByID(ctx, who.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, unauthenticated("invalid user")
		}
		return nil, unavailable("find user", err)
	}

	post = &Post{
		Title:     in.Title,
		Content:   in.Content,
		ImageRef:  in.ImageRef,
		CreatorID: user.ID,
	}
	if err := s.posts.Create(ctx, post); err != nil {
		return nil, unavailable("create post", err)
	}

	user.PostIDs = append(user.PostIDs, post.ID)
	if err := s.users.Save(ctx, user); err != nil {
		s.compensateCreate(ctx, post, err)
		return nil, unavailable("link post to owner", err)
	}

	post.CreatorName = user.Name
	s.publish(EventCreated, post.ID, user.ID, post)
	return post, nil
}

func (s *Service) compensateCreate(ctx context.Context, post *Post, cause error) {
	ctx = context.WithoutCancel(ctx)
	if err := s.posts.Delete(ctx, post.ID); err != nil && !errors.Is(err, ErrNotFound) {
		s.logger.Error("orphaned post after failed owner update",
			zap.String("post_id", post.ID.String()),
			zap.String("user_id", post.CreatorID.String()),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
		return
	}
	s.logger.Warn("rolled back post after failed owner update",
		zap.String("post_id", post.ID.String()),
		zap.Error(cause),
	)
}

// UpdatePost replaces the title and content of a post owned by the caller.
// An empty ImageRef keeps the current image; a different one replaces it
// and the old image is handed to the cleaner.
func (s *Service) UpdatePost(ctx context.Context, who auth.AuthResult, id ids.ID, in PostInput) (post *Post, err error) {
	defer s.observe("update_post", &err)

	if err := requireAuth(who); err != nil {
		return nil, err
	}
	in = in.normalized()
	if err := checkPost(in); err != nil {
		return nil, err
	}
	post, err = s.ownedPost(ctx, who, id)
	if err != nil {
		return nil, err
	}

	oldImage := post.ImageRef
	post.Title = in.Title
	post.Content = in.Content
	if in.ImageRef != "" {
		post.ImageRef = in.ImageRef
	}
	if err := s.posts.Save(ctx, post); err != nil {
		return nil, storeErr("save post", "post not found", err)
	}
	if oldImage != "" && oldImage != post.ImageRef {
		s.cleanImage(ctx, oldImage)
	}

	if err := s.populateCreators(ctx, []*Post{post}); err != nil {
		return nil, err
	}
	s.publish(EventUpdated, post.ID, who.UserID, post)
	return post, nil
}

// DeletePost removes a post owned by the caller: first from the owner's
// post list, then from the post store. Image cleanup is best effort.
func (s *Service) DeletePost(ctx context.Context, who auth.AuthResult, id ids.ID) (err error) {
	defer s.observe("delete_post", &err)

	if err := requireAuth(who); err != nil {
		return err
	}
	post, err := s.ownedPost(ctx, who, id)
	if err != nil {
		return err
	}

	owner, err := s.users.FindByID(ctx, post.CreatorID)
	switch {
	case err == nil:
		owner.removePost(post.ID)
		if err := s.users.Save(ctx, owner); err != nil {
			return unavailable("unlink post from owner", err)
		}
	case errors.Is(err, ErrNotFound):
		s.logger.Warn("deleting post whose owner is missing",
			zap.String("post_id", post.ID.String()),
			zap.String("user_id", post.CreatorID.String()),
		)
	default:
		return unavailable("find owner", err)
	}

	if err := s.posts.Delete(ctx, post.ID); err != nil {
		return storeErr("delete post", "post not found", err)
	}
	s.cleanImage(ctx, post.ImageRef)
	s.publish(EventDeleted, post.ID, who.UserID, nil)
	return nil
}

// GetStatus returns the caller's status.
func (s *Service) GetStatus(ctx context.Context, who auth.AuthResult) (status string, err error) {
	defer s.observe("get_status", &err)

	if err := requireAuth(who); err != nil {
		return "", err
	}
	user, err := s.users.FindByID(ctx, who.UserID)
	if err != nil {
		return "", storeErr("find user", "user not found", err)
	}
	return user.Status, nil
}

// SetStatus replaces the caller's status.
func (s *Service) SetStatus(ctx context.Context, who auth.AuthResult, status string) (_ string, err error) {
	defer s.observe("set_status", &err)

	if err := requireAuth(who); err != nil {
		return "", err
	}
	status = strings.TrimSpace(status)
	fields, err := validateStatus(status)
	if err != nil {
		return "", unavailable("validate status", err)
	}
	if len(fields) > 0 {
		return "", validationFailed(fields)
	}
	user, err := s.users.FindByID(ctx, who.UserID)
	if err != nil {
		return "", storeErr("find user", "user not found", err)
	}
	user.Status = status
	if err := s.users.Save(ctx, user); err != nil {
		return "", unavailable("save user", err)
	}
	return user.Status, nil
}

// ListPublic returns page n of all posts in insertion order. No identity is
// required.
func (s *Service) ListPublic(ctx context.Context, n int) (page Page, err error) {
	defer s.observe("list_public", &err)
	return s.listPage(ctx, n, false)
}

// ListAuthenticated returns page n of all posts, newest first. The caller
// must be authenticated.
func (s *Service) ListAuthenticated(ctx context.Context, who auth.AuthResult, n int) (page Page, err error) {
	defer s.observe("list_authenticated", &err)

	if err := requireAuth(who); err != nil {
		return Page{}, err
	}
	return s.listPage(ctx, n, true)
}

func (s *Service) listPage(ctx context.Context, n int, newestFirst bool) (Page, error) {
	n = NormalizePage(n)
	total, err := s.posts.CountAll(ctx)
	if err != nil {
		return Page{}, unavailable("count posts", err)
	}
	posts, err := s.posts.FindPage(ctx, Offset(n), PageSize, newestFirst)
	if err != nil {
		return Page{}, unavailable("list posts", err)
	}
	if err := s.populateCreators(ctx, posts); err != nil {
		return Page{}, err
	}
	if posts == nil {
		posts = []*Post{}
	}
	return Page{Posts: posts, TotalItems: total, Page: n, PerPage: PageSize}, nil
}

// ownedPost loads id and checks that who created it.
func (s *Service) ownedPost(ctx context.Context, who auth.AuthResult, id ids.ID) (*Post, error) {
	post, err := s.posts.FindByID(ctx, ids.Normalize(string(id)))
	if err != nil {
		return nil, storeErr("find post", "post not found", err)
	}
	if !ids.Equal(post.CreatorID, who.UserID) {
		return nil, forbidden("not authorized")
	}
	return post, nil
}

// populateCreators fills CreatorName, looking each creator up once.
func (s *Service) populateCreators(ctx context.Context, posts []*Post) error {
	names := make(map[ids.ID]string)
	for _, p := range posts {
		if p.CreatorName != "" {
			continue
		}
		name, ok := names[p.CreatorID]
		if !ok {
			u, err := s.users.FindByID(ctx, p.CreatorID)
			switch {
			case err == nil:
				name = u.Name
			case errors.Is(err, ErrNotFound):
			default:
				return unavailable("find creator", err)
			}
			names[p.CreatorID] = name
		}
		p.CreatorName = name
	}
	return nil
}

func (s *Service) cleanImage(ctx context.Context, ref string) {
	if s.cleaner == nil || ref == "" {
		return
	}
	if err := s.cleaner.Clean(context.WithoutCancel(ctx), ref); err != nil {
		s.logger.Warn("image cleanup failed", zap.String("image", ref), zap.Error(err))
	}
}

func (s *Service) publish(action EventAction, postID, userID ids.ID, post *Post) {
	if s.events == nil {
		return
	}
	evt := Event{Action: action, PostID: postID, UserID: userID, At: s.now().UTC()}
	if post != nil {
		cp := *post
		evt.Post = &cp
	}
	s.events.Publish(evt)
}

func (s *Service) observe(op string, err *error) {
	outcome := "ok"
	if *err != nil {
		outcome = KindOf(*err).String()
	}
	obs.ObserveOperation(op, outcome)
	if KindOf(*err) == KindStoreUnavailable {
		s.logger.Error("feed operation failed", zap.String("op", op), zap.Error(*err))
	}
}

func requireAuth(who auth.AuthResult) error {
	if !who.Authenticated || who.UserID == "" {
		return unauthenticated("not authenticated")
	}
	return nil
}

func checkPost(in PostInput) error {
	fields, err := validatePost(in)
	if err != nil {
		return unavailable("validate post", err)
	}
	if len(fields) > 0 {
		return validationFailed(fields)
	}
	return nil
}

func appendField(fields []FieldError, f FieldError) []FieldError {
	for _, existing := range fields {
		if existing.Field == f.Field {
			return fields
		}
	}
	fields = append(fields, f)
	sortFields(fields)
	return fields
}
