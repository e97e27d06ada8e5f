package feed_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"

	"feedline.org/internal/auth"
	"feedline.org/internal/feed"
	"feedline.org/internal/ids"
	"feedline.org/internal/store/memory"
)

type recordingCleaner struct {
	mu   sync.Mutex
	refs []string
	err  error
}

func (c *recordingCleaner) Clean(_ context.Context, ref string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refs = append(c.refs, ref)
	return c.err
}

type recordingPublisher struct {
	events []feed.Event
}

func (p *recordingPublisher) Publish(evt feed.Event) { p.events = append(p.events, evt) }

type env struct {
	svc     *feed.Service
	users   *memory.Users
	posts   *memory.Posts
	tokens  *auth.TokenService
	cleaner *recordingCleaner
	events  *recordingPublisher
	logs    *observer.ObservedLogs
}

func newEnv(t *testing.T, wrap func(feed.UserStore, feed.PostStore) (feed.UserStore, feed.PostStore)) *env {
	t.Helper()
	tokens, err := auth.NewTokenService([]byte("test-secret"))
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	e := &env{
		users:   memory.NewUsers(),
		posts:   memory.NewPosts(),
		tokens:  tokens,
		cleaner: &recordingCleaner{},
		events:  &recordingPublisher{},
	}
	var users feed.UserStore = e.users
	var posts feed.PostStore = e.posts
	if wrap != nil {
		users, posts = wrap(users, posts)
	}
	core, logs := observer.New(zap.DebugLevel)
	e.logs = logs
	e.svc = feed.NewService(users, posts, auth.NewBcryptHasher(bcrypt.MinCost), tokens,
		feed.WithCleaner(e.cleaner),
		feed.WithPublisher(e.events),
		feed.WithLogger(zap.New(core)),
	)
	return e
}

func (e *env) signup(t *testing.T, email string) auth.AuthResult {
	t.Helper()
	u, err := e.svc.Signup(context.Background(), feed.SignupInput{Email: email, Name: "User " + email, Password: "secret"})
	if err != nil {
		t.Fatalf("Signup(%s): %v", email, err)
	}
	return auth.AuthResult{Authenticated: true, UserID: u.ID, Email: u.Email}
}

func (e *env) create(t *testing.T, who auth.AuthResult, title string) *feed.Post {
	t.Helper()
	p, err := e.svc.CreatePost(context.Background(), who, feed.PostInput{Title: title, Content: "Some content here", ImageRef: "images/" + title + ".png"})
	if err != nil {
		t.Fatalf("CreatePost: %v", err)
	}
	return p
}

func wantKind(t *testing.T, err error, kind feed.Kind) {
	t.Helper()
	if got := feed.KindOf(err); got != kind {
		t.Fatalf("expected %s, got %s (%v)", kind, got, err)
	}
}

func TestSignupAndLogin(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	u, err := e.svc.Signup(ctx, feed.SignupInput{Email: " A@B.com", Name: "Ann", Password: "secret"})
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if u.PasswordHash == "secret" || u.PasswordHash == "" {
		t.Fatalf("password stored in plaintext: %q", u.PasswordHash)
	}
	if u.Status != feed.DefaultStatus || u.Email != "a@b.com" {
		t.Fatalf("unexpected user: %+v", u)
	}

	res, err := e.svc.Login(ctx, "a@b.com", "secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.UserID != u.ID || res.Token == "" {
		t.Fatalf("unexpected login result: %+v", res)
	}
	if d := time.Until(res.ExpiresAt); d <= 59*time.Minute || d > auth.TokenTTL {
		t.Fatalf("unexpected token lifetime %v", d)
	}
	sub, err := e.tokens.Verify(res.Token)
	if err != nil || sub.UserID != u.ID || sub.Email != "a@b.com" {
		t.Fatalf("token does not carry the user: %+v, %v", sub, err)
	}

	_, err = e.svc.Login(ctx, "a@b.com", "wrong-password")
	wantKind(t, err, feed.KindUnauthenticated)
	_, err = e.svc.Login(ctx, "nobody@b.com", "secret")
	wantKind(t, err, feed.KindUnauthenticated)
	_, err = e.svc.Login(ctx, "", "")
	wantKind(t, err, feed.KindUnauthenticated)
}

func TestSignupCollectsAllViolations(t *testing.T) {
	e := newEnv(t, nil)
	e.signup(t, "taken@b.com")

	_, err := e.svc.Signup(context.Background(), feed.SignupInput{Email: "not-an-email", Password: "abc"})
	wantKind(t, err, feed.KindValidation)
	fields := feed.FieldsOf(err)
	var names []string
	for _, f := range fields {
		names = append(names, f.Field)
	}
	if got := strings.Join(names, ","); got != "email,name,password" {
		t.Fatalf("fields=%s, want email,name,password", got)
	}

	_, err = e.svc.Signup(context.Background(), feed.SignupInput{Email: "TAKEN@b.com", Name: "Dup", Password: "secret"})
	wantKind(t, err, feed.KindValidation)
	if f := feed.FieldsOf(err); len(f) != 1 || f[0].Field != "email" || f[0].Message != "already registered" {
		t.Fatalf("unexpected fields: %+v", f)
	}
}

func TestSignupRejectsPasswordsBcryptCannotHash(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	for _, pw := range []string{strings.Repeat("x", 80), strings.Repeat("é", 40)} {
		_, err := e.svc.Signup(ctx, feed.SignupInput{Email: "long@b.com", Name: "Long", Password: pw})
		wantKind(t, err, feed.KindValidation)
		f := feed.FieldsOf(err)
		if len(f) != 1 || f[0].Field != "password" || f[0].Message != "must be at most 72 bytes" {
			t.Fatalf("password of %d bytes: fields=%+v", len(pw), f)
		}
	}

	pw := strings.Repeat("x", feed.MaxPasswordBytes)
	if _, err := e.svc.Signup(ctx, feed.SignupInput{Email: "long@b.com", Name: "Long", Password: pw}); err != nil {
		t.Fatalf("Signup with %d-byte password: %v", len(pw), err)
	}
	if _, err := e.svc.Login(ctx, "long@b.com", pw); err != nil {
		t.Fatalf("Login: %v", err)
	}
}

func TestCreatePostLinksOwner(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	who := e.signup(t, "a@b.com")

	p := e.create(t, who, "Hello World")
	if p.CreatorID != who.UserID || p.CreatorName != "User a@b.com" {
		t.Fatalf("unexpected post: %+v", p)
	}
	owner, _ := e.users.FindByID(ctx, who.UserID)
	if !owner.Owns(p.ID) {
		t.Fatalf("owner does not list post %s: %v", p.ID, owner.PostIDs)
	}
	if len(e.events.events) != 1 || e.events.events[0].Action != feed.EventCreated {
		t.Fatalf("unexpected events: %+v", e.events.events)
	}
}

func TestCreatePostRequiresAuthAndValidInput(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	_, err := e.svc.CreatePost(ctx, auth.Anonymous, feed.PostInput{Title: "Hello World", Content: "Some content"})
	wantKind(t, err, feed.KindUnauthenticated)
	if !errors.Is(err, feed.ErrUnauthenticated) {
		t.Fatalf("errors.Is(ErrUnauthenticated) failed for %v", err)
	}

	who := e.signup(t, "a@b.com")
	_, err = e.svc.CreatePost(ctx, who, feed.PostInput{Title: "Hi", Content: "    "})
	wantKind(t, err, feed.KindValidation)
	fields := feed.FieldsOf(err)
	if len(fields) != 2 || fields[0].Field != "content" || fields[1].Field != "title" {
		t.Fatalf("expected both fields reported, got %+v", fields)
	}

	ghost := auth.AuthResult{Authenticated: true, UserID: ids.New()}
	_, err = e.svc.CreatePost(ctx, ghost, feed.PostInput{Title: "Hello World", Content: "Some content"})
	wantKind(t, err, feed.KindUnauthenticated)

	if n, _ := e.posts.CountAll(ctx); n != 0 {
		t.Fatalf("rejected creates left %d posts", n)
	}
}

type failingUsers struct {
	feed.UserStore
	saveErr error
}

func (f *failingUsers) Save(ctx context.Context, u *feed.User) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	return f.UserStore.Save(ctx, u)
}

type failingPosts struct {
	feed.PostStore
	deleteErr error
	countErr  error
}

func (f *failingPosts) Delete(ctx context.Context, id ids.ID) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.PostStore.Delete(ctx, id)
}

func (f *failingPosts) CountAll(ctx context.Context) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.PostStore.CountAll(ctx)
}

func TestCreatePostCompensatesFailedOwnerUpdate(t *testing.T) {
	users := &failingUsers{}
	e := newEnv(t, func(u feed.UserStore, p feed.PostStore) (feed.UserStore, feed.PostStore) {
		users.UserStore = u
		return users, p
	})
	ctx := context.Background()
	who := e.signup(t, "a@b.com")

	users.saveErr = errors.New("connection reset")
	_, err := e.svc.CreatePost(ctx, who, feed.PostInput{Title: "Hello World", Content: "Some content"})
	wantKind(t, err, feed.KindStoreUnavailable)
	if !errors.Is(err, users.saveErr) {
		t.Fatalf("cause not wrapped: %v", err)
	}
	if n, _ := e.posts.CountAll(ctx); n != 0 {
		t.Fatalf("expected compensating delete, %d posts remain", n)
	}
	if e.logs.FilterMessage("rolled back post after failed owner update").Len() != 1 {
		t.Fatal("expected rollback to be logged")
	}
	if len(e.events.events) != 0 {
		t.Fatalf("no event expected for a failed create: %+v", e.events.events)
	}
}

func TestCreatePostLogsOrphanWhenCompensationFails(t *testing.T) {
	users := &failingUsers{}
	posts := &failingPosts{}
	e := newEnv(t, func(u feed.UserStore, p feed.PostStore) (feed.UserStore, feed.PostStore) {
		users.UserStore = u
		posts.PostStore = p
		return users, posts
	})
	ctx := context.Background()
	who := e.signup(t, "a@b.com")

	users.saveErr = errors.New("connection reset")
	posts.deleteErr = errors.New("still down")
	_, err := e.svc.CreatePost(ctx, who, feed.PostInput{Title: "Hello World", Content: "Some content"})
	wantKind(t, err, feed.KindStoreUnavailable)

	orphans := e.logs.FilterMessage("orphaned post after failed owner update").All()
	if len(orphans) != 1 {
		t.Fatalf("expected orphan to be logged, got %d entries", len(orphans))
	}
	if orphans[0].ContextMap()["user_id"] != who.UserID.String() {
		t.Fatalf("orphan log lacks user id: %v", orphans[0].ContextMap())
	}
}

func TestUpdatePostOwnership(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	owner := e.signup(t, "a@b.com")
	other := e.signup(t, "c@d.com")
	p := e.create(t, owner, "Hello World")

	_, err := e.svc.UpdatePost(ctx, other, p.ID, feed.PostInput{Title: "Hijacked title", Content: "Hijacked content"})
	wantKind(t, err, feed.KindForbidden)
	if !errors.Is(err, feed.ErrForbidden) {
		t.Fatalf("errors.Is(ErrForbidden) failed for %v", err)
	}

	_, err = e.svc.UpdatePost(ctx, owner, ids.New(), feed.PostInput{Title: "Hello again", Content: "Some content"})
	wantKind(t, err, feed.KindNotFound)

	_, err = e.svc.UpdatePost(ctx, auth.Anonymous, p.ID, feed.PostInput{Title: "Hello again", Content: "Some content"})
	wantKind(t, err, feed.KindUnauthenticated)

	lower := ids.ID(strings.ToLower(string(p.ID)))
	updated, err := e.svc.UpdatePost(ctx, owner, lower, feed.PostInput{Title: "Hello again", Content: "New content"})
	if err != nil {
		t.Fatalf("UpdatePost by owner: %v", err)
	}
	if updated.Title != "Hello again" || updated.ImageRef != p.ImageRef || updated.CreatorName == "" {
		t.Fatalf("unexpected update result: %+v", updated)
	}
	if len(e.cleaner.refs) != 0 {
		t.Fatalf("image kept, but cleaner called with %v", e.cleaner.refs)
	}

	_, err = e.svc.UpdatePost(ctx, owner, p.ID, feed.PostInput{Title: "Hello again", Content: "New content", ImageRef: "images/new.png"})
	if err != nil {
		t.Fatalf("UpdatePost with new image: %v", err)
	}
	if len(e.cleaner.refs) != 1 || e.cleaner.refs[0] != p.ImageRef {
		t.Fatalf("expected old image cleanup, got %v", e.cleaner.refs)
	}
}

func TestUpdatePostValidatesBeforeLookup(t *testing.T) {
	e := newEnv(t, nil)
	owner := e.signup(t, "a@b.com")

	_, err := e.svc.UpdatePost(context.Background(), owner, ids.New(), feed.PostInput{Title: "x", Content: "y"})
	wantKind(t, err, feed.KindValidation)
}

func TestDeletePost(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	owner := e.signup(t, "a@b.com")
	other := e.signup(t, "c@d.com")
	p := e.create(t, owner, "Hello World")

	wantKind(t, e.svc.DeletePost(ctx, other, p.ID), feed.KindForbidden)
	wantKind(t, e.svc.DeletePost(ctx, auth.Anonymous, p.ID), feed.KindUnauthenticated)

	e.cleaner.err = errors.New("disk full")
	if err := e.svc.DeletePost(ctx, owner, p.ID); err != nil {
		t.Fatalf("DeletePost: %v", err)
	}
	u, _ := e.users.FindByID(ctx, owner.UserID)
	if u.Owns(p.ID) {
		t.Fatalf("post %s still listed under owner", p.ID)
	}
	if e.logs.FilterMessage("image cleanup failed").Len() != 1 {
		t.Fatal("expected swallowed cleanup failure to be logged")
	}

	err := e.svc.DeletePost(ctx, owner, p.ID)
	wantKind(t, err, feed.KindNotFound)
	if !errors.Is(err, feed.ErrNotFound) {
		t.Fatalf("errors.Is(ErrNotFound) failed for %v", err)
	}

	last := e.events.events[len(e.events.events)-1]
	if last.Action != feed.EventDeleted || last.PostID != p.ID || last.Post != nil {
		t.Fatalf("unexpected delete event: %+v", last)
	}
}

func TestGetPostIsPublic(t *testing.T) {
	e := newEnv(t, nil)
	owner := e.signup(t, "a@b.com")
	p := e.create(t, owner, "Hello World")

	got, err := e.svc.GetPost(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("GetPost: %v", err)
	}
	if got.Title != "Hello World" || got.CreatorName != "User a@b.com" {
		t.Fatalf("unexpected post: %+v", got)
	}
	_, err = e.svc.GetPost(context.Background(), ids.New())
	wantKind(t, err, feed.KindNotFound)
}

func TestStatus(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	who := e.signup(t, "a@b.com")

	status, err := e.svc.GetStatus(ctx, who)
	if err != nil || status != feed.DefaultStatus {
		t.Fatalf("GetStatus=%q, %v", status, err)
	}
	if _, err := e.svc.SetStatus(ctx, who, "  ok  "); err != nil {
		t.Fatalf("SetStatus with a short status: %v", err)
	}
	status, _ = e.svc.GetStatus(ctx, who)
	if status != "ok" {
		t.Fatalf("status=%q, want ok", status)
	}

	_, err = e.svc.SetStatus(ctx, who, "   ")
	wantKind(t, err, feed.KindValidation)
	_, err = e.svc.GetStatus(ctx, auth.Anonymous)
	wantKind(t, err, feed.KindUnauthenticated)
	_, err = e.svc.SetStatus(ctx, auth.AuthResult{Authenticated: true, UserID: ids.New()}, "hello")
	wantKind(t, err, feed.KindNotFound)
}

func TestListPagination(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	who := e.signup(t, "a@b.com")

	var created []ids.ID
	for i := 0; i < 5; i++ {
		created = append(created, e.create(t, who, fmt.Sprintf("Post number %d", i)).ID)
	}

	first, err := e.svc.ListPublic(ctx, 0)
	if err != nil {
		t.Fatalf("ListPublic: %v", err)
	}
	if first.Page != 1 || first.PerPage != feed.PageSize || first.TotalItems != 5 || len(first.Posts) != 2 {
		t.Fatalf("unexpected first page: %+v", first)
	}
	if first.Posts[0].CreatorName == "" {
		t.Fatal("creator not populated")
	}

	var public, latest []ids.ID
	for n := 1; n <= 3; n++ {
		page, err := e.svc.ListPublic(ctx, n)
		if err != nil {
			t.Fatalf("ListPublic(%d): %v", n, err)
		}
		for _, p := range page.Posts {
			public = append(public, p.ID)
		}
		page, err = e.svc.ListAuthenticated(ctx, who, n)
		if err != nil {
			t.Fatalf("ListAuthenticated(%d): %v", n, err)
		}
		for _, p := range page.Posts {
			latest = append(latest, p.ID)
		}
	}
	if fmt.Sprint(public) != fmt.Sprint(created) {
		t.Fatalf("public pages %v, want %v", public, created)
	}
	if len(latest) != len(created) || latest[0] != created[len(created)-1] {
		t.Fatalf("authenticated pages %v are not newest first", latest)
	}

	empty, err := e.svc.ListPublic(ctx, 4)
	if err != nil || len(empty.Posts) != 0 || empty.TotalItems != 5 {
		t.Fatalf("page past the end: %+v, %v", empty, err)
	}
	for _, n := range []int{math.MaxInt/2 + 2, math.MaxInt} {
		far, err := e.svc.ListAuthenticated(ctx, who, n)
		if err != nil || len(far.Posts) != 0 || far.Page != n {
			t.Fatalf("ListAuthenticated(%d): %+v, %v", n, far, err)
		}
		far, err = e.svc.ListPublic(ctx, n)
		if err != nil || len(far.Posts) != 0 {
			t.Fatalf("ListPublic(%d): %+v, %v", n, far, err)
		}
	}

	_, err = e.svc.ListAuthenticated(ctx, auth.Anonymous, 1)
	wantKind(t, err, feed.KindUnauthenticated)
}

func TestListMapsStoreFailure(t *testing.T) {
	posts := &failingPosts{countErr: errors.New("db down")}
	e := newEnv(t, func(u feed.UserStore, p feed.PostStore) (feed.UserStore, feed.PostStore) {
		posts.PostStore = p
		return u, posts
	})
	_, err := e.svc.ListPublic(context.Background(), 1)
	wantKind(t, err, feed.KindStoreUnavailable)
	if !errors.Is(err, feed.ErrUnavailable) {
		t.Fatalf("errors.Is(ErrUnavailable) failed for %v", err)
	}
}
