package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"feedline.org/internal/feed"
	"feedline.org/internal/ids"
)

const uniqueViolation = "23505"

// Store owns the connection pool shared by the user and post stores.
type Store struct {
	db *sql.DB
}

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing pool.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Users() *Users { return &Users{db: s.db, now: time.Now} }

func (s *Store) Posts() *Posts { return &Posts{db: s.db, now: time.Now} }

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Users implements feed.UserStore. The ordered post list lives in
// user_posts and is rewritten on every Save.
type Users struct {
	db  *sql.DB
	now func() time.Time
}

var _ feed.UserStore = (*Users)(nil)

func (s *Users) Create(ctx context.Context, user *feed.User) (err error) {
	defer wrap("create user", &err)

	if user.ID == "" {
		user.ID = ids.New()
	}
	now := s.now().UTC()
	user.Email = feed.NormalizeEmail(user.Email)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into users(id, email, password_hash, name, status, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$6)
	`, user.ID.String(), user.Email, user.PasswordHash, user.Name, user.Status, now); err != nil {
		return mapWriteErr(err)
	}
	if err := writePostIDs(ctx, tx, user.ID, user.PostIDs); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

func (s *Users) FindByEmail(ctx context.Context, email string) (*feed.User, error) {
	return s.find(ctx, `where email=$1`, feed.NormalizeEmail(email))
}

func (s *Users) FindByID(ctx context.Context, id ids.ID) (*feed.User, error) {
	return s.find(ctx, `where id=$1`, ids.Normalize(string(id)).String())
}

func (s *Users) find(ctx context.Context, where string, arg string) (_ *feed.User, err error) {
	defer wrap("find user", &err)

	var (
		u  feed.User
		id string
	)
	err = s.db.QueryRowContext(ctx, `
		select id, email, password_hash, name, status, created_at, updated_at
		from users `+where, arg).Scan(&id, &u.Email, &u.PasswordHash, &u.Name, &u.Status, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, feed.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.ID = ids.ID(id)
	u.PostIDs, err = readPostIDs(ctx, s.db, u.ID)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Users) Save(ctx context.Context, user *feed.User) (err error) {
	defer wrap("save user", &err)

	now := s.now().UTC()
	user.Email = feed.NormalizeEmail(user.Email)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update users set email=$2, password_hash=$3, name=$4, status=$5, updated_at=$6
		where id=$1
	`, user.ID.String(), user.Email, user.PasswordHash, user.Name, user.Status, now)
	if err != nil {
		return mapWriteErr(err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return feed.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `delete from user_posts where user_id=$1`, user.ID.String()); err != nil {
		return err
	}
	if err := writePostIDs(ctx, tx, user.ID, user.PostIDs); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	user.UpdatedAt = now
	return nil
}

func writePostIDs(ctx context.Context, tx *sql.Tx, userID ids.ID, postIDs []ids.ID) error {
	for i, postID := range postIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into user_posts(user_id, post_id, position) values ($1,$2,$3)
		`, userID.String(), postID.String(), i); err != nil {
			return err
		}
	}
	return nil
}

func readPostIDs(ctx context.Context, q queryer, userID ids.ID) ([]ids.ID, error) {
	rows, err := q.QueryContext(ctx, `
		select post_id from user_posts where user_id=$1 order by position asc
	`, userID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ids.ID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, ids.ID(id))
	}
	return out, rows.Err()
}

// Posts implements feed.PostStore. Natural order is id order, which for
// ULIDs is creation order.
type Posts struct {
	db  *sql.DB
	now func() time.Time
}

var _ feed.PostStore = (*Posts)(nil)

const postColumns = `id, title, content, image_ref, creator_id, created_at, updated_at`

func (s *Posts) Create(ctx context.Context, post *feed.Post) (err error) {
	defer wrap("create post", &err)

	if post.ID == "" {
		post.ID = ids.New()
	}
	now := s.now().UTC()
	if _, err := s.db.ExecContext(ctx, `
		insert into posts(`+postColumns+`)
		values ($1,$2,$3,$4,$5,$6,$6)
	`, post.ID.String(), post.Title, post.Content, post.ImageRef, post.CreatorID.String(), now); err != nil {
		return err
	}
	post.CreatedAt = now
	post.UpdatedAt = now
	return nil
}

func (s *Posts) FindByID(ctx context.Context, id ids.ID) (_ *feed.Post, err error) {
	defer wrap("find post", &err)

	row := s.db.QueryRowContext(ctx, `select `+postColumns+` from posts where id=$1`, ids.Normalize(string(id)).String())
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, feed.ErrNotFound
	}
	return p, err
}

// Save updates the mutable fields. Creator and creation time are never
// written.
func (s *Posts) Save(ctx context.Context, post *feed.Post) (err error) {
	defer wrap("save post", &err)

	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `
		update posts set title=$2, content=$3, image_ref=$4, updated_at=$5
		where id=$1
	`, post.ID.String(), post.Title, post.Content, post.ImageRef, now)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return feed.ErrNotFound
	}
	post.UpdatedAt = now
	return nil
}

func (s *Posts) Delete(ctx context.Context, id ids.ID) (err error) {
	defer wrap("delete post", &err)

	res, err := s.db.ExecContext(ctx, `delete from posts where id=$1`, ids.Normalize(string(id)).String())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return feed.ErrNotFound
	}
	return nil
}

func (s *Posts) CountAll(ctx context.Context) (_ int, err error) {
	defer wrap("count posts", &err)

	var n int
	if err := s.db.QueryRowContext(ctx, `select count(*) from posts`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// FindPage returns a window of posts. A non-positive limit returns
// everything after offset.
func (s *Posts) FindPage(ctx context.Context, offset, limit int, sortDesc bool) (_ []*feed.Post, err error) {
	defer wrap("list posts", &err)

	if offset < 0 {
		return nil, feed.ErrBadOffset
	}
	order := `order by id asc`
	if sortDesc {
		order = `order by created_at desc, id desc`
	}
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+postColumns+` from posts `+order+`
		limit $1 offset $2
	`, lim, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*feed.Post{}
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPost(row scanner) (*feed.Post, error) {
	var (
		p           feed.Post
		id, creator string
	)
	if err := row.Scan(&id, &p.Title, &p.Content, &p.ImageRef, &creator, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.ID = ids.ID(id)
	p.CreatorID = ids.ID(creator)
	return &p, nil
}

// wrap annotates store failures. The feed sentinels stay visible to errors.Is.
func wrap(op string, err *error) {
	if *err != nil {
		*err = fmt.Errorf("pg: %s: %w", op, *err)
	}
}

func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return feed.ErrDuplicateEmail
	}
	return err
}
