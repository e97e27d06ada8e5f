package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
)

type client struct {
	base string
	http *http.Client
}

func (c *client) call(ctx context.Context, method, path, token string, body, out any) int {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			log.Fatalf("marshal %s: %v", path, err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("request %s: %v", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

type login struct {
	Token  string `json:"token"`
	UserID string `json:"userId"`
}

type post struct {
	Post struct {
		ID        string `json:"id"`
		CreatorID string `json:"creatorId"`
	} `json:"post"`
}

func (c *client) account(ctx context.Context, tag string) login {
	email := fmt.Sprintf("smoke-%s-%s@example.com", tag, uuid.NewString()[:8])
	creds := map[string]string{"email": email, "name": "Smoke " + tag, "password": "smoke-secret"}
	if code := c.call(ctx, http.MethodPut, "/auth/signup", "", creds, nil); code != http.StatusCreated {
		log.Fatalf("signup %s: status %d", tag, code)
	}
	var l login
	if code := c.call(ctx, http.MethodPost, "/auth/login", "", creds, &l); code != http.StatusOK || l.Token == "" {
		log.Fatalf("login %s: status %d", tag, code)
	}
	return l
}

func main() {
	base := os.Getenv("FEEDLINE_BASE_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	c := &client{base: base, http: &http.Client{Timeout: 5 * time.Second}}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	owner := c.account(ctx, "owner")
	other := c.account(ctx, "other")

	var created post
	body := map[string]string{"title": "Smoke test post", "content": "Created by smoke-feed"}
	if code := c.call(ctx, http.MethodPost, "/feed/post", owner.Token, body, &created); code != http.StatusCreated {
		log.Fatalf("create post: status %d", code)
	}
	if created.Post.CreatorID != owner.UserID {
		log.Fatalf("creator mismatch: %s != %s", created.Post.CreatorID, owner.UserID)
	}
	path := "/feed/post/" + created.Post.ID

	if code := c.call(ctx, http.MethodPut, path, other.Token, body, nil); code != http.StatusForbidden {
		log.Fatalf("foreign update: expected 403, got %d", code)
	}
	if code := c.call(ctx, http.MethodDelete, path, other.Token, nil, nil); code != http.StatusForbidden {
		log.Fatalf("foreign delete: expected 403, got %d", code)
	}

	var page struct {
		Posts      []json.RawMessage `json:"posts"`
		TotalItems int               `json:"totalItems"`
	}
	if code := c.call(ctx, http.MethodGet, "/feed/posts?page=1", "", nil, &page); code != http.StatusOK {
		log.Fatalf("list posts: status %d", code)
	}
	if len(page.Posts) > 2 || page.TotalItems < 1 {
		log.Fatalf("unexpected page: %d posts of %d", len(page.Posts), page.TotalItems)
	}

	if code := c.call(ctx, http.MethodDelete, path, owner.Token, nil, nil); code != http.StatusOK {
		log.Fatalf("delete: status %d", code)
	}
	if code := c.call(ctx, http.MethodDelete, path, owner.Token, nil, nil); code != http.StatusNotFound {
		log.Fatalf("second delete: expected 404, got %d", code)
	}

	log.Printf("smoke test passed against %s", base)
}
