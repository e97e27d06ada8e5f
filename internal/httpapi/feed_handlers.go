package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"feedline.org/internal/feed"
	"feedline.org/internal/ids"
)

type creatorView struct {
	ID   ids.ID `json:"id"`
	Name string `json:"name"`
}

type postView struct {
	ID        ids.ID      `json:"id"`
	Title     string      `json:"title"`
	Content   string      `json:"content"`
	ImageURL  string      `json:"imageUrl"`
	CreatorID ids.ID      `json:"creatorId"`
	Creator   creatorView `json:"creator"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

func toPostView(p *feed.Post) postView {
	return postView{
		ID:        p.ID,
		Title:     p.Title,
		Content:   p.Content,
		ImageURL:  p.ImageRef,
		CreatorID: p.CreatorID,
		Creator:   creatorView{ID: p.CreatorID, Name: p.CreatorName},
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

type postResponse struct {
	Message string   `json:"message"`
	Post    postView `json:"post"`
}

type listResponse struct {
	Message    string     `json:"message"`
	Posts      []postView `json:"posts"`
	TotalItems int        `json:"totalItems"`
	Page       int        `json:"page"`
	PerPage    int        `json:"perPage"`
}

func (a *API) handlePublicPosts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	page, err := a.feed.ListPublic(r.Context(), pageParam(r))
	if err != nil {
		a.handleFeedError(w, r, err)
		return
	}
	writeList(w, page)
}

func (a *API) handleTimeline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	page, err := a.feed.ListAuthenticated(r.Context(), caller(r), pageParam(r))
	if err != nil {
		a.handleFeedError(w, r, err)
		return
	}
	writeList(w, page)
}

func (a *API) handlePostCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req feed.PostInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	post, err := a.feed.CreatePost(r.Context(), caller(r), req)
	if err != nil {
		a.handleFeedError(w, r, err)
		return
	}
	_ = a.audit.Record(r.Context(), "post.created", map[string]any{"post_id": post.ID.String()})
	writeJSON(w, http.StatusCreated, postResponse{Message: "Post created successfully!", Post: toPostView(post)})
}

func (a *API) handlePostResource(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.URL.Path, "/feed/post/")
	if raw == "" || strings.Contains(raw, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	id, err := ids.Parse(raw)
	if err != nil {
		writeError(w, r, http.StatusNotFound, "post not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getPost(w, r, id)
	case http.MethodPut:
		a.updatePost(w, r, id)
	case http.MethodDelete:
		a.deletePost(w, r, id)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) getPost(w http.ResponseWriter, r *http.Request, id ids.ID) {
	post, err := a.feed.GetPost(r.Context(), id)
	if err != nil {
		a.handleFeedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, postResponse{Message: "Post fetched.", Post: toPostView(post)})
}

func (a *API) updatePost(w http.ResponseWriter, r *http.Request, id ids.ID) {
	var req feed.PostInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	post, err := a.feed.UpdatePost(r.Context(), caller(r), id, req)
	if err != nil {
		a.handleFeedError(w, r, err)
		return
	}
	_ = a.audit.Record(r.Context(), "post.updated", map[string]any{"post_id": post.ID.String()})
	writeJSON(w, http.StatusOK, postResponse{Message: "Post updated!", Post: toPostView(post)})
}

func (a *API) deletePost(w http.ResponseWriter, r *http.Request, id ids.ID) {
	if err := a.feed.DeletePost(r.Context(), caller(r), id); err != nil {
		a.handleFeedError(w, r, err)
		return
	}
	_ = a.audit.Record(r.Context(), "post.deleted", map[string]any{"post_id": id.String()})
	writeJSON(w, http.StatusOK, map[string]string{"message": "Deleted post."})
}

// pageParam reads ?page=. Anything that is not a positive integer means the
// first page.
func pageParam(r *http.Request) int {
	n, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("page")))
	if err != nil {
		return 1
	}
	return feed.NormalizePage(n)
}

func writeList(w http.ResponseWriter, page feed.Page) {
	views := make([]postView, 0, len(page.Posts))
	for _, p := range page.Posts {
		views = append(views, toPostView(p))
	}
	writeJSON(w, http.StatusOK, listResponse{
		Message:    "Fetched posts successfully.",
		Posts:      views,
		TotalItems: page.TotalItems,
		Page:       page.Page,
		PerPage:    page.PerPage,
	})
}
