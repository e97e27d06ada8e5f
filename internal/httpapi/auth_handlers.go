package httpapi

import (
	"net/http"
	"time"

	"feedline.org/internal/feed"
	"feedline.org/internal/ids"
)

type signupResponse struct {
	Message string `json:"message"`
	UserID  ids.ID `json:"userId"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	UserID    ids.ID    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type statusResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (a *API) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPut, http.MethodPost)
		return
	}

	var req feed.SignupInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.feed.Signup(r.Context(), req)
	if err != nil {
		a.handleFeedError(w, r, err)
		return
	}

	_ = a.audit.Record(r.Context(), "user.signup", map[string]any{"user_id": user.ID.String()})
	writeJSON(w, http.StatusCreated, signupResponse{Message: "User created!", UserID: user.ID})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.feed.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		a.handleFeedError(w, r, err)
		return
	}

	_ = a.audit.Record(r.Context(), "auth.token.issued", map[string]any{
		"user_id":    res.UserID.String(),
		"expires_at": res.ExpiresAt.Format(time.RFC3339),
	})
	writeJSON(w, http.StatusOK, loginResponse{Token: res.Token, UserID: res.UserID, ExpiresAt: res.ExpiresAt})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		status, err := a.feed.GetStatus(r.Context(), caller(r))
		if err != nil {
			a.handleFeedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, statusResponse{Message: "Fetched status.", Status: status})
	case http.MethodPut, http.MethodPatch:
		var req statusRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		status, err := a.feed.SetStatus(r.Context(), caller(r), req.Status)
		if err != nil {
			a.handleFeedError(w, r, err)
			return
		}
		_ = a.audit.Record(r.Context(), "user.status.updated", nil)
		writeJSON(w, http.StatusOK, statusResponse{Message: "Status updated.", Status: status})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodPatch)
	}
}
