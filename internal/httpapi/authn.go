package httpapi

import (
	"net/http"

	"feedline.org/internal/auth"
)

const authHeader = "Authorization"

// withAuthResult resolves the Authorization header for every request. It
// never rejects: handlers decide whether an anonymous caller is enough.
func (a *API) withAuthResult(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		res := auth.Anonymous
		if a.gate != nil {
			res = a.gate.Authenticate(r.Header.Get(authHeader))
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithResult(r.Context(), res)))
	})
}

func caller(r *http.Request) auth.AuthResult {
	return auth.ResultFromContext(r.Context())
}
