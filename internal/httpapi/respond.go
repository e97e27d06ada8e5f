package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"feedline.org/internal/feed"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorData(w, r, code, msg, nil)
}

func writeErrorData(w http.ResponseWriter, r *http.Request, code int, msg string, data []feed.FieldError) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	if len(data) > 0 {
		payload["data"] = data
	}
	if code == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="feedline"`)
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

// handleFeedError maps service failures onto the response. Store failures
// never leak their cause.
func (a *API) handleFeedError(w http.ResponseWriter, r *http.Request, err error) {
	kind := feed.KindOf(err)
	switch kind {
	case feed.KindValidation:
		writeErrorData(w, r, kind.Status(), "validation failed", feed.FieldsOf(err))
	case feed.KindUnauthenticated, feed.KindForbidden, feed.KindNotFound:
		writeError(w, r, kind.Status(), publicMessage(err))
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func publicMessage(err error) string {
	var fe *feed.Error
	if errors.As(err, &fe) && fe.Msg != "" {
		return fe.Msg
	}
	return feed.KindOf(err).String()
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
