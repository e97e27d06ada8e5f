package auth

import "errors"

var (
	ErrMissingSecret   = errors.New("auth: signing secret is not configured")
	ErrInvalidToken    = errors.New("auth: invalid token")
	ErrExpired         = errors.New("auth: token expired")
	ErrMissingHeader   = errors.New("auth: missing authorization header")
	ErrMalformedHeader = errors.New("auth: malformed authorization header")
	ErrPasswordMatch   = errors.New("auth: password does not match")
)
