package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"feedline.org/internal/ids"
)

// TokenTTL is the fixed lifetime of an issued token.
const TokenTTL = time.Hour

const defaultIssuer = "feedline"

// Subject identifies the user a token was issued to.
type Subject struct {
	UserID ids.ID
	Email  string
}

// Claims is the JWT payload. userId mirrors the registered subject so
// clients that only look at custom claims keep working.
type Claims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies HS256 identity tokens. Verification is a
// pure function of the token and the clock; it never consults a store.
type TokenService struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// TokenOption configures TokenService.
type TokenOption func(*TokenService)

// WithTokenClock overrides the time source (useful for tests).
func WithTokenClock(fn func() time.Time) TokenOption {
	return func(s *TokenService) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithTokenIssuer overrides the issuer claim.
func WithTokenIssuer(issuer string) TokenOption {
	return func(s *TokenService) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			s.issuer = issuer
		}
	}
}

// NewTokenService constructs a TokenService signing with secret.
func NewTokenService(secret []byte, opts ...TokenOption) (*TokenService, error) {
	if len(strings.TrimSpace(string(secret))) == 0 {
		return nil, ErrMissingSecret
	}
	s := &TokenService{
		secret: append([]byte(nil), secret...),
		issuer: defaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue signs a token for sub that expires TokenTTL after issuance.
func (s *TokenService) Issue(sub Subject) (string, time.Time, error) {
	userID := ids.Normalize(string(sub.UserID))
	if userID == "" {
		return "", time.Time{}, errors.New("auth: subject user id is required")
	}

	issued := jwt.NewNumericDate(s.now().UTC())
	expires := jwt.NewNumericDate(issued.Add(TokenTTL))
	claims := Claims{
		UserID: string(userID),
		Email:  sub.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   string(userID),
			IssuedAt:  issued,
			ExpiresAt: expires,
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires.Time, nil
}

// Verify checks the signature and expiry of token and returns its subject.
// It fails with ErrExpired for a correctly signed token past its expiry and
// with ErrInvalidToken for everything else.
func (s *TokenService) Verify(token string) (Subject, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Subject{}, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Subject{}, ErrExpired
		}
		return Subject{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Subject{}, ErrInvalidToken
	}

	userID := ids.Normalize(claims.Subject)
	if userID == "" {
		return Subject{}, ErrInvalidToken
	}
	if claims.UserID != "" && !ids.Equal(ids.ID(claims.UserID), userID) {
		return Subject{}, ErrInvalidToken
	}
	return Subject{UserID: userID, Email: claims.Email}, nil
}
