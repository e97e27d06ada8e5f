package auth

import (
	"errors"
	"strings"

	"go.uber.org/zap"

	"feedline.org/internal/ids"
	"feedline.org/internal/obs"
)

const bearer = "Bearer "

// AuthResult is the per-request outcome of the gate. A zero value means the
// request is anonymous.
type AuthResult struct {
	Authenticated bool
	UserID        ids.ID
	Email         string
}

// Anonymous is the result for requests without a usable token.
var Anonymous = AuthResult{}

// Verifier checks a bearer token.
type Verifier interface {
	Verify(token string) (Subject, error)
}

// Gate resolves an Authorization header to an AuthResult. It never fails:
// every problem with the header or token yields Anonymous and the operation
// decides whether it needs an identity.
type Gate struct {
	verifier Verifier
	logger   *zap.Logger
}

// NewGate builds a gate on top of verifier. A nil logger discards output.
func NewGate(verifier Verifier, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{verifier: verifier, logger: logger}
}

// Authenticate inspects header and returns the caller's identity, if any.
func (g *Gate) Authenticate(header string) AuthResult {
	token, err := ParseBearer(header)
	switch {
	case errors.Is(err, ErrMissingHeader):
		obs.ObserveGate("anonymous")
		return Anonymous
	case err != nil:
		obs.ObserveGate("malformed")
		g.logger.Debug("auth gate rejected header", zap.Error(err))
		return Anonymous
	}
	if g.verifier == nil {
		obs.ObserveGate("invalid")
		return Anonymous
	}

	sub, err := g.verifier.Verify(token)
	if err != nil {
		result := "invalid"
		if errors.Is(err, ErrExpired) {
			result = "expired"
		}
		obs.ObserveGate(result)
		g.logger.Debug("auth gate rejected token", zap.String("result", result), zap.Error(err))
		return Anonymous
	}
	obs.ObserveGate("authenticated")
	return AuthResult{Authenticated: true, UserID: sub.UserID, Email: sub.Email}
}

// ParseBearer extracts the token from a "Bearer <token>" header. The scheme
// is matched case-insensitively.
func ParseBearer(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingHeader
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", ErrMalformedHeader
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", ErrMalformedHeader
	}
	return token, nil
}
