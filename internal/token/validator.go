package token

import (
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/relink/internal/shared"
	"github.com/golang-jwt/jwt/v5"
)

// Validate reports whether tok is structurally well-formed and unexpired at
// the given instant.
//
// A token is valid iff it splits into exactly three non-empty dot segments,
// the claims segment decodes, and its exp claim is strictly in the future.
// Returns nil for a valid token, [shared.ErrTokenMissing] for an empty one,
// and a wrapped [shared.ErrTokenInvalid] otherwise. The signature is not
// checked here; only the server holds the key.
func Validate(tok string, now time.Time) error {
	if tok == "" {
		return shared.ErrTokenMissing
	}

	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		return fmt.Errorf("%w: expected 3 segments, got %d", shared.ErrTokenInvalid, len(parts))
	}
	for _, p := range parts {
		if p == "" {
			return fmt.Errorf("%w: empty segment", shared.ErrTokenInvalid)
		}
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(tok, claims); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrTokenInvalid, err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return fmt.Errorf("%w: missing exp claim", shared.ErrTokenInvalid)
	}
	if !exp.After(now) {
		return fmt.Errorf("%w: expired at %s", shared.ErrTokenInvalid, exp.Format(time.RFC3339))
	}

	return nil
}
