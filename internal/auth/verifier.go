package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// ErrInvalidToken indicates the token failed signature or claim checks.
var ErrInvalidToken = errors.New("auth: invalid token")

// Identity is what the rest of the service knows about the caller. Accounts
// live in the identity provider; only the token claims travel here.
type Identity struct {
	UserID string
	Roles  []string
}

// Verifier checks access tokens issued by the identity provider. Tokens are
// HS256-signed with a shared secret.
type Verifier struct {
	Secret    []byte
	Validator TokenValidator
	Now       func() time.Time
}

func (v Verifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

// ParseToken verifies the signature and claims and extracts the identity.
func (v Verifier) ParseToken(raw string) (Identity, error) {
	if len(v.Secret) == 0 {
		return Identity{}, errors.New("auth: verifier secret not configured")
	}
	tok, err := jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.HS256, v.Secret),
		jwt.WithValidate(false),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if err := v.Validator.Validate(tok, jwa.HS256, v.now()); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	subject := tok.Subject()
	if subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return Identity{UserID: subject, Roles: rolesClaim(tok)}, nil
}

func rolesClaim(tok jwt.Token) []string {
	raw, ok := tok.Get("roles")
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{v}
	default:
		return nil
	}
}
