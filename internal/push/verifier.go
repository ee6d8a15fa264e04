package push

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/idtoken"
)

// ErrUnauthorized marks verification failures. Callers reject the request
// with 4xx and perform no state mutation.
var ErrUnauthorized = errors.New("push verification failed")

// validateFunc checks one raw token against the expected audience.
type validateFunc func(ctx context.Context, token, audience string) error

// Verifier authenticates queue push deliveries before any store access.
// With an empty audience the check is disabled (local development).
type Verifier struct {
	audience string
	validate validateFunc
}

// NewVerifier builds a verifier backed by Google OIDC token validation.
func NewVerifier(audience string) *Verifier {
	return &Verifier{
		audience: audience,
		validate: func(ctx context.Context, token, audience string) error {
			_, err := idtoken.Validate(ctx, token, audience)
			return err
		},
	}
}

// Verify checks the bearer token on a push request. It is a pure gate: no
// downstream effect may run before it returns nil.
func (v *Verifier) Verify(ctx context.Context, r *http.Request) error {
	if v.audience == "" {
		return nil
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		return fmt.Errorf("%w: missing authorization header", ErrUnauthorized)
	}

	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return fmt.Errorf("%w: malformed authorization header", ErrUnauthorized)
	}

	if err := v.validate(ctx, token, v.audience); err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return nil
}
