package ports

import (
	"context"

	"github.com/avatarctic/ranked-posts/internal/core/domain/auth"
)

// TokenVerifier turns a bearer token into a principal. Token issuance lives outside this service.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (auth.Principal, error)
}
