package services

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	config "github.com/avatarctic/ranked-posts/configs"
	"github.com/avatarctic/ranked-posts/internal/core/domain/auth"
	"github.com/avatarctic/ranked-posts/internal/core/ports"
)

// JWTVerifier validates HS256 access tokens minted by the identity provider.
type JWTVerifier struct {
	secret []byte
	issuer string
}

var _ ports.TokenVerifier = (*JWTVerifier)(nil)

func NewJWTVerifier(cfg *config.JWTConfig) *JWTVerifier {
	return &JWTVerifier{secret: []byte(cfg.Secret), issuer: cfg.Issuer}
}

func (v *JWTVerifier) Verify(ctx context.Context, tokenString string) (auth.Principal, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &auth.Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Ensure the token's signing method is HMAC (prevent alg confusion)
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		return auth.Anonymous(), err
	}
	if !token.Valid {
		return auth.Anonymous(), fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(*auth.Claims)
	if !ok {
		return auth.Anonymous(), fmt.Errorf("invalid token claims")
	}
	if claims.UserID == uuid.Nil {
		return auth.Anonymous(), fmt.Errorf("token has no user_id")
	}
	return claims.Principal(), nil
}
