package auth

import (
	"chat-hub/errors"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CustomClaims defines the structure of the data stored inside the JWT.
type CustomClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// JWTResolver verifies HS256 bearer tokens issued by the identity service.
type JWTResolver struct {
	secret []byte
	issuer string
}

func NewJWTResolver(secret, issuer string) *JWTResolver {
	return &JWTResolver{secret: []byte(secret), issuer: issuer}
}

// Resolve returns the user id carried by a valid token. A "Bearer " prefix is accepted.
func (r *JWTResolver) Resolve(_ context.Context, bearer string) (string, error) {
	tokenString := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(bearer), "Bearer "))
	if tokenString == "" {
		return "", fmt.Errorf("%w: missing token", errors.ErrUnauthenticated)
	}

	options := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if r.issuer != "" {
		options = append(options, jwt.WithIssuer(r.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		return r.secret, nil
	}, options...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errors.ErrUnauthenticated, err)
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return "", fmt.Errorf("%w: invalid claims", errors.ErrUnauthenticated)
	}
	return claims.UserID, nil
}

// GenerateToken signs a token for userID. The server never mints tokens; this
// serves the inspect CLI and tests.
func (r *JWTResolver) GenerateToken(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &CustomClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    r.issuer,
			Subject:   userID,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
}
