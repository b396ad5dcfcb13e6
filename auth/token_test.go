package auth

import (
	"chat-hub/errors"
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestJWTResolver_Resolve(t *testing.T) {
	req := require.New(t)
	resolver := NewJWTResolver("a_long_enough_test_secret", "chat-hub")
	ctx := context.Background()

	token, err := resolver.GenerateToken("alice", time.Minute)
	req.NoError(err)

	tests := []struct {
		name    string
		bearer  string
		want    string
		wantErr bool
	}{
		{"Raw token", token, "alice", false},
		{"Bearer prefix", "Bearer " + token, "alice", false},
		{"Empty", "", "", true},
		{"Garbage", "not.a.token", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			userID, err := resolver.Resolve(ctx, tt.bearer)
			if tt.wantErr {
				req.ErrorIs(err, errors.ErrUnauthenticated)
				return
			}
			req.NoError(err)
			req.Equal(tt.want, userID)
		})
	}
}

func TestJWTResolver_Rejects_Foreign_Tokens(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	resolver := NewJWTResolver("a_long_enough_test_secret", "chat-hub")

	// Signed with another secret
	other, err := NewJWTResolver("another_secret_entirely", "chat-hub").GenerateToken("alice", time.Minute)
	req.NoError(err)
	_, err = resolver.Resolve(ctx, other)
	req.ErrorIs(err, errors.ErrUnauthenticated)

	// Issued by someone else
	foreign, err := NewJWTResolver("a_long_enough_test_secret", "elsewhere").GenerateToken("alice", time.Minute)
	req.NoError(err)
	_, err = resolver.Resolve(ctx, foreign)
	req.ErrorIs(err, errors.ErrUnauthenticated)

	// Expired
	expired, err := resolver.GenerateToken("alice", -time.Minute)
	req.NoError(err)
	_, err = resolver.Resolve(ctx, expired)
	req.ErrorIs(err, errors.ErrUnauthenticated)

	// Without a user id
	blank, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "chat-hub"},
	}).SignedString([]byte("a_long_enough_test_secret"))
	req.NoError(err)
	_, err = resolver.Resolve(ctx, blank)
	req.ErrorIs(err, errors.ErrUnauthenticated)
}
